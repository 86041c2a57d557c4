package store

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/receipt-pipeline/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	s := &PostgresStore{pool: mock}
	return s, mock
}

var receiptColumns = []string{
	"id", "user_id", "file_id", "file_name", "mime_type", "size", "status", "uploaded_at",
	"file_display_name", "merchant_name", "merchant_address", "merchant_contact",
	"transaction_date", "transaction_amount", "currency", "receipt_summary", "items",
}

func pendingReceiptRow(id, userID string) *pgxmock.Rows {
	return pgxmock.NewRows(receiptColumns).AddRow(
		id, userID, "file-1", "groceries.pdf", "application/pdf", int64(2048),
		model.StatusPending, time.Now().UTC(),
		"", "", "", "", "", float64(0), "", "", []byte(`[]`),
	)
}

func processedReceiptRow(id, userID string) *pgxmock.Rows {
	return pgxmock.NewRows(receiptColumns).AddRow(
		id, userID, "file-1", "groceries.pdf", "application/pdf", int64(2048),
		model.StatusProcessed, time.Now().UTC(),
		"Groceries March", "Whole Foods", "", "", "2026-03-14", 52.17, "USD",
		"Weekly groceries", []byte(`[{"name":"Milk","quantity":1,"unit_price":3.5,"total_price":3.5}]`),
	)
}

func TestPostgresStore_CreateReceipt(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO receipts`).
		WithArgs(pgxmock.AnyArg(), "user-1", pgxmock.AnyArg(), "groceries.pdf", "application/pdf", int64(2048), "pending", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	r, err := s.CreateReceipt(context.Background(), model.NewReceipt{
		UserID:   "user-1",
		FileID:   "file-1",
		FileName: "groceries.pdf",
		MimeType: "application/pdf",
		Size:     2048,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, r.ID)
	assert.Equal(t, model.StatusPending, r.Status)
	assert.Equal(t, "user-1", r.UserID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetReceipt_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM receipts WHERE id = \$1`).
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetReceipt(context.Background(), "missing", "user-1")
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetReceipt_WrongOwner(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM receipts WHERE id = \$1`).
		WithArgs("rec-1").
		WillReturnRows(pendingReceiptRow("rec-1", "owner"))

	_, err := s.GetReceipt(context.Background(), "rec-1", "intruder")
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrUnauthorized))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetReceipt_Owned(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM receipts WHERE id = \$1`).
		WithArgs("rec-1").
		WillReturnRows(processedReceiptRow("rec-1", "user-1"))

	r, err := s.GetReceipt(context.Background(), "rec-1", "user-1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusProcessed, r.Status)
	assert.Equal(t, "Whole Foods", r.MerchantName)
	require.Len(t, r.Items, 1)
	assert.Equal(t, "Milk", r.Items[0].Name)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateStatus_ProcessedIsTerminal(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM receipts WHERE id = \$1`).
		WithArgs("rec-1").
		WillReturnRows(processedReceiptRow("rec-1", "user-1"))

	err := s.UpdateStatus(context.Background(), "rec-1", "user-1", model.StatusPending)
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrInvalidTransition))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateStatus_CannotReachProcessedDirectly(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM receipts WHERE id = \$1`).
		WithArgs("rec-1").
		WillReturnRows(pendingReceiptRow("rec-1", "user-1"))

	err := s.UpdateStatus(context.Background(), "rec-1", "user-1", model.StatusProcessed)
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrInvalidTransition))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveExtractedData_ReturnsOwner(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`UPDATE receipts SET`).
		WithArgs("Groceries March", "Whole Foods", "", "", "2026-03-14", 52.17, "USD",
			"Weekly groceries", pgxmock.AnyArg(), "processed", "rec-1").
		WillReturnRows(pgxmock.NewRows([]string{"user_id"}).AddRow("user-1"))

	owner, err := s.SaveExtractedData(context.Background(), "rec-1", model.ExtractedData{
		FileDisplayName:   "Groceries March",
		MerchantName:      "Whole Foods",
		TransactionDate:   "2026-03-14",
		TransactionAmount: 52.17,
		Currency:          "USD",
		ReceiptSummary:    "Weekly groceries",
	})
	require.NoError(t, err)
	assert.Equal(t, "user-1", owner)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveExtractedData_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`UPDATE receipts SET`).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(pgx.ErrNoRows)

	_, err := s.SaveExtractedData(context.Background(), "gone", model.ExtractedData{
		FileDisplayName: "x", MerchantName: "x", TransactionDate: "x",
		Currency: "USD", ReceiptSummary: "x",
	})
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_DeleteReceipt_OwnerOnly(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM receipts WHERE id = \$1`).
		WithArgs("rec-1").
		WillReturnRows(pendingReceiptRow("rec-1", "owner"))

	err := s.DeleteReceipt(context.Background(), "rec-1", "intruder")
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrUnauthorized))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_DeleteReceipt(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM receipts WHERE id = \$1`).
		WithArgs("rec-1").
		WillReturnRows(pendingReceiptRow("rec-1", "user-1"))
	mock.ExpectExec(`DELETE FROM receipts WHERE id = \$1 AND user_id = \$2`).
		WithArgs("rec-1", "user-1").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))

	err := s.DeleteReceipt(context.Background(), "rec-1", "user-1")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListPending(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM receipts WHERE status = \$1 ORDER BY uploaded_at ASC`).
		WithArgs("pending").
		WillReturnRows(pendingReceiptRow("rec-1", "user-1"))

	receipts, err := s.ListPending(context.Background())
	require.NoError(t, err)
	require.Len(t, receipts, 1)
	assert.Equal(t, model.StatusPending, receipts[0].Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}
