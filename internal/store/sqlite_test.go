package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/receipt-pipeline/internal/model"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func createTestReceipt(t *testing.T, st *SQLiteStore, userID string) *model.Receipt {
	t.Helper()
	r, err := st.CreateReceipt(context.Background(), model.NewReceipt{
		UserID:   userID,
		FileID:   "file-" + userID,
		FileName: "receipt.pdf",
		MimeType: "application/pdf",
		Size:     1024,
	})
	require.NoError(t, err)
	return r
}

func sampleExtractedData() model.ExtractedData {
	return model.ExtractedData{
		FileDisplayName:   "Coffee Run",
		MerchantName:      "Blue Bottle",
		MerchantAddress:   "300 Webster St, Oakland, CA",
		TransactionDate:   "2026-08-12",
		TransactionAmount: 11.50,
		Currency:          "USD",
		ReceiptSummary:    "Two coffees and a pastry",
		Items: []model.LineItem{
			{Name: "Latte", Quantity: 2, UnitPrice: 4.5, TotalPrice: 9.0},
			{Name: "Croissant", Quantity: 1, UnitPrice: 2.5, TotalPrice: 2.5},
		},
	}
}

func TestSQLite_CreateAndGet(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	created := createTestReceipt(t, st, "user-1")
	assert.Equal(t, model.StatusPending, created.Status)

	got, err := st.GetReceipt(ctx, created.ID, "user-1")
	require.NoError(t, err)
	assert.Equal(t, created.ID, got.ID)
	assert.Equal(t, "receipt.pdf", got.FileName)
	assert.Empty(t, got.MerchantName)
}

func TestSQLite_Get_WrongOwner(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	created := createTestReceipt(t, st, "user-1")

	_, err := st.GetReceipt(ctx, created.ID, "user-2")
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrUnauthorized))
}

func TestSQLite_Get_NotFound(t *testing.T) {
	st := newTestSQLiteStore(t)

	_, err := st.GetReceipt(context.Background(), "missing", "user-1")
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrNotFound))
}

func TestSQLite_List_OnlyOwnReceipts(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	createTestReceipt(t, st, "alice")
	createTestReceipt(t, st, "alice")
	createTestReceipt(t, st, "bob")

	receipts, err := st.ListReceipts(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, receipts, 2)
	for _, r := range receipts {
		assert.Equal(t, "alice", r.UserID)
	}

	receipts, err = st.ListReceipts(ctx, "nobody")
	require.NoError(t, err)
	assert.Empty(t, receipts)
}

func TestSQLite_SaveExtractedData_CommitsAtomically(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	created := createTestReceipt(t, st, "user-1")

	owner, err := st.SaveExtractedData(ctx, created.ID, sampleExtractedData())
	require.NoError(t, err)
	assert.Equal(t, "user-1", owner)

	got, err := st.GetReceipt(ctx, created.ID, "user-1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusProcessed, got.Status)
	assert.Equal(t, "Blue Bottle", got.MerchantName)
	assert.Equal(t, 11.50, got.TransactionAmount)
	assert.Equal(t, "USD", got.Currency)
	require.Len(t, got.Items, 2)
	assert.Equal(t, "Latte", got.Items[0].Name)
}

func TestSQLite_SaveExtractedData_Idempotent(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	created := createTestReceipt(t, st, "user-1")

	_, err := st.SaveExtractedData(ctx, created.ID, sampleExtractedData())
	require.NoError(t, err)

	// A duplicate commit overwrites the fields, last write wins.
	second := sampleExtractedData()
	second.MerchantName = "Blue Bottle Coffee"
	owner, err := st.SaveExtractedData(ctx, created.ID, second)
	require.NoError(t, err)
	assert.Equal(t, "user-1", owner)

	got, err := st.GetReceipt(ctx, created.ID, "user-1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusProcessed, got.Status)
	assert.Equal(t, "Blue Bottle Coffee", got.MerchantName)
}

func TestSQLite_SaveExtractedData_NotFound(t *testing.T) {
	st := newTestSQLiteStore(t)

	_, err := st.SaveExtractedData(context.Background(), "missing", sampleExtractedData())
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrNotFound))
}

func TestSQLite_UpdateStatus_Transitions(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	created := createTestReceipt(t, st, "user-1")

	// pending -> pending is a no-op, allowed.
	require.NoError(t, st.UpdateStatus(ctx, created.ID, "user-1", model.StatusPending))

	// pending -> processed must go through SaveExtractedData.
	err := st.UpdateStatus(ctx, created.ID, "user-1", model.StatusProcessed)
	assert.True(t, eris.Is(err, ErrInvalidTransition))

	_, err = st.SaveExtractedData(ctx, created.ID, sampleExtractedData())
	require.NoError(t, err)

	// processed is terminal.
	err = st.UpdateStatus(ctx, created.ID, "user-1", model.StatusPending)
	assert.True(t, eris.Is(err, ErrInvalidTransition))
}

func TestSQLite_Delete(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	created := createTestReceipt(t, st, "user-1")

	err := st.DeleteReceipt(ctx, created.ID, "user-2")
	assert.True(t, eris.Is(err, ErrUnauthorized))

	require.NoError(t, st.DeleteReceipt(ctx, created.ID, "user-1"))

	_, err = st.GetReceipt(ctx, created.ID, "user-1")
	assert.True(t, eris.Is(err, ErrNotFound))
}

func TestSQLite_ListPending_SkipsProcessed(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	first := createTestReceipt(t, st, "alice")
	second := createTestReceipt(t, st, "bob")

	_, err := st.SaveExtractedData(ctx, first.ID, sampleExtractedData())
	require.NoError(t, err)

	pending, err := st.ListPending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, second.ID, pending[0].ID)
}

func TestSQLite_GetReceiptByID_NoOwnershipCheck(t *testing.T) {
	st := newTestSQLiteStore(t)

	created := createTestReceipt(t, st, "user-1")

	got, err := st.GetReceiptByID(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, "user-1", got.UserID)
}
