package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/receipt-pipeline/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. It exists for
// local development and tests; production deployments use postgres.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS receipts (
	id                 TEXT PRIMARY KEY,
	user_id            TEXT NOT NULL,
	file_id            TEXT NOT NULL,
	file_name          TEXT NOT NULL,
	mime_type          TEXT NOT NULL,
	size               INTEGER NOT NULL DEFAULT 0,
	status             TEXT NOT NULL DEFAULT 'pending',
	uploaded_at        DATETIME NOT NULL DEFAULT (datetime('now')),
	file_display_name  TEXT NOT NULL DEFAULT '',
	merchant_name      TEXT NOT NULL DEFAULT '',
	merchant_address   TEXT NOT NULL DEFAULT '',
	merchant_contact   TEXT NOT NULL DEFAULT '',
	transaction_date   TEXT NOT NULL DEFAULT '',
	transaction_amount REAL NOT NULL DEFAULT 0,
	currency           TEXT NOT NULL DEFAULT '',
	receipt_summary    TEXT NOT NULL DEFAULT '',
	items              TEXT NOT NULL DEFAULT '[]'
);

CREATE INDEX IF NOT EXISTS idx_receipts_user_id ON receipts(user_id);
CREATE INDEX IF NOT EXISTS idx_receipts_status ON receipts(status);
`

const sqliteSelectReceipt = `SELECT id, user_id, file_id, file_name, mime_type, size, status, uploaded_at,
	file_display_name, merchant_name, merchant_address, merchant_contact,
	transaction_date, transaction_amount, currency, receipt_summary, items
	FROM receipts`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateReceipt(ctx context.Context, n model.NewReceipt) (*model.Receipt, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO receipts (id, user_id, file_id, file_name, mime_type, size, status, uploaded_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		id, n.UserID, n.FileID, n.FileName, n.MimeType, n.Size, string(model.StatusPending), now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert receipt")
	}

	return &model.Receipt{
		ID:         id,
		UserID:     n.UserID,
		FileID:     n.FileID,
		FileName:   n.FileName,
		MimeType:   n.MimeType,
		Size:       n.Size,
		Status:     model.StatusPending,
		UploadedAt: now,
	}, nil
}

func (s *SQLiteStore) getOwned(ctx context.Context, id, userID string) (*model.Receipt, error) {
	row := s.db.QueryRowContext(ctx, sqliteSelectReceipt+` WHERE id = ?`, id)
	r, err := scanSQLiteReceipt(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, eris.Wrapf(ErrNotFound, "sqlite: receipt %s", id)
		}
		return nil, eris.Wrapf(err, "sqlite: get receipt %s", id)
	}
	if r.UserID != userID {
		return nil, eris.Wrapf(ErrUnauthorized, "sqlite: receipt %s", id)
	}
	return r, nil
}

func (s *SQLiteStore) GetReceipt(ctx context.Context, id, userID string) (*model.Receipt, error) {
	return s.getOwned(ctx, id, userID)
}

func (s *SQLiteStore) GetReceiptByID(ctx context.Context, id string) (*model.Receipt, error) {
	row := s.db.QueryRowContext(ctx, sqliteSelectReceipt+` WHERE id = ?`, id)
	r, err := scanSQLiteReceipt(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, eris.Wrapf(ErrNotFound, "sqlite: receipt %s", id)
		}
		return nil, eris.Wrapf(err, "sqlite: get receipt %s", id)
	}
	return r, nil
}

func (s *SQLiteStore) ListPending(ctx context.Context) ([]model.Receipt, error) {
	rows, err := s.db.QueryContext(ctx, sqliteSelectReceipt+` WHERE status = ? ORDER BY uploaded_at ASC`, string(model.StatusPending))
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list pending")
	}
	defer rows.Close()

	var receipts []model.Receipt
	for rows.Next() {
		r, err := scanSQLiteReceipt(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan receipt")
		}
		receipts = append(receipts, *r)
	}
	return receipts, eris.Wrap(rows.Err(), "sqlite: list pending iterate")
}

func (s *SQLiteStore) ListReceipts(ctx context.Context, userID string) ([]model.Receipt, error) {
	rows, err := s.db.QueryContext(ctx, sqliteSelectReceipt+` WHERE user_id = ? ORDER BY uploaded_at DESC`, userID)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list receipts")
	}
	defer rows.Close()

	var receipts []model.Receipt
	for rows.Next() {
		r, err := scanSQLiteReceipt(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan receipt")
		}
		receipts = append(receipts, *r)
	}
	return receipts, eris.Wrap(rows.Err(), "sqlite: list receipts iterate")
}

func (s *SQLiteStore) UpdateStatus(ctx context.Context, id, userID string, status model.ReceiptStatus) error {
	r, err := s.getOwned(ctx, id, userID)
	if err != nil {
		return err
	}
	if err := checkTransition(r.Status, status); err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE receipts SET status = ? WHERE id = ? AND user_id = ?`,
		string(status), id, userID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update status %s", id)
	}
	return checkRowsAffected(res, id)
}

func (s *SQLiteStore) SaveExtractedData(ctx context.Context, id string, data model.ExtractedData) (string, error) {
	itemsJSON, err := json.Marshal(data.Items)
	if err != nil {
		return "", eris.Wrap(err, "sqlite: marshal items")
	}

	// database/sql has no RETURNING on all drivers; read the owner inside
	// a transaction so the commit stays atomic.
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", eris.Wrap(err, "sqlite: begin")
	}
	defer tx.Rollback() //nolint:errcheck

	var ownerID string
	err = tx.QueryRowContext(ctx, `SELECT user_id FROM receipts WHERE id = ?`, id).Scan(&ownerID)
	if err == sql.ErrNoRows {
		return "", eris.Wrapf(ErrNotFound, "sqlite: receipt %s", id)
	}
	if err != nil {
		return "", eris.Wrapf(err, "sqlite: get owner %s", id)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE receipts SET
			file_display_name = ?, merchant_name = ?, merchant_address = ?,
			merchant_contact = ?, transaction_date = ?, transaction_amount = ?,
			currency = ?, receipt_summary = ?, items = ?, status = ?
			WHERE id = ?`,
		data.FileDisplayName, data.MerchantName, data.MerchantAddress,
		data.MerchantContact, data.TransactionDate, data.TransactionAmount,
		data.Currency, data.ReceiptSummary, string(itemsJSON), string(model.StatusProcessed), id,
	)
	if err != nil {
		return "", eris.Wrapf(err, "sqlite: save extracted data %s", id)
	}

	if err := tx.Commit(); err != nil {
		return "", eris.Wrap(err, "sqlite: commit")
	}
	return ownerID, nil
}

func (s *SQLiteStore) DeleteReceipt(ctx context.Context, id, userID string) error {
	if _, err := s.getOwned(ctx, id, userID); err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx,
		`DELETE FROM receipts WHERE id = ? AND user_id = ?`,
		id, userID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: delete receipt %s", id)
	}
	return checkRowsAffected(res, id)
}

// helpers

func checkRowsAffected(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "receipt %s", id)
	}
	return nil
}

func scanSQLiteReceipt(row scannable) (*model.Receipt, error) {
	var r model.Receipt
	var itemsJSON string

	err := row.Scan(&r.ID, &r.UserID, &r.FileID, &r.FileName, &r.MimeType, &r.Size,
		&r.Status, &r.UploadedAt,
		&r.FileDisplayName, &r.MerchantName, &r.MerchantAddress, &r.MerchantContact,
		&r.TransactionDate, &r.TransactionAmount, &r.Currency, &r.ReceiptSummary,
		&itemsJSON,
	)
	if err != nil {
		return nil, err
	}

	if itemsJSON != "" {
		if err := json.Unmarshal([]byte(itemsJSON), &r.Items); err != nil {
			return nil, eris.Wrap(err, "unmarshal items")
		}
	}
	return &r, nil
}
