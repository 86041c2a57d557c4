package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/receipt-pipeline/internal/model"
)

// Pool is the subset of pgxpool.Pool used by the store, extracted so unit
// tests can substitute pgxmock.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the most frequently used store operations.
var preparedStatements = map[string]string{
	"insert_receipt": `INSERT INTO receipts (id, user_id, file_id, file_name, mime_type, size, status, uploaded_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
	"get_receipt":    selectReceiptSQL + ` WHERE id = $1`,
	"save_extracted": saveExtractedSQL,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	// Prepare frequently-used statements on each new connection.
	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS receipts (
	id                 TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	user_id            TEXT NOT NULL,
	file_id            TEXT NOT NULL,
	file_name          TEXT NOT NULL,
	mime_type          TEXT NOT NULL,
	size               BIGINT NOT NULL DEFAULT 0,
	status             TEXT NOT NULL DEFAULT 'pending',
	uploaded_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
	file_display_name  TEXT NOT NULL DEFAULT '',
	merchant_name      TEXT NOT NULL DEFAULT '',
	merchant_address   TEXT NOT NULL DEFAULT '',
	merchant_contact   TEXT NOT NULL DEFAULT '',
	transaction_date   TEXT NOT NULL DEFAULT '',
	transaction_amount DOUBLE PRECISION NOT NULL DEFAULT 0,
	currency           TEXT NOT NULL DEFAULT '',
	receipt_summary    TEXT NOT NULL DEFAULT '',
	items              JSONB NOT NULL DEFAULT '[]'
);

CREATE INDEX IF NOT EXISTS idx_receipts_user_id ON receipts(user_id);
CREATE INDEX IF NOT EXISTS idx_receipts_status ON receipts(status);
CREATE INDEX IF NOT EXISTS idx_receipts_user_uploaded ON receipts(user_id, uploaded_at DESC);
`

const selectReceiptSQL = `SELECT id, user_id, file_id, file_name, mime_type, size, status, uploaded_at,
	file_display_name, merchant_name, merchant_address, merchant_contact,
	transaction_date, transaction_amount, currency, receipt_summary, items
	FROM receipts`

const saveExtractedSQL = `UPDATE receipts SET
	file_display_name = $1, merchant_name = $2, merchant_address = $3,
	merchant_contact = $4, transaction_date = $5, transaction_amount = $6,
	currency = $7, receipt_summary = $8, items = $9, status = $10
	WHERE id = $11 RETURNING user_id`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) CreateReceipt(ctx context.Context, n model.NewReceipt) (*model.Receipt, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO receipts (id, user_id, file_id, file_name, mime_type, size, status, uploaded_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		id, n.UserID, n.FileID, n.FileName, n.MimeType, n.Size, string(model.StatusPending), now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert receipt")
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

// getOwned fetches a receipt by id and verifies it belongs to userID.
func (s *PostgresStore) getOwned(ctx context.Context, id, userID string) (*model.Receipt, error) {
	row := s.pool.QueryRow(ctx, selectReceiptSQL+` WHERE id = $1`, id)
	r, err := scanReceipt(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, eris.Wrapf(ErrNotFound, "postgres: receipt %s", id)
		}
		return nil, eris.Wrapf(err, "postgres: get receipt %s", id)
	}
	if r.UserID != userID {
		return nil, eris.Wrapf(ErrUnauthorized, "postgres: receipt %s", id)
	}
	return r, nil
}

func (s *PostgresStore) GetReceipt(ctx context.Context, id, userID string) (*model.Receipt, error) {
	return s.getOwned(ctx, id, userID)
}

func (s *PostgresStore) GetReceiptByID(ctx context.Context, id string) (*model.Receipt, error) {
	row := s.pool.QueryRow(ctx, selectReceiptSQL+` WHERE id = $1`, id)
	r, err := scanReceipt(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, eris.Wrapf(ErrNotFound, "postgres: receipt %s", id)
		}
		return nil, eris.Wrapf(err, "postgres: get receipt %s", id)
	}
	return r, nil
}

func (s *PostgresStore) ListPending(ctx context.Context) ([]model.Receipt, error) {
	rows, err := s.pool.Query(ctx, selectReceiptSQL+` WHERE status = $1 ORDER BY uploaded_at ASC`, string(model.StatusPending))
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list pending")
	}
	defer rows.Close()

	var receipts []model.Receipt
	for rows.Next() {
		r, err := scanReceipt(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan receipt")
		}
		receipts = append(receipts, *r)
	}
	return receipts, eris.Wrap(rows.Err(), "postgres: list pending iterate")
}

func (s *PostgresStore) ListReceipts(ctx context.Context, userID string) ([]model.Receipt, error) {
	rows, err := s.pool.Query(ctx, selectReceiptSQL+` WHERE user_id = $1 ORDER BY uploaded_at DESC`, userID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list receipts")
	}
	defer rows.Close()

	var receipts []model.Receipt
	for rows.Next() {
		r, err := scanReceipt(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan receipt")
		}
		receipts = append(receipts, *r)
	}
	return receipts, eris.Wrap(rows.Err(), "postgres: list receipts iterate")
}

func (s *PostgresStore) UpdateStatus(ctx context.Context, id, userID string, status model.ReceiptStatus) error {
	r, err := s.getOwned(ctx, id, userID)
	if err != nil {
		return err
	}
	if err := checkTransition(r.Status, status); err != nil {
		return err
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE receipts SET status = $1 WHERE id = $2 AND user_id = $3`,
		string(status), id, userID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update status %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "postgres: receipt %s", id)
	}
	return nil
}

func (s *PostgresStore) SaveExtractedData(ctx context.Context, id string, data model.ExtractedData) (string, error) {
	itemsJSON, err := json.Marshal(data.Items)
	if err != nil {
		return "", eris.Wrap(err, "postgres: marshal items")
	}

	var ownerID string
	err = s.pool.QueryRow(ctx, saveExtractedSQL,
		data.FileDisplayName, data.MerchantName, data.MerchantAddress,
		data.MerchantContact, data.TransactionDate, data.TransactionAmount,
		data.Currency, data.ReceiptSummary, itemsJSON, string(model.StatusProcessed), id,
	).Scan(&ownerID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", eris.Wrapf(ErrNotFound, "postgres: receipt %s", id)
		}
		return "", eris.Wrapf(err, "postgres: save extracted data %s", id)
	}
	return ownerID, nil
}

func (s *PostgresStore) DeleteReceipt(ctx context.Context, id, userID string) error {
	if _, err := s.getOwned(ctx, id, userID); err != nil {
		return err
	}

	tag, err := s.pool.Exec(ctx,
		`DELETE FROM receipts WHERE id = $1 AND user_id = $2`,
		id, userID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: delete receipt %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "postgres: receipt %s", id)
	}
	return nil
}

// scannable abstracts pgx.Row and pgx.Rows for shared scanning.
type scannable interface {
	Scan(dest ...any) error
}

func scanReceipt(row scannable) (*model.Receipt, error) {
	var r model.Receipt
	var itemsJSON []byte

	err := row.Scan(&r.ID, &r.UserID, &r.FileID, &r.FileName, &r.MimeType, &r.Size,
		&r.Status, &r.UploadedAt,
		&r.FileDisplayName, &r.MerchantName, &r.MerchantAddress, &r.MerchantContact,
		&r.TransactionDate, &r.TransactionAmount, &r.Currency, &r.ReceiptSummary,
		&itemsJSON,
	)
	if err != nil {
		return nil, err
	}

	if len(itemsJSON) > 0 {
		if err := json.Unmarshal(itemsJSON, &r.Items); err != nil {
			return nil, eris.Wrap(err, "unmarshal items")
		}
	}
	return &r, nil
}
