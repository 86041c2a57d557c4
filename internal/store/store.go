package store

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/receipt-pipeline/internal/model"
)

// Sentinel errors surfaced to callers. Match with eris.Is.
var (
	// ErrNotFound means no receipt exists with the given id.
	ErrNotFound = eris.New("receipt not found")

	// ErrUnauthorized means the receipt exists but does not belong to the
	// caller. The operation has no effect.
	ErrUnauthorized = eris.New("receipt does not belong to user")

	// ErrInvalidTransition means the requested status change would leave
	// the processed state or reach it outside a persistence commit.
	ErrInvalidTransition = eris.New("invalid status transition")
)

// Store defines the persistence interface for receipt records.
//
// Every operation except CreateReceipt and SaveExtractedData is keyed by
// receipt id plus the caller's user id and enforces ownership: a mismatch
// yields ErrUnauthorized and leaves the record untouched. SaveExtractedData
// is the pipeline-internal commit path; it runs with system authority on
// behalf of the owner who uploaded the file and returns that owner's id.
type Store interface {
	CreateReceipt(ctx context.Context, n model.NewReceipt) (*model.Receipt, error)
	GetReceipt(ctx context.Context, id, userID string) (*model.Receipt, error)
	ListReceipts(ctx context.Context, userID string) ([]model.Receipt, error)
	UpdateStatus(ctx context.Context, id, userID string, status model.ReceiptStatus) error

	// SaveExtractedData writes the full extracted field set and the
	// pending -> processed transition in a single update; partial writes
	// are not observable. Re-invoking for an already-processed receipt
	// overwrites the fields (last-write-wins).
	SaveExtractedData(ctx context.Context, id string, data model.ExtractedData) (ownerID string, err error)

	DeleteReceipt(ctx context.Context, id, userID string) error

	// GetReceiptByID fetches a receipt without an ownership check. It is
	// used by pipeline-internal paths only, never exposed to callers.
	GetReceiptByID(ctx context.Context, id string) (*model.Receipt, error)

	// ListPending returns receipts across all users that are still awaiting
	// a successful pipeline run, oldest first. System authority.
	ListPending(ctx context.Context) ([]model.Receipt, error)

	Migrate(ctx context.Context) error
	Close() error
}

// checkTransition enforces the receipt lifecycle on user-facing status
// updates: processed is terminal, and it is reachable only through
// SaveExtractedData.
func checkTransition(current, next model.ReceiptStatus) error {
	if current == next {
		return nil
	}
	if current == model.StatusProcessed {
		return eris.Wrap(ErrInvalidTransition, "store: processed is terminal")
	}
	if next == model.StatusProcessed {
		return eris.Wrap(ErrInvalidTransition, "store: processed is set only by a persistence commit")
	}
	return nil
}
