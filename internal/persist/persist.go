// Package persist implements the second pipeline stage: validating an
// extraction draft and committing it to the receipt store.
package persist

import (
	"context"

	"github.com/go-playground/validator/v10"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/receipt-pipeline/internal/model"
	"github.com/sells-group/receipt-pipeline/internal/store"
)

// Persister commits extracted receipt data. Stage failures are reported as
// outcome values; the pipeline coordinator decides what a failure means for
// the run.
type Persister struct {
	store    store.Store
	validate *validator.Validate
}

// New creates a Persister over the given store.
func New(s store.Store) *Persister {
	return &Persister{
		store:    s,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// Persist validates data and writes it with the pending -> processed
// transition in one commit. The returned result carries the owner's user id
// on success so the caller can meter the scan. Re-persisting an
// already-processed receipt overwrites the extracted fields.
func (p *Persister) Persist(ctx context.Context, receiptID string, data model.ExtractedData) model.PersistResult {
	if err := p.validate.Struct(data); err != nil {
		zap.L().Warn("extracted data failed validation",
			zap.String("receipt_id", receiptID),
			zap.Error(err),
		)
		return model.PersistResult{
			Status: model.PersistFailed,
			Reason: "invalid extracted data: " + err.Error(),
			Fatal:  true,
		}
	}

	ownerID, err := p.store.SaveExtractedData(ctx, receiptID, data)
	if err != nil {
		if eris.Is(err, store.ErrNotFound) {
			// The receipt was deleted while the run was in flight. No
			// amount of retrying brings it back.
			return model.PersistResult{
				Status: model.PersistFailed,
				Reason: "receipt no longer exists",
				Fatal:  true,
			}
		}
		return model.PersistResult{
			Status: model.PersistFailed,
			Reason: err.Error(),
		}
	}

	zap.L().Info("receipt persisted",
		zap.String("receipt_id", receiptID),
		zap.String("user_id", ownerID),
		zap.Int("items", len(data.Items)),
	)
	return model.PersistResult{
		Status: model.PersistSuccess,
		UserID: ownerID,
	}
}
