// Package runner coordinates the two-stage receipt pipeline: extraction of
// a structured draft from the uploaded PDF, then a validated persistence
// commit. The coordinator owns run routing, retries (through a
// StepExecutor) and usage metering; the stages stay free of both.
package runner

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/receipt-pipeline/internal/model"
	"github.com/sells-group/receipt-pipeline/internal/resilience"
)

// ExtractStage produces a draft from an uploaded document.
type ExtractStage interface {
	Extract(ctx context.Context, receiptID, fileURL string) (*model.Draft, error)
}

// PersistStage commits extracted data to the record store.
type PersistStage interface {
	Persist(ctx context.Context, receiptID string, data model.ExtractedData) model.PersistResult
}

// Meter records billable usage. Implementations must not block the run on
// delivery failures.
type Meter interface {
	Track(ctx context.Context, event, userID string)
}

// MeterEventScan is the usage event emitted once per successful run.
const MeterEventScan = "scan"

const (
	stepExtract = "extract"
	stepPersist = "persist"
)

// Runner drives one pipeline run per upload event. The stage set is closed:
// extraction feeds persistence, nothing is looked up by name at runtime.
type Runner struct {
	extract ExtractStage
	persist PersistStage
	meter   Meter
	exec    StepExecutor

	states *stateTable
}

// New creates a Runner. meter may be nil when usage metering is not
// configured.
func New(extract ExtractStage, persist PersistStage, meter Meter, exec StepExecutor) *Runner {
	return &Runner{
		extract: extract,
		persist: persist,
		meter:   meter,
		exec:    exec,
		states:  newStateTable(),
	}
}

// Process executes the pipeline for one upload event. The run id is derived
// from the receipt id, so a duplicate delivery of the same event re-enters
// the same run: memoized steps replay and an already-persisted run completes
// without touching the stages again.
//
// The returned result always describes the final run status; err is non-nil
// only when the run aborted and carries the cause.
func (r *Runner) Process(ctx context.Context, event model.UploadCompleted) (*model.RunResult, error) {
	runID := "run-" + event.ReceiptID
	result := &model.RunResult{
		RunID:     runID,
		ReceiptID: event.ReceiptID,
		Status:    model.RunStatusStarted,
		StartedAt: time.Now().UTC(),
	}

	log := zap.L().With(
		zap.String("run_id", runID),
		zap.String("receipt_id", event.ReceiptID),
	)
	log.Info("run started")

	state := r.states.get(runID, event.ReceiptID)
	if state.Persisted {
		log.Info("run already persisted, completing without stage work")
		return r.finish(result, model.RunStatusCompleted, ""), nil
	}

	// Extraction stage.
	result.Status = model.RunStatusExtracting
	draftBytes, err := r.exec.Execute(ctx, runID, stepExtract, func(ctx context.Context) ([]byte, error) {
		draft, err := r.extract.Extract(ctx, event.ReceiptID, event.FileURL)
		if err != nil {
			return nil, err
		}
		return json.Marshal(draft)
	})
	if err != nil {
		log.Error("extraction failed, aborting run", zap.Error(err))
		return r.finish(result, model.RunStatusAborted, err.Error()), eris.Wrap(err, "runner: extraction stage")
	}

	var draft model.Draft
	if err := json.Unmarshal(draftBytes, &draft); err != nil {
		return r.finish(result, model.RunStatusAborted, err.Error()), eris.Wrap(err, "runner: decode draft")
	}
	result.Items = len(draft.Items)

	// Persistence stage. Failed outcomes are surfaced as errors to the
	// executor so its retry policy applies; fatal outcomes never retry.
	result.Status = model.RunStatusPersisting
	outcomeBytes, err := r.exec.Execute(ctx, runID, stepPersist, func(ctx context.Context) ([]byte, error) {
		outcome := r.persist.Persist(ctx, event.ReceiptID, draft.ToExtractedData())
		if outcome.Status == model.PersistFailed {
			cause := eris.New("persist: " + outcome.Reason)
			if outcome.Fatal {
				return nil, resilience.NewFatalError(cause)
			}
			return nil, resilience.NewTransientError(cause, 0)
		}
		return json.Marshal(outcome)
	})
	if err != nil {
		log.Error("persistence failed, aborting run", zap.Error(err))
		return r.finish(result, model.RunStatusAborted, err.Error()), eris.Wrap(err, "runner: persistence stage")
	}

	var outcome model.PersistResult
	if err := json.Unmarshal(outcomeBytes, &outcome); err != nil {
		return r.finish(result, model.RunStatusAborted, err.Error()), eris.Wrap(err, "runner: decode outcome")
	}

	state.Persisted = true
	r.states.put(runID, state)

	// Usage is metered only after the commit landed, once per run.
	if r.meter != nil && outcome.UserID != "" {
		r.meter.Track(ctx, MeterEventScan, outcome.UserID)
	}

	log.Info("run completed", zap.Int("items", result.Items))
	return r.finish(result, model.RunStatusCompleted, ""), nil
}

func (r *Runner) finish(result *model.RunResult, status model.RunStatus, reason string) *model.RunResult {
	result.Status = status
	result.Reason = reason
	result.FinishedAt = time.Now().UTC()

	// Memoized step results are only needed while the run can re-enter.
	if status.Terminal() {
		if f, ok := r.exec.(interface{ Forget(string) }); ok && status == model.RunStatusAborted {
			f.Forget(result.RunID)
		}
	}
	return result
}
