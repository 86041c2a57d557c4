package runner

import (
	"context"
	"sync"
	"time"

	"github.com/sells-group/receipt-pipeline/internal/resilience"
)

// StepFunc is the unit of work a StepExecutor runs. Its result must be a
// serialized value so a memoized replay is indistinguishable from a fresh
// execution.
type StepFunc func(ctx context.Context) ([]byte, error)

// StepExecutor runs pipeline steps with at-least-once semantics. A step that
// already succeeded for a given run returns its memoized result instead of
// running again, which is what makes duplicate event deliveries and run
// re-entry safe.
type StepExecutor interface {
	Execute(ctx context.Context, runID, step string, fn StepFunc) ([]byte, error)
}

// MemoExecutor is an in-process StepExecutor: per-(run, step) memoization of
// successful results plus retry with exponential backoff for transient
// failures. Failed steps are never memoized.
type MemoExecutor struct {
	retry resilience.RetryConfig

	mu    sync.Mutex
	memos map[string][]byte
}

// NewMemoExecutor creates a MemoExecutor with the given retry policy for
// step attempts.
func NewMemoExecutor(maxAttempts int, backoff time.Duration) *MemoExecutor {
	cfg := resilience.DefaultRetryConfig()
	if maxAttempts > 0 {
		cfg.MaxAttempts = maxAttempts
	}
	if backoff > 0 {
		cfg.InitialBackoff = backoff
	}
	return &MemoExecutor{
		retry: cfg,
		memos: make(map[string][]byte),
	}
}

func (e *MemoExecutor) Execute(ctx context.Context, runID, step string, fn StepFunc) ([]byte, error) {
	key := runID + "/" + step

	e.mu.Lock()
	if result, ok := e.memos[key]; ok {
		e.mu.Unlock()
		return result, nil
	}
	e.mu.Unlock()

	cfg := e.retry
	cfg.OnRetry = resilience.RetryLogger("pipeline", step)

	result, err := resilience.DoVal(ctx, cfg, fn)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.memos[key] = result
	e.mu.Unlock()
	return result, nil
}

// Forget drops all memoized results for a run. Called when a run reaches a
// terminal state so the executor does not grow without bound.
func (e *MemoExecutor) Forget(runID string) {
	prefix := runID + "/"
	e.mu.Lock()
	for key := range e.memos {
		if len(key) >= len(prefix) && key[:len(prefix)] == prefix {
			delete(e.memos, key)
		}
	}
	e.mu.Unlock()
}
