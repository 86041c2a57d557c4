package runner

import (
	"sync"

	"github.com/sells-group/receipt-pipeline/internal/model"
)

// stateTable holds the routing state of each run, keyed by run id. State is
// handed to the coordinator explicitly; stages never see it, so one run's
// flags cannot leak into another's decisions.
type stateTable struct {
	mu     sync.Mutex
	states map[string]model.RunState
}

func newStateTable() *stateTable {
	return &stateTable{states: make(map[string]model.RunState)}
}

// get returns the state for runID, creating a fresh one on first sight.
func (t *stateTable) get(runID, receiptID string) model.RunState {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok := t.states[runID]; ok {
		return s
	}
	s := model.RunState{ReceiptID: receiptID}
	t.states[runID] = s
	return s
}

func (t *stateTable) put(runID string, s model.RunState) {
	t.mu.Lock()
	t.states[runID] = s
	t.mu.Unlock()
}
