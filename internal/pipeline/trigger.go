package pipeline

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

var ErrAlreadyRunning = errors.New("pipeline: a run is already in progress")

type State string

const (
	StateIdle           State = "idle"
	StateCollecting     State = "collecting"
	StateFiltering      State = "filtering"
	StateTrendResolving State = "trend_resolving"
	StateEvaluating     State = "evaluating"
	StatePersisting     State = "persisting"
	StateRanking        State = "ranking"
	StateNotifying      State = "notifying"
	StateDone           State = "done"
	StateFailed         State = "failed"
)

// Terminal reports whether s ends a run.
func (s State) Terminal() bool { return s == StateDone || s == StateFailed }

// Trigger is the process-wide run guard. It starts false; only an accepted
// start moves it to true and only the end of that run moves it back.
type Trigger struct {
	running atomic.Bool
}

// TryStart claims the run slot. It returns false when a run is active.
func (t *Trigger) TryStart() bool { return t.running.CompareAndSwap(false, true) }

func (t *Trigger) Finish() { t.running.Store(false) }

func (t *Trigger) IsRunning() bool { return t.running.Load() }

// Status is the externally visible progress of the current or last run.
type Status struct {
	Running    bool      `json:"is_running"`
	RunID      string    `json:"run_id,omitempty"`
	State      State     `json:"state"`
	Date       string    `json:"evaluation_date,omitempty"`
	StartedAt  time.Time `json:"started_at,omitzero"`
	FinishedAt time.Time `json:"finished_at,omitzero"`
	Error      string    `json:"error,omitempty"`
	Evaluated  int       `json:"evaluated"`
	Persisted  int       `json:"persisted"`
}

type statusBox struct {
	mu sync.Mutex
	st Status
}

func (b *statusBox) get() Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.st
}

func (b *statusBox) update(fn func(*Status)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	fn(&b.st)
}
