// Package progress tracks staged ingestion progress per task so the task
// detail API can report (stage, done, total) while a worker runs.
package progress

import (
	"sync"
	"time"
)

// State is the lifecycle of one tracked operation or stage.
type State string

const (
	StateIdle      State = "idle"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateError     State = "error"
	StateCancelled State = "cancelled"
)

// IsTerminal reports whether no further updates will arrive.
func (s State) IsTerminal() bool {
	return s == StateCompleted || s == StateError || s == StateCancelled
}

// Stage ids of the ingest pipeline, in execution order.
const (
	StageClassify  = "classify"
	StageHash      = "hash"
	StageDecompose = "decompose"
	StageEncode    = "encode"
	StagePersist   = "persist"
)

// StageInfo is the progress of one pipeline stage.
type StageInfo struct {
	ID       string  `json:"id"`
	Weight   float64 `json:"weight"`
	State    State   `json:"state"`
	Current  int     `json:"current"`
	Total    int     `json:"total"`
	Message  string  `json:"message,omitempty"`
	Progress float64 `json:"progress"`
}

// Snapshot is a point-in-time copy of a tracker, safe to serialize.
type Snapshot struct {
	TaskID    string      `json:"task_id"`
	State     State       `json:"state"`
	Progress  float64     `json:"progress"`
	Stage     string      `json:"stage,omitempty"`
	Stages    []StageInfo `json:"stages"`
	StartedAt time.Time   `json:"started_at"`
	UpdatedAt time.Time   `json:"updated_at"`
	Error     string      `json:"error,omitempty"`
}

// IngestStages returns the standard stage layout for an ingest_file task.
// Weights reflect where the time goes; encode dominates.
func IngestStages() []StageInfo {
	return []StageInfo{
		{ID: StageClassify, Weight: 0.05},
		{ID: StageHash, Weight: 0.10},
		{ID: StageDecompose, Weight: 0.25},
		{ID: StageEncode, Weight: 0.50},
		{ID: StagePersist, Weight: 0.10},
	}
}

// Tracker accumulates staged progress for one task.
type Tracker struct {
	mu sync.Mutex

	taskID    string
	state     State
	stages    []StageInfo
	current   int
	startedAt time.Time
	updatedAt time.Time
	err       string
}

// NewTracker creates a tracker with the given stage layout.
func NewTracker(taskID string, stages []StageInfo) *Tracker {
	now := time.Now()
	t := &Tracker{
		taskID:    taskID,
		state:     StateRunning,
		stages:    make([]StageInfo, len(stages)),
		current:   -1,
		startedAt: now,
		updatedAt: now,
	}
	copy(t.stages, stages)
	for i := range t.stages {
		t.stages[i].State = StateIdle
	}
	return t
}

// StartStage marks a stage running with the given item total. Earlier stages
// still marked running are completed implicitly.
func (t *Tracker) StartStage(id string, total int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range t.stages {
		if t.stages[i].ID != id {
			if t.stages[i].State == StateRunning {
				t.stages[i].State = StateCompleted
				t.stages[i].Progress = 1
			}
			continue
		}
		t.stages[i].State = StateRunning
		t.stages[i].Total = total
		t.stages[i].Current = 0
		t.stages[i].Progress = 0
		t.current = i
	}
	t.updatedAt = time.Now()
}

// Update advances the current stage's item counter.
func (t *Tracker) Update(current int, message string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.current < 0 || t.current >= len(t.stages) {
		return
	}
	stage := &t.stages[t.current]
	stage.Current = current
	stage.Message = message
	if stage.Total > 0 {
		stage.Progress = float64(current) / float64(stage.Total)
		if stage.Progress > 1 {
			stage.Progress = 1
		}
	}
	t.updatedAt = time.Now()
}

// Complete marks the whole operation done.
func (t *Tracker) Complete() { t.finish(StateCompleted, "") }

// Fail marks the operation failed with the error message.
func (t *Tracker) Fail(err error) {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	t.finish(StateError, msg)
}

// Cancel marks the operation cancelled.
func (t *Tracker) Cancel() { t.finish(StateCancelled, "") }

func (t *Tracker) finish(state State, errMsg string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state = state
	t.err = errMsg
	for i := range t.stages {
		if t.stages[i].State == StateRunning {
			if state == StateCompleted {
				t.stages[i].State = StateCompleted
				t.stages[i].Progress = 1
			} else {
				t.stages[i].State = state
			}
		}
	}
	t.updatedAt = time.Now()
}

// Snapshot returns a copy of the current progress.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	snap := Snapshot{
		TaskID:    t.taskID,
		State:     t.state,
		Stages:    make([]StageInfo, len(t.stages)),
		StartedAt: t.startedAt,
		UpdatedAt: t.updatedAt,
		Error:     t.err,
	}
	copy(snap.Stages, t.stages)

	overall := 0.0
	for _, s := range t.stages {
		switch s.State {
		case StateCompleted:
			overall += s.Weight
		case StateRunning:
			overall += s.Weight * s.Progress
		}
	}
	snap.Progress = overall
	if t.state == StateCompleted {
		snap.Progress = 1
	}
	if t.current >= 0 && t.current < len(t.stages) {
		snap.Stage = t.stages[t.current].ID
	}
	return snap
}

// Registry holds live trackers keyed by task id. Terminal trackers stay
// visible until evicted so a just-finished task still reports progress.
type Registry struct {
	mu       sync.RWMutex
	trackers map[string]*Tracker
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{trackers: make(map[string]*Tracker)}
}

// Track registers a tracker for a task, replacing any previous one.
func (r *Registry) Track(taskID string, stages []StageInfo) *Tracker {
	t := NewTracker(taskID, stages)
	r.mu.Lock()
	r.trackers[taskID] = t
	r.mu.Unlock()
	return t
}

// Get returns the tracker's snapshot for a task, if one exists.
func (r *Registry) Get(taskID string) (Snapshot, bool) {
	r.mu.RLock()
	t, ok := r.trackers[taskID]
	r.mu.RUnlock()
	if !ok {
		return Snapshot{}, false
	}
	return t.Snapshot(), true
}

// Evict removes a task's tracker.
func (r *Registry) Evict(taskID string) {
	r.mu.Lock()
	delete(r.trackers, taskID)
	r.mu.Unlock()
}

// Sweep evicts terminal trackers not updated since the cutoff and returns
// how many were removed.
func (r *Registry) Sweep(cutoff time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	for id, t := range r.trackers {
		snap := t.Snapshot()
		if snap.State.IsTerminal() && snap.UpdatedAt.Before(cutoff) {
			delete(r.trackers, id)
			removed++
		}
	}
	return removed
}
