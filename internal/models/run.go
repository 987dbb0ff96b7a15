package models

import (
	"fmt"
	"time"
)

// RunKind names the bulk job a [SyncRun] records.
type RunKind string

const (
	RunMassSync     RunKind = "mass_sync"
	RunSendUnsynced RunKind = "send_unsynced"
)

// RunState is the lifecycle state of a [SyncRun].
type RunState string

const (
	RunRunning   RunState = "running"
	RunCompleted RunState = "completed"
	RunFailed    RunState = "failed"
	RunCancelled RunState = "cancelled"
)

// RunCounts tallies per-book outcomes of a bulk job.
type RunCounts struct {
	Total     int `json:"total"`
	Confirmed int `json:"confirmed"`
	NotFound  int `json:"not_found"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
	Sent      int `json:"sent"`
}

// SyncRun is the persisted history entry of one bulk sync or send job.
type SyncRun struct {
	id         string
	sequence   int
	kind       RunKind
	userID     int64
	state      RunState
	counts     RunCounts
	message    string
	startedAt  time.Time
	finishedAt *time.Time
	createdAt  time.Time
	updatedAt  time.Time
	deletedAt  *time.Time
}

// NewSyncRun creates a running job record started now.
func NewSyncRun(kind RunKind, userID int64) *SyncRun {
	now := time.Now().UTC()
	return &SyncRun{
		kind:      kind,
		userID:    userID,
		state:     RunRunning,
		startedAt: now,
		createdAt: now,
		updatedAt: now,
	}
}

func (r *SyncRun) ID() string             { return r.id }
func (r *SyncRun) Sequence() int          { return r.sequence }
func (r *SyncRun) Kind() RunKind          { return r.kind }
func (r *SyncRun) UserID() int64          { return r.userID }
func (r *SyncRun) State() RunState        { return r.state }
func (r *SyncRun) Counts() RunCounts      { return r.counts }
func (r *SyncRun) Message() string        { return r.message }
func (r *SyncRun) StartedAt() time.Time   { return r.startedAt }
func (r *SyncRun) FinishedAt() *time.Time { return r.finishedAt }
func (r *SyncRun) CreatedAt() time.Time   { return r.createdAt }
func (r *SyncRun) UpdatedAt() time.Time   { return r.updatedAt }
func (r *SyncRun) DeletedAt() *time.Time  { return r.deletedAt }

func (r *SyncRun) SetID(id string)            { r.id = id }
func (r *SyncRun) SetSequence(seq int)        { r.sequence = seq }
func (r *SyncRun) SetCounts(c RunCounts)      { r.counts = c }
func (r *SyncRun) SetMessage(msg string)      { r.message = msg }
func (r *SyncRun) SetStartedAt(t time.Time)   { r.startedAt = t }
func (r *SyncRun) SetCreatedAt(t time.Time)   { r.createdAt = t }
func (r *SyncRun) SetUpdatedAt(t time.Time)   { r.updatedAt = t }
func (r *SyncRun) SetDeletedAt(t *time.Time)  { r.deletedAt = t }
func (r *SyncRun) SetState(s RunState)        { r.state = s }
func (r *SyncRun) SetFinishedAt(t *time.Time) { r.finishedAt = t }

// Finish moves the run to a terminal state with its final counts.
func (r *SyncRun) Finish(state RunState, counts RunCounts, message string) {
	now := time.Now().UTC()
	r.state = state
	r.counts = counts
	r.message = message
	r.finishedAt = &now
	r.updatedAt = now
}

// Validate checks if the run's data is valid.
func (r *SyncRun) Validate() error {
	switch r.kind {
	case RunMassSync, RunSendUnsynced:
	default:
		return fmt.Errorf("invalid run kind %q", r.kind)
	}
	switch r.state {
	case RunRunning, RunCompleted, RunFailed, RunCancelled:
	default:
		return fmt.Errorf("invalid run state %q", r.state)
	}
	if r.userID <= 0 {
		return fmt.Errorf("user id is required")
	}
	return nil
}
