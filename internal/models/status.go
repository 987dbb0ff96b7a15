package models

import (
	"fmt"
	"time"
)

// SyncStatus is the reconciliation state of a local book.
type SyncStatus string

const (
	StatusPending   SyncStatus = "pending"
	StatusConfirmed SyncStatus = "confirmed"
	StatusNotFound  SyncStatus = "not_found"
	StatusError     SyncStatus = "error"
)

// MaxErrorMessageLen caps stored error messages.
const MaxErrorMessageLen = 1000

// ParseSyncStatus validates a stored or user supplied status name.
func ParseSyncStatus(s string) (SyncStatus, error) {
	switch st := SyncStatus(s); st {
	case StatusPending, StatusConfirmed, StatusNotFound, StatusError:
		return st, nil
	default:
		return "", fmt.Errorf("unknown sync status %q", s)
	}
}

// SyncStatusRecord is the persisted status of one book for one user.
type SyncStatusRecord struct {
	UserID        int64      `json:"user_id" yaml:"user_id"`
	BookID        int64      `json:"book_id" yaml:"book_id"`
	Status        SyncStatus `json:"status" yaml:"status"`
	ASIN          string     `json:"asin,omitempty" yaml:"asin,omitempty"`
	ErrorMessage  string     `json:"error_message,omitempty" yaml:"error_message,omitempty"`
	RetryCount    int        `json:"retry_count" yaml:"retry_count"`
	LastAttemptAt *time.Time `json:"last_attempt_at,omitempty" yaml:"last_attempt_at,omitempty"`
	UpdatedAt     time.Time  `json:"updated_at" yaml:"updated_at"`
}

// StatusUpdate is the next state to write for a book.
//
// ResetRetry zeroes the retry counter; otherwise non-confirmed states increment it.
type StatusUpdate struct {
	Status       SyncStatus
	ASIN         string
	ErrorMessage string
	ResetRetry   bool
}

// HeartbeatHealth is the keep-alive bookkeeping stored alongside the session cookies.
type HeartbeatHealth struct {
	FailCount   int       `json:"fail_count"`
	LastError   string    `json:"last_error,omitempty"`
	LastSuccess time.Time `json:"last_success_utc,omitzero"`
}
