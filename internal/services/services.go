package services

import (
	"context"
	"fmt"

	"github.com/desertthunder/kindlesync/internal/models"
	"github.com/desertthunder/kindlesync/internal/session"
)

// LibraryService defines the interface for remote Kindle library providers.
type LibraryService interface {
	// FetchLibrary enumerates owned ebooks and personal documents.
	//
	// On failure the result still carries the items accumulated before the
	// error; Refreshed is set only on success and only when the session changed.
	FetchLibrary(ctx context.Context, cred session.Credential) (*FetchResult, error)

	// Heartbeat loads one authenticated page to keep the session alive and
	// returns the (possibly refreshed) credential.
	Heartbeat(ctx context.Context, cred session.Credential) (*session.Credential, error)

	// Name returns the name of the service (e.g., "Amazon")
	Name() string
}

// FetchResult is the outcome of one library enumeration.
type FetchResult struct {
	Library   models.Library
	Refreshed *session.Credential
	Batches   int
}

// FetchError reports which category and offset stopped an enumeration.
//
// It unwraps to its kind ([shared.ErrTransport], [shared.ErrProtocol] or
// [shared.ErrCancelled]) and to the underlying cause. Per-call deadlines also
// unwrap to [shared.ErrTimeout].
type FetchError struct {
	Kind       error
	Category   models.ContentType
	Offset     int
	StatusCode int
	Reason     string
	Cause      error
}

func (e *FetchError) Error() string {
	where := "token discovery"
	if e.Category != "" {
		where = fmt.Sprintf("%s batch at offset %d", e.Category.Label(), e.Offset)
	}
	return fmt.Sprintf("%v: %s: %s", e.Kind, where, e.Reason)
}

func (e *FetchError) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Cause}
}
