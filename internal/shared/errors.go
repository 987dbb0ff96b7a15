package shared

import "fmt"

var (
	// Configuration errors
	ErrMissingConfig = fmt.Errorf("configuration not found")
	ErrInvalidConfig = fmt.Errorf("invalid configuration")

	// Session errors
	ErrMissingCredential = fmt.Errorf("no Amazon session cookies configured")
	ErrSyncDisabled      = fmt.Errorf("Amazon sync is disabled")

	// Remote library errors
	ErrTransport = fmt.Errorf("transport error")
	ErrProtocol  = fmt.Errorf("protocol error")
	ErrTimeout   = fmt.Errorf("operation timed out")

	// Job errors
	ErrCancelled    = fmt.Errorf("cancelled")
	ErrBookNotFound = fmt.Errorf("book not found")

	// Input validation errors
	ErrInvalidInput    = fmt.Errorf("invalid input")
	ErrMissingArgument = fmt.Errorf("missing required argument")
	ErrInvalidArgument = fmt.Errorf("invalid argument")
	ErrInvalidFlag     = fmt.Errorf("invalid flag value")
)
