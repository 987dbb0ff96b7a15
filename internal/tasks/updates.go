package tasks

import (
	"fmt"

	"github.com/desertthunder/kindlesync/internal/models"
)

// ProgressUpdate represents a progress event during a long-running operation.
//
// Used to send real-time updates to the CLI layer for display.
type ProgressUpdate struct {
	Phase   Phase  // Operation phase
	Step    int    // Current step number within phase
	Total   int    // Total steps in this phase
	Message string // Human-readable message for display
	Data    any    // Optional phase-specific data
}

// Operation phase enumeration
type Phase int

const (
	FetchLibrary Phase = iota
	MatchBooks
	SendBooks
)

func (p Phase) String() string {
	switch p {
	case FetchLibrary:
		return "fetch_library"
	case MatchBooks:
		return "match_books"
	case SendBooks:
		return "send_books"
	default:
		return ""
	}
}

func fetchLibraryUpdate() ProgressUpdate {
	return ProgressUpdate{
		Phase:   FetchLibrary,
		Step:    1,
		Total:   1,
		Message: "Fetching Amazon Library...",
	}
}

func matchBookUpdate(step, total int, book models.LocalBook) ProgressUpdate {
	return ProgressUpdate{
		Phase:   MatchBooks,
		Step:    step,
		Total:   total,
		Message: fmt.Sprintf("[%d/%d] %s", step, total, book.Title),
		Data:    book.ID,
	}
}

func sendBookUpdate(step, total int, book models.LocalBook) ProgressUpdate {
	return ProgressUpdate{
		Phase:   SendBooks,
		Step:    step,
		Total:   total,
		Message: fmt.Sprintf("[%d/%d] Sending: %s...", step, total, book.Title),
		Data:    book.ID,
	}
}

func sendFailedUpdate(step, total int, book models.LocalBook, reason string) ProgressUpdate {
	return ProgressUpdate{
		Phase:   SendBooks,
		Step:    step,
		Total:   total,
		Message: fmt.Sprintf("[%d/%d] ✗ %s: %s", step, total, book.Title, reason),
		Data:    book.ID,
	}
}
