package tasks

import (
	"context"
	"fmt"
	"strings"

	"github.com/desertthunder/kindlesync/internal/models"
	"github.com/desertthunder/kindlesync/internal/shared"
	"golang.org/x/time/rate"
)

// SendReport summarizes a send-unsynced run.
type SendReport struct {
	RunID    string           `json:"run_id,omitempty"`
	Counts   models.RunCounts `json:"counts"`
	Examples []string         `json:"examples,omitempty"`
	Message  string           `json:"message"`
}

func (r *SendReport) addExample(book models.LocalBook, reason string) {
	if len(r.Examples) < maxExamples {
		r.Examples = append(r.Examples, fmt.Sprintf("%s: %s", book.Title, reason))
	}
}

// SendUnsynced mails every local book not yet confirmed on Kindle to address.
//
// Books without a deliverable format are marked error with the skip reason
// and keep their retry count. Sent books go back to pending with the retry
// count reset, so the next sync can confirm them. Deliveries are throttled by
// the configured send rate and cancellation is checked between books.
func (e *SyncEngine) SendUnsynced(ctx context.Context, address string, progress chan<- ProgressUpdate) (*SendReport, error) {
	if strings.TrimSpace(address) == "" {
		return nil, fmt.Errorf("%w: eReader address", shared.ErrMissingArgument)
	}
	if e.opts.Deliverer == nil {
		return nil, fmt.Errorf("%w: no delivery method configured", shared.ErrInvalidConfig)
	}

	report := &SendReport{}
	run := models.NewSyncRun(models.RunSendUnsynced, e.opts.UserID)
	e.record(run)
	report.RunID = run.ID()
	logger := e.runLogger(run)

	confirmed, err := e.opts.Status.ConfirmedBookIDs(e.opts.UserID)
	if err != nil {
		report.Message = err.Error()
		e.finish(run, models.RunFailed, report.Counts, report.Message)
		return report, err
	}

	books, err := e.opts.Catalog.Books()
	if err != nil {
		report.Message = err.Error()
		e.finish(run, models.RunFailed, report.Counts, report.Message)
		return report, fmt.Errorf("failed to list local books: %w", err)
	}

	unsynced := make([]models.LocalBook, 0, len(books))
	for _, b := range books {
		if _, ok := confirmed[b.ID]; !ok {
			unsynced = append(unsynced, b)
		}
	}
	report.Counts.Total = len(unsynced)

	if len(unsynced) == 0 {
		report.Message = "No books missing from Kindle were found to send."
		e.finish(run, models.RunCompleted, report.Counts, report.Message)
		return report, nil
	}

	limit := rate.Inf
	if e.opts.SendRate > 0 {
		limit = rate.Limit(e.opts.SendRate)
	}
	limiter := rate.NewLimiter(limit, 1)

	for i, book := range unsynced {
		if ctx.Err() != nil {
			return e.cancelSend(run, report, i)
		}

		format, reason, ok := e.opts.Deliverer.Deliverable(book)
		if !ok {
			report.Counts.Skipped++
			report.addExample(book, reason)
			e.sendProgress(progress, sendFailedUpdate(i+1, len(unsynced), book, reason))
			e.updateStatus(book, models.StatusUpdate{Status: models.StatusError, ErrorMessage: reason})
			continue
		}

		if err := limiter.Wait(ctx); err != nil {
			return e.cancelSend(run, report, i)
		}

		e.sendProgress(progress, sendBookUpdate(i+1, len(unsynced), book))
		if err := e.opts.Deliverer.Deliver(ctx, book, format, address); err != nil {
			logger.Error("send failed", "book", book.ID, "title", book.Title, "error", err)
			report.Counts.Failed++
			e.sendProgress(progress, sendFailedUpdate(i+1, len(unsynced), book, err.Error()))
			e.updateStatus(book, models.StatusUpdate{Status: models.StatusError, ErrorMessage: err.Error()})
			continue
		}

		report.Counts.Sent++
		e.updateStatus(book, models.StatusUpdate{Status: models.StatusPending, ResetRetry: true})
	}

	report.Message = fmt.Sprintf("Queued %d books missing from Kindle for send (skipped: %d, failed: %d).",
		report.Counts.Sent, report.Counts.Skipped, report.Counts.Failed)
	if len(report.Examples) > 0 {
		report.Message += " Skipped examples: " + strings.Join(report.Examples, " | ")
	}
	logger.Info("send complete", "sent", report.Counts.Sent, "skipped", report.Counts.Skipped, "failed", report.Counts.Failed)
	e.finish(run, models.RunCompleted, report.Counts, report.Message)
	return report, nil
}

func (e *SyncEngine) cancelSend(run *models.SyncRun, report *SendReport, done int) (*SendReport, error) {
	report.Message = fmt.Sprintf("Send cancelled after %d / %d books.", done, report.Counts.Total)
	e.finish(run, models.RunCancelled, report.Counts, report.Message)
	return report, shared.ErrCancelled
}

// updateStatus writes a status; a store failure is logged and the run continues.
func (e *SyncEngine) updateStatus(book models.LocalBook, u models.StatusUpdate) {
	if err := e.opts.Status.Update(e.opts.UserID, book.ID, u); err != nil {
		e.logger.Error("failed to record status", "book", book.ID, "error", err)
	}
}
