package tasks

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/kindlesync/internal/match"
	"github.com/desertthunder/kindlesync/internal/models"
	"github.com/desertthunder/kindlesync/internal/services"
	"github.com/desertthunder/kindlesync/internal/session"
	"github.com/desertthunder/kindlesync/internal/shared"
)

// Settings keys shared with the session commands.
const (
	KeySessionCookies       = "amazon_session_cookies"
	KeyCSRFToken            = "amazon_csrf_token"
	KeySyncEnabled          = "amazon_sync_enabled"
	KeyHeartbeatFailCount   = "amazon_heartbeat_fail_count"
	KeyHeartbeatLastError   = "amazon_heartbeat_last_error"
	KeyHeartbeatLastSuccess = "amazon_heartbeat_last_success_utc"
)

// maxExamples caps the example reasons carried in bulk job reports.
const maxExamples = 5

// Settings is the key/value store holding the session and heartbeat health.
type Settings interface {
	Get(key string) (string, error)
	SetMany(values map[string]string) error
}

// StatusStore persists per-book sync status.
type StatusStore interface {
	Get(userID, bookID int64) (*models.SyncStatusRecord, error)
	Update(userID, bookID int64, u models.StatusUpdate) error
	ConfirmedBookIDs(userID int64) (map[int64]struct{}, error)
}

// Catalog is the read-only local library.
type Catalog interface {
	Book(id int64) (models.LocalBook, error)
	Books() ([]models.LocalBook, error)
}

// BookMatcher classifies one local book against a fetched library.
type BookMatcher interface {
	Match(q match.Query, lib models.Library) match.Verdict
}

// Deliverer sends a stored book file to an eReader address.
type Deliverer interface {
	Deliverable(book models.LocalBook) (models.BookFormat, string, bool)
	Deliver(ctx context.Context, book models.LocalBook, format models.BookFormat, address string) error
}

// RunRecorder persists bulk job history. It is optional.
type RunRecorder interface {
	Record(run *models.SyncRun) error
}

// SyncEngineOpts contains the dependencies of a [SyncEngine].
type SyncEngineOpts struct {
	UserID    int64
	Settings  Settings
	Status    StatusStore
	Catalog   Catalog
	Library   services.LibraryService
	Matcher   BookMatcher
	Deliverer Deliverer
	Runs      RunRecorder
	SendRate  float64 // deliveries per second; 0 means unthrottled
	Logger    *log.Logger
}

// SyncEngine runs sync, heartbeat and send jobs for one user.
type SyncEngine struct {
	opts   SyncEngineOpts
	logger *log.Logger
	now    func() time.Time
}

// NewSyncEngine creates a new SyncEngine with the provided dependencies.
func NewSyncEngine(opts SyncEngineOpts) *SyncEngine {
	if opts.UserID <= 0 {
		opts.UserID = 1
	}
	if opts.Matcher == nil {
		opts.Matcher = match.NewMatcher(match.DefaultThresholds(), opts.Logger)
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &SyncEngine{opts: opts, logger: logger, now: time.Now}
}

// BookResult is the outcome of syncing a single book.
type BookResult struct {
	BookID  int64         `json:"book_id"`
	Title   string        `json:"title,omitempty"`
	Verdict match.Verdict `json:"verdict"`
	Skipped bool          `json:"skipped,omitempty"`
	Reason  string        `json:"reason,omitempty"`
}

// SyncReport summarizes a mass sync.
type SyncReport struct {
	RunID    string           `json:"run_id,omitempty"`
	Fetched  int              `json:"fetched"`
	Counts   models.RunCounts `json:"counts"`
	Examples []string         `json:"examples,omitempty"`
	Message  string           `json:"message"`
	// Partial is set when books were matched against an incomplete library.
	Partial bool `json:"partial,omitempty"`
}

// Credential loads the stored Amazon session.
func (e *SyncEngine) Credential() (session.Credential, error) {
	cookies, err := e.opts.Settings.Get(KeySessionCookies)
	if err != nil {
		return session.Credential{}, fmt.Errorf("failed to read session cookies: %w", err)
	}
	token, err := e.opts.Settings.Get(KeyCSRFToken)
	if err != nil {
		return session.Credential{}, fmt.Errorf("failed to read csrf token: %w", err)
	}
	return session.Credential{Cookies: cookies, CSRFToken: token}, nil
}

// SyncEnabled reports whether per-book sync is switched on.
func (e *SyncEngine) SyncEnabled() (bool, error) {
	v, err := e.opts.Settings.Get(KeySyncEnabled)
	if err != nil {
		return false, fmt.Errorf("failed to read sync flag: %w", err)
	}
	enabled, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		return false, nil
	}
	return enabled, nil
}

// persistCredential writes a refreshed session back to settings.
func (e *SyncEngine) persistCredential(cred *session.Credential) error {
	if cred == nil {
		return nil
	}
	values := map[string]string{KeySessionCookies: cred.Cookies}
	if cred.CSRFToken != "" {
		values[KeyCSRFToken] = cred.CSRFToken
	}
	if err := e.opts.Settings.SetMany(values); err != nil {
		return fmt.Errorf("failed to persist refreshed session: %w", err)
	}
	e.logger.Info("session cookies updated, persisted")
	return nil
}

// fetch loads the stored credential, fetches the library once and persists any refresh.
//
// A failed enumeration still returns the items fetched before the failure,
// alongside the error. A fetch interrupted by ctx fails with [shared.ErrCancelled].
func (e *SyncEngine) fetch(ctx context.Context) (models.Library, error) {
	cred, err := e.Credential()
	if err != nil {
		return models.Library{}, err
	}
	if cred.Empty() {
		return models.Library{}, shared.ErrMissingCredential
	}

	result, err := e.opts.Library.FetchLibrary(ctx, cred)
	if err != nil {
		if ctx.Err() != nil && !errors.Is(err, shared.ErrCancelled) {
			err = fmt.Errorf("%w: %w", shared.ErrCancelled, err)
		}
		var lib models.Library
		var fetchErr *services.FetchError
		if result != nil && errors.As(err, &fetchErr) {
			lib = result.Library
		}
		return lib, fmt.Errorf("failed to fetch Amazon library: %w", err)
	}

	if err := e.persistCredential(result.Refreshed); err != nil {
		e.logger.Warn("could not persist refreshed session", "error", err)
	}
	return result.Library, nil
}

// partialVerdict keeps hits against a partial library and turns every other
// outcome into an error carrying the fetch failure.
func partialVerdict(v match.Verdict, fetchErr error) match.Verdict {
	if v.Status == models.StatusConfirmed {
		return v
	}
	return match.Verdict{Status: models.StatusError, Message: fetchErr.Error(), Err: fetchErr}
}

// FetchLibrary fetches the remote library with the stored session and persists any refreshed cookies.
func (e *SyncEngine) FetchLibrary(ctx context.Context) (models.Library, error) {
	return e.fetch(ctx)
}

// SyncBook reconciles one local book with the remote library.
//
// Books already confirmed, and all books while sync is disabled, are skipped
// without a network call. A fetch failure is recorded as status error unless
// the partial library fetched so far already holds the book.
func (e *SyncEngine) SyncBook(ctx context.Context, bookID int64) (*BookResult, error) {
	result := &BookResult{BookID: bookID}

	enabled, err := e.SyncEnabled()
	if err != nil {
		return nil, err
	}
	if !enabled {
		result.Skipped = true
		result.Reason = shared.ErrSyncDisabled.Error()
		return result, nil
	}

	book, err := e.opts.Catalog.Book(bookID)
	if err != nil {
		if errors.Is(err, shared.ErrBookNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to load book %d: %w", bookID, err)
	}
	result.Title = book.Title

	current, err := e.opts.Status.Get(e.opts.UserID, bookID)
	if err != nil {
		return nil, err
	}
	if current != nil && current.Status == models.StatusConfirmed {
		result.Skipped = true
		result.Reason = "already confirmed"
		result.Verdict = match.Verdict{Status: models.StatusConfirmed, ASIN: current.ASIN}
		return result, nil
	}

	lib, fetchErr := e.fetch(ctx)
	switch {
	case fetchErr == nil:
		result.Verdict = e.opts.Matcher.Match(match.QueryFor(book), lib)
	case errors.Is(fetchErr, shared.ErrMissingCredential), errors.Is(fetchErr, shared.ErrCancelled):
		return result, fetchErr
	case lib.Total() > 0:
		e.logger.Warn("matching against a partial library", "items", lib.Total(), "error", fetchErr)
		result.Verdict = partialVerdict(e.opts.Matcher.Match(match.QueryFor(book), lib), fetchErr)
	default:
		result.Verdict = match.Verdict{Status: models.StatusError, Message: fetchErr.Error(), Err: fetchErr}
	}

	if err := e.opts.Status.Update(e.opts.UserID, bookID, result.Verdict.Update()); err != nil {
		if fetchErr != nil {
			e.logger.Error("failed to record sync error", "book", bookID, "error", err)
			return result, fetchErr
		}
		return result, err
	}
	if result.Verdict.Err != nil {
		return result, result.Verdict.Err
	}
	return result, nil
}

// SyncAll fetches the remote library once and classifies every local book against it.
//
// Cancellation is checked during the fetch and between books; a cancelled run
// returns the partial report with [shared.ErrCancelled]. When the fetch fails
// after some batches, books are matched against what was fetched and every
// miss is recorded as an error. One failing book never aborts the run.
func (e *SyncEngine) SyncAll(ctx context.Context, progress chan<- ProgressUpdate) (*SyncReport, error) {
	report := &SyncReport{}
	run := models.NewSyncRun(models.RunMassSync, e.opts.UserID)
	e.record(run)
	report.RunID = run.ID()
	logger := e.runLogger(run)

	e.sendProgress(progress, fetchLibraryUpdate())
	lib, fetchErr := e.fetch(ctx)
	switch {
	case fetchErr == nil:
	case errors.Is(fetchErr, shared.ErrCancelled):
		report.Message = "Sync cancelled while fetching the Amazon library."
		e.finish(run, models.RunCancelled, report.Counts, report.Message)
		return report, fetchErr
	case lib.Total() > 0:
		report.Partial = true
		logger.Warn("library fetch incomplete, matching against what was fetched", "items", lib.Total(), "error", fetchErr)
	default:
		report.Message = fetchErr.Error()
		e.finish(run, models.RunFailed, report.Counts, report.Message)
		return report, fetchErr
	}

	report.Fetched = lib.Total()
	logger.Info("fetched Amazon library for mass sync", "items", report.Fetched)
	if report.Fetched == 0 {
		report.Message = "Amazon library is empty; nothing to compare."
		e.finish(run, models.RunCompleted, report.Counts, report.Message)
		return report, nil
	}

	books, err := e.opts.Catalog.Books()
	if err != nil {
		report.Message = err.Error()
		e.finish(run, models.RunFailed, report.Counts, report.Message)
		return report, fmt.Errorf("failed to list local books: %w", err)
	}
	report.Counts.Total = len(books)

	for i, book := range books {
		if ctx.Err() != nil {
			report.Message = fmt.Sprintf("Sync cancelled after %d / %d local books.", i, len(books))
			e.finish(run, models.RunCancelled, report.Counts, report.Message)
			return report, shared.ErrCancelled
		}
		e.sendProgress(progress, matchBookUpdate(i+1, len(books), book))

		verdict := e.opts.Matcher.Match(match.QueryFor(book), lib)
		if report.Partial {
			verdict = partialVerdict(verdict, fetchErr)
		}
		if err := e.opts.Status.Update(e.opts.UserID, book.ID, verdict.Update()); err != nil {
			logger.Error("failed to record status", "book", book.ID, "error", err)
			report.Counts.Failed++
			report.addExample(book, err.Error())
			continue
		}

		switch verdict.Status {
		case models.StatusConfirmed:
			report.Counts.Confirmed++
		case models.StatusNotFound:
			report.Counts.NotFound++
		default:
			report.Counts.Failed++
			report.addExample(book, verdict.Message)
		}
	}

	report.Message = fmt.Sprintf("Sync complete. Matched %d / %d local books.", report.Counts.Confirmed, report.Counts.Total)
	if report.Partial {
		report.Message = fmt.Sprintf("Sync incomplete: the Amazon library fetch stopped early. Matched %d / %d local books.", report.Counts.Confirmed, report.Counts.Total)
	}
	logger.Info(report.Message)
	e.finish(run, models.RunCompleted, report.Counts, report.Message)
	return report, nil
}

func (r *SyncReport) addExample(book models.LocalBook, reason string) {
	if len(r.Examples) < maxExamples {
		r.Examples = append(r.Examples, fmt.Sprintf("%s: %s", book.Title, reason))
	}
}

// record stores a run when a recorder is configured; failures only log.
func (e *SyncEngine) record(run *models.SyncRun) {
	if e.opts.Runs == nil {
		return
	}
	if err := e.opts.Runs.Record(run); err != nil {
		e.logger.Warn("failed to record run", "kind", run.Kind(), "error", err)
	}
}

func (e *SyncEngine) finish(run *models.SyncRun, state models.RunState, counts models.RunCounts, message string) {
	run.Finish(state, counts, message)
	e.record(run)
}

func (e *SyncEngine) runLogger(run *models.SyncRun) *log.Logger {
	id := run.ID()
	if id == "" {
		id = shared.GenerateID()
	}
	return shared.WithLogger(e.logger, "run", id, "kind", run.Kind())
}

// sendProgress sends a progress update through the channel without blocking.
func (e *SyncEngine) sendProgress(progress chan<- ProgressUpdate, update ProgressUpdate) {
	if progress == nil {
		return
	}
	select {
	case progress <- update:
	default:
	}
}
