package tasks

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/desertthunder/kindlesync/internal/match"
	"github.com/desertthunder/kindlesync/internal/models"
	"github.com/desertthunder/kindlesync/internal/repositories"
	"github.com/desertthunder/kindlesync/internal/services"
	"github.com/desertthunder/kindlesync/internal/session"
	"github.com/desertthunder/kindlesync/internal/shared"
	tu "github.com/desertthunder/kindlesync/internal/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memSettings struct {
	mu     sync.Mutex
	values map[string]string
	setErr error
}

func newMemSettings(values map[string]string) *memSettings {
	if values == nil {
		values = map[string]string{}
	}
	return &memSettings{values: values}
}

func (s *memSettings) Get(key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.values[key], nil
}

func (s *memSettings) SetMany(values map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.setErr != nil {
		return s.setErr
	}
	for k, v := range values {
		s.values[k] = v
	}
	return nil
}

type memStatus struct {
	records   map[int64]models.SyncStatusRecord
	updates   []models.StatusUpdate
	updateErr error
}

func newMemStatus() *memStatus {
	return &memStatus{records: map[int64]models.SyncStatusRecord{}}
}

func (s *memStatus) Get(userID, bookID int64) (*models.SyncStatusRecord, error) {
	r, ok := s.records[bookID]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

func (s *memStatus) Update(userID, bookID int64, u models.StatusUpdate) error {
	if s.updateErr != nil {
		return s.updateErr
	}
	s.updates = append(s.updates, u)
	r := s.records[bookID]
	r.UserID, r.BookID, r.Status, r.ASIN, r.ErrorMessage = userID, bookID, u.Status, u.ASIN, u.ErrorMessage
	switch {
	case u.ResetRetry:
		r.RetryCount = 0
	case u.Status != models.StatusConfirmed:
		r.RetryCount++
	}
	s.records[bookID] = r
	return nil
}

func (s *memStatus) ConfirmedBookIDs(userID int64) (map[int64]struct{}, error) {
	ids := map[int64]struct{}{}
	for id, r := range s.records {
		if r.Status == models.StatusConfirmed {
			ids[id] = struct{}{}
		}
	}
	return ids, nil
}

type memCatalog struct {
	books []models.LocalBook
}

func (c *memCatalog) Book(id int64) (models.LocalBook, error) {
	for _, b := range c.books {
		if b.ID == id {
			return b, nil
		}
	}
	return models.LocalBook{}, fmt.Errorf("%w: %d", shared.ErrBookNotFound, id)
}

func (c *memCatalog) Books() ([]models.LocalBook, error) {
	return c.books, nil
}

type memRuns struct {
	runs []models.SyncRun
}

func (r *memRuns) Record(run *models.SyncRun) error {
	if run.ID() == "" {
		run.SetID(fmt.Sprintf("run-%d", len(r.runs)+1))
	}
	r.runs = append(r.runs, *run)
	return nil
}

func (r *memRuns) last() *models.SyncRun {
	return &r.runs[len(r.runs)-1]
}

var (
	dune   = models.LocalBook{ID: 1, Title: "Dune", Authors: []string{"Frank Herbert"}}
	omens  = models.LocalBook{ID: 2, Title: "Good Omens", Authors: []string{"Terry Pratchett", "Neil Gaiman"}}
	absent = models.LocalBook{ID: 3, Title: "The Left Hand of Darkness", Authors: []string{"Ursula K. Le Guin"}}

	remoteLibrary = models.Library{
		Ebooks: []models.RemoteItem{
			{ASIN: "B00B7NPRY8", Title: "Dune (Deluxe Edition)", Authors: "Herbert, Frank", Category: models.ContentEbook},
		},
		PDocs: []models.RemoteItem{
			{ContentID: "doc-1", Title: "Good Omens", Authors: "Pratchett Terry", Category: models.ContentPDoc},
		},
	}
)

type fixture struct {
	engine   *SyncEngine
	settings *memSettings
	status   *memStatus
	library  *tu.MockLibraryService
	runs     *memRuns
}

func newFixture(t *testing.T, settings map[string]string, books ...models.LocalBook) *fixture {
	t.Helper()
	f := &fixture{
		settings: newMemSettings(settings),
		status:   newMemStatus(),
		library:  &tu.MockLibraryService{Library: remoteLibrary},
		runs:     &memRuns{},
	}
	f.engine = NewSyncEngine(SyncEngineOpts{
		UserID:   1,
		Settings: f.settings,
		Status:   f.status,
		Catalog:  &memCatalog{books: books},
		Library:  f.library,
		Matcher:  match.NewMatcher(match.DefaultThresholds(), nil),
		Runs:     f.runs,
	})
	return f
}

// pdocFailure is a fetch that stopped on the personal documents after all ebooks arrived.
func pdocFailure() error {
	return &services.FetchError{Kind: shared.ErrTransport, Category: models.ContentPDoc, StatusCode: 500, Reason: "HTTP 500"}
}

func enabledSession() map[string]string {
	return map[string]string{
		KeySessionCookies: "session-id=1; ubid-main=2",
		KeySyncEnabled:    "true",
	}
}

func TestSyncEngine_SyncBook(t *testing.T) {
	ctx := context.Background()

	t.Run("confirms a matching book", func(t *testing.T) {
		f := newFixture(t, enabledSession(), dune)

		res, err := f.engine.SyncBook(ctx, dune.ID)
		require.NoError(t, err)
		assert.Equal(t, models.StatusConfirmed, res.Verdict.Status)
		assert.Equal(t, "B00B7NPRY8", res.Verdict.ASIN)
		assert.Equal(t, models.StatusConfirmed, f.status.records[dune.ID].Status)
		assert.Equal(t, "B00B7NPRY8", f.status.records[dune.ID].ASIN)
	})

	t.Run("records not found with message", func(t *testing.T) {
		f := newFixture(t, enabledSession(), absent)

		res, err := f.engine.SyncBook(ctx, absent.ID)
		require.NoError(t, err)
		assert.Equal(t, models.StatusNotFound, res.Verdict.Status)
		assert.Equal(t, "Book 'The Left Hand of Darkness' not found in 2 items on Amazon.", f.status.records[absent.ID].ErrorMessage)
	})

	t.Run("skipped when disabled", func(t *testing.T) {
		settings := enabledSession()
		settings[KeySyncEnabled] = "false"
		f := newFixture(t, settings, dune)

		res, err := f.engine.SyncBook(ctx, dune.ID)
		require.NoError(t, err)
		assert.True(t, res.Skipped)
		assert.Equal(t, shared.ErrSyncDisabled.Error(), res.Reason)
		assert.Zero(t, f.library.FetchCalls)
		assert.Empty(t, f.status.updates)
	})

	t.Run("skipped when already confirmed", func(t *testing.T) {
		f := newFixture(t, enabledSession(), dune)
		f.status.records[dune.ID] = models.SyncStatusRecord{BookID: dune.ID, Status: models.StatusConfirmed, ASIN: "B1"}

		res, err := f.engine.SyncBook(ctx, dune.ID)
		require.NoError(t, err)
		assert.True(t, res.Skipped)
		assert.Equal(t, "B1", res.Verdict.ASIN)
		assert.Zero(t, f.library.FetchCalls)
	})

	t.Run("unknown book", func(t *testing.T) {
		f := newFixture(t, enabledSession(), dune)

		_, err := f.engine.SyncBook(ctx, 99)
		assert.ErrorIs(t, err, shared.ErrBookNotFound)
		assert.Zero(t, f.library.FetchCalls)
	})

	t.Run("missing cookies", func(t *testing.T) {
		f := newFixture(t, map[string]string{KeySyncEnabled: "1"}, dune)

		_, err := f.engine.SyncBook(ctx, dune.ID)
		assert.ErrorIs(t, err, shared.ErrMissingCredential)
		assert.Zero(t, f.library.FetchCalls)
		assert.Empty(t, f.status.updates)
	})

	t.Run("fetch failure recorded as error", func(t *testing.T) {
		f := newFixture(t, enabledSession(), dune)
		f.library.FetchErr = fmt.Errorf("%w: HTTP 503", shared.ErrTransport)

		res, err := f.engine.SyncBook(ctx, dune.ID)
		assert.ErrorIs(t, err, shared.ErrTransport)
		assert.Equal(t, models.StatusError, res.Verdict.Status)
		rec := f.status.records[dune.ID]
		assert.Equal(t, models.StatusError, rec.Status)
		assert.Contains(t, rec.ErrorMessage, "HTTP 503")
		assert.Equal(t, 1, rec.RetryCount)
	})

	t.Run("cancelled fetch records nothing", func(t *testing.T) {
		f := newFixture(t, enabledSession(), dune)
		f.library.FetchErr = fmt.Errorf("%w: interrupted", shared.ErrTransport)
		cctx, cancel := context.WithCancel(ctx)
		cancel()

		_, err := f.engine.SyncBook(cctx, dune.ID)
		assert.ErrorIs(t, err, shared.ErrCancelled)
		assert.Empty(t, f.status.updates)
	})

	t.Run("partial library still confirms a hit", func(t *testing.T) {
		f := newFixture(t, enabledSession(), dune)
		f.library.FetchErr = pdocFailure()

		res, err := f.engine.SyncBook(ctx, dune.ID)
		require.NoError(t, err)
		assert.Equal(t, models.StatusConfirmed, res.Verdict.Status)
		assert.Equal(t, models.StatusConfirmed, f.status.records[dune.ID].Status)
	})

	t.Run("partial library miss is an error", func(t *testing.T) {
		f := newFixture(t, enabledSession(), absent)
		f.library.FetchErr = pdocFailure()

		res, err := f.engine.SyncBook(ctx, absent.ID)
		assert.ErrorIs(t, err, shared.ErrTransport)
		assert.Equal(t, models.StatusError, res.Verdict.Status)
		rec := f.status.records[absent.ID]
		assert.Equal(t, models.StatusError, rec.Status)
		assert.Contains(t, rec.ErrorMessage, "HTTP 500")
	})

	t.Run("persists refreshed session", func(t *testing.T) {
		f := newFixture(t, enabledSession(), dune)
		f.library.Refreshed = &session.Credential{Cookies: "session-id=9; ubid-main=2", CSRFToken: "tok"}

		_, err := f.engine.SyncBook(ctx, dune.ID)
		require.NoError(t, err)
		assert.Equal(t, "session-id=9; ubid-main=2", f.settings.values[KeySessionCookies])
		assert.Equal(t, "tok", f.settings.values[KeyCSRFToken])
		assert.Equal(t, "session-id=1; ubid-main=2", f.library.LastCredential.Cookies)
	})

	t.Run("blank title is an error verdict", func(t *testing.T) {
		f := newFixture(t, enabledSession(), models.LocalBook{ID: 5, Title: "  "})

		res, err := f.engine.SyncBook(ctx, 5)
		assert.ErrorIs(t, err, shared.ErrInvalidInput)
		assert.Equal(t, models.StatusError, res.Verdict.Status)
		assert.Equal(t, models.StatusError, f.status.records[5].Status)
	})
}

func TestSyncEngine_SyncAll(t *testing.T) {
	ctx := context.Background()

	t.Run("matches every book against one fetch", func(t *testing.T) {
		f := newFixture(t, enabledSession(), dune, omens, absent)
		progress := make(chan ProgressUpdate, 10)

		report, err := f.engine.SyncAll(ctx, progress)
		require.NoError(t, err)
		assert.Equal(t, 1, f.library.FetchCalls)
		assert.Equal(t, 2, report.Fetched)
		assert.Equal(t, models.RunCounts{Total: 3, Confirmed: 2, NotFound: 1}, report.Counts)
		assert.Equal(t, "Sync complete. Matched 2 / 3 local books.", report.Message)

		assert.Equal(t, models.StatusConfirmed, f.status.records[omens.ID].Status)
		assert.Equal(t, models.StatusNotFound, f.status.records[absent.ID].Status)

		close(progress)
		var phases []Phase
		for u := range progress {
			phases = append(phases, u.Phase)
		}
		assert.Equal(t, []Phase{FetchLibrary, MatchBooks, MatchBooks, MatchBooks}, phases)

		require.NotEmpty(t, f.runs.runs)
		last := f.runs.last()
		assert.Equal(t, models.RunCompleted, last.State())
		assert.Equal(t, report.RunID, last.ID())
	})

	t.Run("mass sync ignores the per-book switch", func(t *testing.T) {
		f := newFixture(t, map[string]string{KeySessionCookies: "a=1"}, dune)

		report, err := f.engine.SyncAll(ctx, nil)
		require.NoError(t, err)
		assert.Equal(t, 1, report.Counts.Confirmed)
	})

	t.Run("empty remote library writes nothing", func(t *testing.T) {
		f := newFixture(t, enabledSession(), dune, omens)
		f.library.Library = models.Library{}

		report, err := f.engine.SyncAll(ctx, nil)
		require.NoError(t, err)
		assert.Empty(t, f.status.updates)
		assert.Zero(t, report.Counts.Total)
		assert.Equal(t, models.RunCompleted, f.runs.last().State())
	})

	t.Run("fetch failure fails the run", func(t *testing.T) {
		f := newFixture(t, enabledSession(), dune)
		f.library.FetchErr = fmt.Errorf("%w: not json", shared.ErrProtocol)

		_, err := f.engine.SyncAll(ctx, nil)
		assert.ErrorIs(t, err, shared.ErrProtocol)
		assert.Empty(t, f.status.updates)
		assert.Equal(t, models.RunFailed, f.runs.last().State())
	})

	t.Run("partial library matches what was fetched", func(t *testing.T) {
		f := newFixture(t, enabledSession(), dune, omens, absent)
		f.library.Library = models.Library{Ebooks: remoteLibrary.Ebooks, PDocs: []models.RemoteItem{}}
		f.library.FetchErr = pdocFailure()

		report, err := f.engine.SyncAll(ctx, nil)
		require.NoError(t, err)
		assert.True(t, report.Partial)
		assert.Equal(t, models.RunCounts{Total: 3, Confirmed: 1, Failed: 2}, report.Counts)
		assert.True(t, strings.HasPrefix(report.Message, "Sync incomplete"))

		assert.Equal(t, models.StatusConfirmed, f.status.records[dune.ID].Status)
		assert.Equal(t, models.StatusError, f.status.records[omens.ID].Status)
		assert.Contains(t, f.status.records[absent.ID].ErrorMessage, "HTTP 500")
		assert.Equal(t, models.RunCompleted, f.runs.last().State())
	})

	t.Run("cancellation during the fetch", func(t *testing.T) {
		f := newFixture(t, enabledSession(), dune, omens)
		f.library.FetchErr = &services.FetchError{Kind: shared.ErrCancelled, Category: models.ContentEbook, Reason: "interrupted", Cause: context.Canceled}
		cctx, cancel := context.WithCancel(ctx)
		cancel()

		report, err := f.engine.SyncAll(cctx, nil)
		assert.ErrorIs(t, err, shared.ErrCancelled)
		assert.Empty(t, f.status.updates)
		assert.Zero(t, report.Counts.Total)
		assert.Equal(t, models.RunCancelled, f.runs.last().State())
	})

	t.Run("deadline during a live fetch is a cancellation", func(t *testing.T) {
		mux := http.NewServeMux()
		mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `var csrfToken = "tok";`)
		})
		server := httptest.NewServer(mux)
		defer server.Close()

		f := newFixture(t, enabledSession(), dune)
		runs := &memRuns{}
		engine := NewSyncEngine(SyncEngineOpts{
			Settings: f.settings,
			Status:   f.status,
			Catalog:  &memCatalog{books: []models.LocalBook{dune}},
			Library:  services.NewAmazonService(services.AmazonOptions{BaseURL: server.URL, HTTPClient: server.Client()}),
			Runs:     runs,
		})

		cctx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
		defer cancel()

		_, err := engine.SyncAll(cctx, nil)
		assert.ErrorIs(t, err, shared.ErrCancelled)
		assert.Empty(t, f.status.updates)
		assert.Equal(t, models.RunCancelled, runs.last().State())
	})

	t.Run("cancellation between books", func(t *testing.T) {
		f := newFixture(t, enabledSession(), dune, omens, absent)
		cctx, cancel := context.WithCancel(ctx)
		cancel()

		report, err := f.engine.SyncAll(cctx, nil)
		assert.ErrorIs(t, err, shared.ErrCancelled)
		assert.Empty(t, f.status.updates)
		assert.Equal(t, 3, report.Counts.Total)
		assert.Equal(t, models.RunCancelled, f.runs.last().State())
	})

	t.Run("status write failure does not abort", func(t *testing.T) {
		f := newFixture(t, enabledSession(), dune, omens)
		f.status.updateErr = errors.New("database is locked")

		report, err := f.engine.SyncAll(ctx, nil)
		require.NoError(t, err)
		assert.Equal(t, 2, report.Counts.Failed)
		assert.Len(t, report.Examples, 2)
		assert.Equal(t, "Dune: database is locked", report.Examples[0])
	})

	t.Run("full progress channel never blocks", func(t *testing.T) {
		f := newFixture(t, enabledSession(), dune, omens, absent)
		progress := make(chan ProgressUpdate)

		_, err := f.engine.SyncAll(ctx, progress)
		require.NoError(t, err)
	})
}

func TestSyncEngine_Heartbeat(t *testing.T) {
	ctx := context.Background()
	fixed := time.Date(2026, 3, 1, 12, 30, 0, 0, time.UTC)

	t.Run("skips without cookies", func(t *testing.T) {
		f := newFixture(t, nil)

		res, err := f.engine.Heartbeat(ctx)
		require.NoError(t, err)
		assert.True(t, res.Skipped)
		assert.Zero(t, f.library.HeartbeatCalls)
	})

	t.Run("success resets health and persists cookies", func(t *testing.T) {
		settings := enabledSession()
		settings[KeyHeartbeatFailCount] = "3"
		settings[KeyHeartbeatLastError] = "HTTP 503"
		f := newFixture(t, settings)
		f.engine.now = func() time.Time { return fixed }
		f.library.HeartbeatCred = &session.Credential{Cookies: "session-id=5; ubid-main=2"}

		res, err := f.engine.Heartbeat(ctx)
		require.NoError(t, err)
		assert.True(t, res.CookiesChanged)
		assert.Equal(t, "session-id=5; ubid-main=2", f.settings.values[KeySessionCookies])
		assert.Equal(t, "0", f.settings.values[KeyHeartbeatFailCount])
		assert.Equal(t, "", f.settings.values[KeyHeartbeatLastError])
		assert.Equal(t, "2026-03-01T12:30:00Z", f.settings.values[KeyHeartbeatLastSuccess])

		health, err := f.engine.Health()
		require.NoError(t, err)
		assert.Equal(t, models.HeartbeatHealth{LastSuccess: fixed}, health)
	})

	t.Run("unchanged cookies are not rewritten", func(t *testing.T) {
		f := newFixture(t, enabledSession())

		res, err := f.engine.Heartbeat(ctx)
		require.NoError(t, err)
		assert.False(t, res.CookiesChanged)
	})

	t.Run("failure increments counter", func(t *testing.T) {
		settings := enabledSession()
		settings[KeyHeartbeatLastSuccess] = "2026-02-01T00:00:00Z"
		f := newFixture(t, settings)
		f.library.HeartbeatErr = fmt.Errorf("%w: HTTP 503", shared.ErrTransport)

		for want := 1; want <= 2; want++ {
			res, err := f.engine.Heartbeat(ctx)
			assert.ErrorIs(t, err, shared.ErrTransport)
			assert.Equal(t, want, res.Health.FailCount)
		}

		assert.Equal(t, "2", f.settings.values[KeyHeartbeatFailCount])
		assert.Equal(t, "transport error: HTTP 503", f.settings.values[KeyHeartbeatLastError])
		assert.Equal(t, settings[KeySessionCookies], f.settings.values[KeySessionCookies])
		assert.Equal(t, "2026-02-01T00:00:00Z", f.settings.values[KeyHeartbeatLastSuccess])
	})
}

type countingHeartbeater struct {
	mu    sync.Mutex
	calls int
	err   error
	done  chan struct{}
	stop  int
}

func (c *countingHeartbeater) Heartbeat(ctx context.Context) (*HeartbeatResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.calls == c.stop {
		close(c.done)
	}
	return &HeartbeatResult{}, c.err
}

func TestHeartbeatScheduler(t *testing.T) {
	t.Run("beats immediately and on every tick", func(t *testing.T) {
		hb := &countingHeartbeater{done: make(chan struct{}), stop: 3, err: errors.New("HTTP 503")}
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		errc := make(chan error, 1)
		go func() { errc <- NewHeartbeatScheduler(hb, time.Millisecond, nil).Run(ctx) }()

		select {
		case <-hb.done:
		case <-time.After(5 * time.Second):
			t.Fatal("scheduler did not tick")
		}
		cancel()
		assert.NoError(t, <-errc)
	})

	t.Run("defaults interval", func(t *testing.T) {
		s := NewHeartbeatScheduler(&countingHeartbeater{}, 0, nil)
		assert.Equal(t, 6*time.Hour, s.interval)
	})
}

type fakeDeliverer struct {
	failFor map[int64]error
	sent    []int64
	address string
}

func (d *fakeDeliverer) Deliverable(book models.LocalBook) (models.BookFormat, string, bool) {
	f, ok := book.Format("EPUB")
	if !ok {
		return models.BookFormat{}, services.NoCompatibleFormat, false
	}
	return f, "", true
}

func (d *fakeDeliverer) Deliver(ctx context.Context, book models.LocalBook, format models.BookFormat, address string) error {
	if err := d.failFor[book.ID]; err != nil {
		return err
	}
	d.address = address
	d.sent = append(d.sent, book.ID)
	return nil
}

func withEPUB(b models.LocalBook) models.LocalBook {
	b.Formats = []models.BookFormat{{Format: "EPUB", Path: fmt.Sprintf("/lib/%d.epub", b.ID), Size: 10}}
	return b
}

func TestSyncEngine_SendUnsynced(t *testing.T) {
	ctx := context.Background()

	newSendFixture := func(t *testing.T, d *fakeDeliverer, books ...models.LocalBook) *fixture {
		f := newFixture(t, enabledSession(), books...)
		f.engine.opts.Deliverer = d
		return f
	}

	t.Run("sends, skips and fails", func(t *testing.T) {
		d := &fakeDeliverer{failFor: map[int64]error{4: errors.New("calibre-smtp failed: auth")}}
		confirmed := withEPUB(dune)
		failing := withEPUB(models.LocalBook{ID: 4, Title: "Hyperion"})
		f := newSendFixture(t, d, confirmed, withEPUB(omens), absent, failing)
		f.status.records[confirmed.ID] = models.SyncStatusRecord{Status: models.StatusConfirmed}
		f.status.records[absent.ID] = models.SyncStatusRecord{Status: models.StatusNotFound, RetryCount: 3}
		f.status.records[omens.ID] = models.SyncStatusRecord{Status: models.StatusError, RetryCount: 2}

		report, err := f.engine.SendUnsynced(ctx, "reader@kindle.com", nil)
		require.NoError(t, err)

		assert.Equal(t, []int64{omens.ID}, d.sent)
		assert.Equal(t, "reader@kindle.com", d.address)
		assert.Equal(t, models.RunCounts{Total: 3, Sent: 1, Skipped: 1, Failed: 1}, report.Counts)
		assert.Equal(t,
			"Queued 1 books missing from Kindle for send (skipped: 1, failed: 1). Skipped examples: The Left Hand of Darkness: "+services.NoCompatibleFormat,
			report.Message)

		assert.Equal(t, models.StatusPending, f.status.records[omens.ID].Status)
		assert.Zero(t, f.status.records[omens.ID].RetryCount)

		skipped := f.status.records[absent.ID]
		assert.Equal(t, models.StatusError, skipped.Status)
		assert.Equal(t, services.NoCompatibleFormat, skipped.ErrorMessage)

		assert.Equal(t, models.StatusError, f.status.records[failing.ID].Status)
		assert.Equal(t, "calibre-smtp failed: auth", f.status.records[failing.ID].ErrorMessage)
		assert.Equal(t, models.StatusConfirmed, f.status.records[confirmed.ID].Status)

		last := f.runs.last()
		assert.Equal(t, models.RunSendUnsynced, last.Kind())
		assert.Equal(t, models.RunCompleted, last.State())
	})

	t.Run("caps examples at five", func(t *testing.T) {
		var books []models.LocalBook
		for i := int64(1); i <= 7; i++ {
			books = append(books, models.LocalBook{ID: i, Title: fmt.Sprintf("Book %d", i)})
		}
		f := newSendFixture(t, &fakeDeliverer{}, books...)

		report, err := f.engine.SendUnsynced(ctx, "reader@kindle.com", nil)
		require.NoError(t, err)
		assert.Equal(t, 7, report.Counts.Skipped)
		assert.Len(t, report.Examples, 5)
		assert.Equal(t, 4, strings.Count(report.Message, " | "))
	})

	t.Run("nothing to send", func(t *testing.T) {
		f := newSendFixture(t, &fakeDeliverer{}, dune)
		f.status.records[dune.ID] = models.SyncStatusRecord{Status: models.StatusConfirmed}

		report, err := f.engine.SendUnsynced(ctx, "reader@kindle.com", nil)
		require.NoError(t, err)
		assert.Equal(t, "No books missing from Kindle were found to send.", report.Message)
	})

	t.Run("requires address", func(t *testing.T) {
		f := newSendFixture(t, &fakeDeliverer{}, dune)
		_, err := f.engine.SendUnsynced(ctx, " ", nil)
		assert.ErrorIs(t, err, shared.ErrMissingArgument)
	})

	t.Run("requires deliverer", func(t *testing.T) {
		f := newFixture(t, enabledSession(), dune)
		_, err := f.engine.SendUnsynced(ctx, "reader@kindle.com", nil)
		assert.ErrorIs(t, err, shared.ErrInvalidConfig)
	})

	t.Run("cancellation", func(t *testing.T) {
		d := &fakeDeliverer{}
		f := newSendFixture(t, d, withEPUB(dune), withEPUB(omens))
		cctx, cancel := context.WithCancel(ctx)
		cancel()

		report, err := f.engine.SendUnsynced(cctx, "reader@kindle.com", nil)
		assert.ErrorIs(t, err, shared.ErrCancelled)
		assert.Empty(t, d.sent)
		assert.Equal(t, models.RunCancelled, f.runs.last().State())
		assert.Equal(t, 2, report.Counts.Total)
	})

	t.Run("throttled by send rate", func(t *testing.T) {
		d := &fakeDeliverer{}
		f := newSendFixture(t, d, withEPUB(dune), withEPUB(omens), withEPUB(absent))
		f.engine.opts.SendRate = 20

		start := time.Now()
		_, err := f.engine.SendUnsynced(ctx, "reader@kindle.com", nil)
		require.NoError(t, err)
		assert.Len(t, d.sent, 3)
		assert.GreaterOrEqual(t, time.Since(start), 90*time.Millisecond)
	})
}

// TestSyncEngineWithRepositories runs the engine against the SQLite stores.
func TestSyncEngineWithRepositories(t *testing.T) {
	db, err := shared.NewDatabase(":memory:")
	require.NoError(t, err)
	defer db.Close()
	shared.ConfigureDatabase(db, 1, 1)
	require.NoError(t, shared.RunMigrations(db))

	settings := repositories.NewSettingsRepository(db)
	require.NoError(t, settings.SetMany(enabledSession()))
	status := repositories.NewSyncStatusRepository(db)
	runs := repositories.NewSyncRunRepository(db)

	engine := NewSyncEngine(SyncEngineOpts{
		UserID:   1,
		Settings: settings,
		Status:   status,
		Catalog:  &memCatalog{books: []models.LocalBook{dune, omens, absent}},
		Library:  &tu.MockLibraryService{Library: remoteLibrary},
		Runs:     runs,
	})

	report, err := engine.SyncAll(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Counts.Confirmed)

	confirmed, err := status.ConfirmedBookIDs(1)
	require.NoError(t, err)
	assert.Len(t, confirmed, 2)

	run, err := runs.Get(report.RunID)
	require.NoError(t, err)
	assert.Equal(t, models.RunCompleted, run.State())
	assert.Equal(t, report.Counts, run.Counts())
	assert.Equal(t, report.Message, run.Message())
}

func TestSyncEngine_FetchLibrary(t *testing.T) {
	f := newFixture(t, enabledSession())
	f.library.Refreshed = &session.Credential{Cookies: "session-id=1; ubid-main=7"}

	lib, err := f.engine.FetchLibrary(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, lib.Total())
	assert.Equal(t, "session-id=1; ubid-main=7", f.settings.values[KeySessionCookies])

	t.Run("a failed session write does not fail the fetch", func(t *testing.T) {
		f := newFixture(t, enabledSession())
		f.library.Refreshed = &session.Credential{Cookies: "x=1"}
		f.settings.setErr = errors.New("read-only")

		_, err := f.engine.FetchLibrary(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "session-id=1; ubid-main=2", f.settings.values[KeySessionCookies])
	})
}
