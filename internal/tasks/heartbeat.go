package tasks

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/kindlesync/internal/models"
	"github.com/desertthunder/kindlesync/internal/shared"
)

// HeartbeatResult is the outcome of one keep-alive.
type HeartbeatResult struct {
	Skipped        bool                   `json:"skipped,omitempty"`
	CookiesChanged bool                   `json:"cookies_changed"`
	Health         models.HeartbeatHealth `json:"health"`
}

// Heartbeat refreshes the stored session once and records its health.
//
// Without stored cookies there is nothing to keep alive and the call succeeds
// as skipped. Failures bump the fail counter and keep the last error; success
// resets the counter and stamps the success time.
func (e *SyncEngine) Heartbeat(ctx context.Context) (*HeartbeatResult, error) {
	result := &HeartbeatResult{}

	cred, err := e.Credential()
	if err != nil {
		return nil, err
	}
	if cred.Empty() {
		e.logger.Info("no cookies found in settings, skipping heartbeat")
		result.Skipped = true
		return result, nil
	}

	health, err := e.Health()
	if err != nil {
		return nil, err
	}

	refreshed, hbErr := e.opts.Library.Heartbeat(ctx, cred)
	if hbErr != nil {
		health.FailCount++
		health.LastError = shared.Truncate(hbErr.Error(), models.MaxErrorMessageLen)
		result.Health = health
		e.logger.Error("heartbeat failed", "error", hbErr, "fail_count", health.FailCount)

		if err := e.opts.Settings.SetMany(map[string]string{
			KeyHeartbeatFailCount: strconv.Itoa(health.FailCount),
			KeyHeartbeatLastError: health.LastError,
		}); err != nil {
			e.logger.Warn("failed to record heartbeat failure", "error", err)
		}
		return result, fmt.Errorf("heartbeat failed: %w", hbErr)
	}

	health = models.HeartbeatHealth{LastSuccess: e.now().UTC().Truncate(time.Second)}
	result.Health = health

	values := map[string]string{
		KeyHeartbeatFailCount:   "0",
		KeyHeartbeatLastError:   "",
		KeyHeartbeatLastSuccess: health.LastSuccess.Format(time.RFC3339),
	}
	if refreshed != nil && refreshed.Cookies != cred.Cookies {
		result.CookiesChanged = true
		values[KeySessionCookies] = refreshed.Cookies
		e.logger.Info("session cookies updated, persisting")
	}
	if err := e.opts.Settings.SetMany(values); err != nil {
		return result, fmt.Errorf("failed to record heartbeat: %w", err)
	}

	e.logger.Info("Amazon session refreshed successfully")
	return result, nil
}

// Health reads the stored heartbeat bookkeeping.
func (e *SyncEngine) Health() (models.HeartbeatHealth, error) {
	var health models.HeartbeatHealth

	count, err := e.opts.Settings.Get(KeyHeartbeatFailCount)
	if err != nil {
		return health, fmt.Errorf("failed to read heartbeat health: %w", err)
	}
	if n, err := strconv.Atoi(count); err == nil {
		health.FailCount = n
	}

	if health.LastError, err = e.opts.Settings.Get(KeyHeartbeatLastError); err != nil {
		return health, fmt.Errorf("failed to read heartbeat health: %w", err)
	}

	stamp, err := e.opts.Settings.Get(KeyHeartbeatLastSuccess)
	if err != nil {
		return health, fmt.Errorf("failed to read heartbeat health: %w", err)
	}
	if t, err := time.Parse(time.RFC3339, stamp); err == nil {
		health.LastSuccess = t.UTC()
	}
	return health, nil
}

// Heartbeater runs one keep-alive.
type Heartbeater interface {
	Heartbeat(ctx context.Context) (*HeartbeatResult, error)
}

// HeartbeatScheduler calls a [Heartbeater] on a fixed interval.
type HeartbeatScheduler struct {
	hb       Heartbeater
	interval time.Duration
	logger   *log.Logger
}

// NewHeartbeatScheduler creates a scheduler. A non-positive interval falls back to six hours.
func NewHeartbeatScheduler(hb Heartbeater, interval time.Duration, logger *log.Logger) *HeartbeatScheduler {
	if interval <= 0 {
		interval = 6 * time.Hour
	}
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &HeartbeatScheduler{hb: hb, interval: interval, logger: logger}
}

// Run beats once immediately, then on every tick until ctx is done.
//
// A failed beat is logged and retried on the next tick. Run returns nil on cancellation.
func (s *HeartbeatScheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.beat(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.beat(ctx)
		}
	}
}

func (s *HeartbeatScheduler) beat(ctx context.Context) {
	res, err := s.hb.Heartbeat(ctx)
	switch {
	case err != nil:
		s.logger.Warn("scheduled heartbeat failed", "error", err, "next", s.interval)
	case res != nil && res.Skipped:
		s.logger.Info("scheduled heartbeat skipped", "next", s.interval)
	default:
		s.logger.Info("scheduled heartbeat ok", "next", s.interval)
	}
}
