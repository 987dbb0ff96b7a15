package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/desertthunder/kindlesync/internal/session"
	"github.com/desertthunder/kindlesync/internal/shared"
	"github.com/desertthunder/kindlesync/internal/tasks"
	"github.com/desertthunder/kindlesync/internal/ui"
	"github.com/urfave/cli/v3"
)

const libraryPagePath = "/hz/mycd/myx"

var openBrowser = shared.OpenBrowser

// SessionLogin opens the Manage Your Content page so the user can sign in and copy a request as cURL.
func (r *Runner) SessionLogin(ctx context.Context, cmd *cli.Command) error {
	url := strings.TrimRight(r.config.Amazon.BaseURL, "/") + libraryPagePath

	if !cmd.Bool("no-browser") {
		if err := openBrowser(url); err != nil {
			r.logger.Warn("could not open browser", "error", err)
		}
	}

	r.writePlain("Sign in at: %s\n", url)
	r.writePlainln("Then in DevTools > Network, right-click any request to %s and choose Copy > Copy as cURL.", url)
	r.writePlain("Save it to a file and run 'kindlesync session import --curl-file <file> --enable'\n")
	return nil
}

// SessionImport stores session cookies and the CSRF token from one of the supported sources.
func (r *Runner) SessionImport(ctx context.Context, cmd *cli.Command) error {
	cred, source, err := r.credentialFromFlags(cmd)
	if err != nil {
		return err
	}
	if cred.Empty() {
		return fmt.Errorf("%w: no cookies found in %s", shared.ErrInvalidInput, source)
	}

	s, err := r.openStores(false)
	if err != nil {
		return err
	}
	defer s.Close()

	values := map[string]string{tasks.KeySessionCookies: cred.Cookies}
	if cred.CSRFToken != "" {
		values[tasks.KeyCSRFToken] = cred.CSRFToken
	}
	if cmd.Bool("enable") {
		values[tasks.KeySyncEnabled] = "true"
	}
	if err := s.settings.SetMany(values); err != nil {
		return fmt.Errorf("failed to store session: %w", err)
	}

	names := cred.Names()
	r.logger.Info("session imported", "source", source, "cookies", len(names), "token", cred.CSRFToken != "")
	r.writePlain("✓ Stored %d cookies from %s\n", len(names), source)
	if cred.CSRFToken == "" {
		r.writePlain("No CSRF token captured; it will be discovered from the library page.\n")
	}
	if cmd.Bool("enable") {
		r.writePlain("Per-book sync enabled.\n")
	}
	return nil
}

// credentialFromFlags resolves exactly one cookie source.
func (r *Runner) credentialFromFlags(cmd *cli.Command) (session.Credential, string, error) {
	curlCmd := cmd.String("curl")
	curlFile := cmd.String("curl-file")
	cookies := cmd.String("cookies")
	fromEnv := cmd.Bool("env")

	set := 0
	for _, given := range []bool{curlCmd != "", curlFile != "", cookies != "", fromEnv} {
		if given {
			set++
		}
	}
	if set == 0 {
		return session.Credential{}, "", fmt.Errorf("%w: one of --curl, --curl-file, --cookies or --env must be provided", shared.ErrMissingArgument)
	}
	if set > 1 {
		return session.Credential{}, "", fmt.Errorf("%w: only one of --curl, --curl-file, --cookies or --env may be provided", shared.ErrInvalidArgument)
	}

	var cred session.Credential
	var source string
	switch {
	case curlCmd != "" || curlFile != "":
		var (
			headers *shared.CurlHeaders
			err     error
		)
		if curlFile != "" {
			source = curlFile
			headers, err = shared.ParseCurlFile(curlFile)
		} else {
			source = "cURL command"
			headers, err = shared.ParseCurlCommand(curlCmd)
		}
		if err != nil {
			return session.Credential{}, "", fmt.Errorf("failed to parse cURL command: %w", err)
		}
		cred = session.Credential{Cookies: headers.Cookie, CSRFToken: headers.CSRFToken()}
	case cookies != "":
		source = "--cookies"
		cred = session.Credential{Cookies: cookies}
	default:
		source = "AMAZON_SESSION_COOKIES"
		v, ok := os.LookupEnv("AMAZON_SESSION_COOKIES")
		if !ok || strings.TrimSpace(v) == "" {
			return session.Credential{}, "", fmt.Errorf("%w: AMAZON_SESSION_COOKIES is not set", shared.ErrMissingArgument)
		}
		cred = session.Credential{Cookies: v}
	}

	if token := strings.TrimSpace(cmd.String("csrf-token")); token != "" {
		cred.CSRFToken = token
	}
	cred.Cookies = session.ParseHeader(cred.Cookies).String()
	return cred, source, nil
}

// SessionShow prints the stored session without cookie values.
func (r *Runner) SessionShow(ctx context.Context, cmd *cli.Command) error {
	s, err := r.openStores(false)
	if err != nil {
		return err
	}
	defer s.Close()

	engine := r.engine(s)
	cred, err := engine.Credential()
	if err != nil {
		return err
	}
	enabled, err := engine.SyncEnabled()
	if err != nil {
		return err
	}
	health, err := engine.Health()
	if err != nil {
		return err
	}

	if cmd.Bool("json") {
		return r.writeJSON(map[string]any{
			"cookies":      cred.Names(),
			"csrf_token":   cred.CSRFToken != "",
			"sync_enabled": enabled,
			"heartbeat":    health,
		}, true)
	}
	return r.writePlain("%s", ui.Session(cred, enabled, health, r.now()))
}

// SessionEnable switches per-book sync on.
func (r *Runner) SessionEnable(ctx context.Context, cmd *cli.Command) error {
	return r.setSyncEnabled(true)
}

// SessionDisable switches per-book sync off.
func (r *Runner) SessionDisable(ctx context.Context, cmd *cli.Command) error {
	return r.setSyncEnabled(false)
}

func (r *Runner) setSyncEnabled(enabled bool) error {
	s, err := r.openStores(false)
	if err != nil {
		return err
	}
	defer s.Close()

	value := "false"
	if enabled {
		value = "true"
	}
	if err := s.settings.Set(tasks.KeySyncEnabled, value); err != nil {
		return fmt.Errorf("failed to update sync flag: %w", err)
	}
	if enabled {
		return r.writePlain("✓ Per-book sync enabled\n")
	}
	return r.writePlain("✓ Per-book sync disabled\n")
}

// SessionClear removes the stored session and its heartbeat health.
func (r *Runner) SessionClear(ctx context.Context, cmd *cli.Command) error {
	s, err := r.openStores(false)
	if err != nil {
		return err
	}
	defer s.Close()

	var errs []error
	for _, key := range []string{
		tasks.KeySessionCookies, tasks.KeyCSRFToken,
		tasks.KeyHeartbeatFailCount, tasks.KeyHeartbeatLastError, tasks.KeyHeartbeatLastSuccess,
	} {
		if err := s.settings.Delete(key); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("failed to clear session: %w", err)
	}
	return r.writePlain("✓ Session cleared\n")
}

// SessionHeartbeat refreshes the session once, or keeps refreshing on an interval.
func (r *Runner) SessionHeartbeat(ctx context.Context, cmd *cli.Command) error {
	s, err := r.openStores(false)
	if err != nil {
		return err
	}
	defer s.Close()

	engine := r.engine(s)

	if cmd.Bool("watch") {
		interval := cmd.Duration("interval")
		if interval <= 0 {
			interval = r.config.Heartbeat.Interval()
		}
		r.writePlain("Refreshing the Amazon session every %s (Ctrl+C to stop)\n", interval)
		scheduler := tasks.NewHeartbeatScheduler(engine, interval, shared.WithLogger(r.logger, "component", "heartbeat"))
		return scheduler.Run(ctx)
	}

	result, err := engine.Heartbeat(ctx)
	if err != nil {
		if result != nil {
			r.writePlain("%s", ui.Health(result.Health, r.now()))
		}
		return err
	}
	if result.Skipped {
		return r.writePlain("No session cookies stored; nothing to refresh.\n")
	}

	r.writePlain("✓ Amazon session refreshed\n")
	if result.CookiesChanged {
		r.writePlain("Session cookies updated.\n")
	}
	return nil
}
