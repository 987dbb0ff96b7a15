package services

import (
	"context"
	"fmt"

	"github.com/desertthunder/kindlesync/internal/session"
	"github.com/desertthunder/kindlesync/internal/shared"
)

// Heartbeat loads the library page once so Amazon keeps the session warm.
//
// On success it returns the credential with the Set-Cookie values of every
// hop, redirects included, merged in.
// It never retries; the caller's schedule does.
func (a *AmazonService) Heartbeat(ctx context.Context, cred session.Credential) (*session.Credential, error) {
	if cred.Empty() {
		return nil, shared.ErrMissingCredential
	}

	page, err := a.getLibraryPage(ctx, cred)
	if err != nil {
		a.logger.Warn("heartbeat failed", "error", err)
		return nil, err
	}

	if page.status < 200 || page.status >= 300 {
		a.logger.Warn("heartbeat failed", "status", page.status)
		return nil, fmt.Errorf("%w: HTTP %d", shared.ErrTransport, page.status)
	}

	refreshed, changed := cred.Refresh(session.FreshCookies(a.now(), page.cookies...))
	a.logger.Info("heartbeat ok", "cookies_changed", changed)
	return &refreshed, nil
}
