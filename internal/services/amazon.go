package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/kindlesync/internal/session"
	"github.com/desertthunder/kindlesync/internal/shared"
)

const (
	defaultAmazonBaseURL = "https://www.amazon.com"
	defaultUserAgent     = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/145.0.0.0 Safari/537.36"

	libraryPagePath = "/hz/mycd/myx"
	ajaxPath        = "/hz/mycd/ajax"

	maxPageBytes = 8 << 20
)

var csrfTokenRegex = regexp.MustCompile(`var csrfToken = "([^"]+)"`)

// AmazonOptions configures an [AmazonService].
type AmazonOptions struct {
	BaseURL      string
	UserAgent    string
	RequestDelay time.Duration
	BatchSize    int
	MaxOffset    int
	PageTimeout  time.Duration
	AjaxTimeout  time.Duration
	HTTPClient   *http.Client
	Logger       *log.Logger
}

// AmazonOptionsFromConfig maps the [amazon] config section onto [AmazonOptions].
func AmazonOptionsFromConfig(c shared.AmazonConfig) AmazonOptions {
	return AmazonOptions{
		BaseURL:      c.BaseURL,
		UserAgent:    c.UserAgent,
		RequestDelay: c.RequestDelay(),
		BatchSize:    c.BatchSize,
		MaxOffset:    c.MaxOffset,
		PageTimeout:  c.PageTimeout(),
		AjaxTimeout:  c.AjaxTimeout(),
	}
}

// AmazonService implements [LibraryService] against the Manage Your Content pages
// using a harvested browser session.
type AmazonService struct {
	opts       AmazonOptions
	httpClient *http.Client
	logger     *log.Logger
	wait       func(ctx context.Context, d time.Duration) error
	now        func() time.Time
}

// NewAmazonService creates a new Amazon service instance.
//
// The request delay never goes below [shared.MinRequestDelay].
func NewAmazonService(opts AmazonOptions) *AmazonService {
	if opts.BaseURL == "" {
		opts.BaseURL = defaultAmazonBaseURL
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	if opts.UserAgent == "" {
		opts.UserAgent = defaultUserAgent
	}
	if opts.RequestDelay < shared.MinRequestDelay {
		opts.RequestDelay = shared.MinRequestDelay
	}
	if opts.BatchSize <= 0 || opts.BatchSize > 100 {
		opts.BatchSize = 100
	}
	if opts.MaxOffset <= 0 {
		opts.MaxOffset = 5000
	}
	if opts.PageTimeout <= 0 {
		opts.PageTimeout = 20 * time.Second
	}
	if opts.AjaxTimeout <= 0 {
		opts.AjaxTimeout = 30 * time.Second
	}

	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard)
	}

	return &AmazonService{
		opts:       opts,
		httpClient: client,
		logger:     logger,
		wait:       sleepContext,
		now:        time.Now,
	}
}

// Name returns the service name.
func (a *AmazonService) Name() string {
	return "Amazon"
}

// setPageHeaders applies the browser headers every request carries.
func (a *AmazonService) setPageHeaders(req *http.Request, cred session.Credential) {
	req.Header.Set("User-Agent", a.opts.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	req.Header.Set("Cookie", cred.Cookies)
}

// setAjaxHeaders turns a page request into the XHR the library page itself would send.
func (a *AmazonService) setAjaxHeaders(req *http.Request, token string) {
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("X-Requested-With", "XMLHttpRequest")
	req.Header.Set("Accept", "application/json, text/javascript, */*; q=0.01")
	req.Header.Set("Origin", a.opts.BaseURL)
	req.Header.Set("Referer", a.opts.BaseURL+libraryPagePath)
	if token != "" {
		req.Header.Set(shared.CSRFHeader, token)
	}
}

// libraryPage is the library page response with the cookies set on every hop.
type libraryPage struct {
	status  int
	body    []byte
	cookies [][]*http.Cookie
}

// maxRedirects matches the default [http.Client] policy.
const maxRedirects = 10

// getLibraryPage performs the authenticated GET of the library page.
//
// Cookies set on a redirect are collected and carried into the next hop's
// Cookie header, the way a browser session would.
func (a *AmazonService) getLibraryPage(ctx context.Context, cred session.Credential) (*libraryPage, error) {
	ctx, cancel := context.WithTimeout(ctx, a.opts.PageTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.opts.BaseURL+libraryPagePath, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	a.setPageHeaders(req, cred)

	page := &libraryPage{}
	client := *a.httpClient
	next := a.httpClient.CheckRedirect
	client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		if req.Response != nil {
			hop := req.Response.Cookies()
			page.cookies = append(page.cookies, hop)
			if fresh := session.FreshCookies(a.now(), hop); len(fresh) > 0 {
				req.Header.Set("Cookie", session.Merge(req.Header.Get("Cookie"), fresh))
			}
		}
		if next != nil {
			return next(req, via)
		}
		if len(via) >= maxRedirects {
			return fmt.Errorf("stopped after %d redirects", maxRedirects)
		}
		return nil
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, a.transportError(ctx, err)
	}
	defer resp.Body.Close()

	page.status = resp.StatusCode
	page.cookies = append(page.cookies, resp.Cookies())

	page.body, err = io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return page, fmt.Errorf("%w: failed to read library page: %v", shared.ErrTransport, err)
	}
	return page, nil
}

// transportError wraps a failed round trip, marking per-call deadlines with [shared.ErrTimeout].
//
// ctx is the per-call context.
func (a *AmazonService) transportError(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w: %v", shared.ErrTransport, shared.ErrTimeout, err)
	}
	return fmt.Errorf("%w: %v", shared.ErrTransport, err)
}

// discoverToken scrapes the anti-CSRF token from the library page.
//
// A page without the marker yields an empty token and no error.
func (a *AmazonService) discoverToken(ctx context.Context, cred session.Credential) (string, [][]*http.Cookie, error) {
	page, err := a.getLibraryPage(ctx, cred)
	if err != nil {
		if page != nil {
			return "", page.cookies, err
		}
		return "", nil, err
	}

	if page.status < 200 || page.status >= 300 {
		return "", page.cookies, &FetchError{
			Kind:       shared.ErrTransport,
			StatusCode: page.status,
			Reason:     fmt.Sprintf("HTTP %d", page.status),
		}
	}

	m := csrfTokenRegex.FindSubmatch(page.body)
	if m == nil {
		a.logger.Warn("csrf token not found on library page")
		a.logger.Debug("library page preview", "body", shared.Truncate(string(page.body), 500))
		return "", page.cookies, nil
	}

	a.logger.Info("csrf token found")
	return string(m[1]), page.cookies, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
