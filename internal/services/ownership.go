package services

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/desertthunder/kindlesync/internal/models"
	"github.com/desertthunder/kindlesync/internal/session"
	"github.com/desertthunder/kindlesync/internal/shared"
)

// ownershipQuery is the OwnershipData request; field order matches the page's own XHR.
type ownershipQuery struct {
	SortOrder     string             `json:"sortOrder"`
	SortIndex     string             `json:"sortIndex"`
	StartIndex    int                `json:"startIndex"`
	BatchSize     int                `json:"batchSize"`
	ContentType   models.ContentType `json:"contentType"`
	ItemStatuses  []string           `json:"itemStatuses"`
	OriginType    []string           `json:"originType,omitempty"`
	IsExtendedMYK *bool              `json:"isExtendedMYK,omitempty"`
}

type ownershipParam struct {
	Param struct {
		OwnershipData ownershipQuery `json:"OwnershipData"`
	} `json:"param"`
}

type ownershipResponse struct {
	OwnershipData struct {
		Items         []models.RemoteItem `json:"items"`
		NumberOfItems json.RawMessage     `json:"numberOfItems"`
	} `json:"OwnershipData"`
}

// ownershipPayload builds the JSON sent in the "data" form field.
func ownershipPayload(ct models.ContentType, start, batch int) ([]byte, error) {
	var p ownershipParam
	p.Param.OwnershipData = ownershipQuery{
		SortOrder:    "DESCENDING",
		SortIndex:    "DATE",
		StartIndex:   start,
		BatchSize:    batch,
		ContentType:  ct,
		ItemStatuses: []string{"ARCHIVED", "AVAILABLE"},
	}
	switch ct {
	case models.ContentEbook:
		p.Param.OwnershipData.OriginType = []string{"Purchase"}
	case models.ContentPDoc:
		extended := false
		p.Param.OwnershipData.IsExtendedMYK = &extended
	}
	return json.Marshal(p)
}

// ownershipForm encodes the POST body: data first, then csrfToken when known.
func ownershipForm(payload []byte, token string) string {
	body := "data=" + url.QueryEscape(string(payload))
	if token != "" {
		body += "&csrfToken=" + url.QueryEscape(token)
	}
	return body
}

// ownershipBatch is one decoded page of the content list.
type ownershipBatch struct {
	items   []models.RemoteItem
	total   int
	known   bool
	cookies []*http.Cookie
}

// queryOwnership sends one OwnershipData request.
func (a *AmazonService) queryOwnership(ctx context.Context, cred session.Credential, token string, ct models.ContentType, start int) (*ownershipBatch, error) {
	fail := func(kind error, status int, reason string, cause error) *FetchError {
		return &FetchError{Kind: kind, Category: ct, Offset: start, StatusCode: status, Reason: reason, Cause: cause}
	}

	payload, err := ownershipPayload(ct, start, a.opts.BatchSize)
	if err != nil {
		return nil, fail(shared.ErrProtocol, 0, "failed to encode payload", err)
	}

	ctx, cancel := context.WithTimeout(ctx, a.opts.AjaxTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.opts.BaseURL+ajaxPath, strings.NewReader(ownershipForm(payload, token)))
	if err != nil {
		return nil, fail(shared.ErrTransport, 0, "failed to create request", err)
	}
	a.setPageHeaders(req, cred)
	a.setAjaxHeaders(req, token)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fail(shared.ErrTransport, 0, err.Error(), a.transportError(ctx, err))
	}
	defer resp.Body.Close()

	batch := &ownershipBatch{cookies: resp.Cookies()}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return batch, fail(shared.ErrTransport, resp.StatusCode, "failed to read response", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		a.logger.Error("ownership request failed", "category", ct.Label(), "offset", start, "status", resp.StatusCode)
		return batch, fail(shared.ErrTransport, resp.StatusCode, fmt.Sprintf("HTTP %d", resp.StatusCode), nil)
	}

	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(body, &envelope); err != nil {
		return batch, fail(shared.ErrProtocol, resp.StatusCode, "response is not JSON", err)
	}
	for _, key := range []string{"error", "Error"} {
		if msg, ok := envelope[key]; ok {
			a.logger.Error("ownership request returned an error", "category", ct.Label(), "offset", start, "error", string(msg))
			return batch, fail(shared.ErrProtocol, resp.StatusCode, "server reported error: "+shared.Truncate(string(msg), 200), nil)
		}
	}

	var decoded ownershipResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return batch, fail(shared.ErrProtocol, resp.StatusCode, "unexpected OwnershipData shape", err)
	}

	batch.items = decoded.OwnershipData.Items
	if n, err := strconv.Atoi(strings.TrimSpace(string(decoded.OwnershipData.NumberOfItems))); err == nil {
		batch.total, batch.known = n, true
	}
	return batch, nil
}

// fetchCategory pages through one content category.
//
// It stops at the reported total, on an empty batch, or at the offset ceiling,
// and returns what it has so far when a batch fails.
func (a *AmazonService) fetchCategory(ctx context.Context, cred session.Credential, token string, ct models.ContentType) ([]models.RemoteItem, [][]*http.Cookie, int, error) {
	items := make([]models.RemoteItem, 0)
	var (
		cookies  [][]*http.Cookie
		batches  int
		received int
	)
	seen := make(map[string]struct{})

	for start := 0; start < a.opts.MaxOffset; start += a.opts.BatchSize {
		if err := a.wait(ctx, a.opts.RequestDelay); err != nil {
			return items, cookies, batches, &FetchError{Kind: shared.ErrCancelled, Category: ct, Offset: start, Reason: "interrupted", Cause: err}
		}

		batch, err := a.queryOwnership(ctx, cred, token, ct, start)
		if batch != nil {
			cookies = append(cookies, batch.cookies)
		}
		if err != nil {
			return items, cookies, batches, err
		}

		if len(batch.items) == 0 {
			break
		}
		batches++
		received += len(batch.items)

		for _, item := range batch.items {
			key := item.Key()
			if key == "" {
				continue
			}
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			item.Category = ct
			items = append(items, item)
		}

		a.logger.Info("fetched batch", "category", ct.Label(), "offset", start, "count", len(batch.items), "total", batch.total)

		if batch.known && received >= batch.total {
			break
		}
	}

	return items, cookies, batches, nil
}

// FetchLibrary discovers the CSRF token, then enumerates ebooks followed by personal documents.
func (a *AmazonService) FetchLibrary(ctx context.Context, cred session.Credential) (*FetchResult, error) {
	result := &FetchResult{Library: models.Library{Ebooks: []models.RemoteItem{}, PDocs: []models.RemoteItem{}}}
	if cred.Empty() {
		return result, shared.ErrMissingCredential
	}
	a.logger.Info("using cookie header", "length", len(cred.Cookies))

	var jars [][]*http.Cookie
	discovered, pageCookies, err := a.discoverToken(ctx, cred)
	jars = append(jars, pageCookies...)
	if err != nil {
		a.logger.Warn("token discovery failed, continuing", "error", err)
	}

	token := discovered
	if token == "" {
		token = cred.CSRFToken
	}

	for _, ct := range []models.ContentType{models.ContentEbook, models.ContentPDoc} {
		items, cookies, batches, err := a.fetchCategory(ctx, cred, token, ct)
		jars = append(jars, cookies...)
		result.Batches += batches
		if ct == models.ContentEbook {
			result.Library.Ebooks = items
		} else {
			result.Library.PDocs = items
		}
		if err != nil {
			return result, err
		}
	}

	a.logger.Info("library fetched", "ebooks", len(result.Library.Ebooks), "pdocs", len(result.Library.PDocs))

	refreshed, cookiesChanged := cred.Refresh(session.FreshCookies(a.now(), jars...))
	refreshed, tokenChanged := refreshed.WithToken(discovered)
	if cookiesChanged || tokenChanged {
		result.Refreshed = &refreshed
	}
	return result, nil
}
