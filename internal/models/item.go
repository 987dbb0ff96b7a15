package models

import (
	"bytes"
	"encoding/json"
	"strings"
)

// ContentType is the ownership category an item was enumerated under.
type ContentType string

const (
	ContentEbook ContentType = "Ebook"
	ContentPDoc  ContentType = "KindlePDoc"
)

// Label is the short name used in logs and reports.
func (c ContentType) Label() string {
	switch c {
	case ContentEbook:
		return "EBOOK"
	case ContentPDoc:
		return "PDOC"
	default:
		return string(c)
	}
}

// RemoteItem is one entry of the user's Amazon content list.
type RemoteItem struct {
	ASIN      string      `json:"asin,omitempty" yaml:"asin,omitempty"`
	ContentID string      `json:"contentId,omitempty" yaml:"content_id,omitempty"`
	Title     string      `json:"title" yaml:"title"`
	Authors   string      `json:"authors" yaml:"authors"`
	Category  ContentType `json:"category,omitempty" yaml:"category,omitempty"`
}

// UnmarshalJSON accepts every field spelling the ownership endpoint has been seen to use.
//
// Title falls back title → Title → sortableTitle and authors falls back
// authors → author → Authors → sortableAuthors; list values are joined with spaces.
func (r *RemoteItem) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	r.ASIN = strings.TrimSpace(firstText(raw, "asin", "ASIN"))
	r.ContentID = strings.TrimSpace(firstText(raw, "contentId", "ContentId"))
	r.Title = firstText(raw, "title", "Title", "sortableTitle")
	r.Authors = firstText(raw, "authors", "author", "Authors", "sortableAuthors")
	r.Category = ContentType(firstText(raw, "category"))
	return nil
}

// Key is the identity used to de-duplicate items within a fetch.
//
// Priority is asin, then contentId, then lower-cased title and author. Items
// with none of these have no key.
func (r RemoteItem) Key() string {
	if r.ASIN != "" {
		return "asin:" + r.ASIN
	}
	if r.ContentID != "" {
		return "cid:" + r.ContentID
	}
	title := strings.ToLower(strings.TrimSpace(r.Title))
	author := strings.ToLower(strings.TrimSpace(r.Authors))
	if title == "" && author == "" {
		return ""
	}
	return "ta:" + title + "|" + author
}

// firstText returns the first non-empty textual value among keys.
func firstText(raw map[string]json.RawMessage, keys ...string) string {
	for _, k := range keys {
		v, ok := raw[k]
		if !ok {
			continue
		}
		if s := coerceText(v); s != "" {
			return s
		}
	}
	return ""
}

// coerceText renders a JSON scalar or list as text.
func coerceText(v json.RawMessage) string {
	v = bytes.TrimSpace(v)
	if len(v) == 0 || bytes.Equal(v, []byte("null")) {
		return ""
	}

	switch v[0] {
	case '"':
		var s string
		if err := json.Unmarshal(v, &s); err != nil {
			return ""
		}
		return s
	case '[':
		var list []json.RawMessage
		if err := json.Unmarshal(v, &list); err != nil {
			return ""
		}
		parts := make([]string, 0, len(list))
		for _, elem := range list {
			if s := coerceText(elem); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, " ")
	case '{':
		return ""
	case 'f':
		return ""
	default:
		return string(v)
	}
}

// Library is the remote content split by category. Ebooks are always searched first.
type Library struct {
	Ebooks []RemoteItem `json:"ebooks" yaml:"ebooks"`
	PDocs  []RemoteItem `json:"pdocs" yaml:"pdocs"`
}

// Total returns the number of items across both categories.
func (l Library) Total() int {
	return len(l.Ebooks) + len(l.PDocs)
}

// Items returns the list for a category.
func (l Library) Items(c ContentType) []RemoteItem {
	switch c {
	case ContentEbook:
		return l.Ebooks
	case ContentPDoc:
		return l.PDocs
	default:
		return nil
	}
}
