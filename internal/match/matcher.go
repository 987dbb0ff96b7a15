// Package match decides whether a local book is present in a remote Kindle library.
//
// Matching is best-effort: titles and authors are compared on a compact
// alphanumeric form and on word tokens, with thresholds held in [Thresholds].
package match

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/kindlesync/internal/models"
	"github.com/desertthunder/kindlesync/internal/shared"
)

// Thresholds are the tunable knobs of the matcher.
type Thresholds struct {
	MinTitleLen             int  // remote compact titles shorter than this are skipped
	MinTokenLen             int  // shortest word counted as a token
	TitleTokenOverlap       int  // shared title tokens that make a match
	ShortQueryTokens        int  // queries with at most this many tokens are "short"
	ShortQueryOverlap       int  // shared tokens that make a match for short queries
	AuthorTokenOverlap      int  // shared author tokens that make a match
	BlankAuthorMinTitleLen  int  // compact query title length needed when the remote author is blank
	WordBoundaryContainment bool // containment must land on word edges
	FoldDiacritics          bool // strip accents before normalizing
}

// DefaultThresholds returns the tuned defaults.
func DefaultThresholds() Thresholds {
	return Thresholds{
		MinTitleLen:             2,
		MinTokenLen:             3,
		TitleTokenOverlap:       2,
		ShortQueryTokens:        2,
		ShortQueryOverlap:       1,
		AuthorTokenOverlap:      2,
		BlankAuthorMinTitleLen:  5,
		WordBoundaryContainment: true,
	}
}

// ThresholdsFromConfig maps the [matching] config section onto [Thresholds].
func ThresholdsFromConfig(c shared.MatchingConfig) Thresholds {
	th := DefaultThresholds()
	if c.MinTitleLen > 0 {
		th.MinTitleLen = c.MinTitleLen
	}
	if c.TitleTokenOverlap > 0 {
		th.TitleTokenOverlap = c.TitleTokenOverlap
	}
	if c.ShortQueryTokens > 0 {
		th.ShortQueryTokens = c.ShortQueryTokens
	}
	if c.ShortQueryOverlap > 0 {
		th.ShortQueryOverlap = c.ShortQueryOverlap
	}
	if c.AuthorTokenOverlap > 0 {
		th.AuthorTokenOverlap = c.AuthorTokenOverlap
	}
	if c.BlankAuthorMinTitleLen > 0 {
		th.BlankAuthorMinTitleLen = c.BlankAuthorMinTitleLen
	}
	th.WordBoundaryContainment = c.WordBoundaryContainment
	th.FoldDiacritics = c.FoldDiacritics
	return th
}

// Query is the local side of a match: a book title and its first author.
type Query struct {
	Title  string
	Author string
}

// QueryFor builds a query from a local book.
func QueryFor(b models.LocalBook) Query {
	return Query{Title: b.Title, Author: b.FirstAuthor()}
}

// Verdict is the outcome of matching one book.
type Verdict struct {
	Status   models.SyncStatus  `json:"status"`
	ASIN     string             `json:"asin,omitempty"`
	Message  string             `json:"message,omitempty"`
	Category models.ContentType `json:"category,omitempty"`
	Matched  string             `json:"matched_title,omitempty"`
	Checked  int                `json:"checked"`
	Err      error              `json:"-"`
}

// Update converts the verdict to the record written to the status store.
func (v Verdict) Update() models.StatusUpdate {
	u := models.StatusUpdate{Status: v.Status, ASIN: v.ASIN}
	if v.Status != models.StatusConfirmed {
		u.ErrorMessage = v.Message
	}
	return u
}

// Matcher compares local books against a [models.Library].
type Matcher struct {
	th     Thresholds
	norm   Normalizer
	logger *log.Logger
}

// NewMatcher creates a Matcher. A nil logger discards diagnostics.
func NewMatcher(th Thresholds, logger *log.Logger) *Matcher {
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &Matcher{
		th:     th,
		norm:   Normalizer{MinTokenLen: th.MinTokenLen, FoldDiacritics: th.FoldDiacritics},
		logger: logger,
	}
}

// Match searches ebooks first, then personal documents, returning on the first hit.
func (m *Matcher) Match(q Query, lib models.Library) Verdict {
	if strings.TrimSpace(q.Title) == "" {
		return Verdict{
			Status:  models.StatusError,
			Message: "book has no title to match",
			Err:     fmt.Errorf("%w: empty title", shared.ErrInvalidInput),
		}
	}

	title := m.norm.Normalize(strings.TrimSpace(q.Title))
	author := m.norm.Normalize(strings.TrimSpace(q.Author))
	m.logger.Info("searching", "title", strings.ToLower(strings.TrimSpace(q.Title)), "author", strings.ToLower(strings.TrimSpace(q.Author)))

	checked := 0
	for _, category := range []models.ContentType{models.ContentEbook, models.ContentPDoc} {
		items := lib.Items(category)
		m.logger.Info("checking items", "count", len(items), "category", category.Label())

		for _, item := range items {
			checked++
			m.logger.Debug("checking remote title", "category", category.Label(), "title", item.Title)
			if m.matches(title, author, item) {
				m.logger.Info("match found", "category", category.Label(), "title", item.Title, "asin", item.ASIN)
				return Verdict{
					Status:   models.StatusConfirmed,
					ASIN:     item.ASIN,
					Category: category,
					Matched:  item.Title,
					Checked:  checked,
				}
			}
		}
	}

	m.logger.Info("no match found", "checked", checked)
	return Verdict{
		Status:  models.StatusNotFound,
		Message: fmt.Sprintf("Book '%s' not found in %d items on Amazon.", q.Title, lib.Total()),
		Checked: checked,
	}
}

func (m *Matcher) matches(title, author Text, item models.RemoteItem) bool {
	remoteTitle := m.norm.Normalize(item.Title)
	if len(remoteTitle.Compact) < m.th.MinTitleLen {
		return false
	}
	if !m.titleMatches(title, remoteTitle) {
		return false
	}
	return m.authorMatches(title, author, item.Authors)
}

func (m *Matcher) titleMatches(query, remote Text) bool {
	if query.Compact != "" &&
		(remote.Contains(query, m.th.WordBoundaryContainment) || query.Contains(remote, m.th.WordBoundaryContainment)) {
		return true
	}
	if len(query.Tokens) == 0 {
		return false
	}

	overlap := query.Overlap(remote)
	if overlap >= m.th.TitleTokenOverlap {
		return true
	}
	return len(query.Tokens) <= m.th.ShortQueryTokens && overlap >= m.th.ShortQueryOverlap
}

// authorMatches is lenient: personal documents often carry a sender address
// or no author at all.
func (m *Matcher) authorMatches(title, author Text, remoteAuthors string) bool {
	if author.Compact == "" {
		return true
	}

	remote := m.norm.Normalize(remoteAuthors)
	if remote.Compact == "" || remote.Compact == "unknown" {
		return len(title.Compact) >= m.th.BlankAuthorMinTitleLen
	}

	if remote.Contains(author, false) || author.Contains(remote, false) {
		return true
	}
	if author.Overlap(remote) >= m.th.AuthorTokenOverlap {
		return true
	}
	return strings.Contains(remoteAuthors, "@")
}
