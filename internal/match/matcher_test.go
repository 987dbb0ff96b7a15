package match

import (
	"errors"
	"testing"

	"github.com/desertthunder/kindlesync/internal/models"
	"github.com/desertthunder/kindlesync/internal/shared"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ebook(asin, title, authors string) models.RemoteItem {
	return models.RemoteItem{ASIN: asin, Title: title, Authors: authors, Category: models.ContentEbook}
}

func pdoc(cid, title, authors string) models.RemoteItem {
	return models.RemoteItem{ContentID: cid, Title: title, Authors: authors, Category: models.ContentPDoc}
}

func TestMatcherScenarios(t *testing.T) {
	m := NewMatcher(DefaultThresholds(), nil)

	t.Run("exact ebook match", func(t *testing.T) {
		lib := models.Library{Ebooks: []models.RemoteItem{ebook("B08G9PRS1K", "Project Hail Mary", "Andy Weir")}}

		v := m.Match(Query{Title: "Project Hail Mary", Author: "Andy Weir"}, lib)

		assert.Equal(t, models.StatusConfirmed, v.Status)
		assert.Equal(t, "B08G9PRS1K", v.ASIN)
		assert.Empty(t, v.Message)
		assert.NoError(t, v.Err)
	})

	t.Run("empty library is not_found", func(t *testing.T) {
		v := m.Match(Query{Title: "Project Hail Mary", Author: "Andy Weir"}, models.Library{})

		assert.Equal(t, models.StatusNotFound, v.Status)
		assert.Empty(t, v.ASIN)
		assert.Equal(t, "Book 'Project Hail Mary' not found in 0 items on Amazon.", v.Message)
		assert.NoError(t, v.Err)
	})

	t.Run("not_found message counts both categories", func(t *testing.T) {
		lib := models.Library{
			Ebooks: []models.RemoteItem{ebook("B1", "The Martian", "Andy Weir")},
			PDocs:  []models.RemoteItem{pdoc("c1", "Quarterly Report", "me@example.com")},
		}
		v := m.Match(Query{Title: "Artemis", Author: "Andy Weir"}, lib)

		assert.Equal(t, models.StatusNotFound, v.Status)
		assert.Equal(t, "Book 'Artemis' not found in 2 items on Amazon.", v.Message)
		assert.Equal(t, 2, v.Checked)
	})

	t.Run("blank title is invalid input", func(t *testing.T) {
		v := m.Match(Query{Title: "   ", Author: "Andy Weir"}, models.Library{})

		assert.Equal(t, models.StatusError, v.Status)
		assert.True(t, errors.Is(v.Err, shared.ErrInvalidInput))
	})
}

func TestMatcherOrdering(t *testing.T) {
	m := NewMatcher(DefaultThresholds(), nil)
	lib := models.Library{
		Ebooks: []models.RemoteItem{ebook("B-EBOOK", "Dune", "Frank Herbert")},
		PDocs:  []models.RemoteItem{{ASIN: "B-PDOC", Title: "Dune", Authors: "Frank Herbert", Category: models.ContentPDoc}},
	}

	// Order within the library value must not matter: ebooks always win.
	for i := 0; i < 3; i++ {
		v := m.Match(Query{Title: "Dune", Author: "Frank Herbert"}, lib)
		require.Equal(t, models.StatusConfirmed, v.Status)
		assert.Equal(t, "B-EBOOK", v.ASIN)
		assert.Equal(t, models.ContentEbook, v.Category)
		assert.Equal(t, 1, v.Checked)
	}

	t.Run("falls through to personal documents", func(t *testing.T) {
		lib := models.Library{
			Ebooks: []models.RemoteItem{ebook("B1", "Neuromancer", "William Gibson")},
			PDocs:  []models.RemoteItem{pdoc("c-7", "Dune", "Frank Herbert")},
		}
		v := m.Match(Query{Title: "Dune", Author: "Frank Herbert"}, lib)

		assert.Equal(t, models.StatusConfirmed, v.Status)
		assert.Equal(t, models.ContentPDoc, v.Category)
		assert.Equal(t, 2, v.Checked)
	})
}

func TestMatcherTitleRules(t *testing.T) {
	tc := []struct {
		name   string
		query  Query
		remote models.RemoteItem
		want   models.SyncStatus
	}{
		{
			name:   "containment with edition suffix",
			query:  Query{Title: "Dune"},
			remote: ebook("B1", "Dune (Deluxe Edition)", "Frank Herbert"),
			want:   models.StatusConfirmed,
		},
		{
			name:   "containment inside a longer word is rejected",
			query:  Query{Title: "Dune"},
			remote: ebook("B2", "Duneside Chronicles", "Someone Else"),
			want:   models.StatusNotFound,
		},
		{
			name:   "remote contained in local title",
			query:  Query{Title: "The Hobbit, or There and Back Again"},
			remote: ebook("B3", "The Hobbit", "J.R.R. Tolkien"),
			want:   models.StatusConfirmed,
		},
		{
			name:   "punctuation and ampersand ignored",
			query:  Query{Title: "Pride & Prejudice"},
			remote: ebook("B4", "Pride and Prejudice", "Jane Austen"),
			want:   models.StatusConfirmed,
		},
		{
			name:   "hyphenated words compact together",
			query:  Query{Title: "Spiderman"},
			remote: ebook("B5", "Spider-Man: Homecoming", "Marvel"),
			want:   models.StatusConfirmed,
		},
		{
			name:   "two token overlap without containment",
			query:  Query{Title: "Foundation and Empire Collectors Set"},
			remote: ebook("B6", "Isaac Asimov Foundation Empire Trilogy", "Isaac Asimov"),
			want:   models.StatusConfirmed,
		},
		{
			name:   "single token overlap for short query",
			query:  Query{Title: "Leviathan Wakes"},
			remote: ebook("B7", "Wakes of the Sea", "Other"),
			want:   models.StatusConfirmed,
		},
		{
			name:   "single token overlap for long query is not enough",
			query:  Query{Title: "The Name of the Wind Tenth Anniversary"},
			remote: ebook("B8", "Wind Power Basics", "Other"),
			want:   models.StatusNotFound,
		},
		{
			name:   "one character remote title skipped",
			query:  Query{Title: "X"},
			remote: ebook("B9", "X", "Someone"),
			want:   models.StatusNotFound,
		},
	}

	m := NewMatcher(DefaultThresholds(), nil)
	for _, tt := range tc {
		t.Run(tt.name, func(t *testing.T) {
			lib := models.Library{Ebooks: []models.RemoteItem{tt.remote}}
			v := m.Match(tt.query, lib)
			assert.Equal(t, tt.want, v.Status)
		})
	}
}

func TestMatcherRawContainment(t *testing.T) {
	th := DefaultThresholds()
	th.WordBoundaryContainment = false
	m := NewMatcher(th, nil)

	lib := models.Library{Ebooks: []models.RemoteItem{ebook("B2", "Duneside Chronicles", "")}}
	v := m.Match(Query{Title: "Dune"}, lib)

	assert.Equal(t, models.StatusConfirmed, v.Status, "raw substring containment should accept inner words")
}

func TestMatcherAuthorRules(t *testing.T) {
	tc := []struct {
		name   string
		query  Query
		remote models.RemoteItem
		want   models.SyncStatus
	}{
		{
			name:   "empty local author accepts any remote author",
			query:  Query{Title: "Project Hail Mary"},
			remote: ebook("B1", "Project Hail Mary", "Completely Different Person"),
			want:   models.StatusConfirmed,
		},
		{
			name:   "sender address never disproves a title match",
			query:  Query{Title: "Meeting Notes", Author: "Jane Doe"},
			remote: pdoc("c1", "Meeting Notes", "kindle-forward-2024@inbox.amazon.com"),
			want:   models.StatusConfirmed,
		},
		{
			name:   "author containment",
			query:  Query{Title: "Project Hail Mary", Author: "Weir"},
			remote: ebook("B1", "Project Hail Mary", "Andy Weir"),
			want:   models.StatusConfirmed,
		},
		{
			name:   "author token overlap with reordered names",
			query:  Query{Title: "Good Omens", Author: "Terry Pratchett Neil Gaiman"},
			remote: ebook("B2", "Good Omens", "Neil Gaiman Terry Pratchett"),
			want:   models.StatusConfirmed,
		},
		{
			name:   "different author rejects",
			query:  Query{Title: "Project Hail Mary", Author: "Andy Weir"},
			remote: ebook("B1", "Project Hail Mary", "Someone Else"),
			want:   models.StatusNotFound,
		},
		{
			name:   "blank remote author with long title",
			query:  Query{Title: "Quarterly Report", Author: "Jane Doe"},
			remote: pdoc("c2", "Quarterly Report", ""),
			want:   models.StatusConfirmed,
		},
		{
			name:   "unknown remote author with long title",
			query:  Query{Title: "Quarterly Report", Author: "Jane Doe"},
			remote: pdoc("c3", "Quarterly Report", "Unknown"),
			want:   models.StatusConfirmed,
		},
		{
			name:   "blank remote author with short title",
			query:  Query{Title: "Kant", Author: "Jane Doe"},
			remote: pdoc("c4", "Kant", ""),
			want:   models.StatusNotFound,
		},
	}

	m := NewMatcher(DefaultThresholds(), nil)
	for _, tt := range tc {
		t.Run(tt.name, func(t *testing.T) {
			lib := models.Library{}
			if tt.remote.Category == models.ContentPDoc {
				lib.PDocs = []models.RemoteItem{tt.remote}
			} else {
				lib.Ebooks = []models.RemoteItem{tt.remote}
			}
			v := m.Match(tt.query, lib)
			assert.Equal(t, tt.want, v.Status)
		})
	}
}

func TestVerdictUpdate(t *testing.T) {
	confirmed := Verdict{Status: models.StatusConfirmed, ASIN: "B1", Message: "ignored"}.Update()
	assert.Equal(t, models.StatusUpdate{Status: models.StatusConfirmed, ASIN: "B1"}, confirmed)

	missing := Verdict{Status: models.StatusNotFound, Message: "Book 'X' not found in 3 items on Amazon."}.Update()
	assert.Equal(t, models.StatusNotFound, missing.Status)
	assert.Equal(t, "Book 'X' not found in 3 items on Amazon.", missing.ErrorMessage)
	assert.False(t, missing.ResetRetry)
}

func TestThresholdsFromConfig(t *testing.T) {
	th := ThresholdsFromConfig(shared.MatchingConfig{TitleTokenOverlap: 3, FoldDiacritics: true})

	assert.Equal(t, 3, th.TitleTokenOverlap)
	assert.Equal(t, 2, th.MinTitleLen)
	assert.Equal(t, 5, th.BlankAuthorMinTitleLen)
	assert.True(t, th.FoldDiacritics)
	assert.False(t, th.WordBoundaryContainment)
}
