package match

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var wordRegex = regexp.MustCompile(`[a-z0-9]+`)

// Text is a normalized title or author.
//
// Compact keeps only [a-z0-9] after lower-casing and replacing '&' with "and".
// Tokens holds the words longer than two characters, or Compact alone when no
// word qualifies.
type Text struct {
	Raw     string
	Compact string
	Tokens  map[string]struct{}
	bounds  map[int]struct{}
}

// Normalizer turns free text into comparable [Text] values.
type Normalizer struct {
	MinTokenLen    int
	FoldDiacritics bool
}

// Normalize builds the compact and token forms of s.
func (n Normalizer) Normalize(s string) Text {
	t := Text{Raw: s, Tokens: make(map[string]struct{}), bounds: make(map[int]struct{})}
	if n.FoldDiacritics {
		s = foldDiacritics(s)
	}
	s = strings.ReplaceAll(strings.ToLower(s), "&", "and")

	minLen := n.MinTokenLen
	if minLen <= 0 {
		minLen = 3
	}

	var b strings.Builder
	for _, w := range wordRegex.FindAllString(s, -1) {
		t.bounds[b.Len()] = struct{}{}
		b.WriteString(w)
		t.bounds[b.Len()] = struct{}{}
		if len(w) >= minLen {
			t.Tokens[w] = struct{}{}
		}
	}
	t.Compact = b.String()

	if len(t.Tokens) == 0 && t.Compact != "" {
		t.Tokens[t.Compact] = struct{}{}
	}
	return t
}

// Overlap counts the tokens t shares with other.
func (t Text) Overlap(other Text) int {
	n := 0
	for w := range t.Tokens {
		if _, ok := other.Tokens[w]; ok {
			n++
		}
	}
	return n
}

// Contains reports whether inner's compact form occurs in t's.
//
// With wordBoundary set the occurrence must start and end on a word edge of t,
// so "dune" is found in "Dune (Deluxe Edition)" but not in "Duneside".
func (t Text) Contains(inner Text, wordBoundary bool) bool {
	if inner.Compact == "" {
		return false
	}
	if !wordBoundary {
		return strings.Contains(t.Compact, inner.Compact)
	}

	for from := 0; from <= len(t.Compact)-len(inner.Compact); {
		idx := strings.Index(t.Compact[from:], inner.Compact)
		if idx < 0 {
			return false
		}
		start := from + idx
		end := start + len(inner.Compact)
		_, startsOnEdge := t.bounds[start]
		_, endsOnEdge := t.bounds[end]
		if startsOnEdge && endsOnEdge {
			return true
		}
		from = start + 1
	}
	return false
}

func foldDiacritics(s string) string {
	chain := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(chain, s)
	if err != nil {
		return s
	}
	return out
}
