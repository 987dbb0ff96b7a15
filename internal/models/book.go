package models

import "strings"

// BookFormat is one stored file of a local book.
type BookFormat struct {
	Format string `json:"format"`
	Path   string `json:"path"`
	Size   int64  `json:"size"`
}

// LocalBook is a read-only view of a book in the local library.
type LocalBook struct {
	ID      int64        `json:"id"`
	Title   string       `json:"title"`
	Authors []string     `json:"authors"`
	Path    string       `json:"path,omitempty"`
	Formats []BookFormat `json:"formats,omitempty"`
}

// FirstAuthor returns the primary author used for matching, or "".
func (b LocalBook) FirstAuthor() string {
	for _, a := range b.Authors {
		if a = strings.TrimSpace(a); a != "" {
			return a
		}
	}
	return ""
}

// Format returns the stored file for format (case-insensitive).
func (b LocalBook) Format(format string) (BookFormat, bool) {
	for _, f := range b.Formats {
		if strings.EqualFold(f.Format, format) {
			return f, true
		}
	}
	return BookFormat{}, false
}
