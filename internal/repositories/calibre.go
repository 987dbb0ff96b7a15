package repositories

import (
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/desertthunder/kindlesync/internal/models"
	"github.com/desertthunder/kindlesync/internal/shared"
)

// CalibreCatalog reads books from a Calibre library's metadata.db.
//
// The database is opened read-only; Calibre stays the owner of the catalog.
type CalibreCatalog struct {
	db   *sql.DB
	root string
}

// OpenCalibreCatalog opens metadata.db at path in read-only mode.
//
// Format file paths are resolved relative to the directory containing it.
func OpenCalibreCatalog(path string) (*CalibreCatalog, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", path, err)
	}

	db, err := shared.OpenReadOnly(abs)
	if err != nil {
		return nil, fmt.Errorf("failed to open calibre library: %w", err)
	}

	return NewCalibreCatalog(db, filepath.Dir(abs)), nil
}

// NewCalibreCatalog wraps an open metadata.db connection whose library lives under root.
func NewCalibreCatalog(db *sql.DB, root string) *CalibreCatalog {
	return &CalibreCatalog{db: db, root: root}
}

// Close closes the underlying connection.
func (c *CalibreCatalog) Close() error {
	return c.db.Close()
}

// Book returns a single book, or [shared.ErrBookNotFound].
func (c *CalibreCatalog) Book(id int64) (models.LocalBook, error) {
	books, err := c.load("WHERE b.id = ?", id)
	if err != nil {
		return models.LocalBook{}, err
	}
	if len(books) == 0 {
		return models.LocalBook{}, fmt.Errorf("%w: %d", shared.ErrBookNotFound, id)
	}
	return books[0], nil
}

// Books returns every book ordered by id.
func (c *CalibreCatalog) Books() ([]models.LocalBook, error) {
	return c.load("")
}

func (c *CalibreCatalog) load(where string, args ...any) ([]models.LocalBook, error) {
	rows, err := c.db.Query("SELECT b.id, b.title, b.path FROM books b "+where+" ORDER BY b.id", args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query books: %w", err)
	}
	defer rows.Close()

	var books []models.LocalBook
	index := make(map[int64]int)
	for rows.Next() {
		var (
			b    models.LocalBook
			path sql.NullString
		)
		if err := rows.Scan(&b.ID, &b.Title, &path); err != nil {
			return nil, fmt.Errorf("failed to scan book: %w", err)
		}
		b.Path = path.String
		index[b.ID] = len(books)
		books = append(books, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	if len(books) == 0 {
		return books, nil
	}

	if err := c.loadAuthors(books, index, where, args...); err != nil {
		return nil, err
	}
	if err := c.loadFormats(books, index, where, args...); err != nil {
		return nil, err
	}
	return books, nil
}

func (c *CalibreCatalog) loadAuthors(books []models.LocalBook, index map[int64]int, where string, args ...any) error {
	query := `
		SELECT b.id, a.name
		FROM books b
		JOIN books_authors_link l ON l.book = b.id
		JOIN authors a ON a.id = l.author
	` + where + " ORDER BY b.id, l.id"

	rows, err := c.db.Query(query, args...)
	if err != nil {
		return fmt.Errorf("failed to query authors: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id   int64
			name string
		)
		if err := rows.Scan(&id, &name); err != nil {
			return fmt.Errorf("failed to scan author: %w", err)
		}
		if i, ok := index[id]; ok {
			books[i].Authors = append(books[i].Authors, name)
		}
	}
	return rows.Err()
}

func (c *CalibreCatalog) loadFormats(books []models.LocalBook, index map[int64]int, where string, args ...any) error {
	query := `
		SELECT b.id, d.format, d.name, d.uncompressed_size
		FROM books b
		JOIN data d ON d.book = b.id
	` + where + " ORDER BY b.id, d.id"

	rows, err := c.db.Query(query, args...)
	if err != nil {
		return fmt.Errorf("failed to query formats: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id     int64
			format string
			name   string
			size   sql.NullInt64
		)
		if err := rows.Scan(&id, &format, &name, &size); err != nil {
			return fmt.Errorf("failed to scan format: %w", err)
		}
		i, ok := index[id]
		if !ok {
			continue
		}
		format = strings.ToUpper(format)
		file := name + "." + strings.ToLower(format)
		books[i].Formats = append(books[i].Formats, models.BookFormat{
			Format: format,
			Path:   filepath.Join(c.root, filepath.FromSlash(books[i].Path), file),
			Size:   size.Int64,
		})
	}
	return rows.Err()
}
