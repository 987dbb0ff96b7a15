package repositories

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/desertthunder/kindlesync/internal/models"
	"github.com/desertthunder/kindlesync/internal/shared"
)

// SyncStatusRepository persists the reconciliation status of each book.
//
// Rows are keyed by (user_id, book_id) and written with upserts, so repeated
// runs overwrite rather than accumulate.
type SyncStatusRepository struct {
	db *sql.DB
}

// NewSyncStatusRepository creates a new SyncStatusRepository with the given database connection
func NewSyncStatusRepository(db *sql.DB) *SyncStatusRepository {
	return &SyncStatusRepository{db: db}
}

// Get returns the stored status of a book, or nil when the book has never been synced.
func (r *SyncStatusRepository) Get(userID, bookID int64) (*models.SyncStatusRecord, error) {
	query := `
		SELECT user_id, book_id, status, asin, error_message, retry_count, last_attempt_at, updated_at
		FROM kindle_sync_status
		WHERE user_id = ? AND book_id = ?
	`

	record, err := scanStatus(r.db.QueryRow(query, userID, bookID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get sync status: %w", err)
	}
	return record, nil
}

// Update writes the next status of a book.
//
// The ASIN and error message are replaced (empty clears them) and the error
// message is truncated to [models.MaxErrorMessageLen]. The retry counter is
// zeroed when u.ResetRetry is set and incremented for any other non-confirmed status.
func (r *SyncStatusRepository) Update(userID, bookID int64, u models.StatusUpdate) error {
	if _, err := models.ParseSyncStatus(string(u.Status)); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	query := `
		INSERT INTO kindle_sync_status (
			user_id, book_id, status, asin, error_message, retry_count,
			last_attempt_at, created_at, updated_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, book_id) DO UPDATE SET
			status = excluded.status,
			asin = excluded.asin,
			error_message = excluded.error_message,
			retry_count = CASE
				WHEN ? THEN 0
				WHEN excluded.status = 'confirmed' THEN kindle_sync_status.retry_count
				ELSE kindle_sync_status.retry_count + 1
			END,
			last_attempt_at = excluded.last_attempt_at,
			updated_at = excluded.updated_at
	`

	initialRetry := 1
	if u.ResetRetry || u.Status == models.StatusConfirmed {
		initialRetry = 0
	}

	now := time.Now().UTC()
	_, err := r.db.Exec(query,
		userID,
		bookID,
		u.Status,
		nullString(u.ASIN),
		nullString(shared.Truncate(u.ErrorMessage, models.MaxErrorMessageLen)),
		initialRetry,
		now,
		now,
		now,
		u.ResetRetry,
	)
	if err != nil {
		return fmt.Errorf("failed to update sync status: %w", err)
	}
	return nil
}

// ConfirmedBookIDs returns the set of books already confirmed on Kindle for a user.
func (r *SyncStatusRepository) ConfirmedBookIDs(userID int64) (map[int64]struct{}, error) {
	rows, err := r.db.Query(
		"SELECT book_id FROM kindle_sync_status WHERE user_id = ? AND status = ?",
		userID, models.StatusConfirmed,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query confirmed books: %w", err)
	}
	defer rows.Close()

	ids := make(map[int64]struct{})
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan book id: %w", err)
		}
		ids[id] = struct{}{}
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return ids, nil
}

// List returns a user's status records ordered by book, optionally filtered by status.
func (r *SyncStatusRepository) List(userID int64, status models.SyncStatus) ([]models.SyncStatusRecord, error) {
	query := `
		SELECT user_id, book_id, status, asin, error_message, retry_count, last_attempt_at, updated_at
		FROM kindle_sync_status
		WHERE user_id = ?
	`
	args := []any{userID}

	if status != "" {
		query += " AND status = ?"
		args = append(args, status)
	}
	query += " ORDER BY book_id"

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query sync status: %w", err)
	}
	defer rows.Close()

	var records []models.SyncStatusRecord
	for rows.Next() {
		record, err := scanStatus(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan sync status: %w", err)
		}
		records = append(records, *record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return records, nil
}

// Counts tallies a user's records per status.
func (r *SyncStatusRepository) Counts(userID int64) (map[models.SyncStatus]int, error) {
	rows, err := r.db.Query(
		"SELECT status, COUNT(*) FROM kindle_sync_status WHERE user_id = ? GROUP BY status",
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to count sync status: %w", err)
	}
	defer rows.Close()

	counts := make(map[models.SyncStatus]int)
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan count: %w", err)
		}
		counts[models.SyncStatus(status)] = n
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return counts, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanStatus(row rowScanner) (*models.SyncStatusRecord, error) {
	var (
		record        models.SyncStatusRecord
		status        string
		asin          sql.NullString
		errorMessage  sql.NullString
		lastAttemptAt sql.NullTime
	)

	err := row.Scan(
		&record.UserID, &record.BookID, &status, &asin, &errorMessage,
		&record.RetryCount, &lastAttemptAt, &record.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	record.Status = models.SyncStatus(status)
	record.ASIN = asin.String
	record.ErrorMessage = errorMessage.String
	if lastAttemptAt.Valid {
		t := lastAttemptAt.Time
		record.LastAttemptAt = &t
	}
	return &record, nil
}
