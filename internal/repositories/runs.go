package repositories

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/desertthunder/kindlesync/internal/models"
	"github.com/desertthunder/kindlesync/internal/shared"
)

var _ models.Repository[*models.SyncRun] = (*SyncRunRepository)(nil)

// SyncRunRepository implements [models.Repository] for bulk job history.
//
// Handles run CRUD operations with soft delete support and kind/state queries.
type SyncRunRepository struct {
	db *sql.DB
}

// NewSyncRunRepository creates a new SyncRunRepository with the given database connection
func NewSyncRunRepository(db *sql.DB) *SyncRunRepository {
	return &SyncRunRepository{db: db}
}

const selectSyncRun = `
	SELECT
		id, sequence, kind, user_id, state, total, confirmed, not_found,
		skipped, failed, sent, message, started_at, finished_at, created_at,
		updated_at, deleted_at
	FROM sync_runs
`

// Create inserts a new run into the database with generated ID and sequence
func (r *SyncRunRepository) Create(run *models.SyncRun) error {
	if err := run.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	sequence, err := NextSequence(r.db, "sync_runs")
	if err != nil {
		return fmt.Errorf("failed to generate sequence: %w", err)
	}

	id := shared.GenerateID()

	query := `
		INSERT INTO sync_runs (
			id, sequence, kind, user_id, state, total, confirmed, not_found,
			skipped, failed, sent, message, started_at, finished_at, created_at, updated_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	counts := run.Counts()
	_, err = r.db.Exec(query,
		id,
		sequence,
		run.Kind(),
		run.UserID(),
		run.State(),
		counts.Total,
		counts.Confirmed,
		counts.NotFound,
		counts.Skipped,
		counts.Failed,
		counts.Sent,
		run.Message(),
		run.StartedAt(),
		run.FinishedAt(),
		run.CreatedAt(),
		run.UpdatedAt(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert sync run: %w", err)
	}

	run.SetID(id)
	run.SetSequence(sequence)
	return nil
}

// Get retrieves a run by ID, excluding soft-deleted runs
func (r *SyncRunRepository) Get(id string) (*models.SyncRun, error) {
	run, err := scanSyncRun(r.db.QueryRow(selectSyncRun+" WHERE id = ? AND deleted_at IS NULL", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("sync run not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan sync run: %w", err)
	}
	return run, nil
}

// Update stores the run's state, counts and message.
func (r *SyncRunRepository) Update(run *models.SyncRun) error {
	if err := run.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	now := time.Now().UTC()
	run.SetUpdatedAt(now)

	query := `
		UPDATE sync_runs
		SET state = ?, total = ?, confirmed = ?, not_found = ?, skipped = ?,
			failed = ?, sent = ?, message = ?, finished_at = ?, updated_at = ?
		WHERE id = ? AND deleted_at IS NULL
	`

	counts := run.Counts()
	result, err := r.db.Exec(query,
		run.State(),
		counts.Total,
		counts.Confirmed,
		counts.NotFound,
		counts.Skipped,
		counts.Failed,
		counts.Sent,
		run.Message(),
		run.FinishedAt(),
		now,
		run.ID(),
	)
	if err != nil {
		return fmt.Errorf("failed to update sync run: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("sync run not found or already deleted: %s", run.ID())
	}

	return nil
}

// Delete soft-deletes a run by ID
func (r *SyncRunRepository) Delete(id string) error {
	query := `
		UPDATE sync_runs
		SET deleted_at = ?
		WHERE id = ? AND deleted_at IS NULL
	`

	result, err := r.db.Exec(query, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to delete sync run: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("sync run not found or already deleted: %s", id)
	}

	return nil
}

// List retrieves runs matching the given criteria, newest first, excluding soft-deleted runs.
//
// Supported criteria: "user_id" (int64), "kind" and "state" (string), "limit" (int).
func (r *SyncRunRepository) List(criteria map[string]any) ([]*models.SyncRun, error) {
	query := selectSyncRun + " WHERE deleted_at IS NULL"
	args := []any{}

	if userID, ok := criteria["user_id"].(int64); ok && userID > 0 {
		query += " AND user_id = ?"
		args = append(args, userID)
	}

	if kind, ok := criteria["kind"].(string); ok && kind != "" {
		query += " AND kind = ?"
		args = append(args, kind)
	}

	if state, ok := criteria["state"].(string); ok && state != "" {
		query += " AND state = ?"
		args = append(args, state)
	}

	query += " ORDER BY sequence DESC"

	if limit, ok := criteria["limit"].(int); ok && limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query sync runs: %w", err)
	}
	defer rows.Close()

	var runs []*models.SyncRun
	for rows.Next() {
		run, err := scanSyncRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan sync run: %w", err)
		}
		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	return runs, nil
}

// Record implements the run recorder used by bulk jobs: it creates the run on
// first sight and updates it afterwards.
func (r *SyncRunRepository) Record(run *models.SyncRun) error {
	if run.ID() == "" {
		return r.Create(run)
	}
	return r.Update(run)
}

func scanSyncRun(row rowScanner) (*models.SyncRun, error) {
	var (
		id         string
		sequence   int
		kind       string
		userID     int64
		state      string
		counts     models.RunCounts
		message    string
		startedAt  time.Time
		finishedAt sql.NullTime
		createdAt  time.Time
		updatedAt  time.Time
		deletedAt  sql.NullTime
	)

	err := row.Scan(
		&id, &sequence, &kind, &userID, &state, &counts.Total, &counts.Confirmed,
		&counts.NotFound, &counts.Skipped, &counts.Failed, &counts.Sent, &message, &startedAt,
		&finishedAt, &createdAt, &updatedAt, &deletedAt,
	)
	if err != nil {
		return nil, err
	}

	run := models.NewSyncRun(models.RunKind(kind), userID)
	run.SetID(id)
	run.SetSequence(sequence)
	run.SetState(models.RunState(state))
	run.SetCounts(counts)
	run.SetMessage(message)
	run.SetStartedAt(startedAt)
	run.SetCreatedAt(createdAt)
	run.SetUpdatedAt(updatedAt)
	if finishedAt.Valid {
		run.SetFinishedAt(&finishedAt.Time)
	}
	if deletedAt.Valid {
		run.SetDeletedAt(&deletedAt.Time)
	}

	return run, nil
}
