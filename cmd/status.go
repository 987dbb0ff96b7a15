package main

import (
	"context"

	"github.com/desertthunder/kindlesync/internal/formatter"
	"github.com/desertthunder/kindlesync/internal/models"
	"github.com/desertthunder/kindlesync/internal/ui"
	"github.com/urfave/cli/v3"
)

// StatusList prints stored per-book sync status.
func (r *Runner) StatusList(ctx context.Context, cmd *cli.Command) error {
	format, err := formatter.ParseFormat(cmd.String("format"), formatter.Table, formatter.JSON, formatter.YAML, formatter.CSV)
	if err != nil {
		return err
	}

	var status models.SyncStatus
	if v := cmd.String("status"); v != "" {
		if status, err = models.ParseSyncStatus(v); err != nil {
			return err
		}
	}

	s, err := r.openStores(false)
	if err != nil {
		return err
	}
	defer s.Close()

	records, err := s.status.List(r.userID(), status)
	if err != nil {
		return err
	}

	if format == formatter.Table {
		counts, err := s.status.Counts(r.userID())
		if err != nil {
			return err
		}
		r.writePlain("%s", ui.StatusTable(records))
		return r.writePlain("confirmed: %d  not_found: %d  error: %d  pending: %d\n",
			counts[models.StatusConfirmed], counts[models.StatusNotFound], counts[models.StatusError], counts[models.StatusPending])
	}

	data, err := formatter.Status(records, format)
	if err != nil {
		return err
	}
	return r.writeBytes(data)
}

// StatusRuns prints recent bulk job history.
func (r *Runner) StatusRuns(ctx context.Context, cmd *cli.Command) error {
	format, err := formatter.ParseFormat(cmd.String("format"), formatter.Table, formatter.JSON, formatter.YAML, formatter.CSV)
	if err != nil {
		return err
	}

	criteria := map[string]any{"user_id": r.userID(), "limit": cmd.Int("limit")}
	if kind := cmd.String("kind"); kind != "" {
		criteria["kind"] = kind
	}

	s, err := r.openStores(false)
	if err != nil {
		return err
	}
	defer s.Close()

	runs, err := s.runs.List(criteria)
	if err != nil {
		return err
	}

	if format == formatter.Table {
		return r.writePlain("%s", ui.RunsTable(runs))
	}

	data, err := formatter.Runs(runs, format)
	if err != nil {
		return err
	}
	return r.writeBytes(data)
}
