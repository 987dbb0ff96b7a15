package main

import (
	"context"
	"fmt"
	"os"

	"github.com/desertthunder/kindlesync/internal/formatter"
	"github.com/desertthunder/kindlesync/internal/match"
	"github.com/desertthunder/kindlesync/internal/tasks"
	"github.com/desertthunder/kindlesync/internal/ui"
	"github.com/urfave/cli/v3"
)

// LibraryFetch enumerates the Amazon library and writes it in the requested format.
func (r *Runner) LibraryFetch(ctx context.Context, cmd *cli.Command) error {
	format, err := formatter.ParseFormat(cmd.String("format"), formatter.JSON, formatter.YAML, formatter.CSV)
	if err != nil {
		return err
	}
	outputPath := cmd.String("output")

	s, err := r.openStores(false)
	if err != nil {
		return err
	}
	defer s.Close()

	r.logger.Info("fetching Amazon library")
	lib, err := r.engine(s).FetchLibrary(ctx)
	if err != nil {
		return err
	}
	r.logger.Info("library fetched", "ebooks", len(lib.Ebooks), "pdocs", len(lib.PDocs))

	data, err := formatter.Library(lib, format)
	if err != nil {
		return err
	}

	if outputPath == "" {
		return r.writeBytes(data)
	}
	if err := formatter.WriteFile(outputPath, data); err != nil {
		return err
	}
	return r.writePlain("✓ Saved %d ebooks and %d personal documents to %s\n", len(lib.Ebooks), len(lib.PDocs), outputPath)
}

// Match runs the matcher against a saved library dump without touching the network or the status store.
func (r *Runner) Match(ctx context.Context, cmd *cli.Command) error {
	path := cmd.String("library")
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read library dump: %w", err)
	}

	lib, err := match.DecodeLibrary(data)
	if err != nil {
		return err
	}

	q := match.Query{Title: cmd.String("title"), Author: cmd.String("author")}
	verdict := r.matcher().Match(q, lib)

	if cmd.Bool("json") {
		if err := r.writeJSON(verdict, true); err != nil {
			return err
		}
	} else {
		r.writePlain("%s", ui.BookResult(&tasks.BookResult{Title: q.Title, Verdict: verdict}))
	}
	return verdict.Err
}
