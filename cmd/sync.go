package main

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/desertthunder/kindlesync/internal/shared"
	"github.com/desertthunder/kindlesync/internal/tasks"
	"github.com/desertthunder/kindlesync/internal/ui"
	"github.com/urfave/cli/v3"
)

// SyncBook reconciles one local book with the Amazon library.
func (r *Runner) SyncBook(ctx context.Context, cmd *cli.Command) error {
	bookID := cmd.Int("id")
	if bookID <= 0 {
		return fmt.Errorf("%w: --id must be a positive book id", shared.ErrInvalidArgument)
	}

	s, err := r.openStores(true)
	if err != nil {
		return err
	}
	defer s.Close()

	r.logger.Info("syncing book", "id", bookID)
	result, err := r.engine(s).SyncBook(ctx, bookID)
	if result != nil {
		if cmd.Bool("json") {
			if werr := r.writeJSON(result, true); werr != nil {
				return werr
			}
		} else {
			r.writePlain("%s", ui.BookResult(result))
		}
	}
	return err
}

// SyncAll reconciles every local book against a single library fetch.
func (r *Runner) SyncAll(ctx context.Context, cmd *cli.Command) error {
	s, err := r.openStores(true)
	if err != nil {
		return err
	}
	defer s.Close()

	asJSON := cmd.Bool("json")
	progressCh, done := r.streamProgress(!asJSON)

	report, err := r.engine(s).SyncAll(ctx, progressCh)
	close(progressCh)
	done.Wait()

	if report != nil {
		if asJSON {
			if werr := r.writeJSON(report, true); werr != nil {
				return werr
			}
		} else if err == nil {
			r.writePlain("\n%s", ui.SyncReport(report))
		}
	}
	return err
}

// SyncSend emails every book not yet confirmed on Kindle.
func (r *Runner) SyncSend(ctx context.Context, cmd *cli.Command) error {
	address := strings.TrimSpace(cmd.String("address"))
	if address == "" {
		address = r.config.Delivery.Address
	}
	if address == "" {
		return fmt.Errorf("%w: --address or delivery.address", shared.ErrMissingArgument)
	}

	s, err := r.openStores(true)
	if err != nil {
		return err
	}
	defer s.Close()

	asJSON := cmd.Bool("json")
	progressCh, done := r.streamProgress(!asJSON)

	report, err := r.engine(s).SendUnsynced(ctx, address, progressCh)
	close(progressCh)
	done.Wait()

	if report != nil {
		if asJSON {
			if werr := r.writeJSON(report, true); werr != nil {
				return werr
			}
		} else if err == nil {
			r.writePlain("\n%s", ui.SendReport(report))
		}
	}
	return err
}

// streamProgress starts a goroutine printing progress updates until the channel is closed.
func (r *Runner) streamProgress(show bool) (chan tasks.ProgressUpdate, *sync.WaitGroup) {
	progressCh := make(chan tasks.ProgressUpdate, 50)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for update := range progressCh {
			if show {
				r.writePlain("%s\n", ui.Progress(update))
			}
		}
	}()
	return progressCh, &wg
}
