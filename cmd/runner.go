package main

import (
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/kindlesync/internal/match"
	"github.com/desertthunder/kindlesync/internal/repositories"
	"github.com/desertthunder/kindlesync/internal/services"
	"github.com/desertthunder/kindlesync/internal/shared"
	"github.com/desertthunder/kindlesync/internal/tasks"
)

// SettingsStore is the settings surface the CLI needs on top of [tasks.Settings].
type SettingsStore interface {
	tasks.Settings
	Set(key, value string) error
	Delete(key string) error
}

// Catalog is the local library as the CLI opens it.
type Catalog interface {
	tasks.Catalog
	Close() error
}

// Runner holds all dependencies for CLI commands and provides methods for each command action.
type Runner struct {
	config     *shared.Config
	configPath string
	library    services.LibraryService
	deliverer  tasks.Deliverer
	logger     *log.Logger
	output     io.Writer
	now        func() time.Time

	openCatalog func(path string) (Catalog, error)
}

// RunnerOpts contains configuration options for creating a Runner.
type RunnerOpts struct {
	Config     *shared.Config
	ConfigPath string
	Library    services.LibraryService
	Deliverer  tasks.Deliverer
	Logger     *log.Logger
	Output     io.Writer
}

// NewRunner creates a new Runner with the provided configuration
func NewRunner(opts RunnerOpts) *Runner {
	if opts.Config == nil {
		opts.Config = shared.DefaultConfig()
	}
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(nil)
	}
	if opts.Output == nil {
		opts.Output = os.Stdout
	}
	if opts.Library == nil {
		amazonOpts := services.AmazonOptionsFromConfig(opts.Config.Amazon)
		amazonOpts.Logger = shared.WithLogger(opts.Logger, "component", "amazon")
		opts.Library = services.NewAmazonService(amazonOpts)
	}
	if opts.Deliverer == nil {
		mailerOpts := services.MailerOptionsFromConfig(opts.Config.Delivery)
		mailerOpts.Logger = shared.WithLogger(opts.Logger, "component", "mailer")
		opts.Deliverer = services.NewCommandMailer(mailerOpts)
	}

	return &Runner{
		config:     opts.Config,
		configPath: opts.ConfigPath,
		library:    opts.Library,
		deliverer:  opts.Deliverer,
		logger:     opts.Logger,
		output:     opts.Output,
		now:        time.Now,
		openCatalog: func(path string) (Catalog, error) {
			c, err := repositories.OpenCalibreCatalog(path)
			if err != nil {
				return nil, err
			}
			return c, nil
		},
	}
}

// stores are the open application stores for one command.
type stores struct {
	db       *sql.DB
	settings SettingsStore
	status   *repositories.SyncStatusRepository
	runs     *repositories.SyncRunRepository
	catalog  Catalog
	closers  []io.Closer
}

// Close releases the stores in reverse open order.
func (s *stores) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// openStores opens the application database, applies pending migrations and
// selects the settings backend. The Calibre catalog is opened only when asked for.
func (r *Runner) openStores(withCatalog bool) (*stores, error) {
	db, err := shared.NewDatabase(r.config.Database.Path)
	if err != nil {
		return nil, err
	}
	shared.ConfigureDatabase(db, r.config.Database.MaxOpenConns, r.config.Database.MaxIdleConns)
	s := &stores{db: db, closers: []io.Closer{db}}

	if err := shared.RunMigrations(db); err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	switch strings.ToLower(r.config.Settings.Backend) {
	case "bolt":
		bolt, err := repositories.OpenBoltSettings(r.config.Settings.BoltPath)
		if err != nil {
			s.Close()
			return nil, err
		}
		s.settings = bolt
		s.closers = append(s.closers, bolt)
	default:
		s.settings = repositories.NewSettingsRepository(db)
	}

	s.status = repositories.NewSyncStatusRepository(db)
	s.runs = repositories.NewSyncRunRepository(db)

	if withCatalog {
		if r.config.Library.MetadataDB == "" {
			s.Close()
			return nil, fmt.Errorf("%w: library.metadata_db is not set", shared.ErrMissingConfig)
		}
		catalog, err := r.openCatalog(r.config.Library.MetadataDB)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("failed to open library %s: %w", r.config.Library.MetadataDB, err)
		}
		s.catalog = catalog
		s.closers = append(s.closers, catalog)
	}

	r.logger.Debug("stores opened", "db", r.config.Database.Path, "settings", r.config.Settings.Backend, "catalog", withCatalog)
	return s, nil
}

// engine wires a [tasks.SyncEngine] to the open stores.
func (r *Runner) engine(s *stores) *tasks.SyncEngine {
	opts := tasks.SyncEngineOpts{
		UserID:    r.config.Library.UserID,
		Settings:  s.settings,
		Status:    s.status,
		Library:   r.library,
		Matcher:   r.matcher(),
		Deliverer: r.deliverer,
		Runs:      s.runs,
		SendRate:  r.config.Delivery.RateLimit,
		Logger:    shared.WithLogger(r.logger, "component", "sync"),
	}
	if s.catalog != nil {
		opts.Catalog = s.catalog
	}
	return tasks.NewSyncEngine(opts)
}

func (r *Runner) matcher() *match.Matcher {
	return match.NewMatcher(match.ThresholdsFromConfig(r.config.Matching), shared.WithLogger(r.logger, "component", "matcher"))
}

func (r *Runner) userID() int64 {
	if r.config.Library.UserID <= 0 {
		return 1
	}
	return r.config.Library.UserID
}

func (r *Runner) writeJSON(data any, pretty bool) error {
	output, err := shared.MarshalJSON(data, pretty)
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	if _, err := r.output.Write(output); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}

	if _, err := r.output.Write([]byte("\n")); err != nil {
		return fmt.Errorf("failed to write newline: %w", err)
	}

	return nil
}

func (r *Runner) writeBytes(data []byte) error {
	if _, err := r.output.Write(data); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func (r *Runner) writePlain(format string, args ...any) error {
	text := fmt.Sprintf(format, args...)
	if _, err := r.output.Write([]byte(text)); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func (r *Runner) writePlainln(format string, args ...any) error {
	text := "\n" + fmt.Sprintf(format, args...) + "\n"
	if _, err := r.output.Write([]byte(text)); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}
