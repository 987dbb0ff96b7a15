package services

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/kindlesync/internal/models"
	"github.com/desertthunder/kindlesync/internal/shared"
)

// NoCompatibleFormat is the skip reason for books that cannot be mailed as stored.
const NoCompatibleFormat = "No email-compatible format under current mail size/conversion settings"

// MailerOptions configures a [CommandMailer].
type MailerOptions struct {
	Command  string
	Args     []string
	Formats  []string
	MaxBytes int64
	Logger   *log.Logger
}

// MailerOptionsFromConfig maps the [delivery] config section onto [MailerOptions].
func MailerOptionsFromConfig(c shared.DeliveryConfig) MailerOptions {
	return MailerOptions{
		Command:  c.Command,
		Args:     c.Args,
		Formats:  c.Formats,
		MaxBytes: int64(c.MaxSizeMB) << 20,
	}
}

// CommandMailer sends book files to an eReader address by running an external
// mail command such as calibre-smtp.
//
// Args may contain the placeholders {to}, {file}, {title} and {format}.
type CommandMailer struct {
	opts   MailerOptions
	logger *log.Logger
	run    func(ctx context.Context, name string, args ...string) ([]byte, error)
	stat   func(path string) (int64, error)
}

// NewCommandMailer creates a mailer. Formats are matched case-insensitively in preference order.
func NewCommandMailer(opts MailerOptions) *CommandMailer {
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &CommandMailer{
		opts:   opts,
		logger: logger,
		run:    runCommand,
		stat:   fileSize,
	}
}

// Deliverable picks the first preferred format stored for the book within the size limit.
func (m *CommandMailer) Deliverable(book models.LocalBook) (models.BookFormat, string, bool) {
	for _, want := range m.opts.Formats {
		f, ok := book.Format(want)
		if !ok {
			continue
		}
		size := f.Size
		if size <= 0 {
			s, err := m.stat(f.Path)
			if err != nil {
				m.logger.Debug("format file missing", "book", book.ID, "format", f.Format, "error", err)
				continue
			}
			size = s
		}
		if m.opts.MaxBytes > 0 && size > m.opts.MaxBytes {
			continue
		}
		f.Size = size
		return f, "", true
	}
	return models.BookFormat{}, NoCompatibleFormat, false
}

// Deliver runs the mail command for one book file.
func (m *CommandMailer) Deliver(ctx context.Context, book models.LocalBook, format models.BookFormat, address string) error {
	if m.opts.Command == "" {
		return fmt.Errorf("%w: no delivery command configured", shared.ErrInvalidConfig)
	}
	if address == "" {
		return fmt.Errorf("%w: eReader address", shared.ErrMissingArgument)
	}

	replacer := strings.NewReplacer(
		"{to}", address,
		"{file}", format.Path,
		"{title}", book.Title,
		"{format}", strings.ToLower(format.Format),
	)
	args := make([]string, len(m.opts.Args))
	for i, a := range m.opts.Args {
		args[i] = replacer.Replace(a)
	}

	out, err := m.run(ctx, m.opts.Command, args...)
	if err != nil {
		msg := strings.TrimSpace(string(out))
		if msg == "" {
			msg = err.Error()
		}
		return fmt.Errorf("%s failed: %s", m.opts.Command, shared.Truncate(msg, 500))
	}

	m.logger.Info("book sent", "book", book.ID, "format", format.Format, "to", address)
	return nil
}

func runCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

func fileSize(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}
