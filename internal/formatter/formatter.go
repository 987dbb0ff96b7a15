// Package formatter renders remote libraries, sync status and run history as JSON, YAML or CSV.
package formatter

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/desertthunder/kindlesync/internal/models"
	"github.com/desertthunder/kindlesync/internal/shared"
	"gopkg.in/yaml.v3"
)

// Format names an output encoding.
type Format string

const (
	JSON  Format = "json"
	YAML  Format = "yaml"
	CSV   Format = "csv"
	Table Format = "table"
)

// ParseFormat validates a --format value against the formats a command supports.
func ParseFormat(s string, allowed ...Format) (Format, error) {
	f := Format(strings.ToLower(strings.TrimSpace(s)))
	for _, a := range allowed {
		if f == a {
			return f, nil
		}
	}
	names := make([]string, len(allowed))
	for i, a := range allowed {
		names[i] = string(a)
	}
	return "", fmt.Errorf("%w: format %q (want one of %s)", shared.ErrInvalidFlag, s, strings.Join(names, ", "))
}

// Encode marshals v as JSON or YAML.
func Encode(v any, f Format, pretty bool) ([]byte, error) {
	switch f {
	case JSON:
		data, err := shared.MarshalJSON(v, pretty)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal JSON: %w", err)
		}
		return append(data, '\n'), nil
	case YAML:
		var buf bytes.Buffer
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return nil, fmt.Errorf("failed to marshal YAML: %w", err)
		}
		if err := enc.Close(); err != nil {
			return nil, fmt.Errorf("failed to marshal YAML: %w", err)
		}
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("%w: cannot encode %q", shared.ErrInvalidFlag, f)
	}
}

// NormalizeLibrary replaces nil lists with empty ones so dumps always carry both keys as arrays.
func NormalizeLibrary(lib models.Library) models.Library {
	if lib.Ebooks == nil {
		lib.Ebooks = []models.RemoteItem{}
	}
	if lib.PDocs == nil {
		lib.PDocs = []models.RemoteItem{}
	}
	return lib
}

// Library renders a fetched library. JSON output can be fed back to the offline matcher.
func Library(lib models.Library, f Format) ([]byte, error) {
	lib = NormalizeLibrary(lib)
	if f == CSV {
		return LibraryCSV(lib)
	}
	return Encode(lib, f, true)
}

// LibraryCSV converts a library to CSV with columns: Category, ASIN, ContentID, Title, Authors
func LibraryCSV(lib models.Library) ([]byte, error) {
	rows := make([][]string, 0, lib.Total())
	for _, c := range []models.ContentType{models.ContentEbook, models.ContentPDoc} {
		for _, item := range lib.Items(c) {
			category := item.Category
			if category == "" {
				category = c
			}
			rows = append(rows, []string{string(category), item.ASIN, item.ContentID, item.Title, item.Authors})
		}
	}
	return writeCSV([]string{"Category", "ASIN", "ContentID", "Title", "Authors"}, rows)
}

// Status renders sync status records.
func Status(records []models.SyncStatusRecord, f Format) ([]byte, error) {
	if records == nil {
		records = []models.SyncStatusRecord{}
	}
	if f == CSV {
		return StatusCSV(records)
	}
	return Encode(records, f, true)
}

// StatusCSV converts status records to CSV with columns: BookID, Status, ASIN, Retries, LastAttempt, Error
func StatusCSV(records []models.SyncStatusRecord) ([]byte, error) {
	rows := make([][]string, 0, len(records))
	for _, r := range records {
		rows = append(rows, []string{
			strconv.FormatInt(r.BookID, 10),
			string(r.Status),
			r.ASIN,
			strconv.Itoa(r.RetryCount),
			FormatTime(r.LastAttemptAt),
			r.ErrorMessage,
		})
	}
	return writeCSV([]string{"BookID", "Status", "ASIN", "Retries", "LastAttempt", "Error"}, rows)
}

// RunView is the exported shape of a [models.SyncRun].
type RunView struct {
	ID         string           `json:"id" yaml:"id"`
	Kind       models.RunKind   `json:"kind" yaml:"kind"`
	State      models.RunState  `json:"state" yaml:"state"`
	Counts     models.RunCounts `json:"counts" yaml:"counts"`
	Message    string           `json:"message,omitempty" yaml:"message,omitempty"`
	StartedAt  time.Time        `json:"started_at" yaml:"started_at"`
	FinishedAt *time.Time       `json:"finished_at,omitempty" yaml:"finished_at,omitempty"`
}

// RunViews converts runs for encoding.
func RunViews(runs []*models.SyncRun) []RunView {
	views := make([]RunView, 0, len(runs))
	for _, r := range runs {
		views = append(views, RunView{
			ID:         r.ID(),
			Kind:       r.Kind(),
			State:      r.State(),
			Counts:     r.Counts(),
			Message:    r.Message(),
			StartedAt:  r.StartedAt(),
			FinishedAt: r.FinishedAt(),
		})
	}
	return views
}

// Runs renders run history.
func Runs(runs []*models.SyncRun, f Format) ([]byte, error) {
	views := RunViews(runs)
	if f != CSV {
		return Encode(views, f, true)
	}

	rows := make([][]string, 0, len(views))
	for _, v := range views {
		rows = append(rows, []string{
			v.ID,
			string(v.Kind),
			string(v.State),
			strconv.Itoa(v.Counts.Total),
			strconv.Itoa(v.Counts.Confirmed),
			strconv.Itoa(v.Counts.NotFound),
			strconv.Itoa(v.Counts.Sent),
			strconv.Itoa(v.Counts.Skipped),
			strconv.Itoa(v.Counts.Failed),
			v.StartedAt.UTC().Format(time.RFC3339),
			FormatTime(v.FinishedAt),
		})
	}
	return writeCSV([]string{"ID", "Kind", "State", "Total", "Confirmed", "NotFound", "Sent", "Skipped", "Failed", "StartedAt", "FinishedAt"}, rows)
}

// FormatTime renders an optional timestamp as RFC 3339 UTC, or "" when unset.
func FormatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func writeCSV(headers []string, rows [][]string) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)

	if err := writer.Write(headers); err != nil {
		return nil, fmt.Errorf("failed to write CSV headers: %w", err)
	}
	for _, row := range rows {
		if err := writer.Write(row); err != nil {
			return nil, fmt.Errorf("failed to write CSV record: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("CSV writer error: %w", err)
	}
	return buf.Bytes(), nil
}

// WriteFile writes rendered output, creating parent directories as needed.
func WriteFile(path string, data []byte) error {
	if path == "" {
		return fmt.Errorf("%w: output path", shared.ErrMissingArgument)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
