package ui

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/desertthunder/kindlesync/internal/models"
	"github.com/desertthunder/kindlesync/internal/session"
	"github.com/desertthunder/kindlesync/internal/tasks"
)

// Progress formats one streamed progress line.
func Progress(u tasks.ProgressUpdate) string {
	switch u.Phase {
	case tasks.FetchLibrary:
		return "📥 " + u.Message
	case tasks.SendBooks:
		if strings.Contains(u.Message, "✗") {
			return "   " + styles.warn.Render(u.Message)
		}
		return "   " + u.Message
	default:
		return "   " + u.Message
	}
}

// SyncReport renders the summary of a mass sync.
func SyncReport(r *tasks.SyncReport) string {
	var b strings.Builder
	if r.Partial {
		b.WriteString(styles.warn.Render("! " + r.Message))
	} else {
		b.WriteString(styles.ok.Render("✓ " + r.Message))
	}
	b.WriteString("\n")
	fmt.Fprintf(&b, "\nRemote items: %d\nLocal books: %d\nConfirmed: %d\nNot found: %d\nFailed: %d\n",
		r.Fetched, r.Counts.Total, r.Counts.Confirmed, r.Counts.NotFound, r.Counts.Failed)
	writeExamples(&b, "Failures", r.Examples)
	if r.RunID != "" {
		b.WriteString(styles.help.Render("run " + r.RunID))
		b.WriteString("\n")
	}
	return b.String()
}

// SendReport renders the summary of a send-unsynced run.
func SendReport(r *tasks.SendReport) string {
	var b strings.Builder
	b.WriteString(styles.ok.Render("✓ " + r.Message))
	b.WriteString("\n")
	fmt.Fprintf(&b, "\nUnsynced books: %d\nSent: %d\nSkipped: %d\nFailed: %d\n",
		r.Counts.Total, r.Counts.Sent, r.Counts.Skipped, r.Counts.Failed)
	writeExamples(&b, "Skipped", r.Examples)
	if r.RunID != "" {
		b.WriteString(styles.help.Render("run " + r.RunID))
		b.WriteString("\n")
	}
	return b.String()
}

func writeExamples(b *strings.Builder, label string, examples []string) {
	if len(examples) == 0 {
		return
	}
	b.WriteString("\n")
	b.WriteString(styles.warn.Render(label + ":"))
	for _, e := range examples {
		b.WriteString("\n  • " + e)
	}
	b.WriteString("\n\n")
}

// BookResult renders the outcome of one book.
func BookResult(r *tasks.BookResult) string {
	title := r.Title
	if title == "" {
		title = "book " + strconv.FormatInt(r.BookID, 10)
	}
	if r.Skipped {
		return styles.help.Render(fmt.Sprintf("– %s skipped: %s", title, r.Reason)) + "\n"
	}

	v := r.Verdict
	switch v.Status {
	case models.StatusConfirmed:
		line := fmt.Sprintf("✓ %s is on Kindle", title)
		if v.ASIN != "" {
			line += " (ASIN " + v.ASIN + ")"
		}
		out := styles.ok.Render(line) + "\n"
		if v.Matched != "" {
			out += fmt.Sprintf("  matched %s %q after %d items\n", v.Category.Label(), v.Matched, v.Checked)
		}
		return out
	case models.StatusNotFound:
		return styles.warn.Render("✗ "+v.Message) + "\n"
	default:
		return styles.err.Render(fmt.Sprintf("✗ %s: %s", title, v.Message)) + "\n"
	}
}

// Session renders the stored session without cookie values.
func Session(cred session.Credential, enabled bool, health models.HeartbeatHealth, now time.Time) string {
	var b strings.Builder
	b.WriteString(styles.title.Render("Amazon session"))
	b.WriteString("\n")

	if cred.Empty() {
		b.WriteString(styles.warn.Render("No session cookies stored. Run 'kindlesync session import'."))
		b.WriteString("\n")
		return b.String()
	}

	names := cred.Names()
	fmt.Fprintf(&b, "Cookies: %d (%s)\n", len(names), strings.Join(names, ", "))
	fmt.Fprintf(&b, "CSRF token: %s\n", yesNo(cred.CSRFToken != ""))
	fmt.Fprintf(&b, "Per-book sync: %s\n", onOff(enabled))

	b.WriteString("\n")
	b.WriteString(Health(health, now))
	return b.String()
}

// Health renders heartbeat bookkeeping.
func Health(h models.HeartbeatHealth, now time.Time) string {
	var b strings.Builder
	if h.LastSuccess.IsZero() {
		b.WriteString("Last heartbeat: never\n")
	} else {
		ago := now.Sub(h.LastSuccess).Truncate(time.Minute)
		fmt.Fprintf(&b, "Last heartbeat: %s (%s ago)\n", h.LastSuccess.UTC().Format(time.RFC3339), ago)
	}

	if h.FailCount == 0 {
		b.WriteString(styles.ok.Render("Heartbeat healthy"))
		b.WriteString("\n")
		return b.String()
	}
	b.WriteString(styles.err.Render(fmt.Sprintf("Consecutive failures: %d", h.FailCount)))
	b.WriteString("\n")
	if h.LastError != "" {
		fmt.Fprintf(&b, "Last error: %s\n", h.LastError)
	}
	return b.String()
}

// StatusTable renders per-book status records as a bordered table.
func StatusTable(records []models.SyncStatusRecord) string {
	if len(records) == 0 {
		return styles.help.Render("No sync status recorded.") + "\n"
	}

	rows := make([][]string, 0, len(records))
	for _, r := range records {
		attempt := ""
		if r.LastAttemptAt != nil {
			attempt = r.LastAttemptAt.UTC().Format("2006-01-02 15:04")
		}
		rows = append(rows, []string{
			strconv.FormatInt(r.BookID, 10),
			string(r.Status),
			r.ASIN,
			strconv.Itoa(r.RetryCount),
			attempt,
			truncate(r.ErrorMessage, 60),
		})
	}
	return renderTable([]string{"Book", "Status", "ASIN", "Retries", "Last attempt", "Message"}, rows, 1) + "\n"
}

// RunsTable renders bulk job history.
func RunsTable(runs []*models.SyncRun) string {
	if len(runs) == 0 {
		return styles.help.Render("No runs recorded.") + "\n"
	}

	rows := make([][]string, 0, len(runs))
	for _, r := range runs {
		c := r.Counts()
		rows = append(rows, []string{
			strconv.Itoa(r.Sequence()),
			string(r.Kind()),
			string(r.State()),
			r.StartedAt().UTC().Format("2006-01-02 15:04"),
			fmt.Sprintf("%d/%d", c.Confirmed+c.Sent, c.Total),
			truncate(r.Message(), 60),
		})
	}
	return renderTable([]string{"#", "Kind", "State", "Started", "Done", "Message"}, rows, 2) + "\n"
}

// renderTable colors the column at statusCol by its value.
func renderTable(headers []string, rows [][]string, statusCol int) string {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(styles.help).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			base := lipgloss.NewStyle().Padding(0, 1)
			if row == table.HeaderRow {
				return base.Bold(true)
			}
			if col == statusCol && row >= 0 && row < len(rows) {
				return styles.statusStyle(rows[row][col]).Padding(0, 1)
			}
			return base
		})
	return t.String()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func onOff(b bool) string {
	if b {
		return "enabled"
	}
	return "disabled"
}
