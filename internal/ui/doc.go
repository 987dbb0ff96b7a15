// Package ui renders styled terminal output for the CLI with lipgloss.
//
// Reports:
//  1. [SyncReport] : mass sync counts and failure examples
//  2. [SendReport] : send-unsynced counts and skip examples
//  3. [BookResult] : the verdict of a single-book sync or an offline match
//  4. [Session] : cookie names, token presence and heartbeat health
//
// Tables:
//   - [StatusTable] : per-book sync status
//   - [RunsTable] : bulk job history
//
// [Progress] formats one [tasks.ProgressUpdate] line for streaming output.
// Colors come from a single [Palette]; lipgloss drops them when the output is not a terminal.
package ui
