// Package repositories implements persistence for sync state.
//
// Key Implementations:
//   - [SettingsRepository] : key/value settings in the application database
//   - [BoltSettings] : the same settings contract on a bbolt file
//   - [SyncStatusRepository] : per user, per book reconciliation status
//   - [SyncRunRepository] : history of bulk sync and send jobs, with soft deletes
//   - [CalibreCatalog] : read-only view of a Calibre metadata.db
//
// Sync runs carry sequence numbers for stable ordering independent of UUIDs and
// creation timestamps. The [NextSequence] function atomically increments per-table
// sequence counters in dedicated sequence tables.
package repositories
