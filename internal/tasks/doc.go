// Package tasks orchestrates Kindle sync jobs with progress reporting.
//
// # Core Operations
//
// [SyncEngine] has four operations:
//
//  1. [SyncEngine.SyncBook] : Reconcile one local book
//     - Skips when sync is disabled or the book is already confirmed
//     - Fetches the Amazon library and persists refreshed cookies
//     - Writes the match verdict to the status store
//
//  2. [SyncEngine.SyncAll] : Reconcile the whole catalog against one fetch
//     - Returns early when the remote library is empty
//     - Checks for cancellation between books
//
//  3. [SyncEngine.Heartbeat] : Keep the session alive and track its health
//
//  4. [SyncEngine.SendUnsynced] : Mail books that are missing from Kindle
//     - Throttled by a rate limiter
//     - Sent books return to pending so the next sync can confirm them
//
// # Progress Reporting
//
// Bulk operations accept an optional channel of [ProgressUpdate]. Sends never
// block; a full channel drops the update.
//
// # Scheduling
//
// [HeartbeatScheduler] runs the heartbeat on a ticker until its context ends.
//
// # Dependencies
//
// The engine talks to storage and the network only through small interfaces:
//   - [Settings] : repositories.SettingsRepository or repositories.BoltSettings
//   - [StatusStore] : repositories.SyncStatusRepository
//   - [Catalog] : repositories.CalibreCatalog
//   - [services.LibraryService] : services.AmazonService
//   - [Deliverer] : services.CommandMailer
//   - [RunRecorder] : optional, repositories.SyncRunRepository
package tasks
