// Package models defines domain entities and persistence interfaces for the kindlesync reconciliation service.
//
// The package contains two categories of types:
//
// 1. Data Transfer Objects (DTOs): Lightweight structs describing either side of the reconciliation
//   - [RemoteItem] : One owned ebook or personal document reported by Amazon
//   - [Library] : The tagged pair of ebook and personal document lists
//   - [LocalBook] : A read-only view of a book in the local Calibre library
//
// 2. Persistent Entities: Database-backed state
//   - [SyncStatusRecord] : Per user, per book reconciliation status
//   - [SyncRun] : History of bulk sync and send jobs
//   - [HeartbeatHealth] : Session keep-alive counters stored as settings
//
// [SyncRun] implements the Model interface providing ID generation, timestamps, validation, and soft delete support.
// The Repository[T] interface defines standard CRUD operations for database access.
package models
