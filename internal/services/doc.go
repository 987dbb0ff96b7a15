// Package services defines the [LibraryService] interface for remote Kindle libraries and implements it for Amazon.
//
// # Service Interface
//
// [LibraryService] has two operations:
//
//  1. [LibraryService.FetchLibrary] : token discovery followed by paginated
//     OwnershipData queries for ebooks, then personal documents
//  2. [LibraryService.Heartbeat] : a single page load that keeps the browser session alive
//
// # Amazon
//
// [AmazonService] replays the XHRs the Manage Your Content page makes, using
// cookies harvested from a logged-in browser. Requests are paced by a fixed
// delay and bounded by per-request deadlines. Failures come back as a
// [FetchError] alongside whatever was fetched before the failure.
//
// # Delivery
//
// [CommandMailer] sends stored book files to an eReader address through an
// external mail command.
package services
