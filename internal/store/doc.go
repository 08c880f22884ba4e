// Package store defines interfaces for data persistence operations.
// These interfaces abstract the underlying data storage mechanism from
// the application's core logic. Task mutations are expressed as
// compare-and-swap transitions so that concurrent writers (a worker
// completing a task, a user cancelling it) can never both win.
package store
