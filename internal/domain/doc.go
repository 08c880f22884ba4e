// Package domain contains the core business entities of the analysis service:
// deduplicated content items and the background tasks that analyse them.
// It encodes the task lifecycle rules independent of any storage or transport.
package domain
