// Package testdb provides database helpers for integration tests.
//
// Tests call GetTestDBWithT to obtain a migrated database. The helper uses
// DATABASE_URL when it is set; otherwise, when TEST_INTEGRATION is set, it
// starts a disposable PostgreSQL container with testcontainers. Without
// either variable the calling test is skipped.
package testdb
