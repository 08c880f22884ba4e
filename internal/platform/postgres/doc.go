// Package postgres provides PostgreSQL implementations of the task and
// content stores defined in internal/store, plus the embedded goose
// migrations that create their schema. Every task status change is a single
// conditional UPDATE ... RETURNING so concurrent writers resolve in the
// database.
package postgres
