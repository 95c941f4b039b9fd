// Package storage is the opaque key-value store behind the config store and
// the task state overlay, plus an append-only run history.
//
// Drivers:
//   - "memory": volatile, for tests and dry runs
//   - "file":   snapshot + journal files, no cgo and no external process
//   - "sqlite": a single SQLite database file (modernc.org/sqlite)
package storage
