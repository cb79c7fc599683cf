// Package storage is the durable key-value layer every lane record lives in.
//
// Drivers:
//   - memory: process-local map (tests, dry runs)
//   - file: snapshot + append-only journal, no external dependencies
//   - sqlite: single database file (modernc.org/sqlite, pure Go)
//   - postgres: shared database through a pgx pool
//
// All drivers implement Swapper, so lock acquisition is a real
// compare-and-swap. Callers must still handle a plain Store.
package storage
