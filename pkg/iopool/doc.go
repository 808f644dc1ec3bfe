// Package iopool bounds the number of blocking file operations running at once.
//
// Invariants:
// - At most Size operations run concurrently; further callers wait for a slot.
// - A caller whose context ends stops waiting, but an operation that already
//   started always runs to completion and releases its slot.
// - Pool activity is observable through tracing spans and metrics.
//
// Usage:
//
//	pool := iopool.New(8)
//	err := pool.Do(ctx, "append", func() error {
//		return writeLine(path, line)
//	})
package iopool
