// Package session persists per-conversation message histories.
//
// A session is an append-only JSONL log of opaque records plus a descriptor
// (label, timestamps, cached message count) kept in a metadata index.
//
// Invariants:
// - A missing log file is an empty session, never an error.
// - Distinct session keys always map to distinct log files.
// - Appends take an exclusive, non-blocking lock on the log file; a busy log
//   fails with ErrLockContention instead of queueing.
// - Malformed log lines are skipped and logged, never returned as errors.
// - The session "main" can never be deleted.
// - Log and index are two stores; reset and delete are not atomic across them.
//
// Usage:
//
//	pool := iopool.New(8)
//	store, _ := session.NewStore("/tmp/ranya/sessions", pool)
//	index, _ := session.LoadIndex("/tmp/ranya/sessions/sessions.json")
//	svc := session.NewService(store, index)
//	_, _ = svc.Append(ctx, "telegram:42", map[string]string{"role": "user", "content": "hello"})
//	res, _ := svc.Resolve(ctx, "telegram:42")
//	_ = res.History
package session
