package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/harun/ranya-sessions/internal/observability"
	"github.com/harun/ranya-sessions/internal/tracing"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

// DefaultPreviewLimit is the number of records Preview returns when no limit is given.
const DefaultPreviewLimit = 5

// Entry is the external shape of a session descriptor.
type Entry struct {
	ID           string  `json:"id"`
	Key          string  `json:"key"`
	Label        *string `json:"label"`
	CreatedAt    int64   `json:"createdAt"`
	UpdatedAt    int64   `json:"updatedAt"`
	MessageCount uint32  `json:"messageCount"`
}

func entryFrom(d Descriptor) Entry {
	return Entry{
		ID:           d.ID,
		Key:          d.Key,
		Label:        d.Label,
		CreatedAt:    d.CreatedAt,
		UpdatedAt:    d.UpdatedAt,
		MessageCount: d.MessageCount,
	}
}

// PreviewResult holds the most recent records of a session.
type PreviewResult struct {
	Messages []Record `json:"messages"`
}

// ResolveResult holds a descriptor and the full history of its session.
type ResolveResult struct {
	Entry   Entry    `json:"entry"`
	History []Record `json:"history"`
}

// PatchResult is returned by Patch.
type PatchResult struct {
	ID    string  `json:"id"`
	Key   string  `json:"key"`
	Label *string `json:"label"`
}

// AppendResult is returned by Append.
type AppendResult struct {
	Key          string `json:"key"`
	MessageCount uint32 `json:"messageCount"`
}

// AckStatus tells callers whether an acknowledged command did anything.
type AckStatus string

const (
	AckOK           AckStatus = "ok"
	AckNotSupported AckStatus = "not_supported"
)

// Ack acknowledges a command that has no payload.
type Ack struct {
	Status  AckStatus `json:"status"`
	Message string    `json:"message,omitempty"`
}

// Service composes the log store and the metadata index into session level
// operations.
type Service struct {
	store *Store
	index *Index
	retry RetryPolicy
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithRetryPolicy sets the policy Append uses for lock contention.
func WithRetryPolicy(p RetryPolicy) ServiceOption {
	return func(s *Service) {
		s.retry = p
	}
}

// NewService creates a Service over store and index. The index is shared by
// pointer; all of its mutations go through its own lock.
func NewService(store *Store, index *Index, opts ...ServiceOption) *Service {
	s := &Service{
		store: store,
		index: index,
		retry: FailFast,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) begin(ctx context.Context, op, key string) (context.Context, trace.Span, zerolog.Logger) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = tracing.NewRequestContext(ctx)
	attrs := []attribute.KeyValue{attribute.String("operation", op)}
	if key != "" {
		ctx = tracing.WithSessionKey(ctx, key)
		attrs = append(attrs, attribute.String("session_key", key))
	}
	ctx, span := tracing.StartSpan(ctx, tracerName, "sessions."+op, attrs...)
	return ctx, span, tracing.LoggerFromContext(ctx, log.Logger)
}

func finish(op string, span trace.Span, err error) error {
	observability.RecordServiceOperation(op, err == nil)
	return tracing.FailSpan(span, err)
}

func requireKey(key string) error {
	if key == "" {
		return fmt.Errorf("%w: missing 'key' parameter", ErrInvalidParams)
	}
	return ValidateKey(key)
}

func notFound(key string) error {
	return fmt.Errorf("%w: session '%s' not found", ErrNotFound, key)
}

// List returns every known session descriptor.
func (s *Service) List(ctx context.Context) []Entry {
	_, span, _ := s.begin(ctx, "list", "")
	defer span.End()

	descriptors := s.index.List()
	entries := make([]Entry, 0, len(descriptors))
	for _, d := range descriptors {
		entries = append(entries, entryFrom(d))
	}

	_ = finish("list", span, nil)
	return entries
}

// Preview returns the last limit records of a session. A negative limit means
// DefaultPreviewLimit and a zero limit yields no messages. Unknown sessions
// yield no messages.
func (s *Service) Preview(ctx context.Context, key string, limit int) (*PreviewResult, error) {
	ctx, span, _ := s.begin(ctx, "preview", key)
	defer span.End()

	if err := requireKey(key); err != nil {
		return nil, finish("preview", span, err)
	}
	if limit < 0 {
		limit = DefaultPreviewLimit
	}

	messages, err := s.store.ReadLastN(ctx, key, limit)
	if err != nil {
		return nil, finish("preview", span, fmt.Errorf("failed to preview session: %w", err))
	}

	_ = finish("preview", span, nil)
	return &PreviewResult{Messages: messages}, nil
}

// Resolve returns the descriptor and full history of a known session. The
// returned messageCount reflects the history actually read.
func (s *Service) Resolve(ctx context.Context, key string) (*ResolveResult, error) {
	ctx, span, logger := s.begin(ctx, "resolve", key)
	defer span.End()

	if err := requireKey(key); err != nil {
		return nil, finish("resolve", span, err)
	}

	descriptor, ok := s.index.Get(key)
	if !ok {
		return nil, finish("resolve", span, notFound(key))
	}

	history, err := s.store.Read(ctx, key)
	if err != nil {
		return nil, finish("resolve", span, fmt.Errorf("failed to load session: %w", err))
	}

	entry := entryFrom(descriptor)
	if actual := uint32(len(history)); actual != entry.MessageCount {
		logger.Debug().
			Uint32("cached", entry.MessageCount).
			Uint32("actual", actual).
			Msg("Cached message count is stale")
		entry.MessageCount = actual
	}

	_ = finish("resolve", span, nil)
	return &ResolveResult{Entry: entry, History: history}, nil
}

// Patch updates the label of a known session. A nil label keeps the current
// label; an empty label clears it.
func (s *Service) Patch(ctx context.Context, key string, label *string) (*PatchResult, error) {
	ctx, span, logger := s.begin(ctx, "patch", key)
	defer span.End()

	if err := requireKey(key); err != nil {
		return nil, finish("patch", span, err)
	}

	var updated Descriptor
	err := s.index.Mutate(func(tx *IndexTx) error {
		if _, ok := tx.Get(key); !ok {
			return notFound(key)
		}
		updated = tx.Upsert(key, label)
		return tx.Save()
	})
	if err != nil {
		observability.RecordSessionAudit(ctx, "session.patch", key, "failure", nil)
		return nil, finish("patch", span, err)
	}

	observability.RecordSessionAudit(ctx, "session.patch", key, "success", nil)
	logger.Info().Msg("Session patched")

	_ = finish("patch", span, nil)
	return &PatchResult{ID: updated.ID, Key: updated.Key, Label: updated.Label}, nil
}

// Reset empties the session log and zeroes its cached count. The descriptor
// is kept. Log and index are updated in two steps; a crash between them
// leaves a stale count.
func (s *Service) Reset(ctx context.Context, key string) (*Ack, error) {
	ctx, span, logger := s.begin(ctx, "reset", key)
	defer span.End()

	if err := requireKey(key); err != nil {
		return nil, finish("reset", span, err)
	}

	if err := s.store.Clear(ctx, key); err != nil {
		observability.RecordSessionAudit(ctx, "session.reset", key, "failure", nil)
		return nil, finish("reset", span, fmt.Errorf("failed to clear session: %w", err))
	}

	err := s.index.Mutate(func(tx *IndexTx) error {
		tx.Touch(key, 0)
		return tx.Save()
	})
	if err != nil {
		observability.RecordSessionAudit(ctx, "session.reset", key, "failure", map[string]interface{}{"log_cleared": true})
		return nil, finish("reset", span, err)
	}

	observability.RecordSessionAudit(ctx, "session.reset", key, "success", nil)
	logger.Info().Msg("Session reset")

	_ = finish("reset", span, nil)
	return &Ack{Status: AckOK}, nil
}

// Delete removes the session log and descriptor. The main session is refused
// without touching either store.
func (s *Service) Delete(ctx context.Context, key string) (*Ack, error) {
	ctx, span, logger := s.begin(ctx, "delete", key)
	defer span.End()

	if err := requireKey(key); err != nil {
		return nil, finish("delete", span, err)
	}
	if key == MainKey {
		observability.RecordSessionAudit(ctx, "session.delete", key, "refused", nil)
		return nil, finish("delete", span, fmt.Errorf("%w: cannot delete the main session", ErrReservedSession))
	}

	if err := s.store.Clear(ctx, key); err != nil {
		observability.RecordSessionAudit(ctx, "session.delete", key, "failure", nil)
		return nil, finish("delete", span, fmt.Errorf("failed to clear session: %w", err))
	}

	err := s.index.Mutate(func(tx *IndexTx) error {
		tx.Remove(key)
		return tx.Save()
	})
	if err != nil {
		observability.RecordSessionAudit(ctx, "session.delete", key, "failure", map[string]interface{}{"log_cleared": true})
		return nil, finish("delete", span, err)
	}

	observability.RecordSessionAudit(ctx, "session.delete", key, "success", nil)
	logger.Info().Msg("Session deleted")

	_ = finish("delete", span, nil)
	return &Ack{Status: AckOK}, nil
}

// Compact is not implemented. It validates the key and reports
// AckNotSupported so callers can tell it apart from a completed command.
func (s *Service) Compact(ctx context.Context, key string) (*Ack, error) {
	_, span, _ := s.begin(ctx, "compact", key)
	defer span.End()

	if err := requireKey(key); err != nil {
		return nil, finish("compact", span, err)
	}

	_ = finish("compact", span, nil)
	return &Ack{Status: AckNotSupported, Message: "session compaction is not supported yet"}, nil
}

// Append adds record to the session log, creating the descriptor on first use
// and bumping its cached count. Lock contention is retried according to the
// service's RetryPolicy.
func (s *Service) Append(ctx context.Context, key string, record any) (*AppendResult, error) {
	ctx, span, logger := s.begin(ctx, "append", key)
	defer span.End()

	if err := requireKey(key); err != nil {
		return nil, finish("append", span, err)
	}

	if _, ok := s.index.Get(key); !ok {
		err := s.index.Mutate(func(tx *IndexTx) error {
			if _, ok := tx.Get(key); ok {
				return nil
			}
			tx.Upsert(key, nil)
			return tx.Save()
		})
		if err != nil {
			return nil, finish("append", span, err)
		}
		logger.Info().Msg("Session created")
	}

	err := s.retry.run(ctx, func(ctx context.Context) error {
		return s.store.Append(ctx, key, record)
	})
	if err != nil {
		return nil, finish("append", span, err)
	}

	var count uint32
	err = s.index.Mutate(func(tx *IndexTx) error {
		d, ok := tx.Get(key)
		if !ok {
			return nil
		}
		count = d.MessageCount + 1
		tx.Touch(key, count)
		return tx.Save()
	})
	if err != nil {
		return nil, finish("append", span, err)
	}

	_ = finish("append", span, nil)
	return &AppendResult{Key: key, MessageCount: count}, nil
}

// Reconcile recounts every session log and corrects cached message counts.
// Logs without a descriptor get one. It returns the number of descriptors
// created or corrected.
func (s *Service) Reconcile(ctx context.Context) (int, error) {
	ctx, span, logger := s.begin(ctx, "reconcile", "")
	defer span.End()

	logKeys, err := s.store.Keys(ctx)
	if err != nil {
		return 0, finish("reconcile", span, err)
	}

	keys := make(map[string]struct{}, len(logKeys))
	for _, k := range logKeys {
		keys[k] = struct{}{}
	}
	for _, d := range s.index.List() {
		keys[d.Key] = struct{}{}
	}

	var mu sync.Mutex
	counts := make(map[string]uint32, len(keys))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.store.pool.Size())
	for key := range keys {
		g.Go(func() error {
			n, err := s.store.Count(gctx, key)
			if err != nil {
				return fmt.Errorf("failed to count session '%s': %w", key, err)
			}
			mu.Lock()
			counts[key] = n
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, finish("reconcile", span, err)
	}

	fixed := 0
	err = s.index.Mutate(func(tx *IndexTx) error {
		for key, n := range counts {
			d, ok := tx.Get(key)
			switch {
			case !ok:
				tx.Upsert(key, nil)
				tx.SetMessageCount(key, n)
			case d.MessageCount != n:
				tx.SetMessageCount(key, n)
			default:
				continue
			}
			fixed++
			logger.Info().
				Str("session", key).
				Uint32("message_count", n).
				Bool("created", !ok).
				Msg("Reconciled session descriptor")
		}
		if fixed == 0 {
			return nil
		}
		return tx.Save()
	})
	if err != nil {
		return 0, finish("reconcile", span, err)
	}

	_ = finish("reconcile", span, nil)
	return fixed, nil
}
