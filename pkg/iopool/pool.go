package iopool

import (
	"context"
	"fmt"
	"time"

	"github.com/harun/ranya-sessions/internal/observability"
	"github.com/harun/ranya-sessions/internal/tracing"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/semaphore"
)

// DefaultSize is the number of slots used when New is given a non-positive size.
const DefaultSize = 8

// Op is a blocking unit of work.
type Op func() error

// Pool runs blocking operations with bounded concurrency.
type Pool struct {
	size int64
	sem  *semaphore.Weighted
}

// New creates a pool with size slots.
func New(size int) *Pool {
	observability.EnsureRegistered()

	if size <= 0 {
		size = DefaultSize
	}
	return &Pool{
		size: int64(size),
		sem:  semaphore.NewWeighted(int64(size)),
	}
}

// Size returns the number of slots in the pool.
func (p *Pool) Size() int {
	return int(p.size)
}

// Do waits for a free slot, runs op on its own goroutine and returns its error.
// If ctx ends before op finishes, Do returns ctx.Err() immediately and op keeps
// running in the background until it completes.
func (p *Pool) Do(ctx context.Context, name string, op Op) error {
	if op == nil {
		return fmt.Errorf("iopool: nil operation %q", name)
	}
	if ctx == nil {
		ctx = context.Background()
	}

	ctx, span := tracing.StartSpan(
		ctx,
		"ranya.iopool",
		"iopool."+name,
		attribute.String("operation", name),
	)
	defer span.End()

	waitStart := time.Now()
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return tracing.FailSpan(span, fmt.Errorf("waiting for I/O slot: %w", err))
	}
	observability.RecordIOWait(time.Since(waitStart))

	done := make(chan error, 1)
	go func() {
		start := time.Now()
		observability.RecordIOStart()
		defer func() {
			observability.RecordIOFinish(name, time.Since(start))
			p.sem.Release(1)
		}()
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("iopool: operation %q panicked: %v", name, r)
			}
		}()
		done <- op()
	}()

	select {
	case err := <-done:
		return tracing.FailSpan(span, err)
	case <-ctx.Done():
		logger := tracing.LoggerFromContext(ctx, log.Logger)
		logger.Debug().
			Str("operation", name).
			Msg("Caller stopped waiting for I/O operation")
		return tracing.FailSpan(span, ctx.Err())
	}
}
