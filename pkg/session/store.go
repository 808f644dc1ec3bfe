package session

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/harun/ranya-sessions/internal/observability"
	"github.com/harun/ranya-sessions/internal/tracing"
	"github.com/harun/ranya-sessions/pkg/iopool"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "ranya.session"

// Record is one opaque JSON document stored as a single log line.
type Record = json.RawMessage

// Store keeps one append-only JSONL log per session key.
type Store struct {
	baseDir string
	pool    *iopool.Pool
}

// NewStore creates a Store rooted at baseDir. An empty baseDir defaults to
// ~/.ranya/sessions. A nil pool gets a default sized pool.
func NewStore(baseDir string, pool *iopool.Pool) (*Store, error) {
	observability.EnsureRegistered()

	if baseDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		baseDir = filepath.Join(homeDir, ".ranya", "sessions")
	}

	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create sessions directory: %w", err)
	}

	if pool == nil {
		pool = iopool.New(0)
	}

	log.Info().Str("dir", baseDir).Int("io_workers", pool.Size()).Msg("Session store initialized")

	return &Store{
		baseDir: baseDir,
		pool:    pool,
	}, nil
}

// BaseDir returns the directory holding the session logs.
func (s *Store) BaseDir() string {
	return s.baseDir
}

// Path returns the log file path for key.
func (s *Store) Path(key string) (string, error) {
	if err := ValidateKey(key); err != nil {
		return "", err
	}
	return filepath.Join(s.baseDir, EncodeKey(key)+logExt), nil
}

func (s *Store) begin(ctx context.Context, op, key string) (context.Context, trace.Span, zerolog.Logger) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = tracing.WithSessionKey(ctx, key)
	ctx, span := tracing.StartSpan(ctx, tracerName, op, attribute.String("session_key", key))
	return ctx, span, tracing.LoggerFromContext(ctx, log.Logger)
}

func storageError(msg string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrStorage, msg, err)
}

// Append writes record as one line at the end of the session log, creating the
// log if needed. It fails with ErrLockContention when another writer holds the
// log's lock; it never waits for the lock.
func (s *Store) Append(ctx context.Context, key string, record any) error {
	ctx, span, logger := s.begin(ctx, "session.append", key)
	defer span.End()
	start := time.Now()
	defer func() {
		observability.RecordSessionSave(time.Since(start))
	}()

	path, err := s.Path(key)
	if err != nil {
		return tracing.FailSpan(span, err)
	}

	line, err := json.Marshal(record)
	if err != nil {
		return tracing.FailSpan(span, fmt.Errorf("%w: failed to marshal record: %v", ErrInvalidParams, err))
	}

	err = s.pool.Do(ctx, "append", func() error {
		return appendLine(path, line)
	})
	if err != nil {
		if errors.Is(err, ErrLockContention) {
			observability.RecordLockContention()
			logger.Debug().Msg("Session log busy, append rejected")
		}
		return tracing.FailSpan(span, err)
	}

	logger.Debug().Int("bytes", len(line)).Msg("Record appended")
	return nil
}

func appendLine(path string, line []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return storageError("failed to create sessions directory", err)
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0600)
	if err != nil {
		return storageError("failed to open session file", err)
	}
	defer file.Close()

	locked, err := tryLockFile(file)
	if err != nil {
		return storageError("failed to lock session file", err)
	}
	if !locked {
		return ErrLockContention
	}
	defer unlockFile(file)

	// A crash can leave a final line without its newline; start a fresh line so
	// the torn record stays isolated and this one parses.
	info, err := file.Stat()
	if err != nil {
		return storageError("failed to stat session file", err)
	}
	buf := make([]byte, 0, len(line)+2)
	if info.Size() > 0 {
		last := make([]byte, 1)
		if _, err := file.ReadAt(last, info.Size()-1); err != nil {
			return storageError("failed to inspect session file", err)
		}
		if last[0] != '\n' {
			buf = append(buf, '\n')
		}
	}
	buf = append(buf, line...)
	buf = append(buf, '\n')

	if _, err := file.Write(buf); err != nil {
		return storageError("failed to write record", err)
	}
	if err := file.Sync(); err != nil {
		return storageError("failed to sync session file", err)
	}
	return nil
}

// Read returns every record of the session in append order. A missing log is
// an empty session. Lines that fail to parse are skipped and logged.
func (s *Store) Read(ctx context.Context, key string) ([]Record, error) {
	ctx, span, logger := s.begin(ctx, "session.read", key)
	defer span.End()
	start := time.Now()
	defer func() {
		observability.RecordSessionLoad(time.Since(start))
	}()

	path, err := s.Path(key)
	if err != nil {
		return nil, tracing.FailSpan(span, err)
	}

	var records []Record
	err = s.pool.Do(ctx, "read", func() error {
		var readErr error
		records, readErr = readRecords(path, logger)
		return readErr
	})
	if err != nil {
		return nil, tracing.FailSpan(span, err)
	}

	logger.Debug().Int("messages", len(records)).Msg("Session loaded")
	return records, nil
}

// ReadLastN returns the final min(n, len) records in their original order.
// The whole log is parsed; logs are expected to stay of bounded size.
func (s *Store) ReadLastN(ctx context.Context, key string, n int) ([]Record, error) {
	ctx, span, logger := s.begin(ctx, "session.read_last_n", key)
	defer span.End()
	span.SetAttributes(attribute.Int("limit", n))
	start := time.Now()
	defer func() {
		observability.RecordSessionLoad(time.Since(start))
	}()

	path, err := s.Path(key)
	if err != nil {
		return nil, tracing.FailSpan(span, err)
	}
	if n <= 0 {
		return []Record{}, nil
	}

	var records []Record
	err = s.pool.Do(ctx, "read", func() error {
		var readErr error
		records, readErr = readRecords(path, logger)
		return readErr
	})
	if err != nil {
		return nil, tracing.FailSpan(span, err)
	}

	if len(records) > n {
		tail := make([]Record, n)
		copy(tail, records[len(records)-n:])
		records = tail
	}
	return records, nil
}

func readRecords(path string, logger zerolog.Logger) ([]Record, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return []Record{}, nil
		}
		return nil, storageError("failed to open session file", err)
	}
	defer file.Close()

	records := []Record{}
	reader := bufio.NewReader(file)
	lineNum := 0

	for {
		line, readErr := reader.ReadBytes('\n')
		if len(line) > 0 {
			lineNum++
			trimmed := bytes.TrimSpace(line)
			if len(trimmed) > 0 {
				if json.Valid(trimmed) {
					records = append(records, Record(trimmed))
				} else {
					observability.RecordMalformedLine()
					logger.Warn().
						Int("line", lineNum).
						Err(ErrMalformedRecord).
						Msg("Failed to parse line, skipping")
				}
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return nil, storageError("failed to read session file", readErr)
		}
	}

	return records, nil
}

// Clear deletes the session log. Clearing a missing log succeeds.
func (s *Store) Clear(ctx context.Context, key string) error {
	ctx, span, logger := s.begin(ctx, "session.clear", key)
	defer span.End()

	path, err := s.Path(key)
	if err != nil {
		return tracing.FailSpan(span, err)
	}

	err = s.pool.Do(ctx, "clear", func() error {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return storageError("failed to delete session file", err)
		}
		return nil
	})
	if err != nil {
		return tracing.FailSpan(span, err)
	}

	logger.Debug().Msg("Session log cleared")
	return nil
}

// Count returns the number of non-blank lines in the session log without
// parsing them. A missing log counts as zero.
func (s *Store) Count(ctx context.Context, key string) (uint32, error) {
	ctx, span, _ := s.begin(ctx, "session.count", key)
	defer span.End()

	path, err := s.Path(key)
	if err != nil {
		return 0, tracing.FailSpan(span, err)
	}

	var count uint32
	err = s.pool.Do(ctx, "count", func() error {
		var countErr error
		count, countErr = countLines(path)
		return countErr
	})
	if err != nil {
		return 0, tracing.FailSpan(span, err)
	}
	return count, nil
}

func countLines(path string) (uint32, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, storageError("failed to open session file", err)
	}
	defer file.Close()

	var count uint32
	nonBlank := false
	buf := make([]byte, 32*1024)
	for {
		n, readErr := file.Read(buf)
		for _, c := range buf[:n] {
			switch c {
			case '\n':
				if nonBlank {
					count++
				}
				nonBlank = false
			case ' ', '\t', '\r', '\v', '\f':
			default:
				nonBlank = true
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return 0, storageError("failed to read session file", readErr)
		}
	}
	if nonBlank {
		count++
	}
	return count, nil
}

// Keys lists the session keys that currently have a log file, sorted.
func (s *Store) Keys(ctx context.Context) ([]string, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, span := tracing.StartSpan(ctx, tracerName, "session.keys")
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, log.Logger)

	var keys []string
	err := s.pool.Do(ctx, "list", func() error {
		entries, err := os.ReadDir(s.baseDir)
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return storageError("failed to read sessions directory", err)
		}

		for _, entry := range entries {
			name := entry.Name()
			if entry.IsDir() || !strings.HasSuffix(name, logExt) {
				continue
			}
			key, err := DecodeKey(strings.TrimSuffix(name, logExt))
			if err != nil {
				logger.Debug().Str("file", name).Err(err).Msg("Ignoring unrecognised log file")
				continue
			}
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, tracing.FailSpan(span, err)
	}

	sort.Strings(keys)
	if keys == nil {
		keys = []string{}
	}
	return keys, nil
}
