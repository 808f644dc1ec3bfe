package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/harun/ranya-sessions/internal/observability"
	"github.com/rs/zerolog/log"
	"github.com/xeipuuv/gojsonschema"
)

// MetadataFileName is the default name of the metadata document inside the
// sessions directory.
const MetadataFileName = "sessions.json"

const indexVersion = 1

// Descriptor is the cached summary of one session. MessageCount is maintained
// by callers and is not recomputed from the log by the index.
type Descriptor struct {
	ID           string  `json:"id"`
	Key          string  `json:"key"`
	Label        *string `json:"label,omitempty"`
	CreatedAt    int64   `json:"createdAt"`
	UpdatedAt    int64   `json:"updatedAt"`
	MessageCount uint32  `json:"messageCount"`
}

func (d *Descriptor) clone() Descriptor {
	c := *d
	if d.Label != nil {
		label := *d.Label
		c.Label = &label
	}
	return c
}

type indexDocument struct {
	Version  int          `json:"version"`
	Sessions []Descriptor `json:"sessions"`
}

const indexSchema = `{
  "type": "object",
  "required": ["version", "sessions"],
  "properties": {
    "version": {"type": "integer", "minimum": 1},
    "sessions": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["id", "key", "createdAt", "updatedAt", "messageCount"],
        "properties": {
          "id": {"type": "string", "minLength": 1},
          "key": {"type": "string", "minLength": 1},
          "label": {"type": ["string", "null"]},
          "createdAt": {"type": "integer"},
          "updatedAt": {"type": "integer"},
          "messageCount": {"type": "integer", "minimum": 0}
        }
      }
    }
  }
}`

var (
	schemaOnce     sync.Once
	compiledSchema *gojsonschema.Schema
	schemaErr      error
)

func metadataSchema() (*gojsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiledSchema, schemaErr = gojsonschema.NewSchema(gojsonschema.NewStringLoader(indexSchema))
	})
	return compiledSchema, schemaErr
}

// Index is the in-memory registry of session descriptors, mirrored to one JSON
// document on Save. Reads share the lock; every mutation and Save hold it
// exclusively.
type Index struct {
	mu      sync.RWMutex
	path    string
	entries map[string]*Descriptor
	now     func() time.Time
	newID   func() string
}

// IndexOption configures an Index.
type IndexOption func(*Index)

// WithClock overrides the time source used for descriptor timestamps.
func WithClock(now func() time.Time) IndexOption {
	return func(ix *Index) {
		ix.now = now
	}
}

// WithIDGenerator overrides how new descriptor IDs are generated.
func WithIDGenerator(newID func() string) IndexOption {
	return func(ix *Index) {
		ix.newID = newID
	}
}

// NewIndex creates an empty index that saves to path.
func NewIndex(path string, opts ...IndexOption) *Index {
	observability.EnsureRegistered()

	ix := &Index{
		path:    path,
		entries: make(map[string]*Descriptor),
		now:     time.Now,
		newID:   func() string { return uuid.New().String() },
	}
	for _, opt := range opts {
		opt(ix)
	}
	return ix
}

// LoadIndex reads the metadata document at path. A missing document yields an
// empty index; a document that fails schema validation is an error.
func LoadIndex(path string, opts ...IndexOption) (*Index, error) {
	ix := NewIndex(path, opts...)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			log.Info().Str("path", path).Msg("Metadata index does not exist, starting empty")
			return ix, nil
		}
		return nil, storageError("failed to read metadata index", err)
	}

	schema, err := metadataSchema()
	if err != nil {
		return nil, fmt.Errorf("failed to compile metadata schema: %w", err)
	}
	result, err := schema.Validate(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: metadata index %s is not valid JSON: %v", ErrStorage, path, err)
	}
	if !result.Valid() {
		problems := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			problems = append(problems, e.String())
		}
		return nil, fmt.Errorf("%w: metadata index %s failed validation: %s", ErrStorage, path, strings.Join(problems, "; "))
	}

	var doc indexDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: failed to decode metadata index: %v", ErrStorage, err)
	}

	for i := range doc.Sessions {
		d := doc.Sessions[i]
		ix.entries[d.Key] = &d
	}

	observability.SetActiveSessions(len(ix.entries))
	log.Info().Str("path", path).Int("sessions", len(ix.entries)).Msg("Metadata index loaded")

	return ix, nil
}

// Path returns the location of the metadata document.
func (ix *Index) Path() string {
	return ix.path
}

// Get returns a copy of the descriptor for key.
func (ix *Index) Get(key string) (Descriptor, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	return ix.get(key)
}

// List returns copies of all descriptors sorted by key.
func (ix *Index) List() []Descriptor {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	return ix.list()
}

// Len returns the number of descriptors.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	return len(ix.entries)
}

// Upsert creates the descriptor for key or updates its label and updatedAt.
// A nil label leaves the current label unchanged; any other value, including
// the empty string, is stored as given.
func (ix *Index) Upsert(key string, label *string) Descriptor {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	return ix.upsert(key, label)
}

// Touch sets the cached message count and updatedAt of an existing descriptor.
// It reports false, changing nothing, when key is unknown.
func (ix *Index) Touch(key string, messageCount uint32) bool {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	return ix.touch(key, messageCount)
}

// Remove deletes the descriptor for key and reports whether it existed.
func (ix *Index) Remove(key string) bool {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	return ix.remove(key)
}

// Save writes the whole index to disk.
func (ix *Index) Save() error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	return ix.save()
}

// Mutate runs fn while holding the exclusive lock, so a check followed by a
// mutation and a save is not interleaved with any other access.
func (ix *Index) Mutate(fn func(tx *IndexTx) error) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	return fn(&IndexTx{ix: ix})
}

// IndexTx is the view of an Index handed to Mutate callbacks. It must not be
// retained after the callback returns.
type IndexTx struct {
	ix *Index
}

// Get returns a copy of the descriptor for key.
func (tx *IndexTx) Get(key string) (Descriptor, bool) {
	return tx.ix.get(key)
}

// Upsert behaves like Index.Upsert.
func (tx *IndexTx) Upsert(key string, label *string) Descriptor {
	return tx.ix.upsert(key, label)
}

// Touch behaves like Index.Touch.
func (tx *IndexTx) Touch(key string, messageCount uint32) bool {
	return tx.ix.touch(key, messageCount)
}

// Remove behaves like Index.Remove.
func (tx *IndexTx) Remove(key string) bool {
	return tx.ix.remove(key)
}

// SetMessageCount corrects the cached count of an existing descriptor without
// touching updatedAt. It reports false when key is unknown.
func (tx *IndexTx) SetMessageCount(key string, messageCount uint32) bool {
	d, ok := tx.ix.entries[key]
	if !ok {
		return false
	}
	d.MessageCount = messageCount
	return true
}

// Save behaves like Index.Save.
func (tx *IndexTx) Save() error {
	return tx.ix.save()
}

func (ix *Index) get(key string) (Descriptor, bool) {
	d, ok := ix.entries[key]
	if !ok {
		return Descriptor{}, false
	}
	return d.clone(), true
}

func (ix *Index) list() []Descriptor {
	out := make([]Descriptor, 0, len(ix.entries))
	for _, d := range ix.entries {
		out = append(out, d.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

func (ix *Index) upsert(key string, label *string) Descriptor {
	now := ix.now().UnixMilli()

	d, ok := ix.entries[key]
	if !ok {
		d = &Descriptor{
			ID:        ix.newID(),
			Key:       key,
			CreatedAt: now,
			UpdatedAt: now,
		}
		ix.entries[key] = d
	}

	if label != nil {
		l := *label
		d.Label = &l
	}
	d.UpdatedAt = now

	return d.clone()
}

func (ix *Index) touch(key string, messageCount uint32) bool {
	d, ok := ix.entries[key]
	if !ok {
		return false
	}
	d.MessageCount = messageCount
	d.UpdatedAt = ix.now().UnixMilli()
	return true
}

func (ix *Index) remove(key string) bool {
	if _, ok := ix.entries[key]; !ok {
		return false
	}
	delete(ix.entries, key)
	return true
}

// save writes the document to a temp file in the same directory and renames it
// over the old one. Callers hold the write lock.
func (ix *Index) save() (err error) {
	start := time.Now()
	defer func() {
		observability.RecordMetadataSave(time.Since(start), err == nil)
	}()

	if ix.path == "" {
		return fmt.Errorf("%w: metadata index has no path", ErrStorage)
	}

	dir := filepath.Dir(ix.path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return storageError("failed to create metadata directory", err)
	}

	data, err := json.MarshalIndent(indexDocument{Version: indexVersion, Sessions: ix.list()}, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: failed to marshal metadata index: %v", ErrStorage, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(ix.path)+"-*.tmp")
	if err != nil {
		return storageError("failed to create temp file", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		if err != nil {
			os.Remove(tmpPath)
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		tmp.Close()
		return storageError("failed to write temp file", err)
	}
	if err = tmp.Sync(); err != nil {
		tmp.Close()
		return storageError("failed to sync temp file", err)
	}
	if err = tmp.Close(); err != nil {
		return storageError("failed to close temp file", err)
	}
	if err = os.Chmod(tmpPath, 0600); err != nil {
		return storageError("failed to set metadata permissions", err)
	}
	if err = os.Rename(tmpPath, ix.path); err != nil {
		return storageError("failed to rename temp file", err)
	}

	observability.SetActiveSessions(len(ix.entries))
	log.Debug().
		Str("path", ix.path).
		Int("sessions", len(ix.entries)).
		Msg("Metadata index saved")

	return nil
}
