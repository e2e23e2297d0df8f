package ack

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// FileStore keeps records in memory and rewrites the whole table to a JSON
// file on every mutation. Updates to one confirmation number serialize on a
// per-key lock; different keys only meet at the writer lock, which is held
// from the in-memory change until the write or its rollback completes, so no
// snapshot ever contains a change that failed to persist.
type FileStore struct {
	path   string
	logger *slog.Logger
	now    func() time.Time

	mu      sync.RWMutex
	records map[string]Record

	keyMu sync.Mutex
	keys  map[string]*sync.Mutex

	writeMu   sync.Mutex
	writeFile func(path string, raw []byte) error
}

type FileStoreOption func(*FileStore)

func WithClock(now func() time.Time) FileStoreOption {
	return func(s *FileStore) { s.now = now }
}

func WithLogger(logger *slog.Logger) FileStoreOption {
	return func(s *FileStore) { s.logger = logger }
}

// OpenFileStore loads path if it exists; a missing file is an empty table.
func OpenFileStore(path string, opts ...FileStoreOption) (*FileStore, error) {
	s := &FileStore{
		path:    path,
		logger:  slog.Default(),
		now:     time.Now,
		records: map[string]Record{},
		keys:    map[string]*sync.Mutex{},
	}
	s.writeFile = writeFileAtomic
	for _, opt := range opts {
		opt(s)
	}
	raw, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return s, nil
	case err != nil:
		return nil, fmt.Errorf("read acknowledgment file: %w", err)
	}
	if len(raw) == 0 {
		return s, nil
	}
	if err := json.Unmarshal(raw, &s.records); err != nil {
		return nil, fmt.Errorf("decode acknowledgment file %s: %w", path, err)
	}
	return s, nil
}

func (s *FileStore) Path() string { return s.path }

func (s *FileStore) RecordSubmission(ctx context.Context, cn string, meta Meta) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}
	unlock := s.lockKey(cn)
	defer unlock()

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	if _, ok := s.records[cn]; ok {
		s.mu.Unlock()
		return Record{}, fmt.Errorf("%w: %s", ErrDuplicate, cn)
	}
	rec := newRecord(cn, meta, s.now().UTC())
	s.records[cn] = rec
	s.mu.Unlock()

	if err := s.persistLocked(); err != nil {
		s.mu.Lock()
		delete(s.records, cn)
		s.mu.Unlock()
		return Record{}, err
	}
	return cloneRecord(rec), nil
}

func (s *FileStore) UpdateStatus(ctx context.Context, cn string, status Status, detail string) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}
	if !status.Valid() {
		return Record{}, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	unlock := s.lockKey(cn)
	defer unlock()
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	prev, ok := s.records[cn]
	if !ok {
		s.mu.Unlock()
		return Record{}, fmt.Errorf("%w: %s", ErrNotFound, cn)
	}
	next := cloneRecord(prev)
	applyStatus(&next, status, detail, s.now().UTC())
	s.records[cn] = next
	s.mu.Unlock()

	if err := s.persistLocked(); err != nil {
		s.mu.Lock()
		s.records[cn] = prev
		s.mu.Unlock()
		return Record{}, err
	}
	return cloneRecord(next), nil
}

func (s *FileStore) Get(ctx context.Context, cn string) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[cn]
	if !ok {
		return Record{}, fmt.Errorf("%w: %s", ErrNotFound, cn)
	}
	return cloneRecord(rec), nil
}

func (s *FileStore) GetAll(ctx context.Context) (map[string]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]Record, len(s.records))
	for cn, rec := range s.records {
		out[cn] = cloneRecord(rec)
	}
	return out, nil
}

func (s *FileStore) lockKey(cn string) func() {
	s.keyMu.Lock()
	m, ok := s.keys[cn]
	if !ok {
		m = &sync.Mutex{}
		s.keys[cn] = m
	}
	s.keyMu.Unlock()
	m.Lock()
	return m.Unlock
}

// persistLocked writes a snapshot of the table. Callers hold writeMu.
func (s *FileStore) persistLocked() error {
	s.mu.RLock()
	raw, err := json.MarshalIndent(s.records, "", "  ")
	s.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("encode acknowledgment table: %w", err)
	}
	if err := s.writeFile(s.path, raw); err != nil {
		return err
	}
	s.logger.Debug("acknowledgment table persisted", "path", s.path, "bytes", len(raw))
	return nil
}

// writeFileAtomic replaces path through a synced temp file and a rename.
func writeFileAtomic(path string, raw []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create acknowledgment dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp acknowledgment file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("write acknowledgment file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("sync acknowledgment file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close acknowledgment file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return fmt.Errorf("replace acknowledgment file: %w", err)
	}
	return nil
}
