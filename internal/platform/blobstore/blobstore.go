// Package blobstore keeps uploaded encounter audio and clinical attachments.
// Stored objects are addressed by the relative path returned from Save, which
// is what encounters persist and what the static /uploads route serves.
package blobstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

var (
	ErrNotFound        = errors.New("blob not found")
	ErrOutsideRoot     = errors.New("blob path is outside the upload root")
	ErrMissingFileName = errors.New("file name is required")
)

// Store is implemented by DiskStore and MemoryStore.
type Store interface {
	// Save writes content under a fresh name derived from the form field and
	// the original file name, returning the stored path.
	Save(ctx context.Context, field, fileName string, content io.Reader) (string, error)
	// Open returns the content at a path previously returned by Save.
	Open(ctx context.Context, p string) (io.ReadCloser, error)
}

// ObjectName builds "<field>-<unixmillis>-<random><ext>".
func ObjectName(field, fileName string, now time.Time) string {
	return fmt.Sprintf("%s-%d-%d%s", field, now.UnixMilli(), rand.Intn(1_000_000_000), filepath.Ext(fileName))
}

// ---------------------------------------------------------------------------
// Disk
// ---------------------------------------------------------------------------

// DiskStore writes files into a single directory. Returned paths are
// root-relative to the process working directory, e.g. "uploads/audio-...".
type DiskStore struct {
	root string
	now  func() time.Time
}

// NewDiskStore creates the root directory if needed.
func NewDiskStore(root string) (*DiskStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir %s: %w", root, err)
	}
	return &DiskStore{root: filepath.Clean(root), now: time.Now}, nil
}

// Root is the directory files are written to.
func (s *DiskStore) Root() string { return s.root }

func (s *DiskStore) Save(ctx context.Context, field, fileName string, content io.Reader) (string, error) {
	if fileName == "" {
		return "", ErrMissingFileName
	}
	p := filepath.Join(s.root, ObjectName(field, fileName, s.now()))

	f, err := os.OpenFile(p, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return "", fmt.Errorf("create %s: %w", p, err)
	}
	if _, err := io.Copy(f, content); err != nil {
		f.Close()
		os.Remove(p)
		return "", fmt.Errorf("write %s: %w", p, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(p)
		return "", fmt.Errorf("close %s: %w", p, err)
	}
	return filepath.ToSlash(p), nil
}

// Open refuses paths that resolve outside the root; stored paths come back
// from clients on resubmission.
func (s *DiskStore) Open(ctx context.Context, p string) (io.ReadCloser, error) {
	clean := filepath.Clean(filepath.FromSlash(p))
	rel, err := filepath.Rel(s.root, clean)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return nil, fmt.Errorf("%w: %s", ErrOutsideRoot, p)
	}

	f, err := os.Open(clean)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, p)
		}
		return nil, fmt.Errorf("open %s: %w", p, err)
	}
	return f, nil
}

// ---------------------------------------------------------------------------
// In-memory
// ---------------------------------------------------------------------------

// MemoryStore is a thread-safe Store for tests.
type MemoryStore struct {
	prefix string

	mu    sync.RWMutex
	blobs map[string][]byte
}

func NewMemoryStore(prefix string) *MemoryStore {
	return &MemoryStore{
		prefix: prefix,
		blobs:  make(map[string][]byte),
	}
}

func (s *MemoryStore) Save(_ context.Context, field, fileName string, content io.Reader) (string, error) {
	if fileName == "" {
		return "", ErrMissingFileName
	}
	data, err := io.ReadAll(content)
	if err != nil {
		return "", fmt.Errorf("read content: %w", err)
	}
	p := path.Join(s.prefix, ObjectName(field, fileName, time.Now()))

	s.mu.Lock()
	s.blobs[p] = data
	s.mu.Unlock()
	return p, nil
}

// Put stores content at an exact path.
func (s *MemoryStore) Put(p string, data []byte) {
	s.mu.Lock()
	s.blobs[p] = append([]byte(nil), data...)
	s.mu.Unlock()
}

func (s *MemoryStore) Open(_ context.Context, p string) (io.ReadCloser, error) {
	s.mu.RLock()
	data, ok := s.blobs[p]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, p)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// Len reports how many objects are stored.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.blobs)
}
