// Package inflight guards against running the same unit of work twice at
// once. Keys are held for a bounded time so a crashed holder cannot wedge
// them forever.
package inflight

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrHeld is returned by Acquire when another holder owns the key.
var ErrHeld = errors.New("key is held by another worker")

// Lease is a held key. Release is idempotent and only frees the key if the
// lease still owns it.
type Lease interface {
	Release(ctx context.Context) error
}

// Guard hands out exclusive, expiring leases on string keys.
type Guard interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (Lease, error)
}

// LocalGuard is a process-local Guard.
type LocalGuard struct {
	mu   sync.Mutex
	held map[string]localEntry
	now  func() time.Time
}

type localEntry struct {
	token   string
	expires time.Time
}

func NewLocalGuard() *LocalGuard {
	return &LocalGuard{
		held: make(map[string]localEntry),
		now:  time.Now,
	}
}

func (g *LocalGuard) Acquire(_ context.Context, key string, ttl time.Duration) (Lease, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if e, ok := g.held[key]; ok && now.Before(e.expires) {
		return nil, ErrHeld
	}

	token := uuid.NewString()
	g.held[key] = localEntry{token: token, expires: now.Add(ttl)}
	return &localLease{g: g, key: key, token: token}, nil
}

type localLease struct {
	g     *LocalGuard
	key   string
	token string
}

func (l *localLease) Release(context.Context) error {
	l.g.mu.Lock()
	defer l.g.mu.Unlock()
	if e, ok := l.g.held[l.key]; ok && e.token == l.token {
		delete(l.g.held, l.key)
	}
	return nil
}
