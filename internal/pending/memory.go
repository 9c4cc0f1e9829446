package pending

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/osda-portal/apiserver/internal/store"
	"github.com/osda-portal/apiserver/types"
)

var errMissingID = errors.New("pending: missing id")

// MemoryStore keeps pending identities in process memory.
type MemoryStore struct {
	mu    sync.Mutex
	items map[string]types.PendingFederatedIdentity
	now   func() time.Time
}

// Option configures a MemoryStore.
type Option func(*MemoryStore)

// WithClock overrides time.Now for expiry checks.
func WithClock(now func() time.Time) Option {
	return func(s *MemoryStore) {
		if now != nil {
			s.now = now
		}
	}
}

func NewMemoryStore(opts ...Option) *MemoryStore {
	s := &MemoryStore{
		items: make(map[string]types.PendingFederatedIdentity),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemoryStore) Save(_ context.Context, pending types.PendingFederatedIdentity) error {
	if strings.TrimSpace(pending.ID) == "" {
		return errMissingID
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[pending.ID] = pending
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (types.PendingFederatedIdentity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pending, ok := s.items[id]
	if !ok {
		return types.PendingFederatedIdentity{}, store.ErrNotFound
	}
	if s.expired(pending) {
		delete(s.items, id)
		return types.PendingFederatedIdentity{}, store.ErrNotFound
	}
	return pending, nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, id)
	return nil
}

// Sweep drops expired entries and returns how many were removed.
func (s *MemoryStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, pending := range s.items {
		if s.expired(pending) {
			delete(s.items, id)
			removed++
		}
	}
	return removed
}

// Run sweeps every interval until ctx is done.
func (s *MemoryStore) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}

func (s *MemoryStore) expired(pending types.PendingFederatedIdentity) bool {
	return !pending.ExpiresAt.IsZero() && !s.now().Before(pending.ExpiresAt)
}
