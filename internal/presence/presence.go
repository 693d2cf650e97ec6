package presence

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Store holds the set of connected agents per tenant. Implementations must make
// each operation atomic.
type Store interface {
	Add(ctx context.Context, tenantID, agentID string) error
	Remove(ctx context.Context, tenantID, agentID string) error
	Members(ctx context.Context, tenantID string) ([]string, error)
}

type Tracker struct {
	Store   Store
	Logger  zerolog.Logger
	Timeout time.Duration
}

func NewTracker(store Store, logger zerolog.Logger, timeout time.Duration) *Tracker {
	return &Tracker{Store: store, Logger: logger, Timeout: timeout}
}

func (t *Tracker) MarkOnline(ctx context.Context, tenantID, agentID string) error {
	ctx, cancel := t.bound(ctx)
	defer cancel()
	return t.Store.Add(ctx, tenantID, agentID)
}

func (t *Tracker) MarkOffline(ctx context.Context, tenantID, agentID string) error {
	ctx, cancel := t.bound(ctx)
	defer cancel()
	return t.Store.Remove(ctx, tenantID, agentID)
}

// ListOnline never fails. When the store cannot be read the tenant is treated as
// having no online agents so conversations end up queued instead of dropped.
func (t *Tracker) ListOnline(ctx context.Context, tenantID string) map[string]struct{} {
	ctx, cancel := t.bound(ctx)
	defer cancel()

	ids, err := t.Store.Members(ctx, tenantID)
	if err != nil {
		t.Logger.Warn().Err(err).Str("tenant_id", tenantID).Msg("presence store unavailable, treating tenant as offline")
		return map[string]struct{}{}
	}
	out := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		out[id] = struct{}{}
	}
	return out
}

func (t *Tracker) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if t.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, t.Timeout)
}

type MemoryStore struct {
	mu      sync.RWMutex
	tenants map[string]map[string]struct{}
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tenants: map[string]map[string]struct{}{}}
}

func (m *MemoryStore) Add(ctx context.Context, tenantID, agentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	set, ok := m.tenants[tenantID]
	if !ok {
		set = map[string]struct{}{}
		m.tenants[tenantID] = set
	}
	set[agentID] = struct{}{}
	return nil
}

func (m *MemoryStore) Remove(ctx context.Context, tenantID, agentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if set, ok := m.tenants[tenantID]; ok {
		delete(set, agentID)
		if len(set) == 0 {
			delete(m.tenants, tenantID)
		}
	}
	return nil
}

func (m *MemoryStore) Members(ctx context.Context, tenantID string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.tenants[tenantID]))
	for id := range m.tenants[tenantID] {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}
