package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/plouffe/rdv/internal/core"
)

// Store is the durable mapping from conversation identity to negotiation
// state. UpdateThread is the only mutation path after creation: it applies
// mutate atomically and only while the thread is still in the expected state,
// returning core.ErrStateConflict otherwise. That guard is what keeps two
// near-simultaneous confirmations from booking twice.
type Store interface {
	CreateThread(ctx context.Context, th core.Thread) (core.Thread, error)
	GetThread(ctx context.Context, id string) (core.Thread, error)
	LatestThreadByMailID(ctx context.Context, mailThreadID string) (core.Thread, error)
	ListThreads(ctx context.Context, state core.ThreadState, limit int) ([]core.Thread, error)
	UpdateThread(ctx context.Context, id string, from core.ThreadState, mutate func(*core.Thread) error) (core.Thread, error)

	// ExpireStale transitions every non-terminal thread untouched since
	// olderThan to the expired state and returns the affected threads.
	ExpireStale(ctx context.Context, olderThan time.Time) ([]core.Thread, error)

	AppendEvent(ctx context.Context, ev core.Event) (core.Event, error)
	ListEvents(ctx context.Context, threadID string, limit int) ([]core.Event, error)

	Close() error
}

// InMemory is a mutex-guarded in-process store, used in tests and available
// as a throwaway backend.
type InMemory struct {
	mu      sync.Mutex
	threads map[string]core.Thread
	events  []core.Event
}

func NewInMemory() *InMemory {
	return &InMemory{threads: make(map[string]core.Thread)}
}

func (m *InMemory) CreateThread(_ context.Context, th core.Thread) (core.Thread, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if th.ID == "" {
		th.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if th.CreatedAt.IsZero() {
		th.CreatedAt = now
	}
	if th.UpdatedAt.IsZero() {
		th.UpdatedAt = now
	}
	if th.State == "" {
		th.State = core.StateNew
	}
	m.threads[th.ID] = th
	return th, nil
}

func (m *InMemory) GetThread(_ context.Context, id string) (core.Thread, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	th, ok := m.threads[id]
	if !ok {
		return core.Thread{}, core.ErrNotFound
	}
	return th, nil
}

func (m *InMemory) LatestThreadByMailID(_ context.Context, mailThreadID string) (core.Thread, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest core.Thread
	found := false
	for _, th := range m.threads {
		if th.MailThreadID != mailThreadID {
			continue
		}
		if !found || th.CreatedAt.After(latest.CreatedAt) {
			latest = th
			found = true
		}
	}
	if !found {
		return core.Thread{}, core.ErrNotFound
	}
	return latest, nil
}

func (m *InMemory) ListThreads(_ context.Context, state core.ThreadState, limit int) ([]core.Thread, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []core.Thread
	for _, th := range m.threads {
		if state != "" && th.State != state {
			continue
		}
		out = append(out, th)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *InMemory) UpdateThread(_ context.Context, id string, from core.ThreadState, mutate func(*core.Thread) error) (core.Thread, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	th, ok := m.threads[id]
	if !ok {
		return core.Thread{}, core.ErrNotFound
	}
	if th.State != from {
		return core.Thread{}, core.ErrStateConflict
	}
	if err := mutate(&th); err != nil {
		return core.Thread{}, err
	}
	th.UpdatedAt = time.Now().UTC()
	m.threads[id] = th
	return th, nil
}

func (m *InMemory) ExpireStale(_ context.Context, olderThan time.Time) ([]core.Thread, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var expired []core.Thread
	for id, th := range m.threads {
		if th.State.Terminal() || !th.UpdatedAt.Before(olderThan) {
			continue
		}
		th.State = core.StateExpired
		th.UpdatedAt = time.Now().UTC()
		m.threads[id] = th
		expired = append(expired, th)
	}
	return expired, nil
}

func (m *InMemory) AppendEvent(_ context.Context, ev core.Event) (core.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	m.events = append(m.events, ev)
	return ev, nil
}

func (m *InMemory) ListEvents(_ context.Context, threadID string, limit int) ([]core.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []core.Event
	for _, ev := range m.events {
		if threadID != "" && ev.ThreadID != threadID {
			continue
		}
		out = append(out, ev)
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (m *InMemory) Close() error { return nil }
