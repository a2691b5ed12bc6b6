package sqlite

import (
	"context"
	"errors"
	"time"

	"github.com/plouffe/rdv/internal/core"
	"github.com/plouffe/rdv/internal/storage"
)

// Compile-time interface check.
var _ storage.Store = (*ResilientStore)(nil)

// ResilientStore wraps every Store method with CircuitBreaker + RetryOnDBLock
// to ride out transient SQLite errors (database-is-locked, connection
// failures).
type ResilientStore struct {
	inner *Store
	cb    *CircuitBreaker
}

// NewResilient creates a ResilientStore with default breaker settings
// (threshold=5, resetTimeout=30s).
func NewResilient(inner *Store) *ResilientStore {
	return &ResilientStore{inner: inner, cb: NewCircuitBreaker(5, 30*time.Second)}
}

// NewResilientWithBreaker creates a ResilientStore with a custom breaker.
func NewResilientWithBreaker(inner *Store, cb *CircuitBreaker) *ResilientStore {
	return &ResilientStore{inner: inner, cb: cb}
}

// CircuitBreakerState returns the current breaker state as a string.
func (r *ResilientStore) CircuitBreakerState() string {
	return r.cb.State().String()
}

// exec routes fn through breaker + retry. Domain outcomes (not-found,
// state conflict) are returned to the caller without counting as breaker
// failures.
func (r *ResilientStore) exec(fn func() error) error {
	var domainErr error
	err := r.cb.Execute(func() error {
		err := RetryOnDBLock(fn)
		if errors.Is(err, core.ErrNotFound) || errors.Is(err, core.ErrStateConflict) {
			domainErr = err
			return nil
		}
		return err
	})
	if err == nil {
		return domainErr
	}
	return err
}

func (r *ResilientStore) CreateThread(ctx context.Context, th core.Thread) (core.Thread, error) {
	var result core.Thread
	err := r.exec(func() error {
		var innerErr error
		result, innerErr = r.inner.CreateThread(ctx, th)
		return innerErr
	})
	return result, err
}

func (r *ResilientStore) GetThread(ctx context.Context, id string) (core.Thread, error) {
	var result core.Thread
	err := r.exec(func() error {
		var innerErr error
		result, innerErr = r.inner.GetThread(ctx, id)
		return innerErr
	})
	return result, err
}

func (r *ResilientStore) LatestThreadByMailID(ctx context.Context, mailThreadID string) (core.Thread, error) {
	var result core.Thread
	err := r.exec(func() error {
		var innerErr error
		result, innerErr = r.inner.LatestThreadByMailID(ctx, mailThreadID)
		return innerErr
	})
	return result, err
}

func (r *ResilientStore) ListThreads(ctx context.Context, state core.ThreadState, limit int) ([]core.Thread, error) {
	var result []core.Thread
	err := r.exec(func() error {
		var innerErr error
		result, innerErr = r.inner.ListThreads(ctx, state, limit)
		return innerErr
	})
	return result, err
}

func (r *ResilientStore) UpdateThread(ctx context.Context, id string, from core.ThreadState, mutate func(*core.Thread) error) (core.Thread, error) {
	// No lock retry here: a state conflict is a real outcome, not a
	// transient fault, and mutate must not run twice after a partial commit.
	var result core.Thread
	var domainErr error
	err := r.cb.Execute(func() error {
		var innerErr error
		result, innerErr = r.inner.UpdateThread(ctx, id, from, mutate)
		if errors.Is(innerErr, core.ErrNotFound) || errors.Is(innerErr, core.ErrStateConflict) {
			domainErr = innerErr
			return nil
		}
		return innerErr
	})
	if err == nil {
		return result, domainErr
	}
	return result, err
}

func (r *ResilientStore) ExpireStale(ctx context.Context, olderThan time.Time) ([]core.Thread, error) {
	var result []core.Thread
	err := r.exec(func() error {
		var innerErr error
		result, innerErr = r.inner.ExpireStale(ctx, olderThan)
		return innerErr
	})
	return result, err
}

func (r *ResilientStore) AppendEvent(ctx context.Context, ev core.Event) (core.Event, error) {
	var result core.Event
	err := r.exec(func() error {
		var innerErr error
		result, innerErr = r.inner.AppendEvent(ctx, ev)
		return innerErr
	})
	return result, err
}

func (r *ResilientStore) ListEvents(ctx context.Context, threadID string, limit int) ([]core.Event, error) {
	var result []core.Event
	err := r.exec(func() error {
		var innerErr error
		result, innerErr = r.inner.ListEvents(ctx, threadID, limit)
		return innerErr
	})
	return result, err
}

func (r *ResilientStore) Close() error {
	return r.inner.Close()
}
