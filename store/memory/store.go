// Package memory is a fully in-memory Store. It is safe for concurrent
// use and honours the same conditional-update guards as the SQL stores,
// so it doubles as the fake in unit tests.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/xraph/unmark/dlq"
	"github.com/xraph/unmark/job"
	"github.com/xraph/unmark/ledger"
	"github.com/xraph/unmark/settlement"
	"github.com/xraph/unmark/task"
)

// Ensure Store implements every subsystem store at compile time.
// We can't import store here (import cycle), so we verify each subsystem.
var (
	_ task.Store       = (*Store)(nil)
	_ settlement.Store = (*Store)(nil)
	_ job.Store        = (*Store)(nil)
	_ dlq.Store        = (*Store)(nil)
)

// Option configures a Store.
type Option func(*Store)

// WithClock replaces the store's time source. Tests use it to age
// tasks past the stuck threshold without sleeping.
func WithClock(now func() time.Time) Option {
	return func(m *Store) { m.now = now }
}

// Store is a fully in-memory implementation of store.Store.
type Store struct {
	mu  sync.RWMutex
	now func() time.Time

	tasks    map[string]*task.Task
	balances map[string]int64
	ledger   []*ledger.Entry
	jobs     map[string]*job.Job
	jobKeys  map[string]string // live dedupe key -> job id
	dlqs     map[string]*dlq.Entry
}

// New returns a new empty Store.
func New(opts ...Option) *Store {
	m := &Store{
		now:      func() time.Time { return time.Now().UTC() },
		tasks:    make(map[string]*task.Task),
		balances: make(map[string]int64),
		jobs:     make(map[string]*job.Job),
		jobKeys:  make(map[string]string),
		dlqs:     make(map[string]*dlq.Entry),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Migrate is a no-op for the memory store.
func (m *Store) Migrate(_ context.Context) error { return nil }

// Ping always succeeds for the memory store.
func (m *Store) Ping(_ context.Context) error { return nil }

// Close is a no-op for the memory store.
func (m *Store) Close() error { return nil }
