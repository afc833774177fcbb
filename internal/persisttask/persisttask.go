// Package persisttask is the durable concrete Backend: cell content lives
// in Badger (github.com/dgraph-io/badger/v3) fronted by a bigcache
// (github.com/allegro/bigcache/v3) read-through cache, while the task
// table and dependency graph stay in Go maps behind mutexes the same way
// internal/memtask keeps them -- scheduling semantics are a property of
// the contract in pkg/backend, not of where cell bytes happen to live, so
// there is nothing to gain by re-deriving them differently here. Waiters
// are wired through asaskevich/EventBus and task descriptions memoized in
// a bounded hashicorp/golang-lru cache, matching internal/memtask's choices
// for the same reasons. See internal/backendconformance for the test suite
// both backends are held to.
package persisttask

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	evbus "github.com/asaskevich/EventBus"
	lru "github.com/hashicorp/golang-lru/v2"

	applog "github.com/taskgraph/tgraph/internal/log"
	"github.com/taskgraph/tgraph/pkg/backend"
	"github.com/taskgraph/tgraph/pkg/id"
	"github.com/taskgraph/tgraph/pkg/registry"
	"github.com/taskgraph/tgraph/pkg/runtimeapi"
)

var _ backend.Backend = (*Backend)(nil)

// valueLogGCJob is the durable backend's one background job: compacting
// Badger's value log. Any other BackendJobId is accepted and ignored.
const valueLogGCJob id.BackendJobId = 1

// Option configures a Backend at construction time.
type Option func(*Backend)

// WithLogger attaches a logger for diagnostic messages (failures to build
// a task's execution spec, cell storage errors). Defaults to a no-op logger.
func WithLogger(l applog.Logger) Option {
	return func(b *Backend) { b.log = l }
}

// WithDataDir points the backend's Badger instance at an on-disk directory
// so state survives a process restart. The default is an in-memory
// instance (no persistence across restarts, just the durable-write-path
// code exercised).
func WithDataDir(dir string) Option {
	return func(b *Backend) { b.dataDir = dir }
}

// WithDescriptionCacheSize overrides the bounded description cache's
// capacity (default 4096 entries).
func WithDescriptionCacheSize(n int) Option {
	return func(b *Backend) { b.descCacheSize = n }
}

// Backend is the Badger/bigcache-backed implementation of
// pkg/backend.Backend.
type Backend struct {
	reg *registry.Registry
	log applog.Logger

	dataDir       string
	descCacheSize int

	provider id.TaskIdProvider
	stopped  atomic.Bool

	store *cellStore

	mu              sync.RWMutex
	tasks           map[id.TaskId]*taskState
	persistentIndex map[string]id.TaskId

	depsMu     sync.Mutex
	dependents map[depKey]map[id.TaskId]struct{}

	bus           evbus.Bus
	descCache     *lru.Cache[id.TaskId, string]
}

// New returns a Backend driving dispatch against reg. It opens its Badger
// store eagerly; a construction failure (a bad data directory, for
// example) panics the same way memtask.New panics on a misconfigured
// description cache size, since both are programmer errors rather than
// runtime conditions a caller can usefully recover from.
func New(reg *registry.Registry, opts ...Option) *Backend {
	b := &Backend{
		reg:             reg,
		log:             applog.Nop(),
		tasks:           make(map[id.TaskId]*taskState),
		persistentIndex: make(map[string]id.TaskId),
		dependents:      make(map[depKey]map[id.TaskId]struct{}),
		bus:             evbus.New(),
		descCacheSize:   4096,
	}
	for _, opt := range opts {
		opt(b)
	}

	store, err := openCellStore(storeConfig{Dir: b.dataDir, Log: b.log})
	if err != nil {
		panic(fmt.Sprintf("persisttask: %v", err))
	}
	b.store = store

	cache, err := lru.New[id.TaskId, string](b.descCacheSize)
	if err != nil {
		panic(fmt.Sprintf("persisttask: bad description cache size: %v", err))
	}
	b.descCache = cache
	return b
}

// Close releases the underlying Badger handle. Safe to call once after the
// owning engine has stopped.
func (b *Backend) Close() error {
	return b.store.Close()
}

func (b *Backend) Initialize(provider id.TaskIdProvider) {
	b.provider = provider
}

func (b *Backend) Startup(ctx context.Context, api runtimeapi.RuntimeAPI) {}

func (b *Backend) Stop(ctx context.Context, api runtimeapi.RuntimeAPI) {
	b.stopped.Store(true)
}

func (b *Backend) IdleStart(ctx context.Context, api runtimeapi.RuntimeAPI) {}

func (b *Backend) RunBackendJob(ctx context.Context, job id.BackendJobId, api runtimeapi.RuntimeAPI) {
	switch job {
	case valueLogGCJob:
		b.store.GC()
	default:
		// Unknown jobs are ignored; this backend schedules no others.
	}
}

func (b *Backend) MarkOwnTaskAsFinished(t id.TaskId, api runtimeapi.RuntimeAPI) {
	if st, ok := b.get(t); ok {
		st.mu.Lock()
		st.finished = true
		st.mu.Unlock()
	}
}

// GetTaskDescription is total: a TaskId this backend never issued still
// gets a readable placeholder instead of a panic.
func (b *Backend) GetTaskDescription(t id.TaskId) string {
	if s, ok := b.descCache.Get(t); ok {
		return s
	}
	st, ok := b.get(t)
	if !ok {
		return fmt.Sprintf("%s (unknown)", t)
	}
	st.mu.Lock()
	s := fmt.Sprintf("%s %s", t, st.desc.String())
	st.mu.Unlock()
	b.descCache.Add(t, s)
	return s
}

func (b *Backend) get(t id.TaskId) (*taskState, bool) {
	b.mu.RLock()
	st, ok := b.tasks[t]
	b.mu.RUnlock()
	return st, ok
}
