// Package memtask is the in-memory concrete Backend: task table, per-task
// cell store and dependency graph kept entirely in Go maps behind mutexes,
// waiters wired through asaskevich/EventBus the way the teacher's own
// event package wraps that same library, and task descriptions memoized in
// a bounded hashicorp/golang-lru cache. It trades durability for the
// simplest possible correct implementation of the backend contract; see
// internal/persisttask for the durable counterpart.
package memtask

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

// descCacheCompactJob is the one background job this backend understands:
// purging the memoized description cache. Any other BackendJobId is
// accepted and ignored, since this backend schedules no maintenance of its
// own.
const descCacheCompactJob id.BackendJobId = 1

// Option configures a Backend at construction time.
type Option func(*Backend)

// WithLogger attaches a logger for diagnostic messages (failures to build
// a task's execution spec). Defaults to a no-op logger.
func WithLogger(l applog.Logger) Option {
	return func(b *Backend) { b.log = l }
}

// WithDescriptionCacheSize overrides the bounded description cache's
// capacity (default 4096 entries).
func WithDescriptionCacheSize(n int) Option {
	return func(b *Backend) { b.descCacheSize = n }
}

// Backend is the in-memory implementation of pkg/backend.Backend.
type Backend struct {
	reg *registry.Registry
	log applog.Logger

	provider id.TaskIdProvider
	stopped  atomic.Bool

	mu              sync.RWMutex
	tasks           map[id.TaskId]*taskState
	persistentIndex map[string]id.TaskId

	depsMu     sync.Mutex
	dependents map[depKey]map[id.TaskId]struct{}

	bus           evbus.Bus
	descCache     *lru.Cache[id.TaskId, string]
	descCacheSize int
}

// New returns a Backend driving dispatch against reg.
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
	cache, err := lru.New[id.TaskId, string](b.descCacheSize)
	if err != nil {
		// descCacheSize is always a compile-time-sane positive default
		// unless an Option misconfigures it; fail loudly rather than run
		// without memoization.
		panic(fmt.Sprintf("memtask: bad description cache size: %v", err))
	}
	b.descCache = cache
	return b
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
	if job == descCacheCompactJob {
		b.descCache.Purge()
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
