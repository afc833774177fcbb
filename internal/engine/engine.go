// Package engine is the orchestrator that turns a pkg/backend.Backend into
// a running system: it implements runtimeapi.RuntimeAPI by delegating
// every call to the backend, and it owns the worker pool that drains the
// schedule queue, the way the teacher's scheduler.go drives a dependency
// graph's runnable tasks through a bounded worker pool built on
// golang.org/x/sync/errgroup.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	applog "github.com/taskgraph/tgraph/internal/log"
	"github.com/taskgraph/tgraph/pkg/backend"
	"github.com/taskgraph/tgraph/pkg/id"
	"github.com/taskgraph/tgraph/pkg/registry"
	"github.com/taskgraph/tgraph/pkg/runtimeapi"
	"github.com/taskgraph/tgraph/pkg/task"
	"github.com/taskgraph/tgraph/pkg/value"
)

// ErrNoExecutionScope is returned by RuntimeAPI methods that require a
// current task (UpdateCell, EmitCollectible, ConnectTask, ...) when called
// outside of ExecScope.
var ErrNoExecutionScope = errors.New("engine: no execution scope on context")

var _ runtimeapi.RuntimeAPI = (*Engine)(nil)

// Option configures an Engine at construction time.
type Option func(*Engine)

// WithWorkers sets the worker pool size (default: 4).
func WithWorkers(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.workers = n
		}
	}
}

// WithLogger attaches a logger used for EmitEvent and diagnostics.
func WithLogger(l applog.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// WithStats attaches a metrics sink exposed to task bodies via Stats().
func WithStats(s runtimeapi.StatsSink) Option {
	return func(e *Engine) { e.stats = s }
}

// Engine drives a Backend: it implements RuntimeAPI for task bodies to
// call back into, and runs a bounded pool of workers pulling scheduled
// TaskIds off an internal queue.
type Engine struct {
	be   backend.Backend
	reg  *registry.Registry
	prov id.TaskIdProvider

	log     applog.Logger
	stats   runtimeapi.StatsSink
	workers int

	queue  chan id.TaskId
	g      *errgroup.Group
	cancel context.CancelFunc

	mu          sync.Mutex
	statefulSet map[id.TaskId]struct{}
}

// New returns an Engine driving be, issuing ids from prov, and dispatching
// Native/ResolveNative/ResolveTrait tasks against reg. Call Start before
// submitting any work.
func New(be backend.Backend, reg *registry.Registry, prov id.TaskIdProvider, opts ...Option) *Engine {
	e := &Engine{
		be:          be,
		reg:         reg,
		prov:        prov,
		log:         applog.Nop(),
		workers:     4,
		queue:       make(chan id.TaskId, 4096),
		statefulSet: make(map[id.TaskId]struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Start initializes the backend and launches the worker pool; it returns
// once the pool is running, not once all work drains (use Wait for that).
func (e *Engine) Start(ctx context.Context) {
	gctx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	g, gctx := errgroup.WithContext(gctx)
	e.g = g

	e.be.Initialize(e.prov)
	e.be.Startup(gctx, e)

	for i := 0; i < e.workers; i++ {
		g.Go(func() error {
			e.workerLoop(gctx)
			return nil
		})
	}
}

// Stop cancels the worker pool and blocks until every worker has exited.
func (e *Engine) Stop(ctx context.Context) error {
	e.be.Stop(ctx, e)
	if e.cancel != nil {
		e.cancel()
	}
	if e.g != nil {
		return e.g.Wait()
	}
	return nil
}

func (e *Engine) workerLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-e.queue:
			e.runTask(ctx, t)
		}
	}
}

func (e *Engine) runTask(ctx context.Context, t id.TaskId) {
	spec := e.be.TryStartTaskExecution(ctx, t, e)
	if spec == nil {
		return
	}

	start := time.Now()
	result := e.drive(ctx, spec)
	e.be.TaskExecutionResult(t, result, e)

	e.mu.Lock()
	_, stateful := e.statefulSet[t]
	e.mu.Unlock()

	rerun := e.be.TaskExecutionCompleted(t, time.Since(start), start, stateful, e)
	if rerun {
		e.Schedule(t)
	}
}

func (e *Engine) drive(ctx context.Context, spec *backend.ExecutionSpec) (result backend.TaskResult) {
	defer func() {
		if r := recover(); r != nil {
			result = backend.ResultPanic(fmt.Sprint(r))
		}
	}()
	vc, err := spec.Run(ctx)
	if err != nil {
		return backend.ResultErr(err)
	}
	return backend.ResultOk(vc)
}

// SubmitRoot creates and schedules a Root transient task running factory;
// Root tasks are the engine's "stateful" category — re-scheduled whenever
// one of their dependencies is invalidated (spec.md §5's "transient root
// tasks re-execute on each change").
func (e *Engine) SubmitRoot(ctx context.Context, factory task.RootFactory) id.TaskId {
	tid := e.be.CreateTransientTask(task.NewRoot(factory), e)
	e.mu.Lock()
	e.statefulSet[tid] = struct{}{}
	e.mu.Unlock()
	return tid
}

// SubmitOnce creates and schedules a Once transient task running future.
func (e *Engine) SubmitOnce(ctx context.Context, future task.OnceFuture) id.TaskId {
	return e.be.CreateTransientTask(task.NewOnce(future), e)
}

// Invalidate marks t's cached result stale and reschedules its readers.
func (e *Engine) Invalidate(t id.TaskId) {
	e.be.InvalidateTask(t, e)
}

// Wait blocks until t's output is available with a strongly-consistent
// read, retrying against the EventListener backend reads hand back while
// the task (or one of its dependencies) is still settling.
func (e *Engine) Wait(ctx context.Context, t id.TaskId) (value.RawVc, error) {
	for {
		vc, err := e.be.TryReadTaskOutputUntracked(ctx, t, true, e)
		var notReady *backend.NotReadyError
		if errors.As(err, &notReady) {
			if werr := notReady.Listener.Wait(ctx); werr != nil {
				return value.RawVc{}, werr
			}
			continue
		}
		return vc, err
	}
}

// Registry returns the function/trait catalogue this engine dispatches
// against.
func (e *Engine) Registry() *registry.Registry { return e.reg }

// Backend returns the underlying Backend this engine drives, for
// introspection (internal/introspect) and for tests that need to seed or
// invalidate state the way an external producer would, outside of any
// running task's execution scope.
func (e *Engine) Backend() backend.Backend { return e.be }

// GetTaskDescription exposes the backend's human-readable description,
// the introspection sink spec.md §6 describes.
func (e *Engine) GetTaskDescription(t id.TaskId) string {
	return e.be.GetTaskDescription(t)
}
