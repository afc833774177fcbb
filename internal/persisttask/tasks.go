package persisttask

import (
	"context"
	"sync"
	"time"

	"github.com/taskgraph/tgraph/internal/dispatch"
	"github.com/taskgraph/tgraph/pkg/backend"
	"github.com/taskgraph/tgraph/pkg/id"
	"github.com/taskgraph/tgraph/pkg/runtimeapi"
	"github.com/taskgraph/tgraph/pkg/task"
	"github.com/taskgraph/tgraph/pkg/value"
)

// depKind distinguishes the three things a tracked read can depend on.
type depKind uint8

const (
	depOutput depKind = iota
	depCell
	depCollectible
)

// depKey names one thing a task's tracked read can depend on: another
// task's output, one of its cells, or its collectible set for a trait.
type depKey struct {
	kind  depKind
	task  id.TaskId
	cell  id.CellId
	trait id.TraitTypeId
}

// taskState is everything the backend keeps about one task instance in
// memory, guarded by its own mutex so unrelated tasks never contend. Cell
// content itself is not here -- it lives in the durable store -- but the
// bookkeeping around it (dependency edges, scheduling state) is identical
// in shape to internal/memtask's, since that bookkeeping is a property of
// the backend contract, not of the storage layer underneath it.
type taskState struct {
	mu sync.Mutex

	desc task.Descriptor

	dirty     bool
	executing bool
	finished  bool
	epoch     uint64

	hasResult bool
	output    value.RawVc
	outputErr error

	deps        map[depKey]struct{}
	pendingDeps map[depKey]struct{}

	collectibles map[id.TraitTypeId]map[value.RawVc]int

	parents  map[id.TaskId]struct{}
	children map[id.TaskId]struct{}
}

func newTaskState(desc task.Descriptor) *taskState {
	return &taskState{
		desc:     desc,
		dirty:    true,
		parents:  make(map[id.TaskId]struct{}),
		children: make(map[id.TaskId]struct{}),
	}
}

// GetOrCreatePersistentTask is cache-keyed by tt.CacheKey(): two calls with
// an equal key always return the same TaskId, even under concurrent
// callers racing the same key for the first time.
func (b *Backend) GetOrCreatePersistentTask(ctx context.Context, tt task.PersistentTaskType, parent id.TaskId, api runtimeapi.RuntimeAPI) id.TaskId {
	key := tt.CacheKey()

	b.mu.RLock()
	if existing, ok := b.persistentIndex[key]; ok {
		b.mu.RUnlock()
		b.connectStructural(existing, parent)
		return existing
	}
	b.mu.RUnlock()

	b.mu.Lock()
	if existing, ok := b.persistentIndex[key]; ok {
		b.mu.Unlock()
		b.connectStructural(existing, parent)
		return existing
	}
	tid := b.provider.IssueTaskId()
	b.tasks[tid] = newTaskState(task.FromPersistent(tt))
	b.persistentIndex[key] = tid
	b.mu.Unlock()

	b.connectStructural(tid, parent)
	api.Schedule(tid)
	return tid
}

// CreateTransientTask allocates a fresh TaskId every call; two equal
// TransientTaskType values are never merged.
func (b *Backend) CreateTransientTask(tt task.TransientTaskType, api runtimeapi.RuntimeAPI) id.TaskId {
	tid := b.provider.IssueTaskId()
	b.mu.Lock()
	b.tasks[tid] = newTaskState(task.FromTransient(tt))
	b.mu.Unlock()
	api.Schedule(tid)
	return tid
}

// ConnectTask adds a structural parent->child edge. It never marks
// anything dirty: structural edges describe call-tree shape, used for
// collectible aggregation, not dependency tracking.
func (b *Backend) ConnectTask(t, parent id.TaskId, api runtimeapi.RuntimeAPI) {
	b.connectStructural(t, parent)
}

func (b *Backend) connectStructural(child, parent id.TaskId) {
	if !parent.IsValid() || !child.IsValid() || parent == child {
		return
	}
	pst, ok := b.get(parent)
	if !ok {
		return
	}
	cst, ok := b.get(child)
	if !ok {
		return
	}
	pst.mu.Lock()
	pst.children[child] = struct{}{}
	pst.mu.Unlock()
	cst.mu.Lock()
	cst.parents[parent] = struct{}{}
	cst.mu.Unlock()
}

// TryStartTaskExecution returns a non-nil spec exactly once per dirty
// epoch: it atomically flips dirty->executing and resets the pending
// dependency accumulator for the run about to start.
func (b *Backend) TryStartTaskExecution(ctx context.Context, t id.TaskId, api runtimeapi.RuntimeAPI) *backend.ExecutionSpec {
	st, ok := b.get(t)
	if !ok {
		return nil
	}

	st.mu.Lock()
	if !st.dirty || st.executing {
		st.mu.Unlock()
		return nil
	}
	st.dirty = false
	st.executing = true
	st.pendingDeps = make(map[depKey]struct{})
	desc := st.desc
	st.mu.Unlock()

	spec, err := dispatch.BuildExecutionSpec(b.reg, t, desc, api)
	if err != nil {
		b.log.Error("build execution spec", "error", err)
		st.mu.Lock()
		st.executing = false
		st.mu.Unlock()
		return nil
	}
	return spec
}

// TaskExecutionResult records the run's outcome and wakes output waiters.
// Dependents are invalidated only when the published output actually
// differs from what was there before.
func (b *Backend) TaskExecutionResult(t id.TaskId, result backend.TaskResult, api runtimeapi.RuntimeAPI) {
	st, ok := b.get(t)
	if !ok {
		return
	}

	st.mu.Lock()
	prevHad, prevOut, prevErrNil := st.hasResult, st.output, st.outputErr == nil

	switch {
	case result.IsPanic():
		st.outputErr = wrapPanic(result.PanicMessage())
		st.output = value.RawVc{}
	case result.IsErr():
		st.outputErr = wrapTaskError(result.Err())
		st.output = value.RawVc{}
	default:
		st.outputErr = nil
		st.output = result.Output()
	}
	st.hasResult = true
	changed := !prevHad || prevOut != st.output || prevErrNil != (st.outputErr == nil)
	st.mu.Unlock()

	b.publish(outputTopic(t))
	if changed {
		b.invalidateReadersOf(depKey{kind: depOutput, task: t}, api)
	}
}

// TaskExecutionCompleted replaces the task's tracked dependency edge set
// with the one accumulated during the run just finished, reconciling the
// reverse index, and reports whether the run should be repeated
// immediately.
func (b *Backend) TaskExecutionCompleted(t id.TaskId, duration time.Duration, start time.Time, stateful bool, api runtimeapi.RuntimeAPI) bool {
	st, ok := b.get(t)
	if !ok {
		return false
	}

	st.mu.Lock()
	oldDeps := st.deps
	newDeps := st.pendingDeps
	if newDeps == nil {
		newDeps = map[depKey]struct{}{}
	}
	st.deps = newDeps
	st.pendingDeps = nil
	st.executing = false
	rerun := stateful && st.dirty
	st.mu.Unlock()

	b.reconcileEdges(t, oldDeps, newDeps)
	return rerun
}

func (b *Backend) reconcileEdges(reader id.TaskId, old, fresh map[depKey]struct{}) {
	b.depsMu.Lock()
	defer b.depsMu.Unlock()
	for k := range old {
		if _, keep := fresh[k]; keep {
			continue
		}
		if set := b.dependents[k]; set != nil {
			delete(set, reader)
			if len(set) == 0 {
				delete(b.dependents, k)
			}
		}
	}
	for k := range fresh {
		if b.dependents[k] == nil {
			b.dependents[k] = make(map[id.TaskId]struct{})
		}
		b.dependents[k][reader] = struct{}{}
	}
}
