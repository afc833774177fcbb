package persisttask

import (
	"context"
	"fmt"

	"github.com/taskgraph/tgraph/pkg/backend"
	"github.com/taskgraph/tgraph/pkg/errs"
	"github.com/taskgraph/tgraph/pkg/id"
	"github.com/taskgraph/tgraph/pkg/runtimeapi"
	"github.com/taskgraph/tgraph/pkg/value"
)

// maxQuiescenceWalk bounds the strongly-consistent read's graph walk so a
// cyclic task graph fails fast instead of looping forever.
const maxQuiescenceWalk = 100_000

func (b *Backend) recordDep(reader id.TaskId, key depKey) {
	st, ok := b.get(reader)
	if !ok {
		return
	}
	st.mu.Lock()
	if st.pendingDeps != nil {
		st.pendingDeps[key] = struct{}{}
	}
	st.mu.Unlock()
}

func (b *Backend) TryReadTaskOutput(ctx context.Context, t, reader id.TaskId, stronglyConsistent bool, api runtimeapi.RuntimeAPI) (value.RawVc, error) {
	if reader.IsValid() {
		b.recordDep(reader, depKey{kind: depOutput, task: t})
	}
	return b.readOutput(ctx, t, stronglyConsistent)
}

func (b *Backend) TryReadTaskOutputUntracked(ctx context.Context, t id.TaskId, stronglyConsistent bool, api runtimeapi.RuntimeAPI) (value.RawVc, error) {
	return b.readOutput(ctx, t, stronglyConsistent)
}

func (b *Backend) readOutput(ctx context.Context, t id.TaskId, stronglyConsistent bool) (value.RawVc, error) {
	st, ok := b.get(t)
	if !ok {
		return value.RawVc{}, fmt.Errorf("%w: %s", errs.ErrTaskNotFound, t)
	}
	if stronglyConsistent {
		if err := b.awaitQuiescence(ctx, t); err != nil {
			return value.RawVc{}, err
		}
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	if !st.hasResult {
		return value.RawVc{}, &backend.NotReadyError{Listener: b.listenerFor(outputTopic(t))}
	}
	if st.outputErr != nil {
		return value.RawVc{}, st.outputErr
	}
	return st.output, nil
}

func (b *Backend) TryReadTaskCell(ctx context.Context, t id.TaskId, cell id.CellId, reader id.TaskId, api runtimeapi.RuntimeAPI) (value.CellContent, error) {
	if reader.IsValid() {
		b.recordDep(reader, depKey{kind: depCell, task: t, cell: cell})
	}
	return b.readCell(t, cell)
}

func (b *Backend) TryReadTaskCellUntracked(ctx context.Context, t id.TaskId, cell id.CellId, api runtimeapi.RuntimeAPI) (value.CellContent, error) {
	return b.readCell(t, cell)
}

func (b *Backend) readCell(t id.TaskId, cell id.CellId) (value.CellContent, error) {
	if _, ok := b.get(t); !ok {
		return value.CellContent{}, fmt.Errorf("%w: %s", errs.ErrTaskNotFound, t)
	}
	content, ok, err := b.store.Get(t, cell)
	if err != nil {
		return value.CellContent{}, err
	}
	if !ok {
		return value.CellContent{}, &backend.NotReadyError{Listener: b.listenerFor(cellTopic(t, cell))}
	}
	return content, nil
}

// TryReadOwnTaskCellUntracked never blocks and never errors: a storage
// error or a cell the current task has not written yet both read back as
// empty, the durable backend's analogue of internal/memtask's "missing map
// entry" case.
func (b *Backend) TryReadOwnTaskCellUntracked(ctx context.Context, current id.TaskId, cell id.CellId, api runtimeapi.RuntimeAPI) value.CellContent {
	content, ok, err := b.store.Get(current, cell)
	if err != nil || !ok {
		return value.CellContent{}
	}
	return content
}

// UpdateTaskCell publishes new content unconditionally, the same
// over-invalidate policy internal/memtask documents: the backend has no
// way to compare two SharedReference payloads without the caller's help.
func (b *Backend) UpdateTaskCell(t id.TaskId, cell id.CellId, content value.CellContent, api runtimeapi.RuntimeAPI) {
	if _, ok := b.get(t); !ok {
		return
	}
	b.store.Put(t, cell, content)

	b.publish(cellTopic(t, cell))
	b.invalidateReadersOf(depKey{kind: depCell, task: t, cell: cell}, api)
}

// InvalidateTask marks t's entire prior result stale: its output and every
// cell it has ever published (enumerated from the durable store, since
// this backend keeps no separate in-memory set of written cells). Readers
// of any of those are marked dirty and scheduled before t itself even
// finishes recomputing.
func (b *Backend) InvalidateTask(t id.TaskId, api runtimeapi.RuntimeAPI) {
	st, ok := b.get(t)
	if !ok {
		return
	}

	st.mu.Lock()
	st.dirty = true
	st.epoch++
	st.mu.Unlock()

	api.Schedule(t)
	b.invalidateReadersOf(depKey{kind: depOutput, task: t}, api)
	for _, cid := range b.store.Keys(t) {
		b.invalidateReadersOf(depKey{kind: depCell, task: t, cell: cid}, api)
	}
}

func (b *Backend) InvalidateTasks(ts []id.TaskId, api runtimeapi.RuntimeAPI) {
	for _, t := range ts {
		b.InvalidateTask(t, api)
	}
}

func (b *Backend) invalidateReadersOf(key depKey, api runtimeapi.RuntimeAPI) {
	b.depsMu.Lock()
	set := b.dependents[key]
	readers := make([]id.TaskId, 0, len(set))
	for r := range set {
		readers = append(readers, r)
	}
	b.depsMu.Unlock()

	for _, r := range readers {
		b.markDirtyAndSchedule(r, api)
	}
}

func (b *Backend) markDirtyAndSchedule(t id.TaskId, api runtimeapi.RuntimeAPI) {
	st, ok := b.get(t)
	if !ok {
		return
	}
	st.mu.Lock()
	st.dirty = true
	st.epoch++
	st.mu.Unlock()
	api.Schedule(t)
}

// awaitQuiescence blocks until t and every task it transitively, trackedly
// depends on have settled (neither dirty nor executing). The walk is
// necessarily approximate under concurrent mutation of the dependency
// graph: it re-walks from scratch after each wait.
func (b *Backend) awaitQuiescence(ctx context.Context, t id.TaskId) error {
	for {
		unsettled, found, err := b.findUnsettled(t)
		if err != nil {
			return err
		}
		if !found {
			return nil
		}
		l := b.listenerFor(outputTopic(unsettled))
		if err := l.Wait(ctx); err != nil {
			return err
		}
	}
}

func (b *Backend) findUnsettled(root id.TaskId) (id.TaskId, bool, error) {
	seen := make(map[id.TaskId]struct{}, 8)
	queue := []id.TaskId{root}

	for len(queue) > 0 {
		t := queue[0]
		queue = queue[1:]
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		if len(seen) > maxQuiescenceWalk {
			return id.TaskId(0), false, fmt.Errorf("%w: quiescence walk from %s exceeded %d tasks", errs.ErrCycleDetected, root, maxQuiescenceWalk)
		}

		st, ok := b.get(t)
		if !ok {
			continue
		}
		st.mu.Lock()
		unsettled := st.dirty || st.executing
		deps := make([]depKey, 0, len(st.deps))
		for k := range st.deps {
			deps = append(deps, k)
		}
		st.mu.Unlock()

		if unsettled {
			return t, true, nil
		}
		for _, k := range deps {
			if k.kind == depOutput || k.kind == depCell {
				queue = append(queue, k.task)
			}
		}
	}
	return id.TaskId(0), false, nil
}
