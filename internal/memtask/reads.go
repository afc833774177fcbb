package memtask

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
// cyclic task graph (spec.md §9) fails fast instead of looping forever.
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
	st, ok := b.get(t)
	if !ok {
		return value.CellContent{}, fmt.Errorf("%w: %s", errs.ErrTaskNotFound, t)
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	content, ok := st.cells[cell]
	if !ok {
		return value.CellContent{}, &backend.NotReadyError{Listener: b.listenerFor(cellTopic(t, cell))}
	}
	return content, nil
}

// TryReadOwnTaskCellUntracked never blocks and never errors: a cell the
// current task has not written yet simply reads back empty.
func (b *Backend) TryReadOwnTaskCellUntracked(ctx context.Context, current id.TaskId, cell id.CellId, api runtimeapi.RuntimeAPI) value.CellContent {
	st, ok := b.get(current)
	if !ok {
		return value.CellContent{}
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.cells[cell]
}

// UpdateTaskCell publishes new content unconditionally: every explicit
// call is treated as a content change (the backend has no way to compare
// two SharedReference payloads without the caller's help, so it favors
// over-invalidating a rare same-value rewrite over risking a stale read).
func (b *Backend) UpdateTaskCell(t id.TaskId, cell id.CellId, content value.CellContent, api runtimeapi.RuntimeAPI) {
	st, ok := b.get(t)
	if !ok {
		return
	}
	st.mu.Lock()
	if st.cells == nil {
		st.cells = make(map[id.CellId]value.CellContent)
	}
	st.cells[cell] = content
	st.mu.Unlock()

	b.publish(cellTopic(t, cell))
	b.invalidateReadersOf(depKey{kind: depCell, task: t, cell: cell}, api)
}

// InvalidateTask marks t's entire prior result stale: its output and
// every cell it has ever published. Dependents of any of those are marked
// dirty and scheduled so the invalidation reaches them before t itself
// even finishes recomputing (spec.md §4.4 step 4).
func (b *Backend) InvalidateTask(t id.TaskId, api runtimeapi.RuntimeAPI) {
	st, ok := b.get(t)
	if !ok {
		return
	}

	st.mu.Lock()
	st.dirty = true
	st.epoch++
	cellKeys := make([]depKey, 0, len(st.cells))
	for cid := range st.cells {
		cellKeys = append(cellKeys, depKey{kind: depCell, task: t, cell: cid})
	}
	st.mu.Unlock()

	api.Schedule(t)
	b.invalidateReadersOf(depKey{kind: depOutput, task: t}, api)
	for _, k := range cellKeys {
		b.invalidateReadersOf(k, api)
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

// awaitQuiescence blocks until t and every task it transitively,
// trackedly depends on have settled (neither dirty nor executing), the
// strongly-consistent read semantics of spec.md §4.4 step 5. The walk is
// necessarily approximate under concurrent mutation of the dependency
// graph: it re-walks from scratch after each wait, so a settle/dirty race
// is resolved by the next iteration rather than missed outright.
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
