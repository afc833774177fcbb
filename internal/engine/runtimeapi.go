package engine

import (
	"context"
	"errors"

	"github.com/taskgraph/tgraph/pkg/backend"
	"github.com/taskgraph/tgraph/pkg/id"
	"github.com/taskgraph/tgraph/pkg/runtimeapi"
	"github.com/taskgraph/tgraph/pkg/task"
	"github.com/taskgraph/tgraph/pkg/value"
)

// Schedule enqueues t for a worker; always non-blocking, falling back to a
// detached send on the rare occasion the queue is momentarily full so a
// caller executing inside a task body is never stalled by its own
// scheduling call.
func (e *Engine) Schedule(t id.TaskId) {
	select {
	case e.queue <- t:
	default:
		go func() { e.queue <- t }()
	}
}

// ReadOutput records the current task as a dependent of target's output.
// While target has not produced an output yet, it waits on the listener the
// backend hands back and retries, so the calling task body suspends at the
// read instead of failing.
func (e *Engine) ReadOutput(ctx context.Context, target id.TaskId, stronglyConsistent bool) (value.RawVc, error) {
	reader, ok := runtimeapi.CurrentTask(ctx)
	if !ok {
		return value.RawVc{}, ErrNoExecutionScope
	}
	for {
		vc, err := e.be.TryReadTaskOutput(ctx, target, reader, stronglyConsistent, e)
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

func (e *Engine) ReadOutputUntracked(ctx context.Context, target id.TaskId, stronglyConsistent bool) (value.RawVc, error) {
	return e.be.TryReadTaskOutputUntracked(ctx, target, stronglyConsistent, e)
}

func (e *Engine) ReadCell(ctx context.Context, target id.TaskId, cell id.CellId) (value.CellContent, error) {
	reader, _ := runtimeapi.CurrentTask(ctx)
	return e.be.TryReadTaskCell(ctx, target, cell, reader, e)
}

func (e *Engine) ReadCellUntracked(ctx context.Context, target id.TaskId, cell id.CellId) (value.CellContent, error) {
	return e.be.TryReadTaskCellUntracked(ctx, target, cell, e)
}

func (e *Engine) ReadOwnCellUntracked(ctx context.Context, cell id.CellId) value.CellContent {
	self, ok := runtimeapi.CurrentTask(ctx)
	if !ok {
		return value.CellContent{}
	}
	return e.be.TryReadOwnTaskCellUntracked(ctx, self, cell, e)
}

func (e *Engine) UpdateCell(ctx context.Context, cell id.CellId, content value.CellContent) error {
	self, ok := runtimeapi.CurrentTask(ctx)
	if !ok {
		return ErrNoExecutionScope
	}
	e.be.UpdateTaskCell(self, cell, content, e)
	return nil
}

func (e *Engine) ReadCollectibles(ctx context.Context, target id.TaskId, trait id.TraitTypeId) ([]value.RawVc, error) {
	reader, _ := runtimeapi.CurrentTask(ctx)
	set := e.be.ReadTaskCollectibles(ctx, target, trait, reader, e)
	return set.Items(), nil
}

func (e *Engine) EmitCollectible(ctx context.Context, trait id.TraitTypeId, item value.RawVc) error {
	self, ok := runtimeapi.CurrentTask(ctx)
	if !ok {
		return ErrNoExecutionScope
	}
	e.be.EmitCollectible(trait, item, self, e)
	return nil
}

func (e *Engine) UnemitCollectible(ctx context.Context, trait id.TraitTypeId, item value.RawVc) error {
	self, ok := runtimeapi.CurrentTask(ctx)
	if !ok {
		return ErrNoExecutionScope
	}
	e.be.UnemitCollectible(trait, item, self, e)
	return nil
}

func (e *Engine) GetOrCreatePersistentTask(ctx context.Context, tt task.PersistentTaskType) (id.TaskId, error) {
	parent, _ := runtimeapi.CurrentTask(ctx)
	return e.be.GetOrCreatePersistentTask(ctx, tt, parent, e), nil
}

func (e *Engine) ConnectTask(ctx context.Context, child id.TaskId) error {
	self, ok := runtimeapi.CurrentTask(ctx)
	if !ok {
		return ErrNoExecutionScope
	}
	e.be.ConnectTask(child, self, e)
	return nil
}

func (e *Engine) CreateTransientTask(ctx context.Context, tt task.TransientTaskType) (id.TaskId, error) {
	tid := e.be.CreateTransientTask(tt, e)
	if tt.Kind == task.KindRoot {
		e.mu.Lock()
		e.statefulSet[tid] = struct{}{}
		e.mu.Unlock()
	}
	return tid, nil
}

// NativeCall get-or-creates the Native(fn, inputs) task, connecting it as
// a child of the current execution scope, and returns its output handle
// unresolved — the caller (dispatch.runResolveTrait's dynamic call, or a
// ResolveNative body) is responsible for any further resolution.
func (e *Engine) NativeCall(ctx context.Context, fn id.FunctionId, inputs value.Inputs) (value.RawVc, error) {
	self, _ := runtimeapi.CurrentTask(ctx)
	tid := e.be.GetOrCreatePersistentTask(ctx, task.Native(fn, inputs), self, e)
	return value.TaskOutput(tid), nil
}

func (e *Engine) DynamicCall(ctx context.Context, fn id.FunctionId, inputs value.Inputs) (value.RawVc, error) {
	return e.NativeCall(ctx, fn, inputs)
}

func (e *Engine) EmitEvent(name string, attrs map[string]string) {
	kv := make([]any, 0, len(attrs)*2)
	for k, v := range attrs {
		kv = append(kv, k, v)
	}
	e.log.Info(name, kv...)
}

func (e *Engine) Stats() runtimeapi.StatsSink { return e.stats }
