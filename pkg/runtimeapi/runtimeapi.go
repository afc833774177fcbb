// Package runtimeapi defines TurboTasksBackendApi: the capability object the
// backend passes into every task body, resolve operation, and backend
// method. Tasks never reach into the backend directly — they only ever see
// this interface, which is how the backend observes and authorizes the
// side effects tasks request (reads, writes, scheduling, recursive calls,
// events, stats).
//
// The "current task" a call happens on behalf of is carried on the
// context.Context, established by ExecScope at the start of a task's
// execution and guaranteed released when that execution returns (the
// thread-local execution_scope from spec.md §5, expressed the Go way).
package runtimeapi

import (
	"context"

	"github.com/taskgraph/tgraph/pkg/id"
	"github.com/taskgraph/tgraph/pkg/task"
	"github.com/taskgraph/tgraph/pkg/value"
)

type scopeKey struct{}

// ExecScope returns a derived context recording self as the task on whose
// behalf subsequent RuntimeAPI calls happen. Safe to nest; the innermost
// scope wins.
func ExecScope(ctx context.Context, self id.TaskId) context.Context {
	return context.WithValue(ctx, scopeKey{}, self)
}

// CurrentTask returns the task id established by the nearest enclosing
// ExecScope, or (0, false) outside of any execution (e.g. a CLI driving
// the engine directly).
func CurrentTask(ctx context.Context) (id.TaskId, bool) {
	v, ok := ctx.Value(scopeKey{}).(id.TaskId)
	return v, ok
}

// StatsSink receives lightweight counters the backend wants surfaced to an
// external metrics system without this package depending on one.
type StatsSink interface {
	IncCounter(name string, labels map[string]string)
	ObserveDuration(name string, labels map[string]string, seconds float64)
}

// RuntimeAPI is the full capability surface available inside an execution
// scope: reads, writes, collectible emission, task creation/connection,
// and the native/dynamic recursive calls the resolve machinery uses.
type RuntimeAPI interface {
	// Schedule marks task runnable and, if a worker is free, starts it
	// immediately. Valid from any scope, including none.
	Schedule(task id.TaskId)

	// ReadOutput/ReadOutputUntracked read target's output slot. The
	// tracked form records CurrentTask(ctx) as a dependent; calling it
	// outside an execution scope is a programming error and returns
	// ErrNoExecutionScope.
	ReadOutput(ctx context.Context, target id.TaskId, stronglyConsistent bool) (value.RawVc, error)
	ReadOutputUntracked(ctx context.Context, target id.TaskId, stronglyConsistent bool) (value.RawVc, error)

	// ReadCell/ReadCellUntracked read one cell of target; same
	// tracked/untracked distinction as the output reads above.
	ReadCell(ctx context.Context, target id.TaskId, cell id.CellId) (value.CellContent, error)
	ReadCellUntracked(ctx context.Context, target id.TaskId, cell id.CellId) (value.CellContent, error)

	// ReadOwnCellUntracked never blocks and never errors: a missing cell
	// of the current task reads back as empty content.
	ReadOwnCellUntracked(ctx context.Context, cell id.CellId) value.CellContent

	// UpdateCell publishes new content for one of the current task's own
	// cells.
	UpdateCell(ctx context.Context, cell id.CellId, content value.CellContent) error

	// ReadCollectibles registers a collectible-set dependency on target
	// and returns the current transitive union for trait.
	ReadCollectibles(ctx context.Context, target id.TaskId, trait id.TraitTypeId) ([]value.RawVc, error)

	// EmitCollectible/UnemitCollectible mutate the current task's
	// collectible multiset.
	EmitCollectible(ctx context.Context, trait id.TraitTypeId, item value.RawVc) error
	UnemitCollectible(ctx context.Context, trait id.TraitTypeId, item value.RawVc) error

	// GetOrCreatePersistentTask looks up/creates the task for tt,
	// attaching CurrentTask(ctx) (if any) as its parent.
	GetOrCreatePersistentTask(ctx context.Context, tt task.PersistentTaskType) (id.TaskId, error)

	// ConnectTask adds a structural edge from CurrentTask(ctx) to child.
	ConnectTask(ctx context.Context, child id.TaskId) error

	// CreateTransientTask allocates a fresh transient task; a new
	// identity is returned on every call.
	CreateTransientTask(ctx context.Context, tt task.TransientTaskType) (id.TaskId, error)

	// NativeCall/DynamicCall are used by the ResolveNative/ResolveTrait
	// machinery once inputs have been resolved: they get-or-create the
	// equivalent Native task, connect it to CurrentTask(ctx), and return
	// its output handle.
	NativeCall(ctx context.Context, fn id.FunctionId, inputs value.Inputs) (value.RawVc, error)
	DynamicCall(ctx context.Context, fn id.FunctionId, inputs value.Inputs) (value.RawVc, error)

	// EmitEvent lets a task signal an arbitrary named event for
	// diagnostics/tracing sinks; unrelated to the dependency or
	// collectible machinery.
	EmitEvent(name string, attrs map[string]string)

	// Stats exposes the backend's metrics sink, or nil if none was
	// configured.
	Stats() StatsSink
}
