// Package backend defines the memoizing-executor contract from spec.md
// §4.3: the operations table every concrete backend (internal/memtask,
// internal/persisttask) must implement, plus the shared result/listener
// types that make up its read protocol. This package contains no storage
// of its own — it is the interface the rest of the engine programs
// against, the same separation the teacher draws between
// pkg/interfaces/execution and its concrete engine implementations.
package backend

import (
	"context"
	"time"

	"github.com/taskgraph/tgraph/pkg/id"
	"github.com/taskgraph/tgraph/pkg/runtimeapi"
	"github.com/taskgraph/tgraph/pkg/task"
	"github.com/taskgraph/tgraph/pkg/value"
)

// EventListener is handed back by a read that would otherwise block: the
// caller either awaits it (run_backend_job and task futures may block) or
// drops it, which aborts only the waiter registration and never the
// producer (spec.md §5, Cancellation).
type EventListener interface {
	Wait(ctx context.Context) error
}

// NotReadyError is returned by a read operation in place of a value when
// the requested data has not been produced yet; Listener fires once it
// has. This collapses the spec's `Result<Result<V, EventListener>>` into
// idiomatic Go: nil error means v is valid now, a *NotReadyError means
// "wait on Listener then retry", any other error is a genuine read
// failure (ErrTaskPanicked, ErrTaskError, ErrTaskNotFound, ...).
type NotReadyError struct {
	Listener EventListener
}

func (e *NotReadyError) Error() string { return "value not yet produced" }

// ExecutionSpec is what try_start_task_execution hands back: the future to
// drive for this dirty epoch of the task.
type ExecutionSpec struct {
	Run func(ctx context.Context) (value.RawVc, error)
}

// TaskResult is the discriminated outcome of a task execution, matching
// spec.md's Ok(Ok(RawVc)) / Ok(Err(msg)) / Err(panic_msg) three-way split.
type TaskResult struct {
	output value.RawVc
	err    error
	panic  string
}

// ResultOk records a successful execution whose output is v.
func ResultOk(v value.RawVc) TaskResult { return TaskResult{output: v} }

// ResultErr records a task that completed with a domain error — cached
// identically to a success and still participates in dependency tracking.
func ResultErr(err error) TaskResult { return TaskResult{err: err} }

// ResultPanic records a task body that aborted non-recoverably.
func ResultPanic(msg string) TaskResult { return TaskResult{panic: msg} }

func (r TaskResult) IsPanic() bool        { return r.panic != "" }
func (r TaskResult) PanicMessage() string { return r.panic }
func (r TaskResult) IsErr() bool          { return r.err != nil }
func (r TaskResult) Err() error           { return r.err }
func (r TaskResult) Output() value.RawVc  { return r.output }

// RawVcSet is the deduplicated union of collectibles read back by
// read_task_collectibles.
type RawVcSet struct {
	items map[value.RawVc]struct{}
}

// NewRawVcSet builds a set from a slice, deduplicating.
func NewRawVcSet(items ...value.RawVc) RawVcSet {
	s := RawVcSet{items: make(map[value.RawVc]struct{}, len(items))}
	for _, it := range items {
		s.items[it] = struct{}{}
	}
	return s
}

// Items returns the set's members in no particular order.
func (s RawVcSet) Items() []value.RawVc {
	out := make([]value.RawVc, 0, len(s.items))
	for it := range s.items {
		out = append(out, it)
	}
	return out
}

// Len reports the number of distinct members.
func (s RawVcSet) Len() int { return len(s.items) }

// Backend is the memoizing executor contract: owner of the task table,
// cell store, dependency graph, invalidation engine and scheduler hooks.
// Every method must be safely callable from any worker goroutine
// concurrently (spec.md §5); only RunBackendJob and the futures returned
// by TryStartTaskExecution may block on an EventListener themselves.
type Backend interface {
	// Initialize is called exactly once before any other method.
	Initialize(provider id.TaskIdProvider)

	// Startup/Stop/IdleStart are idempotent lifecycle hooks.
	Startup(ctx context.Context, api runtimeapi.RuntimeAPI)
	Stop(ctx context.Context, api runtimeapi.RuntimeAPI)
	IdleStart(ctx context.Context, api runtimeapi.RuntimeAPI)

	// InvalidateTask/InvalidateTasks mark output slots dirty and schedule
	// dependents per spec.md §4.4.
	InvalidateTask(t id.TaskId, api runtimeapi.RuntimeAPI)
	InvalidateTasks(ts []id.TaskId, api runtimeapi.RuntimeAPI)

	// GetTaskDescription must be total: every TaskId the backend ever
	// issued, even an evicted one, returns a human-readable string.
	GetTaskDescription(t id.TaskId) string

	// TryStartTaskExecution returns a non-nil *ExecutionSpec exactly once
	// per dirty epoch, iff t is dirty and not already executing.
	TryStartTaskExecution(ctx context.Context, t id.TaskId, api runtimeapi.RuntimeAPI) *ExecutionSpec

	// TaskExecutionResult records the outcome of driving the spec's
	// future and wakes output waiters.
	TaskExecutionResult(t id.TaskId, result TaskResult, api runtimeapi.RuntimeAPI)

	// TaskExecutionCompleted finalizes the task's dependency edge set and
	// reports whether the scheduler should re-run t immediately to reach
	// convergence (spec.md §4.4 step 6).
	TaskExecutionCompleted(t id.TaskId, duration time.Duration, start time.Time, stateful bool, api runtimeapi.RuntimeAPI) bool

	// RunBackendJob drives one background maintenance job to completion.
	RunBackendJob(ctx context.Context, job id.BackendJobId, api runtimeapi.RuntimeAPI)

	// TryReadTaskOutput/TryReadTaskOutputUntracked read a task's output
	// slot; the untracked form never registers reader as a dependent.
	TryReadTaskOutput(ctx context.Context, t, reader id.TaskId, stronglyConsistent bool, api runtimeapi.RuntimeAPI) (value.RawVc, error)
	TryReadTaskOutputUntracked(ctx context.Context, t id.TaskId, stronglyConsistent bool, api runtimeapi.RuntimeAPI) (value.RawVc, error)

	// TryReadTaskCell/TryReadTaskCellUntracked read one cell; same
	// tracked/untracked distinction.
	TryReadTaskCell(ctx context.Context, t id.TaskId, cell id.CellId, reader id.TaskId, api runtimeapi.RuntimeAPI) (value.CellContent, error)
	TryReadTaskCellUntracked(ctx context.Context, t id.TaskId, cell id.CellId, api runtimeapi.RuntimeAPI) (value.CellContent, error)

	// TryReadOwnTaskCellUntracked never blocks: a missing cell reads back
	// as empty rather than returning a NotReadyError.
	TryReadOwnTaskCellUntracked(ctx context.Context, current id.TaskId, cell id.CellId, api runtimeapi.RuntimeAPI) value.CellContent

	// ReadTaskCollectibles registers a collectible-set dependency and
	// returns the current transitive union for trait.
	ReadTaskCollectibles(ctx context.Context, t id.TaskId, trait id.TraitTypeId, reader id.TaskId, api runtimeapi.RuntimeAPI) RawVcSet

	// EmitCollectible/UnemitCollectible mutate t's collectible multiset;
	// dependents of the corresponding collectible-set reads are
	// invalidated.
	EmitCollectible(trait id.TraitTypeId, item value.RawVc, t id.TaskId, api runtimeapi.RuntimeAPI)
	UnemitCollectible(trait id.TraitTypeId, item value.RawVc, t id.TaskId, api runtimeapi.RuntimeAPI)

	// UpdateTaskCell atomically publishes new content, wakes cell
	// waiters, and invalidates readers when the content actually changed.
	UpdateTaskCell(t id.TaskId, cell id.CellId, content value.CellContent, api runtimeapi.RuntimeAPI)

	// GetOrCreatePersistentTask is cache-keyed by tt.CacheKey(); it also
	// attaches a parent->child structural edge from parent to the
	// returned task.
	GetOrCreatePersistentTask(ctx context.Context, tt task.PersistentTaskType, parent id.TaskId, api runtimeapi.RuntimeAPI) id.TaskId

	// ConnectTask adds a structural parent->child edge without creating
	// anything.
	ConnectTask(t, parent id.TaskId, api runtimeapi.RuntimeAPI)

	// MarkOwnTaskAsFinished is an optional hint that t has reached steady
	// state; backends may use it to skip a convergence re-run.
	MarkOwnTaskAsFinished(t id.TaskId, api runtimeapi.RuntimeAPI)

	// CreateTransientTask allocates a fresh TaskId for tt; every call
	// creates a new identity, even for two calls with equal tt values.
	CreateTransientTask(tt task.TransientTaskType, api runtimeapi.RuntimeAPI) id.TaskId
}
