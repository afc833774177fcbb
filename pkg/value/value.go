// Package value defines the engine's universal result handle (RawVc), its
// type-erased payload (SharedReference), the cell content wrapper, and the
// downcast views tasks use to read concrete values back out.
package value

import (
	"context"
	"fmt"
	"reflect"

	"github.com/taskgraph/tgraph/pkg/errs"
	"github.com/taskgraph/tgraph/pkg/id"
)

// RawVcKind distinguishes the two things a RawVc can name.
type RawVcKind uint8

const (
	KindTaskOutput RawVcKind = iota
	KindTaskCell
)

// RawVc names either a task's output slot or one specific cell within a
// task. It is the universal, copyable handle passed between tasks.
type RawVc struct {
	Kind RawVcKind
	Task id.TaskId
	Cell id.CellId // meaningful only when Kind == KindTaskCell
}

// TaskOutput builds a RawVc pointing at task's output slot.
func TaskOutput(task id.TaskId) RawVc {
	return RawVc{Kind: KindTaskOutput, Task: task}
}

// TaskCell builds a RawVc pointing at a specific cell of task.
func TaskCell(task id.TaskId, cell id.CellId) RawVc {
	return RawVc{Kind: KindTaskCell, Task: task, Cell: cell}
}

func (v RawVc) String() string {
	if v.Kind == KindTaskCell {
		return fmt.Sprintf("%s/%s", v.Task, v.Cell)
	}
	return fmt.Sprintf("%s/output", v.Task)
}

// Resolver is the minimal capability Resolve needs: following an output
// handle requires reading (and, if necessary, waiting on) the target task's
// output slot. internal/dispatch adapts the runtime API to it (the engine's
// ReadOutput waits for an output not yet produced); it is kept separate
// from the full runtime API so this package never depends on it.
type Resolver interface {
	ReadTaskOutput(ctx context.Context, task, reader id.TaskId, stronglyConsistent bool) (RawVc, error)
}

// maxResolveHops bounds the indirection chain so a true cycle fails fast
// with ErrCycleDetected instead of looping until the context deadline.
const maxResolveHops = 10_000

// Resolve follows TaskOutput handles transitively, awaiting computation via
// r, until a TaskCell (or a cycle) is found. reader is the task on whose
// behalf the resolution happens and is recorded as the dependent for every
// tracked hop.
func Resolve(ctx context.Context, r Resolver, v RawVc, reader id.TaskId, stronglyConsistent bool) (RawVc, error) {
	seen := make(map[id.TaskId]struct{}, 4)
	cur := v
	for hops := 0; ; hops++ {
		if cur.Kind == KindTaskCell {
			return cur, nil
		}
		if hops >= maxResolveHops {
			return RawVc{}, fmt.Errorf("%w: resolving %s exceeded %d hops", errs.ErrCycleDetected, v, maxResolveHops)
		}
		if _, ok := seen[cur.Task]; ok {
			return RawVc{}, fmt.Errorf("%w: %s revisits task %s", errs.ErrCycleDetected, v, cur.Task)
		}
		seen[cur.Task] = struct{}{}
		next, err := r.ReadTaskOutput(ctx, cur.Task, reader, stronglyConsistent)
		if err != nil {
			return RawVc{}, err
		}
		cur = next
	}
}

// SharedReference is a type-erased, shareable payload. The zero value
// represents "untyped" content (typeTag == nil): valid as CellContent
// storage but never downcastable to a concrete T.
type SharedReference struct {
	typeTag reflect.Type
	payload any
}

// NewSharedReference wraps value, tagging it with its own runtime type.
func NewSharedReference(value any) SharedReference {
	if value == nil {
		return SharedReference{}
	}
	return SharedReference{typeTag: reflect.TypeOf(value), payload: value}
}

// HasType reports whether the reference carries a runtime type tag.
func (s SharedReference) HasType() bool { return s.typeTag != nil }

func downcast[T any](s SharedReference) (T, bool) {
	var zero T
	if s.payload == nil {
		return zero, false
	}
	v, ok := s.payload.(T)
	return v, ok
}

// Downcast succeeds when the stored runtime type equals T exactly.
func Downcast[T any](s SharedReference) (T, bool) {
	return downcast[T](s)
}

// CastTransparent is available when T and U are caller-guaranteed to be
// binary-identical (e.g. a defined type over the same underlying
// representation): it succeeds when the stored type is T itself, or when
// the stored type has the same kind as T and converts to it.
func CastTransparent[T any](s SharedReference) (T, bool) {
	if v, ok := downcast[T](s); ok {
		return v, true
	}
	var zero T
	if s.payload == nil {
		return zero, false
	}
	want := reflect.TypeOf(&zero).Elem()
	have := reflect.ValueOf(s.payload)
	if want.Kind() == reflect.Interface || have.Kind() != want.Kind() || !have.Type().ConvertibleTo(want) {
		return zero, false
	}
	return have.Convert(want).Interface().(T), true
}

// CellContent wraps an optional SharedReference stored in one cell. The
// zero value represents a cell that was never written.
type CellContent struct {
	ref     SharedReference
	present bool
}

// NewCellContent wraps ref as the written content of a cell.
func NewCellContent(ref SharedReference) CellContent {
	return CellContent{ref: ref, present: true}
}

// Empty reports whether the cell has never been written.
func (c CellContent) Empty() bool { return !c.present }

func (c CellContent) String() string {
	if !c.present {
		return "empty"
	}
	return fmt.Sprintf("cell(%v)", c.ref.payload)
}

// Payload returns a cell's raw, type-erased value and whether the cell has
// ever been written. Most callers want Cast/TryCast/CastTrait instead; this
// exists for backends that must serialize arbitrary cell content generically
// (internal/persisttask's durable store) without knowing the concrete type
// ahead of time.
func (c CellContent) Payload() (any, bool) {
	if !c.present {
		return nil, false
	}
	return c.ref.payload, true
}

// TypeName returns the stored value's runtime type name, used by the
// trait-resolve machinery to look up implementations by concrete type.
// ok is false for an empty or untyped cell.
func (c CellContent) TypeName() (string, bool) {
	if !c.present || !c.ref.HasType() {
		return "", false
	}
	return c.ref.typeTag.String(), true
}

// ReadRef is a downcast view over a cell's content, borrowed for the
// duration of the caller's use (Go's GC means there is no explicit
// lifetime to manage, unlike the Rust ReadRef this mirrors).
type ReadRef[T any] struct {
	value T
}

func (r ReadRef[T]) Get() T { return r.value }

// Cast downcasts content to ReadRef[T], failing with ErrCellEmpty or
// ErrTypeMismatch.
func Cast[T any](c CellContent) (ReadRef[T], error) {
	if !c.present {
		return ReadRef[T]{}, errs.ErrCellEmpty
	}
	v, ok := Downcast[T](c.ref)
	if !ok {
		return ReadRef[T]{}, fmt.Errorf("%w: want %T, have %v", errs.ErrTypeMismatch, v, c.ref.typeTag)
	}
	return ReadRef[T]{value: v}, nil
}

// TryCast is the non-erroring form of Cast, used by callers that treat a
// missing or mismatched cell as "nothing here" rather than a failure.
func TryCast[T any](c CellContent) (ReadRef[T], bool) {
	if !c.present {
		return ReadRef[T]{}, false
	}
	v, ok := Downcast[T](c.ref)
	return ReadRef[T]{value: v}, ok
}

// TraitRef is a downcast view asserting the cell content implements trait
// T. Unlike Cast, it only requires a type tag to be present, not a
// specific Go type — the actual trait-method dispatch happens through the
// registry, not through T itself.
type TraitRef[T any] struct {
	ref SharedReference
}

// CastTrait builds a TraitRef, failing with ErrCellEmpty or ErrUntyped.
func CastTrait[T any](c CellContent) (TraitRef[T], error) {
	if !c.present {
		return TraitRef[T]{}, errs.ErrCellEmpty
	}
	if !c.ref.HasType() {
		return TraitRef[T]{}, errs.ErrUntyped
	}
	return TraitRef[T]{ref: c.ref}, nil
}

// Ref returns the underlying SharedReference so callers (typically the
// trait-resolve machinery) can look up its concrete ValueTypeId.
func (t TraitRef[T]) Ref() SharedReference { return t.ref }

// TypeTag exposes the reference's runtime type for registry lookups keyed
// by concrete Go type (the engine's stand-in for a ValueTypeId table).
func (s SharedReference) TypeTag() reflect.Type { return s.typeTag }
