// Package task defines the task taxonomy from spec.md §3: persistent tasks
// (Native, ResolveNative, ResolveTrait) cache-keyed by their full variant
// payload, and transient tasks (Root, Once) scoped to the current session.
package task

import (
	"context"
	"fmt"

	"github.com/taskgraph/tgraph/pkg/id"
	"github.com/taskgraph/tgraph/pkg/value"
)

// PersistentKind distinguishes the three persistent task sub-variants.
type PersistentKind uint8

const (
	KindNative PersistentKind = iota
	KindResolveNative
	KindResolveTrait
)

// PersistentTaskType is the cache key of a persistent task: two
// PersistentTaskType values that compare Equal must map to the same
// TaskId, per spec.md's invariant.
type PersistentTaskType struct {
	Kind PersistentKind

	// Native, ResolveNative
	Function id.FunctionId

	// ResolveTrait
	Trait  id.TraitTypeId
	Method string

	Inputs value.Inputs
}

// Native builds a Native(FunctionId, Inputs) persistent task type.
func Native(fn id.FunctionId, inputs value.Inputs) PersistentTaskType {
	return PersistentTaskType{Kind: KindNative, Function: fn, Inputs: inputs}
}

// ResolveNative builds a ResolveNative(FunctionId, Inputs) persistent task
// type: inputs are resolved before the equivalent Native task is looked
// up/created.
func ResolveNative(fn id.FunctionId, inputs value.Inputs) PersistentTaskType {
	return PersistentTaskType{Kind: KindResolveNative, Function: fn, Inputs: inputs}
}

// ResolveTrait builds a ResolveTrait(TraitTypeId, MethodName, Inputs)
// persistent task type: inputs[0] (self) is resolved, its concrete type's
// trait-method implementation is looked up, then dispatched.
func ResolveTrait(trait id.TraitTypeId, method string, inputs value.Inputs) PersistentTaskType {
	return PersistentTaskType{Kind: KindResolveTrait, Trait: trait, Method: method, Inputs: inputs}
}

// CacheKey returns a string uniquely identifying this variant's payload,
// used by the backend to enforce "persistent task with a given key exists
// at most once".
func (t PersistentTaskType) CacheKey() string {
	switch t.Kind {
	case KindNative:
		return fmt.Sprintf("native:%s:%s", t.Function, t.Inputs.Key())
	case KindResolveNative:
		return fmt.Sprintf("resolve_native:%s:%s", t.Function, t.Inputs.Key())
	case KindResolveTrait:
		return fmt.Sprintf("resolve_trait:%s:%s:%s", t.Trait, t.Method, t.Inputs.Key())
	default:
		panic("unreachable persistent task kind")
	}
}

func (t PersistentTaskType) String() string {
	switch t.Kind {
	case KindNative, KindResolveNative:
		return t.Function.String()
	case KindResolveTrait:
		return fmt.Sprintf("%s::%s", t.Trait, t.Method)
	default:
		return "invalid"
	}
}

// RootFactory is the body of a Root transient task: it runs, tracks
// dependencies the same as any other task, and is automatically
// rescheduled whenever one of them becomes dirty.
type RootFactory func(ctx context.Context) (value.RawVc, error)

// OnceFuture is the body of a Once transient task: it runs exactly once.
type OnceFuture func(ctx context.Context) (value.RawVc, error)

// TransientKind distinguishes the two transient task sub-variants.
type TransientKind uint8

const (
	KindRoot TransientKind = iota
	KindOnce
)

// TransientTaskType is the body of a transient task, never cache-keyed and
// never shared across sessions.
type TransientTaskType struct {
	Kind TransientKind
	Root RootFactory
	Once OnceFuture
}

// NewRoot wraps factory as a Root transient task type.
func NewRoot(factory RootFactory) TransientTaskType {
	return TransientTaskType{Kind: KindRoot, Root: factory}
}

// NewOnce wraps future as a Once transient task type.
func NewOnce(future OnceFuture) TransientTaskType {
	return TransientTaskType{Kind: KindOnce, Once: future}
}

// TaskKind distinguishes persistent tasks from transient ones at the
// top level, mirroring spec.md's `Task` sum type.
type TaskKind uint8

const (
	Persistent TaskKind = iota
	Transient
)

// Descriptor is the immutable "what this task is" payload the backend
// stores per TaskId; it never changes after task creation (re-execution
// replaces a persistent task's cached output/edges, not its Descriptor).
type Descriptor struct {
	Kind       TaskKind
	Persistent PersistentTaskType
	TransientT TransientTaskType
}

func FromPersistent(t PersistentTaskType) Descriptor {
	return Descriptor{Kind: Persistent, Persistent: t}
}

func FromTransient(t TransientTaskType) Descriptor {
	return Descriptor{Kind: Transient, TransientT: t}
}

func (d Descriptor) String() string {
	switch d.Kind {
	case Persistent:
		return d.Persistent.String()
	case Transient:
		if d.TransientT.Kind == KindRoot {
			return "transient:root"
		}
		return "transient:once"
	default:
		return "invalid"
	}
}
