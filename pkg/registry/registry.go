// Package registry holds the process-wide catalogue of registered
// Function and Trait descriptors. Stable numeric ids are assigned at
// registration; lookups by id are infallible for ids the registry itself
// issued. The registry is mutable only during startup wiring and is meant
// to be frozen (treated as read-only) before the backend begins executing
// tasks — concurrent lookups are still safe either way, guarded by an
// RWMutex the way the teacher's host capability registry guards its
// provider map.
package registry

import (
	"context"
	"fmt"
	"sync"

	"github.com/taskgraph/tgraph/pkg/id"
	"github.com/taskgraph/tgraph/pkg/runtimeapi"
	"github.com/taskgraph/tgraph/pkg/value"
)

// Invoke is the callable a FunctionDescriptor binds to: the function body
// itself, given its resolved inputs and the capability object through
// which it may recurse into the engine.
type Invoke func(ctx context.Context, rt runtimeapi.RuntimeAPI, inputs value.Inputs) (value.RawVc, error)

// FunctionDescriptor binds a raw input vector to a callable. Bind itself is
// infallible by contract — any failure belongs to the future it returns,
// not to the act of binding.
type FunctionDescriptor struct {
	Id   id.FunctionId
	Name string

	// Bind captures inputs and returns the deferred invocation. Kept as a
	// two-stage shape (bind, then call) to mirror the spec's
	// `bind(inputs) -> () -> Future<Result<RawVc>>` contract even though
	// most registrations just close over inputs trivially.
	Bind func(inputs value.Inputs) Invoke
}

// TraitDescriptor names a trait type and its declared methods.
type TraitDescriptor struct {
	Id      id.TraitTypeId
	Name    string
	Methods map[string]id.FunctionId
}

// Registry is the catalogue of FunctionDescriptor/TraitDescriptor values.
// The zero value is not usable; construct with New.
type Registry struct {
	mu sync.RWMutex

	nextFn    id.FunctionId
	nextTrait id.TraitTypeId

	functions  map[id.FunctionId]*FunctionDescriptor
	fnByName   map[string]id.FunctionId
	traits     map[id.TraitTypeId]*TraitDescriptor
	traitByNam map[string]id.TraitTypeId

	// implements maps (TraitTypeId, concrete value type name, method name)
	// to the implementing method's FunctionId — the dynamic-dispatch vtable
	// described in spec.md's design notes, built incrementally as
	// RegisterImpl is called.
	implements map[implKey]id.FunctionId
	typeTraits map[string][]id.TraitTypeId
}

type implKey struct {
	trait   id.TraitTypeId
	valType string
	method  string
}

// New returns an empty registry ready to accept registrations.
func New() *Registry {
	return &Registry{
		functions:  make(map[id.FunctionId]*FunctionDescriptor),
		fnByName:   make(map[string]id.FunctionId),
		traits:     make(map[id.TraitTypeId]*TraitDescriptor),
		traitByNam: make(map[string]id.TraitTypeId),
		implements: make(map[implKey]id.FunctionId),
		typeTraits: make(map[string][]id.TraitTypeId),
	}
}

// RegisterFunction assigns a fresh FunctionId and stores a
// FunctionDescriptor for name and bind under it, returning the id.
func (r *Registry) RegisterFunction(name string, bind func(value.Inputs) Invoke) id.FunctionId {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextFn++
	fid := r.nextFn
	r.functions[fid] = &FunctionDescriptor{Id: fid, Name: name, Bind: bind}
	r.fnByName[name] = fid
	return fid
}

// Function looks up a function descriptor by id. Lookups for ids the
// registry issued are infallible; ok is false only for a garbage id.
func (r *Registry) Function(fid id.FunctionId) (*FunctionDescriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.functions[fid]
	return d, ok
}

// FunctionByName resolves a function registered under name, for CLI and
// test convenience.
func (r *Registry) FunctionByName(name string) (id.FunctionId, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fid, ok := r.fnByName[name]
	return fid, ok
}

// RegisterTrait assigns a fresh TraitTypeId for a named trait with the
// given method-name set; each method must later be bound to a FunctionId
// by a concrete type via RegisterImpl.
func (r *Registry) RegisterTrait(name string, methodNames ...string) id.TraitTypeId {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextTrait++
	tid := r.nextTrait
	methods := make(map[string]id.FunctionId, len(methodNames))
	for _, m := range methodNames {
		methods[m] = 0
	}
	r.traits[tid] = &TraitDescriptor{Id: tid, Name: name, Methods: methods}
	r.traitByNam[name] = tid
	return tid
}

// Trait looks up a trait descriptor by id.
func (r *Registry) Trait(tid id.TraitTypeId) (*TraitDescriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.traits[tid]
	return d, ok
}

// RegisterImpl records that valueType implements trait's method via fn —
// the (TraitTypeId, ValueTypeId, MethodName) -> FunctionId table from
// spec.md §9's design notes. valueType is a caller-chosen stable name for
// the concrete value type (e.g. the Go type's fmt.Sprintf("%T") form).
func (r *Registry) RegisterImpl(trait id.TraitTypeId, valueType, method string, fn id.FunctionId) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	td, ok := r.traits[trait]
	if !ok {
		return fmt.Errorf("register impl: unknown trait %s", trait)
	}
	if _, ok := td.Methods[method]; !ok {
		return fmt.Errorf("register impl: trait %s has no method %q", td.Name, method)
	}
	r.implements[implKey{trait: trait, valType: valueType, method: method}] = fn
	for _, t := range r.typeTraits[valueType] {
		if t == trait {
			return nil
		}
	}
	r.typeTraits[valueType] = append(r.typeTraits[valueType], trait)
	return nil
}

// LookupMethod resolves the method-name lookup described in spec.md §4.5
// step 2: returns the FunctionId registered for (trait, valueType, method)
// to dynamic-dispatch to, and ok=false when no implementation is
// registered. It does not return the method name on a miss.
func (r *Registry) LookupMethod(trait id.TraitTypeId, valueType, method string) (id.FunctionId, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.implements[implKey{trait: trait, valType: valueType, method: method}]
	return fn, ok
}

// ImplementedTraits lists the traits valueType implements, for the
// TraitNotImplemented diagnostic in spec.md §4.5 step 4(a).
func (r *Registry) ImplementedTraits(valueType string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.typeTraits[valueType]))
	for _, tid := range r.typeTraits[valueType] {
		if td, ok := r.traits[tid]; ok {
			names = append(names, td.Name)
		}
	}
	return names
}

// HasTrait reports whether valueType implements trait at all, regardless
// of which method — used to pick between the two TraitNotImplemented vs.
// MethodMissing diagnostics.
func (r *Registry) HasTrait(trait id.TraitTypeId, valueType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, tid := range r.typeTraits[valueType] {
		if tid == trait {
			return true
		}
	}
	return false
}
