// Package dispatch builds the runnable ExecutionSpec for a task
// descriptor, the way the teacher's execution-manager dispatcher picks an
// engine and binds an entry function before running it. Here the "engine
// selection" is the task taxonomy itself: Native invokes a registered
// function directly, ResolveNative/ResolveTrait perform the indirection
// spec.md §4.5 describes before recursing, and transient Root/Once tasks
// just run their stored closure.
package dispatch

import (
	"context"
	"fmt"

	"github.com/taskgraph/tgraph/pkg/backend"
	"github.com/taskgraph/tgraph/pkg/errs"
	"github.com/taskgraph/tgraph/pkg/registry"
	"github.com/taskgraph/tgraph/pkg/runtimeapi"
	"github.com/taskgraph/tgraph/pkg/task"
	"github.com/taskgraph/tgraph/pkg/value"

	"github.com/taskgraph/tgraph/pkg/id"
)

// apiResolver adapts a scoped RuntimeAPI to value.Resolver so the resolve
// machinery in pkg/value can drive input resolution without depending on
// this package's RuntimeAPI type.
type apiResolver struct{ api runtimeapi.RuntimeAPI }

func (a apiResolver) ReadTaskOutput(ctx context.Context, task, _ id.TaskId, stronglyConsistent bool) (value.RawVc, error) {
	return a.api.ReadOutput(ctx, task, stronglyConsistent)
}

// resolveVc follows v's TaskOutput chain via api, on behalf of self.
func resolveVc(ctx context.Context, api runtimeapi.RuntimeAPI, self id.TaskId, v value.RawVc) (value.RawVc, error) {
	return value.Resolve(ctx, apiResolver{api: api}, v, self, false)
}

// BuildExecutionSpec returns the future to drive for self given desc, the
// registry reg used to look up Native function bodies and trait
// implementations, and the scoped RuntimeAPI self's execution will use.
func BuildExecutionSpec(reg *registry.Registry, self id.TaskId, desc task.Descriptor, api runtimeapi.RuntimeAPI) (*backend.ExecutionSpec, error) {
	switch desc.Kind {
	case task.Transient:
		tt := desc.TransientT
		if tt.Kind == task.KindRoot {
			return &backend.ExecutionSpec{Run: func(ctx context.Context) (value.RawVc, error) {
				return tt.Root(runtimeapi.ExecScope(ctx, self))
			}}, nil
		}
		return &backend.ExecutionSpec{Run: func(ctx context.Context) (value.RawVc, error) {
			return tt.Once(runtimeapi.ExecScope(ctx, self))
		}}, nil

	case task.Persistent:
		pt := desc.Persistent
		switch pt.Kind {
		case task.KindNative:
			fd, ok := reg.Function(pt.Function)
			if !ok {
				return nil, fmt.Errorf("dispatch: unknown function %s", pt.Function)
			}
			invoke := fd.Bind(pt.Inputs)
			return &backend.ExecutionSpec{Run: func(ctx context.Context) (value.RawVc, error) {
				return invoke(runtimeapi.ExecScope(ctx, self), api, pt.Inputs)
			}}, nil

		case task.KindResolveNative:
			if _, ok := reg.Function(pt.Function); !ok {
				return nil, fmt.Errorf("dispatch: unknown function %s", pt.Function)
			}
			return &backend.ExecutionSpec{Run: func(ctx context.Context) (value.RawVc, error) {
				scoped := runtimeapi.ExecScope(ctx, self)
				resolved, err := pt.Inputs.ResolveAll(scoped, apiResolver{api: api}, self)
				if err != nil {
					return value.RawVc{}, err
				}
				return api.NativeCall(scoped, pt.Function, resolved)
			}}, nil

		case task.KindResolveTrait:
			return &backend.ExecutionSpec{Run: func(ctx context.Context) (value.RawVc, error) {
				scoped := runtimeapi.ExecScope(ctx, self)
				return runResolveTrait(scoped, reg, api, pt, self)
			}}, nil

		default:
			return nil, fmt.Errorf("dispatch: unknown persistent task kind %d", pt.Kind)
		}

	default:
		return nil, fmt.Errorf("dispatch: unknown task kind %d", desc.Kind)
	}
}

// runResolveTrait implements spec.md §4.5: resolve self, look up its
// concrete type's trait-method implementation, dynamic-dispatch on hit,
// or produce a diagnostic on miss. An empty input vector is a programming
// error per the spec and panics rather than returning an error.
func runResolveTrait(ctx context.Context, reg *registry.Registry, api runtimeapi.RuntimeAPI, pt task.PersistentTaskType, self id.TaskId) (value.RawVc, error) {
	if len(pt.Inputs) == 0 {
		panic("resolve trait: no arguments for trait call")
	}

	thisInput, ok := pt.Inputs[0].(value.VcInput)
	if !ok {
		return value.RawVc{}, fmt.Errorf("resolve trait: self argument %v is not a value reference", pt.Inputs[0])
	}
	resolvedVc, err := resolveVc(ctx, api, self, thisInput.Vc)
	if err != nil {
		return value.RawVc{}, err
	}

	content, err := api.ReadCell(ctx, resolvedVc.Task, resolvedVc.Cell)
	if err != nil {
		return value.RawVc{}, err
	}
	typeName, ok := content.TypeName()
	if !ok {
		return value.RawVc{}, errs.ErrUntyped
	}

	fn, ok := reg.LookupMethod(pt.Trait, typeName, pt.Method)
	if !ok {
		td, _ := reg.Trait(pt.Trait)
		traitName := pt.Trait.String()
		if td != nil {
			traitName = td.Name
		}
		if !reg.HasTrait(pt.Trait, typeName) {
			traits := reg.ImplementedTraits(typeName)
			return value.RawVc{}, fmt.Errorf("%w: %s doesn't implement %s (only %v)", errs.ErrTraitNotImplemented, typeName, traitName, traits)
		}
		return value.RawVc{}, fmt.Errorf("%w: %s implements trait %s, but method %s is missing", errs.ErrMethodMissing, typeName, traitName, pt.Method)
	}

	rest := make(value.Inputs, 0, len(pt.Inputs))
	rest = append(rest, value.VcInput{Vc: resolvedVc})
	rest = append(rest, pt.Inputs[1:]...)
	return api.DynamicCall(ctx, fn, rest)
}
