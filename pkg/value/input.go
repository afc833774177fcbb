package value

import (
	"context"
	"fmt"

	"github.com/taskgraph/tgraph/pkg/id"
)

// TaskInput is one element of a task's Inputs vector. Implementations must
// provide a stable Key (their part of a persistent task's cache key) and
// know how to resolve themselves to a concrete RawVc when asked.
type TaskInput interface {
	// Key returns a stable, comparable string used as part of a
	// persistent task's cache key.
	Key() string

	// Resolve follows any RawVc indirection this input carries down to a
	// concrete TaskCell handle. Literal inputs resolve to themselves.
	Resolve(ctx context.Context, r Resolver, reader id.TaskId) (TaskInput, error)
}

// VcInput wraps a RawVc argument — the common case, since most task
// arguments are themselves the output of another task.
type VcInput struct {
	Vc RawVc
}

func (v VcInput) Key() string { return "vc:" + v.Vc.String() }

func (v VcInput) Resolve(ctx context.Context, r Resolver, reader id.TaskId) (TaskInput, error) {
	resolved, err := Resolve(ctx, r, v.Vc, reader, false)
	if err != nil {
		return nil, err
	}
	return VcInput{Vc: resolved}, nil
}

// LiteralInput wraps a plain, already-concrete argument (a string, number,
// bool, or any comparable value) that needs no resolution.
type LiteralInput struct {
	Value any
}

func (l LiteralInput) Key() string { return fmt.Sprintf("lit:%#v", l.Value) }

func (l LiteralInput) Resolve(context.Context, Resolver, id.TaskId) (TaskInput, error) {
	return l, nil
}

// Inputs is an ordered vector of TaskInput, the full argument list of a
// task invocation.
type Inputs []TaskInput

// Key concatenates each input's key into one cache-key fragment, stable
// across calls given the same inputs.
func (in Inputs) Key() string {
	s := ""
	for i, v := range in {
		if i > 0 {
			s += ","
		}
		s += v.Key()
	}
	return s
}

// ResolveAll resolves every input in order, used by ResolveNative /
// ResolveTrait tasks before performing their cache lookup.
func (in Inputs) ResolveAll(ctx context.Context, r Resolver, reader id.TaskId) (Inputs, error) {
	out := make(Inputs, len(in))
	for i, v := range in {
		resolved, err := v.Resolve(ctx, r, reader)
		if err != nil {
			return nil, err
		}
		out[i] = resolved
	}
	return out, nil
}
