package demo

import (
	"context"
	"fmt"

	"github.com/taskgraph/tgraph/pkg/id"
	"github.com/taskgraph/tgraph/pkg/registry"
	"github.com/taskgraph/tgraph/pkg/runtimeapi"
	"github.com/taskgraph/tgraph/pkg/value"
)

// outputCell is the single cell every demo function writes its result
// into; none of these functions need more than one cell of output.
var outputCell = id.CellId{TypeId: 0, Index: 0}

func readInt(ctx context.Context, rt runtimeapi.RuntimeAPI, in value.TaskInput) (Int, error) {
	switch v := in.(type) {
	case value.LiteralInput:
		switch n := v.Value.(type) {
		case int:
			return Int(n), nil
		case Int:
			return n, nil
		default:
			return 0, fmt.Errorf("demo: expected int literal, got %T", v.Value)
		}
	case value.VcInput:
		content, err := rt.ReadCell(ctx, v.Vc.Task, v.Vc.Cell)
		if err != nil {
			return 0, err
		}
		ref, err := value.Cast[Int](content)
		if err != nil {
			return 0, err
		}
		return ref.Get(), nil
	default:
		return 0, fmt.Errorf("demo: unsupported input %T", in)
	}
}

func readStr(ctx context.Context, rt runtimeapi.RuntimeAPI, in value.TaskInput) (Str, error) {
	switch v := in.(type) {
	case value.LiteralInput:
		switch s := v.Value.(type) {
		case string:
			return Str(s), nil
		case Str:
			return s, nil
		default:
			return "", fmt.Errorf("demo: expected string literal, got %T", v.Value)
		}
	case value.VcInput:
		content, err := rt.ReadCell(ctx, v.Vc.Task, v.Vc.Cell)
		if err != nil {
			return "", err
		}
		ref, err := value.Cast[Str](content)
		if err != nil {
			return "", err
		}
		return ref.Get(), nil
	default:
		return "", fmt.Errorf("demo: unsupported input %T", in)
	}
}

func writeOutput(ctx context.Context, rt runtimeapi.RuntimeAPI, payload any) (value.RawVc, error) {
	self, _ := runtimeapi.CurrentTask(ctx)
	content := value.NewCellContent(value.NewSharedReference(payload))
	if err := rt.UpdateCell(ctx, outputCell, content); err != nil {
		return value.RawVc{}, err
	}
	return value.TaskCell(self, outputCell), nil
}

// Functions bundles the FunctionIds demo registers, so callers building
// task.Native(...)/task.ResolveNative(...) task types don't need to know
// the registration order.
type Functions struct {
	Add    id.FunctionId
	Concat id.FunctionId
	Fetch  id.FunctionId
}

// Register adds demo's plain functions to reg and returns their ids.
func Register(reg *registry.Registry) Functions {
	return Functions{
		Add:    registerAdd(reg),
		Concat: registerConcat(reg),
		Fetch:  registerFetch(reg),
	}
}

// registerAdd registers add(a, b Int) Int, reading each argument either
// from a literal or from a referenced cell.
func registerAdd(reg *registry.Registry) id.FunctionId {
	return reg.RegisterFunction("demo.add", func(value.Inputs) registry.Invoke {
		return func(ctx context.Context, rt runtimeapi.RuntimeAPI, in value.Inputs) (value.RawVc, error) {
			if len(in) != 2 {
				return value.RawVc{}, fmt.Errorf("demo.add: want 2 inputs, got %d", len(in))
			}
			a, err := readInt(ctx, rt, in[0])
			if err != nil {
				return value.RawVc{}, err
			}
			b, err := readInt(ctx, rt, in[1])
			if err != nil {
				return value.RawVc{}, err
			}
			return writeOutput(ctx, rt, a+b)
		}
	})
}

// registerConcat registers concat(a, b Str) Str.
func registerConcat(reg *registry.Registry) id.FunctionId {
	return reg.RegisterFunction("demo.concat", func(value.Inputs) registry.Invoke {
		return func(ctx context.Context, rt runtimeapi.RuntimeAPI, in value.Inputs) (value.RawVc, error) {
			if len(in) != 2 {
				return value.RawVc{}, fmt.Errorf("demo.concat: want 2 inputs, got %d", len(in))
			}
			a, err := readStr(ctx, rt, in[0])
			if err != nil {
				return value.RawVc{}, err
			}
			b, err := readStr(ctx, rt, in[1])
			if err != nil {
				return value.RawVc{}, err
			}
			return writeOutput(ctx, rt, a+b)
		}
	})
}

// registerFetch registers fetch(key Str) Str, a deterministic stand-in
// for an external lookup (turbo-tasks' own demos lean on a similar
// pretend-I/O function to show memoization crossing an I/O boundary
// without a real network call).
func registerFetch(reg *registry.Registry) id.FunctionId {
	return reg.RegisterFunction("demo.fetch", func(value.Inputs) registry.Invoke {
		return func(ctx context.Context, rt runtimeapi.RuntimeAPI, in value.Inputs) (value.RawVc, error) {
			if len(in) != 1 {
				return value.RawVc{}, fmt.Errorf("demo.fetch: want 1 input, got %d", len(in))
			}
			key, err := readStr(ctx, rt, in[0])
			if err != nil {
				return value.RawVc{}, err
			}
			return writeOutput(ctx, rt, Str(fmt.Sprintf("value-of(%s)", key)))
		}
	})
}
