package demo

import (
	"context"
	"fmt"
	"reflect"

	"github.com/taskgraph/tgraph/pkg/id"
	"github.com/taskgraph/tgraph/pkg/registry"
	"github.com/taskgraph/tgraph/pkg/runtimeapi"
	"github.com/taskgraph/tgraph/pkg/value"
)

// Printable is the one trait demo declares: a single "Format" method
// rendering a value as a Str, implemented here for both Int and Str so a
// ResolveTrait task over a value of either type dispatches correctly, and
// over anything else produces the TraitNotImplemented diagnostic spec.md
// §4.5 step 4 describes.
type Printable struct {
	Trait id.TraitTypeId
}

// RegisterPrintable declares the Printable trait and its Format
// implementations for Int and Str.
func RegisterPrintable(reg *registry.Registry) Printable {
	trait := reg.RegisterTrait("Printable", "Format")

	intFormat := reg.RegisterFunction("demo.Int.Format", func(value.Inputs) registry.Invoke {
		return func(ctx context.Context, rt runtimeapi.RuntimeAPI, in value.Inputs) (value.RawVc, error) {
			n, err := readInt(ctx, rt, in[0])
			if err != nil {
				return value.RawVc{}, err
			}
			return writeOutput(ctx, rt, Str(fmt.Sprintf("%d", n)))
		}
	})
	strFormat := reg.RegisterFunction("demo.Str.Format", func(value.Inputs) registry.Invoke {
		return func(ctx context.Context, rt runtimeapi.RuntimeAPI, in value.Inputs) (value.RawVc, error) {
			s, err := readStr(ctx, rt, in[0])
			if err != nil {
				return value.RawVc{}, err
			}
			return writeOutput(ctx, rt, Str(fmt.Sprintf("%q", string(s))))
		}
	})

	mustImpl(reg, trait, reflect.TypeOf(Int(0)).String(), "Format", intFormat)
	mustImpl(reg, trait, reflect.TypeOf(Str("")).String(), "Format", strFormat)

	return Printable{Trait: trait}
}

func mustImpl(reg *registry.Registry, trait id.TraitTypeId, valueType, method string, fn id.FunctionId) {
	if err := reg.RegisterImpl(trait, valueType, method, fn); err != nil {
		panic(fmt.Sprintf("demo: register %s.%s impl for %s: %v", valueType, method, valueType, err))
	}
}
