// Package introspect is a text-dumper collaborator standing in for an
// out-of-scope HTTP inspection server: given a running engine, it walks
// task descriptions and collectible sets and renders them as plain text,
// the same data an HTTP handler would marshal to JSON if one existed.
// cmd/tgctl's "inspect" subcommand is its driver.
package introspect

import (
	"context"
	"fmt"
	"io"

	"github.com/taskgraph/tgraph/pkg/id"
	"github.com/taskgraph/tgraph/pkg/value"
)

// Engine is the minimal surface introspect needs; internal/engine.Engine
// satisfies it directly. Kept as a local interface so this package doesn't
// need to import internal/engine just to reference its concrete type.
type Engine interface {
	GetTaskDescription(t id.TaskId) string
	ReadCollectibles(ctx context.Context, target id.TaskId, trait id.TraitTypeId) ([]value.RawVc, error)
}

// Dumper renders human-readable task and collectible state for a set of
// root TaskIds a caller supplies (e.g. whatever it handed to
// Engine.SubmitRoot/SubmitOnce) — the engine itself has no "list all
// tasks" operation to walk blindly.
type Dumper struct {
	eng Engine
}

// New returns a Dumper over eng.
func New(eng Engine) *Dumper {
	return &Dumper{eng: eng}
}

// DescribeTask renders one task's description line.
func (d *Dumper) DescribeTask(t id.TaskId) string {
	return d.eng.GetTaskDescription(t)
}

// WriteTasks writes one description line per root to w, in the order
// given.
func (d *Dumper) WriteTasks(w io.Writer, roots []id.TaskId) error {
	for _, r := range roots {
		if _, err := fmt.Fprintln(w, d.eng.GetTaskDescription(r)); err != nil {
			return err
		}
	}
	return nil
}

// WriteCollectibles writes target's transitive collectible set for trait
// to w, one item per line.
func (d *Dumper) WriteCollectibles(ctx context.Context, w io.Writer, target id.TaskId, trait id.TraitTypeId) error {
	items, err := d.eng.ReadCollectibles(ctx, target, trait)
	if err != nil {
		return err
	}
	if len(items) == 0 {
		_, err := fmt.Fprintf(w, "Trait#%d collectibles of %s: (none)\n", uint32(trait), target)
		return err
	}
	if _, err := fmt.Fprintf(w, "Trait#%d collectibles of %s:\n", uint32(trait), target); err != nil {
		return err
	}
	for _, it := range items {
		if _, err := fmt.Fprintf(w, "  %s\n", it); err != nil {
			return err
		}
	}
	return nil
}
