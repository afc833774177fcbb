package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/taskgraph/tgraph/internal/introspect"
	"github.com/taskgraph/tgraph/pkg/id"
	"github.com/taskgraph/tgraph/pkg/task"
	"github.com/taskgraph/tgraph/pkg/value"
)

// inspectCmd builds a tiny two-task graph (an add, then a ResolveTrait
// dispatch to Printable.Format over its output) and dumps task
// descriptions and the Printable trait's collectible set via
// internal/introspect, the way an operator would when diagnosing a stuck
// or surprising graph without a full inspection server to query.
var inspectCmd = &cobra.Command{
	Use:   "inspect a b",
	Short: "Run a small demo graph and dump its task descriptions",
	Long:  "Builds add(a, b) then Printable.Format(add(a, b)) and writes both tasks' descriptions, plus the Printable trait's collectible set, to stdout.",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := newSession(cmd)
		if err != nil {
			return err
		}
		defer s.Close()

		a, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("tgctl inspect: %w", err)
		}
		b, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("tgctl inspect: %w", err)
		}

		ctx := cmd.Context()
		be := s.eng.Backend()

		addID := be.GetOrCreatePersistentTask(ctx, task.Native(s.fns.Add, value.Inputs{
			value.LiteralInput{Value: a}, value.LiteralInput{Value: b},
		}), 0, s.eng)

		fmtID := be.GetOrCreatePersistentTask(ctx, task.ResolveTrait(s.printable.Trait, "Format", value.Inputs{
			value.VcInput{Vc: value.TaskOutput(addID)},
		}), 0, s.eng)

		if _, err := s.eng.Wait(ctx, fmtID); err != nil {
			return fmt.Errorf("tgctl inspect: %w", err)
		}

		dumper := introspect.New(s.eng)
		if err := dumper.WriteTasks(os.Stdout, []id.TaskId{addID, fmtID}); err != nil {
			return err
		}
		return dumper.WriteCollectibles(ctx, os.Stdout, fmtID, s.printable.Trait)
	},
}
