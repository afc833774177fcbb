package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/taskgraph/tgraph/demo"
	"github.com/taskgraph/tgraph/pkg/task"
	"github.com/taskgraph/tgraph/pkg/value"
)

var runOp string

// runCmd drives one demo task to completion and prints its result, the
// smallest possible end-to-end exercise of GetOrCreatePersistentTask ->
// Wait -> ReadCellUntracked that a real caller would perform.
var runCmd = &cobra.Command{
	Use:   "run [args...]",
	Short: "Run a demo task to completion and print its result",
	Long:  "Runs one of the demo package's registered functions (add, concat, fetch) against literal arguments and prints its output cell.",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := newSession(cmd)
		if err != nil {
			return err
		}
		defer s.Close()

		ctx := cmd.Context()
		tt, err := buildDemoTask(s.fns, runOp, args)
		if err != nil {
			return err
		}

		be := s.eng.Backend()
		tid := be.GetOrCreatePersistentTask(ctx, tt, 0, s.eng)

		vc, err := s.eng.Wait(ctx, tid)
		if err != nil {
			return fmt.Errorf("tgctl run: %w", err)
		}
		content, err := s.eng.ReadCellUntracked(ctx, vc.Task, vc.Cell)
		if err != nil {
			return fmt.Errorf("tgctl run: read result: %w", err)
		}

		fmt.Println(renderResult(content))
		return nil
	},
}

func init() {
	runCmd.Flags().StringVar(&runOp, "op", "add", "demo operation: add | concat | fetch")
}

func buildDemoTask(fns demo.Functions, op string, args []string) (task.PersistentTaskType, error) {
	switch op {
	case "add":
		if len(args) != 2 {
			return task.PersistentTaskType{}, fmt.Errorf("tgctl run --op=add: want 2 integer args, got %d", len(args))
		}
		a, err := strconv.Atoi(args[0])
		if err != nil {
			return task.PersistentTaskType{}, fmt.Errorf("tgctl run: %w", err)
		}
		b, err := strconv.Atoi(args[1])
		if err != nil {
			return task.PersistentTaskType{}, fmt.Errorf("tgctl run: %w", err)
		}
		return task.Native(fns.Add, value.Inputs{value.LiteralInput{Value: a}, value.LiteralInput{Value: b}}), nil
	case "concat":
		if len(args) != 2 {
			return task.PersistentTaskType{}, fmt.Errorf("tgctl run --op=concat: want 2 string args, got %d", len(args))
		}
		return task.Native(fns.Concat, value.Inputs{value.LiteralInput{Value: args[0]}, value.LiteralInput{Value: args[1]}}), nil
	case "fetch":
		if len(args) != 1 {
			return task.PersistentTaskType{}, fmt.Errorf("tgctl run --op=fetch: want 1 string arg, got %d", len(args))
		}
		return task.Native(fns.Fetch, value.Inputs{value.LiteralInput{Value: args[0]}}), nil
	default:
		return task.PersistentTaskType{}, fmt.Errorf("tgctl run: unknown --op %q", op)
	}
}

func renderResult(c value.CellContent) string {
	payload, ok := c.Payload()
	if !ok {
		return "(empty cell)"
	}
	switch v := payload.(type) {
	case demo.Int:
		return strconv.Itoa(int(v))
	case demo.Str:
		return string(v)
	default:
		return fmt.Sprint(v)
	}
}
