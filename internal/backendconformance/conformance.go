// Package backendconformance exercises the pkg/backend.Backend contract
// against any concrete implementation: the same scenarios run table-driven
// over internal/memtask and internal/persisttask, so the two backends are
// proven to satisfy identical semantics rather than just identical method
// sets. Kept as an ordinary (non-_test.go) package, the way the standard
// library's net/http/httptest exposes testing-dependent helpers for reuse
// across packages.
package backendconformance

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskgraph/tgraph/demo"
	"github.com/taskgraph/tgraph/internal/engine"
	"github.com/taskgraph/tgraph/pkg/backend"
	"github.com/taskgraph/tgraph/pkg/errs"
	"github.com/taskgraph/tgraph/pkg/id"
	"github.com/taskgraph/tgraph/pkg/registry"
	"github.com/taskgraph/tgraph/pkg/runtimeapi"
	"github.com/taskgraph/tgraph/pkg/task"
	"github.com/taskgraph/tgraph/pkg/value"
)

// New builds one fresh backend instance for a conformance subtest. Backends
// that hold external resources (internal/persisttask's badger handle)
// register their own t.Cleanup before returning.
type New func(t *testing.T, reg *registry.Registry) backend.Backend

// Run registers one subtest per scenario, each against a fresh backend+
// engine+registry built via newBackend.
func Run(t *testing.T, newBackend New) {
	t.Run("GetOrCreatePersistentTaskMemoizesByCacheKey", func(t *testing.T) {
		testMemoize(t, newBackend)
	})
	t.Run("AddComputesAndMemoizesViaDemo", func(t *testing.T) {
		testAddViaDemo(t, newBackend)
	})
	t.Run("TrackedCellReadPropagatesInvalidationToReader", func(t *testing.T) {
		testTrackedInvalidation(t, newBackend)
	})
	t.Run("UntrackedCellReadDoesNotPropagateInvalidation", func(t *testing.T) {
		testUntrackedNoInvalidation(t, newBackend)
	})
	t.Run("ResolveTraitDiagnosticListsImplementedTraits", func(t *testing.T) {
		testResolveTraitDiagnostic(t, newBackend)
	})
	t.Run("ResolveTraitDispatchesToConcreteImplementation", func(t *testing.T) {
		testResolveTraitDispatch(t, newBackend)
	})
	t.Run("CollectiblesBubbleThroughStructuralEdgesAndUnemitClearsThem", func(t *testing.T) {
		testCollectibles(t, newBackend)
	})
	t.Run("RootTaskReschedulesWhenItsPersistentDependencyIsInvalidated", func(t *testing.T) {
		testRootReschedule(t, newBackend)
	})
}

// harness wires a fresh registry + backend + engine together and starts the
// worker pool, the way cmd/tgctl or any production driver would. Callers
// get back both the engine (for RuntimeAPI calls) and the backend.Backend
// (for the white-box / external-producer calls no task body would itself
// make).
func harness(t *testing.T, newBackend New) (*engine.Engine, backend.Backend, *registry.Registry) {
	t.Helper()
	reg := registry.New()
	be := newBackend(t, reg)
	eng := engine.New(be, reg, id.NewMonotonicProvider(), engine.WithWorkers(4))
	eng.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = eng.Stop(ctx)
	})
	return eng, be, reg
}

func testMemoize(t *testing.T, newBackend New) {
	eng, be, reg := harness(t, newBackend)
	ctx := context.Background()

	var calls int32
	fn := reg.RegisterFunction("test.count", func(value.Inputs) registry.Invoke {
		return func(ctx context.Context, rt runtimeapi.RuntimeAPI, in value.Inputs) (value.RawVc, error) {
			atomic.AddInt32(&calls, 1)
			self, _ := runtimeapi.CurrentTask(ctx)
			cell := id.CellId{TypeId: 1, Index: 0}
			content := value.NewCellContent(value.NewSharedReference(1))
			if err := rt.UpdateCell(ctx, cell, content); err != nil {
				return value.RawVc{}, err
			}
			return value.TaskCell(self, cell), nil
		}
	})

	tt := task.Native(fn, value.Inputs{value.LiteralInput{Value: 1}, value.LiteralInput{Value: 2}})
	first := be.GetOrCreatePersistentTask(ctx, tt, 0, eng)
	second := be.GetOrCreatePersistentTask(ctx, tt, 0, eng)
	require.Equal(t, first, second)

	_, err := eng.Wait(ctx, first)
	require.NoError(t, err)
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func testAddViaDemo(t *testing.T, newBackend New) {
	eng, be, reg := harness(t, newBackend)
	fns := demo.Register(reg)
	ctx := context.Background()

	tt := task.Native(fns.Add, value.Inputs{value.LiteralInput{Value: 1}, value.LiteralInput{Value: 2}})
	first := be.GetOrCreatePersistentTask(ctx, tt, 0, eng)
	second := be.GetOrCreatePersistentTask(ctx, tt, 0, eng)
	require.Equal(t, first, second)

	vc, err := eng.Wait(ctx, first)
	require.NoError(t, err)

	content, err := eng.ReadCellUntracked(ctx, vc.Task, vc.Cell)
	require.NoError(t, err)
	ref, err := value.Cast[demo.Int](content)
	require.NoError(t, err)
	assert.EqualValues(t, 3, ref.Get())
}

func testTrackedInvalidation(t *testing.T, newBackend New) {
	eng, be, _ := harness(t, newBackend)
	ctx := context.Background()

	srcCell := id.CellId{TypeId: 2, Index: 0}
	outCell := id.CellId{TypeId: 2, Index: 1}

	srcID := eng.SubmitOnce(ctx, func(ctx context.Context) (value.RawVc, error) {
		return value.RawVc{}, nil
	})
	be.UpdateTaskCell(srcID, srcCell, value.NewCellContent(value.NewSharedReference(10)), eng)

	readerID := eng.SubmitRoot(ctx, func(ctx context.Context) (value.RawVc, error) {
		self, _ := runtimeapi.CurrentTask(ctx)
		content, err := eng.ReadCell(ctx, srcID, srcCell)
		if err != nil {
			return value.RawVc{}, err
		}
		ref, err := value.Cast[int](content)
		if err != nil {
			return value.RawVc{}, err
		}
		out := value.NewCellContent(value.NewSharedReference(ref.Get() * 2))
		if err := eng.UpdateCell(ctx, outCell, out); err != nil {
			return value.RawVc{}, err
		}
		return value.TaskCell(self, outCell), nil
	})

	vc, err := eng.Wait(ctx, readerID)
	require.NoError(t, err)
	content, err := eng.ReadCellUntracked(ctx, vc.Task, vc.Cell)
	require.NoError(t, err)
	ref, err := value.Cast[int](content)
	require.NoError(t, err)
	assert.Equal(t, 20, ref.Get())

	be.UpdateTaskCell(srcID, srcCell, value.NewCellContent(value.NewSharedReference(30)), eng)

	require.Eventually(t, func() bool {
		vc, err := eng.Wait(ctx, readerID)
		if err != nil {
			return false
		}
		content, err := eng.ReadCellUntracked(ctx, vc.Task, vc.Cell)
		if err != nil {
			return false
		}
		ref, err := value.Cast[int](content)
		return err == nil && ref.Get() == 60
	}, time.Second, 5*time.Millisecond)
}

func testUntrackedNoInvalidation(t *testing.T, newBackend New) {
	eng, be, _ := harness(t, newBackend)
	ctx := context.Background()

	srcCell := id.CellId{TypeId: 3, Index: 0}
	srcID := eng.SubmitOnce(ctx, func(ctx context.Context) (value.RawVc, error) {
		return value.RawVc{}, nil
	})
	be.UpdateTaskCell(srcID, srcCell, value.NewCellContent(value.NewSharedReference(1)), eng)

	var runs int32
	readerID := eng.SubmitRoot(ctx, func(ctx context.Context) (value.RawVc, error) {
		atomic.AddInt32(&runs, 1)
		_, err := eng.ReadCellUntracked(ctx, srcID, srcCell)
		if err != nil {
			return value.RawVc{}, err
		}
		return value.TaskOutput(srcID), nil
	})

	_, err := eng.Wait(ctx, readerID)
	require.NoError(t, err)
	require.EqualValues(t, 1, atomic.LoadInt32(&runs))

	be.UpdateTaskCell(srcID, srcCell, value.NewCellContent(value.NewSharedReference(2)), eng)

	// No tracked edge was ever recorded for this read, so the reader must
	// never be rescheduled by the update above.
	time.Sleep(150 * time.Millisecond)
	assert.EqualValues(t, 1, atomic.LoadInt32(&runs))
}

func testResolveTraitDiagnostic(t *testing.T, newBackend New) {
	eng, be, reg := harness(t, newBackend)
	printable := demo.RegisterPrintable(reg)
	ctx := context.Background()

	foreignCell := id.CellId{TypeId: 9, Index: 0}
	holder := eng.SubmitOnce(ctx, func(ctx context.Context) (value.RawVc, error) {
		return value.RawVc{}, nil
	})
	be.UpdateTaskCell(holder, foreignCell, value.NewCellContent(value.NewSharedReference(true)), eng)

	tt := task.ResolveTrait(printable.Trait, "Format", value.Inputs{
		value.VcInput{Vc: value.TaskCell(holder, foreignCell)},
	})
	tid := be.GetOrCreatePersistentTask(ctx, tt, 0, eng)

	_, err := eng.Wait(ctx, tid)
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrTaskError)
	assert.Contains(t, err.Error(), "doesn't implement")
	// bool implements no registered trait, so the listing is empty.
	assert.Contains(t, err.Error(), "(only [])")
}

func testResolveTraitDispatch(t *testing.T, newBackend New) {
	eng, be, reg := harness(t, newBackend)
	fns := demo.Register(reg)
	printable := demo.RegisterPrintable(reg)
	ctx := context.Background()

	addID := be.GetOrCreatePersistentTask(ctx, task.Native(fns.Add, value.Inputs{
		value.LiteralInput{Value: 2}, value.LiteralInput{Value: 3},
	}), 0, eng)

	tt := task.ResolveTrait(printable.Trait, "Format", value.Inputs{
		value.VcInput{Vc: value.TaskOutput(addID)},
	})
	tid := be.GetOrCreatePersistentTask(ctx, tt, 0, eng)

	// DynamicCall (the resolve machinery's dispatch step) hands back the
	// dispatched task's output handle unresolved, so the ResolveTrait
	// task's own output is itself another TaskOutput indirection: chase it
	// one more strongly-consistent hop before reading the cell.
	vc, err := eng.Wait(ctx, tid)
	require.NoError(t, err)
	require.Equal(t, value.KindTaskOutput, vc.Kind)

	finalVc, err := eng.Wait(ctx, vc.Task)
	require.NoError(t, err)

	content, err := eng.ReadCellUntracked(ctx, finalVc.Task, finalVc.Cell)
	require.NoError(t, err)
	ref, err := value.Cast[demo.Str](content)
	require.NoError(t, err)
	assert.Equal(t, "5", string(ref.Get()))
}

func testCollectibles(t *testing.T, newBackend New) {
	eng, be, _ := harness(t, newBackend)
	ctx := context.Background()
	trait := id.TraitTypeId(1)
	item := value.TaskCell(id.TaskId(999), id.CellId{TypeId: 5, Index: 0})

	childID := eng.SubmitOnce(ctx, func(ctx context.Context) (value.RawVc, error) {
		if err := eng.EmitCollectible(ctx, trait, item); err != nil {
			return value.RawVc{}, err
		}
		return value.RawVc{}, nil
	})
	_, err := eng.Wait(ctx, childID)
	require.NoError(t, err)

	parentID := eng.SubmitOnce(ctx, func(ctx context.Context) (value.RawVc, error) {
		return value.RawVc{}, nil
	})
	_, err = eng.Wait(ctx, parentID)
	require.NoError(t, err)
	be.ConnectTask(childID, parentID, eng)

	items, err := eng.ReadCollectibles(ctx, parentID, trait)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, item, items[0])

	be.UnemitCollectible(trait, item, childID, eng)
	items, err = eng.ReadCollectibles(ctx, parentID, trait)
	require.NoError(t, err)
	assert.Empty(t, items)
}

func testRootReschedule(t *testing.T, newBackend New) {
	eng, be, reg := harness(t, newBackend)
	ctx := context.Background()

	var producerRuns, rootRuns int32
	producerFn := reg.RegisterFunction("test.producer", func(value.Inputs) registry.Invoke {
		return func(ctx context.Context, rt runtimeapi.RuntimeAPI, in value.Inputs) (value.RawVc, error) {
			atomic.AddInt32(&producerRuns, 1)
			self, _ := runtimeapi.CurrentTask(ctx)
			cell := id.CellId{TypeId: 11, Index: 0}
			content := value.NewCellContent(value.NewSharedReference(2))
			if err := rt.UpdateCell(ctx, cell, content); err != nil {
				return value.RawVc{}, err
			}
			return value.TaskCell(self, cell), nil
		}
	})
	producerID := be.GetOrCreatePersistentTask(ctx, task.Native(producerFn, nil), 0, eng)

	rootID := eng.SubmitRoot(ctx, func(ctx context.Context) (value.RawVc, error) {
		atomic.AddInt32(&rootRuns, 1)
		return eng.ReadOutput(ctx, producerID, false)
	})

	_, err := eng.Wait(ctx, rootID)
	require.NoError(t, err)
	require.EqualValues(t, 1, atomic.LoadInt32(&producerRuns))
	require.EqualValues(t, 1, atomic.LoadInt32(&rootRuns))

	be.InvalidateTask(producerID, eng)

	_, err = eng.Wait(ctx, rootID)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&producerRuns) >= 2 && atomic.LoadInt32(&rootRuns) >= 2
	}, time.Second, 5*time.Millisecond)
}
