package value_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskgraph/tgraph/pkg/errs"
	"github.com/taskgraph/tgraph/pkg/id"
	"github.com/taskgraph/tgraph/pkg/value"
)

// chainResolver simulates a backend whose task outputs form a fixed chain,
// for exercising value.Resolve without any real execution engine.
type chainResolver struct {
	outputs map[id.TaskId]value.RawVc
}

func (r chainResolver) ReadTaskOutput(_ context.Context, task, _ id.TaskId, _ bool) (value.RawVc, error) {
	return r.outputs[task], nil
}

func TestResolveFollowsOutputChainToCell(t *testing.T) {
	cell := id.CellId{TypeId: 1, Index: 0}
	r := chainResolver{outputs: map[id.TaskId]value.RawVc{
		1: value.TaskOutput(2),
		2: value.TaskCell(3, cell),
	}}

	resolved, err := value.Resolve(context.Background(), r, value.TaskOutput(1), 0, false)
	require.NoError(t, err)
	assert.Equal(t, value.TaskCell(3, cell), resolved)
}

func TestResolveIsIdempotentOnAnAlreadyResolvedHandle(t *testing.T) {
	cell := id.CellId{TypeId: 1, Index: 0}
	v := value.TaskCell(5, cell)
	r := chainResolver{outputs: map[id.TaskId]value.RawVc{}}

	once, err := value.Resolve(context.Background(), r, v, 0, false)
	require.NoError(t, err)
	twice, err := value.Resolve(context.Background(), r, once, 0, false)
	require.NoError(t, err)

	assert.Equal(t, v, once)
	assert.Equal(t, once, twice)
}

func TestResolveDetectsCycles(t *testing.T) {
	r := chainResolver{outputs: map[id.TaskId]value.RawVc{
		1: value.TaskOutput(2),
		2: value.TaskOutput(1),
	}}

	_, err := value.Resolve(context.Background(), r, value.TaskOutput(1), 0, false)
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrCycleDetected)
}

func TestCastRoundTripsThroughSharedReference(t *testing.T) {
	content := value.NewCellContent(value.NewSharedReference(42))

	ref, err := value.Cast[int](content)
	require.NoError(t, err)
	assert.Equal(t, 42, ref.Get())

	_, err = value.Cast[string](content)
	assert.ErrorIs(t, err, errs.ErrTypeMismatch)
}

func TestCastOnEmptyCellFails(t *testing.T) {
	_, err := value.Cast[int](value.CellContent{})
	assert.ErrorIs(t, err, errs.ErrCellEmpty)
}

func TestCastTraitRequiresATypeTag(t *testing.T) {
	untyped := value.NewCellContent(value.SharedReference{})
	_, err := value.CastTrait[any](untyped)
	assert.ErrorIs(t, err, errs.ErrUntyped)

	typed := value.NewCellContent(value.NewSharedReference("hi"))
	traitRef, err := value.CastTrait[any](typed)
	require.NoError(t, err)
	assert.True(t, traitRef.Ref().HasType())
}

func TestCellContentTypeName(t *testing.T) {
	empty := value.CellContent{}
	_, ok := empty.TypeName()
	assert.False(t, ok)

	typed := value.NewCellContent(value.NewSharedReference(int64(7)))
	name, ok := typed.TypeName()
	require.True(t, ok)
	assert.Equal(t, "int64", name)
}
