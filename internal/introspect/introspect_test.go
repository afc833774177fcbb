package introspect_test

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskgraph/tgraph/internal/introspect"
	"github.com/taskgraph/tgraph/pkg/id"
	"github.com/taskgraph/tgraph/pkg/value"
)

type fakeEngine struct {
	descriptions map[id.TaskId]string
	collectibles []value.RawVc
}

func (f *fakeEngine) GetTaskDescription(t id.TaskId) string { return f.descriptions[t] }

func (f *fakeEngine) ReadCollectibles(ctx context.Context, target id.TaskId, trait id.TraitTypeId) ([]value.RawVc, error) {
	return f.collectibles, nil
}

func TestWriteTasksRendersEachRootsDescription(t *testing.T) {
	eng := &fakeEngine{descriptions: map[id.TaskId]string{
		1: "Task#1 demo.add",
		2: "Task#2 demo.concat",
	}}
	d := introspect.New(eng)

	var buf bytes.Buffer
	require.NoError(t, d.WriteTasks(&buf, []id.TaskId{1, 2}))
	assert.Equal(t, "Task#1 demo.add\nTask#2 demo.concat\n", buf.String())
}

func TestWriteCollectiblesRendersNoneForEmptySet(t *testing.T) {
	eng := &fakeEngine{}
	d := introspect.New(eng)

	var buf bytes.Buffer
	require.NoError(t, d.WriteCollectibles(context.Background(), &buf, id.TaskId(1), id.TraitTypeId(1)))
	assert.Contains(t, buf.String(), "(none)")
}

func TestWriteCollectiblesRendersEachItem(t *testing.T) {
	item := value.TaskCell(id.TaskId(5), id.CellId{TypeId: 1, Index: 0})
	eng := &fakeEngine{collectibles: []value.RawVc{item}}
	d := introspect.New(eng)

	var buf bytes.Buffer
	require.NoError(t, d.WriteCollectibles(context.Background(), &buf, id.TaskId(1), id.TraitTypeId(1)))
	assert.Contains(t, buf.String(), item.String())
}
