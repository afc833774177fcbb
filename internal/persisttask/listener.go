package persisttask

import (
	"context"
	"fmt"
	"sync"

	evbus "github.com/asaskevich/EventBus"

	"github.com/taskgraph/tgraph/pkg/backend"
	"github.com/taskgraph/tgraph/pkg/errs"
	"github.com/taskgraph/tgraph/pkg/id"
)

func outputTopic(t id.TaskId) string {
	return fmt.Sprintf("out:%d", uint32(t))
}

func cellTopic(t id.TaskId, cell id.CellId) string {
	return fmt.Sprintf("cell:%d:%d:%d", uint32(t), uint32(cell.TypeId), cell.Index)
}

func collectibleTopic(t id.TaskId, trait id.TraitTypeId) string {
	return fmt.Sprintf("coll:%d:%d", uint32(t), uint32(trait))
}

func (b *Backend) publish(topic string) {
	b.bus.Publish(topic)
}

// busListener is a one-shot backend.EventListener riding on the shared
// EventBus, identical in shape to internal/memtask's: it subscribes once
// to topic and fires its channel the next time anyone publishes to it.
type busListener struct {
	bus   evbus.Bus
	topic string
	ch    chan struct{}
	once  sync.Once
	fn    func()
}

func (b *Backend) listenerFor(topic string) *busListener {
	l := &busListener{bus: b.bus, topic: topic, ch: make(chan struct{})}
	l.fn = l.fire
	if err := b.bus.SubscribeOnce(topic, l.fn); err != nil {
		close(l.ch)
	}
	return l
}

func (l *busListener) fire() {
	l.once.Do(func() { close(l.ch) })
}

func (l *busListener) Wait(ctx context.Context) error {
	select {
	case <-l.ch:
		return nil
	case <-ctx.Done():
		_ = l.bus.Unsubscribe(l.topic, l.fn)
		return ctx.Err()
	}
}

var _ backend.EventListener = (*busListener)(nil)

func wrapPanic(msg string) error {
	return fmt.Errorf("%w: %s", errs.ErrTaskPanicked, msg)
}

func wrapTaskError(err error) error {
	return fmt.Errorf("%w: %w", errs.ErrTaskError, err)
}
