package persisttask_test

import (
	"testing"

	"github.com/taskgraph/tgraph/internal/backendconformance"
	"github.com/taskgraph/tgraph/internal/persisttask"
	"github.com/taskgraph/tgraph/pkg/backend"
	"github.com/taskgraph/tgraph/pkg/registry"
)

// TestBackendContract runs the same scenarios internal/memtask is held to,
// against an in-memory Badger instance (WithDataDir unset): the durable
// write/read path is exercised in full, just without a disk directory to
// clean up per test.
func TestBackendContract(t *testing.T) {
	backendconformance.Run(t, func(t *testing.T, reg *registry.Registry) backend.Backend {
		be := persisttask.New(reg)
		t.Cleanup(func() { _ = be.Close() })
		return be
	})
}
