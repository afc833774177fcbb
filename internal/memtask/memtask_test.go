package memtask_test

import (
	"testing"

	"github.com/taskgraph/tgraph/internal/backendconformance"
	"github.com/taskgraph/tgraph/internal/memtask"
	"github.com/taskgraph/tgraph/pkg/backend"
	"github.com/taskgraph/tgraph/pkg/registry"
)

func TestBackendContract(t *testing.T) {
	backendconformance.Run(t, func(t *testing.T, reg *registry.Registry) backend.Backend {
		return memtask.New(reg)
	})
}
