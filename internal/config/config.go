// Package config is the typed configuration surface for cmd/tgctl and any
// other process embedding this engine, grounded on the teacher's
// internal/config/provider.go: a Provider wrapping one assembled config
// struct, built either from defaults or overridden piecewise by a caller
// (a CLI flag layer, an env var reader, a config file loader), rather than
// the engine parsing any particular file format itself.
package config

import (
	"fmt"
	"time"

	applog "github.com/taskgraph/tgraph/internal/log"
)

// EngineConfig controls the worker pool and description cache.
type EngineConfig struct {
	Workers              int
	DescriptionCacheSize int
}

// BackendKind selects which concrete pkg/backend.Backend a driver wires up.
type BackendKind string

const (
	BackendMemory     BackendKind = "memory"
	BackendPersistent BackendKind = "persistent"
)

// PersistentConfig describes internal/persisttask's storage layer. cmd/tgctl
// passes DataDir on through persisttask.WithDataDir; CacheWindow is not
// passed on, and the cell store uses its own five-minute default window.
type PersistentConfig struct {
	DataDir     string
	CacheWindow time.Duration
}

// BackendConfig selects and configures the backend a driver constructs.
type BackendConfig struct {
	Kind       BackendKind
	Persistent PersistentConfig
}

// MetricsConfig controls whether internal/metrics registers a Prometheus
// exporter and where it listens.
type MetricsConfig struct {
	Enabled bool
	Addr    string
}

// Config is the full set of tunables a driver (cmd/tgctl, or an embedder)
// needs to construct a running engine.
type Config struct {
	Engine  EngineConfig
	Log     applog.Config
	Backend BackendConfig
	Metrics MetricsConfig
}

// Default returns the configuration cmd/tgctl starts from absent any
// flag overrides: an in-memory backend, four workers, console logging at
// info level, metrics disabled.
func Default() Config {
	return Config{
		Engine: EngineConfig{Workers: 4, DescriptionCacheSize: 4096},
		Log:    applog.DefaultConfig(),
		Backend: BackendConfig{
			Kind: BackendMemory,
		},
		Metrics: MetricsConfig{Enabled: false, Addr: ":9090"},
	}
}

// Provider wraps a validated Config, the same "assemble once, hand out a
// read-only view" shape as the teacher's own Provider.
type Provider struct {
	cfg Config
}

// NewProvider validates cfg and returns a Provider over it.
func NewProvider(cfg Config) (*Provider, error) {
	if cfg.Engine.Workers <= 0 {
		return nil, fmt.Errorf("config: engine.workers must be positive, got %d", cfg.Engine.Workers)
	}
	if cfg.Backend.Kind != BackendMemory && cfg.Backend.Kind != BackendPersistent {
		return nil, fmt.Errorf("config: unknown backend kind %q", cfg.Backend.Kind)
	}
	return &Provider{cfg: cfg}, nil
}

// Config returns the wrapped configuration.
func (p *Provider) Config() Config { return p.cfg }
