package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/taskgraph/tgraph/demo"
	"github.com/taskgraph/tgraph/internal/config"
	"github.com/taskgraph/tgraph/internal/engine"
	applog "github.com/taskgraph/tgraph/internal/log"
	"github.com/taskgraph/tgraph/internal/memtask"
	"github.com/taskgraph/tgraph/internal/metrics"
	"github.com/taskgraph/tgraph/internal/persisttask"
	"github.com/taskgraph/tgraph/pkg/backend"
	"github.com/taskgraph/tgraph/pkg/id"
	"github.com/taskgraph/tgraph/pkg/registry"
)

var (
	flagWorkers   int
	flagBackend   string
	flagDataDir   string
	flagLogLevel  string
	flagMetrics   bool
	flagMetricsOn string
)

// rootCmd wires config -> log -> registry -> backend -> engine the way
// cmd/node/main.go wires weisyn's node, just collapsed behind cobra the
// way cmd/cli's own subcommands are, rather than the stdlib flag package
// cmd/node reaches for.
var rootCmd = &cobra.Command{
	Use:   "tgctl",
	Short: "Drive the task-graph engine from the command line",
	Long:  "tgctl wires a backend and engine together and runs or inspects task-graph workloads against it.",
}

func init() {
	rootCmd.PersistentFlags().IntVar(&flagWorkers, "workers", 4, "worker pool size")
	rootCmd.PersistentFlags().StringVar(&flagBackend, "backend", "memory", "backend kind: memory | persistent")
	rootCmd.PersistentFlags().StringVar(&flagDataDir, "data-dir", "", "persistent backend data directory (empty = in-memory)")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "info", "log level: debug | info | warn | error")
	rootCmd.PersistentFlags().BoolVar(&flagMetrics, "metrics", false, "expose a Prometheus scrape endpoint")
	rootCmd.PersistentFlags().StringVar(&flagMetricsOn, "metrics-addr", ":9090", "address the metrics endpoint listens on")

	rootCmd.AddCommand(runCmd, inspectCmd)
}

// session bundles everything one tgctl invocation builds: a uniquely
// identified run (the one concrete home github.com/google/uuid gets in
// this tree), a logger scoped to it, the wired engine/registry, and a
// closer for whatever the backend needs released on exit.
type session struct {
	id        uuid.UUID
	log       applog.Logger
	reg       *registry.Registry
	eng       *engine.Engine
	closer    io.Closer
	fns       demo.Functions
	printable demo.Printable
}

func newSession(cmd *cobra.Command) (*session, error) {
	cfg := config.Default()
	cfg.Engine.Workers = flagWorkers
	cfg.Log.Level = flagLogLevel
	cfg.Backend.Kind = config.BackendKind(flagBackend)
	cfg.Backend.Persistent.DataDir = flagDataDir
	cfg.Metrics.Enabled = flagMetrics
	cfg.Metrics.Addr = flagMetricsOn

	provider, err := config.NewProvider(cfg)
	if err != nil {
		return nil, err
	}
	c := provider.Config()

	logger, err := applog.New(c.Log)
	if err != nil {
		return nil, fmt.Errorf("tgctl: build logger: %w", err)
	}

	runID := uuid.New()
	logger = logger.With("run_id", runID.String())

	reg := registry.New()
	fns := demo.Register(reg)
	printable := demo.RegisterPrintable(reg)

	var be backend.Backend
	var closer io.Closer
	switch c.Backend.Kind {
	case config.BackendPersistent:
		pb := persisttask.New(reg, persisttask.WithLogger(logger), persisttask.WithDataDir(c.Backend.Persistent.DataDir))
		be = pb
		closer = pb
	default:
		be = memtask.New(reg, memtask.WithLogger(logger), memtask.WithDescriptionCacheSize(c.Engine.DescriptionCacheSize))
	}

	engOpts := []engine.Option{engine.WithWorkers(c.Engine.Workers), engine.WithLogger(logger)}
	if c.Metrics.Enabled {
		sink := metrics.New(prometheus.DefaultRegisterer)
		engOpts = append(engOpts, engine.WithStats(sink))
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		go func() {
			if err := http.ListenAndServe(c.Metrics.Addr, mux); err != nil {
				logger.Warn("metrics endpoint stopped", "addr", c.Metrics.Addr, "error", err)
			}
		}()
	}

	eng := engine.New(be, reg, id.NewMonotonicProvider(), engOpts...)
	eng.Start(cmd.Context())

	logger.Info("tgctl session started", "backend", string(c.Backend.Kind), "workers", c.Engine.Workers)

	return &session{
		id:        runID,
		log:       logger,
		reg:       reg,
		eng:       eng,
		closer:    closer,
		fns:       fns,
		printable: printable,
	}, nil
}

func (s *session) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = s.eng.Stop(ctx)
	if s.closer != nil {
		_ = s.closer.Close()
	}
	_ = s.log.Sync()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
