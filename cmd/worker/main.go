package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog/log"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"

	"github.com/Keyring-Network/keyring-atlas/internal/agent"
	"github.com/Keyring-Network/keyring-atlas/internal/assess"
	"github.com/Keyring-Network/keyring-atlas/internal/config"
	"github.com/Keyring-Network/keyring-atlas/internal/logging"
	"github.com/Keyring-Network/keyring-atlas/internal/store"
	"github.com/Keyring-Network/keyring-atlas/internal/store/postgres"
	"github.com/Keyring-Network/keyring-atlas/internal/telemetry"
	"github.com/Keyring-Network/keyring-atlas/internal/workflows"
)

var version = "dev"

// agentBuilder is the slice of assess.Runtime the worker depends on.
type agentBuilder interface {
	NewAgent(opts ...agent.Option) *agent.Agent
	Close() error
}

var (
	loadConfig     = config.Load
	setupLogging   = logging.Setup
	setupTelemetry = telemetry.Setup
	dialTemporal   = client.Dial
	buildRuntime   = func(ctx context.Context, cfg config.Config) (agentBuilder, error) {
		return assess.Build(ctx, cfg)
	}
	newStore = func(conn string) (store.Store, func() error, error) {
		st, err := postgres.New(conn)
		if err != nil {
			return nil, nil, err
		}
		return st, st.Close, nil
	}
	newActivities   = workflows.NewAssessmentActivities
	newWorker       = worker.New
	workerInterrupt = worker.InterruptCh
)

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("worker exited")
	}
}

func run() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	setupLogging(cfg.LogLevel, cfg.LogFormat, os.Stderr)

	shutdownTelemetry, err := setupTelemetry("atlas-worker", version, cfg.OtelEnabled)
	if err != nil {
		return err
	}
	defer func() { _ = shutdownTelemetry(context.Background()) }()

	temporalClient, err := dialTemporal(client.Options{
		HostPort:  cfg.TemporalAddress,
		Namespace: cfg.TemporalNamespace,
	})
	if err != nil {
		return fmt.Errorf("connecting to temporal: %w", err)
	}
	if temporalClient != nil {
		defer temporalClient.Close()
	}

	runtime, err := buildRuntime(context.Background(), cfg)
	if err != nil {
		return err
	}
	defer func() { _ = runtime.Close() }()

	// Without a database the worker reports through the control plane only.
	var st store.Store
	if strings.TrimSpace(cfg.DatabaseURL) != "" {
		opened, closeStore, err := newStore(cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("opening store: %w", err)
		}
		defer func() { _ = closeStore() }()
		st = opened
	}

	activities := newActivities(st, func(budget float64, sink agent.EventSink) agent.Runner {
		return runtime.NewAgent(agent.WithBudget(budget), agent.WithEventSink(sink))
	}, cfg.ControlPlaneURL, workflows.WithCityTimeout(cfg.CityTimeout))

	w := newWorker(temporalClient, cfg.TemporalTaskQueue, worker.Options{})
	w.RegisterWorkflow(workflows.AssessmentWorkflow)
	w.RegisterActivity(activities)

	log.Info().
		Str("task_queue", cfg.TemporalTaskQueue).
		Str("version", version).
		Msg("atlas worker started")
	return w.Run(workerInterrupt())
}
