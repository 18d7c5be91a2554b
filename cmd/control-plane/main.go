package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rs/zerolog/log"
	"go.temporal.io/sdk/client"

	"github.com/Keyring-Network/keyring-atlas/internal/api"
	"github.com/Keyring-Network/keyring-atlas/internal/config"
	"github.com/Keyring-Network/keyring-atlas/internal/events"
	"github.com/Keyring-Network/keyring-atlas/internal/logging"
	"github.com/Keyring-Network/keyring-atlas/internal/store"
	"github.com/Keyring-Network/keyring-atlas/internal/store/memory"
	"github.com/Keyring-Network/keyring-atlas/internal/store/postgres"
	"github.com/Keyring-Network/keyring-atlas/internal/telemetry"
	"github.com/Keyring-Network/keyring-atlas/internal/workflows"
)

var version = "dev"

type server interface {
	Start(ctx context.Context, addr string) error
}

var (
	loadConfig     = config.Load
	setupLogging   = logging.Setup
	setupTelemetry = telemetry.Setup
	newBroker      = events.NewBroker
	newStore       = func(conn string) (store.Store, func() error, error) {
		st, err := postgres.New(conn)
		if err != nil {
			return nil, nil, err
		}
		return st, st.Close, nil
	}
	dialTemporal       = client.Dial
	newWorkflowService = workflows.NewService
	newServer          = func(st store.Store, broker *events.Broker, service *workflows.Service, cfg config.Config) server {
		var workflowService api.WorkflowService
		if service != nil {
			workflowService = service
		}
		return api.NewServer(st, broker, workflowService, cfg)
	}
	notifyContext = signal.NotifyContext
)

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("control plane exited")
	}
}

func run() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	setupLogging(cfg.LogLevel, cfg.LogFormat, os.Stderr)

	shutdownTelemetry, err := setupTelemetry("atlas-control-plane", version, cfg.OtelEnabled)
	if err != nil {
		return err
	}
	defer func() { _ = shutdownTelemetry(context.Background()) }()

	ctx, cancel := notifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	broker := newBroker()
	st, closeStore, err := openStore(cfg)
	if err != nil {
		return err
	}
	if closeStore != nil {
		defer func() { _ = closeStore() }()
	}

	workflowClient, err := dialTemporal(client.Options{
		HostPort:  cfg.TemporalAddress,
		Namespace: cfg.TemporalNamespace,
	})
	if err != nil {
		return fmt.Errorf("connecting to temporal: %w", err)
	}
	if workflowClient != nil {
		defer workflowClient.Close()
	}
	workflowService := newWorkflowService(workflowClient, cfg.TemporalTaskQueue,
		workflows.WithAssessmentDefaults(cfg.CityStagger, cfg.CityTimeout))

	server := newServer(st, broker, workflowService, cfg)

	addr := fmt.Sprintf(":%s", cfg.ControlPlanePort)
	log.Info().Str("addr", addr).Str("version", version).Msg("atlas control plane listening")
	if err := server.Start(ctx, addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}

// openStore uses Postgres when a database URL is configured and keeps
// everything in memory otherwise.
func openStore(cfg config.Config) (store.Store, func() error, error) {
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		log.Warn().Msg("DATABASE_URL not set, assessments are kept in memory")
		return memory.New(), nil, nil
	}
	st, closeStore, err := newStore(cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("opening store: %w", err)
	}
	return st, closeStore, nil
}
