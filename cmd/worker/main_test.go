package main

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/nexus-rpc/sdk-go/nexus"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"

	"github.com/Keyring-Network/keyring-atlas/internal/agent"
	"github.com/Keyring-Network/keyring-atlas/internal/config"
	"github.com/Keyring-Network/keyring-atlas/internal/store"
	"github.com/Keyring-Network/keyring-atlas/internal/store/memory"
	"github.com/Keyring-Network/keyring-atlas/internal/workflows"
)

type stubWorker struct {
	runErr     error
	startErr   error
	workflows  int
	activities int
}

func (s *stubWorker) RegisterWorkflow(w interface{}) { s.workflows++ }

func (s *stubWorker) RegisterWorkflowWithOptions(w interface{}, options workflow.RegisterOptions) {}

func (s *stubWorker) RegisterDynamicWorkflow(w interface{}, options workflow.DynamicRegisterOptions) {
}

func (s *stubWorker) RegisterActivity(a interface{}) { s.activities++ }

func (s *stubWorker) RegisterActivityWithOptions(a interface{}, options activity.RegisterOptions) {}

func (s *stubWorker) RegisterDynamicActivity(a interface{}, options activity.DynamicRegisterOptions) {
}

func (s *stubWorker) RegisterNexusService(_ *nexus.Service) {}

func (s *stubWorker) Start() error {
	return s.startErr
}

func (s *stubWorker) Run(_ <-chan interface{}) error {
	return s.runErr
}

func (s *stubWorker) Stop() {}

type stubRuntime struct {
	closed bool
}

func (s *stubRuntime) NewAgent(opts ...agent.Option) *agent.Agent {
	return agent.New(nil, nil, opts...)
}

func (s *stubRuntime) Close() error {
	s.closed = true
	return nil
}

func captureWorkerDeps() func() {
	origLoadConfig := loadConfig
	origSetupLogging := setupLogging
	origSetupTelemetry := setupTelemetry
	origDialTemporal := dialTemporal
	origBuildRuntime := buildRuntime
	origNewStore := newStore
	origNewActivities := newActivities
	origNewWorker := newWorker
	origWorkerInterrupt := workerInterrupt

	setupLogging = func(string, string, io.Writer) {}
	dialTemporal = func(_ client.Options) (client.Client, error) {
		return nil, nil
	}
	workerInterrupt = func() <-chan interface{} {
		return make(chan interface{})
	}

	return func() {
		loadConfig = origLoadConfig
		setupLogging = origSetupLogging
		setupTelemetry = origSetupTelemetry
		dialTemporal = origDialTemporal
		buildRuntime = origBuildRuntime
		newStore = origNewStore
		newActivities = origNewActivities
		newWorker = origNewWorker
		workerInterrupt = origWorkerInterrupt
	}
}

func TestRunSuccess(t *testing.T) {
	restore := captureWorkerDeps()
	t.Cleanup(restore)

	loadConfig = func() (config.Config, error) {
		return config.Config{
			DatabaseURL:       "postgres://example",
			TemporalAddress:   "localhost:7233",
			TemporalTaskQueue: "atlas-assessments",
			ControlPlaneURL:   "http://localhost:8080",
		}, nil
	}
	runtime := &stubRuntime{}
	buildRuntime = func(context.Context, config.Config) (agentBuilder, error) {
		return runtime, nil
	}
	storeClosed := false
	newStore = func(_ string) (store.Store, func() error, error) {
		return memory.New(), func() error { storeClosed = true; return nil }, nil
	}
	var gotStore store.Store
	var gotURL string
	var factory workflows.RunnerFactory
	newActivities = func(st store.Store, newRunner workflows.RunnerFactory, controlPlaneURL string, opts ...workflows.ActivitiesOption) *workflows.AssessmentActivities {
		gotStore = st
		gotURL = controlPlaneURL
		factory = newRunner
		return workflows.NewAssessmentActivities(st, newRunner, controlPlaneURL, opts...)
	}
	stub := &stubWorker{}
	var gotQueue string
	newWorker = func(_ client.Client, queue string, _ worker.Options) worker.Worker {
		gotQueue = queue
		return stub
	}

	if err := run(); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if gotStore == nil {
		t.Fatal("expected store fallback to be wired")
	}
	if gotURL != "http://localhost:8080" {
		t.Fatalf("unexpected control plane url %q", gotURL)
	}
	if gotQueue != "atlas-assessments" {
		t.Fatalf("unexpected task queue %q", gotQueue)
	}
	if stub.workflows != 1 || stub.activities != 1 {
		t.Fatalf("expected one workflow and one activity set, got %d and %d", stub.workflows, stub.activities)
	}
	if factory == nil || factory(1500, nil) == nil {
		t.Fatal("expected runner factory to build agents")
	}
	if !runtime.closed || !storeClosed {
		t.Fatal("expected runtime and store to be closed")
	}
}

func TestRunWithoutDatabase(t *testing.T) {
	restore := captureWorkerDeps()
	t.Cleanup(restore)

	loadConfig = func() (config.Config, error) {
		return config.Config{ControlPlaneURL: "http://localhost:8080"}, nil
	}
	buildRuntime = func(context.Context, config.Config) (agentBuilder, error) {
		return &stubRuntime{}, nil
	}
	newStore = func(string) (store.Store, func() error, error) {
		t.Fatal("store should not be opened without a database url")
		return nil, nil, nil
	}
	var gotStore store.Store
	newActivities = func(st store.Store, newRunner workflows.RunnerFactory, controlPlaneURL string, opts ...workflows.ActivitiesOption) *workflows.AssessmentActivities {
		gotStore = st
		return workflows.NewAssessmentActivities(st, newRunner, controlPlaneURL, opts...)
	}
	newWorker = func(_ client.Client, _ string, _ worker.Options) worker.Worker {
		return &stubWorker{}
	}

	if err := run(); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if gotStore != nil {
		t.Fatalf("expected no store, got %T", gotStore)
	}
}

func TestRunConfigLoadFailure(t *testing.T) {
	restore := captureWorkerDeps()
	t.Cleanup(restore)

	loadConfig = func() (config.Config, error) {
		return config.Config{}, errors.New("config load failed")
	}

	if err := run(); err == nil {
		t.Fatal("expected error, got nil")
	}
}

func TestRunTemporalClientFailure(t *testing.T) {
	restore := captureWorkerDeps()
	t.Cleanup(restore)

	loadConfig = func() (config.Config, error) {
		return config.Config{TemporalAddress: "localhost:7233"}, nil
	}
	dialTemporal = func(_ client.Options) (client.Client, error) {
		return nil, errors.New("temporal dial failed")
	}

	if err := run(); err == nil {
		t.Fatal("expected error, got nil")
	}
}

func TestRunRuntimeBuildFailure(t *testing.T) {
	restore := captureWorkerDeps()
	t.Cleanup(restore)

	loadConfig = func() (config.Config, error) {
		return config.Config{}, nil
	}
	buildRuntime = func(context.Context, config.Config) (agentBuilder, error) {
		return nil, errors.New("SEARCH_API_KEY is required")
	}

	if err := run(); err == nil {
		t.Fatal("expected error, got nil")
	}
}

func TestRunStoreFailure(t *testing.T) {
	restore := captureWorkerDeps()
	t.Cleanup(restore)

	loadConfig = func() (config.Config, error) {
		return config.Config{DatabaseURL: "postgres://example"}, nil
	}
	buildRuntime = func(context.Context, config.Config) (agentBuilder, error) {
		return &stubRuntime{}, nil
	}
	newStore = func(string) (store.Store, func() error, error) {
		return nil, nil, errors.New("connection refused")
	}

	if err := run(); err == nil {
		t.Fatal("expected error, got nil")
	}
}

func TestRunWorkerFailure(t *testing.T) {
	restore := captureWorkerDeps()
	t.Cleanup(restore)

	loadConfig = func() (config.Config, error) {
		return config.Config{}, nil
	}
	buildRuntime = func(context.Context, config.Config) (agentBuilder, error) {
		return &stubRuntime{}, nil
	}
	newWorker = func(_ client.Client, _ string, _ worker.Options) worker.Worker {
		return &stubWorker{runErr: errors.New("worker stopped")}
	}

	if err := run(); err == nil {
		t.Fatal("expected error, got nil")
	}
}
