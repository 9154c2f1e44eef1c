package agent

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/arcway/toolops/internal/llm"
	"github.com/arcway/toolops/internal/observability"
	"github.com/arcway/toolops/internal/sessions"
	"github.com/arcway/toolops/internal/tasks"
	"github.com/arcway/toolops/internal/toolops"
	"github.com/arcway/toolops/internal/toolops/sqlitestore"
	"github.com/arcway/toolops/internal/tools/intents"
	"github.com/arcway/toolops/internal/tools/tweet"
	"github.com/arcway/toolops/internal/trigger"
)

// Runtime holds every long-lived collaborator the composition root builds,
// so the process entry point can start/stop them without knowing how they
// were wired together.
type Runtime struct {
	Agent     *Agent
	Executor  *toolops.Executor
	Scheduler *tasks.Scheduler
	Metrics   *observability.Metrics

	closers []func(context.Context) error
}

// Start launches every background worker.
func (r *Runtime) Start(ctx context.Context) error {
	r.Executor.Start(ctx)
	if r.Scheduler != nil {
		if err := r.Scheduler.Start(ctx); err != nil {
			return fmt.Errorf("agent: starting recurring scheduler: %w", err)
		}
	}
	return nil
}

// Stop tears down every background worker and closes pooled resources, in
// reverse dependency order.
func (r *Runtime) Stop(ctx context.Context) error {
	var firstErr error
	if r.Scheduler != nil {
		if err := r.Scheduler.Stop(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := r.Executor.Stop(ctx); err != nil && firstErr == nil {
		firstErr = err
	}
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Build constructs every collaborator named by cfg: storage, sessions, the
// LLM client, the registry of worked-example tools, the five-state-machine
// engine, and (when storage is CockroachDB) the recurring-schedule bridge.
func Build(ctx context.Context, cfg AppConfig, logger *slog.Logger) (*Runtime, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	rt := &Runtime{}

	store, sessionStore, closeStorage, err := buildStorage(cfg.Storage)
	if err != nil {
		return nil, err
	}
	rt.closers = append(rt.closers, closeStorage)

	chatClient, err := buildLLMClient(cfg.LLM)
	if err != nil {
		return nil, err
	}

	var metrics *observability.Metrics
	var tracer *observability.Tracer
	if cfg.Observability.MetricsEnabled {
		metrics = observability.NewMetrics()
		rt.Metrics = metrics
	}
	if cfg.Observability.TracingEnabled {
		t, shutdown := observability.NewTracer(observability.TraceConfig{
			ServiceName:  cfg.Observability.ServiceName,
			SamplingRate: cfg.Observability.SamplingRate,
		})
		tracer = t
		rt.closers = append(rt.closers, shutdown)
	}

	priceFeed := &intents.InMemoryPriceFeed{Prices: map[string]float64{
		"NEAR": 5.0,
		"USDC": 1.0,
	}}
	registry := toolops.NewRegistry(
		tweet.RegistryEntry(chatClient, cfg.Engine.LLMDefaultModel),
		intents.RegistryEntry(priceFeed),
	)

	states := toolops.NewStateManager(store, logger).WithTracer(tracer)
	classifier, err := llm.NewApprovalClassifier(chatClient, cfg.Engine.LLMDefaultModel)
	if err != nil {
		return nil, fmt.Errorf("agent: building approval classifier: %w", err)
	}
	approvals := toolops.NewApprovalManager(store, states, classifier, cfg.Engine.MaxRegenerationRounds, logger).WithMetrics(metrics)
	schedules := toolops.NewScheduleManager(store, states, cfg.Engine.BackoffPolicy(), cfg.Engine.MaxRetries, logger)
	agentState := toolops.NewAgentStateManager(logger)
	detector := trigger.DefaultDetector()
	chatAdapter := llm.NewChatAdapter(chatClient, llm.Options{Temperature: 0.7, MaxTokens: 1024})

	orchestrator := toolops.NewOrchestrator(registry, states, approvals, schedules, agentState, detector, chatAdapter, cfg.Engine.LLMDefaultModel, logger).
		WithObservability(metrics, tracer)

	executor := toolops.NewExecutor(store, schedules, orchestrator, cfg.Engine.ExecutorConfig(), logger).
		WithObservability(metrics, tracer)
	rt.Executor = executor

	if cfg.Storage.Backend == "cockroach" {
		scheduler, closeTasks, err := buildRecurringScheduler(cfg.Storage.Cockroach, store, schedules, orchestrator, logger)
		if err != nil {
			return nil, err
		}
		rt.Scheduler = scheduler
		rt.closers = append(rt.closers, closeTasks)
	}

	rt.Agent = New(cfg.AgentID, sessionStore, orchestrator, logger)
	return rt, nil
}

func buildStorage(cfg StorageConfig) (toolops.Store, sessions.Store, func(context.Context) error, error) {
	switch cfg.Backend {
	case "sqlite":
		store, err := sqlitestore.New(sqlitestore.Config{Path: cfg.SQLitePath})
		if err != nil {
			return nil, nil, nil, fmt.Errorf("agent: opening sqlite store: %w", err)
		}
		sessionStore := sessions.NewMemoryStore()
		closer := func(context.Context) error { return store.Close() }
		return store, sessionStore, closer, nil

	case "cockroach":
		dsnCfg := cfg.Cockroach
		store, err := toolops.NewCockroachStore(&toolops.CockroachConfig{
			Host:            dsnCfg.Host,
			Port:            dsnCfg.Port,
			User:            dsnCfg.User,
			Password:        dsnCfg.Password,
			Database:        dsnCfg.Database,
			SSLMode:         dsnCfg.SSLMode,
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
			ConnectTimeout:  10 * time.Second,
		})
		if err != nil {
			return nil, nil, nil, fmt.Errorf("agent: opening cockroach tool store: %w", err)
		}
		sessionStore, err := sessions.NewCockroachStore(&sessions.CockroachConfig{
			Host:            dsnCfg.Host,
			Port:            dsnCfg.Port,
			User:            dsnCfg.User,
			Password:        dsnCfg.Password,
			Database:        dsnCfg.Database,
			SSLMode:         dsnCfg.SSLMode,
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
			ConnMaxIdleTime: 2 * time.Minute,
			ConnectTimeout:  10 * time.Second,
		})
		if err != nil {
			store.Close()
			return nil, nil, nil, fmt.Errorf("agent: opening cockroach session store: %w", err)
		}
		closer := func(context.Context) error {
			sessionStore.Close()
			return store.Close()
		}
		return store, sessionStore, closer, nil

	default:
		return nil, nil, nil, fmt.Errorf("agent: unknown storage backend %q", cfg.Backend)
	}
}

func buildRecurringScheduler(cfg CockroachDSNConfig, store toolops.Store, schedules *toolops.ScheduleManager, resolver toolops.ToolResolver, logger *slog.Logger) (*tasks.Scheduler, func(context.Context) error, error) {
	taskStore, err := tasks.NewCockroachStoreFromDSN(cfg.DSN(), tasks.DefaultCockroachConfig())
	if err != nil {
		return nil, nil, fmt.Errorf("agent: opening recurring task store: %w", err)
	}
	run := NewRecurringRunFunc(store, schedules, resolver)
	executor := tasks.NewToolOpsExecutor(run, logger)
	scheduler := tasks.NewScheduler(taskStore, executor, tasks.DefaultSchedulerConfig())
	closer := func(context.Context) error { return taskStore.Close() }
	return scheduler, closer, nil
}

func buildLLMClient(cfg LLMConfig) (llm.Client, error) {
	switch cfg.Provider {
	case "anthropic":
		return llm.NewAnthropicClient(llm.AnthropicConfig{
			APIKey:       cfg.APIKey,
			BaseURL:      cfg.BaseURL,
			DefaultModel: cfg.DefaultModel,
		})
	case "openai":
		return llm.NewOpenAIClient(llm.OpenAIConfig{
			APIKey:       cfg.APIKey,
			DefaultModel: cfg.DefaultModel,
		})
	default:
		return nil, fmt.Errorf("agent: unknown llm provider %q", cfg.Provider)
	}
}
