// Package app wires the service's components into one application context
// using go.uber.org/dig.
package app

import (
	"context"
	"fmt"
	"net/http"

	"go.uber.org/dig"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"finanzas-backend/internal/backoff"
	"finanzas-backend/internal/config"
	"finanzas-backend/internal/database"
	"finanzas-backend/internal/features"
	"finanzas-backend/internal/gemini"
	"finanzas-backend/internal/identity"
	"finanzas-backend/internal/task"
	"finanzas-backend/internal/websocket"
)

// App holds the resolved singletons. It is built once at startup and passed
// explicitly to whatever needs it.
type App struct {
	Config    *config.Config
	Logger    *zap.Logger
	Identity  *identity.Provider
	Client    *gemini.Client
	Tasks     *task.Supervisor
	Hub       *websocket.Hub
	Planner   *features.GoalPlanner
	Explainer *features.ConceptExplainer

	redis *database.RedisClients
}

// NewLogger builds a production zap logger at level ("debug", "info", ...).
func NewLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if level != "" {
		lvl, err := zapcore.ParseLevel(level)
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", level, err)
		}
		cfg.Level = zap.NewAtomicLevelAt(lvl)
	}
	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return logger, nil
}

// New builds and wires all components from cfg.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	d := dig.New()
	providers := []interface{}{
		func() *config.Config { return cfg },
		func() *zap.Logger { return logger },
		func() context.Context { return ctx },
		newRedisClients,
		newIdentity,
		newFetcher,
		newGeminiClient,
		task.NewSupervisor,
		newHub,
		newSink,
		newPlanner,
		newExplainer,
	}
	for _, p := range providers {
		if err := d.Provide(p); err != nil {
			return nil, err
		}
	}

	var result *App
	err := d.Invoke(func(
		provider *identity.Provider,
		client *gemini.Client,
		tasks *task.Supervisor,
		hub *websocket.Hub,
		planner *features.GoalPlanner,
		explainer *features.ConceptExplainer,
		redisClients *database.RedisClients,
	) {
		result = &App{
			Config:    cfg,
			Logger:    logger,
			Identity:  provider,
			Client:    client,
			Tasks:     tasks,
			Hub:       hub,
			Planner:   planner,
			Explainer: explainer,
			redis:     redisClients,
		}
	})
	if err != nil {
		return nil, dig.RootCause(err)
	}
	return result, nil
}

// Close releases sockets and Redis connections.
func (a *App) Close() {
	a.Hub.Close()
	if a.redis != nil {
		a.redis.Close()
	}
}

// newRedisClients returns nil when REDIS_URL is unset; renders are then
// broadcast in-process.
func newRedisClients(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*database.RedisClients, error) {
	if cfg.RedisURL == "" {
		logger.Info("REDIS_URL not set, render push stays in-process")
		return nil, nil
	}
	clients, err := database.NewRedisClients(ctx, cfg.RedisURL)
	if err != nil {
		return nil, err
	}
	logger.Info("Redis connected")
	return clients, nil
}

func newIdentity(cfg *config.Config, logger *zap.Logger) *identity.Provider {
	return identity.NewProvider(cfg.Identity, cfg.SessionSecret, logger.Named("identity"))
}

func newFetcher(logger *zap.Logger) *backoff.Fetcher {
	return backoff.NewFetcher(http.DefaultClient, backoff.WithLogger(logger.Named("backoff")))
}

func newGeminiClient(cfg *config.Config, fetcher *backoff.Fetcher, logger *zap.Logger) *gemini.Client {
	return gemini.NewClient(gemini.Options{
		APIKey:             cfg.GeminiAPIKey,
		Model:              cfg.GeminiModel,
		BaseURL:            cfg.GeminiBaseURL,
		MaxAttempts:        cfg.GeminiMaxAttempts,
		ConcurrentRequests: cfg.GeminiConcurrentReqs,
	}, fetcher, logger.Named("gemini"))
}

func newHub(redisClients *database.RedisClients, provider *identity.Provider, logger *zap.Logger) *websocket.Hub {
	return websocket.NewHub(redisClients, provider, logger.Named("ws"))
}

func newSink(hub *websocket.Hub) features.Sink {
	return hub
}

func newPlanner(client *gemini.Client, sink features.Sink, tasks *task.Supervisor, logger *zap.Logger) *features.GoalPlanner {
	return features.NewGoalPlanner(client, sink, tasks, logger.Named("planner"))
}

func newExplainer(client *gemini.Client, sink features.Sink, tasks *task.Supervisor, logger *zap.Logger) *features.ConceptExplainer {
	return features.NewConceptExplainer(client, sink, tasks, logger.Named("explainer"))
}
