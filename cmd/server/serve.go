package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"finanzas-backend/internal/app"
	"finanzas-backend/internal/backoff"
	"finanzas-backend/internal/handlers"
	"finanzas-backend/internal/middleware"
	"finanzas-backend/internal/router"
)

var servePort string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP and WebSocket server",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVarP(&servePort, "port", "p", "", "Port to listen on (overrides PORT)")
}

func runServe(cmd *cobra.Command, _ []string) error {
	if servePort != "" {
		cfg.Port = servePort
	}

	// Graceful shutdown context.
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("build application: %w", err)
	}
	defer a.Close()

	if a.Client.Simulated() {
		logger.Warn("GEMINI_API_KEY not set, model replies are simulated")
	}
	uid := a.Identity.Bootstrap(ctx, cfg.InitialAuthToken)
	logger.Info("service identity ready", zap.String("uid", uid))

	// Auth rate limiter (10 req/min per IP)
	authLimiter := middleware.NewRateLimiter(10, time.Minute)
	defer authLimiter.Stop()

	r := router.New(middleware.NewSessionAuth(a.Identity), authLimiter, router.Handlers{
		Auth:      handlers.NewAuthHandler(a.Identity, logger.Named("auth")),
		Charts:    handlers.NewChartHandler(),
		Plans:     handlers.NewPlanHandler(a.Planner),
		Concepts:  handlers.NewConceptHandler(a.Explainer),
		WebSocket: a.Hub.HandleWebSocket,
	}, cfg.FrontendURL)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: writeTimeout(cfg.GeminiMaxAttempts),
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Finanzas backend ready",
			zap.String("api", fmt.Sprintf("http://localhost:%s/api/v1", cfg.Port)),
			zap.String("ws", fmt.Sprintf("ws://localhost:%s/api/v1/ws", cfg.Port)))
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// perAttemptAllowance covers one upstream round trip.
const perAttemptAllowance = 30 * time.Second

// writeTimeout leaves room for every backoff sleep plus one round trip per
// attempt, so a feature response is never cut off while still retrying.
func writeTimeout(maxAttempts int) time.Duration {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return backoff.MaxWait(maxAttempts) + time.Duration(maxAttempts)*perAttemptAllowance
}
