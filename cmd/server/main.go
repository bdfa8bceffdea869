package main

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/voxbridge/stt-relay/internal/config"
	"github.com/voxbridge/stt-relay/internal/httpapi"
	"github.com/voxbridge/stt-relay/internal/observability"
	"github.com/voxbridge/stt-relay/internal/relay"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		// Use fmt for fatal errors before logger is initialized
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize structured logger
	observability.InitLogger(cfg.LogLevel, cfg.LogPretty)
	logger := observability.GetLogger()

	logger.Info().
		Str("port", cfg.Port).
		Str("upstream_url", cfg.UpstreamURL).
		Str("log_level", cfg.LogLevel).
		Bool("metrics_enabled", cfg.MetricsEnabled).
		Msg("STT relay starting")

	registry := relay.NewRegistry()

	// An error escaping a handler is treated exactly like an operator-requested
	// shutdown, so no session is left dangling on an unexpected fault.
	fatal := make(chan error, 1)

	mux := http.NewServeMux()

	// WebSocket relay endpoint
	mux.HandleFunc("/v1/listen", relay.NewHandler(cfg, registry))

	// Session issuance and metadata endpoints
	mux.HandleFunc("/v1/token", httpapi.TokenHandler(cfg))
	mux.HandleFunc("/v1/metadata", httpapi.MetadataHandler(cfg.MetadataFile))

	// Health check endpoint
	mux.HandleFunc("/health", observability.HealthCheckHandler())

	// Readiness endpoint
	mux.HandleFunc("/ready", observability.ReadinessHandler(map[string]observability.HealthCheckFunc{
		"upstream_config": func(ctx context.Context) (bool, error) {
			if cfg.UpstreamAPIKey == "" {
				return false, fmt.Errorf("upstream credential missing")
			}
			if _, err := url.Parse(cfg.UpstreamURL); err != nil {
				return false, fmt.Errorf("invalid upstream endpoint: %w", err)
			}
			return true, nil
		},
	}))

	// Metrics endpoint (Prometheus)
	if cfg.MetricsEnabled {
		mux.Handle("/metrics", promhttp.Handler())
		logger.Info().Msg("Prometheus metrics enabled at /metrics")
	}

	// Create HTTP server with timeouts. Relay connections are hijacked at
	// upgrade time and are not subject to these.
	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      recoverToShutdown(mux, fatal, logger),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("endpoint", fmt.Sprintf("ws://localhost:%s/v1/listen", cfg.Port)).
			Msg("Server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("Server failed to start")
		}
	}()

	// Wait for a termination signal or an unrecoverable fault
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logger.Info().Str("signal", sig.String()).Msg("Shutting down server...")
	case err := <-fatal:
		logger.Error().Err(err).Msg("Unrecoverable error, shutting down server...")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Stop accepting new connections, then close every live relay session.
	shutdownErr := make(chan error, 1)
	go func() {
		shutdownErr <- server.Shutdown(ctx)
	}()

	registry.CloseAll()

	if err := <-shutdownErr; err != nil {
		logger.Error().Err(err).Msg("Server forced to shutdown")
		server.Close()
	}

	logger.Info().Msg("Server exited gracefully")
}

// recoverToShutdown turns a panic escaping any handler into a process-wide
// shutdown trigger instead of an uncontrolled crash.
func recoverToShutdown(next http.Handler, fatal chan<- error, logger zerolog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				logger.Error().
					Interface("panic", rec).
					Str("path", r.URL.Path).
					Msg("Unhandled fault in handler")
				select {
				case fatal <- fmt.Errorf("panic in handler: %v", rec):
				default:
				}
			}
		}()
		next.ServeHTTP(w, r)
	})
}
