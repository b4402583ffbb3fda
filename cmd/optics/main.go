// Optics test-session server — hosts the HTTP+SSE API, executes keyword
// suites against pluggable backends, and manages session artifacts.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/optics-suite/optics/pkg/api"
	"github.com/optics-suite/optics/pkg/cleanup"
	"github.com/optics-suite/optics/pkg/config"
	"github.com/optics-suite/optics/pkg/keyword"
	"github.com/optics-suite/optics/pkg/scheduler"
	"github.com/optics-suite/optics/pkg/session"
	"github.com/optics-suite/optics/pkg/version"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	configPath := flag.String("config",
		getEnv("OPTICS_CONFIG", ""),
		"Path to the global config file (default ~/.optics/global_config.yaml)")
	addr := flag.String("addr", "", "Listen address, overrides the config value")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err == nil {
		slog.Info("Loaded environment", "path", ".env")
	}

	slog.Info("Starting optics", "version", version.Full())

	// 1. Global configuration
	global, err := config.LoadGlobal(*configPath, logger)
	if err != nil {
		slog.Error("Failed to load global config", "error", err)
		os.Exit(1)
	}
	if *addr != "" {
		global.ServerAddr = *addr
	}

	// 2. Keyword registry with the built-in providers
	keywords := keyword.NewRegistry(logger)
	keywords.RegisterProvider(keyword.DriverProvider{})
	keywords.RegisterProvider(keyword.FlowProvider{})
	keywords.RegisterProvider(keyword.APIProvider{})
	slog.Info("Keyword registry ready", "keywords", keywords.Len())

	// 3. Session manager and background suite runner
	manager := session.NewManager(global, keywords, logger)
	runner := scheduler.NewRunner(logger)

	// 4. Artifact retention sweeper
	ctx := context.Background()
	retention := cleanup.NewService(global.OutputRoot, global, manager, logger)
	retention.Start(ctx)

	// 5. HTTP server (non-blocking)
	server := api.NewServer(manager, keywords, runner, global, logger)
	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil {
			errCh <- err
		}
	}()

	// 6. Wait for shutdown signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// 7. Graceful shutdown. Sessions are terminated before the HTTP server
	// drains: closing the event buses releases the long-lived event streams
	// so Shutdown can finish inside its deadline.
	shutdownCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	runner.Stop()
	manager.TerminateAll(shutdownCtx)
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}
	retention.Stop()

	slog.Info("Shutdown complete")
}
