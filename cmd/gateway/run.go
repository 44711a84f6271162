package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/kkkqkx123/open-agent-sub001/pkg/backend"
	"github.com/kkkqkx123/open-agent-sub001/pkg/config"
	"github.com/kkkqkx123/open-agent-sub001/pkg/fallback"
	"github.com/kkkqkx123/open-agent-sub001/pkg/gateway"
)

var runFlags struct {
	listenAddress string
	logLevel      string
	watch         bool
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the gateway",
	Long: `Start the gateway with the specified configuration.

The admin HTTP server exposes generation, status and metrics endpoints.
Configuration is reloaded on SIGHUP, and with --watch also on file
changes.

Examples:
  # Start with default config
  gateway run

  # Start with custom config and file watching
  gateway run --config /etc/gateway/gateway.yaml --watch

  # Override listen address
  gateway run --listen 0.0.0.0:8080`,
	RunE: runGateway,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runFlags.listenAddress, "listen", "l", "", "override listen address")
	runCmd.Flags().StringVar(&runFlags.logLevel, "log-level", "", "override log level (debug, info, warn, error)")
	runCmd.Flags().BoolVar(&runFlags.watch, "watch", false, "reload configuration on file changes")
}

func runGateway(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfigWithEnvOverrides(cfgFile)
	if err != nil {
		return err
	}

	if runFlags.listenAddress != "" {
		cfg.Gateway.ListenAddress = runFlags.listenAddress
	}
	if runFlags.logLevel != "" {
		cfg.Telemetry.Logging.Level = runFlags.logLevel
	}
	if verbose {
		cfg.Telemetry.Logging.Level = "debug"
	}

	setupLogging(cfg)

	rt, err := gateway.NewRuntime(cfg, map[string]backend.Executor{
		// The built-in echo executor answers every model locally. Real
		// deployments register provider-backed executors here.
		"default": echoExecutor(),
	})
	if err != nil {
		return err
	}
	rt.Start()
	defer rt.Stop()

	server := &http.Server{
		Addr:    cfg.Gateway.ListenAddress,
		Handler: adminHandler(rt, cfg),
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("admin server listening", "address", cfg.Gateway.ListenAddress)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reload := func() error {
		next, err := config.LoadConfigWithEnvOverrides(cfgFile)
		if err != nil {
			return err
		}
		return rt.Reload(next)
	}

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	go func() {
		for range hup {
			slog.Info("SIGHUP received, reloading configuration")
			if err := reload(); err != nil {
				slog.Error("reload failed", "error", err)
			}
		}
	}()

	if runFlags.watch {
		watcher, err := config.NewWatcher(cfgFile, 0)
		if err != nil {
			return err
		}
		go watcher.Watch(ctx, reload)
		defer watcher.Stop()
	}

	select {
	case <-ctx.Done():
		slog.Info("shutting down")
	case err := <-errCh:
		return fmt.Errorf("admin server failed: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Gateway.ShutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func setupLogging(cfg *config.Config) {
	var level slog.Level
	switch cfg.Telemetry.Logging.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Telemetry.Logging.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}

// echoExecutor answers every model locally. Useful for smoke testing a
// configuration without reaching real backends.
func echoExecutor() backend.Executor {
	return backend.ExecutorFunc(func(ctx context.Context, model string, req *backend.Request) (*backend.Response, error) {
		return &backend.Response{
			Model:   model,
			Content: "echo: " + req.Prompt,
		}, nil
	})
}

type generateRequest struct {
	Target string `json:"target"`
	Pool   string `json:"pool"`
	Prompt string `json:"prompt"`
}

func adminHandler(rt *gateway.Runtime, cfg *config.Config) http.Handler {
	mux := http.NewServeMux()

	mux.Handle(cfg.Telemetry.Metrics.Path, promhttp.HandlerFor(rt.Registry(), promhttp.HandlerOpts{}))

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		h := rt.HealthCheck()
		if !h.Healthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		writeJSON(w, h)
	})

	mux.HandleFunc("GET /status/stats", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, rt.Stats())
	})
	mux.HandleFunc("GET /status/breakers", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, rt.BreakerStatus())
	})
	mux.HandleFunc("GET /status/pools", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, rt.PoolStatus())
	})
	mux.HandleFunc("GET /status/fallbacks", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, rt.FallbackHistory(50))
	})
	mux.HandleFunc("GET /status/usage", func(w http.ResponseWriter, r *http.Request) {
		records, err := rt.Usage(r.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, records)
	})

	mux.HandleFunc("POST /v1/generate", func(w http.ResponseWriter, r *http.Request) {
		var in generateRequest
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}

		var (
			wrapper gateway.Wrapper
			err     error
		)
		switch {
		case in.Pool != "":
			wrapper, err = rt.Pool(in.Pool)
		case in.Target != "":
			wrapper, err = rt.TaskGroup(in.Target)
		default:
			http.Error(w, "target or pool required", http.StatusBadRequest)
			return
		}
		if err != nil {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}

		resp, err := wrapper.Generate(r.Context(), &backend.Request{Prompt: in.Prompt})
		if err != nil {
			status := http.StatusBadGateway
			if errors.Is(err, fallback.ErrExhausted) {
				status = http.StatusServiceUnavailable
			}
			http.Error(w, err.Error(), status)
			return
		}
		writeJSON(w, resp)
	})

	return mux
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil && !strings.Contains(err.Error(), "broken pipe") {
		slog.Error("failed to encode response", "error", err)
	}
}
