package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/chengjon/byapi-unified-client/internal/config"
	"github.com/chengjon/byapi-unified-client/internal/health"
	"github.com/chengjon/byapi-unified-client/internal/logger"
	"github.com/chengjon/byapi-unified-client/internal/router"
	"github.com/chengjon/byapi-unified-client/pkg/byapi"
)

const usage = `usage: byapi [-config file] <command> [flags]

commands:
  health [-raw]            print license key health (masked unless -raw)
  quote <code>             print the latest daily bar of a stock
  serve [-addr :9090]      serve /health and /metrics
`

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	global := flag.NewFlagSet("byapi", flag.ContinueOnError)
	global.SetOutput(stderr)
	global.Usage = func() { fmt.Fprint(stderr, usage) }
	configPath := global.String("config", "", "Path to YAML configuration file (BYAPI_* variables override it)")
	if err := global.Parse(args); err != nil {
		return 2
	}
	if global.NArg() == 0 {
		global.Usage()
		return 2
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		return 1
	}

	log, closer := logger.NewWithOptions(logger.Options{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
		File:   cfg.LogFile,
	})
	defer func() { _ = closer.Close() }()

	client, err := byapi.New(cfg, byapi.WithLogger(log))
	if err != nil {
		log.Error("Failed to create client", "error", err)
		return 1
	}

	cmd, rest := global.Arg(0), global.Args()[1:]
	switch cmd {
	case "health":
		err = runHealth(client, rest, stdout, stderr)
	case "quote":
		err = runQuote(client, rest, stdout)
	case "serve":
		config.PrintConfig(log, cfg)
		err = runServe(client, cfg, log, rest, stderr)
	default:
		fmt.Fprintf(stderr, "unknown command %q\n\n%s", cmd, usage)
		return 2
	}

	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		log.Error("Command failed", "command", cmd, "error", err)
		return 1
	}
	return 0
}

func runHealth(client *byapi.Client, args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("health", flag.ContinueOnError)
	fs.SetOutput(stderr)
	raw := fs.Bool("raw", false, "Print unmasked license keys")
	if err := fs.Parse(args); err != nil {
		return err
	}

	return writeJSON(stdout, client.LicenseHealth(!*raw))
}

func runQuote(client *byapi.Client, args []string, stdout io.Writer) error {
	if len(args) != 1 {
		return fmt.Errorf("quote takes exactly one stock code, got %d arguments", len(args))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	q, err := client.Prices.Latest(ctx, args[0])
	if err != nil {
		return err
	}
	return writeJSON(stdout, q)
}

func runServe(client *byapi.Client, cfg *config.Config, log *slog.Logger, args []string, stderr io.Writer) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(stderr)
	addr := fs.String("addr", ":9090", "Listen address")
	healthPath := fs.String("health-path", "/health", "Health check path")
	checkInterval := fs.Duration("check-interval", 30*time.Second, "Key pool check interval")
	if err := fs.Parse(args); err != nil {
		return err
	}

	monitorCtx, stopMonitor := context.WithCancel(context.Background())
	defer stopMonitor()
	monitor := health.NewMonitor(&health.MonitorConfig{
		CheckInterval: *checkInterval,
		Logger:        log,
	}, client)
	go monitor.Start(monitorCtx)

	api := router.New(client, *healthPath, log)
	api.SetMonitor(monitor)

	mux := http.NewServeMux()
	mux.Handle("/", api)
	if cfg.PrometheusEnabled {
		mux.Handle("/metrics", promhttp.Handler())
		log.Info("Prometheus metrics enabled", "path", "/metrics")
	}

	server := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("Server starting", "addr", *addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-sigChan:
	}

	log.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	log.Info("Server shutdown complete")
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
