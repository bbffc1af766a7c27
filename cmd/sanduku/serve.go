package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	goutils "github.com/jkaninda/go-utils"

	"github.com/jkaninda/sanduku/internal/config"
	"github.com/jkaninda/sanduku/internal/gateway/httpapi"
	"github.com/jkaninda/sanduku/internal/gateway/ws"
)

var (
	serveConfigPath string
	servePort       string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API gateway (sessions, execute, WebSocket REPL)",
	RunE:  runServe,
}

func init() {
	// Register flags on both root and serve so that
	// `sanduku --config path` and `sanduku serve --config path` both work.
	for _, cmd := range []*cobra.Command{rootCmd, serveCmd} {
		cmd.Flags().StringVar(&serveConfigPath, "config", config.DefaultPath(), "path to config file")
		cmd.Flags().StringVar(&servePort, "port", "", "override HTTP listen address (e.g. :8080)")
	}
}

// runServe starts Sanduku in server mode.
func runServe(_ *cobra.Command, _ []string) error {
	logger := newLogger()

	cfg, err := loadConfig(goutils.Env("SANDUKU_CONFIG", serveConfigPath))
	if err != nil {
		return err
	}

	// Apply CLI overrides.
	if servePort != "" {
		if cfg.Gateway == nil {
			cfg.Gateway = &config.GatewayConfig{}
		}
		cfg.Gateway.ListenAddr = servePort
	}
	if cfg.Gateway == nil || cfg.Gateway.ListenAddr == "" {
		return fmt.Errorf("gateway.listen_addr is required in server mode (or use --port)")
	}

	logger.Info("starting in server mode", slog.String("addr", cfg.Gateway.ListenAddr))

	sc, err := initShared(cfg, logger)
	if err != nil {
		return err
	}
	defer sc.Cleanup()

	// Signal-aware context.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	gwCfg := httpapi.Config{
		ListenAddr:     cfg.Gateway.ListenAddr,
		EnableDocs:     cfg.Gateway.EnableDocs,
		APIKeys:        cfg.Gateway.APIKeys,
		MaxRequestSize: int64(cfg.Gateway.MaxBodyMB) << 20,
	}
	if m := sc.Obs.MetricsOrNil(); m != nil {
		gwCfg.MetricsRegistry = m.Registry
		gwCfg.Metrics = m
		if cfg.Observability != nil && cfg.Observability.Metrics != nil {
			gwCfg.MetricsPath = cfg.Observability.Metrics.Path
		}
	}
	if ts := sc.Obs.TracerOrNil(); ts != nil {
		gwCfg.Tracer = ts.Tracer()
	}
	if sc.Store != nil {
		gwCfg.ReadyCheck = storeReadyCheck(sc)
	}

	gw := httpapi.NewGateway(gwCfg, sc.Tool, sc.Defaults, logger)
	if sc.Provider != nil {
		gw.WithDelegate(sc.Provider)
	}
	if sc.Store != nil {
		gw.WithHistory(sc.Store.Executions())
	}
	if cfg.Gateway.EnableREPL {
		replServer := ws.NewServer(sc.Tool, sc.Defaults, logger)
		if sc.Provider != nil {
			replServer.WithDelegate(sc.Provider)
		}
		if token := goutils.Env("SANDUKU_REPL_TOKEN", ""); token != "" {
			replServer.WithToken(token)
		}
		gw.WithHandler("/v1/repl", replServer.Handler())
		logger.Debug("websocket repl endpoint enabled", slog.String("path", "/v1/repl"))
	}

	errs := make(chan error, 1)
	go func() {
		errs <- gw.Start(ctx)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errs:
		if err != nil {
			logger.Error("gateway exited with error", slog.String("error", err.Error()))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return gw.Stop(shutdownCtx)
}

// storeReadyCheck exposes backend connectivity on /readyz when the history
// backend supports pinging.
func storeReadyCheck(sc *SharedComponents) func(ctx context.Context) error {
	type pinger interface {
		Ping(ctx context.Context) error
	}
	p, ok := sc.Store.(pinger)
	if !ok {
		return nil
	}
	return p.Ping
}
