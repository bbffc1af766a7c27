package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/jkaninda/sanduku/internal/config"
	"github.com/jkaninda/sanduku/internal/llm"
	"github.com/jkaninda/sanduku/internal/llm/openai"
	"github.com/jkaninda/sanduku/internal/observability"
	"github.com/jkaninda/sanduku/internal/repl"
	"github.com/jkaninda/sanduku/internal/session"
	"github.com/jkaninda/sanduku/internal/storage"
	pgstore "github.com/jkaninda/sanduku/internal/storage/postgres"
	sqlitestore "github.com/jkaninda/sanduku/internal/storage/sqlite"
	"github.com/jkaninda/sanduku/internal/tools/execute"
	"github.com/jkaninda/sanduku/internal/workspace"
)

// SharedComponents holds everything the serve, mcp, and run commands have
// in common: configuration, workspace, observability, storage, the session
// registry, and the execute tool built on top of them.
type SharedComponents struct {
	Cfg      *config.Config
	Logger   *slog.Logger
	WS       *workspace.Workspace
	Obs      *observability.Observability
	Store    storage.Store // nil = execution history disabled.
	Registry *session.Registry
	Tool     *execute.Tool
	Provider llm.Provider // nil = llm_query disabled.
	Janitor  *session.Janitor
	Defaults repl.Config
}

// loadConfig reads the config file at path, falling back to defaults when
// the default location does not exist and no explicit path was given.
func loadConfig(path string) (*config.Config, error) {
	if path == config.DefaultPath() {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return config.Default(), nil
		}
	}
	return config.Load(path)
}

// initShared builds all shared components from config. Construction
// failures here are fatal: a misconfigured sandbox must not start.
func initShared(cfg *config.Config, logger *slog.Logger) (*SharedComponents, error) {
	sc := &SharedComponents{Cfg: cfg, Logger: logger}

	// Workspace.
	var err error
	if cfg.Workspace != "" {
		sc.WS, err = workspace.New(cfg.Workspace)
	} else {
		sc.WS, err = workspace.Default()
	}
	if err != nil {
		return nil, fmt.Errorf("initializing workspace: %w", err)
	}
	logger.Debug("workspace ready", slog.String("root", sc.WS.Root))

	// Observability (optional).
	sc.Obs, err = observability.New(cfg.Observability)
	if err != nil {
		return nil, err
	}

	// Delegate provider (optional).
	if cfg.Delegate != nil {
		var opts []openai.Option
		if cfg.Delegate.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.Delegate.BaseURL))
		}
		var provider llm.Provider = openai.NewClient(cfg.Delegate.APIKey, cfg.Delegate.Model, logger, opts...)
		if m := sc.Obs.MetricsOrNil(); m != nil {
			provider = observability.NewInstrumentedProvider(provider, m, sc.Obs.TracerOrNil())
		}
		sc.Provider = provider
		logger.Debug("delegate provider configured", slog.String("model", cfg.Delegate.Model))
	}

	// Execution history (optional).
	if cfg.Storage != nil {
		sc.Store, err = openStore(cfg, sc.WS, logger)
		if err != nil {
			return nil, err
		}
		migrateCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := sc.Store.Migrate(migrateCtx); err != nil {
			return nil, fmt.Errorf("migrating storage: %w", err)
		}
	}

	// Session registry and the execute tool.
	sc.Registry = session.NewRegistry(logger)
	toolOpts := []execute.Option{execute.WithScratchRoot(sc.WS.ScratchDir())}
	if sc.Obs != nil {
		toolOpts = append(toolOpts, execute.WithObservability(sc.Obs.MetricsOrNil(), sc.Obs.TracerOrNil()))
	}
	if sc.Store != nil {
		toolOpts = append(toolOpts, execute.WithHistory(sc.Store.Executions()))
	}
	sc.Tool = execute.New(sc.Registry, logger, toolOpts...)

	sc.Defaults = repl.Config{
		Timeout:             cfg.Sandbox.Timeout(),
		TruncateOutputChars: cfg.Sandbox.TruncateOutputChars,
		MaxVarDisplayChars:  cfg.Sandbox.MaxVarDisplayChars,
	}

	// Orphaned-scratch janitor (optional).
	if cfg.Janitor != nil && cfg.Janitor.Enabled {
		sc.Janitor, err = session.NewJanitor(sc.Registry, sc.WS.ScratchDir(), cfg.Janitor.Schedule, cfg.Janitor.MaxAge(), logger)
		if err != nil {
			return nil, fmt.Errorf("initializing janitor: %w", err)
		}
		sc.Janitor.Start()
	}

	return sc, nil
}

// openStore opens the configured history backend. The SQLite path defaults
// to the workspace data directory.
func openStore(cfg *config.Config, ws *workspace.Workspace, logger *slog.Logger) (storage.Store, error) {
	switch cfg.Storage.StorageDriver() {
	case storage.DriverPostgres:
		pg := cfg.Storage.Postgres
		return pgstore.Open(pgstore.Config{
			DSN:             pg.DSN,
			MaxOpenConns:    pg.MaxOpenConns,
			MaxIdleConns:    pg.MaxIdleConns,
			ConnMaxLifetime: time.Duration(pg.ConnMaxLifetimeS) * time.Second,
		}, logger)
	default:
		path := ws.DatabasePath()
		if cfg.Storage.SQLite != nil && cfg.Storage.SQLite.Path != "" {
			path = cfg.Storage.SQLite.Path
		}
		return sqlitestore.Open(sqlitestore.Config{Path: path}, logger)
	}
}

// Cleanup tears down shared components in reverse construction order.
func (sc *SharedComponents) Cleanup() {
	if sc.Janitor != nil {
		sc.Janitor.Stop()
	}
	sc.Registry.TeardownAll()
	if sc.Store != nil {
		if err := sc.Store.Close(); err != nil {
			sc.Logger.Error("closing store", slog.String("error", err.Error()))
		}
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	sc.Obs.Shutdown(shutdownCtx)
}

// newLogger builds the process-wide structured logger.
func newLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}
