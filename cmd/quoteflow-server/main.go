// Package main provides the entry point for quoteflow-server.
//
// quoteflow-server is the process exposing the versioned document API,
// event log, async relational replication, periodic snapshots, and
// bearer-token auth described by the service's configuration.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/qofy/quoteflow/internal/config"
	"github.com/qofy/quoteflow/internal/corsrules"
	"github.com/qofy/quoteflow/internal/docstore"
	"github.com/qofy/quoteflow/internal/eventlog"
	"github.com/qofy/quoteflow/internal/identity"
	"github.com/qofy/quoteflow/internal/infra/buildinfo"
	"github.com/qofy/quoteflow/internal/infra/shutdown"
	"github.com/qofy/quoteflow/internal/kv"
	"github.com/qofy/quoteflow/internal/replication"
	"github.com/qofy/quoteflow/internal/server/httpserver"
	"github.com/qofy/quoteflow/internal/snapshot"
	"github.com/qofy/quoteflow/internal/telemetry/logger"
	"github.com/qofy/quoteflow/internal/tokenauth"
)

func main() {
	app := &cli.App{
		Name:    "quoteflow-server",
		Usage:   "versioned document API, event log, and replication service",
		Version: buildinfo.Version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "env-file",
				Value: ".env",
				Usage: "path to .env configuration file",
			},
		},
		Action: func(c *cli.Context) error {
			return run(c.String("env-file"))
		},
		Commands: []*cli.Command{
			{
				Name:  "generate-schema",
				Usage: "emit the bootstrap DDL script for a replication target",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "entities-dir",
						Usage: "directory of JSON-schema entity files, beyond the core tables",
					},
					&cli.StringFlag{
						Name:  "out",
						Usage: "file to write the script to (defaults to stdout)",
					},
				},
				Action: func(c *cli.Context) error {
					return runGenerateSchema(c.String("entities-dir"), c.String("out"))
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func runGenerateSchema(entitiesDir, outPath string) error {
	sql, err := replication.GenerateInitialSQL(entitiesDir)
	if err != nil {
		return fmt.Errorf("generate schema: %w", err)
	}
	if outPath == "" {
		_, err = fmt.Fprint(os.Stdout, sql)
		return err
	}
	return os.WriteFile(outPath, []byte(sql), 0o644)
}

func run(envFile string) error {
	cfg, err := config.Load(envFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, err := logger.New(logger.DefaultConfig())
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	logger.SetDefault(log)
	slogLogger := slog.Default()

	slogLogger.Info("starting quoteflow-server", "version", buildinfo.Version, "commit", buildinfo.Commit)

	engine, err := kv.Open(kv.DefaultConfig(cfg.DBPath), slogLogger)
	if err != nil {
		return fmt.Errorf("open kv engine: %w", err)
	}

	snapMgr, err := initSnapshot(cfg, engine.DataDir(), slogLogger)
	if err != nil {
		return fmt.Errorf("init snapshot manager: %w", err)
	}
	if snapMgr != nil {
		if restored, err := snapMgr.RestoreFromLatest(); err != nil {
			return fmt.Errorf("restore from snapshot: %w", err)
		} else if restored {
			slogLogger.Info("restored data directory from latest snapshot")
		}
	}

	events := eventlog.New(engine)

	repl, err := initReplication(cfg, slogLogger)
	if err != nil {
		return fmt.Errorf("init replication engine: %w", err)
	}

	docs := docstore.New(engine, docstore.WithHooks(docstore.Hooks{
		OnWrite: func(coll, key string, rec *docstore.Record) {
			if _, err := events.Emit("document.put", mustMarshalEvent(coll, key, rec)); err != nil {
				slogLogger.Error("event emit failed", "error", err)
			}
			repl.Replicate(coll, key, rec.Data, false)
		},
		OnDelete: func(coll, key string) {
			if _, err := events.Emit("document.delete", mustMarshalEventKey(coll, key)); err != nil {
				slogLogger.Error("event emit failed", "error", err)
			}
			repl.Replicate(coll, key, nil, true)
		},
	}))

	ident := identity.New(docs)

	tokens, err := tokenauth.New(tokenauth.Config{
		Mode:              tokenauth.Mode(cfg.TokenMode),
		Issuer:            cfg.TokenIssuer,
		Audience:          cfg.TokenAudience,
		TokenTTLSeconds:   cfg.TokenTTLSeconds,
		StaticAccessToken: cfg.StaticAccessToken,
		PasetoKeyHex:      cfg.PasetoKeyHex,
		CookieSecure:      cfg.CookieSecure,
		CookieDomain:      cfg.CookieDomain,
		Logger:            slogLogger,
	})
	if err != nil {
		return fmt.Errorf("init token service: %w", err)
	}

	rules, err := corsrules.Load(cfg.CORSRulesPath)
	if err != nil {
		return fmt.Errorf("load CORS rules: %w", err)
	}

	routerCfg := httpserver.DefaultRouterConfig()
	routerCfg.Docs = docs
	routerCfg.Events = events
	routerCfg.Identity = ident
	routerCfg.Tokens = tokens
	routerCfg.Logger = slogLogger
	routerCfg.CORSRules = rules

	httpHandler := httpserver.NewRouter(routerCfg)

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	httpServer := httpserver.New(addr, httpHandler)

	shutdownHandler := shutdown.NewHandler(30 * time.Second)
	shutdownCtx, cancelSnapshots := context.WithCancel(context.Background())

	if snapMgr != nil {
		go snapMgr.Run(shutdownCtx)
	}

	shutdownHandler.OnShutdown(func(ctx context.Context) error {
		slogLogger.Info("shutting down HTTP server")
		return httpServer.Shutdown(ctx)
	})
	shutdownHandler.OnShutdown(func(ctx context.Context) error {
		cancelSnapshots()
		return nil
	})
	shutdownHandler.OnShutdown(func(ctx context.Context) error {
		slogLogger.Info("closing replication engine")
		return repl.Close()
	})
	shutdownHandler.OnShutdown(func(ctx context.Context) error {
		slogLogger.Info("closing kv engine")
		return engine.Close()
	})

	go func() {
		slogLogger.Info("HTTP server listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slogLogger.Error("HTTP server error", "error", err)
		}
	}()

	slogLogger.Info("server started, press Ctrl+C to stop")
	if err := shutdownHandler.Wait(); err != nil {
		slogLogger.Error("shutdown error", "error", err)
		return err
	}

	slogLogger.Info("server stopped gracefully")
	return nil
}

func initSnapshot(cfg *config.Config, sourceDir string, log *slog.Logger) (*snapshot.Manager, error) {
	if cfg.PeriodicBackupPath == "" {
		return nil, nil
	}
	return snapshot.New(snapshot.Config{
		SourceDir:    sourceDir,
		Root:         cfg.PeriodicBackupPath,
		NameTemplate: cfg.PeriodicBackupName,
		Retention:    8,
		Interval:     cfg.BackupInterval,
		Logger:       log,
	})
}

func initReplication(cfg *config.Config, log *slog.Logger) (*replication.Engine, error) {
	targets := make([]replication.TargetConfig, len(cfg.Targets))
	for i, t := range cfg.Targets {
		targets[i] = replication.TargetConfig{ConnString: t.ConnString, Tables: t.Tables}
	}
	return replication.New(replication.Config{
		Enabled: cfg.ReplicationEnabled,
		Targets: targets,
	}, log)
}

func mustMarshalEvent(coll, key string, rec *docstore.Record) []byte {
	payload, _ := json.Marshal(map[string]any{
		"collection": coll,
		"key":        key,
		"version":    rec.Version,
		"data":       rec.Data,
	})
	return payload
}

func mustMarshalEventKey(coll, key string) []byte {
	payload, _ := json.Marshal(map[string]any{
		"collection": coll,
		"key":        key,
	})
	return payload
}
