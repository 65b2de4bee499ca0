// Command sonnyd runs the family-mesh core as a standalone daemon: mesh
// transports, message bridge, consent ledger, trust framework and safety
// triggers, fronted by the local HTTP API.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/MatusOllah/slogcolor"

	"github.com/wpamesh/sonny-mesh/pkg/config"
	"github.com/wpamesh/sonny-mesh/pkg/routes"
	"github.com/wpamesh/sonny-mesh/pkg/sonny"
	"github.com/wpamesh/sonny-mesh/pkg/store"
)

func main() {
	configDir := flag.String("config", "", "Directory containing sonny.yaml")
	flag.Parse()

	opts := slogcolor.DefaultOptions
	logger := slog.New(slogcolor.NewHandler(os.Stderr, opts))
	slog.SetDefault(logger)

	cfg, err := config.Load(*configDir)
	if err != nil {
		slog.Error("unable to load configuration", "error", err)
		os.Exit(1)
	}
	if cfg.DebugMode {
		opts.Level = slog.LevelDebug
		logger = slog.New(slogcolor.NewHandler(os.Stderr, opts))
		slog.SetDefault(logger)
	}

	svcOpts := []sonny.Option{sonny.WithLogger(logger)}
	if cfg.Database.Enabled {
		db, err := store.Connect(cfg.Database.DSN())
		if err != nil {
			slog.Error("unable to connect to database", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		if err := store.Migrate(db); err != nil {
			slog.Error("unable to migrate database", "error", err)
			os.Exit(1)
		}
		svcOpts = append(svcOpts, sonny.WithStores(store.NewStores(db)))
	} else {
		slog.Warn("running without durable storage; state will not survive restarts")
	}

	core, err := sonny.New(cfg, svcOpts...)
	if err != nil {
		slog.Error("unable to assemble core", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := core.Start(ctx); err != nil {
		slog.Error("unable to start core", "error", err)
		os.Exit(1)
	}

	router := routes.NewWebRouter(core, logger)
	go func() {
		slog.Info("http api listening", "addr", cfg.ListenAddr)
		if err := router.Initialize(cfg.ListenAddr); err != nil {
			slog.Error("http server failed", "error", err)
			os.Exit(1)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	slog.Info("shutting down")
	cancel()
	core.Shutdown()
}
