package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fbarre96/pollenisator/internal/autoscan"
	"github.com/fbarre96/pollenisator/internal/config"
	"github.com/fbarre96/pollenisator/internal/entities"
	"github.com/fbarre96/pollenisator/internal/event"
	"github.com/fbarre96/pollenisator/internal/fleet"
	"github.com/fbarre96/pollenisator/internal/ingest"
	"github.com/fbarre96/pollenisator/internal/registry"
	"github.com/fbarre96/pollenisator/internal/server"
	"github.com/fbarre96/pollenisator/internal/store"
	"github.com/fbarre96/pollenisator/internal/triggers"
	"github.com/fbarre96/pollenisator/internal/version"
	"github.com/fbarre96/pollenisator/internal/ws"
	"github.com/fbarre96/pollenisator/pkg/plugin"
	"go.uber.org/zap"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "version" {
		fmt.Println(version.Info())
		return
	}

	configPath := flag.String("config", "", "path to configuration file")
	showVersion := flag.Bool("version", false, "print version information and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.Info())
		os.Exit(0)
	}

	// Load configuration (before logger, so log level/format can be configured).
	viperCfg, err := server.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	cfg := config.New(viperCfg)

	logger, err := config.NewLogger(viperCfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Pollenisator server starting", zap.String("version", version.Short()))

	if f := viperCfg.ConfigFileUsed(); f != "" {
		logger.Info("configuration loaded",
			zap.String("component", "config"),
			zap.String("source", f),
		)
	} else {
		logger.Warn("no configuration file found, using defaults",
			zap.String("component", "config"),
		)
	}

	// Worker tokens need a signing secret. Without one configured, generate
	// an ephemeral secret -- workers must re-register after a restart.
	if viperCfg.GetString("modules.fleet.token_secret") == "" {
		b := make([]byte, 32)
		if _, err := rand.Read(b); err != nil {
			logger.Fatal("failed to generate token secret", zap.Error(err))
		}
		viperCfg.Set("modules.fleet.token_secret", hex.EncodeToString(b))
		logger.Info("using auto-generated worker token secret (set modules.fleet.token_secret in config to persist tokens across restarts)",
			zap.String("component", "fleet"),
		)
	}

	// Open database
	dbPath := viperCfg.GetString("database.path")
	if dbPath == "" {
		dbPath = "pollenisator.db"
	}
	db, err := store.New(dbPath)
	if err != nil {
		logger.Fatal("failed to open database", zap.Error(err))
	}
	defer db.Close()

	if err := db.CheckVersion(context.Background(), version.Short()); err != nil {
		logger.Fatal("database schema version check failed", zap.Error(err))
	}

	logger.Info("database initialized",
		zap.String("component", "database"),
		zap.String("path", dbPath),
	)

	// Create shared services
	bus := event.NewBus(logger.Named("event"))
	reg := registry.New(logger.Named("registry"))

	// Register all core modules (compile-time composition)
	entitiesMod := entities.New()
	triggersMod := triggers.New()
	fleetMod := fleet.New()
	autoscanMod := autoscan.New()
	ingestMod := ingest.New()

	modules := []plugin.Plugin{
		entitiesMod,
		triggersMod,
		fleetMod,
		autoscanMod,
		ingestMod,
	}
	for _, m := range modules {
		if err := reg.Register(m); err != nil {
			logger.Fatal("failed to register module", zap.Error(err))
		}
	}

	// Validate dependency graph and API versions
	if err := reg.Validate(); err != nil {
		logger.Fatal("module validation failed", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := reg.InitAll(ctx, func(name string) plugin.Dependencies {
		return plugin.Dependencies{
			Config:  cfg.Sub("modules." + name),
			Logger:  logger.Named(name),
			Store:   db,
			Bus:     bus,
			Plugins: reg,
		}
	}); err != nil {
		logger.Fatal("failed to initialize modules", zap.Error(err))
	}

	// The websocket hub carries executeCommand/stopCommand to workers and
	// entity notifications to operators. Wired here to keep the modules
	// decoupled from the transport.
	wsHandler := ws.NewHandler(fleetMod.Tokens(), bus, logger.Named("ws"))
	fleetMod.SetSocketDropper(wsHandler.Hub())
	autoscanMod.SetDispatcher(wsHandler.Hub())
	logger.Info("websocket handler initialized", zap.String("component", "ws"))

	if err := reg.StartAll(ctx); err != nil {
		logger.Fatal("failed to start modules", zap.Error(err))
	}

	// Create and start HTTP server
	addr := viperCfg.GetString("server.host") + ":" + viperCfg.GetString("server.port")
	if addr == ":" {
		addr = "0.0.0.0:5000"
	}
	srv := server.New(addr, reg, logger, db.Ready, wsHandler)

	go func() {
		if err := srv.Start(); err != nil {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	logger.Info("Pollenisator server ready", zap.String("addr", addr))

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh

	logger.Info("received shutdown signal", zap.String("signal", sig.String()))

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	reg.StopAll(shutdownCtx)

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}

	logger.Info("Pollenisator server stopped")
}
