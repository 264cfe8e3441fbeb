// Durid is the duri memory daemon.
//
// It serves trace memory, semantic search, reasoning-path queries,
// judgment rules, and session checkpoints over HTTP, with a background
// consolidation scheduler merging similar traces.
//
// Configuration is loaded from an optional YAML file plus DURI_*
// environment variables. See internal/config for details.
//
// Usage:
//
//	# Start with defaults
//	durid
//
//	# Start with a config file
//	durid -config /etc/duri/duri.yaml
//
//	# Configure via environment
//	DURI_SERVER_PORT=9200 durid
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/durilabs/duri/internal/config"
	"github.com/durilabs/duri/internal/consolidate"
	"github.com/durilabs/duri/internal/judgment"
	"github.com/durilabs/duri/internal/logging"
	"github.com/durilabs/duri/internal/memory"
	"github.com/durilabs/duri/internal/reasoning"
	"github.com/durilabs/duri/internal/semantic"
	"github.com/durilabs/duri/internal/server"
	"github.com/durilabs/duri/internal/session"
	"github.com/durilabs/duri/internal/storage"
	"github.com/durilabs/duri/internal/telemetry"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	if args := flag.Args(); len(args) > 0 {
		switch args[0] {
		case "version":
			printVersion()
			os.Exit(0)
		default:
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[0])
			fmt.Fprintf(os.Stderr, "\nUsage:\n")
			fmt.Fprintf(os.Stderr, "  durid            Start the duri daemon\n")
			fmt.Fprintf(os.Stderr, "  durid version    Show version information\n")
			os.Exit(1)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("Received signal %v, shutting down gracefully...", sig)
		cancel()
	}()

	if err := run(ctx, *configPath); err != nil {
		log.Fatalf("Daemon error: %v", err)
	}
	log.Println("Daemon shutdown complete")
}

func printVersion() {
	fmt.Printf("durid by Duri Labs\n")
	fmt.Printf("Version:    %s\n", version)
	fmt.Printf("Commit:     %s\n", gitCommit)
	fmt.Printf("Build Date: %s\n", buildDate)
}

// run wires every service and blocks until the context is cancelled.
func run(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	logCfg := logging.NewDefaultConfig()
	level, err := logging.LevelFromString(cfg.Logging.Level)
	if err != nil {
		return fmt.Errorf("parse log level: %w", err)
	}
	logCfg.Level = level
	logCfg.Format = cfg.Logging.Format
	appLogger, err := logging.NewLogger(logCfg)
	if err != nil {
		return fmt.Errorf("initialize logger: %w", err)
	}
	defer func() { _ = appLogger.Sync() }()
	logger := appLogger.Underlying()

	logger.Info("starting durid",
		zap.String("version", version),
		zap.Int("port", cfg.Server.Port),
		zap.String("storage_path", cfg.Storage.Path),
	)

	dbPath, err := config.ExpandPath(cfg.Storage.Path)
	if err != nil {
		return fmt.Errorf("expand storage path: %w", err)
	}
	db, err := storage.Open(dbPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	store, err := memory.NewStore(db, logger.Named("memory"),
		memory.WithMaxTraces(cfg.Storage.MaxTraces),
	)
	if err != nil {
		return fmt.Errorf("create trace store: %w", err)
	}

	embedder, err := semantic.NewTFIDFEmbedder(db, cfg.Semantic.VectorSize)
	if err != nil {
		return fmt.Errorf("create embedder: %w", err)
	}

	indexPath, err := config.ExpandPath(cfg.Semantic.Path)
	if err != nil {
		return fmt.Errorf("expand index path: %w", err)
	}
	index, err := semantic.NewIndex(semantic.IndexConfig{
		Path:          indexPath,
		MinSimilarity: cfg.Semantic.MinSimilarity,
	}, embedder, logger.Named("semantic"))
	if err != nil {
		return fmt.Errorf("create semantic index: %w", err)
	}

	graph, err := reasoning.NewGraph(db, logger.Named("reasoning"))
	if err != nil {
		return fmt.Errorf("load reasoning graph: %w", err)
	}

	judge, err := judgment.NewEngine(cfg.Judgment.Rules, logger.Named("judgment"))
	if err != nil {
		return fmt.Errorf("compile judgment rules: %w", err)
	}

	sessions, err := session.NewManager(db, session.ManagerConfig{
		MaxSessions: cfg.Session.MaxSessions,
		IdleTimeout: cfg.Session.IdleTimeout.Duration(),
	}, logger.Named("session"))
	if err != nil {
		return fmt.Errorf("create session manager: %w", err)
	}

	distiller, err := consolidate.NewDistiller(store, index, embedder, logger.Named("consolidate"))
	if err != nil {
		return fmt.Errorf("create distiller: %w", err)
	}

	var scheduler *consolidate.Scheduler
	if cfg.Consolidate.Enabled {
		scheduler, err = consolidate.NewScheduler(distiller, logger.Named("scheduler"),
			consolidate.WithInterval(cfg.Consolidate.Interval.Duration()),
			consolidate.WithOptions(consolidate.Options{
				SimilarityThreshold: cfg.Consolidate.SimilarityThreshold,
				MaxClusters:         cfg.Consolidate.MaxClustersPerRun,
			}),
		)
		if err != nil {
			return fmt.Errorf("create scheduler: %w", err)
		}
		if err := scheduler.Start(); err != nil {
			return fmt.Errorf("start scheduler: %w", err)
		}
		defer scheduler.Stop()
	}

	// Hot-reload consolidation tunables when the config file changes.
	if configPath != "" && scheduler != nil {
		watcher, err := config.NewWatcher(configPath, func(next *config.Config) {
			err := scheduler.SetOptions(consolidate.Options{
				SimilarityThreshold: next.Consolidate.SimilarityThreshold,
				MaxClusters:         next.Consolidate.MaxClustersPerRun,
			})
			if err != nil {
				logger.Warn("rejected reloaded consolidation options", zap.Error(err))
			}
		}, logger.Named("config"))
		if err != nil {
			return fmt.Errorf("create config watcher: %w", err)
		}
		watcher.Start(ctx)
		defer watcher.Stop()
	}

	metrics := telemetry.NewMetrics()
	if n, err := store.Count(ctx); err == nil {
		metrics.TraceCount.Set(float64(n))
	}

	srv, err := server.NewServer(server.Deps{
		Store:     store,
		Index:     index,
		Graph:     graph,
		Judge:     judge,
		Sessions:  sessions,
		Distiller: distiller,
		Metrics:   metrics,
	}, appLogger.Named("http"), &server.Config{
		Host:                 cfg.Server.Host,
		Port:                 cfg.Server.Port,
		ConsolidateThreshold: cfg.Consolidate.SimilarityThreshold,
	})
	if err != nil {
		return fmt.Errorf("create http server: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	return nil
}
