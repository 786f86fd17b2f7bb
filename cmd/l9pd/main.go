// l9pd is the 9P2000.L server binary: it loads configuration, selects a
// filesystem back-end, and serves the configured endpoint until interrupted.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/l9p/l9p/internal/acceptor"
	"github.com/l9p/l9p/internal/backend"
	"github.com/l9p/l9p/internal/backend/badgerfs"
	"github.com/l9p/l9p/internal/backend/memfs"
	"github.com/l9p/l9p/internal/config"
	"github.com/l9p/l9p/internal/logger"
	"github.com/l9p/l9p/internal/metrics"
	"github.com/l9p/l9p/internal/session"
)

func main() {
	configPath := flag.String("config", "", "Path to configuration file (YAML or TOML)")
	logLevel := flag.String("log-level", "", "Override configured log level (DEBUG, INFO, WARN, ERROR)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("l9pd: %v", err)
	}

	level := cfg.Logging.Level
	if *logLevel != "" {
		level = *logLevel
	}
	logger.SetLevel(level)

	fmt.Println("l9pd - 9P2000.L file server")
	logger.Info("log level set to %s", level)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var collector session.Metrics
	if cfg.Metrics.Enabled {
		metrics.InitRegistry()
		collector = metrics.NewCollector()
		srv := metrics.NewServer(cfg.Metrics.Listen)
		go func() {
			if err := srv.Start(ctx); err != nil {
				logger.Error("l9pd: %v", err)
			}
		}()
	} else {
		collector = metrics.NewNoopCollector()
	}

	sessionCfg := session.Config{
		MsizeCeiling: cfg.MsizeCeiling,
		MaxWalkDepth: cfg.MaxWalkDepth,
	}
	acceptorCfg := acceptor.Config{
		Listen:          cfg.Listen,
		MaxConnections:  cfg.MaxConnections,
		ShutdownTimeout: cfg.ShutdownTimeout,
	}

	serverDone := make(chan error, 1)

	switch cfg.Backend.Type {
	case "badger":
		store, err := badgerfs.Open(badgerfs.Options{Dir: cfg.Backend.Dir})
		if err != nil {
			log.Fatalf("l9pd: %v", err)
		}
		defer func() {
			if err := store.Close(); err != nil {
				logger.Error("l9pd: closing store: %v", err)
			}
		}()
		logger.Info("backend: badger at %s", cfg.Backend.Dir)
		go serve(ctx, serverDone, acceptorCfg, store, sessionCfg, collector)

	case "memfs":
		logger.Info("backend: memfs (volatile)")
		go serve(ctx, serverDone, acceptorCfg, memfs.New(), sessionCfg, collector)

	default:
		log.Fatalf("l9pd: unknown backend type %q", cfg.Backend.Type)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("serving %s, press Ctrl+C to stop", cfg.Listen)

	select {
	case <-sigChan:
		logger.Info("shutdown signal received, stopping")
		cancel()
		if err := <-serverDone; err != nil {
			logger.Error("l9pd: shutdown: %v", err)
			os.Exit(1)
		}
		logger.Info("stopped gracefully")

	case err := <-serverDone:
		if err != nil {
			logger.Error("l9pd: %v", err)
			os.Exit(1)
		}
		logger.Info("stopped")
	}
}

// serve runs one acceptor to completion, reporting its exit on done.
func serve[S any](ctx context.Context, done chan<- error, cfg acceptor.Config, be backend.Backend[S], sessionCfg session.Config, collector session.Metrics) {
	a := acceptor.New[S](cfg, be, sessionCfg, collector)
	done <- a.Serve(ctx)
}
