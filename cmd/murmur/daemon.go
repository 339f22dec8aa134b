package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/fentz26/murmur/internal/agent"
	"github.com/fentz26/murmur/internal/config"
	"github.com/fentz26/murmur/internal/controlplane"
	"github.com/fentz26/murmur/internal/engine"
	"github.com/fentz26/murmur/internal/fixers"
	"github.com/fentz26/murmur/internal/history"
	"github.com/fentz26/murmur/internal/metrics"
	"github.com/fentz26/murmur/internal/models"
	"github.com/fentz26/murmur/internal/monitors"
)

var (
	configPath string
	dbPath     string
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Start the Murmur agent (murmurd)",
	Long:  `Starts the Murmur agent which samples the host, matches fault patterns, applies fixes, and serves the HTTP status API.`,
	RunE:  runDaemon,
}

func init() {
	homeDir, _ := os.UserHomeDir()
	defaultDB := filepath.Join(homeDir, ".murmur", "murmur.db")
	defaultConfig := filepath.Join(homeDir, ".murmur", "config.yaml")

	daemonCmd.Flags().StringVar(&configPath, "config", defaultConfig, "Path to config file")
	daemonCmd.Flags().StringVar(&dbPath, "db", defaultDB, "Path to SQLite history database")
}

func runDaemon(cmd *cobra.Command, args []string) error {
	log.Println("Starting Murmur agent...")

	// Configuration errors are the only fatal errors; everything at
	// runtime degrades into history records instead.
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return err
	}

	store, err := history.New(dbPath)
	if err != nil {
		return err
	}

	registry := fixers.NewRegistry()
	registerFixers(registry, cfg)

	ag := agent.New(
		buildMonitors(cfg),
		engine.New(cfg.BuildRules()),
		registry,
		store,
		agent.Options{
			FixTimeout:         cfg.FixTimeout.Std(),
			MaxConcurrentFixes: cfg.MaxConcurrentFixes,
			HistoryMaxRecords:  cfg.History.MaxRecords,
			HistoryMaxAge:      cfg.History.MaxAge.Std(),
			HistoryKeepRecent:  cfg.History.KeepRecent,
			PruneInterval:      cfg.History.PruneInterval.Std(),
		},
	)

	promReg := prometheus.NewRegistry()
	if err := metrics.Register(promReg); err != nil {
		log.Printf("Warning: metrics registration failed: %v", err)
	}

	service := controlplane.NewService(ag, store)
	server := controlplane.NewServer(service, cfg.Listen, promReg)

	if err := ag.Start(); err != nil {
		store.Close()
		return err
	}
	defer ag.Stop()

	// Set up signal handling for graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// /shutdown behaves like a signal so the CLI stop command works.
	stopCh := make(chan struct{}, 1)
	server.SetShutdownFunc(func() {
		select {
		case stopCh <- struct{}{}:
		default:
		}
	})

	serverErr := make(chan error, 1)
	go func() {
		err := server.Start()
		if err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case sig := <-sigCh:
		log.Printf("Received signal %v, initiating graceful shutdown...", sig)
	case <-stopCh:
		log.Println("Received shutdown request, initiating graceful shutdown...")
	case err := <-serverErr:
		if err != nil {
			log.Printf("Server error: %v", err)
			store.Close()
			return err
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	log.Println("Shutting down HTTP server...")
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}

	log.Println("Stopping agent...")
	ag.Stop()

	log.Println("Closing history database...")
	if err := store.Close(); err != nil {
		log.Printf("Database close error: %v", err)
	}

	log.Println("Shutdown complete")
	return nil
}

// buildMonitors assembles the enabled reference monitors.
func buildMonitors(cfg *config.Config) []monitors.Monitor {
	var mons []monitors.Monitor

	if c := cfg.Monitors.Connectivity; c.Enabled {
		mons = append(mons, monitors.NewConnectivity(c.Interval.Std(), c.Address, c.Timeout.Std()))
	}
	if p := cfg.Monitors.Process; p.Enabled {
		mons = append(mons, monitors.NewProcess(p.Interval.Std(), p.Names))
	}
	if t := cfg.Monitors.TempDir; t.Enabled {
		mons = append(mons, monitors.NewTempDir(t.Interval.Std(), t.Path))
	}
	return mons
}

// registerFixers assembles the reference fixers.
func registerFixers(registry *fixers.Registry, cfg *config.Config) {
	runner := fixers.NewAllowlistRunner()
	conn := cfg.Monitors.Connectivity
	probe := func(ctx context.Context) bool {
		c := monitors.NewConnectivity(conn.Interval.Std(), conn.Address, conn.Timeout.Std())
		obs := c.Sample(ctx)
		return len(obs) == 1 && obs[0].Kind == models.KindConnUp
	}

	registry.Register(fixers.NewReconnect(runner, probe))
	registry.Register(fixers.NewRestartProc(cfg.Monitors.Process.StartCommands))
	registry.Register(fixers.NewTempClean(cfg.Monitors.TempDir.MaxFileAge.Std()))
}
