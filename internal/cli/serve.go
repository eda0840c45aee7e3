package cli

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/droidpool/droidpool/internal/api"
	"github.com/droidpool/droidpool/internal/config"
	"github.com/droidpool/droidpool/internal/history"
	"github.com/droidpool/droidpool/internal/logging"
	"github.com/droidpool/droidpool/internal/metrics"
	"github.com/droidpool/droidpool/internal/pool"
	"github.com/droidpool/droidpool/internal/store"
	"github.com/droidpool/droidpool/internal/telegram"
	"github.com/droidpool/droidpool/internal/usage"
	"github.com/droidpool/droidpool/internal/watcher"
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:     "serve",
	Aliases: []string{"s", "server", "run"},
	Short:   "Start the droidpool daemon",
	Long: `Start the droidpool daemon.

The daemon polls the active credential's usage, watches the client log
files for payment errors, fails over automatically when one appears, and
exposes the pool over a local HTTP API.

Example:
  droidpool serve --config config.yaml

On shutdown the daemon runs one final usage query and syncs the active
credential's freshest tokens back into the reserve pool.`,
	RunE: runServe,
}

var serveFlags struct {
	Host    string
	Port    int
	Timeout time.Duration
}

func init() {
	serveCmd.Flags().StringVar(&serveFlags.Host, "host", "", "Server host (overrides config)")
	serveCmd.Flags().IntVar(&serveFlags.Port, "port", 0, "Server port (overrides config)")
	serveCmd.Flags().DurationVar(&serveFlags.Timeout, "timeout", envDuration("SHUTDOWN_TIMEOUT", 30*time.Second), "Shutdown timeout")

	RootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	if globalFlags.Verbose {
		log.Println("Starting droidpool daemon...")
		log.Printf("Config path: %s", globalFlags.Config)
	}

	cfg, err := config.LoadOrDefault(globalFlags.Config)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	if serveFlags.Host != "" {
		cfg.Server.Host = serveFlags.Host
	}
	if serveFlags.Port != 0 {
		cfg.Server.HTTPPort = serveFlags.Port
	}
	if serveFlags.Timeout > 0 {
		cfg.Server.ShutdownTimeout = serveFlags.Timeout
	}

	logger := logging.NewLogger(logging.WithLevel(logging.LogLevel(cfg.Server.LogLevel)))

	// One daemon per reserve document. The lock breaks itself when the
	// holding process is gone.
	lock, err := store.AcquireLock(cfg.Store.LockPath)
	if err != nil {
		return err
	}
	defer lock.Release()

	fileStore := store.NewFileStore(cfg.Store.ActivePath, cfg.Store.ReservePath, logger)
	oracle := usage.NewClient(cfg.Oracle, logger)
	m := metrics.NewMetrics("droidpool")

	var hist *history.History
	if cfg.History.Enabled {
		hist, err = history.New(cfg.History.DBPath, cfg.History.RetentionDays)
		if err != nil {
			return fmt.Errorf("failed to open history database: %w", err)
		}
		defer hist.Close()
		if pruned, err := hist.Prune(); err == nil && pruned > 0 && globalFlags.Verbose {
			log.Printf("Pruned %d old history events", pruned)
		}
	}

	notifier := telegram.NewNotifier(cfg.Telegram, logger)
	manager := pool.NewManager(fileStore, oracle, cfg.Pool, logger,
		pool.WithMetrics(m),
		pool.WithHistory(hist),
		pool.WithEventSink(notifier.HandleEvent),
	)

	manager.ReconcileOnStart()

	var poller *watcher.Poller
	if cfg.Monitor.Enabled {
		poller = watcher.NewPoller(manager, cfg.Monitor.CheckInterval, logger)
		poller.Start()
	}

	var logWatcher *watcher.LogWatcher
	if cfg.LogWatch.Enabled {
		logWatcher, err = watcher.NewLogWatcher(cfg.LogWatch, func(ctx context.Context, line string) {
			if _, err := manager.AutoFailover(ctx); err != nil {
				logger.Error("payment-error failover failed", "error", err.Error())
			}
		}, logger)
		if err != nil {
			return fmt.Errorf("failed to create log watcher: %w", err)
		}
		if err := logWatcher.Start(); err != nil {
			return fmt.Errorf("failed to start log watcher: %w", err)
		}
	}

	server := api.NewServer(cfg.Server, fileStore, manager, hist, m, logger)

	setupGracefulShutdown(server, manager, poller, logWatcher, cfg, logger)

	log.Printf("Starting droidpool HTTP server on %s:%d", cfg.Server.Host, cfg.Server.HTTPPort)

	return server.Run()
}

// setupGracefulShutdown stops the watchers, runs one final usage query so
// the active credential's latest ratio and tokens make it into the reserve
// pool, and shuts the HTTP server down.
func setupGracefulShutdown(
	server *api.Server,
	manager *pool.Manager,
	poller *watcher.Poller,
	logWatcher *watcher.LogWatcher,
	cfg *config.Config,
	logger *logging.Logger,
) {
	sigChan := api.SetupSignalHandler()

	go func() {
		sig := api.WaitForSignal(sigChan)
		log.Printf("Received signal: %v", sig)

		if poller != nil {
			poller.Stop()
		}
		if logWatcher != nil {
			logWatcher.Stop()
		}

		syncOnShutdown(manager, cfg, logger)

		log.Println("Shutting down API server...")
		if err := server.Shutdown(); err != nil {
			log.Printf("Error during server shutdown: %v", err)
		}

		log.Println("Graceful shutdown completed")
		os.Exit(0)
	}()
}

// syncOnShutdown runs a final bounded usage query and pushes the active
// credential's state into the reserve pool. A failed query still syncs the
// tokens; only the ratio is left untouched.
func syncOnShutdown(manager *pool.Manager, cfg *config.Config, logger *logging.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Oracle.ShutdownTimeout)
	defer cancel()

	result, err := manager.CheckActive(ctx, false)
	ratioKnown := err == nil && result.Ratio >= 0
	ratio := result.Ratio

	if manager.SyncActiveToReserve(nil, ratio, ratioKnown) {
		logger.Info("active credential synced to reserve pool on shutdown")
	}
}

func envDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	if parsed, err := time.ParseDuration(value); err == nil {
		return parsed
	}
	return fallback
}
