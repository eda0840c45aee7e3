package cli

import (
	"fmt"

	"github.com/droidpool/droidpool/internal/config"
	"github.com/droidpool/droidpool/internal/logging"
	"github.com/droidpool/droidpool/internal/pool"
	"github.com/droidpool/droidpool/internal/store"
	"github.com/droidpool/droidpool/internal/usage"
)

// buildManager constructs the store, oracle and pool manager for one-shot
// commands. These run without the instance lock: they share the same
// atomic-write discipline as the daemon and never hold state across calls.
func buildManager() (*pool.Manager, store.Store, *config.Config, error) {
	cfg, err := config.LoadOrDefault(globalFlags.Config)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	level := logging.LevelWarn
	if globalFlags.Verbose {
		level = logging.LevelDebug
	}
	logger := logging.NewLogger(logging.WithLevel(level))

	fileStore := store.NewFileStore(cfg.Store.ActivePath, cfg.Store.ReservePath, logger)
	oracle := usage.NewClient(cfg.Oracle, logger)
	manager := pool.NewManager(fileStore, oracle, cfg.Pool, logger)

	return manager, fileStore, cfg, nil
}
