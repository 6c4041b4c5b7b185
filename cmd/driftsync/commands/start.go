package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/driftsync/driftsync/internal/logger"
	"github.com/driftsync/driftsync/pkg/api"
	"github.com/driftsync/driftsync/pkg/bridge"
	"github.com/driftsync/driftsync/pkg/config"
	"github.com/driftsync/driftsync/pkg/drive"
	"github.com/driftsync/driftsync/pkg/events"
	"github.com/driftsync/driftsync/pkg/metadata"
	"github.com/driftsync/driftsync/pkg/metrics"
	promMetrics "github.com/driftsync/driftsync/pkg/metrics/prometheus"
	"github.com/driftsync/driftsync/pkg/task"
	"github.com/driftsync/driftsync/pkg/transfer"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the sync engine",
	Long: `Start the DriftSync engine with the specified configuration.

The engine restores registered drives from the database, resumes interrupted
transfers, watches local folders for changes, and serves the management API.

Use --config to specify a custom configuration file, or it will use the
default location at $XDG_CONFIG_HOME/driftsync/config.yaml.

Examples:
  # Start with default config location
  driftsync start

  # Start with custom config file
  driftsync start --config /etc/driftsync/config.yaml

  # Start with environment variable overrides
  DRIFTSYNC_LOGGING_LEVEL=DEBUG driftsync start`,
	RunE: runStart,
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return err
	}
	if err := InitLogger(cfg); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger.Info("Configuration loaded", "source", getConfigSource(GetConfigFile()))

	if cfg.Metrics.Enabled {
		metrics.InitRegistry()
		startMetricsServer(cfg.Metrics.Port)
	}

	store, err := metadata.NewStore(&cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to open metadata store: %w", err)
	}
	defer store.Close()

	feed := events.NewFeed(events.DefaultBuffer)
	defer feed.Close()

	transferOpts, err := buildTransferOptions(cfg)
	if err != nil {
		return err
	}

	mgr := drive.NewManager(store, feed, transferOpts)
	mgr.SetMetrics(promMetrics.NewSyncMetrics())
	if cfg.Queue.Resume != nil {
		mgr.SetResume(*cfg.Queue.Resume)
	}

	queue := task.NewQueue(mgr.Executors(), task.Config{
		Workers:         cfg.Queue.Workers,
		CompletedBuffer: cfg.Queue.CompletedBuffer,
		StopGrace:       cfg.Queue.StopGrace,
	})
	mgr.AttachQueue(queue)
	if err := promMetrics.RegisterQueueCollector(queue); err != nil {
		return fmt.Errorf("failed to register queue metrics: %w", err)
	}

	cbBridge := bridge.New(mgr, bridge.WithDeadline(cfg.Bridge.CallbackDeadline))
	if cfg.Watcher.Enabled == nil || *cfg.Watcher.Enabled {
		mgr.EnableWatchers(drive.WatcherOptions{
			Enabled:  true,
			Debounce: cfg.Watcher.Debounce,
			Bridge:   cbBridge,
		})
	}

	queue.Start()
	if err := mgr.Start(ctx); err != nil {
		return fmt.Errorf("failed to start drive manager: %w", err)
	}

	registerConfigDrives(ctx, mgr, cfg.Drives)

	// Management API
	serverDone := make(chan error, 1)
	if cfg.API.Enabled == nil || *cfg.API.Enabled {
		server := api.NewServer(api.Config{
			Port:         cfg.API.Port,
			ReadTimeout:  cfg.API.ReadTimeout,
			WriteTimeout: cfg.API.WriteTimeout,
			IdleTimeout:  cfg.API.IdleTimeout,
		}, mgr, queue)
		go func() {
			serverDone <- server.Start(ctx)
		}()
	} else {
		logger.Info("Management API disabled")
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("Engine is running. Press Ctrl+C to stop.")

	select {
	case <-sigChan:
		signal.Stop(sigChan)
		logger.Info("Shutdown signal received, initiating graceful shutdown")
	case err := <-serverDone:
		signal.Stop(sigChan)
		if err != nil {
			logger.Error("API server error", logger.KeyError, err.Error())
		}
	}

	// Stop accepting new work, then drain running transfers within the
	// configured grace period.
	cancel()
	mgr.Shutdown()
	queue.StopAll()
	queue.Close()

	logger.Info("Engine stopped gracefully")
	return nil
}

// startMetricsServer serves the Prometheus exposition endpoint on its own
// port, separate from the management API.
func startMetricsServer(port int) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	go func() {
		logger.Info("Metrics server listening", "port", port)
		if err := http.ListenAndServe(fmt.Sprintf(":%d", port), mux); err != nil {
			logger.Error("metrics server failed", logger.KeyError, err.Error())
		}
	}()
}

// buildTransferOptions maps transfer configuration onto the transfer layer,
// constructing the age encryptor when client-side encryption is enabled.
func buildTransferOptions(cfg *config.Config) (transfer.Options, error) {
	opts := transfer.Options{
		ChunkSize:    int64(cfg.Transfer.ChunkSize),
		MaxRetries:   cfg.Transfer.MaxRetries,
		RetryBackoff: cfg.Transfer.RetryBackoff,
	}

	if cfg.Transfer.Encryption.Enabled {
		enc, err := transfer.NewEncryptor(
			cfg.Transfer.Encryption.Recipient,
			cfg.Transfer.Encryption.IdentityFile,
		)
		if err != nil {
			return transfer.Options{}, fmt.Errorf("failed to initialize encryption: %w", err)
		}
		opts.Encryptor = enc
		logger.Info("Client-side encryption enabled")
	}

	return opts, nil
}

// registerConfigDrives registers drives declared in the configuration file.
// Drives already known (same local path) are left untouched.
func registerConfigDrives(ctx context.Context, mgr *drive.Manager, drives []config.DriveConfig) {
	for _, dc := range drives {
		id, err := mgr.AddDrive(ctx, dc)
		switch {
		case errors.Is(err, drive.ErrDuplicatePath):
			logger.Debug("drive already registered", logger.KeyMount, dc.LocalPath)
		case err != nil:
			logger.Error("failed to register drive from config",
				logger.KeyMount, dc.LocalPath,
				logger.KeyError, err.Error())
		default:
			logger.Info("drive registered from config",
				logger.KeyDriveID, id,
				logger.KeyMount, dc.LocalPath)
		}
	}
}
