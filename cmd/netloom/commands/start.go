package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/netloom/netloom/internal/logger"
	"github.com/netloom/netloom/internal/telemetry"
	"github.com/netloom/netloom/pkg/api"
	"github.com/netloom/netloom/pkg/backup"
	"github.com/netloom/netloom/pkg/config"
	"github.com/netloom/netloom/pkg/controller"
	"github.com/netloom/netloom/pkg/images"
	"github.com/netloom/netloom/pkg/metrics"
	"github.com/netloom/netloom/pkg/models"
	"github.com/netloom/netloom/pkg/notification"
	"github.com/netloom/netloom/pkg/store"
)

var (
	foreground bool
	pidFile    string
	logFile    string

	startHost     string
	startPort     int
	startSSL      bool
	startCertFile string
	startCertKey  string
	startLocal    bool
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the NetLoom controller",
	Long: `Start the NetLoom controller with the specified configuration.

By default, the controller runs in the background (daemon mode). Use
--foreground to run in the foreground for debugging or when managed by a
process supervisor.

Use --config to specify a custom configuration file, or it will use the
default location at $XDG_CONFIG_HOME/netloom/config.yaml.

Examples:
  # Start in background (default)
  netloom start

  # Start in foreground with a local compute agent registered
  netloom start --foreground --local

  # Start with custom config file and port
  netloom start --config /etc/netloom/config.yaml --port 3081

  # Start with environment variable overrides
  NETLOOM_LOGGING_LEVEL=DEBUG netloom start --foreground`,
	RunE: runStart,
}

func init() {
	startCmd.Flags().BoolVarP(&foreground, "foreground", "f", false, "Run in foreground (default: background/daemon mode)")
	startCmd.Flags().StringVar(&pidFile, "pid-file", "", "Path to PID file (default: $XDG_STATE_HOME/netloom/netloom.pid)")
	startCmd.Flags().StringVar(&logFile, "log-file", "", "Path to log file for daemon mode (default: $XDG_STATE_HOME/netloom/netloom.log)")
	startCmd.Flags().StringVar(&startHost, "host", "", "API listen address (overrides config)")
	startCmd.Flags().IntVar(&startPort, "port", 0, "API listen port (overrides config)")
	startCmd.Flags().BoolVar(&startSSL, "ssl", false, "Serve the API over TLS (overrides config)")
	startCmd.Flags().StringVar(&startCertFile, "certfile", "", "TLS certificate file (overrides config)")
	startCmd.Flags().StringVar(&startCertKey, "certkey", "", "TLS private key file (overrides config)")
	startCmd.Flags().BoolVar(&startLocal, "local", false, "Register a local compute agent at http://127.0.0.1:3080")
}

func runStart(cmd *cobra.Command, args []string) error {
	// Handle daemon mode (background)
	if !foreground {
		return startDaemon()
	}

	cfg, err := config.Load(GetConfigFile())
	if err != nil {
		return err
	}
	applyStartFlags(cmd, cfg)

	if err := InitLogger(cfg); err != nil {
		return err
	}

	// Create cancellable context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize OpenTelemetry (if enabled)
	telemetryShutdown, err := telemetry.Init(ctx, cfg.TelemetrySDKConfig(Version))
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		if err := telemetryShutdown(ctx); err != nil {
			logger.Error("telemetry shutdown error", logger.KeyError, err)
		}
	}()

	// Initialize Pyroscope profiling (if enabled)
	profilingShutdown, err := telemetry.InitProfiling(cfg.ProfilingSDKConfig(Version))
	if err != nil {
		return fmt.Errorf("failed to initialize profiling: %w", err)
	}
	defer func() {
		if err := profilingShutdown(); err != nil {
			logger.Error("profiling shutdown error", logger.KeyError, err)
		}
	}()

	fmt.Println("NetLoom - Network emulation controller")
	logger.Info("Log level", "level", cfg.Logging.Level, "format", cfg.Logging.Format)
	logger.Info("Configuration loaded", "source", getConfigSource(GetConfigFile()))

	// Controller store (compute registry, project index, settings)
	st, err := store.New(&cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to initialize controller store: %w", err)
	}
	defer func() { _ = st.Close() }()

	// Image checksum index lives next to the project workspaces
	imageIndex, err := images.Open(filepath.Join(cfg.Controller.DataDir, "images"))
	if err != nil {
		return fmt.Errorf("failed to open image index: %w", err)
	}
	defer func() { _ = imageIndex.Close() }()

	// Metrics server (if enabled)
	var metricsServer *metrics.Server
	if cfg.Metrics.Enabled {
		metricsServer = metrics.NewServer(cfg.Metrics)
		logger.Info("Metrics enabled", "port", cfg.Metrics.Port)
	} else {
		logger.Info("Metrics collection disabled")
	}
	m := metricsServer.Metrics()

	bus := notification.NewBus(
		notification.WithQueueSize(cfg.Notification.QueueSize),
		notification.WithPingInterval(cfg.Notification.PingInterval),
		notification.WithDropHook(m.NotificationDropped),
	)
	defer bus.Close()

	opts := controller.Options{
		Version:          Version,
		DataDir:          cfg.Controller.DataDir,
		Store:            st,
		Bus:              bus,
		ConsolePortStart: cfg.Controller.ConsolePortStart,
		ConsolePortEnd:   cfg.Controller.ConsolePortEnd,
		UDPPortStart:     cfg.Controller.UDPPortStart,
		UDPPortEnd:       cfg.Controller.UDPPortEnd,
		BulkConcurrency:  cfg.Controller.BulkConcurrency,
		Images:           imageIndex,
	}

	// Snapshot mirroring (if enabled)
	if cfg.Backup.Enabled {
		mirror, err := backup.NewFromConfig(ctx, cfg.Backup)
		if err != nil {
			return fmt.Errorf("failed to initialize snapshot mirror: %w", err)
		}
		opts.Backup = mirror
		logger.Info("Snapshot mirroring enabled", logger.KeyBucket, cfg.Backup.Bucket)
	}

	ctrl, err := controller.New(opts)
	if err != nil {
		return fmt.Errorf("failed to create controller: %w", err)
	}
	if err := ctrl.Start(ctx); err != nil {
		return fmt.Errorf("failed to start controller: %w", err)
	}
	defer ctrl.Shutdown()

	if startLocal {
		if err := registerLocalCompute(ctx, ctrl); err != nil {
			return err
		}
	}

	apiServer := api.NewServer(cfg.API, ctrl, m, startLocal)
	logger.Info("API server configured", "port", apiServer.Port())

	// Write PID file if specified
	if pidFile != "" {
		if err := os.WriteFile(pidFile, []byte(fmt.Sprintf("%d", os.Getpid())), 0644); err != nil {
			return fmt.Errorf("failed to write PID file: %w", err)
		}
		defer func() { _ = os.Remove(pidFile) }()
	}

	serverDone := make(chan error, 1)
	go func() {
		serverDone <- apiServer.Start(ctx)
	}()
	if metricsServer != nil {
		go func() {
			if err := metricsServer.Start(ctx); err != nil {
				logger.Error("metrics server error", logger.KeyError, err)
			}
		}()
	}

	// Wait for interrupt signal or server error
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("Controller is running. Press Ctrl+C to stop.")

	select {
	case <-sigChan:
		signal.Stop(sigChan)
		logger.Info("Shutdown signal received, initiating graceful shutdown")
		cancel()

		if err := <-serverDone; err != nil {
			logger.Error("Server shutdown error", logger.KeyError, err)
			return &RuntimeError{Err: err}
		}
		logger.Info("Controller stopped gracefully")

	case err := <-serverDone:
		signal.Stop(sigChan)
		if err != nil {
			logger.Error("Server error", logger.KeyError, err)
			return &RuntimeError{Err: err}
		}
		logger.Info("Controller stopped")
	}

	return nil
}

// applyStartFlags overrides config values with explicitly set CLI flags.
func applyStartFlags(cmd *cobra.Command, cfg *config.Config) {
	if cmd.Flags().Changed("host") {
		cfg.API.Host = startHost
	}
	if cmd.Flags().Changed("port") {
		cfg.API.Port = startPort
	}
	if cmd.Flags().Changed("ssl") {
		cfg.API.SSL = startSSL
	}
	if cmd.Flags().Changed("certfile") {
		cfg.API.CertFile = startCertFile
	}
	if cmd.Flags().Changed("certkey") {
		cfg.API.CertKey = startCertKey
	}
}

// registerLocalCompute registers the compute agent running next to the
// controller. The "local" compute id is stable across restarts, so a
// previous registration is left as is.
func registerLocalCompute(ctx context.Context, ctrl *controller.Controller) error {
	_, err := ctrl.AddCompute(ctx, controller.ComputeRequest{
		ComputeID: "local",
		Name:      "local",
		Protocol:  "http",
		Host:      "127.0.0.1",
		Port:      3080,
	})
	if err != nil && !errors.Is(err, models.ErrDuplicateCompute) {
		return fmt.Errorf("failed to register local compute: %w", err)
	}
	return nil
}
