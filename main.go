package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"screencopy/adb"
	"screencopy/api"
	"screencopy/config"
	"screencopy/metrics"
	"screencopy/service"
)

var (
	configPath string
	addrFlag   string
	levelFlag  string
	screenshot bool
)

var rootCmd = &cobra.Command{
	Use:   "screencopy",
	Short: "Mirror the screen of a USB-attached Android device",
	Long: `screencopy discovers Android devices over ADB, pushes and launches the
scrcpy server on the one you pick and forwards its video stream to a
browser panel over a WebSocket bridge.`,
	Example: `  # Serve the UI bridge on :8080
  screencopy

  # Use another address and config file
  screencopy serve --addr :9000 --config ./screencopy.toml

  # List attached USB devices and exit
  screencopy devices`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd)
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP API and UI bridge",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd)
	},
}

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List USB-attached devices and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		setupConsoleLogging(cfg.Log.Level)

		client := adb.NewADBClient(cfg.ADB.Path)
		devices := service.NewDeviceManager(adb.NewUSBManager(client), nil)
		list, err := devices.ListDevices(cmd.Context())
		if err != nil {
			return err
		}
		if len(list) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No devices connected")
			return nil
		}
		for _, d := range list {
			fmt.Fprintf(cmd.OutOrStdout(), "%d\t%s\t%s\t%s\n", d.Index, d.Serial, d.Name, d.State)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", config.DefaultConfigPath,
		"Path to the TOML config file")
	rootCmd.PersistentFlags().StringVar(&levelFlag, "log-level", "",
		"Log level (debug, info, warn, error)")

	for _, cmd := range []*cobra.Command{rootCmd, serveCmd} {
		cmd.Flags().StringVar(&addrFlag, "addr", "", "HTTP listen address (overrides config)")
		cmd.Flags().BoolVar(&screenshot, "screenshot", false,
			"Make quick-info also capture a screenshot")
	}

	rootCmd.AddCommand(serveCmd, devicesCmd)
}

func loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return cfg, err
	}
	if addrFlag != "" {
		cfg.Server.Addr = addrFlag
	}
	if levelFlag != "" {
		cfg.Log.Level = levelFlag
	}
	if cmd.Flags().Changed("screenshot") {
		cfg.QuickInfo.CaptureScreenshot = screenshot
	}
	return cfg, nil
}

func parseLevel(level string) zerolog.Level {
	l, err := zerolog.ParseLevel(level)
	if err != nil || l == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return l
}

func setupConsoleLogging(level string) {
	zerolog.SetGlobalLevel(parseLevel(level))
	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05.000"}).
		With().Timestamp().Logger()
}

// setupLogging writes to the console and to a timestamped file in dir.
// Returns the log file handle (caller should defer Close())
func setupLogging(dir, level string) (*os.File, error) {
	setupConsoleLogging(level)

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	// log/2025-12-08_21-52-35.log
	timestamp := time.Now().Format("2006-01-02_15-04-05")
	logPath := filepath.Join(dir, timestamp+".log")

	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}

	console := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05.000"}
	var out io.Writer = zerolog.MultiLevelWriter(console, logFile)
	log.Logger = zerolog.New(out).With().Timestamp().Logger()

	log.Info().Str("path", logPath).Msg("📝 Logging to file")
	return logFile, nil
}

func runServe(cmd *cobra.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	logFile, err := setupLogging(cfg.Log.Dir, cfg.Log.Level)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to setup file logging")
	} else {
		defer logFile.Close()
	}

	log.Info().Msg("Starting screencopy...")

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := config.InitDatabase(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer db.Close()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	credentials := adb.NewFileCredentialStore(cfg.ADB.CredentialDir)
	client := adb.NewADBClient(cfg.ADB.Path)
	started, err := client.UseCredentials(ctx, credentials)
	if err != nil {
		return fmt.Errorf("failed to prepare ADB credentials: %w", err)
	}
	if !started {
		log.Warn().Msg("⚠️ adb server was already running; it uses its own keys until restarted (adb kill-server)")
	}

	deviceManager := service.NewDeviceManager(adb.NewUSBManager(client), m)
	streamingService := service.NewStreamingService(m)
	historyService := service.NewHistoryService(db)

	wsHub := api.NewWebSocketHub()
	go wsHub.Run(ctx)

	commands := service.NewCommands(service.CommandDeps{
		Window:    wsHub,
		Devices:   deviceManager,
		Connector: service.NewConnector(credentials, cfg.ADB.AuthTimeout.Duration, m),
		Deployer:  service.NewDeployer(cfg.Scrcpy.RemotePath),
		Launcher:  service.NewLauncher(cfg.Scrcpy.RemotePath, m),
		Streaming: streamingService,
		History:   historyService,
		Metrics:   m,
	}, service.CommandOptions{
		ServerBinaryPath:  cfg.Scrcpy.ServerPath,
		Scrcpy:            cfg.Scrcpy.Options,
		CaptureScreenshot: cfg.QuickInfo.CaptureScreenshot,
	})

	if parseLevel(cfg.Log.Level) > zerolog.DebugLevel {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	api.SetupRoutes(router, api.Dependencies{
		BaseContext: ctx,
		Devices:     deviceManager,
		Commands:    commands,
		Streaming:   streamingService,
		History:     historyService,
		Hub:         wsHub,
		Gatherer:    registry,
	})

	srv := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Msgf("Server starting on http://%s", cfg.Server.Addr)
		log.Info().Msgf("WebSocket bridge on ws://%s/ws", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Initial scan so GET /api/devices has something to show.
	go func() {
		if err := deviceManager.ScanDevices(ctx); err != nil {
			log.Warn().Err(err).Msg("Initial device scan failed")
		}
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("failed to start server: %w", err)
		}
	case <-ctx.Done():
	}

	log.Info().Msg("🛑 Shutting down...")
	streamingService.StopAllStreaming()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("Server shutdown did not complete")
	}
	// Running flows remove their forwards and write history before the
	// database closes.
	if err := commands.Wait(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("Commands still running at exit")
	}
	return nil
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		log.Error().Err(err).Msg("screencopy failed")
		os.Exit(1)
	}
}
