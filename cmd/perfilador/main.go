package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/datalupa/perfilador/internal/app"
	"github.com/datalupa/perfilador/internal/common"
	"github.com/datalupa/perfilador/internal/server"
	"github.com/datalupa/perfilador/internal/workers"
)

// configPaths is a custom flag type that allows multiple -config flags
type configPaths []string

func (c *configPaths) String() string {
	return fmt.Sprintf("%v", *c)
}

func (c *configPaths) Set(value string) error {
	*c = append(*c, value)
	return nil
}

var (
	configFiles  configPaths
	workerMode   = flag.String("worker", "", "Run as a queue worker instead of the HTTP server: discovery or profile")
	serverPort   = flag.Int("port", 0, "Server port (overrides config)")
	serverPortP  = flag.Int("p", 0, "Server port (shorthand, overrides config)")
	serverHost   = flag.String("host", "", "Server host (overrides config)")
	showVersion  = flag.Bool("version", false, "Print version information")
	showVersionV = flag.Bool("v", false, "Print version information (shorthand)")

	config *common.Config
	logger arbor.ILogger
)

func init() {
	flag.Var(&configFiles, "config", "Configuration file path (can be specified multiple times, later files override earlier ones)")
	flag.Var(&configFiles, "c", "Configuration file path (shorthand)")
}

func main() {
	common.InstallCrashHandler("logs")
	defer common.RecoverWithCrashFile()

	flag.Parse()

	if *showVersion || *showVersionV {
		fmt.Printf("Perfilador version %s\n", common.GetVersion())
		os.Exit(0)
	}

	finalPort := *serverPort
	if *serverPortP != 0 {
		finalPort = *serverPortP
	}

	// Startup sequence: config (defaults -> files -> env -> CLI), then
	// logger, then banner, then the application.
	if len(configFiles) == 0 {
		if _, err := os.Stat("perfilador.toml"); err == nil {
			configFiles = append(configFiles, "perfilador.toml")
		} else if _, err := os.Stat("deployments/local/perfilador.toml"); err == nil {
			configFiles = append(configFiles, "deployments/local/perfilador.toml")
		}
	}

	var err error
	config, err = common.LoadFromFiles(nil, configFiles...)
	if err != nil {
		tempLogger := arbor.NewLogger()
		tempLogger.Fatal().Strs("paths", configFiles).Err(err).Msg("Failed to load configuration")
		os.Exit(1)
	}

	common.ApplyFlagOverrides(config, finalPort, *serverHost)

	if err := config.Validate(); err != nil {
		tempLogger := arbor.NewLogger()
		tempLogger.Fatal().Err(err).Msg("Invalid configuration")
		os.Exit(1)
	}

	logger = common.SetupLogger(config)
	common.PrintBanner(common.GetVersion())

	logger.Info().
		Strs("config_files", configFiles).
		Str("log_level", config.Logging.Level).
		Msg("Application configuration loaded")

	// Root context cancelled by SIGINT/SIGTERM; workers drain on it.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, config, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize application")
		os.Exit(1)
	}
	defer application.Close()

	switch *workerMode {
	case "":
		runServer(ctx, application)
	case "discovery", "profile":
		runWorker(ctx, application, *workerMode)
	default:
		logger.Fatal().Str("worker", *workerMode).Msg("Unknown worker mode (expected discovery or profile)")
		os.Exit(1)
	}
}

func runServer(ctx context.Context, application *app.App) {
	srv := server.New(application)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Fatal().Str("panic", fmt.Sprintf("%v", r)).Msg("Server goroutine panicked")
			}
		}()

		if err := srv.Start(); err != nil {
			logger.Fatal().Err(err).Msg("Server failed to start")
		}
	}()

	logger.Info().
		Str("url", fmt.Sprintf("http://%s:%d", config.Server.Host, config.Server.Port)).
		Msg("Server ready - Press Ctrl+C to stop")

	<-ctx.Done()
	logger.Info().Msg("Shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Server shutdown failed")
	}

	logger.Info().Msg("Server stopped")
}

func runWorker(ctx context.Context, application *app.App, mode string) {
	var worker *workers.Worker
	switch mode {
	case "discovery":
		worker = workers.NewWorker(
			application.DiscoveryQueue,
			application.DiscoveryRunner.Run,
			workers.DiscoveryWorkerID(),
			config.Queue,
			logger,
		)
	case "profile":
		worker = workers.NewWorker(
			application.ProfileQueue,
			application.ProfileRunner.Run,
			workers.ProfileWorkerID(),
			config.Queue,
			logger,
		)
	}

	sweeper := workers.NewSweeper(
		[]workers.StaleQueue{application.DiscoveryQueue, application.ProfileQueue},
		config.Queue,
		logger,
	)
	if err := sweeper.Start(); err != nil {
		logger.Fatal().Err(err).Msg("Failed to start stale-lock sweeper")
		os.Exit(1)
	}
	defer sweeper.Stop()

	logger.Info().Str("mode", mode).Msg("Worker ready - Press Ctrl+C to stop")

	if err := worker.Run(ctx); err != nil {
		logger.Error().Err(err).Msg("Worker stopped with error")
		return
	}

	logger.Info().Msg("Worker stopped")
}
