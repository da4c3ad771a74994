package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"vodarr/internal/config"
	"vodarr/internal/extractor"
	internalhttp "vodarr/internal/http"
	"vodarr/internal/http/handlers"
	"vodarr/internal/observability"
	"vodarr/internal/stream"
	"vodarr/internal/urlcache"
	"vodarr/internal/version"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the vodarr server",
	Long: `Start the vodarr HTTP server.

The server provides:
- /stream/{source} for proxied on-demand delivery
- /direct/{source} for redirect delivery via the platform CDN
- REST API for health, sessions, and source metadata
- OpenAPI documentation at /docs`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("host", "0.0.0.0", "Host to bind to")
	serveCmd.Flags().Int("port", 8674, "Port to listen on")
	serveCmd.Flags().String("extractor", "yt-dlp", "Path to the extractor binary")

	mustBindPFlag("server.host", serveCmd.Flags().Lookup("host"))
	mustBindPFlag("server.port", serveCmd.Flags().Lookup("port"))
	mustBindPFlag("extractor.binary_path", serveCmd.Flags().Lookup("extractor"))
}

// mustBindPFlag binds a viper key to a cobra flag and panics if binding
// fails.
func mustBindPFlag(key string, flag *pflag.Flag) {
	if err := viper.BindPFlag(key, flag); err != nil {
		panic(fmt.Sprintf("failed to bind flag %q to key %q: %v", flag.Name, key, err))
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	var cfg config.Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return fmt.Errorf("unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}

	logger := slog.Default()
	logger.Info("starting vodarr",
		slog.String("version", version.GetInfo().Version),
		slog.String("extractor", cfg.Extractor.BinaryPath),
	)

	registry := stream.NewRegistry(cfg.Stream.MaxSessions, logger)
	runner := stream.NewRunner(stream.RunnerConfig{
		BinaryPath:      cfg.Extractor.BinaryPath,
		KillGracePeriod: cfg.Extractor.KillGracePeriod,
		ChunkSize:       cfg.Stream.BufferChunkSize,
		BufferMaxBytes:  cfg.Stream.BufferMaxBytes,
	}, logger)
	invocations := extractor.NewInvocationSet(cfg.Extractor, cfg.Stream)
	cache := urlcache.New(cfg.Cache.DirectURLTTL, logger)

	server := internalhttp.NewServer(internalhttp.ServerConfig{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		ReadTimeout:     cfg.Server.ReadTimeout,
		IdleTimeout:     cfg.Server.IdleTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	}, logger, version.GetInfo().Version)

	streamHandler := handlers.NewStreamHandler(registry, runner, invocations, cache,
		cfg.Extractor.BinaryPath, logger)
	streamHandler.RegisterRoutes(server.Router())

	handlers.NewHealthHandler(registry, cache).Register(server.API())
	handlers.NewSessionsHandler(registry).Register(server.API())
	handlers.NewMetadataHandler(invocations, cfg.Extractor.BinaryPath).Register(server.API())

	var scheduler *cron.Cron
	if cfg.Maintenance.Enabled {
		scheduler = cron.New()
		maintLogger := observability.WithComponent(logger, "maintenance")
		_, err := scheduler.AddFunc(cfg.Maintenance.Schedule, func() {
			swept := cache.Sweep()
			reaped := registry.ReapIdle(cfg.Stream.SessionIdleTimeout)
			if swept > 0 || reaped > 0 {
				maintLogger.Info("maintenance pass",
					slog.Int("urls_swept", swept),
					slog.Int("sessions_reaped", reaped),
				)
			}
		})
		if err != nil {
			return fmt.Errorf("scheduling maintenance: %w", err)
		}
		scheduler.Start()
		logger.Info("maintenance scheduled",
			slog.String("schedule", cfg.Maintenance.Schedule),
		)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := server.ListenAndServe(ctx)

	if scheduler != nil {
		scheduler.Stop()
	}
	registry.Shutdown(cfg.Server.ShutdownTimeout)
	logger.Info("vodarr stopped")

	return err
}
