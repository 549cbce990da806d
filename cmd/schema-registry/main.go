// Package main is the entry point for the schema registry.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/vectos/avro-schema-registry/internal/api"
	"github.com/vectos/avro-schema-registry/internal/compatibility"
	"github.com/vectos/avro-schema-registry/internal/config"
	"github.com/vectos/avro-schema-registry/internal/metrics"
	"github.com/vectos/avro-schema-registry/internal/registry"
	"github.com/vectos/avro-schema-registry/internal/storage"
	"github.com/vectos/avro-schema-registry/internal/storage/memory"
	"github.com/vectos/avro-schema-registry/internal/storage/postgres"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

var configPath string

func main() {
	rootCmd := &cobra.Command{
		Use:   "schema-registry",
		Short: "Avro schema registry server",
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to configuration file")

	rootCmd.AddCommand(serveCmd(), migrateCmd(), versionCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Printf("avro-schema-registry %s (commit: %s, built: %s)\n", version, commit, buildDate)
			return nil
		},
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations against the configured storage backend",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load configuration: %w", err)
			}
			if cfg.Storage.Type != "postgresql" {
				logger.Info("no migrations needed", slog.String("storage", cfg.Storage.Type))
				return nil
			}
			store, err := postgres.NewStore(cmd.Context(), postgresConfig(cfg))
			if err != nil {
				return fmt.Errorf("connect to postgresql: %w", err)
			}
			defer store.Close()
			logger.Info("migrations applied")
			return nil
		},
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the schema registry HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context())
		},
	}
}

func newLogger() *slog.Logger {
	logLevel := slog.LevelInfo
	if os.Getenv("SCHEMA_REGISTRY_LOG_LEVEL") == "debug" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)
	return logger
}

func serve(ctx context.Context) error {
	logger := newLogger()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	logger.Info("starting schema registry",
		slog.String("version", version),
		slog.String("storage", cfg.Storage.Type),
		slog.String("address", cfg.Address()),
	)

	store, err := createStorage(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("create storage backend: %w", err)
	}

	opts := registry.Options{
		AutoCreateSubjects:   cfg.Registry.AutoCreateSubjects,
		DefaultCompatibility: compatibility.Policy(cfg.Compatibility.DefaultLevel),
	}
	m := metrics.New()
	reg := registry.New(store, opts, logger, m)

	server := api.NewServer(cfg, reg, logger, m)

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Start()
	}()

	select {
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	case sig := <-shutdown:
		logger.Info("shutting down", slog.String("signal", sig.String()))

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown error", slog.String("error", err.Error()))
		}
		if err := store.Close(); err != nil {
			logger.Error("storage close error", slog.String("error", err.Error()))
		}
	}

	logger.Info("shutdown complete")
	return nil
}

func postgresConfig(cfg *config.Config) postgres.Config {
	return postgres.Config{
		URL:             cfg.Storage.PostgreSQL.URL,
		Host:            cfg.Storage.PostgreSQL.Host,
		Port:            cfg.Storage.PostgreSQL.Port,
		Database:        cfg.Storage.PostgreSQL.Database,
		User:            cfg.Storage.PostgreSQL.User,
		Password:        cfg.Storage.PostgreSQL.Password,
		SSLMode:         cfg.Storage.PostgreSQL.SSLMode,
		MaxOpenConns:    cfg.Storage.PostgreSQL.MaxOpenConns,
		MaxIdleConns:    cfg.Storage.PostgreSQL.MaxIdleConns,
		ConnMaxLifetime: cfg.Storage.PostgreSQL.ConnMaxLifetime,
	}
}

// createStorage creates the appropriate storage backend based on configuration.
func createStorage(ctx context.Context, cfg *config.Config, logger *slog.Logger) (storage.Store, error) {
	switch cfg.Storage.Type {
	case "memory":
		logger.Info("using in-memory storage")
		return memory.New(), nil

	case "postgresql":
		logger.Info("connecting to PostgreSQL",
			slog.String("host", cfg.Storage.PostgreSQL.Host),
			slog.Int("port", cfg.Storage.PostgreSQL.Port),
			slog.String("database", cfg.Storage.PostgreSQL.Database),
		)
		return postgres.NewStore(ctx, postgresConfig(cfg))

	default:
		return nil, fmt.Errorf("unknown storage type: %s", cfg.Storage.Type)
	}
}
