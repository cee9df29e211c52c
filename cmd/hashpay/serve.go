package main

import (
	"context"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Proton-105/hashpay/internal/app"
	"github.com/Proton-105/hashpay/internal/database"
	"github.com/Proton-105/hashpay/pkg/config"
)

var migrateOnStart bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "run the push server, broadcast scheduler, payout poller and admin API",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&migrateOnStart, "migrate", false, "apply database migrations before starting")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, v, log, err := loadConfig()
	if err != nil {
		return err
	}

	log.Info("starting hashpay",
		slog.String("env", cfg.AppEnv),
		slog.String("port", cfg.Server.Port),
		slog.String("ledger", cfg.Ledger.Backend),
		slog.Bool("database", cfg.Database.Enabled),
		slog.Bool("redis", cfg.Redis.Enabled),
	)

	if migrateOnStart && cfg.Database.Enabled {
		if err := migrate(ctx, cfg, log); err != nil {
			return err
		}
	}

	a, err := app.New(ctx, cfg, v, log)
	if err != nil {
		log.Error("failed to initialize", slog.Any("error", err))
		return err
	}

	if err := a.Run(ctx); err != nil {
		log.Error("hashpay stopped with error", slog.Any("error", err))
		return err
	}

	log.Info("hashpay stopped")
	return nil
}

func migrate(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	db, err := database.Open(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := db.Close(); cerr != nil {
			log.Warn("error closing database", slog.Any("error", cerr))
		}
	}()

	if err := database.NewMigrator(db, log).Apply(ctx, database.Migrations()); err != nil {
		return err
	}
	log.Info("database migrations applied")
	return nil
}
