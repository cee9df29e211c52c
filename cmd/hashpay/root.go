package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Proton-105/hashpay/pkg/config"
	"github.com/Proton-105/hashpay/pkg/logger"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:           "hashpay",
	Short:         "mining telemetry fan-out and automatic payout service",
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file (default ./configs/$APP_ENV.yaml)")
}

// loadConfig reads the configuration selected by --config or APP_ENV and
// builds the logger from it.
func loadConfig() (*config.Config, *viper.Viper, *slog.Logger, error) {
	var (
		cfg *config.Config
		v   *viper.Viper
		err error
	)
	if configPath != "" {
		env := os.Getenv("APP_ENV")
		if env == "" {
			env = "development"
		}
		cfg, v, err = config.LoadFile(configPath, env)
	} else {
		cfg, v, err = config.Load()
	}
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load config: %w", err)
	}

	log := logger.New(*cfg)
	slog.SetDefault(log)
	return cfg, v, log, nil
}
