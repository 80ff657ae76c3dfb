package main

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/JYBWOB/k8s-for-zj/configs"
	"github.com/JYBWOB/k8s-for-zj/internal/logger"
	"github.com/JYBWOB/k8s-for-zj/internal/network"
)

const appName = "relaynet"

var rootCmd = &cobra.Command{
	Use:           appName,
	Short:         "CLI for orchestrating bitxhub relay-chain topologies on Kubernetes",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		logger.Initialize(slog.LevelInfo, logger.FormatJSON)

		if err := configs.RegisterDefaults(viper.GetViper()); err != nil {
			return err
		}

		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.SetEnvPrefix(strings.ToUpper(appName))
		viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
		viper.AutomaticEnv()

		if execPath, err := os.Executable(); err == nil {
			viper.AddConfigPath(filepath.Dir(execPath))
		}
		viper.AddConfigPath(".")
		viper.AddConfigPath("./configs")

		// A missing config file is fine; the embedded defaults and flags cover it.
		configErr := viper.ReadInConfig()
		var notFound viper.ConfigFileNotFoundError
		if configErr != nil && !errors.As(configErr, &notFound) {
			const errMsg = "error reading config file"
			slog.With("err", configErr.Error()).Error(errMsg)
			return errors.Join(configErr, errors.New(errMsg))
		}

		if err := viper.Unmarshal(&configs.Values); err != nil {
			const errMsg = "unable to decode application config"
			slog.With("err", err.Error()).Error(errMsg)
			return errors.Join(err, errors.New(errMsg))
		}

		logger.Initialize(logger.ParseLevel(configs.Values.Log.Level), configs.Values.Log.Format)
		if configErr != nil {
			slog.Debug("no config file found, using embedded defaults and flags")
		} else {
			slog.With("config_file", viper.ConfigFileUsed()).Debug("config file loaded")
		}

		return nil
	},
}

func main() {
	rootCmd.AddCommand(network.CMD)

	if err := rootCmd.Execute(); err != nil {
		slog.With("err", err.Error()).Error("failed to execute root command")
		os.Exit(1)
	}
}
