// Package network exposes the relaynet phases as a single command; one
// invocation runs one phase against one topology.
package network

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/JYBWOB/k8s-for-zj/configs"
)

var CMD = &cobra.Command{
	Use:   "network",
	Short: "Run one orchestration phase of a relay-chain topology",
	Example: `  relaynet network --name testnet --phase provision --input topology.yaml
  relaynet network --name testnet --phase resolve-and-deploy-contracts`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		opts := Options{
			Topology:    viper.GetString(keyName),
			Phase:       Phase(viper.GetString(keyPhase)),
			Input:       viper.GetString(keyInput),
			AssumeYes:   viper.GetBool(keyYes),
			Interactive: viper.GetBool(keyInteractive),
		}

		service, err := NewService(cmd.Context(), cfg, opts)
		if err != nil {
			return err
		}
		defer service.Close()

		if err := service.Execute(cmd.Context()); err != nil {
			return err
		}

		slog.With("topology", opts.Topology, "phase", opts.Phase).Info("network command finished")
		return nil
	},
}

func loadConfig() (configs.Config, error) {
	// Re-unmarshal to include flag overrides.
	if err := viper.Unmarshal(&configs.Values); err != nil {
		return configs.Config{}, fmt.Errorf("failed to unmarshal config with flag overrides: %w", err)
	}
	return configs.Values, nil
}
