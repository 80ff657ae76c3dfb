package network

import (
	"time"

	"github.com/spf13/viper"

	"github.com/JYBWOB/k8s-for-zj/configs"
)

// flagDef defines a command-line flag with its configuration key.
type (
	flagType interface {
		string | int | bool | time.Duration
	}

	flagDef[T flagType] struct {
		name         string
		viperKey     string
		defaultValue T
		description  string
	}
)

// Keys of the run options. They are not part of configs.Config.
const (
	keyName        = "network.name"
	keyPhase       = "network.phase"
	keyInput       = "network.input"
	keyYes         = "network.yes"
	keyInteractive = "network.interactive"
)

var defaults = configs.MustDefaultConfig()

var (
	stringFlags = []flagDef[string]{
		// Run
		{"name", keyName, "", "Topology name, also used as the namespace"},
		{"phase", keyPhase, "", "Phase to run: " + phaseList()},
		{"input", keyInput, "", "Topology spec file (YAML or JSON) for the provision phase"},

		// Cluster and state
		{"kubeconfig", "cluster.kubeconfig", defaults.Cluster.Kubeconfig, "Path to the kubeconfig; empty uses the default loading rules"},
		{"state-backend", "state.backend", string(defaults.State.Backend), "Phase document backend (local or s3)"},
		{"state-dir", "state.dir", defaults.State.Dir, "Directory of the local phase document backend"},
		{"state-bucket", "state.bucket", defaults.State.Bucket, "Bucket of the s3 phase document backend"},

		// Tooling
		{"toolchain-mode", "toolchain.mode", string(defaults.Toolchain.Mode), "Where chain tools run (local or docker)"},
		{"toolchain-container", "toolchain.container", defaults.Toolchain.Container, "Tooling container name in docker mode"},
		{"bridge-base-dir", "bridge.base-dir", defaults.Bridge.BaseDir, "Host directory of rendered bridge repos"},
		{"federation-base-dir", "federation.base-dir", defaults.Federation.BaseDir, "Host directory of rendered union repos"},

		// Logging
		{"log-level", "log.level", defaults.Log.Level, "Log level (debug, info, warn, error)"},
		{"log-format", "log.format", defaults.Log.Format, "Log format (json or text)"},
	}

	intFlags = []flagDef[int]{
		{"federation-port", "federation.port", defaults.Federation.Port, "Port of the union p2p service"},
		{"ssh-port", "remote.port", defaults.Remote.Port, "SSH port of the worker hosts"},
	}

	// Polling bounds default to zero and are rejected unless configured.
	durationFlags = []flagDef[time.Duration]{
		{"resolver-interval", "resolver.interval", 0, "Interval between address resolution attempts (required)"},
		{"resolver-timeout", "resolver.timeout", 0, "Upper bound of address resolution (required)"},
		{"teardown-timeout", "cluster.teardown-timeout", 0, "Upper bound of namespace deletion (required)"},
	}

	boolFlags = []flagDef[bool]{
		{"yes", keyYes, false, "Approve destructive actions without asking"},
		{"interactive", keyInteractive, false, "Ask for confirmation on a terminal before destructive actions"},
		{"genesis", "provision.genesis.enabled", defaults.Provision.Genesis.Enabled, "Generate a funded appchain genesis"},
	}
)

func init() {
	if err := declareFlags(stringFlags); err != nil {
		panic(err)
	}
	if err := declareFlags(intFlags); err != nil {
		panic(err)
	}
	if err := declareFlags(durationFlags); err != nil {
		panic(err)
	}
	if err := declareFlags(boolFlags); err != nil {
		panic(err)
	}
}

// declareFlags declares multiple flags and binds them to viper configuration keys.
func declareFlags[T flagType](flags []flagDef[T]) error {
	for _, flag := range flags {
		if err := declareFlag(flag.name, flag.viperKey, flag.defaultValue, flag.description); err != nil {
			return err
		}
	}
	return nil
}

func declareFlag[T flagType](flagName, viperKey string, defaultValue T, description string) error {
	switch v := any(defaultValue).(type) {
	case string:
		CMD.Flags().String(flagName, v, description)
	case int:
		CMD.Flags().Int(flagName, v, description)
	case bool:
		CMD.Flags().Bool(flagName, v, description)
	case time.Duration:
		CMD.Flags().Duration(flagName, v, description)
	}
	return viper.BindPFlag(viperKey, CMD.Flags().Lookup(flagName))
}
