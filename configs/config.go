package configs

import (
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

var Values Config

type (
	StateBackend  string
	ToolchainMode string

	Config struct {
		Log          Log          `mapstructure:"log"`
		Cluster      Cluster      `mapstructure:"cluster"`
		Resolver     Resolver     `mapstructure:"resolver"`
		State        State        `mapstructure:"state"`
		Toolchain    Toolchain    `mapstructure:"toolchain"`
		Provision    Provision    `mapstructure:"provision"`
		Contracts    Contracts    `mapstructure:"contracts"`
		Bridge       Bridge       `mapstructure:"bridge"`
		Remote       Remote       `mapstructure:"remote"`
		Registration Registration `mapstructure:"registration"`
		Federation   Federation   `mapstructure:"federation"`
	}

	Log struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"`
	}

	Cluster struct {
		Kubeconfig      string        `mapstructure:"kubeconfig"`
		TeardownTimeout time.Duration `mapstructure:"teardown-timeout"`
		ExecTimeout     time.Duration `mapstructure:"exec-timeout"`
	}

	Resolver struct {
		Interval time.Duration `mapstructure:"interval"`
		Timeout  time.Duration `mapstructure:"timeout"`
	}

	State struct {
		Backend   StateBackend `mapstructure:"backend"`
		Dir       string       `mapstructure:"dir"`
		Bucket    string       `mapstructure:"bucket"`
		Prefix    string       `mapstructure:"prefix"`
		Region    string       `mapstructure:"region"`
		Endpoint  string       `mapstructure:"endpoint"`
		AccessKey string       `mapstructure:"access-key"`
		SecretKey string       `mapstructure:"secret-key"`
	}

	Toolchain struct {
		Mode      ToolchainMode `mapstructure:"mode"`
		Container string        `mapstructure:"container"`
		Timeout   time.Duration `mapstructure:"timeout"`
		Goduck    string        `mapstructure:"goduck"`
		Pier      string        `mapstructure:"pier"`
	}

	Provision struct {
		Images   Images   `mapstructure:"images"`
		Identity Identity `mapstructure:"identity"`
		Genesis  Genesis  `mapstructure:"genesis"`
	}

	Images struct {
		Relay      string `mapstructure:"relay"`
		Appchain   string `mapstructure:"appchain"`
		Bridge     string `mapstructure:"bridge"`
		Federation string `mapstructure:"federation"`
	}

	Identity struct {
		RootSecret      string `mapstructure:"root-secret"`
		SatelliteSecret string `mapstructure:"satellite-secret"`
		MountPath       string `mapstructure:"mount-path"`
	}

	Genesis struct {
		Enabled  bool  `mapstructure:"enabled"`
		Accounts int   `mapstructure:"accounts"`
		ChainID  int64 `mapstructure:"chain-id"`
	}

	Contracts struct {
		BrokerCodePath   string   `mapstructure:"broker-code-path"`
		TransferCodePath string   `mapstructure:"transfer-code-path"`
		BrokerABIPath    string   `mapstructure:"broker-abi-path"`
		KeyPath          string   `mapstructure:"key-path"`
		Validators       []string `mapstructure:"validators"`
		Admins           []string `mapstructure:"admins"`
		RPCPort          int      `mapstructure:"rpc-port"`
		WaitForRPC       bool     `mapstructure:"wait-for-rpc"`
	}

	Bridge struct {
		BaseDir       string `mapstructure:"base-dir"`
		PluginsDir    string `mapstructure:"plugins-dir"`
		ConnectorDir  string `mapstructure:"connector-dir"`
		ConnectorName string `mapstructure:"connector-name"`
		Plugin        string `mapstructure:"plugin"`
		RelayBasePort int    `mapstructure:"relay-base-port"`
		RelayTimeout  string `mapstructure:"relay-timeout"`
		WebsocketPort int    `mapstructure:"websocket-port"`
		MountPath     string `mapstructure:"mount-path"`
	}

	Remote struct {
		User           string        `mapstructure:"user"`
		Password       string        `mapstructure:"password"`
		PrivateKeyPath string        `mapstructure:"private-key-path"`
		Port           int           `mapstructure:"port"`
		ExcludeHosts   []string      `mapstructure:"exclude-hosts"`
		Timeout        time.Duration `mapstructure:"timeout"`
		DialRetries    int           `mapstructure:"dial-retries"`
	}

	Registration struct {
		RelayBinary    string   `mapstructure:"relay-binary"`
		RelayBinaryDir string   `mapstructure:"relay-binary-dir"`
		FundKey        string   `mapstructure:"fund-key"`
		FundAmount     string   `mapstructure:"fund-amount"`
		QuorumRepos    []string `mapstructure:"quorum-repos"`
		MasterRule     string   `mapstructure:"master-rule"`
		RuleURL        string   `mapstructure:"rule-url"`
		Trustroot      string   `mapstructure:"trustroot"`
	}

	Federation struct {
		BaseDir     string `mapstructure:"base-dir"`
		Port        int    `mapstructure:"port"`
		RelayBroker string `mapstructure:"relay-broker"`
		Trustroot   string `mapstructure:"trustroot"`
	}
)

const (
	StateBackendLocal StateBackend = "local"
	StateBackendS3    StateBackend = "s3"

	ToolchainModeLocal  ToolchainMode = "local"
	ToolchainModeDocker ToolchainMode = "docker"
)

func (c *Cluster) Validate() error {
	var errs []error

	if c.TeardownTimeout <= 0 {
		errs = append(errs, errors.New("cluster.teardown-timeout is required"))
	}
	if c.ExecTimeout <= 0 {
		errs = append(errs, errors.New("cluster.exec-timeout is required"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("cluster configuration validation failed: %w", errors.Join(errs...))
	}

	return nil
}

// Validate enforces an explicit polling bound; there is no built-in default.
func (c *Resolver) Validate() error {
	var errs []error

	if c.Interval <= 0 {
		errs = append(errs, errors.New("resolver.interval is required"))
	}
	if c.Timeout <= 0 {
		errs = append(errs, errors.New("resolver.timeout is required"))
	}
	if c.Interval > 0 && c.Timeout > 0 && c.Interval > c.Timeout {
		errs = append(errs, errors.New("resolver.interval must not exceed resolver.timeout"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("resolver configuration validation failed: %w", errors.Join(errs...))
	}

	return nil
}

func (c *State) Validate() error {
	var errs []error

	switch c.Backend {
	case StateBackendLocal, "":
		if c.Dir == "" {
			errs = append(errs, errors.New("state.dir is required for the local backend"))
		}
	case StateBackendS3:
		if c.Bucket == "" {
			errs = append(errs, errors.New("state.bucket is required for the s3 backend"))
		}
		if c.Region == "" {
			errs = append(errs, errors.New("state.region is required for the s3 backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("state.backend must be either '%s' or '%s'", StateBackendLocal, StateBackendS3))
	}

	if len(errs) > 0 {
		return fmt.Errorf("state configuration validation failed: %w", errors.Join(errs...))
	}

	return nil
}

func (c *Toolchain) Validate() error {
	var errs []error

	if c.Timeout <= 0 {
		errs = append(errs, errors.New("toolchain.timeout is required"))
	}
	switch c.Mode {
	case ToolchainModeLocal, "":
	case ToolchainModeDocker:
		if c.Container == "" {
			errs = append(errs, errors.New("toolchain.container is required in docker mode"))
		}
	default:
		errs = append(errs, fmt.Errorf("toolchain.mode must be either '%s' or '%s'", ToolchainModeLocal, ToolchainModeDocker))
	}
	if c.Goduck == "" {
		errs = append(errs, errors.New("toolchain.goduck is required"))
	}
	if c.Pier == "" {
		errs = append(errs, errors.New("toolchain.pier is required"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("toolchain configuration validation failed: %w", errors.Join(errs...))
	}

	return nil
}

func (c *Provision) Validate() error {
	var errs []error

	if c.Images.Relay == "" {
		errs = append(errs, errors.New("provision.images.relay is required"))
	}
	if c.Images.Appchain == "" {
		errs = append(errs, errors.New("provision.images.appchain is required"))
	}
	if c.Identity.RootSecret == "" || c.Identity.SatelliteSecret == "" {
		errs = append(errs, errors.New("provision.identity.root-secret and provision.identity.satellite-secret are required"))
	} else if c.Identity.RootSecret == c.Identity.SatelliteSecret {
		errs = append(errs, errors.New("provision.identity.root-secret must differ from provision.identity.satellite-secret"))
	}
	if c.Identity.MountPath == "" {
		errs = append(errs, errors.New("provision.identity.mount-path is required"))
	}
	if c.Genesis.Enabled && c.Genesis.Accounts < 1 {
		errs = append(errs, errors.New("provision.genesis.accounts must be at least 1 when genesis is enabled"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("provision configuration validation failed: %w", errors.Join(errs...))
	}

	return nil
}

func (c *Contracts) Validate() error {
	var errs []error

	if c.BrokerCodePath == "" {
		errs = append(errs, errors.New("contracts.broker-code-path is required"))
	}
	if c.TransferCodePath == "" {
		errs = append(errs, errors.New("contracts.transfer-code-path is required"))
	}
	if c.BrokerABIPath == "" {
		errs = append(errs, errors.New("contracts.broker-abi-path is required"))
	}
	if c.KeyPath == "" {
		errs = append(errs, errors.New("contracts.key-path is required"))
	}
	if c.RPCPort == 0 {
		errs = append(errs, errors.New("contracts.rpc-port is required"))
	}
	if len(c.Validators) == 0 {
		errs = append(errs, errors.New("contracts.validators is required"))
	}
	for _, addr := range append(append([]string{}, c.Validators...), c.Admins...) {
		if !common.IsHexAddress(addr) {
			errs = append(errs, fmt.Errorf("contracts: '%s' is not a hex address", addr))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("contracts configuration validation failed: %w", errors.Join(errs...))
	}

	return nil
}

func (c *Bridge) Validate() error {
	var errs []error

	if c.BaseDir == "" {
		errs = append(errs, errors.New("bridge.base-dir is required"))
	}
	if c.PluginsDir == "" {
		errs = append(errs, errors.New("bridge.plugins-dir is required"))
	}
	if c.ConnectorDir == "" {
		errs = append(errs, errors.New("bridge.connector-dir is required"))
	}
	if c.ConnectorName == "" {
		errs = append(errs, errors.New("bridge.connector-name is required"))
	}
	if c.Plugin == "" {
		errs = append(errs, errors.New("bridge.plugin is required"))
	}
	if c.RelayBasePort <= 0 {
		errs = append(errs, errors.New("bridge.relay-base-port is required"))
	}
	if c.WebsocketPort == 0 {
		errs = append(errs, errors.New("bridge.websocket-port is required"))
	}
	if c.MountPath == "" {
		errs = append(errs, errors.New("bridge.mount-path is required"))
	}
	if _, err := time.ParseDuration(c.RelayTimeout); err != nil {
		errs = append(errs, fmt.Errorf("bridge.relay-timeout is invalid: %w", err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("bridge configuration validation failed: %w", errors.Join(errs...))
	}

	return nil
}

func (c *Remote) Validate() error {
	var errs []error

	if c.User == "" {
		errs = append(errs, errors.New("remote.user is required"))
	}
	if c.Password == "" && c.PrivateKeyPath == "" {
		errs = append(errs, errors.New("either remote.password or remote.private-key-path is required"))
	}
	if c.Timeout <= 0 {
		errs = append(errs, errors.New("remote.timeout is required"))
	}
	if c.DialRetries < 0 {
		errs = append(errs, errors.New("remote.dial-retries must not be negative"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("remote configuration validation failed: %w", errors.Join(errs...))
	}

	return nil
}

func (c *Registration) Validate() error {
	var errs []error

	if c.RelayBinary == "" {
		errs = append(errs, errors.New("registration.relay-binary is required"))
	}
	if c.RelayBinaryDir == "" {
		errs = append(errs, errors.New("registration.relay-binary-dir is required"))
	}

	if c.FundKey == "" {
		errs = append(errs, errors.New("registration.fund-key is required"))
	}
	if c.FundAmount == "" {
		errs = append(errs, errors.New("registration.fund-amount is required"))
	}
	if len(c.QuorumRepos) == 0 {
		errs = append(errs, errors.New("registration.quorum-repos is required"))
	}
	if !common.IsHexAddress(c.MasterRule) {
		errs = append(errs, errors.New("registration.master-rule must be a hex address"))
	}
	if c.Trustroot == "" {
		errs = append(errs, errors.New("registration.trustroot is required"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("registration configuration validation failed: %w", errors.Join(errs...))
	}

	return nil
}

func (c *Federation) Validate() error {
	var errs []error

	if c.BaseDir == "" {
		errs = append(errs, errors.New("federation.base-dir is required"))
	}
	if c.Port == 0 {
		errs = append(errs, errors.New("federation.port is required"))
	}
	if c.Trustroot == "" {
		errs = append(errs, errors.New("federation.trustroot is required"))
	}
	if c.RelayBroker != "" && !common.IsHexAddress(c.RelayBroker) {
		errs = append(errs, errors.New("federation.relay-broker must be a hex address"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("federation configuration validation failed: %w", errors.Join(errs...))
	}

	return nil
}
