package configs

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig_SectionsValidate(t *testing.T) {
	t.Parallel()

	cfg, err := DefaultConfig()
	require.NoError(t, err)

	assert.Equal(t, []string{"10.206.0.7"}, cfg.Remote.ExcludeHosts)
	assert.Len(t, cfg.Contracts.Validators, 4)
	assert.Len(t, cfg.Registration.QuorumRepos, 3)

	cfg.Cluster.TeardownTimeout = time.Minute
	cfg.Resolver = Resolver{Interval: time.Second, Timeout: time.Minute}
	assert.NoError(t, cfg.Cluster.Validate())
	assert.NoError(t, cfg.Resolver.Validate())
	assert.NoError(t, cfg.State.Validate())
	assert.NoError(t, cfg.Toolchain.Validate())
	assert.NoError(t, cfg.Provision.Validate())
	assert.NoError(t, cfg.Contracts.Validate())
	assert.NoError(t, cfg.Bridge.Validate())
	assert.NoError(t, cfg.Registration.Validate())
	assert.NoError(t, cfg.Federation.Validate())
}

func TestDefaultConfig_RemoteNeedsCredentials(t *testing.T) {
	t.Parallel()

	cfg := MustDefaultConfig()
	err := cfg.Remote.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "remote.password or remote.private-key-path")

	cfg.Remote.Password = "secret"
	assert.NoError(t, cfg.Remote.Validate())
}

func TestResolverValidate_RequiresBound(t *testing.T) {
	t.Parallel()

	err := (&Resolver{}).Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "resolver.interval is required")
	assert.Contains(t, err.Error(), "resolver.timeout is required")

	err = (&Resolver{Interval: time.Minute, Timeout: time.Second}).Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must not exceed")
}

func TestStateValidate_Backends(t *testing.T) {
	t.Parallel()

	assert.NoError(t, (&State{Backend: StateBackendLocal, Dir: "state"}).Validate())
	assert.Error(t, (&State{Backend: StateBackendS3}).Validate())
	assert.NoError(t, (&State{Backend: StateBackendS3, Bucket: "b", Region: "eu-central-1"}).Validate())
	assert.Error(t, (&State{Backend: "etcd"}).Validate())
}

func TestContractsValidate_RejectsBadAddress(t *testing.T) {
	t.Parallel()

	cfg := MustDefaultConfig().Contracts
	cfg.Admins = []string{"0x1234"}

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "'0x1234' is not a hex address")
}

func TestRegisterDefaults(t *testing.T) {
	t.Parallel()

	v := viper.New()
	require.NoError(t, RegisterDefaults(v))
	v.Set("resolver.interval", "5s")

	var cfg Config
	require.NoError(t, v.Unmarshal(&cfg))
	assert.Equal(t, 5*time.Second, cfg.Resolver.Interval)
	assert.Equal(t, "eth-client", cfg.Bridge.Plugin)
}

func TestRegisterDefaults_LeavesPollingBoundsUnset(t *testing.T) {
	t.Parallel()

	v := viper.New()
	require.NoError(t, RegisterDefaults(v))

	var cfg Config
	require.NoError(t, v.Unmarshal(&cfg))
	assert.Zero(t, cfg.Resolver.Interval)
	assert.Zero(t, cfg.Resolver.Timeout)
	assert.Zero(t, cfg.Cluster.TeardownTimeout)

	err := cfg.Resolver.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "resolver.interval is required")
	assert.Contains(t, err.Error(), "resolver.timeout is required")
	assert.ErrorContains(t, cfg.Cluster.Validate(), "cluster.teardown-timeout is required")
}

func TestRegistrationValidate_RequiresRelayBinary(t *testing.T) {
	t.Parallel()

	cfg := MustDefaultConfig().Registration
	require.NoError(t, cfg.Validate())

	cfg.RelayBinary = ""
	cfg.RelayBinaryDir = ""
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "registration.relay-binary is required")
	assert.Contains(t, err.Error(), "registration.relay-binary-dir is required")
}
