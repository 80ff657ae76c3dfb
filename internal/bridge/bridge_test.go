package bridge

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JYBWOB/k8s-for-zj/configs"
	"github.com/JYBWOB/k8s-for-zj/internal/cluster"
	"github.com/JYBWOB/k8s-for-zj/internal/state"
	"github.com/JYBWOB/k8s-for-zj/internal/topology"
)

const initialAgentConfig = `title = "pier"

[mode]
type = "relay"

[mode.relay]
addrs = ["localhost:60011"]
timeout_limit = "1s"
quota = 2

[mode.union]
addrs = ["localhost:60011"]
providers = 1

[appchain]
id = "appchain"
plugin = "appchain_plugin"
config = "fabric"
`

const initialConnectorConfig = `[ether]
addr = "wss://example.invalid/ws"
name = "ether-kovan"
contract_address = "0x0000000000000000000000000000000000000000"
abi_path = "broker.abi"
`

// initRunner imitates "pier --repo=<dir> init relay" by writing a default
// pier.toml into the repo dir.
type initRunner struct {
	calls [][]string
	fail  map[string]bool
}

func (r *initRunner) Run(_ context.Context, name string, args ...string) (string, error) {
	r.calls = append(r.calls, append([]string{name}, args...))

	dir := strings.TrimPrefix(args[0], "--repo=")
	if r.fail[filepath.Base(dir)] {
		return "", errors.New("pier init failed")
	}
	return "pier init success", os.WriteFile(filepath.Join(dir, ConfigFile), []byte(initialAgentConfig), 0o644)
}

type recordingDistributor struct {
	dirs []string
}

func (d *recordingDistributor) Distribute(_ context.Context, localDir, _ string) error {
	d.dirs = append(d.dirs, localDir)
	return nil
}

type recordingPods struct {
	pods map[string]string
}

func (p *recordingPods) ProvisionBridge(_ context.Context, _, name, hostDir, _ string) (cluster.Outcome, error) {
	p.pods[name] = hostDir
	return cluster.Created, nil
}

func testBridgeConfig(t *testing.T) configs.Bridge {
	t.Helper()

	assets := t.TempDir()
	plugins := filepath.Join(assets, "plugins")
	connector := filepath.Join(assets, "ether")
	require.NoError(t, os.MkdirAll(plugins, 0o755))
	require.NoError(t, os.MkdirAll(connector, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(plugins, "eth-client"), []byte("plugin"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(connector, connectorConfigFile), []byte(initialConnectorConfig), 0o644))

	return configs.Bridge{
		BaseDir:       t.TempDir(),
		PluginsDir:    plugins,
		ConnectorDir:  connector,
		ConnectorName: "ether",
		Plugin:        "eth-client",
		RelayBasePort: 60010,
		RelayTimeout:  "10s",
		WebsocketPort: 8546,
		MountPath:     "/root/.pier",
	}
}

func resolvedRun(t *testing.T) *state.Context {
	t.Helper()

	ctx := context.Background()
	run := state.NewContext(state.NewStore(state.NewLocalBackend(t.TempDir())), "testnet")
	require.NoError(t, run.SaveGraph(ctx, topology.Graph{
		{
			ID: "relay-0", BitxhubID: "1230", IP: "10.1.0.1",
			ChainNames: []string{"appchain-a", "appchain-b"}, ChainIPs: []string{"10.0.0.3", "10.0.0.4"},
			BridgeNamePrefix: "pier-0", AppchainCount: 2,
		},
		{
			ID: "relay-1", BitxhubID: "1231", IP: "10.1.0.2",
			ChainNames: []string{"appchain-c"}, ChainIPs: []string{"10.0.0.5"},
			BridgeNamePrefix: "pier-1", AppchainCount: 1,
		},
	}))
	require.NoError(t, run.SaveContracts(ctx, topology.ContractDeployment{
		"10.0.0.3": {IP: "10.0.0.3", AppchainID: "ethappchain0", RelayNodeID: "relay-0",
			BrokerAddr: "0x857133c5C69e6Ce66F7AD46F200B9B3573e77582", TransferAddr: "0x668a209Dc6562707469374B8235e37b8eC25db08"},
		"10.0.0.4": {IP: "10.0.0.4", AppchainID: "ethappchain1", RelayNodeID: "relay-0",
			BrokerAddr: "0xc7F999b83Af6DF9e67d0a37Ee7e900bF38b3D013", TransferAddr: "0x79a1215469FaB6f9c63c1816b45183AD3624bE34"},
		"10.0.0.5": {IP: "10.0.0.5", AppchainID: "ethappchain2", RelayNodeID: "relay-1",
			BrokerAddr: "0x97c8B516D19edBf575D72a172Af7F418BE498C37", TransferAddr: "0xc0Ff2e0b3189132D815b8eb325bE17285AC898f8"},
	}))
	return run
}

func readTOML(t *testing.T, path string) *viper.Viper {
	t.Helper()

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	require.NoError(t, v.ReadInConfig())
	return v
}

func TestRelayAddrs(t *testing.T) {
	t.Parallel()

	assert.Equal(t,
		[]string{"10.1.0.1:60011", "10.1.0.1:60012", "10.1.0.1:60013", "10.1.0.1:60014"},
		RelayAddrs("10.1.0.1", 60010))
}

func TestRewriteTOML_PreservesOtherKeys(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), ConfigFile)
	require.NoError(t, os.WriteFile(path, []byte(initialAgentConfig), 0o644))

	require.NoError(t, RewriteTOML(path, map[string]any{
		"mode.type":   "union",
		"appchain.id": "ethappchain7",
	}))

	v := readTOML(t, path)
	assert.Equal(t, "union", v.GetString("mode.type"))
	assert.Equal(t, "ethappchain7", v.GetString("appchain.id"))
	assert.Equal(t, 2, v.GetInt("mode.relay.quota"))
	assert.Equal(t, "pier", v.GetString("title"))
}

func TestRewriteTOML_MissingFile(t *testing.T) {
	t.Parallel()

	err := RewriteTOML(filepath.Join(t.TempDir(), "absent.toml"), map[string]any{"a": 1})
	assert.ErrorContains(t, err, "failed to read")
}

func TestRewriteTOML_PreservesKeyCase(t *testing.T) {
	t.Parallel()

	const connector = `[ether]
addr = "wss://example.invalid/ws"
contract_address = "0x0000000000000000000000000000000000000000"

[contract_abi]
"0x30c5D3aEb4681af4d13384DBc2a717C51cb1cc11" = "transfer.abi"
`
	path := filepath.Join(t.TempDir(), connectorConfigFile)
	require.NoError(t, os.WriteFile(path, []byte(connector), 0o600))

	require.NoError(t, RewriteTOML(path, map[string]any{"ether.addr": "ws://10.0.0.5:8546"}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	doc := map[string]any{}
	require.NoError(t, toml.Unmarshal(data, &doc))
	abis, ok := doc["contract_abi"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "transfer.abi", abis["0x30c5D3aEb4681af4d13384DBc2a717C51cb1cc11"])
	assert.Equal(t, "ws://10.0.0.5:8546", doc["ether"].(map[string]any)["addr"])

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestRewriteTOML_CreatesMissingTables(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), ConfigFile)
	require.NoError(t, os.WriteFile(path, []byte(initialAgentConfig), 0o644))

	require.NoError(t, RewriteTOML(path, map[string]any{
		"mode.union.connectors": []string{"/ip4/10.0.0.1/tcp/44555/p2p/x"},
		"tls.enable":            true,
	}))
	v := readTOML(t, path)
	assert.Equal(t, []string{"/ip4/10.0.0.1/tcp/44555/p2p/x"}, v.GetStringSlice("mode.union.connectors"))
	assert.True(t, v.GetBool("tls.enable"))
	assert.Equal(t, 1, v.GetInt("mode.union.providers"))

	err := RewriteTOML(path, map[string]any{"title.name": "pier"})
	assert.ErrorContains(t, err, "'title' is not a table")
}

func TestRender_WritesBridgeAndConnectorConfig(t *testing.T) {
	t.Parallel()

	cfg := testBridgeConfig(t)
	runner := &initRunner{}
	m := NewMaterializer(runner, "pier", cfg, &recordingDistributor{}, &recordingPods{pods: map[string]string{}})

	dir := filepath.Join(cfg.BaseDir, topology.BridgeMountDir(0, 1))
	appchain := topology.AppchainState{
		IP: "10.0.0.4", AppchainID: "ethappchain1", RelayNodeID: "relay-0",
		BrokerAddr: "0xc7F999b83Af6DF9e67d0a37Ee7e900bF38b3D013", TransferAddr: "0x79a1215469FaB6f9c63c1816b45183AD3624bE34",
	}
	require.NoError(t, m.Render(context.Background(), dir, "10.1.0.1", appchain))

	assert.Equal(t, []string{"pier", "--repo=" + dir, "init", "relay"}, runner.calls[0])
	assert.FileExists(t, filepath.Join(dir, "plugins", "eth-client"))

	agent := readTOML(t, filepath.Join(dir, ConfigFile))
	addrs := []string{"10.1.0.1:60011", "10.1.0.1:60012", "10.1.0.1:60013", "10.1.0.1:60014"}
	assert.Equal(t, addrs, agent.GetStringSlice("mode.relay.addrs"))
	assert.Equal(t, addrs, agent.GetStringSlice("mode.union.addrs"))
	assert.Equal(t, "10s", agent.GetString("mode.relay.timeout_limit"))
	assert.Equal(t, "ethappchain1", agent.GetString("appchain.id"))
	assert.Equal(t, "eth-client", agent.GetString("appchain.plugin"))
	assert.Equal(t, "ether", agent.GetString("appchain.config"))

	connector := readTOML(t, filepath.Join(dir, "ether", connectorConfigFile))
	assert.Equal(t, "ws://10.0.0.4:8546", connector.GetString("ether.addr"))
	assert.Equal(t, appchain.BrokerAddr, connector.GetString("ether.contract_address"))
	assert.Equal(t, "broker.abi", connector.GetString("ether.abi_path"))
}

func TestExecute_MaterializesEveryBridge(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	cfg := testBridgeConfig(t)
	run := resolvedRun(t)
	distributor := &recordingDistributor{}
	pods := &recordingPods{pods: map[string]string{}}

	bridges, err := NewMaterializer(&initRunner{}, "pier", cfg, distributor, pods).Execute(ctx, run, "testnet")
	require.NoError(t, err)
	require.Equal(t, []string{"pier-0-0", "pier-0-1", "pier-1-0"}, bridges.Names())

	assert.Equal(t, topology.BridgeState{
		BridgeName: "pier-1-0", RelayNodeRef: "relay-1", AppchainID: "ethappchain2",
		BridgeAppName: "eth10", AppchainType: topology.AppchainTypeETH, AppchainIP: "10.0.0.5",
	}, bridges["pier-1-0"])
	assert.Equal(t, filepath.Join(cfg.BaseDir, "mount_pier1_0"), pods.pods["pier-1-0"])
	assert.Len(t, distributor.dirs, 3)

	persisted, err := run.Bridges(ctx)
	require.NoError(t, err)
	assert.Equal(t, bridges, persisted)
}

func TestExecute_FailingBridgeDoesNotStopSiblings(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	cfg := testBridgeConfig(t)
	run := resolvedRun(t)
	runner := &initRunner{fail: map[string]bool{"mount_pier0_1": true}}
	pods := &recordingPods{pods: map[string]string{}}

	bridges, err := NewMaterializer(runner, "pier", cfg, &recordingDistributor{}, pods).Execute(ctx, run, "testnet")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pier-0-1")
	assert.Equal(t, []string{"pier-0-0", "pier-1-0"}, bridges.Names())
	assert.NotContains(t, pods.pods, "pier-0-1")

	persisted, err := run.Bridges(ctx)
	require.NoError(t, err)
	assert.Len(t, persisted, 2)
}

func TestExecute_RequiresContracts(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	run := state.NewContext(state.NewStore(state.NewLocalBackend(t.TempDir())), "testnet")
	require.NoError(t, run.SaveGraph(ctx, topology.Graph{{
		ID: "relay-0", BitxhubID: "1230", IP: "10.1.0.1",
		ChainNames: []string{"appchain-a"}, ChainIPs: []string{"10.0.0.3"},
		BridgeNamePrefix: "pier-0", AppchainCount: 1,
	}}))

	_, err := NewMaterializer(&initRunner{}, "pier", testBridgeConfig(t), &recordingDistributor{}, &recordingPods{pods: map[string]string{}}).
		Execute(ctx, run, "testnet")
	assert.ErrorIs(t, err, state.ErrStateNotFound)
}
