package toolchain

import (
	"context"
	"testing"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JYBWOB/k8s-for-zj/configs"
)

func TestLocalRunner_Output(t *testing.T) {
	t.Parallel()

	output, err := NewLocalRunner(5*time.Second).Run(context.Background(), "sh", "-c", "echo deployed 0x857133c5C69e6Ce66F7AD46F200B9B3573e77582")
	require.NoError(t, err)
	assert.Contains(t, output, "0x857133c5C69e6Ce66F7AD46F200B9B3573e77582")
}

func TestLocalRunner_FailureKeepsOutput(t *testing.T) {
	t.Parallel()

	output, err := NewLocalRunner(5*time.Second).Run(context.Background(), "sh", "-c", "echo partial; exit 3")
	require.ErrorIs(t, err, ErrExternalTool)
	assert.Contains(t, output, "partial")
	assert.Contains(t, err.Error(), "sh -c")
}

func TestLocalRunner_Timeout(t *testing.T) {
	t.Parallel()

	start := time.Now()
	_, err := NewLocalRunner(50*time.Millisecond).Run(context.Background(), "sleep", "5")
	require.ErrorIs(t, err, ErrExternalTool)
	assert.Contains(t, err.Error(), "timed out")
	assert.Less(t, time.Since(start), 4*time.Second)
}

func TestLocalRunner_MissingBinary(t *testing.T) {
	t.Parallel()

	_, err := NewLocalRunner(time.Second).Run(context.Background(), "relaynet-no-such-tool")
	assert.ErrorIs(t, err, ErrExternalTool)
}

func TestNew_Modes(t *testing.T) {
	t.Parallel()

	runner, err := New(configs.Toolchain{Mode: configs.ToolchainModeLocal, Timeout: time.Second})
	require.NoError(t, err)
	assert.IsType(t, &LocalRunner{}, runner)

	_, err = New(configs.Toolchain{Mode: "ssh"})
	assert.ErrorContains(t, err, "unknown toolchain mode")
}

func TestNew_DockerKeepsSharedDirs(t *testing.T) {
	t.Parallel()

	runner, err := New(configs.Toolchain{Mode: configs.ToolchainModeDocker, Container: "tools", Timeout: time.Second}, "/data/relaynet")
	require.NoError(t, err)
	docker, ok := runner.(*DockerRunner)
	require.True(t, ok)
	defer func() { _ = docker.Close() }()

	assert.Equal(t, []string{"/data/relaynet"}, docker.shared)
}

func TestUnsharedDirs(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mounts  []container.MountPoint
		dirs    []string
		missing []string
	}{
		{
			name:   "identical bind mount",
			mounts: []container.MountPoint{{Source: "/data/relaynet", Destination: "/data/relaynet"}},
			dirs:   []string{"/data/relaynet"},
		},
		{
			name:   "parent mounted",
			mounts: []container.MountPoint{{Source: "/data", Destination: "/data/"}},
			dirs:   []string{"/data/relaynet/union"},
		},
		{
			name:    "mounted elsewhere",
			mounts:  []container.MountPoint{{Source: "/data/relaynet", Destination: "/root/.pier"}},
			dirs:    []string{"/data/relaynet"},
			missing: []string{"/data/relaynet"},
		},
		{
			name:    "sibling prefix",
			mounts:  []container.MountPoint{{Source: "/data/relay", Destination: "/data/relay"}},
			dirs:    []string{"/data/relaynet"},
			missing: []string{"/data/relaynet"},
		},
		{
			name:    "no mounts",
			dirs:    []string{"/data/bridges", "", "/data/union"},
			missing: []string{"/data/bridges", "/data/union"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.missing, unsharedDirs(tt.mounts, tt.dirs))
		})
	}
}

func TestDockerRunner_Expand(t *testing.T) {
	t.Parallel()

	runner := &DockerRunner{}
	assert.Equal(t, "$HOME/goduck/broker.sol", runner.Expand("$HOME/goduck/broker.sol"))

	runner.env = []string{"HOME=/root", "PATH=/usr/bin", "BROKEN"}
	assert.Equal(t, "/root/goduck/broker.sol", runner.Expand("$HOME/goduck/broker.sol"))
	assert.Equal(t, "/root/goduck/broker.sol", ExpandPath(runner, "${HOME}/goduck/broker.sol"))
	assert.Equal(t, "/goduck", runner.Expand("$UNSET/goduck"))
}

func TestExpandPath_LocalUsesHostEnv(t *testing.T) {
	t.Setenv("RELAYNET_TOOLS", "/opt/tools")

	assert.Equal(t, "/opt/tools/broker.sol", ExpandPath(NewLocalRunner(time.Second), "$RELAYNET_TOOLS/broker.sol"))
}
