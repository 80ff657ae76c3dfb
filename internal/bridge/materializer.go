// Package bridge renders one bridge agent bundle per appchain, distributes it
// to the worker hosts and starts the bridge pods that mount it.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strconv"

	"github.com/moby/go-archive"

	"github.com/JYBWOB/k8s-for-zj/configs"
	"github.com/JYBWOB/k8s-for-zj/internal/cluster"
	"github.com/JYBWOB/k8s-for-zj/internal/logger"
	"github.com/JYBWOB/k8s-for-zj/internal/state"
	"github.com/JYBWOB/k8s-for-zj/internal/toolchain"
	"github.com/JYBWOB/k8s-for-zj/internal/topology"
)

type (
	Distributor interface {
		Distribute(ctx context.Context, localDir, remoteParent string) error
	}

	PodProvisioner interface {
		ProvisionBridge(ctx context.Context, namespace, name, hostDir, mountPath string) (cluster.Outcome, error)
	}
)

type Materializer struct {
	runner      toolchain.Runner
	pier        string
	cfg         configs.Bridge
	distributor Distributor
	pods        PodProvisioner
	logger      *slog.Logger
}

func NewMaterializer(runner toolchain.Runner, pier string, cfg configs.Bridge, distributor Distributor, pods PodProvisioner) *Materializer {
	return &Materializer{
		runner:      runner,
		pier:        pier,
		cfg:         cfg,
		distributor: distributor,
		pods:        pods,
		logger:      logger.Named("bridge_materializer"),
	}
}

// Execute materializes a bridge for every appchain of the resolved graph. A
// failing bridge does not stop its siblings; the pier document lists the
// bridges that were fully materialized and the failures are returned joined.
func (m *Materializer) Execute(ctx context.Context, run *state.Context, namespace string) (topology.Bridges, error) {
	graph, err := run.ResolvedGraph(ctx)
	if err != nil {
		return nil, err
	}

	deployment, err := run.Contracts(ctx)
	if err != nil {
		return nil, err
	}

	bridges := topology.Bridges{}
	var errs []error

	for i, node := range graph {
		for j, ip := range node.ChainIPs {
			name := topology.BridgeName(node.BridgeNamePrefix, j)

			appchain, ok := deployment[ip]
			if !ok {
				errs = append(errs, fmt.Errorf("bridge %s: no deployed contracts for appchain %s", name, ip))
				continue
			}

			bridge := topology.BridgeState{
				BridgeName:    name,
				RelayNodeRef:  node.ID,
				AppchainID:    appchain.AppchainID,
				BridgeAppName: topology.BridgeAppName(i, j),
				AppchainType:  topology.AppchainTypeETH,
				AppchainIP:    ip,
			}

			if err := m.materialize(ctx, namespace, topology.BridgeMountDir(i, j), node, appchain, bridge); err != nil {
				m.logger.With("bridge", name, "err", err.Error()).Error("bridge materialization failed")
				errs = append(errs, fmt.Errorf("bridge %s: %w", name, err))
				continue
			}

			bridges[name] = bridge
		}
	}

	if err := run.SaveBridges(ctx, bridges); err != nil {
		return bridges, errors.Join(append(errs, err)...)
	}

	m.logger.With("bridges", len(bridges), "failed", len(errs)).Info("bridges materialized")
	return bridges, errors.Join(errs...)
}

func (m *Materializer) materialize(ctx context.Context, namespace, mountDir string, node topology.RelayNodeState, appchain topology.AppchainState, bridge topology.BridgeState) error {
	dir := filepath.Join(m.cfg.BaseDir, mountDir)

	if err := m.Render(ctx, dir, node.IP, appchain); err != nil {
		return err
	}

	if err := m.distributor.Distribute(ctx, dir, m.cfg.BaseDir); err != nil {
		return fmt.Errorf("failed to distribute bundle: %w", err)
	}

	outcome, err := m.pods.ProvisionBridge(ctx, namespace, bridge.BridgeName, dir, m.cfg.MountPath)
	if err != nil {
		return err
	}

	m.logger.With("bridge", bridge.BridgeName, "appchain_id", bridge.AppchainID, "pod", outcome).Info("bridge materialized")
	return nil
}

// Render recreates dir as a bridge repo wired to the relay node at relayIP
// and to appchain.
func (m *Materializer) Render(ctx context.Context, dir, relayIP string, appchain topology.AppchainState) error {
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to clear '%s': %w", dir, err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create '%s': %w", dir, err)
	}

	if _, err := m.runner.Run(ctx, m.pier, "--repo="+dir, "init", "relay"); err != nil {
		return err
	}

	if err := copyDir(m.cfg.PluginsDir, filepath.Join(dir, "plugins")); err != nil {
		return fmt.Errorf("failed to copy plugins: %w", err)
	}
	connectorDir := filepath.Join(dir, m.cfg.ConnectorName)
	if err := copyDir(m.cfg.ConnectorDir, connectorDir); err != nil {
		return fmt.Errorf("failed to copy connector config: %w", err)
	}

	agent := AgentSettings{
		RelayAddrs:   RelayAddrs(relayIP, m.cfg.RelayBasePort),
		RelayTimeout: m.cfg.RelayTimeout,
		AppchainID:   appchain.AppchainID,
		Plugin:       m.cfg.Plugin,
		Connector:    m.cfg.ConnectorName,
	}
	if err := RewriteTOML(filepath.Join(dir, ConfigFile), agent.values()); err != nil {
		return err
	}

	connector := ConnectorSettings{
		WebsocketAddr:   "ws://" + net.JoinHostPort(appchain.IP, strconv.Itoa(m.cfg.WebsocketPort)),
		ContractAddress: appchain.BrokerAddr,
	}
	return RewriteTOML(filepath.Join(connectorDir, connectorConfigFile), connector.values())
}

// copyDir copies the contents of src into dst through a tar stream, keeping
// the caller's ownership on the copies.
func copyDir(src, dst string) error {
	stream, err := archive.TarWithOptions(src, &archive.TarOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = stream.Close() }()

	if err := os.MkdirAll(dst, 0o755); err != nil {
		return err
	}
	return archive.Untar(stream, dst, &archive.TarOptions{NoLchown: true})
}
