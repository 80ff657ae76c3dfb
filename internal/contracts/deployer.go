// Package contracts deploys the broker and transfer contracts onto every
// appchain of a resolved graph with the goduck tool.
package contracts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/JYBWOB/k8s-for-zj/configs"
	"github.com/JYBWOB/k8s-for-zj/internal/chain"
	"github.com/JYBWOB/k8s-for-zj/internal/logger"
	"github.com/JYBWOB/k8s-for-zj/internal/retry"
	"github.com/JYBWOB/k8s-for-zj/internal/state"
	"github.com/JYBWOB/k8s-for-zj/internal/toolchain"
	"github.com/JYBWOB/k8s-for-zj/internal/topology"
)

// ErrContractDeploy aborts the deploy phase when the broker or transfer
// contract of an appchain cannot be deployed.
var ErrContractDeploy = errors.New("contract deployment failed")

// RPCWaiter blocks until the appchain endpoint at url answers.
type RPCWaiter func(ctx context.Context, url string) error

type Deployer struct {
	runner  toolchain.Runner
	cfg     configs.Contracts
	goduck  string
	waitRPC RPCWaiter
	logger  *slog.Logger
}

// NewDeployer builds a deployer. When cfg.WaitForRPC is set each appchain's
// JSON-RPC endpoint is polled within rpcBound before the first deploy.
func NewDeployer(runner toolchain.Runner, cfg configs.Contracts, goduck string, rpcBound retry.Bound) *Deployer {
	d := &Deployer{
		runner: runner,
		cfg:    cfg,
		goduck: goduck,
		logger: logger.Named("contract_deployer"),
	}

	if cfg.WaitForRPC {
		d.waitRPC = func(ctx context.Context, url string) error {
			_, err := chain.WaitForRPC(ctx, url, rpcBound, d.logger)
			return err
		}
	}

	return d
}

// Execute deploys contracts for every appchain of the resolved graph in node
// then chain order. The deploy document is saved after each appchain, so a
// fatal failure keeps the entries written before it.
func (d *Deployer) Execute(ctx context.Context, run *state.Context) (topology.ContractDeployment, error) {
	graph, err := run.ResolvedGraph(ctx)
	if err != nil {
		return nil, err
	}

	deployment := topology.ContractDeployment{}
	next := 0

	for _, node := range graph {
		for _, ip := range node.ChainIPs {
			appchainID := topology.AppchainID(next)
			next++

			appchain, err := d.deployAppchain(ctx, node, ip, appchainID)
			if err != nil {
				return deployment, err
			}

			deployment[ip] = appchain
			if err := run.SaveContracts(ctx, deployment); err != nil {
				return deployment, err
			}
		}
	}

	d.logger.With("appchains", len(deployment)).Info("contracts deployed")
	return deployment, nil
}

func (d *Deployer) deployAppchain(ctx context.Context, node topology.RelayNodeState, ip, appchainID string) (topology.AppchainState, error) {
	log := d.logger.With("appchain_ip", ip, "appchain_id", appchainID, "bitxhub_id", node.BitxhubID)
	endpoint := d.endpoint(ip)

	if d.waitRPC != nil {
		if err := d.waitRPC(ctx, endpoint); err != nil {
			return topology.AppchainState{}, fmt.Errorf("%w: appchain %s: %w", ErrContractDeploy, ip, err)
		}
	}

	brokerArgs, err := d.BrokerArgs(node.BitxhubID, appchainID)
	if err != nil {
		return topology.AppchainState{}, err
	}

	broker, err := d.deploy(ctx, "broker", ip,
		"ether", "contract", "deploy",
		"--code-path", toolchain.ExpandPath(d.runner, d.cfg.BrokerCodePath),
		"--address", endpoint,
		brokerArgs,
	)
	if err != nil {
		return topology.AppchainState{}, err
	}
	log.With("broker", broker.Hex()).Info("broker contract deployed")

	transfer, err := d.deploy(ctx, "transfer", ip,
		"ether", "contract", "deploy",
		"--address", endpoint,
		"--code-path", toolchain.ExpandPath(d.runner, d.cfg.TransferCodePath),
		broker.Hex(),
	)
	if err != nil {
		return topology.AppchainState{}, err
	}
	log.With("transfer", transfer.Hex()).Info("transfer contract deployed")

	output, err := d.runner.Run(ctx, d.goduck,
		"ether", "contract", "invoke",
		"--key-path", toolchain.ExpandPath(d.runner, d.cfg.KeyPath),
		"--abi-path", toolchain.ExpandPath(d.runner, d.cfg.BrokerABIPath),
		"--address", endpoint,
		broker.Hex(), "audit", transfer.Hex()+"^1",
	)
	if err != nil {
		log.With("err", err.Error(), "output", strings.TrimSpace(output)).Warn("transfer contract audit failed, continuing")
	} else {
		log.Info("transfer contract audited")
	}

	return topology.AppchainState{
		IP:           ip,
		BrokerAddr:   broker.Hex(),
		TransferAddr: transfer.Hex(),
		AppchainID:   appchainID,
		RelayNodeID:  node.ID,
	}, nil
}

// deploy runs a goduck deploy and scrapes the contract address from its
// output. A missing address is fatal regardless of the exit status.
func (d *Deployer) deploy(ctx context.Context, contract, ip string, args ...string) (common.Address, error) {
	output, runErr := d.runner.Run(ctx, d.goduck, args...)

	addr, err := chain.ExtractAddress(output)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %s contract on appchain %s: %w", ErrContractDeploy, contract, ip, errors.Join(err, runErr))
	}
	if runErr != nil {
		d.logger.With("contract", contract, "appchain_ip", ip, "err", runErr.Error()).
			Warn("tool reported failure but printed a contract address")
	}

	return addr, nil
}

// BrokerArgs renders the broker constructor argument
// "<bitxhubId>^<appchainId>^[validators]^1^[admins]^1".
func (d *Deployer) BrokerArgs(bitxhubID, appchainID string) (string, error) {
	validators, err := json.Marshal(d.cfg.Validators)
	if err != nil {
		return "", fmt.Errorf("failed to encode validators: %w", err)
	}

	admins := d.cfg.Admins
	if admins == nil {
		admins = []string{}
	}
	adminList, err := json.Marshal(admins)
	if err != nil {
		return "", fmt.Errorf("failed to encode admins: %w", err)
	}

	return strings.Join([]string{bitxhubID, appchainID, string(validators), "1", string(adminList), "1"}, "^"), nil
}

func (d *Deployer) endpoint(ip string) string {
	return fmt.Sprintf("http://%s:%d", ip, d.cfg.RPCPort)
}
