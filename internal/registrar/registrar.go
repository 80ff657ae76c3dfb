package registrar

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/JYBWOB/k8s-for-zj/configs"
	"github.com/JYBWOB/k8s-for-zj/internal/logger"
	"github.com/JYBWOB/k8s-for-zj/internal/state"
	"github.com/JYBWOB/k8s-for-zj/internal/topology"
)

/*
Registrar registers every materialized bridge with its relay node:
 1. install the relay CLI into the bridge pod
 2. read the bridge identity
 3. fund it from the relay node
 4. register the appchain, quorum votes <identity>-0
 5. register the transfer contract as a service, quorum votes <identity>-1

A failed step skips the rest of that bridge only.
*/
type Registrar struct {
	exec     PodExecutor
	cfg      configs.Registration
	protocol Protocol
	logger   *slog.Logger
}

// NewRegistrar builds a registrar for bridges whose repo is mounted at
// agentRepo inside their pods.
func NewRegistrar(exec PodExecutor, cfg configs.Registration, agentRepo string) *Registrar {
	return &Registrar{
		exec:     exec,
		cfg:      cfg,
		protocol: NewProtocol(cfg, agentRepo),
		logger:   logger.Named("bridge_registrar"),
	}
}

func (r *Registrar) Execute(ctx context.Context, run *state.Context, namespace string) error {
	bridges, err := run.Bridges(ctx)
	if err != nil {
		return err
	}

	deployment, err := run.Contracts(ctx)
	if err != nil {
		return err
	}

	var errs []error
	registered := 0
	for _, name := range bridges.Names() {
		bridge := bridges[name]

		appchain, ok := deployment[bridge.AppchainIP]
		if !ok {
			errs = append(errs, fmt.Errorf("bridge %s: no deployed contracts for appchain %s", name, bridge.AppchainIP))
			continue
		}

		if err := r.register(ctx, namespace, bridge, appchain); err != nil {
			r.logger.With("bridge", name, "err", err.Error()).Error("bridge registration failed")
			errs = append(errs, fmt.Errorf("bridge %s: %w", name, err))
			continue
		}
		registered++
	}

	r.logger.With("registered", registered, "failed", len(errs)).Info("bridge registration finished")
	return errors.Join(errs...)
}

func (r *Registrar) register(ctx context.Context, namespace string, bridge topology.BridgeState, appchain topology.AppchainState) error {
	session := NewSession(r.exec, r.protocol, namespace, bridge.BridgeName, bridge.RelayNodeRef, r.logger)

	if err := session.InstallRelayCLI(ctx, r.cfg.RelayBinary, r.cfg.RelayBinaryDir); err != nil {
		return err
	}

	identity, err := session.Identity(ctx)
	if err != nil {
		return err
	}

	if err := session.Fund(ctx, identity); err != nil {
		return err
	}

	err = session.RegisterAppchain(ctx, AppchainRegistration{
		ID:        bridge.AppchainID,
		Name:      bridge.BridgeAppName,
		Type:      bridge.AppchainType,
		Trustroot: r.cfg.Trustroot,
		Broker:    appchain.BrokerAddr,
		Admin:     identity,
	})
	if err != nil {
		return err
	}
	if err := session.Vote(ctx, ProposalID(identity, 0)); err != nil {
		return err
	}

	if err := session.RegisterService(ctx, bridge.AppchainID, appchain.TransferAddr, "service-"+bridge.BridgeName); err != nil {
		return err
	}
	if err := session.Vote(ctx, ProposalID(identity, 1)); err != nil {
		return err
	}

	r.logger.With("bridge", bridge.BridgeName, "identity", identity, "appchain_id", bridge.AppchainID).Info("bridge registered")
	return nil
}
