// Package federation joins the relay nodes of a topology into a star mesh
// of union agents rooted at relay node 0.
package federation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/JYBWOB/k8s-for-zj/configs"
	"github.com/JYBWOB/k8s-for-zj/internal/bridge"
	"github.com/JYBWOB/k8s-for-zj/internal/cluster"
	"github.com/JYBWOB/k8s-for-zj/internal/logger"
	"github.com/JYBWOB/k8s-for-zj/internal/registrar"
	"github.com/JYBWOB/k8s-for-zj/internal/state"
	"github.com/JYBWOB/k8s-for-zj/internal/toolchain"
	"github.com/JYBWOB/k8s-for-zj/internal/topology"
)

type (
	Provisioner interface {
		ProvisionFederationService(ctx context.Context, namespace string, index, port int) (cluster.Outcome, error)
		ProvisionFederationNode(ctx context.Context, namespace string, index int, hostDir, mountPath string, port int) (cluster.Outcome, error)
	}

	AddressResolver interface {
		ResolveServiceIP(ctx context.Context, namespace, name string) (string, error)
		ResolveUntilReady(ctx context.Context, namespace string, role topology.Role, expected int) ([]topology.Endpoint, error)
	}

	Distributor interface {
		Distribute(ctx context.Context, localDir, remoteParent string) error
	}

	// Dependencies are the collaborators the orchestrator drives.
	Dependencies struct {
		Runner      toolchain.Runner
		Exec        registrar.PodExecutor
		Provisioner Provisioner
		Resolver    AddressResolver
		Distributor Distributor
	}

	Settings struct {
		Pier          string
		Federation    configs.Federation
		Registration  configs.Registration
		RelayBasePort int
		MountPath     string
	}
)

type Orchestrator struct {
	deps     Dependencies
	settings Settings
	protocol registrar.Protocol
	logger   *slog.Logger
}

func NewOrchestrator(deps Dependencies, settings Settings) *Orchestrator {
	return &Orchestrator{
		deps:     deps,
		settings: settings,
		protocol: registrar.NewProtocol(settings.Registration, settings.MountPath),
		logger:   logger.Named("federation_orchestrator"),
	}
}

func (o *Orchestrator) repoDir(index int) string {
	return filepath.Join(o.settings.Federation.BaseDir, topology.FederationMountDir(index))
}

// Mesh initializes one union repo and stable service address per relay node
// and saves the union document. Satellites that fail are left out; a failing
// root fails the phase.
func (o *Orchestrator) Mesh(ctx context.Context, run *state.Context, namespace string) (topology.Federation, error) {
	graph, err := run.ResolvedGraph(ctx)
	if err != nil {
		return nil, err
	}

	federation := topology.Federation{}
	var errs []error

	for i, node := range graph {
		name := topology.FederationNodeName(i)

		member, err := o.meshNode(ctx, namespace, i, node)
		if err != nil {
			if i == 0 {
				return nil, fmt.Errorf("federation root %s: %w", name, err)
			}
			o.logger.With("node", name, "err", err.Error()).Error("federation node init failed")
			errs = append(errs, fmt.Errorf("federation node %s: %w", name, err))
			continue
		}

		federation[name] = member
	}

	if err := run.SaveFederation(ctx, federation); err != nil {
		return federation, errors.Join(append(errs, err)...)
	}

	o.logger.With("nodes", len(federation), "failed", len(errs)).Info("federation mesh initialized")
	return federation, errors.Join(errs...)
}

func (o *Orchestrator) meshNode(ctx context.Context, namespace string, index int, node topology.RelayNodeState) (topology.FederationNodeState, error) {
	dir := o.repoDir(index)
	port := o.settings.Federation.Port

	if err := os.RemoveAll(dir); err != nil {
		return topology.FederationNodeState{}, fmt.Errorf("failed to clear '%s': %w", dir, err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return topology.FederationNodeState{}, fmt.Errorf("failed to create '%s': %w", dir, err)
	}

	if _, err := o.deps.Runner.Run(ctx, o.settings.Pier, "--repo="+dir, "init", "union"); err != nil {
		return topology.FederationNodeState{}, err
	}

	output, err := o.deps.Runner.Run(ctx, o.settings.Pier, "--repo="+dir, "p2p", "id")
	if err != nil {
		return topology.FederationNodeState{}, err
	}
	peerID, err := ParsePeerID(output)
	if err != nil {
		return topology.FederationNodeState{}, err
	}

	if _, err := o.deps.Provisioner.ProvisionFederationService(ctx, namespace, index, port); err != nil {
		return topology.FederationNodeState{}, err
	}
	ip, err := o.deps.Resolver.ResolveServiceIP(ctx, namespace, topology.FederationNodeName(index))
	if err != nil {
		return topology.FederationNodeState{}, err
	}

	return topology.FederationNodeState{
		RelayNodeRef:       node.ID,
		RelayNodeIP:        node.IP,
		RelayNodeBitxhubID: node.BitxhubID,
		FederationIP:       ip,
		FederationPort:     port,
		FederationPeerID:   peerID,
	}, nil
}

// Configure writes each node's address book into its union repo and pushes
// the repo to the worker hosts.
func (o *Orchestrator) Configure(ctx context.Context, run *state.Context) error {
	federation, err := run.Federation(ctx)
	if err != nil {
		return err
	}

	books, err := BuildAddressBooks(federation)
	if err != nil {
		return err
	}

	var errs []error
	for _, name := range federation.Ordered() {
		if err := o.configureNode(ctx, federation[name], books[name]); err != nil {
			o.logger.With("node", name, "err", err.Error()).Error("federation node config failed")
			errs = append(errs, fmt.Errorf("federation node %s: %w", name, err))
		}
	}

	return errors.Join(errs...)
}

func (o *Orchestrator) configureNode(ctx context.Context, node topology.FederationNodeState, book AddressBook) error {
	index, err := topology.FederationIndex(book.Node)
	if err != nil {
		return err
	}
	dir := o.repoDir(index)

	err = bridge.RewriteTOML(filepath.Join(dir, bridge.ConfigFile), map[string]any{
		"mode.type":             "union",
		"mode.union.addrs":      bridge.RelayAddrs(node.RelayNodeIP, o.settings.RelayBasePort),
		"mode.union.connectors": book.Connectors(),
		"mode.union.providers":  len(book.Peers),
	})
	if err != nil {
		return err
	}

	if err := o.deps.Distributor.Distribute(ctx, dir, o.settings.Federation.BaseDir); err != nil {
		return fmt.Errorf("failed to distribute union repo: %w", err)
	}

	o.logger.With("node", book.Node, "peers", len(book.Peers)).Info("federation node configured")
	return nil
}

// Start creates the union pods and waits until every one has an address.
func (o *Orchestrator) Start(ctx context.Context, run *state.Context, namespace string) error {
	federation, err := run.Federation(ctx)
	if err != nil {
		return err
	}

	for _, name := range federation.Ordered() {
		index, err := topology.FederationIndex(name)
		if err != nil {
			return err
		}

		outcome, err := o.deps.Provisioner.ProvisionFederationNode(ctx, namespace, index, o.repoDir(index),
			o.settings.MountPath, federation[name].FederationPort)
		if err != nil {
			return err
		}
		o.logger.With("node", name, "pod", outcome).Info("federation node requested")
	}

	if _, err := o.deps.Resolver.ResolveUntilReady(ctx, namespace, topology.RoleFederation, len(federation)); err != nil {
		return err
	}

	o.logger.With("nodes", len(federation)).Info("federation started")
	return nil
}

// rootProposer tracks the root's own proposals; bitxhub numbers them per
// proposer, so only registrations that were submitted advance the ordinal.
type rootProposer struct {
	session   *registrar.Session
	identity  string
	proposals int
}

// Register cross-registers the relay chains of the star. Each satellite
// registers the root relay and approves it on its own quorum; the root then
// registers the satellite and approves it on the root quorum.
func (o *Orchestrator) Register(ctx context.Context, run *state.Context, namespace string) error {
	federation, err := run.Federation(ctx)
	if err != nil {
		return err
	}

	rootName := topology.FederationNodeName(0)
	root, ok := federation[rootName]
	if !ok {
		return fmt.Errorf("federation root '%s' is missing", rootName)
	}

	proposer := &rootProposer{
		session: registrar.NewSession(o.deps.Exec, o.protocol, namespace, rootName, root.RelayNodeRef, o.logger),
	}
	if proposer.identity, err = o.enroll(ctx, proposer.session); err != nil {
		return fmt.Errorf("federation root %s: %w", rootName, err)
	}

	var errs []error
	for _, name := range federation.Ordered() {
		if name == rootName {
			continue
		}
		if err := o.registerSatellite(ctx, namespace, name, federation[name], root, proposer); err != nil {
			o.logger.With("node", name, "err", err.Error()).Error("federation registration failed")
			errs = append(errs, fmt.Errorf("federation node %s: %w", name, err))
		}
	}

	return errors.Join(errs...)
}

func (o *Orchestrator) registerSatellite(ctx context.Context, namespace, name string, satellite, root topology.FederationNodeState, proposer *rootProposer) error {
	session := registrar.NewSession(o.deps.Exec, o.protocol, namespace, name, satellite.RelayNodeRef, o.logger)
	satelliteID, err := o.enroll(ctx, session)
	if err != nil {
		return err
	}

	if err := session.RegisterAppchain(ctx, o.relayRegistration(root, satelliteID)); err != nil {
		return err
	}
	if err := session.Vote(ctx, registrar.ProposalID(satelliteID, 0)); err != nil {
		return err
	}

	if err := proposer.session.RegisterAppchain(ctx, o.relayRegistration(satellite, proposer.identity)); err != nil {
		return err
	}
	proposal := registrar.ProposalID(proposer.identity, proposer.proposals)
	proposer.proposals++
	if err := proposer.session.Vote(ctx, proposal); err != nil {
		return err
	}

	o.logger.With("node", name, "identity", satelliteID, "root_proposal", proposal).Info("federation node registered")
	return nil
}

// enroll installs the relay CLI into the union pod, reads its identity and
// funds it.
func (o *Orchestrator) enroll(ctx context.Context, session *registrar.Session) (string, error) {
	if err := session.InstallRelayCLI(ctx, o.settings.Registration.RelayBinary, o.settings.Registration.RelayBinaryDir); err != nil {
		return "", err
	}

	identity, err := session.Identity(ctx)
	if err != nil {
		return "", err
	}

	if err := session.Fund(ctx, identity); err != nil {
		return "", err
	}
	return identity, nil
}

func (o *Orchestrator) relayRegistration(target topology.FederationNodeState, admin string) registrar.AppchainRegistration {
	return registrar.AppchainRegistration{
		ID:        target.RelayNodeBitxhubID,
		Name:      target.RelayNodeRef,
		Type:      topology.AppchainTypeRelay,
		Trustroot: o.settings.Federation.Trustroot,
		Broker:    o.settings.Federation.RelayBroker,
		Admin:     admin,
	}
}
