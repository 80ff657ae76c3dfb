package network

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"k8s.io/apimachinery/pkg/util/validation"

	"github.com/JYBWOB/k8s-for-zj/configs"
	"github.com/JYBWOB/k8s-for-zj/internal/bridge"
	"github.com/JYBWOB/k8s-for-zj/internal/cluster"
	"github.com/JYBWOB/k8s-for-zj/internal/confirm"
	"github.com/JYBWOB/k8s-for-zj/internal/contracts"
	"github.com/JYBWOB/k8s-for-zj/internal/federation"
	"github.com/JYBWOB/k8s-for-zj/internal/logger"
	"github.com/JYBWOB/k8s-for-zj/internal/registrar"
	"github.com/JYBWOB/k8s-for-zj/internal/remote"
	"github.com/JYBWOB/k8s-for-zj/internal/retry"
	"github.com/JYBWOB/k8s-for-zj/internal/state"
	"github.com/JYBWOB/k8s-for-zj/internal/toolchain"
	"github.com/JYBWOB/k8s-for-zj/internal/topology"
)

type Phase string

const (
	PhaseProvision        Phase = "provision"
	PhaseTeardown         Phase = "teardown"
	PhaseDeployContracts  Phase = "resolve-and-deploy-contracts"
	PhaseMaterialize      Phase = "materialize-bridges"
	PhaseRegisterBridges  Phase = "register-bridges"
	PhaseFederateMesh     Phase = "federate-mesh"
	PhaseFederateConfig   Phase = "federate-config"
	PhaseFederateStart    Phase = "federate-start"
	PhaseFederateRegister Phase = "federate-register"
)

var phases = []Phase{
	PhaseProvision, PhaseTeardown, PhaseDeployContracts, PhaseMaterialize, PhaseRegisterBridges,
	PhaseFederateMesh, PhaseFederateConfig, PhaseFederateStart, PhaseFederateRegister,
}

func ParsePhase(raw string) (Phase, error) {
	for _, phase := range phases {
		if string(phase) == raw {
			return phase, nil
		}
	}
	return "", fmt.Errorf("unknown phase '%s', expected one of: %s", raw, phaseList())
}

func phaseList() string {
	names := make([]string, len(phases))
	for i, phase := range phases {
		names[i] = string(phase)
	}
	return strings.Join(names, ", ")
}

// Options select the topology and phase of one run. The topology name is
// also the namespace.
type Options struct {
	Topology    string
	Phase       Phase
	Input       string
	AssumeYes   bool
	Interactive bool
}

func (o Options) Validate() error {
	var errs []error

	if o.Topology == "" {
		errs = append(errs, errors.New("--name is required"))
	} else if msgs := validation.IsDNS1123Label(o.Topology); len(msgs) > 0 {
		errs = append(errs, fmt.Errorf("--name '%s' is not a valid namespace name: %s", o.Topology, strings.Join(msgs, "; ")))
	}
	if _, err := ParsePhase(string(o.Phase)); err != nil {
		errs = append(errs, err)
	}
	if o.Phase == PhaseProvision && o.Input == "" {
		errs = append(errs, errors.New("--input is required for the provision phase"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("options validation failed: %w", errors.Join(errs...))
	}
	return nil
}

// Service runs one phase against one topology.
type Service struct {
	cfg     configs.Config
	opts    Options
	run     *state.Context
	cluster *cluster.Client
	gate    *confirm.Gate
	runner  toolchain.Runner
	logger  *slog.Logger
}

// NewService validates the configuration the selected phase needs and
// connects to the state backend and the cluster.
func NewService(ctx context.Context, cfg configs.Config, opts Options) (*Service, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if err := validateFor(cfg, opts.Phase); err != nil {
		return nil, err
	}

	backend, err := newBackend(ctx, cfg.State)
	if err != nil {
		return nil, err
	}

	client, err := cluster.New(cfg.Cluster.Kubeconfig, cfg.Cluster.ExecTimeout)
	if err != nil {
		return nil, err
	}

	return newService(cfg, opts, state.NewStore(backend), client), nil
}

func newService(cfg configs.Config, opts Options, store *state.Store, client *cluster.Client) *Service {
	return &Service{
		cfg:     cfg,
		opts:    opts,
		run:     state.NewContext(store, opts.Topology),
		cluster: client,
		gate:    confirm.NewGate(opts.AssumeYes, opts.Interactive),
		logger:  logger.Named("network").With("topology", opts.Topology, "phase", opts.Phase),
	}
}

func newBackend(ctx context.Context, cfg configs.State) (state.Backend, error) {
	if cfg.Backend == configs.StateBackendS3 {
		return state.NewS3Backend(ctx, state.S3Config{
			Bucket:    cfg.Bucket,
			Prefix:    cfg.Prefix,
			Region:    cfg.Region,
			Endpoint:  cfg.Endpoint,
			AccessKey: cfg.AccessKey,
			SecretKey: cfg.SecretKey,
		})
	}
	return state.NewLocalBackend(cfg.Dir), nil
}

type validator interface {
	Validate() error
}

// validateFor checks only the sections the phase reads.
func validateFor(cfg configs.Config, phase Phase) error {
	sections := []validator{&cfg.State, &cfg.Cluster}

	switch phase {
	case PhaseProvision:
		sections = append(sections, &cfg.Resolver, &cfg.Provision, &cfg.Bridge)
	case PhaseTeardown:
		sections = append(sections, &cfg.Resolver)
	case PhaseDeployContracts:
		sections = append(sections, &cfg.Resolver, &cfg.Toolchain, &cfg.Contracts)
	case PhaseMaterialize:
		sections = append(sections, &cfg.Toolchain, &cfg.Bridge, &cfg.Remote, &cfg.Provision)
	case PhaseRegisterBridges:
		sections = append(sections, &cfg.Bridge, &cfg.Registration)
	case PhaseFederateMesh:
		sections = append(sections, &cfg.Resolver, &cfg.Toolchain, &cfg.Federation)
	case PhaseFederateConfig:
		sections = append(sections, &cfg.Bridge, &cfg.Remote, &cfg.Federation)
	case PhaseFederateStart:
		sections = append(sections, &cfg.Resolver, &cfg.Bridge, &cfg.Provision, &cfg.Federation)
	case PhaseFederateRegister:
		sections = append(sections, &cfg.Bridge, &cfg.Registration, &cfg.Federation)
	}

	var errs []error
	for _, section := range sections {
		if err := section.Validate(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Execute runs the selected phase. A declined confirmation is a clean exit.
func (s *Service) Execute(ctx context.Context) error {
	s.logger.Info("phase started")

	if err := s.execute(ctx); err != nil {
		if errors.Is(err, confirm.ErrDeclined) {
			s.logger.Info("destructive action declined, nothing changed")
			return nil
		}
		return fmt.Errorf("phase %s failed: %w", s.opts.Phase, err)
	}

	s.logger.Info("phase finished")
	return nil
}

func (s *Service) execute(ctx context.Context) error {
	namespace := s.opts.Topology

	switch s.opts.Phase {
	case PhaseProvision:
		return s.provision(ctx, namespace)
	case PhaseTeardown:
		return s.cluster.TeardownNamespace(ctx, namespace, s.teardownBound())
	case PhaseDeployContracts:
		return s.deployContracts(ctx, namespace)
	case PhaseMaterialize:
		return s.materialize(ctx, namespace)
	case PhaseRegisterBridges:
		return registrar.NewRegistrar(s.cluster, s.cfg.Registration, s.cfg.Bridge.MountPath).Execute(ctx, s.run, namespace)
	case PhaseFederateMesh:
		runner, err := s.toolchain(ctx, s.cfg.Federation.BaseDir)
		if err != nil {
			return err
		}
		_, err = s.federation(federation.Dependencies{Runner: runner}).Mesh(ctx, s.run, namespace)
		return err
	case PhaseFederateConfig:
		distributor, err := s.distributor()
		if err != nil {
			return err
		}
		return s.federation(federation.Dependencies{Distributor: distributor}).Configure(ctx, s.run)
	case PhaseFederateStart:
		return s.federation(federation.Dependencies{}).Start(ctx, s.run, namespace)
	case PhaseFederateRegister:
		return s.federation(federation.Dependencies{}).Register(ctx, s.run, namespace)
	default:
		return fmt.Errorf("unknown phase '%s'", s.opts.Phase)
	}
}

// provision recreates the namespace behind a confirmation gate when it
// already exists, then creates the role workloads and saves the graph.
func (s *Service) provision(ctx context.Context, namespace string) error {
	spec, err := topology.LoadSpec(s.opts.Input)
	if err != nil {
		return err
	}

	exists, err := s.cluster.NamespaceExists(ctx, namespace)
	if err != nil {
		return err
	}
	if exists {
		err := s.gate.Confirm(ctx,
			fmt.Sprintf("Namespace %s already exists. Tear it down and recreate it?", namespace),
			"Every workload of the topology will be deleted.")
		if err != nil {
			return err
		}
		if err := s.cluster.TeardownNamespace(ctx, namespace, s.teardownBound()); err != nil {
			return err
		}
	}

	if _, err := s.cluster.EnsureNamespace(ctx, namespace); err != nil {
		return err
	}

	graph, err := cluster.NewProvisioner(s.cluster, s.cfg.Provision, s.cfg.Bridge.RelayBasePort).ProvisionGraph(ctx, namespace, spec)
	if err != nil {
		return err
	}

	return s.run.SaveGraph(ctx, graph)
}

func (s *Service) deployContracts(ctx context.Context, namespace string) error {
	graph, err := s.run.Graph(ctx)
	if err != nil {
		return err
	}

	resolved, err := cluster.NewResolver(s.cluster, s.resolverBound()).ResolveGraph(ctx, namespace, graph)
	if err != nil {
		return err
	}
	if err := s.run.SaveGraph(ctx, resolved); err != nil {
		return err
	}

	runner, err := s.toolchain(ctx)
	if err != nil {
		return err
	}

	_, err = contracts.NewDeployer(runner, s.cfg.Contracts, s.cfg.Toolchain.Goduck, s.resolverBound()).Execute(ctx, s.run)
	return err
}

func (s *Service) materialize(ctx context.Context, namespace string) error {
	runner, err := s.toolchain(ctx, s.cfg.Bridge.BaseDir)
	if err != nil {
		return err
	}

	distributor, err := s.distributor()
	if err != nil {
		return err
	}

	pods := cluster.NewProvisioner(s.cluster, s.cfg.Provision, s.cfg.Bridge.RelayBasePort)
	_, err = bridge.NewMaterializer(runner, s.cfg.Toolchain.Pier, s.cfg.Bridge, distributor, pods).Execute(ctx, s.run, namespace)
	return err
}

// federation fills in the cluster-backed collaborators of deps.
func (s *Service) federation(deps federation.Dependencies) *federation.Orchestrator {
	deps.Exec = s.cluster
	deps.Provisioner = cluster.NewProvisioner(s.cluster, s.cfg.Provision, s.cfg.Bridge.RelayBasePort)
	deps.Resolver = cluster.NewResolver(s.cluster, s.resolverBound())

	return federation.NewOrchestrator(deps, federation.Settings{
		Pier:          s.cfg.Toolchain.Pier,
		Federation:    s.cfg.Federation,
		Registration:  s.cfg.Registration,
		RelayBasePort: s.cfg.Bridge.RelayBasePort,
		MountPath:     s.cfg.Bridge.MountPath,
	})
}

// toolchain opens the tool runner once per run. sharedDirs are the host
// directories the tools write into for this phase.
func (s *Service) toolchain(ctx context.Context, sharedDirs ...string) (toolchain.Runner, error) {
	if s.runner != nil {
		return s.runner, nil
	}

	runner, err := toolchain.New(s.cfg.Toolchain, sharedDirs...)
	if err != nil {
		return nil, err
	}
	if checker, ok := runner.(interface{ Check(context.Context) error }); ok {
		if err := checker.Check(ctx); err != nil {
			closeQuietly(runner)
			return nil, err
		}
	}

	s.runner = runner
	return runner, nil
}

func (s *Service) distributor() (*remote.Distributor, error) {
	client, err := remote.NewClientFromConfig(s.cfg.Remote)
	if err != nil {
		return nil, err
	}
	return remote.NewDistributor(s.cluster, client, s.cfg.Remote.ExcludeHosts), nil
}

func (s *Service) resolverBound() retry.Bound {
	return retry.Bound{Interval: s.cfg.Resolver.Interval, Timeout: s.cfg.Resolver.Timeout}
}

func (s *Service) teardownBound() retry.Bound {
	return retry.Bound{Interval: s.cfg.Resolver.Interval, Timeout: s.cfg.Cluster.TeardownTimeout}
}

// Close releases the tool runner, if one was opened.
func (s *Service) Close() {
	if s.runner != nil {
		closeQuietly(s.runner)
		s.runner = nil
	}
}

func closeQuietly(v any) {
	closer, ok := v.(io.Closer)
	if !ok {
		return
	}
	if err := closer.Close(); err != nil {
		slog.With("err", err.Error()).Warn("failed to close tool runner")
	}
}
