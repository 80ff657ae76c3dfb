package cluster

import (
	"context"
	"fmt"
	"log/slog"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/JYBWOB/k8s-for-zj/configs"
	"github.com/JYBWOB/k8s-for-zj/internal/chain"
	"github.com/JYBWOB/k8s-for-zj/internal/logger"
	"github.com/JYBWOB/k8s-for-zj/internal/topology"
)

/*
Provisioner creates the namespace-scoped workloads of a topology:
  - one headless service per role (relay, appchain)
  - optionally an appchain genesis config map and coinbase secret
  - one appchain deployment with one replica per declared appchain
  - one relay-<i> pod per relay node; relay-0 (root) mounts the root identity
  - bridge and federation pods on demand, mounting host directories
*/
type Provisioner struct {
	client        *Client
	cfg           configs.Provision
	relayBasePort int
	logger        *slog.Logger
}

// NewProvisioner builds a provisioner whose relay pods expose their quorum
// nodes on relayBasePort+1 .. relayBasePort+4, the addresses bridges dial.
func NewProvisioner(client *Client, cfg configs.Provision, relayBasePort int) *Provisioner {
	return &Provisioner{
		client:        client,
		cfg:           cfg,
		relayBasePort: relayBasePort,
		logger:        logger.Named("cluster_provisioner"),
	}
}

// ProvisionGraph creates the relay and appchain workloads for spec inside an
// existing namespace and returns the unresolved graph.
func (p *Provisioner) ProvisionGraph(ctx context.Context, namespace string, spec topology.Spec) (topology.Graph, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	if p.relayBasePort <= 0 {
		return nil, fmt.Errorf("relay base port must be positive, got %d", p.relayBasePort)
	}

	relayReplicas := spec.RelayReplicas()
	appchainReplicas := spec.AppchainReplicas()
	p.logger.With("namespace", namespace, "relay_replicas", relayReplicas, "appchain_replicas", appchainReplicas).
		Info("provisioning topology graph")

	services := []*corev1.Service{
		headlessService(namespace, topology.RoleRelay, relayGRPCPorts(p.relayBasePort)...),
		headlessService(namespace, topology.RoleAppchain, appchainRPCPort, appchainWSPort),
	}
	for _, service := range services {
		if _, err := p.client.CreateService(ctx, service); err != nil {
			return nil, err
		}
	}

	if p.cfg.Genesis.Enabled {
		if err := p.provisionGenesis(ctx, namespace); err != nil {
			return nil, fmt.Errorf("failed to provision appchain genesis: %w", err)
		}
	}

	deployment := appchainDeployment(namespace, p.cfg.Images.Appchain, int32(appchainReplicas), p.cfg.Genesis.Enabled)
	if _, err := p.client.CreateDeployment(ctx, deployment); err != nil {
		return nil, err
	}

	for i := 0; i < relayReplicas; i++ {
		secret := p.cfg.Identity.SatelliteSecret
		if i == 0 {
			secret = p.cfg.Identity.RootSecret
		}

		pod := relayPod(namespace, i, p.cfg.Images.Relay, secret, p.cfg.Identity.MountPath, p.relayBasePort)
		if _, err := p.client.CreatePod(ctx, pod); err != nil {
			return nil, err
		}
		p.logger.With("pod", pod.Name, "identity", secret).Info("relay node pod requested")
	}

	return spec.Graph(), nil
}

func (p *Provisioner) provisionGenesis(ctx context.Context, namespace string) error {
	accounts, err := chain.GenerateAccounts(p.cfg.Genesis.Accounts)
	if err != nil {
		return err
	}

	genesis, err := chain.Genesis(p.cfg.Genesis.ChainID, accounts)
	if err != nil {
		return err
	}

	configMap := &corev1.ConfigMap{
		ObjectMeta: metav1.ObjectMeta{
			Name:      genesisConfigMapName,
			Namespace: namespace,
			Labels:    roleLabels(topology.RoleAppchain),
		},
		Data: map[string]string{"genesis.json": string(genesis)},
	}
	if _, err := p.client.CreateConfigMap(ctx, configMap); err != nil {
		return err
	}

	coinbase := accounts[0]
	secret := &corev1.Secret{
		ObjectMeta: metav1.ObjectMeta{
			Name:      genesisSecretName,
			Namespace: namespace,
			Labels:    roleLabels(topology.RoleAppchain),
		},
		StringData: map[string]string{
			"address":     coinbase.Address.Hex(),
			"private_key": coinbase.PrivateKey,
		},
	}
	if _, err := p.client.CreateSecret(ctx, secret); err != nil {
		return err
	}

	p.logger.With("coinbase", coinbase.Address.Hex(), "accounts", len(accounts)).Info("appchain genesis provisioned")
	return nil
}

// ProvisionBridge creates the bridge pod that mounts its rendered bundle
// from hostDir.
func (p *Provisioner) ProvisionBridge(ctx context.Context, namespace, name, hostDir, mountPath string) (Outcome, error) {
	pod := hostDirPod(namespace, name, roleLabels(topology.RoleBridge), p.cfg.Images.Bridge, hostDir, mountPath)
	return p.client.CreatePod(ctx, pod)
}

// ProvisionFederationService creates the stable service address of
// federation node index.
func (p *Provisioner) ProvisionFederationService(ctx context.Context, namespace string, index, port int) (Outcome, error) {
	return p.client.CreateService(ctx, federationService(namespace, index, int32(port)))
}

func (p *Provisioner) ProvisionFederationNode(ctx context.Context, namespace string, index int, hostDir, mountPath string, port int) (Outcome, error) {
	pod := hostDirPod(namespace, topology.FederationNodeName(index), indexedLabels(topology.RoleFederation, index),
		p.cfg.Images.Federation, hostDir, mountPath, int32(port))
	return p.client.CreatePod(ctx, pod)
}
