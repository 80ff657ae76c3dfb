// Package cluster wraps the Kubernetes API for the relaynet phases:
// namespaces, role workloads, address resolution and in-pod command execution.
package cluster

import (
	"fmt"
	"log/slog"
	"time"

	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/JYBWOB/k8s-for-zj/internal/logger"
)

const defaultExecTimeout = 2 * time.Minute

// Client provides the cluster operations used across phases.
type Client struct {
	clientset   kubernetes.Interface
	restConfig  *rest.Config
	execTimeout time.Duration
	logger      *slog.Logger
}

// New builds a client from a kubeconfig path; an empty path falls back to
// the default loading rules (KUBECONFIG, ~/.kube/config, in-cluster).
func New(kubeconfig string, execTimeout time.Duration) (*Client, error) {
	rules := clientcmd.NewDefaultClientConfigLoadingRules()
	if kubeconfig != "" {
		rules.ExplicitPath = kubeconfig
	}

	restConfig, err := clientcmd.NewNonInteractiveDeferredLoadingClientConfig(rules, &clientcmd.ConfigOverrides{}).ClientConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to build kubeconfig: %w", err)
	}

	clientset, err := kubernetes.NewForConfig(restConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create kubernetes clientset: %w", err)
	}

	return NewFromClientset(clientset, restConfig, execTimeout), nil
}

// NewFromClientset wraps an existing clientset. restConfig may be nil when
// pod exec is not needed, e.g. with a fake clientset.
func NewFromClientset(clientset kubernetes.Interface, restConfig *rest.Config, execTimeout time.Duration) *Client {
	if execTimeout <= 0 {
		execTimeout = defaultExecTimeout
	}

	return &Client{
		clientset:   clientset,
		restConfig:  restConfig,
		execTimeout: execTimeout,
		logger:      logger.Named("cluster_client"),
	}
}
