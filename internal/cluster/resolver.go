package cluster

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/JYBWOB/k8s-for-zj/internal/logger"
	"github.com/JYBWOB/k8s-for-zj/internal/retry"
	"github.com/JYBWOB/k8s-for-zj/internal/topology"
)

// ErrResolutionTimeout is returned when workloads do not report concrete
// addresses within the resolver bound. It matches retry.ErrTimeout as well.
var ErrResolutionTimeout = fmt.Errorf("address resolution timed out: %w", retry.ErrTimeout)

// Resolver polls the cluster for workload addresses within a fixed bound.
type Resolver struct {
	client *Client
	bound  retry.Bound
	logger *slog.Logger
}

func NewResolver(client *Client, bound retry.Bound) *Resolver {
	return &Resolver{
		client: client,
		bound:  bound,
		logger: logger.Named("address_resolver"),
	}
}

// Resolve returns the current (name, ip) pairs of a role without waiting.
func (r *Resolver) Resolve(ctx context.Context, namespace string, role topology.Role) ([]topology.Endpoint, error) {
	return r.client.Endpoints(ctx, namespace, role)
}

// ResolveUntilReady polls until exactly expected pods of role exist and none
// of them reports UnsetAddress.
func (r *Resolver) ResolveUntilReady(ctx context.Context, namespace string, role topology.Role, expected int) ([]topology.Endpoint, error) {
	log := r.logger.With("namespace", namespace, "role", role, "expected", expected)

	var endpoints []topology.Endpoint
	err := retry.Poll(ctx, r.bound, func(ctx context.Context) (bool, error) {
		current, err := r.client.Endpoints(ctx, namespace, role)
		if err != nil {
			return false, retry.Transient(err)
		}

		ready := concreteCount(current)
		if len(current) != expected || ready != len(current) {
			log.With("listed", len(current), "ready", ready).Debug("waiting for addresses")
			return false, nil
		}

		endpoints = current
		return true, nil
	})
	if err != nil {
		return nil, r.wrapTimeout(fmt.Sprintf("%d %s pods in %s", expected, role, namespace), err)
	}

	log.Info("addresses resolved")
	return endpoints, nil
}

// ResolveServiceIP polls until the named service has a cluster IP.
func (r *Resolver) ResolveServiceIP(ctx context.Context, namespace, name string) (string, error) {
	var ip string
	err := retry.Poll(ctx, r.bound, func(ctx context.Context) (bool, error) {
		current, err := r.client.ServiceIP(ctx, namespace, name)
		if err != nil {
			return false, retry.Transient(err)
		}
		if current == UnsetAddress {
			return false, nil
		}

		ip = current
		return true, nil
	})
	if err != nil {
		return "", r.wrapTimeout(fmt.Sprintf("service %s/%s", namespace, name), err)
	}

	return ip, nil
}

// ResolveGraph waits for every relay pod and appchain replica of graph and
// assigns their addresses onto it.
func (r *Resolver) ResolveGraph(ctx context.Context, namespace string, graph topology.Graph) (topology.Graph, error) {
	var appchains uint
	for _, node := range graph {
		appchains += node.AppchainCount
	}

	relayPods, err := r.ResolveUntilReady(ctx, namespace, topology.RoleRelay, len(graph))
	if err != nil {
		return nil, err
	}

	appchainPods, err := r.ResolveUntilReady(ctx, namespace, topology.RoleAppchain, int(appchains))
	if err != nil {
		return nil, err
	}

	return topology.Partition(graph, relayPods, appchainPods)
}

func (r *Resolver) wrapTimeout(target string, err error) error {
	if errors.Is(err, retry.ErrTimeout) {
		return fmt.Errorf("%w: waiting for %s: %w", ErrResolutionTimeout, target, err)
	}
	return fmt.Errorf("failed to resolve %s: %w", target, err)
}

func concreteCount(endpoints []topology.Endpoint) int {
	n := 0
	for _, endpoint := range endpoints {
		if endpoint.IP != UnsetAddress && endpoint.IP != "" {
			n++
		}
	}
	return n
}
