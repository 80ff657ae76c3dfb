package state

import (
	"context"
	"fmt"

	"github.com/JYBWOB/k8s-for-zj/internal/topology"
)

// Context hands typed phase documents of one topology to phase handlers.
// Loads fail hard when a prerequisite document is missing or corrupt.
type Context struct {
	Topology string
	store    *Store
}

func NewContext(store *Store, topologyName string) *Context {
	return &Context{Topology: topologyName, store: store}
}

func (c *Context) Graph(ctx context.Context) (topology.Graph, error) {
	var graph topology.Graph
	if err := c.store.Load(ctx, c.Topology, PhaseGraph, &graph); err != nil {
		return nil, err
	}
	if len(graph) == 0 {
		return nil, fmt.Errorf("%w: graph document has no relay nodes", ErrStateCorrupt)
	}
	return graph, nil
}

// ResolvedGraph is Graph plus the requirement that addresses were resolved.
func (c *Context) ResolvedGraph(ctx context.Context) (topology.Graph, error) {
	graph, err := c.Graph(ctx)
	if err != nil {
		return nil, err
	}
	if err := graph.RequireResolved(); err != nil {
		return nil, fmt.Errorf("graph phase incomplete, run resolution first: %w", err)
	}
	return graph, nil
}

func (c *Context) Contracts(ctx context.Context) (topology.ContractDeployment, error) {
	deployment := topology.ContractDeployment{}
	if err := c.store.Load(ctx, c.Topology, PhaseDeploy, &deployment); err != nil {
		return nil, err
	}
	return deployment, nil
}

func (c *Context) Bridges(ctx context.Context) (topology.Bridges, error) {
	bridges := topology.Bridges{}
	if err := c.store.Load(ctx, c.Topology, PhaseBridges, &bridges); err != nil {
		return nil, err
	}
	return bridges, nil
}

func (c *Context) Federation(ctx context.Context) (topology.Federation, error) {
	federation := topology.Federation{}
	if err := c.store.Load(ctx, c.Topology, PhaseFederation, &federation); err != nil {
		return nil, err
	}
	return federation, nil
}

func (c *Context) SaveGraph(ctx context.Context, graph topology.Graph) error {
	return c.store.Save(ctx, c.Topology, PhaseGraph, graph)
}

func (c *Context) SaveContracts(ctx context.Context, deployment topology.ContractDeployment) error {
	return c.store.Save(ctx, c.Topology, PhaseDeploy, deployment)
}

func (c *Context) SaveBridges(ctx context.Context, bridges topology.Bridges) error {
	return c.store.Save(ctx, c.Topology, PhaseBridges, bridges)
}

func (c *Context) SaveFederation(ctx context.Context, federation topology.Federation) error {
	return c.store.Save(ctx, c.Topology, PhaseFederation, federation)
}
