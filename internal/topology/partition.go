package topology

import (
	"errors"
	"fmt"
	"slices"
	"sort"
	"strconv"
	"strings"
)

// Endpoint is a named workload with its resolved network address.
type Endpoint struct {
	Name string
	IP   string
}

var ErrPartition = errors.New("appchain pool does not match declared appchain counts")

// SortEndpoints orders endpoints by name so that assignment never depends on
// the order in which the cluster listed them.
func SortEndpoints(endpoints []Endpoint) []Endpoint {
	sorted := slices.Clone(endpoints)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Name < sorted[j].Name
	})
	return sorted
}

// Partition assigns resolved addresses onto the graph. Relay pods are matched
// by name; appchains are handed out in declaration order from the name-sorted
// pool, each node taking exactly its appchainCount entries.
func Partition(graph Graph, relayPods, appchainPods []Endpoint) (Graph, error) {
	relayIPs := make(map[string]string, len(relayPods))
	for _, pod := range relayPods {
		relayIPs[pod.Name] = pod.IP
	}

	var declared uint
	for _, node := range graph {
		declared += node.AppchainCount
	}
	if uint(len(appchainPods)) != declared {
		return nil, fmt.Errorf("%w: %d resolved, %d declared", ErrPartition, len(appchainPods), declared)
	}

	pool := SortEndpoints(appchainPods)
	resolved := make(Graph, 0, len(graph))
	next := 0

	for _, node := range graph {
		ip, ok := relayIPs[node.ID]
		if !ok || ip == "" {
			return nil, fmt.Errorf("relay node '%s' has no resolved address", node.ID)
		}

		take := int(node.AppchainCount)
		node.IP = ip
		node.ChainNames = make([]string, 0, take)
		node.ChainIPs = make([]string, 0, take)
		for _, pod := range pool[next : next+take] {
			node.ChainNames = append(node.ChainNames, pod.Name)
			node.ChainIPs = append(node.ChainIPs, pod.IP)
		}
		next += take

		resolved = append(resolved, node)
	}

	return resolved, nil
}

// FederationIndex extracts i from a union-<i> node name.
func FederationIndex(name string) (int, error) {
	raw, ok := strings.CutPrefix(name, "union-")
	if !ok {
		return 0, fmt.Errorf("'%s' is not a federation node name", name)
	}
	return strconv.Atoi(raw)
}

// Ordered returns federation node names sorted by node index, root first.
func (f Federation) Ordered() []string {
	names := make([]string, 0, len(f))
	for name := range f {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		a, errA := FederationIndex(names[i])
		b, errB := FederationIndex(names[j])
		if errA != nil || errB != nil {
			return names[i] < names[j]
		}
		return a < b
	})
	return names
}
