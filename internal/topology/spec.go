package topology

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

type (
	// RelayNodeSpec declares one relay node and how many appchains it anchors.
	RelayNodeSpec struct {
		AppchainCount uint `yaml:"appchain-count" json:"appchainCount"`
	}

	// Spec is the declarative topology input. Order is significant: it drives
	// node indices and the appchain partition.
	Spec struct {
		RelayNodes []RelayNodeSpec `yaml:"relay-nodes" json:"relayNodes"`
	}

	legacySpec struct {
		Graph []struct {
			Eth uint `json:"eth" yaml:"eth"`
		} `json:"graph" yaml:"graph"`
	}
)

var ErrEmptySpec = errors.New("topology declares no relay nodes")

// LoadSpec reads a topology spec from a YAML or JSON file. The legacy
// {"graph":[{"eth":N}]} layout is accepted as well.
func LoadSpec(path string) (Spec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Spec{}, fmt.Errorf("failed to read topology spec '%s': %w", path, err)
	}

	return ParseSpec(data, strings.ToLower(filepath.Ext(path)) == ".json")
}

func ParseSpec(data []byte, isJSON bool) (Spec, error) {
	unmarshal := yaml.Unmarshal
	if isJSON {
		unmarshal = json.Unmarshal
	}

	var spec Spec
	if err := unmarshal(data, &spec); err != nil {
		return Spec{}, fmt.Errorf("failed to decode topology spec: %w", err)
	}

	if len(spec.RelayNodes) == 0 {
		var legacy legacySpec
		if err := unmarshal(data, &legacy); err != nil {
			return Spec{}, fmt.Errorf("failed to decode topology spec: %w", err)
		}
		for _, node := range legacy.Graph {
			spec.RelayNodes = append(spec.RelayNodes, RelayNodeSpec{AppchainCount: node.Eth})
		}
	}

	if err := spec.Validate(); err != nil {
		return Spec{}, err
	}

	return spec, nil
}

func (s Spec) Validate() error {
	if len(s.RelayNodes) == 0 {
		return ErrEmptySpec
	}
	return nil
}

func (s Spec) RelayReplicas() int {
	return len(s.RelayNodes)
}

func (s Spec) AppchainReplicas() int {
	total := 0
	for _, node := range s.RelayNodes {
		total += int(node.AppchainCount)
	}
	return total
}

// Graph returns the unresolved relay-node records for the spec.
func (s Spec) Graph() Graph {
	graph := make(Graph, 0, len(s.RelayNodes))
	for i, node := range s.RelayNodes {
		graph = append(graph, RelayNodeState{
			ID:               RelayNodeName(i),
			BitxhubID:        BitxhubID(i),
			ChainNames:       []string{},
			ChainIPs:         []string{},
			BridgeNamePrefix: BridgeNamePrefix(i),
			AppchainCount:    node.AppchainCount,
		})
	}
	return graph
}
