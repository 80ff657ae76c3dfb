package topology

import (
	"errors"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"
)

type (
	RelayNodeState struct {
		ID               string   `json:"id"`
		BitxhubID        string   `json:"bitxhubId"`
		IP               string   `json:"ip"`
		ChainNames       []string `json:"chainNames"`
		ChainIPs         []string `json:"chainIps"`
		BridgeNamePrefix string   `json:"bridgeNamePrefix"`
		AppchainCount    uint     `json:"appchainCount"`
	}

	AppchainState struct {
		IP           string `json:"ip"`
		BrokerAddr   string `json:"brokerAddr"`
		TransferAddr string `json:"transferAddr"`
		AppchainID   string `json:"appchainId"`
		RelayNodeID  string `json:"relayNodeId"`
	}

	BridgeState struct {
		BridgeName    string `json:"bridgeName"`
		RelayNodeRef  string `json:"relayNodeRef"`
		AppchainID    string `json:"appchainId"`
		BridgeAppName string `json:"bridgeAppName"`
		AppchainType  string `json:"appchainType"`
		AppchainIP    string `json:"appchainIp"`
	}

	FederationNodeState struct {
		RelayNodeRef       string `json:"relayNodeRef"`
		RelayNodeIP        string `json:"relayNodeIp"`
		RelayNodeBitxhubID string `json:"relayNodeBitxhubId"`
		FederationIP       string `json:"federationIp"`
		FederationPort     int    `json:"federationPort"`
		FederationPeerID   string `json:"federationPeerId"`
	}

	// Graph is the relay-node phase document, one entry per declared relay node.
	Graph []RelayNodeState

	// ContractDeployment is keyed by appchain IP.
	ContractDeployment map[string]AppchainState

	// Bridges is keyed by bridge name.
	Bridges map[string]BridgeState

	// Federation is keyed by federation node name; union-0 is the root.
	Federation map[string]FederationNodeState
)

var ErrUnresolved = errors.New("graph has unresolved addresses")

func (g Graph) Validate() error {
	var errs []error
	seen := make(map[string]struct{}, len(g))

	for i, node := range g {
		if node.ID == "" || node.BitxhubID == "" || node.BridgeNamePrefix == "" {
			errs = append(errs, fmt.Errorf("graph[%d]: id, bitxhubId and bridgeNamePrefix are required", i))
		}
		if _, dup := seen[node.ID]; dup {
			errs = append(errs, fmt.Errorf("graph[%d]: duplicate id '%s'", i, node.ID))
		}
		seen[node.ID] = struct{}{}
		if len(node.ChainNames) != len(node.ChainIPs) {
			errs = append(errs, fmt.Errorf("graph[%d]: chainNames and chainIps differ in length", i))
		}
		if len(node.ChainIPs) != 0 && uint(len(node.ChainIPs)) != node.AppchainCount {
			errs = append(errs, fmt.Errorf("graph[%d]: %d chain ips for appchainCount %d", i, len(node.ChainIPs), node.AppchainCount))
		}
	}

	return errors.Join(errs...)
}

// RequireResolved fails unless every relay node and appchain has an address.
func (g Graph) RequireResolved() error {
	for _, node := range g {
		if node.IP == "" || uint(len(node.ChainIPs)) != node.AppchainCount {
			return fmt.Errorf("%w: relay node '%s'", ErrUnresolved, node.ID)
		}
	}
	return nil
}

func (g Graph) Node(id string) (RelayNodeState, bool) {
	for _, node := range g {
		if node.ID == id {
			return node, true
		}
	}
	return RelayNodeState{}, false
}

func (d ContractDeployment) Validate() error {
	var errs []error
	ids := make(map[string]string, len(d))

	for ip, appchain := range d {
		if ip != appchain.IP {
			errs = append(errs, fmt.Errorf("deploy[%s]: key does not match ip '%s'", ip, appchain.IP))
		}
		if !common.IsHexAddress(appchain.BrokerAddr) {
			errs = append(errs, fmt.Errorf("deploy[%s]: brokerAddr is not a hex address", ip))
		}
		if !common.IsHexAddress(appchain.TransferAddr) {
			errs = append(errs, fmt.Errorf("deploy[%s]: transferAddr is not a hex address", ip))
		}
		if appchain.AppchainID == "" || appchain.RelayNodeID == "" {
			errs = append(errs, fmt.Errorf("deploy[%s]: appchainId and relayNodeId are required", ip))
		}
		if other, dup := ids[appchain.AppchainID]; dup {
			errs = append(errs, fmt.Errorf("deploy[%s]: appchainId '%s' already used by %s", ip, appchain.AppchainID, other))
		}
		ids[appchain.AppchainID] = ip
	}

	return errors.Join(errs...)
}

func (b Bridges) Validate() error {
	var errs []error

	for name, bridge := range b {
		if name != bridge.BridgeName {
			errs = append(errs, fmt.Errorf("pier[%s]: key does not match bridgeName '%s'", name, bridge.BridgeName))
		}
		if bridge.RelayNodeRef == "" || bridge.AppchainID == "" || bridge.AppchainIP == "" {
			errs = append(errs, fmt.Errorf("pier[%s]: relayNodeRef, appchainId and appchainIp are required", name))
		}
		if bridge.AppchainType != AppchainTypeETH {
			errs = append(errs, fmt.Errorf("pier[%s]: unsupported appchainType '%s'", name, bridge.AppchainType))
		}
	}

	return errors.Join(errs...)
}

// Names returns the bridge names in lexical order.
func (b Bridges) Names() []string {
	names := make([]string, 0, len(b))
	for name := range b {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (f Federation) Validate() error {
	var errs []error

	for name, node := range f {
		if node.RelayNodeRef == "" || node.RelayNodeBitxhubID == "" {
			errs = append(errs, fmt.Errorf("union[%s]: relayNodeRef and relayNodeBitxhubId are required", name))
		}
		if node.FederationIP == "" || node.FederationPort <= 0 || node.FederationPeerID == "" {
			errs = append(errs, fmt.Errorf("union[%s]: federationIp, federationPort and federationPeerId are required", name))
		}
	}

	if len(f) > 0 {
		if _, ok := f[FederationNodeName(0)]; !ok {
			errs = append(errs, fmt.Errorf("union: root node '%s' is missing", FederationNodeName(0)))
		}
	}

	return errors.Join(errs...)
}
