package bridge

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

const (
	// ConfigFile is the bridge agent's main document inside its repo dir.
	ConfigFile = "pier.toml"

	connectorConfigFile = "ethereum.toml"
	relayQuorumSize     = 4
)

// RewriteTOML sets dotted key paths in an existing TOML document and writes
// it back in place. Keys not named in values are preserved with their case.
func RewriteTOML(path string, values map[string]any) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("failed to read '%s': %w", path, err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read '%s': %w", path, err)
	}

	doc := map[string]any{}
	if err := toml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("failed to parse '%s': %w", path, err)
	}

	for key, value := range values {
		if err := setPath(doc, strings.Split(key, "."), value); err != nil {
			return fmt.Errorf("failed to set '%s' in '%s': %w", key, path, err)
		}
	}

	out, err := toml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to encode '%s': %w", path, err)
	}
	if err := os.WriteFile(path, out, info.Mode().Perm()); err != nil {
		return fmt.Errorf("failed to write '%s': %w", path, err)
	}

	return nil
}

// setPath assigns value at keys, creating missing tables on the way.
func setPath(doc map[string]any, keys []string, value any) error {
	table := doc
	for _, key := range keys[:len(keys)-1] {
		next, ok := table[key]
		if !ok {
			child := map[string]any{}
			table[key] = child
			table = child
			continue
		}

		child, ok := next.(map[string]any)
		if !ok {
			return fmt.Errorf("'%s' is not a table", key)
		}
		table = child
	}

	table[keys[len(keys)-1]] = value
	return nil
}

// RelayAddrs lists the gRPC addresses of the four quorum nodes behind one
// relay pod: ip:basePort+1 .. ip:basePort+4.
func RelayAddrs(ip string, basePort int) []string {
	addrs := make([]string, 0, relayQuorumSize)
	for n := 1; n <= relayQuorumSize; n++ {
		addrs = append(addrs, net.JoinHostPort(ip, strconv.Itoa(basePort+n)))
	}
	return addrs
}

type (
	// AgentSettings are the pier.toml values rendered for one bridge.
	AgentSettings struct {
		RelayAddrs   []string
		RelayTimeout string
		AppchainID   string
		Plugin       string
		Connector    string
	}

	// ConnectorSettings are the appchain connector values for one bridge.
	ConnectorSettings struct {
		WebsocketAddr   string
		ContractAddress string
	}
)

func (s AgentSettings) values() map[string]any {
	return map[string]any{
		"mode.relay.addrs":         s.RelayAddrs,
		"mode.relay.timeout_limit": s.RelayTimeout,
		"mode.union.addrs":         s.RelayAddrs,
		"appchain.id":              s.AppchainID,
		"appchain.plugin":          s.Plugin,
		"appchain.config":          s.Connector,
	}
}

func (s ConnectorSettings) values() map[string]any {
	return map[string]any{
		"ether.addr":             s.WebsocketAddr,
		"ether.contract_address": s.ContractAddress,
	}
}
