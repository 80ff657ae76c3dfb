package federation

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/JYBWOB/k8s-for-zj/internal/topology"
)

var (
	ErrNoPeerID = errors.New("no peer id in output")

	peerIDPattern = regexp.MustCompile(`^(Qm[1-9A-HJ-NP-Za-km-z]{44}|12D3KooW[1-9A-HJ-NP-Za-km-z]{44,48})$`)
)

// Peer is one federation node address book entry.
type Peer struct {
	Host   string
	Port   int
	PeerID string
}

// Multiaddr renders the libp2p address of the peer.
func (p Peer) Multiaddr() string {
	return fmt.Sprintf("/ip4/%s/tcp/%d/p2p/%s", p.Host, p.Port, p.PeerID)
}

// AddressBook is what one federation node knows about the mesh. The root
// knows every satellite; a satellite knows only the root.
type AddressBook struct {
	Node  string
	Self  Peer
	Peers []Peer
}

// Connectors lists the node's own address followed by its peers.
func (b AddressBook) Connectors() []string {
	connectors := make([]string, 0, len(b.Peers)+1)
	connectors = append(connectors, b.Self.Multiaddr())
	for _, peer := range b.Peers {
		connectors = append(connectors, peer.Multiaddr())
	}
	return connectors
}

// BuildAddressBooks derives the star-shaped address books of a federation
// keyed by node name.
func BuildAddressBooks(federation topology.Federation) (map[string]AddressBook, error) {
	rootName := topology.FederationNodeName(0)
	root, ok := federation[rootName]
	if !ok {
		return nil, fmt.Errorf("federation root '%s' is missing", rootName)
	}

	books := make(map[string]AddressBook, len(federation))
	rootBook := AddressBook{Node: rootName, Self: peerOf(root)}

	for _, name := range federation.Ordered() {
		if name == rootName {
			continue
		}

		node := federation[name]
		rootBook.Peers = append(rootBook.Peers, peerOf(node))
		books[name] = AddressBook{
			Node:  name,
			Self:  peerOf(node),
			Peers: []Peer{peerOf(root)},
		}
	}

	books[rootName] = rootBook
	return books, nil
}

// ParsePeerID returns the first libp2p peer id token in tool output.
func ParsePeerID(output string) (string, error) {
	for _, field := range strings.Fields(output) {
		if peerIDPattern.MatchString(field) {
			return field, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrNoPeerID, strings.TrimSpace(output))
}

func peerOf(node topology.FederationNodeState) Peer {
	return Peer{Host: node.FederationIP, Port: node.FederationPort, PeerID: node.FederationPeerID}
}
