package topology

import "fmt"

// Role labels select pods and services per topology role.
type Role string

const (
	RoleRelay      Role = "relay"
	RoleAppchain   Role = "appchain"
	RoleBridge     Role = "bridge"
	RoleFederation Role = "federation"

	LabelRole  = "relaynet/role"
	LabelIndex = "relaynet/index"

	AppchainTypeETH      = "ETH"
	AppchainTypeRelay    = "relaychain"
	AppchainWorkloadName = "appchain"
)

func (r Role) Selector() string {
	return fmt.Sprintf("%s=%s", LabelRole, r)
}

func RelayNodeName(i int) string {
	return fmt.Sprintf("relay-%d", i)
}

// BitxhubID is the startup argument handed to relay node i.
func BitxhubID(i int) string {
	return fmt.Sprintf("123%d", i)
}

func BridgeNamePrefix(i int) string {
	return fmt.Sprintf("pier-%d", i)
}

func BridgeName(prefix string, j int) string {
	return fmt.Sprintf("%s-%d", prefix, j)
}

func BridgeAppName(i, j int) string {
	return fmt.Sprintf("eth%d%d", i, j)
}

func BridgeMountDir(i, j int) string {
	return fmt.Sprintf("mount_pier%d_%d", i, j)
}

func AppchainID(n int) string {
	return fmt.Sprintf("ethappchain%d", n)
}

func FederationNodeName(i int) string {
	return fmt.Sprintf("union-%d", i)
}

func FederationMountDir(i int) string {
	return fmt.Sprintf("mount_union%d", i)
}
