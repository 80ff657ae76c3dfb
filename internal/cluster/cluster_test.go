package cluster

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes/fake"

	"github.com/JYBWOB/k8s-for-zj/configs"
	"github.com/JYBWOB/k8s-for-zj/internal/retry"
	"github.com/JYBWOB/k8s-for-zj/internal/topology"
)

const (
	testNamespace     = "relaynet-test"
	testRelayBasePort = 60010
)

var fastBound = retry.Bound{Interval: 5 * time.Millisecond, Timeout: 60 * time.Millisecond}

func newTestClient(t *testing.T) (*Client, *fake.Clientset) {
	t.Helper()

	clientset := fake.NewClientset()
	return NewFromClientset(clientset, nil, time.Second), clientset
}

func testProvisionConfig() configs.Provision {
	return configs.Provision{
		Images: configs.Images{
			Relay:      "relay:test",
			Appchain:   "geth:test",
			Bridge:     "pier:test",
			Federation: "pier:test",
		},
		Identity: configs.Identity{
			RootSecret:      "root-identity",
			SatelliteSecret: "satellite-identity",
			MountPath:       "/root/identity",
		},
	}
}

func podWithIP(name string, role topology.Role, ip string) *corev1.Pod {
	return &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{
			Name:      name,
			Namespace: testNamespace,
			Labels:    roleLabels(role),
		},
		Status: corev1.PodStatus{PodIP: ip},
	}
}

func TestEnsureNamespace_Idempotent(t *testing.T) {
	t.Parallel()

	client, _ := newTestClient(t)
	ctx := context.Background()

	outcome, err := client.EnsureNamespace(ctx, testNamespace)
	require.NoError(t, err)
	assert.Equal(t, Created, outcome)

	outcome, err = client.EnsureNamespace(ctx, testNamespace)
	require.NoError(t, err)
	assert.Equal(t, AlreadyPresent, outcome)

	exists, err := client.NamespaceExists(ctx, testNamespace)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestTeardownNamespace(t *testing.T) {
	t.Parallel()

	client, _ := newTestClient(t)
	ctx := context.Background()

	require.NoError(t, client.TeardownNamespace(ctx, "absent", fastBound))

	_, err := client.EnsureNamespace(ctx, testNamespace)
	require.NoError(t, err)
	require.NoError(t, client.TeardownNamespace(ctx, testNamespace, fastBound))

	exists, err := client.NamespaceExists(ctx, testNamespace)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestCreatePod_AlreadyPresent(t *testing.T) {
	t.Parallel()

	client, _ := newTestClient(t)
	ctx := context.Background()

	outcome, err := client.CreatePod(ctx, podWithIP("relay-0", topology.RoleRelay, "10.0.0.1"))
	require.NoError(t, err)
	assert.Equal(t, Created, outcome)

	outcome, err = client.CreatePod(ctx, podWithIP("relay-0", topology.RoleRelay, "10.0.0.1"))
	require.NoError(t, err)
	assert.Equal(t, AlreadyPresent, outcome)
}

func TestProvisionGraph_ReplicaCounts(t *testing.T) {
	t.Parallel()

	client, clientset := newTestClient(t)
	ctx := context.Background()
	spec := topology.Spec{RelayNodes: []topology.RelayNodeSpec{{AppchainCount: 2}, {AppchainCount: 1}}}

	graph, err := NewProvisioner(client, testProvisionConfig(), testRelayBasePort).ProvisionGraph(ctx, testNamespace, spec)
	require.NoError(t, err)
	require.Len(t, graph, 2)
	assert.Equal(t, "relay-1", graph[1].ID)
	assert.Equal(t, "1231", graph[1].BitxhubID)

	pods, err := clientset.CoreV1().Pods(testNamespace).List(ctx, metav1.ListOptions{LabelSelector: topology.RoleRelay.Selector()})
	require.NoError(t, err)
	require.Len(t, pods.Items, 2)

	secrets := map[string]string{}
	for _, pod := range pods.Items {
		secrets[pod.Name] = pod.Spec.Volumes[0].Secret.SecretName
	}
	assert.Equal(t, "root-identity", secrets["relay-0"])
	assert.Equal(t, "satellite-identity", secrets["relay-1"])

	deployment, err := clientset.AppsV1().Deployments(testNamespace).Get(ctx, topology.AppchainWorkloadName, metav1.GetOptions{})
	require.NoError(t, err)
	require.NotNil(t, deployment.Spec.Replicas)
	assert.EqualValues(t, 3, *deployment.Spec.Replicas)

	services, err := clientset.CoreV1().Services(testNamespace).List(ctx, metav1.ListOptions{})
	require.NoError(t, err)
	assert.Len(t, services.Items, 2)
}

func TestProvisionGraph_RelayPortsFollowBasePort(t *testing.T) {
	t.Parallel()

	client, clientset := newTestClient(t)
	ctx := context.Background()
	spec := topology.Spec{RelayNodes: []topology.RelayNodeSpec{{AppchainCount: 1}}}

	_, err := NewProvisioner(client, testProvisionConfig(), 61000).ProvisionGraph(ctx, testNamespace, spec)
	require.NoError(t, err)

	pod, err := clientset.CoreV1().Pods(testNamespace).Get(ctx, "relay-0", metav1.GetOptions{})
	require.NoError(t, err)
	var podPorts []int32
	for _, port := range pod.Spec.Containers[0].Ports {
		podPorts = append(podPorts, port.ContainerPort)
	}
	assert.Equal(t, []int32{61001, 61002, 61003, 61004}, podPorts)

	service, err := clientset.CoreV1().Services(testNamespace).Get(ctx, string(topology.RoleRelay), metav1.GetOptions{})
	require.NoError(t, err)
	var servicePorts []int32
	for _, port := range service.Spec.Ports {
		servicePorts = append(servicePorts, port.Port)
	}
	assert.Equal(t, []int32{61001, 61002, 61003, 61004}, servicePorts)

	_, err = NewProvisioner(client, testProvisionConfig(), 0).ProvisionGraph(ctx, testNamespace, spec)
	assert.ErrorContains(t, err, "relay base port")
}

func TestProvisionGraph_Genesis(t *testing.T) {
	t.Parallel()

	client, clientset := newTestClient(t)
	ctx := context.Background()
	cfg := testProvisionConfig()
	cfg.Genesis = configs.Genesis{Enabled: true, Accounts: 2, ChainID: 15}
	spec := topology.Spec{RelayNodes: []topology.RelayNodeSpec{{AppchainCount: 1}}}

	_, err := NewProvisioner(client, cfg, testRelayBasePort).ProvisionGraph(ctx, testNamespace, spec)
	require.NoError(t, err)

	configMap, err := clientset.CoreV1().ConfigMaps(testNamespace).Get(ctx, genesisConfigMapName, metav1.GetOptions{})
	require.NoError(t, err)
	assert.Contains(t, configMap.Data["genesis.json"], `"chainId":15`)

	secret, err := clientset.CoreV1().Secrets(testNamespace).Get(ctx, genesisSecretName, metav1.GetOptions{})
	require.NoError(t, err)
	assert.NotEmpty(t, secret.StringData["private_key"])

	deployment, err := clientset.AppsV1().Deployments(testNamespace).Get(ctx, topology.AppchainWorkloadName, metav1.GetOptions{})
	require.NoError(t, err)
	require.Len(t, deployment.Spec.Template.Spec.Volumes, 1)
	assert.Equal(t, genesisConfigMapName, deployment.Spec.Template.Spec.Volumes[0].ConfigMap.Name)
}

func TestProvisionGraph_EmptySpec(t *testing.T) {
	t.Parallel()

	client, _ := newTestClient(t)
	_, err := NewProvisioner(client, testProvisionConfig(), testRelayBasePort).ProvisionGraph(context.Background(), testNamespace, topology.Spec{})
	assert.ErrorIs(t, err, topology.ErrEmptySpec)
}

func TestProvisionBridge_HostPathMount(t *testing.T) {
	t.Parallel()

	client, clientset := newTestClient(t)
	ctx := context.Background()

	outcome, err := NewProvisioner(client, testProvisionConfig(), testRelayBasePort).
		ProvisionBridge(ctx, testNamespace, "pier-0-0", "/data/relaynet/mount_pier0_0", "/root/.pier")
	require.NoError(t, err)
	assert.Equal(t, Created, outcome)

	pod, err := clientset.CoreV1().Pods(testNamespace).Get(ctx, "pier-0-0", metav1.GetOptions{})
	require.NoError(t, err)
	assert.Equal(t, string(topology.RoleBridge), pod.Labels[topology.LabelRole])
	assert.Equal(t, "/data/relaynet/mount_pier0_0", pod.Spec.Volumes[0].HostPath.Path)
	assert.Equal(t, "/root/.pier", pod.Spec.Containers[0].VolumeMounts[0].MountPath)
}

func TestResolveUntilReady_Immediate(t *testing.T) {
	t.Parallel()

	client, _ := newTestClient(t)
	ctx := context.Background()
	for name, ip := range map[string]string{"appchain-b": "10.0.1.2", "appchain-a": "10.0.1.1"} {
		_, err := client.CreatePod(ctx, podWithIP(name, topology.RoleAppchain, ip))
		require.NoError(t, err)
	}

	endpoints, err := NewResolver(client, retry.Bound{Interval: time.Second, Timeout: time.Minute}).
		ResolveUntilReady(ctx, testNamespace, topology.RoleAppchain, 2)
	require.NoError(t, err)
	assert.Equal(t, []topology.Endpoint{
		{Name: "appchain-a", IP: "10.0.1.1"},
		{Name: "appchain-b", IP: "10.0.1.2"},
	}, endpoints)
}

func TestResolveUntilReady_TimesOutOnUnsetAddress(t *testing.T) {
	t.Parallel()

	client, _ := newTestClient(t)
	ctx := context.Background()
	_, err := client.CreatePod(ctx, podWithIP("relay-0", topology.RoleRelay, ""))
	require.NoError(t, err)

	start := time.Now()
	_, err = NewResolver(client, fastBound).ResolveUntilReady(ctx, testNamespace, topology.RoleRelay, 1)
	require.ErrorIs(t, err, ErrResolutionTimeout)
	assert.ErrorIs(t, err, retry.ErrTimeout)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestResolveUntilReady_TimesOutOnCountMismatch(t *testing.T) {
	t.Parallel()

	client, _ := newTestClient(t)
	ctx := context.Background()
	_, err := client.CreatePod(ctx, podWithIP("relay-0", topology.RoleRelay, "10.0.0.1"))
	require.NoError(t, err)

	_, err = NewResolver(client, fastBound).ResolveUntilReady(ctx, testNamespace, topology.RoleRelay, 2)
	assert.ErrorIs(t, err, ErrResolutionTimeout)
}

func TestResolveUntilReady_Cancelled(t *testing.T) {
	t.Parallel()

	client, _ := newTestClient(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewResolver(client, retry.Bound{Interval: time.Second, Timeout: time.Minute}).
		ResolveUntilReady(ctx, testNamespace, topology.RoleRelay, 1)
	assert.ErrorIs(t, err, ErrResolutionTimeout)
}

func TestResolveGraph_Partitions(t *testing.T) {
	t.Parallel()

	client, _ := newTestClient(t)
	ctx := context.Background()

	pods := []*corev1.Pod{
		podWithIP("relay-1", topology.RoleRelay, "10.0.0.2"),
		podWithIP("relay-0", topology.RoleRelay, "10.0.0.1"),
		podWithIP("appchain-c", topology.RoleAppchain, "10.0.1.3"),
		podWithIP("appchain-a", topology.RoleAppchain, "10.0.1.1"),
		podWithIP("appchain-b", topology.RoleAppchain, "10.0.1.2"),
	}
	for _, pod := range pods {
		_, err := client.CreatePod(ctx, pod)
		require.NoError(t, err)
	}

	spec := topology.Spec{RelayNodes: []topology.RelayNodeSpec{{AppchainCount: 2}, {AppchainCount: 1}}}
	graph, err := NewResolver(client, fastBound).ResolveGraph(ctx, testNamespace, spec.Graph())
	require.NoError(t, err)

	assert.Equal(t, "10.0.0.1", graph[0].IP)
	assert.Equal(t, []string{"10.0.1.1", "10.0.1.2"}, graph[0].ChainIPs)
	assert.Equal(t, []string{"10.0.1.3"}, graph[1].ChainIPs)
	require.NoError(t, graph.RequireResolved())
}

func TestResolveServiceIP(t *testing.T) {
	t.Parallel()

	client, clientset := newTestClient(t)
	ctx := context.Background()

	service := federationService(testNamespace, 0, 44550)
	service.Spec.ClusterIP = "10.96.0.10"
	_, err := clientset.CoreV1().Services(testNamespace).Create(ctx, service, metav1.CreateOptions{})
	require.NoError(t, err)

	ip, err := NewResolver(client, fastBound).ResolveServiceIP(ctx, testNamespace, "union-0")
	require.NoError(t, err)
	assert.Equal(t, "10.96.0.10", ip)
}

func TestReadyNodeIPs_FiltersNotReadyAndExcluded(t *testing.T) {
	t.Parallel()

	client, clientset := newTestClient(t)
	ctx := context.Background()

	node := func(name, ip string, status corev1.ConditionStatus) *corev1.Node {
		return &corev1.Node{
			ObjectMeta: metav1.ObjectMeta{Name: name},
			Status: corev1.NodeStatus{
				Conditions: []corev1.NodeCondition{{Type: corev1.NodeReady, Status: status}},
				Addresses: []corev1.NodeAddress{
					{Type: corev1.NodeHostName, Address: name},
					{Type: corev1.NodeInternalIP, Address: ip},
				},
			},
		}
	}
	for _, n := range []*corev1.Node{
		node("master", "10.206.0.7", corev1.ConditionTrue),
		node("worker-b", "10.206.0.9", corev1.ConditionTrue),
		node("worker-a", "10.206.0.8", corev1.ConditionTrue),
		node("worker-down", "10.206.0.10", corev1.ConditionFalse),
	} {
		_, err := clientset.CoreV1().Nodes().Create(ctx, n, metav1.CreateOptions{})
		require.NoError(t, err)
	}

	ips, err := client.ReadyNodeIPs(ctx, []string{"10.206.0.7"})
	require.NoError(t, err)
	assert.Equal(t, []string{"10.206.0.8", "10.206.0.9"}, ips)
}

func TestExec_RequiresRestConfig(t *testing.T) {
	t.Parallel()

	client, _ := newTestClient(t)
	_, err := client.Exec(context.Background(), testNamespace, "relay-0", []string{"true"})
	assert.ErrorIs(t, err, ErrExecUnavailable)
}
