package cluster

import (
	"strconv"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/intstr"

	"github.com/JYBWOB/k8s-for-zj/internal/topology"
)

const (
	managedByLabel = "app.kubernetes.io/managed-by"
	managedByValue = "relaynet"

	relayQuorumSize   = 4
	appchainRPCPort   = 8545
	appchainWSPort    = 8546

	genesisConfigMapName = "appchain-genesis"
	genesisSecretName    = "appchain-coinbase"
	genesisMountPath     = "/root/genesis"
)

// relayGRPCPorts lists the quorum node ports of a relay pod: base+1 .. base+4.
func relayGRPCPorts(basePort int) []int32 {
	ports := make([]int32, 0, relayQuorumSize)
	for n := 1; n <= relayQuorumSize; n++ {
		ports = append(ports, int32(basePort+n))
	}
	return ports
}

func roleLabels(role topology.Role) map[string]string {
	return map[string]string{
		topology.LabelRole: string(role),
		managedByLabel:     managedByValue,
	}
}

func indexedLabels(role topology.Role, index int) map[string]string {
	labels := roleLabels(role)
	labels[topology.LabelIndex] = strconv.Itoa(index)
	return labels
}

func relayPod(namespace string, index int, image, identitySecret, identityMountPath string, grpcBasePort int) *corev1.Pod {
	name := topology.RelayNodeName(index)

	ports := make([]corev1.ContainerPort, 0, relayQuorumSize)
	for n := 1; n <= relayQuorumSize; n++ {
		ports = append(ports, corev1.ContainerPort{
			Name:          "grpc-" + strconv.Itoa(n),
			ContainerPort: int32(grpcBasePort + n),
		})
	}

	return &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{
			Name:      name,
			Namespace: namespace,
			Labels:    indexedLabels(topology.RoleRelay, index),
		},
		Spec: corev1.PodSpec{
			Containers: []corev1.Container{{
				Name:  name,
				Image: image,
				Args:  []string{topology.BitxhubID(index)},
				Ports: ports,
				VolumeMounts: []corev1.VolumeMount{{
					Name:      "identity",
					MountPath: identityMountPath,
					ReadOnly:  true,
				}},
			}},
			Volumes: []corev1.Volume{{
				Name: "identity",
				VolumeSource: corev1.VolumeSource{
					Secret: &corev1.SecretVolumeSource{SecretName: identitySecret},
				},
			}},
		},
	}
}

func appchainDeployment(namespace, image string, replicas int32, withGenesis bool) *appsv1.Deployment {
	labels := roleLabels(topology.RoleAppchain)

	container := corev1.Container{
		Name:  "geth",
		Image: image,
		Ports: []corev1.ContainerPort{
			{Name: "rpc", ContainerPort: appchainRPCPort},
			{Name: "ws", ContainerPort: appchainWSPort},
		},
	}
	var volumes []corev1.Volume
	if withGenesis {
		container.VolumeMounts = []corev1.VolumeMount{{Name: "genesis", MountPath: genesisMountPath, ReadOnly: true}}
		volumes = []corev1.Volume{{
			Name: "genesis",
			VolumeSource: corev1.VolumeSource{
				ConfigMap: &corev1.ConfigMapVolumeSource{
					LocalObjectReference: corev1.LocalObjectReference{Name: genesisConfigMapName},
				},
			},
		}}
	}

	return &appsv1.Deployment{
		ObjectMeta: metav1.ObjectMeta{
			Name:      topology.AppchainWorkloadName,
			Namespace: namespace,
			Labels:    labels,
		},
		Spec: appsv1.DeploymentSpec{
			Replicas: &replicas,
			Selector: &metav1.LabelSelector{MatchLabels: map[string]string{topology.LabelRole: string(topology.RoleAppchain)}},
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{Labels: labels},
				Spec: corev1.PodSpec{
					Containers: []corev1.Container{container},
					Volumes:    volumes,
				},
			},
		},
	}
}

func headlessService(namespace string, role topology.Role, ports ...int32) *corev1.Service {
	servicePorts := make([]corev1.ServicePort, 0, len(ports))
	for _, port := range ports {
		servicePorts = append(servicePorts, corev1.ServicePort{
			Name:       "p" + strconv.Itoa(int(port)),
			Port:       port,
			TargetPort: intstr.FromInt32(port),
		})
	}

	return &corev1.Service{
		ObjectMeta: metav1.ObjectMeta{
			Name:      string(role),
			Namespace: namespace,
			Labels:    roleLabels(role),
		},
		Spec: corev1.ServiceSpec{
			ClusterIP: corev1.ClusterIPNone,
			Selector:  map[string]string{topology.LabelRole: string(role)},
			Ports:     servicePorts,
		},
	}
}

// hostDirPod runs image with hostDir mounted at mountPath. The directory
// must already exist on whichever worker the pod lands on.
func hostDirPod(namespace, name string, labels map[string]string, image, hostDir, mountPath string, ports ...int32) *corev1.Pod {
	hostPathType := corev1.HostPathDirectory

	containerPorts := make([]corev1.ContainerPort, 0, len(ports))
	for _, port := range ports {
		containerPorts = append(containerPorts, corev1.ContainerPort{ContainerPort: port})
	}

	return &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{
			Name:      name,
			Namespace: namespace,
			Labels:    labels,
		},
		Spec: corev1.PodSpec{
			Containers: []corev1.Container{{
				Name:         name,
				Image:        image,
				Ports:        containerPorts,
				VolumeMounts: []corev1.VolumeMount{{Name: name, MountPath: mountPath}},
			}},
			Volumes: []corev1.Volume{{
				Name: name,
				VolumeSource: corev1.VolumeSource{
					HostPath: &corev1.HostPathVolumeSource{Path: hostDir, Type: &hostPathType},
				},
			}},
		},
	}
}

func federationService(namespace string, index int, port int32) *corev1.Service {
	return &corev1.Service{
		ObjectMeta: metav1.ObjectMeta{
			Name:      topology.FederationNodeName(index),
			Namespace: namespace,
			Labels:    indexedLabels(topology.RoleFederation, index),
		},
		Spec: corev1.ServiceSpec{
			Selector: map[string]string{
				topology.LabelRole:  string(topology.RoleFederation),
				topology.LabelIndex: strconv.Itoa(index),
			},
			Ports: []corev1.ServicePort{{
				Name:       "p2p",
				Port:       port,
				TargetPort: intstr.FromInt32(port),
			}},
		},
	}
}
