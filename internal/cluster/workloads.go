package cluster

import (
	"context"
	"fmt"
	"slices"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/JYBWOB/k8s-for-zj/internal/topology"
)

// UnsetAddress is reported for pods and services that have no address yet.
const UnsetAddress = "<none>"

func (c *Client) CreatePod(ctx context.Context, pod *corev1.Pod) (Outcome, error) {
	_, err := c.clientset.CoreV1().Pods(pod.Namespace).Create(ctx, pod, metav1.CreateOptions{})
	return c.outcome("pod", pod.Namespace, pod.Name, err)
}

func (c *Client) CreateDeployment(ctx context.Context, deployment *appsv1.Deployment) (Outcome, error) {
	_, err := c.clientset.AppsV1().Deployments(deployment.Namespace).Create(ctx, deployment, metav1.CreateOptions{})
	return c.outcome("deployment", deployment.Namespace, deployment.Name, err)
}

func (c *Client) CreateService(ctx context.Context, service *corev1.Service) (Outcome, error) {
	_, err := c.clientset.CoreV1().Services(service.Namespace).Create(ctx, service, metav1.CreateOptions{})
	return c.outcome("service", service.Namespace, service.Name, err)
}

func (c *Client) CreateConfigMap(ctx context.Context, configMap *corev1.ConfigMap) (Outcome, error) {
	_, err := c.clientset.CoreV1().ConfigMaps(configMap.Namespace).Create(ctx, configMap, metav1.CreateOptions{})
	return c.outcome("configmap", configMap.Namespace, configMap.Name, err)
}

func (c *Client) CreateSecret(ctx context.Context, secret *corev1.Secret) (Outcome, error) {
	_, err := c.clientset.CoreV1().Secrets(secret.Namespace).Create(ctx, secret, metav1.CreateOptions{})
	return c.outcome("secret", secret.Namespace, secret.Name, err)
}

func (c *Client) outcome(kind, namespace, name string, err error) (Outcome, error) {
	if err == nil {
		c.logger.With("kind", kind, "namespace", namespace, "resource", name).Debug("resource created")
		return Created, nil
	}
	if apierrors.IsAlreadyExists(err) {
		c.logger.With("kind", kind, "namespace", namespace, "resource", name).Debug("resource already present")
		return AlreadyPresent, nil
	}
	return "", fmt.Errorf("failed to create %s %s/%s: %w", kind, namespace, name, err)
}

// Endpoints lists the pods of a role with their pod IPs, UnsetAddress for
// pods not scheduled yet. Terminating pods are skipped.
func (c *Client) Endpoints(ctx context.Context, namespace string, role topology.Role) ([]topology.Endpoint, error) {
	pods, err := c.clientset.CoreV1().Pods(namespace).List(ctx, metav1.ListOptions{LabelSelector: role.Selector()})
	if err != nil {
		return nil, fmt.Errorf("failed to list %s pods in %s: %w", role, namespace, err)
	}

	endpoints := make([]topology.Endpoint, 0, len(pods.Items))
	for _, pod := range pods.Items {
		if pod.DeletionTimestamp != nil {
			continue
		}
		ip := pod.Status.PodIP
		if ip == "" {
			ip = UnsetAddress
		}
		endpoints = append(endpoints, topology.Endpoint{Name: pod.Name, IP: ip})
	}

	return topology.SortEndpoints(endpoints), nil
}

// ServiceIP returns the ClusterIP of a service, UnsetAddress if none is
// allocated yet.
func (c *Client) ServiceIP(ctx context.Context, namespace, name string) (string, error) {
	service, err := c.clientset.CoreV1().Services(namespace).Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		return "", fmt.Errorf("failed to get service %s/%s: %w", namespace, name, err)
	}

	ip := service.Spec.ClusterIP
	if ip == "" || ip == corev1.ClusterIPNone {
		return UnsetAddress, nil
	}
	return ip, nil
}

// ReadyNodeIPs returns the InternalIP of every node whose Ready condition is
// true, minus the excluded addresses.
func (c *Client) ReadyNodeIPs(ctx context.Context, exclude []string) ([]string, error) {
	nodes, err := c.clientset.CoreV1().Nodes().List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to list nodes: %w", err)
	}

	var ips []string
	for _, node := range nodes.Items {
		if !nodeReady(node) {
			continue
		}
		for _, addr := range node.Status.Addresses {
			if addr.Type != corev1.NodeInternalIP || addr.Address == "" {
				continue
			}
			if slices.Contains(exclude, addr.Address) {
				c.logger.With("node", node.Name, "ip", addr.Address).Debug("skipping excluded node")
				break
			}
			ips = append(ips, addr.Address)
			break
		}
	}

	slices.Sort(ips)
	return ips, nil
}

func nodeReady(node corev1.Node) bool {
	for _, cond := range node.Status.Conditions {
		if cond.Type == corev1.NodeReady {
			return cond.Status == corev1.ConditionTrue
		}
	}
	return false
}
