package cluster

import (
	"context"
	"fmt"

	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/JYBWOB/k8s-for-zj/internal/retry"
)

// Outcome reports what a create call did.
type Outcome string

const (
	Created        Outcome = "created"
	AlreadyPresent Outcome = "already-present"
)

// EnsureNamespace creates the namespace; an existing one is not an error.
func (c *Client) EnsureNamespace(ctx context.Context, name string) (Outcome, error) {
	ns := &corev1.Namespace{
		ObjectMeta: metav1.ObjectMeta{
			Name:   name,
			Labels: map[string]string{managedByLabel: managedByValue},
		},
	}

	if _, err := c.clientset.CoreV1().Namespaces().Create(ctx, ns, metav1.CreateOptions{}); err != nil {
		if apierrors.IsAlreadyExists(err) {
			c.logger.With("namespace", name).Debug("namespace already present")
			return AlreadyPresent, nil
		}
		return "", fmt.Errorf("failed to create namespace %s: %w", name, err)
	}

	c.logger.With("namespace", name).Info("namespace created")
	return Created, nil
}

func (c *Client) NamespaceExists(ctx context.Context, name string) (bool, error) {
	_, err := c.clientset.CoreV1().Namespaces().Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		if apierrors.IsNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to get namespace %s: %w", name, err)
	}
	return true, nil
}

// TeardownNamespace deletes the namespace and blocks until the API no longer
// returns it, within bound.
func (c *Client) TeardownNamespace(ctx context.Context, name string, bound retry.Bound) error {
	err := c.clientset.CoreV1().Namespaces().Delete(ctx, name, metav1.DeleteOptions{})
	if err != nil {
		if apierrors.IsNotFound(err) {
			c.logger.With("namespace", name).Debug("namespace already absent")
			return nil
		}
		return fmt.Errorf("failed to delete namespace %s: %w", name, err)
	}

	c.logger.With("namespace", name).Info("waiting for namespace deletion")
	err = retry.Poll(ctx, bound, func(ctx context.Context) (bool, error) {
		exists, err := c.NamespaceExists(ctx, name)
		if err != nil {
			return false, retry.Transient(err)
		}
		return !exists, nil
	})
	if err != nil {
		return fmt.Errorf("namespace %s still present: %w", name, err)
	}

	c.logger.With("namespace", name).Info("namespace deleted")
	return nil
}
