package cluster

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/moby/go-archive"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/client-go/kubernetes/scheme"
	"k8s.io/client-go/tools/remotecommand"
)

var ErrExecUnavailable = errors.New("pod exec requires a REST config")

// Exec runs command in the first container of a pod and returns combined
// stdout and stderr. The call is bounded by the client's exec timeout.
func (c *Client) Exec(ctx context.Context, namespace, pod string, command []string) (string, error) {
	return c.exec(ctx, namespace, pod, command, nil)
}

func (c *Client) exec(ctx context.Context, namespace, pod string, command []string, stdin io.Reader) (string, error) {
	if c.restConfig == nil {
		return "", ErrExecUnavailable
	}

	ctx, cancel := context.WithTimeout(ctx, c.execTimeout)
	defer cancel()

	req := c.clientset.CoreV1().RESTClient().Post().
		Resource("pods").
		Namespace(namespace).
		Name(pod).
		SubResource("exec").
		VersionedParams(&corev1.PodExecOptions{
			Command: command,
			Stdin:   stdin != nil,
			Stdout:  true,
			Stderr:  true,
		}, scheme.ParameterCodec)

	executor, err := remotecommand.NewSPDYExecutor(c.restConfig, "POST", req.URL())
	if err != nil {
		return "", fmt.Errorf("failed to create executor for %s/%s: %w", namespace, pod, err)
	}

	var output bytes.Buffer
	err = executor.StreamWithContext(ctx, remotecommand.StreamOptions{
		Stdin:  stdin,
		Stdout: &output,
		Stderr: &output,
	})
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return output.String(), fmt.Errorf("exec in %s/%s timed out after %s: %w", namespace, pod, c.execTimeout, err)
		}
		return output.String(), fmt.Errorf("exec '%s' in %s/%s failed: %w, output: %s",
			strings.Join(command, " "), namespace, pod, err, output.String())
	}

	return output.String(), nil
}

// CopyToPod streams a local file or directory into destDir inside the pod,
// the way kubectl cp does: a tar stream piped into tar on the pod side.
func (c *Client) CopyToPod(ctx context.Context, namespace, pod, srcPath, destDir string) error {
	src, err := filepath.Abs(srcPath)
	if err != nil {
		return fmt.Errorf("failed to resolve %s: %w", srcPath, err)
	}

	stream, err := archive.TarWithOptions(filepath.Dir(src), &archive.TarOptions{
		IncludeFiles: []string{filepath.Base(src)},
	})
	if err != nil {
		return fmt.Errorf("failed to archive %s: %w", src, err)
	}
	defer func() { _ = stream.Close() }()

	output, err := c.exec(ctx, namespace, pod, []string{"tar", "-xf", "-", "-C", destDir}, stream)
	if err != nil {
		return fmt.Errorf("failed to copy %s into %s/%s:%s: %w, output: %s", src, namespace, pod, destDir, err, output)
	}

	c.logger.With("pod", pod, "src", src, "dest", destDir).Debug("copied into pod")
	return nil
}
