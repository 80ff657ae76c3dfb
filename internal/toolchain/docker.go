package toolchain

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"

	"github.com/JYBWOB/k8s-for-zj/internal/logger"
)

// DockerRunner runs tools through the exec API of an already running
// tooling container. Directories the tools write into and the host reads
// back must be bind-mounted into the container at the same path.
type DockerRunner struct {
	cli       *client.Client
	container string
	timeout   time.Duration
	shared    []string
	env       []string
	logger    *slog.Logger
}

func NewDockerRunner(containerName string, timeout time.Duration, sharedDirs ...string) (*DockerRunner, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &DockerRunner{
		cli:       cli,
		container: containerName,
		timeout:   timeout,
		shared:    sharedDirs,
		logger:    logger.Named("toolchain_docker"),
	}, nil
}

func (r *DockerRunner) Close() error {
	return r.cli.Close()
}

// Check verifies that the tooling container exists, is running and shares
// the working directories with the host. It also records the container
// environment used by Expand.
func (r *DockerRunner) Check(ctx context.Context) error {
	info, err := r.cli.ContainerInspect(ctx, r.container)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return fmt.Errorf("%w: tooling container '%s' not found", ErrExternalTool, r.container)
		}
		return fmt.Errorf("failed to inspect tooling container '%s': %w", r.container, err)
	}
	if info.State == nil || !info.State.Running {
		return fmt.Errorf("%w: tooling container '%s' is not running", ErrExternalTool, r.container)
	}
	if missing := unsharedDirs(info.Mounts, r.shared); len(missing) > 0 {
		return fmt.Errorf("%w: tooling container '%s' must bind-mount %s at the same path",
			ErrExternalTool, r.container, strings.Join(missing, ", "))
	}

	if info.Config != nil {
		r.env = info.Config.Env
	}
	return nil
}

// Expand resolves $VAR references against the container environment read
// by Check. Before Check the path is returned unchanged.
func (r *DockerRunner) Expand(path string) string {
	if r.env == nil {
		return path
	}
	return expandWith(r.env, path)
}

func expandWith(env []string, path string) string {
	vars := make(map[string]string, len(env))
	for _, kv := range env {
		if name, value, ok := strings.Cut(kv, "="); ok {
			vars[name] = value
		}
	}
	return os.Expand(path, func(name string) string { return vars[name] })
}

// unsharedDirs lists the dirs that no mount exposes at the same path inside
// the container.
func unsharedDirs(mounts []container.MountPoint, dirs []string) []string {
	var missing []string
	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		abs, err := filepath.Abs(dir)
		if err != nil {
			missing = append(missing, dir)
			continue
		}
		if !sharedAtSamePath(mounts, abs) {
			missing = append(missing, abs)
		}
	}
	return missing
}

func sharedAtSamePath(mounts []container.MountPoint, dir string) bool {
	for _, mount := range mounts {
		source, destination := filepath.Clean(mount.Source), filepath.Clean(mount.Destination)
		if source != destination {
			continue
		}
		rel, err := filepath.Rel(destination, dir)
		if err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

func (r *DockerRunner) Run(ctx context.Context, name string, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	r.logger.With("container", r.container, "cmd", commandLine(name, args)).Debug("running tool")

	created, err := r.cli.ContainerExecCreate(ctx, r.container, container.ExecOptions{
		Cmd:          append([]string{name}, args...),
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return "", toolError(name, args, "", err)
	}

	attach, err := r.cli.ContainerExecAttach(ctx, created.ID, container.ExecAttachOptions{})
	if err != nil {
		return "", toolError(name, args, "", err)
	}
	defer attach.Close()

	var stdout, stderr bytes.Buffer
	copied := make(chan error, 1)
	go func() {
		_, err := stdcopy.StdCopy(&stdout, &stderr, attach.Reader)
		copied <- err
	}()

	select {
	case <-ctx.Done():
		attach.Close()
		<-copied
		output := stdout.String() + stderr.String()
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return output, toolError(name, args, output, fmt.Errorf("timed out after %s", r.timeout))
		}
		return output, toolError(name, args, output, ctx.Err())
	case err := <-copied:
		if err != nil {
			output := stdout.String() + stderr.String()
			return output, toolError(name, args, output, err)
		}
	}

	output := stdout.String() + stderr.String()
	inspect, err := r.cli.ContainerExecInspect(ctx, created.ID)
	if err != nil {
		return output, toolError(name, args, output, err)
	}
	if inspect.ExitCode != 0 {
		return output, toolError(name, args, output, fmt.Errorf("exit code %d", inspect.ExitCode))
	}

	return output, nil
}
