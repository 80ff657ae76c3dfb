package toolchain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"time"

	"github.com/JYBWOB/k8s-for-zj/internal/logger"
)

const defaultTimeout = 3 * time.Minute

// LocalRunner runs tools as host processes, each bounded by timeout.
type LocalRunner struct {
	timeout time.Duration
	logger  *slog.Logger
}

func NewLocalRunner(timeout time.Duration) *LocalRunner {
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &LocalRunner{
		timeout: timeout,
		logger:  logger.Named("toolchain_local"),
	}
}

func (r *LocalRunner) Run(ctx context.Context, name string, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	r.logger.With("cmd", commandLine(name, args)).Debug("running tool")

	output, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return string(output), toolError(name, args, string(output), fmt.Errorf("timed out after %s", r.timeout))
	}
	if err != nil {
		return string(output), toolError(name, args, string(output), err)
	}

	return string(output), nil
}
