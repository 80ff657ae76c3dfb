// Package toolchain runs the external chain tools (goduck, pier) either on
// the host or inside a long-lived tooling container.
package toolchain

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/JYBWOB/k8s-for-zj/configs"
)

// ErrExternalTool marks a tool invocation that failed or timed out.
var ErrExternalTool = errors.New("external tool failed")

// Runner executes a named tool and returns its combined output. Output is
// returned even on failure so callers can scrape partial results.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (string, error)
}

// PathExpander resolves environment references in paths the way the tools
// will see them.
type PathExpander interface {
	Expand(path string) string
}

// ExpandPath expands path for runner, using the host environment unless the
// runner knows better.
func ExpandPath(runner Runner, path string) string {
	if expander, ok := runner.(PathExpander); ok {
		return expander.Expand(path)
	}
	return os.ExpandEnv(path)
}

// New selects the runner for cfg.Mode. In docker mode sharedDirs must be
// mounted into the tooling container at the same path. The caller closes
// docker runners.
func New(cfg configs.Toolchain, sharedDirs ...string) (Runner, error) {
	switch cfg.Mode {
	case configs.ToolchainModeLocal, "":
		return NewLocalRunner(cfg.Timeout), nil
	case configs.ToolchainModeDocker:
		return NewDockerRunner(cfg.Container, cfg.Timeout, sharedDirs...)
	default:
		return nil, fmt.Errorf("unknown toolchain mode '%s'", cfg.Mode)
	}
}

func commandLine(name string, args []string) string {
	return strings.TrimSpace(name + " " + strings.Join(args, " "))
}

func toolError(name string, args []string, output string, err error) error {
	return fmt.Errorf("%w: '%s': %w, output: %s", ErrExternalTool, commandLine(name, args), err, strings.TrimSpace(output))
}
