package registrar

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/JYBWOB/k8s-for-zj/internal/chain"
)

// PodExecutor runs commands in pods and copies local files into them.
type PodExecutor interface {
	Exec(ctx context.Context, namespace, pod string, command []string) (string, error)
	CopyToPod(ctx context.Context, namespace, pod, srcPath, destDir string) error
}

// Session binds the protocol to one agent pod and the relay pod it
// registers against. No step is retried.
type Session struct {
	exec      PodExecutor
	protocol  Protocol
	namespace string
	agentPod  string
	relayPod  string
	logger    *slog.Logger
}

func NewSession(exec PodExecutor, protocol Protocol, namespace, agentPod, relayPod string, logger *slog.Logger) *Session {
	return &Session{
		exec:      exec,
		protocol:  protocol,
		namespace: namespace,
		agentPod:  agentPod,
		relayPod:  relayPod,
		logger:    logger.With("agent", agentPod, "relay", relayPod),
	}
}

// InstallRelayCLI copies the relay CLI binary into the agent pod.
func (s *Session) InstallRelayCLI(ctx context.Context, binary, dir string) error {
	if err := s.exec.CopyToPod(ctx, s.namespace, s.agentPod, binary, dir); err != nil {
		return fmt.Errorf("install relay cli: %w", err)
	}
	return nil
}

// Identity reads the agent account address from its repo key.
func (s *Session) Identity(ctx context.Context) (string, error) {
	output, err := s.exec.Exec(ctx, s.namespace, s.agentPod, s.protocol.Identity())
	if err != nil {
		return "", fmt.Errorf("read identity: %w", err)
	}

	addr, err := chain.ExtractLabeledAddress(output, "address")
	if err != nil {
		return "", fmt.Errorf("read identity: %w", err)
	}
	return addr.Hex(), nil
}

func (s *Session) Fund(ctx context.Context, identity string) error {
	return s.step(ctx, "fund", s.relayPod, s.protocol.Fund(identity))
}

func (s *Session) RegisterAppchain(ctx context.Context, reg AppchainRegistration) error {
	return s.step(ctx, "register appchain "+reg.ID, s.agentPod, s.protocol.RegisterAppchain(reg))
}

func (s *Session) RegisterService(ctx context.Context, appchainID, serviceID, name string) error {
	return s.step(ctx, "register service "+serviceID, s.agentPod, s.protocol.RegisterService(appchainID, serviceID, name))
}

// Vote approves proposalID from every quorum repo of the relay pod.
func (s *Session) Vote(ctx context.Context, proposalID string) error {
	for _, vote := range s.protocol.Votes(proposalID) {
		if err := s.step(ctx, "vote "+proposalID, s.relayPod, vote); err != nil {
			return err
		}
	}
	return nil
}

func (s *Session) step(ctx context.Context, name, pod string, command []string) error {
	output, err := s.exec.Exec(ctx, s.namespace, pod, command)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}

	s.logger.With("step", name, "pod", pod, "output", output).Debug("registration step done")
	return nil
}
