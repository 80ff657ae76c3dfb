package remote

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/JYBWOB/k8s-for-zj/internal/logger"
)

type (
	// NodeLister reports the addresses of the schedulable worker hosts.
	NodeLister interface {
		ReadyNodeIPs(ctx context.Context, exclude []string) ([]string, error)
	}

	Copier interface {
		CopyDir(ctx context.Context, host, localDir, remoteParent string) error
	}
)

// Distributor pushes a local bundle to every ready worker host, so that a
// hostPath pod finds it wherever it is scheduled.
type Distributor struct {
	nodes   NodeLister
	copier  Copier
	exclude []string
	logger  *slog.Logger
}

func NewDistributor(nodes NodeLister, copier Copier, exclude []string) *Distributor {
	return &Distributor{
		nodes:   nodes,
		copier:  copier,
		exclude: exclude,
		logger:  logger.Named("bundle_distributor"),
	}
}

// Distribute copies localDir under remoteParent on every target host. All
// hosts are attempted; failures are joined.
func (d *Distributor) Distribute(ctx context.Context, localDir, remoteParent string) error {
	hosts, err := d.nodes.ReadyNodeIPs(ctx, d.exclude)
	if err != nil {
		return fmt.Errorf("failed to list target hosts: %w", err)
	}
	if len(hosts) == 0 {
		return errors.New("no ready worker hosts to distribute to")
	}

	var errs []error
	for _, host := range hosts {
		if err := d.copier.CopyDir(ctx, host, localDir, remoteParent); err != nil {
			errs = append(errs, err)
			continue
		}
		d.logger.With("host", host, "bundle", localDir).Info("bundle distributed")
	}

	return errors.Join(errs...)
}
