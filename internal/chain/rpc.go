package chain

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/JYBWOB/k8s-for-zj/internal/retry"
)

// WaitForRPC polls url until the node answers eth_chainId or bound elapses.
func WaitForRPC(ctx context.Context, url string, bound retry.Bound, logger *slog.Logger) (*big.Int, error) {
	var chainID *big.Int

	err := retry.Poll(ctx, bound, func(ctx context.Context) (bool, error) {
		client, err := ethclient.DialContext(ctx, url)
		if err != nil {
			return false, retry.Transient(err)
		}
		defer client.Close()

		id, err := client.ChainID(ctx)
		if err != nil {
			logger.With("url", url, "err", err.Error()).Debug("appchain rpc not ready")
			return false, retry.Transient(err)
		}

		chainID = id
		return true, nil
	})
	if err != nil {
		return nil, fmt.Errorf("rpc at %s not ready: %w", url, err)
	}

	return chainID, nil
}
