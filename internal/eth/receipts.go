package eth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

var ErrTxFailed = errors.New("eth: transaction failed")

const DefaultReceiptPollInterval = 2 * time.Second

type ReceiptFetcher interface {
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// ReceiptWaiter polls for a mined receipt. A missing receipt keeps waiting;
// any other RPC error is returned.
type ReceiptWaiter struct {
	backend  ReceiptFetcher
	interval time.Duration
	sleep    func(ctx context.Context, d time.Duration) error
}

func NewReceiptWaiter(backend ReceiptFetcher, interval time.Duration) *ReceiptWaiter {
	if interval <= 0 {
		interval = DefaultReceiptPollInterval
	}
	return &ReceiptWaiter{backend: backend, interval: interval, sleep: sleepCtx}
}

func (w *ReceiptWaiter) Wait(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	for {
		receipt, err := w.backend.TransactionReceipt(ctx, txHash)
		if err == nil && receipt != nil {
			return receipt, nil
		}
		if err != nil && !errors.Is(err, ethereum.NotFound) {
			return nil, fmt.Errorf("eth: receipt %s: %w", txHash.Hex(), err)
		}
		if err := w.sleep(ctx, w.interval); err != nil {
			return nil, err
		}
	}
}

// CheckSucceeded reports ErrTxFailed for a reverted receipt.
func CheckSucceeded(receipt *types.Receipt) error {
	if receipt == nil {
		return fmt.Errorf("%w: no receipt", ErrTxFailed)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return fmt.Errorf("%w: %s reverted in block %s", ErrTxFailed, receipt.TxHash.Hex(), receipt.BlockNumber)
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
