package watcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/froc-multiverse/froc-mint/internal/claims"
	"github.com/froc-multiverse/froc-mint/internal/config"
	"github.com/froc-multiverse/froc-mint/internal/eth"
	"github.com/froc-multiverse/froc-mint/internal/metadata"
	"github.com/froc-multiverse/froc-mint/internal/mintresult"
	"github.com/froc-multiverse/froc-mint/internal/mints"
	"github.com/froc-multiverse/froc-mint/internal/queue"
	"golang.org/x/sync/errgroup"
)

var (
	ErrInvalidConfig  = errors.New("watcher: invalid config")
	ErrReceiptTimeout = errors.New("watcher: receipt not found before timeout")
	ErrClaimLost      = errors.New("watcher: mint claim lost")
)

const (
	DefaultJobTimeout  = 10 * time.Minute
	DefaultMaxInFlight = 4
	DefaultAckTimeout  = 5 * time.Second
	DefaultClaimTTL    = 30 * time.Second
)

type ReceiptWaiter interface {
	Wait(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

type MetadataArchive interface {
	PutMetadata(ctx context.Context, tokenID *big.Int, raw []byte) error
}

type Publisher interface {
	Publish(ctx context.Context, topic string, key, payload []byte) error
}

type Config struct {
	Chain    config.Chain
	Receipts ReceiptWaiter
	Reader   mintresult.TokenURIReader
	Poller   mintresult.MetadataPoller
	Store    mints.Store

	// Archive and Publisher are optional.
	Archive   MetadataArchive
	Publisher Publisher

	// Claims keeps replicas sharing a store from working the same mint. Owner
	// must be unique per replica when Claims is set.
	Claims   claims.Store
	Owner    string
	ClaimTTL time.Duration

	// JobTimeout bounds receipt wait plus metadata resolution for one mint.
	JobTimeout       time.Duration
	MaxInFlight      int
	TokenConcurrency int
	AckTimeout       time.Duration

	Now func() time.Time
	Log *slog.Logger
}

// Watcher follows submitted mint transactions to their resolved items.
type Watcher struct {
	cfg Config
	log *slog.Logger
}

func New(cfg Config) (*Watcher, error) {
	if cfg.Chain.IsZero() {
		return nil, fmt.Errorf("%w: missing chain config", ErrInvalidConfig)
	}
	if cfg.Receipts == nil || cfg.Reader == nil || cfg.Poller == nil || cfg.Store == nil {
		return nil, fmt.Errorf("%w: nil dependency", ErrInvalidConfig)
	}
	if cfg.Claims != nil && cfg.Owner == "" {
		return nil, fmt.Errorf("%w: claims require an owner", ErrInvalidConfig)
	}
	if cfg.ClaimTTL <= 0 {
		cfg.ClaimTTL = DefaultClaimTTL
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = DefaultJobTimeout
	}
	if cfg.MaxInFlight <= 0 {
		cfg.MaxInFlight = DefaultMaxInFlight
	}
	if cfg.AckTimeout <= 0 {
		cfg.AckTimeout = DefaultAckTimeout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	return &Watcher{cfg: cfg, log: log}, nil
}

// Run processes messages until ctx is done or the consumer closes. Messages
// are acked after processing, including ones that fail permanently; a job cut
// short by shutdown is left unacked for redelivery.
func (w *Watcher) Run(ctx context.Context, consumer queue.Consumer) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.cfg.MaxInFlight)

	msgCh := consumer.Messages()
	errCh := consumer.Errors()
	for msgCh != nil {
		select {
		case <-gctx.Done():
			msgCh = nil
		case err, ok := <-errCh:
			if !ok {
				errCh = nil
				continue
			}
			if err != nil {
				w.log.Error("queue consume error", "err", err)
			}
		case msg, ok := <-msgCh:
			if !ok {
				msgCh = nil
				continue
			}
			g.Go(func() error {
				w.handle(gctx, msg)
				return nil
			})
		}
	}
	_ = g.Wait()
	return ctx.Err()
}

func (w *Watcher) handle(ctx context.Context, msg queue.Message) {
	txHash, err := queue.DecodeMintSubmitted(msg.Value)
	if err != nil {
		w.log.Warn("drop invalid message", "topic", msg.Topic, "err", err)
		w.ack(msg)
		return
	}
	if err := w.Process(ctx, txHash); err != nil {
		if ctx.Err() != nil {
			w.log.Info("job interrupted", "tx", txHash.Hex())
			return
		}
		w.log.Error("process mint", "tx", txHash.Hex(), "err", err)
	}
	w.ack(msg)
}

func (w *Watcher) ack(msg queue.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), w.cfg.AckTimeout)
	defer cancel()
	if err := msg.Ack(ctx); err != nil {
		w.log.Error("ack message", "err", err)
	}
}

// Process drives one mint to a terminal state. Running it again for the same
// hash is safe; terminal mints are skipped.
func (w *Watcher) Process(ctx context.Context, txHash common.Hash) error {
	m, _, err := w.cfg.Store.Submit(ctx, txHash)
	if err != nil {
		return fmt.Errorf("watcher: record %s: %w", txHash.Hex(), err)
	}
	if m.State == mints.StateResolved || m.State == mints.StateFailed {
		w.log.Debug("mint already settled", "tx", txHash.Hex(), "state", m.State.String())
		return nil
	}

	jctx, cancel := context.WithTimeout(ctx, w.cfg.JobTimeout)
	defer cancel()

	var claimLost atomic.Bool
	if w.cfg.Claims != nil {
		held, ok, err := w.cfg.Claims.Acquire(ctx, txHash, w.cfg.Owner, w.cfg.ClaimTTL)
		if err != nil {
			return fmt.Errorf("watcher: claim %s: %w", txHash.Hex(), err)
		}
		if !ok {
			w.log.Info("mint claimed by another watcher", "tx", txHash.Hex(), "owner", held.Owner, "expiresAt", held.ExpiresAt)
			return nil
		}
		stopClaim := w.holdClaim(jctx, cancel, txHash, &claimLost)
		defer stopClaim()
	}

	receipt, err := w.cfg.Receipts.Wait(jctx, txHash)
	if err != nil {
		if claimLost.Load() {
			return ErrClaimLost
		}
		if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
			return w.fail(ctx, txHash, ErrReceiptTimeout.Error())
		}
		return err
	}
	if err := eth.CheckSucceeded(receipt); err != nil {
		return w.fail(ctx, txHash, err.Error())
	}

	resolver, err := mintresult.NewResolver(mintresult.Config{
		Chain:       w.cfg.Chain,
		Reader:      w.cfg.Reader,
		Poller:      w.cfg.Poller,
		Concurrency: w.cfg.TokenConcurrency,
		OnResolved: func(ctx context.Context, item mintresult.Item, md metadata.Metadata) {
			w.onResolved(ctx, txHash, item, md)
		},
		Log: w.log,
	})
	if err != nil {
		return err
	}

	ids := mintresult.ExtractTokenIDs(receipt, w.cfg.Chain.Contract())
	tokens := make([]mints.Token, 0, len(ids))
	for _, id := range ids {
		p := resolver.Provisional(id)
		tokens = append(tokens, mints.Token{TokenID: p.TokenID, Name: p.Name, ExternalURL: p.ExternalURL})
	}
	var block uint64
	if receipt.BlockNumber != nil {
		block = receipt.BlockNumber.Uint64()
	}
	if err := w.cfg.Store.MarkMined(ctx, txHash, block, tokens); err != nil {
		return fmt.Errorf("watcher: mark mined %s: %w", txHash.Hex(), err)
	}
	w.log.Info("mint mined", "tx", txHash.Hex(), "block", block, "tokens", len(ids))

	if list := resolver.ResolveIDs(jctx, ids); list != nil {
		list.Wait()
	} else {
		w.log.Warn("mint receipt has no token transfers", "tx", txHash.Hex())
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if claimLost.Load() {
		return ErrClaimLost
	}

	if err := w.cfg.Store.MarkResolved(ctx, txHash); err != nil {
		return fmt.Errorf("watcher: mark resolved %s: %w", txHash.Hex(), err)
	}
	w.log.Info("mint resolved", "tx", txHash.Hex())
	return nil
}

// holdClaim extends the claim on txHash until the returned func is called,
// which also releases it. Losing the claim cancels the job.
func (w *Watcher) holdClaim(ctx context.Context, cancel context.CancelFunc, txHash common.Hash, lost *atomic.Bool) func() {
	done := make(chan struct{})
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		t := time.NewTicker(max(w.cfg.ClaimTTL/3, time.Millisecond))
		defer t.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-t.C:
				if _, err := w.cfg.Claims.Extend(ctx, txHash, w.cfg.Owner, w.cfg.ClaimTTL); err != nil {
					if ctx.Err() != nil {
						return
					}
					w.log.Warn("mint claim lost", "tx", txHash.Hex(), "err", err)
					lost.Store(true)
					cancel()
					return
				}
			}
		}
	}()

	return func() {
		close(done)
		<-stopped
		rctx, rcancel := context.WithTimeout(context.Background(), w.cfg.AckTimeout)
		defer rcancel()
		if err := w.cfg.Claims.Release(rctx, txHash, w.cfg.Owner); err != nil {
			w.log.Warn("release mint claim", "tx", txHash.Hex(), "err", err)
		}
	}
}

func (w *Watcher) fail(ctx context.Context, txHash common.Hash, reason string) error {
	if err := w.cfg.Store.MarkFailed(ctx, txHash, reason); err != nil {
		return fmt.Errorf("watcher: mark failed %s: %w", txHash.Hex(), err)
	}
	w.log.Warn("mint failed", "tx", txHash.Hex(), "reason", reason)
	return nil
}

func (w *Watcher) onResolved(ctx context.Context, txHash common.Hash, item mintresult.Item, md metadata.Metadata) {
	now := w.cfg.Now().UTC()
	tok := mints.Token{
		TokenID:     item.TokenID,
		Name:        item.Name,
		Image:       item.Image,
		Attributes:  item.Attributes,
		ExternalURL: item.ExternalURL,
		ResolvedAt:  now,
	}
	if err := w.cfg.Store.UpdateToken(ctx, txHash, tok); err != nil {
		w.log.Warn("persist resolved token", "tx", txHash.Hex(), "tokenId", item.TokenID.String(), "err", err)
	}

	if w.cfg.Archive != nil && len(md.Raw) > 0 {
		if err := w.cfg.Archive.PutMetadata(ctx, item.TokenID, md.Raw); err != nil {
			w.log.Warn("archive metadata", "tokenId", item.TokenID.String(), "err", err)
		}
	}

	if w.cfg.Publisher == nil {
		return
	}
	payload, err := queue.EncodeMintResolved(queue.MintResolved{
		TxHash:      txHash.Hex(),
		TokenID:     item.TokenID.String(),
		Name:        item.Name,
		Image:       item.Image,
		Attributes:  item.Attributes,
		ExternalURL: item.ExternalURL,
		ResolvedAt:  now,
	})
	if err != nil {
		w.log.Warn("encode resolved event", "tokenId", item.TokenID.String(), "err", err)
		return
	}
	if err := w.cfg.Publisher.Publish(ctx, queue.TopicMintResolved, txHash.Bytes(), payload); err != nil {
		w.log.Warn("publish resolved event", "tokenId", item.TokenID.String(), "err", err)
	}
}
