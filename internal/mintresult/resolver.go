package mintresult

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/froc-multiverse/froc-mint/internal/config"
	"github.com/froc-multiverse/froc-mint/internal/metadata"
	"golang.org/x/sync/errgroup"
)

var ErrInvalidConfig = errors.New("mintresult: invalid config")

type TokenURIReader interface {
	TokenURI(ctx context.Context, tokenID *big.Int) (string, error)
}

type MetadataPoller interface {
	Poll(ctx context.Context, uri string) (metadata.Metadata, bool)
}

type Config struct {
	Chain  config.Chain
	Reader TokenURIReader
	Poller MetadataPoller

	// Concurrency bounds in-flight token resolutions; <= 0 means one goroutine per token.
	Concurrency int

	// OnResolved runs after an item's metadata lands in the list.
	OnResolved func(ctx context.Context, item Item, md metadata.Metadata)

	Log *slog.Logger
}

// Resolver turns a mined mint receipt into a progressively enriched ItemList.
type Resolver struct {
	cfg Config
	log *slog.Logger
}

func NewResolver(cfg Config) (*Resolver, error) {
	if cfg.Chain.IsZero() {
		return nil, fmt.Errorf("%w: missing chain config", ErrInvalidConfig)
	}
	if cfg.Reader == nil || cfg.Poller == nil {
		return nil, fmt.Errorf("%w: nil reader or poller", ErrInvalidConfig)
	}
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	return &Resolver{cfg: cfg, log: log}, nil
}

// Provisional is the placeholder shown before metadata arrives.
func (r *Resolver) Provisional(tokenID *big.Int) Item {
	return Item{
		TokenID:     new(big.Int).Set(tokenID),
		Name:        r.cfg.Chain.TokenName(tokenID),
		ExternalURL: r.cfg.Chain.TokenURL(tokenID),
	}
}

// Resolve extracts minted token ids from receipt and starts resolving their
// metadata in the background. It returns nil when the receipt carries no
// matching Transfer logs. Per-token failures are logged and leave the
// provisional item in place.
func (r *Resolver) Resolve(ctx context.Context, receipt *types.Receipt) *ItemList {
	ids := ExtractTokenIDs(receipt, r.cfg.Chain.Contract())
	if len(ids) == 0 {
		if receipt != nil {
			r.log.Debug("no minted tokens in receipt", "tx", receipt.TxHash.Hex(), "logs", len(receipt.Logs))
		}
		return nil
	}
	return r.ResolveIDs(ctx, ids)
}

func (r *Resolver) ResolveIDs(ctx context.Context, ids []*big.Int) *ItemList {
	if len(ids) == 0 {
		return nil
	}

	items := make([]Item, 0, len(ids))
	for _, id := range ids {
		items = append(items, r.Provisional(id))
	}
	list := NewItemList(items)

	g, gctx := errgroup.WithContext(ctx)
	if r.cfg.Concurrency > 0 {
		g.SetLimit(r.cfg.Concurrency)
	}
	go func() {
		for _, id := range ids {
			id := new(big.Int).Set(id)
			g.Go(func() error {
				r.resolveOne(gctx, list, id)
				return nil
			})
		}
		_ = g.Wait()
		list.finish()
	}()
	return list
}

func (r *Resolver) resolveOne(ctx context.Context, list *ItemList, tokenID *big.Int) {
	uri, err := r.cfg.Reader.TokenURI(ctx, tokenID)
	if err != nil {
		r.log.Warn("tokenURI read failed", "tokenId", tokenID.String(), "err", err)
		return
	}
	if uri == "" {
		r.log.Warn("tokenURI empty", "tokenId", tokenID.String())
		return
	}

	md, ok := r.cfg.Poller.Poll(ctx, uri)
	if !ok {
		r.log.Warn("metadata not resolved", "tokenId", tokenID.String(), "uri", uri)
		return
	}

	item := r.Provisional(tokenID)
	item.Image = md.Image
	item.Attributes = md.Attributes
	if !list.Update(item) {
		return
	}
	r.log.Info("token resolved", "tokenId", tokenID.String(), "image", item.Image, "attributes", len(item.Attributes))
	if r.cfg.OnResolved != nil {
		r.cfg.OnResolved(ctx, item, md)
	}
}
