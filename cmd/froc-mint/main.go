package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/froc-multiverse/froc-mint/internal/config"
	"github.com/froc-multiverse/froc-mint/internal/eth"
	"github.com/froc-multiverse/froc-mint/internal/frocabi"
	"github.com/froc-multiverse/froc-mint/internal/metadata"
	"github.com/froc-multiverse/froc-mint/internal/mintresult"
	"github.com/froc-multiverse/froc-mint/internal/queue"
	"github.com/froc-multiverse/froc-mint/internal/secrets"
)

var (
	errUsage        = errors.New("usage")
	errMintInactive = errors.New("mint is not active")
)

type options struct {
	chain config.Chain

	keyRef   string
	quantity uint64
	txHash   common.Hash
	resolve  bool

	receiptPollInterval time.Duration
	gasLimitMultiplier  float64
	minTipGwei          uint64
	replaceAfter        time.Duration
	maxReplacements     int
	bumpPercent         int

	fetchAttemptTimeout time.Duration
	fetchMaxAttempts    int
	fetchStep           time.Duration
	tokenConcurrency    int

	timeout time.Duration
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	if err := runMain(ctx, os.Args[1:], os.Stdout, log); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		if errors.Is(err, errUsage) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

func parseOptions(args []string) (options, error) {
	fs := flag.NewFlagSet("froc-mint", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	chainID := fs.Uint64("chain-id", config.BaseMainnetChainID, "EVM chain id")
	rpcURL := fs.String("rpc-url", config.DefaultRPCURL, "EVM JSON-RPC URL")
	contract := fs.String("contract", "", "FROC contract address (required)")
	collection := fs.String("collection", config.DefaultCollection, "collection name used for token labels")
	gateway := fs.String("gateway", config.DefaultGateway, "IPFS HTTP gateway")
	marketplace := fs.String("marketplace-base", config.DefaultMarketplace, "marketplace assets base URL")
	explorerTx := fs.String("explorer-tx", config.DefaultExplorerTx, "block explorer transaction base URL")

	keyRef := fs.String("key-ref", "env:FROC_MINT_PRIVATE_KEY", "private key secret ref (env:<NAME> or awssm:<id>[#field])")
	quantity := fs.Uint64("qty", 1, "number of tokens to mint")
	txHash := fs.String("tx-hash", "", "resolve an already submitted mint instead of sending one")
	noResolve := fs.Bool("no-resolve", false, "stop after the receipt without fetching metadata")

	receiptPollInterval := fs.Duration("receipt-poll-interval", eth.DefaultReceiptPollInterval, "receipt polling interval")
	gasLimitMultiplier := fs.Float64("gas-limit-multiplier", 1.2, "multiplier applied to estimated gas")
	minTipGwei := fs.Uint64("min-tip-gwei", 0, "minimum priority fee in gwei")
	replaceAfter := fs.Duration("replace-after", 90*time.Second, "re-broadcast with bumped fees after this long pending")
	maxReplacements := fs.Int("max-replacements", 3, "maximum fee-bump replacements (0 disables)")
	bumpPercent := fs.Int("bump-percent", 15, "fee bump percent per replacement")

	fetchAttemptTimeout := fs.Duration("metadata-attempt-timeout", metadata.DefaultAttemptTimeout, "per-attempt metadata fetch timeout")
	fetchMaxAttempts := fs.Int("metadata-max-attempts", metadata.DefaultMaxAttempts, "metadata fetch attempts per token")
	fetchStep := fs.Duration("metadata-step", metadata.DefaultStep, "linear backoff step between metadata attempts")
	tokenConcurrency := fs.Int("token-concurrency", 4, "concurrent token metadata resolutions")

	timeout := fs.Duration("timeout", 15*time.Minute, "overall timeout")

	if err := fs.Parse(args); err != nil {
		return options{}, fmt.Errorf("%w: %v", errUsage, err)
	}

	if strings.TrimSpace(*contract) == "" {
		return options{}, fmt.Errorf("%w: --contract is required", errUsage)
	}
	chain, err := config.NewChain(config.ChainParams{
		ChainID:     *chainID,
		RPCURL:      *rpcURL,
		Contract:    *contract,
		Collection:  *collection,
		Gateway:     *gateway,
		Marketplace: *marketplace,
		ExplorerTx:  *explorerTx,
	})
	if err != nil {
		return options{}, fmt.Errorf("%w: %v", errUsage, err)
	}

	opts := options{
		chain:               chain,
		keyRef:              strings.TrimSpace(*keyRef),
		quantity:            *quantity,
		resolve:             !*noResolve,
		receiptPollInterval: *receiptPollInterval,
		gasLimitMultiplier:  *gasLimitMultiplier,
		minTipGwei:          *minTipGwei,
		replaceAfter:        *replaceAfter,
		maxReplacements:     *maxReplacements,
		bumpPercent:         *bumpPercent,
		fetchAttemptTimeout: *fetchAttemptTimeout,
		fetchMaxAttempts:    *fetchMaxAttempts,
		fetchStep:           *fetchStep,
		tokenConcurrency:    *tokenConcurrency,
		timeout:             *timeout,
	}

	if strings.TrimSpace(*txHash) != "" {
		h, err := queue.ParseTxHash(*txHash)
		if err != nil {
			return options{}, fmt.Errorf("%w: --tx-hash: %v", errUsage, err)
		}
		opts.txHash = h
	} else {
		if opts.quantity == 0 || opts.quantity > frocabi.MaxMintQuantity {
			return options{}, fmt.Errorf("%w: --qty must be in [1,%d]", errUsage, frocabi.MaxMintQuantity)
		}
		if _, err := secrets.ParseRef(opts.keyRef); err != nil {
			return options{}, fmt.Errorf("%w: --key-ref: %v", errUsage, err)
		}
		if opts.gasLimitMultiplier < 1 {
			return options{}, fmt.Errorf("%w: --gas-limit-multiplier must be >= 1", errUsage)
		}
		if opts.maxReplacements < 0 || opts.bumpPercent <= 0 || opts.replaceAfter <= 0 {
			return options{}, fmt.Errorf("%w: replacement settings must be positive", errUsage)
		}
	}
	if opts.receiptPollInterval <= 0 || opts.timeout <= 0 {
		return options{}, fmt.Errorf("%w: --receipt-poll-interval and --timeout must be > 0", errUsage)
	}
	if opts.fetchAttemptTimeout <= 0 || opts.fetchMaxAttempts <= 0 || opts.fetchStep <= 0 || opts.tokenConcurrency <= 0 {
		return options{}, fmt.Errorf("%w: metadata settings must be > 0", errUsage)
	}
	return opts, nil
}

func runMain(ctx context.Context, args []string, stdout io.Writer, log *slog.Logger) error {
	opts, err := parseOptions(args)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, opts.timeout)
	defer cancel()

	client, err := ethclient.DialContext(ctx, opts.chain.RPCURL())
	if err != nil {
		return fmt.Errorf("dial rpc: %w", err)
	}
	defer client.Close()

	rpcChainID, err := client.ChainID(ctx)
	if err != nil {
		return fmt.Errorf("read chain id: %w", err)
	}
	if rpcChainID.Cmp(opts.chain.ChainIDBig()) != 0 {
		return fmt.Errorf("rpc chain id %s does not match --chain-id %d", rpcChainID, opts.chain.ChainID())
	}

	reader, err := frocabi.NewReader(opts.chain.Contract(), client)
	if err != nil {
		return fmt.Errorf("init contract reader: %w", err)
	}

	var receipt *types.Receipt
	if opts.txHash != (common.Hash{}) {
		receipt, err = eth.NewReceiptWaiter(client, opts.receiptPollInterval).Wait(ctx, opts.txHash)
		if err != nil {
			return fmt.Errorf("wait receipt: %w", err)
		}
	} else {
		receipt, err = sendMint(ctx, opts, client, reader, log)
		if err != nil {
			return err
		}
	}
	if err := eth.CheckSucceeded(receipt); err != nil {
		return err
	}
	log.Info("mint mined", "tx", receipt.TxHash.Hex(), "block", receipt.BlockNumber, "explorer", opts.chain.TxURL(receipt.TxHash))

	if !opts.resolve {
		ids := mintresult.ExtractTokenIDs(receipt, opts.chain.Contract())
		return printIDs(stdout, opts.chain, receipt.TxHash, ids)
	}

	fetcher, err := metadata.NewFetcher(metadata.Config{
		Gateway:        opts.chain.Gateway(),
		AttemptTimeout: opts.fetchAttemptTimeout,
		MaxAttempts:    opts.fetchMaxAttempts,
		Step:           opts.fetchStep,
		Log:            log,
	})
	if err != nil {
		return fmt.Errorf("init metadata fetcher: %w", err)
	}
	resolver, err := mintresult.NewResolver(mintresult.Config{
		Chain:       opts.chain,
		Reader:      reader,
		Poller:      fetcher,
		Concurrency: opts.tokenConcurrency,
		Log:         log,
	})
	if err != nil {
		return fmt.Errorf("init resolver: %w", err)
	}

	list := resolver.Resolve(ctx, receipt)
	if list == nil {
		log.Warn("no minted tokens found in receipt", "tx", receipt.TxHash.Hex())
		return printItems(stdout, opts.chain, receipt.TxHash, nil, true)
	}
	return streamItems(stdout, opts.chain, receipt.TxHash, list)
}

func sendMint(ctx context.Context, opts options, client *ethclient.Client, reader *frocabi.Reader, log *slog.Logger) (*types.Receipt, error) {
	active, err := reader.MintActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("read mintActive: %w", err)
	}
	if !active {
		return nil, errMintInactive
	}
	price, err := reader.Price(ctx)
	if err != nil {
		return nil, fmt.Errorf("read price: %w", err)
	}

	keyHex, err := secrets.NewResolver().Get(ctx, opts.keyRef)
	if err != nil {
		return nil, fmt.Errorf("load private key: %w", err)
	}
	signer, err := eth.ParseLocalSigner(keyHex)
	if err != nil {
		return nil, err
	}

	sender, err := eth.NewSender(client, signer, eth.SenderConfig{
		ChainID:             opts.chain.ChainIDBig(),
		GasLimitMultiplier:  opts.gasLimitMultiplier,
		MinTipCap:           new(big.Int).Mul(new(big.Int).SetUint64(opts.minTipGwei), big.NewInt(1_000_000_000)),
		ReceiptPollInterval: opts.receiptPollInterval,
		ReplaceAfter:        opts.replaceAfter,
		MaxReplacements:     opts.maxReplacements,
		BumpPercent:         opts.bumpPercent,
		OnBroadcast: func(txHash common.Hash) {
			log.Info("mint broadcast", "tx", txHash.Hex(), "explorer", opts.chain.TxURL(txHash))
		},
		Log: log,
	})
	if err != nil {
		return nil, fmt.Errorf("init sender: %w", err)
	}

	req, err := eth.MintRequest(opts.chain.Contract(), price, opts.quantity)
	if err != nil {
		return nil, err
	}
	log.Info("minting", "from", sender.From().Hex(), "quantity", opts.quantity, "priceWei", price.String(), "valueWei", req.Value.String())

	res, err := sender.SendAndWait(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("send mint: %w", err)
	}
	if res.Replacements > 0 {
		log.Info("mint mined after replacement", "tx", res.TxHash.Hex(), "replacements", res.Replacements)
	}
	return res.Receipt, nil
}

type itemOutput struct {
	TokenID     string               `json:"tokenId"`
	Name        string               `json:"name"`
	Image       string               `json:"image,omitempty"`
	Attributes  []metadata.Attribute `json:"attributes,omitempty"`
	ExternalURL string               `json:"externalUrl"`
	Resolved    bool                 `json:"resolved"`
}

type snapshotOutput struct {
	TxHash      string       `json:"txHash"`
	ExplorerURL string       `json:"explorerUrl"`
	Done        bool         `json:"done"`
	Items       []itemOutput `json:"items"`
}

// streamItems prints one JSON line per snapshot until every token settled.
func streamItems(w io.Writer, chain config.Chain, txHash common.Hash, list *mintresult.ItemList) error {
	ch, unsubscribe := list.Subscribe()
	defer unsubscribe()

	for items := range ch {
		if err := printItems(w, chain, txHash, items, false); err != nil {
			return err
		}
	}
	list.Wait()
	return printItems(w, chain, txHash, list.Snapshot(), true)
}

func printItems(w io.Writer, chain config.Chain, txHash common.Hash, items []mintresult.Item, done bool) error {
	out := snapshotOutput{
		TxHash:      txHash.Hex(),
		ExplorerURL: chain.TxURL(txHash),
		Done:        done,
		Items:       make([]itemOutput, 0, len(items)),
	}
	for _, it := range items {
		out.Items = append(out.Items, itemOutput{
			TokenID:     it.TokenID.String(),
			Name:        it.Name,
			Image:       it.Image,
			Attributes:  it.Attributes,
			ExternalURL: it.ExternalURL,
			Resolved:    it.Resolved(),
		})
	}
	return json.NewEncoder(w).Encode(out)
}

func printIDs(w io.Writer, chain config.Chain, txHash common.Hash, ids []*big.Int) error {
	items := make([]mintresult.Item, 0, len(ids))
	for _, id := range ids {
		items = append(items, mintresult.Item{
			TokenID:     id,
			Name:        chain.TokenName(id),
			ExternalURL: chain.TokenURL(id),
		})
	}
	return printItems(w, chain, txHash, items, true)
}
