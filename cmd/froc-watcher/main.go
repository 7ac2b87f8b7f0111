package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/froc-multiverse/froc-mint/internal/archive"
	"github.com/froc-multiverse/froc-mint/internal/claims"
	claimspg "github.com/froc-multiverse/froc-mint/internal/claims/postgres"
	"github.com/froc-multiverse/froc-mint/internal/config"
	"github.com/froc-multiverse/froc-mint/internal/eth"
	"github.com/froc-multiverse/froc-mint/internal/frocabi"
	"github.com/froc-multiverse/froc-mint/internal/metadata"
	"github.com/froc-multiverse/froc-mint/internal/mints"
	mintspg "github.com/froc-multiverse/froc-mint/internal/mints/postgres"
	"github.com/froc-multiverse/froc-mint/internal/queue"
	"github.com/froc-multiverse/froc-mint/internal/watcher"
	"github.com/jackc/pgx/v5/pgxpool"
)

const archiveDriverNone = "none"

func main() {
	var (
		chainID     = flag.Uint64("chain-id", config.BaseMainnetChainID, "EVM chain id")
		rpcURL      = flag.String("rpc-url", config.DefaultRPCURL, "EVM JSON-RPC URL")
		contract    = flag.String("contract", "", "FROC contract address (required)")
		collection  = flag.String("collection", config.DefaultCollection, "collection name used for token labels")
		gateway     = flag.String("gateway", config.DefaultGateway, "IPFS HTTP gateway")
		marketplace = flag.String("marketplace-base", config.DefaultMarketplace, "marketplace assets base URL")
		explorerTx  = flag.String("explorer-tx", config.DefaultExplorerTx, "block explorer transaction base URL")

		storeDriver = flag.String("store-driver", "postgres", "mint store driver: postgres|memory")
		postgresDSN = flag.String("postgres-dsn", "", "Postgres DSN (required when --store-driver=postgres)")

		receiptPollInterval = flag.Duration("receipt-poll-interval", eth.DefaultReceiptPollInterval, "receipt polling interval")
		jobTimeout          = flag.Duration("job-timeout", watcher.DefaultJobTimeout, "per-mint bound on receipt wait plus metadata resolution")
		maxInFlight         = flag.Int("max-in-flight", watcher.DefaultMaxInFlight, "mints processed concurrently")
		tokenConcurrency    = flag.Int("token-concurrency", 4, "concurrent token metadata resolutions per mint")
		claimTTL            = flag.Duration("claim-ttl", watcher.DefaultClaimTTL, "ttl for per-mint processing claims")
		owner               = flag.String("owner", "", "unique watcher identity used for mint claims (default: hostname-pid)")

		fetchAttemptTimeout = flag.Duration("metadata-attempt-timeout", metadata.DefaultAttemptTimeout, "per-attempt metadata fetch timeout")
		fetchMaxAttempts    = flag.Int("metadata-max-attempts", metadata.DefaultMaxAttempts, "metadata fetch attempts per token")
		fetchStep           = flag.Duration("metadata-step", metadata.DefaultStep, "linear backoff step between metadata attempts")

		archiveDriver = flag.String("archive-driver", archiveDriverNone, "metadata archive driver: none|memory|s3")
		archiveBucket = flag.String("archive-bucket", "", "S3 bucket for archived metadata (required for s3)")
		archivePrefix = flag.String("archive-prefix", "", "key prefix for archived metadata")

		queueDriver     = flag.String("queue-driver", queue.DriverKafka, "queue driver: kafka|stdio")
		queueBrokers    = flag.String("queue-brokers", "", "comma-separated queue brokers (required for kafka)")
		queueGroup      = flag.String("queue-group", "froc-watcher", "queue consumer group (required for kafka)")
		queueTopics     = flag.String("queue-topics", queue.TopicMintSubmitted, "comma-separated queue topics")
		maxLineBytes    = flag.Int("max-line-bytes", 1<<20, "maximum stdin line size for stdio driver (bytes)")
		queueMaxBytes   = flag.Int("queue-max-bytes", 10<<20, "maximum kafka message size for consumer reads (bytes)")
		ackTimeout      = flag.Duration("queue-ack-timeout", watcher.DefaultAckTimeout, "timeout for queue message acknowledgements")
		publishResolved = flag.Bool("publish-resolved", true, "publish resolved token events to "+queue.TopicMintResolved)
	)
	flag.Parse()

	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

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
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(2)
	}
	driver := strings.ToLower(strings.TrimSpace(*storeDriver))
	if driver != "postgres" && driver != "memory" {
		fmt.Fprintln(os.Stderr, "error: --store-driver must be postgres or memory")
		os.Exit(2)
	}
	if driver == "postgres" && *postgresDSN == "" {
		fmt.Fprintln(os.Stderr, "error: --postgres-dsn is required for --store-driver=postgres")
		os.Exit(2)
	}
	if *receiptPollInterval <= 0 || *jobTimeout <= 0 || *ackTimeout <= 0 || *claimTTL <= 0 {
		fmt.Fprintln(os.Stderr, "error: --receipt-poll-interval, --job-timeout, --queue-ack-timeout, and --claim-ttl must be > 0")
		os.Exit(2)
	}
	if *maxInFlight <= 0 || *tokenConcurrency <= 0 || *maxLineBytes <= 0 || *queueMaxBytes <= 0 {
		fmt.Fprintln(os.Stderr, "error: --max-in-flight, --token-concurrency, --max-line-bytes, and --queue-max-bytes must be > 0")
		os.Exit(2)
	}
	if *fetchAttemptTimeout <= 0 || *fetchMaxAttempts <= 0 || *fetchStep <= 0 {
		fmt.Fprintln(os.Stderr, "error: metadata settings must be > 0")
		os.Exit(2)
	}
	archDriver := strings.ToLower(strings.TrimSpace(*archiveDriver))
	switch archDriver {
	case archiveDriverNone, archive.DriverMemory:
	case archive.DriverS3:
		if strings.TrimSpace(*archiveBucket) == "" {
			fmt.Fprintln(os.Stderr, "error: --archive-bucket is required for --archive-driver=s3")
			os.Exit(2)
		}
	default:
		fmt.Fprintln(os.Stderr, "error: --archive-driver must be none, memory, or s3")
		os.Exit(2)
	}

	workerOwner := strings.TrimSpace(*owner)
	if workerOwner == "" {
		host, err := os.Hostname()
		if err != nil || strings.TrimSpace(host) == "" {
			host = "froc-watcher"
		}
		workerOwner = fmt.Sprintf("%s-%d", host, os.Getpid())
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	startupCtx, cancelStartup := context.WithTimeout(ctx, 15*time.Second)
	client, err := ethclient.DialContext(startupCtx, chain.RPCURL())
	if err != nil {
		cancelStartup()
		log.Error("dial rpc", "err", err)
		os.Exit(2)
	}
	defer client.Close()
	rpcChainID, err := client.ChainID(startupCtx)
	cancelStartup()
	if err != nil {
		log.Error("read chain id", "err", err)
		os.Exit(2)
	}
	if rpcChainID.Cmp(chain.ChainIDBig()) != 0 {
		log.Error("rpc chain id mismatch", "rpc", rpcChainID.String(), "want", chain.ChainID())
		os.Exit(2)
	}

	reader, err := frocabi.NewReader(chain.Contract(), client)
	if err != nil {
		log.Error("init contract reader", "err", err)
		os.Exit(2)
	}
	fetcher, err := metadata.NewFetcher(metadata.Config{
		Gateway:        chain.Gateway(),
		AttemptTimeout: *fetchAttemptTimeout,
		MaxAttempts:    *fetchMaxAttempts,
		Step:           *fetchStep,
		Log:            log,
	})
	if err != nil {
		log.Error("init metadata fetcher", "err", err)
		os.Exit(2)
	}

	var (
		store      mints.Store
		claimStore claims.Store
	)
	switch driver {
	case "postgres":
		pool, err := pgxpool.New(ctx, *postgresDSN)
		if err != nil {
			log.Error("init pgx pool", "err", err)
			os.Exit(2)
		}
		defer pool.Close()

		pgStore, err := mintspg.New(pool)
		if err != nil {
			log.Error("init mint store", "err", err)
			os.Exit(2)
		}
		if err := pgStore.EnsureSchema(ctx); err != nil {
			log.Error("ensure mint schema", "err", err)
			os.Exit(2)
		}
		store = pgStore

		pgClaims, err := claimspg.New(pool)
		if err != nil {
			log.Error("init claim store", "err", err)
			os.Exit(2)
		}
		if err := pgClaims.EnsureSchema(ctx); err != nil {
			log.Error("ensure claim schema", "err", err)
			os.Exit(2)
		}
		claimStore = pgClaims
	default:
		store = mints.NewMemoryStore()
		claimStore = claims.NewMemoryStore(time.Now)
	}

	cfg := watcher.Config{
		Chain:            chain,
		Receipts:         eth.NewReceiptWaiter(client, *receiptPollInterval),
		Reader:           reader,
		Poller:           fetcher,
		Store:            store,
		Claims:           claimStore,
		Owner:            workerOwner,
		ClaimTTL:         *claimTTL,
		JobTimeout:       *jobTimeout,
		MaxInFlight:      *maxInFlight,
		TokenConcurrency: *tokenConcurrency,
		AckTimeout:       *ackTimeout,
		Now:              time.Now,
		Log:              log,
	}

	if archDriver != archiveDriverNone {
		arch, err := newArchive(ctx, archDriver, *archiveBucket, *archivePrefix, chain)
		if err != nil {
			log.Error("init metadata archive", "err", err)
			os.Exit(2)
		}
		cfg.Archive = arch
	}

	if *publishResolved {
		producer, err := queue.NewProducer(queue.ProducerConfig{
			Driver:  *queueDriver,
			Brokers: queue.SplitCommaList(*queueBrokers),
			Writer:  os.Stdout,
		})
		if err != nil {
			log.Error("init queue producer", "err", err)
			os.Exit(2)
		}
		defer producer.Close()
		cfg.Publisher = producer
	}

	w, err := watcher.New(cfg)
	if err != nil {
		log.Error("init watcher", "err", err)
		os.Exit(2)
	}

	consumer, err := queue.NewConsumer(ctx, queue.ConsumerConfig{
		Driver:        *queueDriver,
		Brokers:       queue.SplitCommaList(*queueBrokers),
		Group:         *queueGroup,
		Topics:        queue.SplitCommaList(*queueTopics),
		KafkaMaxBytes: *queueMaxBytes,
		MaxLineBytes:  *maxLineBytes,
	})
	if err != nil {
		log.Error("init queue consumer", "err", err)
		os.Exit(2)
	}
	defer func() { _ = consumer.Close() }()

	log.Info("froc-watcher started",
		"chainID", chain.ChainID(),
		"contract", chain.Contract().Hex(),
		"store", driver,
		"owner", workerOwner,
		"archive", archDriver,
		"queueDriver", *queueDriver,
		"topics", *queueTopics,
		"maxInFlight", *maxInFlight,
	)

	if err := w.Run(ctx, consumer); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("watcher stopped", "err", err)
		os.Exit(1)
	}
	log.Info("shutdown", "reason", ctx.Err())
}

func newArchive(ctx context.Context, driver, bucket, prefix string, chain config.Chain) (*archive.Archive, error) {
	cfg := archive.Config{
		Driver: driver,
		Bucket: strings.TrimSpace(bucket),
		Prefix: strings.TrimSpace(prefix),
	}
	if cfg.Driver == archive.DriverS3 {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("load aws config: %w", err)
		}
		cfg.S3Client = awss3.NewFromConfig(awsCfg)
	}
	return archive.New(cfg, chain.Contract())
}
