package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/froc-multiverse/froc-mint/internal/api"
	"github.com/froc-multiverse/froc-mint/internal/carousel"
	"github.com/froc-multiverse/froc-mint/internal/config"
	"github.com/froc-multiverse/froc-mint/internal/frocabi"
	"github.com/froc-multiverse/froc-mint/internal/mints"
	mintspg "github.com/froc-multiverse/froc-mint/internal/mints/postgres"
	"github.com/froc-multiverse/froc-mint/internal/queue"
	"github.com/jackc/pgx/v5/pgxpool"
)

const defaultSlides = "/previews/001.png,/previews/002.png,/previews/003.png,/previews/004.png," +
	"/previews/005.png,/previews/006.png,/previews/007.png,/previews/008.png," +
	"/previews/009.png,/previews/010.png,/previews/011.png,/previews/012.png"

func main() {
	var (
		listenAddr = flag.String("listen", "127.0.0.1:8080", "HTTP listen address")

		chainID     = flag.Uint64("chain-id", config.BaseMainnetChainID, "EVM chain id")
		rpcURL      = flag.String("rpc-url", config.DefaultRPCURL, "EVM JSON-RPC URL used for /v1/stats")
		contract    = flag.String("contract", "", "FROC contract address (required)")
		collection  = flag.String("collection", config.DefaultCollection, "collection name used for token labels")
		gateway     = flag.String("gateway", config.DefaultGateway, "IPFS HTTP gateway")
		marketplace = flag.String("marketplace-base", config.DefaultMarketplace, "marketplace assets base URL")
		explorerTx  = flag.String("explorer-tx", config.DefaultExplorerTx, "block explorer transaction base URL")
		enableStats = flag.Bool("stats", true, "serve live contract stats from --rpc-url")

		storeDriver = flag.String("store-driver", "postgres", "mint store driver: postgres|memory")
		postgresDSN = flag.String("postgres-dsn", "", "Postgres DSN (required for --store-driver=postgres)")

		queueDriver  = flag.String("queue-driver", queue.DriverKafka, "queue driver for mint submissions (kafka|stdio)")
		queueBrokers = flag.String("queue-brokers", "", "queue brokers (comma-separated, required for kafka)")

		slides          = flag.String("slides", defaultSlides, "carousel image URLs (comma-separated); empty disables /v1/carousel")
		carouselHeight  = flag.Int("carousel-height", carousel.DefaultHeight, "carousel target slide height in px")
		carouselEvery   = flag.Duration("carousel-interval", 3200*time.Millisecond, "carousel autoplay interval")
		carouselNoAuto  = flag.Bool("carousel-disable-auto", false, "disable carousel autoplay")
		carouselMaxPull = flag.Float64("carousel-max-pull", 0, "clamp for carousel drag offset in px (0 = unclamped)")

		rateLimitPerSecond = flag.Float64("rate-limit-per-ip-per-second", 20, "per-IP refill rate for API rate limiting")
		rateLimitBurst     = flag.Int("rate-limit-burst", 40, "per-IP burst capacity for API rate limiting")
		rateLimitMaxIPs    = flag.Int("rate-limit-max-tracked-ips", 10000, "maximum tracked client IP entries in rate limiter")

		statsCacheTTL   = flag.Duration("stats-cache-ttl", 5*time.Second, "TTL for contract stats response cache")
		mintCacheTTL    = flag.Duration("mint-cache-ttl", 10*time.Minute, "TTL for settled mint response cache")
		cacheMaxEntries = flag.Int("cache-max-entries", 10000, "maximum cached responses")

		readHeaderTimeout = flag.Duration("read-header-timeout", 5*time.Second, "http.Server ReadHeaderTimeout")
		readTimeout       = flag.Duration("read-timeout", 10*time.Second, "http.Server ReadTimeout")
		writeTimeout      = flag.Duration("write-timeout", 10*time.Second, "http.Server WriteTimeout")
		idleTimeout       = flag.Duration("idle-timeout", 60*time.Second, "http.Server IdleTimeout")
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
	if *listenAddr == "" {
		fmt.Fprintln(os.Stderr, "error: --listen must be non-empty")
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
	if *readHeaderTimeout <= 0 || *readTimeout <= 0 || *writeTimeout <= 0 || *idleTimeout <= 0 {
		fmt.Fprintln(os.Stderr, "error: timeouts must be > 0")
		os.Exit(2)
	}
	if *rateLimitPerSecond <= 0 || *rateLimitBurst <= 0 || *rateLimitMaxIPs <= 0 {
		fmt.Fprintln(os.Stderr, "error: rate limit settings must be > 0")
		os.Exit(2)
	}
	if *statsCacheTTL <= 0 || *mintCacheTTL <= 0 || *cacheMaxEntries <= 0 {
		fmt.Fprintln(os.Stderr, "error: cache settings must be > 0")
		os.Exit(2)
	}
	if *carouselEvery <= 0 {
		fmt.Fprintln(os.Stderr, "error: --carousel-interval must be > 0")
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var store api.MintStore
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
	default:
		store = mints.NewMemoryStore()
	}

	producer, err := queue.NewProducer(queue.ProducerConfig{
		Driver:  *queueDriver,
		Brokers: queue.SplitCommaList(*queueBrokers),
	})
	if err != nil {
		log.Error("init queue producer", "err", err)
		os.Exit(2)
	}
	defer producer.Close()

	var view api.CarouselView
	if images := queue.SplitCommaList(*slides); len(images) > 0 {
		c, err := carousel.New(images, carousel.Config{
			DisableAuto:  *carouselNoAuto,
			Interval:     *carouselEvery,
			TargetHeight: *carouselHeight,
			MaxPull:      *carouselMaxPull,
		})
		if err != nil {
			log.Error("init carousel", "err", err)
			os.Exit(2)
		}
		player := carousel.NewPlayer(c, carousel.PlayerConfig{AutoSettle: true, Log: log})
		defer player.Close()
		player.Measure(0)
		view = player
	}

	var stats api.StatsReader
	if *enableStats {
		startupCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
		client, err := ethclient.DialContext(startupCtx, chain.RPCURL())
		if err != nil {
			cancel()
			log.Error("dial rpc", "err", err)
			os.Exit(2)
		}
		defer client.Close()
		rpcChainID, err := client.ChainID(startupCtx)
		cancel()
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
		stats = reader
	}

	handler, err := api.NewHandler(api.Config{
		Chain:                   chain,
		Mints:                   store,
		Publisher:               producer,
		Carousel:                view,
		Stats:                   stats,
		RateLimitPerIPPerSecond: *rateLimitPerSecond,
		RateLimitBurst:          *rateLimitBurst,
		RateLimitMaxTrackedIPs:  *rateLimitMaxIPs,
		StatsCacheTTL:           *statsCacheTTL,
		MintCacheTTL:            *mintCacheTTL,
		CacheMaxEntries:         *cacheMaxEntries,
		Now:                     time.Now,
		Log:                     log,
	})
	if err != nil {
		log.Error("init api handler", "err", err)
		os.Exit(2)
	}

	srv := &http.Server{
		Addr:              *listenAddr,
		Handler:           handler,
		ReadHeaderTimeout: *readHeaderTimeout,
		ReadTimeout:       *readTimeout,
		WriteTimeout:      *writeTimeout,
		IdleTimeout:       *idleTimeout,
		MaxHeaderBytes:    1 << 20,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("froc-api listening", "addr", *listenAddr, "chainID", chain.ChainID(), "contract", chain.Contract().Hex(), "store", driver, "queueDriver", *queueDriver)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown", "reason", ctx.Err())
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			log.Error("server error", "err", err)
			os.Exit(1)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}
