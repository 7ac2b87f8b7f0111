package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/froc-multiverse/froc-mint/internal/carousel"
	"github.com/froc-multiverse/froc-mint/internal/config"
	"github.com/froc-multiverse/froc-mint/internal/frocabi"
	"github.com/froc-multiverse/froc-mint/internal/metadata"
	"github.com/froc-multiverse/froc-mint/internal/mints"
	"github.com/froc-multiverse/froc-mint/internal/queue"
	"github.com/google/uuid"
)

var ErrInvalidConfig = errors.New("api: invalid config")

const headerRequestID = "X-Request-Id"

type MintStore interface {
	Submit(ctx context.Context, txHash common.Hash) (mints.Mint, bool, error)
	Get(ctx context.Context, txHash common.Hash) (mints.Mint, error)
}

type Publisher interface {
	Publish(ctx context.Context, topic string, key, payload []byte) error
}

// CarouselView is the read side of a carousel.Player.
type CarouselView interface {
	Frame() carousel.Frame
	Config() carousel.Config
	Looping() bool
	BaseSlides() []string
	LoopSlides() []string
	Geometry() (width, height, gap int)
}

type StatsReader interface {
	Stats(ctx context.Context) (frocabi.Stats, error)
}

type Config struct {
	Chain     config.Chain
	Mints     MintStore
	Publisher Publisher

	// Carousel and Stats are optional; their routes answer 404 when unset.
	Carousel CarouselView
	Stats    StatsReader

	RateLimitPerIPPerSecond float64
	RateLimitBurst          int
	RateLimitMaxTrackedIPs  int

	StatsCacheTTL   time.Duration
	MintCacheTTL    time.Duration
	CacheMaxEntries int

	MaxBodyBytes int64

	Now          func() time.Time
	NewRequestID func() string
	Log          *slog.Logger
}

func NewHandler(cfg Config) (http.Handler, error) {
	if cfg.Chain.IsZero() {
		return nil, fmt.Errorf("%w: missing chain config", ErrInvalidConfig)
	}
	if cfg.Mints == nil || cfg.Publisher == nil {
		return nil, fmt.Errorf("%w: nil mint store or publisher", ErrInvalidConfig)
	}
	if cfg.RateLimitPerIPPerSecond <= 0 {
		cfg.RateLimitPerIPPerSecond = 20
	}
	if cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = 40
	}
	if cfg.RateLimitMaxTrackedIPs <= 0 {
		cfg.RateLimitMaxTrackedIPs = 10_000
	}
	if cfg.StatsCacheTTL <= 0 {
		cfg.StatsCacheTTL = 5 * time.Second
	}
	if cfg.MintCacheTTL <= 0 {
		cfg.MintCacheTTL = 10 * time.Minute
	}
	if cfg.CacheMaxEntries <= 0 {
		cfg.CacheMaxEntries = 10_000
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 4 << 10
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.NewRequestID == nil {
		cfg.NewRequestID = uuid.NewString
	}
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}

	h := &handler{
		cfg: cfg,
		log: cfg.Log,
		limiter: newIPRateLimiter(
			cfg.RateLimitPerIPPerSecond,
			float64(cfg.RateLimitBurst),
			cfg.RateLimitMaxTrackedIPs,
		),
		cache: newResponseCache(cfg.CacheMaxEntries),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", h.handleHealthz)
	mux.HandleFunc("GET /v1/config", h.handleConfig)
	mux.HandleFunc("GET /v1/stats", h.handleStats)
	mux.HandleFunc("GET /v1/carousel", h.handleCarousel)
	mux.HandleFunc("POST /v1/mints", h.handleMintSubmit)
	mux.HandleFunc("GET /v1/mints/{txHash}", h.handleMintStatus)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := requestID(r, cfg.NewRequestID)
		w.Header().Set(headerRequestID, reqID)
		r = r.WithContext(withRequestID(r.Context(), reqID))

		// Health checks must never be throttled.
		if r.URL.Path == "/healthz" {
			mux.ServeHTTP(w, r)
			return
		}

		now := h.cfg.Now().UTC()
		ip := clientIP(r)
		allowed := h.limiter.Allow(ip, now)
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(h.cfg.RateLimitBurst))
		if !allowed {
			h.log.Debug("rate limited", "ip", ip, "path", r.URL.Path, "requestId", reqID)
			w.Header().Set("Retry-After", "1")
			writeError(w, http.StatusTooManyRequests, "rate_limited")
			return
		}
		mux.ServeHTTP(w, r)
	}), nil
}

type handler struct {
	cfg     Config
	log     *slog.Logger
	limiter *ipRateLimiter
	cache   *responseCache
}

func (h *handler) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

func (h *handler) handleConfig(w http.ResponseWriter, _ *http.Request) {
	c := h.cfg.Chain
	writeJSON(w, http.StatusOK, map[string]any{
		"version":         "v1",
		"chainId":         c.ChainID(),
		"contract":        c.Contract().Hex(),
		"collection":      c.Collection(),
		"gateway":         c.Gateway(),
		"marketplaceBase": c.MarketplaceBase(),
		"maxMintQuantity": frocabi.MaxMintQuantity,
	})
}

func (h *handler) handleStats(w http.ResponseWriter, r *http.Request) {
	if h.cfg.Stats == nil {
		writeError(w, http.StatusNotFound, "stats_disabled")
		return
	}
	now := h.cfg.Now().UTC()
	if body, ok := h.cache.Get("stats", now); ok {
		writeJSONBytes(w, http.StatusOK, body)
		return
	}

	st, err := h.cfg.Stats.Stats(r.Context())
	if err != nil {
		h.log.Warn("read contract stats", "err", err, "requestId", requestIDFrom(r.Context()))
		writeError(w, http.StatusBadGateway, "rpc_unavailable")
		return
	}
	body, err := json.Marshal(map[string]any{
		"version":        "v1",
		"priceWei":       bigString(st.Price),
		"mintActive":     st.MintActive,
		"totalMinted":    bigString(st.TotalMinted),
		"maxSupply":      bigString(st.MaxSupply),
		"metadataFrozen": st.MetadataFrozen,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal")
		return
	}
	h.cache.Set("stats", body, now, h.cfg.StatsCacheTTL)
	writeJSONBytes(w, http.StatusOK, body)
}

func (h *handler) handleCarousel(w http.ResponseWriter, _ *http.Request) {
	v := h.cfg.Carousel
	if v == nil {
		writeError(w, http.StatusNotFound, "carousel_disabled")
		return
	}
	cfg := v.Config()
	frame := v.Frame()
	width, height, gap := v.Geometry()
	startIndex := 0
	if v.Looping() {
		startIndex = 1
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"version":     "v1",
		"baseSlides":  v.BaseSlides(),
		"loopSlides":  v.LoopSlides(),
		"startIndex":  startIndex,
		"index":       frame.Index,
		"activeDot":   frame.ActiveDot,
		"state":       frame.State.String(),
		"offset":      frame.Offset,
		"slideWidth":  width,
		"slideHeight": height,
		"gap":         gap,
		"autoplay":    !cfg.DisableAuto && v.Looping(),
		"intervalMs":  cfg.Interval.Milliseconds(),
	})
}

type mintSubmitRequestBody struct {
	TxHash string `json:"txHash"`
}

func (h *handler) handleMintSubmit(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.MaxBodyBytes)
	body, ok := decodeJSONBody[mintSubmitRequestBody](w, r)
	if !ok {
		return
	}
	txHash, err := queue.ParseTxHash(body.TxHash)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_tx_hash")
		return
	}

	ctx := r.Context()
	reqID := requestIDFrom(ctx)
	m, created, err := h.cfg.Mints.Submit(ctx, txHash)
	if err != nil {
		h.log.Error("store mint submission", "tx", txHash.Hex(), "err", err, "requestId", reqID)
		writeError(w, http.StatusInternalServerError, "internal")
		return
	}
	if m.State != mints.StateSubmitted {
		writeJSON(w, http.StatusOK, h.mintView(m))
		return
	}

	// A mint still in submitted state is re-published so a lost queue write
	// can be recovered by the client repeating the request.
	payload, err := queue.EncodeMintSubmitted(txHash)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal")
		return
	}
	if err := h.cfg.Publisher.Publish(ctx, queue.TopicMintSubmitted, txHash.Bytes(), payload); err != nil {
		h.log.Error("publish mint submission", "tx", txHash.Hex(), "err", err, "requestId", reqID)
		writeError(w, http.StatusServiceUnavailable, "queue_unavailable")
		return
	}
	h.log.Info("mint submitted", "tx", txHash.Hex(), "new", created, "requestId", reqID)
	writeJSON(w, http.StatusAccepted, h.mintView(m))
}

func (h *handler) handleMintStatus(w http.ResponseWriter, r *http.Request) {
	txHash, err := queue.ParseTxHash(r.PathValue("txHash"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_tx_hash")
		return
	}
	now := h.cfg.Now().UTC()
	key := "mint|" + txHash.Hex()
	if body, ok := h.cache.Get(key, now); ok {
		writeJSONBytes(w, http.StatusOK, body)
		return
	}

	m, err := h.cfg.Mints.Get(r.Context(), txHash)
	if errors.Is(err, mints.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]any{
			"version": "v1",
			"found":   false,
			"txHash":  txHash.Hex(),
		})
		return
	}
	if err != nil {
		h.log.Error("load mint", "tx", txHash.Hex(), "err", err, "requestId", requestIDFrom(r.Context()))
		writeError(w, http.StatusInternalServerError, "internal")
		return
	}

	body, err := json.Marshal(h.mintView(m))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal")
		return
	}
	// Resolved and failed mints never change again.
	if m.State == mints.StateResolved || m.State == mints.StateFailed {
		h.cache.Set(key, body, now, h.cfg.MintCacheTTL)
	}
	writeJSONBytes(w, http.StatusOK, body)
}

type itemView struct {
	TokenID     string               `json:"tokenId"`
	Name        string               `json:"name"`
	Image       string               `json:"image,omitempty"`
	Attributes  []metadata.Attribute `json:"attributes,omitempty"`
	ExternalURL string               `json:"externalUrl"`
	Resolved    bool                 `json:"resolved"`
}

type mintView struct {
	Version     string     `json:"version"`
	Found       bool       `json:"found"`
	TxHash      string     `json:"txHash"`
	State       string     `json:"state"`
	ExplorerURL string     `json:"explorerUrl"`
	BlockNumber uint64     `json:"blockNumber,omitempty"`
	Failure     string     `json:"failure,omitempty"`
	Items       []itemView `json:"items"`
	CreatedAt   string     `json:"createdAt"`
	UpdatedAt   string     `json:"updatedAt"`
}

func (h *handler) mintView(m mints.Mint) mintView {
	items := make([]itemView, 0, len(m.Tokens))
	for _, t := range m.Tokens {
		items = append(items, itemView{
			TokenID:     bigString(t.TokenID),
			Name:        t.Name,
			Image:       t.Image,
			Attributes:  t.Attributes,
			ExternalURL: t.ExternalURL,
			Resolved:    t.Resolved(),
		})
	}
	return mintView{
		Version:     "v1",
		Found:       true,
		TxHash:      m.TxHash.Hex(),
		State:       m.State.String(),
		ExplorerURL: h.cfg.Chain.TxURL(m.TxHash),
		BlockNumber: m.BlockNumber,
		Failure:     m.Failure,
		Items:       items,
		CreatedAt:   m.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:   m.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

type ctxKeyRequestID struct{}

func withRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKeyRequestID{}, id)
}

func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(ctxKeyRequestID{}).(string)
	return id
}

// requestID keeps a caller-supplied id only when it is a UUID.
func requestID(r *http.Request, gen func() string) string {
	if v := strings.TrimSpace(r.Header.Get(headerRequestID)); v != "" {
		if id, err := uuid.Parse(v); err == nil {
			return id.String()
		}
	}
	return gen()
}
