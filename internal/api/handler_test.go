package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/froc-multiverse/froc-mint/internal/carousel"
	"github.com/froc-multiverse/froc-mint/internal/config"
	"github.com/froc-multiverse/froc-mint/internal/frocabi"
	"github.com/froc-multiverse/froc-mint/internal/metadata"
	"github.com/froc-multiverse/froc-mint/internal/mints"
	"github.com/froc-multiverse/froc-mint/internal/queue"
)

const sampleTx = "0x8f6b6a2c7e0d1f4b3a29c5e1d7f80a6b4c3d2e1f0a9b8c7d6e5f4a3b2c1d0e9f"

var discardLog = slog.New(slog.NewTextHandler(io.Discard, nil))

type publishCall struct {
	topic   string
	key     []byte
	payload []byte
}

type stubPublisher struct {
	mu    sync.Mutex
	calls []publishCall
	err   error
}

func (p *stubPublisher) Publish(_ context.Context, topic string, key, payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.calls = append(p.calls, publishCall{topic: topic, key: key, payload: payload})
	return nil
}

func (p *stubPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

type countingStore struct {
	*mints.MemoryStore
	mu   sync.Mutex
	gets int
}

func (s *countingStore) Get(ctx context.Context, txHash common.Hash) (mints.Mint, error) {
	s.mu.Lock()
	s.gets++
	s.mu.Unlock()
	return s.MemoryStore.Get(ctx, txHash)
}

type stubStats struct {
	calls int
	st    frocabi.Stats
	err   error
}

func (s *stubStats) Stats(context.Context) (frocabi.Stats, error) {
	s.calls++
	return s.st, s.err
}

func testChain(t *testing.T) config.Chain {
	t.Helper()
	c, err := config.NewChain(config.ChainParams{Contract: "0x5FbDB2315678afecb367f032d93F642f64180aa3"})
	if err != nil {
		t.Fatalf("NewChain: %v", err)
	}
	return c
}

type fixture struct {
	h     http.Handler
	store *countingStore
	pub   *stubPublisher
	now   *time.Time
}

func newFixture(t *testing.T, mutate func(*Config)) *fixture {
	t.Helper()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	f := &fixture{
		store: &countingStore{MemoryStore: mints.NewMemoryStore()},
		pub:   &stubPublisher{},
		now:   &now,
	}
	cfg := Config{
		Chain:        testChain(t),
		Mints:        f.store,
		Publisher:    f.pub,
		Now:          func() time.Time { return *f.now },
		NewRequestID: func() string { return "11111111-2222-4333-8444-555555555555" },
		Log:          discardLog,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	h, err := NewHandler(cfg)
	if err != nil {
		t.Fatalf("NewHandler: %v", err)
	}
	f.h = h
	return f
}

func (f *fixture) do(method, path, body string) *httptest.ResponseRecorder {
	var rdr io.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rdr)
	req.RemoteAddr = "198.51.100.7:4321"
	rec := httptest.NewRecorder()
	f.h.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode body %q: %v", rec.Body.String(), err)
	}
	return out
}

func TestNewHandler_Validation(t *testing.T) {
	t.Parallel()

	chain := testChain(t)
	cases := []struct {
		name string
		cfg  Config
	}{
		{"missing chain", Config{Mints: mints.NewMemoryStore(), Publisher: &stubPublisher{}}},
		{"missing store", Config{Chain: chain, Publisher: &stubPublisher{}}},
		{"missing publisher", Config{Chain: chain, Mints: mints.NewMemoryStore()}},
	}
	for _, tc := range cases {
		if _, err := NewHandler(tc.cfg); !errors.Is(err, ErrInvalidConfig) {
			t.Fatalf("%s: expected ErrInvalidConfig, got %v", tc.name, err)
		}
	}
}

func TestHandler_HealthzAndConfig(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	rec := f.do(http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusOK || rec.Body.String() != "ok\n" {
		t.Fatalf("healthz: %d %q", rec.Code, rec.Body.String())
	}

	rec = f.do(http.MethodGet, "/v1/config", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d want %d", rec.Code, http.StatusOK)
	}
	out := decodeBody(t, rec)
	if out["chainId"] != float64(8453) {
		t.Fatalf("chainId: %v", out["chainId"])
	}
	if out["contract"] != "0x5FbDB2315678afecb367f032d93F642f64180aa3" {
		t.Fatalf("contract: %v", out["contract"])
	}
	if out["collection"] != "FROC" || out["gateway"] != config.DefaultGateway {
		t.Fatalf("unexpected config: %v", out)
	}
	if out["maxMintQuantity"] != float64(frocabi.MaxMintQuantity) {
		t.Fatalf("maxMintQuantity: %v", out["maxMintQuantity"])
	}
}

func TestHandler_RequestID(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	rec := f.do(http.MethodGet, "/healthz", "")
	if got := rec.Header().Get("X-Request-Id"); got != "11111111-2222-4333-8444-555555555555" {
		t.Fatalf("generated request id: %q", got)
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/config", nil)
	req.Header.Set("X-Request-Id", "6F1E2D3C-4B5A-4978-8695-A4B3C2D1E0F9")
	rec = httptest.NewRecorder()
	f.h.ServeHTTP(rec, req)
	if got := rec.Header().Get("X-Request-Id"); got != "6f1e2d3c-4b5a-4978-8695-a4b3c2d1e0f9" {
		t.Fatalf("caller request id: %q", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/v1/config", nil)
	req.Header.Set("X-Request-Id", "<script>")
	rec = httptest.NewRecorder()
	f.h.ServeHTTP(rec, req)
	if got := rec.Header().Get("X-Request-Id"); got != "11111111-2222-4333-8444-555555555555" {
		t.Fatalf("invalid caller id should be replaced, got %q", got)
	}
}

func TestHandler_RateLimitPerIP(t *testing.T) {
	t.Parallel()

	f := newFixture(t, func(c *Config) {
		c.RateLimitPerIPPerSecond = 1
		c.RateLimitBurst = 1
	})

	if rec := f.do(http.MethodGet, "/v1/config", ""); rec.Code != http.StatusOK {
		t.Fatalf("first status: got %d", rec.Code)
	}
	rec := f.do(http.MethodGet, "/v1/config", "")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second status: got %d want %d", rec.Code, http.StatusTooManyRequests)
	}
	if out := decodeBody(t, rec); out["error"] != "rate_limited" {
		t.Fatalf("unexpected body: %v", out)
	}
	if rec.Header().Get("Retry-After") != "1" || rec.Header().Get("X-RateLimit-Limit") != "1" {
		t.Fatalf("unexpected headers: %v", rec.Header())
	}

	// Health checks bypass the limiter.
	if rec := f.do(http.MethodGet, "/healthz", ""); rec.Code != http.StatusOK {
		t.Fatalf("healthz throttled: %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/config", nil)
	req.RemoteAddr = "198.51.100.8:4321"
	other := httptest.NewRecorder()
	f.h.ServeHTTP(other, req)
	if other.Code != http.StatusOK {
		t.Fatalf("other ip: got %d", other.Code)
	}

	*f.now = f.now.Add(time.Second)
	if rec := f.do(http.MethodGet, "/v1/config", ""); rec.Code != http.StatusOK {
		t.Fatalf("after refill: got %d", rec.Code)
	}
}

func TestHandler_MintSubmit(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	rec := f.do(http.MethodPost, "/v1/mints", `{"txHash":"`+sampleTx+`"}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status: got %d want %d body=%s", rec.Code, http.StatusAccepted, rec.Body.String())
	}
	out := decodeBody(t, rec)
	if out["state"] != "submitted" || out["txHash"] != sampleTx {
		t.Fatalf("unexpected body: %v", out)
	}
	if out["explorerUrl"] != config.DefaultExplorerTx+"/"+sampleTx {
		t.Fatalf("explorerUrl: %v", out["explorerUrl"])
	}

	if f.pub.count() != 1 {
		t.Fatalf("publish calls: got %d want 1", f.pub.count())
	}
	call := f.pub.calls[0]
	if call.topic != queue.TopicMintSubmitted {
		t.Fatalf("topic: got %q", call.topic)
	}
	if !bytes.Equal(call.key, common.HexToHash(sampleTx).Bytes()) {
		t.Fatalf("key: got %x", call.key)
	}
	got, err := queue.DecodeMintSubmitted(call.payload)
	if err != nil || got != common.HexToHash(sampleTx) {
		t.Fatalf("payload: %s %v", call.payload, err)
	}

	// Resubmitting a still-submitted mint republishes.
	if rec := f.do(http.MethodPost, "/v1/mints", `{"txHash":"`+sampleTx+`"}`); rec.Code != http.StatusAccepted {
		t.Fatalf("resubmit status: got %d", rec.Code)
	}
	if f.pub.count() != 2 {
		t.Fatalf("publish calls after resubmit: got %d want 2", f.pub.count())
	}

	// Once mined it is only reported.
	if err := f.store.MarkMined(context.Background(), common.HexToHash(sampleTx), 100, nil); err != nil {
		t.Fatalf("MarkMined: %v", err)
	}
	rec = f.do(http.MethodPost, "/v1/mints", `{"txHash":"`+sampleTx+`"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("mined resubmit status: got %d", rec.Code)
	}
	if decodeBody(t, rec)["state"] != "mined" || f.pub.count() != 2 {
		t.Fatalf("mined resubmit should not publish")
	}
}

func TestHandler_MintSubmit_InvalidPayload(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	cases := []struct {
		body string
		want string
	}{
		{`not-json`, "invalid_json"},
		{`{"txHash":"` + sampleTx + `","extra":1}`, "invalid_json"},
		{`{"txHash":"0x1234"}`, "invalid_tx_hash"},
		{`{"txHash":"` + strings.Repeat("a", 5000) + `"}`, "invalid_json"},
	}
	for _, tc := range cases {
		rec := f.do(http.MethodPost, "/v1/mints", tc.body)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("%q: status %d", tc.body[:min(len(tc.body), 40)], rec.Code)
		}
		if got := decodeBody(t, rec)["error"]; got != tc.want {
			t.Fatalf("%q: error %v want %s", tc.body[:min(len(tc.body), 40)], got, tc.want)
		}
	}
	if f.pub.count() != 0 {
		t.Fatalf("unexpected publish")
	}
}

func TestHandler_MintSubmit_QueueDown(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	f.pub.err = errors.New("kafka: leader not available")
	rec := f.do(http.MethodPost, "/v1/mints", `{"txHash":"`+sampleTx+`"}`)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status: got %d", rec.Code)
	}
	if _, err := f.store.MemoryStore.Get(context.Background(), common.HexToHash(sampleTx)); err != nil {
		t.Fatalf("submission should stay recorded: %v", err)
	}
}

func TestHandler_MintStatus(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	tx := common.HexToHash(sampleTx)

	rec := f.do(http.MethodGet, "/v1/mints/"+sampleTx, "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown: got %d", rec.Code)
	}
	if out := decodeBody(t, rec); out["found"] != false {
		t.Fatalf("unknown body: %v", out)
	}
	if rec := f.do(http.MethodGet, "/v1/mints/0xnothash", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad hash: got %d", rec.Code)
	}

	ctx := context.Background()
	chain := testChain(t)
	if _, _, err := f.store.Submit(ctx, tx); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	tokens := []mints.Token{
		{TokenID: big.NewInt(41), Name: chain.TokenName(big.NewInt(41)), ExternalURL: chain.TokenURL(big.NewInt(41))},
		{TokenID: big.NewInt(42), Name: chain.TokenName(big.NewInt(42)), ExternalURL: chain.TokenURL(big.NewInt(42))},
	}
	if err := f.store.MarkMined(ctx, tx, 777, tokens); err != nil {
		t.Fatalf("MarkMined: %v", err)
	}
	resolved := tokens[1]
	resolved.Image = "https://gateway.lighthouse.storage/ipfs/img/42.png"
	resolved.Attributes = []metadata.Attribute{{TraitType: "Body", Value: "Jelly"}}
	resolved.ResolvedAt = *f.now
	if err := f.store.UpdateToken(ctx, tx, resolved); err != nil {
		t.Fatalf("UpdateToken: %v", err)
	}

	rec = f.do(http.MethodGet, "/v1/mints/"+sampleTx, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d body=%s", rec.Code, rec.Body.String())
	}
	var view mintView
	if err := json.Unmarshal(rec.Body.Bytes(), &view); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if view.State != "mined" || view.BlockNumber != 777 || len(view.Items) != 2 {
		t.Fatalf("unexpected view: %+v", view)
	}
	if view.Items[0].TokenID != "41" || view.Items[0].Resolved || view.Items[0].Image != "" {
		t.Fatalf("item 0: %+v", view.Items[0])
	}
	if view.Items[1].Name != "FROC #42" || !view.Items[1].Resolved || view.Items[1].Attributes[0].ValueString() != "Jelly" {
		t.Fatalf("item 1: %+v", view.Items[1])
	}
	if !strings.HasSuffix(view.Items[1].ExternalURL, "/0x5FbDB2315678afecb367f032d93F642f64180aa3/42") {
		t.Fatalf("externalUrl: %q", view.Items[1].ExternalURL)
	}

	// Mined mints are read through; resolved ones are cached.
	f.do(http.MethodGet, "/v1/mints/"+sampleTx, "")
	if f.store.gets != 3 {
		t.Fatalf("store gets: got %d want 3", f.store.gets)
	}
	if err := f.store.MarkResolved(ctx, tx); err != nil {
		t.Fatalf("MarkResolved: %v", err)
	}
	for i := 0; i < 3; i++ {
		rec := f.do(http.MethodGet, "/v1/mints/"+sampleTx, "")
		if rec.Code != http.StatusOK || decodeBody(t, rec)["state"] != "resolved" {
			t.Fatalf("resolved read %d: %d %s", i, rec.Code, rec.Body.String())
		}
	}
	if f.store.gets != 4 {
		t.Fatalf("store gets after resolve: got %d want 4", f.store.gets)
	}
}

func TestHandler_Stats(t *testing.T) {
	t.Parallel()

	if rec := newFixture(t, nil).do(http.MethodGet, "/v1/stats", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("disabled stats: got %d", rec.Code)
	}

	stats := &stubStats{st: frocabi.Stats{
		Price:       big.NewInt(2_000_000_000_000_000),
		MintActive:  true,
		TotalMinted: big.NewInt(1234),
		MaxSupply:   big.NewInt(5000),
	}}
	f := newFixture(t, func(c *Config) {
		c.Stats = stats
		c.StatsCacheTTL = 5 * time.Second
	})
	rec := f.do(http.MethodGet, "/v1/stats", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d", rec.Code)
	}
	out := decodeBody(t, rec)
	if out["priceWei"] != "2000000000000000" || out["mintActive"] != true || out["totalMinted"] != "1234" || out["maxSupply"] != "5000" {
		t.Fatalf("unexpected stats: %v", out)
	}

	f.do(http.MethodGet, "/v1/stats", "")
	if stats.calls != 1 {
		t.Fatalf("expected cached stats, calls=%d", stats.calls)
	}
	*f.now = f.now.Add(5 * time.Second)
	f.do(http.MethodGet, "/v1/stats", "")
	if stats.calls != 2 {
		t.Fatalf("expected refresh after ttl, calls=%d", stats.calls)
	}

	stats.err = errors.New("rpc down")
	*f.now = f.now.Add(5 * time.Second)
	if rec := f.do(http.MethodGet, "/v1/stats", ""); rec.Code != http.StatusBadGateway {
		t.Fatalf("rpc failure: got %d", rec.Code)
	}
}

func TestHandler_Carousel(t *testing.T) {
	t.Parallel()

	if rec := newFixture(t, nil).do(http.MethodGet, "/v1/carousel", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("disabled carousel: got %d", rec.Code)
	}

	c, err := carousel.New([]string{"/previews/001.png", "/previews/002.png", "/previews/001.png", "/previews/003.png"}, carousel.Config{DisableAuto: true})
	if err != nil {
		t.Fatalf("carousel.New: %v", err)
	}
	p := carousel.NewPlayer(c, carousel.PlayerConfig{AutoSettle: true, Log: discardLog})
	defer p.Close()
	p.Measure(0)
	p.GoToSlide(2)

	f := newFixture(t, func(cfg *Config) { cfg.Carousel = p })
	rec := f.do(http.MethodGet, "/v1/carousel", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d", rec.Code)
	}
	out := decodeBody(t, rec)
	if got := out["baseSlides"].([]any); len(got) != 3 {
		t.Fatalf("baseSlides: %v", got)
	}
	loop := out["loopSlides"].([]any)
	if len(loop) != 5 || loop[0] != "/previews/003.png" || loop[4] != "/previews/001.png" {
		t.Fatalf("loopSlides: %v", loop)
	}
	if out["startIndex"] != float64(1) || out["index"] != float64(3) || out["activeDot"] != float64(2) {
		t.Fatalf("position: %v", out)
	}
	if out["state"] != "idle" || out["autoplay"] != false {
		t.Fatalf("state: %v", out)
	}
	if out["slideHeight"] != float64(260) || out["slideWidth"] != float64(338) || out["gap"] != float64(12) {
		t.Fatalf("geometry: %v", out)
	}
}
