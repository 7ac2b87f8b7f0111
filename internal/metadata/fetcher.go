package metadata

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/froc-multiverse/froc-mint/internal/retry"
)

const (
	IPFSScheme     = "ipfs://"
	DefaultGateway = "https://gateway.lighthouse.storage/ipfs/"

	DefaultAttemptTimeout = 8 * time.Second
	DefaultMaxAttempts    = 8
	DefaultStep           = 500 * time.Millisecond

	defaultMaxBodyBytes int64 = 1 << 20
)

var (
	ErrInvalidConfig = errors.New("metadata: invalid config")
	ErrNotReady      = errors.New("metadata: document has neither image nor attributes")
	ErrBadStatus     = errors.New("metadata: unexpected status")
	ErrBadURI        = errors.New("metadata: unsupported uri")
)

type Config struct {
	// Gateway replaces the ipfs:// scheme. Must end with "/".
	Gateway    string
	HTTPClient *http.Client

	AttemptTimeout time.Duration
	MaxAttempts    int
	Step           time.Duration
	MaxBodyBytes   int64

	Now func() time.Time
	// NewTimer overrides the backoff timer per Poll call.
	NewTimer func() backoff.Timer

	Log *slog.Logger
}

// Fetcher resolves token metadata documents over HTTPS with bounded polling.
type Fetcher struct {
	gateway string
	client  *http.Client
	cfg     Config
	log     *slog.Logger
}

func NewFetcher(cfg Config) (*Fetcher, error) {
	gw := strings.TrimSpace(cfg.Gateway)
	if gw == "" {
		gw = DefaultGateway
	}
	u, err := url.Parse(gw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("%w: invalid gateway %q", ErrInvalidConfig, gw)
	}
	if !strings.HasSuffix(gw, "/") {
		gw += "/"
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = DefaultAttemptTimeout
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.Step < 0 {
		return nil, fmt.Errorf("%w: negative step", ErrInvalidConfig)
	}
	if cfg.Step == 0 {
		cfg.Step = DefaultStep
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxBodyBytes
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	return &Fetcher{gateway: gw, client: client, cfg: cfg, log: log}, nil
}

// Rewrite maps ipfs://<cid>/<path> onto the configured gateway. Other URIs pass
// through unchanged.
func (f *Fetcher) Rewrite(uri string) string {
	return RewriteIPFS(uri, f.gateway)
}

func RewriteIPFS(uri, gateway string) string {
	if !strings.HasPrefix(uri, IPFSScheme) {
		return uri
	}
	return gateway + strings.TrimPrefix(uri, IPFSScheme)
}

// FetchOnce performs a single uncached attempt. The returned error is nil only
// when the document carries an image or attributes.
func (f *Fetcher) FetchOnce(ctx context.Context, uri string) (Metadata, error) {
	target, err := f.cacheBusted(f.Rewrite(uri))
	if err != nil {
		return Metadata{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, f.cfg.AttemptTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return Metadata{}, fmt.Errorf("metadata: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Cache-Control", "no-store")
	req.Header.Set("Pragma", "no-cache")

	resp, err := f.client.Do(req)
	if err != nil {
		return Metadata{}, fmt.Errorf("metadata: get: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		return Metadata{}, fmt.Errorf("%w: %d", ErrBadStatus, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.cfg.MaxBodyBytes+1))
	if err != nil {
		return Metadata{}, fmt.Errorf("metadata: read body: %w", err)
	}
	if int64(len(body)) > f.cfg.MaxBodyBytes {
		return Metadata{}, fmt.Errorf("metadata: body exceeds %d bytes", f.cfg.MaxBodyBytes)
	}

	md, ready, err := Decode(body)
	if err != nil {
		return Metadata{}, err
	}
	if !ready {
		return Metadata{}, ErrNotReady
	}
	md.Image = f.Rewrite(md.Image)
	return md, nil
}

// Poll retries FetchOnce up to MaxAttempts times, waiting k*Step after the
// k-th failure. ok is false when the budget is exhausted or ctx ends; the
// caller keeps whatever provisional state it already has.
func (f *Fetcher) Poll(ctx context.Context, uri string) (md Metadata, ok bool) {
	policy := retry.Policy{MaxAttempts: f.cfg.MaxAttempts, Step: f.cfg.Step}
	if f.cfg.NewTimer != nil {
		policy.Timer = f.cfg.NewTimer()
	}

	err := policy.Do(ctx, func(int) error {
		got, err := f.FetchOnce(ctx, uri)
		if errors.Is(err, ErrBadURI) {
			return retry.Permanent(err)
		}
		if err != nil {
			return err
		}
		md = got
		return nil
	}, func(attempt int, err error, wait time.Duration) {
		f.log.Debug("metadata not ready", "uri", uri, "attempt", attempt, "wait", wait, "err", err)
	})
	if err != nil {
		f.log.Warn("metadata unavailable", "uri", uri, "attempts", f.cfg.MaxAttempts, "err", err)
		return Metadata{}, false
	}
	return md, true
}

func (f *Fetcher) cacheBusted(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrBadURI, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("%w: scheme %q", ErrBadURI, u.Scheme)
	}
	q := u.Query()
	q.Set("t", strconv.FormatInt(f.cfg.Now().UnixMilli(), 10))
	u.RawQuery = q.Encode()
	return u.String(), nil
}
