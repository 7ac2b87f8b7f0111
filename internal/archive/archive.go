package archive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/froc-multiverse/froc-mint/internal/metadata"
)

const (
	DriverS3     = "s3"
	DriverMemory = "memory"

	contentTypeJSON = "application/json"
)

var (
	ErrInvalidConfig = errors.New("archive: invalid config")
	ErrInvalidKey    = errors.New("archive: invalid key")
	ErrNotFound      = errors.New("archive: not found")
	ErrTooLarge      = errors.New("archive: object too large")
)

// Blobs is the raw object layer under an Archive.
type Blobs interface {
	Put(ctx context.Context, key string, payload []byte, contentType string, meta map[string]string) error
	Get(ctx context.Context, key string) (Object, error)
	Exists(ctx context.Context, key string) (bool, error)
}

type Object struct {
	Key          string
	Data         []byte
	ContentType  string
	Metadata     map[string]string
	LastModified time.Time
}

type Config struct {
	Driver string
	Prefix string

	// MaxGetSize bounds bytes returned by Get. Defaults to 1 MiB.
	MaxGetSize int64

	Bucket   string
	S3Client S3Client
}

// Archive keeps token metadata documents as they were served by the gateway,
// keyed by token id, so resolved mints can be re-rendered without IPFS.
type Archive struct {
	blobs    Blobs
	contract common.Address
}

func New(cfg Config, contract common.Address) (*Archive, error) {
	var (
		blobs Blobs
		err   error
	)
	switch driver := strings.ToLower(strings.TrimSpace(cfg.Driver)); driver {
	case DriverMemory:
		blobs = newMemoryBlobs(cfg.Prefix)
	case "", DriverS3:
		blobs, err = newS3Blobs(cfg)
	default:
		err = fmt.Errorf("%w: unsupported driver %q", ErrInvalidConfig, cfg.Driver)
	}
	if err != nil {
		return nil, err
	}
	return &Archive{blobs: blobs, contract: contract}, nil
}

func (a *Archive) Blobs() Blobs { return a.blobs }

// MetadataKey is metadata/<tokenId>.json.
func MetadataKey(tokenID *big.Int) string {
	return "metadata/" + tokenID.String() + ".json"
}

// PutMetadata stores raw, the document as fetched. Documents that are not
// JSON are rejected so a gateway error page never lands in the archive.
func (a *Archive) PutMetadata(ctx context.Context, tokenID *big.Int, raw []byte) error {
	if tokenID == nil || tokenID.Sign() < 0 {
		return fmt.Errorf("%w: token id must be >= 0", ErrInvalidKey)
	}
	if !json.Valid(raw) {
		return fmt.Errorf("archive: token %s: metadata is not valid json", tokenID)
	}
	return a.blobs.Put(ctx, MetadataKey(tokenID), raw, contentTypeJSON, map[string]string{
		"token-id": tokenID.String(),
		"contract": strings.ToLower(a.contract.Hex()),
	})
}

func (a *Archive) HasMetadata(ctx context.Context, tokenID *big.Int) (bool, error) {
	if tokenID == nil || tokenID.Sign() < 0 {
		return false, fmt.Errorf("%w: token id must be >= 0", ErrInvalidKey)
	}
	return a.blobs.Exists(ctx, MetadataKey(tokenID))
}

// GetMetadata decodes an archived document the same way a fresh fetch is
// decoded. Image URIs are left as stored.
func (a *Archive) GetMetadata(ctx context.Context, tokenID *big.Int) (metadata.Metadata, error) {
	if tokenID == nil || tokenID.Sign() < 0 {
		return metadata.Metadata{}, fmt.Errorf("%w: token id must be >= 0", ErrInvalidKey)
	}
	obj, err := a.blobs.Get(ctx, MetadataKey(tokenID))
	if err != nil {
		return metadata.Metadata{}, err
	}
	md, _, err := metadata.Decode(obj.Data)
	if err != nil {
		return metadata.Metadata{}, fmt.Errorf("archive: token %s: %w", tokenID, err)
	}
	return md, nil
}

func normalizeKey(key string) (string, error) {
	if key != strings.TrimSpace(key) {
		return "", fmt.Errorf("%w: key has leading or trailing whitespace", ErrInvalidKey)
	}
	key = strings.TrimPrefix(key, "/")
	if key == "" {
		return "", fmt.Errorf("%w: empty key", ErrInvalidKey)
	}
	for _, r := range key {
		if r < 0x20 || r == 0x7f {
			return "", fmt.Errorf("%w: key contains control characters", ErrInvalidKey)
		}
	}
	return key, nil
}

func withPrefix(prefix, key string) string {
	prefix = strings.Trim(strings.TrimSpace(prefix), "/")
	if prefix == "" {
		return key
	}
	return prefix + "/" + key
}

func copyMeta(v map[string]string) map[string]string {
	if len(v) == 0 {
		return nil
	}
	out := make(map[string]string, len(v))
	for k, val := range v {
		out[k] = val
	}
	return out
}
