package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/froc-multiverse/froc-mint/internal/claims"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrInvalidConfig = errors.New("claims/postgres: invalid config")

// Store keeps claims in Postgres. Expiry is judged by the database clock so
// replicas with skewed clocks agree on it.
type Store struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("%w: nil pool", ErrInvalidConfig)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) EnsureSchema(ctx context.Context) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("%w: nil store", ErrInvalidConfig)
	}
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("claims/postgres: ensure schema: %w", err)
	}
	return nil
}

func (s *Store) Acquire(ctx context.Context, txHash common.Hash, owner string, ttl time.Duration) (claims.Claim, bool, error) {
	if s == nil || s.pool == nil {
		return claims.Claim{}, false, fmt.Errorf("%w: nil store", ErrInvalidConfig)
	}
	if err := claims.Validate(txHash, owner, ttl); err != nil {
		return claims.Claim{}, false, err
	}

	var expires time.Time
	err := s.pool.QueryRow(ctx, `
		INSERT INTO mint_claims (tx_hash, owner, expires_at, created_at, updated_at)
		VALUES ($1, $2, now() + ($3::bigint * interval '1 millisecond'), now(), now())
		ON CONFLICT (tx_hash) DO UPDATE
		SET owner = EXCLUDED.owner,
			expires_at = EXCLUDED.expires_at,
			updated_at = now()
		WHERE mint_claims.expires_at <= now() OR mint_claims.owner = EXCLUDED.owner
		RETURNING expires_at
	`, txHash[:], owner, ttlMilliseconds(ttl)).Scan(&expires)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			held, gerr := s.Get(ctx, txHash)
			if gerr != nil {
				return claims.Claim{}, false, gerr
			}
			return held, false, nil
		}
		return claims.Claim{}, false, fmt.Errorf("claims/postgres: acquire: %w", err)
	}
	return claims.Claim{TxHash: txHash, Owner: owner, ExpiresAt: expires}, true, nil
}

func (s *Store) Extend(ctx context.Context, txHash common.Hash, owner string, ttl time.Duration) (claims.Claim, error) {
	if s == nil || s.pool == nil {
		return claims.Claim{}, fmt.Errorf("%w: nil store", ErrInvalidConfig)
	}
	if err := claims.Validate(txHash, owner, ttl); err != nil {
		return claims.Claim{}, err
	}

	var expires time.Time
	err := s.pool.QueryRow(ctx, `
		UPDATE mint_claims
		SET expires_at = now() + ($3::bigint * interval '1 millisecond'),
			updated_at = now()
		WHERE tx_hash = $1 AND owner = $2
		RETURNING expires_at
	`, txHash[:], owner, ttlMilliseconds(ttl)).Scan(&expires)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			if _, gerr := s.Get(ctx, txHash); gerr != nil {
				return claims.Claim{}, gerr
			}
			return claims.Claim{}, claims.ErrNotOwner
		}
		return claims.Claim{}, fmt.Errorf("claims/postgres: extend: %w", err)
	}
	return claims.Claim{TxHash: txHash, Owner: owner, ExpiresAt: expires}, nil
}

func (s *Store) Release(ctx context.Context, txHash common.Hash, owner string) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("%w: nil store", ErrInvalidConfig)
	}
	if txHash == (common.Hash{}) || owner == "" {
		return claims.ErrInvalidInput
	}

	tag, err := s.pool.Exec(ctx, `DELETE FROM mint_claims WHERE tx_hash = $1 AND owner = $2`, txHash[:], owner)
	if err != nil {
		return fmt.Errorf("claims/postgres: release: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	held, gerr := s.Get(ctx, txHash)
	if errors.Is(gerr, claims.ErrNotFound) {
		return nil
	}
	if gerr != nil {
		return gerr
	}
	if held.Owner != owner {
		return claims.ErrNotOwner
	}
	return nil
}

func (s *Store) Get(ctx context.Context, txHash common.Hash) (claims.Claim, error) {
	if s == nil || s.pool == nil {
		return claims.Claim{}, fmt.Errorf("%w: nil store", ErrInvalidConfig)
	}

	var (
		owner   string
		expires time.Time
	)
	err := s.pool.QueryRow(ctx, `SELECT owner, expires_at FROM mint_claims WHERE tx_hash = $1`, txHash[:]).Scan(&owner, &expires)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return claims.Claim{}, claims.ErrNotFound
		}
		return claims.Claim{}, fmt.Errorf("claims/postgres: get: %w", err)
	}
	return claims.Claim{TxHash: txHash, Owner: owner, ExpiresAt: expires}, nil
}

func ttlMilliseconds(ttl time.Duration) int64 {
	if ms := ttl.Milliseconds(); ms > 0 {
		return ms
	}
	return 1
}
