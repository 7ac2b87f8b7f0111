package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/froc-multiverse/froc-mint/internal/metadata"
	"github.com/froc-multiverse/froc-mint/internal/mints"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrInvalidConfig = errors.New("mints/postgres: invalid config")

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
		return fmt.Errorf("mints/postgres: ensure schema: %w", err)
	}
	return nil
}

func (s *Store) Submit(ctx context.Context, txHash common.Hash) (mints.Mint, bool, error) {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO froc_mints (tx_hash, state, created_at, updated_at)
		VALUES ($1, $2, now(), now())
		ON CONFLICT (tx_hash) DO NOTHING
	`, txHash[:], int16(mints.StateSubmitted))
	if err != nil {
		return mints.Mint{}, false, fmt.Errorf("mints/postgres: insert: %w", err)
	}
	m, err := s.Get(ctx, txHash)
	if err != nil {
		return mints.Mint{}, false, err
	}
	return m, tag.RowsAffected() == 1, nil
}

func (s *Store) Get(ctx context.Context, txHash common.Hash) (mints.Mint, error) {
	var (
		state       int16
		blockNumber *int64
		failure     *string
		m           = mints.Mint{TxHash: txHash}
	)
	err := s.pool.QueryRow(ctx, `
		SELECT state, block_number, failure, created_at, updated_at
		FROM froc_mints
		WHERE tx_hash = $1
	`, txHash[:]).Scan(&state, &blockNumber, &failure, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return mints.Mint{}, mints.ErrNotFound
		}
		return mints.Mint{}, fmt.Errorf("mints/postgres: get: %w", err)
	}
	m.State = mints.State(state)
	if blockNumber != nil {
		if *blockNumber < 0 {
			return mints.Mint{}, fmt.Errorf("mints/postgres: negative block number in db")
		}
		m.BlockNumber = uint64(*blockNumber)
	}
	if failure != nil {
		m.Failure = *failure
	}

	rows, err := s.pool.Query(ctx, `
		SELECT token_id::text, name, image, attributes, external_url, resolved_at
		FROM froc_mint_tokens
		WHERE tx_hash = $1
		ORDER BY position
	`, txHash[:])
	if err != nil {
		return mints.Mint{}, fmt.Errorf("mints/postgres: list tokens: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			idText     string
			tok        mints.Token
			attrsRaw   []byte
			resolvedAt *time.Time
		)
		if err := rows.Scan(&idText, &tok.Name, &tok.Image, &attrsRaw, &tok.ExternalURL, &resolvedAt); err != nil {
			return mints.Mint{}, fmt.Errorf("mints/postgres: scan token: %w", err)
		}
		id, ok := new(big.Int).SetString(idText, 10)
		if !ok {
			return mints.Mint{}, fmt.Errorf("mints/postgres: bad token id %q in db", idText)
		}
		tok.TokenID = id
		if attrsRaw != nil {
			if err := json.Unmarshal(attrsRaw, &tok.Attributes); err != nil {
				return mints.Mint{}, fmt.Errorf("mints/postgres: decode attributes: %w", err)
			}
		}
		if resolvedAt != nil {
			tok.ResolvedAt = resolvedAt.UTC()
		}
		m.Tokens = append(m.Tokens, tok)
	}
	if err := rows.Err(); err != nil {
		return mints.Mint{}, fmt.Errorf("mints/postgres: list tokens: %w", err)
	}
	return m, nil
}

func (s *Store) MarkMined(ctx context.Context, txHash common.Hash, blockNumber uint64, tokens []mints.Token) error {
	if blockNumber > math.MaxInt64 {
		return fmt.Errorf("%w: block number too large", mints.ErrInvalidToken)
	}
	for _, t := range tokens {
		if t.TokenID == nil || t.TokenID.Sign() < 0 || t.TokenID.BitLen() > 256 {
			return mints.ErrInvalidToken
		}
	}

	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		state, err := lockState(ctx, tx, txHash)
		if err != nil {
			return err
		}
		switch state {
		case mints.StateSubmitted:
		case mints.StateMined, mints.StateResolved:
			return nil
		default:
			return fmt.Errorf("%w: %s -> mined", mints.ErrInvalidTransition, state)
		}

		if _, err := tx.Exec(ctx, `
			UPDATE froc_mints
			SET state = $2, block_number = $3, updated_at = now()
			WHERE tx_hash = $1
		`, txHash[:], int16(mints.StateMined), int64(blockNumber)); err != nil {
			return fmt.Errorf("mints/postgres: mark mined: %w", err)
		}

		if len(tokens) == 0 {
			return nil
		}
		batch := &pgx.Batch{}
		for i, t := range tokens {
			batch.Queue(`
				INSERT INTO froc_mint_tokens (tx_hash, position, token_id, name, external_url)
				VALUES ($1, $2, $3::numeric, $4, $5)
			`, txHash[:], i, t.TokenID.String(), t.Name, t.ExternalURL)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("mints/postgres: insert tokens: %w", err)
		}
		return nil
	})
}

func (s *Store) MarkFailed(ctx context.Context, txHash common.Hash, reason string) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		state, err := lockState(ctx, tx, txHash)
		if err != nil {
			return err
		}
		switch state {
		case mints.StateSubmitted:
		case mints.StateFailed:
			return nil
		default:
			return fmt.Errorf("%w: %s -> failed", mints.ErrInvalidTransition, state)
		}
		if _, err := tx.Exec(ctx, `
			UPDATE froc_mints
			SET state = $2, failure = $3, updated_at = now()
			WHERE tx_hash = $1
		`, txHash[:], int16(mints.StateFailed), reason); err != nil {
			return fmt.Errorf("mints/postgres: mark failed: %w", err)
		}
		return nil
	})
}

func (s *Store) UpdateToken(ctx context.Context, txHash common.Hash, tok mints.Token) error {
	if tok.TokenID == nil || tok.TokenID.Sign() < 0 || tok.TokenID.BitLen() > 256 {
		return mints.ErrInvalidToken
	}
	attrs, err := encodeAttributes(tok.Attributes)
	if err != nil {
		return err
	}

	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		state, err := lockState(ctx, tx, txHash)
		if err != nil {
			return err
		}
		if state != mints.StateMined && state != mints.StateResolved {
			return fmt.Errorf("%w: update token while %s", mints.ErrInvalidTransition, state)
		}

		tag, err := tx.Exec(ctx, `
			UPDATE froc_mint_tokens
			SET image = $3, attributes = $4, resolved_at = now()
			WHERE tx_hash = $1 AND token_id = $2::numeric
		`, txHash[:], tok.TokenID.String(), tok.Image, attrs)
		if err != nil {
			return fmt.Errorf("mints/postgres: update token: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return mints.ErrNotFound
		}
		if _, err := tx.Exec(ctx, `UPDATE froc_mints SET updated_at = now() WHERE tx_hash = $1`, txHash[:]); err != nil {
			return fmt.Errorf("mints/postgres: touch mint: %w", err)
		}
		return nil
	})
}

func (s *Store) MarkResolved(ctx context.Context, txHash common.Hash) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		state, err := lockState(ctx, tx, txHash)
		if err != nil {
			return err
		}
		switch state {
		case mints.StateMined:
		case mints.StateResolved:
			return nil
		default:
			return fmt.Errorf("%w: %s -> resolved", mints.ErrInvalidTransition, state)
		}
		if _, err := tx.Exec(ctx, `
			UPDATE froc_mints SET state = $2, updated_at = now() WHERE tx_hash = $1
		`, txHash[:], int16(mints.StateResolved)); err != nil {
			return fmt.Errorf("mints/postgres: mark resolved: %w", err)
		}
		return nil
	})
}

func lockState(ctx context.Context, tx pgx.Tx, txHash common.Hash) (mints.State, error) {
	var state int16
	err := tx.QueryRow(ctx, `SELECT state FROM froc_mints WHERE tx_hash = $1 FOR UPDATE`, txHash[:]).Scan(&state)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return mints.StateUnknown, mints.ErrNotFound
		}
		return mints.StateUnknown, fmt.Errorf("mints/postgres: lock: %w", err)
	}
	return mints.State(state), nil
}

func encodeAttributes(attrs []metadata.Attribute) ([]byte, error) {
	if attrs == nil {
		return nil, nil
	}
	b, err := json.Marshal(attrs)
	if err != nil {
		return nil, fmt.Errorf("mints/postgres: encode attributes: %w", err)
	}
	return b, nil
}

var _ mints.Store = (*Store)(nil)
