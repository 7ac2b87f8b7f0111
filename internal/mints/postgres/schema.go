package postgres

const schemaSQL = `
CREATE TABLE IF NOT EXISTS froc_mints (
	tx_hash BYTEA PRIMARY KEY,
	state SMALLINT NOT NULL,
	block_number BIGINT,
	failure TEXT,

	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),

	CONSTRAINT tx_hash_len CHECK (octet_length(tx_hash) = 32),
	CONSTRAINT state_range CHECK (state >= 1 AND state <= 4),
	CONSTRAINT block_number_nonneg CHECK (block_number IS NULL OR block_number >= 0)
);

CREATE TABLE IF NOT EXISTS froc_mint_tokens (
	tx_hash BYTEA NOT NULL REFERENCES froc_mints (tx_hash) ON DELETE CASCADE,
	position INTEGER NOT NULL,
	token_id NUMERIC(78, 0) NOT NULL,
	name TEXT NOT NULL,
	image TEXT NOT NULL DEFAULT '',
	attributes JSONB,
	external_url TEXT NOT NULL,
	resolved_at TIMESTAMPTZ,

	PRIMARY KEY (tx_hash, position),
	CONSTRAINT token_id_nonneg CHECK (token_id >= 0),
	CONSTRAINT position_nonneg CHECK (position >= 0)
);

CREATE INDEX IF NOT EXISTS froc_mint_tokens_token_idx ON froc_mint_tokens (tx_hash, token_id);
CREATE INDEX IF NOT EXISTS froc_mints_state_idx ON froc_mints (state);
`
