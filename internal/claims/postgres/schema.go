package postgres

const schemaSQL = `
CREATE TABLE IF NOT EXISTS mint_claims (
	tx_hash BYTEA PRIMARY KEY,
	owner TEXT NOT NULL,
	expires_at TIMESTAMPTZ NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS mint_claims_expires_at_idx ON mint_claims (expires_at);
`
