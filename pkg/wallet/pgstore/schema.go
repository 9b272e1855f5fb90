package pgstore

import "context"

// Constraint names the error classifier depends on.
const (
	constraintAccountEmail   = "accounts_email_key"
	constraintUserEmail      = "users_email_key"
	constraintQuickPeID      = "accounts_quickpe_id_key"
	constraintBalanceNonNeg  = "accounts_balance_check"
	constraintIdempotencyKey = "transactions_idempotency_idx"
	constraintTransactionID  = "transactions_transaction_id_key"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS accounts (
		id UUID PRIMARY KEY,
		quickpe_id TEXT NOT NULL,
		owner_name TEXT NOT NULL,
		email TEXT NOT NULL,
		balance BIGINT NOT NULL,
		created_at TIMESTAMP WITH TIME ZONE NOT NULL,
		CONSTRAINT accounts_quickpe_id_key UNIQUE (quickpe_id),
		CONSTRAINT accounts_email_key UNIQUE (email),
		CONSTRAINT accounts_balance_check CHECK (balance >= 0)
	)`,
	`CREATE TABLE IF NOT EXISTS users (
		account_id UUID PRIMARY KEY REFERENCES accounts(id),
		email TEXT NOT NULL,
		password_hash BYTEA NOT NULL,
		created_at TIMESTAMP WITH TIME ZONE NOT NULL,
		CONSTRAINT users_email_key UNIQUE (email)
	)`,
	`CREATE TABLE IF NOT EXISTS transactions (
		id UUID PRIMARY KEY,
		transaction_id TEXT NOT NULL,
		from_account UUID REFERENCES accounts(id),
		to_account UUID NOT NULL REFERENCES accounts(id),
		amount BIGINT NOT NULL CHECK (amount > 0),
		kind TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		idempotency_key TEXT,
		created_at TIMESTAMP WITH TIME ZONE NOT NULL,
		CONSTRAINT transactions_transaction_id_key UNIQUE (transaction_id)
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS transactions_idempotency_idx
		ON transactions(from_account, idempotency_key) WHERE idempotency_key IS NOT NULL`,
	`CREATE INDEX IF NOT EXISTS transactions_from_created_idx ON transactions(from_account, created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS transactions_to_created_idx ON transactions(to_account, created_at DESC)`,
}

// Migrate creates the tables and indexes if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	for _, query := range schema {
		if _, err := s.db.ExecContext(ctx, query); err != nil {
			return err
		}
	}
	return nil
}
