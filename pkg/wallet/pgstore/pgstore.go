// Package pgstore implements the wallet and credential stores on
// PostgreSQL.
//
// Transactions run at READ COMMITTED. LockAccounts takes row locks with
// SELECT ... ORDER BY id FOR UPDATE, so concurrent transfers always lock in
// the same order, and every balance decision is made on the locked row.
package pgstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"quickpe/pkg/auth"
	"quickpe/pkg/money"
	"quickpe/pkg/wallet"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// Config holds PostgreSQL connection configuration.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string

	// DSN overrides the fields above when set
	DSN string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// DefaultConfig returns default PostgreSQL configuration.
func DefaultConfig() Config {
	return Config{
		Host:            "localhost",
		Port:            5432,
		User:            "postgres",
		Password:        "postgres",
		Database:        "quickpe",
		SSLMode:         "disable",
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
	}
}

// ConnString returns the lib/pq connection string.
func (c Config) ConnString() string {
	if c.DSN != "" {
		return c.DSN
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// Store implements wallet.Store and auth.UserStore.
type Store struct {
	db *sql.DB
}

// Open connects, pings and migrates the schema.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	db, err := sql.Open("postgres", cfg.ConnString())
	if err != nil {
		return nil, fmt.Errorf("pgstore: open: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pgstore: ping: %w", err)
	}

	s := &Store{db: db}
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pgstore: migrate: %w", err)
	}

	return s, nil
}

// New wraps an existing connection pool. The schema must already exist.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// classify maps driver errors onto wallet and auth errors.
func classify(err error) error {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return err
	}

	switch pqErr.Code {
	case "40001", "40P01": // serialization_failure, deadlock_detected
		return fmt.Errorf("%w: %s", wallet.ErrConflict, pqErr.Message)
	case "23505": // unique_violation
		switch pqErr.Constraint {
		case constraintAccountEmail, constraintUserEmail:
			return auth.ErrEmailTaken
		case constraintIdempotencyKey, constraintQuickPeID, constraintTransactionID:
			// lost an insert race; running again sees the winner
			return fmt.Errorf("%w: %s", wallet.ErrConflict, pqErr.Constraint)
		}
	case "23514": // check_violation
		if pqErr.Constraint == constraintBalanceNonNeg {
			return wallet.ErrNegativeBalance
		}
	}
	return err
}

const accountColumns = `id, quickpe_id, owner_name, email, balance, created_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanAccount(row scanner) (wallet.Account, error) {
	var a wallet.Account
	err := row.Scan(&a.ID, &a.QuickPeID, &a.OwnerName, &a.Email, &a.Balance, &a.CreatedAt)
	return a, err
}

// Account implements wallet.AccountReader.
func (s *Store) Account(ctx context.Context, id uuid.UUID) (wallet.Account, error) {
	acct, err := scanAccount(s.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return wallet.Account{}, wallet.ErrAccountNotFound
	}
	if err != nil {
		return wallet.Account{}, fmt.Errorf("pgstore: account: %w", err)
	}
	return acct, nil
}

// ResolveIdentifier implements wallet.AccountReader.
func (s *Store) ResolveIdentifier(ctx context.Context, ident string) (uuid.UUID, error) {
	kind, canonical, err := wallet.ParseIdentifier(ident)
	if err != nil {
		return uuid.Nil, err
	}

	column := "id"
	switch kind {
	case wallet.IdentQuickPeID:
		column = "quickpe_id"
	case wallet.IdentEmail:
		column = "email"
	}

	var id uuid.UUID
	err = s.db.QueryRowContext(ctx, `SELECT id FROM accounts WHERE `+column+` = $1`, canonical).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return uuid.Nil, wallet.ErrAccountNotFound
	}
	if err != nil {
		return uuid.Nil, fmt.Errorf("pgstore: resolve: %w", err)
	}
	return id, nil
}

// Balance implements wallet.Store.
func (s *Store) Balance(ctx context.Context, id uuid.UUID) (money.Amount, error) {
	var balance money.Amount
	err := s.db.QueryRowContext(ctx, `SELECT balance FROM accounts WHERE id = $1`, id).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, wallet.ErrAccountNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("pgstore: balance: %w", err)
	}
	return balance, nil
}

// CreateAccount inserts an account without credentials.
func (s *Store) CreateAccount(ctx context.Context, acct wallet.Account) error {
	return insertAccount(ctx, s.db, acct)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertAccount(ctx context.Context, db execer, a wallet.Account) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO accounts (`+accountColumns+`) VALUES ($1, $2, $3, $4, $5, $6)`,
		a.ID, a.QuickPeID, a.OwnerName, a.Email, a.Balance, a.CreatedAt,
	)
	return classify(err)
}

// CreateUser implements auth.UserStore.
func (s *Store) CreateUser(ctx context.Context, user auth.User, acct wallet.Account) (err error) {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("pgstore: begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = sqlTx.Rollback()
		}
	}()

	if err = insertAccount(ctx, sqlTx, acct); err != nil {
		return err
	}
	_, err = sqlTx.ExecContext(ctx,
		`INSERT INTO users (account_id, email, password_hash, created_at) VALUES ($1, $2, $3, $4)`,
		user.AccountID, user.Email, user.PasswordHash, user.CreatedAt,
	)
	if err != nil {
		return classify(err)
	}

	if err = sqlTx.Commit(); err != nil {
		return classify(err)
	}
	return nil
}

// UserByEmail implements auth.UserStore.
func (s *Store) UserByEmail(ctx context.Context, email string) (auth.User, error) {
	var u auth.User
	err := s.db.QueryRowContext(ctx,
		`SELECT account_id, email, password_hash, created_at FROM users WHERE email = $1`, email,
	).Scan(&u.AccountID, &u.Email, &u.PasswordHash, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return auth.User{}, auth.ErrUserNotFound
	}
	if err != nil {
		return auth.User{}, fmt.Errorf("pgstore: user: %w", err)
	}
	return u, nil
}

// RunInTx implements wallet.Store.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, tx wallet.Tx) error) (err error) {
	sqlTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return classify(err)
	}
	defer func() {
		if err != nil {
			_ = sqlTx.Rollback()
		}
	}()

	if err = fn(ctx, &tx{tx: sqlTx}); err != nil {
		return err
	}
	if err = sqlTx.Commit(); err != nil {
		return classify(err)
	}
	return nil
}

type tx struct {
	tx *sql.Tx
}

func (t *tx) LockAccounts(ctx context.Context, ids ...uuid.UUID) (map[uuid.UUID]wallet.Account, error) {
	sorted := wallet.SortIDs(ids)
	params := make([]string, len(sorted))
	for i, id := range sorted {
		params[i] = id.String()
	}

	rows, err := t.tx.QueryContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE id = ANY($1::uuid[]) ORDER BY id FOR UPDATE`,
		pq.Array(params),
	)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	out := make(map[uuid.UUID]wallet.Account, len(ids))
	for rows.Next() {
		acct, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out[acct.ID] = acct
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}
	return out, nil
}

func (t *tx) AdjustBalance(ctx context.Context, id uuid.UUID, delta money.Amount) (money.Amount, error) {
	var balance money.Amount
	err := t.tx.QueryRowContext(ctx,
		`UPDATE accounts SET balance = balance + $2 WHERE id = $1 AND balance + $2 >= 0 RETURNING balance`,
		id, delta,
	).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		var exists bool
		if err := t.tx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM accounts WHERE id = $1)`, id).Scan(&exists); err != nil {
			return 0, classify(err)
		}
		if !exists {
			return 0, wallet.ErrAccountNotFound
		}
		return 0, wallet.ErrNegativeBalance
	}
	if err != nil {
		return 0, classify(err)
	}
	return balance, nil
}

const recordColumns = `id, transaction_id, from_account, to_account, amount, kind, description, idempotency_key, created_at`

func scanRecord(row scanner) (wallet.Record, error) {
	var (
		r    wallet.Record
		from uuid.NullUUID
		key  sql.NullString
	)
	if err := row.Scan(&r.ID, &r.TransactionID, &from, &r.To, &r.Amount, &r.Kind, &r.Description, &key, &r.CreatedAt); err != nil {
		return wallet.Record{}, err
	}
	r.From = from.UUID
	r.IdempotencyKey = key.String
	return r, nil
}

func (t *tx) Append(ctx context.Context, r wallet.Record) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO transactions (`+recordColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		r.ID, r.TransactionID,
		uuid.NullUUID{UUID: r.From, Valid: r.From != uuid.Nil},
		r.To, r.Amount, r.Kind, r.Description,
		sql.NullString{String: r.IdempotencyKey, Valid: r.IdempotencyKey != ""},
		r.CreatedAt,
	)
	return classify(err)
}

func (t *tx) FindByIdempotencyKey(ctx context.Context, from uuid.UUID, key string) (wallet.Record, bool, error) {
	r, err := scanRecord(t.tx.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM transactions WHERE from_account = $1 AND idempotency_key = $2`,
		from, key,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return wallet.Record{}, false, nil
	}
	if err != nil {
		return wallet.Record{}, false, classify(err)
	}
	return r, true, nil
}

// historyFilter renders q as a WHERE clause; $1 is the account id.
func historyFilter(id uuid.UUID, q wallet.HistoryQuery) (string, []any) {
	var (
		conds = []string{"(from_account = $1 OR to_account = $1)"}
		args  = []any{id}
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	switch q.Type {
	case wallet.EntryDebit:
		conds = append(conds, "kind = 'transfer' AND from_account = $1")
	case wallet.EntryCredit:
		conds = append(conds, "to_account = $1")
	}
	if !q.Since.IsZero() {
		conds = append(conds, "created_at >= "+arg(q.Since))
	}
	if !q.Until.IsZero() {
		conds = append(conds, "created_at <= "+arg(q.Until))
	}
	if q.Search != "" {
		p := arg("%" + escapeLike(q.Search) + "%")
		conds = append(conds, "(transaction_id ILIKE "+p+" OR description ILIKE "+p+")")
	}

	return " WHERE " + strings.Join(conds, " AND "), args
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}

// ListByAccount implements wallet.Store.
func (s *Store) ListByAccount(ctx context.Context, id uuid.UUID, q wallet.HistoryQuery) ([]wallet.Record, int, error) {
	q = q.Normalize()
	where, args := historyFilter(id, q)

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM transactions`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgstore: count history: %w", err)
	}

	query := fmt.Sprintf(`SELECT %s FROM transactions%s ORDER BY created_at DESC, id DESC LIMIT %d OFFSET %d`,
		recordColumns, where, q.PageSize, q.Offset())
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgstore: list history: %w", err)
	}
	defer rows.Close()

	var records []wallet.Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("pgstore: scan record: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	return records, total, nil
}

// Summary implements wallet.Store.
func (s *Store) Summary(ctx context.Context, id uuid.UUID, since time.Time) (wallet.Summary, error) {
	sum := wallet.Summary{Since: since}
	err := s.db.QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(amount) FILTER (WHERE kind = 'transfer' AND from_account = $1), 0)::bigint,
			COALESCE(SUM(amount) FILTER (WHERE to_account = $1), 0)::bigint,
			count(*)
		FROM transactions
		WHERE (from_account = $1 OR to_account = $1) AND created_at >= $2`,
		id, since,
	).Scan(&sum.Sent, &sum.Received, &sum.Count)
	if err != nil {
		return wallet.Summary{}, fmt.Errorf("pgstore: summary: %w", err)
	}
	return sum, nil
}
