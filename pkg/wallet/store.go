package wallet

import (
	"bytes"
	"context"
	"math"
	"net/mail"
	"slices"
	"strings"
	"time"

	"quickpe/pkg/money"

	"github.com/google/uuid"
)

// AccountReader looks accounts up outside of a transaction.
type AccountReader interface {
	// Account returns the account or ErrAccountNotFound.
	Account(ctx context.Context, id uuid.UUID) (Account, error)

	// ResolveIdentifier maps an account id, QuickPe id or email to an
	// account id, or returns ErrAccountNotFound.
	ResolveIdentifier(ctx context.Context, ident string) (uuid.UUID, error)
}

// Store persists accounts and their transaction log.
type Store interface {
	AccountReader

	// Balance returns the committed balance of an account.
	Balance(ctx context.Context, id uuid.UUID) (money.Amount, error)

	// ListByAccount returns one page of the records involving the account,
	// newest first, and the total number of matching records.
	ListByAccount(ctx context.Context, id uuid.UUID, q HistoryQuery) ([]Record, int, error)

	// Summary aggregates the account's records created at or after since.
	Summary(ctx context.Context, id uuid.UUID, since time.Time) (Summary, error)

	// RunInTx runs fn in a transaction. The transaction commits when fn
	// returns nil and rolls back otherwise. Stores return ErrConflict when
	// the transaction may succeed if run again.
	RunInTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Tx is the set of operations available inside RunInTx.
type Tx interface {
	// LockAccounts reads and locks the accounts in ascending id order.
	// Missing ids are absent from the result.
	LockAccounts(ctx context.Context, ids ...uuid.UUID) (map[uuid.UUID]Account, error)

	// AdjustBalance adds delta to the balance and returns the new value.
	// It fails with ErrNegativeBalance if the result would be negative.
	AdjustBalance(ctx context.Context, id uuid.UUID, delta money.Amount) (money.Amount, error)

	// Append writes a record to the transaction log.
	Append(ctx context.Context, rec Record) error

	// FindByIdempotencyKey returns the sender's record carrying key.
	FindByIdempotencyKey(ctx context.Context, from uuid.UUID, key string) (Record, bool, error)
}

// SortIDs orders ids the way LockAccounts locks them. The byte order
// matches PostgreSQL's uuid ordering.
func SortIDs(ids []uuid.UUID) []uuid.UUID {
	out := slices.Clone(ids)
	slices.SortFunc(out, func(a, b uuid.UUID) int {
		return bytes.Compare(a[:], b[:])
	})
	return slices.Compact(out)
}

// Page size limits for history queries.
const (
	DefaultPageSize = 10
	MaxPageSize     = 100

	// MaxOffset bounds how many records a page may skip
	MaxOffset = math.MaxInt32
)

// HistoryQuery selects records for ListByAccount.
type HistoryQuery struct {
	// Page is 1-based
	Page     int
	PageSize int

	// Type keeps only credits or debits as seen by the account; empty keeps both
	Type EntryType

	// Since and Until bound CreatedAt; zero values are open
	Since time.Time
	Until time.Time

	// Search matches the transaction id or the description, case-insensitive
	Search string
}

// Normalize clamps paging to valid values.
func (q HistoryQuery) Normalize() HistoryQuery {
	if q.Page < 1 {
		q.Page = 1
	}
	if q.PageSize <= 0 {
		q.PageSize = DefaultPageSize
	}
	if q.PageSize > MaxPageSize {
		q.PageSize = MaxPageSize
	}
	// pages past MaxOffset are empty anyway; clamping keeps Offset from overflowing
	if lastPage := MaxOffset/q.PageSize + 1; q.Page > lastPage {
		q.Page = lastPage
	}
	q.Search = strings.TrimSpace(q.Search)
	return q
}

// Offset is the number of records before the page.
func (q HistoryQuery) Offset() int {
	return (q.Page - 1) * q.PageSize
}

// Matches applies the filters of q to r as seen by account. Stores without
// a query language use it directly.
func (q HistoryQuery) Matches(r Record, account uuid.UUID) bool {
	if !r.Involves(account) {
		return false
	}
	if q.Type != "" && r.EntryFor(account).Type != q.Type {
		return false
	}
	if !q.Since.IsZero() && r.CreatedAt.Before(q.Since) {
		return false
	}
	if !q.Until.IsZero() && r.CreatedAt.After(q.Until) {
		return false
	}
	if q.Search != "" {
		s := strings.ToLower(q.Search)
		if !strings.Contains(strings.ToLower(r.TransactionID), s) &&
			!strings.Contains(strings.ToLower(r.Description), s) {
			return false
		}
	}
	return true
}

// IdentKind is the form of a recipient identifier.
type IdentKind int

const (
	IdentAccountID IdentKind = iota
	IdentQuickPeID
	IdentEmail
)

// ParseIdentifier classifies ident and returns its canonical form:
// the UUID string, the upper-cased QuickPe id or the lower-cased email.
func ParseIdentifier(ident string) (IdentKind, string, error) {
	ident = strings.TrimSpace(ident)
	if ident == "" {
		return 0, "", ErrAccountNotFound
	}
	if id, err := uuid.Parse(ident); err == nil {
		return IdentAccountID, id.String(), nil
	}
	if strings.Contains(ident, "@") {
		email, err := NormalizeEmail(ident)
		if err != nil {
			return 0, "", ErrAccountNotFound
		}
		return IdentEmail, email, nil
	}
	if upper := strings.ToUpper(ident); IsQuickPeID(upper) {
		return IdentQuickPeID, upper, nil
	}
	return 0, "", ErrAccountNotFound
}

// NormalizeEmail validates a bare address and lower-cases it.
func NormalizeEmail(s string) (string, error) {
	addr, err := mail.ParseAddress(strings.TrimSpace(s))
	if err != nil || addr.Name != "" || addr.Address != strings.TrimSpace(s) {
		return "", ErrInvalidRequest
	}
	return strings.ToLower(addr.Address), nil
}
