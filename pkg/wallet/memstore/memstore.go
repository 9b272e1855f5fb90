// Package memstore is an in-process wallet store for tests and local runs.
//
// Transactions are serialized through a single slot, so every transaction
// sees the committed state of all earlier ones. Writes are staged and only
// applied on commit.
package memstore

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"quickpe/pkg/auth"
	"quickpe/pkg/money"
	"quickpe/pkg/wallet"

	"github.com/google/uuid"
)

// Op names a transactional operation for fault injection.
type Op string

const (
	OpLock   Op = "lock"
	OpAdjust Op = "adjust"
	OpAppend Op = "append"
	OpFind   Op = "find"
	OpCommit Op = "commit"
)

// Store implements wallet.Store and auth.UserStore in memory.
type Store struct {
	// FailOn, if set, is called before every transactional operation; a
	// non-nil result aborts the operation with that error. Set it before
	// the store is shared.
	FailOn func(op Op) error

	slot chan struct{}

	mu        sync.RWMutex
	accounts  map[uuid.UUID]wallet.Account
	byQuickPe map[string]uuid.UUID
	byEmail   map[string]uuid.UUID
	users     map[string]auth.User
	records   []wallet.Record
	txnIDs    map[string]struct{}
	idemKeys  map[idemKey]int
}

type idemKey struct {
	from uuid.UUID
	key  string
}

// New creates an empty store.
func New() *Store {
	return &Store{
		slot:      make(chan struct{}, 1),
		accounts:  make(map[uuid.UUID]wallet.Account),
		byQuickPe: make(map[string]uuid.UUID),
		byEmail:   make(map[string]uuid.UUID),
		users:     make(map[string]auth.User),
		txnIDs:    make(map[string]struct{}),
		idemKeys:  make(map[idemKey]int),
	}
}

// CreateAccount adds an account without credentials.
func (s *Store) CreateAccount(ctx context.Context, acct wallet.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertAccount(acct)
}

func (s *Store) insertAccount(acct wallet.Account) error {
	if acct.Balance < 0 {
		return wallet.ErrNegativeBalance
	}
	if _, ok := s.accounts[acct.ID]; ok {
		return fmt.Errorf("%w: account %s exists", wallet.ErrConflict, acct.ID)
	}
	if _, ok := s.byEmail[acct.Email]; ok && acct.Email != "" {
		return auth.ErrEmailTaken
	}
	if _, ok := s.byQuickPe[acct.QuickPeID]; ok && acct.QuickPeID != "" {
		return fmt.Errorf("%w: quickpe id %s exists", wallet.ErrConflict, acct.QuickPeID)
	}

	s.accounts[acct.ID] = acct
	if acct.Email != "" {
		s.byEmail[acct.Email] = acct.ID
	}
	if acct.QuickPeID != "" {
		s.byQuickPe[acct.QuickPeID] = acct.ID
	}
	return nil
}

// CreateUser implements auth.UserStore.
func (s *Store) CreateUser(ctx context.Context, user auth.User, acct wallet.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[user.Email]; ok {
		return auth.ErrEmailTaken
	}
	if err := s.insertAccount(acct); err != nil {
		return err
	}
	user.PasswordHash = slices.Clone(user.PasswordHash)
	s.users[user.Email] = user
	return nil
}

// UserByEmail implements auth.UserStore.
func (s *Store) UserByEmail(ctx context.Context, email string) (auth.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.users[email]
	if !ok {
		return auth.User{}, auth.ErrUserNotFound
	}
	user.PasswordHash = slices.Clone(user.PasswordHash)
	return user, nil
}

// Account implements wallet.AccountReader.
func (s *Store) Account(ctx context.Context, id uuid.UUID) (wallet.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	acct, ok := s.accounts[id]
	if !ok {
		return wallet.Account{}, wallet.ErrAccountNotFound
	}
	return acct, nil
}

// ResolveIdentifier implements wallet.AccountReader.
func (s *Store) ResolveIdentifier(ctx context.Context, ident string) (uuid.UUID, error) {
	kind, canonical, err := wallet.ParseIdentifier(ident)
	if err != nil {
		return uuid.Nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		id uuid.UUID
		ok bool
	)
	switch kind {
	case wallet.IdentAccountID:
		id = uuid.MustParse(canonical)
		_, ok = s.accounts[id]
	case wallet.IdentQuickPeID:
		id, ok = s.byQuickPe[canonical]
	case wallet.IdentEmail:
		id, ok = s.byEmail[canonical]
	}
	if !ok {
		return uuid.Nil, wallet.ErrAccountNotFound
	}
	return id, nil
}

// Balance implements wallet.Store.
func (s *Store) Balance(ctx context.Context, id uuid.UUID) (money.Amount, error) {
	acct, err := s.Account(ctx, id)
	if err != nil {
		return 0, err
	}
	return acct.Balance, nil
}

// ListByAccount implements wallet.Store.
func (s *Store) ListByAccount(ctx context.Context, id uuid.UUID, q wallet.HistoryQuery) ([]wallet.Record, int, error) {
	q = q.Normalize()
	matched := s.matching(id, q)

	total := len(matched)
	start := min(q.Offset(), total)
	end := min(start+q.PageSize, total)

	return matched[start:end], total, nil
}

// matching returns the records of id that pass q, newest first.
func (s *Store) matching(id uuid.UUID, q wallet.HistoryQuery) []wallet.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []wallet.Record
	for _, r := range s.records {
		if q.Matches(r, id) {
			out = append(out, r)
		}
	}
	slices.Reverse(out)
	slices.SortStableFunc(out, func(a, b wallet.Record) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	return out
}

// Summary implements wallet.Store.
func (s *Store) Summary(ctx context.Context, id uuid.UUID, since time.Time) (wallet.Summary, error) {
	sum := wallet.Summary{Since: since}
	for _, r := range s.matching(id, wallet.HistoryQuery{Since: since}) {
		sum.Add(r, id)
	}
	return sum, nil
}

// Records returns a copy of the whole log in append order.
func (s *Store) Records() []wallet.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.records)
}

// RunInTx implements wallet.Store. fn runs alone; its writes become visible
// only if it returns nil and ctx is still live.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, tx wallet.Tx) error) error {
	select {
	case s.slot <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-s.slot }()

	t := &tx{
		store:    s,
		locked:   make(map[uuid.UUID]bool),
		balances: make(map[uuid.UUID]money.Amount),
	}
	if err := fn(ctx, t); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.fail(OpCommit); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for id, balance := range t.balances {
		acct := s.accounts[id]
		acct.Balance = balance
		s.accounts[id] = acct
	}
	for _, r := range t.appended {
		s.txnIDs[r.TransactionID] = struct{}{}
		if r.IdempotencyKey != "" {
			s.idemKeys[idemKey{r.From, r.IdempotencyKey}] = len(s.records)
		}
		s.records = append(s.records, r)
	}
	return nil
}

func (s *Store) fail(op Op) error {
	if s.FailOn == nil {
		return nil
	}
	return s.FailOn(op)
}

// tx stages writes until commit.
type tx struct {
	store    *Store
	locked   map[uuid.UUID]bool
	balances map[uuid.UUID]money.Amount
	appended []wallet.Record
}

func (t *tx) LockAccounts(ctx context.Context, ids ...uuid.UUID) (map[uuid.UUID]wallet.Account, error) {
	if err := t.store.fail(OpLock); err != nil {
		return nil, err
	}

	t.store.mu.RLock()
	defer t.store.mu.RUnlock()

	out := make(map[uuid.UUID]wallet.Account, len(ids))
	for _, id := range wallet.SortIDs(ids) {
		acct, ok := t.store.accounts[id]
		if !ok {
			continue
		}
		if b, staged := t.balances[id]; staged {
			acct.Balance = b
		}
		t.locked[id] = true
		out[id] = acct
	}
	return out, nil
}

func (t *tx) AdjustBalance(ctx context.Context, id uuid.UUID, delta money.Amount) (money.Amount, error) {
	if err := t.store.fail(OpAdjust); err != nil {
		return 0, err
	}
	if !t.locked[id] {
		return 0, fmt.Errorf("memstore: account %s not locked", id)
	}

	balance, staged := t.balances[id]
	if !staged {
		t.store.mu.RLock()
		balance = t.store.accounts[id].Balance
		t.store.mu.RUnlock()
	}

	next := balance + delta
	if next < 0 {
		return 0, wallet.ErrNegativeBalance
	}
	t.balances[id] = next
	return next, nil
}

func (t *tx) Append(ctx context.Context, rec wallet.Record) error {
	if err := t.store.fail(OpAppend); err != nil {
		return err
	}

	_, dupTxn := t.store.txnIDs[rec.TransactionID]
	if !dupTxn {
		dupTxn = slices.ContainsFunc(t.appended, func(r wallet.Record) bool {
			return r.TransactionID == rec.TransactionID
		})
	}
	if dupTxn {
		return fmt.Errorf("%w: duplicate transaction id %s", wallet.ErrConflict, rec.TransactionID)
	}
	if rec.IdempotencyKey != "" {
		if _, found := t.find(rec.From, rec.IdempotencyKey); found {
			return fmt.Errorf("%w: duplicate idempotency key", wallet.ErrConflict)
		}
	}

	t.appended = append(t.appended, rec)
	return nil
}

func (t *tx) FindByIdempotencyKey(ctx context.Context, from uuid.UUID, key string) (wallet.Record, bool, error) {
	if err := t.store.fail(OpFind); err != nil {
		return wallet.Record{}, false, err
	}
	rec, found := t.find(from, key)
	return rec, found, nil
}

func (t *tx) find(from uuid.UUID, key string) (wallet.Record, bool) {
	for _, r := range t.appended {
		if r.From == from && r.IdempotencyKey == key {
			return r, true
		}
	}

	t.store.mu.RLock()
	defer t.store.mu.RUnlock()

	if i, ok := t.store.idemKeys[idemKey{from, key}]; ok {
		return t.store.records[i], true
	}
	return wallet.Record{}, false
}
