package wallet

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"quickpe/pkg/cache"

	"github.com/google/uuid"
)

// Cache key layouts shared by Directory and StoreLayer.
var (
	accountKeys = cache.NewKeyPattern("account", ":")
	identKeys   = cache.NewKeyPattern("ident", ":")
)

// AccountKey returns the cache key of an account snapshot.
func AccountKey(id uuid.UUID) string {
	return accountKeys.Build(id.String())
}

// IdentKey returns the cache key of an identifier resolution. ident must be
// in the canonical form returned by ParseIdentifier.
func IdentKey(ident string) string {
	return identKeys.Build(ident)
}

// CacheChain is the part of chain.Chain the directory needs.
type CacheChain interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, keys ...string) error
}

// Directory serves account profiles and identifier lookups through a cache
// chain. Balances in the snapshots may lag; money movements never read them.
// Notify deletes the snapshots after a commit, but a warm-up write queued by
// a lookup that read the old row can still land afterwards and live until
// the L1 TTL, so callers that show a balance read it from the store.
type Directory struct {
	chain CacheChain
}

// NewDirectory creates a directory over c. The last layer of c is expected
// to be a StoreLayer.
func NewDirectory(c CacheChain) *Directory {
	return &Directory{chain: c}
}

// Account returns the cached account snapshot.
func (d *Directory) Account(ctx context.Context, id uuid.UUID) (Account, error) {
	acct, err := cache.GetJSON[Account](ctx, d.chain, AccountKey(id))
	if cache.IsNotFound(err) {
		return Account{}, ErrAccountNotFound
	}
	return acct, err
}

// Resolve maps an account id, QuickPe id or email to an account id.
func (d *Directory) Resolve(ctx context.Context, ident string) (uuid.UUID, error) {
	kind, canonical, err := ParseIdentifier(ident)
	if err != nil {
		return uuid.Nil, err
	}
	if kind == IdentAccountID {
		return uuid.MustParse(canonical), nil
	}

	id, err := cache.GetJSON[uuid.UUID](ctx, d.chain, IdentKey(canonical))
	if cache.IsNotFound(err) {
		return uuid.Nil, ErrAccountNotFound
	}
	return id, err
}

// Forget drops everything cached about acct, including remembered misses
// for its identifiers. Call it after creating an account.
func (d *Directory) Forget(ctx context.Context, acct Account) error {
	return d.chain.Delete(ctx,
		AccountKey(acct.ID),
		IdentKey(acct.QuickPeID),
		IdentKey(acct.Email),
	)
}

// Notify invalidates the snapshots of every party to the event.
func (d *Directory) Notify(ctx context.Context, event Event) error {
	ids := event.Accounts()
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = AccountKey(id)
	}
	return d.chain.Delete(ctx, keys...)
}

// StoreLayer is the read-only bottom layer of the directory chain. It
// answers account and ident keys from the store; writes are ignored.
type StoreLayer struct {
	reader AccountReader
}

// NewStoreLayer creates a cache layer backed by r.
func NewStoreLayer(r AccountReader) *StoreLayer {
	return &StoreLayer{reader: r}
}

// Get loads the value for key from the store.
func (l *StoreLayer) Get(ctx context.Context, key string) ([]byte, error) {
	var v any

	if rest, ok := accountKeys.Match(key); ok {
		id, err := uuid.Parse(rest)
		if err != nil {
			return nil, cache.ErrKeyNotFound
		}
		acct, err := l.reader.Account(ctx, id)
		if err != nil {
			return nil, storeErr(err)
		}
		v = acct
	} else if rest, ok := identKeys.Match(key); ok {
		id, err := l.reader.ResolveIdentifier(ctx, rest)
		if err != nil {
			return nil, storeErr(err)
		}
		v = id
	} else {
		return nil, fmt.Errorf("%w: %s", cache.ErrInvalidKey, key)
	}

	return json.Marshal(v)
}

func storeErr(err error) error {
	if errors.Is(err, ErrAccountNotFound) {
		return cache.ErrKeyNotFound
	}
	return err
}

// Set is a no-op; the store is only written by the wallet service.
func (l *StoreLayer) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return nil
}

// Delete is a no-op.
func (l *StoreLayer) Delete(ctx context.Context, key string) error {
	return nil
}

// Name returns the layer name.
func (l *StoreLayer) Name() string {
	return "store"
}

// Close does nothing; the store is owned by the caller.
func (l *StoreLayer) Close() error {
	return nil
}
