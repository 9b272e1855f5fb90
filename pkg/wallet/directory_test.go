package wallet_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"quickpe/pkg/cache"
	"quickpe/pkg/cache/memory"
	"quickpe/pkg/cache/mock"
	"quickpe/pkg/chain"
	"quickpe/pkg/money"
	"quickpe/pkg/wallet"
	"quickpe/pkg/wallet/memstore"

	"github.com/google/uuid"
)

func newDirectory(t *testing.T, store *memstore.Store) (*wallet.Directory, *memory.MemoryCache, *chain.Chain) {
	t.Helper()

	l1 := memory.NewMemoryCache(memory.MemoryCacheConfig{MaxSize: 100})
	l3 := cache.NewNegativeCacheLayer(wallet.NewStoreLayer(store), time.Minute)

	c, err := chain.New(l1, l3)
	if err != nil {
		t.Fatalf("chain.New failed: %v", err)
	}
	t.Cleanup(func() { c.Close() })

	return wallet.NewDirectory(c), l1, c
}

func TestDirectory_Account(t *testing.T) {
	store := memstore.New()
	dir, l1, c := newDirectory(t, store)
	ctx := context.Background()

	a := addAccount(t, store, "asha", money.Rupees(100))

	got, err := dir.Account(ctx, a.ID)
	if err != nil {
		t.Fatalf("Account failed: %v", err)
	}
	if got.QuickPeID != a.QuickPeID || got.Balance != a.Balance {
		t.Errorf("Unexpected account %+v", got)
	}

	if err := c.Flush(time.Second); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	if _, err := l1.Get(ctx, wallet.AccountKey(a.ID)); err != nil {
		t.Errorf("Expected L1 to be warmed, got %v", err)
	}

	if _, err := dir.Account(ctx, uuid.New()); !errors.Is(err, wallet.ErrAccountNotFound) {
		t.Errorf("Expected ErrAccountNotFound, got %v", err)
	}
}

func TestDirectory_InvalidatedOnTransfer(t *testing.T) {
	store := memstore.New()
	dir, _, c := newDirectory(t, store)
	svc := wallet.NewService(store, wallet.DefaultConfig(), wallet.WithNotifier(dir))
	ctx := context.Background()

	a := addAccount(t, store, "asha", money.Rupees(100))
	b := addAccount(t, store, "bala", money.Rupees(100))

	for _, id := range []uuid.UUID{a.ID, b.ID} {
		if _, err := dir.Account(ctx, id); err != nil {
			t.Fatalf("Account failed: %v", err)
		}
	}
	if err := c.Flush(time.Second); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}

	if _, err := svc.Transfer(ctx, wallet.TransferRequest{From: a.ID, To: b.ID.String(), Amount: money.Rupees(40)}); err != nil {
		t.Fatalf("Transfer failed: %v", err)
	}

	gotA, _ := dir.Account(ctx, a.ID)
	gotB, _ := dir.Account(ctx, b.ID)
	if gotA.Balance != money.Rupees(60) || gotB.Balance != money.Rupees(140) {
		t.Errorf("Stale snapshots after transfer: %s %s", gotA.Balance, gotB.Balance)
	}
}

func TestDirectory_Resolve(t *testing.T) {
	store := memstore.New()
	dir, _, _ := newDirectory(t, store)
	ctx := context.Background()

	a := addAccount(t, store, "asha", money.Rupees(1))

	for _, ident := range []string{a.ID.String(), a.QuickPeID, a.Email} {
		id, err := dir.Resolve(ctx, ident)
		if err != nil || id != a.ID {
			t.Errorf("Resolve(%q) = %s, %v", ident, id, err)
		}
	}

	if _, err := dir.Resolve(ctx, "QP00000000"); !errors.Is(err, wallet.ErrAccountNotFound) {
		t.Errorf("Expected ErrAccountNotFound, got %v", err)
	}
	if _, err := dir.Resolve(ctx, "garbage"); !errors.Is(err, wallet.ErrAccountNotFound) {
		t.Errorf("Expected ErrAccountNotFound, got %v", err)
	}
}

func TestDirectory_ForgetClearsRememberedMiss(t *testing.T) {
	store := memstore.New()
	dir, _, _ := newDirectory(t, store)
	ctx := context.Background()

	acct := wallet.Account{
		ID:        uuid.New(),
		QuickPeID: "QP11223344",
		OwnerName: "late",
		Email:     "late@example.com",
		Balance:   money.Rupees(1),
	}

	if _, err := dir.Resolve(ctx, acct.Email); !errors.Is(err, wallet.ErrAccountNotFound) {
		t.Fatalf("Expected miss before signup, got %v", err)
	}

	if err := store.CreateAccount(ctx, acct); err != nil {
		t.Fatalf("CreateAccount failed: %v", err)
	}

	// the negative entry still hides the new account
	if _, err := dir.Resolve(ctx, acct.Email); !errors.Is(err, wallet.ErrAccountNotFound) {
		t.Fatalf("Expected remembered miss, got %v", err)
	}

	if err := dir.Forget(ctx, acct); err != nil {
		t.Fatalf("Forget failed: %v", err)
	}
	if id, err := dir.Resolve(ctx, acct.Email); err != nil || id != acct.ID {
		t.Errorf("Resolve after Forget = %s, %v", id, err)
	}
}

func TestDirectory_SurvivesBrokenUpperLayer(t *testing.T) {
	store := memstore.New()
	a := addAccount(t, store, "asha", money.Rupees(7))

	broken := mock.NewFailingLayer("redis", cache.ErrLayerUnavailable)
	c, err := chain.New(broken, wallet.NewStoreLayer(store))
	if err != nil {
		t.Fatalf("chain.New failed: %v", err)
	}
	defer c.Close()

	got, err := wallet.NewDirectory(c).Account(context.Background(), a.ID)
	if err != nil || got.Balance != money.Rupees(7) {
		t.Errorf("Expected fallback to the store, got %+v, %v", got, err)
	}
}

func TestStoreLayer(t *testing.T) {
	store := memstore.New()
	a := addAccount(t, store, "asha", money.Rupees(1))
	layer := wallet.NewStoreLayer(store)
	ctx := context.Background()

	if _, err := layer.Get(ctx, "profile:"+a.ID.String()); !errors.Is(err, cache.ErrInvalidKey) {
		t.Errorf("Expected ErrInvalidKey for unknown prefix, got %v", err)
	}
	if _, err := layer.Get(ctx, "account:not-a-uuid"); !cache.IsNotFound(err) {
		t.Errorf("Expected not found for bad id, got %v", err)
	}
	if _, err := layer.Get(ctx, wallet.IdentKey("nobody@example.com")); !cache.IsNotFound(err) {
		t.Errorf("Expected not found for unknown ident, got %v", err)
	}

	// writes are ignored
	if err := layer.Set(ctx, wallet.AccountKey(a.ID), []byte("{}"), time.Minute); err != nil {
		t.Errorf("Set failed: %v", err)
	}
	acct, err := cache.GetJSON[wallet.Account](ctx, layer, wallet.AccountKey(a.ID))
	if err != nil || acct.ID != a.ID {
		t.Errorf("Expected store value, got %+v, %v", acct, err)
	}
}
