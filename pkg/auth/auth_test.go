package auth_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"quickpe/pkg/auth"
	"quickpe/pkg/wallet"
	"quickpe/pkg/wallet/memstore"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

var secret = []byte("test-secret")

func newService(t *testing.T, store *memstore.Store, opts ...auth.Option) *auth.Service {
	t.Helper()
	svc, err := auth.NewService(store, wallet.NewService(store, wallet.DefaultConfig()), auth.Config{
		Secret:     secret,
		BcryptCost: bcrypt.MinCost,
	}, opts...)
	if err != nil {
		t.Fatalf("NewService failed: %v", err)
	}
	return svc
}

func TestSignupSignin(t *testing.T) {
	store := memstore.New()
	svc := newService(t, store)
	ctx := context.Background()

	session, err := svc.Signup(ctx, auth.SignupRequest{Name: "Asha", Email: "Asha@Example.com", Password: "secret1"})
	if err != nil {
		t.Fatalf("Signup failed: %v", err)
	}
	if session.Token == "" || session.Account.Email != "asha@example.com" {
		t.Errorf("Unexpected session %+v", session)
	}

	acct, err := store.Account(ctx, session.AccountID)
	if err != nil {
		t.Fatalf("Account not stored: %v", err)
	}
	if acct.Balance < wallet.DefaultConfig().SignupMin {
		t.Errorf("Expected a starting balance, got %s", acct.Balance)
	}

	id, err := svc.Verify(session.Token)
	if err != nil || id != session.AccountID {
		t.Errorf("Verify(signup token) = %s, %v", id, err)
	}

	signin, err := svc.Signin(ctx, " ASHA@example.com ", "secret1")
	if err != nil {
		t.Fatalf("Signin failed: %v", err)
	}
	if signin.AccountID != session.AccountID {
		t.Errorf("Signin returned account %s, want %s", signin.AccountID, session.AccountID)
	}
}

func TestSignup_Errors(t *testing.T) {
	store := memstore.New()
	svc := newService(t, store)
	ctx := context.Background()

	if _, err := svc.Signup(ctx, auth.SignupRequest{Name: "Asha", Email: "asha@example.com", Password: "secret1"}); err != nil {
		t.Fatalf("Signup failed: %v", err)
	}

	tests := []struct {
		name    string
		req     auth.SignupRequest
		wantErr error
	}{
		{"duplicate email", auth.SignupRequest{Name: "Other", Email: "ASHA@example.com", Password: "secret1"}, auth.ErrEmailTaken},
		{"short password", auth.SignupRequest{Name: "Bala", Email: "bala@example.com", Password: "12345"}, auth.ErrWeakPassword},
		{"bad email", auth.SignupRequest{Name: "Bala", Email: "bala", Password: "secret1"}, wallet.ErrInvalidRequest},
		{"empty name", auth.SignupRequest{Name: " ", Email: "bala@example.com", Password: "secret1"}, wallet.ErrInvalidRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := svc.Signup(ctx, tt.req); !errors.Is(err, tt.wantErr) {
				t.Errorf("Expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestSignin_InvalidCredentials(t *testing.T) {
	store := memstore.New()
	svc := newService(t, store)
	ctx := context.Background()

	if _, err := svc.Signup(ctx, auth.SignupRequest{Name: "Asha", Email: "asha@example.com", Password: "secret1"}); err != nil {
		t.Fatalf("Signup failed: %v", err)
	}

	if _, err := svc.Signin(ctx, "asha@example.com", "wrong-password"); !errors.Is(err, auth.ErrInvalidCredentials) {
		t.Errorf("Expected ErrInvalidCredentials for bad password, got %v", err)
	}
	if _, err := svc.Signin(ctx, "nobody@example.com", "secret1"); !errors.Is(err, auth.ErrInvalidCredentials) {
		t.Errorf("Expected ErrInvalidCredentials for unknown email, got %v", err)
	}
}

// collidingFactory returns the same QuickPe id until the store has it.
type collidingFactory struct {
	inner *wallet.Service
	calls int
}

func (f *collidingFactory) NewAccount(name, email string) (wallet.Account, error) {
	f.calls++
	acct, err := f.inner.NewAccount(name, email)
	if f.calls == 1 {
		acct.QuickPeID = "QP00000001"
	}
	return acct, err
}

func TestSignup_RetriesQuickPeCollision(t *testing.T) {
	store := memstore.New()
	taken := wallet.Account{ID: uuid.New(), QuickPeID: "QP00000001", OwnerName: "x", Email: "x@example.com"}
	if err := store.CreateAccount(context.Background(), taken); err != nil {
		t.Fatalf("CreateAccount failed: %v", err)
	}

	factory := &collidingFactory{inner: wallet.NewService(store, wallet.DefaultConfig())}
	svc, err := auth.NewService(store, factory, auth.Config{Secret: secret, BcryptCost: bcrypt.MinCost})
	if err != nil {
		t.Fatalf("NewService failed: %v", err)
	}

	session, err := svc.Signup(context.Background(), auth.SignupRequest{Name: "Asha", Email: "asha@example.com", Password: "secret1"})
	if err != nil {
		t.Fatalf("Signup failed: %v", err)
	}
	if factory.calls != 2 || session.Account.QuickPeID == "QP00000001" {
		t.Errorf("Expected a second attempt with a new id, calls=%d id=%s", factory.calls, session.Account.QuickPeID)
	}
}

func TestVerify(t *testing.T) {
	store := memstore.New()
	now := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)
	svc := newService(t, store, auth.WithClock(func() time.Time { return now }))

	session, err := svc.Signup(context.Background(), auth.SignupRequest{Name: "Asha", Email: "asha@example.com", Password: "secret1"})
	if err != nil {
		t.Fatalf("Signup failed: %v", err)
	}
	if !session.ExpiresAt.Equal(now.Add(24 * time.Hour)) {
		t.Errorf("Unexpected expiry %v", session.ExpiresAt)
	}

	sign := func(method jwt.SigningMethod, key any, claims jwt.RegisteredClaims) string {
		s, err := jwt.NewWithClaims(method, claims).SignedString(key)
		if err != nil {
			t.Fatalf("SignedString failed: %v", err)
		}
		return s
	}
	valid := jwt.RegisteredClaims{
		Subject:   session.AccountID.String(),
		Issuer:    "quickpe",
		ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
	}
	noExp := valid
	noExp.ExpiresAt = nil
	otherIssuer := valid
	otherIssuer.Issuer = "someone-else"
	badSubject := valid
	badSubject.Subject = "admin"

	tests := []struct {
		name  string
		token string
	}{
		{"empty", ""},
		{"garbage", "not.a.token"},
		{"wrong secret", sign(jwt.SigningMethodHS256, []byte("other"), valid)},
		{"alg none", sign(jwt.SigningMethodNone, jwt.UnsafeAllowNoneSignatureType, valid)},
		{"hs512", sign(jwt.SigningMethodHS512, secret, valid)},
		{"no expiry", sign(jwt.SigningMethodHS256, secret, noExp)},
		{"other issuer", sign(jwt.SigningMethodHS256, secret, otherIssuer)},
		{"bad subject", sign(jwt.SigningMethodHS256, secret, badSubject)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := svc.Verify(tt.token); !errors.Is(err, auth.ErrInvalidToken) {
				t.Errorf("Expected ErrInvalidToken, got %v", err)
			}
		})
	}

	if _, err := svc.Verify(sign(jwt.SigningMethodHS256, secret, valid)); err != nil {
		t.Errorf("Expected valid token to verify, got %v", err)
	}

	// a day and a second later the signup token has expired
	now = now.Add(24*time.Hour + time.Second)
	if _, err := svc.Verify(session.Token); !errors.Is(err, auth.ErrInvalidToken) {
		t.Errorf("Expected expired token to fail, got %v", err)
	}
}

func TestNewService_RequiresSecret(t *testing.T) {
	store := memstore.New()
	if _, err := auth.NewService(store, wallet.NewService(store, wallet.DefaultConfig()), auth.Config{}); err == nil {
		t.Error("Expected error without a secret")
	}
}
