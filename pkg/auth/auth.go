// Package auth handles signup, signin and bearer tokens.
//
// Passwords are stored as bcrypt hashes. Tokens are HS256 JWTs whose
// subject is the account id.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"quickpe/pkg/logging"
	"quickpe/pkg/wallet"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

var (
	// ErrEmailTaken is returned when signing up with a registered email
	ErrEmailTaken = errors.New("auth: email already registered")

	// ErrUserNotFound is returned by stores for unknown emails
	ErrUserNotFound = errors.New("auth: user not found")

	// ErrInvalidCredentials is returned for an unknown email or a wrong password
	ErrInvalidCredentials = errors.New("auth: invalid email or password")

	// ErrInvalidToken is returned for missing, malformed or expired tokens
	ErrInvalidToken = errors.New("auth: invalid token")

	// ErrWeakPassword is returned for passwords shorter than MinPasswordLength
	ErrWeakPassword = errors.New("auth: password too short")
)

// Password length limits. bcrypt ignores bytes past 72.
const (
	MinPasswordLength = 6
	MaxPasswordLength = 72
)

// User holds the credentials of one account.
type User struct {
	AccountID    uuid.UUID
	Email        string
	PasswordHash []byte
	CreatedAt    time.Time
}

// UserStore persists credentials.
type UserStore interface {
	// CreateUser stores the account and its credentials atomically. It
	// returns ErrEmailTaken for a duplicate email and wallet.ErrConflict
	// for a duplicate QuickPe id.
	CreateUser(ctx context.Context, user User, acct wallet.Account) error

	// UserByEmail returns the credentials or ErrUserNotFound.
	UserByEmail(ctx context.Context, email string) (User, error)
}

// AccountFactory prepares new accounts; wallet.Service implements it.
type AccountFactory interface {
	NewAccount(name, email string) (wallet.Account, error)
}

// Config holds auth configuration
type Config struct {
	// Secret signs tokens (HS256)
	Secret []byte

	// TokenTTL is the token lifetime (default: 24h)
	TokenTTL time.Duration

	// Issuer is the iss claim (default: quickpe)
	Issuer string

	// BcryptCost defaults to bcrypt.DefaultCost
	BcryptCost int
}

// Service issues and verifies tokens.
type Service struct {
	users    UserStore
	accounts AccountFactory
	config   Config
	now      func() time.Time
	logger   *logging.Logger

	// dummyHash is compared against on unknown emails so both failure
	// paths cost one bcrypt comparison
	dummyHash []byte
}

// Option configures a Service.
type Option func(*Service)

// WithClock replaces time.Now for token timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithLogger sets the service logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// NewService creates an auth service.
func NewService(users UserStore, accounts AccountFactory, config Config, opts ...Option) (*Service, error) {
	if len(config.Secret) == 0 {
		return nil, errors.New("auth: secret is required")
	}
	if config.TokenTTL <= 0 {
		config.TokenTTL = 24 * time.Hour
	}
	if config.Issuer == "" {
		config.Issuer = "quickpe"
	}
	if config.BcryptCost == 0 {
		config.BcryptCost = bcrypt.DefaultCost
	}

	dummy, err := bcrypt.GenerateFromPassword([]byte("quickpe-dummy-password"), config.BcryptCost)
	if err != nil {
		return nil, fmt.Errorf("auth: bcrypt: %w", err)
	}

	s := &Service{
		users:     users,
		accounts:  accounts,
		config:    config,
		now:       time.Now,
		logger:    logging.Global(),
		dummyHash: dummy,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.Named("auth")

	return s, nil
}

// SignupRequest carries the signup form.
type SignupRequest struct {
	Name     string
	Email    string
	Password string
}

// Session is a signed token for an account.
type Session struct {
	Token     string
	ExpiresAt time.Time
	AccountID uuid.UUID
	// Account is only set by Signup
	Account wallet.Account
}

// signupAttempts bounds retries on QuickPe id collisions.
const signupAttempts = 3

// Signup creates an account with credentials and returns a session for it.
func (s *Service) Signup(ctx context.Context, req SignupRequest) (Session, error) {
	if err := validatePassword(req.Password); err != nil {
		return Session{}, err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.config.BcryptCost)
	if err != nil {
		return Session{}, fmt.Errorf("auth: hash password: %w", err)
	}

	var acct wallet.Account
	for attempt := 1; ; attempt++ {
		acct, err = s.accounts.NewAccount(req.Name, req.Email)
		if err != nil {
			return Session{}, err
		}

		err = s.users.CreateUser(ctx, User{
			AccountID:    acct.ID,
			Email:        acct.Email,
			PasswordHash: hash,
			CreatedAt:    acct.CreatedAt,
		}, acct)
		if err == nil {
			break
		}
		if !errors.Is(err, wallet.ErrConflict) || attempt == signupAttempts {
			return Session{}, err
		}
	}

	logging.FromContext(ctx, s.logger).Info("account created",
		zap.Stringer("account", acct.ID),
		zap.String("quickpe_id", acct.QuickPeID),
	)

	session, err := s.issue(acct.ID)
	if err != nil {
		return Session{}, err
	}
	session.Account = acct
	return session, nil
}

// Signin checks the password and returns a session.
func (s *Service) Signin(ctx context.Context, email, password string) (Session, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	user, err := s.users.UserByEmail(ctx, email)
	if errors.Is(err, ErrUserNotFound) {
		_ = bcrypt.CompareHashAndPassword(s.dummyHash, []byte(password))
		return Session{}, ErrInvalidCredentials
	}
	if err != nil {
		return Session{}, fmt.Errorf("auth: load user: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword(user.PasswordHash, []byte(password)); err != nil {
		logging.FromContext(ctx, s.logger).Info("signin rejected", zap.Stringer("account", user.AccountID))
		return Session{}, ErrInvalidCredentials
	}

	return s.issue(user.AccountID)
}

func (s *Service) issue(accountID uuid.UUID) (Session, error) {
	now := s.now()
	expires := now.Add(s.config.TokenTTL)

	claims := jwt.RegisteredClaims{
		Subject:   accountID.String(),
		Issuer:    s.config.Issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expires),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.config.Secret)
	if err != nil {
		return Session{}, fmt.Errorf("auth: sign token: %w", err)
	}

	return Session{Token: token, ExpiresAt: expires, AccountID: accountID}, nil
}

// Verify returns the account id carried by a valid token.
func (s *Service) Verify(tokenStr string) (uuid.UUID, error) {
	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(tokenStr, &claims, func(*jwt.Token) (interface{}, error) {
		return s.config.Secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.config.Issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	id, err := uuid.Parse(claims.Subject)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: bad subject", ErrInvalidToken)
	}
	return id, nil
}

func validatePassword(p string) error {
	if utf8.RuneCountInString(p) < MinPasswordLength {
		return ErrWeakPassword
	}
	if len(p) > MaxPasswordLength {
		return fmt.Errorf("%w: password longer than %d bytes", wallet.ErrInvalidRequest, MaxPasswordLength)
	}
	return nil
}
