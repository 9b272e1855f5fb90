package wallet

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"
	"unicode/utf8"

	"quickpe/pkg/logging"
	"quickpe/pkg/metrics"
	"quickpe/pkg/money"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Input limits.
const (
	MaxDescriptionLength    = 140
	MaxIdempotencyKeyLength = 128
	MaxNameLength           = 100
	MaxSummaryDays          = 365
	DefaultSummaryDays      = 30
)

// Config holds wallet service configuration
type Config struct {
	// TxTimeout bounds one money movement, retries included
	TxTimeout time.Duration

	// TxRetries is how many times a conflicting transaction is run again
	TxRetries int

	// NotifyTimeout bounds post-commit notification
	NotifyTimeout time.Duration

	// MaxDeposit caps a single deposit
	MaxDeposit money.Amount

	// SignupMin and SignupMax bound the random starting balance (whole rupees)
	SignupMin money.Amount
	SignupMax money.Amount
}

// DefaultConfig returns the default wallet configuration
func DefaultConfig() Config {
	return Config{
		TxTimeout:     5 * time.Second,
		TxRetries:     3,
		NotifyTimeout: 2 * time.Second,
		MaxDeposit:    money.Rupees(100_000),
		SignupMin:     money.Rupees(1_000),
		SignupMax:     money.Rupees(10_000),
	}
}

// Validate checks the configuration for consistency
func (c Config) Validate() error {
	if c.TxTimeout <= 0 {
		return errors.New("wallet: tx timeout must be positive")
	}
	if c.TxRetries < 0 {
		return errors.New("wallet: tx retries cannot be negative")
	}
	if !c.MaxDeposit.Positive() {
		return errors.New("wallet: max deposit must be positive")
	}
	if c.SignupMin < 0 || c.SignupMax < c.SignupMin {
		return fmt.Errorf("wallet: invalid signup balance range %s..%s", c.SignupMin, c.SignupMax)
	}
	return nil
}

// Service moves money between accounts.
type Service struct {
	store    Store
	config   Config
	notifier Notifier
	metrics  metrics.WalletCollector
	logger   *logging.Logger
	now      func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithNotifier sets the sink for post-commit events.
func WithNotifier(n Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

// WithMetrics sets the metrics collector.
func WithMetrics(m metrics.WalletCollector) Option {
	return func(s *Service) { s.metrics = m }
}

// WithLogger sets the service logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithClock replaces time.Now for record timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a wallet service over store. Zero config fields take
// their defaults.
func NewService(store Store, config Config, opts ...Option) *Service {
	def := DefaultConfig()
	if config.TxTimeout <= 0 {
		config.TxTimeout = def.TxTimeout
	}
	if config.TxRetries < 0 {
		config.TxRetries = 0
	}
	if config.NotifyTimeout <= 0 {
		config.NotifyTimeout = def.NotifyTimeout
	}
	if config.MaxDeposit <= 0 {
		config.MaxDeposit = def.MaxDeposit
	}
	if config.SignupMax <= 0 {
		config.SignupMin, config.SignupMax = def.SignupMin, def.SignupMax
	}

	s := &Service{
		store:    store,
		config:   config,
		notifier: nopNotifier{},
		metrics:  metrics.NoOpCollector{},
		logger:   logging.Global(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.Named("wallet")

	return s
}

// TransferRequest asks to move Amount from the From account to the account
// identified by To (account id, QuickPe id or email).
type TransferRequest struct {
	From           uuid.UUID
	To             string
	Amount         money.Amount
	Description    string
	IdempotencyKey string
}

// TransferResult describes a committed (or replayed) transfer.
type TransferResult struct {
	TransactionID string       `json:"transactionId"`
	From          uuid.UUID    `json:"from"`
	To            uuid.UUID    `json:"to"`
	Amount        money.Amount `json:"amount"`
	// Balance is the sender's balance after the transfer
	Balance   money.Amount `json:"balance"`
	CreatedAt time.Time    `json:"createdAt"`
	Replayed  bool         `json:"replayed"`
}

// Transfer moves money between two accounts atomically.
//
// Validation failures are returned before any transaction is opened. Inside
// the transaction both accounts are locked in id order and the sender's
// balance is checked against the locked read. Errors other than the
// request errors of this package are wrapped in ErrTransferFailed.
// Subscribers are notified only after commit.
func (s *Service) Transfer(ctx context.Context, req TransferRequest) (TransferResult, error) {
	start := time.Now()
	res, err := s.transfer(ctx, req)
	s.metrics.RecordTransfer(outcome(res.Replayed, err), time.Since(start))

	logger := logging.FromContext(ctx, s.logger)
	fields := []zap.Field{
		zap.Stringer("from", req.From),
		zap.String("to", req.To),
		zap.Stringer("amount", req.Amount),
	}
	switch {
	case err == nil:
		logger.Info("transfer committed", append(fields,
			zap.String("transaction_id", res.TransactionID),
			zap.Bool("replayed", res.Replayed),
		)...)
	case IsUserError(err):
		logger.Info("transfer rejected", append(fields, zap.String("reason", ClassifyError(err)))...)
	default:
		logger.Error("transfer failed", append(fields, zap.Error(err))...)
	}

	return res, err
}

func (s *Service) transfer(ctx context.Context, req TransferRequest) (TransferResult, error) {
	if !req.Amount.Positive() {
		return TransferResult{}, ErrInvalidAmount
	}
	if strings.TrimSpace(req.To) == "" {
		return TransferResult{}, ErrInvalidRequest
	}
	if utf8.RuneCountInString(req.Description) > MaxDescriptionLength ||
		len(req.IdempotencyKey) > MaxIdempotencyKeyLength {
		return TransferResult{}, ErrInvalidRequest
	}

	to, err := s.store.ResolveIdentifier(ctx, req.To)
	if errors.Is(err, ErrAccountNotFound) {
		return TransferResult{}, ErrRecipientNotFound
	}
	if err != nil {
		return TransferResult{}, fmt.Errorf("%w: resolve recipient: %w", ErrTransferFailed, err)
	}
	if to == req.From {
		return TransferResult{}, ErrSelfTransfer
	}

	var (
		res       TransferResult
		toBalance money.Amount
		desc      = strings.TrimSpace(req.Description)
	)
	err = s.runTx(ctx, func(ctx context.Context, tx Tx) error {
		res = TransferResult{}

		if req.IdempotencyKey != "" {
			prev, found, err := tx.FindByIdempotencyKey(ctx, req.From, req.IdempotencyKey)
			if err != nil {
				return err
			}
			if found {
				if prev.Kind != KindTransfer || prev.To != to || prev.Amount != req.Amount {
					return ErrIdempotencyMismatch
				}
				res = resultFromRecord(prev)
				res.Replayed = true
				return nil
			}
		}

		accounts, err := tx.LockAccounts(ctx, req.From, to)
		if err != nil {
			return err
		}
		sender, ok := accounts[req.From]
		if !ok {
			return ErrAccountNotFound
		}
		if _, ok := accounts[to]; !ok {
			return ErrRecipientNotFound
		}
		if sender.Balance < req.Amount {
			return ErrInsufficientBalance
		}

		fromBalance, err := tx.AdjustBalance(ctx, req.From, -req.Amount)
		if errors.Is(err, ErrNegativeBalance) {
			return ErrInsufficientBalance
		}
		if err != nil {
			return err
		}
		if toBalance, err = tx.AdjustBalance(ctx, to, req.Amount); err != nil {
			return err
		}

		now := s.now().UTC()
		rec := Record{
			ID:             uuid.New(),
			TransactionID:  NewTransactionID(now),
			From:           req.From,
			To:             to,
			Amount:         req.Amount,
			Kind:           KindTransfer,
			Description:    desc,
			IdempotencyKey: req.IdempotencyKey,
			CreatedAt:      now,
		}
		if err := tx.Append(ctx, rec); err != nil {
			return err
		}

		res = resultFromRecord(rec)
		res.Balance = fromBalance
		return nil
	})
	if err != nil {
		return TransferResult{}, err
	}

	if res.Replayed {
		balance, err := s.store.Balance(ctx, req.From)
		if err != nil {
			return TransferResult{}, fmt.Errorf("%w: read balance: %w", ErrTransferFailed, err)
		}
		res.Balance = balance
		return res, nil
	}

	s.notify(ctx, Event{
		Kind:          KindTransfer,
		TransactionID: res.TransactionID,
		From:          res.From,
		To:            res.To,
		Amount:        res.Amount,
		FromBalance:   res.Balance,
		ToBalance:     toBalance,
		Description:   desc,
		At:            res.CreatedAt,
	})

	return res, nil
}

func resultFromRecord(r Record) TransferResult {
	return TransferResult{
		TransactionID: r.TransactionID,
		From:          r.From,
		To:            r.To,
		Amount:        r.Amount,
		CreatedAt:     r.CreatedAt,
	}
}

// DepositResult describes a committed deposit.
type DepositResult struct {
	TransactionID string       `json:"transactionId"`
	Amount        money.Amount `json:"amount"`
	Balance       money.Amount `json:"balance"`
	CreatedAt     time.Time    `json:"createdAt"`
}

// Deposit credits amount to the account and records it.
func (s *Service) Deposit(ctx context.Context, accountID uuid.UUID, amount money.Amount) (DepositResult, error) {
	start := time.Now()
	res, err := s.deposit(ctx, accountID, amount)
	s.metrics.RecordDeposit(outcome(false, err), time.Since(start))

	logger := logging.FromContext(ctx, s.logger).With(
		zap.Stringer("account", accountID),
		zap.Stringer("amount", amount),
	)
	switch {
	case err == nil:
		logger.Info("deposit committed", zap.String("transaction_id", res.TransactionID))
	case IsUserError(err):
		logger.Info("deposit rejected", zap.String("reason", ClassifyError(err)))
	default:
		logger.Error("deposit failed", zap.Error(err))
	}

	return res, err
}

func (s *Service) deposit(ctx context.Context, accountID uuid.UUID, amount money.Amount) (DepositResult, error) {
	if !amount.Positive() || amount > s.config.MaxDeposit {
		return DepositResult{}, ErrInvalidAmount
	}

	var res DepositResult
	err := s.runTx(ctx, func(ctx context.Context, tx Tx) error {
		accounts, err := tx.LockAccounts(ctx, accountID)
		if err != nil {
			return err
		}
		if _, ok := accounts[accountID]; !ok {
			return ErrAccountNotFound
		}

		balance, err := tx.AdjustBalance(ctx, accountID, amount)
		if err != nil {
			return err
		}

		now := s.now().UTC()
		rec := Record{
			ID:            uuid.New(),
			TransactionID: NewTransactionID(now),
			To:            accountID,
			Amount:        amount,
			Kind:          KindDeposit,
			Description:   "Deposit",
			CreatedAt:     now,
		}
		if err := tx.Append(ctx, rec); err != nil {
			return err
		}

		res = DepositResult{
			TransactionID: rec.TransactionID,
			Amount:        amount,
			Balance:       balance,
			CreatedAt:     now,
		}
		return nil
	})
	if err != nil {
		return DepositResult{}, err
	}

	s.notify(ctx, Event{
		Kind:          KindDeposit,
		TransactionID: res.TransactionID,
		To:            accountID,
		Amount:        amount,
		ToBalance:     res.Balance,
		Description:   "Deposit",
		At:            res.CreatedAt,
	})

	return res, nil
}

// runTx runs fn within TxTimeout, retrying on ErrConflict. Request errors
// are returned as is; everything else is wrapped in ErrTransferFailed.
func (s *Service) runTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	ctx, cancel := context.WithTimeout(ctx, s.config.TxTimeout)
	defer cancel()

	var err error
	for attempt := 0; attempt <= s.config.TxRetries; attempt++ {
		if attempt > 0 {
			logging.FromContext(ctx, s.logger).Debug("retrying conflicting transaction",
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
			if werr := sleep(ctx, backoff(attempt)); werr != nil {
				err = werr
				break
			}
		}

		err = s.store.RunInTx(ctx, fn)
		if err == nil || IsUserError(err) {
			return err
		}
		if !errors.Is(err, ErrConflict) {
			break
		}
	}

	return fmt.Errorf("%w: %w", ErrTransferFailed, err)
}

func backoff(attempt int) time.Duration {
	base := time.Duration(attempt*attempt) * 5 * time.Millisecond
	return base + rand.N(5*time.Millisecond)
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// notify delivers event to the notifier. It runs after commit, so neither
// the caller's cancellation nor a notifier error can affect the outcome.
func (s *Service) notify(ctx context.Context, event Event) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.config.NotifyTimeout)
	defer cancel()

	if err := s.notifier.Notify(ctx, event); err != nil {
		logging.FromContext(ctx, s.logger).Warn("post-commit notification failed",
			zap.String("transaction_id", event.TransactionID),
			zap.Error(err),
		)
	}
}

func outcome(replayed bool, err error) string {
	switch {
	case err == nil && replayed:
		return metrics.OutcomeReplayed
	case err == nil:
		return metrics.OutcomeSuccess
	case IsUserError(err):
		return metrics.OutcomeRejected
	default:
		return metrics.OutcomeFailed
	}
}

// NewAccount builds an account with a fresh id, QuickPe id and a random
// starting balance. Persisting it is up to the caller.
func (s *Service) NewAccount(name, email string) (Account, error) {
	name = strings.TrimSpace(name)
	if name == "" || utf8.RuneCountInString(name) > MaxNameLength {
		return Account{}, ErrInvalidRequest
	}
	email, err := NormalizeEmail(email)
	if err != nil {
		return Account{}, err
	}

	span := int64(s.config.SignupMax-s.config.SignupMin) / 100
	balance := s.config.SignupMin + money.Rupees(rand.Int64N(span+1))

	return Account{
		ID:        uuid.New(),
		QuickPeID: NewQuickPeID(),
		OwnerName: name,
		Email:     email,
		Balance:   balance,
		CreatedAt: s.now().UTC(),
	}, nil
}

// Account returns the committed account state.
func (s *Service) Account(ctx context.Context, id uuid.UUID) (Account, error) {
	return s.store.Account(ctx, id)
}

// Balance returns the committed balance.
func (s *Service) Balance(ctx context.Context, id uuid.UUID) (money.Amount, error) {
	return s.store.Balance(ctx, id)
}

// HistoryPage is one page of an account's history.
type HistoryPage struct {
	Entries    []Entry `json:"transactions"`
	Total      int     `json:"total"`
	Page       int     `json:"page"`
	PageSize   int     `json:"limit"`
	TotalPages int     `json:"totalPages"`
}

// History lists the account's records newest first, resolved for the
// account.
func (s *Service) History(ctx context.Context, id uuid.UUID, q HistoryQuery) (HistoryPage, error) {
	q = q.Normalize()
	if !q.Since.IsZero() && !q.Until.IsZero() && q.Until.Before(q.Since) {
		return HistoryPage{}, ErrInvalidRequest
	}

	records, total, err := s.store.ListByAccount(ctx, id, q)
	if err != nil {
		return HistoryPage{}, fmt.Errorf("wallet: list history: %w", err)
	}

	entries := make([]Entry, len(records))
	for i, r := range records {
		entries[i] = r.EntryFor(id)
	}

	return HistoryPage{
		Entries:    entries,
		Total:      total,
		Page:       q.Page,
		PageSize:   q.PageSize,
		TotalPages: (total + q.PageSize - 1) / q.PageSize,
	}, nil
}

// Summary totals the account's activity over the last days (default 30).
func (s *Service) Summary(ctx context.Context, id uuid.UUID, days int) (Summary, error) {
	if days == 0 {
		days = DefaultSummaryDays
	}
	if days < 0 || days > MaxSummaryDays {
		return Summary{}, ErrInvalidRequest
	}

	since := s.now().UTC().AddDate(0, 0, -days)
	sum, err := s.store.Summary(ctx, id, since)
	if err != nil {
		return Summary{}, fmt.Errorf("wallet: summary: %w", err)
	}
	return sum, nil
}
