// Package api serves the wallet over HTTP.
//
// Routes live under /api/v1 and speak JSON. Amounts are rupees encoded as
// JSON numbers with at most two decimals. Every error response has the
// shape {"success": false, "message": "..."}; internal causes are logged and
// never returned to the caller.
package api

import (
	"context"
	"net/http"
	"time"

	"quickpe/pkg/auth"
	"quickpe/pkg/logging"
	"quickpe/pkg/metrics"
	"quickpe/pkg/money"
	"quickpe/pkg/wallet"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// Wallet is the money side of the API; *wallet.Service implements it.
type Wallet interface {
	Transfer(ctx context.Context, req wallet.TransferRequest) (wallet.TransferResult, error)
	Deposit(ctx context.Context, accountID uuid.UUID, amount money.Amount) (wallet.DepositResult, error)
	Account(ctx context.Context, id uuid.UUID) (wallet.Account, error)
	Balance(ctx context.Context, id uuid.UUID) (money.Amount, error)
	History(ctx context.Context, id uuid.UUID, q wallet.HistoryQuery) (wallet.HistoryPage, error)
	Summary(ctx context.Context, id uuid.UUID, days int) (wallet.Summary, error)
}

// Authenticator issues and checks tokens; *auth.Service implements it.
type Authenticator interface {
	Signup(ctx context.Context, req auth.SignupRequest) (auth.Session, error)
	Signin(ctx context.Context, email, password string) (auth.Session, error)
	Verify(token string) (uuid.UUID, error)
}

// Directory serves cached account lookups; *wallet.Directory implements it.
type Directory interface {
	Account(ctx context.Context, id uuid.UUID) (wallet.Account, error)
	Resolve(ctx context.Context, ident string) (uuid.UUID, error)
	Forget(ctx context.Context, acct wallet.Account) error
}

// Notifications accepts websocket subscriptions; *notify.Hub implements it.
type Notifications interface {
	ServeWS(w http.ResponseWriter, r *http.Request, accountID uuid.UUID) error
}

// HealthCheck is one dependency checked by /health. A failing critical check
// makes the service unhealthy; others only mark it degraded.
type HealthCheck struct {
	Name     string
	Check    func(ctx context.Context) error
	Critical bool
}

// ServerConfig holds configuration for the API server.
type ServerConfig struct {
	// Address to listen on (e.g., ":8080")
	Address string

	// ReadTimeout for HTTP requests
	ReadTimeout time.Duration

	// WriteTimeout for HTTP responses
	WriteTimeout time.Duration

	// IdleTimeout for keep-alive connections
	IdleTimeout time.Duration

	// MaxBodyBytes caps JSON request bodies (default: 1 MiB)
	MaxBodyBytes int64
}

// DefaultServerConfig returns a default configuration.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Address:      ":8080",
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
		MaxBodyBytes: 1 << 20,
	}
}

// Server provides the wallet HTTP endpoints.
type Server struct {
	wallet  Wallet
	auth    Authenticator
	dir     Directory
	notes   Notifications
	metrics metrics.HTTPCollector
	logger  *logging.Logger
	checks  []HealthCheck

	metricsHandler http.Handler

	router *mux.Router
	server *http.Server
	config ServerConfig
}

// Option configures a Server.
type Option func(*Server)

// WithDirectory serves profiles and lookups from a cached directory and
// enables /user/lookup.
func WithDirectory(d Directory) Option {
	return func(s *Server) { s.dir = d }
}

// WithNotifications enables /notifications/ws.
func WithNotifications(n Notifications) Option {
	return func(s *Server) { s.notes = n }
}

// WithMetrics records request metrics.
func WithMetrics(m metrics.HTTPCollector) Option {
	return func(s *Server) { s.metrics = m }
}

// WithMetricsHandler mounts h at /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.metricsHandler = h }
}

// WithHealthCheck adds a dependency check to /health.
func WithHealthCheck(check HealthCheck) Option {
	return func(s *Server) { s.checks = append(s.checks, check) }
}

// WithLogger sets the server logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// NewServer creates the API server.
func NewServer(w Wallet, a Authenticator, config ServerConfig, opts ...Option) *Server {
	if config.MaxBodyBytes <= 0 {
		config.MaxBodyBytes = DefaultServerConfig().MaxBodyBytes
	}

	s := &Server{
		wallet:  w,
		auth:    a,
		metrics: metrics.NoOpCollector{},
		logger:  logging.Global(),
		config:  config,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.Named("api")

	s.router = s.routes()
	s.server = &http.Server{
		Addr:         config.Address,
		Handler:      s.router,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		IdleTimeout:  config.IdleTimeout,
	}

	return s
}

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.recoverer, s.instrument)

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	if s.metricsHandler != nil {
		r.Handle("/metrics", s.metricsHandler).Methods(http.MethodGet)
	}

	api := r.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/user/signup", s.handleSignup).Methods(http.MethodPost)
	api.HandleFunc("/user/signin", s.handleSignin).Methods(http.MethodPost)

	// Protected handlers are wrapped per route rather than grouped in a
	// matcher-less subrouter, which would turn a method mismatch into 404.
	private := func(h http.HandlerFunc) http.Handler {
		return s.authenticate(false)(h)
	}
	api.Handle("/user/me", private(s.handleMe)).Methods(http.MethodGet)
	api.Handle("/account/balance", private(s.handleBalance)).Methods(http.MethodGet)
	api.Handle("/account/deposit", private(s.handleDeposit)).Methods(http.MethodPost)
	api.Handle("/account/transfer", private(s.handleTransfer)).Methods(http.MethodPost)
	api.Handle("/transactions", private(s.handleHistory)).Methods(http.MethodGet)
	api.Handle("/transactions/summary", private(s.handleSummary)).Methods(http.MethodGet)
	api.Handle("/transactions/export", private(s.handleExport)).Methods(http.MethodGet)
	if s.dir != nil {
		api.Handle("/user/lookup", private(s.handleLookup)).Methods(http.MethodGet)
	}

	if s.notes != nil {
		// browsers cannot set headers on websocket requests
		api.Handle("/notifications/ws", s.authenticate(true)(http.HandlerFunc(s.handleNotifications))).Methods(http.MethodGet)
	}

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "Not found")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	})

	return r
}

// Handler returns the routed handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server in a goroutine.
func (s *Server) Start() error {
	go func() {
		s.logger.Info("server listening", zap.String("addr", s.config.Address))
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("server failed", zap.Error(err))
		}
	}()
	return nil
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// handleHealth reports the state of every registered dependency.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := "healthy"
	code := http.StatusOK
	checks := make(map[string]string, len(s.checks))

	for _, c := range s.checks {
		if err := c.Check(ctx); err != nil {
			checks[c.Name] = err.Error()
			if c.Critical {
				status, code = "unhealthy", http.StatusServiceUnavailable
			} else if code == http.StatusOK {
				status = "degraded"
			}
			continue
		}
		checks[c.Name] = "ok"
	}

	writeJSON(w, code, map[string]interface{}{
		"status":    status,
		"checks":    checks,
		"timestamp": time.Now().Unix(),
	})
}
