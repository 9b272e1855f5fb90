package api

import (
	"net/http"
	"strings"
	"time"

	"quickpe/pkg/auth"
	"quickpe/pkg/logging"
	"quickpe/pkg/money"
	"quickpe/pkg/wallet"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type signupRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type sessionResponse struct {
	Success   bool            `json:"success"`
	Message   string          `json:"message"`
	Token     string          `json:"token"`
	ExpiresAt time.Time       `json:"expiresAt"`
	QuickPeID string          `json:"quickpeId,omitempty"`
	User      *wallet.Account `json:"user,omitempty"`
}

func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if err := s.decode(w, r, &req); err != nil {
		s.fail(r.Context(), w, err)
		return
	}

	session, err := s.auth.Signup(r.Context(), auth.SignupRequest{
		Name:     req.Name,
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		s.fail(r.Context(), w, err)
		return
	}

	if s.dir != nil {
		// lookups may have cached a miss for this email before signup
		if err := s.dir.Forget(r.Context(), session.Account); err != nil {
			logging.FromContext(r.Context(), s.logger).Warn("directory forget failed", zap.Error(err))
		}
	}

	writeJSON(w, http.StatusCreated, sessionResponse{
		Success:   true,
		Message:   "Signup successful",
		Token:     session.Token,
		ExpiresAt: session.ExpiresAt,
		QuickPeID: session.Account.QuickPeID,
		User:      &session.Account,
	})
}

type signinRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (s *Server) handleSignin(w http.ResponseWriter, r *http.Request) {
	var req signinRequest
	if err := s.decode(w, r, &req); err != nil {
		s.fail(r.Context(), w, err)
		return
	}
	if req.Email == "" || req.Password == "" {
		s.fail(r.Context(), w, badRequest("Email and password are required"))
		return
	}

	session, err := s.auth.Signin(r.Context(), req.Email, req.Password)
	if err != nil {
		s.fail(r.Context(), w, err)
		return
	}

	writeJSON(w, http.StatusOK, sessionResponse{
		Success:   true,
		Message:   "Signin successful",
		Token:     session.Token,
		ExpiresAt: session.ExpiresAt,
	})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := accountID(ctx)

	var (
		acct wallet.Account
		err  error
	)
	if s.dir != nil {
		acct, err = s.dir.Account(ctx, id)
		if err == nil {
			// the cached profile may carry a balance from before the last commit
			acct.Balance, err = s.wallet.Balance(ctx, id)
		}
	} else {
		acct, err = s.wallet.Account(ctx, id)
	}
	if err != nil {
		s.fail(ctx, w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"user":    acct,
	})
}

// publicProfile is what other users may see of an account.
type publicProfile struct {
	ID        uuid.UUID `json:"id"`
	QuickPeID string    `json:"quickpeId"`
	Name      string    `json:"name"`
}

func (s *Server) handleLookup(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	ident := strings.TrimSpace(r.URL.Query().Get("identifier"))
	if ident == "" {
		s.fail(ctx, w, badRequest("identifier is required"))
		return
	}

	id, err := s.dir.Resolve(ctx, ident)
	if err != nil {
		s.fail(ctx, w, err)
		return
	}
	acct, err := s.dir.Account(ctx, id)
	if err != nil {
		s.fail(ctx, w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"user": publicProfile{
			ID:        acct.ID,
			QuickPeID: acct.QuickPeID,
			Name:      acct.OwnerName,
		},
	})
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	balance, err := s.wallet.Balance(r.Context(), accountID(r.Context()))
	if err != nil {
		s.fail(r.Context(), w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"balance": balance,
	})
}

type depositRequest struct {
	Amount money.Amount `json:"amount"`
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	var req depositRequest
	if err := s.decode(w, r, &req); err != nil {
		s.fail(r.Context(), w, err)
		return
	}

	res, err := s.wallet.Deposit(r.Context(), accountID(r.Context()), req.Amount)
	if err != nil {
		s.fail(r.Context(), w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":       true,
		"message":       "Deposit successful",
		"transactionId": res.TransactionID,
		"amount":        res.Amount,
		"balance":       res.Balance,
	})
}

type transferRequest struct {
	To          string       `json:"to"`
	Amount      money.Amount `json:"amount"`
	Description string       `json:"description"`
}

type transferResponse struct {
	Success       bool         `json:"success"`
	Message       string       `json:"message"`
	TransactionID string       `json:"transactionId"`
	Amount        money.Amount `json:"amount"`
	Balance       money.Amount `json:"balance"`
	Recipient     uuid.UUID    `json:"recipient"`
	CreatedAt     time.Time    `json:"createdAt"`
	Replayed      bool         `json:"replayed,omitempty"`
}

// IdempotencyHeader carries the optional client key for transfers.
const IdempotencyHeader = "Idempotency-Key"

func (s *Server) handleTransfer(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if err := s.decode(w, r, &req); err != nil {
		s.fail(r.Context(), w, err)
		return
	}

	to := strings.TrimSpace(req.To)
	if to == "" {
		s.fail(r.Context(), w, badRequest("Recipient is required"))
		return
	}

	res, err := s.wallet.Transfer(r.Context(), wallet.TransferRequest{
		From:           accountID(r.Context()),
		To:             to,
		Amount:         req.Amount,
		Description:    strings.TrimSpace(req.Description),
		IdempotencyKey: strings.TrimSpace(r.Header.Get(IdempotencyHeader)),
	})
	if err != nil {
		s.fail(r.Context(), w, err)
		return
	}

	if res.Replayed {
		w.Header().Set("Idempotent-Replayed", "true")
	}
	writeJSON(w, http.StatusOK, transferResponse{
		Success:       true,
		Message:       "Transfer successful",
		TransactionID: res.TransactionID,
		Amount:        res.Amount,
		Balance:       res.Balance,
		Recipient:     res.To,
		CreatedAt:     res.CreatedAt,
		Replayed:      res.Replayed,
	})
}

func (s *Server) handleNotifications(w http.ResponseWriter, r *http.Request) {
	if err := s.notes.ServeWS(w, r, accountID(r.Context())); err != nil {
		// the upgrader or hub already answered the request
		logging.FromContext(r.Context(), s.logger).Debug("websocket rejected", zap.Error(err))
	}
}
