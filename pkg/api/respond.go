package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"quickpe/pkg/auth"
	"quickpe/pkg/logging"
	"quickpe/pkg/money"
	"quickpe/pkg/wallet"

	"go.uber.org/zap"
)

// errorBody is the shape of every error response.
type errorBody struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// requestError is a malformed request whose message is safe to return.
type requestError struct {
	msg string
}

func (e *requestError) Error() string { return e.msg }

func badRequest(format string, args ...any) error {
	return &requestError{msg: fmt.Sprintf(format, args...)}
}

// errorStatus maps an error onto a status code and a caller-safe message.
func errorStatus(err error) (int, string) {
	var reqErr *requestError
	switch {
	case errors.As(err, &reqErr):
		return http.StatusBadRequest, reqErr.msg

	case errors.Is(err, wallet.ErrInvalidAmount),
		errors.Is(err, money.ErrInvalid),
		errors.Is(err, money.ErrPrecision),
		errors.Is(err, money.ErrOverflow):
		return http.StatusBadRequest, "Invalid amount"
	case errors.Is(err, wallet.ErrInsufficientBalance):
		return http.StatusBadRequest, "Insufficient balance"
	case errors.Is(err, wallet.ErrSelfTransfer):
		return http.StatusBadRequest, "Cannot transfer to your own account"
	case errors.Is(err, wallet.ErrInvalidRequest):
		return http.StatusBadRequest, "Invalid request"
	case errors.Is(err, wallet.ErrRecipientNotFound):
		return http.StatusNotFound, "Recipient not found"
	case errors.Is(err, wallet.ErrAccountNotFound):
		return http.StatusNotFound, "Account not found"
	case errors.Is(err, wallet.ErrIdempotencyMismatch):
		return http.StatusConflict, "Idempotency key already used for a different request"

	case errors.Is(err, auth.ErrWeakPassword):
		return http.StatusBadRequest, fmt.Sprintf("Password must be at least %d characters", auth.MinPasswordLength)
	case errors.Is(err, auth.ErrEmailTaken):
		return http.StatusConflict, "Email already registered"
	case errors.Is(err, auth.ErrInvalidCredentials):
		return http.StatusUnauthorized, "Invalid email or password"
	case errors.Is(err, auth.ErrInvalidToken):
		return http.StatusUnauthorized, "Unauthorized"

	case errors.Is(err, wallet.ErrTransferFailed):
		return http.StatusInternalServerError, "Transfer failed, please try again"
	default:
		return http.StatusInternalServerError, "Internal server error"
	}
}

// fail writes the response for err. Server-side failures are logged with
// their cause.
func (s *Server) fail(ctx context.Context, w http.ResponseWriter, err error) {
	status, msg := errorStatus(err)
	if status >= http.StatusInternalServerError {
		logging.FromContext(ctx, s.logger).Error("request failed",
			zap.Error(err),
			zap.String("kind", wallet.ClassifyError(err)),
		)
	}
	writeError(w, status, msg)
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Success: false, Message: msg})
}

// decode reads a JSON body into dst, limited to MaxBodyBytes.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxBodyBytes)

	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.Is(err, io.EOF):
			return badRequest("Request body is required")
		case errors.As(err, &maxErr):
			return badRequest("Request body too large")
		case errors.Is(err, money.ErrInvalid), errors.Is(err, money.ErrPrecision), errors.Is(err, money.ErrOverflow):
			return wallet.ErrInvalidAmount
		default:
			return badRequest("Invalid request body")
		}
	}
	if dec.More() {
		return badRequest("Invalid request body")
	}
	return nil
}
