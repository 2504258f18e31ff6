package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"agri-ledger/internal/apperr"
	"agri-ledger/internal/finance"
	"agri-ledger/internal/middleware"
	"agri-ledger/internal/models"

	"github.com/rs/zerolog"
)

type ErrorResponse struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	MessageAr string `json:"message_ar,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
}

// base carries what every ledger handler needs.
type base struct {
	finance *finance.Facade
	logger  zerolog.Logger
}

var errorCodes = []struct {
	kind   error
	status int
	code   string
}{
	{apperr.ErrInvalidAmount, http.StatusBadRequest, "invalid_amount"},
	{apperr.ErrInvalidInput, http.StatusBadRequest, "invalid_input"},
	{apperr.ErrNotFound, http.StatusNotFound, "not_found"},
	{apperr.ErrInsufficientFunds, http.StatusUnprocessableEntity, "insufficient_funds"},
	{apperr.ErrInsufficientEscrow, http.StatusUnprocessableEntity, "insufficient_escrow"},
	{apperr.ErrLimitExceeded, http.StatusUnprocessableEntity, "limit_exceeded"},
	{apperr.ErrIllegalState, http.StatusConflict, "illegal_state"},
	{apperr.ErrDuplicate, http.StatusConflict, "duplicate"},
	{apperr.ErrVersionConflict, http.StatusConflict, "version_conflict"},
	{apperr.ErrTimeout, http.StatusServiceUnavailable, "timeout"},
	{apperr.ErrPinRequired, http.StatusForbidden, "pin_required"},
	{apperr.ErrForbidden, http.StatusForbidden, "forbidden"},
}

// respondWithAppError maps a ledger error to its status. Anything unclassified is logged and
// answered with a generic body so store details never reach the caller.
func (h *base) respondWithAppError(w http.ResponseWriter, r *http.Request, err error) {
	for _, e := range errorCodes {
		if !errors.Is(err, e.kind) {
			continue
		}
		msg, msgAr, ok := apperr.Messages(err)
		if !ok {
			msg = e.kind.Error()
		}
		if e.status >= http.StatusInternalServerError {
			h.logger.Warn().Err(err).Str("path", r.URL.Path).Msg("Ledger operation timed out")
		}
		h.respondWithJSON(w, e.status, ErrorResponse{
			Error:     e.code,
			Message:   msg,
			MessageAr: msgAr,
			Retryable: apperr.IsRetryable(err),
		})
		return
	}

	h.logger.Error().Err(err).Str("path", r.URL.Path).Msg("Unhandled ledger error")
	h.respondWithError(w, http.StatusInternalServerError, "internal_error", "An internal error occurred")
}

func (h *base) respondWithError(w http.ResponseWriter, code int, errorCode, message string) {
	h.respondWithJSON(w, code, ErrorResponse{Error: errorCode, Message: message})
}

func (h *base) respondWithJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Error().Err(err).Msg("Failed to encode response")
	}
}

func (h *base) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		h.respondWithError(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return false
	}
	return true
}

// decodeOptional accepts an empty body and leaves dst untouched.
func (h *base) decodeOptional(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		h.respondWithError(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return false
	}
	return true
}

// moneyOptions carries the caller identity and the Idempotency-Key header into a movement.
func moneyOptions(r *http.Request, description string) models.MoneyOptions {
	userID, _ := middleware.GetUserID(r)
	return models.MoneyOptions{
		Description:    description,
		IdempotencyKey: r.Header.Get("Idempotency-Key"),
		Actor: models.Actor{
			UserID:    userID,
			IPAddress: middleware.ClientIP(r),
		},
	}
}

// ownedWallet loads a wallet and checks the caller holds it. Admins pass for any wallet.
func (h *base) ownedWallet(w http.ResponseWriter, r *http.Request, walletID string) (*models.WalletView, bool) {
	userID, ok := middleware.GetUserID(r)
	if !ok {
		h.respondWithError(w, http.StatusUnauthorized, "unauthorized", "User not authenticated")
		return nil, false
	}
	view, err := h.finance.GetWalletByID(r.Context(), walletID)
	if err != nil {
		h.respondWithAppError(w, r, err)
		return nil, false
	}
	if view.UserID != userID && !middleware.IsAdmin(r) {
		h.respondWithAppError(w, r, apperr.Forbidden())
		return nil, false
	}
	return view, true
}

// subjectUser is the caller, or the user_id query parameter when an admin asks.
func subjectUser(r *http.Request) (string, bool) {
	if uid := r.URL.Query().Get("user_id"); uid != "" && middleware.IsAdmin(r) {
		return uid, true
	}
	return middleware.GetUserID(r)
}

func queryInt(r *http.Request, key string, fallback int) int {
	v, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil || v <= 0 {
		return fallback
	}
	return v
}

func statusFor(duplicate bool) int {
	if duplicate {
		return http.StatusOK
	}
	return http.StatusCreated
}
