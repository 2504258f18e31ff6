package handlers

import (
	"net/http"

	"agri-ledger/internal/finance"
	"agri-ledger/internal/models"

	"github.com/rs/zerolog"
)

type CreditHandler struct {
	base
}

func NewCreditHandler(f *finance.Facade, logger zerolog.Logger) *CreditHandler {
	return &CreditHandler{base{finance: f, logger: logger.With().Str("handler", "credit").Logger()}}
}

// Score and AdvancedScore persist a score from posted inputs, so they sit behind the admin
// role gate and target the user named by the user_id query parameter.
func (h *CreditHandler) Score(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.targetUser(w, r)
	if !ok {
		return
	}

	var farm models.FarmData
	if !h.decode(w, r, &farm) {
		return
	}

	res, err := h.finance.CalculateCreditScore(r.Context(), userID, farm, moneyOptions(r, ""))
	if err != nil {
		h.respondWithAppError(w, r, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, res)
}

// AdvancedScore scores the posted factors, or the ones derived from the ledger when the
// body is empty.
func (h *CreditHandler) AdvancedScore(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.targetUser(w, r)
	if !ok {
		return
	}

	var factors *models.CreditFactors
	if !h.decodeOptional(w, r, &factors) {
		return
	}
	if factors == nil {
		derived, err := h.finance.GetCreditFactors(r.Context(), userID)
		if err != nil {
			h.respondWithAppError(w, r, err)
			return
		}
		factors = derived
	}

	res, err := h.finance.CalculateAdvancedCreditScore(r.Context(), userID, *factors, moneyOptions(r, ""))
	if err != nil {
		h.respondWithAppError(w, r, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, res)
}

func (h *CreditHandler) Factors(w http.ResponseWriter, r *http.Request) {
	userID, ok := subjectUser(r)
	if !ok {
		h.respondWithError(w, http.StatusUnauthorized, "unauthorized", "User not authenticated")
		return
	}

	factors, err := h.finance.GetCreditFactors(r.Context(), userID)
	if err != nil {
		h.respondWithAppError(w, r, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, factors)
}

func (h *CreditHandler) Report(w http.ResponseWriter, r *http.Request) {
	userID, ok := subjectUser(r)
	if !ok {
		h.respondWithError(w, http.StatusUnauthorized, "unauthorized", "User not authenticated")
		return
	}

	report, err := h.finance.GetCreditReport(r.Context(), userID)
	if err != nil {
		h.respondWithAppError(w, r, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, report)
}

// RecordEvent is admin only; marketplace services report order and verification outcomes here.
func (h *CreditHandler) RecordEvent(w http.ResponseWriter, r *http.Request) {
	var req models.CreditEventRequest
	if !h.decode(w, r, &req) {
		return
	}

	res, err := h.finance.RecordCreditEvent(r.Context(), req, moneyOptions(r, req.Description))
	if err != nil {
		h.respondWithAppError(w, r, err)
		return
	}
	h.respondWithJSON(w, http.StatusCreated, res)
}

func (h *CreditHandler) targetUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		h.respondWithError(w, http.StatusBadRequest, "invalid_request", "user_id query parameter is required")
		return "", false
	}
	return userID, true
}
