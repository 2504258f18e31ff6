package handlers

import (
	"net/http"
	"strconv"

	"agri-ledger/internal/finance"
	"agri-ledger/internal/models"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
)

type ScheduleHandler struct {
	base
}

func NewScheduleHandler(f *finance.Facade, logger zerolog.Logger) *ScheduleHandler {
	return &ScheduleHandler{base{finance: f, logger: logger.With().Str("handler", "schedule").Logger()}}
}

func (h *ScheduleHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req models.ScheduledPaymentRequest
	if !h.decode(w, r, &req) {
		return
	}
	if _, ok := h.ownedWallet(w, r, req.WalletID); !ok {
		return
	}

	payment, err := h.finance.CreateScheduledPayment(r.Context(), req)
	if err != nil {
		h.respondWithAppError(w, r, err)
		return
	}
	h.respondWithJSON(w, http.StatusCreated, payment)
}

func (h *ScheduleHandler) ListForWallet(w http.ResponseWriter, r *http.Request) {
	walletID := mux.Vars(r)["id"]
	if _, ok := h.ownedWallet(w, r, walletID); !ok {
		return
	}

	activeOnly, _ := strconv.ParseBool(r.URL.Query().Get("active"))
	payments, err := h.finance.GetScheduledPayments(r.Context(), walletID, activeOnly)
	if err != nil {
		h.respondWithAppError(w, r, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, payments)
}

func (h *ScheduleHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	payment, ok := h.ownedPayment(w, r)
	if !ok {
		return
	}

	cancelled, err := h.finance.CancelScheduledPayment(r.Context(), payment.ID)
	if err != nil {
		h.respondWithAppError(w, r, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, cancelled)
}

// Execute runs the current occurrence now. The scheduler would otherwise pick it up when due.
func (h *ScheduleHandler) Execute(w http.ResponseWriter, r *http.Request) {
	payment, ok := h.ownedPayment(w, r)
	if !ok {
		return
	}

	res, err := h.finance.ExecuteScheduledPayment(r.Context(), payment.ID, moneyOptions(r, ""))
	if err != nil {
		h.respondWithAppError(w, r, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, res)
}

func (h *ScheduleHandler) ownedPayment(w http.ResponseWriter, r *http.Request) (*models.ScheduledPayment, bool) {
	payment, err := h.finance.GetScheduledPayment(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.respondWithAppError(w, r, err)
		return nil, false
	}
	if _, ok := h.ownedWallet(w, r, payment.WalletID); !ok {
		return nil, false
	}
	return payment, true
}
