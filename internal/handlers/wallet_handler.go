package handlers

import (
	"net/http"

	"agri-ledger/internal/finance"
	"agri-ledger/internal/middleware"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

type WalletHandler struct {
	base
}

func NewWalletHandler(f *finance.Facade, logger zerolog.Logger) *WalletHandler {
	return &WalletHandler{base{finance: f, logger: logger.With().Str("handler", "wallet").Logger()}}
}

type MoneyRequest struct {
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
	Pin         string          `json:"pin,omitempty"`
}

type PinRequest struct {
	Pin string `json:"pin"`
}

// GetMyWallet returns the caller's wallet, opening it on first use.
func (h *WalletHandler) GetMyWallet(w http.ResponseWriter, r *http.Request) {
	userID, ok := subjectUser(r)
	if !ok {
		h.respondWithError(w, http.StatusUnauthorized, "unauthorized", "User not authenticated")
		return
	}

	wallet, err := h.finance.GetWallet(r.Context(), userID, r.URL.Query().Get("user_type"))
	if err != nil {
		h.respondWithAppError(w, r, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, wallet)
}

func (h *WalletHandler) GetWallet(w http.ResponseWriter, r *http.Request) {
	wallet, ok := h.ownedWallet(w, r, mux.Vars(r)["id"])
	if !ok {
		return
	}
	h.respondWithJSON(w, http.StatusOK, wallet)
}

func (h *WalletHandler) Deposit(w http.ResponseWriter, r *http.Request) {
	walletID := mux.Vars(r)["id"]
	if _, ok := h.ownedWallet(w, r, walletID); !ok {
		return
	}

	var req MoneyRequest
	if !h.decode(w, r, &req) {
		return
	}

	res, err := h.finance.Deposit(r.Context(), walletID, req.Amount, moneyOptions(r, req.Description))
	if err != nil {
		h.respondWithAppError(w, r, err)
		return
	}
	h.respondWithJSON(w, statusFor(res.Duplicate), res)
}

func (h *WalletHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	walletID := mux.Vars(r)["id"]
	if _, ok := h.ownedWallet(w, r, walletID); !ok {
		return
	}

	var req MoneyRequest
	if !h.decode(w, r, &req) {
		return
	}

	opts := moneyOptions(r, req.Description)
	opts.Pin = req.Pin
	res, err := h.finance.Withdraw(r.Context(), walletID, req.Amount, opts)
	if err != nil {
		h.respondWithAppError(w, r, err)
		return
	}
	h.respondWithJSON(w, statusFor(res.Duplicate), res)
}

func (h *WalletHandler) GetTransactions(w http.ResponseWriter, r *http.Request) {
	walletID := mux.Vars(r)["id"]
	if _, ok := h.ownedWallet(w, r, walletID); !ok {
		return
	}

	txs, err := h.finance.GetTransactions(r.Context(), walletID, queryInt(r, "limit", 0))
	if err != nil {
		h.respondWithAppError(w, r, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, txs)
}

func (h *WalletHandler) GetLimits(w http.ResponseWriter, r *http.Request) {
	walletID := mux.Vars(r)["id"]
	if _, ok := h.ownedWallet(w, r, walletID); !ok {
		return
	}

	limits, err := h.finance.GetWalletLimits(r.Context(), walletID)
	if err != nil {
		h.respondWithAppError(w, r, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, limits)
}

// SyncLimits is admin only; it rewrites the tier limits from the current score.
func (h *WalletHandler) SyncLimits(w http.ResponseWriter, r *http.Request) {
	limits, err := h.finance.UpdateWalletLimits(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.respondWithAppError(w, r, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, limits)
}

func (h *WalletHandler) SetPin(w http.ResponseWriter, r *http.Request) {
	walletID := mux.Vars(r)["id"]
	view, ok := h.ownedWallet(w, r, walletID)
	if !ok {
		return
	}
	// Admins may inspect any wallet but only the holder sets its PIN.
	if userID, _ := middleware.GetUserID(r); view.UserID != userID {
		h.respondWithError(w, http.StatusForbidden, "forbidden", "Only the wallet holder can set a PIN")
		return
	}

	var req PinRequest
	if !h.decode(w, r, &req) {
		return
	}

	if err := h.finance.SetWalletPin(r.Context(), walletID, req.Pin); err != nil {
		h.respondWithAppError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *WalletHandler) GetDashboard(w http.ResponseWriter, r *http.Request) {
	walletID := mux.Vars(r)["id"]
	if _, ok := h.ownedWallet(w, r, walletID); !ok {
		return
	}

	dash, err := h.finance.GetWalletDashboard(r.Context(), walletID)
	if err != nil {
		h.respondWithAppError(w, r, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, dash)
}

func (h *WalletHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.finance.GetFinanceStats(r.Context())
	if err != nil {
		h.respondWithAppError(w, r, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, stats)
}
