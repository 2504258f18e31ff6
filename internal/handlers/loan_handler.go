package handlers

import (
	"net/http"

	"agri-ledger/internal/finance"
	"agri-ledger/internal/models"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
)

type LoanHandler struct {
	base
}

func NewLoanHandler(f *finance.Facade, logger zerolog.Logger) *LoanHandler {
	return &LoanHandler{base{finance: f, logger: logger.With().Str("handler", "loan").Logger()}}
}

func (h *LoanHandler) Request(w http.ResponseWriter, r *http.Request) {
	var req models.LoanRequest
	if !h.decode(w, r, &req) {
		return
	}
	if _, ok := h.ownedWallet(w, r, req.WalletID); !ok {
		return
	}

	loan, err := h.finance.RequestLoan(r.Context(), req)
	if err != nil {
		h.respondWithAppError(w, r, err)
		return
	}
	h.respondWithJSON(w, http.StatusCreated, loan)
}

func (h *LoanHandler) Get(w http.ResponseWriter, r *http.Request) {
	loan, ok := h.ownedLoan(w, r)
	if !ok {
		return
	}
	h.respondWithJSON(w, http.StatusOK, loan)
}

func (h *LoanHandler) ListForWallet(w http.ResponseWriter, r *http.Request) {
	walletID := mux.Vars(r)["id"]
	if _, ok := h.ownedWallet(w, r, walletID); !ok {
		return
	}

	loans, err := h.finance.GetUserLoans(r.Context(), walletID)
	if err != nil {
		h.respondWithAppError(w, r, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, loans)
}

func (h *LoanHandler) Repay(w http.ResponseWriter, r *http.Request) {
	loan, ok := h.ownedLoan(w, r)
	if !ok {
		return
	}

	var req MoneyRequest
	if !h.decode(w, r, &req) {
		return
	}

	res, err := h.finance.RepayLoan(r.Context(), loan.ID, req.Amount, moneyOptions(r, req.Description))
	if err != nil {
		h.respondWithAppError(w, r, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, res)
}

// Approve and Default sit behind the admin role gate.
func (h *LoanHandler) Approve(w http.ResponseWriter, r *http.Request) {
	res, err := h.finance.ApproveLoan(r.Context(), mux.Vars(r)["id"], moneyOptions(r, ""))
	if err != nil {
		h.respondWithAppError(w, r, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, res)
}

func (h *LoanHandler) Default(w http.ResponseWriter, r *http.Request) {
	var req ReasonRequest
	if !h.decodeOptional(w, r, &req) {
		return
	}

	res, err := h.finance.MarkLoanDefaulted(r.Context(), mux.Vars(r)["id"], req.Reason, moneyOptions(r, ""))
	if err != nil {
		h.respondWithAppError(w, r, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, res)
}

func (h *LoanHandler) ownedLoan(w http.ResponseWriter, r *http.Request) (*models.Loan, bool) {
	loan, err := h.finance.GetLoan(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.respondWithAppError(w, r, err)
		return nil, false
	}
	if _, ok := h.ownedWallet(w, r, loan.WalletID); !ok {
		return nil, false
	}
	return loan, true
}
