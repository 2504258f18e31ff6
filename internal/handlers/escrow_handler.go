package handlers

import (
	"net/http"

	"agri-ledger/internal/finance"
	"agri-ledger/internal/middleware"
	"agri-ledger/internal/models"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
)

type EscrowHandler struct {
	base
}

func NewEscrowHandler(f *finance.Facade, logger zerolog.Logger) *EscrowHandler {
	return &EscrowHandler{base{finance: f, logger: logger.With().Str("handler", "escrow").Logger()}}
}

type ReasonRequest struct {
	Reason string `json:"reason"`
}

type NotesRequest struct {
	Notes string `json:"notes"`
}

// Create holds funds from the caller's wallet for an order.
func (h *EscrowHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req models.CreateEscrowRequest
	if !h.decode(w, r, &req) {
		return
	}
	if _, ok := h.ownedWallet(w, r, req.BuyerWalletID); !ok {
		return
	}

	res, err := h.finance.CreateEscrow(r.Context(), req, moneyOptions(r, ""))
	if err != nil {
		h.respondWithAppError(w, r, err)
		return
	}
	h.respondWithJSON(w, statusFor(res.Duplicate), res)
}

func (h *EscrowHandler) Get(w http.ResponseWriter, r *http.Request) {
	escrow, ok := h.partyEscrow(w, r, false, false)
	if !ok {
		return
	}
	h.respondWithJSON(w, http.StatusOK, escrow)
}

func (h *EscrowHandler) GetByOrder(w http.ResponseWriter, r *http.Request) {
	escrow, err := h.finance.GetEscrowByOrder(r.Context(), mux.Vars(r)["orderId"])
	if err != nil {
		h.respondWithAppError(w, r, err)
		return
	}
	if !h.isParty(r, escrow, true, true) {
		h.respondWithError(w, http.StatusForbidden, "forbidden", "Not a party to this escrow")
		return
	}
	h.respondWithJSON(w, http.StatusOK, escrow)
}

func (h *EscrowHandler) ListForWallet(w http.ResponseWriter, r *http.Request) {
	walletID := mux.Vars(r)["id"]
	if _, ok := h.ownedWallet(w, r, walletID); !ok {
		return
	}

	escrows, err := h.finance.GetWalletEscrows(r.Context(), walletID)
	if err != nil {
		h.respondWithAppError(w, r, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, escrows)
}

// Release is confirmed by the buyer once goods arrive.
func (h *EscrowHandler) Release(w http.ResponseWriter, r *http.Request) {
	escrow, ok := h.partyEscrow(w, r, true, false)
	if !ok {
		return
	}

	var req NotesRequest
	if !h.decodeOptional(w, r, &req) {
		return
	}

	res, err := h.finance.ReleaseEscrow(r.Context(), escrow.ID, req.Notes, moneyOptions(r, ""))
	if err != nil {
		h.respondWithAppError(w, r, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, res)
}

// Refund is granted by the seller.
func (h *EscrowHandler) Refund(w http.ResponseWriter, r *http.Request) {
	escrow, ok := h.partyEscrow(w, r, false, true)
	if !ok {
		return
	}

	var req ReasonRequest
	if !h.decodeOptional(w, r, &req) {
		return
	}

	res, err := h.finance.RefundEscrow(r.Context(), escrow.ID, req.Reason, moneyOptions(r, ""))
	if err != nil {
		h.respondWithAppError(w, r, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, res)
}

func (h *EscrowHandler) Dispute(w http.ResponseWriter, r *http.Request) {
	escrow, ok := h.partyEscrow(w, r, true, true)
	if !ok {
		return
	}

	var req ReasonRequest
	if !h.decode(w, r, &req) {
		return
	}

	updated, err := h.finance.DisputeEscrow(r.Context(), escrow.ID, req.Reason)
	if err != nil {
		h.respondWithAppError(w, r, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, updated)
}

// partyEscrow loads the escrow in the path and checks the caller may act on it. With neither
// side flag set any party may read it.
func (h *EscrowHandler) partyEscrow(w http.ResponseWriter, r *http.Request, buyer, seller bool) (*models.Escrow, bool) {
	escrow, err := h.finance.GetEscrow(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.respondWithAppError(w, r, err)
		return nil, false
	}
	if !buyer && !seller {
		buyer, seller = true, true
	}
	if !h.isParty(r, escrow, buyer, seller) {
		h.respondWithError(w, http.StatusForbidden, "forbidden", "Not allowed to act on this escrow")
		return nil, false
	}
	return escrow, true
}

func (h *EscrowHandler) isParty(r *http.Request, escrow *models.Escrow, buyer, seller bool) bool {
	if middleware.IsAdmin(r) {
		return true
	}
	userID, ok := middleware.GetUserID(r)
	if !ok {
		return false
	}
	holds := func(walletID string) bool {
		view, err := h.finance.GetWalletByID(r.Context(), walletID)
		return err == nil && view.UserID == userID
	}
	return (buyer && holds(escrow.BuyerWalletID)) || (seller && holds(escrow.SellerWalletID))
}
