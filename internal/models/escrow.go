package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type EscrowStatus string

const (
	EscrowStatusHeld     EscrowStatus = "HELD"
	EscrowStatusReleased EscrowStatus = "RELEASED"
	EscrowStatusRefunded EscrowStatus = "REFUNDED"
	EscrowStatusDisputed EscrowStatus = "DISPUTED"
)

// IsTerminal reports whether no further transition is allowed.
func (s EscrowStatus) IsTerminal() bool {
	return s == EscrowStatusReleased || s == EscrowStatusRefunded
}

// CanRelease and CanRefund encode the escrow state machine.
func (s EscrowStatus) CanRelease() bool {
	return s == EscrowStatusHeld || s == EscrowStatusDisputed
}

func (s EscrowStatus) CanRefund() bool {
	return s == EscrowStatusHeld || s == EscrowStatusDisputed
}

type Escrow struct {
	ID             string          `json:"id"`
	OrderID        string          `json:"order_id"`
	BuyerWalletID  string          `json:"buyer_wallet_id"`
	SellerWalletID string          `json:"seller_wallet_id"`
	Amount         decimal.Decimal `json:"amount"`
	Status         EscrowStatus    `json:"status"`
	ReleasedAt     *time.Time      `json:"released_at,omitempty"`
	RefundedAt     *time.Time      `json:"refunded_at,omitempty"`
	DisputeReason  *string         `json:"dispute_reason,omitempty"`
	Notes          *string         `json:"notes,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

type CreateEscrowRequest struct {
	OrderID        string          `json:"order_id"`
	BuyerWalletID  string          `json:"buyer_wallet_id"`
	SellerWalletID string          `json:"seller_wallet_id"`
	Amount         decimal.Decimal `json:"amount"`
	Notes          string          `json:"notes"`
}

type EscrowResult struct {
	Escrow       *Escrow        `json:"escrow"`
	Buyer        *Wallet        `json:"buyer"`
	Seller       *Wallet        `json:"seller,omitempty"`
	Transactions []*Transaction `json:"transactions"`
	Duplicate    bool           `json:"duplicate"`
}
