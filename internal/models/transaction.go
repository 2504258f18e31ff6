package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type TransactionType string

const (
	TransactionTypeDeposit          TransactionType = "DEPOSIT"
	TransactionTypeWithdrawal       TransactionType = "WITHDRAWAL"
	TransactionTypeLoan             TransactionType = "LOAN"
	TransactionTypeRepayment        TransactionType = "REPAYMENT"
	TransactionTypeEscrowHold       TransactionType = "ESCROW_HOLD"
	TransactionTypeEscrowRelease    TransactionType = "ESCROW_RELEASE"
	TransactionTypeEscrowRefund     TransactionType = "ESCROW_REFUND"
	TransactionTypeMarketplaceSale  TransactionType = "MARKETPLACE_SALE"
	TransactionTypeScheduledPayment TransactionType = "SCHEDULED_PAYMENT"
)

type TransactionStatus string

const TransactionStatusCompleted TransactionStatus = "COMPLETED"

const (
	ReferenceTypeEscrow   = "ESCROW"
	ReferenceTypeLoan     = "LOAN"
	ReferenceTypeSchedule = "SCHEDULED_PAYMENT"
)

// Transaction is an immutable ledger row. Amount is signed: positive credits the wallet.
type Transaction struct {
	ID             string            `json:"id"`
	WalletID       string            `json:"wallet_id"`
	Type           TransactionType   `json:"type"`
	Amount         decimal.Decimal   `json:"amount"`
	BalanceBefore  decimal.Decimal   `json:"balance_before"`
	BalanceAfter   decimal.Decimal   `json:"balance_after"`
	ReferenceID    *string           `json:"reference_id,omitempty"`
	ReferenceType  *string           `json:"reference_type,omitempty"`
	Description    string            `json:"description"`
	DescriptionAr  string            `json:"description_ar"`
	Status         TransactionStatus `json:"status"`
	IdempotencyKey *string           `json:"idempotency_key,omitempty"`
	UserID         *string           `json:"user_id,omitempty"`
	IPAddress      *string           `json:"ip_address,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

// Actor identifies who triggered a money movement.
type Actor struct {
	UserID    string
	IPAddress string
}

// MoneyOptions are the optional arguments every balance-changing operation accepts.
type MoneyOptions struct {
	Description    string
	IdempotencyKey string
	Actor          Actor
	// Pin is checked only for withdrawals above the wallet's PIN threshold.
	Pin string
}

type WalletResult struct {
	Wallet      *Wallet      `json:"wallet"`
	Transaction *Transaction `json:"transaction"`
	Duplicate   bool         `json:"duplicate"`
}
