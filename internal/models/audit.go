package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Audit operation tags.
const (
	AuditOpDeposit          = "DEPOSIT"
	AuditOpWithdraw         = "WITHDRAW"
	AuditOpEscrowHold       = "ESCROW_HOLD"
	AuditOpEscrowRelease    = "ESCROW_RELEASE"
	AuditOpEscrowCredit     = "ESCROW_SELLER_CREDIT"
	AuditOpEscrowRefund     = "ESCROW_REFUND"
	AuditOpLoanDisburse     = "LOAN_DISBURSE"
	AuditOpLoanRepay        = "LOAN_REPAY"
	AuditOpScheduledPayment = "SCHEDULED_PAYMENT"
	AuditOpCreditScore      = "CREDIT_SCORE_CHANGE"
	AuditOpLoanDefault      = "LOAN_DEFAULT"
)

// WalletAuditLog is append-only.
type WalletAuditLog struct {
	ID                  string           `json:"id"`
	WalletID            string           `json:"wallet_id"`
	TransactionID       *string          `json:"transaction_id,omitempty"`
	UserID              *string          `json:"user_id,omitempty"`
	Operation           string           `json:"operation"`
	BalanceBefore       decimal.Decimal  `json:"balance_before"`
	BalanceAfter        decimal.Decimal  `json:"balance_after"`
	Amount              decimal.Decimal  `json:"amount"`
	EscrowBalanceBefore *decimal.Decimal `json:"escrow_balance_before,omitempty"`
	EscrowBalanceAfter  *decimal.Decimal `json:"escrow_balance_after,omitempty"`
	VersionBefore       int64            `json:"version_before"`
	VersionAfter        int64            `json:"version_after"`
	IdempotencyKey      *string          `json:"idempotency_key,omitempty"`
	IPAddress           *string          `json:"ip_address,omitempty"`
	Metadata            Metadata         `json:"metadata,omitempty"`
	CreatedAt           time.Time        `json:"created_at"`
	UpdatedAt           time.Time        `json:"updated_at"`
}
