package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type CreditTier string

const (
	TierBronze   CreditTier = "BRONZE"
	TierSilver   CreditTier = "SILVER"
	TierGold     CreditTier = "GOLD"
	TierPlatinum CreditTier = "PLATINUM"
)

const (
	MinCreditScore = 300
	MaxCreditScore = 850
)

type Wallet struct {
	ID                     string          `json:"id"`
	UserID                 string          `json:"user_id"`
	UserType               string          `json:"user_type"`
	Balance                decimal.Decimal `json:"balance"`
	EscrowBalance          decimal.Decimal `json:"escrow_balance"`
	CreditScore            int             `json:"credit_score"`
	CreditTier             CreditTier      `json:"credit_tier"`
	LoanLimit              decimal.Decimal `json:"loan_limit"`
	CurrentLoan            decimal.Decimal `json:"current_loan"`
	DailyWithdrawLimit     decimal.Decimal `json:"daily_withdraw_limit"`
	SingleTransactionLimit decimal.Decimal `json:"single_transaction_limit"`
	RequiresPinForAmount   decimal.Decimal `json:"requires_pin_for_amount"`
	DailyWithdrawnToday    decimal.Decimal `json:"daily_withdrawn_today"`
	LastWithdrawReset      time.Time       `json:"last_withdraw_reset"`
	IsVerified             bool            `json:"is_verified"`
	PinHash                string          `json:"-"`
	Version                int64           `json:"version"`
	CreatedAt              time.Time       `json:"created_at"`
	UpdatedAt              time.Time       `json:"updated_at"`
}

// AvailableCredit is the unused part of the loan ceiling, never negative.
func (w *Wallet) AvailableCredit() decimal.Decimal {
	avail := w.LoanLimit.Sub(w.CurrentLoan)
	if avail.IsNegative() {
		return decimal.Zero
	}
	return avail
}

func (w *Wallet) HasPin() bool { return w.PinHash != "" }

// WalletView is a wallet decorated for display.
type WalletView struct {
	*Wallet
	TierName        string          `json:"tier_name"`
	TierNameAr      string          `json:"tier_name_ar"`
	AvailableCredit decimal.Decimal `json:"available_credit"`
}

type WalletLimits struct {
	WalletID               string          `json:"wallet_id"`
	CreditTier             CreditTier      `json:"credit_tier"`
	DailyWithdrawLimit     decimal.Decimal `json:"daily_withdraw_limit"`
	SingleTransactionLimit decimal.Decimal `json:"single_transaction_limit"`
	RequiresPinForAmount   decimal.Decimal `json:"requires_pin_for_amount"`
	DailyWithdrawnToday    decimal.Decimal `json:"daily_withdrawn_today"`
	RemainingToday         decimal.Decimal `json:"remaining_today"`
}
