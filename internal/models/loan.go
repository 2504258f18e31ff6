package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type LoanStatus string

const (
	LoanStatusPending   LoanStatus = "PENDING"
	LoanStatusActive    LoanStatus = "ACTIVE"
	LoanStatusPaid      LoanStatus = "PAID"
	LoanStatusDefaulted LoanStatus = "DEFAULTED"
)

type LoanPurpose string

const (
	LoanPurposeSeeds      LoanPurpose = "SEEDS"
	LoanPurposeFertilizer LoanPurpose = "FERTILIZER"
	LoanPurposeEquipment  LoanPurpose = "EQUIPMENT"
	LoanPurposeIrrigation LoanPurpose = "IRRIGATION"
	LoanPurposeExpansion  LoanPurpose = "EXPANSION"
	LoanPurposeEmergency  LoanPurpose = "EMERGENCY"
	LoanPurposeOther      LoanPurpose = "OTHER"
)

func (p LoanPurpose) Valid() bool {
	switch p {
	case LoanPurposeSeeds, LoanPurposeFertilizer, LoanPurposeEquipment, LoanPurposeIrrigation,
		LoanPurposeExpansion, LoanPurposeEmergency, LoanPurposeOther:
		return true
	}
	return false
}

type Loan struct {
	ID              string              `json:"id"`
	WalletID        string              `json:"wallet_id"`
	Amount          decimal.Decimal     `json:"amount"`
	InterestRate    decimal.Decimal     `json:"interest_rate"`
	TotalDue        decimal.Decimal     `json:"total_due"`
	PaidAmount      decimal.Decimal     `json:"paid_amount"`
	TermMonths      int                 `json:"term_months"`
	StartDate       time.Time           `json:"start_date"`
	DueDate         time.Time           `json:"due_date"`
	Purpose         LoanPurpose         `json:"purpose"`
	PurposeDetails  *string             `json:"purpose_details,omitempty"`
	CollateralType  *string             `json:"collateral_type,omitempty"`
	CollateralValue decimal.NullDecimal `json:"collateral_value"`
	Status          LoanStatus          `json:"status"`
	CreatedAt       time.Time           `json:"created_at"`
	UpdatedAt       time.Time           `json:"updated_at"`
}

// Remaining is what is still owed on the loan.
func (l *Loan) Remaining() decimal.Decimal {
	r := l.TotalDue.Sub(l.PaidAmount)
	if r.IsNegative() {
		return decimal.Zero
	}
	return r
}

type LoanRequest struct {
	WalletID        string              `json:"wallet_id"`
	Amount          decimal.Decimal     `json:"amount"`
	TermMonths      int                 `json:"term_months"`
	Purpose         LoanPurpose         `json:"purpose"`
	PurposeDetails  string              `json:"purpose_details"`
	CollateralType  string              `json:"collateral_type"`
	CollateralValue decimal.NullDecimal `json:"collateral_value"`
}

type LoanResult struct {
	Loan        *Loan        `json:"loan"`
	Wallet      *Wallet      `json:"wallet,omitempty"`
	Transaction *Transaction `json:"transaction,omitempty"`
	FullyPaid   bool         `json:"fully_paid"`
	Duplicate   bool         `json:"duplicate"`
}
