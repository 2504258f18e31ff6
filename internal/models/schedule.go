package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type PaymentFrequency string

const (
	FrequencyDaily     PaymentFrequency = "DAILY"
	FrequencyWeekly    PaymentFrequency = "WEEKLY"
	FrequencyBiweekly  PaymentFrequency = "BIWEEKLY"
	FrequencyMonthly   PaymentFrequency = "MONTHLY"
	FrequencyQuarterly PaymentFrequency = "QUARTERLY"
	FrequencyYearly    PaymentFrequency = "YEARLY"
)

func (f PaymentFrequency) Valid() bool {
	switch f {
	case FrequencyDaily, FrequencyWeekly, FrequencyBiweekly, FrequencyMonthly, FrequencyQuarterly, FrequencyYearly:
		return true
	}
	return false
}

// Next advances t by one canonical step of the frequency.
func (f PaymentFrequency) Next(t time.Time) time.Time {
	switch f {
	case FrequencyDaily:
		return t.AddDate(0, 0, 1)
	case FrequencyWeekly:
		return t.AddDate(0, 0, 7)
	case FrequencyBiweekly:
		return t.AddDate(0, 0, 14)
	case FrequencyMonthly:
		return t.AddDate(0, 1, 0)
	case FrequencyQuarterly:
		return t.AddDate(0, 3, 0)
	case FrequencyYearly:
		return t.AddDate(1, 0, 0)
	}
	return t
}

type ScheduledPayment struct {
	ID                string           `json:"id"`
	WalletID          string           `json:"wallet_id"`
	LoanID            *string          `json:"loan_id,omitempty"`
	Amount            decimal.Decimal  `json:"amount"`
	Frequency         PaymentFrequency `json:"frequency"`
	NextPaymentDate   time.Time        `json:"next_payment_date"`
	LastPaymentDate   *time.Time       `json:"last_payment_date,omitempty"`
	IsActive          bool             `json:"is_active"`
	FailedAttempts    int              `json:"failed_attempts"`
	LastFailureReason *string          `json:"last_failure_reason,omitempty"`
	Description       string           `json:"description"`
	DescriptionAr     string           `json:"description_ar"`
	CreatedAt         time.Time        `json:"created_at"`
	UpdatedAt         time.Time        `json:"updated_at"`
}

type ScheduledPaymentRequest struct {
	WalletID        string           `json:"wallet_id"`
	LoanID          string           `json:"loan_id"`
	Amount          decimal.Decimal  `json:"amount"`
	Frequency       PaymentFrequency `json:"frequency"`
	NextPaymentDate *time.Time       `json:"next_payment_date"`
	Description     string           `json:"description"`
	DescriptionAr   string           `json:"description_ar"`
}

type ScheduledPaymentResult struct {
	Payment     *ScheduledPayment `json:"payment"`
	Wallet      *Wallet           `json:"wallet"`
	Transaction *Transaction      `json:"transaction"`
	Duplicate   bool              `json:"duplicate"`
}
