package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type DashboardSummary struct {
	TotalDeposits     decimal.Decimal `json:"total_deposits"`
	TotalWithdrawals  decimal.Decimal `json:"total_withdrawals"`
	TotalSales        decimal.Decimal `json:"total_sales"`
	HeldInEscrow      decimal.Decimal `json:"held_in_escrow"`
	ActiveEscrows     int             `json:"active_escrows"`
	ActiveLoans       int             `json:"active_loans"`
	OutstandingLoan   decimal.Decimal `json:"outstanding_loan"`
	PendingSchedules  int             `json:"pending_schedules"`
	NextScheduledDate *time.Time      `json:"next_scheduled_date,omitempty"`
}

type CashflowPoint struct {
	Date    string          `json:"date"`
	Inflow  decimal.Decimal `json:"inflow"`
	Outflow decimal.Decimal `json:"outflow"`
}

type WalletDashboard struct {
	Wallet             *WalletView      `json:"wallet"`
	Summary            DashboardSummary `json:"summary"`
	Limits             *WalletLimits    `json:"limits"`
	MonthlyChart       []CashflowPoint  `json:"monthly_chart"`
	RecentTransactions []*Transaction   `json:"recent_transactions"`
}

type FinanceStats struct {
	TotalWallets   int             `json:"total_wallets"`
	TotalBalance   decimal.Decimal `json:"total_balance"`
	TotalEscrow    decimal.Decimal `json:"total_escrow"`
	ActiveLoans    int             `json:"active_loans"`
	PaidLoans      int             `json:"paid_loans"`
	AvgCreditScore float64         `json:"avg_credit_score"`
}
