// Package finance is the single entry point external callers use for wallets, escrow,
// loans, scheduled payments and credit.
package finance

import (
	"context"
	"time"

	"agri-ledger/internal/models"
	"agri-ledger/internal/services"

	"github.com/shopspring/decimal"
)

type Facade struct {
	wallets   *services.WalletService
	escrows   *services.EscrowService
	loans     *services.LoanService
	schedules *services.ScheduleService
	credit    *services.CreditService
	dashboard *services.DashboardService
}

func NewFacade(ledger *services.Ledger, adminFeeRate decimal.Decimal, factors services.FactorSource) *Facade {
	wallets := services.NewWalletService(ledger)
	return &Facade{
		wallets:   wallets,
		escrows:   services.NewEscrowService(ledger),
		loans:     services.NewLoanService(ledger, adminFeeRate),
		schedules: services.NewScheduleService(ledger),
		credit:    services.NewCreditService(ledger, wallets, factors),
		dashboard: services.NewDashboardService(ledger, wallets),
	}
}

// Wallet

func (f *Facade) GetWallet(ctx context.Context, userID, userType string) (*models.WalletView, error) {
	return f.wallets.GetWallet(ctx, userID, userType)
}

func (f *Facade) GetWalletByID(ctx context.Context, walletID string) (*models.WalletView, error) {
	return f.wallets.GetWalletByID(ctx, walletID)
}

func (f *Facade) Deposit(ctx context.Context, walletID string, amount decimal.Decimal, opts models.MoneyOptions) (*models.WalletResult, error) {
	return f.wallets.Deposit(ctx, walletID, amount, opts)
}

func (f *Facade) Withdraw(ctx context.Context, walletID string, amount decimal.Decimal, opts models.MoneyOptions) (*models.WalletResult, error) {
	return f.wallets.Withdraw(ctx, walletID, amount, opts)
}

func (f *Facade) GetTransactions(ctx context.Context, walletID string, limit int) ([]*models.Transaction, error) {
	return f.wallets.GetTransactions(ctx, walletID, limit)
}

func (f *Facade) GetWalletLimits(ctx context.Context, walletID string) (*models.WalletLimits, error) {
	return f.wallets.GetWalletLimits(ctx, walletID)
}

func (f *Facade) UpdateWalletLimits(ctx context.Context, walletID string) (*models.WalletLimits, error) {
	return f.wallets.UpdateWalletLimits(ctx, walletID)
}

func (f *Facade) SetWalletPin(ctx context.Context, walletID, pin string) error {
	return f.wallets.SetWalletPin(ctx, walletID, pin)
}

func (f *Facade) GetWalletDashboard(ctx context.Context, walletID string) (*models.WalletDashboard, error) {
	return f.dashboard.GetWalletDashboard(ctx, walletID)
}

// Credit

func (f *Facade) CalculateCreditScore(ctx context.Context, userID string, farm models.FarmData, opts models.MoneyOptions) (*models.CreditScoreResult, error) {
	return f.credit.CalculateCreditScore(ctx, userID, farm, opts)
}

func (f *Facade) CalculateAdvancedCreditScore(ctx context.Context, userID string, factors models.CreditFactors, opts models.MoneyOptions) (*models.CreditScoreResult, error) {
	return f.credit.CalculateAdvancedCreditScore(ctx, userID, factors, opts)
}

func (f *Facade) GetCreditFactors(ctx context.Context, userID string) (*models.CreditFactors, error) {
	return f.credit.GetCreditFactors(ctx, userID)
}

func (f *Facade) RecordCreditEvent(ctx context.Context, req models.CreditEventRequest, opts models.MoneyOptions) (*models.CreditEventResult, error) {
	return f.credit.RecordCreditEvent(ctx, req, opts)
}

func (f *Facade) GetCreditReport(ctx context.Context, userID string) (*models.CreditReport, error) {
	return f.credit.GetCreditReport(ctx, userID)
}

// Loans

func (f *Facade) RequestLoan(ctx context.Context, req models.LoanRequest) (*models.Loan, error) {
	return f.loans.RequestLoan(ctx, req)
}

func (f *Facade) ApproveLoan(ctx context.Context, loanID string, opts models.MoneyOptions) (*models.LoanResult, error) {
	return f.loans.ApproveLoan(ctx, loanID, opts)
}

func (f *Facade) RepayLoan(ctx context.Context, loanID string, amount decimal.Decimal, opts models.MoneyOptions) (*models.LoanResult, error) {
	return f.loans.RepayLoan(ctx, loanID, amount, opts)
}

func (f *Facade) MarkLoanDefaulted(ctx context.Context, loanID, reason string, opts models.MoneyOptions) (*models.LoanResult, error) {
	return f.loans.MarkLoanDefaulted(ctx, loanID, reason, opts)
}

func (f *Facade) GetLoan(ctx context.Context, loanID string) (*models.Loan, error) {
	return f.loans.GetLoan(ctx, loanID)
}

func (f *Facade) GetUserLoans(ctx context.Context, walletID string) ([]*models.Loan, error) {
	return f.loans.GetUserLoans(ctx, walletID)
}

func (f *Facade) CreateScheduledPayment(ctx context.Context, req models.ScheduledPaymentRequest) (*models.ScheduledPayment, error) {
	return f.schedules.CreateScheduledPayment(ctx, req)
}

func (f *Facade) GetScheduledPayment(ctx context.Context, paymentID string) (*models.ScheduledPayment, error) {
	return f.schedules.GetScheduledPayment(ctx, paymentID)
}

func (f *Facade) GetScheduledPayments(ctx context.Context, walletID string, activeOnly bool) ([]*models.ScheduledPayment, error) {
	return f.schedules.GetScheduledPayments(ctx, walletID, activeOnly)
}

func (f *Facade) CancelScheduledPayment(ctx context.Context, paymentID string) (*models.ScheduledPayment, error) {
	return f.schedules.CancelScheduledPayment(ctx, paymentID)
}

func (f *Facade) ExecuteScheduledPayment(ctx context.Context, paymentID string, opts models.MoneyOptions) (*models.ScheduledPaymentResult, error) {
	return f.schedules.ExecuteScheduledPayment(ctx, paymentID, opts)
}

// Scheduler builds the background runner over this facade's scheduled payments.
func (f *Facade) Scheduler(interval time.Duration, workers int) *services.Scheduler {
	return services.NewScheduler(f.schedules, interval, workers)
}

// Escrow

func (f *Facade) CreateEscrow(ctx context.Context, req models.CreateEscrowRequest, opts models.MoneyOptions) (*models.EscrowResult, error) {
	return f.escrows.CreateEscrow(ctx, req, opts)
}

func (f *Facade) ReleaseEscrow(ctx context.Context, escrowID, notes string, opts models.MoneyOptions) (*models.EscrowResult, error) {
	return f.escrows.ReleaseEscrow(ctx, escrowID, notes, opts)
}

func (f *Facade) RefundEscrow(ctx context.Context, escrowID, reason string, opts models.MoneyOptions) (*models.EscrowResult, error) {
	return f.escrows.RefundEscrow(ctx, escrowID, reason, opts)
}

func (f *Facade) DisputeEscrow(ctx context.Context, escrowID, reason string) (*models.Escrow, error) {
	return f.escrows.DisputeEscrow(ctx, escrowID, reason)
}

func (f *Facade) GetEscrow(ctx context.Context, escrowID string) (*models.Escrow, error) {
	return f.escrows.GetEscrow(ctx, escrowID)
}

func (f *Facade) GetEscrowByOrder(ctx context.Context, orderID string) (*models.Escrow, error) {
	return f.escrows.GetEscrowByOrder(ctx, orderID)
}

func (f *Facade) GetWalletEscrows(ctx context.Context, walletID string) ([]*models.Escrow, error) {
	return f.escrows.GetWalletEscrows(ctx, walletID)
}

// Platform

func (f *Facade) GetFinanceStats(ctx context.Context) (*models.FinanceStats, error) {
	return f.dashboard.GetFinanceStats(ctx)
}
