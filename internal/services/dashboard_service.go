package services

import (
	"context"
	"time"

	"agri-ledger/internal/models"
	"agri-ledger/internal/store"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const (
	dashboardDays   = 30
	dashboardRecent = 5
)

type DashboardService struct {
	ledger  *Ledger
	store   store.Store
	wallets *WalletService
	logger  zerolog.Logger
}

func NewDashboardService(ledger *Ledger, wallets *WalletService) *DashboardService {
	return &DashboardService{
		ledger:  ledger,
		store:   ledger.store,
		wallets: wallets,
		logger:  ledger.logger.With().Str("service", "dashboard").Logger(),
	}
}

// GetWalletDashboard aggregates the last 30 wallet-local days of activity.
func (s *DashboardService) GetWalletDashboard(ctx context.Context, walletID string) (*models.WalletDashboard, error) {
	w, err := s.store.GetWallet(ctx, walletID)
	if err != nil {
		return nil, err
	}

	now := s.ledger.now().In(s.ledger.loc)
	y, m, d := now.Date()
	firstDay := time.Date(y, m, d, 0, 0, 0, 0, s.ledger.loc).AddDate(0, 0, -(dashboardDays - 1))

	txns, err := s.store.ListTransactionsSince(ctx, walletID, firstDay)
	if err != nil {
		return nil, err
	}

	chart := make([]models.CashflowPoint, dashboardDays)
	index := make(map[string]int, dashboardDays)
	for i := range chart {
		day := firstDay.AddDate(0, 0, i).Format("2006-01-02")
		chart[i] = models.CashflowPoint{Date: day, Inflow: decimal.Zero, Outflow: decimal.Zero}
		index[day] = i
	}

	summary := models.DashboardSummary{
		TotalDeposits:    decimal.Zero,
		TotalWithdrawals: decimal.Zero,
		TotalSales:       decimal.Zero,
		HeldInEscrow:     w.EscrowBalance,
		OutstandingLoan:  decimal.Zero,
	}
	for _, t := range txns {
		switch t.Type {
		case models.TransactionTypeDeposit:
			summary.TotalDeposits = summary.TotalDeposits.Add(t.Amount)
		case models.TransactionTypeWithdrawal:
			summary.TotalWithdrawals = summary.TotalWithdrawals.Add(t.Amount.Abs())
		case models.TransactionTypeMarketplaceSale:
			summary.TotalSales = summary.TotalSales.Add(t.Amount)
		}

		i, ok := index[t.CreatedAt.In(s.ledger.loc).Format("2006-01-02")]
		if !ok {
			continue
		}
		if t.Amount.IsPositive() {
			chart[i].Inflow = chart[i].Inflow.Add(t.Amount)
		} else {
			chart[i].Outflow = chart[i].Outflow.Add(t.Amount.Abs())
		}
	}

	escrows, err := s.store.ListEscrowsByWallet(ctx, walletID)
	if err != nil {
		return nil, err
	}
	for _, e := range escrows {
		if !e.Status.IsTerminal() {
			summary.ActiveEscrows++
		}
	}

	loans, err := s.store.ListLoansByWallet(ctx, walletID)
	if err != nil {
		return nil, err
	}
	for _, l := range loans {
		if l.Status == models.LoanStatusActive {
			summary.ActiveLoans++
			summary.OutstandingLoan = summary.OutstandingLoan.Add(l.Remaining())
		}
	}

	schedules, err := s.store.ListScheduledPayments(ctx, walletID, true)
	if err != nil {
		return nil, err
	}
	summary.PendingSchedules = len(schedules)
	for _, p := range schedules {
		if summary.NextScheduledDate == nil || p.NextPaymentDate.Before(*summary.NextScheduledDate) {
			next := p.NextPaymentDate
			summary.NextScheduledDate = &next
		}
	}

	recent, err := s.store.ListTransactions(ctx, walletID, dashboardRecent)
	if err != nil {
		return nil, err
	}

	return &models.WalletDashboard{
		Wallet:             walletView(w),
		Summary:            summary,
		Limits:             s.wallets.limitsOf(w),
		MonthlyChart:       chart,
		RecentTransactions: recent,
	}, nil
}

func (s *DashboardService) GetFinanceStats(ctx context.Context) (*models.FinanceStats, error) {
	stats, err := s.store.FinanceStats(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to load finance stats")
		return nil, err
	}
	return stats, nil
}
