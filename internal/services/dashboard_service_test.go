package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"agri-ledger/internal/apperr"
	"agri-ledger/internal/models"
)

func TestWalletDashboard(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	buyer := f.walletWithScore(t, "buyer", 650)
	seller := f.newWallet(t, "seller", "0")

	if _, err := f.wallets.Deposit(ctx, buyer.ID, dec("5000"), models.MoneyOptions{}); err != nil {
		t.Fatalf("Deposit: %v", err)
	}
	f.clock.Advance(24 * time.Hour)
	if _, err := f.wallets.Withdraw(ctx, buyer.ID, dec("300"), models.MoneyOptions{}); err != nil {
		t.Fatalf("Withdraw: %v", err)
	}
	f.holdEscrow(t, buyer, seller, "O-1", "1000")
	done := f.holdEscrow(t, buyer, seller, "O-2", "200")
	if _, err := f.escrows.ReleaseEscrow(ctx, done.Escrow.ID, "", models.MoneyOptions{}); err != nil {
		t.Fatalf("ReleaseEscrow: %v", err)
	}
	f.activeLoan(t, buyer, "2000", 6)
	next := f.clock.Now().Add(72 * time.Hour)
	f.monthlySchedule(t, buyer, "50", next)
	f.monthlySchedule(t, buyer, "75", next.Add(24*time.Hour))

	d, err := f.dashboard.GetWalletDashboard(ctx, buyer.ID)
	if err != nil {
		t.Fatalf("GetWalletDashboard: %v", err)
	}
	s := d.Summary
	if !s.TotalDeposits.Equal(dec("5000")) || !s.TotalWithdrawals.Equal(dec("300")) || !s.TotalSales.IsZero() {
		t.Fatalf("totals: deposits=%s withdrawals=%s sales=%s", s.TotalDeposits, s.TotalWithdrawals, s.TotalSales)
	}
	if !s.HeldInEscrow.Equal(dec("1000")) || s.ActiveEscrows != 1 {
		t.Fatalf("escrow: held=%s active=%d", s.HeldInEscrow, s.ActiveEscrows)
	}
	if s.ActiveLoans != 1 || !s.OutstandingLoan.Equal(dec("2040")) {
		t.Fatalf("loans: active=%d outstanding=%s", s.ActiveLoans, s.OutstandingLoan)
	}
	if s.PendingSchedules != 2 || s.NextScheduledDate == nil || !s.NextScheduledDate.Equal(next) {
		t.Fatalf("schedules: pending=%d next=%v", s.PendingSchedules, s.NextScheduledDate)
	}

	if len(d.MonthlyChart) != 30 {
		t.Fatalf("chart has %d points", len(d.MonthlyChart))
	}
	today := d.MonthlyChart[29]
	yesterday := d.MonthlyChart[28]
	if today.Date != "2025-03-11" || yesterday.Date != "2025-03-10" {
		t.Fatalf("chart ends at %s, %s", yesterday.Date, today.Date)
	}
	if !yesterday.Inflow.Equal(dec("5000")) || !yesterday.Outflow.IsZero() {
		t.Fatalf("yesterday: in=%s out=%s", yesterday.Inflow, yesterday.Outflow)
	}
	// Withdrawal, two holds and the loan disbursement.
	if !today.Outflow.Equal(dec("1500")) || !today.Inflow.Equal(dec("2000")) {
		t.Fatalf("today: in=%s out=%s", today.Inflow, today.Outflow)
	}

	if len(d.RecentTransactions) != 5 || d.Limits == nil || d.Wallet.ID != buyer.ID {
		t.Fatalf("recent=%d limits=%v", len(d.RecentTransactions), d.Limits)
	}

	sellerBoard, err := f.dashboard.GetWalletDashboard(ctx, seller.ID)
	if err != nil {
		t.Fatalf("seller dashboard: %v", err)
	}
	if !sellerBoard.Summary.TotalSales.Equal(dec("200")) {
		t.Fatalf("seller sales = %s", sellerBoard.Summary.TotalSales)
	}
}

func TestWalletDashboardUnknownWallet(t *testing.T) {
	f := newFixture(t)
	if _, err := f.dashboard.GetWalletDashboard(context.Background(), "missing"); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestFinanceStats(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.walletWithScore(t, "a", 650)
	f.walletWithScore(t, "b", 300)
	if _, err := f.wallets.Deposit(ctx, a.ID, dec("100"), models.MoneyOptions{}); err != nil {
		t.Fatalf("Deposit: %v", err)
	}
	f.activeLoan(t, a, "50", 3)

	stats, err := f.dashboard.GetFinanceStats(ctx)
	if err != nil {
		t.Fatalf("GetFinanceStats: %v", err)
	}
	if stats.TotalWallets != 2 || !stats.TotalBalance.Equal(dec("150")) || stats.ActiveLoans != 1 || stats.PaidLoans != 0 {
		t.Fatalf("stats = %+v", stats)
	}
	if stats.AvgCreditScore != 475 {
		t.Fatalf("avg score = %v", stats.AvgCreditScore)
	}
}
