package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"agri-ledger/internal/apperr"
	"agri-ledger/internal/models"
)

func (f *fixture) monthlySchedule(t *testing.T, w *models.Wallet, amount string, first time.Time) *models.ScheduledPayment {
	t.Helper()
	p, err := f.schedules.CreateScheduledPayment(context.Background(), models.ScheduledPaymentRequest{
		WalletID:        w.ID,
		Amount:          dec(amount),
		Frequency:       models.FrequencyMonthly,
		NextPaymentDate: &first,
	})
	if err != nil {
		t.Fatalf("CreateScheduledPayment: %v", err)
	}
	return p
}

func TestCreateScheduledPaymentDefaults(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	w := f.newWallet(t, "farmer-1", "0")

	p, err := f.schedules.CreateScheduledPayment(ctx, models.ScheduledPaymentRequest{
		WalletID:  w.ID,
		Amount:    dec("50"),
		Frequency: models.FrequencyWeekly,
	})
	if err != nil {
		t.Fatalf("CreateScheduledPayment: %v", err)
	}
	want := f.clock.Now().AddDate(0, 0, 7)
	if !p.NextPaymentDate.Equal(want) || !p.IsActive || p.FailedAttempts != 0 {
		t.Fatalf("unexpected schedule %+v", p)
	}
	if p.Description == "" || p.DescriptionAr == "" {
		t.Fatalf("default descriptions not set")
	}
}

func TestCreateScheduledPaymentValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	w := f.walletWithScore(t, "farmer-1", 650)
	other := f.walletWithScore(t, "farmer-2", 650)
	loan := f.activeLoan(t, other, "100", 3)

	cases := []struct {
		name string
		req  models.ScheduledPaymentRequest
		want error
	}{
		{"zero amount", models.ScheduledPaymentRequest{WalletID: w.ID, Amount: dec("0"), Frequency: models.FrequencyDaily}, apperr.ErrInvalidAmount},
		{"bad frequency", models.ScheduledPaymentRequest{WalletID: w.ID, Amount: dec("1"), Frequency: "HOURLY"}, apperr.ErrInvalidInput},
		{"unknown wallet", models.ScheduledPaymentRequest{WalletID: "missing", Amount: dec("1"), Frequency: models.FrequencyDaily}, apperr.ErrNotFound},
		{"foreign loan", models.ScheduledPaymentRequest{WalletID: w.ID, LoanID: loan.ID, Amount: dec("1"), Frequency: models.FrequencyDaily}, apperr.ErrInvalidInput},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := f.schedules.CreateScheduledPayment(ctx, tc.req); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestExecuteScheduledPaymentAdvances(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	w := f.newWallet(t, "farmer-1", "300")
	due := time.Date(2025, 1, 31, 6, 0, 0, 0, time.UTC)
	p := f.monthlySchedule(t, w, "100", due)

	res, err := f.schedules.ExecuteScheduledPayment(ctx, p.ID, models.MoneyOptions{})
	if err != nil {
		t.Fatalf("ExecuteScheduledPayment: %v", err)
	}
	if !res.Wallet.Balance.Equal(dec("200")) {
		t.Fatalf("balance = %s, want 200", res.Wallet.Balance)
	}
	if want := due.AddDate(0, 1, 0); !res.Payment.NextPaymentDate.Equal(want) {
		t.Fatalf("next payment %s, want %s", res.Payment.NextPaymentDate, want)
	}
	if res.Payment.LastPaymentDate == nil || !res.Payment.LastPaymentDate.Equal(f.clock.Now()) {
		t.Fatalf("last payment date not recorded")
	}
	if res.Transaction.Type != models.TransactionTypeScheduledPayment || !res.Transaction.Amount.Equal(dec("-100")) {
		t.Fatalf("unexpected transaction %s %s", res.Transaction.Type, res.Transaction.Amount)
	}
	f.checkLedger(t, w.ID)
}

func TestExecuteScheduledPaymentInsufficientFunds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	w := f.newWallet(t, "farmer-1", "30")
	due := f.clock.Now().Add(-time.Hour)
	p := f.monthlySchedule(t, w, "100", due)

	for i := 0; i < 2; i++ {
		if _, err := f.schedules.ExecuteScheduledPayment(ctx, p.ID, models.MoneyOptions{}); !errors.Is(err, apperr.ErrInsufficientFunds) {
			t.Fatalf("attempt %d: expected InsufficientFunds, got %v", i, err)
		}
	}
	got, err := f.store.GetScheduledPayment(ctx, p.ID)
	if err != nil {
		t.Fatalf("GetScheduledPayment: %v", err)
	}
	if got.FailedAttempts != 2 || deref(got.LastFailureReason) != "insufficient balance" {
		t.Fatalf("failures=%d reason=%q", got.FailedAttempts, deref(got.LastFailureReason))
	}
	if !got.NextPaymentDate.Equal(due) || !got.IsActive {
		t.Fatalf("failed run moved the schedule")
	}

	if _, err := f.wallets.Deposit(ctx, w.ID, dec("70"), models.MoneyOptions{}); err != nil {
		t.Fatalf("Deposit: %v", err)
	}
	res, err := f.schedules.ExecuteScheduledPayment(ctx, p.ID, models.MoneyOptions{})
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if res.Payment.FailedAttempts != 0 || res.Payment.LastFailureReason != nil {
		t.Fatalf("success did not reset failures")
	}
	f.checkLedger(t, w.ID)
}

func TestCancelledScheduleIsNotExecuted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	w := f.newWallet(t, "farmer-1", "500")
	p := f.monthlySchedule(t, w, "100", f.clock.Now())

	cancelled, err := f.schedules.CancelScheduledPayment(ctx, p.ID)
	if err != nil || cancelled.IsActive {
		t.Fatalf("CancelScheduledPayment: active=%v err=%v", cancelled != nil && cancelled.IsActive, err)
	}
	if _, err := f.schedules.CancelScheduledPayment(ctx, p.ID); err != nil {
		t.Fatalf("second cancel: %v", err)
	}
	if _, err := f.schedules.ExecuteScheduledPayment(ctx, p.ID, models.MoneyOptions{}); !errors.Is(err, apperr.ErrIllegalState) {
		t.Fatalf("expected IllegalState, got %v", err)
	}

	active, _ := f.schedules.GetScheduledPayments(ctx, w.ID, true)
	all, _ := f.schedules.GetScheduledPayments(ctx, w.ID, false)
	if len(active) != 0 || len(all) != 1 {
		t.Fatalf("active=%d all=%d", len(active), len(all))
	}
}

func TestExecuteScheduledPaymentIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	w := f.newWallet(t, "farmer-1", "500")
	p := f.monthlySchedule(t, w, "100", f.clock.Now())
	opts := models.MoneyOptions{IdempotencyKey: OccurrenceKey(p)}

	first, err := f.schedules.ExecuteScheduledPayment(ctx, p.ID, opts)
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	second, err := f.schedules.ExecuteScheduledPayment(ctx, p.ID, opts)
	if err != nil {
		t.Fatalf("replayed run: %v", err)
	}
	if !second.Duplicate || second.Transaction.ID != first.Transaction.ID {
		t.Fatalf("replay did not return the original transaction")
	}
	if got := f.reload(t, w.ID).Balance; !got.Equal(dec("400")) {
		t.Fatalf("balance = %s, want 400", got)
	}
}

func TestSchedulerRunOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rich := f.newWallet(t, "farmer-1", "1000")
	poor := f.newWallet(t, "farmer-2", "10")
	past := f.clock.Now().Add(-time.Minute)

	f.monthlySchedule(t, rich, "100", past)
	f.monthlySchedule(t, rich, "200", past)
	f.monthlySchedule(t, poor, "50", past)
	f.monthlySchedule(t, rich, "300", f.clock.Now().Add(24*time.Hour))

	sched := NewScheduler(f.schedules, time.Minute, 2)
	stats, err := sched.RunOnce(ctx)
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if stats.Due != 3 || stats.Executed != 2 || stats.Failed != 1 {
		t.Fatalf("stats = %+v", stats)
	}
	if got := f.reload(t, rich.ID).Balance; !got.Equal(dec("700")) {
		t.Fatalf("balance = %s, want 700", got)
	}

	// Everything that succeeded is now a month out.
	stats, err = sched.RunOnce(ctx)
	if err != nil {
		t.Fatalf("second RunOnce: %v", err)
	}
	if stats.Due != 1 || stats.Executed != 0 {
		t.Fatalf("second pass stats = %+v", stats)
	}
	f.checkLedger(t, rich.ID)
	f.checkLedger(t, poor.ID)
}

func TestSchedulerSkipsOccurrenceChargedManually(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	w := f.newWallet(t, "farmer-1", "500")
	listed := f.monthlySchedule(t, w, "100", f.clock.Now().Add(-time.Minute))

	// The holder pays by hand between the scheduler listing the occurrence and charging it.
	if _, err := f.schedules.ExecuteScheduledPayment(ctx, listed.ID, models.MoneyOptions{}); err != nil {
		t.Fatalf("ExecuteScheduledPayment: %v", err)
	}

	_, err := f.schedules.executeDue(ctx, listed.ID, listed.NextPaymentDate, models.MoneyOptions{
		IdempotencyKey: OccurrenceKey(listed),
		Actor:          models.Actor{UserID: "scheduler"},
	})
	if !errors.Is(err, apperr.ErrIllegalState) {
		t.Fatalf("expected IllegalState, got %v", err)
	}
	if got := f.reload(t, w.ID).Balance; !got.Equal(dec("400")) {
		t.Fatalf("balance = %s, want 400", got)
	}
	p, err := f.store.GetScheduledPayment(ctx, listed.ID)
	if err != nil {
		t.Fatalf("GetScheduledPayment: %v", err)
	}
	if want := listed.NextPaymentDate.AddDate(0, 1, 0); !p.NextPaymentDate.Equal(want) || p.FailedAttempts != 0 {
		t.Fatalf("schedule next=%s failures=%d", p.NextPaymentDate, p.FailedAttempts)
	}
	f.checkLedger(t, w.ID)
}
