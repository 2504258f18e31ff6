package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"agri-ledger/internal/apperr"
	"agri-ledger/internal/models"
)

func (f *fixture) activeLoan(t *testing.T, w *models.Wallet, amount string, term int) *models.Loan {
	t.Helper()
	ctx := context.Background()
	loan, err := f.loans.RequestLoan(ctx, models.LoanRequest{
		WalletID:   w.ID,
		Amount:     dec(amount),
		TermMonths: term,
		Purpose:    models.LoanPurposeSeeds,
	})
	if err != nil {
		t.Fatalf("RequestLoan: %v", err)
	}
	res, err := f.loans.ApproveLoan(ctx, loan.ID, models.MoneyOptions{})
	if err != nil {
		t.Fatalf("ApproveLoan: %v", err)
	}
	return res.Loan
}

func TestLoanLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	// GOLD at 650 gives a ceiling of 22750.
	w := f.walletWithScore(t, "farmer-1", 650)

	loan, err := f.loans.RequestLoan(ctx, models.LoanRequest{
		WalletID:   w.ID,
		Amount:     dec("10000"),
		TermMonths: 12,
		Purpose:    models.LoanPurposeSeeds,
	})
	if err != nil {
		t.Fatalf("RequestLoan: %v", err)
	}
	if loan.Status != models.LoanStatusPending || !loan.TotalDue.Equal(dec("10200")) {
		t.Fatalf("requested loan: status=%s totalDue=%s", loan.Status, loan.TotalDue)
	}
	if got := f.reload(t, w.ID); got.Version != 1 || !got.Balance.IsZero() {
		t.Fatalf("request moved money: version=%d balance=%s", got.Version, got.Balance)
	}

	approved, err := f.loans.ApproveLoan(ctx, loan.ID, models.MoneyOptions{})
	if err != nil {
		t.Fatalf("ApproveLoan: %v", err)
	}
	if approved.Loan.Status != models.LoanStatusActive {
		t.Fatalf("status = %s, want ACTIVE", approved.Loan.Status)
	}
	if !approved.Wallet.Balance.Equal(dec("10000")) || !approved.Wallet.CurrentLoan.Equal(dec("10200")) {
		t.Fatalf("after approval: balance=%s currentLoan=%s", approved.Wallet.Balance, approved.Wallet.CurrentLoan)
	}
	if approved.Transaction.Type != models.TransactionTypeLoan || deref(approved.Transaction.ReferenceID) != loan.ID {
		t.Fatalf("unexpected disbursement transaction %+v", approved.Transaction)
	}

	if _, err := f.wallets.Deposit(ctx, w.ID, dec("200"), models.MoneyOptions{}); err != nil {
		t.Fatalf("Deposit: %v", err)
	}
	repaid, err := f.loans.RepayLoan(ctx, loan.ID, dec("10200"), models.MoneyOptions{})
	if err != nil {
		t.Fatalf("RepayLoan: %v", err)
	}
	if !repaid.FullyPaid || repaid.Loan.Status != models.LoanStatusPaid {
		t.Fatalf("after repayment: fullyPaid=%v status=%s", repaid.FullyPaid, repaid.Loan.Status)
	}
	if !repaid.Wallet.Balance.IsZero() || !repaid.Wallet.CurrentLoan.IsZero() {
		t.Fatalf("after repayment: balance=%s currentLoan=%s", repaid.Wallet.Balance, repaid.Wallet.CurrentLoan)
	}

	ev := lastCreditEvent(t, f, w.ID)
	if ev.EventType != models.CreditEventLoanRepaidOnTime || ev.Impact != 15 {
		t.Fatalf("credit event %s %+d", ev.EventType, ev.Impact)
	}
	if repaid.Wallet.CreditScore != 665 {
		t.Fatalf("score = %d, want 665", repaid.Wallet.CreditScore)
	}
	f.checkLedger(t, w.ID)
}

func TestLoanRequestValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	// BRONZE at the floor: 300 x 10.
	w := f.walletWithScore(t, "farmer-1", 300)

	cases := []struct {
		name string
		req  models.LoanRequest
		want error
	}{
		{"over limit", models.LoanRequest{WalletID: w.ID, Amount: dec("3000.01"), TermMonths: 6, Purpose: models.LoanPurposeSeeds}, apperr.ErrLimitExceeded},
		{"zero term", models.LoanRequest{WalletID: w.ID, Amount: dec("100"), TermMonths: 0, Purpose: models.LoanPurposeSeeds}, apperr.ErrInvalidInput},
		{"long term", models.LoanRequest{WalletID: w.ID, Amount: dec("100"), TermMonths: 61, Purpose: models.LoanPurposeSeeds}, apperr.ErrInvalidInput},
		{"bad purpose", models.LoanRequest{WalletID: w.ID, Amount: dec("100"), TermMonths: 6, Purpose: "CAR"}, apperr.ErrInvalidInput},
		{"negative amount", models.LoanRequest{WalletID: w.ID, Amount: dec("-1"), TermMonths: 6, Purpose: models.LoanPurposeSeeds}, apperr.ErrInvalidAmount},
		{"unknown wallet", models.LoanRequest{WalletID: "missing", Amount: dec("100"), TermMonths: 6, Purpose: models.LoanPurposeSeeds}, apperr.ErrNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := f.loans.RequestLoan(ctx, tc.req); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}

	if _, err := f.loans.RequestLoan(ctx, models.LoanRequest{
		WalletID: w.ID, Amount: dec("3000"), TermMonths: 60, Purpose: models.LoanPurposeIrrigation,
	}); err != nil {
		t.Fatalf("loan at the exact limit: %v", err)
	}
}

func TestApproveLoanOnlyOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	w := f.walletWithScore(t, "farmer-1", 650)
	loan := f.activeLoan(t, w, "1000", 3)

	if _, err := f.loans.ApproveLoan(ctx, loan.ID, models.MoneyOptions{}); !errors.Is(err, apperr.ErrIllegalState) {
		t.Fatalf("expected IllegalState, got %v", err)
	}
	if got := f.reload(t, w.ID).Balance; !got.Equal(dec("1000")) {
		t.Fatalf("balance = %s, want 1000", got)
	}
}

func TestApproveRechecksCredit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	w := f.walletWithScore(t, "farmer-1", 300)

	first, err := f.loans.RequestLoan(ctx, models.LoanRequest{WalletID: w.ID, Amount: dec("2000"), TermMonths: 6, Purpose: models.LoanPurposeSeeds})
	if err != nil {
		t.Fatalf("first request: %v", err)
	}
	second, err := f.loans.RequestLoan(ctx, models.LoanRequest{WalletID: w.ID, Amount: dec("2000"), TermMonths: 6, Purpose: models.LoanPurposeSeeds})
	if err != nil {
		t.Fatalf("second request: %v", err)
	}
	if _, err := f.loans.ApproveLoan(ctx, first.ID, models.MoneyOptions{}); err != nil {
		t.Fatalf("approve first: %v", err)
	}
	if _, err := f.loans.ApproveLoan(ctx, second.ID, models.MoneyOptions{}); !errors.Is(err, apperr.ErrLimitExceeded) {
		t.Fatalf("expected LimitExceeded, got %v", err)
	}
	if got, _ := f.loans.GetLoan(ctx, second.ID); got.Status != models.LoanStatusPending {
		t.Fatalf("rejected loan status = %s", got.Status)
	}
}

func TestRepayLoanPartialAndCapped(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	w := f.walletWithScore(t, "farmer-1", 650)
	loan := f.activeLoan(t, w, "1000", 6)
	if _, err := f.wallets.Deposit(ctx, w.ID, dec("500"), models.MoneyOptions{}); err != nil {
		t.Fatalf("Deposit: %v", err)
	}

	part, err := f.loans.RepayLoan(ctx, loan.ID, dec("400"), models.MoneyOptions{})
	if err != nil {
		t.Fatalf("partial repay: %v", err)
	}
	if part.FullyPaid || !part.Loan.PaidAmount.Equal(dec("400")) || !part.Wallet.CurrentLoan.Equal(dec("620")) {
		t.Fatalf("partial: fullyPaid=%v paid=%s currentLoan=%s", part.FullyPaid, part.Loan.PaidAmount, part.Wallet.CurrentLoan)
	}

	rest, err := f.loans.RepayLoan(ctx, loan.ID, dec("5000"), models.MoneyOptions{})
	if err != nil {
		t.Fatalf("capped repay: %v", err)
	}
	if !rest.Transaction.Amount.Equal(dec("-620")) || !rest.FullyPaid {
		t.Fatalf("capped repay charged %s fullyPaid=%v", rest.Transaction.Amount, rest.FullyPaid)
	}
	if !rest.Wallet.Balance.Equal(dec("480")) {
		t.Fatalf("balance = %s, want 480", rest.Wallet.Balance)
	}

	if _, err := f.loans.RepayLoan(ctx, loan.ID, dec("1"), models.MoneyOptions{}); !errors.Is(err, apperr.ErrIllegalState) {
		t.Fatalf("repay paid loan: expected IllegalState, got %v", err)
	}
	f.checkLedger(t, w.ID)
}

func TestRepayLoanInsufficientFunds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	w := f.walletWithScore(t, "farmer-1", 650)
	loan := f.activeLoan(t, w, "1000", 6)

	if _, err := f.loans.RepayLoan(ctx, loan.ID, dec("1020"), models.MoneyOptions{}); !errors.Is(err, apperr.ErrInsufficientFunds) {
		t.Fatalf("expected InsufficientFunds, got %v", err)
	}
	if got, _ := f.loans.GetLoan(ctx, loan.ID); !got.PaidAmount.IsZero() {
		t.Fatalf("paid amount = %s after rejected repayment", got.PaidAmount)
	}
}

func TestRepayLoanLate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	w := f.walletWithScore(t, "farmer-1", 650)
	loan := f.activeLoan(t, w, "1000", 12)
	if _, err := f.wallets.Deposit(ctx, w.ID, dec("20"), models.MoneyOptions{}); err != nil {
		t.Fatalf("Deposit: %v", err)
	}

	f.clock.Advance(400 * 24 * time.Hour)
	res, err := f.loans.RepayLoan(ctx, loan.ID, dec("1020"), models.MoneyOptions{})
	if err != nil {
		t.Fatalf("RepayLoan: %v", err)
	}
	ev := lastCreditEvent(t, f, w.ID)
	if ev.EventType != models.CreditEventLoanRepaidLate || res.Wallet.CreditScore != 640 {
		t.Fatalf("late repayment: event=%s score=%d", ev.EventType, res.Wallet.CreditScore)
	}
	f.checkLedger(t, w.ID)
}

func TestIdempotentRepayment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	w := f.walletWithScore(t, "farmer-1", 650)
	loan := f.activeLoan(t, w, "1000", 6)
	opts := models.MoneyOptions{IdempotencyKey: "repay-1"}

	first, err := f.loans.RepayLoan(ctx, loan.ID, dec("300"), opts)
	if err != nil {
		t.Fatalf("first repay: %v", err)
	}
	second, err := f.loans.RepayLoan(ctx, loan.ID, dec("300"), opts)
	if err != nil {
		t.Fatalf("replayed repay: %v", err)
	}
	if !second.Duplicate || second.Transaction.ID != first.Transaction.ID {
		t.Fatalf("replay did not return the original transaction")
	}
	if got, _ := f.loans.GetLoan(ctx, loan.ID); !got.PaidAmount.Equal(dec("300")) {
		t.Fatalf("paid amount = %s, want 300", got.PaidAmount)
	}
}

func TestMarkLoanDefaulted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	w := f.walletWithScore(t, "farmer-1", 500)
	loan := f.activeLoan(t, w, "1000", 6)

	res, err := f.loans.MarkLoanDefaulted(ctx, loan.ID, "missed three payments", models.MoneyOptions{})
	if err != nil {
		t.Fatalf("MarkLoanDefaulted: %v", err)
	}
	if res.Loan.Status != models.LoanStatusDefaulted {
		t.Fatalf("status = %s, want DEFAULTED", res.Loan.Status)
	}
	if res.Wallet.CreditScore != 450 || res.Wallet.CreditTier != models.TierBronze {
		t.Fatalf("after default: score=%d tier=%s", res.Wallet.CreditScore, res.Wallet.CreditTier)
	}
	if !res.Wallet.CurrentLoan.Equal(dec("1020")) {
		t.Fatalf("current loan = %s, want 1020", res.Wallet.CurrentLoan)
	}

	if _, err := f.loans.RepayLoan(ctx, loan.ID, dec("10"), models.MoneyOptions{}); !errors.Is(err, apperr.ErrIllegalState) {
		t.Fatalf("repay defaulted loan: expected IllegalState, got %v", err)
	}
	if _, err := f.loans.MarkLoanDefaulted(ctx, loan.ID, "", models.MoneyOptions{}); !errors.Is(err, apperr.ErrIllegalState) {
		t.Fatalf("second default: expected IllegalState, got %v", err)
	}

	loans, err := f.loans.GetUserLoans(ctx, w.ID)
	if err != nil || len(loans) != 1 {
		t.Fatalf("GetUserLoans: %d rows, err=%v", len(loans), err)
	}
	f.checkLedger(t, w.ID)
}
