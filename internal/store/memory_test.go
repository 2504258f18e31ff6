package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"agri-ledger/internal/apperr"
	"agri-ledger/internal/models"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

func newTestWallet(userID string) *models.Wallet {
	now := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	return &models.Wallet{
		ID:                  uuid.NewString(),
		UserID:              userID,
		UserType:            "farmer",
		Balance:             decimal.NewFromInt(100),
		EscrowBalance:       decimal.Zero,
		CreditScore:         300,
		CreditTier:          models.TierBronze,
		LoanLimit:           decimal.NewFromInt(3000),
		CurrentLoan:         decimal.Zero,
		DailyWithdrawnToday: decimal.Zero,
		LastWithdrawReset:   now,
		Version:             1,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
}

func keyed(walletID, key string) *models.Transaction {
	return &models.Transaction{
		ID:             uuid.NewString(),
		WalletID:       walletID,
		Type:           models.TransactionTypeDeposit,
		Amount:         decimal.NewFromInt(1),
		Status:         models.TransactionStatusCompleted,
		IdempotencyKey: &key,
		CreatedAt:      time.Now(),
	}
}

func TestMemoryUniqueConstraints(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(Options{})
	w := newTestWallet("u1")
	if err := s.CreateWallet(ctx, w); err != nil {
		t.Fatalf("CreateWallet: %v", err)
	}

	var uv *UniqueViolation
	err := s.CreateWallet(ctx, newTestWallet("u1"))
	if !errors.As(err, &uv) || uv.Constraint != ConstraintWalletUser || !errors.Is(err, apperr.ErrDuplicate) {
		t.Fatalf("second wallet for user: %v", err)
	}

	if err := s.InsertTransaction(ctx, keyed(w.ID, "k1")); err != nil {
		t.Fatalf("InsertTransaction: %v", err)
	}
	err = s.InsertTransaction(ctx, keyed(w.ID, "k1"))
	if !errors.As(err, &uv) || uv.Constraint != ConstraintIdempotencyKey {
		t.Fatalf("reused key: %v", err)
	}

	e := &models.Escrow{ID: uuid.NewString(), OrderID: "O-1", BuyerWalletID: w.ID, SellerWalletID: "s", Status: models.EscrowStatusHeld}
	if err := s.CreateEscrow(ctx, e); err != nil {
		t.Fatalf("CreateEscrow: %v", err)
	}
	e2 := *e
	e2.ID = uuid.NewString()
	err = s.CreateEscrow(ctx, &e2)
	if !errors.As(err, &uv) || uv.Constraint != ConstraintEscrowOrder {
		t.Fatalf("second escrow for order: %v", err)
	}
}

func TestMemoryVersionCheck(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(Options{})
	w := newTestWallet("u1")
	if err := s.CreateWallet(ctx, w); err != nil {
		t.Fatalf("CreateWallet: %v", err)
	}

	err := s.Serializable(ctx, func(ctx context.Context, tx Tx) error {
		locked, err := tx.LockWalletForUpdate(ctx, w.ID)
		if err != nil {
			return err
		}
		locked.Balance = decimal.NewFromInt(150)
		if err := tx.UpdateWalletIfVersion(ctx, locked, 1); err != nil {
			return err
		}
		if locked.Version != 2 {
			t.Errorf("version after update = %d, want 2", locked.Version)
		}
		locked.Balance = decimal.NewFromInt(0)
		return tx.UpdateWalletIfVersion(ctx, locked, 1)
	})
	if !errors.Is(err, apperr.ErrVersionConflict) {
		t.Fatalf("expected VersionConflict, got %v", err)
	}

	got, _ := s.GetWallet(ctx, w.ID)
	if got.Version != 1 || !got.Balance.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("failed scope leaked: version=%d balance=%s", got.Version, got.Balance)
	}
}

func TestMemoryScopeRollsBack(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(Options{})
	w := newTestWallet("u1")
	if err := s.CreateWallet(ctx, w); err != nil {
		t.Fatalf("CreateWallet: %v", err)
	}

	boom := errors.New("boom")
	err := s.Serializable(ctx, func(ctx context.Context, tx Tx) error {
		if err := tx.InsertTransaction(ctx, keyed(w.ID, "k1")); err != nil {
			return err
		}
		if err := tx.InsertAuditLog(ctx, &models.WalletAuditLog{ID: uuid.NewString(), WalletID: w.ID}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected the scope error, got %v", err)
	}

	if _, err := s.GetTransactionByIdempotencyKey(ctx, "k1"); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("rolled back transaction is visible: %v", err)
	}
	if logs, _ := s.ListAuditLogs(ctx, w.ID); len(logs) != 0 {
		t.Fatalf("rolled back audit rows: %d", len(logs))
	}
	// The key is free again.
	if err := s.InsertTransaction(ctx, keyed(w.ID, "k1")); err != nil {
		t.Fatalf("InsertTransaction after rollback: %v", err)
	}
}

func TestMemoryLockWaitTimeout(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(Options{LockWait: 20 * time.Millisecond})

	held := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = s.Serializable(ctx, func(ctx context.Context, tx Tx) error {
			close(held)
			time.Sleep(200 * time.Millisecond)
			return nil
		})
	}()
	<-held

	err := s.Serializable(ctx, func(context.Context, Tx) error { return nil })
	if !errors.Is(err, apperr.ErrTimeout) {
		t.Fatalf("expected Timeout, got %v", err)
	}
	<-done
}

func TestMemoryScopeTimeout(t *testing.T) {
	s := NewMemoryStore(Options{Timeout: 20 * time.Millisecond})
	w := newTestWallet("u1")
	if err := s.CreateWallet(context.Background(), w); err != nil {
		t.Fatalf("CreateWallet: %v", err)
	}

	err := s.Serializable(context.Background(), func(ctx context.Context, tx Tx) error {
		locked, err := tx.LockWalletForUpdate(ctx, w.ID)
		if err != nil {
			return err
		}
		locked.Balance = decimal.Zero
		if err := tx.UpdateWalletIfVersion(ctx, locked, 1); err != nil {
			return err
		}
		<-ctx.Done()
		return nil
	})
	if !errors.Is(err, apperr.ErrTimeout) {
		t.Fatalf("expected Timeout, got %v", err)
	}
	if got, _ := s.GetWallet(context.Background(), w.ID); got.Version != 1 {
		t.Fatalf("timed out scope committed version %d", got.Version)
	}
}

func TestMemoryListings(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(Options{})
	w := newTestWallet("u1")
	if err := s.CreateWallet(ctx, w); err != nil {
		t.Fatalf("CreateWallet: %v", err)
	}

	base := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		tr := keyed(w.ID, uuid.NewString())
		tr.CreatedAt = base.Add(time.Duration(i) * time.Hour)
		if err := s.InsertTransaction(ctx, tr); err != nil {
			t.Fatalf("InsertTransaction: %v", err)
		}
	}
	txns, err := s.ListTransactions(ctx, w.ID, 2)
	if err != nil || len(txns) != 2 || !txns[0].CreatedAt.After(txns[1].CreatedAt) {
		t.Fatalf("ListTransactions: %d rows, err=%v", len(txns), err)
	}
	since, _ := s.ListTransactionsSince(ctx, w.ID, base.Add(90*time.Minute))
	if len(since) != 1 {
		t.Fatalf("ListTransactionsSince: %d rows", len(since))
	}

	for i, next := range []time.Time{base.Add(48 * time.Hour), base} {
		p := &models.ScheduledPayment{ID: uuid.NewString(), WalletID: w.ID, Amount: decimal.NewFromInt(int64(i + 1)), NextPaymentDate: next, IsActive: true}
		if err := s.CreateScheduledPayment(ctx, p); err != nil {
			t.Fatalf("CreateScheduledPayment: %v", err)
		}
	}
	due, _ := s.ListDueScheduledPayments(ctx, base.Add(time.Hour), 10)
	if len(due) != 1 || !due[0].NextPaymentDate.Equal(base) {
		t.Fatalf("ListDueScheduledPayments: %d rows", len(due))
	}
	if err := s.IncrementScheduleFailures(ctx, due[0].ID, "insufficient balance"); err != nil {
		t.Fatalf("IncrementScheduleFailures: %v", err)
	}
	p, _ := s.GetScheduledPayment(ctx, due[0].ID)
	if p.FailedAttempts != 1 {
		t.Fatalf("failed attempts = %d", p.FailedAttempts)
	}
}
