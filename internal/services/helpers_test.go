package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"agri-ledger/internal/events"
	"agri-ledger/internal/models"
	"agri-ledger/internal/store"
	"agri-ledger/internal/tier"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.LedgerEvent
}

func (p *recordingPublisher) Publish(_ context.Context, evs ...events.LedgerEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evs...)
	return nil
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events)
}

type mapCache struct {
	mu sync.Mutex
	m  map[string]string
}

func (c *mapCache) Get(_ context.Context, key string) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.m[key]
	return v, ok, nil
}

func (c *mapCache) Set(_ context.Context, key, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[key] = id
	return nil
}

type fixture struct {
	store     *store.MemoryStore
	clock     *fakeClock
	publisher *recordingPublisher
	cache     *mapCache
	ledger    *Ledger
	wallets   *WalletService
	escrows   *EscrowService
	loans     *LoanService
	schedules *ScheduleService
	credit    *CreditService
	dashboard *DashboardService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:     store.NewMemoryStore(store.Options{}),
		clock:     &fakeClock{t: time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)},
		publisher: &recordingPublisher{},
		cache:     &mapCache{m: map[string]string{}},
	}
	f.ledger = NewLedger(f.store, zerolog.Nop(), LedgerConfig{
		Cache:     f.cache,
		Publisher: f.publisher,
		Clock:     f.clock.Now,
	})
	f.wallets = NewWalletService(f.ledger)
	f.wallets.pinCost = bcrypt.MinCost
	f.escrows = NewEscrowService(f.ledger)
	f.loans = NewLoanService(f.ledger, DefaultAdminFeeRate)
	f.schedules = NewScheduleService(f.ledger)
	f.credit = NewCreditService(f.ledger, f.wallets, DemoFactorSource{})
	f.dashboard = NewDashboardService(f.ledger, f.wallets)
	return f
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// newWallet opens a default wallet and funds it with a deposit when balance is non-zero.
func (f *fixture) newWallet(t *testing.T, userID, balance string) *models.Wallet {
	t.Helper()
	view, err := f.wallets.GetWallet(context.Background(), userID, "farmer")
	if err != nil {
		t.Fatalf("GetWallet(%s): %v", userID, err)
	}
	if b := dec(balance); b.IsPositive() {
		if _, err := f.wallets.Deposit(context.Background(), view.ID, b, models.MoneyOptions{}); err != nil {
			t.Fatalf("funding deposit: %v", err)
		}
	}
	return f.reload(t, view.ID)
}

// walletWithScore stores a wallet directly at the given score with tier-derived fields.
func (f *fixture) walletWithScore(t *testing.T, userID string, score int) *models.Wallet {
	t.Helper()
	now := f.clock.Now()
	w := &models.Wallet{
		ID:                  uuid.NewString(),
		UserID:              userID,
		UserType:            "farmer",
		Balance:             decimal.Zero,
		EscrowBalance:       decimal.Zero,
		CurrentLoan:         decimal.Zero,
		DailyWithdrawnToday: decimal.Zero,
		LastWithdrawReset:   now,
		Version:             1,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	tier.ApplyScore(w, score)
	if err := f.store.CreateWallet(context.Background(), w); err != nil {
		t.Fatalf("CreateWallet: %v", err)
	}
	return w
}

func (f *fixture) reload(t *testing.T, walletID string) *models.Wallet {
	t.Helper()
	w, err := f.store.GetWallet(context.Background(), walletID)
	if err != nil {
		t.Fatalf("GetWallet(%s): %v", walletID, err)
	}
	return w
}

// checkLedger verifies the per-wallet ledger properties: balanced rows, no negatives,
// contiguous versions and one audit row per transaction.
func (f *fixture) checkLedger(t *testing.T, walletID string) {
	t.Helper()
	ctx := context.Background()
	w := f.reload(t, walletID)

	if w.Balance.IsNegative() || w.EscrowBalance.IsNegative() || w.CurrentLoan.IsNegative() {
		t.Fatalf("negative wallet state: balance=%s escrow=%s loan=%s", w.Balance, w.EscrowBalance, w.CurrentLoan)
	}
	if w.CreditScore < models.MinCreditScore || w.CreditScore > models.MaxCreditScore {
		t.Fatalf("credit score %d out of range", w.CreditScore)
	}

	txns, err := f.store.ListTransactions(ctx, walletID, 0)
	if err != nil {
		t.Fatalf("ListTransactions: %v", err)
	}
	audits, err := f.store.ListAuditLogs(ctx, walletID)
	if err != nil {
		t.Fatalf("ListAuditLogs: %v", err)
	}

	byTx := map[string]int{}
	for _, a := range audits {
		if a.TransactionID != nil {
			byTx[*a.TransactionID]++
		}
	}
	for _, tr := range txns {
		if !tr.BalanceBefore.Add(tr.Amount).Equal(tr.BalanceAfter) {
			t.Fatalf("transaction %s: %s + %s != %s", tr.ID, tr.BalanceBefore, tr.Amount, tr.BalanceAfter)
		}
		if byTx[tr.ID] != 1 {
			t.Fatalf("transaction %s has %d audit rows, want 1", tr.ID, byTx[tr.ID])
		}
	}

	version := int64(1)
	for _, a := range audits {
		if a.VersionBefore != version || a.VersionAfter != version+1 {
			t.Fatalf("audit %s versions %d->%d, want %d->%d", a.Operation, a.VersionBefore, a.VersionAfter, version, version+1)
		}
		version = a.VersionAfter
	}
	if version != w.Version {
		t.Fatalf("last audited version %d, wallet version %d", version, w.Version)
	}
}
