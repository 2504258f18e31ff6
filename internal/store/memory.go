package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"agri-ledger/internal/apperr"
	"agri-ledger/internal/models"

	"github.com/shopspring/decimal"
)

// MemoryStore keeps the ledger in process. Scopes are serialized through a single
// writer slot and run against a private copy that is swapped in on commit, so a failed
// scope leaves nothing behind.
type MemoryStore struct {
	mu    sync.RWMutex
	state *memState
	slot  chan struct{}
	opts  Options
}

func NewMemoryStore(opts Options) *MemoryStore {
	return &MemoryStore{
		state: newMemState(),
		slot:  make(chan struct{}, 1),
		opts:  opts.withDefaults(),
	}
}

func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) acquire(ctx context.Context) error {
	wait := time.NewTimer(s.opts.LockWait)
	defer wait.Stop()
	select {
	case s.slot <- struct{}{}:
		return nil
	case <-wait.C:
		return apperr.Timeout()
	case <-ctx.Done():
		return apperr.Timeout()
	}
}

func (s *MemoryStore) release() { <-s.slot }

func (s *MemoryStore) Serializable(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	ctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	if err := s.acquire(ctx); err != nil {
		return err
	}
	defer s.release()

	s.mu.RLock()
	work := s.state.clone()
	s.mu.RUnlock()

	if err := fn(ctx, &memTx{memRepo{st: work}}); err != nil {
		if ctx.Err() != nil {
			return apperr.Timeout()
		}
		return err
	}
	if ctx.Err() != nil {
		return apperr.Timeout()
	}

	s.mu.Lock()
	s.state = work
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) read(fn func(r memRepo) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(memRepo{st: s.state})
}

// write applies a single-statement change outside a scope.
func (s *MemoryStore) write(ctx context.Context, fn func(r memRepo) error) error {
	if err := s.acquire(ctx); err != nil {
		return err
	}
	defer s.release()

	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(memRepo{st: s.state})
}

type memTx struct {
	memRepo
}

func (t *memTx) LockWalletForUpdate(ctx context.Context, id string) (*models.Wallet, error) {
	return t.GetWallet(ctx, id)
}

func (t *memTx) UpdateWalletIfVersion(ctx context.Context, w *models.Wallet, expectedVersion int64) error {
	cur, ok := t.st.wallets[w.ID]
	if !ok {
		return apperr.NotFound("wallet", w.ID)
	}
	if cur.Version != expectedVersion {
		return apperr.VersionConflict()
	}
	next := *cur
	next.Balance = w.Balance
	next.EscrowBalance = w.EscrowBalance
	next.CreditScore = w.CreditScore
	next.CreditTier = w.CreditTier
	next.LoanLimit = w.LoanLimit
	next.CurrentLoan = w.CurrentLoan
	next.DailyWithdrawLimit = w.DailyWithdrawLimit
	next.SingleTransactionLimit = w.SingleTransactionLimit
	next.RequiresPinForAmount = w.RequiresPinForAmount
	next.DailyWithdrawnToday = w.DailyWithdrawnToday
	next.LastWithdrawReset = w.LastWithdrawReset
	next.UpdatedAt = w.UpdatedAt
	next.Version = expectedVersion + 1
	t.st.wallets[w.ID] = &next
	w.Version = next.Version
	return nil
}

type memState struct {
	wallets       map[string]*models.Wallet
	walletsByUser map[string]string
	transactions  []*models.Transaction
	txByKey       map[string]int
	audits        []*models.WalletAuditLog
	escrows       map[string]*models.Escrow
	escrowByOrder map[string]string
	loans         map[string]*models.Loan
	schedules     map[string]*models.ScheduledPayment
	creditEvents  []*models.CreditEvent
}

func newMemState() *memState {
	return &memState{
		wallets:       map[string]*models.Wallet{},
		walletsByUser: map[string]string{},
		txByKey:       map[string]int{},
		escrows:       map[string]*models.Escrow{},
		escrowByOrder: map[string]string{},
		loans:         map[string]*models.Loan{},
		schedules:     map[string]*models.ScheduledPayment{},
	}
}

// clone copies the maps and slices; rows themselves are immutable once stored.
func (st *memState) clone() *memState {
	c := &memState{
		wallets:       make(map[string]*models.Wallet, len(st.wallets)),
		walletsByUser: make(map[string]string, len(st.walletsByUser)),
		transactions:  append([]*models.Transaction(nil), st.transactions...),
		txByKey:       make(map[string]int, len(st.txByKey)),
		audits:        append([]*models.WalletAuditLog(nil), st.audits...),
		escrows:       make(map[string]*models.Escrow, len(st.escrows)),
		escrowByOrder: make(map[string]string, len(st.escrowByOrder)),
		loans:         make(map[string]*models.Loan, len(st.loans)),
		schedules:     make(map[string]*models.ScheduledPayment, len(st.schedules)),
		creditEvents:  append([]*models.CreditEvent(nil), st.creditEvents...),
	}
	for k, v := range st.wallets {
		c.wallets[k] = v
	}
	for k, v := range st.walletsByUser {
		c.walletsByUser[k] = v
	}
	for k, v := range st.txByKey {
		c.txByKey[k] = v
	}
	for k, v := range st.escrows {
		c.escrows[k] = v
	}
	for k, v := range st.escrowByOrder {
		c.escrowByOrder[k] = v
	}
	for k, v := range st.loans {
		c.loans[k] = v
	}
	for k, v := range st.schedules {
		c.schedules[k] = v
	}
	return c
}

// memRepo implements Repo over one state. Every write stores a fresh copy of the row
// and every read hands out a copy, so callers never alias stored rows.
type memRepo struct {
	st *memState
}

func (r memRepo) GetWallet(_ context.Context, id string) (*models.Wallet, error) {
	w, ok := r.st.wallets[id]
	if !ok {
		return nil, apperr.NotFound("wallet", id)
	}
	c := *w
	return &c, nil
}

func (r memRepo) GetWalletByUserID(ctx context.Context, userID string) (*models.Wallet, error) {
	id, ok := r.st.walletsByUser[userID]
	if !ok {
		return nil, apperr.NotFound("wallet for user", userID)
	}
	return r.GetWallet(ctx, id)
}

func (r memRepo) CreateWallet(_ context.Context, w *models.Wallet) error {
	if _, ok := r.st.walletsByUser[w.UserID]; ok {
		return &UniqueViolation{Constraint: ConstraintWalletUser}
	}
	c := *w
	r.st.wallets[w.ID] = &c
	r.st.walletsByUser[w.UserID] = w.ID
	return nil
}

func (r memRepo) UpdateWalletLimits(_ context.Context, l *models.WalletLimits) error {
	w, ok := r.st.wallets[l.WalletID]
	if !ok {
		return apperr.NotFound("wallet", l.WalletID)
	}
	c := *w
	c.DailyWithdrawLimit = l.DailyWithdrawLimit
	c.SingleTransactionLimit = l.SingleTransactionLimit
	c.RequiresPinForAmount = l.RequiresPinForAmount
	r.st.wallets[l.WalletID] = &c
	return nil
}

func (r memRepo) SetWalletPin(_ context.Context, walletID, pinHash string) error {
	w, ok := r.st.wallets[walletID]
	if !ok {
		return apperr.NotFound("wallet", walletID)
	}
	c := *w
	c.PinHash = pinHash
	r.st.wallets[walletID] = &c
	return nil
}

func (r memRepo) InsertTransaction(_ context.Context, t *models.Transaction) error {
	if t.IdempotencyKey != nil {
		if _, ok := r.st.txByKey[*t.IdempotencyKey]; ok {
			return &UniqueViolation{Constraint: ConstraintIdempotencyKey}
		}
		r.st.txByKey[*t.IdempotencyKey] = len(r.st.transactions)
	}
	c := *t
	r.st.transactions = append(r.st.transactions, &c)
	return nil
}

func (r memRepo) GetTransaction(_ context.Context, id string) (*models.Transaction, error) {
	for _, t := range r.st.transactions {
		if t.ID == id {
			c := *t
			return &c, nil
		}
	}
	return nil, apperr.NotFound("transaction", id)
}

func (r memRepo) GetTransactionByIdempotencyKey(_ context.Context, key string) (*models.Transaction, error) {
	i, ok := r.st.txByKey[key]
	if !ok {
		return nil, apperr.NotFound("transaction with key", key)
	}
	c := *r.st.transactions[i]
	return &c, nil
}

func (r memRepo) ListTransactions(_ context.Context, walletID string, limit int) ([]*models.Transaction, error) {
	var out []*models.Transaction
	for i := len(r.st.transactions) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		if t := r.st.transactions[i]; t.WalletID == walletID {
			c := *t
			out = append(out, &c)
		}
	}
	return out, nil
}

func (r memRepo) ListTransactionsSince(_ context.Context, walletID string, since time.Time) ([]*models.Transaction, error) {
	var out []*models.Transaction
	for _, t := range r.st.transactions {
		if t.WalletID == walletID && !t.CreatedAt.Before(since) {
			c := *t
			out = append(out, &c)
		}
	}
	return out, nil
}

func (r memRepo) ListTransactionsByReference(_ context.Context, refType, refID string) ([]*models.Transaction, error) {
	var out []*models.Transaction
	for _, t := range r.st.transactions {
		if t.ReferenceType != nil && t.ReferenceID != nil && *t.ReferenceType == refType && *t.ReferenceID == refID {
			c := *t
			out = append(out, &c)
		}
	}
	return out, nil
}

func (r memRepo) InsertAuditLog(_ context.Context, a *models.WalletAuditLog) error {
	c := *a
	c.Metadata = a.Metadata.Clone()
	r.st.audits = append(r.st.audits, &c)
	return nil
}

func (r memRepo) ListAuditLogs(_ context.Context, walletID string) ([]*models.WalletAuditLog, error) {
	var out []*models.WalletAuditLog
	for _, a := range r.st.audits {
		if a.WalletID == walletID {
			c := *a
			out = append(out, &c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].VersionAfter < out[j].VersionAfter })
	return out, nil
}

func (r memRepo) CreateEscrow(_ context.Context, e *models.Escrow) error {
	if _, ok := r.st.escrowByOrder[e.OrderID]; ok {
		return &UniqueViolation{Constraint: ConstraintEscrowOrder}
	}
	c := *e
	r.st.escrows[e.ID] = &c
	r.st.escrowByOrder[e.OrderID] = e.ID
	return nil
}

func (r memRepo) GetEscrow(_ context.Context, id string) (*models.Escrow, error) {
	e, ok := r.st.escrows[id]
	if !ok {
		return nil, apperr.NotFound("escrow", id)
	}
	c := *e
	return &c, nil
}

func (r memRepo) GetEscrowByOrderID(ctx context.Context, orderID string) (*models.Escrow, error) {
	id, ok := r.st.escrowByOrder[orderID]
	if !ok {
		return nil, apperr.NotFound("escrow for order", orderID)
	}
	return r.GetEscrow(ctx, id)
}

func (r memRepo) UpdateEscrow(_ context.Context, e *models.Escrow) error {
	if _, ok := r.st.escrows[e.ID]; !ok {
		return apperr.NotFound("escrow", e.ID)
	}
	c := *e
	r.st.escrows[e.ID] = &c
	return nil
}

func (r memRepo) ListEscrowsByWallet(_ context.Context, walletID string) ([]*models.Escrow, error) {
	var out []*models.Escrow
	for _, e := range r.st.escrows {
		if e.BuyerWalletID == walletID || e.SellerWalletID == walletID {
			c := *e
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r memRepo) CreateLoan(_ context.Context, l *models.Loan) error {
	c := *l
	r.st.loans[l.ID] = &c
	return nil
}

func (r memRepo) GetLoan(_ context.Context, id string) (*models.Loan, error) {
	l, ok := r.st.loans[id]
	if !ok {
		return nil, apperr.NotFound("loan", id)
	}
	c := *l
	return &c, nil
}

func (r memRepo) UpdateLoan(_ context.Context, l *models.Loan) error {
	if _, ok := r.st.loans[l.ID]; !ok {
		return apperr.NotFound("loan", l.ID)
	}
	c := *l
	r.st.loans[l.ID] = &c
	return nil
}

func (r memRepo) ListLoansByWallet(_ context.Context, walletID string) ([]*models.Loan, error) {
	var out []*models.Loan
	for _, l := range r.st.loans {
		if l.WalletID == walletID {
			c := *l
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r memRepo) CreateScheduledPayment(_ context.Context, p *models.ScheduledPayment) error {
	c := *p
	r.st.schedules[p.ID] = &c
	return nil
}

func (r memRepo) GetScheduledPayment(_ context.Context, id string) (*models.ScheduledPayment, error) {
	p, ok := r.st.schedules[id]
	if !ok {
		return nil, apperr.NotFound("scheduled payment", id)
	}
	c := *p
	return &c, nil
}

func (r memRepo) UpdateScheduledPayment(_ context.Context, p *models.ScheduledPayment) error {
	if _, ok := r.st.schedules[p.ID]; !ok {
		return apperr.NotFound("scheduled payment", p.ID)
	}
	c := *p
	r.st.schedules[p.ID] = &c
	return nil
}

func (r memRepo) ListScheduledPayments(_ context.Context, walletID string, activeOnly bool) ([]*models.ScheduledPayment, error) {
	var out []*models.ScheduledPayment
	for _, p := range r.st.schedules {
		if p.WalletID == walletID && (!activeOnly || p.IsActive) {
			c := *p
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NextPaymentDate.Before(out[j].NextPaymentDate) })
	return out, nil
}

func (r memRepo) ListDueScheduledPayments(_ context.Context, before time.Time, limit int) ([]*models.ScheduledPayment, error) {
	var out []*models.ScheduledPayment
	for _, p := range r.st.schedules {
		if p.IsActive && !p.NextPaymentDate.After(before) {
			c := *p
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NextPaymentDate.Before(out[j].NextPaymentDate) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r memRepo) IncrementScheduleFailures(_ context.Context, id, reason string) error {
	p, ok := r.st.schedules[id]
	if !ok {
		return apperr.NotFound("scheduled payment", id)
	}
	c := *p
	c.FailedAttempts++
	c.LastFailureReason = &reason
	c.UpdatedAt = time.Now()
	r.st.schedules[id] = &c
	return nil
}

func (r memRepo) InsertCreditEvent(_ context.Context, e *models.CreditEvent) error {
	c := *e
	c.Metadata = e.Metadata.Clone()
	r.st.creditEvents = append(r.st.creditEvents, &c)
	return nil
}

func (r memRepo) ListCreditEvents(_ context.Context, walletID string, limit int) ([]*models.CreditEvent, error) {
	var out []*models.CreditEvent
	for i := len(r.st.creditEvents) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		if e := r.st.creditEvents[i]; e.WalletID == walletID {
			c := *e
			out = append(out, &c)
		}
	}
	return out, nil
}

func (r memRepo) FinanceStats(_ context.Context) (*models.FinanceStats, error) {
	stats := &models.FinanceStats{TotalBalance: decimal.Zero, TotalEscrow: decimal.Zero}
	scoreSum := 0
	for _, w := range r.st.wallets {
		stats.TotalWallets++
		stats.TotalBalance = stats.TotalBalance.Add(w.Balance)
		stats.TotalEscrow = stats.TotalEscrow.Add(w.EscrowBalance)
		scoreSum += w.CreditScore
	}
	if stats.TotalWallets > 0 {
		stats.AvgCreditScore = float64(scoreSum) / float64(stats.TotalWallets)
	}
	for _, l := range r.st.loans {
		switch l.Status {
		case models.LoanStatusActive:
			stats.ActiveLoans++
		case models.LoanStatusPaid:
			stats.PaidLoans++
		}
	}
	return stats, nil
}

// Store-level Repo methods: reads see the last committed state, writes take the writer slot.

func (s *MemoryStore) GetWallet(ctx context.Context, id string) (w *models.Wallet, err error) {
	err = s.read(func(r memRepo) error { w, err = r.GetWallet(ctx, id); return err })
	return w, err
}

func (s *MemoryStore) GetWalletByUserID(ctx context.Context, userID string) (w *models.Wallet, err error) {
	err = s.read(func(r memRepo) error { w, err = r.GetWalletByUserID(ctx, userID); return err })
	return w, err
}

func (s *MemoryStore) CreateWallet(ctx context.Context, w *models.Wallet) error {
	return s.write(ctx, func(r memRepo) error { return r.CreateWallet(ctx, w) })
}

func (s *MemoryStore) UpdateWalletLimits(ctx context.Context, l *models.WalletLimits) error {
	return s.write(ctx, func(r memRepo) error { return r.UpdateWalletLimits(ctx, l) })
}

func (s *MemoryStore) SetWalletPin(ctx context.Context, walletID, pinHash string) error {
	return s.write(ctx, func(r memRepo) error { return r.SetWalletPin(ctx, walletID, pinHash) })
}

func (s *MemoryStore) InsertTransaction(ctx context.Context, t *models.Transaction) error {
	return s.write(ctx, func(r memRepo) error { return r.InsertTransaction(ctx, t) })
}

func (s *MemoryStore) GetTransaction(ctx context.Context, id string) (t *models.Transaction, err error) {
	err = s.read(func(r memRepo) error { t, err = r.GetTransaction(ctx, id); return err })
	return t, err
}

func (s *MemoryStore) GetTransactionByIdempotencyKey(ctx context.Context, key string) (t *models.Transaction, err error) {
	err = s.read(func(r memRepo) error { t, err = r.GetTransactionByIdempotencyKey(ctx, key); return err })
	return t, err
}

func (s *MemoryStore) ListTransactions(ctx context.Context, walletID string, limit int) (out []*models.Transaction, err error) {
	err = s.read(func(r memRepo) error { out, err = r.ListTransactions(ctx, walletID, limit); return err })
	return out, err
}

func (s *MemoryStore) ListTransactionsSince(ctx context.Context, walletID string, since time.Time) (out []*models.Transaction, err error) {
	err = s.read(func(r memRepo) error { out, err = r.ListTransactionsSince(ctx, walletID, since); return err })
	return out, err
}

func (s *MemoryStore) ListTransactionsByReference(ctx context.Context, refType, refID string) (out []*models.Transaction, err error) {
	err = s.read(func(r memRepo) error { out, err = r.ListTransactionsByReference(ctx, refType, refID); return err })
	return out, err
}

func (s *MemoryStore) InsertAuditLog(ctx context.Context, a *models.WalletAuditLog) error {
	return s.write(ctx, func(r memRepo) error { return r.InsertAuditLog(ctx, a) })
}

func (s *MemoryStore) ListAuditLogs(ctx context.Context, walletID string) (out []*models.WalletAuditLog, err error) {
	err = s.read(func(r memRepo) error { out, err = r.ListAuditLogs(ctx, walletID); return err })
	return out, err
}

func (s *MemoryStore) CreateEscrow(ctx context.Context, e *models.Escrow) error {
	return s.write(ctx, func(r memRepo) error { return r.CreateEscrow(ctx, e) })
}

func (s *MemoryStore) GetEscrow(ctx context.Context, id string) (e *models.Escrow, err error) {
	err = s.read(func(r memRepo) error { e, err = r.GetEscrow(ctx, id); return err })
	return e, err
}

func (s *MemoryStore) GetEscrowByOrderID(ctx context.Context, orderID string) (e *models.Escrow, err error) {
	err = s.read(func(r memRepo) error { e, err = r.GetEscrowByOrderID(ctx, orderID); return err })
	return e, err
}

func (s *MemoryStore) UpdateEscrow(ctx context.Context, e *models.Escrow) error {
	return s.write(ctx, func(r memRepo) error { return r.UpdateEscrow(ctx, e) })
}

func (s *MemoryStore) ListEscrowsByWallet(ctx context.Context, walletID string) (out []*models.Escrow, err error) {
	err = s.read(func(r memRepo) error { out, err = r.ListEscrowsByWallet(ctx, walletID); return err })
	return out, err
}

func (s *MemoryStore) CreateLoan(ctx context.Context, l *models.Loan) error {
	return s.write(ctx, func(r memRepo) error { return r.CreateLoan(ctx, l) })
}

func (s *MemoryStore) GetLoan(ctx context.Context, id string) (l *models.Loan, err error) {
	err = s.read(func(r memRepo) error { l, err = r.GetLoan(ctx, id); return err })
	return l, err
}

func (s *MemoryStore) UpdateLoan(ctx context.Context, l *models.Loan) error {
	return s.write(ctx, func(r memRepo) error { return r.UpdateLoan(ctx, l) })
}

func (s *MemoryStore) ListLoansByWallet(ctx context.Context, walletID string) (out []*models.Loan, err error) {
	err = s.read(func(r memRepo) error { out, err = r.ListLoansByWallet(ctx, walletID); return err })
	return out, err
}

func (s *MemoryStore) CreateScheduledPayment(ctx context.Context, p *models.ScheduledPayment) error {
	return s.write(ctx, func(r memRepo) error { return r.CreateScheduledPayment(ctx, p) })
}

func (s *MemoryStore) GetScheduledPayment(ctx context.Context, id string) (p *models.ScheduledPayment, err error) {
	err = s.read(func(r memRepo) error { p, err = r.GetScheduledPayment(ctx, id); return err })
	return p, err
}

func (s *MemoryStore) UpdateScheduledPayment(ctx context.Context, p *models.ScheduledPayment) error {
	return s.write(ctx, func(r memRepo) error { return r.UpdateScheduledPayment(ctx, p) })
}

func (s *MemoryStore) ListScheduledPayments(ctx context.Context, walletID string, activeOnly bool) (out []*models.ScheduledPayment, err error) {
	err = s.read(func(r memRepo) error { out, err = r.ListScheduledPayments(ctx, walletID, activeOnly); return err })
	return out, err
}

func (s *MemoryStore) ListDueScheduledPayments(ctx context.Context, before time.Time, limit int) (out []*models.ScheduledPayment, err error) {
	err = s.read(func(r memRepo) error { out, err = r.ListDueScheduledPayments(ctx, before, limit); return err })
	return out, err
}

func (s *MemoryStore) IncrementScheduleFailures(ctx context.Context, id, reason string) error {
	return s.write(ctx, func(r memRepo) error { return r.IncrementScheduleFailures(ctx, id, reason) })
}

func (s *MemoryStore) InsertCreditEvent(ctx context.Context, e *models.CreditEvent) error {
	return s.write(ctx, func(r memRepo) error { return r.InsertCreditEvent(ctx, e) })
}

func (s *MemoryStore) ListCreditEvents(ctx context.Context, walletID string, limit int) (out []*models.CreditEvent, err error) {
	err = s.read(func(r memRepo) error { out, err = r.ListCreditEvents(ctx, walletID, limit); return err })
	return out, err
}

func (s *MemoryStore) FinanceStats(ctx context.Context) (stats *models.FinanceStats, err error) {
	err = s.read(func(r memRepo) error { stats, err = r.FinanceStats(ctx); return err })
	return stats, err
}
