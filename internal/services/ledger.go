package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"agri-ledger/internal/apperr"
	"agri-ledger/internal/cache"
	"agri-ledger/internal/events"
	"agri-ledger/internal/metrics"
	"agri-ledger/internal/models"
	"agri-ledger/internal/store"
	"agri-ledger/internal/tier"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// DefaultLocation is the wallet-local calendar used for daily withdraw limits (UTC+3).
var DefaultLocation = time.FixedZone("AST", 3*60*60)

type LedgerConfig struct {
	Cache     cache.IdempotencyCache
	Publisher events.Publisher
	Clock     func() time.Time
	Location  *time.Location
}

// Ledger runs the money-movement protocol shared by every balance-changing operation:
// idempotency gate, serializable scope, ordered row locks, version-checked update,
// transaction and audit rows, then post-commit cache and event publishing.
type Ledger struct {
	store     store.Store
	cache     cache.IdempotencyCache
	publisher events.Publisher
	logger    zerolog.Logger
	clock     func() time.Time
	loc       *time.Location
}

func NewLedger(st store.Store, logger zerolog.Logger, cfg LedgerConfig) *Ledger {
	l := &Ledger{
		store:     st,
		cache:     cfg.Cache,
		publisher: cfg.Publisher,
		logger:    logger,
		clock:     cfg.Clock,
		loc:       cfg.Location,
	}
	if l.cache == nil {
		l.cache = cache.Noop{}
	}
	if l.publisher == nil {
		l.publisher = events.Noop{}
	}
	if l.clock == nil {
		l.clock = time.Now
	}
	if l.loc == nil {
		l.loc = DefaultLocation
	}
	return l
}

func (l *Ledger) Store() store.Store { return l.store }

func (l *Ledger) now() time.Time { return l.clock() }

// priorTransaction is the idempotency gate. It returns nil when the key is empty or unused,
// and a Duplicate error when the key was spent on a different kind of operation.
func (l *Ledger) priorTransaction(ctx context.Context, key string, types ...models.TransactionType) (*models.Transaction, error) {
	if key == "" {
		return nil, nil
	}

	var prior *models.Transaction
	if id, ok, err := l.cache.Get(ctx, key); err != nil {
		l.logger.Warn().Err(err).Str("idempotency_key", key).Msg("Idempotency cache lookup failed")
	} else if ok {
		if t, err := l.store.GetTransaction(ctx, id); err == nil {
			prior = t
		}
	}

	if prior == nil {
		t, err := l.store.GetTransactionByIdempotencyKey(ctx, key)
		if errors.Is(err, apperr.ErrNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("failed to look up idempotency key: %w", err)
		}
		prior = t
	}

	for _, typ := range types {
		if prior.Type == typ {
			return prior, nil
		}
	}
	return nil, apperr.Duplicate(
		"idempotency key was already used for a different operation",
		"مفتاح التكرار مستخدم مسبقاً لعملية مختلفة")
}

// keyRace reports whether err is the store rejecting a second use of key, which happens
// when two requests with the same key pass the gate together.
func keyRace(err error, key string) bool {
	var uv *store.UniqueViolation
	return key != "" && errors.As(err, &uv) && uv.Constraint == store.ConstraintIdempotencyKey
}

// run executes fn in a serializable scope and records the operation metric.
func (l *Ledger) run(ctx context.Context, op string, fn func(ctx context.Context, tx store.Tx, j *journal) error) (*journal, error) {
	start := time.Now()
	j := &journal{}
	err := l.store.Serializable(ctx, func(ctx context.Context, tx store.Tx) error {
		j.reset()
		return fn(ctx, tx, j)
	})
	metrics.Observe(op, start, err)
	if err != nil {
		return nil, err
	}
	return j, nil
}

// lockWallets locks the given wallets in ascending id order.
func lockWallets(ctx context.Context, tx store.Tx, ids ...string) (map[string]*models.Wallet, error) {
	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)

	out := make(map[string]*models.Wallet, len(sorted))
	for _, id := range sorted {
		if _, ok := out[id]; ok {
			continue
		}
		w, err := tx.LockWalletForUpdate(ctx, id)
		if err != nil {
			return nil, err
		}
		out[id] = w
	}
	return out, nil
}

// journal collects what a scope committed so side effects can run after commit.
type journal struct {
	events []events.LedgerEvent
}

func (j *journal) reset() { j.events = j.events[:0] }

// entry describes one wallet mutation. An empty txType writes only the audit row.
type entry struct {
	txType        models.TransactionType
	amount        decimal.Decimal
	operation     string
	referenceType string
	referenceID   string
	description   string
	descriptionAr string
	// withKey puts the idempotency key on this entry's transaction.
	withKey  bool
	opts     models.MoneyOptions
	metadata models.Metadata
}

// apply persists w (already mutated from before) with a version check, then writes the
// transaction and audit rows. On return w.Version is the new version.
func (l *Ledger) apply(ctx context.Context, tx store.Tx, j *journal, w *models.Wallet, before models.Wallet, e entry) (*models.Transaction, error) {
	now := l.now()
	w.UpdatedAt = now
	if err := tx.UpdateWalletIfVersion(ctx, w, before.Version); err != nil {
		return nil, err
	}

	var key, userID, ip *string
	if e.withKey {
		key = optional(e.opts.IdempotencyKey)
	}
	userID = optional(e.opts.Actor.UserID)
	ip = optional(e.opts.Actor.IPAddress)

	var t *models.Transaction
	if e.txType != "" {
		t = &models.Transaction{
			ID:             uuid.NewString(),
			WalletID:       w.ID,
			Type:           e.txType,
			Amount:         e.amount,
			BalanceBefore:  before.Balance,
			BalanceAfter:   w.Balance,
			ReferenceID:    optional(e.referenceID),
			ReferenceType:  optional(e.referenceType),
			Description:    e.description,
			DescriptionAr:  e.descriptionAr,
			Status:         models.TransactionStatusCompleted,
			IdempotencyKey: key,
			UserID:         userID,
			IPAddress:      ip,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if !t.BalanceBefore.Add(t.Amount).Equal(t.BalanceAfter) {
			return nil, fmt.Errorf("ledger identity broken for wallet %s: %s + %s != %s",
				w.ID, t.BalanceBefore, t.Amount, t.BalanceAfter)
		}
		if err := tx.InsertTransaction(ctx, t); err != nil {
			return nil, err
		}
	}

	audit := &models.WalletAuditLog{
		ID:             uuid.NewString(),
		WalletID:       w.ID,
		UserID:         userID,
		Operation:      e.operation,
		BalanceBefore:  before.Balance,
		BalanceAfter:   w.Balance,
		Amount:         e.amount,
		VersionBefore:  before.Version,
		VersionAfter:   w.Version,
		IdempotencyKey: key,
		IPAddress:      ip,
		Metadata:       e.metadata,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if t != nil {
		audit.TransactionID = &t.ID
	}
	if !before.EscrowBalance.Equal(w.EscrowBalance) {
		eb, ea := before.EscrowBalance, w.EscrowBalance
		audit.EscrowBalanceBefore = &eb
		audit.EscrowBalanceAfter = &ea
	}
	if err := tx.InsertAuditLog(ctx, audit); err != nil {
		return nil, err
	}

	ev := events.LedgerEvent{
		Operation:     e.operation,
		WalletID:      w.ID,
		Amount:        e.amount,
		BalanceAfter:  w.Balance,
		Version:       w.Version,
		ReferenceType: e.referenceType,
		ReferenceID:   e.referenceID,
		OccurredAt:    now,
	}
	if t != nil {
		ev.TransactionID = t.ID
	}
	if key != nil {
		ev.IdempotencyKey = *key
	}
	j.events = append(j.events, ev)
	return t, nil
}

// applyScore moves a locked wallet to a new credit score, re-deriving tier, loan ceiling
// and limits, and writes the audit row for the change.
func (l *Ledger) applyScore(ctx context.Context, tx store.Tx, j *journal, w *models.Wallet, score int, operation string, opts models.MoneyOptions, metadata models.Metadata) error {
	before := *w
	tier.ApplyScore(w, score)

	md := metadata.Clone()
	if md == nil {
		md = models.Metadata{}
	}
	md["old_score"] = before.CreditScore
	md["new_score"] = w.CreditScore
	md["old_tier"] = string(before.CreditTier)
	md["new_tier"] = string(w.CreditTier)

	_, err := l.apply(ctx, tx, j, w, before, entry{
		amount:    decimal.Zero,
		operation: operation,
		opts:      opts,
		metadata:  md,
	})
	return err
}

// applyCreditEvent appends a credit event for a locked wallet and applies its impact.
func (l *Ledger) applyCreditEvent(ctx context.Context, tx store.Tx, j *journal, w *models.Wallet, req models.CreditEventRequest, operation string, opts models.MoneyOptions) (*models.CreditEvent, error) {
	impact, ok := req.EventType.Impact()
	if !ok {
		return nil, apperr.InvalidInput(
			fmt.Sprintf("unknown credit event type %q", req.EventType),
			"نوع حدث ائتماني غير معروف")
	}

	now := l.now()
	ev := &models.CreditEvent{
		ID:          uuid.NewString(),
		WalletID:    w.ID,
		EventType:   req.EventType,
		Amount:      req.Amount,
		Impact:      impact,
		Description: req.Description,
		Metadata:    req.Metadata.Clone(),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := tx.InsertCreditEvent(ctx, ev); err != nil {
		return nil, err
	}

	md := models.Metadata{"event_id": ev.ID, "event_type": string(ev.EventType), "impact": impact}
	if err := l.applyScore(ctx, tx, j, w, w.CreditScore+impact, operation, opts, md); err != nil {
		return nil, err
	}
	return ev, nil
}

// afterCommit remembers the idempotency key and publishes the committed movements.
// Failures are logged only; the movement is already durable.
func (l *Ledger) afterCommit(ctx context.Context, key string, t *models.Transaction, j *journal) {
	if key != "" && t != nil {
		if err := l.cache.Set(ctx, key, t.ID); err != nil {
			l.logger.Warn().Err(err).Str("idempotency_key", key).Msg("Failed to cache idempotency key")
		}
	}
	if j == nil || len(j.events) == 0 {
		return
	}
	if err := l.publisher.Publish(ctx, j.events...); err != nil {
		l.logger.Error().Err(err).Int("events", len(j.events)).Msg("Failed to publish ledger events")
	}
}

func (l *Ledger) sameDay(a, b time.Time) bool {
	ay, am, ad := a.In(l.loc).Date()
	by, bm, bd := b.In(l.loc).Date()
	return ay == by && am == bm && ad == bd
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// moneyScale is the number of fraction digits every amount column stores.
const moneyScale = 2

func requirePositive(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return apperr.InvalidAmount()
	}
	if !amount.Equal(amount.Truncate(moneyScale)) {
		return apperr.AmountPrecision(moneyScale)
	}
	return nil
}

func walletView(w *models.Wallet) *models.WalletView {
	p := tier.ForTier(w.CreditTier)
	return &models.WalletView{
		Wallet:          w,
		TierName:        p.Name,
		TierNameAr:      p.NameAr,
		AvailableCredit: w.AvailableCredit(),
	}
}
