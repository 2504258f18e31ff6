// Package store is the persistence port of the ledger: row-locking reads, version-checked
// wallet updates and serializable transaction scopes, with MySQL and in-memory adapters.
package store

import (
	"context"
	"fmt"
	"time"

	"agri-ledger/internal/apperr"
	"agri-ledger/internal/models"
)

const (
	DefaultLockWait = 5 * time.Second
	DefaultTimeout  = 10 * time.Second
)

// Repo holds the entity operations available both inside and outside a scope.
type Repo interface {
	GetWallet(ctx context.Context, id string) (*models.Wallet, error)
	GetWalletByUserID(ctx context.Context, userID string) (*models.Wallet, error)
	CreateWallet(ctx context.Context, w *models.Wallet) error
	UpdateWalletLimits(ctx context.Context, limits *models.WalletLimits) error
	SetWalletPin(ctx context.Context, walletID, pinHash string) error

	InsertTransaction(ctx context.Context, t *models.Transaction) error
	GetTransaction(ctx context.Context, id string) (*models.Transaction, error)
	GetTransactionByIdempotencyKey(ctx context.Context, key string) (*models.Transaction, error)
	ListTransactions(ctx context.Context, walletID string, limit int) ([]*models.Transaction, error)
	ListTransactionsSince(ctx context.Context, walletID string, since time.Time) ([]*models.Transaction, error)
	ListTransactionsByReference(ctx context.Context, refType, refID string) ([]*models.Transaction, error)

	InsertAuditLog(ctx context.Context, a *models.WalletAuditLog) error
	ListAuditLogs(ctx context.Context, walletID string) ([]*models.WalletAuditLog, error)

	CreateEscrow(ctx context.Context, e *models.Escrow) error
	GetEscrow(ctx context.Context, id string) (*models.Escrow, error)
	GetEscrowByOrderID(ctx context.Context, orderID string) (*models.Escrow, error)
	UpdateEscrow(ctx context.Context, e *models.Escrow) error
	ListEscrowsByWallet(ctx context.Context, walletID string) ([]*models.Escrow, error)

	CreateLoan(ctx context.Context, l *models.Loan) error
	GetLoan(ctx context.Context, id string) (*models.Loan, error)
	UpdateLoan(ctx context.Context, l *models.Loan) error
	ListLoansByWallet(ctx context.Context, walletID string) ([]*models.Loan, error)

	CreateScheduledPayment(ctx context.Context, p *models.ScheduledPayment) error
	GetScheduledPayment(ctx context.Context, id string) (*models.ScheduledPayment, error)
	UpdateScheduledPayment(ctx context.Context, p *models.ScheduledPayment) error
	ListScheduledPayments(ctx context.Context, walletID string, activeOnly bool) ([]*models.ScheduledPayment, error)
	ListDueScheduledPayments(ctx context.Context, before time.Time, limit int) ([]*models.ScheduledPayment, error)
	// IncrementScheduleFailures bumps failed_attempts in a single statement.
	IncrementScheduleFailures(ctx context.Context, id, reason string) error

	InsertCreditEvent(ctx context.Context, e *models.CreditEvent) error
	ListCreditEvents(ctx context.Context, walletID string, limit int) ([]*models.CreditEvent, error)

	FinanceStats(ctx context.Context) (*models.FinanceStats, error)
}

// Tx is a serializable scope.
type Tx interface {
	Repo
	// LockWalletForUpdate takes a row-level exclusive lock and returns the snapshot.
	LockWalletForUpdate(ctx context.Context, id string) (*models.Wallet, error)
	// UpdateWalletIfVersion writes the mutable wallet columns only if the stored version
	// still equals expectedVersion, and bumps it. On success w.Version is the new version.
	UpdateWalletIfVersion(ctx context.Context, w *models.Wallet, expectedVersion int64) error
}

type Store interface {
	Repo
	// Serializable runs fn under serializable isolation with bounded lock wait and total
	// timeout. Any error from fn rolls the whole scope back.
	Serializable(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	Close() error
}

// Unique constraint names reported by UniqueViolation.
const (
	ConstraintIdempotencyKey = "idempotency_key"
	ConstraintEscrowOrder    = "order_id"
	ConstraintWalletUser     = "user_id"
)

// UniqueViolation is returned when an insert breaks a uniqueness constraint.
type UniqueViolation struct {
	Constraint string
}

func (e *UniqueViolation) Error() string {
	return fmt.Sprintf("unique constraint violated: %s", e.Constraint)
}

func (e *UniqueViolation) Is(target error) bool { return target == apperr.ErrDuplicate }
