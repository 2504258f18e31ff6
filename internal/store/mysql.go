package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"agri-ledger/internal/apperr"
	"agri-ledger/internal/models"

	"github.com/go-sql-driver/mysql"
	"github.com/shopspring/decimal"
)

const (
	mysqlErrDuplicateEntry = 1062
	mysqlErrLockWait       = 1205
	mysqlErrDeadlock       = 1213
)

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type Options struct {
	LockWait time.Duration
	Timeout  time.Duration
}

func (o Options) withDefaults() Options {
	if o.LockWait <= 0 {
		o.LockWait = DefaultLockWait
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	return o
}

type MySQLStore struct {
	*sqlRepo
	db   *sql.DB
	opts Options
}

func NewMySQLStore(db *sql.DB, opts Options) *MySQLStore {
	return &MySQLStore{
		sqlRepo: &sqlRepo{q: db},
		db:      db,
		opts:    opts.withDefaults(),
	}
}

func (s *MySQLStore) Close() error { return s.db.Close() }

func (s *MySQLStore) Serializable(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	ctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	sqlTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return classify(ctx, fmt.Errorf("failed to start transaction: %w", err))
	}
	defer sqlTx.Rollback()

	lockWait := int(s.opts.LockWait / time.Second)
	if lockWait < 1 {
		lockWait = 1
	}
	if _, err := sqlTx.ExecContext(ctx, fmt.Sprintf("SET SESSION innodb_lock_wait_timeout = %d", lockWait)); err != nil {
		return classify(ctx, fmt.Errorf("failed to set lock wait timeout: %w", err))
	}

	if err := fn(ctx, &mysqlTx{sqlRepo: &sqlRepo{q: sqlTx}}); err != nil {
		return classify(ctx, err)
	}

	if err := sqlTx.Commit(); err != nil {
		return classify(ctx, fmt.Errorf("failed to commit transaction: %w", err))
	}
	return nil
}

// classify maps driver failures onto ledger error kinds. Already classified errors pass through.
func classify(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return apperr.Timeout()
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		switch myErr.Number {
		case mysqlErrLockWait:
			return apperr.Timeout()
		case mysqlErrDeadlock:
			return apperr.VersionConflict()
		case mysqlErrDuplicateEntry:
			return uniqueViolation(myErr.Message)
		}
	}
	return err
}

func uniqueViolation(msg string) *UniqueViolation {
	// Only the key name is trusted; the duplicated value is user data.
	if i := strings.LastIndex(msg, "for key "); i >= 0 {
		msg = msg[i:]
	}
	switch {
	case strings.Contains(msg, "idempotency"):
		return &UniqueViolation{Constraint: ConstraintIdempotencyKey}
	case strings.Contains(msg, "order"):
		return &UniqueViolation{Constraint: ConstraintEscrowOrder}
	case strings.Contains(msg, "user"):
		return &UniqueViolation{Constraint: ConstraintWalletUser}
	}
	return &UniqueViolation{Constraint: "unknown"}
}

type mysqlTx struct {
	*sqlRepo
}

func (t *mysqlTx) LockWalletForUpdate(ctx context.Context, id string) (*models.Wallet, error) {
	w, err := scanWallet(t.q.QueryRowContext(ctx,
		"SELECT "+walletColumns+" FROM wallets WHERE id = ? FOR UPDATE", id))
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("wallet", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock wallet: %w", err)
	}
	return w, nil
}

func (t *mysqlTx) UpdateWalletIfVersion(ctx context.Context, w *models.Wallet, expectedVersion int64) error {
	result, err := t.q.ExecContext(ctx, `
		UPDATE wallets SET
			balance = ?, escrow_balance = ?, credit_score = ?, credit_tier = ?, loan_limit = ?,
			current_loan = ?, daily_withdraw_limit = ?, single_transaction_limit = ?,
			requires_pin_for_amount = ?, daily_withdrawn_today = ?, last_withdraw_reset = ?,
			version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?`,
		w.Balance, w.EscrowBalance, w.CreditScore, string(w.CreditTier), w.LoanLimit,
		w.CurrentLoan, w.DailyWithdrawLimit, w.SingleTransactionLimit,
		w.RequiresPinForAmount, w.DailyWithdrawnToday, w.LastWithdrawReset,
		w.UpdatedAt, w.ID, expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("failed to update wallet: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return apperr.VersionConflict()
	}
	w.Version = expectedVersion + 1
	return nil
}

type sqlRepo struct {
	q querier
}

const walletColumns = `id, user_id, user_type, balance, escrow_balance, credit_score, credit_tier,
	loan_limit, current_loan, daily_withdraw_limit, single_transaction_limit, requires_pin_for_amount,
	daily_withdrawn_today, last_withdraw_reset, is_verified, pin_hash, version, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWallet(row rowScanner) (*models.Wallet, error) {
	var w models.Wallet
	var tier string
	err := row.Scan(
		&w.ID, &w.UserID, &w.UserType, &w.Balance, &w.EscrowBalance, &w.CreditScore, &tier,
		&w.LoanLimit, &w.CurrentLoan, &w.DailyWithdrawLimit, &w.SingleTransactionLimit, &w.RequiresPinForAmount,
		&w.DailyWithdrawnToday, &w.LastWithdrawReset, &w.IsVerified, &w.PinHash, &w.Version, &w.CreatedAt, &w.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	w.CreditTier = models.CreditTier(tier)
	return &w, nil
}

func (r *sqlRepo) GetWallet(ctx context.Context, id string) (*models.Wallet, error) {
	w, err := scanWallet(r.q.QueryRowContext(ctx, "SELECT "+walletColumns+" FROM wallets WHERE id = ?", id))
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("wallet", id)
	}
	if err != nil {
		return nil, fmt.Errorf("database error: %w", err)
	}
	return w, nil
}

func (r *sqlRepo) GetWalletByUserID(ctx context.Context, userID string) (*models.Wallet, error) {
	w, err := scanWallet(r.q.QueryRowContext(ctx, "SELECT "+walletColumns+" FROM wallets WHERE user_id = ?", userID))
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("wallet for user", userID)
	}
	if err != nil {
		return nil, fmt.Errorf("database error: %w", err)
	}
	return w, nil
}

func (r *sqlRepo) CreateWallet(ctx context.Context, w *models.Wallet) error {
	_, err := r.q.ExecContext(ctx, "INSERT INTO wallets ("+walletColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
		w.ID, w.UserID, w.UserType, w.Balance, w.EscrowBalance, w.CreditScore, string(w.CreditTier),
		w.LoanLimit, w.CurrentLoan, w.DailyWithdrawLimit, w.SingleTransactionLimit, w.RequiresPinForAmount,
		w.DailyWithdrawnToday, w.LastWithdrawReset, w.IsVerified, w.PinHash, w.Version, w.CreatedAt, w.UpdatedAt,
	)
	if err != nil {
		return classify(ctx, fmt.Errorf("failed to create wallet: %w", err))
	}
	return nil
}

func (r *sqlRepo) UpdateWalletLimits(ctx context.Context, l *models.WalletLimits) error {
	result, err := r.q.ExecContext(ctx, `
		UPDATE wallets SET daily_withdraw_limit = ?, single_transaction_limit = ?, requires_pin_for_amount = ?
		WHERE id = ?`,
		l.DailyWithdrawLimit, l.SingleTransactionLimit, l.RequiresPinForAmount, l.WalletID,
	)
	if err != nil {
		return fmt.Errorf("failed to update wallet limits: %w", err)
	}
	return requireRow(result, "wallet", l.WalletID)
}

func (r *sqlRepo) SetWalletPin(ctx context.Context, walletID, pinHash string) error {
	result, err := r.q.ExecContext(ctx, "UPDATE wallets SET pin_hash = ? WHERE id = ?", pinHash, walletID)
	if err != nil {
		return fmt.Errorf("failed to set wallet pin: %w", err)
	}
	return requireRow(result, "wallet", walletID)
}

func requireRow(result sql.Result, entity, id string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return apperr.NotFound(entity, id)
	}
	return nil
}

const transactionColumns = `id, wallet_id, type, amount, balance_before, balance_after, reference_id,
	reference_type, description, description_ar, status, idempotency_key, user_id, ip_address, created_at, updated_at`

func scanTransaction(row rowScanner) (*models.Transaction, error) {
	var t models.Transaction
	var refID, refType, key, userID, ip sql.NullString
	var typ, status string
	err := row.Scan(
		&t.ID, &t.WalletID, &typ, &t.Amount, &t.BalanceBefore, &t.BalanceAfter, &refID,
		&refType, &t.Description, &t.DescriptionAr, &status, &key, &userID, &ip, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	t.Type = models.TransactionType(typ)
	t.Status = models.TransactionStatus(status)
	t.ReferenceID = fromNullString(refID)
	t.ReferenceType = fromNullString(refType)
	t.IdempotencyKey = fromNullString(key)
	t.UserID = fromNullString(userID)
	t.IPAddress = fromNullString(ip)
	return &t, nil
}

func fromNullString(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	v := s.String
	return &v
}

func fromNullTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func (r *sqlRepo) InsertTransaction(ctx context.Context, t *models.Transaction) error {
	_, err := r.q.ExecContext(ctx, "INSERT INTO transactions ("+transactionColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
		t.ID, t.WalletID, string(t.Type), t.Amount, t.BalanceBefore, t.BalanceAfter, t.ReferenceID,
		t.ReferenceType, t.Description, t.DescriptionAr, string(t.Status), t.IdempotencyKey, t.UserID, t.IPAddress, t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		return classify(ctx, fmt.Errorf("failed to create transaction: %w", err))
	}
	return nil
}

func (r *sqlRepo) GetTransaction(ctx context.Context, id string) (*models.Transaction, error) {
	t, err := scanTransaction(r.q.QueryRowContext(ctx, "SELECT "+transactionColumns+" FROM transactions WHERE id = ?", id))
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("transaction", id)
	}
	if err != nil {
		return nil, fmt.Errorf("database error: %w", err)
	}
	return t, nil
}

func (r *sqlRepo) GetTransactionByIdempotencyKey(ctx context.Context, key string) (*models.Transaction, error) {
	t, err := scanTransaction(r.q.QueryRowContext(ctx, "SELECT "+transactionColumns+" FROM transactions WHERE idempotency_key = ?", key))
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("transaction with key", key)
	}
	if err != nil {
		return nil, fmt.Errorf("database error: %w", err)
	}
	return t, nil
}

func (r *sqlRepo) queryTransactions(ctx context.Context, query string, args ...any) ([]*models.Transaction, error) {
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("database error: %w", err)
	}
	defer rows.Close()

	var out []*models.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning transaction: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *sqlRepo) ListTransactions(ctx context.Context, walletID string, limit int) ([]*models.Transaction, error) {
	return r.queryTransactions(ctx,
		"SELECT "+transactionColumns+" FROM transactions WHERE wallet_id = ? ORDER BY created_at DESC, seq DESC LIMIT ?",
		walletID, limit)
}

func (r *sqlRepo) ListTransactionsSince(ctx context.Context, walletID string, since time.Time) ([]*models.Transaction, error) {
	return r.queryTransactions(ctx,
		"SELECT "+transactionColumns+" FROM transactions WHERE wallet_id = ? AND created_at >= ? ORDER BY created_at ASC, seq ASC",
		walletID, since)
}

func (r *sqlRepo) ListTransactionsByReference(ctx context.Context, refType, refID string) ([]*models.Transaction, error) {
	return r.queryTransactions(ctx,
		"SELECT "+transactionColumns+" FROM transactions WHERE reference_type = ? AND reference_id = ? ORDER BY seq ASC",
		refType, refID)
}

const auditColumns = `id, wallet_id, transaction_id, user_id, operation, balance_before, balance_after, amount,
	escrow_balance_before, escrow_balance_after, version_before, version_after, idempotency_key, ip_address,
	metadata, created_at, updated_at`

func (r *sqlRepo) InsertAuditLog(ctx context.Context, a *models.WalletAuditLog) error {
	_, err := r.q.ExecContext(ctx, "INSERT INTO wallet_audit_logs ("+auditColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
		a.ID, a.WalletID, a.TransactionID, a.UserID, a.Operation, a.BalanceBefore, a.BalanceAfter, a.Amount,
		toNullDecimal(a.EscrowBalanceBefore), toNullDecimal(a.EscrowBalanceAfter), a.VersionBefore, a.VersionAfter,
		a.IdempotencyKey, a.IPAddress, a.Metadata, a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		return classify(ctx, fmt.Errorf("failed to write audit log: %w", err))
	}
	return nil
}

func toNullDecimal(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *d, Valid: true}
}

func fromNullDecimal(d decimal.NullDecimal) *decimal.Decimal {
	if !d.Valid {
		return nil
	}
	v := d.Decimal
	return &v
}

func (r *sqlRepo) ListAuditLogs(ctx context.Context, walletID string) ([]*models.WalletAuditLog, error) {
	rows, err := r.q.QueryContext(ctx,
		"SELECT "+auditColumns+" FROM wallet_audit_logs WHERE wallet_id = ? ORDER BY version_after ASC", walletID)
	if err != nil {
		return nil, fmt.Errorf("database error: %w", err)
	}
	defer rows.Close()

	var out []*models.WalletAuditLog
	for rows.Next() {
		var a models.WalletAuditLog
		var txID, userID, key, ip sql.NullString
		var escBefore, escAfter decimal.NullDecimal
		if err := rows.Scan(
			&a.ID, &a.WalletID, &txID, &userID, &a.Operation, &a.BalanceBefore, &a.BalanceAfter, &a.Amount,
			&escBefore, &escAfter, &a.VersionBefore, &a.VersionAfter, &key, &ip,
			&a.Metadata, &a.CreatedAt, &a.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("error scanning audit log: %w", err)
		}
		a.TransactionID = fromNullString(txID)
		a.UserID = fromNullString(userID)
		a.IdempotencyKey = fromNullString(key)
		a.IPAddress = fromNullString(ip)
		a.EscrowBalanceBefore = fromNullDecimal(escBefore)
		a.EscrowBalanceAfter = fromNullDecimal(escAfter)
		out = append(out, &a)
	}
	return out, rows.Err()
}

const escrowColumns = `id, order_id, buyer_wallet_id, seller_wallet_id, amount, status, released_at, refunded_at,
	dispute_reason, notes, created_at, updated_at`

func scanEscrow(row rowScanner) (*models.Escrow, error) {
	var e models.Escrow
	var status string
	var releasedAt, refundedAt sql.NullTime
	var reason, notes sql.NullString
	err := row.Scan(
		&e.ID, &e.OrderID, &e.BuyerWalletID, &e.SellerWalletID, &e.Amount, &status, &releasedAt, &refundedAt,
		&reason, &notes, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	e.Status = models.EscrowStatus(status)
	e.ReleasedAt = fromNullTime(releasedAt)
	e.RefundedAt = fromNullTime(refundedAt)
	e.DisputeReason = fromNullString(reason)
	e.Notes = fromNullString(notes)
	return &e, nil
}

func (r *sqlRepo) CreateEscrow(ctx context.Context, e *models.Escrow) error {
	_, err := r.q.ExecContext(ctx, "INSERT INTO escrows ("+escrowColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
		e.ID, e.OrderID, e.BuyerWalletID, e.SellerWalletID, e.Amount, string(e.Status), e.ReleasedAt, e.RefundedAt,
		e.DisputeReason, e.Notes, e.CreatedAt, e.UpdatedAt,
	)
	if err != nil {
		return classify(ctx, fmt.Errorf("failed to create escrow: %w", err))
	}
	return nil
}

func (r *sqlRepo) GetEscrow(ctx context.Context, id string) (*models.Escrow, error) {
	e, err := scanEscrow(r.q.QueryRowContext(ctx, "SELECT "+escrowColumns+" FROM escrows WHERE id = ?", id))
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("escrow", id)
	}
	if err != nil {
		return nil, fmt.Errorf("database error: %w", err)
	}
	return e, nil
}

func (r *sqlRepo) GetEscrowByOrderID(ctx context.Context, orderID string) (*models.Escrow, error) {
	e, err := scanEscrow(r.q.QueryRowContext(ctx, "SELECT "+escrowColumns+" FROM escrows WHERE order_id = ?", orderID))
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("escrow for order", orderID)
	}
	if err != nil {
		return nil, fmt.Errorf("database error: %w", err)
	}
	return e, nil
}

func (r *sqlRepo) UpdateEscrow(ctx context.Context, e *models.Escrow) error {
	result, err := r.q.ExecContext(ctx, `
		UPDATE escrows SET status = ?, released_at = ?, refunded_at = ?, dispute_reason = ?, notes = ?, updated_at = ?
		WHERE id = ?`,
		string(e.Status), e.ReleasedAt, e.RefundedAt, e.DisputeReason, e.Notes, e.UpdatedAt, e.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update escrow: %w", err)
	}
	return requireRow(result, "escrow", e.ID)
}

func (r *sqlRepo) ListEscrowsByWallet(ctx context.Context, walletID string) ([]*models.Escrow, error) {
	rows, err := r.q.QueryContext(ctx,
		"SELECT "+escrowColumns+" FROM escrows WHERE buyer_wallet_id = ? OR seller_wallet_id = ? ORDER BY created_at DESC",
		walletID, walletID)
	if err != nil {
		return nil, fmt.Errorf("database error: %w", err)
	}
	defer rows.Close()

	var out []*models.Escrow
	for rows.Next() {
		e, err := scanEscrow(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning escrow: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

const loanColumns = `id, wallet_id, amount, interest_rate, total_due, paid_amount, term_months, start_date, due_date,
	purpose, purpose_details, collateral_type, collateral_value, status, created_at, updated_at`

func scanLoan(row rowScanner) (*models.Loan, error) {
	var l models.Loan
	var purpose, status string
	var details, collateral sql.NullString
	err := row.Scan(
		&l.ID, &l.WalletID, &l.Amount, &l.InterestRate, &l.TotalDue, &l.PaidAmount, &l.TermMonths, &l.StartDate, &l.DueDate,
		&purpose, &details, &collateral, &l.CollateralValue, &status, &l.CreatedAt, &l.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	l.Purpose = models.LoanPurpose(purpose)
	l.Status = models.LoanStatus(status)
	l.PurposeDetails = fromNullString(details)
	l.CollateralType = fromNullString(collateral)
	return &l, nil
}

func (r *sqlRepo) CreateLoan(ctx context.Context, l *models.Loan) error {
	_, err := r.q.ExecContext(ctx, "INSERT INTO loans ("+loanColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
		l.ID, l.WalletID, l.Amount, l.InterestRate, l.TotalDue, l.PaidAmount, l.TermMonths, l.StartDate, l.DueDate,
		string(l.Purpose), l.PurposeDetails, l.CollateralType, l.CollateralValue, string(l.Status), l.CreatedAt, l.UpdatedAt,
	)
	if err != nil {
		return classify(ctx, fmt.Errorf("failed to create loan: %w", err))
	}
	return nil
}

func (r *sqlRepo) GetLoan(ctx context.Context, id string) (*models.Loan, error) {
	l, err := scanLoan(r.q.QueryRowContext(ctx, "SELECT "+loanColumns+" FROM loans WHERE id = ?", id))
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("loan", id)
	}
	if err != nil {
		return nil, fmt.Errorf("database error: %w", err)
	}
	return l, nil
}

func (r *sqlRepo) UpdateLoan(ctx context.Context, l *models.Loan) error {
	result, err := r.q.ExecContext(ctx, `
		UPDATE loans SET paid_amount = ?, start_date = ?, due_date = ?, status = ?, updated_at = ?
		WHERE id = ?`,
		l.PaidAmount, l.StartDate, l.DueDate, string(l.Status), l.UpdatedAt, l.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update loan: %w", err)
	}
	return requireRow(result, "loan", l.ID)
}

func (r *sqlRepo) ListLoansByWallet(ctx context.Context, walletID string) ([]*models.Loan, error) {
	rows, err := r.q.QueryContext(ctx,
		"SELECT "+loanColumns+" FROM loans WHERE wallet_id = ? ORDER BY created_at DESC", walletID)
	if err != nil {
		return nil, fmt.Errorf("database error: %w", err)
	}
	defer rows.Close()

	var out []*models.Loan
	for rows.Next() {
		l, err := scanLoan(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning loan: %w", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

const scheduleColumns = `id, wallet_id, loan_id, amount, frequency, next_payment_date, last_payment_date, is_active,
	failed_attempts, last_failure_reason, description, description_ar, created_at, updated_at`

func scanSchedule(row rowScanner) (*models.ScheduledPayment, error) {
	var p models.ScheduledPayment
	var loanID, reason sql.NullString
	var lastPayment sql.NullTime
	var freq string
	err := row.Scan(
		&p.ID, &p.WalletID, &loanID, &p.Amount, &freq, &p.NextPaymentDate, &lastPayment, &p.IsActive,
		&p.FailedAttempts, &reason, &p.Description, &p.DescriptionAr, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	p.Frequency = models.PaymentFrequency(freq)
	p.LoanID = fromNullString(loanID)
	p.LastPaymentDate = fromNullTime(lastPayment)
	p.LastFailureReason = fromNullString(reason)
	return &p, nil
}

func (r *sqlRepo) CreateScheduledPayment(ctx context.Context, p *models.ScheduledPayment) error {
	_, err := r.q.ExecContext(ctx, "INSERT INTO scheduled_payments ("+scheduleColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
		p.ID, p.WalletID, p.LoanID, p.Amount, string(p.Frequency), p.NextPaymentDate, p.LastPaymentDate, p.IsActive,
		p.FailedAttempts, p.LastFailureReason, p.Description, p.DescriptionAr, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return classify(ctx, fmt.Errorf("failed to create scheduled payment: %w", err))
	}
	return nil
}

func (r *sqlRepo) GetScheduledPayment(ctx context.Context, id string) (*models.ScheduledPayment, error) {
	p, err := scanSchedule(r.q.QueryRowContext(ctx, "SELECT "+scheduleColumns+" FROM scheduled_payments WHERE id = ?", id))
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("scheduled payment", id)
	}
	if err != nil {
		return nil, fmt.Errorf("database error: %w", err)
	}
	return p, nil
}

func (r *sqlRepo) UpdateScheduledPayment(ctx context.Context, p *models.ScheduledPayment) error {
	result, err := r.q.ExecContext(ctx, `
		UPDATE scheduled_payments SET next_payment_date = ?, last_payment_date = ?, is_active = ?,
			failed_attempts = ?, last_failure_reason = ?, updated_at = ?
		WHERE id = ?`,
		p.NextPaymentDate, p.LastPaymentDate, p.IsActive, p.FailedAttempts, p.LastFailureReason, p.UpdatedAt, p.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update scheduled payment: %w", err)
	}
	return requireRow(result, "scheduled payment", p.ID)
}

func (r *sqlRepo) querySchedules(ctx context.Context, query string, args ...any) ([]*models.ScheduledPayment, error) {
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("database error: %w", err)
	}
	defer rows.Close()

	var out []*models.ScheduledPayment
	for rows.Next() {
		p, err := scanSchedule(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning scheduled payment: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *sqlRepo) ListScheduledPayments(ctx context.Context, walletID string, activeOnly bool) ([]*models.ScheduledPayment, error) {
	if activeOnly {
		return r.querySchedules(ctx,
			"SELECT "+scheduleColumns+" FROM scheduled_payments WHERE wallet_id = ? AND is_active = TRUE ORDER BY next_payment_date ASC",
			walletID)
	}
	return r.querySchedules(ctx,
		"SELECT "+scheduleColumns+" FROM scheduled_payments WHERE wallet_id = ? ORDER BY next_payment_date ASC", walletID)
}

func (r *sqlRepo) ListDueScheduledPayments(ctx context.Context, before time.Time, limit int) ([]*models.ScheduledPayment, error) {
	return r.querySchedules(ctx,
		"SELECT "+scheduleColumns+" FROM scheduled_payments WHERE is_active = TRUE AND next_payment_date <= ? ORDER BY next_payment_date ASC LIMIT ?",
		before, limit)
}

func (r *sqlRepo) IncrementScheduleFailures(ctx context.Context, id, reason string) error {
	result, err := r.q.ExecContext(ctx, `
		UPDATE scheduled_payments SET failed_attempts = failed_attempts + 1, last_failure_reason = ?, updated_at = NOW()
		WHERE id = ?`, reason, id)
	if err != nil {
		return fmt.Errorf("failed to record payment failure: %w", err)
	}
	return requireRow(result, "scheduled payment", id)
}

const creditEventColumns = `id, wallet_id, event_type, amount, impact, description, metadata, created_at, updated_at`

func (r *sqlRepo) InsertCreditEvent(ctx context.Context, e *models.CreditEvent) error {
	_, err := r.q.ExecContext(ctx, "INSERT INTO credit_events ("+creditEventColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)",
		e.ID, e.WalletID, string(e.EventType), e.Amount, e.Impact, e.Description, e.Metadata, e.CreatedAt, e.UpdatedAt,
	)
	if err != nil {
		return classify(ctx, fmt.Errorf("failed to create credit event: %w", err))
	}
	return nil
}

func (r *sqlRepo) ListCreditEvents(ctx context.Context, walletID string, limit int) ([]*models.CreditEvent, error) {
	rows, err := r.q.QueryContext(ctx,
		"SELECT "+creditEventColumns+" FROM credit_events WHERE wallet_id = ? ORDER BY created_at DESC, seq DESC LIMIT ?",
		walletID, limit)
	if err != nil {
		return nil, fmt.Errorf("database error: %w", err)
	}
	defer rows.Close()

	var out []*models.CreditEvent
	for rows.Next() {
		var e models.CreditEvent
		var typ string
		if err := rows.Scan(&e.ID, &e.WalletID, &typ, &e.Amount, &e.Impact, &e.Description, &e.Metadata, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, fmt.Errorf("error scanning credit event: %w", err)
		}
		e.EventType = models.CreditEventType(typ)
		out = append(out, &e)
	}
	return out, rows.Err()
}

func (r *sqlRepo) FinanceStats(ctx context.Context) (*models.FinanceStats, error) {
	var stats models.FinanceStats
	err := r.q.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(balance), 0), COALESCE(SUM(escrow_balance), 0), COALESCE(AVG(credit_score), 0)
		FROM wallets`,
	).Scan(&stats.TotalWallets, &stats.TotalBalance, &stats.TotalEscrow, &stats.AvgCreditScore)
	if err != nil {
		return nil, fmt.Errorf("database error: %w", err)
	}

	err = r.q.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(status = 'ACTIVE'), 0), COALESCE(SUM(status = 'PAID'), 0) FROM loans`,
	).Scan(&stats.ActiveLoans, &stats.PaidLoans)
	if err != nil {
		return nil, fmt.Errorf("database error: %w", err)
	}
	return &stats, nil
}
