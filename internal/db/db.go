package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/rs/zerolog"
)

// InitDB opens the MySQL pool and checks it answers. DECIMAL and DATETIME columns are
// scanned directly into decimal.Decimal and time.Time, so parseTime is forced on.
func InitDB(ctx context.Context, dbURL string, maxOpenConns int, logger zerolog.Logger) (*sql.DB, error) {
	cfg, err := mysql.ParseDSN(dbURL)
	if err != nil {
		return nil, fmt.Errorf("invalid DB_URL: %w", err)
	}
	cfg.ParseTime = true
	cfg.Loc = time.UTC

	db, err := sql.Open("mysql", cfg.FormatDSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if maxOpenConns > 0 {
		db.SetMaxOpenConns(maxOpenConns)
		db.SetMaxIdleConns(maxOpenConns / 2)
	}
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("database is not responding: %w", err)
	}

	logger.Info().Str("addr", cfg.Addr).Str("database", cfg.DBName).Msg("Connected to database")
	return db, nil
}

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS wallets (
		id CHAR(36) PRIMARY KEY,
		user_id VARCHAR(64) NOT NULL,
		user_type VARCHAR(32) NOT NULL DEFAULT 'farmer',
		balance DECIMAL(20,2) NOT NULL DEFAULT 0,
		escrow_balance DECIMAL(20,2) NOT NULL DEFAULT 0,
		credit_score INT NOT NULL DEFAULT 300,
		credit_tier VARCHAR(16) NOT NULL DEFAULT 'BRONZE',
		loan_limit DECIMAL(20,2) NOT NULL DEFAULT 0,
		current_loan DECIMAL(20,2) NOT NULL DEFAULT 0,
		daily_withdraw_limit DECIMAL(20,2) NOT NULL,
		single_transaction_limit DECIMAL(20,2) NOT NULL,
		requires_pin_for_amount DECIMAL(20,2) NOT NULL,
		daily_withdrawn_today DECIMAL(20,2) NOT NULL DEFAULT 0,
		last_withdraw_reset DATETIME(6) NOT NULL,
		is_verified BOOLEAN NOT NULL DEFAULT FALSE,
		pin_hash VARCHAR(255) NOT NULL DEFAULT '',
		version BIGINT NOT NULL DEFAULT 1,
		created_at DATETIME(6) NOT NULL,
		updated_at DATETIME(6) NOT NULL,
		UNIQUE KEY user_id (user_id),
		CHECK (balance >= 0),
		CHECK (escrow_balance >= 0),
		CHECK (current_loan >= 0)
	)`,
	`CREATE TABLE IF NOT EXISTS transactions (
		id CHAR(36) PRIMARY KEY,
		seq BIGINT NOT NULL AUTO_INCREMENT,
		wallet_id CHAR(36) NOT NULL,
		type VARCHAR(32) NOT NULL,
		amount DECIMAL(20,2) NOT NULL,
		balance_before DECIMAL(20,2) NOT NULL,
		balance_after DECIMAL(20,2) NOT NULL,
		reference_id VARCHAR(64),
		reference_type VARCHAR(32),
		description VARCHAR(512) NOT NULL DEFAULT '',
		description_ar VARCHAR(512) NOT NULL DEFAULT '',
		status VARCHAR(16) NOT NULL,
		idempotency_key VARCHAR(128),
		user_id VARCHAR(64),
		ip_address VARCHAR(64),
		created_at DATETIME(6) NOT NULL,
		updated_at DATETIME(6) NOT NULL,
		UNIQUE KEY seq (seq),
		UNIQUE KEY idempotency_key (idempotency_key),
		INDEX idx_wallet_created (wallet_id, created_at),
		INDEX idx_reference (reference_type, reference_id),
		FOREIGN KEY (wallet_id) REFERENCES wallets(id)
	)`,
	`CREATE TABLE IF NOT EXISTS wallet_audit_logs (
		id CHAR(36) PRIMARY KEY,
		wallet_id CHAR(36) NOT NULL,
		transaction_id CHAR(36),
		user_id VARCHAR(64),
		operation VARCHAR(32) NOT NULL,
		balance_before DECIMAL(20,2) NOT NULL,
		balance_after DECIMAL(20,2) NOT NULL,
		amount DECIMAL(20,2) NOT NULL,
		escrow_balance_before DECIMAL(20,2),
		escrow_balance_after DECIMAL(20,2),
		version_before BIGINT NOT NULL,
		version_after BIGINT NOT NULL,
		idempotency_key VARCHAR(128),
		ip_address VARCHAR(64),
		metadata JSON,
		created_at DATETIME(6) NOT NULL,
		updated_at DATETIME(6) NOT NULL,
		INDEX idx_wallet_version (wallet_id, version_after),
		FOREIGN KEY (wallet_id) REFERENCES wallets(id)
	)`,
	`CREATE TABLE IF NOT EXISTS escrows (
		id CHAR(36) PRIMARY KEY,
		order_id VARCHAR(64) NOT NULL,
		buyer_wallet_id CHAR(36) NOT NULL,
		seller_wallet_id CHAR(36) NOT NULL,
		amount DECIMAL(20,2) NOT NULL,
		status VARCHAR(16) NOT NULL,
		released_at DATETIME(6),
		refunded_at DATETIME(6),
		dispute_reason VARCHAR(512),
		notes TEXT,
		created_at DATETIME(6) NOT NULL,
		updated_at DATETIME(6) NOT NULL,
		UNIQUE KEY order_id (order_id),
		INDEX idx_buyer (buyer_wallet_id),
		INDEX idx_seller (seller_wallet_id),
		FOREIGN KEY (buyer_wallet_id) REFERENCES wallets(id),
		FOREIGN KEY (seller_wallet_id) REFERENCES wallets(id)
	)`,
	`CREATE TABLE IF NOT EXISTS loans (
		id CHAR(36) PRIMARY KEY,
		wallet_id CHAR(36) NOT NULL,
		amount DECIMAL(20,2) NOT NULL,
		interest_rate DECIMAL(8,4) NOT NULL DEFAULT 0,
		total_due DECIMAL(20,2) NOT NULL,
		paid_amount DECIMAL(20,2) NOT NULL DEFAULT 0,
		term_months INT NOT NULL,
		start_date DATETIME(6) NOT NULL,
		due_date DATETIME(6) NOT NULL,
		purpose VARCHAR(32) NOT NULL,
		purpose_details VARCHAR(512),
		collateral_type VARCHAR(64),
		collateral_value DECIMAL(20,2),
		status VARCHAR(16) NOT NULL,
		created_at DATETIME(6) NOT NULL,
		updated_at DATETIME(6) NOT NULL,
		INDEX idx_wallet_status (wallet_id, status),
		FOREIGN KEY (wallet_id) REFERENCES wallets(id)
	)`,
	`CREATE TABLE IF NOT EXISTS scheduled_payments (
		id CHAR(36) PRIMARY KEY,
		wallet_id CHAR(36) NOT NULL,
		loan_id CHAR(36),
		amount DECIMAL(20,2) NOT NULL,
		frequency VARCHAR(16) NOT NULL,
		next_payment_date DATETIME(6) NOT NULL,
		last_payment_date DATETIME(6),
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		failed_attempts INT NOT NULL DEFAULT 0,
		last_failure_reason VARCHAR(255),
		description VARCHAR(512) NOT NULL DEFAULT '',
		description_ar VARCHAR(512) NOT NULL DEFAULT '',
		created_at DATETIME(6) NOT NULL,
		updated_at DATETIME(6) NOT NULL,
		INDEX idx_due (is_active, next_payment_date),
		INDEX idx_wallet (wallet_id),
		FOREIGN KEY (wallet_id) REFERENCES wallets(id)
	)`,
	`CREATE TABLE IF NOT EXISTS credit_events (
		id CHAR(36) PRIMARY KEY,
		seq BIGINT NOT NULL AUTO_INCREMENT,
		wallet_id CHAR(36) NOT NULL,
		event_type VARCHAR(32) NOT NULL,
		amount DECIMAL(20,2),
		impact INT NOT NULL,
		description VARCHAR(512) NOT NULL DEFAULT '',
		metadata JSON,
		created_at DATETIME(6) NOT NULL,
		updated_at DATETIME(6) NOT NULL,
		UNIQUE KEY seq (seq),
		INDEX idx_wallet_created (wallet_id, created_at),
		FOREIGN KEY (wallet_id) REFERENCES wallets(id)
	)`,
}

// RunMigrations creates the ledger schema. Every statement is idempotent.
func RunMigrations(ctx context.Context, db *sql.DB, logger zerolog.Logger) error {
	for _, q := range migrations {
		if _, err := db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("migration failed (%s): %w", tableName(q), err)
		}
	}
	logger.Info().Int("tables", len(migrations)).Msg("Migrations completed")
	return nil
}

func tableName(q string) string {
	fields := strings.Fields(q)
	for i, f := range fields {
		if f == "EXISTS" && i+1 < len(fields) {
			return fields[i+1]
		}
	}
	return "unknown"
}
