package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const accountsSchema = `
CREATE TABLE IF NOT EXISTS accounts (
  account_id TEXT PRIMARY KEY,
  balance    INTEGER NOT NULL,
  created_at INTEGER NOT NULL,
  updated_at INTEGER NOT NULL
);`

// SQLiteStore persists account balances in a local SQLite database.
type SQLiteStore struct {
	sqlDB *sql.DB
	now   func() time.Time
}

// OpenSQLite opens the balance store at path and applies the schema.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("ledger path is required")
	}
	dsn := filepath.Clean(path) + "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open ledger db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping ledger db: %w", err)
	}
	if _, err := sqlDB.Exec(accountsSchema); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("apply ledger schema: %w", err)
	}
	return &SQLiteStore{sqlDB: sqlDB, now: time.Now}, nil
}

// Close closes the SQLite handle.
func (s *SQLiteStore) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// Ensure returns the account balance, creating the account on first sight.
func (s *SQLiteStore) Ensure(ctx context.Context, accountID string, starting int64) (int64, error) {
	if err := s.ready(ctx); err != nil {
		return 0, err
	}
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return 0, fmt.Errorf("account id is required")
	}
	//1.- Insert-or-ignore keeps the existing balance for returning accounts.
	nowMillis := s.now().UTC().UnixMilli()
	_, err := s.sqlDB.ExecContext(
		ctx,
		`INSERT INTO accounts (account_id, balance, created_at, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(account_id) DO NOTHING`,
		accountID, starting, nowMillis, nowMillis,
	)
	if err != nil {
		return 0, fmt.Errorf("ensure account: %w", err)
	}
	return s.Balance(ctx, accountID)
}

// Balance reads the durable balance for the account.
func (s *SQLiteStore) Balance(ctx context.Context, accountID string) (int64, error) {
	if err := s.ready(ctx); err != nil {
		return 0, err
	}
	var balance int64
	err := s.sqlDB.QueryRowContext(
		ctx,
		`SELECT balance FROM accounts WHERE account_id = ?`,
		strings.TrimSpace(accountID),
	).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("%w: %s", ErrNoAccount, accountID)
	}
	if err != nil {
		return 0, fmt.Errorf("read balance: %w", err)
	}
	return balance, nil
}

// SetBalance overwrites the durable balance for the account.
func (s *SQLiteStore) SetBalance(ctx context.Context, accountID string, value int64) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	result, err := s.sqlDB.ExecContext(
		ctx,
		`UPDATE accounts SET balance = ?, updated_at = ? WHERE account_id = ?`,
		value, s.now().UTC().UnixMilli(), strings.TrimSpace(accountID),
	)
	if err != nil {
		return fmt.Errorf("write balance: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("write balance: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", ErrNoAccount, accountID)
	}
	return nil
}

func (s *SQLiteStore) ready(ctx context.Context) error {
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("ledger store is not configured")
	}
	return ctx.Err()
}
