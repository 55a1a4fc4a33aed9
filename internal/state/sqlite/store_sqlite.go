package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"bn-hedge-bot/internal/state"

	_ "modernc.org/sqlite"
)

type Store struct {
	db *sql.DB
}

func New(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func initSchema(db *sql.DB) error {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS accounts (
		uid INTEGER PRIMARY KEY,
		updated_at INTEGER NOT NULL,
		api_key TEXT NOT NULL,
		api_secret TEXT NOT NULL,
		account_state INTEGER NOT NULL DEFAULT 0,
		asset_valuation REAL NOT NULL DEFAULT 0,
		usdt_balance REAL NOT NULL DEFAULT 0,
		margin_ratio REAL NOT NULL DEFAULT 0
	)`)
	if err != nil {
		return err
	}
	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_accounts_api_key ON accounts (api_key)`)
	return err
}

func (s *Store) UpsertAccount(ctx context.Context, record state.AccountRecord) error {
	updatedAt := record.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO accounts
		(uid, updated_at, api_key, api_secret, account_state, asset_valuation, usdt_balance, margin_ratio)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(uid) DO UPDATE SET
			updated_at = excluded.updated_at,
			api_key = excluded.api_key,
			api_secret = excluded.api_secret,
			account_state = excluded.account_state,
			asset_valuation = excluded.asset_valuation,
			usdt_balance = excluded.usdt_balance,
			margin_ratio = excluded.margin_ratio`,
		record.UID, updatedAt.UnixMilli(), record.APIKey, record.APISecret,
		record.AccountState, record.AssetValuation, record.USDTBalance, record.MarginRatio)
	return err
}

func (s *Store) GetByUID(ctx context.Context, uid int64) (state.AccountRecord, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT uid, updated_at, api_key, api_secret, account_state, asset_valuation, usdt_balance, margin_ratio
		FROM accounts WHERE uid = ?`, uid)
	return scanRecord(row)
}

func (s *Store) GetByAPIKey(ctx context.Context, apiKey, apiSecret string) (state.AccountRecord, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT uid, updated_at, api_key, api_secret, account_state, asset_valuation, usdt_balance, margin_ratio
		FROM accounts WHERE api_key = ? AND api_secret = ?`, apiKey, apiSecret)
	return scanRecord(row)
}

func (s *Store) SetAccountState(ctx context.Context, uid int64, accountState int) error {
	_, err := s.db.ExecContext(ctx, `UPDATE accounts SET account_state = ?, updated_at = ? WHERE uid = ?`,
		accountState, time.Now().UnixMilli(), uid)
	return err
}

func (s *Store) Close() error {
	return s.db.Close()
}

func scanRecord(row *sql.Row) (state.AccountRecord, bool, error) {
	var record state.AccountRecord
	var updatedAtMS int64
	err := row.Scan(&record.UID, &updatedAtMS, &record.APIKey, &record.APISecret,
		&record.AccountState, &record.AssetValuation, &record.USDTBalance, &record.MarginRatio)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return state.AccountRecord{}, false, nil
		}
		return state.AccountRecord{}, false, err
	}
	record.UpdatedAt = time.UnixMilli(updatedAtMS)
	return record, true, nil
}
