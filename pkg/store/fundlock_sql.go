package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/stakebound/core/pkg/contracts"
	"github.com/stakebound/core/pkg/finance"
)

// SQLFundLockStore implements FundLockStore over database/sql.
type SQLFundLockStore struct {
	db      *sql.DB
	dialect Dialect
}

// NewSQLiteFundLockStore creates and migrates a sqlite-backed store.
func NewSQLiteFundLockStore(db *sql.DB) (*SQLFundLockStore, error) {
	s := &SQLFundLockStore{db: db, dialect: DialectSQLite}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

// NewPostgresFundLockStore creates and migrates a postgres-backed store.
func NewPostgresFundLockStore(db *sql.DB) (*SQLFundLockStore, error) {
	s := &SQLFundLockStore{db: db, dialect: DialectPostgres}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLFundLockStore) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS fund_locks (
		id TEXT PRIMARY KEY,
		contract_id TEXT NOT NULL,
		external_lock_id TEXT NOT NULL,
		amount_minor BIGINT NOT NULL,
		currency TEXT NOT NULL,
		status TEXT NOT NULL,
		created_at BIGINT NOT NULL,
		settled_at BIGINT
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_fund_locks_one_locked_per_contract
		ON fund_locks (contract_id)
		WHERE status = 'LOCKED';`
	_, err := s.db.ExecContext(context.Background(), query)
	return err
}

// Create implements FundLockStore.
func (s *SQLFundLockStore) Create(ctx context.Context, l *contracts.FundLock) error {
	query := rebind(s.dialect, `INSERT INTO fund_locks
		(id, contract_id, external_lock_id, amount_minor, currency, status, created_at, settled_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	_, err := s.db.ExecContext(ctx, query,
		l.ID, l.ContractID, l.ExternalLockID, l.Amount.AmountMinor, l.Amount.Currency,
		string(l.Status), toMs(l.CreatedAt), toMsPtr(l.SettledAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("contract %s already has a locked stake: %w", l.ContractID, err)
		}
		return fmt.Errorf("insert fund lock: %w", err)
	}
	return nil
}

// GetLockedByContract implements FundLockStore.
func (s *SQLFundLockStore) GetLockedByContract(ctx context.Context, contractID string) (*contracts.FundLock, error) {
	query := rebind(s.dialect, `SELECT id, contract_id, external_lock_id, amount_minor, currency, status, created_at, settled_at
		FROM fund_locks WHERE contract_id = ? AND status = 'LOCKED'`)
	row := s.db.QueryRowContext(ctx, query, contractID)

	var (
		id, cid, extID, currency, status string
		amountMinor, createdAt           int64
		settledAt                        sql.NullInt64
	)
	err := row.Scan(&id, &cid, &extID, &amountMinor, &currency, &status, &createdAt, &settledAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get locked fund lock: %w", err)
	}

	return &contracts.FundLock{
		ID:             id,
		ContractID:     cid,
		ExternalLockID: extID,
		Amount:         finance.NewMoney(amountMinor, currency),
		Status:         contracts.FundLockStatus(status),
		CreatedAt:      fromMs(createdAt),
		SettledAt:      fromMsPtr(settledAt.Int64, settledAt.Valid),
	}, nil
}

// Settle implements FundLockStore.
func (s *SQLFundLockStore) Settle(ctx context.Context, lockID string, to contracts.FundLockStatus, at time.Time) (bool, error) {
	query := rebind(s.dialect, `UPDATE fund_locks SET status = ?, settled_at = ?
		WHERE id = ? AND status = 'LOCKED'`)
	res, err := s.db.ExecContext(ctx, query, string(to), toMs(at), lockID)
	if err != nil {
		return false, fmt.Errorf("settle fund lock: %w", err)
	}
	return affectedOne(res)
}
