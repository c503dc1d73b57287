package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/stakebound/core/pkg/contracts"
	"github.com/stakebound/core/pkg/finance"
)

const contractColumns = `id, user_id, goal_id, group_id, stake_type, stake_amount_minor, stake_currency,
	anti_charity_cause, anti_charity_url, verification_method, referee_id,
	deadline, created_at, status,
	self_verify_offered_at, self_verify_expires_at, self_verified_at,
	last_reminder_sent_at, last_slip_detected_at, failed_at, succeeded_at`

// SQLContractStore implements ContractStore over database/sql.
type SQLContractStore struct {
	db      *sql.DB
	dialect Dialect
}

// NewSQLiteContractStore creates and migrates a sqlite-backed store.
func NewSQLiteContractStore(db *sql.DB) (*SQLContractStore, error) {
	s := &SQLContractStore{db: db, dialect: DialectSQLite}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

// NewPostgresContractStore creates and migrates a postgres-backed store.
func NewPostgresContractStore(db *sql.DB) (*SQLContractStore, error) {
	s := &SQLContractStore{db: db, dialect: DialectPostgres}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLContractStore) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS commitment_contracts (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		goal_id TEXT NOT NULL,
		group_id TEXT NOT NULL DEFAULT '',
		stake_type TEXT NOT NULL,
		stake_amount_minor BIGINT,
		stake_currency TEXT,
		anti_charity_cause TEXT NOT NULL DEFAULT '',
		anti_charity_url TEXT NOT NULL DEFAULT '',
		verification_method TEXT NOT NULL,
		referee_id TEXT NOT NULL DEFAULT '',
		deadline BIGINT NOT NULL,
		created_at BIGINT NOT NULL,
		status TEXT NOT NULL,
		self_verify_offered_at BIGINT,
		self_verify_expires_at BIGINT,
		self_verified_at BIGINT,
		last_reminder_sent_at BIGINT,
		last_slip_detected_at BIGINT,
		failed_at BIGINT,
		succeeded_at BIGINT
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_contracts_one_open_per_goal
		ON commitment_contracts (goal_id)
		WHERE status IN ('ACTIVE', 'PENDING_VERIFICATION');
	CREATE INDEX IF NOT EXISTS idx_contracts_status_deadline
		ON commitment_contracts (status, deadline);`
	_, err := s.db.ExecContext(context.Background(), query)
	return err
}

// Create implements ContractStore. The partial unique index converts the
// duplicate-open-contract race into a unique violation.
func (s *SQLContractStore) Create(ctx context.Context, c *contracts.CommitmentContract) error {
	query := rebind(s.dialect, `INSERT INTO commitment_contracts (`+contractColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)

	var amountMinor, currency any
	if c.StakeAmount != nil {
		amountMinor = c.StakeAmount.AmountMinor
		currency = c.StakeAmount.Currency
	}

	_, err := s.db.ExecContext(ctx, query,
		c.ID, c.UserID, c.GoalID, c.GroupID, string(c.StakeType), amountMinor, currency,
		c.AntiCharityCause, c.AntiCharityURL, string(c.VerificationMethod), c.RefereeID,
		toMs(c.Deadline), toMs(c.CreatedAt), string(c.Status),
		toMsPtr(c.SelfVerifyOfferedAt), toMsPtr(c.SelfVerifyExpiresAt), toMsPtr(c.SelfVerifiedAt),
		toMsPtr(c.LastReminderSentAt), toMsPtr(c.LastSlipDetectedAt), toMsPtr(c.FailedAt), toMsPtr(c.SucceededAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return contracts.ErrDuplicateActiveContract
		}
		return fmt.Errorf("insert contract: %w", err)
	}
	return nil
}

// Get implements ContractStore.
func (s *SQLContractStore) Get(ctx context.Context, id string) (*contracts.CommitmentContract, error) {
	query := rebind(s.dialect, `SELECT `+contractColumns+` FROM commitment_contracts WHERE id = ?`)
	row := s.db.QueryRowContext(ctx, query, id)
	c, err := scanContract(row)
	if err == sql.ErrNoRows {
		return nil, contracts.ErrContractNotFound
	}
	return c, err
}

// UpdateStatus implements ContractStore.
func (s *SQLContractStore) UpdateStatus(ctx context.Context, id string, from, to contracts.ContractStatus, at time.Time) (bool, error) {
	var query string
	switch to {
	case contracts.StatusFailed:
		query = `UPDATE commitment_contracts SET status = ?, failed_at = ? WHERE id = ? AND status = ?`
	case contracts.StatusSucceeded:
		query = `UPDATE commitment_contracts SET status = ?, succeeded_at = ? WHERE id = ? AND status = ?`
	default:
		query = `UPDATE commitment_contracts SET status = ? WHERE id = ? AND status = ?`
	}

	var res sql.Result
	var err error
	if to == contracts.StatusFailed || to == contracts.StatusSucceeded {
		res, err = s.db.ExecContext(ctx, rebind(s.dialect, query), string(to), toMs(at), id, string(from))
	} else {
		res, err = s.db.ExecContext(ctx, rebind(s.dialect, query), string(to), id, string(from))
	}
	if err != nil {
		return false, fmt.Errorf("update contract status: %w", err)
	}
	return affectedOne(res)
}

// ListOverdueActive implements ContractStore.
func (s *SQLContractStore) ListOverdueActive(ctx context.Context, now time.Time) ([]*contracts.CommitmentContract, error) {
	query := rebind(s.dialect, `SELECT `+contractColumns+` FROM commitment_contracts
		WHERE status = 'ACTIVE' AND deadline < ?
		ORDER BY deadline ASC`)
	return s.queryList(ctx, query, toMs(now))
}

// ListPendingVerification implements ContractStore.
func (s *SQLContractStore) ListPendingVerification(ctx context.Context) ([]*contracts.CommitmentContract, error) {
	query := `SELECT ` + contractColumns + ` FROM commitment_contracts
		WHERE status = 'PENDING_VERIFICATION'
		ORDER BY deadline ASC`
	return s.queryList(ctx, query)
}

// ListActive implements ContractStore.
func (s *SQLContractStore) ListActive(ctx context.Context) ([]*contracts.CommitmentContract, error) {
	query := `SELECT ` + contractColumns + ` FROM commitment_contracts
		WHERE status = 'ACTIVE'
		ORDER BY deadline ASC`
	return s.queryList(ctx, query)
}

// ListDueForReminder implements ContractStore.
func (s *SQLContractStore) ListDueForReminder(ctx context.Context, now time.Time, lead, cooldown time.Duration) ([]*contracts.CommitmentContract, error) {
	query := rebind(s.dialect, `SELECT `+contractColumns+` FROM commitment_contracts
		WHERE status = 'ACTIVE'
		  AND deadline > ?
		  AND deadline <= ?
		  AND (last_reminder_sent_at IS NULL OR last_reminder_sent_at < ?)
		ORDER BY deadline ASC`)
	return s.queryList(ctx, query, toMs(now), toMs(now.Add(lead)), toMs(now.Add(-cooldown)))
}

// MarkReminderSent implements ContractStore.
func (s *SQLContractStore) MarkReminderSent(ctx context.Context, id string, at time.Time, cooldown time.Duration) (bool, error) {
	query := rebind(s.dialect, `UPDATE commitment_contracts SET last_reminder_sent_at = ?
		WHERE id = ? AND status = 'ACTIVE'
		  AND (last_reminder_sent_at IS NULL OR last_reminder_sent_at < ?)`)
	res, err := s.db.ExecContext(ctx, query, toMs(at), id, toMs(at.Add(-cooldown)))
	if err != nil {
		return false, fmt.Errorf("mark reminder sent: %w", err)
	}
	return affectedOne(res)
}

// OfferSelfVerify implements ContractStore.
func (s *SQLContractStore) OfferSelfVerify(ctx context.Context, id string, offeredAt, expiresAt time.Time) (bool, error) {
	query := rebind(s.dialect, `UPDATE commitment_contracts
		SET self_verify_offered_at = ?, self_verify_expires_at = ?
		WHERE id = ? AND status = 'PENDING_VERIFICATION' AND self_verify_offered_at IS NULL`)
	res, err := s.db.ExecContext(ctx, query, toMs(offeredAt), toMs(expiresAt), id)
	if err != nil {
		return false, fmt.Errorf("offer self-verify: %w", err)
	}
	return affectedOne(res)
}

// RecordSelfVerify implements ContractStore.
func (s *SQLContractStore) RecordSelfVerify(ctx context.Context, id string, at time.Time) (bool, error) {
	query := rebind(s.dialect, `UPDATE commitment_contracts SET self_verified_at = ?
		WHERE id = ? AND status = 'PENDING_VERIFICATION'
		  AND self_verify_offered_at IS NOT NULL
		  AND self_verify_expires_at > ?
		  AND self_verified_at IS NULL`)
	res, err := s.db.ExecContext(ctx, query, toMs(at), id, toMs(at))
	if err != nil {
		return false, fmt.Errorf("record self-verify: %w", err)
	}
	return affectedOne(res)
}

// StampSlipDetected implements ContractStore.
func (s *SQLContractStore) StampSlipDetected(ctx context.Context, id string, at time.Time) error {
	query := rebind(s.dialect, `UPDATE commitment_contracts SET last_slip_detected_at = ? WHERE id = ?`)
	if _, err := s.db.ExecContext(ctx, query, toMs(at), id); err != nil {
		return fmt.Errorf("stamp slip detected: %w", err)
	}
	return nil
}

// CountByStatus implements ContractStore.
func (s *SQLContractStore) CountByStatus(ctx context.Context, status contracts.ContractStatus) (int64, error) {
	query := rebind(s.dialect, `SELECT COUNT(*) FROM commitment_contracts WHERE status = ?`)
	var n int64
	if err := s.db.QueryRowContext(ctx, query, string(status)).Scan(&n); err != nil {
		return 0, fmt.Errorf("count contracts: %w", err)
	}
	return n, nil
}

// ListGroupIDs implements ContractStore.
func (s *SQLContractStore) ListGroupIDs(ctx context.Context) ([]string, error) {
	query := `SELECT DISTINCT group_id FROM commitment_contracts WHERE group_id <> '' ORDER BY group_id`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ListByGroup implements ContractStore.
func (s *SQLContractStore) ListByGroup(ctx context.Context, groupID string) ([]*contracts.CommitmentContract, error) {
	query := rebind(s.dialect, `SELECT `+contractColumns+` FROM commitment_contracts
		WHERE group_id = ? ORDER BY created_at ASC`)
	return s.queryList(ctx, query, groupID)
}

func (s *SQLContractStore) queryList(ctx context.Context, query string, args ...any) ([]*contracts.CommitmentContract, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []*contracts.CommitmentContract
	for rows.Next() {
		c, err := scanContract(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, c)
	}
	return result, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanContract(row rowScanner) (*contracts.CommitmentContract, error) {
	var (
		id, userID, goalID, groupID      string
		stakeType, verification          string
		cause, url, refereeID, status    string
		amountMinor                      sql.NullInt64
		currency                         sql.NullString
		deadline, createdAt              int64
		offeredAt, expiresAt, verifiedAt sql.NullInt64
		reminderAt, slipAt               sql.NullInt64
		failedAt, succeededAt            sql.NullInt64
	)

	err := row.Scan(
		&id, &userID, &goalID, &groupID, &stakeType, &amountMinor, &currency,
		&cause, &url, &verification, &refereeID,
		&deadline, &createdAt, &status,
		&offeredAt, &expiresAt, &verifiedAt,
		&reminderAt, &slipAt, &failedAt, &succeededAt,
	)
	if err != nil {
		return nil, err
	}

	c := &contracts.CommitmentContract{
		ID:                  id,
		UserID:              userID,
		GoalID:              goalID,
		GroupID:             groupID,
		StakeType:           contracts.StakeType(stakeType),
		AntiCharityCause:    cause,
		AntiCharityURL:      url,
		VerificationMethod:  contracts.VerificationMethod(verification),
		RefereeID:           refereeID,
		Deadline:            fromMs(deadline),
		CreatedAt:           fromMs(createdAt),
		Status:              contracts.ContractStatus(status),
		SelfVerifyOfferedAt: fromMsPtr(offeredAt.Int64, offeredAt.Valid),
		SelfVerifyExpiresAt: fromMsPtr(expiresAt.Int64, expiresAt.Valid),
		SelfVerifiedAt:      fromMsPtr(verifiedAt.Int64, verifiedAt.Valid),
		LastReminderSentAt:  fromMsPtr(reminderAt.Int64, reminderAt.Valid),
		LastSlipDetectedAt:  fromMsPtr(slipAt.Int64, slipAt.Valid),
		FailedAt:            fromMsPtr(failedAt.Int64, failedAt.Valid),
		SucceededAt:         fromMsPtr(succeededAt.Int64, succeededAt.Valid),
	}

	if amountMinor.Valid {
		money := finance.NewMoney(amountMinor.Int64, currency.String)
		c.StakeAmount = &money
	}

	return c, nil
}

func affectedOne(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}
