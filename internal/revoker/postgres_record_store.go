package revoker

import (
	"context"
	"database/sql"
	"strings"
	"time"
)

// PostgresRecordStore persists revocation records in PostgreSQL.
type PostgresRecordStore struct {
	db *sql.DB
}

// NewPostgresRecordStore creates a new PostgreSQL-backed record store.
func NewPostgresRecordStore(db *sql.DB) *PostgresRecordStore {
	return &PostgresRecordStore{db: db}
}

func (p *PostgresRecordStore) Create(ctx context.Context, r *Record) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO revocation_records (
			approval_id, owner_addr, token_addr, spender_addr,
			tx_hash, strategy, status, submitted_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (approval_id)
		DO UPDATE SET
			tx_hash = EXCLUDED.tx_hash,
			strategy = EXCLUDED.strategy,
			status = EXCLUDED.status,
			submitted_at = EXCLUDED.submitted_at,
			confirmed_at = NULL`,
		r.ApprovalID, r.Owner, r.Token, r.Spender,
		r.TxHash, r.Strategy, r.Status, r.SubmittedAt,
	)
	return err
}

func (p *PostgresRecordStore) UpdateStatus(ctx context.Context, approvalID, status string, confirmedAt *time.Time) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE revocation_records
		SET status = $2, confirmed_at = $3
		WHERE approval_id = $1`,
		approvalID, status, confirmedAt,
	)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrRecordNotFound
	}
	return nil
}

func (p *PostgresRecordStore) Get(ctx context.Context, approvalID string) (*Record, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT approval_id, owner_addr, token_addr, spender_addr,
		       tx_hash, strategy, status, submitted_at, confirmed_at
		FROM revocation_records WHERE approval_id = $1`, approvalID)

	r, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, ErrRecordNotFound
	}
	return r, err
}

func (p *PostgresRecordStore) ListByOwner(ctx context.Context, owner string, limit int) ([]*Record, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT approval_id, owner_addr, token_addr, spender_addr,
		       tx_hash, strategy, status, submitted_at, confirmed_at
		FROM revocation_records
		WHERE owner_addr = $1
		ORDER BY submitted_at DESC
		LIMIT $2`, strings.ToLower(owner), limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []*Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, r)
	}
	return result, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(sc scanner) (*Record, error) {
	r := &Record{}
	var confirmedAt sql.NullTime

	err := sc.Scan(
		&r.ApprovalID, &r.Owner, &r.Token, &r.Spender,
		&r.TxHash, &r.Strategy, &r.Status, &r.SubmittedAt, &confirmedAt,
	)
	if err != nil {
		return nil, err
	}

	if confirmedAt.Valid {
		r.ConfirmedAt = &confirmedAt.Time
	}
	return r, nil
}

var _ RecordStore = (*PostgresRecordStore)(nil)
