package delegation

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
)

// PostgresStore persists delegations in PostgreSQL as JSONB, one row per
// owner address.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed delegation store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Put(ctx context.Context, owner string, d *Delegation) error {
	payload, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("marshal delegation: %w", err)
	}

	_, err = p.db.ExecContext(ctx, `
		INSERT INTO delegations (user_address, delegation, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (user_address)
		DO UPDATE SET
			delegation = EXCLUDED.delegation,
			updated_at = NOW()`,
		strings.ToLower(owner), payload,
	)
	return err
}

func (p *PostgresStore) Get(ctx context.Context, owner string) (*Delegation, error) {
	var payload []byte
	err := p.db.QueryRowContext(ctx, `
		SELECT delegation FROM delegations WHERE user_address = $1`,
		strings.ToLower(owner),
	).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	d := &Delegation{}
	if err := json.Unmarshal(payload, d); err != nil {
		return nil, fmt.Errorf("unmarshal delegation: %w", err)
	}
	return d, nil
}

func (p *PostgresStore) Exists(ctx context.Context, owner string) (bool, error) {
	var one int
	err := p.db.QueryRowContext(ctx, `
		SELECT 1 FROM delegations WHERE user_address = $1`,
		strings.ToLower(owner),
	).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (p *PostgresStore) Delete(ctx context.Context, owner string) error {
	_, err := p.db.ExecContext(ctx, `
		DELETE FROM delegations WHERE user_address = $1`,
		strings.ToLower(owner),
	)
	return err
}

var _ Store = (*PostgresStore)(nil)
