package rentalstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"rentrails/internal/escrow"
)

// PostgresStore persists agreements in a PostgreSQL table, the agreement
// body as JSONB with the status denormalized for querying.
type PostgresStore struct {
	pool *pgxpool.Pool
}

const createAgreementsSQL = `
CREATE TABLE IF NOT EXISTS rental_agreements (
    id TEXT PRIMARY KEY,
    status TEXT NOT NULL,
    body JSONB NOT NULL,
    created_at TIMESTAMPTZ NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL
);
`

// NewPostgresStore connects using the DSN and ensures the table exists.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	if dsn == "" {
		return nil, errors.New("postgres dsn is empty")
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	if _, err := pool.Exec(ctx, createAgreementsSQL); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresStore{pool: pool}, nil
}

func (p *PostgresStore) Close() {
	if p.pool != nil {
		p.pool.Close()
	}
}

func (p *PostgresStore) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

func (p *PostgresStore) Create(ctx context.Context, agreement *escrow.RentalAgreement) error {
	body, err := json.Marshal(agreement)
	if err != nil {
		return err
	}
	tag, err := p.pool.Exec(ctx, `
INSERT INTO rental_agreements (id, status, body, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (id) DO NOTHING
`, agreement.ID, agreement.Status.String(), body, agreement.CreatedAt, agreement.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("agreement %s: %w", agreement.ID, ErrDuplicateID)
	}
	return nil
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*escrow.RentalAgreement, error) {
	row := p.pool.QueryRow(ctx, `SELECT body FROM rental_agreements WHERE id = $1`, id)

	var body []byte
	if err := row.Scan(&body); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("agreement %s: %w", id, escrow.ErrAgreementNotFound)
		}
		return nil, err
	}
	agreement := new(escrow.RentalAgreement)
	if err := json.Unmarshal(body, agreement); err != nil {
		return nil, err
	}
	return agreement, nil
}

func (p *PostgresStore) Update(ctx context.Context, agreement *escrow.RentalAgreement) error {
	body, err := json.Marshal(agreement)
	if err != nil {
		return err
	}
	tag, err := p.pool.Exec(ctx, `
UPDATE rental_agreements
SET status = $2, body = $3, updated_at = $4
WHERE id = $1
`, agreement.ID, agreement.Status.String(), body, agreement.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("agreement %s: %w", agreement.ID, escrow.ErrAgreementNotFound)
	}
	return nil
}
