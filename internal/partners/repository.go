package partners

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository provides PostgreSQL backed persistence for partners and buyers.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// GetPartner returns a partner by id.
func (r *Repository) GetPartner(ctx context.Context, id string) (Partner, error) {
	var p Partner
	err := r.pool.QueryRow(ctx, `SELECT id, name, api_key_hash, max_simultaneous, duration_days, created_at FROM partners WHERE id = $1`, id).
		Scan(&p.ID, &p.Name, &p.APIKeyHash, &p.MaxSimultaneous, &p.DurationDays, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Partner{}, ErrPartnerNotFound
		}
		return Partner{}, fmt.Errorf("partners: get partner: %w", err)
	}
	return p, nil
}

// BuyerBelongsToPartner reports whether the buyer is in the partner's portfolio.
func (r *Repository) BuyerBelongsToPartner(ctx context.Context, buyerID, partnerID string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM buyers WHERE id = $1 AND partner_id = $2)`, buyerID, partnerID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("partners: buyer ownership check: %w", err)
	}
	return exists, nil
}
