package catalog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/terralot/terralot/internal/platform/db"
)

// Repository provides PostgreSQL backed persistence for lots.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const lotColumns = `id, reference, description, price_cents, status, held_by_partner_id, held_for_buyer_id, option_taken_at, created_at, updated_at`

func scanLot(row pgx.Row) (Lot, error) {
	var (
		lot     Lot
		heldBy  *string
		heldFor *string
		takenAt *time.Time
	)
	err := row.Scan(&lot.ID, &lot.Reference, &lot.Description, &lot.PriceCents, &lot.Status, &heldBy, &heldFor, &takenAt, &lot.CreatedAt, &lot.UpdatedAt)
	if err != nil {
		return Lot{}, err
	}
	if heldBy != nil {
		lot.HeldByPartner = *heldBy
	}
	if heldFor != nil {
		lot.HeldForBuyer = *heldFor
	}
	lot.OptionTakenAt = takenAt
	return lot, nil
}

// GetLot returns a single lot by id.
func (r *Repository) GetLot(ctx context.Context, id string) (Lot, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+lotColumns+` FROM lots WHERE id = $1`, id)
	lot, err := scanLot(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Lot{}, ErrLotNotFound
		}
		return Lot{}, fmt.Errorf("catalog: get lot: %w", err)
	}
	return lot, nil
}

// ListLots returns lots matching the filter plus the unfiltered-page total.
func (r *Repository) ListLots(ctx context.Context, filter ListFilter) ([]Lot, int, error) {
	perPage := filter.PerPage
	if perPage <= 0 {
		perPage = 20
	}
	page := filter.Page
	if page <= 0 {
		page = 1
	}
	offset := (page - 1) * perPage

	where := ``
	args := []any{perPage, offset}
	if filter.Status != "" {
		where = ` WHERE status = $3`
		args = append(args, string(filter.Status))
	}

	rows, err := r.pool.Query(ctx, `SELECT `+lotColumns+` FROM lots`+where+` ORDER BY reference LIMIT $1 OFFSET $2`, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("catalog: list lots: %w", err)
	}
	defer rows.Close()

	var lots []Lot
	for rows.Next() {
		lot, err := scanLot(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("catalog: scan lot: %w", err)
		}
		lots = append(lots, lot)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	countSQL := `SELECT COUNT(*) FROM lots`
	countArgs := []any{}
	if filter.Status != "" {
		countSQL += ` WHERE status = $1`
		countArgs = append(countArgs, string(filter.Status))
	}
	var total int
	if err := r.pool.QueryRow(ctx, countSQL, countArgs...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("catalog: count lots: %w", err)
	}
	return lots, total, nil
}

// CreateLot inserts a new available lot.
func (r *Repository) CreateLot(ctx context.Context, input CreateLotInput) (Lot, error) {
	now := time.Now().UTC()
	lot := Lot{
		ID:          uuid.NewString(),
		Reference:   input.Reference,
		Description: input.Description,
		PriceCents:  input.PriceCents,
		Status:      LotStatusAvailable,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	_, err := r.pool.Exec(ctx, `INSERT INTO lots (id, reference, description, price_cents, status, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		lot.ID, lot.Reference, lot.Description, lot.PriceCents, string(lot.Status), lot.CreatedAt, lot.UpdatedAt)
	if err != nil {
		if db.IsUniqueViolation(err, "uq_lots_reference") {
			return Lot{}, ErrDuplicateReference
		}
		return Lot{}, fmt.Errorf("catalog: create lot: %w", err)
	}
	return lot, nil
}
