package reservation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/terralot/terralot/internal/catalog"
	"github.com/terralot/terralot/internal/platform/db"
)

// uniqueActiveLotConstraint is the partial unique index guaranteeing at most
// one active option per lot. It is the sole source of truth for exclusivity;
// every in-transaction pre-check is only a fail-fast optimisation.
const uniqueActiveLotConstraint = "uq_options_active_lot"

// Repository provides PostgreSQL backed persistence for the option ledger.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes the transactional operations used by the manager.
type TxRepository interface {
	GetLotForUpdate(ctx context.Context, lotID string) (catalog.Lot, error)
	FindActiveOptionByLot(ctx context.Context, lotID string) (*Option, error)
	GetOptionForUpdate(ctx context.Context, optionID string) (Option, error)
	CountActiveHeldOptions(ctx context.Context, partnerID string) (int, error)
	InsertOption(ctx context.Context, option Option) error
	// TransitionOption conditionally moves an option from one status to
	// another; it reports false when the option was no longer in from.
	TransitionOption(ctx context.Context, optionID string, from, to OptionStatus) (bool, error)
	HoldLot(ctx context.Context, lotID, partnerID, buyerID string, at time.Time) error
	ReleaseLot(ctx context.Context, lotID string) error
	SetLotStatus(ctx context.Context, lotID string, status catalog.LotStatus) error
}

type txRepo struct {
	tx pgx.Tx
}

// WithTx wraps the callback in a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

const optionColumns = `id, lot_id, partner_id, buyer_id, status, placed_at, expires_at, placed_by, created_at`

func scanOption(row pgx.Row) (Option, error) {
	var (
		o       Option
		buyerID *string
	)
	err := row.Scan(&o.ID, &o.LotID, &o.PartnerID, &buyerID, &o.Status, &o.PlacedAt, &o.ExpiresAt, &o.PlacedBy, &o.CreatedAt)
	if err != nil {
		return Option{}, err
	}
	if buyerID != nil {
		o.BuyerID = *buyerID
	}
	return o, nil
}

// GetOption returns a single option by id.
func (r *Repository) GetOption(ctx context.Context, optionID string) (Option, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+optionColumns+` FROM options WHERE id = $1`, optionID)
	option, err := scanOption(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Option{}, ErrNotFound
		}
		return Option{}, fmt.Errorf("reservation: get option: %w", err)
	}
	return option, nil
}

// ListActiveOptions returns active options, optionally scoped to one partner.
func (r *Repository) ListActiveOptions(ctx context.Context, partnerID string) ([]Option, error) {
	query := `SELECT ` + optionColumns + ` FROM options WHERE status = 'ACTIVE'`
	args := []any{}
	if partnerID != "" {
		query += ` AND partner_id = $1`
		args = append(args, partnerID)
	}
	query += ` ORDER BY placed_at`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("reservation: list active options: %w", err)
	}
	defer rows.Close()

	var options []Option
	for rows.Next() {
		option, err := scanOption(rows)
		if err != nil {
			return nil, fmt.Errorf("reservation: scan option: %w", err)
		}
		options = append(options, option)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return options, nil
}

// ListExpiredActive returns ids of active options whose expiry has passed.
func (r *Repository) ListExpiredActive(ctx context.Context, now time.Time, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := r.pool.Query(ctx, `SELECT id FROM options WHERE status = 'ACTIVE' AND expires_at <= $1 ORDER BY expires_at LIMIT $2`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("reservation: list expired: %w", err)
	}
	defer rows.Close()

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

func (r *txRepo) GetLotForUpdate(ctx context.Context, lotID string) (catalog.Lot, error) {
	row := r.tx.QueryRow(ctx, `SELECT id, reference, description, price_cents, status, held_by_partner_id, held_for_buyer_id, option_taken_at, created_at, updated_at FROM lots WHERE id = $1 FOR UPDATE`, lotID)
	var (
		lot     catalog.Lot
		heldBy  *string
		heldFor *string
	)
	err := row.Scan(&lot.ID, &lot.Reference, &lot.Description, &lot.PriceCents, &lot.Status, &heldBy, &heldFor, &lot.OptionTakenAt, &lot.CreatedAt, &lot.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return catalog.Lot{}, ErrNotFound
		}
		return catalog.Lot{}, fmt.Errorf("reservation: get lot for update: %w", err)
	}
	if heldBy != nil {
		lot.HeldByPartner = *heldBy
	}
	if heldFor != nil {
		lot.HeldForBuyer = *heldFor
	}
	return lot, nil
}

func (r *txRepo) FindActiveOptionByLot(ctx context.Context, lotID string) (*Option, error) {
	row := r.tx.QueryRow(ctx, `SELECT `+optionColumns+` FROM options WHERE lot_id = $1 AND status = 'ACTIVE'`, lotID)
	option, err := scanOption(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("reservation: find active option: %w", err)
	}
	return &option, nil
}

func (r *txRepo) GetOptionForUpdate(ctx context.Context, optionID string) (Option, error) {
	row := r.tx.QueryRow(ctx, `SELECT `+optionColumns+` FROM options WHERE id = $1 FOR UPDATE`, optionID)
	option, err := scanOption(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Option{}, ErrNotFound
		}
		return Option{}, fmt.Errorf("reservation: get option for update: %w", err)
	}
	return option, nil
}

func (r *txRepo) CountActiveHeldOptions(ctx context.Context, partnerID string) (int, error) {
	var count int
	err := r.tx.QueryRow(ctx, `SELECT COUNT(*) FROM options o JOIN lots l ON l.id = o.lot_id WHERE o.partner_id = $1 AND o.status = 'ACTIVE' AND l.status = 'HELD'`, partnerID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("reservation: count active options: %w", err)
	}
	return count, nil
}

func (r *txRepo) InsertOption(ctx context.Context, option Option) error {
	var buyerID any
	if option.BuyerID != "" {
		buyerID = option.BuyerID
	}
	_, err := r.tx.Exec(ctx, `INSERT INTO options (id, lot_id, partner_id, buyer_id, status, placed_at, expires_at, placed_by, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		option.ID, option.LotID, option.PartnerID, buyerID, string(option.Status), option.PlacedAt, option.ExpiresAt, string(option.PlacedBy), option.CreatedAt)
	if err != nil {
		if db.IsUniqueViolation(err, uniqueActiveLotConstraint) {
			return ErrLotAlreadyHeld
		}
		return fmt.Errorf("reservation: insert option: %w", err)
	}
	return nil
}

func (r *txRepo) TransitionOption(ctx context.Context, optionID string, from, to OptionStatus) (bool, error) {
	tag, err := r.tx.Exec(ctx, `UPDATE options SET status = $1 WHERE id = $2 AND status = $3`, string(to), optionID, string(from))
	if err != nil {
		return false, fmt.Errorf("reservation: transition option: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *txRepo) HoldLot(ctx context.Context, lotID, partnerID, buyerID string, at time.Time) error {
	var buyer any
	if buyerID != "" {
		buyer = buyerID
	}
	tag, err := r.tx.Exec(ctx, `UPDATE lots SET status = 'HELD', held_by_partner_id = $1, held_for_buyer_id = $2, option_taken_at = $3, updated_at = $3 WHERE id = $4 AND status = 'AVAILABLE'`,
		partnerID, buyer, at, lotID)
	if err != nil {
		return fmt.Errorf("reservation: hold lot: %w", err)
	}
	if tag.RowsAffected() != 1 {
		return ErrLotNotAvailable
	}
	return nil
}

func (r *txRepo) ReleaseLot(ctx context.Context, lotID string) error {
	_, err := r.tx.Exec(ctx, `UPDATE lots SET status = 'AVAILABLE', held_by_partner_id = NULL, held_for_buyer_id = NULL, option_taken_at = NULL, updated_at = NOW() WHERE id = $1`, lotID)
	if err != nil {
		return fmt.Errorf("reservation: release lot: %w", err)
	}
	return nil
}

func (r *txRepo) SetLotStatus(ctx context.Context, lotID string, status catalog.LotStatus) error {
	if status == catalog.LotStatusAvailable {
		return r.ReleaseLot(ctx, lotID)
	}
	_, err := r.tx.Exec(ctx, `UPDATE lots SET status = $1, held_by_partner_id = NULL, held_for_buyer_id = NULL, updated_at = NOW() WHERE id = $2`, string(status), lotID)
	if err != nil {
		return fmt.Errorf("reservation: set lot status: %w", err)
	}
	return nil
}
