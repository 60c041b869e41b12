package reservation

import (
	"errors"
	"time"

	"github.com/terralot/terralot/internal/shared"
)

// OptionStatus enumerates the lifecycle states of an option.
type OptionStatus string

const (
	// OptionStatusActive is the only non-terminal status; at most one active
	// option exists per lot, enforced by a partial unique index.
	OptionStatusActive OptionStatus = "ACTIVE"
	// OptionStatusExpired is set by the sweeper once expires_at has passed.
	OptionStatusExpired OptionStatus = "EXPIRED"
	// OptionStatusCancelled is set by explicit cancellation or a forced
	// return of the lot to available.
	OptionStatusCancelled OptionStatus = "CANCELLED"
	// OptionStatusConverted is set when the lot progresses toward a sale
	// while this option holds it.
	OptionStatusConverted OptionStatus = "CONVERTED"
)

// Terminal reports whether the status is immutable.
func (s OptionStatus) Terminal() bool {
	return s != OptionStatusActive
}

// Option models a time-bounded exclusive hold on a lot.
type Option struct {
	ID        string
	LotID     string
	PartnerID string
	BuyerID   string
	Status    OptionStatus
	PlacedAt  time.Time
	ExpiresAt time.Time
	PlacedBy  shared.ActorKind
	CreatedAt time.Time
}

// PlaceInput describes a placement request.
type PlaceInput struct {
	LotID     string
	PartnerID string
	BuyerID   string
	// RequestedBy decides which checks apply: partners are subject to quota
	// and buyer-portfolio ownership, admins are not.
	RequestedBy shared.ActorKind
	// DurationOverrideDays replaces the policy duration. Honored only for
	// admin placements.
	DurationOverrideDays int
}

// PlacedEvent is the snapshot handed to the notification sink after a
// successful placement.
type PlacedEvent struct {
	OptionID     string    `json:"option_id"`
	LotID        string    `json:"lot_id"`
	LotReference string    `json:"lot_reference"`
	PartnerID    string    `json:"partner_id"`
	BuyerID      string    `json:"buyer_id,omitempty"`
	PlacedAt     time.Time `json:"placed_at"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// Expected, recoverable outcomes returned to callers as typed results.
var (
	// ErrLotNotAvailable means the lot is not currently free.
	ErrLotNotAvailable = errors.New("reservation: lot not available")
	// ErrLotAlreadyHeld means the caller lost a race or acted on a stale view.
	ErrLotAlreadyHeld = errors.New("reservation: lot already held")
	// ErrQuotaExceeded means the partner is at its simultaneous-option cap.
	ErrQuotaExceeded = errors.New("reservation: partner quota exceeded")
	// ErrBuyerNotOwned means the buyer is not in the partner's portfolio.
	ErrBuyerNotOwned = errors.New("reservation: buyer not in partner portfolio")
	// ErrNotFound means an unknown option or lot id.
	ErrNotFound = errors.New("reservation: not found")
	// ErrInvalidTransition means a forced lot status change was rejected.
	ErrInvalidTransition = errors.New("reservation: invalid lot status transition")
)
