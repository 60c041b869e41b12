package catalog

import (
	"errors"
	"time"
)

// LotStatus enumerates the lifecycle states of a lot.
type LotStatus string

const (
	// LotStatusAvailable means the lot can be optioned.
	LotStatusAvailable LotStatus = "AVAILABLE"
	// LotStatusHeld means an active option holds the lot.
	LotStatusHeld LotStatus = "HELD"
	// LotStatusAllotted means the lot has been allotted outside the option flow.
	LotStatusAllotted LotStatus = "ALLOTTED"
	// LotStatusReserved means the sale is progressing past the option stage.
	LotStatusReserved LotStatus = "RESERVED"
	// LotStatusUnderContract means a sale contract is being executed.
	LotStatusUnderContract LotStatus = "UNDER_CONTRACT"
	// LotStatusSold is the terminal state of a completed sale.
	LotStatusSold LotStatus = "SOLD"
)

// ValidStatus reports whether s is a known lot status.
func ValidStatus(s LotStatus) bool {
	switch s {
	case LotStatusAvailable, LotStatusHeld, LotStatusAllotted, LotStatusReserved, LotStatusUnderContract, LotStatusSold:
		return true
	}
	return false
}

// Lot models a sellable real-estate unit.
// HeldByPartner is non-empty iff Status is HELD.
type Lot struct {
	ID            string
	Reference     string
	Description   string
	PriceCents    int64
	Status        LotStatus
	HeldByPartner string
	HeldForBuyer  string
	OptionTakenAt *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// CreateLotInput describes a new catalog entry.
type CreateLotInput struct {
	Reference   string
	Description string
	PriceCents  int64
}

// ListFilter narrows lot listings.
type ListFilter struct {
	Status  LotStatus
	Page    int
	PerPage int
}

// ErrLotNotFound indicates an unknown lot id.
var ErrLotNotFound = errors.New("catalog: lot not found")

// ErrDuplicateReference indicates a reference collision on create.
var ErrDuplicateReference = errors.New("catalog: duplicate lot reference")

// ErrInvalidLot indicates a rejected catalog entry.
var ErrInvalidLot = errors.New("catalog: invalid lot")
