package partners

import (
	"errors"
	"time"
)

// Defaults applied when a partner has no explicit policy override.
const (
	DefaultMaxSimultaneous = 3
	DefaultDurationDays    = 5
)

// QuotaPolicy configures how many simultaneous options a partner may hold
// and how long each option lasts.
type QuotaPolicy struct {
	MaxSimultaneous int
	DurationDays    int
}

// Duration returns the option lifetime as a time.Duration.
func (p QuotaPolicy) Duration() time.Duration {
	return time.Duration(p.DurationDays) * 24 * time.Hour
}

// Partner models a business actor able to place options.
type Partner struct {
	ID              string
	Name            string
	APIKeyHash      string
	MaxSimultaneous *int
	DurationDays    *int
	CreatedAt       time.Time
}

// Buyer belongs to exactly one partner's portfolio.
type Buyer struct {
	ID        string
	PartnerID string
	Name      string
	CreatedAt time.Time
}

// ErrPartnerNotFound indicates an unknown partner id.
var ErrPartnerNotFound = errors.New("partners: partner not found")

// ErrInvalidAPIKey indicates a failed API key check.
var ErrInvalidAPIKey = errors.New("partners: invalid api key")
