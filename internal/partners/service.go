package partners

import (
	"context"
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// RepositoryPort defines data access methods for partners.
type RepositoryPort interface {
	GetPartner(ctx context.Context, id string) (Partner, error)
	BuyerBelongsToPartner(ctx context.Context, buyerID, partnerID string) (bool, error)
}

// Service exposes the partner registry to the reservation core.
type Service struct {
	repo RepositoryPort
}

// NewService builds a Service instance.
func NewService(repo RepositoryPort) *Service {
	return &Service{repo: repo}
}

// GetQuotaPolicy returns the partner's policy, applying documented defaults
// when no explicit override exists.
func (s *Service) GetQuotaPolicy(ctx context.Context, partnerID string) (QuotaPolicy, error) {
	partner, err := s.repo.GetPartner(ctx, partnerID)
	if err != nil {
		return QuotaPolicy{}, err
	}
	policy := QuotaPolicy{
		MaxSimultaneous: DefaultMaxSimultaneous,
		DurationDays:    DefaultDurationDays,
	}
	if partner.MaxSimultaneous != nil && *partner.MaxSimultaneous > 0 {
		policy.MaxSimultaneous = *partner.MaxSimultaneous
	}
	if partner.DurationDays != nil && *partner.DurationDays > 0 {
		policy.DurationDays = *partner.DurationDays
	}
	return policy, nil
}

// BuyerBelongsToPartner reports whether the buyer is in the partner's portfolio.
func (s *Service) BuyerBelongsToPartner(ctx context.Context, buyerID, partnerID string) (bool, error) {
	return s.repo.BuyerBelongsToPartner(ctx, buyerID, partnerID)
}

// Authenticate verifies a partner API key against the stored bcrypt hash.
func (s *Service) Authenticate(ctx context.Context, partnerID, apiKey string) (Partner, error) {
	partner, err := s.repo.GetPartner(ctx, partnerID)
	if err != nil {
		if errors.Is(err, ErrPartnerNotFound) {
			return Partner{}, ErrInvalidAPIKey
		}
		return Partner{}, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(partner.APIKeyHash), []byte(apiKey)); err != nil {
		return Partner{}, ErrInvalidAPIKey
	}
	return partner, nil
}
