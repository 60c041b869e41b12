package reservation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/terralot/terralot/internal/catalog"
	"github.com/terralot/terralot/internal/clock"
	"github.com/terralot/terralot/internal/partners"
	"github.com/terralot/terralot/internal/platform/db"
	"github.com/terralot/terralot/internal/shared"
)

// RepositoryPort defines data access methods for the option ledger.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetOption(ctx context.Context, optionID string) (Option, error)
	ListActiveOptions(ctx context.Context, partnerID string) ([]Option, error)
	ListExpiredActive(ctx context.Context, now time.Time, limit int) ([]string, error)
}

// PolicyPort supplies per-partner quota configuration and portfolio checks.
type PolicyPort interface {
	GetQuotaPolicy(ctx context.Context, partnerID string) (partners.QuotaPolicy, error)
	BuyerBelongsToPartner(ctx context.Context, buyerID, partnerID string) (bool, error)
}

// Notifier receives a snapshot after each successful placement. Implementations
// must never fail the calling transaction; errors are theirs to log.
type Notifier interface {
	OptionPlaced(ctx context.Context, event PlacedEvent)
}

// Auditor records business mutations. Best effort.
type Auditor interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// SweepMetrics receives sweep and conflict counters.
type SweepMetrics interface {
	OptionPlaced()
	OptionsExpired(n int)
	PlaceConflict()
}

// Marker is notified after catalog-visible mutations.
type Marker interface {
	Touch(ctx context.Context, t time.Time)
}

// Service is the reservation manager: the single writer for lot hold state
// and the option ledger.
type Service struct {
	repo     RepositoryPort
	policies PolicyPort
	notifier Notifier
	audit    Auditor
	metrics  SweepMetrics
	marker   Marker
	clock    clock.Clock
	logger   *slog.Logger

	sweepBatch int
}

// ServiceConfig collects optional collaborators.
type ServiceConfig struct {
	Notifier Notifier
	Audit    Auditor
	Metrics  SweepMetrics
	Marker   Marker
	Clock    clock.Clock
	// SweepBatch caps how many expired options a single sweep picks up.
	SweepBatch int
}

// NewService builds a Service instance.
func NewService(repo RepositoryPort, policies PolicyPort, logger *slog.Logger, cfg ServiceConfig) *Service {
	svc := &Service{
		repo:       repo,
		policies:   policies,
		notifier:   cfg.Notifier,
		audit:      cfg.Audit,
		metrics:    cfg.Metrics,
		marker:     cfg.Marker,
		clock:      cfg.Clock,
		logger:     logger,
		sweepBatch: cfg.SweepBatch,
	}
	if svc.clock == nil {
		svc.clock = clock.NewSystem()
	}
	if svc.sweepBatch <= 0 {
		svc.sweepBatch = 200
	}
	return svc
}

// PlaceOption grants the partner a temporary exclusive hold on the lot.
//
// Pre-checks run in order inside one transaction: lot availability, absence
// of an active option, partner quota, buyer ownership. The checks fail fast
// with a friendly error; the partial unique index on active options remains
// the authoritative guard, and a constraint violation at commit surfaces as
// ErrLotAlreadyHeld exactly like a lost pre-check.
func (s *Service) PlaceOption(ctx context.Context, input PlaceInput) (Option, error) {
	if input.LotID == "" || input.PartnerID == "" {
		return Option{}, fmt.Errorf("%w: lot and partner ids are required", ErrNotFound)
	}

	policy, err := s.policies.GetQuotaPolicy(ctx, input.PartnerID)
	if err != nil {
		return Option{}, err
	}

	duration := policy.Duration()
	if input.DurationOverrideDays > 0 && input.RequestedBy == shared.ActorKindAdmin {
		duration = time.Duration(input.DurationOverrideDays) * 24 * time.Hour
	}

	now := s.clock.Now()
	option := Option{
		ID:        uuid.NewString(),
		LotID:     input.LotID,
		PartnerID: input.PartnerID,
		BuyerID:   input.BuyerID,
		Status:    OptionStatusActive,
		PlacedAt:  now,
		ExpiresAt: now.Add(duration),
		PlacedBy:  input.RequestedBy,
		CreatedAt: now,
	}

	var lotReference string
	err = s.repo.WithTx(ctx, func(txCtx context.Context, tx TxRepository) error {
		lot, err := tx.GetLotForUpdate(txCtx, input.LotID)
		if err != nil {
			return err
		}
		lotReference = lot.Reference
		if lot.Status != catalog.LotStatusAvailable {
			if lot.Status == catalog.LotStatusHeld {
				return ErrLotAlreadyHeld
			}
			return ErrLotNotAvailable
		}

		// Advisory only; the unique index decides races.
		if existing, err := tx.FindActiveOptionByLot(txCtx, input.LotID); err != nil {
			return err
		} else if existing != nil {
			return ErrLotAlreadyHeld
		}

		if input.RequestedBy == shared.ActorKindPartner {
			count, err := tx.CountActiveHeldOptions(txCtx, input.PartnerID)
			if err != nil {
				return err
			}
			if count >= policy.MaxSimultaneous {
				return ErrQuotaExceeded
			}
		}

		if input.BuyerID != "" && input.RequestedBy == shared.ActorKindPartner {
			owned, err := s.policies.BuyerBelongsToPartner(txCtx, input.BuyerID, input.PartnerID)
			if err != nil {
				return err
			}
			if !owned {
				return ErrBuyerNotOwned
			}
		}

		if err := tx.InsertOption(txCtx, option); err != nil {
			return err
		}
		return tx.HoldLot(txCtx, input.LotID, input.PartnerID, input.BuyerID, now)
	})
	if err != nil {
		if db.IsSerializationFailure(err) {
			// A concurrent placement committed first; to the caller that is
			// the same lost race the unique index reports.
			err = ErrLotAlreadyHeld
		}
		if errors.Is(err, ErrLotAlreadyHeld) && s.metrics != nil {
			s.metrics.PlaceConflict()
		}
		return Option{}, err
	}

	if s.metrics != nil {
		s.metrics.OptionPlaced()
	}
	s.touch(ctx, now)
	s.recordAudit(ctx, shared.Actor{Kind: input.RequestedBy, PartnerID: input.PartnerID}, shared.AuditActionOptionPlace, option.ID, map[string]any{
		"lot_id":     option.LotID,
		"partner_id": option.PartnerID,
		"expires_at": option.ExpiresAt,
	})
	if s.notifier != nil {
		s.notifier.OptionPlaced(ctx, PlacedEvent{
			OptionID:     option.ID,
			LotID:        option.LotID,
			LotReference: lotReference,
			PartnerID:    option.PartnerID,
			BuyerID:      option.BuyerID,
			PlacedAt:     option.PlacedAt,
			ExpiresAt:    option.ExpiresAt,
		})
	}
	return option, nil
}

// CancelOption cancels an active option and releases its lot. Cancelling an
// already-terminal option is a no-op success so duplicate client requests
// stay harmless.
func (s *Service) CancelOption(ctx context.Context, optionID string, actor shared.Actor) error {
	if optionID == "" {
		return ErrNotFound
	}

	var cancelled bool
	err := s.retrySerialization(ctx, func(txCtx context.Context, tx TxRepository) error {
		cancelled = false
		option, err := tx.GetOptionForUpdate(txCtx, optionID)
		if err != nil {
			return err
		}
		if option.Status.Terminal() {
			return nil
		}

		moved, err := tx.TransitionOption(txCtx, optionID, OptionStatusActive, OptionStatusCancelled)
		if err != nil {
			return err
		}
		if !moved {
			return nil
		}
		cancelled = true
		return tx.ReleaseLot(txCtx, option.LotID)
	})
	if err != nil {
		return err
	}

	if cancelled {
		s.touch(ctx, s.clock.Now())
		s.recordAudit(ctx, actor, shared.AuditActionOptionCancel, optionID, nil)
	}
	return nil
}

// ForceLotStatus is the administrative escalation that moves a lot to an
// arbitrary status, keeping any active option consistent: entering AVAILABLE
// cancels it, progressing toward a sale converts it. SOLD is terminal and the
// HELD state is reachable only through option placement.
func (s *Service) ForceLotStatus(ctx context.Context, lotID string, newStatus catalog.LotStatus, actor shared.Actor) error {
	if !catalog.ValidStatus(newStatus) || newStatus == catalog.LotStatusHeld {
		return ErrInvalidTransition
	}

	err := s.retrySerialization(ctx, func(txCtx context.Context, tx TxRepository) error {
		lot, err := tx.GetLotForUpdate(txCtx, lotID)
		if err != nil {
			return err
		}
		if lot.Status == catalog.LotStatusSold {
			return ErrInvalidTransition
		}
		if lot.Status == newStatus {
			return nil
		}

		active, err := tx.FindActiveOptionByLot(txCtx, lotID)
		if err != nil {
			return err
		}
		if active != nil {
			target := OptionStatusConverted
			if newStatus == catalog.LotStatusAvailable {
				target = OptionStatusCancelled
			}
			if _, err := tx.TransitionOption(txCtx, active.ID, OptionStatusActive, target); err != nil {
				return err
			}
		}
		return tx.SetLotStatus(txCtx, lotID, newStatus)
	})
	if err != nil {
		return err
	}

	s.touch(ctx, s.clock.Now())
	s.recordAudit(ctx, actor, shared.AuditActionLotForceStatus, lotID, map[string]any{
		"status": string(newStatus),
	})
	return nil
}

// GetOption returns a single option.
func (s *Service) GetOption(ctx context.Context, optionID string) (Option, error) {
	return s.repo.GetOption(ctx, optionID)
}

// ListActiveOptions returns active options, optionally scoped to one partner.
func (s *Service) ListActiveOptions(ctx context.Context, partnerID string) ([]Option, error) {
	return s.repo.ListActiveOptions(ctx, partnerID)
}

// SweepExpired expires stale options and releases their lots. Every option is
// handled in its own small transaction with a conditional status update, so
// concurrent sweepers and racing conversions are safe: whoever loses the
// conditional update simply skips. Returns the number of options expired.
func (s *Service) SweepExpired(ctx context.Context) (int, error) {
	now := s.clock.Now()
	ids, err := s.repo.ListExpiredActive(ctx, now, s.sweepBatch)
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, id := range ids {
		var moved bool
		err := s.repo.WithTx(ctx, func(txCtx context.Context, tx TxRepository) error {
			option, err := tx.GetOptionForUpdate(txCtx, id)
			if err != nil {
				return err
			}
			moved, err = tx.TransitionOption(txCtx, id, OptionStatusActive, OptionStatusExpired)
			if err != nil {
				return err
			}
			if !moved {
				// Another sweeper or a conversion got there first.
				return nil
			}
			lot, err := tx.GetLotForUpdate(txCtx, option.LotID)
			if err != nil {
				return err
			}
			if lot.Status == catalog.LotStatusHeld {
				return tx.ReleaseLot(txCtx, option.LotID)
			}
			return nil
		})
		if err != nil {
			// One stuck option must not abort the sweep; the next tick retries.
			s.logger.Warn("sweep option", slog.String("option_id", id), slog.Any("error", err))
			continue
		}
		if moved {
			expired++
			s.recordAudit(ctx, shared.Actor{Kind: shared.ActorKindAdmin}, shared.AuditActionOptionExpire, id, nil)
		}
	}

	if expired > 0 {
		if s.metrics != nil {
			s.metrics.OptionsExpired(expired)
		}
		s.touch(ctx, now)
	}
	return expired, nil
}

// retrySerialization reruns fn when a concurrent commit invalidates the
// transaction. Used by operations that must settle against the fresh state
// rather than report a lost race.
func (s *Service) retrySerialization(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	var err error
	for attempt := 0; attempt < 3; attempt++ {
		err = s.repo.WithTx(ctx, fn)
		if err == nil || !db.IsSerializationFailure(err) {
			return err
		}
	}
	return err
}

func (s *Service) touch(ctx context.Context, t time.Time) {
	if s.marker != nil {
		s.marker.Touch(ctx, t)
	}
}

func (s *Service) recordAudit(ctx context.Context, actor shared.Actor, action, entityID string, meta map[string]any) {
	if s.audit == nil {
		return
	}
	entity := "option"
	if action == shared.AuditActionLotForceStatus {
		entity = "lot"
	}
	if err := s.audit.Record(ctx, shared.AuditLog{
		Actor:    actor,
		Action:   action,
		Entity:   entity,
		EntityID: entityID,
		Meta:     meta,
		At:       s.clock.Now(),
	}); err != nil {
		s.logger.Warn("audit record", slog.String("action", action), slog.Any("error", err))
	}
}
