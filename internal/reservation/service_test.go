package reservation

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/terralot/terralot/internal/catalog"
	"github.com/terralot/terralot/internal/clock"
	"github.com/terralot/terralot/internal/partners"
	"github.com/terralot/terralot/internal/shared"
)

// memoryRepo emulates the option ledger including the partial unique index:
// inserting a second active option for a lot fails with ErrLotAlreadyHeld.
// The mutex spans a whole WithTx callback, mirroring transaction atomicity.
type memoryRepo struct {
	mu      sync.Mutex
	lots    map[string]*catalog.Lot
	options map[string]*Option
}

type memoryTx struct {
	repo *memoryRepo
}

func newMemoryRepo(lots ...catalog.Lot) *memoryRepo {
	repo := &memoryRepo{
		lots:    make(map[string]*catalog.Lot),
		options: make(map[string]*Option),
	}
	for i := range lots {
		lot := lots[i]
		repo.lots[lot.ID] = &lot
	}
	return repo
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return fn(ctx, &memoryTx{repo: r})
}

func (r *memoryRepo) GetOption(ctx context.Context, optionID string) (Option, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	option, ok := r.options[optionID]
	if !ok {
		return Option{}, ErrNotFound
	}
	return *option, nil
}

func (r *memoryRepo) ListActiveOptions(ctx context.Context, partnerID string) ([]Option, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []Option
	for _, option := range r.options {
		if option.Status != OptionStatusActive {
			continue
		}
		if partnerID != "" && option.PartnerID != partnerID {
			continue
		}
		result = append(result, *option)
	}
	return result, nil
}

func (r *memoryRepo) ListExpiredActive(ctx context.Context, now time.Time, limit int) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ids []string
	for id, option := range r.options {
		if option.Status == OptionStatusActive && !option.ExpiresAt.After(now) {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (r *memoryRepo) lot(t *testing.T, id string) catalog.Lot {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	lot, ok := r.lots[id]
	require.True(t, ok, "lot %s missing", id)
	return *lot
}

func (r *memoryRepo) option(t *testing.T, id string) Option {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	option, ok := r.options[id]
	require.True(t, ok, "option %s missing", id)
	return *option
}

func (tx *memoryTx) GetLotForUpdate(ctx context.Context, lotID string) (catalog.Lot, error) {
	lot, ok := tx.repo.lots[lotID]
	if !ok {
		return catalog.Lot{}, ErrNotFound
	}
	return *lot, nil
}

func (tx *memoryTx) FindActiveOptionByLot(ctx context.Context, lotID string) (*Option, error) {
	for _, option := range tx.repo.options {
		if option.LotID == lotID && option.Status == OptionStatusActive {
			copied := *option
			return &copied, nil
		}
	}
	return nil, nil
}

func (tx *memoryTx) GetOptionForUpdate(ctx context.Context, optionID string) (Option, error) {
	option, ok := tx.repo.options[optionID]
	if !ok {
		return Option{}, ErrNotFound
	}
	return *option, nil
}

func (tx *memoryTx) CountActiveHeldOptions(ctx context.Context, partnerID string) (int, error) {
	count := 0
	for _, option := range tx.repo.options {
		if option.PartnerID != partnerID || option.Status != OptionStatusActive {
			continue
		}
		if lot, ok := tx.repo.lots[option.LotID]; ok && lot.Status == catalog.LotStatusHeld {
			count++
		}
	}
	return count, nil
}

func (tx *memoryTx) InsertOption(ctx context.Context, option Option) error {
	if option.Status == OptionStatusActive {
		for _, existing := range tx.repo.options {
			if existing.LotID == option.LotID && existing.Status == OptionStatusActive {
				return ErrLotAlreadyHeld
			}
		}
	}
	copied := option
	tx.repo.options[option.ID] = &copied
	return nil
}

func (tx *memoryTx) TransitionOption(ctx context.Context, optionID string, from, to OptionStatus) (bool, error) {
	option, ok := tx.repo.options[optionID]
	if !ok || option.Status != from {
		return false, nil
	}
	option.Status = to
	return true, nil
}

func (tx *memoryTx) HoldLot(ctx context.Context, lotID, partnerID, buyerID string, at time.Time) error {
	lot, ok := tx.repo.lots[lotID]
	if !ok {
		return ErrNotFound
	}
	if lot.Status != catalog.LotStatusAvailable {
		return ErrLotNotAvailable
	}
	lot.Status = catalog.LotStatusHeld
	lot.HeldByPartner = partnerID
	lot.HeldForBuyer = buyerID
	taken := at
	lot.OptionTakenAt = &taken
	return nil
}

func (tx *memoryTx) ReleaseLot(ctx context.Context, lotID string) error {
	lot, ok := tx.repo.lots[lotID]
	if !ok {
		return ErrNotFound
	}
	lot.Status = catalog.LotStatusAvailable
	lot.HeldByPartner = ""
	lot.HeldForBuyer = ""
	lot.OptionTakenAt = nil
	return nil
}

func (tx *memoryTx) SetLotStatus(ctx context.Context, lotID string, status catalog.LotStatus) error {
	if status == catalog.LotStatusAvailable {
		return tx.ReleaseLot(ctx, lotID)
	}
	lot, ok := tx.repo.lots[lotID]
	if !ok {
		return ErrNotFound
	}
	lot.Status = status
	lot.HeldByPartner = ""
	lot.HeldForBuyer = ""
	return nil
}

// conflictingRepo fails the first WithTx attempts with the driver error a
// concurrent commit produces under RepeatableRead.
type conflictingRepo struct {
	*memoryRepo
	failures int
}

func (r *conflictingRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r.failures > 0 {
		r.failures--
		return fmt.Errorf("reservation: get lot for update: %w", &pgconn.PgError{
			Code:    "40001",
			Message: "could not serialize access due to concurrent update",
		})
	}
	return r.memoryRepo.WithTx(ctx, fn)
}

// staleRepo hands the manager a stale snapshot: the lot always reads as free
// and no active option is visible, so the insert constraint is the only
// guard, exactly like a transaction that read before the winner wrote.
type staleRepo struct {
	*memoryRepo
}

func (r *staleRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return r.memoryRepo.WithTx(ctx, func(txCtx context.Context, tx TxRepository) error {
		return fn(txCtx, &staleTx{memoryTx: tx.(*memoryTx)})
	})
}

type staleTx struct {
	*memoryTx
}

func (tx *staleTx) GetLotForUpdate(ctx context.Context, lotID string) (catalog.Lot, error) {
	lot, err := tx.memoryTx.GetLotForUpdate(ctx, lotID)
	if err != nil {
		return catalog.Lot{}, err
	}
	lot.Status = catalog.LotStatusAvailable
	lot.HeldByPartner = ""
	lot.HeldForBuyer = ""
	return lot, nil
}

func (tx *staleTx) FindActiveOptionByLot(ctx context.Context, lotID string) (*Option, error) {
	return nil, nil
}

// fakePolicies implements PolicyPort backed by maps.
type fakePolicies struct {
	policies map[string]partners.QuotaPolicy
	buyers   map[string]string
}

func (f *fakePolicies) GetQuotaPolicy(ctx context.Context, partnerID string) (partners.QuotaPolicy, error) {
	if policy, ok := f.policies[partnerID]; ok {
		return policy, nil
	}
	return partners.QuotaPolicy{MaxSimultaneous: partners.DefaultMaxSimultaneous, DurationDays: partners.DefaultDurationDays}, nil
}

func (f *fakePolicies) BuyerBelongsToPartner(ctx context.Context, buyerID, partnerID string) (bool, error) {
	return f.buyers[buyerID] == partnerID, nil
}

// stepClock is adjustable so tests can move options past their expiry.
type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *stepClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func availableLot(id, reference string) catalog.Lot {
	return catalog.Lot{
		ID:        id,
		Reference: reference,
		Status:    catalog.LotStatusAvailable,
	}
}

type capturedEvents struct {
	mu     sync.Mutex
	events []PlacedEvent
}

func (c *capturedEvents) OptionPlaced(ctx context.Context, event PlacedEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
}

var testStart = time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

func newTestService(repo RepositoryPort, policies PolicyPort, clk clock.Clock) *Service {
	if policies == nil {
		policies = &fakePolicies{}
	}
	if clk == nil {
		clk = clock.NewFixed(testStart)
	}
	return NewService(repo, policies, slog.New(slog.DiscardHandler), ServiceConfig{Clock: clk})
}

func TestPlaceOption(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("places an option and holds the lot", func(t *testing.T) {
		repo := newMemoryRepo(availableLot("lot-1", "L001"))
		policies := &fakePolicies{buyers: map[string]string{"buyer-1": "partner-1"}}
		events := &capturedEvents{}
		svc := NewService(repo, policies, slog.New(slog.DiscardHandler), ServiceConfig{
			Clock:    clock.NewFixed(testStart),
			Notifier: events,
		})

		option, err := svc.PlaceOption(ctx, PlaceInput{
			LotID:       "lot-1",
			PartnerID:   "partner-1",
			BuyerID:     "buyer-1",
			RequestedBy: shared.ActorKindPartner,
		})
		require.NoError(t, err)
		require.Equal(t, OptionStatusActive, option.Status)
		require.Equal(t, testStart, option.PlacedAt)
		require.Equal(t, testStart.Add(5*24*time.Hour), option.ExpiresAt)

		lot := repo.lot(t, "lot-1")
		require.Equal(t, catalog.LotStatusHeld, lot.Status)
		require.Equal(t, "partner-1", lot.HeldByPartner)
		require.Equal(t, "buyer-1", lot.HeldForBuyer)
		require.NotNil(t, lot.OptionTakenAt)

		require.Len(t, events.events, 1)
		require.Equal(t, option.ID, events.events[0].OptionID)
		require.Equal(t, "L001", events.events[0].LotReference)
	})

	t.Run("admin override shortens the duration", func(t *testing.T) {
		repo := newMemoryRepo(availableLot("lot-1", "L001"))
		svc := newTestService(repo, nil, nil)

		option, err := svc.PlaceOption(ctx, PlaceInput{
			LotID:                "lot-1",
			PartnerID:            "partner-1",
			RequestedBy:          shared.ActorKindAdmin,
			DurationOverrideDays: 2,
		})
		require.NoError(t, err)
		require.Equal(t, testStart.Add(2*24*time.Hour), option.ExpiresAt)
	})

	t.Run("partner cannot override the duration", func(t *testing.T) {
		repo := newMemoryRepo(availableLot("lot-1", "L001"))
		svc := newTestService(repo, nil, nil)

		option, err := svc.PlaceOption(ctx, PlaceInput{
			LotID:                "lot-1",
			PartnerID:            "partner-1",
			RequestedBy:          shared.ActorKindPartner,
			DurationOverrideDays: 1,
		})
		require.NoError(t, err)
		require.Equal(t, testStart.Add(5*24*time.Hour), option.ExpiresAt)
	})

	t.Run("held lot rejects a second placement", func(t *testing.T) {
		repo := newMemoryRepo(availableLot("lot-1", "L001"))
		svc := newTestService(repo, nil, nil)

		_, err := svc.PlaceOption(ctx, PlaceInput{LotID: "lot-1", PartnerID: "partner-1", RequestedBy: shared.ActorKindAdmin})
		require.NoError(t, err)

		_, err = svc.PlaceOption(ctx, PlaceInput{LotID: "lot-1", PartnerID: "partner-2", RequestedBy: shared.ActorKindAdmin})
		require.ErrorIs(t, err, ErrLotAlreadyHeld)
	})

	t.Run("sold lot is not available", func(t *testing.T) {
		lot := availableLot("lot-1", "L001")
		lot.Status = catalog.LotStatusSold
		repo := newMemoryRepo(lot)
		svc := newTestService(repo, nil, nil)

		_, err := svc.PlaceOption(ctx, PlaceInput{LotID: "lot-1", PartnerID: "partner-1", RequestedBy: shared.ActorKindAdmin})
		require.ErrorIs(t, err, ErrLotNotAvailable)
	})

	t.Run("unknown lot", func(t *testing.T) {
		repo := newMemoryRepo()
		svc := newTestService(repo, nil, nil)

		_, err := svc.PlaceOption(ctx, PlaceInput{LotID: "missing", PartnerID: "partner-1", RequestedBy: shared.ActorKindAdmin})
		require.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("buyer outside portfolio is rejected", func(t *testing.T) {
		repo := newMemoryRepo(availableLot("lot-1", "L001"))
		policies := &fakePolicies{buyers: map[string]string{"buyer-1": "partner-2"}}
		svc := newTestService(repo, policies, nil)

		_, err := svc.PlaceOption(ctx, PlaceInput{
			LotID:       "lot-1",
			PartnerID:   "partner-1",
			BuyerID:     "buyer-1",
			RequestedBy: shared.ActorKindPartner,
		})
		require.ErrorIs(t, err, ErrBuyerNotOwned)
	})

	t.Run("lost serialization race reads as already held", func(t *testing.T) {
		repo := &conflictingRepo{memoryRepo: newMemoryRepo(availableLot("lot-1", "L001")), failures: 1}
		svc := newTestService(repo, nil, nil)

		_, err := svc.PlaceOption(ctx, PlaceInput{LotID: "lot-1", PartnerID: "partner-1", RequestedBy: shared.ActorKindAdmin})
		require.ErrorIs(t, err, ErrLotAlreadyHeld)
	})

	t.Run("constraint violation surfaces when every pre-check is stale", func(t *testing.T) {
		base := newMemoryRepo(availableLot("lot-1", "L001"))
		svc := newTestService(base, nil, nil)

		_, err := svc.PlaceOption(ctx, PlaceInput{LotID: "lot-1", PartnerID: "partner-1", RequestedBy: shared.ActorKindAdmin})
		require.NoError(t, err)

		// The second placement sees a snapshot from before the first commit;
		// only the insert constraint stands in its way.
		stale := newTestService(&staleRepo{memoryRepo: base}, nil, nil)
		_, err = stale.PlaceOption(ctx, PlaceInput{LotID: "lot-1", PartnerID: "partner-2", RequestedBy: shared.ActorKindAdmin})
		require.ErrorIs(t, err, ErrLotAlreadyHeld)
	})

	t.Run("admin may supply any buyer", func(t *testing.T) {
		repo := newMemoryRepo(availableLot("lot-1", "L001"))
		policies := &fakePolicies{buyers: map[string]string{}}
		svc := newTestService(repo, policies, nil)

		_, err := svc.PlaceOption(ctx, PlaceInput{
			LotID:       "lot-1",
			PartnerID:   "partner-1",
			BuyerID:     "buyer-x",
			RequestedBy: shared.ActorKindAdmin,
		})
		require.NoError(t, err)
	})
}

func TestQuotaEnforcement(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	repo := newMemoryRepo(
		availableLot("lot-1", "L001"),
		availableLot("lot-2", "L002"),
		availableLot("lot-3", "L003"),
	)
	policies := &fakePolicies{policies: map[string]partners.QuotaPolicy{
		"partner-1": {MaxSimultaneous: 2, DurationDays: 5},
	}}
	svc := newTestService(repo, policies, nil)

	for _, lotID := range []string{"lot-1", "lot-2"} {
		_, err := svc.PlaceOption(ctx, PlaceInput{LotID: lotID, PartnerID: "partner-1", RequestedBy: shared.ActorKindPartner})
		require.NoError(t, err)
	}

	_, err := svc.PlaceOption(ctx, PlaceInput{LotID: "lot-3", PartnerID: "partner-1", RequestedBy: shared.ActorKindPartner})
	require.ErrorIs(t, err, ErrQuotaExceeded)

	// The cap binds partner placements only; an admin acting for the same
	// partner is not constrained.
	_, err = svc.PlaceOption(ctx, PlaceInput{LotID: "lot-3", PartnerID: "partner-1", RequestedBy: shared.ActorKindAdmin})
	require.NoError(t, err)
}

func TestMutualExclusion(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	repo := newMemoryRepo(availableLot("lot-1", "L001"))
	svc := newTestService(repo, nil, nil)

	const contenders = 8
	var (
		mu        sync.Mutex
		successes int
		conflicts int
	)
	g := new(errgroup.Group)
	for i := 0; i < contenders; i++ {
		partnerID := []string{"partner-a", "partner-b"}[i%2]
		g.Go(func() error {
			_, err := svc.PlaceOption(ctx, PlaceInput{LotID: "lot-1", PartnerID: partnerID, RequestedBy: shared.ActorKindPartner})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case err == ErrLotAlreadyHeld:
				conflicts++
			default:
				return err
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	require.Equal(t, 1, successes)
	require.Equal(t, contenders-1, conflicts)

	active, err := svc.ListActiveOptions(ctx, "")
	require.NoError(t, err)
	require.Len(t, active, 1)
	require.Equal(t, catalog.LotStatusHeld, repo.lot(t, "lot-1").Status)
}

func TestCancelOption(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	admin := shared.Actor{Kind: shared.ActorKindAdmin}

	t.Run("round trips the lot to its prior state", func(t *testing.T) {
		repo := newMemoryRepo(availableLot("lot-1", "L001"))
		svc := newTestService(repo, nil, nil)
		before := repo.lot(t, "lot-1")

		option, err := svc.PlaceOption(ctx, PlaceInput{LotID: "lot-1", PartnerID: "partner-1", RequestedBy: shared.ActorKindAdmin})
		require.NoError(t, err)
		require.NoError(t, svc.CancelOption(ctx, option.ID, admin))

		require.Equal(t, before, repo.lot(t, "lot-1"))
		require.Equal(t, OptionStatusCancelled, repo.option(t, option.ID).Status)
	})

	t.Run("cancelling twice is a no-op success", func(t *testing.T) {
		repo := newMemoryRepo(availableLot("lot-1", "L001"))
		svc := newTestService(repo, nil, nil)

		option, err := svc.PlaceOption(ctx, PlaceInput{LotID: "lot-1", PartnerID: "partner-1", RequestedBy: shared.ActorKindAdmin})
		require.NoError(t, err)
		require.NoError(t, svc.CancelOption(ctx, option.ID, admin))
		require.NoError(t, svc.CancelOption(ctx, option.ID, admin))
		require.Equal(t, OptionStatusCancelled, repo.option(t, option.ID).Status)
	})

	t.Run("unknown option id", func(t *testing.T) {
		repo := newMemoryRepo()
		svc := newTestService(repo, nil, nil)
		require.ErrorIs(t, svc.CancelOption(ctx, "missing", admin), ErrNotFound)
	})

	t.Run("retries past a concurrent commit", func(t *testing.T) {
		base := newMemoryRepo(availableLot("lot-1", "L001"))
		svc := newTestService(base, nil, nil)

		option, err := svc.PlaceOption(ctx, PlaceInput{LotID: "lot-1", PartnerID: "partner-1", RequestedBy: shared.ActorKindAdmin})
		require.NoError(t, err)

		retrying := newTestService(&conflictingRepo{memoryRepo: base, failures: 1}, nil, nil)
		require.NoError(t, retrying.CancelOption(ctx, option.ID, admin))
		require.Equal(t, OptionStatusCancelled, base.option(t, option.ID).Status)
	})
}

func TestForceLotStatus(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	admin := shared.Actor{Kind: shared.ActorKindAdmin}

	t.Run("progressing the lot converts the active option", func(t *testing.T) {
		repo := newMemoryRepo(availableLot("lot-1", "L001"))
		svc := newTestService(repo, nil, nil)

		option, err := svc.PlaceOption(ctx, PlaceInput{LotID: "lot-1", PartnerID: "partner-1", RequestedBy: shared.ActorKindAdmin})
		require.NoError(t, err)

		require.NoError(t, svc.ForceLotStatus(ctx, "lot-1", catalog.LotStatusSold, admin))
		require.Equal(t, catalog.LotStatusSold, repo.lot(t, "lot-1").Status)
		require.Equal(t, OptionStatusConverted, repo.option(t, option.ID).Status)
		require.Empty(t, repo.lot(t, "lot-1").HeldByPartner)
	})

	t.Run("forcing available cancels the active option", func(t *testing.T) {
		repo := newMemoryRepo(availableLot("lot-1", "L001"))
		svc := newTestService(repo, nil, nil)

		option, err := svc.PlaceOption(ctx, PlaceInput{LotID: "lot-1", PartnerID: "partner-1", RequestedBy: shared.ActorKindAdmin})
		require.NoError(t, err)

		require.NoError(t, svc.ForceLotStatus(ctx, "lot-1", catalog.LotStatusAvailable, admin))
		lot := repo.lot(t, "lot-1")
		require.Equal(t, catalog.LotStatusAvailable, lot.Status)
		require.Empty(t, lot.HeldByPartner)
		require.Nil(t, lot.OptionTakenAt)
		require.Equal(t, OptionStatusCancelled, repo.option(t, option.ID).Status)
	})

	t.Run("works without an option", func(t *testing.T) {
		repo := newMemoryRepo(availableLot("lot-1", "L001"))
		svc := newTestService(repo, nil, nil)

		require.NoError(t, svc.ForceLotStatus(ctx, "lot-1", catalog.LotStatusReserved, admin))
		require.Equal(t, catalog.LotStatusReserved, repo.lot(t, "lot-1").Status)
	})

	t.Run("held is not a forceable target", func(t *testing.T) {
		repo := newMemoryRepo(availableLot("lot-1", "L001"))
		svc := newTestService(repo, nil, nil)
		require.ErrorIs(t, svc.ForceLotStatus(ctx, "lot-1", catalog.LotStatusHeld, admin), ErrInvalidTransition)
	})

	t.Run("retries past a concurrent commit", func(t *testing.T) {
		base := newMemoryRepo(availableLot("lot-1", "L001"))
		svc := newTestService(&conflictingRepo{memoryRepo: base, failures: 2}, nil, nil)

		require.NoError(t, svc.ForceLotStatus(ctx, "lot-1", catalog.LotStatusReserved, admin))
		require.Equal(t, catalog.LotStatusReserved, base.lot(t, "lot-1").Status)
	})

	t.Run("sold is terminal", func(t *testing.T) {
		lot := availableLot("lot-1", "L001")
		lot.Status = catalog.LotStatusSold
		repo := newMemoryRepo(lot)
		svc := newTestService(repo, nil, nil)
		require.ErrorIs(t, svc.ForceLotStatus(ctx, "lot-1", catalog.LotStatusAvailable, admin), ErrInvalidTransition)
	})
}

func TestSweepExpired(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("expires stale options and releases their lots", func(t *testing.T) {
		repo := newMemoryRepo(availableLot("lot-1", "L001"), availableLot("lot-2", "L002"))
		clk := &stepClock{now: testStart}
		svc := newTestService(repo, nil, clk)

		first, err := svc.PlaceOption(ctx, PlaceInput{LotID: "lot-1", PartnerID: "partner-1", RequestedBy: shared.ActorKindAdmin, DurationOverrideDays: 1})
		require.NoError(t, err)
		second, err := svc.PlaceOption(ctx, PlaceInput{LotID: "lot-2", PartnerID: "partner-1", RequestedBy: shared.ActorKindAdmin, DurationOverrideDays: 10})
		require.NoError(t, err)

		clk.Advance(2 * 24 * time.Hour)

		expired, err := svc.SweepExpired(ctx)
		require.NoError(t, err)
		require.Equal(t, 1, expired)

		require.Equal(t, OptionStatusExpired, repo.option(t, first.ID).Status)
		lot := repo.lot(t, "lot-1")
		require.Equal(t, catalog.LotStatusAvailable, lot.Status)
		require.Empty(t, lot.HeldByPartner)
		require.Nil(t, lot.OptionTakenAt)

		require.Equal(t, OptionStatusActive, repo.option(t, second.ID).Status)
		require.Equal(t, catalog.LotStatusHeld, repo.lot(t, "lot-2").Status)
	})

	t.Run("a second sweep is a no-op", func(t *testing.T) {
		repo := newMemoryRepo(availableLot("lot-1", "L001"))
		clk := &stepClock{now: testStart}
		svc := newTestService(repo, nil, clk)

		_, err := svc.PlaceOption(ctx, PlaceInput{LotID: "lot-1", PartnerID: "partner-1", RequestedBy: shared.ActorKindAdmin, DurationOverrideDays: 1})
		require.NoError(t, err)
		clk.Advance(48 * time.Hour)

		expired, err := svc.SweepExpired(ctx)
		require.NoError(t, err)
		require.Equal(t, 1, expired)

		expired, err = svc.SweepExpired(ctx)
		require.NoError(t, err)
		require.Equal(t, 0, expired)
	})
}

func TestConversionBeatsExpiry(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	admin := shared.Actor{Kind: shared.ActorKindAdmin}

	// The sweeper and a conversion race on the same just-expired option.
	// Exactly one conditional transition wins; the loser skips cleanly.
	for i := 0; i < 20; i++ {
		repo := newMemoryRepo(availableLot("lot-1", "L001"))
		clk := &stepClock{now: testStart}
		svc := newTestService(repo, nil, clk)

		option, err := svc.PlaceOption(ctx, PlaceInput{LotID: "lot-1", PartnerID: "partner-1", RequestedBy: shared.ActorKindAdmin, DurationOverrideDays: 1})
		require.NoError(t, err)
		clk.Advance(48 * time.Hour)

		g := new(errgroup.Group)
		g.Go(func() error {
			_, err := svc.SweepExpired(ctx)
			return err
		})
		g.Go(func() error {
			return svc.ForceLotStatus(ctx, "lot-1", catalog.LotStatusSold, admin)
		})
		require.NoError(t, g.Wait())

		lot := repo.lot(t, "lot-1")
		got := repo.option(t, option.ID)
		switch got.Status {
		case OptionStatusConverted:
			require.Equal(t, catalog.LotStatusSold, lot.Status)
		case OptionStatusExpired:
			// The conversion then proceeded on a free lot.
			require.Contains(t, []catalog.LotStatus{catalog.LotStatusAvailable, catalog.LotStatusSold}, lot.Status)
		default:
			t.Fatalf("unexpected option status %s", got.Status)
		}
		require.True(t, got.Status.Terminal())
	}
}

func TestScenarioEndToEnd(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	admin := shared.Actor{Kind: shared.ActorKindAdmin}

	repo := newMemoryRepo(availableLot("lot-101", "L101"))
	policies := &fakePolicies{
		policies: map[string]partners.QuotaPolicy{
			"partner-1": {MaxSimultaneous: 3, DurationDays: 5},
		},
		buyers: map[string]string{"buyer-1": "partner-1", "buyer-2": "partner-2"},
	}
	svc := newTestService(repo, policies, nil)

	option, err := svc.PlaceOption(ctx, PlaceInput{
		LotID:       "lot-101",
		PartnerID:   "partner-1",
		BuyerID:     "buyer-1",
		RequestedBy: shared.ActorKindPartner,
	})
	require.NoError(t, err)
	require.Equal(t, testStart.Add(5*24*time.Hour), option.ExpiresAt)
	require.Equal(t, catalog.LotStatusHeld, repo.lot(t, "lot-101").Status)

	_, err = svc.PlaceOption(ctx, PlaceInput{
		LotID:       "lot-101",
		PartnerID:   "partner-2",
		BuyerID:     "buyer-2",
		RequestedBy: shared.ActorKindPartner,
	})
	require.ErrorIs(t, err, ErrLotAlreadyHeld)

	require.NoError(t, svc.ForceLotStatus(ctx, "lot-101", catalog.LotStatusSold, admin))
	require.Equal(t, OptionStatusConverted, repo.option(t, option.ID).Status)
	require.Equal(t, catalog.LotStatusSold, repo.lot(t, "lot-101").Status)

	require.NoError(t, svc.CancelOption(ctx, option.ID, admin))
	require.Equal(t, OptionStatusConverted, repo.option(t, option.ID).Status)
}
