package service

import (
	"context"
	"fmt"

	"github.com/evetabi/managedwealth/internal/domain"
	"github.com/evetabi/managedwealth/internal/repository"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ReservationService owns the principal reservation ledger. Methods that
// take a repository.Queries run on the caller's transaction.
type ReservationService struct {
	store repository.Store
	now   Clock
}

// NewReservationService creates a ReservationService.
func NewReservationService(store repository.Store) *ReservationService {
	return &ReservationService{store: store, now: utcNow}
}

// GetAvailability returns the wallet's current reservation snapshot.
func (s *ReservationService) GetAvailability(ctx context.Context, wallet string) (domain.Availability, error) {
	return s.availability(ctx, s.store, wallet)
}

func (s *ReservationService) availability(ctx context.Context, q repository.Queries, wallet string) (domain.Availability, error) {
	wallet = domain.NormalizeWallet(wallet)

	deposits, withdrawals, err := q.SumNetDeposits(ctx, wallet)
	if err != nil {
		return domain.Availability{}, fmt.Errorf("reservation_service.availability: deposits: %w", err)
	}
	reserved, released, err := q.SumReservations(ctx, wallet)
	if err != nil {
		return domain.Availability{}, fmt.Errorf("reservation_service.availability: ledger: %w", err)
	}
	active, err := q.SumPrincipalByWallet(ctx, wallet, domain.ReservingStatuses)
	if err != nil {
		return domain.Availability{}, fmt.Errorf("reservation_service.availability: subscriptions: %w", err)
	}
	return domain.ComputeAvailability(wallet, deposits, withdrawals, reserved, released, active), nil
}

// AssertAvailability returns the snapshot when it covers requested, and an
// *domain.AvailabilityError carrying it otherwise.
func (s *ReservationService) AssertAvailability(ctx context.Context, q repository.Queries, wallet string, requested decimal.Decimal) (domain.Availability, error) {
	snap, err := s.availability(ctx, q, wallet)
	if err != nil {
		return domain.Availability{}, err
	}
	if !snap.Covers(requested) {
		return snap, &domain.AvailabilityError{Snapshot: snap, Requested: domain.Round(requested)}
	}
	return snap, nil
}

// Reserve records the RESERVE entry of a subscription. Post-reservation
// balances come from snap, the snapshot taken at assertion time.
func (s *ReservationService) Reserve(ctx context.Context, q repository.Queries, wallet string, subscriptionID uuid.UUID,
	amount decimal.Decimal, snap domain.Availability, note string) error {
	if note == "" {
		note = domain.NoteSubscriptionCreated
	}
	amount = domain.Round(amount)
	after := snap.AfterReserve(amount)

	entry := &domain.ReservationEntry{
		ID:                      uuid.New(),
		WalletAddress:           domain.NormalizeWallet(wallet),
		SubscriptionID:          subscriptionID,
		EntryType:               domain.ReservationReserve,
		Amount:                  amount,
		IdempotencyKey:          domain.ReserveKey(subscriptionID),
		ManagedQualifiedBalance: snap.ManagedQualifiedBalance,
		ReservedBalanceAfter:    after.ReservedBalance,
		AvailableBalanceAfter:   after.AvailableBalance,
		Note:                    note,
		CreatedAt:               s.now(),
	}
	if err := q.UpsertReservation(ctx, entry); err != nil {
		return fmt.Errorf("reservation_service.Reserve: %w", err)
	}
	return nil
}

// Release records the RELEASE entry of a subscription. It is a no-op when
// the subscription was never reserved or was already released. The
// released amount is capped at the wallet's current reserved balance.
func (s *ReservationService) Release(ctx context.Context, q repository.Queries, wallet string, subscriptionID uuid.UUID,
	amount decimal.Decimal, note string) (domain.ReleaseOutcome, error) {
	if note == "" {
		note = domain.NoteSubscriptionSettled
	}

	reserve, err := q.GetReservationByKey(ctx, domain.ReserveKey(subscriptionID))
	if err != nil {
		return "", fmt.Errorf("reservation_service.Release: reserve lookup: %w", err)
	}
	if reserve == nil {
		return domain.ReleaseSkippedNoEntry, nil
	}
	existing, err := q.GetReservationByKey(ctx, domain.ReleaseKey(subscriptionID))
	if err != nil {
		return "", fmt.Errorf("reservation_service.Release: release lookup: %w", err)
	}
	if existing != nil {
		return domain.ReleaseSkippedRepeat, nil
	}

	snap, err := s.availability(ctx, q, wallet)
	if err != nil {
		return "", err
	}
	released := domain.Round(decimal.Min(amount, snap.ReservedBalance))
	reservedAfter := domain.Round(decimal.Max(decimal.Zero, snap.ReservedBalance.Sub(released)))

	entry := &domain.ReservationEntry{
		ID:                      uuid.New(),
		WalletAddress:           domain.NormalizeWallet(wallet),
		SubscriptionID:          subscriptionID,
		EntryType:               domain.ReservationRelease,
		Amount:                  released,
		IdempotencyKey:          domain.ReleaseKey(subscriptionID),
		ManagedQualifiedBalance: snap.ManagedQualifiedBalance,
		ReservedBalanceAfter:    reservedAfter,
		AvailableBalanceAfter:   domain.Round(snap.ManagedQualifiedBalance.Sub(reservedAfter)),
		Note:                    note,
		CreatedAt:               s.now(),
	}
	inserted, err := q.InsertReservationIfAbsent(ctx, entry)
	if err != nil {
		return "", fmt.Errorf("reservation_service.Release: %w", err)
	}
	if !inserted {
		return domain.ReleaseSkippedRepeat, nil
	}
	return domain.ReleaseReleased, nil
}
