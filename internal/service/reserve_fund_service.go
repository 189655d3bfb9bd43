package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/evetabi/managedwealth/internal/domain"
	"github.com/evetabi/managedwealth/internal/execution"
	"github.com/evetabi/managedwealth/internal/repository"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const lockReserveFund = "managed-reserve-fund:ledger"

// Health defaults.
const (
	DefaultStaleMappingMinutes = 30
	DefaultLiquidationLimit    = 200
)

// ReserveEntryRequest is a manual reserve fund movement.
type ReserveEntryRequest struct {
	EntryType domain.ReserveEntryType
	Amount    decimal.Decimal
	Note      string
}

// HealthQuery bounds the settlement health scan. Zero values take the
// defaults.
type HealthQuery struct {
	StaleMappingMinutes int
	LiquidationLimit    int
}

// LiquidationItem is a LIQUIDATING subscription still holding positions.
type LiquidationItem struct {
	SubscriptionID     uuid.UUID `json:"subscriptionId"`
	WalletAddress      string    `json:"walletAddress"`
	OpenPositionsCount int       `json:"openPositionsCount"`
	AgeMinutes         int       `json:"ageMinutes"`
}

// SettlementHealth summarizes the settlement pipeline for operators.
type SettlementHealth struct {
	GeneratedAt          time.Time         `json:"generatedAt"`
	Running              int               `json:"running"`
	Matured              int               `json:"matured"`
	Liquidating          int               `json:"liquidating"`
	StaleMappingMinutes  int               `json:"staleMappingMinutes"`
	StaleUnmapped        int               `json:"staleUnmapped"`
	InspectedLiquidating int               `json:"inspectedLiquidating"`
	BacklogCount         int               `json:"backlogCount"`
	ReadyToSettleCount   int               `json:"readyToSettleCount"`
	Backlog              []LiquidationItem `json:"backlog"`
	OverdueUnsettled     int               `json:"overdueUnsettled"`
}

// ReserveFundService serves the backoffice: manual reserve fund entries,
// settlement health and the risk event log.
type ReserveFundService struct {
	store   repository.Store
	gateway execution.Gateway
	log     *slog.Logger
	now     Clock
}

// NewReserveFundService creates a ReserveFundService.
func NewReserveFundService(store repository.Store, gateway execution.Gateway, log *slog.Logger) *ReserveFundService {
	return &ReserveFundService{
		store:   store,
		gateway: gateway,
		log:     log.With("component", "reserve_fund_service"),
		now:     utcNow,
	}
}

// AddEntry appends a DEPOSIT, WITHDRAW or ADJUSTMENT entry. GUARANTEE_TOPUP
// entries are written by settlement only.
func (s *ReserveFundService) AddEntry(ctx context.Context, req ReserveEntryRequest) (*domain.ReserveFundEntry, error) {
	switch req.EntryType {
	case domain.ReserveDeposit, domain.ReserveWithdraw, domain.ReserveAdjustment:
	default:
		return nil, fmt.Errorf("entry type %q: %w", req.EntryType, domain.ErrInvalidReserveEntry)
	}
	amount := domain.Round(req.Amount)
	if !amount.IsPositive() {
		return nil, fmt.Errorf("amount must be positive: %w", domain.ErrInvalidReserveEntry)
	}

	now := s.now()
	entry := &domain.ReserveFundEntry{
		ID:        uuid.New(),
		EntryType: req.EntryType,
		Amount:    amount,
		Note:      req.Note,
		CreatedAt: now,
	}
	err := s.store.InTx(ctx, func(q repository.Queries) error {
		if err := q.LockKey(ctx, lockReserveFund); err != nil {
			return err
		}
		balance, err := q.ReserveFundBalance(ctx)
		if err != nil {
			return err
		}
		entry.BalanceAfter = domain.Round(balance.Add(req.EntryType.Signed(amount)))
		return q.AppendReserveEntry(ctx, entry)
	})
	if err != nil {
		return nil, fmt.Errorf("reserve_fund_service.AddEntry: %w", err)
	}

	s.log.Info("reserve fund entry recorded",
		"entry_type", entry.EntryType, "amount", amount.String(), "balance_after", entry.BalanceAfter.String())
	return entry, nil
}

// ListEntries returns up to limit entries, newest first.
func (s *ReserveFundService) ListEntries(ctx context.Context, limit int) ([]*domain.ReserveFundEntry, error) {
	entries, err := s.store.ListReserveEntries(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("reserve_fund_service.ListEntries: %w", err)
	}
	return entries, nil
}

// Health reports lifecycle counts, mapping lag and the liquidation backlog.
// A LIQUIDATING subscription with no open positions is ready to settle on
// the next worker cycle.
func (s *ReserveFundService) Health(ctx context.Context, hq HealthQuery) (*SettlementHealth, error) {
	if hq.StaleMappingMinutes <= 0 {
		hq.StaleMappingMinutes = DefaultStaleMappingMinutes
	}
	if hq.LiquidationLimit <= 0 {
		hq.LiquidationLimit = DefaultLiquidationLimit
	}
	now := s.now()

	counts, err := s.store.CountByStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("reserve_fund_service.Health: counts: %w", err)
	}
	staleBefore := now.Add(-time.Duration(hq.StaleMappingMinutes) * time.Minute)
	stale, err := s.store.CountStaleUnmapped(ctx, staleBefore)
	if err != nil {
		return nil, fmt.Errorf("reserve_fund_service.Health: stale: %w", err)
	}
	overdue, err := s.store.CountOverdue(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("reserve_fund_service.Health: overdue: %w", err)
	}
	liquidating, err := s.store.ListByStatus(ctx, domain.SubLiquidating, hq.LiquidationLimit)
	if err != nil {
		return nil, fmt.Errorf("reserve_fund_service.Health: liquidating: %w", err)
	}

	h := &SettlementHealth{
		GeneratedAt:          now,
		Running:              counts[domain.SubRunning],
		Matured:              counts[domain.SubMatured],
		Liquidating:          counts[domain.SubLiquidating],
		StaleMappingMinutes:  hq.StaleMappingMinutes,
		StaleUnmapped:        stale,
		InspectedLiquidating: len(liquidating),
		Backlog:              []LiquidationItem{},
		OverdueUnsettled:     overdue,
	}
	for _, sub := range liquidating {
		open, err := s.gateway.OpenPositionCount(ctx, sub.ID)
		if err != nil {
			return nil, fmt.Errorf("reserve_fund_service.Health: open positions: %w", err)
		}
		if open == 0 {
			h.ReadyToSettleCount++
			continue
		}
		h.Backlog = append(h.Backlog, LiquidationItem{
			SubscriptionID:     sub.ID,
			WalletAddress:      sub.WalletAddress,
			OpenPositionsCount: open,
			AgeMinutes:         int(now.Sub(sub.UpdatedAt).Minutes()),
		})
	}
	h.BacklogCount = len(h.Backlog)
	return h, nil
}

// RiskEvents returns up to limit risk events, newest first.
func (s *ReserveFundService) RiskEvents(ctx context.Context, limit int) ([]*domain.RiskEvent, error) {
	events, err := s.store.ListRiskEvents(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("reserve_fund_service.RiskEvents: %w", err)
	}
	return events, nil
}
