package service

import (
	"log/slog"

	"github.com/evetabi/managedwealth/internal/affiliate"
	"github.com/evetabi/managedwealth/internal/config"
	"github.com/evetabi/managedwealth/internal/domain"
	"github.com/evetabi/managedwealth/internal/execution"
	"github.com/evetabi/managedwealth/internal/repository"
	"github.com/shopspring/decimal"
)

// Services is the managed-wealth service graph shared by the binaries.
type Services struct {
	Auth          *AuthService
	Reservations  *ReservationService
	Nav           *NavService
	Coverage      *CoverageService
	ProfitFees    *ProfitFeeService
	Settlements   *SettlementService
	Subscriptions *SubscriptionService
	Withdraw      *WithdrawService
	Lifecycle     *LifecycleService
	ReserveFund   *ReserveFundService
}

// NewServices builds every service over store and gateway. Order matters
// for injection.
func NewServices(
	store repository.Store,
	gateway execution.Gateway,
	distributor affiliate.Distributor,
	cfg *config.Config,
	log *slog.Logger,
) *Services {
	s := &Services{
		Auth:         NewAuthService(cfg.Auth.WalletSecret, cfg.Auth.AdminSecret),
		Reservations: NewReservationService(store),
		Nav:          NewNavService(store, gateway, log),
		Coverage:     NewCoverageService(store, log),
		ProfitFees:   NewProfitFeeService(store, distributor, log),
		Lifecycle:    NewLifecycleService(store, gateway, log),
		ReserveFund:  NewReserveFundService(store, gateway, log),
	}
	s.Settlements = NewSettlementService(store, gateway, s.Reservations, s.ProfitFees, log)
	s.Subscriptions = NewSubscriptionService(store, s.Reservations, s.Coverage, s.Nav, SubscriptionPolicy{
		MinPrincipal:  decimal.NewFromFloat(cfg.Managed.MinPrincipal),
		TrialTermDays: cfg.Managed.TrialTermDays,
	}, log)
	s.Withdraw = NewWithdrawService(store, gateway, s.Settlements, s.ProfitFees, domain.WithdrawPolicy{
		CooldownHours:          cfg.Managed.CooldownHours,
		EarlyWithdrawalFeeRate: decimal.NewFromFloat(cfg.Managed.EarlyWithdrawFeeRate),
		DrawdownAlertThreshold: decimal.NewFromFloat(cfg.Managed.DrawdownAlertThreshold),
	}, log)
	return s
}

// SetNotifier wires n into every service that pushes events.
func (s *Services) SetNotifier(n Notifier) {
	s.Nav.SetNotifier(n)
	s.Coverage.SetNotifier(n)
	s.Settlements.SetNotifier(n)
	s.Subscriptions.SetNotifier(n)
	s.Withdraw.SetNotifier(n)
	s.Lifecycle.SetNotifier(n)
}
