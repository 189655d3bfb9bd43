package service

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/evetabi/managedwealth/internal/affiliate"
	"github.com/evetabi/managedwealth/internal/domain"
	"github.com/evetabi/managedwealth/internal/execution"
	"github.com/evetabi/managedwealth/internal/repository"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

const testWallet = "0xabc0000000000000000000000000000000000001"

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// ── Fakes ─────────────────────────────────────────────────────────────────────

type fakeDistributor struct {
	mu    sync.Mutex
	calls []affiliate.Distribution
	err   error
}

func (d *fakeDistributor) DistributeProfitFee(ctx context.Context, dist affiliate.Distribution) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, dist)
	return d.err
}

func (d *fakeDistributor) fail(err error) {
	d.mu.Lock()
	d.err = err
	d.mu.Unlock()
}

func (d *fakeDistributor) callCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.calls)
}

type statusEvent struct {
	subscriptionID uuid.UUID
	status         domain.SubscriptionStatus
}

type recordingNotifier struct {
	mu       sync.Mutex
	created  int
	statuses []statusEvent
	navs     int
	products map[string]domain.ProductStatus
}

func (n *recordingNotifier) SubscriptionCreated(*domain.Subscription) {
	n.mu.Lock()
	n.created++
	n.mu.Unlock()
}

func (n *recordingNotifier) SubscriptionStatus(_ string, id uuid.UUID, status domain.SubscriptionStatus) {
	n.mu.Lock()
	n.statuses = append(n.statuses, statusEvent{id, status})
	n.mu.Unlock()
}

func (n *recordingNotifier) NavUpdated(string, *domain.NavSnapshot) {
	n.mu.Lock()
	n.navs++
	n.mu.Unlock()
}

func (n *recordingNotifier) ProductStatus(_ uuid.UUID, slug string, status domain.ProductStatus) {
	n.mu.Lock()
	if n.products == nil {
		n.products = make(map[string]domain.ProductStatus)
	}
	n.products[slug] = status
	n.mu.Unlock()
}

type fakeReferral struct{ applied bool }

func (r fakeReferral) ApplyManagedBonus(context.Context, string, uuid.UUID) (bool, error) {
	return r.applied, nil
}

// ── Fixture ───────────────────────────────────────────────────────────────────

type fixture struct {
	t   *testing.T
	ctx context.Context

	mu    sync.Mutex
	clock time.Time

	store    *repository.MemoryStore
	gateway  *execution.MemoryGateway
	dist     *fakeDistributor
	notifier *recordingNotifier

	// balanced is non-guaranteed with a 30-day term and a 1-day trial term.
	balanced  *domain.Product
	term30    *domain.Term
	trialTerm *domain.Term
	// guarded is guaranteed: 30 days, 2% minimum yield, 1.0 coverage minimum.
	guarded     *domain.Product
	guardedTerm *domain.Term

	reservations *ReservationService
	nav          *NavService
	coverage     *CoverageService
	profitFees   *ProfitFeeService
	settlements  *SettlementService
	subs         *SubscriptionService
	withdraw     *WithdrawService
	lifecycle    *LifecycleService
	reserveFund  *ReserveFundService
}

type fixtureOption func(*SubscriptionPolicy, *domain.WithdrawPolicy)

func withMinPrincipal(v string) fixtureOption {
	return func(p *SubscriptionPolicy, _ *domain.WithdrawPolicy) { p.MinPrincipal = dec(v) }
}

func withCooldownHours(h float64) fixtureOption {
	return func(_ *SubscriptionPolicy, w *domain.WithdrawPolicy) { w.CooldownHours = h }
}

func newFixture(t *testing.T, opts ...fixtureOption) *fixture {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	f := &fixture{
		t:        t,
		ctx:      context.Background(),
		clock:    time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC),
		store:    repository.NewMemoryStore(),
		gateway:  execution.NewMemoryGateway(),
		dist:     &fakeDistributor{},
		notifier: &recordingNotifier{},
	}

	subPolicy := SubscriptionPolicy{MinPrincipal: dec("500"), TrialTermDays: 1}
	wdPolicy := domain.WithdrawPolicy{
		CooldownHours:          6,
		EarlyWithdrawalFeeRate: dec("0.01"),
		DrawdownAlertThreshold: dec("0.35"),
	}
	for _, o := range opts {
		o(&subPolicy, &wdPolicy)
	}

	f.seedCatalog()

	f.reservations = NewReservationService(f.store)
	f.nav = NewNavService(f.store, f.gateway, log)
	f.coverage = NewCoverageService(f.store, log)
	f.profitFees = NewProfitFeeService(f.store, f.dist, log)
	f.settlements = NewSettlementService(f.store, f.gateway, f.reservations, f.profitFees, log)
	f.subs = NewSubscriptionService(f.store, f.reservations, f.coverage, f.nav, subPolicy, log)
	f.withdraw = NewWithdrawService(f.store, f.gateway, f.settlements, f.profitFees, wdPolicy, log)
	f.lifecycle = NewLifecycleService(f.store, f.gateway, log)
	f.reserveFund = NewReserveFundService(f.store, f.gateway, log)

	f.reservations.now = f.now
	f.nav.now = f.now
	f.profitFees.now = f.now
	f.settlements.now = f.now
	f.subs.now = f.now
	f.withdraw.now = f.now
	f.lifecycle.now = f.now
	f.reserveFund.now = f.now

	f.nav.SetNotifier(f.notifier)
	f.coverage.SetNotifier(f.notifier)
	f.settlements.SetNotifier(f.notifier)
	f.subs.SetNotifier(f.notifier)
	f.withdraw.SetNotifier(f.notifier)
	f.lifecycle.SetNotifier(f.notifier)
	return f
}

func (f *fixture) now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.clock
}

func (f *fixture) advance(d time.Duration) {
	f.mu.Lock()
	f.clock = f.clock.Add(d)
	f.mu.Unlock()
}

func (f *fixture) seedCatalog() {
	created := f.clock.Add(-24 * time.Hour)
	f.balanced = &domain.Product{
		ID:                 uuid.New(),
		Slug:               "balanced-growth",
		Name:               "Balanced Growth",
		StrategyProfile:    domain.ProfileModerate,
		PerformanceFeeRate: dec("0.2"),
		Status:             domain.ProductActive,
		IsActive:           true,
		CreatedAt:          created,
		UpdatedAt:          created,
	}
	f.guarded = &domain.Product{
		ID:                 uuid.New(),
		Slug:               "capital-guard",
		Name:               "Capital Guard",
		StrategyProfile:    domain.ProfileConservative,
		IsGuaranteed:       true,
		PerformanceFeeRate: dec("0.1"),
		ReserveCoverageMin: dec("1"),
		Status:             domain.ProductActive,
		IsActive:           true,
		CreatedAt:          created,
		UpdatedAt:          created,
	}
	f.term30 = &domain.Term{ID: uuid.New(), ProductID: f.balanced.ID, Label: "30D", DurationDays: 30, IsActive: true}
	f.trialTerm = &domain.Term{ID: uuid.New(), ProductID: f.balanced.ID, Label: "1D", DurationDays: 1, IsActive: true}
	f.guardedTerm = &domain.Term{
		ID: uuid.New(), ProductID: f.guarded.ID, Label: "30D", DurationDays: 30,
		MinYieldRate: dec("0.02"), IsActive: true,
	}

	for _, p := range []*domain.Product{f.balanced, f.guarded} {
		require.NoError(f.t, f.store.UpsertProduct(f.ctx, p))
		require.NoError(f.t, f.store.UpsertAgent(f.ctx, &domain.Agent{
			ID: uuid.New(), ProductID: p.ID, TraderAddress: "0xtrader", TraderName: "Alpha", Weight: 100, IsPrimary: true,
		}))
	}
	for _, term := range []*domain.Term{f.term30, f.trialTerm, f.guardedTerm} {
		require.NoError(f.t, f.store.UpsertTerm(f.ctx, term))
	}
}

func (f *fixture) deposit(wallet, amount string) {
	f.store.AddNetDeposit(wallet, "DEPOSIT", dec(amount))
}

func (f *fixture) fundReserve(amount string) {
	_, err := f.reserveFund.AddEntry(f.ctx, ReserveEntryRequest{EntryType: domain.ReserveDeposit, Amount: dec(amount)})
	require.NoError(f.t, err)
}

func (f *fixture) subscribe(wallet string, product *domain.Product, term *domain.Term, principal string) (*CreateResult, error) {
	id := product.ID
	return f.subs.Create(f.ctx, CreateRequest{
		WalletAddress: wallet,
		ProductID:     &id,
		TermID:        term.ID,
		Principal:     dec(principal),
		AcceptedTerms: true,
	})
}

// running creates a subscription and maps it to an execution config.
func (f *fixture) running(product *domain.Product, term *domain.Term, principal string) *domain.Subscription {
	f.t.Helper()
	res, err := f.subscribe(testWallet, product, term, principal)
	require.NoError(f.t, err)
	_, _, err = f.lifecycle.MapExecutions(f.ctx, 10)
	require.NoError(f.t, err)
	return f.reload(res.Subscription.ID)
}

func (f *fixture) reload(id uuid.UUID) *domain.Subscription {
	f.t.Helper()
	sub, err := f.store.GetSubscription(f.ctx, id)
	require.NoError(f.t, err)
	return sub
}

// setPnL reports realized PnL for the subscription and refreshes its NAV.
func (f *fixture) setPnL(sub *domain.Subscription, pnl string) {
	f.t.Helper()
	require.NotNil(f.t, sub.CopyConfigID)
	f.gateway.SetRealizedPnL(*sub.CopyConfigID, dec(pnl))
	_, err := f.nav.Refresh(f.ctx, f.reload(sub.ID))
	require.NoError(f.t, err)
}
