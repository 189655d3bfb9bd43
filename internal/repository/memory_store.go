package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/evetabi/managedwealth/internal/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MemoryStore is an in-memory Store for tests and local runs. Transactions
// are serialized and rolled back by restoring a snapshot of the state.
// Returned entities are copies.
type MemoryStore struct {
	txMu  sync.Mutex
	mu    sync.RWMutex
	st    memState
	locks map[string]int
}

type navKey struct {
	sub uuid.UUID
	at  int64
}

type depositRow struct {
	wallet    string
	direction string
	amount    decimal.Decimal
}

type memState struct {
	products     map[uuid.UUID]domain.Product
	terms        map[uuid.UUID]domain.Term
	agents       map[uuid.UUID]domain.Agent
	subs         map[uuid.UUID]domain.Subscription
	deposits     []depositRow
	reservations []domain.ReservationEntry
	reserve      []domain.ReserveFundEntry
	nav          map[navKey]domain.NavSnapshot
	settlements  map[uuid.UUID]domain.Settlement
	executions   map[uuid.UUID]domain.SettlementExecution
	risk         []domain.RiskEvent
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{st: memState{
		products:    make(map[uuid.UUID]domain.Product),
		terms:       make(map[uuid.UUID]domain.Term),
		agents:      make(map[uuid.UUID]domain.Agent),
		subs:        make(map[uuid.UUID]domain.Subscription),
		nav:         make(map[navKey]domain.NavSnapshot),
		settlements: make(map[uuid.UUID]domain.Settlement),
		executions:  make(map[uuid.UUID]domain.SettlementExecution),
	}}
}

func (s memState) clone() memState {
	out := memState{
		products:     make(map[uuid.UUID]domain.Product, len(s.products)),
		terms:        make(map[uuid.UUID]domain.Term, len(s.terms)),
		agents:       make(map[uuid.UUID]domain.Agent, len(s.agents)),
		subs:         make(map[uuid.UUID]domain.Subscription, len(s.subs)),
		deposits:     append([]depositRow(nil), s.deposits...),
		reservations: append([]domain.ReservationEntry(nil), s.reservations...),
		reserve:      append([]domain.ReserveFundEntry(nil), s.reserve...),
		nav:          make(map[navKey]domain.NavSnapshot, len(s.nav)),
		settlements:  make(map[uuid.UUID]domain.Settlement, len(s.settlements)),
		executions:   make(map[uuid.UUID]domain.SettlementExecution, len(s.executions)),
		risk:         append([]domain.RiskEvent(nil), s.risk...),
	}
	for k, v := range s.products {
		out.products[k] = v
	}
	for k, v := range s.terms {
		out.terms[k] = v
	}
	for k, v := range s.agents {
		out.agents[k] = v
	}
	for k, v := range s.subs {
		out.subs[k] = v
	}
	for k, v := range s.nav {
		out.nav[k] = v
	}
	for k, v := range s.settlements {
		out.settlements[k] = v
	}
	for k, v := range s.executions {
		out.executions[k] = v
	}
	return out
}

// InTx serializes fn against other transactions and restores the previous
// state when fn fails.
func (m *MemoryStore) InTx(ctx context.Context, fn func(q Queries) error) (err error) {
	m.txMu.Lock()
	defer m.txMu.Unlock()

	m.mu.RLock()
	saved := m.st.clone()
	m.mu.RUnlock()

	defer func() {
		if p := recover(); p != nil {
			m.restore(saved)
			panic(p)
		}
		if err != nil {
			m.restore(saved)
		}
	}()
	return fn(m)
}

func (m *MemoryStore) restore(saved memState) {
	m.mu.Lock()
	m.st = saved
	m.mu.Unlock()
}

// LockKey only counts the request. MemoryStore transactions are already
// serialized.
func (m *MemoryStore) LockKey(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.locks == nil {
		m.locks = make(map[string]int)
	}
	m.locks[key]++
	return nil
}

// LockCount returns how many times key was locked.
func (m *MemoryStore) LockCount(key string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.locks[key]
}

// ── Test seeding ──────────────────────────────────────────────────────────────

// AddNetDeposit records an external DEPOSIT or WITHDRAW row.
func (m *MemoryStore) AddNetDeposit(wallet, direction string, amount decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st.deposits = append(m.st.deposits, depositRow{
		wallet:    domain.NormalizeWallet(wallet),
		direction: direction,
		amount:    amount,
	})
}

// ReservationEntries returns every reservation entry of a subscription.
func (m *MemoryStore) ReservationEntries(subscriptionID uuid.UUID) []domain.ReservationEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.ReservationEntry
	for _, e := range m.st.reservations {
		if e.SubscriptionID == subscriptionID {
			out = append(out, e)
		}
	}
	return out
}

// SettlementCount returns the number of settlement rows.
func (m *MemoryStore) SettlementCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.st.settlements)
}

// ── Products ──────────────────────────────────────────────────────────────────

func (m *MemoryStore) GetProduct(ctx context.Context, id uuid.UUID) (*domain.Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.st.products[id]
	if !ok {
		return nil, domain.ErrProductNotFound
	}
	return &p, nil
}

func (m *MemoryStore) GetProductBySlug(ctx context.Context, slug string) (*domain.Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, p := range m.st.products {
		if p.Slug == slug {
			out := p
			return &out, nil
		}
	}
	return nil, domain.ErrProductNotFound
}

func (m *MemoryStore) ListProducts(ctx context.Context, activeOnly bool) ([]*domain.Product, error) {
	return m.filterProducts(func(p domain.Product) bool { return !activeOnly || p.IsActive }), nil
}

func (m *MemoryStore) ListGuaranteedProducts(ctx context.Context) ([]*domain.Product, error) {
	return m.filterProducts(func(p domain.Product) bool { return p.IsGuaranteed && p.IsActive }), nil
}

func (m *MemoryStore) filterProducts(keep func(domain.Product) bool) []*domain.Product {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*domain.Product
	for _, p := range m.st.products {
		if keep(p) {
			cp := p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Slug < out[j].Slug })
	return out
}

func (m *MemoryStore) GetTerm(ctx context.Context, productID, termID uuid.UUID) (*domain.Term, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.st.terms[termID]
	if !ok || t.ProductID != productID || !t.IsActive {
		return nil, domain.ErrTermNotFound
	}
	return &t, nil
}

func (m *MemoryStore) GetTermByID(ctx context.Context, termID uuid.UUID) (*domain.Term, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.st.terms[termID]
	if !ok {
		return nil, domain.ErrTermNotFound
	}
	return &t, nil
}

func (m *MemoryStore) ListTerms(ctx context.Context, productID uuid.UUID) ([]*domain.Term, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*domain.Term
	for _, t := range m.st.terms {
		if t.ProductID == productID && t.IsActive {
			cp := t
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DurationDays < out[j].DurationDays })
	return out, nil
}

func (m *MemoryStore) ListAgents(ctx context.Context, productID uuid.UUID) ([]*domain.Agent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*domain.Agent
	for _, a := range m.st.agents {
		if a.ProductID == productID {
			cp := a
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].IsPrimary != out[j].IsPrimary {
			return out[i].IsPrimary
		}
		return out[i].Weight > out[j].Weight
	})
	return out, nil
}

func (m *MemoryStore) SetProductStatus(ctx context.Context, id uuid.UUID, status domain.ProductStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.st.products[id]
	if !ok {
		return domain.ErrProductNotFound
	}
	p.Status = status
	p.UpdatedAt = time.Now().UTC()
	m.st.products[id] = p
	return nil
}

func (m *MemoryStore) UpsertProduct(ctx context.Context, p *domain.Product) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *p
	cp.Terms = nil
	if existing, ok := m.st.products[p.ID]; ok {
		cp.Status = existing.Status
		cp.CreatedAt = existing.CreatedAt
	}
	m.st.products[p.ID] = cp
	return nil
}

func (m *MemoryStore) UpsertTerm(ctx context.Context, t *domain.Term) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.st.terms[t.ID]; ok {
		existing.IsActive = t.IsActive
		m.st.terms[t.ID] = existing
		return nil
	}
	m.st.terms[t.ID] = *t
	return nil
}

func (m *MemoryStore) UpsertAgent(ctx context.Context, a *domain.Agent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st.agents[a.ID] = *a
	return nil
}

// ── Subscriptions ─────────────────────────────────────────────────────────────

func (m *MemoryStore) CreateSubscription(ctx context.Context, sub *domain.Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st.subs[sub.ID] = *sub
	return nil
}

func (m *MemoryStore) GetSubscription(ctx context.Context, id uuid.UUID) (*domain.Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sub, ok := m.st.subs[id]
	if !ok {
		return nil, domain.ErrSubscriptionNotFound
	}
	return &sub, nil
}

func (m *MemoryStore) GetSubscriptionForUpdate(ctx context.Context, id uuid.UUID) (*domain.Subscription, error) {
	return m.GetSubscription(ctx, id)
}

func (m *MemoryStore) filterSubs(keep func(domain.Subscription) bool, less func(a, b *domain.Subscription) bool, limit int) []*domain.Subscription {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*domain.Subscription
	for _, sub := range m.st.subs {
		if keep(sub) {
			cp := sub
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return less(out[i], out[j]) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func byCreatedAt(a, b *domain.Subscription) bool { return a.CreatedAt.Before(b.CreatedAt) }

func (m *MemoryStore) ListSubscriptionsByWallet(ctx context.Context, wallet string, status domain.SubscriptionStatus) ([]*domain.Subscription, error) {
	return m.filterSubs(func(s domain.Subscription) bool {
		return s.WalletAddress == wallet && (status == "" || s.Status == status)
	}, func(a, b *domain.Subscription) bool { return a.CreatedAt.After(b.CreatedAt) }, 0), nil
}

func (m *MemoryStore) CountSubscriptionsByWallet(ctx context.Context, wallet string) (int, error) {
	subs, _ := m.ListSubscriptionsByWallet(ctx, wallet, "")
	return len(subs), nil
}

func (m *MemoryStore) SumPrincipalByWallet(ctx context.Context, wallet string, statuses []domain.SubscriptionStatus) (decimal.Decimal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	total := decimal.Zero
	for _, sub := range m.st.subs {
		if sub.WalletAddress == wallet && sub.Status.In(statuses...) {
			total = total.Add(sub.Principal)
		}
	}
	return total, nil
}

func (m *MemoryStore) ListUnmapped(ctx context.Context, limit int) ([]*domain.Subscription, error) {
	m.mu.RLock()
	products := make(map[uuid.UUID]domain.Product, len(m.st.products))
	for k, v := range m.st.products {
		products[k] = v
	}
	m.mu.RUnlock()

	return m.filterSubs(func(s domain.Subscription) bool {
		p, ok := products[s.ProductID]
		return s.Status.In(domain.SubPending, domain.SubRunning) && s.CopyConfigID == nil &&
			ok && p.AcceptsSubscriptions()
	}, byCreatedAt, limit), nil
}

func (m *MemoryStore) ListNavCandidates(ctx context.Context, limit int) ([]*domain.Subscription, error) {
	return m.filterSubs(func(s domain.Subscription) bool {
		return s.Status.In(domain.SubRunning, domain.SubLiquidating) && s.CopyConfigID != nil
	}, byCreatedAt, limit), nil
}

func (m *MemoryStore) ListSettlementCandidates(ctx context.Context, now time.Time, limit int) ([]*domain.Subscription, error) {
	return m.filterSubs(func(s domain.Subscription) bool {
		return s.Status.In(domain.SettleableStatuses...) && s.IsDue(now)
	}, func(a, b *domain.Subscription) bool { return a.EndAt.Before(*b.EndAt) }, limit), nil
}

func (m *MemoryStore) ListByStatus(ctx context.Context, status domain.SubscriptionStatus, limit int) ([]*domain.Subscription, error) {
	return m.filterSubs(func(s domain.Subscription) bool {
		return s.Status == status
	}, func(a, b *domain.Subscription) bool { return a.UpdatedAt.Before(b.UpdatedAt) }, limit), nil
}

func (m *MemoryStore) update(id uuid.UUID, fn func(*domain.Subscription) bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.st.subs[id]
	if !ok || !fn(&sub) {
		return false
	}
	sub.UpdatedAt = time.Now().UTC()
	m.st.subs[id] = sub
	return true
}

func (m *MemoryStore) MarkMapped(ctx context.Context, id uuid.UUID, configID string, startAt, endAt time.Time) error {
	m.update(id, func(s *domain.Subscription) bool {
		if !s.Status.In(domain.SubPending, domain.SubRunning) {
			return false
		}
		cfg := configID
		s.CopyConfigID = &cfg
		s.Status = domain.SubRunning
		if s.StartAt == nil {
			s.StartAt = &startAt
		}
		if s.EndAt == nil {
			s.EndAt = &endAt
		}
		return true
	})
	return nil
}

func (m *MemoryStore) MarkMatured(ctx context.Context, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, sub := range m.st.subs {
		if sub.Status == domain.SubRunning && sub.IsDue(now) {
			at := now
			sub.Status = domain.SubMatured
			sub.MaturedAt = &at
			m.st.subs[id] = sub
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) UpdateEquity(ctx context.Context, id uuid.UUID, equity decimal.Decimal) error {
	m.update(id, func(s *domain.Subscription) bool {
		if !s.Status.AcceptsNav() {
			return false
		}
		s.CurrentEquity = equity
		s.HighWaterMark = decimal.Max(s.HighWaterMark, equity)
		return true
	})
	return nil
}

func (m *MemoryStore) UpdateStatus(ctx context.Context, id uuid.UUID, status domain.SubscriptionStatus) error {
	ok := m.update(id, func(s *domain.Subscription) bool {
		if s.Status.IsTerminal() {
			return false
		}
		s.Status = status
		return true
	})
	if !ok {
		return domain.ErrInvalidTransition
	}
	return nil
}

func (m *MemoryStore) MarkSettled(ctx context.Context, id uuid.UUID, u SettledUpdate) error {
	m.update(id, func(s *domain.Subscription) bool {
		settledAt := u.SettledAt
		s.Status = domain.SubSettled
		s.CurrentEquity = u.FinalEquity
		s.HighWaterMark = decimal.Max(s.HighWaterMark, u.FinalEquity)
		s.SettledAt = &settledAt
		if u.MaturedAt != nil {
			s.MaturedAt = u.MaturedAt
		}
		if u.EndAt != nil {
			s.EndAt = u.EndAt
		}
		return true
	})
	return nil
}

func (m *MemoryStore) CountByStatus(ctx context.Context) (StatusCounts, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(StatusCounts)
	for _, sub := range m.st.subs {
		out[sub.Status]++
	}
	return out, nil
}

func (m *MemoryStore) CountStaleUnmapped(ctx context.Context, createdBefore time.Time) (int, error) {
	subs := m.filterSubs(func(s domain.Subscription) bool {
		return s.Status.In(domain.SubPending, domain.SubRunning) && s.CopyConfigID == nil &&
			s.CreatedAt.Before(createdBefore)
	}, byCreatedAt, 0)
	return len(subs), nil
}

func (m *MemoryStore) CountOverdue(ctx context.Context, now time.Time) (int, error) {
	subs, _ := m.ListSettlementCandidates(ctx, now, 0)
	return len(subs), nil
}

func (m *MemoryStore) ListGuaranteeExposures(ctx context.Context, productID *uuid.UUID) ([]domain.GuaranteeExposure, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.GuaranteeExposure
	for _, sub := range m.st.subs {
		if !sub.Status.In(domain.LiabilityStatuses...) {
			continue
		}
		if productID != nil && sub.ProductID != *productID {
			continue
		}
		p, ok := m.st.products[sub.ProductID]
		if !ok || !p.IsGuaranteed || !p.IsActive {
			continue
		}
		t := m.st.terms[sub.TermID]
		out = append(out, domain.GuaranteeExposure{
			SubscriptionID: sub.ID,
			ProductID:      sub.ProductID,
			Principal:      sub.Principal,
			MinYieldRate:   t.MinYieldRate,
		})
	}
	return out, nil
}

// ── Ledgers ───────────────────────────────────────────────────────────────────

func (m *MemoryStore) SumNetDeposits(ctx context.Context, wallet string) (decimal.Decimal, decimal.Decimal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	deposits, withdrawals := decimal.Zero, decimal.Zero
	for _, r := range m.st.deposits {
		if r.wallet != wallet {
			continue
		}
		switch r.direction {
		case "DEPOSIT":
			deposits = deposits.Add(r.amount)
		case "WITHDRAW":
			withdrawals = withdrawals.Add(r.amount)
		}
	}
	return deposits, withdrawals, nil
}

func (m *MemoryStore) SumReservations(ctx context.Context, wallet string) (decimal.Decimal, decimal.Decimal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	reserved, released := decimal.Zero, decimal.Zero
	for _, e := range m.st.reservations {
		if e.WalletAddress != wallet {
			continue
		}
		switch e.EntryType {
		case domain.ReservationReserve:
			reserved = reserved.Add(e.Amount)
		case domain.ReservationRelease:
			released = released.Add(e.Amount)
		}
	}
	return reserved, released, nil
}

func (m *MemoryStore) GetReservationByKey(ctx context.Context, key string) (*domain.ReservationEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, e := range m.st.reservations {
		if e.IdempotencyKey == key {
			out := e
			return &out, nil
		}
	}
	return nil, nil
}

func (m *MemoryStore) UpsertReservation(ctx context.Context, e *domain.ReservationEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, existing := range m.st.reservations {
		if existing.IdempotencyKey == e.IdempotencyKey {
			existing.Amount = e.Amount
			existing.ManagedQualifiedBalance = e.ManagedQualifiedBalance
			existing.ReservedBalanceAfter = e.ReservedBalanceAfter
			existing.AvailableBalanceAfter = e.AvailableBalanceAfter
			existing.Note = e.Note
			m.st.reservations[i] = existing
			return nil
		}
	}
	m.st.reservations = append(m.st.reservations, *e)
	return nil
}

func (m *MemoryStore) InsertReservationIfAbsent(ctx context.Context, e *domain.ReservationEntry) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.st.reservations {
		if existing.IdempotencyKey == e.IdempotencyKey {
			return false, nil
		}
	}
	m.st.reservations = append(m.st.reservations, *e)
	return true, nil
}

func (m *MemoryStore) ReserveFundBalance(ctx context.Context) (decimal.Decimal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	total := decimal.Zero
	for _, e := range m.st.reserve {
		total = total.Add(e.EntryType.Signed(e.Amount))
	}
	return total, nil
}

func (m *MemoryStore) AppendReserveEntry(ctx context.Context, e *domain.ReserveFundEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st.reserve = append(m.st.reserve, *e)
	return nil
}

func (m *MemoryStore) ListReserveEntries(ctx context.Context, limit int) ([]*domain.ReserveFundEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*domain.ReserveFundEntry
	for i := len(m.st.reserve) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		cp := m.st.reserve[i]
		out = append(out, &cp)
	}
	return out, nil
}

// ── NAV ───────────────────────────────────────────────────────────────────────

func (m *MemoryStore) navSeries(subscriptionID uuid.UUID) []domain.NavSnapshot {
	var out []domain.NavSnapshot
	for k, v := range m.st.nav {
		if k.sub == subscriptionID {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SnapshotAt.After(out[j].SnapshotAt) })
	return out
}

func (m *MemoryStore) LatestNav(ctx context.Context, subscriptionID uuid.UUID) (*domain.NavSnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	series := m.navSeries(subscriptionID)
	if len(series) == 0 {
		return nil, nil
	}
	return &series[0], nil
}

func (m *MemoryStore) MaxNav(ctx context.Context, subscriptionID uuid.UUID) (*decimal.Decimal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	series := m.navSeries(subscriptionID)
	if len(series) == 0 {
		return nil, nil
	}
	peak := series[0].Nav
	for _, s := range series[1:] {
		peak = decimal.Max(peak, s.Nav)
	}
	return &peak, nil
}

func (m *MemoryStore) UpsertNav(ctx context.Context, snap *domain.NavSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := navKey{sub: snap.SubscriptionID, at: snap.SnapshotAt.UnixNano()}
	cp := *snap
	if existing, ok := m.st.nav[key]; ok {
		cp.ID = existing.ID
		cp.CreatedAt = existing.CreatedAt
	}
	m.st.nav[key] = cp
	return nil
}

func (m *MemoryStore) ListNav(ctx context.Context, subscriptionID uuid.UUID, limit int) ([]*domain.NavSnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	series := m.navSeries(subscriptionID)
	if limit > 0 && len(series) > limit {
		series = series[:limit]
	}
	out := make([]*domain.NavSnapshot, len(series))
	for i := range series {
		out[i] = &series[i]
	}
	return out, nil
}

// ── Settlements ───────────────────────────────────────────────────────────────

func (m *MemoryStore) GetSettlement(ctx context.Context, subscriptionID uuid.UUID) (*domain.Settlement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st, ok := m.st.settlements[subscriptionID]
	if !ok {
		return nil, nil
	}
	return &st, nil
}

func (m *MemoryStore) UpsertSettlement(ctx context.Context, st *domain.Settlement) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.st.settlements[st.SubscriptionID]; ok {
		if existing.IsCompleted() {
			return domain.ErrAlreadySettled
		}
		st.ID = existing.ID
		st.CreatedAt = existing.CreatedAt
	}
	m.st.settlements[st.SubscriptionID] = *st
	return nil
}

func (m *MemoryStore) EnsureSettlementExecution(ctx context.Context, e *domain.SettlementExecution) (*domain.SettlementExecution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.st.executions[e.SettlementID]; ok {
		return &existing, nil
	}
	m.st.executions[e.SettlementID] = *e
	out := *e
	return &out, nil
}

func (m *MemoryStore) findExecution(id uuid.UUID) (uuid.UUID, domain.SettlementExecution, bool) {
	for k, v := range m.st.executions {
		if v.ID == id {
			return k, v, true
		}
	}
	return uuid.Nil, domain.SettlementExecution{}, false
}

func retryable(e domain.SettlementExecution, staleBefore time.Time) bool {
	switch e.CommissionStatus {
	case domain.CommissionPending, domain.CommissionFailed:
		return true
	case domain.CommissionProcessing:
		return e.UpdatedAt.Before(staleBefore)
	}
	return false
}

func (m *MemoryStore) ClaimSettlementExecution(ctx context.Context, id uuid.UUID, staleBefore time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k, e, ok := m.findExecution(id)
	if !ok || !retryable(e, staleBefore) {
		return false, nil
	}
	e.CommissionStatus = domain.CommissionProcessing
	e.Attempts++
	e.UpdatedAt = time.Now().UTC()
	m.st.executions[k] = e
	return true, nil
}

func (m *MemoryStore) FinishSettlementExecution(ctx context.Context, id uuid.UUID, status domain.CommissionStatus, lastErr *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k, e, ok := m.findExecution(id)
	if !ok {
		return nil
	}
	e.CommissionStatus = status
	e.LastError = lastErr
	e.UpdatedAt = time.Now().UTC()
	m.st.executions[k] = e
	return nil
}

func (m *MemoryStore) ListRetryableExecutions(ctx context.Context, staleBefore time.Time, limit int) ([]*domain.SettlementExecution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*domain.SettlementExecution
	for _, e := range m.st.executions {
		if retryable(e, staleBefore) {
			cp := e
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ── Risk ──────────────────────────────────────────────────────────────────────

func (m *MemoryStore) InsertRiskEvent(ctx context.Context, e *domain.RiskEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st.risk = append(m.st.risk, *e)
	return nil
}

func (m *MemoryStore) ListRiskEvents(ctx context.Context, limit int) ([]*domain.RiskEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*domain.RiskEvent
	for i := len(m.st.risk) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		cp := m.st.risk[i]
		out = append(out, &cp)
	}
	return out, nil
}

var _ Store = (*MemoryStore)(nil)
