package execution

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MemoryGateway is an in-memory Gateway for tests and local runs.
type MemoryGateway struct {
	mu        sync.Mutex
	configs   map[string]memConfig
	pnl       map[string]decimal.Decimal
	positions map[uuid.UUID]int
	pnlErr    error
}

type memConfig struct {
	key    string
	active bool
}

// NewMemoryGateway creates an empty MemoryGateway.
func NewMemoryGateway() *MemoryGateway {
	return &MemoryGateway{
		configs:   make(map[string]memConfig),
		pnl:       make(map[string]decimal.Decimal),
		positions: make(map[uuid.UUID]int),
	}
}

func (r ConfigRequest) lookupKey() string {
	return r.WalletAddress + "|" + r.TraderAddress + "|" + r.AgentID.String()
}

func (g *MemoryGateway) EnsureConfig(ctx context.Context, req ConfigRequest) (string, error) {
	if err := req.Validate(); err != nil {
		return "", err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	key := req.lookupKey()
	for id, c := range g.configs {
		if c.key == key {
			c.active = true
			g.configs[id] = c
			return id, nil
		}
	}
	id := uuid.NewString()
	g.configs[id] = memConfig{key: key, active: true}
	return id, nil
}

func (g *MemoryGateway) RealizedPnL(ctx context.Context, configID string) (decimal.Decimal, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.pnlErr != nil {
		return decimal.Zero, g.pnlErr
	}
	return g.pnl[configID], nil
}

func (g *MemoryGateway) OpenPositionCount(ctx context.Context, subscriptionID uuid.UUID) (int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.positions[subscriptionID], nil
}

func (g *MemoryGateway) Deactivate(ctx context.Context, configID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if c, ok := g.configs[configID]; ok {
		c.active = false
		g.configs[configID] = c
	}
	return nil
}

// SetRealizedPnL sets the realized PnL reported for a config.
func (g *MemoryGateway) SetRealizedPnL(configID string, pnl decimal.Decimal) {
	g.mu.Lock()
	g.pnl[configID] = pnl
	g.mu.Unlock()
}

// SetOpenPositions sets the open position count of a subscription.
func (g *MemoryGateway) SetOpenPositions(subscriptionID uuid.UUID, n int) {
	g.mu.Lock()
	g.positions[subscriptionID] = n
	g.mu.Unlock()
}

// FailRealizedPnL makes RealizedPnL return err until called with nil.
func (g *MemoryGateway) FailRealizedPnL(err error) {
	g.mu.Lock()
	g.pnlErr = err
	g.mu.Unlock()
}

// IsActive reports whether a config exists and is active.
func (g *MemoryGateway) IsActive(configID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.configs[configID].active
}

// ConfigCount returns the number of configs created.
func (g *MemoryGateway) ConfigCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.configs)
}

var _ Gateway = (*MemoryGateway)(nil)
