package catalog_test

import (
	"context"
	"testing"

	"github.com/evetabi/managedwealth/internal/catalog"
	"github.com/evetabi/managedwealth/internal/domain"
	"github.com/evetabi/managedwealth/internal/repository"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `
products:
  - id: 6f1d1f4e-1b7a-4b7e-9a55-0c2b1f9e0a01
    slug: guarded-yield
    name: Guarded Yield
    strategy_profile: CONSERVATIVE
    is_guaranteed: true
    performance_fee_rate: "0.1"
    reserve_coverage_min: "1.2"
    terms:
      - id: 6f1d1f4e-1b7a-4b7e-9a55-0c2b1f9e0b01
        label: 30 days
        duration_days: 30
        min_yield_rate: "0.02"
        max_subscription_amount: "50000"
    agents:
      - id: 6f1d1f4e-1b7a-4b7e-9a55-0c2b1f9e0c01
        trader_address: "0xABCDEF"
        primary: true
  - id: 6f1d1f4e-1b7a-4b7e-9a55-0c2b1f9e0a02
    slug: alpha-momentum
    strategy_profile: AGGRESSIVE
    performance_fee_rate: "0.2"
    terms:
      - id: 6f1d1f4e-1b7a-4b7e-9a55-0c2b1f9e0b02
        duration_days: 7
        min_yield_rate: "0.05"
        performance_fee_rate: "0.25"
`

func TestParse(t *testing.T) {
	c, err := catalog.Parse([]byte(sample))
	require.NoError(t, err)
	require.Len(t, c.Products, 2)

	g := c.Products[0]
	assert.True(t, g.IsGuaranteed)
	assert.Equal(t, domain.ProductActive, g.Status)
	require.Len(t, g.Terms, 1)
	assert.Equal(t, "0.02", g.Terms[0].MinYieldRate.String())
	require.NotNil(t, g.Terms[0].MaxSubscriptionAmount)

	a := c.Products[1]
	assert.True(t, a.Terms[0].MinYieldRate.IsZero(), "non-guaranteed terms carry no floor")
	require.NotNil(t, a.Terms[0].PerformanceFeeRate)
	assert.Equal(t, "0.25", a.Terms[0].PerformanceFeeRate.String())

	require.Len(t, c.Agents, 1)
	assert.Equal(t, "0xabcdef", c.Agents[0].TraderAddress)
}

func TestParse_RejectsBadDocument(t *testing.T) {
	_, err := catalog.Parse([]byte(`
products:
  - id: not-a-uuid
    slug: x
    strategy_profile: YOLO
`))
	assert.Error(t, err)
}

func TestSync_KeepsExistingStatus(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()
	c, err := catalog.Parse([]byte(sample))
	require.NoError(t, err)
	require.NoError(t, c.Sync(ctx, store))

	id := uuid.MustParse("6f1d1f4e-1b7a-4b7e-9a55-0c2b1f9e0a01")
	require.NoError(t, store.SetProductStatus(ctx, id, domain.ProductPaused))
	require.NoError(t, c.Sync(ctx, store))

	p, err := store.GetProduct(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.ProductPaused, p.Status)

	agents, err := store.ListAgents(ctx, id)
	require.NoError(t, err)
	assert.Len(t, agents, 1)
}
