// Package execution talks to the copy-trading execution engine. The engine
// owns copy_trading_configs, copy_trades and managed_subscription_positions;
// this package maps subscriptions to configs and reads aggregates back.
package execution

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/evetabi/managedwealth/internal/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ErrInvalidRequest is returned when a config request is missing required
// fields.
var ErrInvalidRequest = errors.New("invalid execution config request")

// ErrInvalidConfig is returned when the engine hands back an unusable config.
var ErrInvalidConfig = errors.New("execution engine returned an invalid config")

// ConfigRequest identifies the execution config of a subscription.
type ConfigRequest struct {
	SubscriptionID  uuid.UUID
	WalletAddress   string
	TraderAddress   string
	TraderName      string
	AgentID         uuid.UUID
	StrategyProfile domain.StrategyProfile
}

// Validate checks the required fields.
func (r ConfigRequest) Validate() error {
	var missing []string
	if r.WalletAddress == "" {
		missing = append(missing, "wallet")
	}
	if r.TraderAddress == "" {
		missing = append(missing, "trader")
	}
	if r.AgentID == uuid.Nil {
		missing = append(missing, "agent")
	}
	if !r.StrategyProfile.Valid() {
		missing = append(missing, "strategy profile")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrInvalidRequest, strings.Join(missing, ", "))
	}
	return nil
}

// Gateway is the execution engine surface.
type Gateway interface {
	// EnsureConfig finds the config for wallet+trader+agent or creates it,
	// and returns its id.
	EnsureConfig(ctx context.Context, req ConfigRequest) (string, error)
	// RealizedPnL sums realized PnL of the config's trades.
	RealizedPnL(ctx context.Context, configID string) (decimal.Decimal, error)
	// OpenPositionCount counts the subscription's non-zero positions.
	OpenPositionCount(ctx context.Context, subscriptionID uuid.UUID) (int, error)
	// Deactivate stops the engine from trading the config. Unknown ids are
	// ignored.
	Deactivate(ctx context.Context, configID string) error
}

func checkConfigID(id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", ErrInvalidConfig
	}
	return id, nil
}
