// Package broker defines the abstract Broker Adapter interface (C9): the
// three order operations the core requires, independent of which real
// broker backs them (spec.md §4.7, §6).
package broker

import (
	"context"

	"github.com/shopspring/decimal"

	"tradeengine/internal/model"
)

// Broker is the abstract client-side adapter the core depends on. The
// reference implementation is internal/broker/fivepaisa; the paper wallet
// (internal/paper) implements the same interface for simulated execution.
type Broker interface {
	PlaceOrder(ctx context.Context, req model.OrderRequest) (model.OrderAck, error)
	ModifyOrder(ctx context.Context, orderID string, newLimitPrice, newStopPrice *decimal.Decimal) error
	CancelOrder(ctx context.Context, orderID string) error

	// Subscribe registers a callback invoked exactly once per order with
	// its verification result (spec.md §4.7). Adapters that expose a
	// status stream push into it; polling adapters deliver from their own
	// goroutine.
	Subscribe(orderID string, callback func(model.OrderVerificationResult))
}
