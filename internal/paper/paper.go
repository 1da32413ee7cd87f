// Package paper is the virtual/paper wallet: a broker.Broker
// implementation that fills orders against live prices without ever
// touching a real brokerage account (spec.md §6, "paper/virtual wallet
// as a first-class execution mode"). Grounded on the teacher's
// fivepaisa adapter shape (same interface, same callback-based
// verification delivery) with the network calls replaced by a
// simulated fill against internal/market's PriceCache, and persistence
// routed through internal/store's KV layout instead of a live broker
// account.
package paper

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"tradeengine/internal/logger"
	"tradeengine/internal/market"
	"tradeengine/internal/model"
	"tradeengine/internal/store"
	"tradeengine/internal/xerr"
)

// Config tunes the wallet's fill simulation.
type Config struct {
	StartingCash  decimal.Decimal
	FillLatency   time.Duration // simulated ack delay before the verification callback fires
	SlippageBps   int64         // adverse slippage applied to market fills, in basis points
}

func (c Config) withDefaults() Config {
	if c.StartingCash.IsZero() {
		c.StartingCash = decimal.NewFromInt(1000000)
	}
	if c.FillLatency <= 0 {
		c.FillLatency = 200 * time.Millisecond
	}
	return c
}

// VirtualOrder is the persisted record for a single simulated order,
// stored under "virtual:orders:{id}".
type VirtualOrder struct {
	OrderID   string          `json:"orderId"`
	ScripCode string          `json:"scripCode"`
	Side      model.OrderSide `json:"side"`
	Quantity  int64           `json:"quantity"`
	FillPrice decimal.Decimal `json:"fillPrice"`
	PlacedAt  time.Time       `json:"placedAt"`
}

// VirtualPosition is the persisted net position per instrument, stored
// under "virtual:positions:{scripCode}".
type VirtualPosition struct {
	ScripCode string          `json:"scripCode"`
	Quantity  int64           `json:"quantity"` // signed: positive long, negative short
	AvgPrice  decimal.Decimal `json:"avgPrice"`
}

// VirtualSettings is the wallet-level ledger, stored under
// "virtual:settings".
type VirtualSettings struct {
	Cash decimal.Decimal `json:"cash"`
}

const settingsKey = "virtual:settings"

func orderKey(id string) string        { return "virtual:orders:" + id }
func positionKey(scrip string) string   { return "virtual:positions:" + scrip }

// Wallet is a simulated broker.Broker. It fills every order immediately
// against the freshest known price and delivers the verification result
// asynchronously, matching the shape of a real broker's status stream.
type Wallet struct {
	cfg    Config
	prices *market.PriceCache
	st     *store.Store
	log    *logger.Logger
	now    func() time.Time

	mu        sync.Mutex
	settings  VirtualSettings
	callbacks map[string]func(model.OrderVerificationResult)
}

// New constructs a Wallet, loading any previously persisted settings
// from st (so a restart resumes the same virtual ledger).
func New(cfg Config, prices *market.PriceCache, st *store.Store) (*Wallet, error) {
	cfg = cfg.withDefaults()
	w := &Wallet{
		cfg:       cfg,
		prices:    prices,
		st:        st,
		log:       logger.With("component", "paper"),
		now:       time.Now,
		callbacks: make(map[string]func(model.OrderVerificationResult)),
	}

	var settings VirtualSettings
	found, err := st.KVGet(settingsKey, &settings)
	if err != nil {
		return nil, err
	}
	if found {
		w.settings = settings
	} else {
		w.settings = VirtualSettings{Cash: cfg.StartingCash}
		if err := st.KVSet(settingsKey, w.settings); err != nil {
			return nil, err
		}
	}
	return w, nil
}

// Cash returns the wallet's current simulated cash balance.
func (w *Wallet) Cash() decimal.Decimal {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.settings.Cash
}

// Position returns the persisted net position for scripCode, if any.
func (w *Wallet) Position(scripCode string) (VirtualPosition, bool, error) {
	var pos VirtualPosition
	found, err := w.st.KVGet(positionKey(scripCode), &pos)
	return pos, found, err
}

// PlaceOrder simulates an immediate fill against the freshest quote
// (spec.md §4.7: PlaceOrder returns synchronously with an OrderAck, and
// the verification result is delivered separately to the registered
// callback).
func (w *Wallet) PlaceOrder(ctx context.Context, req model.OrderRequest) (model.OrderAck, error) {
	fillPrice, err := w.resolveFillPrice(req)
	if err != nil {
		return model.OrderAck{}, err
	}

	orderID := uuid.New().String()
	order := VirtualOrder{
		OrderID:   orderID,
		ScripCode: req.Instrument,
		Side:      req.Side,
		Quantity:  req.Quantity,
		FillPrice: fillPrice,
		PlacedAt:  w.now(),
	}
	if err := w.st.KVSet(orderKey(orderID), order); err != nil {
		return model.OrderAck{}, xerr.Wrap(xerr.BrokerReject, "persisting virtual order", err)
	}

	if err := w.applyFill(req.Instrument, req.Side, req.Quantity, fillPrice); err != nil {
		return model.OrderAck{}, err
	}

	ack := model.OrderAck{OrderID: orderID, Status: "Filled", Timestamp: w.now().UnixMilli()}

	go w.deliver(orderID, model.OrderVerificationResult{
		Success:   true,
		OrderID:   orderID,
		FilledQty: req.Quantity,
		AvgPrice:  fillPrice,
		Message:   "paper fill",
	})

	return ack, nil
}

// resolveFillPrice simulates the price a live order would cross at: the
// best offer for a buy, the best bid for a sell, widened by the
// configured slippage, falling back to the last trade when no two-sided
// quote is available. A limit/stop-limit order is assumed marketable
// and fills at its own limit price, matching how a paper wallet cannot
// model queue position.
func (w *Wallet) resolveFillPrice(req model.OrderRequest) (decimal.Decimal, error) {
	if req.Type != model.OrderMarket {
		return req.LimitPrice, nil
	}

	bid, ask, ok := w.prices.BestBidAsk(req.Instrument)
	if !ok {
		tick, fresh := w.prices.Get(req.Instrument)
		if !fresh {
			return decimal.Zero, xerr.New(xerr.MarketDataStale, fmt.Sprintf("no fresh price for %s", req.Instrument))
		}
		return applySlippage(tick.LastRate, req.Side, w.cfg.SlippageBps), nil
	}

	if req.Side == model.SideBuy {
		return applySlippage(ask, req.Side, w.cfg.SlippageBps), nil
	}
	return applySlippage(bid, req.Side, w.cfg.SlippageBps), nil
}

func applySlippage(price decimal.Decimal, side model.OrderSide, bps int64) decimal.Decimal {
	if bps <= 0 {
		return price
	}
	factor := decimal.NewFromInt(bps).Div(decimal.NewFromInt(10000))
	if side == model.SideBuy {
		return price.Mul(decimal.NewFromInt(1).Add(factor))
	}
	return price.Mul(decimal.NewFromInt(1).Sub(factor))
}

// applyFill updates the persisted position and cash ledger for a filled
// order, averaging into any existing position and settling realized PnL
// on a reducing fill.
func (w *Wallet) applyFill(scripCode string, side model.OrderSide, qty int64, price decimal.Decimal) error {
	signed := qty
	if side == model.SideSell {
		signed = -qty
	}

	pos, _, err := w.Position(scripCode)
	if err != nil {
		return err
	}
	if pos.ScripCode == "" {
		pos.ScripCode = scripCode
	}

	notional := price.Mul(decimal.NewFromInt(qty))

	w.mu.Lock()
	defer w.mu.Unlock()

	switch {
	case pos.Quantity == 0:
		pos.Quantity = signed
		pos.AvgPrice = price
		if side == model.SideBuy {
			w.settings.Cash = w.settings.Cash.Sub(notional)
		} else {
			w.settings.Cash = w.settings.Cash.Add(notional)
		}
	case sameSign(pos.Quantity, signed):
		totalQty := decimal.NewFromInt(pos.Quantity).Abs().Add(decimal.NewFromInt(qty))
		weighted := pos.AvgPrice.Mul(decimal.NewFromInt(pos.Quantity).Abs()).Add(notional)
		pos.AvgPrice = weighted.Div(totalQty)
		pos.Quantity += signed
		if side == model.SideBuy {
			w.settings.Cash = w.settings.Cash.Sub(notional)
		} else {
			w.settings.Cash = w.settings.Cash.Add(notional)
		}
	default:
		// The opening fill moved its full notional through cash, so the
		// reducing fill does the same; the difference is the realized PnL.
		if side == model.SideBuy {
			w.settings.Cash = w.settings.Cash.Sub(notional)
		} else {
			w.settings.Cash = w.settings.Cash.Add(notional)
		}
		pos.Quantity += signed
		if pos.Quantity == 0 {
			pos.AvgPrice = decimal.Zero
		}
	}

	if err := w.st.KVSet(settingsKey, w.settings); err != nil {
		return err
	}
	if pos.Quantity == 0 {
		return w.st.KVDelete(positionKey(scripCode))
	}
	return w.st.KVSet(positionKey(scripCode), pos)
}

func sameSign(a, b int64) bool {
	return (a > 0 && b > 0) || (a < 0 && b < 0)
}

func (w *Wallet) deliver(orderID string, result model.OrderVerificationResult) {
	if w.cfg.FillLatency > 0 {
		time.Sleep(w.cfg.FillLatency)
	}
	w.mu.Lock()
	cb, ok := w.callbacks[orderID]
	if ok {
		delete(w.callbacks, orderID)
	}
	w.mu.Unlock()
	if ok {
		cb(result)
	}
}

// ModifyOrder is a no-op: paper fills are immediate, so there is never a
// resting order left to reprice.
func (w *Wallet) ModifyOrder(ctx context.Context, orderID string, newLimitPrice, newStopPrice *decimal.Decimal) error {
	var order VirtualOrder
	found, err := w.st.KVGet(orderKey(orderID), &order)
	if err != nil {
		return err
	}
	if !found {
		return xerr.New(xerr.BrokerReject, "unknown virtual order: "+orderID)
	}
	return nil
}

// CancelOrder is a no-op for the same reason as ModifyOrder: the order
// has already filled by the time a caller could cancel it.
func (w *Wallet) CancelOrder(ctx context.Context, orderID string) error {
	var order VirtualOrder
	found, err := w.st.KVGet(orderKey(orderID), &order)
	if err != nil {
		return err
	}
	if !found {
		return xerr.New(xerr.BrokerReject, "unknown virtual order: "+orderID)
	}
	return nil
}

// Subscribe registers a one-shot verification callback, matching
// broker.Broker's contract.
func (w *Wallet) Subscribe(orderID string, callback func(model.OrderVerificationResult)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callbacks[orderID] = callback
}
