// Package verify implements the Order Verifier (C10): tracks submitted
// orders and reconciles broker fills, delivering an OrderVerificationResult
// exactly once per order (spec.md §4.7).
package verify

import (
	"context"
	"sync"
	"time"

	"tradeengine/internal/logger"
	"tradeengine/internal/model"
)

// PollFunc polls the broker for a single order's current status. The
// reference fivepaisa adapter prefers its websocket stream; PollFunc is
// the fallback path (spec.md §4.7, "otherwise polling every 2 s").
type PollFunc func(ctx context.Context, orderID string) (model.OrderVerificationResult, bool, error)

// DefaultPollInterval is the fallback poll cadence.
const DefaultPollInterval = 2 * time.Second

// DefaultEntryTimeout is how long an unfilled entry order is tolerated
// before cancellation (spec.md §4.7, §6).
const DefaultEntryTimeout = 30 * time.Second

type tracked struct {
	orderID    string
	requestQty int64
	submitted  time.Time
	timeout    time.Duration
	callback   func(model.OrderVerificationResult)
	done       bool
}

// CancelFunc cancels a resting order at the broker.
type CancelFunc func(ctx context.Context, orderID string) error

// Verifier tracks in-flight orders and calls back exactly once with the
// reconciled result, applying the partial-fill policy (spec.md §4.7):
// actual filled quantity is authoritative, any remainder is cancelled.
type Verifier struct {
	poll   PollFunc
	cancel CancelFunc
	log    *logger.Logger

	mu      sync.Mutex
	tracked map[string]*tracked

	interval time.Duration
}

// New constructs a Verifier. poll is used when the broker adapter has no
// push-style status stream; if the adapter instead calls ReportResult
// directly (e.g. from a websocket handler), poll may be nil.
func New(poll PollFunc, cancel CancelFunc) *Verifier {
	return &Verifier{
		poll:     poll,
		cancel:   cancel,
		log:      logger.With("component", "verify"),
		tracked:  make(map[string]*tracked),
		interval: DefaultPollInterval,
	}
}

// Track registers an order for verification with the given entry timeout
// (0 uses DefaultEntryTimeout) and begins polling it if a PollFunc is
// configured.
func (v *Verifier) Track(ctx context.Context, orderID string, requestQty int64, timeout time.Duration, callback func(model.OrderVerificationResult)) {
	if timeout <= 0 {
		timeout = DefaultEntryTimeout
	}
	t := &tracked{
		orderID:    orderID,
		requestQty: requestQty,
		submitted:  time.Now(),
		timeout:    timeout,
		callback:   callback,
	}
	v.mu.Lock()
	v.tracked[orderID] = t
	v.mu.Unlock()

	if v.poll != nil {
		go v.pollLoop(ctx, t)
	}
}

// ReportResult delivers a result pushed from a broker-side status stream
// (e.g. the fivepaisa websocket), applying the same partial-fill and
// exactly-once semantics as the polling path.
func (v *Verifier) ReportResult(result model.OrderVerificationResult) {
	v.mu.Lock()
	t, ok := v.tracked[result.OrderID]
	if ok {
		t.done = true
		delete(v.tracked, result.OrderID)
	}
	v.mu.Unlock()
	if !ok {
		return
	}
	v.deliver(t, result)
}

func (v *Verifier) pollLoop(ctx context.Context, t *tracked) {
	ticker := time.NewTicker(v.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		v.mu.Lock()
		_, stillTracked := v.tracked[t.orderID]
		v.mu.Unlock()
		if !stillTracked {
			return
		}

		if time.Since(t.submitted) > t.timeout {
			v.timeoutOrder(ctx, t)
			return
		}

		result, final, err := v.poll(ctx, t.orderID)
		if err != nil {
			v.log.Warnf("verify: poll failed for order %s: %v", t.orderID, err)
			continue
		}
		if !final {
			continue
		}

		v.mu.Lock()
		_, stillTracked = v.tracked[t.orderID]
		if stillTracked {
			delete(v.tracked, t.orderID)
		}
		v.mu.Unlock()
		if !stillTracked {
			return
		}

		v.deliver(t, result)
		return
	}
}

func (v *Verifier) timeoutOrder(ctx context.Context, t *tracked) {
	v.mu.Lock()
	_, stillTracked := v.tracked[t.orderID]
	if stillTracked {
		delete(v.tracked, t.orderID)
	}
	v.mu.Unlock()
	if !stillTracked {
		return
	}

	if v.cancel != nil {
		if err := v.cancel(ctx, t.orderID); err != nil {
			v.log.Warnf("verify: cancel failed for timed-out order %s: %v", t.orderID, err)
		}
	}
	v.deliver(t, model.OrderVerificationResult{
		Success: false,
		OrderID: t.orderID,
		Message: "entry timeout exceeded, order cancelled",
	})
}

// deliver applies the partial-fill policy, cancels any unfilled remainder,
// and invokes the callback exactly once.
func (v *Verifier) deliver(t *tracked, result model.OrderVerificationResult) {
	if result.Success && result.FilledQty > 0 && result.FilledQty < t.requestQty {
		v.log.Warnf("verify: partial fill on order %s: requested=%d filled=%d", t.orderID, t.requestQty, result.FilledQty)
		if v.cancel != nil {
			if err := v.cancel(context.Background(), t.orderID); err != nil {
				v.log.Warnf("verify: cancelling partial-fill remainder failed for %s: %v", t.orderID, err)
			}
		}
	}
	t.callback(result)
}

// Pending returns the order ids currently tracked, used by shutdown to
// persist outstanding verifications for reconciliation on next start
// (spec.md §5, "Cancellation & timeouts").
func (v *Verifier) Pending() []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]string, 0, len(v.tracked))
	for id := range v.tracked {
		out = append(out, id)
	}
	return out
}
