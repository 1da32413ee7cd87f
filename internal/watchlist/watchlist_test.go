package watchlist

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradeengine/internal/model"
)

func pending(scripCode, signalID string, admittedAt time.Time, ttl time.Duration) *model.PendingSignal {
	return &model.PendingSignal{
		Signal:     model.StrategySignal{ScripCode: scripCode, SignalID: signalID},
		AdmittedAt: admittedAt,
		ExpiresAt:  admittedAt.Add(ttl),
	}
}

func TestAdmitReplacesOlder(t *testing.T) {
	w := New()
	now := time.Now()

	w.Admit(pending("RELIANCE", "s1", now, time.Minute))
	w.Admit(pending("RELIANCE", "s2", now.Add(time.Second), time.Minute))

	ps, ok := w.ForScrip("RELIANCE")
	require.True(t, ok)
	assert.Equal(t, "s2", ps.Signal.SignalID)
	assert.Equal(t, 1, w.Len())
}

func TestRemoveAndClear(t *testing.T) {
	w := New()
	now := time.Now()
	w.Admit(pending("TCS", "s1", now, time.Minute))
	w.Admit(pending("INFY", "s2", now, time.Minute))

	w.Remove("TCS")
	_, ok := w.ForScrip("TCS")
	assert.False(t, ok)
	assert.Equal(t, 1, w.Len())

	w.Clear()
	assert.Equal(t, 0, w.Len())
}

func TestExpireOlderThan(t *testing.T) {
	w := New()
	now := time.Now()

	w.Admit(pending("WIPRO", "s1", now.Add(-time.Hour), time.Minute)) // already expired
	w.Admit(pending("HDFC", "s2", now, time.Hour))                    // not expired

	expired := w.ExpireOlderThan(now)
	require.Len(t, expired, 1)
	assert.Equal(t, "WIPRO", expired[0].Signal.ScripCode)

	_, ok := w.ForScrip("WIPRO")
	assert.False(t, ok)
	_, ok = w.ForScrip("HDFC")
	assert.True(t, ok)
}

func TestAllReturnsSnapshot(t *testing.T) {
	w := New()
	now := time.Now()
	w.Admit(pending("A", "1", now, time.Minute))
	w.Admit(pending("B", "2", now, time.Minute))

	all := w.All()
	assert.Len(t, all, 2)
}
