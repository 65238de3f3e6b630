package rebalance

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tiller/internal/decision"
	"tiller/internal/gateway/exchange"
	"tiller/internal/store"
	"tiller/internal/store/memstore"
)

var testStrategies = []string{"drift", "threshold"}

func testSnapshot() exchange.PortfolioSnapshot {
	return exchange.PortfolioSnapshot{
		TotalValueUSD: 1000,
		Prices:        map[string]float64{"BTCUSDT": 100, "ETHUSDT": 10},
	}
}

func newTestGuard() (*Guard, *memstore.Store, *exchange.Simulator) {
	kv := memstore.New()
	sim := exchange.NewSimulator()
	sim.SetSnapshot(testSnapshot())
	return NewGuard(kv, sim, sim, testStrategies), kv, sim
}

func validTrades() []decision.PlannedTrade {
	return []decision.PlannedTrade{
		{Symbol: "BTCUSDT", Side: "buy", Quantity: 1},  // 100 USD
		{Symbol: "ETHUSDT", Side: "sell", Quantity: 5}, // 50 USD
	}
}

func stage(t *testing.T, g *Guard, user string, trades []decision.PlannedTrade) {
	t.Helper()
	err := g.Staging().Stage(context.Background(), Plan{
		Strategy: "drift",
		Trades:   trades,
		Owner:    user,
	})
	require.NoError(t, err)
}

func TestExecuteNoStagedPlan(t *testing.T) {
	g, _, _ := newTestGuard()

	_, err := g.Execute(context.Background(), "alice")

	var vErr *decision.ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Contains(t, vErr.Reason, "no pending rebalancing plan")
	assert.Contains(t, vErr.Reason, "portfolio analysis")
}

func TestExecuteStalePlanRejectedAndCleared(t *testing.T) {
	g, _, _ := newTestGuard()
	ctx := context.Background()
	require.NoError(t, g.Staging().Stage(ctx, Plan{
		Strategy:  "drift",
		Trades:    validTrades(),
		Owner:     "alice",
		CreatedAt: time.Now().Add(-11 * time.Minute),
	}))

	_, err := g.Execute(ctx, "alice")

	var vErr *decision.ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Contains(t, vErr.Reason, "regenerate")

	_, ok, loadErr := g.Staging().Load(ctx, "alice")
	require.NoError(t, loadErr)
	assert.False(t, ok, "stale plan must be cleared")
}

func TestExecuteHappyPathSequential(t *testing.T) {
	g, kv, sim := newTestGuard()
	ctx := context.Background()
	stage(t, g, "alice", validTrades())

	res, err := g.Execute(ctx, "alice")

	require.NoError(t, err)
	assert.Equal(t, AllSucceeded, res.Class)
	assert.Len(t, res.Succeeded, 2)
	assert.False(t, res.LockBypassed)

	orders := sim.Orders("alice")
	require.Len(t, orders, 2)
	assert.Equal(t, "BTCUSDT", orders[0].Symbol)
	assert.Equal(t, "ETHUSDT", orders[1].Symbol)

	// Lock released, plan consumed, summary staged.
	_, held, _ := kv.Get(ctx, "rebalance:lock:alice")
	assert.False(t, held)
	_, ok, _ := g.Staging().Load(ctx, "alice")
	assert.False(t, ok)
	last, found := g.Staging().LastSummary(ctx, "alice")
	require.True(t, found)
	assert.Equal(t, AllSucceeded, last.Class)
}

func TestExecuteDefaultsToSimulatedLegs(t *testing.T) {
	g, _, sim := newTestGuard()
	stage(t, g, "alice", validTrades())

	_, err := g.Execute(context.Background(), "alice")

	require.NoError(t, err)
	orders := sim.Orders("alice")
	require.Len(t, orders, 2)
	for _, o := range orders {
		assert.Truef(t, o.Simulate, "leg %s must stay simulated by default", o.Symbol)
	}
}

func TestExecuteLivePlanPlacesLiveOrders(t *testing.T) {
	g, _, sim := newTestGuard()
	ctx := context.Background()
	require.NoError(t, g.Staging().Stage(ctx, Plan{
		Strategy: "drift",
		Trades:   validTrades(),
		Owner:    "alice",
		Live:     true,
	}))

	_, err := g.Execute(ctx, "alice")

	require.NoError(t, err)
	orders := sim.Orders("alice")
	require.Len(t, orders, 2)
	for _, o := range orders {
		assert.False(t, o.Simulate)
	}
}

func TestExecuteSecondRunReportsLastSummary(t *testing.T) {
	g, _, _ := newTestGuard()
	ctx := context.Background()
	stage(t, g, "alice", validTrades())

	_, err := g.Execute(ctx, "alice")
	require.NoError(t, err)

	_, err = g.Execute(ctx, "alice")
	var vErr *decision.ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Contains(t, vErr.Reason, "last run: ALL_SUCCEEDED")
}

func TestExecutePostLockRejectionLeavesNoSummary(t *testing.T) {
	g, _, _ := newTestGuard()
	ctx := context.Background()
	stage(t, g, "alice", validTrades()[:1])

	_, err := g.Execute(ctx, "alice")
	require.Error(t, err)

	// The rejected plan is consumed but no phantom last run is recorded.
	_, found := g.Staging().LastSummary(ctx, "alice")
	assert.False(t, found)

	_, err = g.Execute(ctx, "alice")
	var vErr *decision.ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.NotContains(t, vErr.Reason, "last run")
	assert.Contains(t, vErr.Reason, "generate one first")
}

func TestExecuteBatchSizeBounds(t *testing.T) {
	ctx := context.Background()

	g, _, _ := newTestGuard()
	stage(t, g, "alice", validTrades()[:1])
	_, err := g.Execute(ctx, "alice")
	var vErr *decision.ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Contains(t, vErr.Reason, "below the 2-trade minimum")

	g, _, _ = newTestGuard()
	big := make([]decision.PlannedTrade, 21)
	for i := range big {
		big[i] = decision.PlannedTrade{Symbol: "ETHUSDT", Side: "buy", Quantity: 0.1}
	}
	stage(t, g, "alice", big)
	_, err = g.Execute(ctx, "alice")
	require.ErrorAs(t, err, &vErr)
	assert.Contains(t, vErr.Reason, "exceeds the 20-trade maximum")
}

func TestExecutePerTradeNotionalCap(t *testing.T) {
	g, _, sim := newTestGuard()
	sim.SetSnapshot(testSnapshot())
	stage(t, g, "alice", []decision.PlannedTrade{
		{Symbol: "BTCUSDT", Side: "buy", Quantity: 5.1}, // 510 USD = 51%
		{Symbol: "ETHUSDT", Side: "sell", Quantity: 1},
	})

	_, err := g.Execute(context.Background(), "alice")

	var vErr *decision.ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Contains(t, vErr.Reason, "exceeds 50% of portfolio value")
}

func TestExecuteTurnoverCap(t *testing.T) {
	g, _, _ := newTestGuard()
	// Two legs of 46% each: both under the 50% per-trade cap, 92% total.
	stage(t, g, "alice", []decision.PlannedTrade{
		{Symbol: "BTCUSDT", Side: "sell", Quantity: 4.6},
		{Symbol: "BTCUSDT", Side: "buy", Quantity: 4.6},
	})

	_, err := g.Execute(context.Background(), "alice")

	var vErr *decision.ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Contains(t, vErr.Reason, "turnover")
}

func TestExecutePortfolioFloor(t *testing.T) {
	g, _, sim := newTestGuard()
	sim.SetSnapshot(exchange.PortfolioSnapshot{
		TotalValueUSD: 99,
		Prices:        map[string]float64{"ETHUSDT": 1},
	})
	stage(t, g, "alice", []decision.PlannedTrade{
		{Symbol: "ETHUSDT", Side: "buy", Quantity: 1},
		{Symbol: "ETHUSDT", Side: "sell", Quantity: 1},
	})

	_, err := g.Execute(context.Background(), "alice")

	var vErr *decision.ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Contains(t, vErr.Reason, "below the 100 USD floor")
}

func TestExecuteRejectsSystemPrincipals(t *testing.T) {
	g, _, _ := newTestGuard()
	for _, user := range []string{"system", "ROOT", "system.batch"} {
		stage(t, g, user, validTrades())
		_, err := g.Execute(context.Background(), user)
		var vErr *decision.ValidationError
		require.ErrorAsf(t, err, &vErr, "user %s", user)
		assert.Equal(t, "user_id", vErr.Field)
	}
}

func TestExecuteRejectsUnknownStrategy(t *testing.T) {
	g, _, _ := newTestGuard()
	ctx := context.Background()
	require.NoError(t, g.Staging().Stage(ctx, Plan{
		Strategy: "yolo",
		Trades:   validTrades(),
		Owner:    "alice",
	}))

	_, err := g.Execute(ctx, "alice")

	var vErr *decision.ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "strategy", vErr.Field)
}

func TestExecuteRateLimitSixthAttempt(t *testing.T) {
	g, _, _ := newTestGuard()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		stage(t, g, "alice", validTrades())
		_, err := g.Execute(ctx, "alice")
		require.NoErrorf(t, err, "attempt %d", i+1)
	}

	stage(t, g, "alice", validTrades())
	_, err := g.Execute(ctx, "alice")

	var cErr *decision.ConflictError
	require.ErrorAs(t, err, &cErr)
	assert.Greater(t, cErr.RetryAfter, time.Duration(0))

	// Rejected attempts leave the plan staged.
	_, ok, _ := g.Staging().Load(ctx, "alice")
	assert.True(t, ok)
}

func TestExecuteLockHeldConflict(t *testing.T) {
	g, kv, _ := newTestGuard()
	ctx := context.Background()
	stage(t, g, "alice", validTrades())
	_, err := kv.SetNX(ctx, "rebalance:lock:alice", "other-holder", 30*time.Minute)
	require.NoError(t, err)

	_, err = g.Execute(ctx, "alice")

	var cErr *decision.ConflictError
	require.ErrorAs(t, err, &cErr)
	assert.Greater(t, cErr.RetryAfter, time.Duration(0))

	// The plan survives for the retry, and the foreign lock is untouched.
	_, ok, _ := g.Staging().Load(ctx, "alice")
	assert.True(t, ok)
	val, held, _ := kv.Get(ctx, "rebalance:lock:alice")
	assert.True(t, held)
	assert.Equal(t, "other-holder", val)
}

type panickingPortfolio struct{}

func (panickingPortfolio) Snapshot(context.Context, string) (exchange.PortfolioSnapshot, error) {
	panic("portfolio reader exploded")
}

func TestExecuteLockReleasedOnPanic(t *testing.T) {
	kv := memstore.New()
	sim := exchange.NewSimulator()
	g := NewGuard(kv, sim, panickingPortfolio{}, testStrategies)
	ctx := context.Background()
	stage(t, g, "alice", validTrades())

	require.Panics(t, func() { _, _ = g.Execute(ctx, "alice") })

	_, held, _ := kv.Get(ctx, "rebalance:lock:alice")
	assert.False(t, held, "lock must be released on panic")
	_, ok, _ := g.Staging().Load(ctx, "alice")
	assert.False(t, ok, "plan must be consumed on panic")
}

// unavailableLockKV delegates to a memstore but reports the lock store down.
type unavailableLockKV struct {
	*memstore.Store
}

func (u unavailableLockKV) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	return false, fmt.Errorf("setnx: %w", store.ErrUnavailable)
}

func TestExecuteProceedsWithoutLockWhenStoreUnavailable(t *testing.T) {
	kv := unavailableLockKV{memstore.New()}
	sim := exchange.NewSimulator()
	sim.SetSnapshot(testSnapshot())
	g := NewGuard(kv, sim, sim, testStrategies)
	ctx := context.Background()
	stage(t, g, "alice", validTrades())

	res, err := g.Execute(ctx, "alice")

	require.NoError(t, err)
	assert.Equal(t, AllSucceeded, res.Class)
	assert.True(t, res.LockBypassed)
	assert.Contains(t, res.Summary(), "without the safety lock")
}

func TestExecutePartialSuccessWithRetries(t *testing.T) {
	g, _, sim := newTestGuard()
	sim.FailSymbol("ETHUSDT", errors.New("exchange rejected"))
	ctx := context.Background()
	stage(t, g, "alice", validTrades())

	res, err := g.Execute(ctx, "alice")

	require.NoError(t, err)
	assert.Equal(t, PartialSuccess, res.Class)
	require.Len(t, res.Failed, 1)
	assert.Equal(t, 3, res.Failed[0].Attempts)
	assert.Contains(t, res.Failed[0].Error, "exchange rejected")
	require.Len(t, res.Succeeded, 1)
	assert.Equal(t, "BTCUSDT", res.Succeeded[0].Trade.Symbol)

	// One leg failing never halts the batch, and the summary says so.
	assert.Contains(t, res.Summary(), "partially complete")
}

func TestExecuteAllFailed(t *testing.T) {
	g, _, sim := newTestGuard()
	sim.FailSymbol("BTCUSDT", errors.New("down"))
	sim.FailSymbol("ETHUSDT", errors.New("down"))
	ctx := context.Background()
	stage(t, g, "alice", validTrades())

	res, err := g.Execute(ctx, "alice")

	require.NoError(t, err)
	assert.Equal(t, AllFailed, res.Class)
	assert.Len(t, res.Failed, 2)
}

func TestValidateBatchMissingPrice(t *testing.T) {
	err := validateBatch([]decision.PlannedTrade{
		{Symbol: "DOGEUSDT", Side: "buy", Quantity: 1},
		{Symbol: "BTCUSDT", Side: "sell", Quantity: 1},
	}, testSnapshot())

	var vErr *decision.ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Contains(t, vErr.Reason, "no price available")
}

func TestValidateBatchLimitPriceFallback(t *testing.T) {
	err := validateBatch([]decision.PlannedTrade{
		{Symbol: "DOGEUSDT", Side: "buy", Quantity: 10, Price: 5},
		{Symbol: "BTCUSDT", Side: "sell", Quantity: 1},
	}, testSnapshot())

	assert.NoError(t, err)
}
