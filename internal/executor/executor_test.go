package executor

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tiller/internal/decision"
	"tiller/internal/gateway/exchange"
	"tiller/internal/intent"
	"tiller/internal/mode"
	"tiller/internal/rebalance"
	"tiller/internal/store/memstore"
)

func newTestExecutor() (*Executor, *exchange.Simulator, *mode.Registry, *rebalance.Guard) {
	kv := memstore.New()
	sim := exchange.NewSimulator()
	sim.SetSnapshot(exchange.PortfolioSnapshot{
		TotalValueUSD: 1000,
		Prices:        map[string]float64{"BTCUSDT": 100, "ETHUSDT": 10},
	})
	modes := mode.NewRegistry(kv)
	guard := rebalance.NewGuard(kv, sim, sim, []string{"drift"})
	exec := NewExecutor(NewRegistry(), sim, sim, guard, modes, nil)
	return exec, sim, modes, guard
}

func tradeDecision(user string, payload string) *decision.Decision {
	return &decision.Decision{
		ID:     "d-1",
		UserID: user,
		Intent: intent.TradeExecution,
		Type:   decision.TypeTrade,
		Mode:   mode.Assisted,
		Recommendation: decision.Recommendation{
			Summary: "buy some btc",
			Payload: json.RawMessage(payload),
		},
		CreatedAt: time.Now().UTC(),
	}
}

func TestExecuteUnregisteredDecisionFails(t *testing.T) {
	exec, _, _, _ := newTestExecutor()

	_, err := exec.Execute(context.Background(), tradeDecision("alice", `{}`))

	assert.Error(t, err)
}

func TestExecuteTradeSuccessRemovesFromRegistry(t *testing.T) {
	exec, sim, _, _ := newTestExecutor()
	d := tradeDecision("alice", `{"symbol":"BTCUSDT","side":"buy","quantity":0.5}`)
	exec.Register(d)

	res, err := exec.Execute(context.Background(), d)

	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.NotEmpty(t, res.TradeID)
	assert.Equal(t, d.ID, res.DecisionID)

	_, still := exec.Registry().Get(d.ID)
	assert.False(t, still, "successful decisions leave the registry")

	orders := sim.Orders("alice")
	require.Len(t, orders, 1)
	assert.True(t, orders[0].Simulate, "simulate defaults to true")
}

func TestExecuteTradeFailureRetainsInRegistry(t *testing.T) {
	exec, sim, _, _ := newTestExecutor()
	sim.FailSymbol("BTCUSDT", errors.New("exchange down"))
	d := tradeDecision("alice", `{"symbol":"BTCUSDT","side":"buy","quantity":0.5}`)
	exec.Register(d)

	_, err := exec.Execute(context.Background(), d)

	assert.Error(t, err)
	_, still := exec.Registry().Get(d.ID)
	assert.True(t, still, "failed decisions stay resolvable for retry")
}

func TestExecuteTradeRejectsMissingFields(t *testing.T) {
	exec, _, _, _ := newTestExecutor()

	d := tradeDecision("alice", `{"side":"buy","quantity":1}`)
	exec.Register(d)
	_, err := exec.Execute(context.Background(), d)
	var vErr *decision.ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "symbol", vErr.Field)

	d = tradeDecision("alice", `{"symbol":"BTCUSDT","quantity":1}`)
	d.ID = "d-2"
	exec.Register(d)
	_, err = exec.Execute(context.Background(), d)
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "side", vErr.Field)
}

func TestSimulateResolutionOrder(t *testing.T) {
	exec, sim, modes, _ := newTestExecutor()
	ctx := context.Background()

	// Recommendation flag wins.
	d := tradeDecision("alice", `{"symbol":"BTCUSDT","side":"buy","quantity":1,"simulate":false}`)
	exec.Register(d)
	_, err := exec.Execute(ctx, d)
	require.NoError(t, err)
	assert.False(t, sim.Orders("alice")[0].Simulate)

	// User preference is the fallback.
	off := false
	modes.UpdatePreferences(ctx, "bob", mode.Preferences{SimulationOnly: &off})
	d = tradeDecision("bob", `{"symbol":"BTCUSDT","side":"buy","quantity":1}`)
	d.ID = "d-2"
	exec.Register(d)
	_, err = exec.Execute(ctx, d)
	require.NoError(t, err)
	assert.False(t, sim.Orders("bob")[0].Simulate)
}

func TestApproveAndExecuteOwnershipCheck(t *testing.T) {
	exec, _, _, _ := newTestExecutor()
	d := tradeDecision("alice", `{"symbol":"BTCUSDT","side":"buy","quantity":0.5}`)
	exec.Register(d)

	_, err := exec.ApproveAndExecute(context.Background(), d.ID, "mallory")
	assert.ErrorIs(t, err, decision.ErrUnauthorized)

	_, err = exec.ApproveAndExecute(context.Background(), "no-such-id", "alice")
	assert.ErrorIs(t, err, decision.ErrUnauthorized)

	res, err := exec.ApproveAndExecute(context.Background(), d.ID, "alice")
	require.NoError(t, err)
	assert.True(t, res.Success)
}

func TestExecuteEmergencyStopsAndSwitchesMode(t *testing.T) {
	exec, _, modes, _ := newTestExecutor()
	ctx := context.Background()
	d := &decision.Decision{
		ID:     "e-1",
		UserID: "alice",
		Intent: intent.Emergency,
		Type:   decision.TypeEmergency,
		Recommendation: decision.Recommendation{
			Summary: "panic sell detected",
		},
	}
	exec.Register(d)

	res, err := exec.Execute(ctx, d)

	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, mode.Emergency, modes.Get(ctx, "alice").Mode)
}

func TestExecuteRebalanceStagesRecommendedTrades(t *testing.T) {
	exec, sim, _, _ := newTestExecutor()
	payload := `{"strategy":"drift","trades":[
		{"symbol":"BTCUSDT","side":"buy","quantity":1},
		{"symbol":"ETHUSDT","side":"sell","quantity":5}
	]}`
	d := &decision.Decision{
		ID:             "r-1",
		UserID:         "alice",
		Intent:         intent.Rebalance,
		Type:           decision.TypeRebalance,
		Recommendation: decision.Recommendation{Payload: json.RawMessage(payload)},
	}
	exec.Register(d)

	res, err := exec.Execute(context.Background(), d)

	require.NoError(t, err)
	assert.True(t, res.Success)
	require.NotNil(t, res.Rebalance)
	assert.Equal(t, rebalance.AllSucceeded, res.Rebalance.Class)
	assert.Len(t, sim.Orders("alice"), 2)
}

func TestExecuteRebalanceHonorsSimulationPreference(t *testing.T) {
	exec, sim, modes, _ := newTestExecutor()
	ctx := context.Background()
	payload := `{"strategy":"drift","trades":[
		{"symbol":"BTCUSDT","side":"buy","quantity":1},
		{"symbol":"ETHUSDT","side":"sell","quantity":5}
	]}`

	// No flag anywhere: every leg stays simulated.
	d := &decision.Decision{
		ID:             "r-sim",
		UserID:         "alice",
		Intent:         intent.Rebalance,
		Type:           decision.TypeRebalance,
		Recommendation: decision.Recommendation{Payload: json.RawMessage(payload)},
	}
	exec.Register(d)
	_, err := exec.Execute(ctx, d)
	require.NoError(t, err)
	for _, o := range sim.Orders("alice") {
		assert.Truef(t, o.Simulate, "leg %s must default to simulation", o.Symbol)
	}

	// The user preference switches the whole batch live.
	off := false
	modes.UpdatePreferences(ctx, "bob", mode.Preferences{SimulationOnly: &off})
	d = &decision.Decision{
		ID:             "r-live",
		UserID:         "bob",
		Intent:         intent.Rebalance,
		Type:           decision.TypeRebalance,
		Recommendation: decision.Recommendation{Payload: json.RawMessage(payload)},
	}
	exec.Register(d)
	_, err = exec.Execute(ctx, d)
	require.NoError(t, err)
	for _, o := range sim.Orders("bob") {
		assert.False(t, o.Simulate)
	}
}

func TestExecuteRebalanceWithoutPlanRejected(t *testing.T) {
	exec, _, _, _ := newTestExecutor()
	d := &decision.Decision{
		ID:     "r-2",
		UserID: "alice",
		Intent: intent.Rebalance,
		Type:   decision.TypeRebalance,
	}
	exec.Register(d)

	_, err := exec.Execute(context.Background(), d)

	var vErr *decision.ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Contains(t, vErr.Reason, "no pending rebalancing plan")

	_, still := exec.Registry().Get(d.ID)
	assert.True(t, still)
}

func TestExecuteModeChange(t *testing.T) {
	exec, _, modes, _ := newTestExecutor()
	ctx := context.Background()
	d := &decision.Decision{
		ID:     "m-1",
		UserID: "alice",
		Intent: intent.ModeChange,
		Type:   decision.TypeModeChange,
		Recommendation: decision.Recommendation{
			Payload: json.RawMessage(`{"target":"manual"}`),
		},
	}
	exec.Register(d)

	res, err := exec.Execute(ctx, d)

	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, mode.Manual, modes.Get(ctx, "alice").Mode)
}

func TestExecuteAnalysisIsReadOnly(t *testing.T) {
	exec, sim, _, _ := newTestExecutor()
	d := &decision.Decision{
		ID:     "a-1",
		UserID: "alice",
		Intent: intent.PortfolioAnalysis,
		Type:   decision.TypeAnalysis,
		Recommendation: decision.Recommendation{
			Summary: "portfolio looks balanced",
		},
	}
	exec.Register(d)

	res, err := exec.Execute(context.Background(), d)

	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "portfolio looks balanced", res.Message)
	assert.Empty(t, sim.Orders("alice"))
}

func TestRegistryPending(t *testing.T) {
	r := NewRegistry()
	r.Put(&decision.Decision{ID: "1", UserID: "alice", RequiresApproval: true})
	r.Put(&decision.Decision{ID: "2", UserID: "alice", RequiresApproval: false})
	r.Put(&decision.Decision{ID: "3", UserID: "bob", RequiresApproval: true})

	pending := r.Pending("alice")

	require.Len(t, pending, 1)
	assert.Equal(t, "1", pending[0].ID)
}
