package mode

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"tiller/internal/store/memstore"
)

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to OperationMode
		want     bool
	}{
		{Manual, Autonomous, true},
		{Assisted, Autonomous, true},
		{Autonomous, Manual, true},
		{Autonomous, Assisted, true},
		{Manual, Emergency, true},
		{Assisted, Emergency, true},
		{Autonomous, Emergency, true},
		{Emergency, Emergency, true},
		{Emergency, Assisted, true},
		{Emergency, Manual, false},
		{Emergency, Autonomous, false},
	}
	for _, c := range cases {
		assert.Equalf(t, c.want, CanTransition(c.from, c.to), "%s -> %s", c.from, c.to)
	}
}

func TestGetDefaultsWhenEmpty(t *testing.T) {
	r := NewRegistry(memstore.New())

	cfg := r.Get(context.Background(), "alice")

	assert.Equal(t, Assisted, cfg.Mode)
	assert.Equal(t, Balanced, cfg.TradingMode)
	assert.False(t, cfg.Active)
	assert.Equal(t, 10_000.0, cfg.Preferences.MaxPositionSizeUSD)
}

func TestSetPersistsAndActivates(t *testing.T) {
	kv := memstore.New()
	r := NewRegistry(kv)
	ctx := context.Background()

	cfg, err := r.Set(ctx, "alice", Autonomous)
	assert.NoError(t, err)
	assert.Equal(t, Autonomous, cfg.Mode)
	assert.True(t, cfg.Active)

	// A fresh registry over the same store sees the persisted record.
	r2 := NewRegistry(kv)
	assert.Equal(t, Autonomous, r2.Get(ctx, "alice").Mode)
}

func TestSetRejectsIllegalTransition(t *testing.T) {
	r := NewRegistry(memstore.New())
	ctx := context.Background()

	_, err := r.Set(ctx, "alice", Emergency)
	assert.NoError(t, err)

	_, err = r.Set(ctx, "alice", Autonomous)
	assert.Error(t, err)

	cfg, err := r.Set(ctx, "alice", Assisted)
	assert.NoError(t, err)
	assert.Equal(t, Assisted, cfg.Mode)
}

type failingKV struct{}

var errDown = errors.New("store down")

func (failingKV) Get(context.Context, string) (string, bool, error) { return "", false, errDown }
func (failingKV) Set(context.Context, string, string, time.Duration) error {
	return errDown
}
func (failingKV) SetNX(context.Context, string, string, time.Duration) (bool, error) {
	return false, errDown
}
func (failingKV) Delete(context.Context, string) error { return errDown }
func (failingKV) Incr(context.Context, string, time.Duration) (int64, error) {
	return 0, errDown
}
func (failingKV) TTL(context.Context, string) (time.Duration, error) { return 0, errDown }

func TestSetSurvivesStoreFailure(t *testing.T) {
	r := NewRegistry(failingKV{})
	ctx := context.Background()

	cfg, err := r.Set(ctx, "alice", Autonomous)
	assert.NoError(t, err)
	assert.Equal(t, Autonomous, cfg.Mode)

	// The in-memory record carries the change despite the dead store.
	assert.Equal(t, Autonomous, r.Get(ctx, "alice").Mode)
}

func TestUpdatePreferencesMergesAndDerives(t *testing.T) {
	r := NewRegistry(memstore.New())
	ctx := context.Background()

	sim := true
	cfg := r.UpdatePreferences(ctx, "alice", Preferences{
		RiskTolerance:  "aggressive growth",
		SimulationOnly: &sim,
	})

	assert.Equal(t, Aggressive, cfg.TradingMode)
	assert.True(t, *cfg.Preferences.SimulationOnly)
	// Untouched fields keep their defaults.
	assert.Equal(t, 10_000.0, cfg.Preferences.MaxPositionSizeUSD)

	cfg = r.UpdatePreferences(ctx, "alice", Preferences{MaxPositionSizeUSD: 500})
	assert.Equal(t, 500.0, cfg.Preferences.MaxPositionSizeUSD)
	assert.Equal(t, Aggressive, cfg.TradingMode)
}

func TestDeriveTradingMode(t *testing.T) {
	assert.Equal(t, Maximum, DeriveTradingMode("full degen"))
	assert.Equal(t, Aggressive, DeriveTradingMode("HIGH risk"))
	assert.Equal(t, Conservative, DeriveTradingMode("keep it safe"))
	assert.Equal(t, Balanced, DeriveTradingMode(""))
	assert.Equal(t, Balanced, DeriveTradingMode("whatever"))
}
