package mode

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"tiller/internal/logger"
	"tiller/internal/store"
)

const configKeyPrefix = "mode:config:"

// Registry resolves and updates per-user operation modes. The in-memory map
// is the interim source of truth whenever the shared store misbehaves:
// writes land in memory first and are write-through best-effort.
type Registry struct {
	kv store.KV

	mu    sync.RWMutex
	cache map[string]UserConfig
}

func NewRegistry(kv store.KV) *Registry {
	return &Registry{kv: kv, cache: make(map[string]UserConfig)}
}

// Get reads through store, then cache, then hard defaults.
func (r *Registry) Get(ctx context.Context, userID string) UserConfig {
	if cfg, ok := r.fromStore(ctx, userID); ok {
		r.put(cfg)
		return cfg
	}
	r.mu.RLock()
	cfg, ok := r.cache[userID]
	r.mu.RUnlock()
	if ok {
		return cfg
	}
	return Defaults(userID)
}

// Set switches the user's mode. Memory is updated first so the change is
// visible even when the store write fails.
func (r *Registry) Set(ctx context.Context, userID string, m OperationMode) (UserConfig, error) {
	if !m.Valid() {
		return UserConfig{}, fmt.Errorf("unknown operation mode %q", m)
	}
	cfg := r.Get(ctx, userID)
	if !CanTransition(cfg.Mode, m) {
		return cfg, fmt.Errorf("mode transition %s -> %s not allowed", cfg.Mode, m)
	}
	cfg.Mode = m
	cfg.Active = m == Autonomous
	r.put(cfg)
	r.writeThrough(ctx, cfg)
	return cfg, nil
}

// UpdatePreferences merges non-zero fields into the existing record and
// re-derives the trading mode from the risk tolerance text.
func (r *Registry) UpdatePreferences(ctx context.Context, userID string, p Preferences) UserConfig {
	cfg := r.Get(ctx, userID)
	if strings.TrimSpace(p.RiskTolerance) != "" {
		cfg.Preferences.RiskTolerance = p.RiskTolerance
		cfg.TradingMode = DeriveTradingMode(p.RiskTolerance)
	}
	if p.MaxPositionSizeUSD > 0 {
		cfg.Preferences.MaxPositionSizeUSD = p.MaxPositionSizeUSD
	}
	if p.MaxRiskPerTradePct > 0 {
		cfg.Preferences.MaxRiskPerTradePct = p.MaxRiskPerTradePct
	}
	if p.SimulationOnly != nil {
		cfg.Preferences.SimulationOnly = p.SimulationOnly
	}
	r.put(cfg)
	r.writeThrough(ctx, cfg)
	return cfg
}

// Active reports whether the autonomous loop flag is set for the user.
func (r *Registry) Active(ctx context.Context, userID string) bool {
	return r.Get(ctx, userID).Active
}

func (r *Registry) put(cfg UserConfig) {
	r.mu.Lock()
	r.cache[cfg.UserID] = cfg
	r.mu.Unlock()
}

func (r *Registry) fromStore(ctx context.Context, userID string) (UserConfig, bool) {
	if r.kv == nil {
		return UserConfig{}, false
	}
	raw, ok, err := r.kv.Get(ctx, configKeyPrefix+userID)
	if err != nil {
		logger.Warnf("mode: store read failed user=%s err=%v", userID, err)
		return UserConfig{}, false
	}
	if !ok {
		return UserConfig{}, false
	}
	var cfg UserConfig
	if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
		logger.Warnf("mode: corrupt config record user=%s err=%v", userID, err)
		return UserConfig{}, false
	}
	return cfg, true
}

func (r *Registry) writeThrough(ctx context.Context, cfg UserConfig) {
	if r.kv == nil {
		return
	}
	raw, err := json.Marshal(cfg)
	if err != nil {
		logger.Errorf("mode: marshal config user=%s err=%v", cfg.UserID, err)
		return
	}
	if err := r.kv.Set(ctx, configKeyPrefix+cfg.UserID, string(raw), 0); err != nil {
		// Memory stays authoritative until the next successful sync.
		logger.Warnf("mode: store write failed user=%s err=%v", cfg.UserID, err)
	}
}
