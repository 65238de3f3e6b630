// Package rebalance validates and safely executes multi-trade rebalancing
// batches under a per-user lock.
package rebalance

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"tiller/internal/decision"
	"tiller/internal/store"
)

const (
	planKeyPrefix    = "rebalance:plan:"
	summaryKeyPrefix = "rebalance:summary:"

	// Plans older than this are never executed.
	planMaxAge = 10 * time.Minute
	// Staged plans self-expire a while after they become stale.
	planStagingTTL = 30 * time.Minute
)

// Plan is an ordered batch of trades staged by the external planning step.
// It is consumed exactly once.
type Plan struct {
	Strategy string                  `json:"strategy"`
	Trades   []decision.PlannedTrade `json:"trades"`
	Owner    string                  `json:"owner"`
	// Live marks the batch for real placement. The zero value keeps every
	// leg simulated, so a plan that never resolved the flag cannot move
	// funds.
	Live      bool      `json:"live,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func (p Plan) Stale(now time.Time) bool {
	return now.Sub(p.CreatedAt) > planMaxAge
}

// Staging stages plans and execution summaries in the shared store, scoped
// per user.
type Staging struct {
	kv store.KV
}

func NewStaging(kv store.KV) *Staging {
	return &Staging{kv: kv}
}

// Stage replaces any previously staged plan for the owner.
func (s *Staging) Stage(ctx context.Context, plan Plan) error {
	if plan.CreatedAt.IsZero() {
		plan.CreatedAt = time.Now().UTC()
	}
	raw, err := json.Marshal(plan)
	if err != nil {
		return err
	}
	return s.kv.Set(ctx, planKeyPrefix+plan.Owner, string(raw), planStagingTTL)
}

// Load returns the staged plan, if any. It does not consume it.
func (s *Staging) Load(ctx context.Context, userID string) (Plan, bool, error) {
	raw, ok, err := s.kv.Get(ctx, planKeyPrefix+userID)
	if err != nil || !ok {
		return Plan{}, false, err
	}
	var plan Plan
	if err := json.Unmarshal([]byte(raw), &plan); err != nil {
		return Plan{}, false, fmt.Errorf("staged plan corrupt: %w", err)
	}
	return plan, true, nil
}

// Clear removes the staged plan and stores the execution summary in its
// place so a second execution reports what happened instead of re-running.
func (s *Staging) Clear(ctx context.Context, userID string, summary *Result) error {
	if err := s.kv.Delete(ctx, planKeyPrefix+userID); err != nil {
		return err
	}
	if summary == nil {
		return nil
	}
	raw, err := json.Marshal(summary)
	if err != nil {
		return err
	}
	return s.kv.Set(ctx, summaryKeyPrefix+userID, string(raw), planStagingTTL)
}

// LastSummary returns the most recent execution summary, if present.
func (s *Staging) LastSummary(ctx context.Context, userID string) (*Result, bool) {
	raw, ok, err := s.kv.Get(ctx, summaryKeyPrefix+userID)
	if err != nil || !ok {
		return nil, false
	}
	var res Result
	if err := json.Unmarshal([]byte(raw), &res); err != nil {
		return nil, false
	}
	return &res, true
}
