package rebalance

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"tiller/internal/decision"
	"tiller/internal/gateway/exchange"
	"tiller/internal/logger"
	"tiller/internal/store"
)

const (
	// Per-trade retry bound and backoff. The bound is explicit and flat:
	// attempt, sleep, double, give up.
	maxTradeAttempts = 3
	backoffBase      = 500 * time.Millisecond

	// Each execution attempt gets its own deadline, independent of siblings.
	attemptTimeout = 15 * time.Second
)

// ResultClass partitions batch outcomes.
type ResultClass string

const (
	AllSucceeded   ResultClass = "ALL_SUCCEEDED"
	PartialSuccess ResultClass = "PARTIAL_SUCCESS"
	AllFailed      ResultClass = "ALL_FAILED"
)

// TradeOutcome records one leg's final state.
type TradeOutcome struct {
	Index    int                   `json:"index"`
	Trade    decision.PlannedTrade `json:"trade"`
	TradeID  string                `json:"trade_id,omitempty"`
	Error    string                `json:"error,omitempty"`
	Attempts int                   `json:"attempts"`
}

// Result is the execution summary staged in place of the consumed plan.
type Result struct {
	Class        ResultClass    `json:"class"`
	Strategy     string         `json:"strategy"`
	Succeeded    []TradeOutcome `json:"succeeded,omitempty"`
	Failed       []TradeOutcome `json:"failed,omitempty"`
	LockBypassed bool           `json:"lock_bypassed,omitempty"`
	StartedAt    time.Time      `json:"started_at"`
	FinishedAt   time.Time      `json:"finished_at"`
}

// Summary renders the user-facing outcome, one shape per result class.
func (r *Result) Summary() string {
	var b strings.Builder
	switch r.Class {
	case AllSucceeded:
		fmt.Fprintf(&b, "Rebalancing complete: all %d trades executed.\n", len(r.Succeeded))
		writeOutcomes(&b, r.Succeeded)
	case PartialSuccess:
		fmt.Fprintf(&b, "Rebalancing partially complete: %d succeeded, %d failed.\n", len(r.Succeeded), len(r.Failed))
		b.WriteString("Executed:\n")
		writeOutcomes(&b, r.Succeeded)
		b.WriteString("Failed:\n")
		writeOutcomes(&b, r.Failed)
	case AllFailed:
		fmt.Fprintf(&b, "Rebalancing failed: none of the %d trades executed.\n", len(r.Failed))
		writeOutcomes(&b, r.Failed)
	}
	if r.LockBypassed {
		b.WriteString("Warning: executed without the safety lock (store unavailable).\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func writeOutcomes(b *strings.Builder, outcomes []TradeOutcome) {
	for _, o := range outcomes {
		if o.Error != "" {
			fmt.Fprintf(b, "- %s %s %.6f: %s\n", o.Trade.Side, o.Trade.Symbol, o.Trade.Quantity, o.Error)
		} else {
			fmt.Fprintf(b, "- %s %s %.6f (trade %s)\n", o.Trade.Side, o.Trade.Symbol, o.Trade.Quantity, o.TradeID)
		}
	}
}

// Guard runs the full precondition chain and then executes the batch
// strictly sequentially under the per-user lock.
type Guard struct {
	staging           *Staging
	kv                store.KV
	executor          exchange.TradeExecutor
	portfolio         exchange.PortfolioReader
	allowedStrategies []string
}

func NewGuard(kv store.KV, executor exchange.TradeExecutor, portfolio exchange.PortfolioReader, allowedStrategies []string) *Guard {
	return &Guard{
		staging:           NewStaging(kv),
		kv:                kv,
		executor:          executor,
		portfolio:         portfolio,
		allowedStrategies: allowedStrategies,
	}
}

// Staging exposes plan staging for the planning step and tests.
func (g *Guard) Staging() *Staging { return g.staging }

// Execute consumes the staged plan for userID and runs it. Preconditions are
// checked in a fixed order; the first failure wins and nothing executes.
func (g *Guard) Execute(ctx context.Context, userID string) (*Result, error) {
	plan, ok, err := g.staging.Load(ctx, userID)
	if err != nil {
		return nil, decision.Transient("plan staging", err)
	}
	if !ok {
		if last, found := g.staging.LastSummary(ctx, userID); found {
			return nil, decision.Invalid("plan", "no pending rebalancing plan (last run: "+string(last.Class)+"); run portfolio analysis to generate a new one")
		}
		return nil, decision.Invalid("plan", "no pending rebalancing plan; run portfolio analysis to generate one first")
	}
	if plan.Stale(time.Now()) {
		// Stale plans are never executed and never retried.
		_ = g.staging.Clear(ctx, userID, nil)
		return nil, decision.Invalid("plan", "rebalancing plan is older than 10 minutes; regenerate the plan")
	}

	if err := validateUserID(userID); err != nil {
		return nil, err
	}
	if err := validateStrategy(plan.Strategy, g.allowedStrategies); err != nil {
		return nil, err
	}
	if err := checkRateLimit(ctx, g.kv, userID); err != nil {
		return nil, err
	}

	lock, err := acquireLock(ctx, g.kv, userID)
	if err != nil {
		return nil, err
	}

	res := &Result{
		Strategy:     plan.Strategy,
		LockBypassed: lock.bypassed,
		StartedAt:    time.Now().UTC(),
	}
	// From here the plan is consumed: release the lock and clear the plan on
	// every exit path, including panics during validation or execution.
	defer func() {
		res.FinishedAt = time.Now().UTC()
		lock.release(ctx)
		// Failures before any leg ran (validation, snapshot, panic) leave no
		// outcome worth reporting as a last run: clear the plan, stage nothing.
		summary := res
		if summary.Class == "" {
			summary = nil
		}
		if err := g.staging.Clear(ctx, userID, summary); err != nil {
			logger.Warnf("rebalance: clearing consumed plan failed user=%s err=%v", userID, err)
		}
	}()

	snap, err := g.portfolio.Snapshot(ctx, userID)
	if err != nil {
		return nil, decision.Transient("portfolio snapshot", err)
	}
	if err := validateBatch(plan.Trades, snap); err != nil {
		return nil, err
	}

	logger.Infof("rebalance: executing user=%s strategy=%s trades=%d portfolio=%.2f live=%v lock_bypassed=%v",
		userID, plan.Strategy, len(plan.Trades), snap.TotalValueUSD, plan.Live, lock.bypassed)

	// Strictly sequential: later trades may assume earlier ones settled.
	for i, t := range plan.Trades {
		outcome := g.executeTrade(ctx, userID, i, t, !plan.Live)
		if outcome.Error != "" {
			res.Failed = append(res.Failed, outcome)
			logger.Warnf("rebalance: trade %d/%d failed user=%s symbol=%s attempts=%d err=%s",
				i+1, len(plan.Trades), userID, t.Symbol, outcome.Attempts, outcome.Error)
			continue
		}
		res.Succeeded = append(res.Succeeded, outcome)
	}

	switch {
	case len(res.Failed) == 0:
		res.Class = AllSucceeded
	case len(res.Succeeded) == 0:
		res.Class = AllFailed
	default:
		res.Class = PartialSuccess
	}
	return res, nil
}

// executeTrade runs one leg with a bounded retry loop: up to
// maxTradeAttempts tries, backoff doubling between them, each attempt under
// its own timeout. Timeouts are retried like any other execution error.
func (g *Guard) executeTrade(ctx context.Context, userID string, index int, t decision.PlannedTrade, simulate bool) TradeOutcome {
	out := TradeOutcome{Index: index, Trade: t}
	req := exchange.OrderRequest{
		Symbol:    t.Symbol,
		Side:      strings.ToLower(t.Side),
		Quantity:  t.Quantity,
		OrderType: "market",
		Price:     t.Price,
		Simulate:  simulate,
	}
	if t.Price > 0 {
		req.OrderType = "limit"
	}

	backoff := backoffBase
	var lastErr error
	for attempt := 1; attempt <= maxTradeAttempts; attempt++ {
		out.Attempts = attempt
		actx, cancel := context.WithTimeout(ctx, attemptTimeout)
		res, err := g.executor.Execute(actx, userID, req)
		cancel()
		switch {
		case err == nil && res.Success:
			out.TradeID = res.TradeID
			return out
		case err != nil:
			lastErr = err
		default:
			lastErr = errors.New(res.Error)
		}
		if attempt == maxTradeAttempts {
			break
		}
		select {
		case <-ctx.Done():
			out.Error = ctx.Err().Error()
			return out
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	if lastErr != nil {
		out.Error = lastErr.Error()
	} else {
		out.Error = "execution failed"
	}
	return out
}
