package executor

import (
	"context"
	"fmt"
	"strings"

	"tiller/internal/decision"
	"tiller/internal/gateway/exchange"
	"tiller/internal/logger"
	"tiller/internal/mode"
	"tiller/internal/rebalance"
	"tiller/internal/store"
)

// ExecutionResult is the uniform outcome of any execution path.
type ExecutionResult struct {
	Success    bool              `json:"success"`
	DecisionID string            `json:"decision_id"`
	TradeID    string            `json:"trade_id,omitempty"`
	Rebalance  *rebalance.Result `json:"rebalance,omitempty"`
	Message    string            `json:"message,omitempty"`
}

// Executor dispatches decisions by type.
type Executor struct {
	registry *Registry
	trades   exchange.TradeExecutor
	stopper  exchange.EmergencyStopper
	guard    *rebalance.Guard
	modes    *mode.Registry
	audit    store.DecisionLog
}

func NewExecutor(registry *Registry, trades exchange.TradeExecutor, stopper exchange.EmergencyStopper, guard *rebalance.Guard, modes *mode.Registry, audit store.DecisionLog) *Executor {
	return &Executor{
		registry: registry,
		trades:   trades,
		stopper:  stopper,
		guard:    guard,
		modes:    modes,
		audit:    audit,
	}
}

// Register records a decision in the active registry. Must happen before any
// execution attempt so the id is resolvable even mid-execution.
func (e *Executor) Register(d *decision.Decision) {
	e.registry.Put(d)
	status := "awaiting_approval"
	if !d.RequiresApproval {
		status = "created"
	}
	e.updateStatus(d.ID, status, "")
}

// Registry exposes the active-decision registry.
func (e *Executor) Registry() *Registry { return e.registry }

// ApproveAndExecute runs a pending decision on behalf of its owner. Any
// mismatch (unknown id, foreign owner) yields the same generic denial.
func (e *Executor) ApproveAndExecute(ctx context.Context, decisionID, userID string) (*ExecutionResult, error) {
	d, ok := e.registry.Get(decisionID)
	if !ok || d.UserID != userID {
		return nil, decision.ErrUnauthorized
	}
	return e.Execute(ctx, d)
}

// Execute dispatches a registered decision. Success removes it from the
// registry; failure retains it with a structured reason.
func (e *Executor) Execute(ctx context.Context, d *decision.Decision) (*ExecutionResult, error) {
	if _, ok := e.registry.Get(d.ID); !ok {
		return nil, fmt.Errorf("decision %s not registered before execution", d.ID)
	}
	e.updateStatus(d.ID, "executing", "")

	res, err := e.dispatch(ctx, d)
	if err != nil {
		e.updateStatus(d.ID, "failed", err.Error())
		logger.Warnf("executor: decision failed id=%s type=%s user=%s err=%v", d.ID, d.Type, d.UserID, err)
		return nil, err
	}
	e.registry.Remove(d.ID)
	e.updateStatus(d.ID, "succeeded", "")
	logger.Infof("executor: decision succeeded id=%s type=%s user=%s", d.ID, d.Type, d.UserID)
	res.DecisionID = d.ID
	return res, nil
}

func (e *Executor) dispatch(ctx context.Context, d *decision.Decision) (*ExecutionResult, error) {
	switch d.Type {
	case decision.TypeTrade:
		return e.executeTrade(ctx, d)
	case decision.TypeRebalance:
		return e.executeRebalance(ctx, d)
	case decision.TypeEmergency:
		return e.executeEmergency(ctx, d)
	case decision.TypeModeChange:
		return e.executeModeChange(ctx, d)
	case decision.TypeAnalysis:
		// Read-only: the routed service result is the answer.
		return &ExecutionResult{Success: true, Message: d.Recommendation.Summary}, nil
	default:
		return nil, decision.Invalid("decision_type", fmt.Sprintf("unknown decision type %q", d.Type))
	}
}

// executeTrade normalizes the recommendation into a canonical order request
// and delegates to the trade-execution collaborator.
func (e *Executor) executeTrade(ctx context.Context, d *decision.Decision) (*ExecutionResult, error) {
	p := decision.ParseTradePayload(d.Recommendation.Payload)
	if strings.TrimSpace(p.Symbol) == "" {
		return nil, decision.Invalid("symbol", "recommendation has no tradable symbol")
	}
	if p.Side != "buy" && p.Side != "sell" {
		return nil, decision.Invalid("side", "recommendation has no valid side")
	}
	req := exchange.OrderRequest{
		Symbol:     p.Symbol,
		Side:       p.Side,
		Quantity:   p.Quantity,
		OrderType:  p.OrderType,
		Price:      p.Price,
		StopLoss:   p.StopLoss,
		TakeProfit: p.TakeProfit,
		StrategyID: p.StrategyID,
		Simulate:   e.resolveSimulate(ctx, d, p.Simulate),
	}
	res, err := e.trades.Execute(ctx, d.UserID, req)
	if err != nil {
		return nil, decision.Transient("trade execution", err)
	}
	if !res.Success {
		return nil, fmt.Errorf("trade rejected: %s", res.Error)
	}
	return &ExecutionResult{Success: true, TradeID: res.TradeID, Message: d.Recommendation.Summary}, nil
}

// resolveSimulate: recommendation flag, then user config, then default true.
func (e *Executor) resolveSimulate(ctx context.Context, d *decision.Decision, fromRec *bool) bool {
	if fromRec != nil {
		return *fromRec
	}
	if e.modes != nil {
		cfg := e.modes.Get(ctx, d.UserID)
		if cfg.Preferences.SimulationOnly != nil {
			return *cfg.Preferences.SimulationOnly
		}
	}
	return true
}

func (e *Executor) executeRebalance(ctx context.Context, d *decision.Decision) (*ExecutionResult, error) {
	// A recommendation carrying a concrete trade list is the planning-step
	// output: stage it before consumption. Otherwise the previously staged
	// plan (or its absence) decides.
	p := decision.ParseRebalancePayload(d.Recommendation.Payload)
	if len(p.Trades) > 0 {
		plan := rebalance.Plan{
			Strategy: p.Strategy,
			Trades:   p.Trades,
			Owner:    d.UserID,
			// Same resolution chain as single trades; live only when the
			// resolved flag says simulation is off.
			Live: !e.resolveSimulate(ctx, d, p.Simulate),
		}
		if err := e.guard.Staging().Stage(ctx, plan); err != nil {
			return nil, decision.Transient("plan staging", err)
		}
	}
	res, err := e.guard.Execute(ctx, d.UserID)
	if err != nil {
		return nil, err
	}
	return &ExecutionResult{
		Success:   res.Class != rebalance.AllFailed,
		Rebalance: res,
		Message:   res.Summary(),
	}, nil
}

func (e *Executor) executeEmergency(ctx context.Context, d *decision.Decision) (*ExecutionResult, error) {
	reason := strings.TrimSpace(d.Recommendation.Summary)
	if reason == "" {
		reason = "user emergency stop"
	}
	if e.stopper != nil {
		if err := e.stopper.StopAll(ctx, d.UserID, reason); err != nil {
			return nil, decision.Transient("emergency stop", err)
		}
	}
	if e.modes != nil {
		if _, err := e.modes.Set(ctx, d.UserID, mode.Emergency); err != nil {
			logger.Warnf("executor: emergency mode switch failed user=%s err=%v", d.UserID, err)
		}
	}
	return &ExecutionResult{Success: true, Message: "emergency stop executed; trading halted"}, nil
}

func (e *Executor) executeModeChange(ctx context.Context, d *decision.Decision) (*ExecutionResult, error) {
	p := decision.ParseModeChangePayload(d.Recommendation.Payload)
	target := p.Target
	if target == "" {
		target = mode.Autonomous
	}
	cfg, err := e.modes.Set(ctx, d.UserID, target)
	if err != nil {
		return nil, decision.Invalid("mode", err.Error())
	}
	return &ExecutionResult{
		Success: true,
		Message: fmt.Sprintf("operation mode is now %s (autonomous active: %v)", cfg.Mode, cfg.Active),
	}, nil
}

func (e *Executor) updateStatus(id, status, reason string) {
	if e.audit == nil {
		return
	}
	if err := e.audit.UpdateStatus(context.Background(), id, status, reason); err != nil {
		logger.Warnf("executor: audit status update failed id=%s status=%s err=%v", id, status, err)
	}
}
