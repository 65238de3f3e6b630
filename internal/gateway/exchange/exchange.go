// Package exchange defines the trade-execution collaborator and its
// implementations (live Binance, simulated).
package exchange

import "context"

// OrderRequest is the canonical normalized trade request.
type OrderRequest struct {
	Symbol     string  `json:"symbol"`
	Side       string  `json:"side"` // buy | sell
	Quantity   float64 `json:"quantity"`
	OrderType  string  `json:"order_type"` // market | limit
	Price      float64 `json:"price,omitempty"`
	StopLoss   float64 `json:"stop_loss,omitempty"`
	TakeProfit float64 `json:"take_profit,omitempty"`
	StrategyID string  `json:"strategy_id,omitempty"`
	Simulate   bool    `json:"simulate"`
}

// OrderResult reports a single execution outcome.
type OrderResult struct {
	Success bool   `json:"success"`
	TradeID string `json:"trade_id,omitempty"`
	Error   string `json:"error,omitempty"`
}

// TradeExecutor places one order. Implementations must honor ctx deadlines;
// the caller owns retry policy.
type TradeExecutor interface {
	Execute(ctx context.Context, userID string, req OrderRequest) (OrderResult, error)
}

// EmergencyStopper halts all activity for a user (cancel orders, flatten).
type EmergencyStopper interface {
	StopAll(ctx context.Context, userID, reason string) error
}

// PortfolioReader exposes the current portfolio snapshot used by batch
// validation before any funds move.
type PortfolioReader interface {
	Snapshot(ctx context.Context, userID string) (PortfolioSnapshot, error)
}

// PortfolioSnapshot is the minimal view batch validation needs.
type PortfolioSnapshot struct {
	TotalValueUSD float64            `json:"total_value_usd"`
	Prices        map[string]float64 `json:"prices"` // symbol -> mark price
}
