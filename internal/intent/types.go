// Package intent resolves free-form user text into the unified intent
// vocabulary used by the decision builder.
package intent

import "context"

// Intent is a unified intent label.
type Intent string

const (
	PortfolioAnalysis Intent = "portfolio_analysis"
	MarketAnalysis    Intent = "market_analysis"
	RiskAssessment    Intent = "risk_assessment"
	TradeExecution    Intent = "trade_execution"
	Rebalance         Intent = "rebalance"
	StrategyQuery     Intent = "strategy_query"
	CreditQuery       Intent = "credit_query"
	ModeChange        Intent = "mode_change"
	Emergency         Intent = "emergency"
	GeneralQuery      Intent = "general_query"
)

// Known lists every intent the classifier scores.
func Known() []Intent {
	return []Intent{
		PortfolioAnalysis, MarketAnalysis, RiskAssessment, TradeExecution,
		Rebalance, StrategyQuery, CreditQuery, ModeChange, Emergency, GeneralQuery,
	}
}

// Context carries per-conversation hints into classification.
type Context struct {
	// RecentIntents holds up to the last few resolved intents, newest first.
	RecentIntents []Intent
	CachedState   map[string]string
}

// Resolution is the classifier output. Candidates keeps the full score map
// so callers can ask for clarification between close candidates.
type Resolution struct {
	Intent     Intent
	Confidence float64
	Candidates map[Intent]float64
	RawLabel   string
	Reason     string
}

// BaseClassifier is the legacy single-label classifier collaborator.
// Failures degrade the pipeline to keyword-only scoring.
type BaseClassifier interface {
	Classify(ctx context.Context, text string, hints map[string]string) (string, error)
}
