package intent

// Default keyword table. Scores start at keywordBaseScore for the first hit
// and grow by keywordStepScore per additional hit, capped at keywordCapScore.
var defaultKeywords = map[Intent][]string{
	PortfolioAnalysis: {"portfolio", "holdings", "positions", "allocation", "balance", "performance"},
	MarketAnalysis:    {"market", "price", "trend", "chart", "analysis", "forecast", "outlook"},
	RiskAssessment:    {"risk", "exposure", "drawdown", "volatility", "var"},
	TradeExecution:    {"buy", "sell", "trade", "order", "execute", "long", "short"},
	Rebalance:         {"rebalance", "rebalancing", "reallocate", "rebalanced", "rotate"},
	StrategyQuery:     {"strategy", "strategies", "backtest", "signal", "plan"},
	CreditQuery:       {"credit", "margin", "loan", "borrow", "collateral"},
	ModeChange:        {"autonomous", "auto mode", "manual mode", "assisted", "take over", "hands off"},
	Emergency:         {"stop", "halt", "emergency", "panic"},
	GeneralQuery:      {"help", "hello", "hi", "what", "how", "status"},
}

// emergencyVocabulary force-overrides any other scoring when present.
var emergencyVocabulary = []string{"stop", "halt", "emergency", "panic"}

// legacyLabelMap maps base-classifier labels onto the unified vocabulary.
var legacyLabelMap = map[string]Intent{
	"portfolio":       PortfolioAnalysis,
	"portfolio_query": PortfolioAnalysis,
	"market":          MarketAnalysis,
	"market_query":    MarketAnalysis,
	"risk":            RiskAssessment,
	"trade":           TradeExecution,
	"order":           TradeExecution,
	"rebalance":       Rebalance,
	"rebalancing":     Rebalance,
	"strategy":        StrategyQuery,
	"credit":          CreditQuery,
	"mode":            ModeChange,
	"emergency":       Emergency,
	"stop":            Emergency,
	"chat":            GeneralQuery,
	"smalltalk":       GeneralQuery,
	"general":         GeneralQuery,
	"unknown":         GeneralQuery,
	"fallback":        GeneralQuery,
}
