package decision

import (
	"context"

	"tiller/internal/intent"
)

// DomainService is one of the routed collaborators (portfolio, market,
// strategy, credit, risk, trading-strategy). All are external to this core.
type DomainService interface {
	Handle(ctx context.Context, userID string, args map[string]any) (map[string]any, error)
}

// Service keys of the routing table.
const (
	ServicePortfolio       = "portfolio"
	ServiceMarket          = "market"
	ServiceStrategy        = "strategy"
	ServiceCredit          = "credit"
	ServiceRisk            = "risk"
	ServiceTradingStrategy = "trading_strategy"
)

// intentServiceMap is the static intent -> service lookup table. Tagged
// dispatch instead of nested conditionals keeps routing testable.
var intentServiceMap = map[intent.Intent]string{
	intent.PortfolioAnalysis: ServicePortfolio,
	intent.MarketAnalysis:    ServiceMarket,
	intent.RiskAssessment:    ServiceRisk,
	intent.TradeExecution:    ServiceTradingStrategy,
	intent.Rebalance:         ServicePortfolio,
	intent.StrategyQuery:     ServiceStrategy,
	intent.CreditQuery:       ServiceCredit,
}

// Router resolves intents to registered domain services.
type Router struct {
	services map[string]DomainService
}

func NewRouter() *Router {
	return &Router{services: make(map[string]DomainService)}
}

func (r *Router) Register(key string, svc DomainService) {
	r.services[key] = svc
}

// Resolve returns the service for an intent, or false when the intent has no
// routed service (mode_change, emergency, general_query).
func (r *Router) Resolve(in intent.Intent) (DomainService, string, bool) {
	key, ok := intentServiceMap[in]
	if !ok {
		return nil, "", false
	}
	svc, ok := r.services[key]
	return svc, key, ok
}

// Recommender is the AI-recommendation collaborator: it validates and
// formats a routed service result into a recommendation.
type Recommender interface {
	Recommend(ctx context.Context, req RecommendRequest) (Recommendation, error)
}

// RecommendRequest is the structured input to the recommendation service.
type RecommendRequest struct {
	UserID        string         `json:"user_id"`
	Intent        intent.Intent  `json:"intent"`
	Text          string         `json:"text"`
	ServiceKey    string         `json:"service,omitempty"`
	ServiceResult map[string]any `json:"service_result,omitempty"`
	Context       map[string]any `json:"context,omitempty"`
}
