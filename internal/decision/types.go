// Package decision builds, records and models the unit of intended action
// flowing from classified intent to execution.
package decision

import (
	"encoding/json"
	"time"

	"tiller/internal/intent"
	"tiller/internal/mode"
)

// Type tags the execution path of a decision.
type Type string

const (
	TypeTrade      Type = "trade"
	TypeRebalance  Type = "rebalance"
	TypeEmergency  Type = "emergency"
	TypeModeChange Type = "mode_change"
	// TypeAnalysis covers read-only intents: execution is a no-op and the
	// routed service result is the answer.
	TypeAnalysis Type = "analysis"
)

// RiskLevel is the recommendation service's risk assessment bucket.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// CostMetadata carries recommendation-service accounting.
type CostMetadata struct {
	PromptTokens     int     `json:"prompt_tokens,omitempty"`
	CompletionTokens int     `json:"completion_tokens,omitempty"`
	CostUSD          float64 `json:"cost_usd,omitempty"`
}

// Recommendation is the validated/formatted output of the AI-recommendation
// collaborator. Confidence is the service's native 0-100 scale; the decision
// carries the normalized [0,1] value.
type Recommendation struct {
	Summary    string          `json:"recommendation"`
	Confidence int             `json:"confidence"`
	Risk       RiskLevel       `json:"risk_assessment"`
	Analysis   string          `json:"analysis,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	Cost       CostMetadata    `json:"cost,omitempty"`
}

// Decision is the recorded unit of intended action. It is registered before
// any execution attempt and never mutated afterwards; only successful
// execution removes it from the active registry.
type Decision struct {
	ID               string             `json:"id"`
	UserID           string             `json:"user_id"`
	Channel          string             `json:"channel"`
	Mode             mode.OperationMode `json:"operation_mode"`
	Intent           intent.Intent      `json:"intent"`
	Type             Type               `json:"decision_type"`
	Recommendation   Recommendation     `json:"recommendation"`
	Confidence       float64            `json:"confidence"`
	Risk             RiskLevel          `json:"risk"`
	RequiresApproval bool               `json:"requires_approval"`
	AutoExecute      bool               `json:"auto_execute"`
	CreatedAt        time.Time          `json:"created_at"`
	Context          map[string]any     `json:"context,omitempty"`
	// ServiceResult is the routed domain-service output backing the
	// recommendation; analysis decisions render it directly.
	ServiceResult map[string]any `json:"service_result,omitempty"`
}

// intentTypeMap is the static intent -> decision type table.
var intentTypeMap = map[intent.Intent]Type{
	intent.TradeExecution: TypeTrade,
	intent.Rebalance:      TypeRebalance,
	intent.Emergency:      TypeEmergency,
	intent.ModeChange:     TypeModeChange,
}

// TypeForIntent returns the execution path for an intent; everything not in
// the table is read-only analysis.
func TypeForIntent(in intent.Intent) Type {
	if t, ok := intentTypeMap[in]; ok {
		return t
	}
	return TypeAnalysis
}

// finalDecisionIntents use the stricter autonomous auto-execute threshold
// because they move money.
var finalDecisionIntents = map[intent.Intent]bool{
	intent.TradeExecution: true,
	intent.Rebalance:      true,
}

// assistedReadOnlyExempt lists intents that skip approval in assisted mode.
// risk_assessment is deliberately absent; see DESIGN.md.
var assistedReadOnlyExempt = map[intent.Intent]bool{
	intent.PortfolioAnalysis: true,
	intent.MarketAnalysis:    true,
	intent.GeneralQuery:      true,
}
