package render

import (
	"fmt"
	"strings"

	"tiller/internal/decision"
	"tiller/internal/executor"
)

// Renderer produces the one-shot payload for request/response channels and
// drives stream rendering for push channels.
type Renderer struct{}

func NewRenderer() *Renderer { return &Renderer{} }

// RenderSync builds the single fully-formed response. Metadata density is
// channel-specific: the web UI gets the full candidate map and cost
// accounting, webchat a medium cut, the bot channel the minimum.
func (r *Renderer) RenderSync(d *decision.Decision, exec *executor.ExecutionResult, channel string) Payload {
	p := Payload{
		Content:          r.narrative(d, exec),
		DecisionID:       d.ID,
		RequiresApproval: d.RequiresApproval,
		Confidence:       d.Confidence,
	}
	switch channel {
	case ChannelWeb:
		p.Metadata = map[string]any{
			"intent":         string(d.Intent),
			"decision_type":  string(d.Type),
			"operation_mode": string(d.Mode),
			"risk":           string(d.Risk),
			"analysis":       d.Recommendation.Analysis,
			"cost":           d.Recommendation.Cost,
			"service_result": d.ServiceResult,
		}
	case ChannelWebChat:
		p.Metadata = map[string]any{
			"intent": string(d.Intent),
			"risk":   string(d.Risk),
		}
	default:
		// Bot and autonomous channels keep the wire light.
	}
	return p
}

// narrative composes the user-facing text from recommendation and outcome.
func (r *Renderer) narrative(d *decision.Decision, exec *executor.ExecutionResult) string {
	var b strings.Builder
	summary := strings.TrimSpace(d.Recommendation.Summary)
	if summary != "" {
		b.WriteString(summary)
	}
	switch {
	case exec != nil && exec.Message != "" && exec.Message != summary:
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(exec.Message)
	case exec == nil && d.RequiresApproval:
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "This action needs your approval (decision %s).", d.ID)
	}
	if b.Len() == 0 {
		b.WriteString("No recommendation available.")
	}
	return truncate(b.String())
}

// RenderError formats a rejection with its concrete next action, when the
// error carries one.
func (r *Renderer) RenderError(err error) Payload {
	return Payload{Content: err.Error()}
}
