package render

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"tiller/internal/decision"
	"tiller/internal/executor"
	"tiller/internal/intent"
	"tiller/internal/mode"
)

func sampleDecision() *decision.Decision {
	return &decision.Decision{
		ID:         "d-7",
		UserID:     "alice",
		Intent:     intent.PortfolioAnalysis,
		Type:       decision.TypeAnalysis,
		Mode:       mode.Assisted,
		Risk:       decision.RiskLow,
		Confidence: 0.81,
		Recommendation: decision.Recommendation{
			Summary:  "Your portfolio is 60% BTC.",
			Analysis: "concentration above target",
		},
		ServiceResult: map[string]any{"total_value_usd": 1234.5},
	}
}

func TestRenderSyncWebGetsFullMetadata(t *testing.T) {
	p := NewRenderer().RenderSync(sampleDecision(), nil, ChannelWeb)

	assert.Equal(t, "d-7", p.DecisionID)
	assert.Equal(t, 0.81, p.Confidence)
	assert.Equal(t, "portfolio_analysis", p.Metadata["intent"])
	assert.Equal(t, "concentration above target", p.Metadata["analysis"])
	assert.Equal(t, map[string]any{"total_value_usd": 1234.5}, p.Metadata["service_result"])
}

func TestRenderSyncWebChatGetsMediumCut(t *testing.T) {
	p := NewRenderer().RenderSync(sampleDecision(), nil, ChannelWebChat)

	assert.Equal(t, "portfolio_analysis", p.Metadata["intent"])
	assert.Equal(t, "low", p.Metadata["risk"])
	assert.NotContains(t, p.Metadata, "service_result")
	assert.NotContains(t, p.Metadata, "analysis")
}

func TestRenderSyncBotGetsNoMetadata(t *testing.T) {
	p := NewRenderer().RenderSync(sampleDecision(), nil, ChannelBot)

	assert.Nil(t, p.Metadata)
}

func TestNarrativeAppendsExecutionMessage(t *testing.T) {
	d := sampleDecision()
	exec := &executor.ExecutionResult{Success: true, Message: "Order filled at market."}

	p := NewRenderer().RenderSync(d, exec, ChannelBot)

	assert.Equal(t, "Your portfolio is 60% BTC.\n\nOrder filled at market.", p.Content)
}

func TestNarrativeApprovalNote(t *testing.T) {
	d := sampleDecision()
	d.RequiresApproval = true

	p := NewRenderer().RenderSync(d, nil, ChannelBot)

	assert.True(t, p.RequiresApproval)
	assert.Contains(t, p.Content, "needs your approval (decision d-7)")
}

func TestNarrativeEmptyRecommendation(t *testing.T) {
	d := sampleDecision()
	d.Recommendation.Summary = ""

	p := NewRenderer().RenderSync(d, nil, ChannelBot)

	assert.Equal(t, "No recommendation available.", p.Content)
}
