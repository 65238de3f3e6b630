package provider

import (
	"encoding/json"
	"strings"

	"tiller/internal/decision"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/tidwall/gjson"
)

// recommendationSchema pins the service contract before any field is read.
const recommendationSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["recommendation", "confidence", "risk_assessment"],
  "properties": {
    "recommendation": {"type": "string", "minLength": 1},
    "confidence": {"type": "number", "minimum": 0, "maximum": 100},
    "risk_assessment": {"type": "string", "enum": ["low", "medium", "high", "critical"]},
    "analysis": {"type": "string"},
    "payload": {"type": "object"},
    "cost": {
      "type": "object",
      "properties": {
        "prompt_tokens": {"type": "integer", "minimum": 0},
        "completion_tokens": {"type": "integer", "minimum": 0},
        "cost_usd": {"type": "number", "minimum": 0}
      }
    }
  }
}`

var compiledSchema = jsonschema.MustCompileString("recommendation.json", recommendationSchema)

func parseRecommendation(raw []byte) (decision.Recommendation, error) {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return decision.Recommendation{}, decision.Invalid("response", "recommendation body is not JSON")
	}
	if err := compiledSchema.Validate(doc); err != nil {
		return decision.Recommendation{}, decision.Invalid("response", "recommendation schema violation: "+err.Error())
	}

	r := gjson.ParseBytes(raw)
	rec := decision.Recommendation{
		Summary:    strings.TrimSpace(r.Get("recommendation").String()),
		Confidence: int(r.Get("confidence").Float()),
		Risk:       decision.RiskLevel(r.Get("risk_assessment").String()),
		Analysis:   r.Get("analysis").String(),
	}
	if payload := r.Get("payload"); payload.Exists() {
		rec.Payload = json.RawMessage(payload.Raw)
	}
	if cost := r.Get("cost"); cost.Exists() {
		rec.Cost = decision.CostMetadata{
			PromptTokens:     int(cost.Get("prompt_tokens").Int()),
			CompletionTokens: int(cost.Get("completion_tokens").Int()),
			CostUSD:          cost.Get("cost_usd").Float(),
		}
	}
	return rec, nil
}
