package decision

import (
	"context"
	"encoding/json"
	"time"

	"tiller/internal/intent"
	"tiller/internal/logger"
	"tiller/internal/mode"
	"tiller/internal/store"

	"github.com/google/uuid"
)

// Autonomous-mode thresholds.
const (
	autoApprovalConfidence = 0.85
	autoExecuteConfidence  = 0.80
	// Money-moving intents use the stricter bound for auto execution.
	autoExecuteFinalConfidence = 0.85
)

// BuildRequest is everything the builder needs for one decision.
type BuildRequest struct {
	UserID     string
	Channel    string
	Text       string
	Resolution intent.Resolution
	Config     mode.UserConfig
	Context    map[string]any
}

// Builder routes the request to the relevant domain service, asks the
// recommendation collaborator to validate/format the result, and assembles
// a Decision with computed approval and auto-execution flags.
type Builder struct {
	router      *Router
	recommender Recommender
	audit       store.DecisionLog
}

func NewBuilder(router *Router, recommender Recommender, audit store.DecisionLog) *Builder {
	return &Builder{router: router, recommender: recommender, audit: audit}
}

func (b *Builder) Build(ctx context.Context, req BuildRequest) (*Decision, error) {
	in := req.Resolution.Intent

	var serviceResult map[string]any
	serviceKey := ""
	if b.router != nil {
		if svc, key, ok := b.router.Resolve(in); ok {
			serviceKey = key
			result, err := svc.Handle(ctx, req.UserID, req.Context)
			if err != nil {
				// Routed data enriches the recommendation; its absence is
				// degraded service, not a dead request.
				logger.Warnf("decision: service %s failed user=%s err=%v", key, req.UserID, err)
			} else {
				serviceResult = result
			}
		}
	}

	rec := b.recommend(ctx, req, serviceKey, serviceResult)

	confidence := float64(rec.Confidence) / 100
	if rec.Confidence == 0 {
		confidence = req.Resolution.Confidence
	}
	risk := rec.Risk
	if risk == "" {
		risk = RiskMedium
	}

	d := &Decision{
		ID:             uuid.NewString(),
		UserID:         req.UserID,
		Channel:        req.Channel,
		Mode:           req.Config.Mode,
		Intent:         in,
		Type:           TypeForIntent(in),
		Recommendation: rec,
		Confidence:     confidence,
		Risk:           risk,
		CreatedAt:      time.Now().UTC(),
		Context:        req.Context,
		ServiceResult:  serviceResult,
	}
	d.RequiresApproval = requiresApproval(in, req.Config.Mode, confidence, risk)
	d.AutoExecute = autoExecute(in, req.Config.Mode, confidence)

	b.record(ctx, d)
	return d, nil
}

func (b *Builder) recommend(ctx context.Context, req BuildRequest, serviceKey string, serviceResult map[string]any) Recommendation {
	if b.recommender == nil {
		return fallbackRecommendation(req)
	}
	rec, err := b.recommender.Recommend(ctx, RecommendRequest{
		UserID:        req.UserID,
		Intent:        req.Resolution.Intent,
		Text:          req.Text,
		ServiceKey:    serviceKey,
		ServiceResult: serviceResult,
		Context:       req.Context,
	})
	if err != nil {
		logger.Warnf("decision: recommender failed user=%s intent=%s err=%v", req.UserID, req.Resolution.Intent, err)
		return fallbackRecommendation(req)
	}
	return rec
}

// fallbackRecommendation keeps the pipeline alive when the recommendation
// service is down: classifier confidence, medium risk, no payload. Executable
// decisions built this way will fail canonical-request validation rather
// than guess at trade parameters.
func fallbackRecommendation(req BuildRequest) Recommendation {
	return Recommendation{
		Summary:    "recommendation service unavailable; connect the service and retry",
		Confidence: int(req.Resolution.Confidence * 100),
		Risk:       RiskMedium,
	}
}

// requiresApproval implements the first-match-wins approval policy.
func requiresApproval(in intent.Intent, m mode.OperationMode, confidence float64, risk RiskLevel) bool {
	switch {
	case in == intent.Emergency:
		return false
	case m == mode.Manual:
		return true
	case m == mode.Autonomous:
		return !(confidence >= autoApprovalConfidence && (risk == RiskLow || risk == RiskMedium))
	case m == mode.Assisted:
		return !assistedReadOnlyExempt[in]
	default:
		// Fail safe: unknown mode always needs a human.
		return true
	}
}

func autoExecute(in intent.Intent, m mode.OperationMode, confidence float64) bool {
	if in == intent.Emergency {
		return true
	}
	if m != mode.Autonomous {
		return false
	}
	threshold := autoExecuteConfidence
	if finalDecisionIntents[in] {
		threshold = autoExecuteFinalConfidence
	}
	return confidence >= threshold
}

func (b *Builder) record(ctx context.Context, d *Decision) {
	if b.audit == nil {
		return
	}
	payload, _ := json.Marshal(d.Recommendation)
	rec := &store.DecisionRecord{
		ID:               d.ID,
		UserID:           d.UserID,
		Channel:          d.Channel,
		Intent:           string(d.Intent),
		DecisionType:     string(d.Type),
		OperationMode:    string(d.Mode),
		Confidence:       d.Confidence,
		RiskLevel:        string(d.Risk),
		RequiresApproval: d.RequiresApproval,
		AutoExecute:      d.AutoExecute,
		Status:           "created",
		Payload:          payload,
		CreatedAt:        d.CreatedAt,
	}
	if err := b.audit.Save(ctx, rec); err != nil {
		logger.Warnf("decision: audit save failed id=%s err=%v", d.ID, err)
	}
}
