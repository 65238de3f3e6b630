// Package agent wires classification, mode resolution, decision building and
// execution into the request-handling service.
package agent

import (
	"context"
	"sync"
	"sync/atomic"

	"tiller/internal/config"
	"tiller/internal/decision"
	"tiller/internal/executor"
	"tiller/internal/intent"
	"tiller/internal/logger"
	"tiller/internal/mode"
	"tiller/internal/notify"
	"tiller/internal/render"
)

// Request is one inbound user message.
type Request struct {
	UserID  string         `json:"user_id"`
	Channel string         `json:"channel"`
	Text    string         `json:"text"`
	Context map[string]any `json:"context,omitempty"`
}

// Params collects the service collaborators.
type Params struct {
	Classifier *intent.Classifier
	Modes      *mode.Registry
	Builder    *decision.Builder
	Executor   *executor.Executor
	Renderer   *render.Renderer
	Notifier   *notify.Dispatcher
	Autonomous config.AutonomousConfig
}

// Service is the decision-orchestration entry point shared by every channel.
type Service struct {
	classifier *intent.Classifier
	modes      *mode.Registry
	builder    *decision.Builder
	executor   *executor.Executor
	renderer   *render.Renderer
	notifier   *notify.Dispatcher
	history    *history

	persona atomic.Pointer[config.Persona]

	autoCfg config.AutonomousConfig
	mu      sync.Mutex
	loops   map[string]*autonomousLoop
}

func NewService(p Params) *Service {
	return &Service{
		classifier: p.Classifier,
		modes:      p.Modes,
		builder:    p.Builder,
		executor:   p.Executor,
		renderer:   p.Renderer,
		notifier:   p.Notifier,
		history:    newHistory(),
		autoCfg:    p.Autonomous,
		loops:      make(map[string]*autonomousLoop),
	}
}

// SetPersona swaps the active persona; safe under hot reload.
func (s *Service) SetPersona(p *config.Persona) { s.persona.Store(p) }

// Persona returns the active persona, possibly nil.
func (s *Service) Persona() *config.Persona { return s.persona.Load() }

// ProcessRequest runs the full pipeline for one message and returns the
// synchronous response payload.
func (s *Service) ProcessRequest(ctx context.Context, req Request) (render.Payload, error) {
	d, execRes, err := s.process(ctx, req)
	if err != nil {
		return render.Payload{}, err
	}
	return s.renderer.RenderSync(d, execRes, req.Channel), nil
}

// process classifies, builds and conditionally executes. The returned
// execution result is nil when the decision awaits approval.
func (s *Service) process(ctx context.Context, req Request) (*decision.Decision, *executor.ExecutionResult, error) {
	cfg := s.modes.Get(ctx, req.UserID)
	res := s.classifier.Classify(ctx, req.Text, req.Channel, s.history.context(req.UserID))
	s.history.record(req.UserID, res.Intent)

	logger.Infof("agent: request user=%s channel=%s intent=%s confidence=%.2f mode=%s",
		req.UserID, req.Channel, res.Intent, res.Confidence, cfg.Mode)

	d, err := s.builder.Build(ctx, decision.BuildRequest{
		UserID:     req.UserID,
		Channel:    req.Channel,
		Text:       req.Text,
		Resolution: res,
		Config:     cfg,
		Context:    req.Context,
	})
	if err != nil {
		return nil, nil, err
	}
	s.executor.Register(d)

	if d.RequiresApproval {
		s.notifier.ApprovalRequired(ctx, d.UserID, d.ID, d.Recommendation.Summary)
		return d, nil, nil
	}

	execRes, err := s.executor.Execute(ctx, d)
	if err != nil {
		s.notifier.DecisionExecuted(ctx, d.UserID, d.ID, string(d.Type), err.Error(), false)
		return nil, nil, err
	}
	s.afterExecution(ctx, d, execRes)
	return d, execRes, nil
}

// ApproveAndExecute runs a previously registered decision on behalf of its
// owner.
func (s *Service) ApproveAndExecute(ctx context.Context, decisionID, userID string) (*executor.ExecutionResult, error) {
	d, ok := s.executor.Registry().Get(decisionID)
	if !ok || d.UserID != userID {
		return nil, decision.ErrUnauthorized
	}
	res, err := s.executor.Execute(ctx, d)
	if err != nil {
		s.notifier.DecisionExecuted(ctx, userID, decisionID, string(d.Type), err.Error(), false)
		return nil, err
	}
	s.afterExecution(ctx, d, res)
	return res, nil
}

// PendingDecisions lists a user's decisions awaiting approval.
func (s *Service) PendingDecisions(userID string) []*decision.Decision {
	return s.executor.Registry().Pending(userID)
}

func (s *Service) afterExecution(ctx context.Context, d *decision.Decision, res *executor.ExecutionResult) {
	switch d.Type {
	case decision.TypeEmergency:
		s.StopLoop(d.UserID)
		s.notifier.EmergencyStop(ctx, d.UserID, d.Recommendation.Summary)
	case decision.TypeAnalysis:
		// Read-only outcomes are not push-notified; the response is enough.
	default:
		s.notifier.DecisionExecuted(ctx, d.UserID, d.ID, string(d.Type), res.Message, res.Success)
	}
}
