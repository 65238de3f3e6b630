package agent

import (
	"context"
	"errors"
	"fmt"

	"tiller/internal/decision"
	"tiller/internal/executor"
	"tiller/internal/logger"
	"tiller/internal/notify"
	"tiller/internal/render"
)

// ProcessStream runs the pipeline while rendering incrementally through the
// push transport. When the transport fails before anything reached the user,
// the pipeline finishes silently and the synchronous payload is returned for
// delivery over the caller's own channel; after partial delivery a transport
// failure is terminal.
func (s *Service) ProcessStream(ctx context.Context, req Request, transport render.PushTransport, chatID string) (*render.Payload, error) {
	sr := render.NewStreamRenderer(transport, chatID)
	fellBack := false

	// A push stream is a live connection: register it so event notifications
	// target this user's channel.
	if t, ok := transport.(notify.Transport); ok {
		s.notifier.Connect(req.UserID, t)
	}

	emit := func(c render.Chunk) error {
		if fellBack {
			return nil
		}
		err := sr.Apply(ctx, c)
		var fb *render.FallbackError
		if errors.As(err, &fb) {
			logger.Warnf("agent: push transport down before delivery, degrading to sync user=%s err=%v", req.UserID, err)
			fellBack = true
			return nil
		}
		return err
	}

	if err := emit(render.Chunk{Kind: render.ChunkProcessing, Text: "Processing your request…"}); err != nil {
		return nil, err
	}

	cfg := s.modes.Get(ctx, req.UserID)
	res := s.classifier.Classify(ctx, req.Text, req.Channel, s.history.context(req.UserID))
	s.history.record(req.UserID, res.Intent)

	if err := emit(render.Chunk{Kind: render.ChunkProgress, Text: fmt.Sprintf("Working on %s…", res.Intent)}); err != nil {
		return nil, err
	}

	d, err := s.builder.Build(ctx, decision.BuildRequest{
		UserID:     req.UserID,
		Channel:    req.Channel,
		Text:       req.Text,
		Resolution: res,
		Config:     cfg,
		Context:    req.Context,
	})
	if err != nil {
		if emitErr := emit(render.Chunk{Kind: render.ChunkError, Text: err.Error()}); emitErr != nil && !errors.Is(emitErr, render.ErrStreamAborted) {
			return nil, emitErr
		}
		return nil, err
	}
	s.executor.Register(d)

	var execRes *executor.ExecutionResult
	if d.RequiresApproval {
		s.notifier.ApprovalRequired(ctx, d.UserID, d.ID, d.Recommendation.Summary)
		if err := s.streamApproval(emit, d); err != nil {
			return nil, err
		}
	} else {
		if err := emit(render.Chunk{Kind: render.ChunkProgress, Text: "Executing…"}); err != nil {
			return nil, err
		}
		execRes, err = s.executor.Execute(ctx, d)
		if err != nil {
			s.notifier.DecisionExecuted(ctx, d.UserID, d.ID, string(d.Type), err.Error(), false)
			if emitErr := emit(render.Chunk{Kind: render.ChunkError, Text: err.Error()}); emitErr != nil && !errors.Is(emitErr, render.ErrStreamAborted) {
				return nil, emitErr
			}
			return nil, err
		}
		s.afterExecution(ctx, d, execRes)
		if err := s.streamOutcome(emit, d, execRes); err != nil {
			return nil, err
		}
	}

	if err := emit(render.Chunk{
		Kind:     render.ChunkComplete,
		Text:     "Done.",
		Metadata: map[string]any{"decision_id": d.ID},
	}); err != nil {
		return nil, err
	}

	if fellBack {
		payload := s.renderer.RenderSync(d, execRes, req.Channel)
		return &payload, nil
	}
	return nil, nil
}

func (s *Service) streamApproval(emit func(render.Chunk) error, d *decision.Decision) error {
	if summary := d.Recommendation.Summary; summary != "" {
		if err := emit(render.Chunk{Kind: render.ChunkResponse, Text: summary + "\n"}); err != nil {
			return err
		}
	}
	if err := s.streamPersona(emit, d); err != nil {
		return err
	}
	return emit(render.Chunk{
		Kind: render.ChunkActionRequired,
		Text: fmt.Sprintf("This action needs your approval. Reply with the decision id %s to proceed.", d.ID),
	})
}

func (s *Service) streamOutcome(emit func(render.Chunk) error, d *decision.Decision, res *executor.ExecutionResult) error {
	if summary := d.Recommendation.Summary; summary != "" {
		if err := emit(render.Chunk{Kind: render.ChunkResponse, Text: summary + "\n"}); err != nil {
			return err
		}
	}
	if res != nil && res.Message != "" && res.Message != d.Recommendation.Summary {
		if err := emit(render.Chunk{Kind: render.ChunkResponse, Text: res.Message + "\n"}); err != nil {
			return err
		}
	}
	return s.streamPersona(emit, d)
}

func (s *Service) streamPersona(emit func(render.Chunk) error, d *decision.Decision) error {
	p := s.Persona()
	if p == nil {
		return nil
	}
	addendum := p.Addendum(string(d.Intent))
	if addendum == "" {
		return nil
	}
	return emit(render.Chunk{Kind: render.ChunkPersona, Text: addendum + "\n"})
}
