package agent

import (
	"context"

	"tiller/internal/decision"
	"tiller/internal/intent"
	"tiller/internal/logger"
	"tiller/internal/mode"
	"tiller/internal/pkg/circuit"
	"tiller/internal/render"
	"tiller/internal/scheduler"
)

// autonomousCycleConfidence is the baseline confidence for loop-generated
// resolutions; the recommendation service's own confidence replaces it.
const autonomousCycleConfidence = 0.90

type autonomousLoop struct {
	cancel  context.CancelFunc
	breaker *circuit.Breaker
}

// StartAutonomous flips the user into autonomous mode and starts the
// periodic decision loop.
func (s *Service) StartAutonomous(ctx context.Context, userID string) (mode.UserConfig, error) {
	prev := s.modes.Get(ctx, userID).Mode
	cfg, err := s.modes.Set(ctx, userID, mode.Autonomous)
	if err != nil {
		return cfg, err
	}
	s.notifier.ModeChanged(ctx, userID, prev, mode.Autonomous)
	s.startLoop(userID)
	return cfg, nil
}

// StopAutonomous stops the loop and returns the user to assisted mode.
func (s *Service) StopAutonomous(ctx context.Context, userID string) (mode.UserConfig, error) {
	s.StopLoop(userID)
	prev := s.modes.Get(ctx, userID).Mode
	cfg, err := s.modes.Set(ctx, userID, mode.Assisted)
	if err != nil {
		return cfg, err
	}
	s.notifier.ModeChanged(ctx, userID, prev, mode.Assisted)
	return cfg, nil
}

func (s *Service) startLoop(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, running := s.loops[userID]; running {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	loop := &autonomousLoop{
		cancel:  cancel,
		breaker: circuit.NewBreaker("autonomous:"+userID, s.autoCfg.BreakerThreshold, s.autoCfg.BreakerCooldown),
	}
	s.loops[userID] = loop

	sched := scheduler.NewAlignedScheduler(ctx, s.autoCfg.Interval, s.autoCfg.Offset)
	sched.RunImmediately = s.autoCfg.RunImmediately
	go func() {
		defer s.StopLoop(userID)
		sched.Start(func() { s.runCycle(ctx, userID, loop.breaker) })
	}()
	logger.Infof("agent: autonomous loop started user=%s interval=%s", userID, s.autoCfg.Interval)
}

// StopLoop cancels the user's autonomous loop if one is running. Idempotent.
func (s *Service) StopLoop(userID string) {
	s.mu.Lock()
	loop, ok := s.loops[userID]
	if ok {
		delete(s.loops, userID)
	}
	s.mu.Unlock()
	if ok {
		loop.cancel()
		logger.Infof("agent: autonomous loop stopped user=%s", userID)
	}
}

// LoopRunning reports whether a loop goroutine exists for the user.
func (s *Service) LoopRunning(userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.loops[userID]
	return ok
}

// runCycle executes one autonomous iteration: verify the mode still permits
// it, then build and run a rebalance-check decision under the breaker.
func (s *Service) runCycle(ctx context.Context, userID string, breaker *circuit.Breaker) {
	cfg := s.modes.Get(ctx, userID)
	if cfg.Mode != mode.Autonomous || !cfg.Active {
		logger.Infof("agent: cycle skipped, mode=%s active=%v user=%s", cfg.Mode, cfg.Active, userID)
		s.StopLoop(userID)
		return
	}
	if !breaker.Allow() {
		logger.Warnf("agent: cycle suppressed by open circuit user=%s", userID)
		return
	}

	d, err := s.builder.Build(ctx, decision.BuildRequest{
		UserID:  userID,
		Channel: render.ChannelAuto,
		Text:    "periodic portfolio review and rebalance check",
		Resolution: intent.Resolution{
			Intent:     intent.Rebalance,
			Confidence: autonomousCycleConfidence,
			Reason:     "autonomous_cycle",
		},
		Config: cfg,
	})
	if err != nil {
		breaker.RecordFailure()
		logger.Errorf("agent: cycle build failed user=%s err=%v", userID, err)
		return
	}
	s.executor.Register(d)

	if d.RequiresApproval || !d.AutoExecute {
		// Below the autonomous thresholds: park for approval instead of
		// acting on a shaky recommendation.
		s.notifier.ApprovalRequired(ctx, userID, d.ID, d.Recommendation.Summary)
		breaker.RecordSuccess()
		return
	}

	res, err := s.executor.Execute(ctx, d)
	if err != nil {
		// Precondition rejections are expected loop outcomes, not downstream
		// failures; only transient errors feed the breaker.
		if decision.IsTransient(err) {
			breaker.RecordFailure()
		} else {
			breaker.RecordSuccess()
		}
		logger.Warnf("agent: cycle execution user=%s err=%v", userID, err)
		return
	}
	breaker.RecordSuccess()
	s.afterExecution(ctx, d, res)
}

// ResumeLoops restarts loops for users whose stored mode is still autonomous,
// called once at boot.
func (s *Service) ResumeLoops(ctx context.Context, userIDs []string) {
	for _, id := range userIDs {
		if s.modes.Active(ctx, id) {
			s.startLoop(id)
		}
	}
}

// ActiveLoops returns the user ids with running loops, for the health surface.
func (s *Service) ActiveLoops() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.loops))
	for id := range s.loops {
		out = append(out, id)
	}
	return out
}
