// Package notify fans structured event notifications out to push transports,
// targeting the channels a user currently has live.
package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"tiller/internal/logger"
	"tiller/internal/mode"
)

// Transport delivers one rendered notification.
type Transport interface {
	Name() string
	Notify(ctx context.Context, msg Message) error
}

// Dispatcher routes events. User-scoped events go only to the transports the
// user has live; operator-level events additionally hit the configured ops
// transports. A failed transport is logged and never blocks the others.
type Dispatcher struct {
	ops     []Transport
	timeout time.Duration

	mu   sync.Mutex
	live map[string][]Transport
}

func NewDispatcher(ops ...Transport) *Dispatcher {
	return &Dispatcher{
		ops:     ops,
		timeout: 20 * time.Second,
		live:    make(map[string][]Transport),
	}
}

// Connect registers a transport as a live channel for the user. A transport
// with the same name replaces the previous registration.
func (d *Dispatcher) Connect(userID string, t Transport) {
	if d == nil || t == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, cur := range d.live[userID] {
		if cur.Name() == t.Name() {
			d.live[userID][i] = t
			return
		}
	}
	d.live[userID] = append(d.live[userID], t)
	logger.Debugf("notify: channel live user=%s transport=%s", userID, t.Name())
}

// Disconnect drops a live channel registration.
func (d *Dispatcher) Disconnect(userID, name string) {
	if d == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	kept := d.live[userID][:0]
	for _, cur := range d.live[userID] {
		if cur.Name() != name {
			kept = append(kept, cur)
		}
	}
	if len(kept) == 0 {
		delete(d.live, userID)
		return
	}
	d.live[userID] = kept
}

func (d *Dispatcher) liveFor(userID string) []Transport {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Transport, len(d.live[userID]))
	copy(out, d.live[userID])
	return out
}

// Dispatch broadcasts to the operator transports.
func (d *Dispatcher) Dispatch(ctx context.Context, msg Message) {
	if d == nil {
		return
	}
	d.send(ctx, d.ops, msg)
}

// dispatchUser delivers to the user's live channels only. An event for a user
// with no live channel is dropped, not broadcast.
func (d *Dispatcher) dispatchUser(ctx context.Context, userID string, msg Message) {
	if d == nil {
		return
	}
	targets := d.liveFor(userID)
	if len(targets) == 0 {
		logger.Debugf("notify: no live channel for user=%s, dropping %q", userID, msg.Title)
		return
	}
	d.send(ctx, targets, msg)
}

// dispatchOperator delivers to the user's live channels and the operator
// transports, each at most once.
func (d *Dispatcher) dispatchOperator(ctx context.Context, userID string, msg Message) {
	if d == nil {
		return
	}
	targets := d.liveFor(userID)
	seen := make(map[string]bool, len(targets))
	for _, t := range targets {
		seen[t.Name()] = true
	}
	for _, t := range d.ops {
		if !seen[t.Name()] {
			targets = append(targets, t)
			seen[t.Name()] = true
		}
	}
	d.send(ctx, targets, msg)
}

func (d *Dispatcher) send(ctx context.Context, targets []Transport, msg Message) {
	if len(targets) == 0 {
		return
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	for _, t := range targets {
		g.Go(func() error {
			if err := t.Notify(ctx, msg); err != nil {
				logger.Warnf("notify: transport %s failed: %v", t.Name(), err)
			}
			return nil
		})
	}
	_ = g.Wait()
}

// ModeChanged announces a mode transition.
func (d *Dispatcher) ModeChanged(ctx context.Context, userID string, from, to mode.OperationMode) {
	d.dispatchUser(ctx, userID, Message{
		Icon:  "🔁",
		Title: "Operation mode changed",
		Sections: []Section{{
			Lines: []string{
				"user: " + userID,
				fmt.Sprintf("transition: %s -> %s", from, to),
			},
		}},
	})
}

// EmergencyStop announces an emergency halt; it is the highest-priority event
// and always reaches the operator channel too.
func (d *Dispatcher) EmergencyStop(ctx context.Context, userID, reason string) {
	d.dispatchOperator(ctx, userID, Message{
		Icon:  "🛑",
		Title: "EMERGENCY STOP",
		Sections: []Section{{
			Lines: []string{
				"user: " + userID,
				"reason: " + reason,
				"all trading halted, resume requires explicit mode change",
			},
		}},
	})
}

// DecisionExecuted announces the outcome of a completed decision.
func (d *Dispatcher) DecisionExecuted(ctx context.Context, userID, decisionID, kind, summary string, success bool) {
	icon := "✅"
	title := "Decision executed"
	if !success {
		icon = "⚠️"
		title = "Decision failed"
	}
	d.dispatchUser(ctx, userID, Message{
		Icon:  icon,
		Title: title,
		Sections: []Section{{
			Lines: []string{
				"user: " + userID,
				"decision: " + decisionID,
				"type: " + kind,
			},
		}},
		Footer: summary,
	})
}

// ApprovalRequired announces a decision waiting on the user.
func (d *Dispatcher) ApprovalRequired(ctx context.Context, userID, decisionID, summary string) {
	d.dispatchUser(ctx, userID, Message{
		Icon:  "⏳",
		Title: "Approval required",
		Sections: []Section{{
			Lines: []string{
				"user: " + userID,
				"decision: " + decisionID,
			},
		}},
		Footer: summary,
	})
}
