package agent

import (
	"sync"

	"tiller/internal/intent"
)

const historyDepth = 10

// history keeps a short per-user window of resolved intents so the
// classifier can bias toward the ongoing topic.
type history struct {
	mu     sync.Mutex
	recent map[string][]intent.Intent
}

func newHistory() *history {
	return &history{recent: make(map[string][]intent.Intent)}
}

// context returns the classification context for a user, newest intent first.
func (h *history) context(userID string) *intent.Context {
	h.mu.Lock()
	defer h.mu.Unlock()
	turns := h.recent[userID]
	out := make([]intent.Intent, len(turns))
	copy(out, turns)
	return &intent.Context{RecentIntents: out}
}

func (h *history) record(userID string, in intent.Intent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	turns := append([]intent.Intent{in}, h.recent[userID]...)
	if len(turns) > historyDepth {
		turns = turns[:historyDepth]
	}
	h.recent[userID] = turns
}
