// Package render turns decisions and execution results into
// channel-appropriate output, including incremental push rendering.
package render

import "context"

// Channel names understood by the renderer.
const (
	ChannelWeb     = "web"
	ChannelWebChat = "webchat"
	ChannelBot     = "bot"
	ChannelAuto    = "autonomous"
)

// ChunkKind tags one element of a live response stream.
type ChunkKind string

const (
	ChunkProcessing     ChunkKind = "processing"
	ChunkProgress       ChunkKind = "progress"
	ChunkResponse       ChunkKind = "response"
	ChunkPersona        ChunkKind = "persona_addendum"
	ChunkActionRequired ChunkKind = "action_required"
	ChunkError          ChunkKind = "error"
	ChunkComplete       ChunkKind = "complete"
)

// Chunk is one element of an ordered push stream.
type Chunk struct {
	Kind ChunkKind
	Text string
	// Replace resets the growing response message instead of appending.
	Replace  bool
	Metadata map[string]any
}

// PushTransport is the push-style delivery client: send returns a message id
// that later edits address.
type PushTransport interface {
	Send(ctx context.Context, chatID, text string) (string, error)
	Edit(ctx context.Context, chatID, messageID, text string) error
}

// Payload is the single fully-formed response for request/response channels.
type Payload struct {
	Content          string         `json:"content"`
	DecisionID       string         `json:"decision_id,omitempty"`
	RequiresApproval bool           `json:"requires_approval"`
	Confidence       float64        `json:"confidence"`
	Metadata         map[string]any `json:"metadata,omitempty"`
}
