package render

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"tiller/internal/logger"
)

const (
	// Buffered response growth is flushed to the transport once it crosses
	// this many characters or hits sentence-ending punctuation, bounding
	// edit-call volume.
	flushThreshold = 32

	// Push transports cap message size; longer text is truncated, not
	// rejected.
	maxMessageLen      = 3800
	continuationMarker = "… (truncated)"
)

// ErrStreamAborted is returned when an error chunk terminates the stream.
// The caller must not retry through a non-streaming path.
var ErrStreamAborted = errors.New("stream aborted by error chunk")

// StreamRenderer collapses an ordered chunk stream into a handful of
// live-updated messages: one status message, one growing response message,
// plus standalone action-required messages.
type StreamRenderer struct {
	transport PushTransport
	chatID    string

	statusID   string
	responseID string

	// sent is what the transport currently shows in the response message;
	// pending is buffered growth not yet flushed.
	sent    string
	pending string

	delivered bool
	done      bool
}

func NewStreamRenderer(transport PushTransport, chatID string) *StreamRenderer {
	return &StreamRenderer{transport: transport, chatID: chatID}
}

// Delivered reports whether any content chunk has reached the user. Once
// true, transport failures are terminal: a synchronous fallback would risk
// duplicate or conflicting partial answers.
func (r *StreamRenderer) Delivered() bool { return r.delivered }

// Run consumes chunks until the channel closes, a complete chunk arrives, or
// the stream aborts.
func (r *StreamRenderer) Run(ctx context.Context, chunks <-chan Chunk) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case c, ok := <-chunks:
			if !ok {
				return r.finish(ctx, nil)
			}
			if err := r.Apply(ctx, c); err != nil {
				return err
			}
			if r.done {
				return nil
			}
		}
	}
}

// Apply processes a single chunk.
func (r *StreamRenderer) Apply(ctx context.Context, c Chunk) error {
	if r.done {
		return nil
	}
	switch c.Kind {
	case ChunkProcessing, ChunkProgress:
		return r.updateStatus(ctx, c.Text)
	case ChunkResponse, ChunkPersona:
		return r.appendResponse(ctx, c)
	case ChunkActionRequired:
		// Always a distinct message: it is a branch point awaiting a reply.
		_, err := r.transport.Send(ctx, r.chatID, truncate(c.Text))
		if err != nil {
			return r.transportFailure(err)
		}
		r.delivered = true
		return nil
	case ChunkError:
		r.done = true
		if _, err := r.transport.Send(ctx, r.chatID, truncate("Error: "+c.Text)); err != nil {
			logger.Warnf("render: error chunk delivery failed chat=%s err=%v", r.chatID, err)
		}
		return ErrStreamAborted
	case ChunkComplete:
		r.done = true
		return r.finish(ctx, &c)
	default:
		logger.Warnf("render: unknown chunk kind %q ignored", c.Kind)
		return nil
	}
}

// updateStatus edits the single status message in place, falling back to a
// fresh message only when the transport rejects the edit.
func (r *StreamRenderer) updateStatus(ctx context.Context, text string) error {
	text = truncate(text)
	if r.statusID == "" {
		id, err := r.transport.Send(ctx, r.chatID, text)
		if err != nil {
			return r.transportFailure(err)
		}
		r.statusID = id
		return nil
	}
	if err := r.transport.Edit(ctx, r.chatID, r.statusID, text); err != nil {
		// Stale message edits can be rejected; replace instead.
		logger.Debugf("render: status edit rejected chat=%s msg=%s, replacing: %v", r.chatID, r.statusID, err)
		id, sendErr := r.transport.Send(ctx, r.chatID, text)
		if sendErr != nil {
			return r.transportFailure(sendErr)
		}
		r.statusID = id
	}
	return nil
}

func (r *StreamRenderer) appendResponse(ctx context.Context, c Chunk) error {
	if c.Replace {
		r.sent = ""
		r.pending = c.Text
		r.responseID = ""
	} else {
		r.pending += c.Text
	}
	if len(r.pending) >= flushThreshold || endsSentence(r.pending) {
		return r.flush(ctx)
	}
	return nil
}

// flush pushes buffered response growth to the transport.
func (r *StreamRenderer) flush(ctx context.Context) error {
	if r.pending == "" {
		return nil
	}
	content := truncate(r.sent + r.pending)
	if r.responseID == "" {
		id, err := r.transport.Send(ctx, r.chatID, content)
		if err != nil {
			return r.transportFailure(err)
		}
		r.responseID = id
	} else if err := r.transport.Edit(ctx, r.chatID, r.responseID, content); err != nil {
		return r.transportFailure(err)
	}
	r.sent += r.pending
	r.pending = ""
	r.delivered = true
	return nil
}

// finish flushes remaining growth and turns the status message into a
// terminal confirmation carrying final metadata.
func (r *StreamRenderer) finish(ctx context.Context, complete *Chunk) error {
	if err := r.flush(ctx); err != nil {
		return err
	}
	text := "Done."
	if complete != nil && strings.TrimSpace(complete.Text) != "" {
		text = complete.Text
	}
	if complete != nil && len(complete.Metadata) > 0 {
		if id, ok := complete.Metadata["decision_id"].(string); ok && id != "" {
			text = fmt.Sprintf("%s (decision %s)", text, id)
		}
	}
	return r.updateStatus(ctx, text)
}

// transportFailure distinguishes "nothing delivered yet" (the caller may
// fall back to one synchronous response) from a terminal mid-stream failure.
func (r *StreamRenderer) transportFailure(err error) error {
	if !r.delivered {
		return &FallbackError{Err: err}
	}
	r.done = true
	return fmt.Errorf("push transport failed mid-stream: %w", err)
}

// FallbackError signals that the push transport failed before any content
// reached the user; the renderer may transparently degrade to a single
// synchronous response.
type FallbackError struct {
	Err error
}

func (e *FallbackError) Error() string {
	return fmt.Sprintf("push transport failed before delivery: %v", e.Err)
}

func (e *FallbackError) Unwrap() error { return e.Err }

func endsSentence(s string) bool {
	if s == "" {
		return false
	}
	switch s[len(s)-1] {
	case '.', '!', '?', '\n':
		return true
	}
	return false
}

func truncate(s string) string {
	if len(s) <= maxMessageLen {
		return s
	}
	// Back up to a rune boundary so the cut never produces invalid UTF-8.
	cut := maxMessageLen - len(continuationMarker)
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + continuationMarker
}
