// Package stream implements the line-delimited frame protocol of the chat
// stream: one frame per line, a one-character type tag, a colon, then a
// JSON-encoded payload.
package stream

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

const (
	tagText  = "0"
	tagDone  = "d"
	tagError = "e"
)

// Stream-protocol version marker sent in the response headers.
const (
	ProtocolHeader  = "x-vercel-ai-data-stream"
	ProtocolVersion = "v1"
)

// Usage carries the token counters reported in the terminal frame.
type Usage struct {
	PromptTokens     int `json:"promptTokens"`
	CompletionTokens int `json:"completionTokens"`
}

// Completion is the payload of the terminal d: frame. SessionID lets the
// client learn the id of a freshly created session.
type Completion struct {
	FinishReason string `json:"finishReason"`
	Usage        Usage  `json:"usage"`
	SessionID    int64  `json:"session_id"`
}

// Writer emits protocol frames, flushing after each one so fragments
// reach the client in generation order.
type Writer struct {
	w io.Writer
	f http.Flusher
}

// NewWriter wraps the response writer; flusher may be nil in tests.
func NewWriter(w io.Writer, f http.Flusher) *Writer {
	return &Writer{w: w, f: f}
}

// Text emits one fragment frame.
func (sw *Writer) Text(fragment string) error {
	return sw.frame(tagText, fragment)
}

// Done emits the terminal frame for a successfully exhausted stream.
func (sw *Writer) Done(finishReason string, sessionID int64) error {
	return sw.frame(tagDone, Completion{FinishReason: finishReason, SessionID: sessionID})
}

// Error emits an in-band error frame.
func (sw *Writer) Error(message string) error {
	return sw.frame(tagError, map[string]string{"error": message})
}

func (sw *Writer) frame(tag string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode frame payload: %w", err)
	}
	if _, err := fmt.Fprintf(sw.w, "%s:%s\n", tag, data); err != nil {
		return err
	}
	if sw.f != nil {
		sw.f.Flush()
	}
	return nil
}
