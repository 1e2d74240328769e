package storage

import (
	"time"

	"github.com/papercomputeco/chatstream/pkg/chatstream"
	"github.com/papercomputeco/chatstream/pkg/llm"
)

// Transcript is one streamed exchange: the prompt sent upstream and the
// assistant message accumulated from the response stream.
type Transcript struct {
	ID           string        `json:"id"`
	Provider     string        `json:"provider"`
	Model        string        `json:"model,omitempty"`
	Path         string        `json:"path,omitempty"`
	Prompt       []llm.Message `json:"prompt"`
	Text         string        `json:"text"`
	State        string        `json:"state"`
	FinishReason string        `json:"finish_reason,omitempty"`
	Usage        *llm.Usage    `json:"usage,omitempty"`
	Error        string        `json:"error,omitempty"`
	HTTPStatus   int           `json:"http_status,omitempty"`
	StartedAt    time.Time     `json:"started_at"`
	CompletedAt  time.Time     `json:"completed_at"`
}

// NewTranscript records msg as the answer to req.
func NewTranscript(provider string, req *llm.ChatRequest, msg chatstream.Message) *Transcript {
	t := &Transcript{
		ID:           msg.ID,
		Provider:     provider,
		Text:         msg.Text,
		State:        msg.State.String(),
		FinishReason: msg.FinishReason,
		Usage:        msg.Usage,
		StartedAt:    msg.StartedAt,
		CompletedAt:  msg.CompletedAt,
	}
	if msg.Err != nil {
		t.Error = msg.Err.Error()
	}
	if req != nil {
		t.Model = req.Model
		t.Prompt = req.Messages
	}
	return t
}

// Duration is the time from the first request byte to the terminal snapshot.
func (t *Transcript) Duration() time.Duration {
	if t.CompletedAt.IsZero() || t.StartedAt.IsZero() {
		return 0
	}
	return t.CompletedAt.Sub(t.StartedAt)
}

// Succeeded reports whether the stream completed.
func (t *Transcript) Succeeded() bool {
	return t.State == chatstream.StateCompleted.String()
}
