package eventstream

import (
	"time"

	"github.com/google/uuid"

	"github.com/papercomputeco/chatstream/pkg/llm"
	"github.com/papercomputeco/chatstream/pkg/storage"
)

const (
	// SchemaVersionV1 is the first version of the event payload schema.
	SchemaVersionV1 = 1

	// EventTypeMessageCompleted is emitted after a streamed message reached
	// a terminal state and its transcript was persisted.
	EventTypeMessageCompleted = "chatstream.message.completed"
)

// MessageCompletedEvent is a transport-neutral event payload for a finished
// streamed message.
type MessageCompletedEvent struct {
	SchemaVersion int            `json:"schema_version"`
	EventType     string         `json:"event_type"`
	EventID       string         `json:"event_id"`
	EmittedAt     time.Time      `json:"emitted_at"`
	Source        EventSource    `json:"source"`
	RequestMeta   RequestMeta    `json:"request_meta"`
	Message       MessageSummary `json:"message"`
}

// EventSource identifies where the message was relayed.
type EventSource struct {
	Provider string `json:"provider"`
	Upstream string `json:"upstream,omitempty"`
}

// RequestMeta captures request lifecycle metadata for the event.
type RequestMeta struct {
	Path        string    `json:"path,omitempty"`
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`
	DurationMs  int64     `json:"duration_ms"`
	HTTPStatus  int       `json:"http_status"`
}

// MessageSummary is the outcome of the stream.
type MessageSummary struct {
	ID           string     `json:"id"`
	Model        string     `json:"model,omitempty"`
	State        string     `json:"state"`
	FinishReason string     `json:"finish_reason,omitempty"`
	Text         string     `json:"text"`
	Usage        *llm.Usage `json:"usage,omitempty"`
	Error        string     `json:"error,omitempty"`
}

// NewMessageCompletedEvent builds the event for a persisted transcript.
func NewMessageCompletedEvent(t *storage.Transcript, upstream string) *MessageCompletedEvent {
	return &MessageCompletedEvent{
		SchemaVersion: SchemaVersionV1,
		EventType:     EventTypeMessageCompleted,
		EventID:       uuid.NewString(),
		EmittedAt:     time.Now().UTC(),
		Source: EventSource{
			Provider: t.Provider,
			Upstream: upstream,
		},
		RequestMeta: RequestMeta{
			Path:        t.Path,
			StartedAt:   t.StartedAt,
			CompletedAt: t.CompletedAt,
			DurationMs:  t.Duration().Milliseconds(),
			HTTPStatus:  t.HTTPStatus,
		},
		Message: MessageSummary{
			ID:           t.ID,
			Model:        t.Model,
			State:        t.State,
			FinishReason: t.FinishReason,
			Text:         t.Text,
			Usage:        t.Usage,
			Error:        t.Error,
		},
	}
}
