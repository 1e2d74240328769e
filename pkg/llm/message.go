// Package llm holds the chat wire types shared by the stream client and the
// relay: the request sent upstream, the messages it carries, and the
// per-frame Delta decoded from a streamed response.
package llm

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is a single chat message in the OpenAI-compatible wire format.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// NewTextMessage creates a message with the given role and text.
func NewTextMessage(role, text string) Message {
	return Message{Role: role, Content: text}
}
