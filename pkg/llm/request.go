package llm

// ChatRequest is the body POSTed to a chat completions endpoint.
type ChatRequest struct {
	// Model name (e.g., "gpt-4o-mini", "google/gemini-2.5-flash")
	Model string `json:"model,omitempty"`

	// Conversation messages, oldest first
	Messages []Message `json:"messages"`

	// Whether to stream the response. The stream client always sets this.
	Stream bool `json:"stream"`

	// StreamOptions asks OpenAI-compatible upstreams to append a usage chunk
	// before the terminator.
	StreamOptions *StreamOptions `json:"stream_options,omitempty"`

	MaxTokens   *int     `json:"max_tokens,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
}

// StreamOptions are OpenAI streaming knobs.
type StreamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

// ErrorResponse is the JSON body returned by the relay on failures it
// generates itself.
type ErrorResponse struct {
	Error string `json:"error"`
}
