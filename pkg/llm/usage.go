package llm

// Usage contains token counts reported by the upstream, typically on the last
// data frame of a stream.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens,omitempty"`
	CompletionTokens int `json:"completion_tokens,omitempty"`
	TotalTokens      int `json:"total_tokens,omitempty"`
}

// IsZero reports whether no counts were recorded.
func (u *Usage) IsZero() bool {
	return u == nil || (u.PromptTokens == 0 && u.CompletionTokens == 0 && u.TotalTokens == 0)
}

// Merge copies every non-zero count from other into u.
func (u *Usage) Merge(other *Usage) {
	if other == nil {
		return
	}
	if other.PromptTokens != 0 {
		u.PromptTokens = other.PromptTokens
	}
	if other.CompletionTokens != 0 {
		u.CompletionTokens = other.CompletionTokens
	}
	if other.TotalTokens != 0 {
		u.TotalTokens = other.TotalTokens
	} else if u.PromptTokens != 0 || u.CompletionTokens != 0 {
		u.TotalTokens = u.PromptTokens + u.CompletionTokens
	}
}
