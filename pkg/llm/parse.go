package llm

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ParseChatRequest extracts a ChatRequest from a relayed request body. It
// accepts both the OpenAI and Anthropic request shapes: message content may
// be a plain string or a list of typed blocks (only text blocks are kept),
// and an Anthropic top-level "system" prompt becomes a leading system
// message. Unknown fields are ignored.
func ParseChatRequest(payload []byte) (*ChatRequest, error) {
	var raw struct {
		Model       string          `json:"model"`
		System      json.RawMessage `json:"system"`
		Messages    []rawMessage    `json:"messages"`
		Stream      bool            `json:"stream"`
		MaxTokens   *int            `json:"max_tokens"`
		Temperature *float64        `json:"temperature"`
	}
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, fmt.Errorf("parsing chat request: %w", err)
	}

	req := &ChatRequest{
		Model:       raw.Model,
		Stream:      raw.Stream,
		MaxTokens:   raw.MaxTokens,
		Temperature: raw.Temperature,
	}

	if system := contentText(raw.System); system != "" {
		req.Messages = append(req.Messages, NewTextMessage(RoleSystem, system))
	}
	for _, m := range raw.Messages {
		req.Messages = append(req.Messages, NewTextMessage(m.Role, contentText(m.Content)))
	}

	return req, nil
}

type rawMessage struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// contentText flattens string or block content into plain text.
func contentText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}

	var blocks []contentBlock
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return ""
	}

	parts := make([]string, 0, len(blocks))
	for _, b := range blocks {
		if b.Type == "text" || (b.Type == "" && b.Text != "") {
			parts = append(parts, b.Text)
		}
	}
	return strings.Join(parts, "\n")
}
