package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/papercomputeco/chatstream/pkg/storage"
)

const defaultListLimit = 20

var (
	listToolName    = "transcripts_list"
	listDescription = "List recorded chat transcripts, most recently completed first. Optionally filter by provider (openai or anthropic)."

	getToolName    = "transcript_get"
	getDescription = "Get one recorded chat transcript by message id, including the prompt that produced it."
)

// ListInput represents the input arguments for the transcripts_list tool.
type ListInput struct {
	Limit    int    `json:"limit,omitempty" jsonschema:"number of transcripts to return (default: 20)"`
	Provider string `json:"provider,omitempty" jsonschema:"only return transcripts from this provider"`
}

// Summary is one row of a transcripts_list result.
type Summary struct {
	ID          string `json:"id"`
	Provider    string `json:"provider"`
	Model       string `json:"model"`
	State       string `json:"state"`
	Text        string `json:"text"`
	Error       string `json:"error,omitempty"`
	CompletedAt string `json:"completed_at"`
}

// ListOutput represents the output of the transcripts_list tool.
type ListOutput struct {
	Count       int       `json:"count"`
	Transcripts []Summary `json:"transcripts"`
}

// GetInput represents the input arguments for the transcript_get tool.
type GetInput struct {
	ID string `json:"id" jsonschema:"the message id of the transcript"`
}

// Turn is a single prompt message.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// GetOutput represents the output of the transcript_get tool.
type GetOutput struct {
	ID               string `json:"id"`
	Provider         string `json:"provider"`
	Model            string `json:"model"`
	State            string `json:"state"`
	Text             string `json:"text"`
	Error            string `json:"error,omitempty"`
	FinishReason     string `json:"finish_reason,omitempty"`
	Prompt           []Turn `json:"prompt"`
	PromptTokens     int    `json:"prompt_tokens,omitempty"`
	CompletionTokens int    `json:"completion_tokens,omitempty"`
	StartedAt        string `json:"started_at"`
	CompletedAt      string `json:"completed_at"`
}

// handleList processes a transcripts_list request.
func (s *Server) handleList(ctx context.Context, _ *mcp.CallToolRequest, input ListInput) (*mcp.CallToolResult, ListOutput, error) {
	limit := input.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}

	s.config.Logger.Debug("MCP transcripts_list request",
		"limit", limit,
		"provider", input.Provider,
	)

	transcripts, err := s.config.Driver.List(ctx, storage.ListOptions{
		Limit:    limit,
		Provider: input.Provider,
	})
	if err != nil {
		s.config.Logger.Error("failed to list transcripts", "error", err)
		return errorResult(fmt.Sprintf("Failed to list transcripts: %v", err)), ListOutput{}, nil
	}

	output := ListOutput{
		Count:       len(transcripts),
		Transcripts: make([]Summary, 0, len(transcripts)),
	}
	for _, t := range transcripts {
		output.Transcripts = append(output.Transcripts, summarize(t))
	}

	return jsonResult(output)
}

// handleGet processes a transcript_get request.
func (s *Server) handleGet(ctx context.Context, _ *mcp.CallToolRequest, input GetInput) (*mcp.CallToolResult, GetOutput, error) {
	if input.ID == "" {
		return errorResult("id is required"), GetOutput{}, nil
	}

	t, err := s.config.Driver.Get(ctx, input.ID)
	if storage.IsNotFound(err) {
		return errorResult(fmt.Sprintf("No transcript with id %q", input.ID)), GetOutput{}, nil
	}
	if err != nil {
		s.config.Logger.Error("failed to get transcript", "id", input.ID, "error", err)
		return errorResult(fmt.Sprintf("Failed to get transcript: %v", err)), GetOutput{}, nil
	}

	output := GetOutput{
		ID:           t.ID,
		Provider:     t.Provider,
		Model:        t.Model,
		State:        t.State,
		Text:         t.Text,
		Error:        t.Error,
		FinishReason: t.FinishReason,
		Prompt:       make([]Turn, 0, len(t.Prompt)),
		StartedAt:    formatTime(t.StartedAt),
		CompletedAt:  formatTime(t.CompletedAt),
	}
	for _, m := range t.Prompt {
		output.Prompt = append(output.Prompt, Turn{Role: m.Role, Content: m.Content})
	}
	if t.Usage != nil {
		output.PromptTokens = t.Usage.PromptTokens
		output.CompletionTokens = t.Usage.CompletionTokens
	}

	return jsonResult(output)
}

func summarize(t *storage.Transcript) Summary {
	return Summary{
		ID:          t.ID,
		Provider:    t.Provider,
		Model:       t.Model,
		State:       t.State,
		Text:        t.Text,
		Error:       t.Error,
		CompletedAt: formatTime(t.CompletedAt),
	}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// jsonResult pairs structured output with its JSON text for clients that only
// read text content.
func jsonResult[T any](output T) (*mcp.CallToolResult, T, error) {
	jsonBytes, err := json.Marshal(output)
	if err != nil {
		var zero T
		return errorResult(fmt.Sprintf("Failed to serialize results: %v", err)), zero, nil
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: string(jsonBytes)},
		},
	}, output, nil
}

func errorResult(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{
			&mcp.TextContent{Text: msg},
		},
	}
}
