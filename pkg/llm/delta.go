package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

// ErrMalformedPayload is returned by a DeltaExtractor when the payload is not
// syntactically complete JSON. It is the only extractor error; a well-formed
// payload with an unexpected shape yields an empty Delta instead.
var ErrMalformedPayload = errors.New("malformed payload")

// Delta is the structured decode of one data frame's payload.
type Delta struct {
	// Content is the incremental text fragment. Empty when the frame carried
	// none (role preambles, tool calls, usage-only frames, schema drift).
	Content string

	// FinishReason is the upstream stop reason, when the frame carries one.
	FinishReason string

	// Usage is set on frames that report token counts.
	Usage *Usage

	// Final is set when the payload itself signals the end of the stream
	// (Anthropic's message_stop). OpenAI-style streams end with [DONE] instead.
	Final bool
}

// DeltaExtractor turns a data frame payload into a Delta. It returns
// ErrMalformedPayload, and only that, when the payload does not parse.
type DeltaExtractor func(payload []byte) (Delta, error)

// ExtractorFor returns the extractor for the named upstream schema. An empty
// name selects the OpenAI schema.
func ExtractorFor(provider string) (DeltaExtractor, error) {
	switch strings.ToLower(strings.TrimSpace(provider)) {
	case "", ProviderOpenAI:
		return ExtractOpenAIDelta, nil
	case ProviderAnthropic:
		return ExtractAnthropicDelta, nil
	default:
		return nil, fmt.Errorf("unknown provider %q (available: %s, %s)", provider, ProviderOpenAI, ProviderAnthropic)
	}
}

// SupportedProviders lists the names accepted by ExtractorFor.
func SupportedProviders() []string {
	return []string{ProviderOpenAI, ProviderAnthropic}
}

type openAIStreamChunk struct {
	Choices []struct {
		Delta struct {
			Content *string `json:"content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
	Usage *Usage `json:"usage"`
}

// ExtractOpenAIDelta reads choices[0].delta.content from an OpenAI-compatible
// chat completion chunk.
func ExtractOpenAIDelta(payload []byte) (Delta, error) {
	if !json.Valid(payload) {
		return Delta{}, ErrMalformedPayload
	}

	var chunk openAIStreamChunk
	// Type mismatches leave the affected fields zero; an absent path is an
	// empty fragment.
	_ = json.Unmarshal(payload, &chunk)

	d := Delta{Usage: chunk.Usage}
	if len(chunk.Choices) > 0 {
		choice := chunk.Choices[0]
		if choice.Delta.Content != nil {
			d.Content = *choice.Delta.Content
		}
		if choice.FinishReason != nil {
			d.FinishReason = *choice.FinishReason
		}
	}
	return d, nil
}

type anthropicStreamEvent struct {
	Type  string `json:"type"`
	Delta struct {
		Type       string `json:"type"`
		Text       string `json:"text"`
		StopReason string `json:"stop_reason"`
	} `json:"delta"`
	Message struct {
		Usage struct {
			InputTokens int `json:"input_tokens"`
		} `json:"usage"`
	} `json:"message"`
	Usage struct {
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// ExtractAnthropicDelta reads delta.text from an Anthropic messages stream
// event. Usage is split across message_start (input) and message_delta
// (output); message_stop marks the Delta Final.
func ExtractAnthropicDelta(payload []byte) (Delta, error) {
	if !json.Valid(payload) {
		return Delta{}, ErrMalformedPayload
	}

	var ev anthropicStreamEvent
	_ = json.Unmarshal(payload, &ev)

	switch ev.Type {
	case "content_block_delta":
		return Delta{Content: ev.Delta.Text}, nil
	case "message_start":
		if ev.Message.Usage.InputTokens == 0 {
			return Delta{}, nil
		}
		return Delta{Usage: &Usage{PromptTokens: ev.Message.Usage.InputTokens}}, nil
	case "message_delta":
		d := Delta{FinishReason: ev.Delta.StopReason}
		if ev.Usage.OutputTokens != 0 {
			d.Usage = &Usage{CompletionTokens: ev.Usage.OutputTokens}
		}
		return d, nil
	case "message_stop":
		return Delta{Final: true}, nil
	default:
		return Delta{}, nil
	}
}
