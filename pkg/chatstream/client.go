package chatstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/papercomputeco/chatstream/pkg/llm"
	"github.com/papercomputeco/chatstream/pkg/logger"
)

// maxErrorBody bounds how much of an error response is kept on a StartError.
const maxErrorBody = 4 * 1024

// ClientConfig configures a Client.
type ClientConfig struct {
	// Endpoint is the full chat completions URL
	// (e.g., "https://api.openai.com/v1/chat/completions").
	Endpoint string

	// APIKey is sent as a bearer token when set.
	APIKey string

	// Provider selects the payload schema (see llm.ExtractorFor).
	Provider string

	// Headers are added to every request.
	Headers map[string]string

	// HTTPClient defaults to a client without a total timeout, since streams
	// are long-lived and callers bound them through the context.
	HTTPClient *http.Client

	Logger *slog.Logger

	// StreamOptions are applied to every Consume call.
	StreamOptions []Option
}

// Client opens streaming chat requests and consumes their responses.
type Client struct {
	config     ClientConfig
	extractor  llm.DeltaExtractor
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient validates cfg and returns a Client.
func NewClient(cfg ClientConfig) (*Client, error) {
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return nil, errors.New("endpoint is required")
	}

	extractor, err := llm.ExtractorFor(cfg.Provider)
	if err != nil {
		return nil, err
	}

	c := &Client{
		config:     cfg,
		extractor:  extractor,
		httpClient: cfg.HTTPClient,
		logger:     cfg.Logger,
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{}
	}
	if c.logger == nil {
		c.logger = logger.Nop()
	}
	return c, nil
}

// Stream sends req with streaming enabled and consumes the response,
// publishing snapshots to onSnapshot.
//
// A *StartError is returned, and onSnapshot is never called, when the
// request does not yield a usable stream. Otherwise the error is nil and
// every outcome is reported on the returned Message and its terminal
// snapshot.
func (c *Client) Stream(ctx context.Context, req *llm.ChatRequest, onSnapshot SnapshotFunc, opts ...Option) (Message, error) {
	body, err := c.open(ctx, req)
	if err != nil {
		return Message{}, err
	}
	defer body.Close()

	all := make([]Option, 0, len(c.config.StreamOptions)+len(opts)+2)
	all = append(all, WithExtractor(c.extractor), WithLogger(c.logger))
	all = append(all, c.config.StreamOptions...)
	all = append(all, opts...)

	return Consume(ctx, body, onSnapshot, all...), nil
}

// open performs the request and returns the response body of a usable
// stream.
func (c *Client) open(ctx context.Context, req *llm.ChatRequest) (io.ReadCloser, error) {
	if req == nil {
		return nil, &StartError{Kind: StartGeneric, Err: errors.New("nil request")}
	}

	payload := *req
	payload.Stream = true

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, &StartError{Kind: StartGeneric, Err: fmt.Errorf("marshaling request: %w", err)}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.Endpoint, bytes.NewReader(raw))
	if err != nil {
		return nil, &StartError{Kind: StartGeneric, Err: fmt.Errorf("creating request: %w", err)}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	if c.config.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}
	for k, v := range c.config.Headers {
		httpReq.Header.Set(k, v)
	}

	c.logger.Debug("opening stream",
		"endpoint", c.config.Endpoint,
		"model", req.Model,
		"message_count", len(req.Messages),
	)

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &StartError{Kind: StartGeneric, Err: fmt.Errorf("sending request: %w", err)}
	}

	if err := checkResponse(resp); err != nil {
		resp.Body.Close()
		c.logger.Warn("stream start failed",
			"status", resp.StatusCode,
			"error", err,
			"duration", time.Since(start),
		)
		return nil, err
	}

	c.logger.Debug("stream opened",
		"status", resp.StatusCode,
		"content_type", resp.Header.Get("Content-Type"),
		"duration", time.Since(start),
	)
	return resp.Body, nil
}

// checkResponse classifies a response per its status: 2xx with a body is a
// stream; 429 and 402 get their own kinds; anything else is generic.
func checkResponse(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if resp.Body == nil || resp.Body == http.NoBody {
			return &StartError{
				Kind:       StartGeneric,
				StatusCode: resp.StatusCode,
				Err:        errors.New("response has no body"),
			}
		}
		return nil
	}

	var body string
	if resp.Body != nil {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		body = string(raw)
	}

	return &StartError{
		Kind:       kindForStatus(resp.StatusCode),
		StatusCode: resp.StatusCode,
		Body:       body,
	}
}
