package api

import (
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/papercomputeco/chatstream/pkg/llm"
	"github.com/papercomputeco/chatstream/pkg/storage"
)

// defaultListLimit caps /v1/transcripts when no limit is given.
const defaultListLimit = 50

// ListResponse is the body of GET /v1/transcripts.
type ListResponse struct {
	Count       int                   `json:"count"`
	Transcripts []*storage.Transcript `json:"transcripts"`
}

// StatsResponse is the body of GET /v1/stats.
type StatsResponse struct {
	Total      int            `json:"total"`
	ByState    map[string]int `json:"by_state"`
	ByProvider map[string]int `json:"by_provider"`

	// CompletionTokens sums reported usage across transcripts.
	CompletionTokens int `json:"completion_tokens"`
}

// handlePing returns a simple health check response.
func (s *Server) handlePing(c *fiber.Ctx) error {
	return c.JSON("pong")
}

// handleStats summarizes every stored transcript.
func (s *Server) handleStats(c *fiber.Ctx) error {
	transcripts, err := s.driver.List(c.Context(), storage.ListOptions{})
	if err != nil {
		s.logger.Error("failed to list transcripts", "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(llm.ErrorResponse{Error: "failed to list transcripts"})
	}

	stats := StatsResponse{
		Total:      len(transcripts),
		ByState:    map[string]int{},
		ByProvider: map[string]int{},
	}
	for _, t := range transcripts {
		stats.ByState[t.State]++
		stats.ByProvider[t.Provider]++
		if t.Usage != nil {
			stats.CompletionTokens += t.Usage.CompletionTokens
		}
	}

	return c.JSON(stats)
}

// handleListTranscripts returns transcripts, newest first. Query parameters:
// limit (0 for all) and provider.
func (s *Server) handleListTranscripts(c *fiber.Ctx) error {
	limit := defaultListLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return c.Status(fiber.StatusBadRequest).JSON(llm.ErrorResponse{Error: "limit must be a non-negative integer"})
		}
		limit = n
	}

	transcripts, err := s.driver.List(c.Context(), storage.ListOptions{
		Limit:    limit,
		Provider: c.Query("provider"),
	})
	if err != nil {
		s.logger.Error("failed to list transcripts", "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(llm.ErrorResponse{Error: "failed to list transcripts"})
	}

	return c.JSON(ListResponse{
		Count:       len(transcripts),
		Transcripts: transcripts,
	})
}

// handleGetTranscript returns a single transcript by message ID.
func (s *Server) handleGetTranscript(c *fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return c.Status(fiber.StatusBadRequest).JSON(llm.ErrorResponse{Error: "id parameter required"})
	}

	t, err := s.driver.Get(c.Context(), id)
	if err != nil {
		if storage.IsNotFound(err) {
			return c.Status(fiber.StatusNotFound).JSON(llm.ErrorResponse{Error: "transcript not found"})
		}
		s.logger.Error("failed to get transcript", "id", id, "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(llm.ErrorResponse{Error: "failed to get transcript"})
	}

	return c.JSON(t)
}
