package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/chatstream/pkg/llm"
	"github.com/papercomputeco/chatstream/pkg/storage"
	"github.com/papercomputeco/chatstream/pkg/storage/inmemory"
)

type brokenDriver struct {
	storage.Driver
}

func (brokenDriver) List(context.Context, storage.ListOptions) ([]*storage.Transcript, error) {
	return nil, errors.New("disk on fire")
}

func (brokenDriver) Get(context.Context, string) (*storage.Transcript, error) {
	return nil, errors.New("disk on fire")
}

var _ = Describe("Server", func() {
	var (
		server *Server
		driver *inmemory.Driver
	)

	get := func(path string, into any) int {
		resp, err := server.app.Test(httptest.NewRequest("GET", path, nil), -1)
		Expect(err).NotTo(HaveOccurred())
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		Expect(err).NotTo(HaveOccurred())
		if into != nil {
			Expect(json.Unmarshal(body, into)).To(Succeed(), string(body))
		}
		return resp.StatusCode
	}

	BeforeEach(func() {
		driver = inmemory.NewDriver()
		server = NewServer(Config{ListenAddr: ":0"}, driver, nil)

		start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
		for i, t := range []*storage.Transcript{
			{ID: "a", Provider: "openai", State: "completed", Text: "one", Usage: &llm.Usage{CompletionTokens: 4}},
			{ID: "b", Provider: "anthropic", State: "completed", Text: "two", Usage: &llm.Usage{CompletionTokens: 6}},
			{ID: "c", Provider: "openai", State: "failed", Error: "stream closed"},
		} {
			t.StartedAt = start.Add(time.Duration(i) * time.Minute)
			t.CompletedAt = t.StartedAt.Add(time.Second)
			_, err := driver.Put(context.Background(), t)
			Expect(err).NotTo(HaveOccurred())
		}
	})

	It("answers pings", func() {
		var body string
		Expect(get("/ping", &body)).To(Equal(200))
		Expect(body).To(Equal("pong"))
	})

	Describe("GET /v1/transcripts", func() {
		It("lists newest first", func() {
			var resp ListResponse
			Expect(get("/v1/transcripts", &resp)).To(Equal(200))
			Expect(resp.Count).To(Equal(3))
			Expect(resp.Transcripts[0].ID).To(Equal("c"))
			Expect(resp.Transcripts[2].ID).To(Equal("a"))
		})

		It("filters by provider and limit", func() {
			var resp ListResponse
			Expect(get("/v1/transcripts?provider=openai&limit=1", &resp)).To(Equal(200))
			Expect(resp.Count).To(Equal(1))
			Expect(resp.Transcripts[0].ID).To(Equal("c"))
		})

		It("rejects a bad limit", func() {
			var resp llm.ErrorResponse
			Expect(get("/v1/transcripts?limit=-2", &resp)).To(Equal(400))
			Expect(resp.Error).To(ContainSubstring("limit"))
		})

		It("reports storage failures", func() {
			server = NewServer(Config{}, brokenDriver{}, nil)
			var resp llm.ErrorResponse
			Expect(get("/v1/transcripts", &resp)).To(Equal(500))
			Expect(resp.Error).To(Equal("failed to list transcripts"))
		})
	})

	Describe("GET /v1/transcripts/:id", func() {
		It("returns the transcript", func() {
			var t storage.Transcript
			Expect(get("/v1/transcripts/b", &t)).To(Equal(200))
			Expect(t.Provider).To(Equal("anthropic"))
			Expect(t.Text).To(Equal("two"))
		})

		It("returns 404 for unknown ids", func() {
			var resp llm.ErrorResponse
			Expect(get("/v1/transcripts/zzz", &resp)).To(Equal(404))
			Expect(resp.Error).To(Equal("transcript not found"))
		})

		It("returns 500 when the store fails", func() {
			server = NewServer(Config{}, brokenDriver{}, nil)
			Expect(get("/v1/transcripts/a", nil)).To(Equal(500))
		})
	})

	It("summarizes transcripts", func() {
		var stats StatsResponse
		Expect(get("/v1/stats", &stats)).To(Equal(200))
		Expect(stats.Total).To(Equal(3))
		Expect(stats.ByState).To(Equal(map[string]int{"completed": 2, "failed": 1}))
		Expect(stats.ByProvider).To(Equal(map[string]int{"openai": 2, "anthropic": 1}))
		Expect(stats.CompletionTokens).To(Equal(10))
	})
	It("serves MCP over streamable HTTP", func() {
		req := httptest.NewRequest("POST", "/mcp", strings.NewReader(
			`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2025-06-18","capabilities":{},"clientInfo":{"name":"test","version":"v0"}}}`))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json, text/event-stream")

		resp, err := server.app.Test(req, -1)
		Expect(err).NotTo(HaveOccurred())
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		Expect(err).NotTo(HaveOccurred())

		Expect(resp.StatusCode).To(Equal(200), string(body))
		Expect(string(body)).To(ContainSubstring(`"name":"chatstream"`))
	})
})
