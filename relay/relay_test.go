package relay

import (
	"context"
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/papercomputeco/chatstream/pkg/chatstream"
	"github.com/papercomputeco/chatstream/pkg/eventstream"
	"github.com/papercomputeco/chatstream/pkg/llm"
	cslogger "github.com/papercomputeco/chatstream/pkg/logger"
	"github.com/papercomputeco/chatstream/pkg/storage"
	"github.com/papercomputeco/chatstream/pkg/storage/inmemory"
	"github.com/papercomputeco/chatstream/relay/header"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []*eventstream.MessageCompletedEvent
}

func (r *recordingPublisher) PublishMessage(_ context.Context, e *eventstream.MessageCompletedEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recordingPublisher) Close() error { return nil }

func sseHandler(contentType string, frames ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", contentType)
		w.Header().Set("Cache-Control", "no-cache")
		flusher := w.(http.Flusher)
		for _, f := range frames {
			fmt.Fprint(w, f)
			flusher.Flush()
		}
	}
}

func chatBody(stream bool) string {
	return fmt.Sprintf(`{"model":"gpt-4o-mini","stream":%t,"messages":[{"role":"user","content":"Say hello"}]}`, stream)
}

var _ = Describe("Relay", func() {
	var (
		r         *Relay
		driver    *inmemory.Driver
		publisher *recordingPublisher
		upstream  *httptest.Server
		provider  string
		handler   http.HandlerFunc
		timeout   time.Duration

		mu       sync.Mutex
		lastReq  *http.Request
		lastBody []byte
	)

	seen := func() (*http.Request, string) {
		mu.Lock()
		defer mu.Unlock()
		return lastReq, string(lastBody)
	}

	BeforeEach(func() {
		provider = llm.ProviderOpenAI
		handler = nil
		timeout = 0
		mu.Lock()
		lastReq = nil
		lastBody = nil
		mu.Unlock()
		upstream = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			b, _ := io.ReadAll(req.Body)
			mu.Lock()
			lastReq = req
			lastBody = b
			mu.Unlock()
			handler(w, req)
		}))
		driver = inmemory.NewDriver()
		publisher = &recordingPublisher{}
	})

	JustBeforeEach(func() {
		var err error
		r, err = New(Config{
			ListenAddr:   ":0",
			UpstreamURL:  upstream.URL,
			ProviderType: provider,
			ChunkSize:       16,
			ShutdownTimeout: timeout,
		}, driver, publisher, cslogger.Nop())
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		if r != nil {
			_ = r.Close()
		}
		upstream.Close()
	})

	do := func(method, path, body string) (*http.Response, string) {
		req := httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer sk-test")
		resp, err := r.server.Test(req, -1)
		Expect(err).NotTo(HaveOccurred())
		defer resp.Body.Close()
		b, err := io.ReadAll(resp.Body)
		Expect(err).NotTo(HaveOccurred())
		return resp, string(b)
	}

	// drain stops the relay so every queued transcript is stored.
	drain := func() {
		Expect(r.Close()).To(Succeed())
		r = nil
	}

	Context("when upstream streams an OpenAI response", func() {
		frames := []string{
			": keep-alive\n\n",
			"data: {\"choices\":[{\"index\":0,\"delta\":{\"role\":\"assistant\",\"content\":\"Hello\"}}]}\n\n",
			"data: {\"choices\":[{\"index\":0,\"delta\":{\"content\":\" world\"}}]}\n\n",
			"data: {\"choices\":[{\"index\":0,\"delta\":{\"content\":\"!\"},\"finish_reason\":\"stop\"}]}\n\n",
			"data: {\"choices\":[],\"usage\":{\"prompt_tokens\":9,\"completion_tokens\":3,\"total_tokens\":12}}\n\n",
			"data: [DONE]\n\n",
		}

		BeforeEach(func() {
			handler = sseHandler("text/event-stream", frames...)
		})

		It("forwards the stream byte for byte", func() {
			resp, body := do(http.MethodPost, "/v1/chat/completions", chatBody(true))

			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(resp.Header.Get("Content-Type")).To(Equal("text/event-stream"))
			Expect(body).To(Equal(strings.Join(frames, "")))
		})

		It("forwards the request unchanged with client credentials", func() {
			do(http.MethodPost, "/v1/chat/completions?trace=1", chatBody(true))

			req, body := seen()
			Expect(req.URL.Path).To(Equal("/v1/chat/completions"))
			Expect(req.URL.RawQuery).To(Equal("trace=1"))
			Expect(req.Header.Get("Authorization")).To(Equal("Bearer sk-test"))
			Expect(body).To(Equal(chatBody(true)))
		})

		It("tags the response with the message id and stores the transcript", func() {
			resp, _ := do(http.MethodPost, "/v1/chat/completions", chatBody(true))
			id := resp.Header.Get(header.MessageIDHeader)
			Expect(id).NotTo(BeEmpty())

			drain()

			t, err := driver.Get(context.Background(), id)
			Expect(err).NotTo(HaveOccurred())
			Expect(t.Text).To(Equal("Hello world!"))
			Expect(t.State).To(Equal(chatstream.StateCompleted.String()))
			Expect(t.Error).To(BeEmpty())
			Expect(t.FinishReason).To(Equal("stop"))
			Expect(t.Usage).To(Equal(&llm.Usage{PromptTokens: 9, CompletionTokens: 3, TotalTokens: 12}))
			Expect(t.Model).To(Equal("gpt-4o-mini"))
			Expect(t.Prompt).To(Equal([]llm.Message{{Role: "user", Content: "Say hello"}}))
			Expect(t.Path).To(Equal("/v1/chat/completions"))
			Expect(t.HTTPStatus).To(Equal(http.StatusOK))
			Expect(t.Provider).To(Equal("openai"))
		})

		It("publishes a completed event", func() {
			resp, _ := do(http.MethodPost, "/v1/chat/completions", chatBody(true))
			drain()

			Expect(publisher.events).To(HaveLen(1))
			ev := publisher.events[0]
			Expect(ev.Message.ID).To(Equal(resp.Header.Get(header.MessageIDHeader)))
			Expect(ev.Source.Upstream).To(Equal(upstream.URL))
			Expect(ev.RequestMeta.HTTPStatus).To(Equal(http.StatusOK))
		})

		It("counts completed streams", func() {
			m := r.metrics
			do(http.MethodPost, "/v1/chat/completions", chatBody(true))
			drain()

			Expect(testutil.ToFloat64(m.streams.WithLabelValues(outcomeCompleted))).To(Equal(1.0))
			Expect(testutil.ToFloat64(m.streams.WithLabelValues(outcomeFailed))).To(Equal(0.0))
			Expect(testutil.ToFloat64(m.requests)).To(Equal(1.0))
			Expect(testutil.ToFloat64(m.streamBytes)).To(Equal(float64(len(strings.Join(frames, "")))))
			Expect(testutil.ToFloat64(m.streamsInFlight)).To(Equal(0.0))
		})
	})

	Context("when upstream streams an Anthropic response", func() {
		BeforeEach(func() {
			provider = llm.ProviderAnthropic
			handler = sseHandler("text/event-stream",
				"event: message_start\ndata: {\"type\":\"message_start\",\"message\":{\"id\":\"msg_1\",\"usage\":{\"input_tokens\":7}}}\n\n",
				"event: content_block_delta\ndata: {\"type\":\"content_block_delta\",\"delta\":{\"type\":\"text_delta\",\"text\":\"Hi there\"}}\n\n",
				"event: message_delta\ndata: {\"type\":\"message_delta\",\"delta\":{\"stop_reason\":\"end_turn\"},\"usage\":{\"output_tokens\":2}}\n\n",
				"event: message_stop\ndata: {\"type\":\"message_stop\"}\n\n",
			)
		})

		It("preserves event lines and decodes the text", func() {
			resp, body := do(http.MethodPost, "/v1/messages",
				`{"model":"claude-sonnet-4-5","stream":true,"max_tokens":64,"system":"be brief","messages":[{"role":"user","content":[{"type":"text","text":"Hi"}]}]}`)
			Expect(body).To(ContainSubstring("event: message_start\n"))
			Expect(body).To(ContainSubstring("event: message_stop\n"))
			id := resp.Header.Get(header.MessageIDHeader)

			drain()

			t, err := driver.Get(context.Background(), id)
			Expect(err).NotTo(HaveOccurred())
			Expect(t.Text).To(Equal("Hi there"))
			Expect(t.State).To(Equal("completed"))
			Expect(t.Provider).To(Equal("anthropic"))
			Expect(t.Prompt).To(Equal([]llm.Message{
				{Role: "system", Content: "be brief"},
				{Role: "user", Content: "Hi"},
			}))
		})
	})

	Context("when upstream closes without a terminator", func() {
		BeforeEach(func() {
			handler = sseHandler("text/event-stream",
				"data: {\"choices\":[{\"delta\":{\"content\":\"partial\"}}]}\n\n",
			)
		})

		It("stores the text with the missing terminator noted", func() {
			resp, _ := do(http.MethodPost, "/v1/chat/completions", chatBody(true))
			id := resp.Header.Get(header.MessageIDHeader)
			drain()

			t, err := driver.Get(context.Background(), id)
			Expect(err).NotTo(HaveOccurred())
			Expect(t.Text).To(Equal("partial"))
			Expect(t.State).To(Equal("completed"))
			Expect(t.Error).To(Equal(chatstream.ErrNoTerminator.Error()))
		})
	})

	Context("when upstream rejects the stream", func() {
		BeforeEach(func() {
			handler = func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("Retry-After", "20")
				w.WriteHeader(http.StatusTooManyRequests)
				fmt.Fprint(w, `{"error":{"message":"slow down"}}`)
			}
		})

		It("passes the status and body through and stores nothing", func() {
			m := r.metrics
			resp, body := do(http.MethodPost, "/v1/chat/completions", chatBody(true))

			Expect(resp.StatusCode).To(Equal(http.StatusTooManyRequests))
			Expect(resp.Header.Get("Retry-After")).To(Equal("20"))
			Expect(resp.Header.Get(header.MessageIDHeader)).To(BeEmpty())
			Expect(body).To(Equal(`{"error":{"message":"slow down"}}`))

			drain()
			Expect(driver.Len()).To(Equal(0))
			Expect(testutil.ToFloat64(m.upstreamErrors.WithLabelValues(upstreamStatus))).To(Equal(1.0))
		})
	})

	Context("when the request does not stream", func() {
		BeforeEach(func() {
			handler = func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				fmt.Fprint(w, `{"choices":[{"message":{"role":"assistant","content":"hi"}}]}`)
			}
		})

		It("passes the response through without storing it", func() {
			resp, body := do(http.MethodPost, "/v1/chat/completions", chatBody(false))

			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(body).To(ContainSubstring(`"content":"hi"`))
			Expect(resp.Header.Get(header.MessageIDHeader)).To(BeEmpty())

			drain()
			Expect(driver.Len()).To(Equal(0))
		})

		It("passes GET requests through", func() {
			resp, _ := do(http.MethodGet, "/v1/models", "")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			req, _ := seen()
			Expect(req.Method).To(Equal(http.MethodGet))
			Expect(req.URL.Path).To(Equal("/v1/models"))
		})
	})

	Context("when upstream never finishes the stream", func() {
		BeforeEach(func() {
			timeout = 50 * time.Millisecond
			handler = func(w http.ResponseWriter, req *http.Request) {
				w.Header().Set("Content-Type", "text/event-stream")
				fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"A\"}}]}\n\n")
				w.(http.Flusher).Flush()
				<-req.Context().Done()
			}
		})

		It("cancels the stream on Close and stores it as failed", func() {
			ln, err := net.Listen("tcp", "127.0.0.1:0")
			Expect(err).NotTo(HaveOccurred())
			go func() { _ = r.RunWithListener(ln) }()

			resp, err := http.Post("http://"+ln.Addr().String()+"/v1/chat/completions", "application/json", strings.NewReader(chatBody(true)))
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			id := resp.Header.Get(header.MessageIDHeader)

			line, err := bufio.NewReader(resp.Body).ReadString('\n')
			Expect(err).NotTo(HaveOccurred())
			Expect(line).To(ContainSubstring(`"content":"A"`))

			closed := make(chan error, 1)
			go func() { closed <- r.Close() }()
			Eventually(closed, 3*time.Second).Should(Receive(BeNil()))
			r = nil

			t, err := driver.Get(context.Background(), id)
			Expect(err).NotTo(HaveOccurred())
			Expect(t.Text).To(Equal("A"))
			Expect(t.State).To(Equal(chatstream.StateFailed.String()))
		})
	})

	Context("when upstream is unreachable", func() {
		BeforeEach(func() {
			handler = sseHandler("text/event-stream")
			upstream.Close()
		})

		It("returns 502", func() {
			resp, body := do(http.MethodPost, "/v1/chat/completions", chatBody(true))
			Expect(resp.StatusCode).To(Equal(http.StatusBadGateway))

			var errResp llm.ErrorResponse
			Expect(json.Unmarshal([]byte(body), &errResp)).To(Succeed())
			Expect(errResp.Error).To(Equal("upstream request failed"))
		})
	})

	Describe("operational routes", func() {
		BeforeEach(func() {
			handler = sseHandler("text/event-stream")
		})

		It("serves /healthz", func() {
			resp, body := do(http.MethodGet, "/healthz", "")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(body).To(Equal("ok"))
			req, _ := seen()
			Expect(req).To(BeNil())
		})

		It("serves relay counters on /metrics", func() {
			do(http.MethodGet, "/healthz", "")

			resp, body := do(http.MethodGet, "/metrics", "")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(body).To(ContainSubstring("# TYPE chatstream_relay_requests_total counter"))
			Expect(body).To(ContainSubstring("chatstream_relay_streams_in_flight 0"))
		})
	})
})

var _ = Describe("New", func() {
	It("requires an upstream", func() {
		_, err := New(Config{ProviderType: "openai"}, inmemory.NewDriver(), nil, nil)
		Expect(err).To(MatchError(ContainSubstring("upstream URL is required")))
	})

	It("requires a provider", func() {
		_, err := New(Config{UpstreamURL: "http://localhost"}, inmemory.NewDriver(), nil, nil)
		Expect(err).To(MatchError(ContainSubstring("provider type is required")))
	})

	It("rejects unknown providers", func() {
		_, err := New(Config{UpstreamURL: "http://localhost", ProviderType: "ollama"}, inmemory.NewDriver(), nil, nil)
		Expect(err).To(HaveOccurred())
	})

	It("requires a storage driver", func() {
		var driver storage.Driver
		_, err := New(Config{UpstreamURL: "http://localhost", ProviderType: "openai"}, driver, nil, nil)
		Expect(err).To(MatchError(ContainSubstring("storage driver is required")))
	})
})
