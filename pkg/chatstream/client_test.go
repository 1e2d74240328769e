package chatstream_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/chatstream/pkg/chatstream"
	"github.com/papercomputeco/chatstream/pkg/llm"
)

var _ = Describe("Client", func() {
	var (
		server  *httptest.Server
		handler http.HandlerFunc
		client  *chatstream.Client
		rec     *recorder
		req     *llm.ChatRequest
	)

	BeforeEach(func() {
		rec = &recorder{}
		req = &llm.ChatRequest{
			Model:    "gpt-4o-mini",
			Messages: []llm.Message{llm.NewTextMessage(llm.RoleUser, "hello")},
		}
		handler = func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "text/event-stream")
			_, _ = io.WriteString(w, frame("Hi")+frame(" there")+done)
		}
		server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			handler(w, r)
		}))

		var err error
		client, err = chatstream.NewClient(chatstream.ClientConfig{
			Endpoint: server.URL,
			APIKey:   "sk-test",
			Headers:  map[string]string{"X-Workspace": "ws-1"},
		})
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		server.Close()
	})

	It("streams a successful response", func() {
		msg, err := client.Stream(context.Background(), req, rec.record)

		Expect(err).NotTo(HaveOccurred())
		Expect(msg.Text).To(Equal("Hi there"))
		Expect(msg.State).To(Equal(chatstream.StateCompleted))
		Expect(rec.texts()).To(Equal([]string{"Hi", "Hi there", "Hi there"}))
	})

	It("sends a streaming request with auth and custom headers", func() {
		var (
			gotHeader http.Header
			gotBody   llm.ChatRequest
		)
		handler = func(w http.ResponseWriter, r *http.Request) {
			gotHeader = r.Header.Clone()
			_ = json.NewDecoder(r.Body).Decode(&gotBody)
			_, _ = io.WriteString(w, done)
		}

		_, err := client.Stream(context.Background(), req, rec.record)
		Expect(err).NotTo(HaveOccurred())

		Expect(gotHeader.Get("Authorization")).To(Equal("Bearer sk-test"))
		Expect(gotHeader.Get("Accept")).To(Equal("text/event-stream"))
		Expect(gotHeader.Get("Content-Type")).To(Equal("application/json"))
		Expect(gotHeader.Get("X-Workspace")).To(Equal("ws-1"))
		Expect(gotBody.Stream).To(BeTrue())
		Expect(gotBody.Model).To(Equal("gpt-4o-mini"))
		Expect(gotBody.Messages).To(HaveLen(1))

		Expect(req.Stream).To(BeFalse(), "caller's request is not mutated")
	})

	DescribeTable("classifies start failures without calling back",
		func(status int, body string, kind chatstream.StartErrorKind) {
			handler = func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(status)
				_, _ = io.WriteString(w, body)
			}

			msg, err := client.Stream(context.Background(), req, rec.record)

			Expect(rec.snaps).To(BeEmpty())
			Expect(msg).To(Equal(chatstream.Message{}))

			var startErr *chatstream.StartError
			Expect(errors.As(err, &startErr)).To(BeTrue())
			Expect(startErr.Kind).To(Equal(kind))
			Expect(startErr.StatusCode).To(Equal(status))
			Expect(startErr.Body).To(Equal(body))
		},
		Entry("rate limit", http.StatusTooManyRequests, `{"error":"slow down"}`, chatstream.StartRateLimited),
		Entry("payment required", http.StatusPaymentRequired, `{"error":"no credits"}`, chatstream.StartPaymentRequired),
		Entry("server error", http.StatusInternalServerError, "boom", chatstream.StartGeneric),
		Entry("unauthorized", http.StatusUnauthorized, "", chatstream.StartGeneric),
	)

	It("reports a rate limit through the helpers", func() {
		handler = func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusTooManyRequests)
		}

		_, err := client.Stream(context.Background(), req, rec.record)

		Expect(chatstream.IsRateLimited(err)).To(BeTrue())
		Expect(chatstream.IsPaymentRequired(err)).To(BeFalse())
		var startErr *chatstream.StartError
		Expect(errors.As(err, &startErr)).To(BeTrue())
		Expect(startErr.UserMessage()).To(ContainSubstring("try again later"))
	})

	It("treats a 2xx response without a body as a start failure", func() {
		handler = func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
		}

		_, err := client.Stream(context.Background(), req, rec.record)

		var startErr *chatstream.StartError
		Expect(errors.As(err, &startErr)).To(BeTrue())
		Expect(startErr.Kind).To(Equal(chatstream.StartGeneric))
		Expect(startErr.Error()).To(ContainSubstring("no body"))
		Expect(rec.snaps).To(BeEmpty())
	})

	It("treats a connection failure as a generic start failure", func() {
		server.Close()

		_, err := client.Stream(context.Background(), req, rec.record)

		var startErr *chatstream.StartError
		Expect(errors.As(err, &startErr)).To(BeTrue())
		Expect(startErr.Kind).To(Equal(chatstream.StartGeneric))
		Expect(startErr.StatusCode).To(BeZero())
		Expect(rec.snaps).To(BeEmpty())
	})

	It("rejects a nil request", func() {
		_, err := client.Stream(context.Background(), nil, rec.record)
		Expect(err).To(HaveOccurred())
		Expect(rec.snaps).To(BeEmpty())
	})

	It("applies per-call stream options", func() {
		msg, err := client.Stream(context.Background(), req, rec.record,
			chatstream.WithPlaceholder(true),
			chatstream.WithMessageID("m-1"),
		)

		Expect(err).NotTo(HaveOccurred())
		Expect(msg.ID).To(Equal("m-1"))
		Expect(rec.snaps[0]).To(Equal(chatstream.Snapshot{}))
	})

	It("decodes the anthropic schema when configured", func() {
		handler = func(w http.ResponseWriter, _ *http.Request) {
			_, _ = io.WriteString(w,
				`data: {"type":"content_block_delta","delta":{"type":"text_delta","text":"Bonjour"}}`+"\n\n"+
					`data: {"type":"message_stop"}`+"\n\n")
		}
		anthropic, err := chatstream.NewClient(chatstream.ClientConfig{
			Endpoint: server.URL,
			Provider: llm.ProviderAnthropic,
		})
		Expect(err).NotTo(HaveOccurred())

		msg, err := anthropic.Stream(context.Background(), req, rec.record)

		Expect(err).NotTo(HaveOccurred())
		Expect(msg.Text).To(Equal("Bonjour"))
		Expect(msg.Err).NotTo(HaveOccurred())
	})

	Describe("NewClient", func() {
		It("requires an endpoint", func() {
			_, err := chatstream.NewClient(chatstream.ClientConfig{})
			Expect(err).To(MatchError(ContainSubstring("endpoint")))
		})

		It("rejects an unknown provider", func() {
			_, err := chatstream.NewClient(chatstream.ClientConfig{Endpoint: "http://localhost", Provider: "mystery"})
			Expect(err).To(MatchError(ContainSubstring("unknown provider")))
		})
	})
})
