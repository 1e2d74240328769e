package header

import (
	"net/http"
	"net/http/httptest"

	"github.com/gofiber/fiber/v2"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("SetUpstreamRequestHeaders", func() {
	var (
		app *fiber.App
		hh  *Handler
		got http.Header
	)

	BeforeEach(func() {
		app = fiber.New()
		hh = NewHandler()
		got = nil

		app.Post("/v1/chat/completions", func(c *fiber.Ctx) error {
			req, _ := http.NewRequest(http.MethodPost, "http://upstream/v1/chat/completions", nil)
			hh.SetUpstreamRequestHeaders(c, req)
			got = req.Header
			return c.SendStatus(fiber.StatusOK)
		})
	})

	AfterEach(func() {
		_ = app.Shutdown()
	})

	send := func(headers map[string]string) {
		req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", nil)
		for k, v := range headers {
			req.Header.Set(k, v)
		}
		resp, err := app.Test(req)
		Expect(err).NotTo(HaveOccurred())
		resp.Body.Close()
	}

	It("forwards credentials and content headers", func() {
		send(map[string]string{
			"Authorization":     "Bearer sk-test",
			"Content-Type":      "application/json",
			"Accept":            "text/event-stream",
			"X-Api-Key":         "secret",
			"Anthropic-Version": "2023-06-01",
		})

		Expect(got.Get("Authorization")).To(Equal("Bearer sk-test"))
		Expect(got.Get("Content-Type")).To(Equal("application/json"))
		Expect(got.Get("Accept")).To(Equal("text/event-stream"))
		Expect(got.Get("X-Api-Key")).To(Equal("secret"))
		Expect(got.Get("Anthropic-Version")).To(Equal("2023-06-01"))
	})

	DescribeTable("drops client-leg headers",
		func(name, value string) {
			send(map[string]string{name: value, "Authorization": "Bearer sk-test"})
			Expect(got.Get(name)).To(BeEmpty())
			Expect(got.Get("Authorization")).To(Equal("Bearer sk-test"))
		},
		Entry("Connection", "Connection", "keep-alive"),
		Entry("Host", "Host", "client.example.com"),
		Entry("Accept-Encoding", "Accept-Encoding", "gzip, deflate, br"),
		Entry("a spoofed message id", MessageIDHeader, "not-yours"),
	)
})

var _ = Describe("SetClientResponseHeaders", func() {
	var (
		app      *fiber.App
		hh       *Handler
		upstream http.Header
	)

	BeforeEach(func() {
		app = fiber.New()
		hh = NewHandler()

		app.Get("/", func(c *fiber.Ctx) error {
			hh.SetClientResponseHeaders(c, &http.Response{Header: upstream})
			return c.SendStatus(fiber.StatusOK)
		})
	})

	AfterEach(func() {
		_ = app.Shutdown()
	})

	fetch := func() *http.Response {
		resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/", nil))
		Expect(err).NotTo(HaveOccurred())
		resp.Body.Close()
		return resp
	}

	It("forwards provider response headers", func() {
		upstream = http.Header{
			"Content-Type":  {"text/event-stream"},
			"Cache-Control": {"no-cache"},
			"X-Request-Id":  {"req-123"},
		}
		resp := fetch()

		Expect(resp.Header.Get("Content-Type")).To(Equal("text/event-stream"))
		Expect(resp.Header.Get("Cache-Control")).To(Equal("no-cache"))
		Expect(resp.Header.Get("X-Request-Id")).To(Equal("req-123"))
	})

	DescribeTable("drops upstream-leg headers",
		func(name, value string) {
			upstream = http.Header{name: {value}, "X-Request-Id": {"req-123"}}
			resp := fetch()

			Expect(resp.Header.Get(name)).NotTo(Equal(value))
			Expect(resp.Header.Get("X-Request-Id")).To(Equal("req-123"))
		},
		Entry("Connection", "Connection", "upgrade"),
		Entry("Transfer-Encoding", "Transfer-Encoding", "chunked"),
		Entry("Content-Encoding", "Content-Encoding", "gzip"),
		Entry("Content-Length", "Content-Length", "1234"),
	)

	It("joins multi-value headers with commas", func() {
		upstream = http.Header{"X-Ratelimit-Policy": {"10;w=1", "100;w=60"}}
		resp := fetch()

		Expect(resp.Header.Get("X-Ratelimit-Policy")).To(Equal("10;w=1, 100;w=60"))
	})
})
