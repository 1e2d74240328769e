// Package header filters headers across the two legs of the relay:
//
//	Client <--> Relay <--> Upstream chat provider
//
// Each leg negotiates connection handling and content encoding on its own,
// so hop-by-hop and encoding headers never cross the relay.
package header

import (
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"
)

// MessageIDHeader carries the ID the relay assigned to a streamed message.
// It is set on relay responses and never accepted from clients.
const MessageIDHeader = "X-Chatstream-Message-Id"

// Handler copies headers between relay connections.
type Handler struct{}

// NewHandler creates a new header Handler.
func NewHandler() *Handler {
	return &Handler{}
}

// skipRequest lists client request headers not forwarded upstream.
var skipRequest = map[string]struct{}{
	"Connection": {},

	// http.Transport sets Host from the upstream URL.
	"Host": {},

	// http.Transport negotiates gzip itself and decompresses transparently.
	"Accept-Encoding": {},

	MessageIDHeader: {},
}

// skipResponse lists upstream response headers not copied to the client.
var skipResponse = map[string]struct{}{
	"Connection": {},

	// fasthttp chunks the client-facing stream on its own.
	"Transfer-Encoding": {},

	// The relay always holds a decompressed body; the compress middleware
	// sets its own encoding and length.
	"Content-Encoding": {},
	"Content-Length":   {},
}

// SetUpstreamRequestHeaders copies request headers from c to req, dropping
// the ones that belong to the client leg only.
func (h *Handler) SetUpstreamRequestHeaders(c *fiber.Ctx, req *http.Request) {
	c.Request().Header.VisitAll(func(key, value []byte) {
		k := string(key)
		if _, skip := skipRequest[k]; !skip {
			req.Header.Set(k, string(value))
		}
	})
}

// SetClientResponseHeaders copies upstream response headers to c, joining
// multi-value headers with ", ".
func (h *Handler) SetClientResponseHeaders(c *fiber.Ctx, resp *http.Response) {
	for k, v := range resp.Header {
		if _, skip := skipResponse[k]; !skip {
			c.Set(k, strings.Join(v, ", "))
		}
	}
}
