package chatstream

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/papercomputeco/chatstream/pkg/sse"
)

var (
	// ErrNoTerminator marks a stream whose transport closed before the
	// terminator frame. The message is complete as far as the client can
	// tell, but the upstream never confirmed it.
	ErrNoTerminator = errors.New("stream closed without terminator")

	// ErrIncompleteFrame marks a stream that ended while a data frame that
	// never parsed was pending. Its fragment is lost.
	ErrIncompleteFrame = sse.ErrIncompleteFrame
)

// StartErrorKind classifies why a stream could not be opened.
type StartErrorKind int

const (
	// StartGeneric covers non-2xx statuses other than 402/429, a missing
	// body, and connection failures.
	StartGeneric StartErrorKind = iota
	// StartRateLimited is HTTP 429.
	StartRateLimited
	// StartPaymentRequired is HTTP 402.
	StartPaymentRequired
)

func (k StartErrorKind) String() string {
	switch k {
	case StartRateLimited:
		return "rate_limited"
	case StartPaymentRequired:
		return "payment_required"
	default:
		return "generic"
	}
}

// StartError is returned when the request did not yield a usable stream. No
// message exists and no snapshot was published.
type StartError struct {
	Kind StartErrorKind

	// StatusCode is zero when the request never got a response.
	StatusCode int

	// Body is the start of the upstream error body, if any.
	Body string

	Err error
}

func (e *StartError) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("stream start failed (%s): %v", e.Kind, e.Err)
	case e.StatusCode != 0:
		return fmt.Sprintf("stream start failed (%s): upstream returned status %d", e.Kind, e.StatusCode)
	default:
		return fmt.Sprintf("stream start failed (%s)", e.Kind)
	}
}

func (e *StartError) Unwrap() error {
	return e.Err
}

// UserMessage is the text a UI should show for this failure.
func (e *StartError) UserMessage() string {
	switch e.Kind {
	case StartRateLimited:
		return "Rate limit exceeded, please try again later."
	case StartPaymentRequired:
		return "Payment required, please add credits to your workspace."
	default:
		return "The assistant is unavailable right now."
	}
}

// ReadError wraps a transport failure on an already-open stream.
type ReadError struct {
	Err error
}

func (e *ReadError) Error() string {
	return "stream read failed: " + e.Err.Error()
}

func (e *ReadError) Unwrap() error {
	return e.Err
}

// IsRateLimited reports whether err is a StartError for HTTP 429.
func IsRateLimited(err error) bool {
	return startKind(err) == StartRateLimited
}

// IsPaymentRequired reports whether err is a StartError for HTTP 402.
func IsPaymentRequired(err error) bool {
	return startKind(err) == StartPaymentRequired
}

func startKind(err error) StartErrorKind {
	var se *StartError
	if errors.As(err, &se) {
		return se.Kind
	}
	return -1
}

func kindForStatus(status int) StartErrorKind {
	switch status {
	case http.StatusTooManyRequests:
		return StartRateLimited
	case http.StatusPaymentRequired:
		return StartPaymentRequired
	default:
		return StartGeneric
	}
}
