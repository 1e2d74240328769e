// Package sse turns a streamed chat response body into events. It has two
// layers that compose linearly:
//
//	transport bytes ──▶ LineReader ──▶ lines ──▶ Decoder ──▶ Events
//
// LineReader reassembles newline-terminated lines across arbitrary chunk
// boundaries, and Decoder classifies each line and decodes data frames into
// llm.Delta values through an injected llm.DeltaExtractor.
//
// This package intentionally does NOT provide SSE writer or server
// capabilities; the relay forwards upstream bytes verbatim instead.
//
// See the SSE specification:
// https://html.spec.whatwg.org/multipage/server-sent-events.html
package sse

import (
	"errors"

	"github.com/papercomputeco/chatstream/pkg/llm"
)

const (
	// DataPrefix starts a data frame. A single space after the colon is
	// optional, per the SSE spec.
	DataPrefix = "data:"

	// CommentPrefix starts a comment (keep-alive) line.
	CommentPrefix = ":"

	// DoneSentinel is the reserved payload that terminates a stream.
	DoneSentinel = "[DONE]"
)

// ErrIncompleteFrame is returned by Decoder.Close when the stream ended while
// a data frame that never parsed was still pending. The fragment is lost.
var ErrIncompleteFrame = errors.New("stream ended with an incomplete data frame")

// Kind classifies a decoded Event.
type Kind int

const (
	// KindDelta carries an incremental fragment, possibly empty.
	KindDelta Kind = iota + 1

	// KindEnd signals the end of the stream: the [DONE] terminator, or a
	// payload the extractor marked Final.
	KindEnd
)

func (k Kind) String() string {
	switch k {
	case KindDelta:
		return "delta"
	case KindEnd:
		return "end"
	default:
		return "unknown"
	}
}

// Event is one decoded data frame. Events are immutable once produced and
// have no identity beyond their position in the stream.
type Event struct {
	Kind Kind

	// Delta is set for KindDelta, and for KindEnd when the final payload
	// carried data (e.g. usage).
	Delta llm.Delta
}
