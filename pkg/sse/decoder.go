package sse

import (
	"log/slog"
	"strings"

	"github.com/papercomputeco/chatstream/pkg/llm"
)

// defaultMaxPending bounds a pending frame at the same ceiling the relay's
// scanners use for a single line.
const defaultMaxPending = 1024 * 1024

// Decoder classifies lines and decodes data frames. It keeps exactly one
// piece of lookback state: a data frame whose payload did not parse is held
// as pending, and each following line is tried as its continuation
// (pending + "\n" + line) until the frame parses, is superseded by a new data
// frame, outgrows the pending limit, or the stream ends.
//
// Events are produced strictly in source line order. After the terminator
// the Decoder is done and ignores everything else.
type Decoder struct {
	extract    llm.DeltaExtractor
	maxPending int
	logger     *slog.Logger

	pending    strings.Builder
	hasPending bool

	done    bool
	dropped int
}

// DecoderOption configures a Decoder.
type DecoderOption func(*Decoder)

// WithExtractor sets the payload accessor. Defaults to llm.ExtractOpenAIDelta.
func WithExtractor(ex llm.DeltaExtractor) DecoderOption {
	return func(d *Decoder) {
		if ex != nil {
			d.extract = ex
		}
	}
}

// WithMaxPending bounds the size in bytes of a pending frame.
func WithMaxPending(n int) DecoderOption {
	return func(d *Decoder) {
		if n > 0 {
			d.maxPending = n
		}
	}
}

// WithLogger sets the logger used for dropped frames.
func WithLogger(l *slog.Logger) DecoderOption {
	return func(d *Decoder) {
		if l != nil {
			d.logger = l
		}
	}
}

// NewDecoder returns a Decoder ready for the first line of a stream.
func NewDecoder(opts ...DecoderOption) *Decoder {
	d := &Decoder{
		extract:    llm.ExtractOpenAIDelta,
		maxPending: defaultMaxPending,
		logger:     slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Decode consumes one line and reports the Event it completes, if any.
func (d *Decoder) Decode(line string) (Event, bool) {
	if d.done {
		return Event{}, false
	}
	if d.hasPending {
		return d.continuePending(line)
	}
	return d.decodeLine(line)
}

// Done reports whether the terminator has been decoded.
func (d *Decoder) Done() bool {
	return d.done
}

// Pending reports whether an unparsed data frame is being held.
func (d *Decoder) Pending() bool {
	return d.hasPending
}

// Dropped returns how many pending frames were abandoned.
func (d *Decoder) Dropped() int {
	return d.dropped
}

// Close ends decoding. It returns ErrIncompleteFrame if a frame was still
// pending; that frame is discarded.
func (d *Decoder) Close() error {
	if !d.hasPending {
		return nil
	}
	d.drop("stream ended")
	return ErrIncompleteFrame
}

func (d *Decoder) decodeLine(line string) (Event, bool) {
	payload, ok := dataPayload(line)
	if !ok || payload == "" {
		return Event{}, false
	}

	if payload == DoneSentinel {
		d.done = true
		return Event{Kind: KindEnd}, true
	}

	delta, err := d.extract([]byte(payload))
	if err != nil {
		d.hold(payload)
		return Event{}, false
	}
	return d.emit(delta), true
}

func (d *Decoder) continuePending(line string) (Event, bool) {
	if isBlank(line) || isComment(line) || isOtherField(line) {
		return Event{}, false
	}

	candidate := d.pending.String() + "\n" + line
	if delta, err := d.extract([]byte(candidate)); err == nil {
		d.reset()
		return d.emit(delta), true
	}

	if _, ok := dataPayload(line); ok {
		d.drop("superseded by a new data frame")
		return d.decodeLine(line)
	}

	if len(candidate) > d.maxPending {
		d.drop("pending frame exceeds limit")
		return Event{}, false
	}

	d.pending.WriteString("\n")
	d.pending.WriteString(line)
	return Event{}, false
}

func (d *Decoder) emit(delta llm.Delta) Event {
	if delta.Final {
		d.done = true
		return Event{Kind: KindEnd, Delta: delta}
	}
	return Event{Kind: KindDelta, Delta: delta}
}

func (d *Decoder) hold(payload string) {
	if len(payload) > d.maxPending {
		d.dropped++
		d.logger.Debug("dropping oversized data frame", "bytes", len(payload))
		return
	}
	d.pending.WriteString(payload)
	d.hasPending = true
}

func (d *Decoder) drop(reason string) {
	d.logger.Debug("dropping incomplete data frame",
		"reason", reason,
		"bytes", d.pending.Len(),
	)
	d.dropped++
	d.reset()
}

func (d *Decoder) reset() {
	d.pending.Reset()
	d.hasPending = false
}

// dataPayload returns the trimmed payload of a data frame line.
func dataPayload(line string) (string, bool) {
	rest, ok := strings.CutPrefix(line, DataPrefix)
	if !ok {
		return "", false
	}
	return strings.TrimSpace(rest), true
}

func isBlank(line string) bool {
	return strings.TrimSpace(line) == ""
}

func isComment(line string) bool {
	return strings.HasPrefix(line, CommentPrefix)
}

// isOtherField reports whether line is a non-data SSE field such as
// "event: ping" or "id: 7".
func isOtherField(line string) bool {
	name, _, ok := strings.Cut(line, ":")
	if !ok || name == "" || name == "data" {
		return false
	}
	for i := 0; i < len(name); i++ {
		if name[i] < 'a' || name[i] > 'z' {
			return false
		}
	}
	return true
}
