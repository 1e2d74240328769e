package chatstream

import (
	"io"
	"log/slog"

	"github.com/google/uuid"

	"github.com/papercomputeco/chatstream/pkg/llm"
	"github.com/papercomputeco/chatstream/pkg/logger"
)

type options struct {
	logger      *slog.Logger
	extractor   llm.DeltaExtractor
	chunkSize   int
	maxPending  int
	tee         io.Writer
	placeholder bool
	messageID   string
}

// Option configures how a stream is consumed.
type Option func(*options)

// WithLogger sets the logger. Defaults to logger.Nop().
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithExtractor sets the payload accessor. Defaults to the OpenAI schema.
func WithExtractor(ex llm.DeltaExtractor) Option {
	return func(o *options) {
		o.extractor = ex
	}
}

// WithChunkSize sets the transport read size.
func WithChunkSize(n int) Option {
	return func(o *options) {
		o.chunkSize = n
	}
}

// WithMaxPending bounds a pending malformed frame in bytes.
func WithMaxPending(n int) Option {
	return func(o *options) {
		o.maxPending = n
	}
}

// WithTee copies the raw response bytes to w as they are read.
func WithTee(w io.Writer) Option {
	return func(o *options) {
		o.tee = w
	}
}

// WithPlaceholder publishes an empty snapshot as soon as the stream opens.
func WithPlaceholder(enabled bool) Option {
	return func(o *options) {
		o.placeholder = enabled
	}
}

// WithMessageID overrides the generated message ID.
func WithMessageID(id string) Option {
	return func(o *options) {
		o.messageID = id
	}
}

func newOptions(opts []Option) *options {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = logger.Nop()
	}
	if o.extractor == nil {
		o.extractor = llm.ExtractOpenAIDelta
	}
	if o.messageID == "" {
		o.messageID = uuid.NewString()
	}
	return o
}
