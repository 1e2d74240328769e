// Package chatstream consumes incremental chat responses. It composes the
// sse.LineReader, the sse.Decoder and an Accumulator on the calling
// goroutine, and reports progress through a single SnapshotFunc: every
// outcome, including transport failures, reaches the caller as a snapshot
// rather than as a panic or an escaped error.
package chatstream

import (
	"context"
	"errors"
	"io"

	"github.com/papercomputeco/chatstream/pkg/sse"
)

// Consume reads an open response body to completion and returns the final
// message. onSnapshot is invoked synchronously between reads, so it always
// observes a fully updated message.
//
// The stream ends Completed on the terminator, Completed with
// ErrNoTerminator when the body closes first, and Failed on a read error or
// when the body closes with an incomplete frame pending.
//
// If ctx is canceled, Consume closes body (when it is an io.Closer), stops
// reading and returns a Failed message carrying ctx.Err() without calling
// onSnapshot again.
func Consume(ctx context.Context, body io.Reader, onSnapshot SnapshotFunc, opts ...Option) Message {
	o := newOptions(opts)
	log := o.logger.With("message_id", o.messageID)
	acc := NewAccumulator(o.messageID, onSnapshot)

	if c, ok := body.(io.Closer); ok {
		stop := context.AfterFunc(ctx, func() {
			_ = c.Close()
		})
		defer stop()
	}

	readerOpts := []sse.ReaderOption{sse.WithChunkSize(o.chunkSize)}
	if o.tee != nil {
		readerOpts = append(readerOpts, sse.WithTee(o.tee))
	}
	lines := sse.NewLineReader(body, readerOpts...)
	dec := sse.NewDecoder(
		sse.WithExtractor(o.extractor),
		sse.WithMaxPending(o.maxPending),
		sse.WithLogger(log),
	)

	if o.placeholder {
		acc.Placeholder()
	}

	for {
		if err := ctx.Err(); err != nil {
			acc.Cancel(err)
			break
		}

		line, err := lines.Next()
		if err != nil {
			switch {
			case ctx.Err() != nil:
				acc.Cancel(ctx.Err())
			case errors.Is(err, io.EOF):
				if derr := dec.Close(); derr != nil {
					acc.Fail(derr)
				} else {
					acc.Complete(ErrNoTerminator)
				}
			default:
				_ = dec.Close()
				acc.Fail(&ReadError{Err: err})
			}
			break
		}

		ev, ok := dec.Decode(line)
		if !ok {
			continue
		}
		acc.Apply(ev)
		if acc.State().Terminal() {
			break
		}
	}

	msg := acc.Message()
	log.Debug("stream finished",
		"state", msg.State.String(),
		"bytes", lines.BytesRead(),
		"lines", lines.LinesEmitted(),
		"dropped_frames", dec.Dropped(),
		"text_len", len(msg.Text),
		"error", msg.Err,
	)
	return msg
}
