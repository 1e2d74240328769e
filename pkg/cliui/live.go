package cliui

import (
	"fmt"
	"io"
	"strings"

	"github.com/papercomputeco/chatstream/pkg/chatstream"
)

// LivePrinter writes a growing message to a terminal as snapshots arrive,
// printing only the text that was not printed yet.
type LivePrinter struct {
	w       io.Writer
	printed int
	err     error
}

// NewLivePrinter returns a LivePrinter writing to w.
func NewLivePrinter(w io.Writer) *LivePrinter {
	return &LivePrinter{w: w}
}

// Print is a chatstream.SnapshotFunc.
func (p *LivePrinter) Print(s chatstream.Snapshot) {
	if p.err != nil {
		return
	}
	if len(s.Text) > p.printed {
		_, p.err = io.WriteString(p.w, s.Text[p.printed:])
		p.printed = len(s.Text)
	}
	if s.Done {
		p.finish(s)
	}
}

// Printed returns how many bytes of message text were written.
func (p *LivePrinter) Printed() int {
	return p.printed
}

// Err returns the first write error.
func (p *LivePrinter) Err() error {
	return p.err
}

func (p *LivePrinter) finish(s chatstream.Snapshot) {
	if p.printed > 0 && !strings.HasSuffix(s.Text, "\n") {
		_, p.err = io.WriteString(p.w, "\n")
	}
	if note := SnapshotNote(s); note != "" {
		_, p.err = fmt.Fprintf(p.w, "  %s\n", note)
	}
}

// SnapshotNote describes how a terminal snapshot ended, or returns "" for a
// clean finish.
func SnapshotNote(s chatstream.Snapshot) string {
	switch {
	case !s.Done || s.Err == nil:
		return ""
	case s.Err == chatstream.ErrNoTerminator:
		return WarnStyle.Render("(stream closed before completion)")
	default:
		return FailMark + " " + s.Err.Error()
	}
}
