// Package replaycmder provides the replay command, which decodes a recorded
// response stream and prints every snapshot it produces.
package replaycmder

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/chatstream/pkg/chatstream"
	"github.com/papercomputeco/chatstream/pkg/cliui"
	"github.com/papercomputeco/chatstream/pkg/config"
	"github.com/papercomputeco/chatstream/pkg/llm"
	"github.com/papercomputeco/chatstream/pkg/logger"
)

type replayCommander struct {
	path       string
	provider   string
	chunkSize  uint
	maxPending uint
	textOnly   bool
	debug      bool

	out    io.Writer
	errOut io.Writer
}

const replayLongDesc string = `Decode a recorded response stream.

Feeds the file through the same reader, decoder and accumulator the chat
client uses, reading it in chunks of --chunk-size bytes, and prints every
snapshot published along the way. Small chunk sizes exercise frame and
UTF-8 reassembly across reads.

Recordings are written by "chatstream chat --record"; any raw SSE body
works. Use "-" to read standard input.

Examples:
  chatstream replay .chatstream/recordings/0b6f....sse
  chatstream replay --chunk-size 1 stream.sse
  curl -sN ... | chatstream replay --provider anthropic -`

const replayShortDesc string = "Decode a recorded stream and print every snapshot"

func NewReplayCmd() *cobra.Command {
	cmder := &replayCommander{}

	cmd := &cobra.Command{
		Use:   "replay <file>",
		Short: replayShortDesc,
		Long:  replayLongDesc,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var err error
			cmder.debug, err = cmd.Flags().GetBool("debug")
			if err != nil {
				return fmt.Errorf("could not get debug flag: %w", err)
			}
			cmder.path = args[0]
			cmder.out = cmd.OutOrStdout()
			cmder.errOut = cmd.ErrOrStderr()
			return cmder.run(cmd)
		},
	}

	config.AddStringFlag(cmd, config.Flags, config.FlagProvider, &cmder.provider)
	config.AddUintFlag(cmd, config.Flags, config.FlagChunkSize, &cmder.chunkSize)
	config.AddUintFlag(cmd, config.Flags, config.FlagMaxPending, &cmder.maxPending)
	cmd.Flags().BoolVar(&cmder.textOnly, "text", false, "Print only the final message text")

	return cmd
}

func (c *replayCommander) run(cmd *cobra.Command) error {
	extractor, err := llm.ExtractorFor(c.provider)
	if err != nil {
		return err
	}

	src, err := c.open(cmd.InOrStdin())
	if err != nil {
		return err
	}
	defer src.Close()

	log := logger.New(
		logger.WithDebug(c.debug),
		logger.WithPretty(true),
		logger.WithWriter(c.errOut),
	)

	opts := []chatstream.Option{
		chatstream.WithExtractor(extractor),
		chatstream.WithLogger(log),
	}
	if c.chunkSize > 0 {
		opts = append(opts, chatstream.WithChunkSize(int(c.chunkSize)))
	}
	if c.maxPending > 0 {
		opts = append(opts, chatstream.WithMaxPending(int(c.maxPending)))
	}

	n := 0
	onSnapshot := func(s chatstream.Snapshot) {
		n++
		if c.textOnly {
			return
		}
		fmt.Fprintf(c.out, "%s %s\n",
			cliui.DimStyle.Render(fmt.Sprintf("#%-3d", n)),
			formatSnapshot(s),
		)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	msg := chatstream.Consume(ctx, src, onSnapshot, opts...)

	if c.textOnly {
		fmt.Fprintln(c.out, msg.Text)
	} else {
		fmt.Fprintf(c.out, "\n  %s %s\n", cliui.KeyStyle.Render("State:"), msg.State)
		fmt.Fprintf(c.out, "  %s %d\n", cliui.KeyStyle.Render("Snapshots:"), n)
		if msg.FinishReason != "" {
			fmt.Fprintf(c.out, "  %s %s\n", cliui.KeyStyle.Render("Finish:"), msg.FinishReason)
		}
		if msg.Usage != nil {
			fmt.Fprintf(c.out, "  %s prompt=%d completion=%d total=%d\n",
				cliui.KeyStyle.Render("Usage:"),
				msg.Usage.PromptTokens, msg.Usage.CompletionTokens, msg.Usage.TotalTokens)
		}
		if note := cliui.SnapshotNote(msg.Snapshot()); note != "" {
			fmt.Fprintf(c.out, "  %s\n", note)
		}
	}

	if msg.State == chatstream.StateFailed {
		return fmt.Errorf("stream failed: %w", msg.Err)
	}
	return nil
}

func (c *replayCommander) open(stdin io.Reader) (io.ReadCloser, error) {
	if c.path == "-" {
		return io.NopCloser(stdin), nil
	}
	f, err := os.Open(c.path)
	if err != nil {
		return nil, fmt.Errorf("opening recording: %w", err)
	}
	return f, nil
}

// formatSnapshot renders one snapshot as a single line.
func formatSnapshot(s chatstream.Snapshot) string {
	line := fmt.Sprintf("done=%-5t len=%-4d %q", s.Done, len(s.Text), s.Text)
	if s.Err != nil {
		line += " err=" + s.Err.Error()
	}
	return line
}
