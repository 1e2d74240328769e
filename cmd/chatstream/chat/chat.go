// Package chatcmder provides the chat command: an interactive client that
// streams assistant replies from a chat completions endpoint.
package chatcmder

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/papercomputeco/chatstream/pkg/chatstream"
	"github.com/papercomputeco/chatstream/pkg/cliui"
	"github.com/papercomputeco/chatstream/pkg/config"
	"github.com/papercomputeco/chatstream/pkg/dotdir"
	"github.com/papercomputeco/chatstream/pkg/llm"
	"github.com/papercomputeco/chatstream/pkg/logger"
)

type chatCommander struct {
	configDir string

	endpoint    string
	model       string
	provider    string
	apiKey      string
	chunkSize   uint
	maxPending  uint
	placeholder bool

	system  string
	record  bool
	render bool
	debug  bool

	in     io.Reader
	out    io.Writer
	errOut io.Writer

	client *chatstream.Client
	logger *slog.Logger
}

// chatFlags are the registry flags chat binds to viper.
var chatFlags = []string{
	config.FlagEndpoint,
	config.FlagModel,
	config.FlagProvider,
	config.FlagAPIKey,
	config.FlagChunkSize,
	config.FlagMaxPending,
	config.FlagPlaceholder,
}

const chatLongDesc string = `Start an interactive chat session against a streaming chat endpoint.

Each reply is streamed as it arrives. Replies that end without the
stream terminator are kept and marked as possibly incomplete. Press Ctrl+C
to abandon a reply in progress; /exit or Ctrl+D quits.

With --record, the raw bytes of every response are saved to
.chatstream/recordings/<message-id>.sse for "chatstream replay".

With --render on a terminal, replies are collected and rendered as
markdown once complete instead of being streamed.

Examples:
  chatstream chat --model gpt-4o-mini
  chatstream chat --endpoint http://localhost:8080/v1/chat/completions
  chatstream chat --provider anthropic --endpoint https://api.anthropic.com/v1/messages`

const chatShortDesc string = "Interactive streaming chat"

func NewChatCmd() *cobra.Command {
	cmder := &chatCommander{}

	cmd := &cobra.Command{
		Use:   "chat",
		Short: chatShortDesc,
		Long:  chatLongDesc,
		Args:  cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			cmder.configDir, _ = cmd.Flags().GetString("config-dir")
			v, err := config.InitViper(cmder.configDir)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			config.BindRegisteredFlags(v, cmd, config.Flags, chatFlags)

			cfg := config.FromViper(v)
			cmder.endpoint = cfg.Client.Endpoint
			cmder.model = cfg.Client.Model
			cmder.provider = cfg.Client.Provider
			cmder.apiKey = cfg.Client.APIKey
			cmder.chunkSize = cfg.Stream.ChunkSize
			cmder.maxPending = cfg.Stream.MaxPendingBytes
			cmder.placeholder = cfg.Stream.Placeholder
			return nil
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			var err error
			cmder.debug, err = cmd.Flags().GetBool("debug")
			if err != nil {
				return fmt.Errorf("could not get debug flag: %w", err)
			}

			cmder.in = cmd.InOrStdin()
			cmder.out = cmd.OutOrStdout()
			cmder.errOut = cmd.ErrOrStderr()
			return cmder.run(cmd.Context())
		},
	}

	config.AddStringFlag(cmd, config.Flags, config.FlagEndpoint, &cmder.endpoint)
	config.AddStringFlag(cmd, config.Flags, config.FlagModel, &cmder.model)
	config.AddStringFlag(cmd, config.Flags, config.FlagProvider, &cmder.provider)
	config.AddStringFlag(cmd, config.Flags, config.FlagAPIKey, &cmder.apiKey)
	config.AddUintFlag(cmd, config.Flags, config.FlagChunkSize, &cmder.chunkSize)
	config.AddUintFlag(cmd, config.Flags, config.FlagMaxPending, &cmder.maxPending)
	config.AddBoolFlag(cmd, config.Flags, config.FlagPlaceholder, &cmder.placeholder)
	cmd.Flags().StringVar(&cmder.system, "system", "", "System prompt sent before the conversation")
	cmd.Flags().BoolVar(&cmder.record, "record", false, "Save raw response streams under .chatstream/recordings/")
	cmd.Flags().BoolVar(&cmder.render, "render", false, "Render completed replies as markdown on a terminal")

	return cmd
}

func (c *chatCommander) run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	c.logger = logger.New(
		logger.WithDebug(c.debug),
		logger.WithPretty(true),
		logger.WithWriter(c.errOut),
	)

	opts := []chatstream.Option{chatstream.WithPlaceholder(c.placeholder)}
	if c.chunkSize > 0 {
		opts = append(opts, chatstream.WithChunkSize(int(c.chunkSize)))
	}
	if c.maxPending > 0 {
		opts = append(opts, chatstream.WithMaxPending(int(c.maxPending)))
	}

	var err error
	c.client, err = chatstream.NewClient(chatstream.ClientConfig{
		Endpoint:      c.endpoint,
		APIKey:        c.apiKey,
		Provider:      c.provider,
		Logger:        c.logger,
		StreamOptions: opts,
	})
	if err != nil {
		return fmt.Errorf("creating client: %w", err)
	}

	var messages []llm.Message
	if c.system != "" {
		messages = append(messages, llm.NewTextMessage(llm.RoleSystem, c.system))
	}

	fmt.Fprintln(c.out)
	fmt.Fprintf(c.out, "  %s %s\n", cliui.KeyStyle.Render("Endpoint:"), cliui.DimStyle.Render(c.endpoint))
	fmt.Fprintf(c.out, "  %s %s\n\n", cliui.KeyStyle.Render("Model:"), cliui.NameStyle.Render(c.model))
	fmt.Fprintf(c.out, "  %s\n\n", cliui.DimStyle.Render("Type your message and press Enter. /exit or Ctrl+D to quit."))

	scanner := bufio.NewScanner(c.in)
	for {
		fmt.Fprint(c.out, cliui.UserPrompt.Render("you> "))
		if !scanner.Scan() {
			break
		}

		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}
		if input == "/exit" {
			break
		}

		messages = append(messages, llm.NewTextMessage(llm.RoleUser, input))

		msg, err := c.sendAndStream(ctx, messages)
		if err != nil {
			fmt.Fprintf(c.out, "  %s %s\n\n", cliui.FailMark, userMessage(err))
			// Drop the failed user message so it can be retried.
			messages = messages[:len(messages)-1]
			continue
		}

		if msg.State != chatstream.StateCompleted {
			messages = messages[:len(messages)-1]
			fmt.Fprintln(c.out)
			continue
		}

		messages = append(messages, llm.NewTextMessage(llm.RoleAssistant, msg.Text))
		fmt.Fprintln(c.out)
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading input: %w", err)
	}

	fmt.Fprintln(c.out)
	return nil
}

// sendAndStream streams one reply. Ctrl+C cancels the reply without ending
// the session.
func (c *chatCommander) sendAndStream(parent context.Context, messages []llm.Message) (chatstream.Message, error) {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt)
	defer stop()

	req := &llm.ChatRequest{
		Model:    c.model,
		Messages: messages,
	}
	if c.provider == llm.ProviderOpenAI {
		req.StreamOptions = &llm.StreamOptions{IncludeUsage: true}
	}

	id := uuid.NewString()
	opts := []chatstream.Option{chatstream.WithMessageID(id)}

	if c.record {
		f, err := c.recordingFile(id)
		if err != nil {
			return chatstream.Message{}, err
		}
		defer f.Close()
		opts = append(opts, chatstream.WithTee(f))
	}

	c.logger.Debug("sending chat request",
		"endpoint", c.endpoint,
		"model", c.model,
		"message_id", id,
		"message_count", len(messages),
	)

	if c.render && isTerminal(c.out) {
		return c.streamRendered(ctx, req, opts)
	}

	fmt.Fprint(c.out, cliui.AssistantPrompt.Render("assistant> "))
	printer := cliui.NewLivePrinter(c.out)
	msg, err := c.client.Stream(ctx, req, printer.Print, opts...)
	if err != nil {
		fmt.Fprintln(c.out)
		return msg, err
	}

	if msg.State == chatstream.StateFailed && errors.Is(msg.Err, context.Canceled) {
		fmt.Fprintf(c.out, "\n  %s\n", cliui.WarnStyle.Render("(cancelled)"))
	}
	if printer.Err() != nil {
		return msg, fmt.Errorf("writing reply: %w", printer.Err())
	}
	return msg, nil
}

// streamRendered collects the reply behind a spinner and prints it as
// rendered markdown.
func (c *chatCommander) streamRendered(ctx context.Context, req *llm.ChatRequest, opts []chatstream.Option) (chatstream.Message, error) {
	var (
		msg  chatstream.Message
		last chatstream.Snapshot
	)
	err := cliui.Step(c.out, "Waiting for reply", func() error {
		var err error
		msg, err = c.client.Stream(ctx, req, func(s chatstream.Snapshot) { last = s }, opts...)
		return err
	})
	if err != nil {
		return msg, err
	}

	rendered, rerr := cliui.RenderMarkdown(msg.Text)
	if rerr != nil {
		c.logger.Debug("markdown rendering failed", "error", rerr)
	}
	fmt.Fprint(c.out, rendered)
	if note := cliui.SnapshotNote(last); note != "" {
		fmt.Fprintf(c.out, "  %s\n", note)
	}
	return msg, nil
}

func (c *chatCommander) recordingFile(id string) (*os.File, error) {
	dir, err := dotdir.NewManager().RecordingsDir(c.configDir)
	if err != nil {
		return nil, fmt.Errorf("resolving recordings dir: %w", err)
	}
	path := filepath.Join(dir, id+".sse")
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("creating recording: %w", err)
	}
	c.logger.Debug("recording stream", "path", path)
	return f, nil
}

// userMessage is the text shown for a failed request.
func userMessage(err error) string {
	var se *chatstream.StartError
	if errors.As(err, &se) {
		return se.UserMessage()
	}
	return err.Error()
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
