package transcriptscmder

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/chatstream/pkg/cliui"
	"github.com/papercomputeco/chatstream/pkg/storage"
)

type showCommander struct {
	storageOpts

	asJSON bool
}

const showLongDesc string = `Show a stored transcript: the prompt that was sent upstream and the
assistant message the stream produced.

Examples:
  chatstream transcripts show chatcmpl-123
  chatstream transcripts show msg_01ABC --json`

const showShortDesc string = "Show a stored transcript"

func newShowCmd() *cobra.Command {
	cmder := &showCommander{}

	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: showShortDesc,
		Long:  showLongDesc,
		Args:  cobra.ExactArgs(1),
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			return cmder.resolve(cmd)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			driver, err := cmder.open(commandContext(cmd))
			if err != nil {
				return err
			}
			defer driver.Close()

			t, err := driver.Get(commandContext(cmd), args[0])
			if err != nil {
				if storage.IsNotFound(err) {
					return fmt.Errorf("no transcript with id %q", args[0])
				}
				return fmt.Errorf("loading transcript: %w", err)
			}

			if cmder.asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(t)
			}
			printTranscript(cmd.OutOrStdout(), t)
			return nil
		},
	}

	addStorageFlags(cmd, &cmder.storageOpts)
	cmd.Flags().BoolVar(&cmder.asJSON, "json", false, "Print the transcript as JSON")

	return cmd
}

func printTranscript(out io.Writer, t *storage.Transcript) {
	field := func(key, value string) {
		fmt.Fprintf(out, "  %s %s\n", cliui.KeyStyle.Render(fmt.Sprintf("%-9s", key+":")), cliui.ValueStyle.Render(value))
	}

	fmt.Fprintln(out)
	field("ID", t.ID)
	field("Provider", t.Provider)
	field("Model", dash(t.Model))
	field("State", t.State)
	if t.FinishReason != "" {
		field("Finish", t.FinishReason)
	}
	field("Duration", cliui.FormatDuration(t.Duration()))
	if t.Usage != nil {
		field("Tokens", fmt.Sprintf("%d in / %d out", t.Usage.PromptTokens, t.Usage.CompletionTokens))
	}
	if t.Error != "" {
		field("Error", cliui.WarnStyle.Render(t.Error))
	}

	fmt.Fprintln(out)
	for _, m := range t.Prompt {
		fmt.Fprintf(out, "  %s %s\n", cliui.DimStyle.Render("["+m.Role+"]"), oneLine(m.Content))
	}
	fmt.Fprintf(out, "  %s %s\n\n", cliui.NameStyle.Render("[assistant]"), t.Text)
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
