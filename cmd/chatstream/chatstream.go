// Package chatstreamcmder is the root of the chatstream CLI.
package chatstreamcmder

import (
	"github.com/spf13/cobra"

	chatcmder "github.com/papercomputeco/chatstream/cmd/chatstream/chat"
	configcmder "github.com/papercomputeco/chatstream/cmd/chatstream/config"
	initcmder "github.com/papercomputeco/chatstream/cmd/chatstream/init"
	replaycmder "github.com/papercomputeco/chatstream/cmd/chatstream/replay"
	servecmder "github.com/papercomputeco/chatstream/cmd/chatstream/serve"
	transcriptscmder "github.com/papercomputeco/chatstream/cmd/chatstream/transcripts"
	versioncmder "github.com/papercomputeco/chatstream/cmd/version"
	"github.com/papercomputeco/chatstream/pkg/cliui"
)

const chatstreamLongDesc string = `Chatstream consumes streamed chat completions.

It reads server-sent event streams from OpenAI- and Anthropic-compatible
chat endpoints and turns them into a growing assistant message.

  chatstream chat          Chat interactively with a streaming endpoint
  chatstream replay FILE   Decode a recorded stream and print every snapshot
  chatstream serve         Run the streaming relay
  chatstream transcripts   Inspect transcripts stored by the relay
  chatstream config        Manage persistent configuration
  chatstream init          Create a local .chatstream/ directory`

const chatstreamShortDesc string = "Chatstream - streaming chat client and relay"

func NewChatstreamCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "chatstream",
		Short:         chatstreamShortDesc,
		Long:          chatstreamLongDesc,
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			noColor, _ := cmd.Flags().GetBool("no-color")
			if noColor {
				cliui.SetColorProfile(cmd.OutOrStdout(), true)
			}
		},
	}

	// Global flags
	cmd.PersistentFlags().BoolP("debug", "d", false, "Enable debug logging")
	cmd.PersistentFlags().String("config-dir", "", "Override path to the .chatstream/ config directory")
	cmd.PersistentFlags().Bool("no-color", false, "Disable colored output")

	cmd.AddCommand(chatcmder.NewChatCmd())
	cmd.AddCommand(replaycmder.NewReplayCmd())
	cmd.AddCommand(servecmder.NewServeCmd())
	cmd.AddCommand(transcriptscmder.NewTranscriptsCmd())
	cmd.AddCommand(configcmder.NewConfigCmd())
	cmd.AddCommand(initcmder.NewInitCmd())
	cmd.AddCommand(versioncmder.NewVersionCmd())

	return cmd
}
