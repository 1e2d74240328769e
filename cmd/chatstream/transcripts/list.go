package transcriptscmder

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/chatstream/pkg/cliui"
	"github.com/papercomputeco/chatstream/pkg/storage"
	"github.com/papercomputeco/chatstream/pkg/utils"
)

type listCommander struct {
	storageOpts

	limit    int
	provider string
}

const listLongDesc string = `List stored transcripts, most recently completed first.

Examples:
  chatstream transcripts list
  chatstream transcripts list --limit 20
  chatstream transcripts list --provider openai`

const listShortDesc string = "List stored transcripts"

func newListCmd() *cobra.Command {
	cmder := &listCommander{}

	cmd := &cobra.Command{
		Use:   "list",
		Short: listShortDesc,
		Long:  listLongDesc,
		Args:  cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			return cmder.resolve(cmd)
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			driver, err := cmder.open(commandContext(cmd))
			if err != nil {
				return err
			}
			defer driver.Close()

			transcripts, err := driver.List(commandContext(cmd), storage.ListOptions{
				Limit:    cmder.limit,
				Provider: cmder.provider,
			})
			if err != nil {
				return fmt.Errorf("listing transcripts: %w", err)
			}

			return printList(cmd.OutOrStdout(), transcripts)
		},
	}

	addStorageFlags(cmd, &cmder.storageOpts)
	cmd.Flags().IntVarP(&cmder.limit, "limit", "n", 20, "Maximum number of transcripts to show (0 for all)")
	cmd.Flags().StringVar(&cmder.provider, "provider", "", "Only show transcripts from this provider")

	return cmd
}

func printList(out io.Writer, transcripts []*storage.Transcript) error {
	if len(transcripts) == 0 {
		fmt.Fprintf(out, "  %s No transcripts stored.\n", cliui.DimStyle.Render("●"))
		return nil
	}

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tPROVIDER\tMODEL\tSTATE\tDURATION\tTEXT")
	for _, t := range transcripts {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			t.ID,
			t.Provider,
			dash(t.Model),
			t.State,
			cliui.FormatDuration(t.Duration()),
			utils.Truncate(oneLine(t.Text), 48),
		)
	}
	return tw.Flush()
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
