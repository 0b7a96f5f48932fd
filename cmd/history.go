package cmd

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	azsync "github.com/ghyeongl/azlassets/sync"
)

var historyFlags struct {
	vtype string
	limit int
}

var historyCmd = &cobra.Command{
	Use:   "history <client>",
	Short: "Show the passes recorded for a client",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := parseClient(args[0])
		if err != nil {
			return err
		}
		vtype := ""
		if historyFlags.vtype != "" {
			vt, ok := azsync.VersionTypeFromName(historyFlags.vtype)
			if !ok {
				return fmt.Errorf("%w: %s", azsync.ErrUnknownVersionType, historyFlags.vtype)
			}
			vtype = vt.Name
		}

		env, err := openClient(client, false)
		if err != nil {
			return err
		}
		defer env.Close()

		records, err := env.journal.History(vtype, historyFlags.limit)
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "TIME\tTYPE\tVERSION\tSOURCE\tSTATUS\tSUCCESS\tFAILED\tREMOVED\tERROR")
		for _, r := range records {
			fmt.Fprint(tw, numbers.Sprintf("%s\t%s\t%s\t%s\t%s\t%d\t%d\t%d\t%s\n",
				r.AppliedAt.Local().Format("2006-01-02 15:04"), r.Type, versionColumn(r), r.Source, r.Status,
				r.Success, r.Failed, r.Removed, strings.ReplaceAll(r.Error, "\n", " ")))
		}
		return tw.Flush()
	},
}

func versionColumn(r azsync.PassRecord) string {
	if r.Previous == "" || r.Previous == r.Version {
		return r.Version
	}
	return r.Previous + " -> " + r.Version
}

func init() {
	historyCmd.Flags().StringVar(&historyFlags.vtype, "type", "", "only show this version type")
	historyCmd.Flags().IntVar(&historyFlags.limit, "limit", 20, "number of passes to show, 0 for all")
	rootCmd.AddCommand(historyCmd)
}
