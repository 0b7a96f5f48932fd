package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	azsync "github.com/ghyeongl/azlassets/sync"
)

var checkIntegrityCmd = &cobra.Command{
	Use:   "check-integrity <client>",
	Short: "Rehash every local asset and repair what differs",
	Long: `Check-integrity hashes every file below the client's asset directory and
compares the result with all local manifests. Missing and damaged files are
downloaded again and files no manifest references are deleted. Versions and
manifests are left untouched.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := setupSignalHandler()
		defer cancel()

		client, err := parseClient(args[0])
		if err != nil {
			return err
		}
		env, err := openClient(client, true)
		if err != nil {
			return err
		}
		defer env.Close()

		progress := startProgress(env.bus)
		results, err := azsync.NewRepairer(env.updater, cfg.Concurrency.Hashing).Repair(ctx)
		progress.Stop()
		if err != nil {
			return err
		}

		report := &azsync.PassReport{Version: "all", Source: azsync.SourceRepair, Status: azsync.StatusUpdated, Results: results}
		report.Type.Name = "ALL"
		fmt.Fprint(cmd.OutOrStdout(), renderReports(client.Name, []*azsync.PassReport{report}))
		if report.Counts()[azsync.DownloadFailed] > 0 {
			printRecentErrors(cmd.ErrOrStderr())
			return errors.New("some files could not be repaired")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(checkIntegrityCmd)
}
