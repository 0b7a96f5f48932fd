package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	azsync "github.com/ghyeongl/azlassets/sync"
)

var updateFlags struct {
	tokens         []string
	feed           string
	types          []string
	watch          bool
	forceRefresh   bool
	ignoreManifest bool
	repair         bool
}

var updateCmd = &cobra.Command{
	Use:   "update <client>",
	Short: "Download the assets of every announced version",
	Long: `Update reads the version tokens announced by the game server and runs one
pass per version type: fetch the manifest, diff it against the local one,
download new and changed assets, delete removed ones and record the result.

Tokens come from --token, from --feed or from the client's configured
version-feed file. With --watch the feed file is watched and a pass runs
whenever it changes.`,
	Args: cobra.ExactArgs(1),
	RunE: runUpdate,
}

func init() {
	f := updateCmd.Flags()
	f.StringArrayVar(&updateFlags.tokens, "token", nil, "version token, repeatable")
	f.StringVar(&updateFlags.feed, "feed", "", "file holding the version tokens")
	f.StringSliceVar(&updateFlags.types, "type", nil, "only update these version types")
	f.BoolVar(&updateFlags.watch, "watch", false, "keep running and update whenever the feed file changes")
	f.BoolVar(&updateFlags.forceRefresh, "force-refresh", false, "compare hashes even when the version is up to date")
	f.BoolVar(&updateFlags.ignoreManifest, "ignore-manifest", false, "diff against an empty local manifest, refetching everything")
	f.BoolVar(&updateFlags.repair, "repair", false, "resume a partially failed update by rehashing the referenced files")
	rootCmd.AddCommand(updateCmd)
}

func parseTypes(names []string) ([]azsync.VersionType, error) {
	out := make([]azsync.VersionType, 0, len(names))
	for _, n := range names {
		vt, ok := azsync.VersionTypeFromName(n)
		if !ok {
			return nil, fmt.Errorf("%w: %s", azsync.ErrUnknownVersionType, n)
		}
		out = append(out, vt)
	}
	return out, nil
}

func runUpdate(cmd *cobra.Command, args []string) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	client, err := parseClient(args[0])
	if err != nil {
		return err
	}
	types, err := parseTypes(updateFlags.types)
	if err != nil {
		return err
	}

	env, err := openClient(client, true)
	if err != nil {
		return err
	}
	defer env.Close()

	feedPath := updateFlags.feed
	if feedPath == "" {
		if cc, err := cfg.Client(client.Name); err == nil {
			feedPath = cc.VersionFeed
		}
	}
	var feed azsync.VersionFeed
	switch {
	case len(updateFlags.tokens) > 0:
		feed = azsync.StaticFeed(updateFlags.tokens)
	case feedPath != "":
		feed = azsync.FileFeed{Fs: afero.NewOsFs(), Path: feedPath}
	default:
		return errors.New("no version tokens: pass --token or --feed, or set the client's version-feed")
	}
	if updateFlags.watch && feedPath == "" {
		return errors.New("--watch needs a feed file")
	}

	runner := azsync.NewRunner(env.updater, azsync.NewRepairer(env.updater, cfg.Concurrency.Hashing), feed, azsync.RunOptions{
		Types:  types,
		Repair: updateFlags.repair,
		Update: azsync.UpdateOptions{
			ForceRefresh:   updateFlags.forceRefresh,
			IgnoreManifest: updateFlags.ignoreManifest,
		},
	})

	out := cmd.OutOrStdout()
	if updateFlags.watch {
		return runner.Watch(ctx, feedPath, func(reports []*azsync.PassReport) {
			fmt.Fprint(out, renderReports(client.Name, reports))
		})
	}

	progress := startProgress(env.bus)
	reports, err := runner.Run(ctx)
	progress.Stop()
	if err != nil {
		return err
	}
	fmt.Fprint(out, renderReports(client.Name, reports))
	if anyFailed(reports) {
		printRecentErrors(cmd.ErrOrStderr())
		return errors.New("some passes did not complete")
	}
	return nil
}
