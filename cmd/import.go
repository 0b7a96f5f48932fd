package cmd

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	azsync "github.com/ghyeongl/azlassets/sync"
)

var importFlags struct {
	client     string
	allowOlder bool
}

var importCmd = &cobra.Command{
	Use:   "import <bundle>",
	Short: "Apply the assets shipped inside an obb, apk or xapk",
	Long: `Import reads the version and hashes files embedded in an offline bundle and
extracts every version type that is newer than the local one. Assets missing
under their manifest path are looked up by size and content hash.

The client is derived from the obb file name or the xapk manifest; apks
default to CN. --client overrides the detection for obb and apk files.`,
	Args: cobra.ExactArgs(1),
	RunE: runImport,
}

func init() {
	importCmd.Flags().StringVar(&importFlags.client, "client", "", "client the bundle belongs to")
	importCmd.Flags().BoolVar(&importFlags.allowOlder, "allow-older", false, "import version types even when the bundle is not newer")
	rootCmd.AddCommand(importCmd)
}

func runImport(cmd *cobra.Command, args []string) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	path := args[0]
	var fallback *azsync.Client
	if importFlags.client != "" {
		c, err := parseClient(importFlags.client)
		if err != nil {
			return err
		}
		fallback = &c
	}

	outer, closeBundle, err := azsync.OpenBundleFile(ctx, afero.NewOsFs(), path)
	if err != nil {
		return err
	}
	defer closeBundle() //nolint:errcheck

	var (
		client  azsync.Client
		bundles []*azsync.Bundle
	)
	if strings.EqualFold(filepath.Ext(path), ".xapk") {
		if client, bundles, err = azsync.OpenXAPK(ctx, outer); err != nil {
			return err
		}
	} else {
		if client, err = azsync.DetectClient(path, fallback); err != nil {
			return err
		}
		bundles = []*azsync.Bundle{outer}
	}

	env, err := openClient(client, false)
	if err != nil {
		return err
	}
	defer env.Close()

	importer := azsync.NewImporter(env.updater)
	progress := startProgress(env.bus)
	var reports []*azsync.PassReport
	for _, b := range bundles {
		r, err := importer.Import(ctx, b, azsync.ImportOptions{AllowOlder: importFlags.allowOlder})
		reports = append(reports, r...)
		if err != nil {
			progress.Stop()
			return fmt.Errorf("import %s: %w", b.Name, err)
		}
	}
	progress.Stop()

	fmt.Fprint(cmd.OutOrStdout(), renderReports(client.Name+" <- "+filepath.Base(path), reports))
	if anyFailed(reports) {
		printRecentErrors(cmd.ErrOrStderr())
		return errors.New("some assets could not be imported")
	}
	return nil
}
