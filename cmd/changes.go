package cmd

import (
	"fmt"
	"path"

	"github.com/disiqueira/gotree/v3"
	"github.com/spf13/cobra"

	azsync "github.com/ghyeongl/azlassets/sync"
)

var changesFlags struct {
	list bool
}

var changesCmd = &cobra.Command{
	Use:   "changes <client> <type> [version]",
	Short: "Show the files added or changed by a version",
	Long: `Changes prints the files a recorded version added or changed, read from its
difflog. Without a version the latest one is used. --list prints the known
difflog versions instead.`,
	Args: cobra.RangeArgs(2, 3),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := parseClient(args[0])
		if err != nil {
			return err
		}
		vt, ok := azsync.VersionTypeFromName(args[1])
		if !ok {
			return fmt.Errorf("%w: %s", azsync.ErrUnknownVersionType, args[1])
		}
		version := ""
		if len(args) == 3 {
			version = args[2]
		}

		env, err := openClient(client, false)
		if err != nil {
			return err
		}
		defer env.Close()

		out := cmd.OutOrStdout()
		if changesFlags.list {
			versions, err := env.store.DiffLogVersions(vt)
			if err != nil {
				return err
			}
			for _, v := range versions {
				fmt.Fprintln(out, v)
			}
			return nil
		}

		files, err := env.store.ChangedFiles(vt, version)
		if err != nil {
			return err
		}
		if version == "" {
			version, _, _ = env.store.LatestVersion(vt)
		}
		fmt.Fprint(out, renderFileTree(fmt.Sprintf("%s %s", vt.Name, version), files))
		return nil
	},
}

// renderFileTree nests slash-separated paths under their directories.
func renderFileTree(rootLabel string, files []string) string {
	root := gotree.New(rootLabel)
	dirs := map[string]gotree.Tree{".": root}
	var dirNode func(dir string) gotree.Tree
	dirNode = func(dir string) gotree.Tree {
		if n, ok := dirs[dir]; ok {
			return n
		}
		n := dirNode(path.Dir(dir)).Add(path.Base(dir))
		dirs[dir] = n
		return n
	}
	for _, f := range files {
		dirNode(path.Dir(f)).Add(path.Base(f))
	}
	return root.Print()
}

func init() {
	changesCmd.Flags().BoolVar(&changesFlags.list, "list", false, "list recorded difflog versions")
	rootCmd.AddCommand(changesCmd)
}
