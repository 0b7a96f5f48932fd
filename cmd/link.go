package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	azsync "github.com/ghyeongl/azlassets/sync"
)

var linkFlags struct {
	vtype string
}

var linkCmd = &cobra.Command{
	Use:   "link <client> <version> <type>=<version>...",
	Short: "Reference other version types' releases from a difflog",
	Long: `Link appends cross-references to the difflog of an applied version, recording
the releases of other version types that shipped together with it. The
difflog is the AZL one unless --type is given.`,
	Example: "  azlassets link EN 8.1.2 cv=31 painting=117",
	Args:    cobra.MinimumNArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := parseClient(args[0])
		if err != nil {
			return err
		}
		owner := azsync.VersionAZL
		if linkFlags.vtype != "" {
			vt, ok := azsync.VersionTypeFromName(linkFlags.vtype)
			if !ok {
				return fmt.Errorf("%w: %s", azsync.ErrUnknownVersionType, linkFlags.vtype)
			}
			owner = vt
		}
		links, err := parseLinks(args[2:])
		if err != nil {
			return err
		}

		env, err := openClient(client, false)
		if err != nil {
			return err
		}
		defer env.Close()

		if err := env.store.LinkVersions(owner, args[1], links); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "linked %d version(s) to %s %s\n", len(links), owner.Name, args[1])
		return nil
	},
}

func parseLinks(args []string) ([]azsync.LinkedVersion, error) {
	links := make([]azsync.LinkedVersion, 0, len(args))
	for _, arg := range args {
		name, ver, ok := strings.Cut(arg, "=")
		if !ok || ver == "" {
			return nil, fmt.Errorf("invalid link %q (want <type>=<version>)", arg)
		}
		vt, ok := azsync.VersionTypeFromName(name)
		if !ok {
			return nil, fmt.Errorf("%w: %s", azsync.ErrUnknownVersionType, name)
		}
		links = append(links, azsync.LinkedVersion{Type: vt.String(), Version: ver})
	}
	return links, nil
}

func init() {
	linkCmd.Flags().StringVar(&linkFlags.vtype, "type", "", "version type owning the difflog")
	rootCmd.AddCommand(linkCmd)
}
