package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/ghyeongl/azlassets/settings"
	azsync "github.com/ghyeongl/azlassets/sync"
)

var (
	// Set at build time.
	version = "dev"
	commit  = "none"

	cfgFile string
	cfg     *settings.Settings
)

var rootCmd = &cobra.Command{
	Use:   "azlassets",
	Short: "Mirror game client assets from the CDN or offline bundles",
	Long: `azlassets keeps a local copy of a game client's asset tree in sync with
the versioned manifests announced by the game server.

Assets are downloaded by content hash, every applied version is recorded in a
difflog, and interrupted updates or damaged files can be repaired from the
CDN or recovered from obb, apk and xapk bundles.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		if cmd.Name() == versionCmd.Name() {
			return nil
		}
		var err error
		if cfg, err = settings.Load(cfgFile, cmd.Flags()); err != nil {
			return fmt.Errorf("load settings: %w", err)
		}
		return azsync.InitLogger(cfg.LogDirectory, cfg.Level())
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "azlassets %s (%s)\n", version, commit)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", settings.DefaultPath, "config file")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-directory", "", "write rotating log files to this directory")
	rootCmd.PersistentFlags().String("asset-directory", "", "root directory of all client mirrors")

	rootCmd.AddCommand(versionCmd)
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupSignalHandler() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// clientEnv bundles the components every client command works with.
type clientEnv struct {
	client  azsync.Client
	store   *azsync.Store
	updater *azsync.Updater
	journal *azsync.Journal
	bus     *azsync.EventBus
}

func parseClient(name string) (azsync.Client, error) {
	c, ok := azsync.ClientFromName(name)
	if !ok {
		names := make([]string, 0, len(azsync.Clients))
		for _, c := range azsync.Clients {
			names = append(names, c.Name)
		}
		return azsync.Client{}, fmt.Errorf("unknown client %q (one of %s)", name, strings.Join(names, ", "))
	}
	return c, nil
}

// openClient wires the store, CDN client, downloader, updater and journal of
// client. The CDN endpoint is only required when online is set.
func openClient(client azsync.Client, online bool) (*clientEnv, error) {
	dir := cfg.ClientDir(client.Name)
	fsys := afero.NewOsFs()
	if err := fsys.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create client dir: %w", err)
	}

	var fetcher azsync.Fetcher
	if online {
		cc, err := cfg.Client(client.Name)
		if err != nil {
			return nil, err
		}
		fetcher = azsync.NewCDNClient(cc.CDNURL, cfg.UserAgent, cfg.Concurrency.Downloads)
	}

	store := azsync.NewStore(fsys, dir)
	downloader := azsync.NewDownloader(fsys, fetcher, cfg.Concurrency.Downloads)
	updater := azsync.NewUpdater(store, fetcher, downloader, cfg.Filter())

	journal, err := azsync.OpenJournal(dir)
	if err != nil {
		return nil, err
	}
	updater.SetJournal(journal)

	bus := azsync.NewEventBus()
	updater.SetEventBus(bus)
	return &clientEnv{client: client, store: store, updater: updater, journal: journal, bus: bus}, nil
}

func (e *clientEnv) Close() error {
	return e.journal.Close()
}
