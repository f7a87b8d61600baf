package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dotnet/sdk-sub044/internal/service/commands"
	"github.com/dotnet/sdk-sub044/internal/version"
)

var (
	// global holds the flags shared by every subcommand.
	global commands.GlobalOptions

	// rootCmd is the workload manager; the work happens in subcommands.
	rootCmd = &cobra.Command{
		Use:   "sdk-workload",
		Short: "Install, update and remove optional SDK workloads.",
		Long: `Manages optional SDK workloads for one SDK feature band.

Workloads are resolved from the manifests in effect for the band, their packs are
downloaded from a package feed or an offline cache, and every change is applied in a
transaction that is rolled back completely on failure. Content shared between bands
is reference counted and removed once no band needs it.`,
		SilenceUsage: true,
	}
)

// Execute runs the sdk-workload CLI and exits with non-zero status on error.
func Execute() {
	version.AttachCobraVersionCommand(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// runWithSignals calls run with a context cancelled on SIGINT or SIGTERM.
func runWithSignals(run func(ctx context.Context) error) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	return run(ctx)
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	flags := rootCmd.PersistentFlags()

	flags.StringVarP(&global.ConfigPath, "config", "c", "", "path to configuration file")
	flags.StringVar(&global.SDKVersion, "sdk-version", "", "SDK version whose feature band is managed")
	flags.StringVar(&global.DotnetRoot, "dotnet-root", "", "SDK installation root, overrides the configuration")
	flags.BoolVar(&global.UserLocal, "user-local", false, "manage the user-local install instead of the global one")
	flags.StringVar(&global.FeedURL, "source", "", "package feed URL")
	flags.StringVar(&global.OfflineCache, "from-cache", "", "install from a directory of downloaded packages")
	flags.StringVar(&global.TempDir, "temp-dir", "", "directory for downloads")
	flags.BoolVar(&global.IncludePrerelease, "include-previews", false, "allow prerelease manifest versions")

	rootCmd.AddCommand(
		newInstallCommand(),
		newUpdateCommand(),
		newUninstallCommand(),
		newRepairCommand(),
		newCleanCommand(),
		newListCommand(),
		newDownloadCommand(),
	)
}
