package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/dotnet/sdk-sub044/internal/service/commands"
)

func newInstallCommand() *cobra.Command {
	var source commands.ManifestSource

	command := &cobra.Command{
		Use:   "install <workload>...",
		Short: "Install one or more workloads.",
		Long: `Installs the named workloads for the feature band of --sdk-version.

Manifests are first moved to the newest advertised versions unless
--skip-manifest-update is given, or pinned with --from-rollback-file or
--version. Installing an installed workload only repairs missing content.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return runWithSignals(func(ctx context.Context) error {
				_, err := commands.Install(ctx, &commands.InstallOptions{
					GlobalOptions:  global,
					ManifestSource: source,
					Workloads:      args,
				})

				return err
			})
		},
	}

	command.Flags().StringVar(&source.RollbackFile, "from-rollback-file", "", "pin manifests to the versions in a rollback file")
	command.Flags().StringVar(&source.WorkloadSetVersion, "version", "", "install a workload set version")
	command.Flags().BoolVar(&source.SkipManifestUpdate, "skip-manifest-update", false, "keep the manifests in effect")
	command.MarkFlagsMutuallyExclusive("from-rollback-file", "version")

	return command
}

func newUpdateCommand() *cobra.Command {
	options := new(commands.UpdateOptions)

	command := &cobra.Command{
		Use:   "update",
		Short: "Update manifests and reinstall installed workloads.",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return runWithSignals(func(ctx context.Context) error {
				options.GlobalOptions = global

				_, err := commands.Update(ctx, options)

				return err
			})
		},
	}

	command.Flags().StringVar(&options.RollbackFile, "from-rollback-file", "", "pin manifests to the versions in a rollback file")
	command.Flags().StringVar(&options.WorkloadSetVersion, "version", "", "update to a workload set version")
	command.MarkFlagsMutuallyExclusive("from-rollback-file", "version")

	return command
}

func newUninstallCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "uninstall <workload>...",
		Short: "Uninstall one or more workloads.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return runWithSignals(func(ctx context.Context) error {
				return commands.Uninstall(ctx, &commands.UninstallOptions{
					GlobalOptions: global,
					Workloads:     args,
				})
			})
		},
	}
}

func newRepairCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "repair",
		Short: "Reinstall missing content of installed workloads.",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return runWithSignals(func(ctx context.Context) error {
				_, err := commands.Repair(ctx, &commands.RepairOptions{GlobalOptions: global})
				return err
			})
		},
	}
}

func newCleanCommand() *cobra.Command {
	var all bool

	command := &cobra.Command{
		Use:   "clean",
		Short: "Remove workload content no installed workload needs.",
		Long: `Removes packs and manifests that no feature band references anymore.

With --all, workloads of feature bands without an installed SDK are removed too.`,
		Args: cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return runWithSignals(func(ctx context.Context) error {
				_, err := commands.Clean(ctx, &commands.CleanOptions{GlobalOptions: global, All: all})
				return err
			})
		},
	}

	command.Flags().BoolVar(&all, "all", false, "also remove workloads of feature bands without an installed SDK")

	return command
}

func newListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List installed workloads.",
		Args:  cobra.NoArgs,
		RunE: func(command *cobra.Command, _ []string) error {
			return runWithSignals(func(ctx context.Context) error {
				_, err := commands.List(ctx, &commands.ListOptions{
					GlobalOptions: global,
					Output:        command.OutOrStdout(),
				})

				return err
			})
		},
	}
}

func newDownloadCommand() *cobra.Command {
	var outputDir string

	command := &cobra.Command{
		Use:   "download <workload>...",
		Short: "Download workload packages for an offline install.",
		Long: `Downloads the packages of the named workloads into a directory without installing them.
The directory can later be passed to install with --from-cache.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return runWithSignals(func(ctx context.Context) error {
				_, err := commands.Download(ctx, &commands.DownloadOptions{
					GlobalOptions: global,
					Workloads:     args,
					OutputDir:     outputDir,
				})

				return err
			})
		},
	}

	command.Flags().StringVar(&outputDir, "download-to-cache", "", "directory receiving the packages")
	_ = command.MarkFlagRequired("download-to-cache")

	return command
}
