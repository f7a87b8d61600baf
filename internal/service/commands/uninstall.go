package commands

import (
	"context"

	"github.com/dotnet/sdk-sub044/internal/logger"
	"github.com/dotnet/sdk-sub044/internal/service/installer"
)

// UninstallOptions are inputs of the uninstall command.
type UninstallOptions struct {
	GlobalOptions

	// Workloads lists the workloads to remove.
	Workloads []string
}

// Uninstall removes the workloads from the band and collects their content.
func Uninstall(ctx context.Context, opts *UninstallOptions) error {
	ctx = logger.WithName(ctx, "workload-uninstall")

	if opts == nil {
		return errOptionsRequired
	}

	if len(opts.Workloads) == 0 {
		return errNoWorkloads
	}

	s, err := openSession(ctx, &opts.GlobalOptions, true)
	if err != nil {
		return err
	}

	defer s.close(ctx)

	if err = installer.Uninstall(ctx, s.engine.Installer, toWorkloadIDs(opts.Workloads), s.band); err != nil {
		logger.ErrorKV(ctx, "Workload uninstall failed", "error", err)
		return err
	}

	logger.InfoKV(ctx, "Successfully uninstalled workloads", "workloads", opts.Workloads)

	s.collectGarbage(ctx, false)

	return nil
}
