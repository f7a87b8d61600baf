package commands

import (
	"context"
	"errors"

	"github.com/dotnet/sdk-sub044/internal/logger"
	"github.com/dotnet/sdk-sub044/internal/service/installer"
	"github.com/dotnet/sdk-sub044/internal/service/transaction"
)

// InstallOptions are inputs of the install command.
type InstallOptions struct {
	GlobalOptions
	ManifestSource

	// Workloads lists the workloads to install.
	Workloads []string
}

var errNoWorkloads = errors.New("at least one workload must be specified")

// Install updates manifests as requested, installs the workloads and then
// collects garbage. A failure rolls back every change of the run.
func Install(ctx context.Context, opts *InstallOptions) (*installer.Result, error) {
	ctx = logger.WithName(ctx, "workload-install")

	if opts == nil {
		return nil, errOptionsRequired
	}

	if len(opts.Workloads) == 0 {
		return nil, errNoWorkloads
	}

	if err := opts.ManifestSource.validate(); err != nil {
		return nil, err
	}

	s, err := openSession(ctx, &opts.GlobalOptions, true)
	if err != nil {
		return nil, err
	}

	defer s.close(ctx)

	updates, err := s.plannedUpdates(ctx, opts.ManifestSource, false)
	if err != nil {
		return nil, err
	}

	var result *installer.Result

	err = transaction.RunNew(ctx, func(ctx context.Context, tx *transaction.Transaction) error {
		if err := s.applyManifests(ctx, tx, opts.ManifestSource, updates); err != nil {
			return err
		}

		var err error

		result, err = s.engine.Installer.InstallWorkloads(ctx, tx, toWorkloadIDs(opts.Workloads), s.band)

		return err
	})
	if err != nil {
		logger.ErrorKV(ctx, "Workload installation failed", "error", err)
		return nil, err
	}

	for _, id := range result.AlreadyInstalled {
		logger.InfoKV(ctx, "Workload is already installed", "workload", id)
	}

	for _, id := range result.Installed {
		logger.InfoKV(ctx, "Successfully installed workload", "workload", id)
	}

	s.collectGarbage(ctx, false)

	return result, nil
}

// RepairOptions are inputs of the repair command.
type RepairOptions struct {
	GlobalOptions
}

// Repair reinstalls missing content of the installed workloads.
func Repair(ctx context.Context, opts *RepairOptions) (*installer.Result, error) {
	ctx = logger.WithName(ctx, "workload-repair")

	if opts == nil {
		return nil, errOptionsRequired
	}

	s, err := openSession(ctx, &opts.GlobalOptions, true)
	if err != nil {
		return nil, err
	}

	defer s.close(ctx)

	var result *installer.Result

	err = transaction.RunNew(ctx, func(ctx context.Context, tx *transaction.Transaction) error {
		var err error

		result, err = s.engine.Installer.RepairWorkloads(ctx, tx, s.band)

		return err
	})
	if err != nil {
		logger.ErrorKV(ctx, "Workload repair failed", "error", err)
		return nil, err
	}

	logger.InfoKV(ctx, "Workloads repaired", "repaired", result.Installed, "intact", result.AlreadyInstalled)

	s.collectGarbage(ctx, false)

	return result, nil
}
