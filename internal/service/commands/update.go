package commands

import (
	"context"

	"github.com/dotnet/sdk-sub044/internal/domain/workload"
	"github.com/dotnet/sdk-sub044/internal/logger"
	"github.com/dotnet/sdk-sub044/internal/service/transaction"
)

// UpdateOptions are inputs of the update command.
type UpdateOptions struct {
	GlobalOptions

	// RollbackFile pins manifests to the versions listed in a file.
	RollbackFile string
	// WorkloadSetVersion installs a workload set and pins its manifests.
	WorkloadSetVersion string
}

// Update moves the manifests of the band and reinstalls the installed
// workloads against them.
func Update(ctx context.Context, opts *UpdateOptions) ([]workload.ManifestVersionUpdate, error) {
	ctx = logger.WithName(ctx, "workload-update")

	if opts == nil {
		return nil, errOptionsRequired
	}

	source := ManifestSource{
		RollbackFile:       opts.RollbackFile,
		WorkloadSetVersion: opts.WorkloadSetVersion,
	}

	if err := source.validate(); err != nil {
		return nil, err
	}

	s, err := openSession(ctx, &opts.GlobalOptions, true)
	if err != nil {
		return nil, err
	}

	defer s.close(ctx)

	updates, err := s.plannedUpdates(ctx, source, true)
	if err != nil {
		return nil, err
	}

	if len(updates) == 0 && source.WorkloadSetVersion == "" {
		logger.Info(ctx, "Manifests are up to date")
		return nil, nil
	}

	for _, update := range updates {
		logger.InfoKV(ctx, "Manifest update planned",
			"manifest", update.ManifestID,
			"from", update.ExistingVersion.String(),
			"to", update.NewVersion.String())
	}

	err = transaction.RunNew(ctx, func(ctx context.Context, tx *transaction.Transaction) error {
		if err := s.applyManifests(ctx, tx, source, updates); err != nil {
			return err
		}

		ids, err := s.engine.Records.List(ctx, s.band)
		if err != nil || len(ids) == 0 {
			return err
		}

		_, err = s.engine.Installer.InstallWorkloads(ctx, tx, ids, s.band)

		return err
	})
	if err != nil {
		logger.ErrorKV(ctx, "Workload update failed", "error", err)
		return nil, err
	}

	logger.Info(ctx, "Workloads updated")

	s.collectGarbage(ctx, false)

	return updates, nil
}
