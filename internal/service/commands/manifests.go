package commands

import (
	"context"
	"errors"

	"github.com/dotnet/sdk-sub044/internal/domain/workload"
	"github.com/dotnet/sdk-sub044/internal/logger"
	"github.com/dotnet/sdk-sub044/internal/service/transaction"
)

// ManifestSource selects where manifest updates come from. RollbackFile and
// WorkloadSetVersion are mutually exclusive; without either the newest
// advertised manifests are used.
type ManifestSource struct {
	// RollbackFile pins manifests to the versions listed in a file.
	RollbackFile string
	// WorkloadSetVersion installs a workload set and pins its manifests.
	WorkloadSetVersion string
	// SkipManifestUpdate keeps the manifests in effect.
	SkipManifestUpdate bool
}

var errConflictingSources = errors.New("a rollback file and a workload set version cannot be combined")

func (m ManifestSource) validate() error {
	if m.RollbackFile != "" && m.WorkloadSetVersion != "" {
		return errConflictingSources
	}

	return nil
}

// plannedUpdates computes the updates that need no download. It runs before
// any mutation, so invalid rollback files fail with nothing changed. When
// required is false, a feed that cannot be queried only skips the update.
func (s *session) plannedUpdates(ctx context.Context, source ManifestSource, required bool) ([]workload.ManifestVersionUpdate, error) {
	switch {
	case source.RollbackFile != "":
		return s.engine.ManifestResolver.FromRollbackFile(ctx, s.band, source.RollbackFile)
	case source.WorkloadSetVersion != "", source.SkipManifestUpdate:
		return nil, nil
	}

	updates, err := s.engine.ManifestResolver.Latest(ctx, s.band)
	if err != nil {
		if required {
			return nil, err
		}

		logger.WarnKV(ctx, "Unable to check for manifest updates", "error", err)

		return nil, nil
	}

	return updates, nil
}

// applyManifests registers the manifest steps on tx. A workload set is
// installed first and its pins replace planned.
func (s *session) applyManifests(ctx context.Context, tx *transaction.Transaction, source ManifestSource, planned []workload.ManifestVersionUpdate) error {
	updates := planned

	if source.WorkloadSetVersion != "" {
		set, err := s.engine.Installer.InstallWorkloadSet(ctx, tx, s.band, source.WorkloadSetVersion)
		if err != nil {
			return err
		}

		if updates, err = s.engine.ManifestResolver.FromWorkloadSet(ctx, s.band, set); err != nil {
			return err
		}
	}

	for _, update := range updates {
		if err := s.engine.Installer.InstallWorkloadManifest(ctx, tx, s.band, update); err != nil {
			return err
		}
	}

	return nil
}
