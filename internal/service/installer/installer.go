package installer

import (
	"context"
	"errors"
	"fmt"

	"github.com/dotnet/sdk-sub044/internal/config"
	"github.com/dotnet/sdk-sub044/internal/domain/workload"
	"github.com/dotnet/sdk-sub044/internal/domain/workloadset"
	"github.com/dotnet/sdk-sub044/internal/repository/packs"
	"github.com/dotnet/sdk-sub044/internal/repository/records"
	"github.com/dotnet/sdk-sub044/internal/repository/state"
	"github.com/dotnet/sdk-sub044/internal/service/feed"
	"github.com/dotnet/sdk-sub044/internal/service/transaction"
)

// WorkloadResolver expands workloads into packs for one feature band.
type WorkloadResolver interface {
	PacksInWorkload(id workload.WorkloadID) ([]workload.PackInfo, error)
	PackInfo(id workload.PackID) (workload.PackInfo, bool)
	InstalledManifests() []workload.InstalledManifest
}

// ResolverFactory builds the resolver for the manifests currently in effect for band.
// It is called again for every operation, so manifest updates made earlier in
// the same transaction are visible.
type ResolverFactory func(ctx context.Context, band workload.FeatureBand) (WorkloadResolver, error)

// Installer applies workload changes to an install context. Every mutating
// method registers its steps on tx; the caller owns the transaction.
type Installer interface {
	InstallWorkloads(ctx context.Context, tx *transaction.Transaction, ids []workload.WorkloadID, band workload.FeatureBand) (*Result, error)
	RepairWorkloads(ctx context.Context, tx *transaction.Transaction, band workload.FeatureBand) (*Result, error)
	UninstallWorkloads(ctx context.Context, tx *transaction.Transaction, ids []workload.WorkloadID, band workload.FeatureBand) error
	InstallWorkloadManifest(ctx context.Context, tx *transaction.Transaction, band workload.FeatureBand, update workload.ManifestVersionUpdate) error
	InstallWorkloadSet(ctx context.Context, tx *transaction.Transaction, band workload.FeatureBand, version string) (*workloadset.Set, error)
	Downloads(ctx context.Context, ids []workload.WorkloadID, band workload.FeatureBand, includeInstalled bool) ([]workload.PackInfo, error)
	DownloadToCache(ctx context.Context, ids []workload.WorkloadID, band workload.FeatureBand, dir string) ([]string, error)
}

// Result reports what an install did.
type Result struct {
	// Installed lists workloads recorded by this call.
	Installed []workload.WorkloadID
	// AlreadyInstalled lists workloads that were complete before the call.
	AlreadyInstalled []workload.WorkloadID
	// Packs lists packs whose content was written by this call.
	Packs []workload.PackInfo
}

// Dependencies are the collaborators of an installer.
type Dependencies struct {
	Records   records.Store
	States    state.Repository
	Packs     *packs.Store
	Manifests *packs.ManifestStore
	Fetcher   feed.Fetcher
	Resolvers ResolverFactory
	// TempDir receives downloads; the system default is used when empty.
	TempDir string
	// Parallelism bounds concurrent downloads.
	Parallelism int
}

var (
	errUnknownInstaller    = errors.New("unknown installer")
	errMissingDependencies = errors.New("installer dependencies are incomplete")
)

// New returns the installer implementation named by kind.
func New(kind string, deps Dependencies) (Installer, error) {
	switch kind {
	case config.InstallerFileBased, "":
		return NewFileBased(deps)
	default:
		return nil, fmt.Errorf("%w: %s", errUnknownInstaller, kind)
	}
}

// Install installs workloads for band in a transaction of its own.
func Install(ctx context.Context, installer Installer, ids []workload.WorkloadID, band workload.FeatureBand) (*Result, error) {
	var result *Result

	err := transaction.RunNew(ctx, func(ctx context.Context, tx *transaction.Transaction) error {
		var err error

		result, err = installer.InstallWorkloads(ctx, tx, ids, band)

		return err
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// Uninstall removes the installation records of workloads for band in a
// transaction of its own. Content is left for garbage collection.
func Uninstall(ctx context.Context, installer Installer, ids []workload.WorkloadID, band workload.FeatureBand) error {
	return transaction.RunNew(ctx, func(ctx context.Context, tx *transaction.Transaction) error {
		return installer.UninstallWorkloads(ctx, tx, ids, band)
	})
}
