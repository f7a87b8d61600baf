package installer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/dotnet/sdk-sub044/internal/config"
	"github.com/dotnet/sdk-sub044/internal/domain/workload"
	"github.com/dotnet/sdk-sub044/internal/logger"
	"github.com/dotnet/sdk-sub044/internal/repository/packs"
	"github.com/dotnet/sdk-sub044/internal/repository/records"
	"github.com/dotnet/sdk-sub044/internal/repository/state"
	"github.com/dotnet/sdk-sub044/internal/service/feed"
	"github.com/dotnet/sdk-sub044/internal/service/transaction"
)

const tempDirPattern = "workload-install-"

// FileBased installs content by writing files under the workload root.
type FileBased struct {
	records     records.Store
	states      state.Repository
	packs       *packs.Store
	manifests   *packs.ManifestStore
	fetcher     feed.Fetcher
	resolvers   ResolverFactory
	tempDir     string
	parallelism int
}

// plan is what InstallWorkloads has to do for a set of workloads.
type plan struct {
	// install lists workloads to record.
	install []workload.WorkloadID
	// already lists complete workloads.
	already []workload.WorkloadID
	// packs lists unique packs missing content or a reference for the band.
	packs []workload.PackInfo
}

// NewFileBased creates a file based installer.
func NewFileBased(deps Dependencies) (*FileBased, error) {
	if deps.Records == nil || deps.States == nil || deps.Packs == nil ||
		deps.Manifests == nil || deps.Fetcher == nil || deps.Resolvers == nil {
		return nil, errMissingDependencies
	}

	parallelism := deps.Parallelism
	if parallelism <= 0 {
		parallelism = config.DefaultParallelism
	}

	return &FileBased{
		records:     deps.Records,
		states:      deps.States,
		packs:       deps.Packs,
		manifests:   deps.Manifests,
		fetcher:     deps.Fetcher,
		resolvers:   deps.Resolvers,
		tempDir:     deps.TempDir,
		parallelism: parallelism,
	}, nil
}

// InstallWorkloads installs the packs of every workload in ids and records
// the workloads for band. Workloads whose content and record already exist are
// reported in Result.AlreadyInstalled and cause no writes.
//
// Unknown or unsupported workloads fail before any step is registered.
func (f *FileBased) InstallWorkloads(ctx context.Context, tx *transaction.Transaction, ids []workload.WorkloadID, band workload.FeatureBand) (*Result, error) {
	ctx = logger.WithKV(logger.WithName(ctx, "installer"), "band", band.String())

	p, err := f.plan(ctx, ids, band)
	if err != nil {
		return nil, err
	}

	result := &Result{AlreadyInstalled: p.already}

	if len(p.install) == 0 {
		logger.InfoKV(ctx, "Workloads are already installed", "workloads", p.already)
		return result, nil
	}

	downloaded, err := f.downloadPacks(ctx, tx, p.packs)
	if err != nil {
		return nil, err
	}

	for _, pack := range p.packs {
		written, err := f.installPack(ctx, tx, pack, band, downloaded)
		if err != nil {
			return nil, err
		}

		if written {
			result.Packs = append(result.Packs, pack)
		}
	}

	// Records go last: a record never points at missing content.
	for _, id := range p.install {
		if err = f.recordWorkload(ctx, tx, id, band); err != nil {
			return nil, err
		}
	}

	result.Installed = p.install

	logger.InfoKV(ctx, "Workloads installed", "workloads", p.install, "packs", len(result.Packs))

	return result, nil
}

// RepairWorkloads reinstalls missing content and references of every workload
// recorded for band.
func (f *FileBased) RepairWorkloads(ctx context.Context, tx *transaction.Transaction, band workload.FeatureBand) (*Result, error) {
	ids, err := f.records.List(ctx, band)
	if err != nil {
		return nil, fmt.Errorf("list installed workloads: %w", err)
	}

	if len(ids) == 0 {
		return &Result{}, nil
	}

	return f.InstallWorkloads(ctx, tx, ids, band)
}

// UninstallWorkloads removes the records of ids for band. Workloads that are
// not installed are skipped.
func (f *FileBased) UninstallWorkloads(ctx context.Context, tx *transaction.Transaction, ids []workload.WorkloadID, band workload.FeatureBand) error {
	ctx = logger.WithKV(logger.WithName(ctx, "installer"), "band", band.String())

	for _, id := range uniqueIDs(ids) {
		id := id
		recorded, err := records.Has(ctx, f.records, id, band)
		if err != nil {
			return fmt.Errorf("check record of %s: %w", id, err)
		}

		if !recorded {
			logger.InfoKV(ctx, "Workload is not installed", "workload", id)
			continue
		}

		err = tx.Do(ctx, transaction.Step{
			Name: "remove record " + id.String(),
			Action: func(ctx context.Context) error {
				return f.records.Delete(ctx, id, band)
			},
			Rollback: func(ctx context.Context) error {
				return f.records.Write(ctx, id, band)
			},
		})
		if err != nil {
			return err
		}
	}

	return nil
}

// Downloads lists the packs needed by ids, sorted by package key. Installed
// packs are left out unless includeInstalled is set.
func (f *FileBased) Downloads(ctx context.Context, ids []workload.WorkloadID, band workload.FeatureBand, includeInstalled bool) ([]workload.PackInfo, error) {
	resolver, err := f.resolvers(ctx, band)
	if err != nil {
		return nil, fmt.Errorf("resolve workloads: %w", err)
	}

	var (
		seen   = make(map[workload.PackageKey]struct{})
		result []workload.PackInfo
	)

	for _, id := range uniqueIDs(ids) {
		workloadPacks, err := resolver.PacksInWorkload(id)
		if err != nil {
			return nil, err
		}

		for _, pack := range workloadPacks {
			if _, ok := seen[pack.Key()]; ok {
				continue
			}

			seen[pack.Key()] = struct{}{}

			if !includeInstalled && f.packs.IsInstalled(pack) {
				continue
			}

			result = append(result, pack)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Key().String() < result[j].Key().String()
	})

	return result, nil
}

// DownloadToCache fetches every pack of ids into dir, building an offline
// cache usable by a later install. It returns the package paths.
func (f *FileBased) DownloadToCache(ctx context.Context, ids []workload.WorkloadID, band workload.FeatureBand, dir string) ([]string, error) {
	ctx = logger.WithName(ctx, "installer")

	pending, err := f.Downloads(ctx, ids, band, true)
	if err != nil {
		return nil, err
	}

	if err = os.MkdirAll(dir, config.DefaultDirPermissions); err != nil {
		return nil, fmt.Errorf("create cache directory: %w", err)
	}

	downloaded, err := f.fetchAll(ctx, pending, dir)
	if err != nil {
		return nil, err
	}

	paths := make([]string, 0, len(downloaded))
	for _, path := range downloaded {
		paths = append(paths, path)
	}

	sort.Strings(paths)

	logger.InfoKV(ctx, "Packages downloaded", "dir", dir, "count", len(paths))

	return paths, nil
}

func (f *FileBased) plan(ctx context.Context, ids []workload.WorkloadID, band workload.FeatureBand) (*plan, error) {
	resolver, err := f.resolvers(ctx, band)
	if err != nil {
		return nil, fmt.Errorf("resolve workloads: %w", err)
	}

	var (
		p    = new(plan)
		seen = make(map[workload.PackageKey]struct{})
	)

	for _, id := range uniqueIDs(ids) {
		workloadPacks, err := resolver.PacksInWorkload(id)
		if err != nil {
			return nil, err
		}

		complete, err := records.Has(ctx, f.records, id, band)
		if err != nil {
			return nil, fmt.Errorf("check record of %s: %w", id, err)
		}

		for _, pack := range workloadPacks {
			if f.packs.IsInstalled(pack) && f.packs.HasReference(pack.Key(), band) {
				continue
			}

			complete = false

			if _, ok := seen[pack.Key()]; ok {
				continue
			}

			seen[pack.Key()] = struct{}{}
			p.packs = append(p.packs, pack)
		}

		if complete {
			p.already = append(p.already, id)
		} else {
			p.install = append(p.install, id)
		}
	}

	return p, nil
}

// downloadPacks registers one step fetching every pack without content.
func (f *FileBased) downloadPacks(ctx context.Context, tx *transaction.Transaction, candidates []workload.PackInfo) (map[workload.PackageKey]string, error) {
	var pending []workload.PackInfo

	for _, pack := range candidates {
		if !f.packs.IsInstalled(pack) {
			pending = append(pending, pack)
		}
	}

	if len(pending) == 0 {
		return nil, nil
	}

	var (
		dir        string
		downloaded map[workload.PackageKey]string
	)

	err := tx.Do(ctx, transaction.Step{
		Name: "download packs",
		Action: func(ctx context.Context) error {
			var err error

			if dir, err = f.makeTempDir(); err != nil {
				return err
			}

			downloaded, err = f.fetchAll(ctx, pending, dir)

			return err
		},
		Cleanup: func(context.Context) error {
			return removeTempDir(dir)
		},
	})

	return downloaded, err
}

// fetchAll downloads packs into dir on a bounded worker pool. The first
// failure cancels the remaining downloads.
func (f *FileBased) fetchAll(ctx context.Context, pending []workload.PackInfo, dir string) (map[workload.PackageKey]string, error) {
	var (
		mu     sync.Mutex
		result = make(map[workload.PackageKey]string, len(pending))
	)

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(f.parallelism)

	for _, pack := range pending {
		pack := pack
		group.Go(func() error {
			logger.DebugKV(groupCtx, "Downloading pack", "pack", pack.Key())

			path, err := f.fetcher.Download(groupCtx, pack.ResolvedPackageID, pack.Version, dir)
			if err != nil {
				return &workload.PackInstallError{PackageID: pack.ResolvedPackageID, Version: pack.Version, Err: err}
			}

			mu.Lock()
			result[pack.Key()] = path
			mu.Unlock()

			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return nil, err
	}

	return result, nil
}

// installPack registers the step writing the content and the band reference
// of pack. It reports whether content will be written.
func (f *FileBased) installPack(
	ctx context.Context,
	tx *transaction.Transaction,
	pack workload.PackInfo,
	band workload.FeatureBand,
	downloaded map[workload.PackageKey]string,
) (bool, error) {
	var (
		key           = pack.Key()
		preInstalled  = f.packs.IsInstalled(pack)
		preReferenced = f.packs.HasReference(key, band)
	)

	err := tx.Do(ctx, transaction.Step{
		Name: "install pack " + key.String(),
		Action: func(ctx context.Context) error {
			if !preInstalled {
				logger.InfoKV(ctx, "Installing pack", "pack", key, "kind", pack.Kind)

				if err := f.packs.Install(ctx, pack, downloaded[key]); err != nil {
					return &workload.PackInstallError{PackageID: key.PackageID, Version: key.Version, Err: err}
				}
			}

			if !preReferenced {
				if err := f.packs.AddReference(ctx, pack, band); err != nil {
					return &workload.PackInstallError{PackageID: key.PackageID, Version: key.Version, Err: err}
				}
			}

			return nil
		},
		Rollback: func(ctx context.Context) error {
			if !preReferenced {
				if err := f.packs.RemoveReference(ctx, key, band); err != nil {
					return err
				}
			}

			if preInstalled {
				return nil
			}

			bands, err := f.packs.References(key)
			if err != nil {
				return err
			}

			if len(bands) > 0 {
				return nil
			}

			logger.InfoKV(ctx, "Removing pack", "pack", key)

			return f.packs.Remove(ctx, pack)
		},
	})

	return !preInstalled, err
}

func (f *FileBased) recordWorkload(ctx context.Context, tx *transaction.Transaction, id workload.WorkloadID, band workload.FeatureBand) error {
	recorded, err := records.Has(ctx, f.records, id, band)
	if err != nil {
		return fmt.Errorf("check record of %s: %w", id, err)
	}

	if recorded {
		return nil
	}

	return tx.Do(ctx, transaction.Step{
		Name: "record workload " + id.String(),
		Action: func(ctx context.Context) error {
			return f.records.Write(ctx, id, band)
		},
		Rollback: func(ctx context.Context) error {
			return f.records.Delete(ctx, id, band)
		},
	})
}

func (f *FileBased) makeTempDir() (string, error) {
	if f.tempDir != "" {
		if err := os.MkdirAll(f.tempDir, config.DefaultDirPermissions); err != nil {
			return "", fmt.Errorf("create temporary directory: %w", err)
		}
	}

	dir, err := os.MkdirTemp(f.tempDir, tempDirPattern)
	if err != nil {
		return "", fmt.Errorf("create temporary directory: %w", err)
	}

	return dir, nil
}

func removeTempDir(dir string) error {
	if dir == "" {
		return nil
	}

	if err := os.RemoveAll(dir); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}

	return nil
}

func uniqueIDs(ids []workload.WorkloadID) []workload.WorkloadID {
	seen := make(map[workload.WorkloadID]struct{}, len(ids))
	result := make([]workload.WorkloadID, 0, len(ids))

	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}

		seen[id] = struct{}{}
		result = append(result, id)
	}

	return result
}
