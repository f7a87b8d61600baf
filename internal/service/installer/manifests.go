package installer

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/dotnet/sdk-sub044/internal/domain/workload"
	"github.com/dotnet/sdk-sub044/internal/domain/workloadset"
	"github.com/dotnet/sdk-sub044/internal/logger"
	"github.com/dotnet/sdk-sub044/internal/repository/packs"
	"github.com/dotnet/sdk-sub044/internal/repository/state"
	"github.com/dotnet/sdk-sub044/internal/service/transaction"
)

// InstallWorkloadManifest installs the target version of update, references it
// from band and pins it in the install state of band.
func (f *FileBased) InstallWorkloadManifest(ctx context.Context, tx *transaction.Transaction, band workload.FeatureBand, update workload.ManifestVersionUpdate) error {
	var (
		id        = update.ManifestID.Normalized()
		pin       = workloadset.ManifestPin{Version: update.NewVersion, FeatureBand: update.NewFeatureBand}
		packageID = workload.ManifestPackageID(id, pin.FeatureBand)
		version   = pin.Version.String()
	)

	ctx = logger.WithKV(logger.WithName(ctx, "installer"), "band", band.String(), "manifest", id)

	logger.InfoKV(ctx, "Updating manifest",
		"from", update.ExistingVersion.String(), "to", pin.String())

	packagePath, err := f.downloadPackage(ctx, tx, packageID, version)
	if err != nil {
		return err
	}

	err = f.replaceDir(ctx, tx, replacement{
		name:      "install manifest " + id.String(),
		path:      f.manifests.Path(id, pin),
		packageID: packageID,
		version:   version,
		install: func(ctx context.Context) error {
			return f.manifests.Install(ctx, id, pin, packagePath)
		},
		remove: func(ctx context.Context) error {
			return f.manifests.Remove(ctx, id, pin)
		},
	})
	if err != nil {
		return err
	}

	preReferenced := f.manifests.HasReference(id, pin, band)

	err = tx.Do(ctx, transaction.Step{
		Name: "reference manifest " + id.String(),
		Action: func(ctx context.Context) error {
			return f.manifests.AddReference(ctx, id, pin, band)
		},
		Rollback: func(ctx context.Context) error {
			if preReferenced {
				return nil
			}

			return f.manifests.RemoveReference(ctx, id, pin, band)
		},
	})
	if err != nil {
		return err
	}

	return f.updateState(ctx, tx, band, "pin manifest "+id.String(), func(current *state.InstallState) {
		current.Manifests[id] = pin
	})
}

// InstallWorkloadSet downloads and installs the workload set version,
// references it from band, records it in the install state of band and
// returns its manifest pins. The set is stored under the band it was
// published for, which may differ from band. The caller applies the pins
// with InstallWorkloadManifest.
func (f *FileBased) InstallWorkloadSet(ctx context.Context, tx *transaction.Transaction, band workload.FeatureBand, version string) (*workloadset.Set, error) {
	setBand, packageVersion, err := workloadset.ToPackageVersion(version)
	if err != nil {
		return nil, err
	}

	packageID := workloadset.PackageID(setBand)

	ctx = logger.WithKV(logger.WithName(ctx, "installer"), "band", band.String(), "workloadSet", version)
	logger.InfoKV(ctx, "Installing workload set", "package", packageID, "packageVersion", packageVersion)

	packagePath, err := f.downloadPackage(ctx, tx, packageID, packageVersion)
	if err != nil {
		return nil, err
	}

	err = f.replaceDir(ctx, tx, replacement{
		name:      "install workload set " + version,
		path:      f.manifests.WorkloadSetPath(setBand, version),
		packageID: packageID,
		version:   packageVersion,
		install: func(ctx context.Context) error {
			return f.manifests.InstallWorkloadSet(ctx, setBand, version, packagePath)
		},
		remove: func(ctx context.Context) error {
			return f.manifests.RemoveWorkloadSet(ctx, setBand, version)
		},
	})
	if err != nil {
		return nil, err
	}

	set, err := f.manifests.ReadWorkloadSet(setBand, version)
	if err != nil {
		return nil, err
	}

	preReferenced := f.manifests.HasWorkloadSetReference(setBand, version, band)

	err = tx.Do(ctx, transaction.Step{
		Name: "reference workload set " + version,
		Action: func(ctx context.Context) error {
			return f.manifests.AddWorkloadSetReference(ctx, setBand, version, band)
		},
		Rollback: func(ctx context.Context) error {
			if preReferenced {
				return nil
			}

			return f.manifests.RemoveWorkloadSetReference(ctx, setBand, version, band)
		},
	})
	if err != nil {
		return nil, err
	}

	err = f.updateState(ctx, tx, band, "pin workload set "+version, func(current *state.InstallState) {
		current.WorkloadSetVersion = version
	})
	if err != nil {
		return nil, err
	}

	return set, nil
}

// downloadPackage registers a step fetching one package into a temporary
// directory that is removed when the transaction ends.
func (f *FileBased) downloadPackage(ctx context.Context, tx *transaction.Transaction, packageID, version string) (string, error) {
	var dir, path string

	err := tx.Do(ctx, transaction.Step{
		Name: "download " + packageID,
		Action: func(ctx context.Context) error {
			var err error

			if dir, err = f.makeTempDir(); err != nil {
				return err
			}

			if path, err = f.fetcher.Download(ctx, packageID, version, dir); err != nil {
				return &workload.PackInstallError{PackageID: packageID, Version: version, Err: err}
			}

			return nil
		},
		Cleanup: func(context.Context) error {
			return removeTempDir(dir)
		},
	})

	return path, err
}

// replacement describes a directory written from a package.
type replacement struct {
	name      string
	path      string
	packageID string
	version   string
	install   transaction.Func
	remove    transaction.Func
}

// replaceDir registers a step writing r.path. Existing content is moved to a
// backup that is restored on rollback and removed once the transaction ends.
func (f *FileBased) replaceDir(ctx context.Context, tx *transaction.Transaction, r replacement) error {
	var (
		backup   string
		backedUp bool
		owned    bool
	)

	return tx.Do(ctx, transaction.Step{
		Name: r.name,
		Action: func(ctx context.Context) error {
			var err error

			if backup, backedUp, err = packs.BackupDir(r.path); err != nil {
				return &workload.PackInstallError{PackageID: r.packageID, Version: r.version, Err: err}
			}

			owned = true

			if err = r.install(ctx); err != nil {
				return &workload.PackInstallError{PackageID: r.packageID, Version: r.version, Err: err}
			}

			return nil
		},
		Rollback: func(ctx context.Context) error {
			switch {
			case !owned:
				return nil
			case backedUp:
				return packs.RestoreDir(backup, r.path)
			default:
				return r.remove(ctx)
			}
		},
		Cleanup: func(context.Context) error {
			if !backedUp {
				return nil
			}

			// After a rollback the backup is back in place and this is a no-op.
			if err := os.RemoveAll(backup); err != nil && !errors.Is(err, os.ErrNotExist) {
				return err
			}

			return nil
		},
	})
}

// updateState registers a step applying mutate to the install state of band.
// Rollback restores the previous state, or deletes it if there was none.
func (f *FileBased) updateState(ctx context.Context, tx *transaction.Transaction, band workload.FeatureBand, name string, mutate func(*state.InstallState)) error {
	var (
		previous *state.InstallState
		loaded   bool
	)

	return tx.Do(ctx, transaction.Step{
		Name: name,
		Action: func(ctx context.Context) error {
			current, err := f.states.Load(ctx, band)

			switch {
			case errors.Is(err, state.ErrNotFound):
				current = nil
			case err != nil:
				return err
			}

			previous, loaded = current, true

			next := current.Clone()
			if next == nil {
				next = new(state.InstallState)
			}

			if next.Manifests == nil {
				next.Manifests = make(map[workload.ManifestID]workloadset.ManifestPin)
			}

			mutate(next)
			next.UpdatedAt = time.Now().UTC()

			return f.states.Save(ctx, band, next)
		},
		Rollback: func(ctx context.Context) error {
			switch {
			case !loaded:
				return nil
			case previous == nil:
				return f.states.Delete(ctx, band)
			default:
				return f.states.Save(ctx, band, previous)
			}
		},
	})
}
