package installer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/dotnet/sdk-sub044/internal/domain/workload"
	"github.com/dotnet/sdk-sub044/internal/domain/workloadset"
	"github.com/dotnet/sdk-sub044/internal/repository/packs"
	"github.com/dotnet/sdk-sub044/internal/repository/records"
	"github.com/dotnet/sdk-sub044/internal/repository/state"
	"github.com/dotnet/sdk-sub044/internal/service/feed"
	"github.com/dotnet/sdk-sub044/internal/service/transaction"
	"github.com/dotnet/sdk-sub044/internal/testutil"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeFetcher serves packages from memory.
type fakeFetcher struct {
	mu       sync.Mutex
	packages map[string][]byte
	calls    map[string]int
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		packages: make(map[string][]byte),
		calls:    make(map[string]int),
	}
}

func (f *fakeFetcher) add(packageID, version string, data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.packages[packageID+"@"+version] = data
}

func (f *fakeFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	total := 0
	for _, count := range f.calls {
		total += count
	}

	return total
}

func (f *fakeFetcher) Download(_ context.Context, packageID, version, destDir string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	key := packageID + "@" + version
	f.calls[key]++

	data, ok := f.packages[key]
	if !ok {
		return "", fmt.Errorf("%s: %w", key, feed.ErrPackageNotFound)
	}

	path := filepath.Join(destDir, feed.PackageFileName(packageID, version))
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", err
	}

	return path, nil
}

func (f *fakeFetcher) LatestVersion(_ context.Context, packageID string, _ bool) (string, error) {
	return "", fmt.Errorf("%s: %w", packageID, feed.ErrPackageNotFound)
}

// staticResolver maps workloads to fixed pack lists.
type staticResolver map[workload.WorkloadID][]workload.PackInfo

func (r staticResolver) PacksInWorkload(id workload.WorkloadID) ([]workload.PackInfo, error) {
	result, ok := r[id]
	if !ok {
		return nil, fmt.Errorf("%s: %w", id, workload.ErrWorkloadNotFound)
	}

	return result, nil
}

func (r staticResolver) PackInfo(id workload.PackID) (workload.PackInfo, bool) {
	for _, packList := range r {
		for _, pack := range packList {
			if pack.ID == id {
				return pack, true
			}
		}
	}

	return workload.PackInfo{}, false
}

func (staticResolver) InstalledManifests() []workload.InstalledManifest { return nil }

type fixture struct {
	installer *FileBased
	fetcher   *fakeFetcher
	records   records.Store
	states    *state.FileRepository
	packs     *packs.Store
	manifests *packs.ManifestStore
	tempDir   string
	band      workload.FeatureBand
}

func newFixture(t *testing.T, resolver staticResolver) *fixture {
	t.Helper()

	band, err := workload.NewFeatureBand("8.0.200")
	require.NoError(t, err)

	var (
		root    = t.TempDir()
		tempDir = t.TempDir()
	)

	fx := &fixture{
		fetcher:   newFakeFetcher(),
		records:   records.NewFileStore(root, workload.InstallContextUser),
		states:    state.NewFileRepository(root),
		packs:     packs.NewStore(root),
		manifests: packs.NewManifestStore(root),
		tempDir:   tempDir,
		band:      band,
	}

	fx.installer, err = NewFileBased(Dependencies{
		Records:   fx.records,
		States:    fx.states,
		Packs:     fx.packs,
		Manifests: fx.manifests,
		Fetcher:   fx.fetcher,
		Resolvers: func(context.Context, workload.FeatureBand) (WorkloadResolver, error) {
			return resolver, nil
		},
		TempDir:     tempDir,
		Parallelism: 4,
	})
	require.NoError(t, err)

	return fx
}

func makePacks(t *testing.T, fetcher *fakeFetcher, names ...string) []workload.PackInfo {
	t.Helper()

	result := make([]workload.PackInfo, 0, len(names))

	for _, name := range names {
		pack := workload.PackInfo{
			ID:                workload.PackID(name),
			Version:           "34.0.43",
			Kind:              workload.PackKindSDK,
			ResolvedPackageID: name,
		}

		fetcher.add(pack.ResolvedPackageID, pack.Version, testutil.PackageBytes(t, map[string]string{
			"data/" + name + ".txt": name,
		}))

		result = append(result, pack)
	}

	return result
}

// requireEmpty asserts that nothing of packList nor any record is left.
func (fx *fixture) requireEmpty(t *testing.T, packList []workload.PackInfo) {
	t.Helper()

	for _, pack := range packList {
		require.False(t, fx.packs.IsInstalled(pack), pack.ID)
		require.False(t, fx.packs.HasReference(pack.Key(), fx.band), pack.ID)
	}

	installed, err := fx.packs.List(context.Background())
	require.NoError(t, err)
	require.Empty(t, installed)

	ids, err := fx.records.List(context.Background(), fx.band)
	require.NoError(t, err)
	require.Empty(t, ids)

	entries, err := os.ReadDir(fx.tempDir)
	require.NoError(t, err)
	require.Empty(t, entries)
}

// TestInstall_XamarinAndroid installs one workload of eight packs and
// reports the second call as already installed.
func TestInstall_XamarinAndroid(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	fetcher := newFakeFetcher()
	packList := makePacks(t, fetcher,
		"Microsoft.Android.Sdk.Linux",
		"Microsoft.Android.Sdk.Windows",
		"Microsoft.Android.Ref.34",
		"Microsoft.Android.Runtime.34.android-arm",
		"Microsoft.Android.Runtime.34.android-arm64",
		"Microsoft.Android.Runtime.34.android-x86",
		"Microsoft.Android.Runtime.34.android-x64",
		"Microsoft.Android.Templates",
	)

	fx := newFixture(t, staticResolver{"xamarin-android": packList})
	fx.fetcher.packages = fetcher.packages

	result, err := Install(ctx, fx.installer, []workload.WorkloadID{"xamarin-android"}, fx.band)
	require.NoError(t, err)
	require.Equal(t, []workload.WorkloadID{"xamarin-android"}, result.Installed)
	require.Empty(t, result.AlreadyInstalled)
	require.Len(t, result.Packs, 8)

	ids, err := fx.records.List(ctx, fx.band)
	require.NoError(t, err)
	require.Equal(t, []workload.WorkloadID{"xamarin-android"}, ids)

	installed, err := fx.packs.List(ctx)
	require.NoError(t, err)
	require.Len(t, installed, 8)

	for _, pack := range packList {
		require.True(t, fx.packs.IsInstalled(pack), pack.ID)
		require.True(t, fx.packs.HasReference(pack.Key(), fx.band), pack.ID)
	}

	calls := fx.fetcher.callCount()
	require.Equal(t, 8, calls)

	again, err := Install(ctx, fx.installer, []workload.WorkloadID{"xamarin-android"}, fx.band)
	require.NoError(t, err)
	require.Empty(t, again.Installed)
	require.Equal(t, []workload.WorkloadID{"xamarin-android"}, again.AlreadyInstalled)
	require.Equal(t, calls, fx.fetcher.callCount())

	ids, err = fx.records.List(ctx, fx.band)
	require.NoError(t, err)
	require.Len(t, ids, 1)
}

// TestInstall_RollbackAtEachPack fails each of three packs in turn and expects
// none of them to remain.
func TestInstall_RollbackAtEachPack(t *testing.T) {
	t.Parallel()

	for position := 0; position < 3; position++ {
		position := position
		t.Run(fmt.Sprintf("pack %d", position+1), func(t *testing.T) {
			t.Parallel()

			ctx := context.Background()

			fetcher := newFakeFetcher()
			packList := makePacks(t, fetcher, "Pack.A", "Pack.B", "Pack.C")

			// Not an archive: extraction fails after the download succeeded.
			broken := packList[position]
			fetcher.add(broken.ResolvedPackageID, broken.Version, []byte("not a package"))

			fx := newFixture(t, staticResolver{"sample": packList})
			fx.fetcher.packages = fetcher.packages

			_, err := Install(ctx, fx.installer, []workload.WorkloadID{"sample"}, fx.band)
			require.ErrorIs(t, err, workload.ErrPackInstallFailure)
			require.NotErrorIs(t, err, workload.ErrRollbackFailure)

			var installErr *workload.PackInstallError
			require.ErrorAs(t, err, &installErr)
			require.Equal(t, broken.ResolvedPackageID, installErr.PackageID)

			fx.requireEmpty(t, packList)
		})
	}
}

// TestInstall_SecondWorkloadFails rolls back the first workload as well and
// surfaces the failure of the second.
func TestInstall_SecondWorkloadFails(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	fetcher := newFakeFetcher()
	androidPacks := makePacks(t, fetcher, "Microsoft.Android.Sdk", "Microsoft.Android.Ref")
	buildPacks := []workload.PackInfo{
		androidPacks[0],
		{ID: "Microsoft.Android.Build", Version: "34.0.43", Kind: workload.PackKindSDK, ResolvedPackageID: "Microsoft.Android.Build"},
	}

	fx := newFixture(t, staticResolver{
		"xamarin-android":       androidPacks,
		"xamarin-android-build": buildPacks,
	})
	fx.fetcher.packages = fetcher.packages

	_, err := Install(ctx, fx.installer, []workload.WorkloadID{"xamarin-android", "xamarin-android-build"}, fx.band)
	require.ErrorIs(t, err, workload.ErrPackInstallFailure)
	require.ErrorIs(t, err, feed.ErrPackageNotFound)

	var installErr *workload.PackInstallError
	require.ErrorAs(t, err, &installErr)
	require.Equal(t, "Microsoft.Android.Build", installErr.PackageID)

	fx.requireEmpty(t, append(androidPacks, buildPacks[1]))
}

// TestInstall_KeepsSharedContent leaves packs of other bands untouched on rollback.
func TestInstall_KeepsSharedContent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	fetcher := newFakeFetcher()
	packList := makePacks(t, fetcher, "Pack.Shared", "Pack.Broken")
	fetcher.add("Pack.Broken", "34.0.43", []byte("broken"))

	fx := newFixture(t, staticResolver{
		"shared": packList[:1],
		"both":   packList,
	})
	fx.fetcher.packages = fetcher.packages

	other, err := workload.NewFeatureBand("8.0.100")
	require.NoError(t, err)

	_, err = Install(ctx, fx.installer, []workload.WorkloadID{"shared"}, other)
	require.NoError(t, err)

	_, err = Install(ctx, fx.installer, []workload.WorkloadID{"both"}, fx.band)
	require.ErrorIs(t, err, workload.ErrPackInstallFailure)

	require.True(t, fx.packs.IsInstalled(packList[0]))
	require.True(t, fx.packs.HasReference(packList[0].Key(), other))
	require.False(t, fx.packs.HasReference(packList[0].Key(), fx.band))
	require.False(t, fx.packs.IsInstalled(packList[1]))
}

// TestInstall_UnknownWorkload fails before touching anything.
func TestInstall_UnknownWorkload(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, staticResolver{})

	_, err := Install(context.Background(), fx.installer, []workload.WorkloadID{"missing"}, fx.band)
	require.ErrorIs(t, err, workload.ErrWorkloadNotFound)
	require.Zero(t, fx.fetcher.callCount())
}

// TestInstall_OfflineCacheMiss never falls back to another source.
func TestInstall_OfflineCacheMiss(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	packList := makePacks(t, newFakeFetcher(), "Pack.A")
	fx := newFixture(t, staticResolver{"sample": packList})

	fx.installer.fetcher = feed.NewOfflineCache(t.TempDir())

	_, err := Install(ctx, fx.installer, []workload.WorkloadID{"sample"}, fx.band)
	require.ErrorIs(t, err, feed.ErrNotInCache)
	require.ErrorIs(t, err, workload.ErrPackInstallFailure)

	fx.requireEmpty(t, packList)
}

// TestInstall_OfflineCache installs from a cache built by DownloadToCache.
func TestInstall_OfflineCache(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	fetcher := newFakeFetcher()
	packList := makePacks(t, fetcher, "Pack.A", "Pack.B")

	source := newFixture(t, staticResolver{"sample": packList})
	source.fetcher.packages = fetcher.packages

	cacheDir := filepath.Join(t.TempDir(), "cache")

	paths, err := source.installer.DownloadToCache(ctx, []workload.WorkloadID{"sample"}, source.band, cacheDir)
	require.NoError(t, err)
	require.Len(t, paths, 2)

	target := newFixture(t, staticResolver{"sample": packList})
	target.installer.fetcher = feed.NewOfflineCache(cacheDir)

	result, err := Install(ctx, target.installer, []workload.WorkloadID{"sample"}, target.band)
	require.NoError(t, err)
	require.Len(t, result.Packs, 2)
}

// TestDownloads leaves out installed packs unless asked.
func TestDownloads(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	fetcher := newFakeFetcher()
	packList := makePacks(t, fetcher, "Pack.B", "Pack.A")

	fx := newFixture(t, staticResolver{"first": packList[:1], "second": packList})
	fx.fetcher.packages = fetcher.packages

	_, err := Install(ctx, fx.installer, []workload.WorkloadID{"first"}, fx.band)
	require.NoError(t, err)

	pending, err := fx.installer.Downloads(ctx, []workload.WorkloadID{"second"}, fx.band, false)
	require.NoError(t, err)
	require.Equal(t, []workload.PackInfo{packList[1]}, pending)

	all, err := fx.installer.Downloads(ctx, []workload.WorkloadID{"first", "second"}, fx.band, true)
	require.NoError(t, err)
	require.Equal(t, []workload.PackInfo{packList[1], packList[0]}, all)
}

// TestUninstallAndRepair removes records and restores missing content.
func TestUninstallAndRepair(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	fetcher := newFakeFetcher()
	packList := makePacks(t, fetcher, "Pack.A", "Pack.B")

	fx := newFixture(t, staticResolver{"sample": packList, "other": packList[:1]})
	fx.fetcher.packages = fetcher.packages

	_, err := Install(ctx, fx.installer, []workload.WorkloadID{"sample", "other"}, fx.band)
	require.NoError(t, err)

	require.NoError(t, fx.packs.Remove(ctx, packList[1]))

	var result *Result

	err = transaction.RunNew(ctx, func(ctx context.Context, tx *transaction.Transaction) error {
		var repairErr error

		result, repairErr = fx.installer.RepairWorkloads(ctx, tx, fx.band)

		return repairErr
	})
	require.NoError(t, err)
	require.Equal(t, []workload.WorkloadID{"other"}, result.AlreadyInstalled)
	require.Equal(t, []workload.WorkloadID{"sample"}, result.Installed)
	require.Equal(t, []workload.PackInfo{packList[1]}, result.Packs)
	require.True(t, fx.packs.IsInstalled(packList[1]))

	require.NoError(t, Uninstall(ctx, fx.installer, []workload.WorkloadID{"sample", "never-installed"}, fx.band))

	ids, err := fx.records.List(ctx, fx.band)
	require.NoError(t, err)
	require.Equal(t, []workload.WorkloadID{"other"}, ids)

	// Uninstall leaves content for garbage collection.
	require.True(t, fx.packs.IsInstalled(packList[1]))
}

// TestUninstall_Rollback restores records when a later step fails.
func TestUninstall_Rollback(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	fetcher := newFakeFetcher()
	packList := makePacks(t, fetcher, "Pack.A")

	fx := newFixture(t, staticResolver{"sample": packList})
	fx.fetcher.packages = fetcher.packages

	_, err := Install(ctx, fx.installer, []workload.WorkloadID{"sample"}, fx.band)
	require.NoError(t, err)

	errLater := errors.New("later step failed")

	err = transaction.RunNew(ctx, func(ctx context.Context, tx *transaction.Transaction) error {
		if err := fx.installer.UninstallWorkloads(ctx, tx, []workload.WorkloadID{"sample"}, fx.band); err != nil {
			return err
		}

		return errLater
	})
	require.ErrorIs(t, err, errLater)

	ids, err := fx.records.List(ctx, fx.band)
	require.NoError(t, err)
	require.Equal(t, []workload.WorkloadID{"sample"}, ids)
}

func manifestUpdate(t *testing.T, id workload.ManifestID, version string, band workload.FeatureBand) workload.ManifestVersionUpdate {
	t.Helper()

	parsed, err := workload.ParseManifestVersion(version)
	require.NoError(t, err)

	return workload.ManifestVersionUpdate{
		ManifestID:     id,
		NewVersion:     parsed,
		NewFeatureBand: band,
	}
}

// TestInstallWorkloadManifest installs, references and pins a manifest.
func TestInstallWorkloadManifest(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	fx := newFixture(t, staticResolver{})

	update := manifestUpdate(t, "Microsoft.NET.Sdk.Android", "34.0.43", fx.band)
	fx.fetcher.add("microsoft.net.sdk.android.manifest-8.0.200", "34.0.43", testutil.PackageBytes(t, map[string]string{
		"WorkloadManifest.json": `{"version": "34.0.43", "workloads": {}, "packs": {}}`,
	}))

	err := transaction.RunNew(ctx, func(ctx context.Context, tx *transaction.Transaction) error {
		return fx.installer.InstallWorkloadManifest(ctx, tx, fx.band, update)
	})
	require.NoError(t, err)

	pin := workloadset.ManifestPin{Version: update.NewVersion, FeatureBand: fx.band}
	require.True(t, fx.manifests.IsInstalled("microsoft.net.sdk.android", pin))
	require.True(t, fx.manifests.HasReference("microsoft.net.sdk.android", pin, fx.band))

	current, err := fx.states.Load(ctx, fx.band)
	require.NoError(t, err)
	require.Equal(t, pin, current.Manifests["microsoft.net.sdk.android"])

	entries, err := os.ReadDir(fx.tempDir)
	require.NoError(t, err)
	require.Empty(t, entries)
}

// TestInstallWorkloadManifest_Rollback restores the previous content and state.
func TestInstallWorkloadManifest_Rollback(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	fx := newFixture(t, staticResolver{})

	update := manifestUpdate(t, "microsoft.net.sdk.ios", "17.2.1", fx.band)
	pin := workloadset.ManifestPin{Version: update.NewVersion, FeatureBand: fx.band}

	fx.fetcher.add("microsoft.net.sdk.ios.manifest-8.0.200", "17.2.1", testutil.PackageBytes(t, map[string]string{
		"WorkloadManifest.json": `{"version": "17.2.1"}`,
	}))

	// A damaged copy of the same version is already on disk.
	existing := fx.manifests.Path("microsoft.net.sdk.ios", pin)
	require.NoError(t, os.MkdirAll(existing, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(existing, "marker"), []byte("old"), 0o600))

	errLater := errors.New("later step failed")

	err := transaction.RunNew(ctx, func(ctx context.Context, tx *transaction.Transaction) error {
		if err := fx.installer.InstallWorkloadManifest(ctx, tx, fx.band, update); err != nil {
			return err
		}

		return errLater
	})
	require.ErrorIs(t, err, errLater)

	contents, err := os.ReadFile(filepath.Join(existing, "marker"))
	require.NoError(t, err)
	require.Equal(t, "old", string(contents))

	_, err = os.Stat(existing + ".backup")
	require.ErrorIs(t, err, os.ErrNotExist)

	require.False(t, fx.manifests.HasReference("microsoft.net.sdk.ios", pin, fx.band))

	_, err = fx.states.Load(ctx, fx.band)
	require.ErrorIs(t, err, state.ErrNotFound)
}

// TestInstallWorkloadSet downloads the set package for the band of the version.
func TestInstallWorkloadSet(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	fx := newFixture(t, staticResolver{})

	fx.fetcher.add("microsoft.net.workloads.8.0.200", "8.203.1", testutil.PackageBytes(t, map[string]string{
		"microsoft.net.workloads.workloadset.json": `{"Microsoft.NET.Sdk.Android": "34.0.43/8.0.100"}`,
	}))

	var set *workloadset.Set

	err := transaction.RunNew(ctx, func(ctx context.Context, tx *transaction.Transaction) error {
		var err error

		set, err = fx.installer.InstallWorkloadSet(ctx, tx, fx.band, "8.0.203.1")

		return err
	})
	require.NoError(t, err)
	require.Equal(t, "8.0.203.1", set.Version)
	require.Equal(t, "34.0.43/8.0.100", set.Manifests["microsoft.net.sdk.android"].String())

	current, err := fx.states.Load(ctx, fx.band)
	require.NoError(t, err)
	require.Equal(t, "8.0.203.1", current.WorkloadSetVersion)
	require.True(t, fx.manifests.HasWorkloadSetReference(fx.band, "8.0.203.1", fx.band))

	err = transaction.RunNew(ctx, func(ctx context.Context, tx *transaction.Transaction) error {
		_, err := fx.installer.InstallWorkloadSet(ctx, tx, fx.band, "8.0")
		return err
	})
	require.ErrorIs(t, err, workload.ErrInvalidVersionFormat)
}

// TestInstallWorkloadSet_PublishedBand stores a set under the band it was
// published for when that differs from the installing band.
func TestInstallWorkloadSet_PublishedBand(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	fx := newFixture(t, staticResolver{})

	setBand, err := workload.NewFeatureBand("9.0.100")
	require.NoError(t, err)

	fx.fetcher.add("microsoft.net.workloads.9.0.100", "9.102.3", testutil.PackageBytes(t, map[string]string{
		"microsoft.net.workloads.workloadset.json": `{"Microsoft.NET.Sdk.Android": "35.0.7/9.0.100"}`,
	}))

	var set *workloadset.Set

	err = transaction.RunNew(ctx, func(ctx context.Context, tx *transaction.Transaction) error {
		var err error

		set, err = fx.installer.InstallWorkloadSet(ctx, tx, fx.band, "9.0.102.3")

		return err
	})
	require.NoError(t, err)
	require.Equal(t, setBand, set.FeatureBand)
	require.Equal(t, "35.0.7/9.0.100", set.Manifests["microsoft.net.sdk.android"].String())

	require.DirExists(t, fx.manifests.WorkloadSetPath(setBand, "9.0.102.3"))
	require.NoDirExists(t, fx.manifests.WorkloadSetPath(fx.band, "9.0.102.3"))
	require.True(t, fx.manifests.HasWorkloadSetReference(setBand, "9.0.102.3", fx.band))

	sets, err := fx.manifests.ListWorkloadSets(ctx)
	require.NoError(t, err)
	require.Equal(t, []packs.InstalledWorkloadSetRef{{
		Version:     "9.0.102.3",
		FeatureBand: setBand,
		Bands:       []workload.FeatureBand{fx.band},
	}}, sets)
}

// TestInstallWorkloadSet_Rollback removes the set, its reference and the pin
// when a later step fails.
func TestInstallWorkloadSet_Rollback(t *testing.T) {
	t.Parallel()

	var (
		ctx      = context.Background()
		fx       = newFixture(t, staticResolver{})
		errLater = errors.New("later step failed")
	)

	fx.fetcher.add("microsoft.net.workloads.8.0.200", "8.203.1", testutil.PackageBytes(t, map[string]string{
		"microsoft.net.workloads.workloadset.json": `{"Microsoft.NET.Sdk.Android": "34.0.43/8.0.100"}`,
	}))

	err := transaction.RunNew(ctx, func(ctx context.Context, tx *transaction.Transaction) error {
		if _, err := fx.installer.InstallWorkloadSet(ctx, tx, fx.band, "8.0.203.1"); err != nil {
			return err
		}

		return errLater
	})
	require.ErrorIs(t, err, errLater)

	require.NoDirExists(t, fx.manifests.WorkloadSetPath(fx.band, "8.0.203.1"))
	require.False(t, fx.manifests.HasWorkloadSetReference(fx.band, "8.0.203.1", fx.band))

	sets, err := fx.manifests.ListWorkloadSets(ctx)
	require.NoError(t, err)
	require.Empty(t, sets)

	_, err = fx.states.Load(ctx, fx.band)
	require.ErrorIs(t, err, state.ErrNotFound)
}

// TestNew selects the installer by kind.
func TestNew(t *testing.T) {
	t.Parallel()

	_, err := New("msi", Dependencies{})
	require.ErrorIs(t, err, errUnknownInstaller)

	_, err = New("", Dependencies{})
	require.ErrorIs(t, err, errMissingDependencies)
}
