package commands

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/dotnet/sdk-sub044/internal/config"
	"github.com/dotnet/sdk-sub044/internal/domain/workload"
	"github.com/dotnet/sdk-sub044/internal/domain/workloadset"
	"github.com/dotnet/sdk-sub044/internal/repository/packs"
	"github.com/dotnet/sdk-sub044/internal/repository/records"
	"github.com/dotnet/sdk-sub044/internal/repository/state"
	"github.com/dotnet/sdk-sub044/internal/service/common"
	"github.com/dotnet/sdk-sub044/internal/service/feed"
	"github.com/dotnet/sdk-sub044/internal/service/sdks"
	"github.com/dotnet/sdk-sub044/internal/testutil"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const (
	sdkVersion    = "8.0.203"
	androidID     = "microsoft.net.sdk.android"
	androidPackID = "Microsoft.Android.Sdk"
)

// env is a dotnet root with one android manifest and an offline cache.
type env struct {
	root  string
	cache string
	band  workload.FeatureBand
}

func newEnv(t *testing.T) *env {
	t.Helper()

	band, err := workload.NewFeatureBand(sdkVersion)
	require.NoError(t, err)

	e := &env{root: t.TempDir(), cache: t.TempDir(), band: band}

	dir := filepath.Join(config.ManifestsPath(e.root), band.String(), androidID, "34.0.1")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "WorkloadManifest.json"), []byte(androidManifest("34.0.1")), 0o600))

	e.addPack(t, "34.0.1")

	return e
}

func androidManifest(version string) string {
	return fmt.Sprintf(`{
  "version": %[1]q,
  "workloads": {
    "android": {"description": "Android SDK", "packs": [%[2]q]}
  },
  "packs": {
    %[2]q: {"kind": "sdk", "version": %[1]q}
  }
}`, version, androidPackID)
}

func (e *env) addPack(t *testing.T, version string) {
	t.Helper()

	testutil.WritePackage(t, filepath.Join(e.cache, feed.PackageFileName(androidPackID, version)), map[string]string{
		"data/sdk.txt": version,
	})
}

// publishManifest puts a newer android manifest package in the cache.
func (e *env) publishManifest(t *testing.T, version string) {
	t.Helper()

	packageID := workload.ManifestPackageID(androidID, e.band)
	testutil.WritePackage(t, filepath.Join(e.cache, feed.PackageFileName(packageID, version)), map[string]string{
		"WorkloadManifest.json": androidManifest(version),
	})

	e.addPack(t, version)
}

func (e *env) global() GlobalOptions {
	return GlobalOptions{
		SDKVersion:   sdkVersion,
		DotnetRoot:   e.root,
		OfflineCache: e.cache,
		EngineOptions: []common.Option{
			common.WithSDKEnumerator(sdks.Static{}),
			common.WithRID("linux-x64"),
		},
	}
}

func (e *env) packInstalled(version string) bool {
	return packs.NewStore(e.root).IsInstalled(workload.PackInfo{
		ID:                androidPackID,
		Version:           version,
		Kind:              workload.PackKindSDK,
		ResolvedPackageID: androidPackID,
	})
}

func (e *env) recorded(t *testing.T) []workload.WorkloadID {
	t.Helper()

	ids, err := records.NewFileStore(e.root, workload.InstallContextGlobal).List(context.Background(), e.band)
	require.NoError(t, err)

	return ids
}

func (e *env) install(t *testing.T) {
	t.Helper()

	result, err := Install(context.Background(), &InstallOptions{
		GlobalOptions: e.global(),
		Workloads:     []string{"android"},
	})
	require.NoError(t, err)
	require.Equal(t, []workload.WorkloadID{"android"}, result.Installed)
}

// TestInstall installs a workload, lists it and is idempotent.
func TestInstall(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	e.install(t)

	require.True(t, e.packInstalled("34.0.1"))
	require.Equal(t, []workload.WorkloadID{"android"}, e.recorded(t))

	result, err := Install(context.Background(), &InstallOptions{
		GlobalOptions: e.global(),
		Workloads:     []string{"android"},
	})
	require.NoError(t, err)
	require.Empty(t, result.Installed)
	require.Equal(t, []workload.WorkloadID{"android"}, result.AlreadyInstalled)

	var output bytes.Buffer

	listing, err := List(context.Background(), &ListOptions{GlobalOptions: e.global(), Output: &output})
	require.NoError(t, err)
	require.Len(t, listing.Workloads, 1)
	require.Equal(t, workload.WorkloadID("android"), listing.Workloads[0].ID)
	require.Equal(t, "34.0.1", listing.Workloads[0].Manifest.Version.String())
	require.Contains(t, output.String(), "android")
	require.Contains(t, output.String(), "34.0.1/8.0.200")
}

// TestInstall_Validation rejects bad inputs before touching the root.
func TestInstall_Validation(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	e := newEnv(t)

	_, err := Install(ctx, nil)
	require.ErrorIs(t, err, errOptionsRequired)

	_, err = Install(ctx, &InstallOptions{GlobalOptions: e.global()})
	require.ErrorIs(t, err, errNoWorkloads)

	global := e.global()
	global.SDKVersion = ""

	_, err = Install(ctx, &InstallOptions{GlobalOptions: global, Workloads: []string{"android"}})
	require.ErrorIs(t, err, errSDKVersion)

	_, err = Install(ctx, &InstallOptions{
		GlobalOptions:  e.global(),
		ManifestSource: ManifestSource{RollbackFile: "rollback.json", WorkloadSetVersion: "8.203.1"},
		Workloads:      []string{"android"},
	})
	require.ErrorIs(t, err, errConflictingSources)

	_, err = Install(ctx, &InstallOptions{GlobalOptions: e.global(), Workloads: []string{"wasm-tools"}})
	require.ErrorIs(t, err, workload.ErrWorkloadNotFound)
	require.Empty(t, e.recorded(t))
}

// TestInstall_RollbackFile pins the manifest named by a rollback file.
func TestInstall_RollbackFile(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	e := newEnv(t)
	e.publishManifest(t, "34.0.43")

	rollback := filepath.Join(t.TempDir(), "rollback.json")
	require.NoError(t, os.WriteFile(rollback, []byte(`{"microsoft.net.sdk.android": "34.0.43"}`), 0o600))

	_, err := Install(ctx, &InstallOptions{
		GlobalOptions:  e.global(),
		ManifestSource: ManifestSource{RollbackFile: rollback},
		Workloads:      []string{"android"},
	})
	require.NoError(t, err)

	require.True(t, e.packInstalled("34.0.43"))
	require.False(t, e.packInstalled("34.0.1"))

	current, err := state.NewFileRepository(e.root).Load(ctx, e.band)
	require.NoError(t, err)
	require.Equal(t, "34.0.43", current.Manifests[androidID].Version.String())
}

// TestInstall_InvalidRollbackFile changes nothing.
func TestInstall_InvalidRollbackFile(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	e := newEnv(t)

	rollback := filepath.Join(t.TempDir(), "rollback.json")
	require.NoError(t, os.WriteFile(rollback, []byte(`{"microsoft.net.sdk.unknown": "1.0.0"}`), 0o600))

	_, err := Install(ctx, &InstallOptions{
		GlobalOptions:  e.global(),
		ManifestSource: ManifestSource{RollbackFile: rollback},
		Workloads:      []string{"android"},
	})
	require.ErrorIs(t, err, workload.ErrInvalidRollbackDefinition)

	require.False(t, e.packInstalled("34.0.1"))
	require.Empty(t, e.recorded(t))

	_, err = state.NewFileRepository(e.root).Load(ctx, e.band)
	require.ErrorIs(t, err, state.ErrNotFound)
}

// TestUpdate moves the manifest forward and collects the old pack.
func TestUpdate(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	e := newEnv(t)
	e.install(t)

	updates, err := Update(ctx, &UpdateOptions{GlobalOptions: e.global()})
	require.NoError(t, err)
	require.Empty(t, updates)

	e.publishManifest(t, "34.0.43")

	updates, err = Update(ctx, &UpdateOptions{GlobalOptions: e.global()})
	require.NoError(t, err)
	require.Len(t, updates, 1)
	require.Equal(t, "34.0.1", updates[0].ExistingVersion.String())
	require.Equal(t, "34.0.43", updates[0].NewVersion.String())

	require.True(t, e.packInstalled("34.0.43"))
	require.False(t, e.packInstalled("34.0.1"))
	require.Equal(t, []workload.WorkloadID{"android"}, e.recorded(t))

	pin := workloadset.ManifestPin{Version: updates[0].NewVersion, FeatureBand: e.band}
	require.True(t, packs.NewManifestStore(e.root).HasReference(androidID, pin, e.band))
}

// TestUninstall removes the record and the content nothing else needs.
func TestUninstall(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	e := newEnv(t)
	e.install(t)

	require.ErrorIs(t, Uninstall(ctx, &UninstallOptions{GlobalOptions: e.global()}), errNoWorkloads)

	require.NoError(t, Uninstall(ctx, &UninstallOptions{
		GlobalOptions: e.global(),
		Workloads:     []string{"android"},
	}))

	require.Empty(t, e.recorded(t))
	require.False(t, e.packInstalled("34.0.1"))
}

// TestRepair restores deleted pack content.
func TestRepair(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	e := newEnv(t)
	e.install(t)

	content := packs.NewStore(e.root).ContentPath(workload.PackInfo{
		Version:           "34.0.1",
		Kind:              workload.PackKindSDK,
		ResolvedPackageID: androidPackID,
	})
	require.NoError(t, os.RemoveAll(content))

	result, err := Repair(ctx, &RepairOptions{GlobalOptions: e.global()})
	require.NoError(t, err)
	require.Equal(t, []workload.WorkloadID{"android"}, result.Installed)
	require.True(t, e.packInstalled("34.0.1"))
}

// TestClean drops records of bands without an SDK only when asked to.
func TestClean(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	e := newEnv(t)
	e.install(t)

	stale, err := workload.NewFeatureBand("8.0.100")
	require.NoError(t, err)
	require.NoError(t, records.NewFileStore(e.root, workload.InstallContextGlobal).Write(ctx, "ios", stale))

	report, err := Clean(ctx, &CleanOptions{GlobalOptions: e.global()})
	require.NoError(t, err)
	require.True(t, report.IsEmpty())

	report, err = Clean(ctx, &CleanOptions{GlobalOptions: e.global(), All: true})
	require.NoError(t, err)
	require.Equal(t, 1, report.Records)
	require.Empty(t, report.Packs)

	require.True(t, e.packInstalled("34.0.1"))
	require.Equal(t, []workload.WorkloadID{"android"}, e.recorded(t))
}

// brokenEnumerator fails every SDK listing, which makes garbage collection fail.
type brokenEnumerator struct{}

var errSDKListing = errors.New("sdk directory is unreadable")

func (brokenEnumerator) InstalledFeatureBands(context.Context) ([]workload.FeatureBand, error) {
	return nil, errSDKListing
}

// TestCollectionFailureIsWarning keeps committed installs and uninstalls when
// the collection that follows them fails.
func TestCollectionFailureIsWarning(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	e := newEnv(t)

	broken := e.global()
	broken.EngineOptions = []common.Option{
		common.WithSDKEnumerator(brokenEnumerator{}),
		common.WithRID("linux-x64"),
	}

	result, err := Install(ctx, &InstallOptions{GlobalOptions: broken, Workloads: []string{"android"}})
	require.NoError(t, err)
	require.Equal(t, []workload.WorkloadID{"android"}, result.Installed)
	require.Equal(t, []workload.WorkloadID{"android"}, e.recorded(t))
	require.True(t, e.packInstalled("34.0.1"))

	require.NoError(t, Uninstall(ctx, &UninstallOptions{GlobalOptions: broken, Workloads: []string{"android"}}))
	require.Empty(t, e.recorded(t))

	// The pack waits for the next collection that succeeds.
	require.True(t, e.packInstalled("34.0.1"))

	_, err = Clean(ctx, &CleanOptions{GlobalOptions: broken})
	require.ErrorIs(t, err, workload.ErrGarbageCollectionFailure)
	require.ErrorIs(t, err, errSDKListing)

	report, err := Clean(ctx, &CleanOptions{GlobalOptions: e.global()})
	require.NoError(t, err)
	require.Len(t, report.Packs, 1)
	require.False(t, e.packInstalled("34.0.1"))
}

// TestDownload builds an offline cache without installing.
func TestDownload(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	e := newEnv(t)
	out := filepath.Join(t.TempDir(), "cache")

	_, err := Download(ctx, &DownloadOptions{GlobalOptions: e.global(), Workloads: []string{"android"}})
	require.ErrorIs(t, err, errOutputDir)

	paths, err := Download(ctx, &DownloadOptions{
		GlobalOptions: e.global(),
		Workloads:     []string{"android"},
		OutputDir:     out,
	})
	require.NoError(t, err)
	require.Equal(t, []string{filepath.Join(out, feed.PackageFileName(androidPackID, "34.0.1"))}, paths)

	require.False(t, e.packInstalled("34.0.1"))
	require.Empty(t, e.recorded(t))
}
