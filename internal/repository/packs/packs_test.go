package packs

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dotnet/sdk-sub044/internal/domain/workload"
	"github.com/dotnet/sdk-sub044/internal/domain/workloadset"
	"github.com/dotnet/sdk-sub044/internal/testutil"
)

func mustBand(t *testing.T, version string) workload.FeatureBand {
	t.Helper()

	band, err := workload.NewFeatureBand(version)
	require.NoError(t, err)

	return band
}

func sdkPack() workload.PackInfo {
	return workload.PackInfo{
		ID:                "Microsoft.Android.Sdk",
		Version:           "34.0.43",
		Kind:              workload.PackKindSDK,
		ResolvedPackageID: "Microsoft.Android.Sdk.Linux",
	}
}

// TestStore_InstallRemove extracts directory packs and copies single-file packs.
func TestStore_InstallRemove(t *testing.T) {
	t.Parallel()

	var (
		ctx   = context.Background()
		dir   = t.TempDir()
		store = NewStore(filepath.Join(dir, "root"))
		pack  = sdkPack()
	)

	pkg := testutil.WritePackage(t, filepath.Join(dir, "sdk.nupkg"), map[string]string{
		"tools/android.targets":    "<Project/>",
		"[Content_Types].xml":      "<Types/>",
		"_rels/.rels":              "<Relationships/>",
		"Microsoft.Android.nuspec": "<package/>",
	})

	require.False(t, store.IsInstalled(pack))
	require.NoError(t, store.Install(ctx, pack, pkg))
	require.True(t, store.IsInstalled(pack))
	require.FileExists(t, filepath.Join(store.ContentPath(pack), "tools", "android.targets"))
	require.NoFileExists(t, filepath.Join(store.ContentPath(pack), "[Content_Types].xml"))

	template := workload.PackInfo{
		ID:                "Microsoft.Android.Templates",
		Version:           "34.0.43",
		Kind:              workload.PackKindTemplate,
		ResolvedPackageID: "Microsoft.Android.Templates",
	}

	require.NoError(t, store.Install(ctx, template, pkg))
	require.FileExists(t, store.ContentPath(template))

	// Installed content is listed even before any band references it.
	installed, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, installed, 2)
	require.Equal(t, pack, installed[0].Pack)
	require.Equal(t, template, installed[1].Pack)
	require.Empty(t, installed[1].Bands)

	require.NoError(t, store.Remove(ctx, pack))
	require.NoError(t, store.Remove(ctx, pack))
	require.False(t, store.IsInstalled(pack))

	require.NoError(t, store.Remove(ctx, template))
	require.NoFileExists(t, store.ContentPath(template))

	installed, err = store.List(ctx)
	require.NoError(t, err)
	require.Empty(t, installed)
}

// TestStore_References tracks references per band and lists referenced packs.
func TestStore_References(t *testing.T) {
	t.Parallel()

	var (
		ctx     = context.Background()
		store   = NewStore(t.TempDir())
		pack    = sdkPack()
		preview = mustBand(t, "9.0.100-preview.2")
		rc      = mustBand(t, "9.0.100-rc.1")
	)

	require.NoError(t, store.AddReference(ctx, pack, rc))
	require.NoError(t, store.AddReference(ctx, pack, preview))
	require.NoError(t, store.AddReference(ctx, pack, preview))

	bands, err := store.References(pack.Key())
	require.NoError(t, err)
	require.Equal(t, []workload.FeatureBand{preview, rc}, bands)
	require.True(t, store.HasReference(pack.Key(), rc))

	installed, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, installed, 1)
	require.Equal(t, pack, installed[0].Pack)
	require.Equal(t, []workload.FeatureBand{preview, rc}, installed[0].Bands)

	require.NoError(t, store.RemoveReference(ctx, pack.Key(), preview))
	require.NoError(t, store.RemoveReference(ctx, pack.Key(), preview))
	require.NoError(t, store.RemoveReference(ctx, pack.Key(), rc))

	bands, err = store.References(pack.Key())
	require.NoError(t, err)
	require.Empty(t, bands)

	installed, err = store.List(ctx)
	require.NoError(t, err)
	require.Empty(t, installed)
}

// TestExtract_RejectsTraversal refuses entries outside the destination.
func TestExtract_RejectsTraversal(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	pkg := testutil.WritePackage(t, filepath.Join(dir, "evil.nupkg"), map[string]string{
		"../escape.txt": "nope",
	})

	err := Extract(pkg, filepath.Join(dir, "out"))
	require.Error(t, err)
	require.NoFileExists(t, filepath.Join(dir, "escape.txt"))
}

// TestWriteFile_ReplacesContent overwrites existing files atomically.
func TestWriteFile_ReplacesContent(t *testing.T) {
	t.Parallel()

	target := filepath.Join(t.TempDir(), "nested", "file.txt")

	require.NoError(t, WriteFile(target, []byte("first")))
	require.NoError(t, WriteFile(target, []byte("second")))

	data, err := os.ReadFile(target)
	require.NoError(t, err)
	require.Equal(t, "second", string(data))
}

// TestManifestStore installs manifests, workload sets, references and backups.
func TestManifestStore(t *testing.T) {
	t.Parallel()

	var (
		ctx   = context.Background()
		dir   = t.TempDir()
		store = NewManifestStore(filepath.Join(dir, "root"))
		band  = mustBand(t, "8.0.200")
	)

	pin, err := workloadset.ParseManifestPin("34.0.43/8.0.100", band)
	require.NoError(t, err)

	pkg := testutil.WritePackage(t, filepath.Join(dir, "manifest.nupkg"), map[string]string{
		"WorkloadManifest.json": `{"version": "34.0.43"}`,
	})

	require.NoError(t, store.Install(ctx, "Microsoft.NET.Sdk.Android", pin, pkg))
	require.True(t, store.IsInstalled("Microsoft.NET.Sdk.Android", pin))
	require.FileExists(t, filepath.Join(store.Path("Microsoft.NET.Sdk.Android", pin), "WorkloadManifest.json"))

	require.NoError(t, store.AddReference(ctx, "Microsoft.NET.Sdk.Android", pin, band))

	refs, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, refs, 1)
	require.Equal(t, workload.ManifestID("microsoft.net.sdk.android"), refs[0].ID)
	require.Equal(t, pin, refs[0].Pin)
	require.Equal(t, []workload.FeatureBand{band}, refs[0].Bands)

	// Backup and restore.
	path := store.Path("Microsoft.NET.Sdk.Android", pin)
	backup, existed, err := BackupDir(path)
	require.NoError(t, err)
	require.True(t, existed)
	require.NoDirExists(t, path)
	require.NoError(t, RestoreDir(backup, path))
	require.DirExists(t, path)

	_, existed, err = BackupDir(filepath.Join(dir, "missing"))
	require.NoError(t, err)
	require.False(t, existed)

	require.NoError(t, store.RemoveReference(ctx, "Microsoft.NET.Sdk.Android", pin, band))
	require.NoError(t, store.Remove(ctx, "Microsoft.NET.Sdk.Android", pin))
	require.False(t, store.IsInstalled("Microsoft.NET.Sdk.Android", pin))

	// Workload sets.
	setPkg := testutil.WritePackage(t, filepath.Join(dir, "set.nupkg"), map[string]string{
		"microsoft.net.workloads.workloadset.json": `{"microsoft.net.sdk.android": "34.0.43/8.0.100"}`,
		"readme.txt":                               "ignored",
	})

	require.NoError(t, store.InstallWorkloadSet(ctx, band, "8.0.203.1", setPkg))

	set, err := store.ReadWorkloadSet(band, "8.0.203.1")
	require.NoError(t, err)
	require.Equal(t, pin, set.Manifests["microsoft.net.sdk.android"])

	require.NoError(t, store.RemoveWorkloadSet(ctx, band, "8.0.203.1"))
	require.NoDirExists(t, store.WorkloadSetPath(band, "8.0.203.1"))
}
