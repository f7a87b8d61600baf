package sdks

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/dotnet/sdk-sub044/internal/domain/workload"
)

// sdkDir is the directory of installed SDKs under the dotnet root.
const sdkDir = "sdk"

// Enumerator lists the feature bands of installed SDKs.
type Enumerator interface {
	InstalledFeatureBands(ctx context.Context) ([]workload.FeatureBand, error)
}

// DirectoryEnumerator scans {dotnetRoot}/sdk for version-named directories.
type DirectoryEnumerator struct {
	dotnetRoot string
}

// NewDirectoryEnumerator creates an enumerator for dotnetRoot.
func NewDirectoryEnumerator(dotnetRoot string) *DirectoryEnumerator {
	return &DirectoryEnumerator{dotnetRoot: filepath.Clean(dotnetRoot)}
}

// InstalledVersions returns the installed SDK versions.
func (e *DirectoryEnumerator) InstalledVersions(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(e.dotnetRoot, sdkDir))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}

		return nil, fmt.Errorf("list installed SDKs: %w", err)
	}

	versions := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		if _, err = workload.ParseVersionParts(entry.Name()); err != nil {
			continue
		}

		versions = append(versions, entry.Name())
	}

	sort.Strings(versions)

	return versions, nil
}

// InstalledFeatureBands returns the distinct bands of installed SDKs in ascending order.
func (e *DirectoryEnumerator) InstalledFeatureBands(ctx context.Context) ([]workload.FeatureBand, error) {
	versions, err := e.InstalledVersions(ctx)
	if err != nil {
		return nil, err
	}

	seen := make(map[workload.FeatureBand]struct{}, len(versions))
	bands := make([]workload.FeatureBand, 0, len(versions))

	for _, version := range versions {
		band, err := workload.NewFeatureBand(version)
		if err != nil {
			continue
		}

		if _, dup := seen[band]; dup {
			continue
		}

		seen[band] = struct{}{}
		bands = append(bands, band)
	}

	sort.Slice(bands, func(i, j int) bool { return bands[i].Compare(bands[j]) < 0 })

	return bands, nil
}

// Static is an Enumerator over a fixed list of bands.
type Static []workload.FeatureBand

// InstalledFeatureBands returns the fixed bands.
func (s Static) InstalledFeatureBands(context.Context) ([]workload.FeatureBand, error) {
	return append([]workload.FeatureBand(nil), s...), nil
}
