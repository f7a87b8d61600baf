package feed

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dotnet/sdk-sub044/internal/repository/packs"
)

// OfflineCache serves packages from a local directory of "{id}.{version}.nupkg" files.
// It never touches the network; a missing package is a hard failure.
type OfflineCache struct {
	dir string
}

// NewOfflineCache creates a fetcher reading from dir.
func NewOfflineCache(dir string) *OfflineCache {
	return &OfflineCache{dir: filepath.Clean(dir)}
}

// Dir returns the cache directory.
func (c *OfflineCache) Dir() string { return c.dir }

// Download copies the cached package into destDir.
func (c *OfflineCache) Download(_ context.Context, packageID, version, destDir string) (string, error) {
	source, err := c.find(packageID, version)
	if err != nil {
		return "", err
	}

	destination := filepath.Join(destDir, PackageFileName(packageID, version))
	if err = packs.CopyFile(source, destination); err != nil {
		return "", fmt.Errorf("copy %s from offline cache: %w", filepath.Base(source), err)
	}

	return destination, nil
}

// LatestVersion returns the newest cached version of the package.
func (c *OfflineCache) LatestVersion(_ context.Context, packageID string, includePrerelease bool) (string, error) {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return "", fmt.Errorf("read offline cache: %w", err)
	}

	var (
		prefix   = strings.ToLower(packageID) + "."
		versions []string
	)

	for _, entry := range entries {
		name := strings.ToLower(entry.Name())
		if entry.IsDir() || !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, ".nupkg") {
			continue
		}

		versions = append(versions, strings.TrimSuffix(strings.TrimPrefix(name, prefix), ".nupkg"))
	}

	newest := newestVersion(versions, includePrerelease)
	if newest == "" {
		return "", fmt.Errorf("%s: %w", packageID, ErrNotInCache)
	}

	return newest, nil
}

// find locates the package file, matching the name case-insensitively.
func (c *OfflineCache) find(packageID, version string) (string, error) {
	exact := filepath.Join(c.dir, PackageFileName(packageID, version))
	if _, err := os.Stat(exact); err == nil {
		return exact, nil
	}

	entries, err := os.ReadDir(c.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("%s: %w", exact, ErrNotInCache)
		}

		return "", fmt.Errorf("read offline cache: %w", err)
	}

	want := PackageFileName(packageID, version)
	for _, entry := range entries {
		if !entry.IsDir() && strings.EqualFold(entry.Name(), want) {
			return filepath.Join(c.dir, entry.Name()), nil
		}
	}

	return "", fmt.Errorf("%s: %w", exact, ErrNotInCache)
}
