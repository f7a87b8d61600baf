package feed

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/mod/semver"

	"github.com/dotnet/sdk-sub044/internal/config"
)

// Fetcher downloads packages into a local directory.
type Fetcher interface {
	// Download places the package in destDir and returns the file path.
	Download(ctx context.Context, packageID, version, destDir string) (string, error)
	// LatestVersion returns the newest available version of a package.
	LatestVersion(ctx context.Context, packageID string, includePrerelease bool) (string, error)
}

var (
	// ErrNotInCache is returned by the offline cache for packages it does not hold.
	ErrNotInCache = errors.New("package not found in offline cache")
	// ErrPackageNotFound is returned when the feed does not know the package or version.
	ErrPackageNotFound = errors.New("package not found in feed")
	// errBadHTTPStatus is returned when the feed answers with an unexpected status.
	errBadHTTPStatus = errors.New("bad HTTP status")
	// errNoSource is returned when neither a feed nor an offline cache is configured.
	errNoSource = errors.New("no package feed or offline cache configured")
)

// PackageFileName returns the file name of a package: "{id}.{version}.nupkg".
func PackageFileName(packageID, version string) string {
	return fmt.Sprintf("%s.%s.nupkg", packageID, version)
}

// New returns the fetcher selected by settings. An offline cache replaces the feed.
func New(settings *config.Config) (Fetcher, error) {
	if settings.OfflineCache != "" {
		return NewOfflineCache(settings.OfflineCache), nil
	}

	if settings.FeedURL == "" {
		return nil, errNoSource
	}

	return NewHTTPFeed(settings.FeedURL,
		WithHTTPClient(&http.Client{Timeout: settings.Timeout}),
		WithRetries(settings.Retries),
	), nil
}

// newestVersion returns the highest semantic version of versions.
func newestVersion(versions []string, includePrerelease bool) string {
	var newest string

	for _, version := range versions {
		canonical := "v" + version
		if !semver.IsValid(canonical) {
			continue
		}

		if !includePrerelease && semver.Prerelease(canonical) != "" {
			continue
		}

		if newest == "" || semver.Compare(canonical, "v"+newest) > 0 {
			newest = version
		}
	}

	return newest
}

// retryInterval bounds the first wait between download attempts.
const retryInterval = 500 * time.Millisecond
