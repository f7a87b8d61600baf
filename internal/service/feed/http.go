package feed

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"gopkg.in/yaml.v3"

	"github.com/dotnet/sdk-sub044/internal/config"
	"github.com/dotnet/sdk-sub044/internal/logger"
)

// HTTPFeed downloads packages from a flat-container package feed:
// {feed}/{id}/index.json lists versions and
// {feed}/{id}/{version}/{id}.{version}.nupkg is the package.
type HTTPFeed struct {
	baseURL       string
	client        *http.Client
	retries       uint64
	retryInterval time.Duration
}

// HTTPOption configures an HTTPFeed.
type HTTPOption func(*HTTPFeed)

// WithHTTPClient sets the client used for requests.
func WithHTTPClient(client *http.Client) HTTPOption {
	return func(f *HTTPFeed) { f.client = client }
}

// WithRetries bounds the number of attempts per request.
func WithRetries(retries uint64) HTTPOption {
	return func(f *HTTPFeed) { f.retries = retries }
}

// WithRetryInterval sets the first wait between attempts.
func WithRetryInterval(interval time.Duration) HTTPOption {
	return func(f *HTTPFeed) { f.retryInterval = interval }
}

// NewHTTPFeed creates a feed client for baseURL.
func NewHTTPFeed(baseURL string, options ...HTTPOption) *HTTPFeed {
	feed := &HTTPFeed{
		baseURL:       baseURL,
		client:        http.DefaultClient,
		retries:       config.DefaultRetries,
		retryInterval: retryInterval,
	}

	for _, option := range options {
		option(feed)
	}

	return feed
}

// Download fetches the package into destDir, retrying transient failures
// with exponential backoff.
func (f *HTTPFeed) Download(ctx context.Context, packageID, version, destDir string) (string, error) {
	var (
		id          = strings.ToLower(packageID)
		lowVersion  = strings.ToLower(version)
		fileName    = PackageFileName(packageID, version)
		destination = filepath.Join(destDir, fileName)
	)

	if err := os.MkdirAll(destDir, config.DefaultDirPermissions); err != nil {
		return "", fmt.Errorf("create download directory: %w", err)
	}

	operation := func() error {
		response, err := f.get(ctx, id, lowVersion, PackageFileName(id, lowVersion))
		if err != nil {
			return err
		}
		defer response.Body.Close()

		return writeBody(response.Body, destination)
	}

	notify := func(err error, wait time.Duration) {
		logger.WarnKV(ctx, "Download failed, retrying", "package", packageID, "version", version, "wait", wait, "error", err)
	}

	if err := backoff.RetryNotify(operation, f.backoff(ctx), notify); err != nil {
		return "", fmt.Errorf("download %s %s: %w", packageID, version, err)
	}

	logger.DebugKV(ctx, "Downloaded package", "path", destination)

	return destination, nil
}

// LatestVersion reads the version index of the package and returns its newest version.
func (f *HTTPFeed) LatestVersion(ctx context.Context, packageID string, includePrerelease bool) (string, error) {
	var index struct {
		Versions []string `yaml:"versions"`
	}

	operation := func() error {
		response, err := f.get(ctx, strings.ToLower(packageID), "index.json")
		if err != nil {
			return err
		}
		defer response.Body.Close()

		contents, err := io.ReadAll(response.Body)
		if err != nil {
			return err
		}

		return backoff.Permanent(yaml.Unmarshal(contents, &index))
	}

	if err := backoff.Retry(operation, f.backoff(ctx)); err != nil {
		return "", fmt.Errorf("query versions of %s: %w", packageID, err)
	}

	newest := newestVersion(index.Versions, includePrerelease)
	if newest == "" {
		return "", fmt.Errorf("%s: %w", packageID, ErrPackageNotFound)
	}

	return newest, nil
}

// get fetches a file under the feed. Missing files are permanent failures.
func (f *HTTPFeed) get(ctx context.Context, elem ...string) (*http.Response, error) {
	feedURL, err := url.Parse(f.baseURL)
	if err != nil {
		return nil, backoff.Permanent(err)
	}

	// Use path.Join to normalize duplicate slashes when composing the URL path.
	feedURL.Path = path.Join(append([]string{feedURL.Path}, elem...)...)
	finalURL := feedURL.String()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, finalURL, http.NoBody)
	if err != nil {
		return nil, backoff.Permanent(err)
	}

	response, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}

	switch {
	case response.StatusCode == http.StatusOK:
		return response, nil
	case response.StatusCode == http.StatusNotFound:
		_ = response.Body.Close()

		return nil, backoff.Permanent(fmt.Errorf("%s: %w", finalURL, ErrPackageNotFound))
	default:
		_ = response.Body.Close()

		return nil, fmt.Errorf("%s, %s: %w", finalURL, response.Status, errBadHTTPStatus)
	}
}

func (f *HTTPFeed) backoff(ctx context.Context) backoff.BackOff {
	retries := f.retries
	if retries > 0 {
		// The first attempt is not a retry.
		retries--
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = f.retryInterval
	policy.MaxInterval = 10 * f.retryInterval

	return backoff.WithContext(backoff.WithMaxRetries(policy, retries), ctx)
}

func writeBody(body io.Reader, destination string) error {
	outputFile, err := os.Create(filepath.Clean(destination))
	if err != nil {
		return backoff.Permanent(err)
	}

	if _, err = io.Copy(outputFile, body); err != nil {
		_ = outputFile.Close()
		_ = os.Remove(destination)

		return err
	}

	return outputFile.Close()
}
