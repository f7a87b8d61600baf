package manifests

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/dotnet/sdk-sub044/internal/domain/workload"
	"github.com/dotnet/sdk-sub044/internal/domain/workloadset"
	"github.com/dotnet/sdk-sub044/internal/logger"
	"github.com/dotnet/sdk-sub044/internal/repository/state"
	"github.com/dotnet/sdk-sub044/internal/service/feed"
)

// InstalledSource lists the manifests present on disk for a band.
type InstalledSource interface {
	OnDisk(band workload.FeatureBand) (map[workload.ManifestID]workloadset.ManifestPin, error)
}

// AdvertisingFeed reports the newest published version of a package.
type AdvertisingFeed interface {
	LatestVersion(ctx context.Context, packageID string, includePrerelease bool) (string, error)
}

// Resolver computes manifest version updates for a feature band.
// Output is ordered by manifest identifier; no-op updates are dropped.
type Resolver struct {
	states    state.Repository
	installed InstalledSource
	feed      AdvertisingFeed
	// includePrerelease lets Latest pick prerelease manifest versions.
	includePrerelease bool
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithFeed sets the feed queried by Latest.
func WithFeed(advertising AdvertisingFeed) Option {
	return func(r *Resolver) { r.feed = advertising }
}

// WithPrerelease allows Latest to select prerelease versions.
func WithPrerelease(include bool) Option {
	return func(r *Resolver) { r.includePrerelease = include }
}

// errNoFeed is returned by Latest when no feed is configured.
var errNoFeed = errors.New("no feed configured for manifest updates")

// New creates a manifest resolver.
func New(states state.Repository, installed InstalledSource, options ...Option) *Resolver {
	r := &Resolver{
		states:    states,
		installed: installed,
	}

	for _, option := range options {
		option(r)
	}

	return r
}

// Effective returns the manifest pins in effect for band: the pins stored in
// the install state, completed with the newest manifests found on disk.
func (r *Resolver) Effective(ctx context.Context, band workload.FeatureBand) (map[workload.ManifestID]workloadset.ManifestPin, error) {
	result, err := r.installed.OnDisk(band)
	if err != nil {
		return nil, fmt.Errorf("list installed manifests: %w", err)
	}

	if result == nil {
		result = make(map[workload.ManifestID]workloadset.ManifestPin)
	}

	current, err := r.states.Load(ctx, band)

	switch {
	case errors.Is(err, state.ErrNotFound):
	case err != nil:
		return nil, fmt.Errorf("load install state: %w", err)
	default:
		for id, pin := range current.Manifests {
			result[id.Normalized()] = pin
		}
	}

	return result, nil
}

// FromRollbackFile reads a rollback file, a map of manifest identifiers to
// "version" or "version/band", and returns the updates it asks for. Every
// entry must name a known manifest; otherwise nothing is returned.
func (r *Resolver) FromRollbackFile(ctx context.Context, band workload.FeatureBand, path string) ([]workload.ManifestVersionUpdate, error) {
	contents, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %w", workload.ErrInvalidRollbackDefinition, path, err)
	}

	var raw map[string]string
	if err = yaml.Unmarshal(contents, &raw); err != nil {
		return nil, fmt.Errorf("%w: decode %s: %w", workload.ErrInvalidRollbackDefinition, path, err)
	}

	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: %s has no entries", workload.ErrInvalidRollbackDefinition, path)
	}

	effective, err := r.Effective(ctx, band)
	if err != nil {
		return nil, err
	}

	rawIDs := make([]string, 0, len(raw))
	for rawID := range raw {
		rawIDs = append(rawIDs, rawID)
	}

	sort.Strings(rawIDs)

	var (
		targets = make(map[workload.ManifestID]workloadset.ManifestPin, len(raw))
		seen    = make(map[workload.ManifestID]string, len(raw))
	)

	for _, rawID := range rawIDs {
		value := raw[rawID]

		id := workload.ManifestID(rawID).Normalized()
		if previous, duplicate := seen[id]; duplicate {
			return nil, fmt.Errorf("%w: manifest %s is listed as both %s and %s",
				workload.ErrInvalidRollbackDefinition, id, previous, rawID)
		}

		seen[id] = rawID

		if _, known := effective[id]; !known {
			return nil, fmt.Errorf("%w: unknown manifest %s", workload.ErrInvalidRollbackDefinition, rawID)
		}

		pin, err := workloadset.ParseManifestPin(value, band)
		if err != nil {
			return nil, fmt.Errorf("%w: manifest %s: %w", workload.ErrInvalidRollbackDefinition, rawID, err)
		}

		targets[id] = pin
	}

	updates := diff(effective, targets)
	logger.DebugKV(ctx, "Resolved rollback file", "path", path, "updates", len(updates))

	return updates, nil
}

// FromWorkloadSet returns the updates that bring band to the pins of set.
func (r *Resolver) FromWorkloadSet(ctx context.Context, band workload.FeatureBand, set *workloadset.Set) ([]workload.ManifestVersionUpdate, error) {
	effective, err := r.Effective(ctx, band)
	if err != nil {
		return nil, err
	}

	targets := make(map[workload.ManifestID]workloadset.ManifestPin, len(set.Manifests))
	for id, pin := range set.Manifests {
		targets[id.Normalized()] = pin
	}

	return diff(effective, targets), nil
}

// Latest returns updates to the newest advertised version of every manifest
// in effect for band. Manifests the feed does not publish are skipped.
func (r *Resolver) Latest(ctx context.Context, band workload.FeatureBand) ([]workload.ManifestVersionUpdate, error) {
	if r.feed == nil {
		return nil, errNoFeed
	}

	effective, err := r.Effective(ctx, band)
	if err != nil {
		return nil, err
	}

	targets := make(map[workload.ManifestID]workloadset.ManifestPin, len(effective))

	for _, id := range sortedIDs(effective) {
		packageID := workload.ManifestPackageID(id, band)

		advertised, err := r.feed.LatestVersion(ctx, packageID, r.includePrerelease)
		if err != nil {
			if errors.Is(err, feed.ErrPackageNotFound) || errors.Is(err, feed.ErrNotInCache) {
				logger.WarnKV(ctx, "Manifest is not advertised", "manifest", id, "package", packageID)
				continue
			}

			return nil, fmt.Errorf("query %s: %w", packageID, err)
		}

		version, err := workload.ParseManifestVersion(advertised)
		if err != nil {
			logger.WarnKV(ctx, "Ignoring advertised manifest version", "manifest", id, "version", advertised, "error", err)
			continue
		}

		if effective[id].Version.Compare(version) >= 0 {
			continue
		}

		targets[id] = workloadset.ManifestPin{Version: version, FeatureBand: band}
	}

	return diff(effective, targets), nil
}

// diff builds ordered updates from effective to targets, dropping no-ops.
func diff(effective, targets map[workload.ManifestID]workloadset.ManifestPin) []workload.ManifestVersionUpdate {
	updates := make([]workload.ManifestVersionUpdate, 0, len(targets))

	for _, id := range sortedIDs(targets) {
		target := targets[id]
		update := workload.ManifestVersionUpdate{
			ManifestID:     id,
			NewVersion:     target.Version,
			NewFeatureBand: target.FeatureBand,
		}

		if existing, ok := effective[id]; ok {
			update.ExistingVersion = existing.Version
			update.ExistingFeatureBand = existing.FeatureBand
		}

		if update.IsNoop() {
			continue
		}

		updates = append(updates, update)
	}

	return updates
}

func sortedIDs(pins map[workload.ManifestID]workloadset.ManifestPin) []workload.ManifestID {
	ids := make([]workload.ManifestID, 0, len(pins))
	for id := range pins {
		ids = append(ids, id)
	}

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	return ids
}
