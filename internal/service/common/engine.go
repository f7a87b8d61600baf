//nolint:revive,nolintlint // Package name "common" is intentional for shared helpers.
package common

import (
	"context"
	"errors"
	"fmt"

	"github.com/dotnet/sdk-sub044/internal/config"
	"github.com/dotnet/sdk-sub044/internal/domain/workload"
	"github.com/dotnet/sdk-sub044/internal/repository/packs"
	"github.com/dotnet/sdk-sub044/internal/repository/records"
	"github.com/dotnet/sdk-sub044/internal/repository/state"
	"github.com/dotnet/sdk-sub044/internal/service/feed"
	"github.com/dotnet/sdk-sub044/internal/service/gc"
	"github.com/dotnet/sdk-sub044/internal/service/installer"
	"github.com/dotnet/sdk-sub044/internal/service/manifests"
	"github.com/dotnet/sdk-sub044/internal/service/resolver"
	"github.com/dotnet/sdk-sub044/internal/service/sdks"
)

// Engine bundles the stores and services of one install context.
type Engine struct {
	// Config is the validated settings the engine was built from.
	Config *config.Config
	// Records holds installation records.
	Records records.Store
	// States holds per-band install state.
	States state.Repository
	// Packs is the shared pack content store.
	Packs *packs.Store
	// Manifests holds installed manifests and workload sets.
	Manifests *packs.ManifestStore
	// Fetcher downloads packages from the feed or the offline cache.
	Fetcher feed.Fetcher
	// ManifestResolver plans manifest updates.
	ManifestResolver *manifests.Resolver
	// Installer applies changes.
	Installer installer.Installer
	// Collector removes unreferenced content.
	Collector *gc.Collector
	// SDKs lists installed SDK feature bands.
	SDKs sdks.Enumerator

	rid string
}

// Option configures engine construction.
type Option func(*engineOptions)

type engineOptions struct {
	fetcher           feed.Fetcher
	enumerator        sdks.Enumerator
	rid               string
	includePrerelease bool
}

// WithFetcher replaces the fetcher selected by the settings.
func WithFetcher(fetcher feed.Fetcher) Option {
	return func(o *engineOptions) { o.fetcher = fetcher }
}

// WithSDKEnumerator replaces the SDK directory scan.
func WithSDKEnumerator(enumerator sdks.Enumerator) Option {
	return func(o *engineOptions) { o.enumerator = enumerator }
}

// WithRID overrides the runtime identifier used to pick platform packs.
func WithRID(rid string) Option {
	return func(o *engineOptions) {
		if rid != "" {
			o.rid = rid
		}
	}
}

// WithPrerelease lets manifest updates pick prerelease versions.
func WithPrerelease(include bool) Option {
	return func(o *engineOptions) { o.includePrerelease = include }
}

// errSettingsRequired is returned when Open is called without settings.
var errSettingsRequired = errors.New("settings must be provided")

// Open builds an engine for the install context selected by settings.
func Open(_ context.Context, settings *config.Config, opts ...Option) (*Engine, error) {
	if settings == nil {
		return nil, errSettingsRequired
	}

	if err := config.Validate(settings); err != nil {
		return nil, err
	}

	options := &engineOptions{rid: resolver.CurrentRID()}
	for _, opt := range opts {
		opt(options)
	}

	root := settings.WorkloadRoot()

	fetcher := options.fetcher
	if fetcher == nil {
		var err error

		if fetcher, err = feed.New(settings); err != nil {
			return nil, err
		}
	}

	enumerator := options.enumerator
	if enumerator == nil {
		enumerator = sdks.NewDirectoryEnumerator(settings.DotnetRoot)
	}

	recordStore, err := records.Open(settings)
	if err != nil {
		return nil, fmt.Errorf("open record store: %w", err)
	}

	engine := &Engine{
		Config:    settings,
		Records:   recordStore,
		States:    state.NewFileRepository(root),
		Packs:     packs.NewStore(root),
		Manifests: packs.NewManifestStore(root),
		Fetcher:   fetcher,
		SDKs:      enumerator,
		rid:       options.rid,
	}

	engine.ManifestResolver = manifests.New(engine.States, engine.Manifests,
		manifests.WithFeed(fetcher),
		manifests.WithPrerelease(options.includePrerelease),
	)

	engine.Installer, err = installer.New(settings.Installer, installer.Dependencies{
		Records:     engine.Records,
		States:      engine.States,
		Packs:       engine.Packs,
		Manifests:   engine.Manifests,
		Fetcher:     fetcher,
		Resolvers:   engine.Resolver,
		TempDir:     settings.TempDir,
		Parallelism: settings.Parallelism,
	})
	if err != nil {
		_ = recordStore.Close()
		return nil, err
	}

	engine.Collector = gc.New(engine.Records, engine.States, engine.Packs, engine.Manifests, engine.Resolver, enumerator)

	return engine, nil
}

// Resolver loads the manifests in effect for band.
func (e *Engine) Resolver(ctx context.Context, band workload.FeatureBand) (installer.WorkloadResolver, error) {
	return e.WorkloadResolver(ctx, band)
}

// WorkloadResolver is Resolver with the concrete result type.
func (e *Engine) WorkloadResolver(ctx context.Context, band workload.FeatureBand) (*resolver.Resolver, error) {
	pins, err := e.ManifestResolver.Effective(ctx, band)
	if err != nil {
		return nil, err
	}

	return resolver.Load(e.Manifests, band, pins, e.rid)
}

// Close releases the record store.
func (e *Engine) Close() error {
	if e == nil || e.Records == nil {
		return nil
	}

	return e.Records.Close()
}
