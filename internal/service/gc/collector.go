package gc

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/hashicorp/go-multierror"

	"github.com/dotnet/sdk-sub044/internal/domain/workload"
	"github.com/dotnet/sdk-sub044/internal/domain/workloadset"
	"github.com/dotnet/sdk-sub044/internal/logger"
	"github.com/dotnet/sdk-sub044/internal/repository/packs"
	"github.com/dotnet/sdk-sub044/internal/repository/records"
	"github.com/dotnet/sdk-sub044/internal/repository/state"
	"github.com/dotnet/sdk-sub044/internal/service/installer"
	"github.com/dotnet/sdk-sub044/internal/service/sdks"
)

// Report lists what a collection removed.
type Report struct {
	// Packs is the content removed, ordered by key.
	Packs []workload.PackageKey
	// Manifests is the manifest content removed, as "id version/band".
	Manifests []string
	// WorkloadSets is the workload set content removed, as "version/band".
	WorkloadSets []string
	// References counts removed pack, manifest and workload set references.
	References int
	// Records counts removed installation records.
	Records int
}

// IsEmpty reports whether nothing was removed.
func (r *Report) IsEmpty() bool {
	return len(r.Packs) == 0 && len(r.Manifests) == 0 && len(r.WorkloadSets) == 0 &&
		r.References == 0 && r.Records == 0
}

// Collector removes unreferenced content of one install context.
//
// A pack reference of a band is kept while some workload recorded for that
// band resolves to the pack under the manifests in effect for that band. A
// manifest reference is kept while the manifest version is in effect for its
// band. A workload set reference is kept while the install state of its band
// pins that set. Content without references is deleted, including content
// that lost its references outside a collection.
type Collector struct {
	records   records.Store
	states    state.Repository
	packs     *packs.Store
	manifests *packs.ManifestStore
	resolvers installer.ResolverFactory
	sdks      sdks.Enumerator
}

// New creates a collector.
func New(
	recordStore records.Store,
	states state.Repository,
	packStore *packs.Store,
	manifestStore *packs.ManifestStore,
	resolvers installer.ResolverFactory,
	enumerator sdks.Enumerator,
) *Collector {
	return &Collector{
		records:   recordStore,
		states:    states,
		packs:     packStore,
		manifests: manifestStore,
		resolvers: resolvers,
		sdks:      enumerator,
	}
}

type manifestKey struct {
	id      workload.ManifestID
	version string
	band    workload.FeatureBand
}

// liveSet is what one band still needs.
type liveSet struct {
	packs     map[workload.PackageKey]struct{}
	manifests map[manifestKey]struct{}
}

// collection is the state of one Collect call.
type collection struct {
	*Collector
	// installed holds the bands of installed SDKs plus the current band.
	installed map[workload.FeatureBand]struct{}
	cleanAll  bool
	live      map[workload.FeatureBand]*liveSet
	report    *Report
	errs      *multierror.Error
}

// Collect removes unreferenced content. With cleanAllPacks, bands without an
// installed SDK lose their records and references as well; current always
// counts as installed.
//
// Failures are collected and returned wrapped in
// workload.ErrGarbageCollectionFailure together with the partial report.
func (c *Collector) Collect(ctx context.Context, current workload.FeatureBand, cleanAllPacks bool) (*Report, error) {
	ctx = logger.WithKV(logger.WithName(ctx, "gc"), "band", current.String())

	installedBands, err := c.sdks.InstalledFeatureBands(ctx)
	if err != nil {
		return &Report{}, fmt.Errorf("%w: %w", workload.ErrGarbageCollectionFailure, err)
	}

	run := &collection{
		Collector: c,
		installed: make(map[workload.FeatureBand]struct{}, len(installedBands)+1),
		cleanAll:  cleanAllPacks,
		live:      make(map[workload.FeatureBand]*liveSet),
		report:    &Report{},
	}

	run.installed[current] = struct{}{}
	for _, band := range installedBands {
		run.installed[band] = struct{}{}
	}

	logger.DebugKV(ctx, "Collecting garbage", "installedBands", len(run.installed), "cleanAll", cleanAllPacks)

	run.collectPacks(ctx)
	run.collectWorkloadSets(ctx)
	run.collectManifests(ctx)

	if cleanAllPacks {
		run.collectRecords(ctx)
	}

	sort.Slice(run.report.Packs, func(i, j int) bool {
		return run.report.Packs[i].String() < run.report.Packs[j].String()
	})
	sort.Strings(run.report.Manifests)
	sort.Strings(run.report.WorkloadSets)

	if err = workload.FormatErrorOrNil(run.errs); err != nil {
		return run.report, fmt.Errorf("%w: %w", workload.ErrGarbageCollectionFailure, err)
	}

	if !run.report.IsEmpty() {
		logger.InfoKV(ctx, "Garbage collected",
			"packs", len(run.report.Packs),
			"manifests", len(run.report.Manifests),
			"workloadSets", len(run.report.WorkloadSets),
			"references", run.report.References)
	}

	return run.report, nil
}

func (r *collection) collectPacks(ctx context.Context) {
	installedPacks, err := r.packs.List(ctx)
	if err != nil {
		r.errs = multierror.Append(r.errs, fmt.Errorf("list packs: %w", err))
		return
	}

	for _, installedPack := range installedPacks {
		key := installedPack.Pack.Key()
		removed := 0

		for _, band := range installedPack.Bands {
			live, err := r.liveFor(ctx, band)
			if err != nil {
				r.errs = multierror.Append(r.errs, err)
				continue
			}

			if _, ok := live.packs[key]; ok {
				continue
			}

			if err = r.packs.RemoveReference(ctx, key, band); err != nil {
				r.errs = multierror.Append(r.errs, err)
				continue
			}

			removed++
			r.report.References++
		}

		// Content without any band left is still removed.
		if removed == 0 && len(installedPack.Bands) > 0 {
			continue
		}

		bands, err := r.packs.References(key)
		if err != nil {
			r.errs = multierror.Append(r.errs, err)
			continue
		}

		if len(bands) > 0 {
			continue
		}

		logger.InfoKV(ctx, "Removing pack", "pack", key)

		if err = r.packs.Remove(ctx, installedPack.Pack); err != nil {
			r.errs = multierror.Append(r.errs, err)
			continue
		}

		r.report.Packs = append(r.report.Packs, key)
	}
}

func (r *collection) collectManifests(ctx context.Context) {
	installedManifests, err := r.manifests.List(ctx)
	if err != nil {
		r.errs = multierror.Append(r.errs, fmt.Errorf("list manifests: %w", err))
		return
	}

	for _, installedManifest := range installedManifests {
		var (
			key = manifestKey{
				id:      installedManifest.ID.Normalized(),
				version: installedManifest.Pin.Version.String(),
				band:    installedManifest.Pin.FeatureBand,
			}
			kept = 0
		)

		for _, band := range installedManifest.Bands {
			live, err := r.liveFor(ctx, band)
			if err != nil {
				r.errs = multierror.Append(r.errs, err)
				kept++

				continue
			}

			if _, ok := live.manifests[key]; ok {
				kept++
				continue
			}

			err = r.manifests.RemoveReference(ctx, installedManifest.ID, installedManifest.Pin, band)
			if err != nil {
				r.errs = multierror.Append(r.errs, err)
				kept++

				continue
			}

			r.report.References++
		}

		if kept > 0 {
			continue
		}

		logger.InfoKV(ctx, "Removing manifest", "manifest", installedManifest.ID, "version", installedManifest.Pin)

		if err = r.manifests.Remove(ctx, installedManifest.ID, installedManifest.Pin); err != nil {
			r.errs = multierror.Append(r.errs, err)
			continue
		}

		r.report.Manifests = append(r.report.Manifests, pinKey(installedManifest.ID, installedManifest.Pin))
	}
}

// collectWorkloadSets drops the workload set references of bands that no
// longer pin the set and deletes sets nothing references.
func (r *collection) collectWorkloadSets(ctx context.Context) {
	installedSets, err := r.manifests.ListWorkloadSets(ctx)
	if err != nil {
		r.errs = multierror.Append(r.errs, fmt.Errorf("list workload sets: %w", err))
		return
	}

	for _, installedSet := range installedSets {
		kept := 0

		for _, band := range installedSet.Bands {
			pinned, err := r.pinsWorkloadSet(ctx, band, installedSet.Version)
			if err != nil {
				r.errs = multierror.Append(r.errs, err)
				kept++

				continue
			}

			if pinned {
				kept++
				continue
			}

			err = r.manifests.RemoveWorkloadSetReference(ctx, installedSet.FeatureBand, installedSet.Version, band)
			if err != nil {
				r.errs = multierror.Append(r.errs, err)
				kept++

				continue
			}

			r.report.References++
		}

		if kept > 0 {
			continue
		}

		logger.InfoKV(ctx, "Removing workload set", "workloadSet", installedSet.Version, "setBand", installedSet.FeatureBand.String())

		if err = r.manifests.RemoveWorkloadSet(ctx, installedSet.FeatureBand, installedSet.Version); err != nil {
			r.errs = multierror.Append(r.errs, err)
			continue
		}

		r.report.WorkloadSets = append(r.report.WorkloadSets, installedSet.Version+"/"+installedSet.FeatureBand.String())
	}
}

// pinsWorkloadSet reports whether the install state of band pins version.
func (r *collection) pinsWorkloadSet(ctx context.Context, band workload.FeatureBand, version string) (bool, error) {
	if r.cleanAll && !r.isInstalled(band) {
		return false, nil
	}

	current, err := r.states.Load(ctx, band)

	switch {
	case errors.Is(err, state.ErrNotFound):
		return false, nil
	case err != nil:
		return false, fmt.Errorf("load install state of band %s: %w", band, err)
	}

	return current.WorkloadSetVersion == version, nil
}

// collectRecords deletes the records of bands without an installed SDK.
func (r *collection) collectRecords(ctx context.Context) {
	bands, err := r.records.ListBands(ctx)
	if err != nil {
		r.errs = multierror.Append(r.errs, fmt.Errorf("list record bands: %w", err))
		return
	}

	for _, band := range bands {
		if r.isInstalled(band) {
			continue
		}

		ids, err := r.records.List(ctx, band)
		if err != nil {
			r.errs = multierror.Append(r.errs, err)
			continue
		}

		for _, id := range ids {
			if err = r.records.Delete(ctx, id, band); err != nil {
				r.errs = multierror.Append(r.errs, err)
				continue
			}

			r.report.Records++
		}
	}
}

func (r *collection) isInstalled(band workload.FeatureBand) bool {
	_, ok := r.installed[band]
	return ok
}

// liveFor resolves and caches what band still needs.
func (r *collection) liveFor(ctx context.Context, band workload.FeatureBand) (*liveSet, error) {
	if live, ok := r.live[band]; ok {
		return live, nil
	}

	live := &liveSet{
		packs:     make(map[workload.PackageKey]struct{}),
		manifests: make(map[manifestKey]struct{}),
	}

	if r.cleanAll && !r.isInstalled(band) {
		r.live[band] = live
		return live, nil
	}

	resolver, err := r.resolvers(ctx, band)
	if err != nil {
		return nil, fmt.Errorf("resolve band %s: %w", band, err)
	}

	for _, manifest := range resolver.InstalledManifests() {
		live.manifests[manifestKey{
			id:      manifest.ID.Normalized(),
			version: manifest.Version.String(),
			band:    manifest.FeatureBand,
		}] = struct{}{}
	}

	ids, err := r.records.List(ctx, band)
	if err != nil {
		return nil, fmt.Errorf("list workloads of band %s: %w", band, err)
	}

	for _, id := range ids {
		workloadPacks, err := resolver.PacksInWorkload(id)

		switch {
		case errors.Is(err, workload.ErrWorkloadNotFound), errors.Is(err, workload.ErrUnsupportedOnPlatform):
			logger.WarnKV(ctx, "Installed workload no longer resolves", "workload", id, "band", band.String(), "error", err)
			continue
		case err != nil:
			return nil, fmt.Errorf("resolve workload %s of band %s: %w", id, band, err)
		}

		for _, pack := range workloadPacks {
			live.packs[pack.Key()] = struct{}{}
		}
	}

	r.live[band] = live

	return live, nil
}

// pinKey renders a manifest pin for reports.
func pinKey(id workload.ManifestID, pin workloadset.ManifestPin) string {
	return id.String() + " " + pin.String()
}
