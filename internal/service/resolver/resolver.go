package resolver

import (
	"errors"
	"fmt"
	"slices"
	"sort"

	"github.com/dotnet/sdk-sub044/internal/domain/workload"
	"github.com/dotnet/sdk-sub044/internal/domain/workloadset"
)

// ManifestLocator finds the directory of an installed manifest version.
type ManifestLocator interface {
	Path(id workload.ManifestID, pin workloadset.ManifestPin) string
}

// errPackNotDefined is returned when a workload names a pack no manifest declares.
var errPackNotDefined = errors.New("pack is not defined by any installed manifest")

type workloadEntry struct {
	definition WorkloadDefinition
	manifest   workload.ManifestID
}

// Resolver expands workloads into packs using the manifests in effect for one band.
type Resolver struct {
	band      workload.FeatureBand
	rid       string
	installed []workload.InstalledManifest
	workloads map[workload.WorkloadID]workloadEntry
	packs     map[workload.PackID]PackDefinition
}

// Load reads every pinned manifest from locator and builds a resolver for band.
func Load(locator ManifestLocator, band workload.FeatureBand, pins map[workload.ManifestID]workloadset.ManifestPin, rid string) (*Resolver, error) {
	manifests := make(map[workload.ManifestID]*Manifest, len(pins))
	installed := make([]workload.InstalledManifest, 0, len(pins))

	for id, pin := range pins {
		manifest, err := ReadManifest(locator.Path(id, pin))
		if err != nil {
			return nil, fmt.Errorf("manifest %s %s: %w", id, pin, err)
		}

		manifests[id] = manifest
		installed = append(installed, workload.InstalledManifest{
			ID:          id,
			Version:     pin.Version,
			FeatureBand: pin.FeatureBand,
		})
	}

	resolver := New(band, manifests, rid)
	resolver.installed = installed
	sort.Slice(resolver.installed, func(i, j int) bool { return resolver.installed[i].ID < resolver.installed[j].ID })

	return resolver, nil
}

// New builds a resolver from decoded manifests. Definitions from manifests
// with a smaller identifier win when two manifests declare the same name.
func New(band workload.FeatureBand, manifests map[workload.ManifestID]*Manifest, rid string) *Resolver {
	r := &Resolver{
		band:      band,
		rid:       rid,
		workloads: make(map[workload.WorkloadID]workloadEntry),
		packs:     make(map[workload.PackID]PackDefinition),
	}

	ids := make([]workload.ManifestID, 0, len(manifests))
	for id := range manifests {
		ids = append(ids, id)
	}

	sort.Slice(ids, func(i, j int) bool { return ids[i] > ids[j] })

	for _, id := range ids {
		manifest := manifests[id]

		for name, definition := range manifest.Workloads {
			r.workloads[workload.WorkloadID(name)] = workloadEntry{definition: definition, manifest: id}
		}

		for name, definition := range manifest.Packs {
			r.packs[workload.PackID(name)] = definition
		}

		if version, err := workload.ParseManifestVersion(manifest.Version); err == nil {
			r.installed = append(r.installed, workload.InstalledManifest{ID: id, Version: version, FeatureBand: band})
		}
	}

	sort.Slice(r.installed, func(i, j int) bool { return r.installed[i].ID < r.installed[j].ID })

	return r
}

// FeatureBand returns the band the resolver was built for.
func (r *Resolver) FeatureBand() workload.FeatureBand { return r.band }

// InstalledManifests returns the manifests in effect, ordered by identifier.
func (r *Resolver) InstalledManifests() []workload.InstalledManifest {
	return slices.Clone(r.installed)
}

// Workloads returns every installable workload, in ascending order.
func (r *Resolver) Workloads() []workload.WorkloadID {
	ids := make([]workload.WorkloadID, 0, len(r.workloads))

	for id, entry := range r.workloads {
		if entry.definition.Abstract {
			continue
		}

		ids = append(ids, id)
	}

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	return ids
}

// ManifestOf returns the manifest declaring the workload.
func (r *Resolver) ManifestOf(id workload.WorkloadID) (workload.ManifestID, bool) {
	entry, ok := r.workloads[id]

	return entry.manifest, ok
}

// PacksInWorkload expands the workload and everything it extends into its
// packs, in declaration order without duplicates. Packs that have no
// variant for the current platform are skipped.
func (r *Resolver) PacksInWorkload(id workload.WorkloadID) ([]workload.PackInfo, error) {
	entry, ok := r.workloads[id]
	if !ok || entry.definition.Abstract {
		return nil, fmt.Errorf("%s: %w", id, workload.ErrWorkloadNotFound)
	}

	if !r.supported(entry.definition) {
		return nil, fmt.Errorf("%s on %s: %w", id, r.rid, workload.ErrUnsupportedOnPlatform)
	}

	var (
		visited = make(map[workload.WorkloadID]struct{})
		seen    = make(map[workload.PackID]struct{})
		result  []workload.PackInfo
	)

	var expand func(id workload.WorkloadID) error

	expand = func(id workload.WorkloadID) error {
		if _, done := visited[id]; done {
			return nil
		}

		visited[id] = struct{}{}

		entry, ok := r.workloads[id]
		if !ok {
			return fmt.Errorf("%s: %w", id, workload.ErrWorkloadNotFound)
		}

		for _, name := range entry.definition.Packs {
			packID := workload.PackID(name)
			if _, dup := seen[packID]; dup {
				continue
			}

			seen[packID] = struct{}{}

			pack, available, err := r.packInfo(packID)
			if err != nil {
				return fmt.Errorf("workload %s: %w", id, err)
			}

			if available {
				result = append(result, pack)
			}
		}

		for _, base := range entry.definition.Extends {
			if err := expand(workload.WorkloadID(base)); err != nil {
				return err
			}
		}

		return nil
	}

	if err := expand(id); err != nil {
		return nil, err
	}

	return result, nil
}

// PackInfo returns the pack as it resolves on the current platform.
func (r *Resolver) PackInfo(id workload.PackID) (workload.PackInfo, bool) {
	pack, available, err := r.packInfo(id)
	if err != nil || !available {
		return workload.PackInfo{}, false
	}

	return pack, true
}

func (r *Resolver) packInfo(id workload.PackID) (workload.PackInfo, bool, error) {
	definition, ok := r.packs[id]
	if !ok {
		return workload.PackInfo{}, false, fmt.Errorf("%s: %w", id, errPackNotDefined)
	}

	resolved := id.String()

	if len(definition.AliasTo) > 0 {
		alias, ok := definition.AliasTo[r.rid]
		if !ok {
			return workload.PackInfo{}, false, nil
		}

		resolved = alias
	}

	return workload.PackInfo{
		ID:                id,
		Version:           definition.Version,
		Kind:              packKind(definition.Kind),
		ResolvedPackageID: resolved,
	}, true, nil
}

func (r *Resolver) supported(definition WorkloadDefinition) bool {
	return len(definition.Platforms) == 0 || slices.Contains(definition.Platforms, r.rid)
}
