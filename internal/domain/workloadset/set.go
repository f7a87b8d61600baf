package workloadset

import (
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/dotnet/sdk-sub044/internal/domain/workload"
)

// ManifestID is the manifest family of workload set packages.
const ManifestID = workload.WorkloadSetManifestID

// ManifestPin is one manifest version selected by a workload set or rollback file.
type ManifestPin struct {
	// Version is the pinned manifest version.
	Version workload.ManifestVersion
	// FeatureBand is the band the manifest version is published for.
	FeatureBand workload.FeatureBand
}

// String renders the pin in "version/band" form.
func (p ManifestPin) String() string {
	return p.Version.String() + "/" + p.FeatureBand.String()
}

// ParseManifestPin parses "version/band" or a bare "version", in which case
// defaultBand is used.
func ParseManifestPin(value string, defaultBand workload.FeatureBand) (ManifestPin, error) {
	rawVersion, rawBand, hasBand := strings.Cut(strings.TrimSpace(value), "/")

	version, err := workload.ParseManifestVersion(rawVersion)
	if err != nil {
		return ManifestPin{}, err
	}

	band := defaultBand
	if hasBand {
		band, err = workload.NewFeatureBand(rawBand)
		if err != nil {
			return ManifestPin{}, err
		}
	}

	return ManifestPin{Version: version, FeatureBand: band}, nil
}

// Set is a pinned combination of manifest versions addressed by one version string.
type Set struct {
	// Version is the display version of the set.
	Version string
	// FeatureBand is the band the set is published for.
	FeatureBand workload.FeatureBand
	// Manifests maps each manifest to its pinned version.
	Manifests map[workload.ManifestID]ManifestPin
}

// Parse decodes workload set contents: a YAML or JSON map of manifest
// identifiers to "version/band" strings.
func Parse(version string, contents []byte) (*Set, error) {
	band, _, err := ToPackageVersion(version)
	if err != nil {
		return nil, err
	}

	var raw map[string]string
	if err = yaml.Unmarshal(contents, &raw); err != nil {
		return nil, fmt.Errorf("decode workload set %s: %w", version, err)
	}

	set := &Set{
		Version:     version,
		FeatureBand: band,
		Manifests:   make(map[workload.ManifestID]ManifestPin, len(raw)),
	}

	for id, value := range raw {
		pin, err := ParseManifestPin(value, band)
		if err != nil {
			return nil, fmt.Errorf("workload set %s, manifest %s: %w", version, id, err)
		}

		set.Manifests[workload.ManifestID(id).Normalized()] = pin
	}

	return set, nil
}

// Marshal encodes the set contents in the same format Parse accepts.
func (s *Set) Marshal() ([]byte, error) {
	raw := make(map[string]string, len(s.Manifests))
	for id, pin := range s.Manifests {
		raw[string(id)] = pin.String()
	}

	return yaml.Marshal(raw)
}

// ManifestIDs returns the pinned manifest identifiers in sorted order.
func (s *Set) ManifestIDs() []workload.ManifestID {
	ids := make([]workload.ManifestID, 0, len(s.Manifests))
	for id := range s.Manifests {
		ids = append(ids, id)
	}

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	return ids
}
