package workload

import (
	"fmt"
	"strings"

	goversion "github.com/hashicorp/go-version"
	"golang.org/x/mod/semver"
)

type (
	// WorkloadID identifies a capability bundle, e.g. "xamarin-android".
	WorkloadID string

	// ManifestID identifies a manifest family.
	ManifestID string

	// PackID identifies a pack as declared in a manifest.
	PackID string

	// PackKind tells how a pack is laid out on disk.
	PackKind string

	// InstallContext selects the installation root.
	InstallContext string
)

// Known pack kinds.
const (
	PackKindSDK       PackKind = "sdk"
	PackKindFramework PackKind = "framework"
	PackKindLibrary   PackKind = "library"
	PackKindTemplate  PackKind = "template"
)

// Install contexts.
const (
	InstallContextUser   InstallContext = "user"
	InstallContextGlobal InstallContext = "global"
)

// String returns the identifier.
func (id WorkloadID) String() string { return string(id) }

// String returns the identifier.
func (id ManifestID) String() string { return string(id) }

// Normalized returns the lower-case form used to compare manifest identifiers.
func (id ManifestID) Normalized() ManifestID { return ManifestID(strings.ToLower(string(id))) }

// String returns the identifier.
func (id PackID) String() string { return string(id) }

// Validate checks that the context is one of the known values.
func (c InstallContext) Validate() error {
	switch c {
	case InstallContextUser, InstallContextGlobal:
		return nil
	default:
		return fmt.Errorf("unknown install context %q", string(c))
	}
}

// WorkloadSetManifestID is the manifest family of workload set packages.
const WorkloadSetManifestID ManifestID = "Microsoft.NET.Workloads"

// ManifestPackageID returns the package identifier a manifest is published
// under for a band. Workload sets are published without the manifest suffix.
func ManifestPackageID(id ManifestID, band FeatureBand) string {
	if id.Normalized() == WorkloadSetManifestID.Normalized() {
		return fmt.Sprintf("%s.%s", id.Normalized(), band)
	}

	return fmt.Sprintf("%s.manifest-%s", id.Normalized(), band)
}

// IsSingleFile reports whether the pack is stored as a single file rather than a directory.
func (k PackKind) IsSingleFile() bool {
	return k == PackKindLibrary || k == PackKindTemplate
}

// ManifestVersion is a strict MAJOR.MINOR.PATCH[-PRERELEASE] semantic version.
// The zero value means "no version".
type ManifestVersion struct {
	raw string
}

// ParseManifestVersion validates a strict semantic version.
func ParseManifestVersion(s string) (ManifestVersion, error) {
	s = strings.TrimSpace(s)

	canonical := "v" + s
	if !semver.IsValid(canonical) || semver.Canonical(canonical) != canonical {
		return ManifestVersion{}, &InvalidVersionError{Value: s}
	}

	if _, err := goversion.NewSemver(s); err != nil {
		return ManifestVersion{}, &InvalidVersionError{Value: s}
	}

	return ManifestVersion{raw: s}, nil
}

// String returns the version as written.
func (v ManifestVersion) String() string { return v.raw }

// IsZero reports whether the version is unset.
func (v ManifestVersion) IsZero() bool { return v.raw == "" }

// Compare orders two versions by semantic version precedence.
func (v ManifestVersion) Compare(other ManifestVersion) int {
	left, errLeft := goversion.NewSemver(v.raw)
	right, errRight := goversion.NewSemver(other.raw)

	switch {
	case errLeft != nil && errRight != nil:
		return strings.Compare(v.raw, other.raw)
	case errLeft != nil:
		return -1
	case errRight != nil:
		return 1
	}

	return left.Compare(right)
}

// PackInfo describes one content unit required by a workload.
type PackInfo struct {
	// ID is the pack identifier from the manifest.
	ID PackID
	// Version is the pack version.
	Version string
	// Kind decides the on-disk layout.
	Kind PackKind
	// ResolvedPackageID is the package to download, after platform aliasing.
	ResolvedPackageID string
}

// PackageKey is the band-independent key of installed pack content.
type PackageKey struct {
	// PackageID is the resolved package identifier.
	PackageID string
	// Version is the package version.
	Version string
}

// Key returns the content store key for the pack.
func (p PackInfo) Key() PackageKey {
	return PackageKey{PackageID: p.ResolvedPackageID, Version: p.Version}
}

// String renders the key as "id@version".
func (k PackageKey) String() string {
	return k.PackageID + "@" + k.Version
}

// ManifestVersionUpdate moves one manifest from an optional existing version to a new one.
type ManifestVersionUpdate struct {
	// ManifestID is the manifest being updated.
	ManifestID ManifestID
	// ExistingVersion is the installed version, zero when not installed.
	ExistingVersion ManifestVersion
	// ExistingFeatureBand is the band of the installed version, zero when not installed.
	ExistingFeatureBand FeatureBand
	// NewVersion is the target version.
	NewVersion ManifestVersion
	// NewFeatureBand is the band the target version is published for.
	NewFeatureBand FeatureBand
}

// HasExisting reports whether a version was installed before the update.
func (u ManifestVersionUpdate) HasExisting() bool {
	return !u.ExistingVersion.IsZero()
}

// IsNoop reports whether the installed version already matches the target.
func (u ManifestVersionUpdate) IsNoop() bool {
	return u.HasExisting() &&
		u.ExistingVersion.Compare(u.NewVersion) == 0 &&
		u.ExistingFeatureBand == u.NewFeatureBand
}

// InstalledManifest is a manifest version currently in effect for a band.
type InstalledManifest struct {
	// ID is the manifest identifier.
	ID ManifestID
	// Version is the installed version.
	Version ManifestVersion
	// FeatureBand is the band the manifest was published for.
	FeatureBand FeatureBand
}

// InstallationRecord marks a workload as installed for a band and context.
type InstallationRecord struct {
	// WorkloadID is the installed workload.
	WorkloadID WorkloadID
	// FeatureBand scopes the record.
	FeatureBand FeatureBand
	// Context is the installation root the record belongs to.
	Context InstallContext
}
