package workloadset

import (
	"fmt"
	"strconv"

	"golang.org/x/mod/semver"

	"github.com/dotnet/sdk-sub044/internal/domain/workload"
)

// ToPackageVersion encodes a workload set version into its feature band and
// package version: "8.0.203.1" -> ("8.0.200", "8.203.1").
// An explicit zero revision is rejected: "8.0.203" is the canonical form.
func ToPackageVersion(version string) (workload.FeatureBand, string, error) {
	parts, err := workload.ParseVersionParts(version)
	if err != nil {
		return workload.FeatureBand{}, "", err
	}

	if parts.HasRevision && parts.Revision == 0 {
		return workload.FeatureBand{}, "", &workload.InvalidVersionError{Value: version}
	}

	band := workload.FeatureBandFromParts(parts)

	packageVersion := fmt.Sprintf("%d.%d.%d", parts.Major, parts.Patch, parts.Revision)
	if parts.Prerelease != "" {
		packageVersion += "-" + parts.Prerelease
	}

	return band, packageVersion, nil
}

// FromPackageVersion decodes a workload set package version published for a
// feature band back into the display version: ("8.0.200", "8.203.1") -> "8.0.203.1".
// The prerelease is taken verbatim from the package version.
func FromPackageVersion(band workload.FeatureBand, packageVersion string) (string, error) {
	if band.IsZero() || !semver.IsValid("v"+packageVersion) {
		return "", &workload.InvalidVersionError{Value: packageVersion}
	}

	parts, err := workload.ParseVersionParts(packageVersion)
	if err != nil {
		return "", err
	}

	if parts.HasRevision {
		return "", &workload.InvalidVersionError{Value: packageVersion}
	}

	// Package layout is MAJOR.PATCH.REVISION.
	var (
		major    = parts.Major
		patch    = parts.Minor
		revision = parts.Patch
	)

	display := strconv.Itoa(major) + "." + strconv.Itoa(band.Minor()) + "." + strconv.Itoa(patch)
	if revision != 0 {
		display += "." + strconv.Itoa(revision)
	}

	if parts.Prerelease != "" {
		display += "-" + parts.Prerelease
	}

	// The package must actually belong to the band it was published for.
	decoded, err := workload.NewFeatureBand(display)
	if err != nil {
		return "", err
	}

	if decoded != band {
		return "", fmt.Errorf("package version %s does not belong to band %s: %w",
			packageVersion, band, workload.ErrInvalidVersionFormat)
	}

	return display, nil
}

// PackageID returns the identifier of the workload set package for a band.
func PackageID(band workload.FeatureBand) string {
	return workload.ManifestPackageID(ManifestID, band)
}
