package workload

import (
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/mod/semver"
)

// Support band prerelease labels that survive feature band derivation.
const (
	supportBandPreview = "preview"
	supportBandRC      = "rc"

	// featureBandPatchStep is the patch granularity of a feature band.
	featureBandPatchStep = 100
)

// VersionParts is the numeric breakdown of an SDK or workload set version
// in the MAJOR.MINOR.PATCH[.REVISION][-PRERELEASE] grammar.
type VersionParts struct {
	// Major is the major version component.
	Major int
	// Minor is the minor version component.
	Minor int
	// Patch is the full patch component (feature band patch plus increment).
	Patch int
	// Revision is the optional fourth component, zero when absent.
	Revision int
	// HasRevision reports whether the fourth component was present.
	HasRevision bool
	// Prerelease is everything after the first '-', verbatim.
	Prerelease string
}

// ParseVersionParts splits a version string into its numeric components.
// It returns an error wrapping ErrInvalidVersionFormat when MAJOR.MINOR.PATCH
// is missing or any component is not a canonical non-negative decimal number.
// Numeric components and numeric prerelease identifiers must not carry
// leading zeros.
func ParseVersionParts(version string) (VersionParts, error) {
	var parts VersionParts

	core, prerelease, hasPrerelease := strings.Cut(strings.TrimSpace(version), "-")
	if hasPrerelease {
		if !validPrerelease(prerelease) {
			return parts, &InvalidVersionError{Value: version}
		}

		parts.Prerelease = prerelease
	}

	fields := strings.Split(core, ".")
	if len(fields) < 3 || len(fields) > 4 {
		return parts, &InvalidVersionError{Value: version}
	}

	numbers := make([]int, len(fields))

	for i, field := range fields {
		n, ok := parseComponent(field)
		if !ok {
			return parts, &InvalidVersionError{Value: version}
		}

		numbers[i] = n
	}

	parts.Major, parts.Minor, parts.Patch = numbers[0], numbers[1], numbers[2]

	if len(numbers) == 4 {
		parts.Revision = numbers[3]
		parts.HasRevision = true
	}

	return parts, nil
}

// FeatureBand is the compatibility scope derived from an SDK version.
// The zero value means "no band".
type FeatureBand struct {
	major      int
	minor      int
	patch      int
	prerelease string
}

// NewFeatureBand derives the feature band of an SDK version, for example
// "9.0.105" -> "9.0.100" and "9.0.100-preview.2.24157.14" -> "9.0.100-preview.2".
// Passing a band string returns the same band.
func NewFeatureBand(sdkVersion string) (FeatureBand, error) {
	parts, err := ParseVersionParts(sdkVersion)
	if err != nil {
		return FeatureBand{}, err
	}

	return FeatureBandFromParts(parts), nil
}

// FeatureBandFromParts derives the feature band from already parsed components.
func FeatureBandFromParts(parts VersionParts) FeatureBand {
	return FeatureBand{
		major:      parts.Major,
		minor:      parts.Minor,
		patch:      parts.Patch / featureBandPatchStep * featureBandPatchStep,
		prerelease: supportBandLabel(parts.Prerelease),
	}
}

// Major returns the major version of the band.
func (b FeatureBand) Major() int { return b.major }

// Minor returns the minor version of the band.
func (b FeatureBand) Minor() int { return b.minor }

// Patch returns the rounded patch of the band (a multiple of 100).
func (b FeatureBand) Patch() int { return b.patch }

// Prerelease returns the preserved support band label, e.g. "preview.2".
func (b FeatureBand) Prerelease() string { return b.prerelease }

// IsZero reports whether the band is unset.
func (b FeatureBand) IsZero() bool { return b == FeatureBand{} }

// String renders the band, e.g. "8.0.200" or "9.0.100-rc.1".
func (b FeatureBand) String() string {
	if b.IsZero() {
		return ""
	}

	band := fmt.Sprintf("%d.%d.%d", b.major, b.minor, b.patch)
	if b.prerelease != "" {
		band += "-" + b.prerelease
	}

	return band
}

// Compare orders bands by semantic version precedence.
func (b FeatureBand) Compare(other FeatureBand) int {
	return semver.Compare("v"+b.String(), "v"+other.String())
}

// supportBandLabel keeps "{preview|rc}.{N}" and drops any other prerelease content.
func supportBandLabel(prerelease string) string {
	if prerelease == "" {
		return ""
	}

	labels := strings.Split(prerelease, ".")
	if len(labels) < 2 {
		return ""
	}

	if labels[0] != supportBandPreview && labels[0] != supportBandRC {
		return ""
	}

	if _, ok := parseComponent(labels[1]); !ok {
		return ""
	}

	return labels[0] + "." + labels[1]
}

// parseComponent parses a non-empty run of ASCII digits.
func parseComponent(s string) (int, bool) {
	if s == "" || (len(s) > 1 && s[0] == '0') {
		return 0, false
	}

	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, false
		}
	}

	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}

	return n, true
}

// validPrerelease requires non-empty dot-separated alphanumeric labels.
// Purely numeric labels follow the semver rule against leading zeros.
func validPrerelease(prerelease string) bool {
	if prerelease == "" {
		return false
	}

	for _, label := range strings.Split(prerelease, ".") {
		if label == "" {
			return false
		}

		numeric := true

		for _, r := range label {
			isDigit := r >= '0' && r <= '9'
			isAlnum := isDigit || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')

			if !isAlnum && r != '-' {
				return false
			}

			numeric = numeric && isDigit
		}

		if numeric && len(label) > 1 && label[0] == '0' {
			return false
		}
	}

	return true
}
