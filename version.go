// version.go: semantic version parsing and ordering for plugin compatibility
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package pluginhost

import (
	"strconv"
	"strings"

	"github.com/agilira/go-errors"
)

// PluginVersion represents a semantic version with comparison capabilities.
//
// Parsing is lenient about the number of numeric components: "2", "2.0" and
// "2.0.0" are all accepted and compare equal, since plugin descriptors in the
// wild often omit the patch level. Prerelease and build metadata follow the
// semver rules: a prerelease orders before its release, build metadata is
// ignored for ordering.
//
// Example usage:
//
//	required, _ := ParsePluginVersion("2.0")
//	actual, _ := ParsePluginVersion("1.5.3")
//	if actual.Compare(required) < 0 {
//	    // dependency is too old
//	}
type PluginVersion struct {
	Major      uint64 `json:"major"`
	Minor      uint64 `json:"minor"`
	Patch      uint64 `json:"patch"`
	Prerelease string `json:"prerelease,omitempty"`
	Build      string `json:"build,omitempty"`
	Original   string `json:"original"`
}

// ParsePluginVersion parses a semantic version string. A leading "v" is accepted.
func ParsePluginVersion(versionStr string) (*PluginVersion, error) {
	trimmed := strings.TrimSpace(versionStr)
	if trimmed == "" {
		return nil, NewInvalidVersionError(versionStr, nil)
	}
	core := strings.TrimPrefix(strings.TrimPrefix(trimmed, "v"), "V")

	var build, prerelease string
	if idx := strings.Index(core, "+"); idx >= 0 {
		build = core[idx+1:]
		core = core[:idx]
	}
	if idx := strings.Index(core, "-"); idx >= 0 {
		prerelease = core[idx+1:]
		core = core[:idx]
		if prerelease == "" {
			return nil, NewInvalidVersionError(versionStr, nil)
		}
	}

	parts := strings.Split(core, ".")
	if len(parts) > 3 {
		return nil, NewInvalidVersionError(versionStr, nil)
	}

	components := [3]uint64{}
	names := [3]string{"major", "minor", "patch"}
	for i, part := range parts {
		value, err := parseVersionComponent(part, names[i])
		if err != nil {
			return nil, NewInvalidVersionError(versionStr, err)
		}
		components[i] = value
	}

	return &PluginVersion{
		Major:      components[0],
		Minor:      components[1],
		Patch:      components[2],
		Prerelease: prerelease,
		Build:      build,
		Original:   versionStr,
	}, nil
}

// MustParsePluginVersion is like ParsePluginVersion but panics on error.
// Intended for constants and tests.
func MustParsePluginVersion(versionStr string) *PluginVersion {
	v, err := ParsePluginVersion(versionStr)
	if err != nil {
		panic(err)
	}
	return v
}

func parseVersionComponent(component, componentType string) (uint64, error) {
	value, err := strconv.ParseUint(component, 10, 64)
	if err != nil {
		return 0, errors.Wrap(err, ErrCodeInvalidVersion, "Invalid version component").
			WithContext("component_type", componentType).
			WithContext("component_value", component).
			WithSeverity("error")
	}
	return value, nil
}

// String returns the version as originally written.
func (pv *PluginVersion) String() string {
	return pv.Original
}

// Compare compares two plugin versions. Returns -1, 0, or 1.
func (pv *PluginVersion) Compare(other *PluginVersion) int {
	if result := compareComponent(pv.Major, other.Major); result != 0 {
		return result
	}
	if result := compareComponent(pv.Minor, other.Minor); result != 0 {
		return result
	}
	if result := compareComponent(pv.Patch, other.Patch); result != 0 {
		return result
	}
	return comparePrerelease(pv.Prerelease, other.Prerelease)
}

// IsNewerThan reports whether pv orders strictly after other.
func (pv *PluginVersion) IsNewerThan(other *PluginVersion) bool {
	return pv.Compare(other) > 0
}

// IsOlderThan reports whether pv orders strictly before other.
func (pv *PluginVersion) IsOlderThan(other *PluginVersion) bool {
	return pv.Compare(other) < 0
}

func compareComponent(a, b uint64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// comparePrerelease orders dot-separated prerelease identifiers: numeric
// identifiers compare numerically and sort before alphanumeric ones, and a
// shorter list of equal identifiers sorts first.
func comparePrerelease(a, b string) int {
	if a == b {
		return 0
	}
	if a == "" {
		return 1
	}
	if b == "" {
		return -1
	}

	left := strings.Split(a, ".")
	right := strings.Split(b, ".")
	for i := 0; i < len(left) && i < len(right); i++ {
		if result := compareIdentifier(left[i], right[i]); result != 0 {
			return result
		}
	}
	return compareComponent(uint64(len(left)), uint64(len(right)))
}

func compareIdentifier(a, b string) int {
	an, aErr := strconv.ParseUint(a, 10, 64)
	bn, bErr := strconv.ParseUint(b, 10, 64)
	switch {
	case aErr == nil && bErr == nil:
		return compareComponent(an, bn)
	case aErr == nil:
		return -1
	case bErr == nil:
		return 1
	default:
		return strings.Compare(a, b)
	}
}

// SatisfiesMinimum reports whether pv is at least minimum. An empty minimum
// means any version.
func (pv *PluginVersion) SatisfiesMinimum(minimum string) (bool, error) {
	if strings.TrimSpace(minimum) == "" {
		return true, nil
	}
	required, err := ParsePluginVersion(minimum)
	if err != nil {
		return false, err
	}
	return pv.Compare(required) >= 0, nil
}

// SatisfiesConstraint checks if the version satisfies a constraint.
//
// Supported forms:
//   - "*" or "": any version
//   - "^1.2.0": same major, at least 1.2.0
//   - "~1.2.0": same major and minor, at least 1.2.0
//   - ">=1.2.0": at least 1.2.0
//   - "1.2.0": exact match
func (pv *PluginVersion) SatisfiesConstraint(constraint string) bool {
	constraint = strings.TrimSpace(constraint)
	switch {
	case constraint == "" || constraint == "*":
		return true
	case strings.HasPrefix(constraint, ">="):
		ok, err := pv.SatisfiesMinimum(strings.TrimSpace(strings.TrimPrefix(constraint, ">=")))
		return err == nil && ok
	case strings.HasPrefix(constraint, "^"):
		target, err := ParsePluginVersion(strings.TrimPrefix(constraint, "^"))
		if err != nil {
			return false
		}
		return pv.Major == target.Major && pv.Compare(target) >= 0
	case strings.HasPrefix(constraint, "~"):
		target, err := ParsePluginVersion(strings.TrimPrefix(constraint, "~"))
		if err != nil {
			return false
		}
		return pv.Major == target.Major && pv.Minor == target.Minor && pv.Compare(target) >= 0
	default:
		target, err := ParsePluginVersion(constraint)
		if err != nil {
			return false
		}
		return pv.Compare(target) == 0
	}
}

// CompareVersions parses and compares two version strings.
func CompareVersions(a, b string) (int, error) {
	left, err := ParsePluginVersion(a)
	if err != nil {
		return 0, err
	}
	right, err := ParsePluginVersion(b)
	if err != nil {
		return 0, err
	}
	return left.Compare(right), nil
}
