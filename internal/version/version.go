// Package version maps a requested hwloc version to the range of compatible
// releases and the upstream branch that carries them.
package version

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/mod/semver"
)

var (
	// ErrInvalidVersion is returned for strings that are not dot-separated numbers.
	ErrInvalidVersion = errors.New("invalid version")
	// ErrUnsupportedVersion is returned when the major version has no mapping.
	ErrUnsupportedVersion = errors.New("unsupported hwloc major version")
)

type majorPolicy struct {
	next string // first incompatible release
	ref  string // upstream release branch
}

// Add new majors here once they are known to be API compatible with the bindings.
var majors = map[string]majorPolicy{
	"2": {next: "3.0.0", ref: "v2.x"},
}

// Range is the half-open interval [Min, Max) of acceptable versions.
type Range struct {
	Min string
	Max string
}

// Contains reports whether v lies inside the range.
func (r Range) Contains(v string) bool {
	cv := canonical(v)
	if !semver.IsValid(cv) {
		return false
	}
	return semver.Compare(cv, canonical(r.Min)) >= 0 && semver.Compare(cv, canonical(r.Max)) < 0
}

// Constraint renders the range in Masterminds/semver constraint syntax.
func (r Range) Constraint() string {
	return fmt.Sprintf(">= %s, < %s", r.Min, r.Max)
}

func (r Range) String() string {
	return fmt.Sprintf("[%s, %s)", r.Min, r.Max)
}

// Policy is the outcome of resolving a requested version.
type Policy struct {
	Requested string
	Range     Range
	SourceRef string
}

// Resolve validates requested and returns its compatibility range and source ref.
func Resolve(requested string) (Policy, error) {
	major, err := Major(requested)
	if err != nil {
		return Policy{}, err
	}
	p, ok := majors[major]
	if !ok {
		return Policy{}, fmt.Errorf("%w: please add support for hwloc v%s.x (requested %s)", ErrUnsupportedVersion, major, requested)
	}
	return Policy{
		Requested: requested,
		Range:     Range{Min: requested, Max: p.next},
		SourceRef: p.ref,
	}, nil
}

// Major returns the first dot-separated component of a numeric version string.
func Major(v string) (string, error) {
	if v == "" {
		return "", fmt.Errorf("%w: empty version", ErrInvalidVersion)
	}
	for _, part := range strings.Split(v, ".") {
		if part == "" || strings.Trim(part, "0123456789") != "" {
			return "", fmt.Errorf("%w: %q is not dot-separated numeric components", ErrInvalidVersion, v)
		}
	}
	cv := canonical(v)
	if !semver.IsValid(cv) {
		return "", fmt.Errorf("%w: %q", ErrInvalidVersion, v)
	}
	return strings.TrimPrefix(semver.Major(cv), "v"), nil
}

func canonical(v string) string {
	if strings.HasPrefix(v, "v") {
		return v
	}
	return "v" + v
}
