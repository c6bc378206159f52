// Package version provides the totally ordered toolchain release identifier used by the
// search engine. Ordering follows semantic versioning precedence (pre-releases sort before
// their release) and is delegated to golang.org/x/mod/semver.
package version

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"golang.org/x/mod/semver"
)

// Version is a toolchain release: major.minor.patch plus an optional pre-release and build tag.
type Version struct {
	Major uint64
	Minor uint64
	Patch uint64

	// Pre is the pre-release tag without the leading '-' (e.g. "beta.1").
	Pre string

	// Build is the build metadata without the leading '+'.
	Build string
}

// New creates a release version without pre-release or build tags.
func New(major, minor, patch uint64) Version {
	return Version{Major: major, Minor: minor, Patch: patch}
}

// Parse parses a full three component version such as "1.56.0", "v1.56.0" or
// "1.60.0-beta.2+20220101". A leading 'v' is accepted.
func Parse(s string) (Version, error) {
	return parse(s, false)
}

// ParseBare parses a version that may omit the patch component ("1.56" is 1.56.0),
// the form commonly used to declare a minimum supported version in a manifest.
func ParseBare(s string) (Version, error) {
	return parse(s, true)
}

// MustParse is like Parse but panics on error. Intended for tests and constants.
func MustParse(s string) Version {
	v, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return v
}

func parse(s string, allowTwo bool) (Version, error) {
	raw := strings.TrimSpace(s)
	body := strings.TrimPrefix(raw, "v")
	if body == "" {
		return Version{}, fmt.Errorf("invalid version %q: empty", s)
	}

	var v Version
	if i := strings.IndexByte(body, '+'); i >= 0 {
		v.Build = body[i+1:]
		body = body[:i]
		if v.Build == "" {
			return Version{}, fmt.Errorf("invalid version %q: empty build metadata", s)
		}
	}
	if i := strings.IndexByte(body, '-'); i >= 0 {
		v.Pre = body[i+1:]
		body = body[:i]
		if v.Pre == "" {
			return Version{}, fmt.Errorf("invalid version %q: empty pre-release", s)
		}
	}

	parts := strings.Split(body, ".")
	switch {
	case len(parts) == 3:
	case len(parts) == 2 && allowTwo:
		parts = append(parts, "0")
	default:
		return Version{}, fmt.Errorf("invalid version %q: expected major.minor.patch", s)
	}

	nums := make([]uint64, 3)
	for i, p := range parts {
		if p == "" || (len(p) > 1 && p[0] == '0') {
			return Version{}, fmt.Errorf("invalid version %q: bad component %q", s, p)
		}
		n, err := strconv.ParseUint(p, 10, 64)
		if err != nil {
			return Version{}, fmt.Errorf("invalid version %q: %w", s, err)
		}
		nums[i] = n
	}
	v.Major, v.Minor, v.Patch = nums[0], nums[1], nums[2]

	if !semver.IsValid(v.semver()) {
		return Version{}, fmt.Errorf("invalid version %q: not a semantic version", s)
	}
	return v, nil
}

// String returns the canonical form without a leading 'v'.
func (v Version) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d.%d.%d", v.Major, v.Minor, v.Patch)
	if v.Pre != "" {
		b.WriteByte('-')
		b.WriteString(v.Pre)
	}
	if v.Build != "" {
		b.WriteByte('+')
		b.WriteString(v.Build)
	}
	return b.String()
}

func (v Version) semver() string {
	return "v" + v.String()
}

// IsPrerelease reports whether the version carries a pre-release tag.
func (v Version) IsPrerelease() bool {
	return v.Pre != ""
}

// IsZero reports whether v is the zero value.
func (v Version) IsZero() bool {
	return v == Version{}
}

// Compare returns -1, 0 or +1. Semantic version precedence decides first; build metadata,
// which carries no precedence, breaks ties lexically so that distinct versions never
// compare equal.
func Compare(a, b Version) int {
	if c := semver.Compare(a.semver(), b.semver()); c != 0 {
		return c
	}
	return strings.Compare(a.Build, b.Build)
}

// Compare compares v with o. See the package level Compare.
func (v Version) Compare(o Version) int {
	return Compare(v, o)
}

// Less reports whether v sorts before o.
func (v Version) Less(o Version) bool {
	return Compare(v, o) < 0
}

// Equal reports whether v and o are the same version.
func (v Version) Equal(o Version) bool {
	return Compare(v, o) == 0
}

// SameMinor reports whether v and o share major and minor components.
func (v Version) SameMinor(o Version) bool {
	return v.Major == o.Major && v.Minor == o.Minor
}

// MarshalText implements encoding.TextMarshaler.
func (v Version) MarshalText() ([]byte, error) {
	return []byte(v.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. Bare two component forms are accepted.
func (v *Version) UnmarshalText(text []byte) error {
	parsed, err := ParseBare(string(text))
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// Sort sorts versions in ascending order in place.
func Sort(vs []Version) {
	slices.SortFunc(vs, Compare)
}

// IsStrictlyAscending reports whether vs is sorted ascending with no duplicates. It returns
// the index of the first offending element, or -1.
func IsStrictlyAscending(vs []Version) (bool, int) {
	for i := 1; i < len(vs); i++ {
		if Compare(vs[i-1], vs[i]) >= 0 {
			return false, i
		}
	}
	return true, -1
}
