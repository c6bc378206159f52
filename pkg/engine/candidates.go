package engine

import (
	"github.com/openfroyo/msrv/pkg/version"
)

// CandidateSet is the ordered, immutable sequence of versions considered by a run.
type CandidateSet struct {
	versions []version.Version
}

// NewCandidateSet copies vs into a candidate set. The versions must be strictly ascending;
// anything else is a programming invariant violation of the catalog supplier.
func NewCandidateSet(vs []version.Version) (CandidateSet, error) {
	if ok, idx := version.IsStrictlyAscending(vs); !ok {
		return CandidateSet{}, NewProgrammingError("candidates are not strictly ascending", nil).
			WithCode(ErrCodeUnorderedCandidates).
			WithVersion(vs[idx]).
			WithDetail("index", idx)
	}

	cp := make([]version.Version, len(vs))
	copy(cp, vs)
	return CandidateSet{versions: cp}, nil
}

// Len returns the number of candidates.
func (c CandidateSet) Len() int {
	return len(c.versions)
}

// At returns the candidate at index i.
func (c CandidateSet) At(i int) version.Version {
	return c.versions[i]
}

// Versions returns a copy of the candidates in ascending order.
func (c CandidateSet) Versions() []version.Version {
	cp := make([]version.Version, len(c.versions))
	copy(cp, c.versions)
	return cp
}

// Index returns the catalog index of v, or -1.
func (c CandidateSet) Index(v version.Version) int {
	lo, hi := 0, len(c.versions)
	for lo < hi {
		mid := int(uint(lo+hi) >> 1)
		if c.versions[mid].Less(v) {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if lo < len(c.versions) && c.versions[lo].Equal(v) {
		return lo
	}
	return -1
}

// Narrowing restricts the catalog before a search starts.
type Narrowing struct {
	// Min is the inclusive lower bound.
	Min *version.Version

	// Max is the inclusive upper bound.
	Max *version.Version

	// IncludeAllPatches keeps every patch release. When false only the newest patch release
	// of each major.minor line is kept.
	IncludeAllPatches bool

	// IncludePrereleases keeps pre-release versions.
	IncludePrereleases bool
}

// Narrow returns a new candidate set filtered by n. Order is preserved.
func (c CandidateSet) Narrow(n Narrowing) CandidateSet {
	kept := make([]version.Version, 0, len(c.versions))
	for _, v := range c.versions {
		if v.IsPrerelease() && !n.IncludePrereleases {
			continue
		}
		if n.Min != nil && v.Less(*n.Min) {
			continue
		}
		if n.Max != nil && n.Max.Less(v) {
			continue
		}
		kept = append(kept, v)
	}

	if !n.IncludeAllPatches {
		latest := kept[:0:0]
		for i, v := range kept {
			if i+1 < len(kept) && kept[i+1].SameMinor(v) {
				continue
			}
			latest = append(latest, v)
		}
		kept = latest
	}

	return CandidateSet{versions: kept}
}
