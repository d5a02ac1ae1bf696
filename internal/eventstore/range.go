// Package eventstore caches time-ranged search results per event type and
// works out which part of a requested window still needs computing.
package eventstore

import (
	"fmt"
	"sort"
	"time"

	"github.com/starford/harmonia/internal/apperr"
)

// Range is the half-open interval [Start, End).
type Range struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// NewRange validates and builds a range.
func NewRange(start, end time.Time) (Range, error) {
	r := Range{Start: start.UTC(), End: end.UTC()}
	if !r.Valid() {
		return Range{}, fmt.Errorf("range %s..%s: %w", start.Format(time.RFC3339), end.Format(time.RFC3339), apperr.ErrInvalidRange)
	}
	return r, nil
}

// Valid reports whether the range is non-empty.
func (r Range) Valid() bool { return r.End.After(r.Start) }

// Contains reports whether t lies in [Start, End).
func (r Range) Contains(t time.Time) bool {
	return !t.Before(r.Start) && t.Before(r.End)
}

// Covers reports whether o lies entirely inside r.
func (r Range) Covers(o Range) bool {
	return !o.Start.Before(r.Start) && !o.End.After(r.End)
}

// Duration is End - Start.
func (r Range) Duration() time.Duration { return r.End.Sub(r.Start) }

// Equal compares instants, ignoring location.
func (r Range) Equal(o Range) bool {
	return r.Start.Equal(o.Start) && r.End.Equal(o.End)
}

func (r Range) String() string {
	return r.Start.Format(time.RFC3339) + ".." + r.End.Format(time.RFC3339)
}

// Split cuts r into consecutive pieces no longer than size.
func (r Range) Split(size time.Duration) []Range {
	if size <= 0 || r.Duration() <= size {
		return []Range{r}
	}
	var out []Range
	for s := r.Start; s.Before(r.End); s = s.Add(size) {
		e := s.Add(size)
		if e.After(r.End) {
			e = r.End
		}
		out = append(out, Range{Start: s, End: e})
	}
	return out
}

// Coalesce returns a fresh sorted set in which overlapping or touching
// ranges are folded into one. Empty ranges are dropped.
func Coalesce(rs []Range) []Range {
	in := make([]Range, 0, len(rs))
	for _, r := range rs {
		if r.Valid() {
			in = append(in, r)
		}
	}
	sort.Slice(in, func(i, j int) bool { return in[i].Start.Before(in[j].Start) })
	var out []Range
	for _, r := range in {
		if n := len(out); n > 0 && !out[n-1].End.Before(r.Start) {
			if r.End.After(out[n-1].End) {
				out[n-1].End = r.End
			}
			continue
		}
		out = append(out, r)
	}
	return out
}

// Subtract returns the parts of r not covered by cov, which must be sorted
// and disjoint.
func Subtract(r Range, cov []Range) []Range {
	var out []Range
	cur := r.Start
	for _, c := range cov {
		if !c.End.After(cur) {
			continue
		}
		if !c.Start.Before(r.End) {
			break
		}
		if c.Start.After(cur) {
			out = append(out, Range{Start: cur, End: c.Start})
		}
		if c.End.After(cur) {
			cur = c.End
		}
		if !cur.Before(r.End) {
			break
		}
	}
	if cur.Before(r.End) {
		out = append(out, Range{Start: cur, End: r.End})
	}
	return out
}

// CheckCoverage verifies the coverage invariant: every range non-empty,
// sorted, and separated from its successor by a gap.
func CheckCoverage(rs []Range) error {
	for i, r := range rs {
		if !r.Valid() {
			return fmt.Errorf("coverage[%d] %s is empty", i, r)
		}
		if i > 0 && !rs[i-1].End.Before(r.Start) {
			return fmt.Errorf("coverage[%d] %s touches or overlaps %s", i, r, rs[i-1])
		}
	}
	return nil
}
