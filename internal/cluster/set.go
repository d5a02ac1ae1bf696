// Package cluster finds groups of bodies whose harmonic positions coincide
// within an orb, and ladders that search across the harmonic series.
package cluster

import (
	"math/bits"
	"sort"
	"strings"

	"github.com/starford/harmonia/internal/astro"
)

// Set is a sorted, duplicate-free collection of body identifiers.
type Set []astro.ChartPlanetID

// NewSet sorts and deduplicates ids.
func NewSet(ids ...astro.ChartPlanetID) Set {
	s := append(Set(nil), ids...)
	sort.Slice(s, func(i, j int) bool { return s[i].Less(s[j]) })
	out := s[:0]
	for i, id := range s {
		if i > 0 && id == s[i-1] {
			continue
		}
		out = append(out, id)
	}
	return out
}

// Key is a stable map key for the set.
func (s Set) Key() string {
	parts := make([]string, len(s))
	for i, id := range s {
		parts[i] = id.String()
	}
	return strings.Join(parts, "|")
}

// Names lists the members' display names, e.g. for logs.
func (s Set) Names() []string {
	out := make([]string, len(s))
	for i, id := range s {
		out[i] = id.Name()
	}
	return out
}

// Population counts members, except that a chart contributing both lunar
// nodes as solo bodies counts one fewer: the nodes are always opposite and
// add no information to each other.
func (s Set) Population() int {
	n := len(s)
	north, south := map[int]bool{}, map[int]bool{}
	for _, id := range s {
		if !id.IsSolo() {
			continue
		}
		switch id.Planet {
		case astro.NorthNode:
			north[id.Chart] = true
		case astro.SouthNode:
			south[id.Chart] = true
		}
	}
	for c := range north {
		if south[c] {
			n--
		}
	}
	return n
}

// Weight is the population with every midpoint counted twice, since a
// midpoint stands for two bodies. It is what quorum is measured against.
func (s Set) Weight() int {
	w := s.Population()
	for _, id := range s {
		if id.IsMidpoint() {
			w++
		}
	}
	return w
}

// HasMidpoint reports whether any member is a midpoint.
func (s Set) HasMidpoint() bool {
	for _, id := range s {
		if id.IsMidpoint() {
			return true
		}
	}
	return false
}

// Has reports whether id is a member.
func (s Set) Has(id astro.ChartPlanetID) bool {
	i := sort.Search(len(s), func(i int) bool { return !s[i].Less(id) })
	return i < len(s) && s[i] == id
}

// HasAll reports whether every member of o is in s.
func (s Set) HasAll(o Set) bool {
	for _, id := range o {
		if !s.Has(id) {
			return false
		}
	}
	return true
}

// Involves reports whether any member, or a midpoint component, is p.
func (s Set) Involves(p astro.PlanetID) bool {
	for _, id := range s {
		if id.Planet == p || (id.IsMidpoint() && id.Other == p) {
			return true
		}
	}
	return false
}

// Charts returns the distinct chart indexes of the members.
func (s Set) Charts() []int {
	var out []int
	for _, id := range s {
		if len(out) == 0 || out[len(out)-1] != id.Chart {
			out = append(out, id.Chart)
		}
	}
	return out
}

// MaxCharts is the number of charts a Bitmap can address.
const MaxCharts = 8

// Bitmap encodes a set of solo bodies as one word per chart, so that
// containment is a masking test.
type Bitmap [MaxCharts]uint64

// BitmapOf encodes s. It reports false when s holds a midpoint, a chart
// index beyond MaxCharts or a body without a bit slot.
func BitmapOf(s Set) (Bitmap, bool) {
	var b Bitmap
	for _, id := range s {
		if id.IsMidpoint() || id.Chart < 0 || id.Chart >= MaxCharts {
			return Bitmap{}, false
		}
		bit, ok := id.Planet.Bit()
		if !ok {
			return Bitmap{}, false
		}
		b[id.Chart] |= 1 << bit
	}
	return b, true
}

// Contains reports whether every body in o is also in b.
func (b Bitmap) Contains(o Bitmap) bool {
	for i := range b {
		if b[i]&o[i] != o[i] {
			return false
		}
	}
	return true
}

// Count returns the number of bodies encoded.
func (b Bitmap) Count() int {
	n := 0
	for _, w := range b {
		n += bits.OnesCount64(w)
	}
	return n
}
