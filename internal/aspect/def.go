// Package aspect decides whether positions form a recognised angular
// relationship. Angle sets are either loaded from CSV tables or generated
// from the harmonic series.
package aspect

import (
	"math"

	"github.com/starford/harmonia/internal/astro"
)

// Def is one angle definition within a set.
type Def struct {
	ID    int     `json:"id"`
	Name  string  `json:"name"`
	Angle float64 `json:"angle"`
	Orb   float64 `json:"orb"`
	// Harmonic is the harmonic an angle was generated from; 0 for loaded
	// definitions.
	Harmonic int   `json:"harmonic,omitempty"`
	Factors  []int `json:"factors,omitempty"`
	// Dynamic definitions take their orb from the harmonic rather than Orb.
	Dynamic bool              `json:"dynamic,omitempty"`
	Attrs   map[string]string `json:"attrs,omitempty"`
}

// EffectiveOrb is the orb after applying the tuning in o.
func (d Def) EffectiveOrb(o astro.Options) float64 {
	if d.Dynamic && d.Harmonic > 0 {
		return o.HarmonicOrb(d.Harmonic)
	}
	return d.Orb * o.OrbFactor
}

// Contains reports whether a measured angle in [0, 180] falls within the
// definition's orb.
func (d Def) Contains(angle float64, o astro.Options) bool {
	return math.Abs(angle-d.Angle) <= d.EffectiveOrb(o)
}

// Set is a named, ordered collection of definitions. Order matters: the
// first matching definition wins.
type Set struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
	Defs []Def  `json:"defs"`
}

// Match returns the first definition whose orb window contains angle. The
// angle may be any longitude difference; it is folded into [0, 180] first,
// so θ and 360-θ always resolve alike.
func (s Set) Match(angle float64, o astro.Options) (Def, bool) {
	a := astro.Angle(angle, 0)
	for _, d := range s.Defs {
		if d.Contains(a, o) {
			return d, true
		}
	}
	return Def{}, false
}

// Def returns the definition with the given id.
func (s Set) Def(id int) (Def, bool) {
	for _, d := range s.Defs {
		if d.ID == id {
			return d, true
		}
	}
	return Def{}, false
}

// MaxOrb is the widest effective orb in the set.
func (s Set) MaxOrb(o astro.Options) float64 {
	var m float64
	for _, d := range s.Defs {
		m = math.Max(m, d.EffectiveOrb(o))
	}
	return m
}
