package astro

import (
	"math"
	"sort"
)

// Normalize maps any longitude into [0, 360).
func Normalize(deg float64) float64 {
	d := math.Mod(deg, 360)
	if d < 0 {
		d += 360
	}
	if d >= 360 {
		d = 0
	}
	return d
}

// Angle returns the minimal angular difference of two longitudes, in
// [0, 180].
func Angle(a, b float64) float64 {
	d := math.Abs(Normalize(a) - Normalize(b))
	if d > 180 {
		d = 360 - d
	}
	return d
}

// SignedDiff returns b - a folded into (-180, 180].
func SignedDiff(a, b float64) float64 {
	d := Normalize(b - a)
	if d > 180 {
		d -= 360
	}
	return d
}

// IsEarlier reports whether a lies behind ref in zodiacal order, i.e. ref is
// reached by moving forward less than half a circle from a.
func IsEarlier(a, ref float64) bool {
	return Normalize(a-ref) > 180
}

// Project maps a longitude into harmonic h: (lon * h) mod 360.
func Project(lon float64, h int) float64 {
	return Normalize(lon * float64(h))
}

// Loc is a position snapshot: ecliptic longitude in degrees and speed in
// degrees per day.
type Loc struct {
	Desc  string  `json:"desc,omitempty"`
	Lon   float64 `json:"lon"`
	Speed float64 `json:"speed"`
}

// Project returns the location projected into harmonic h. Speed scales with
// the harmonic number.
func (l Loc) Project(h int) Loc {
	if h <= 1 {
		l.Lon = Normalize(l.Lon)
		return l
	}
	return Loc{Desc: l.Desc, Lon: Project(l.Lon, h), Speed: l.Speed * float64(h)}
}

// Retrograde reports whether the body moves backwards through the zodiac.
func (l Loc) Retrograde() bool { return l.Speed < 0 }

// Valid reports whether both fields are finite numbers.
func (l Loc) Valid() bool {
	return !math.IsNaN(l.Lon) && !math.IsInf(l.Lon, 0) && !math.IsNaN(l.Speed) && !math.IsInf(l.Speed, 0)
}

// PlanetLoc ties a snapshot to the body it belongs to.
type PlanetLoc struct {
	ID   ChartPlanetID `json:"id"`
	Loc  Loc           `json:"loc"`
	Live bool          `json:"live,omitempty"`
}

// TrueSpread measures how tightly a set of longitudes is grouped. When the
// naive max - min exceeds maxOrb the group may straddle 0 degrees, so the
// spread is 360 minus the largest gap between neighbours instead.
func TrueSpread(lons []float64, maxOrb float64) float64 {
	if len(lons) < 2 {
		return 0
	}
	s := make([]float64, len(lons))
	for i, l := range lons {
		s[i] = Normalize(l)
	}
	sort.Float64s(s)
	naive := s[len(s)-1] - s[0]
	if naive <= maxOrb {
		return naive
	}
	// the gap across 0 degrees competes with the inner ones
	gap := 360 - naive
	for i := 1; i < len(s); i++ {
		if g := s[i] - s[i-1]; g > gap {
			gap = g
		}
	}
	return 360 - gap
}
