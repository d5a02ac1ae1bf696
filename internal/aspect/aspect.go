package aspect

import (
	"sort"

	"github.com/starford/harmonia/internal/astro"
)

// Aspect is a matched relationship between two or more positions.
type Aspect struct {
	Def      Def               `json:"def"`
	Members  []astro.PlanetLoc `json:"members"`
	Angle    float64           `json:"angle"`
	Orb      float64           `json:"orb"`
	Applying bool              `json:"applying"`
}

// SameBody reports whether a and b are the same real body of the same chart.
// Both lunar nodes share one ephemeris code and so count as the same body.
func SameBody(a, b astro.ChartPlanetID) bool {
	if a.Chart != b.Chart || !a.IsSolo() || !b.IsSolo() {
		return false
	}
	if !a.Planet.IsPlanet() || !b.Planet.IsPlanet() {
		return a.Planet == b.Planet
	}
	return a.Planet.EphemerisCode() == b.Planet.EphemerisCode()
}

// Calculate evaluates a and b against set. It reports false when the angle
// matches nothing, or when a and b are the same body.
func Calculate(a, b astro.PlanetLoc, set Set, o astro.Options) (Aspect, bool) {
	if SameBody(a.ID, b.ID) {
		return Aspect{}, false
	}
	angle := astro.Angle(a.Loc.Lon, b.Loc.Lon)
	def, ok := set.Match(angle, o)
	if !ok {
		return Aspect{}, false
	}
	return Aspect{
		Def:      def,
		Members:  []astro.PlanetLoc{a, b},
		Angle:    angle,
		Orb:      abs(angle - def.Angle),
		Applying: Applying(a.Loc, b.Loc, def.Angle),
	}, true
}

// Applying reports whether the separation of a and b is moving towards
// exact. The earlier body in zodiacal order is the reference: the
// separation grows when the later one outpaces it.
func Applying(a, b astro.Loc, exact float64) bool {
	rel := b.Speed - a.Speed
	if !astro.IsEarlier(a.Lon, b.Lon) {
		rel = -rel
	}
	towards := rel < 0 // separation shrinking
	angle := astro.Angle(a.Lon, b.Lon)
	if angle == exact {
		return false
	}
	return towards == (angle > exact)
}

// Pairs returns every aspect among positions of one list, tightest first.
func Pairs(locs []astro.PlanetLoc, set Set, o astro.Options) []Aspect {
	var out []Aspect
	for i := 0; i < len(locs); i++ {
		for j := i + 1; j < len(locs); j++ {
			if a, ok := Calculate(locs[i], locs[j], set, o); ok {
				out = append(out, a)
			}
		}
	}
	sortByOrb(out)
	return out
}

// Between returns every aspect from a position in left to one in right,
// as used for synastry and transits, tightest first.
func Between(left, right []astro.PlanetLoc, set Set, o astro.Options) []Aspect {
	var out []Aspect
	for _, l := range left {
		for _, r := range right {
			if a, ok := Calculate(l, r, set, o); ok {
				out = append(out, a)
			}
		}
	}
	sortByOrb(out)
	return out
}

func sortByOrb(as []Aspect) {
	sort.SliceStable(as, func(i, j int) bool { return as[i].Orb < as[j].Orb })
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
