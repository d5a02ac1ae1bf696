// Package astro holds the value types shared by every computational package:
// body identifiers, positions as functions of time and harmonic, and the
// immutable options snapshot captured at the start of a search episode.
package astro

import (
	"fmt"
	"strings"
)

// PlanetID identifies a body or a calculated point within one chart.
type PlanetID int

// Real bodies.
const (
	PlanetNone PlanetID = -1
	Sun        PlanetID = 0
	Moon       PlanetID = 1
	Mercury    PlanetID = 2
	Venus      PlanetID = 3
	Mars       PlanetID = 4
	Jupiter    PlanetID = 5
	Saturn     PlanetID = 6
	Uranus     PlanetID = 7
	Neptune    PlanetID = 8
	Pluto      PlanetID = 9
	NorthNode  PlanetID = 10
	SouthNode  PlanetID = 11
)

// Calculated points.
const (
	Asc PlanetID = 100
	MC  PlanetID = 101

	HousesStart PlanetID = 200 // cusp n is HousesStart + n - 1
	HousesEnd   PlanetID = 212

	IngressesStart PlanetID = 300 // ingress into sign k (0 = Aries) is IngressesStart + k
	IngressesEnd   PlanetID = 312
)

var planetNames = map[PlanetID]string{
	Sun:       "Sun",
	Moon:      "Moon",
	Mercury:   "Mercury",
	Venus:     "Venus",
	Mars:      "Mars",
	Jupiter:   "Jupiter",
	Saturn:    "Saturn",
	Uranus:    "Uranus",
	Neptune:   "Neptune",
	Pluto:     "Pluto",
	NorthNode: "North Node",
	SouthNode: "South Node",
	Asc:       "Ascendant",
	MC:        "Midheaven",
}

var signNames = [12]string{
	"Aries", "Taurus", "Gemini", "Cancer", "Leo", "Virgo",
	"Libra", "Scorpio", "Sagittarius", "Capricorn", "Aquarius", "Pisces",
}

// mean daily motion in degrees, used to size search steps.
var defaultSpeeds = map[PlanetID]float64{
	Sun:       0.9856,
	Moon:      13.1764,
	Mercury:   1.383,
	Venus:     1.2,
	Mars:      0.524,
	Jupiter:   0.083,
	Saturn:    0.0335,
	Uranus:    0.0117,
	Neptune:   0.006,
	Pluto:     0.004,
	NorthNode: -0.053,
	SouthNode: -0.053,
	Asc:       360.98,
	MC:        360.98,
}

// Planets lists Sun through Pluto.
func Planets() []PlanetID {
	return []PlanetID{Sun, Moon, Mercury, Venus, Mars, Jupiter, Saturn, Uranus, Neptune, Pluto}
}

// IsPlanet reports whether p is one of the real bodies, nodes included.
func (p PlanetID) IsPlanet() bool { return p >= Sun && p <= SouthNode }

// IsNode reports whether p is a lunar node.
func (p PlanetID) IsNode() bool { return p == NorthNode || p == SouthNode }

// IsAngle reports whether p is the Ascendant, the Midheaven or a house cusp.
func (p PlanetID) IsAngle() bool {
	return p == Asc || p == MC || (p >= HousesStart && p < HousesEnd)
}

// IsIngress reports whether p is a sign ingress point.
func (p PlanetID) IsIngress() bool { return p >= IngressesStart && p < IngressesEnd }

// EphemerisCode is the body the ephemeris actually evaluates. The south node
// is the north node reflected, so both share a code.
func (p PlanetID) EphemerisCode() PlanetID {
	if p == SouthNode {
		return NorthNode
	}
	return p
}

// DefaultSpeed returns the mean daily motion of p in degrees. Fixed points
// such as cusps and ingresses report 0.
func (p PlanetID) DefaultSpeed() float64 { return defaultSpeeds[p] }

// Bit returns the bitmap slot of p and false when p has none.
func (p PlanetID) Bit() (uint, bool) {
	switch {
	case p.IsPlanet():
		return uint(p), true
	case p == Asc:
		return 12, true
	case p == MC:
		return 13, true
	case p >= HousesStart && p < HousesEnd:
		return 14 + uint(p-HousesStart), true
	case p.IsIngress():
		return 26 + uint(p-IngressesStart), true
	}
	return 0, false
}

// Name returns the display name of p.
func (p PlanetID) Name() string {
	if n, ok := planetNames[p]; ok {
		return n
	}
	switch {
	case p >= HousesStart && p < HousesEnd:
		return fmt.Sprintf("Cusp %d", int(p-HousesStart)+1)
	case p.IsIngress():
		return signNames[p-IngressesStart] + " ingress"
	}
	return fmt.Sprintf("Body %d", int(p))
}

// ParsePlanet resolves a planet by its display name, case-insensitively.
func ParsePlanet(name string) (PlanetID, bool) {
	for id, n := range planetNames {
		if strings.EqualFold(n, name) {
			return id, true
		}
	}
	return PlanetNone, false
}

// ChartPlanetID is a body identifier scoped to the chart it came from, so
// synastry and transit comparisons can tell two Suns apart. Midpoints carry
// both members with the smaller identifier first; Far marks the point
// opposite the near midpoint.
type ChartPlanetID struct {
	Chart  int      `json:"chart"`
	Planet PlanetID `json:"planet"`
	Other  PlanetID `json:"other,omitempty"`
	Far    bool     `json:"far,omitempty"`
}

// NewChartPlanetID returns the identifier of a solo body.
func NewChartPlanetID(chart int, p PlanetID) ChartPlanetID {
	return ChartPlanetID{Chart: chart, Planet: p, Other: PlanetNone}
}

// NewMidpointID returns the identifier of the midpoint of a and b.
func NewMidpointID(chart int, a, b PlanetID, far bool) ChartPlanetID {
	if b < a {
		a, b = b, a
	}
	return ChartPlanetID{Chart: chart, Planet: a, Other: b, Far: far}
}

// IsMidpoint reports whether the identifier names a derived midpoint. Members
// are ordered, so a midpoint always has Other > Planet; a zero-valued Other
// on a solo literal is therefore never mistaken for one.
func (c ChartPlanetID) IsMidpoint() bool { return c.Other > c.Planet }

// IsSolo reports whether the identifier names a single body or point.
func (c ChartPlanetID) IsSolo() bool { return !c.IsMidpoint() }

// Members returns the solo identifiers of a midpoint, or c itself.
func (c ChartPlanetID) Members() []ChartPlanetID {
	if c.IsSolo() {
		return []ChartPlanetID{c}
	}
	return []ChartPlanetID{NewChartPlanetID(c.Chart, c.Planet), NewChartPlanetID(c.Chart, c.Other)}
}

// Less orders identifiers by chart, then planet, then midpoint partner.
func (c ChartPlanetID) Less(o ChartPlanetID) bool {
	if c.Chart != o.Chart {
		return c.Chart < o.Chart
	}
	if c.Planet != o.Planet {
		return c.Planet < o.Planet
	}
	if c.Other != o.Other {
		return c.Other < o.Other
	}
	return !c.Far && o.Far
}

// Name returns a human readable name such as "Sun" or "Sun/Moon".
func (c ChartPlanetID) Name() string {
	if c.IsSolo() {
		return c.Planet.Name()
	}
	sep := "/"
	if c.Far {
		sep = "\\"
	}
	return c.Planet.Name() + sep + c.Other.Name()
}

func (c ChartPlanetID) String() string {
	return fmt.Sprintf("%d:%s", c.Chart, c.Name())
}
