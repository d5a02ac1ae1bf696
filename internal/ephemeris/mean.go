// Package ephemeris provides body positions for the computational core. The
// Mean provider uses low precision mean elements: good to a fraction of a
// degree for the Sun and planets, enough for pattern search and tests. A
// higher precision provider plugs in through astro.Ephemeris.
package ephemeris

import (
	"errors"
	"fmt"
	"math"

	"github.com/starford/harmonia/internal/astro"
)

// ErrUnsupported is returned for bodies or coordinate systems a provider
// cannot evaluate.
var ErrUnsupported = errors.New("ephemeris: unsupported request")

const (
	deg2rad   = math.Pi / 180
	obliquity = 23.4393
	// derivative half-step in days
	speedStep = 1.0 / 24
)

type orbit struct {
	L0 float64 // mean longitude at J2000
	N  float64 // mean daily motion
	A  float64 // semi-major axis, AU
}

var orbits = map[astro.PlanetID]orbit{
	astro.Mercury: {252.2509, 4.0923344, 0.38710},
	astro.Venus:   {181.9798, 1.6021302, 0.72333},
	astro.Mars:    {355.4330, 0.5240208, 1.52368},
	astro.Jupiter: {34.3515, 0.0830853, 5.20260},
	astro.Saturn:  {50.0774, 0.0334443, 9.55491},
	astro.Uranus:  {314.0550, 0.0117296, 19.21845},
	astro.Neptune: {304.3487, 0.0059811, 30.11039},
	astro.Pluto:   {238.9290, 0.0039757, 39.48168},
}

// Mean is a stateless mean-element ephemeris. The zero value is ready to use
// and safe for concurrent use.
type Mean struct{}

// NewMean returns a Mean provider.
func NewMean() *Mean { return &Mean{} }

// Calc implements astro.Ephemeris.
func (m *Mean) Calc(jd float64, body astro.PlanetID, obs astro.Observer, sys astro.CoordSystem) (astro.Sample, error) {
	if sys != astro.Ecliptic {
		return astro.Sample{}, fmt.Errorf("%w: coordinate system %d", ErrUnsupported, sys)
	}
	if body.IsIngress() {
		return astro.Sample{Lon: float64(body-astro.IngressesStart) * 30}, nil
	}
	if err := validate(jd, body); err != nil {
		return astro.Sample{}, err
	}
	lon, dist := m.lonDist(jd, body, obs)
	before, _ := m.lonDist(jd-speedStep, body, obs)
	after, _ := m.lonDist(jd+speedStep, body, obs)
	speed := astro.SignedDiff(before, after) / (2 * speedStep)
	return astro.Sample{Lon: lon, Dist: dist, Speed: speed}, nil
}

func validate(jd float64, body astro.PlanetID) error {
	switch {
	case body == astro.Sun, body == astro.Moon, body.IsNode():
	case body == astro.Asc, body == astro.MC:
	case body >= astro.HousesStart && body < astro.HousesEnd:
	default:
		if _, ok := orbits[body]; !ok {
			return fmt.Errorf("%w: body %d", ErrUnsupported, body)
		}
	}
	if math.IsNaN(jd) || math.IsInf(jd, 0) {
		return fmt.Errorf("ephemeris: invalid julian day %v", jd)
	}
	return nil
}

func (m *Mean) lonDist(jd float64, body astro.PlanetID, obs astro.Observer) (float64, float64) {
	d := jd - astro.J2000
	switch {
	case body == astro.Sun:
		return sunLon(d), 1
	case body == astro.Moon:
		return moonLon(d), 0.00257
	case body == astro.NorthNode:
		return astro.Normalize(125.04452 - 0.0529538083*d), 0.00257
	case body == astro.SouthNode:
		return astro.Normalize(125.04452 - 0.0529538083*d + 180), 0.00257
	case body == astro.MC:
		return mc(d, obs), 0
	case body == astro.Asc:
		return asc(d, obs), 0
	case body >= astro.HousesStart && body < astro.HousesEnd:
		// equal houses measured from the ascendant
		return astro.Normalize(asc(d, obs) + 30*float64(body-astro.HousesStart)), 0
	}
	o := orbits[body]
	lp := (o.L0 + o.N*d) * deg2rad
	le := (sunLon(d) + 180) * deg2rad
	x := o.A*math.Cos(lp) - math.Cos(le)
	y := o.A*math.Sin(lp) - math.Sin(le)
	return astro.Normalize(math.Atan2(y, x) / deg2rad), math.Hypot(x, y)
}

func sunLon(d float64) float64 {
	l := 280.460 + 0.9856474*d
	g := (357.528 + 0.9856003*d) * deg2rad
	return astro.Normalize(l + 1.915*math.Sin(g) + 0.020*math.Sin(2*g))
}

func moonLon(d float64) float64 {
	l := 218.316 + 13.176396*d
	mm := (134.963 + 13.064993*d) * deg2rad
	return astro.Normalize(l + 6.289*math.Sin(mm))
}

// ramc is the local sidereal time expressed in degrees.
func ramc(d float64, obs astro.Observer) float64 {
	return astro.Normalize(280.46061837 + 360.98564736629*d + obs.Lon)
}

func mc(d float64, obs astro.Observer) float64 {
	r := ramc(d, obs) * deg2rad
	e := obliquity * deg2rad
	return astro.Normalize(math.Atan2(math.Sin(r), math.Cos(r)*math.Cos(e)) / deg2rad)
}

func asc(d float64, obs astro.Observer) float64 {
	r := ramc(d, obs) * deg2rad
	e := obliquity * deg2rad
	lat := obs.Lat * deg2rad
	return astro.Normalize(math.Atan2(math.Cos(r), -(math.Sin(r)*math.Cos(e) + math.Tan(lat)*math.Sin(e))) / deg2rad)
}
