package ephemeris

import (
	"fmt"

	"github.com/starford/harmonia/internal/astro"
)

// Circle is a reference circle a body can cross during a day.
type Circle int

const (
	Rise Circle = iota
	Set
	Culminate // upper meridian, the MC
	AntiCulminate
)

func (c Circle) String() string {
	switch c {
	case Set:
		return "set"
	case Culminate:
		return "mc"
	case AntiCulminate:
		return "ic"
	}
	return "rise"
}

// ParseCircle maps rise, set, mc and ic to a Circle.
func ParseCircle(s string) (Circle, error) {
	switch s {
	case "rise":
		return Rise, nil
	case "set":
		return Set, nil
	case "mc":
		return Culminate, nil
	case "ic":
		return AntiCulminate, nil
	}
	return Rise, fmt.Errorf("%w: circle %q", ErrUnsupported, s)
}

const (
	transitStep    = 10.0 / 1440 // ten minutes
	transitHorizon = 1.1         // days searched
	transitEps     = 1.0 / 86400
)

// NextTransit returns the first Julian day after jd at which body crosses
// the circle for obs. Crossings are measured in ecliptic longitude against
// the ascendant, descendant, MC or IC, ignoring the body's latitude.
func NextTransit(eph astro.Ephemeris, jd float64, body astro.PlanetID, obs astro.Observer, c Circle) (float64, error) {
	diff := func(t float64) (float64, error) {
		b, err := eph.Calc(t, body.EphemerisCode(), obs, astro.Ecliptic)
		if err != nil {
			return 0, err
		}
		lon := b.Lon
		if body == astro.SouthNode {
			lon += 180
		}
		ref := astro.MC
		if c == Rise || c == Set {
			ref = astro.Asc
		}
		r, err := eph.Calc(t, ref, obs, astro.Ecliptic)
		if err != nil {
			return 0, err
		}
		target := r.Lon
		if c == Set || c == AntiCulminate {
			target += 180
		}
		return astro.SignedDiff(target, lon), nil
	}

	prev, err := diff(jd)
	if err != nil {
		return 0, err
	}
	for t := jd + transitStep; t <= jd+transitHorizon; t += transitStep {
		cur, err := diff(t)
		if err != nil {
			return 0, err
		}
		// the reference point overtakes the body: positive to negative
		if prev > 0 && cur <= 0 && prev-cur < 180 {
			lo, hi := t-transitStep, t
			for hi-lo > transitEps {
				mid := (lo + hi) / 2
				v, err := diff(mid)
				if err != nil {
					return 0, err
				}
				if v > 0 {
					lo = mid
				} else {
					hi = mid
				}
			}
			return (lo + hi) / 2, nil
		}
		prev = cur
	}
	return 0, fmt.Errorf("ephemeris: no %s of body %d within %.1f days", c, body, transitHorizon)
}

// Func adapts a plain function to astro.Ephemeris. The observer and
// coordinate system are ignored.
type Func func(jd float64, body astro.PlanetID) (astro.Sample, error)

// Calc implements astro.Ephemeris.
func (f Func) Calc(jd float64, body astro.PlanetID, _ astro.Observer, _ astro.CoordSystem) (astro.Sample, error) {
	return f(jd, body)
}
