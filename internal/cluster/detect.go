package cluster

import (
	"github.com/starford/harmonia/internal/astro"
)

// midpointOrbDivisor tightens the orb of passes that include midpoints.
const midpointOrbDivisor = 10

// Query parameterises FindClusters.
type Query struct {
	Harmonics []int
	// Quorum is the minimum Set.Weight of a group.
	Quorum int
	MaxOrb float64
	// Required members must all be present in a group.
	Required Set
	// SkipNatalOnly rejects groups without a moving member that is neither
	// an angle nor an ingress point.
	SkipNatalOnly bool
	// RestrictMoon keeps the Moon out of harmonics above
	// Options.MoonMaxHarmonic.
	RestrictMoon bool
	// ForceMinimize measures pairs by true spread too.
	ForceMinimize bool
	// EveryChart requires each chart of the profile to contribute a member.
	EveryChart bool
}

// FindClusters evaluates the profile at jd for each harmonic of q. Harmonics
// outside 1..o.MaxHarmonic are left out of the table rather than reported
// as errors.
func FindClusters(p astro.Profile, jd float64, q Query, o astro.Options) Table {
	t := Table{}
	stamp := astro.TimeOf(jd)
	charts := p.Charts()
	for _, h := range q.Harmonics {
		if !o.ValidHarmonic(h) {
			continue
		}
		g := Groups{}
		for _, e := range detect(p, jd, h, q.Quorum, q.MaxOrb, q, o, charts) {
			e.Time = &stamp
			g.Insert(e)
		}
		if h == 1 {
			g.PruneSubsumedPairs()
		}
		if len(g) > 0 {
			t[h] = g
		}
	}
	return t
}

// detect runs the solo pass at orb and, when the profile carries midpoints,
// a second pass over everything at a tenth of the orb.
func detect(p astro.Profile, jd float64, h, quorum int, orb float64, q Query, o astro.Options, charts []int) []Entry {
	locs := p.Locs(jd, h)
	if q.RestrictMoon && o.MoonMaxHarmonic > 0 && h > o.MoonMaxHarmonic {
		locs = without(locs, func(id astro.ChartPlanetID) bool {
			return id.Planet == astro.Moon || (id.IsMidpoint() && id.Other == astro.Moon)
		})
	}
	solos := without(locs, astro.ChartPlanetID.IsMidpoint)
	out := scan(solos, orb, quorum, q, charts)
	if len(solos) != len(locs) {
		out = append(out, scan(locs, orb/midpointOrbDivisor, quorum, q, charts)...)
	}
	return out
}

func without(locs []astro.PlanetLoc, drop func(astro.ChartPlanetID) bool) []astro.PlanetLoc {
	out := make([]astro.PlanetLoc, 0, len(locs))
	for _, l := range locs {
		if !drop(l.ID) {
			out = append(out, l)
		}
	}
	return out
}

// scan slides a window around the circle over locs, which are sorted by
// longitude, and returns every maximal window of width at most orb that
// qualifies.
func scan(locs []astro.PlanetLoc, orb float64, quorum int, q Query, charts []int) []Entry {
	n := len(locs)
	if n < 2 {
		return nil
	}
	lon := func(k int) float64 {
		if k >= n {
			return locs[k-n].Loc.Lon + 360
		}
		return locs[k].Loc.Lon
	}
	// end[i] is the last index reachable from i within orb, at most i+n-1.
	end := make([]int, n)
	j := 0
	for i := 0; i < n; i++ {
		if j < i {
			j = i
		}
		for j+1 < i+n && lon(j+1)-lon(i) <= orb {
			j++
		}
		end[i] = j
	}

	var out []Entry
	for i := 0; i < n; i++ {
		prev := end[(i+n-1)%n]
		if i == 0 {
			prev -= n
		}
		// contained in the window starting one member earlier
		if end[i] <= prev || end[i] == i {
			continue
		}
		members := make([]astro.PlanetLoc, 0, end[i]-i+1)
		for k := i; k <= end[i]; k++ {
			members = append(members, locs[k%n])
		}
		if e, ok := qualify(members, orb, quorum, q, charts); ok {
			out = append(out, e)
		}
	}
	return out
}

func qualify(members []astro.PlanetLoc, orb float64, quorum int, q Query, charts []int) (Entry, bool) {
	ids := make([]astro.ChartPlanetID, len(members))
	lons := make([]float64, len(members))
	for i, m := range members {
		ids[i] = m.ID
		lons[i] = m.Loc.Lon
	}
	set := NewSet(ids...)
	if set.Weight() < quorum {
		return Entry{}, false
	}
	var spread float64
	if len(members) > 2 || q.ForceMinimize {
		spread = astro.TrueSpread(lons, q.MaxOrb)
	} else {
		spread = astro.Angle(lons[0], lons[1])
	}
	if spread > orb || spread > q.MaxOrb {
		return Entry{}, false
	}
	if len(q.Required) > 0 && !set.HasAll(q.Required) {
		return Entry{}, false
	}
	if q.SkipNatalOnly && !anchored(members) {
		return Entry{}, false
	}
	if q.EveryChart && len(set.Charts()) < len(charts) {
		return Entry{}, false
	}
	return Entry{Set: set, Spread: spread}, true
}

// anchored reports whether some moving member is a body rather than an
// angle or ingress point.
func anchored(members []astro.PlanetLoc) bool {
	for _, m := range members {
		if !m.Live {
			continue
		}
		if m.ID.Planet.IsAngle() || m.ID.Planet.IsIngress() {
			continue
		}
		return true
	}
	return false
}
