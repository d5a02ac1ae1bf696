package astro

import (
	"log/slog"
	"sort"
	"time"
)

// Profile is an ordered collection of positions evaluated together.
type Profile []Position

// Locs evaluates every position at jd in harmonic h, sorted by projected
// longitude.
func (p Profile) Locs(jd float64, h int) []PlanetLoc {
	out := make([]PlanetLoc, len(p))
	for i, pos := range p {
		out[i] = PlanetLoc{ID: pos.ID(), Loc: pos.At(jd, h), Live: pos.Live()}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Loc.Lon < out[j].Loc.Lon })
	return out
}

// Spread is the true spread of the whole profile at jd in harmonic h.
func (p Profile) Spread(jd float64, h int, maxOrb float64) float64 {
	lons := make([]float64, len(p))
	for i, pos := range p {
		lons[i] = pos.At(jd, h).Lon
	}
	return TrueSpread(lons, maxOrb)
}

// Find returns the position with the given identifier.
func (p Profile) Find(id ChartPlanetID) (Position, bool) {
	for _, pos := range p {
		if pos.ID() == id {
			return pos, true
		}
	}
	return nil, false
}

// Live reports whether any member moves.
func (p Profile) Live() bool {
	for _, pos := range p {
		if pos.Live() {
			return true
		}
	}
	return false
}

// Charts returns the distinct chart indexes present, ascending.
func (p Profile) Charts() []int {
	seen := map[int]bool{}
	var out []int
	for _, pos := range p {
		c := pos.ID().Chart
		if !seen[c] {
			seen[c] = true
			out = append(out, c)
		}
	}
	sort.Ints(out)
	return out
}

// ChartMode says how a chart's bodies evolve with time.
type ChartMode int

const (
	// ModeNatal charts are frozen at their birth instant.
	ModeNatal ChartMode = iota
	// ModeTransit charts follow the sky in real time.
	ModeTransit
	// ModeProgressed charts advance one day per year from birth.
	ModeProgressed
)

// ChartInput describes one chart to turn into positions.
type ChartInput struct {
	Index    int
	Time     time.Time
	Observer Observer
	Mode     ChartMode
}

// Bodies returns the bodies a profile should carry under o.
func (o Options) Bodies(mode ChartMode) []PlanetID {
	bodies := Planets()
	if o.IncludeNodes {
		bodies = append(bodies, NorthNode, SouthNode)
	}
	// moving angles sweep the zodiac daily, too fast to be useful in a search
	if o.IncludeAngles && mode == ModeNatal {
		bodies = append(bodies, Asc, MC)
	}
	return bodies
}

// BuildProfile creates the positions of a chart. Natal bodies are evaluated
// once; transit and progressed bodies stay bound to the ephemeris.
func BuildProfile(eph Ephemeris, in ChartInput, o Options, logger *slog.Logger) Profile {
	jd := JulianDay(in.Time)
	var p Profile
	for _, b := range o.Bodies(in.Mode) {
		id := NewChartPlanetID(in.Index, b)
		switch in.Mode {
		case ModeTransit:
			p = append(p, NewLive(eph, id, in.Observer, logger))
		case ModeProgressed:
			p = append(p, NewProgressed(eph, id, in.Observer, jd, logger))
		default:
			p = append(p, FixedAt(eph, id, in.Observer, jd, logger))
		}
	}
	if o.IncludeIngresses && in.Mode == ModeNatal {
		for k := 0; k < 12; k++ {
			p = append(p, NewIngress(in.Index, k))
		}
	}
	if o.IncludeMidpoints {
		p = WithMidpoints(p)
	}
	return p
}

// WithMidpoints appends the near and far midpoint of every pair of solo
// bodies sharing a chart. Ingress points never form midpoints.
func WithMidpoints(p Profile) Profile {
	var solos []Position
	for _, pos := range p {
		if id := pos.ID(); id.IsSolo() && !id.Planet.IsIngress() {
			solos = append(solos, pos)
		}
	}
	out := append(Profile(nil), p...)
	for i := 0; i < len(solos); i++ {
		for j := i + 1; j < len(solos); j++ {
			a, b := solos[i], solos[j]
			if a.ID().Chart != b.ID().Chart {
				continue
			}
			// the nodal axis has no meaningful midpoint
			if a.ID().Planet.IsNode() && b.ID().Planet.IsNode() {
				continue
			}
			out = append(out, NewMidpoint(a, b, false), NewMidpoint(a, b, true))
		}
	}
	return out
}

// ParseChartMode maps "natal", "transit" and "progressed" to a mode.
func ParseChartMode(s string) (ChartMode, bool) {
	switch s {
	case "", "natal":
		return ModeNatal, true
	case "transit", "live":
		return ModeTransit, true
	case "progressed":
		return ModeProgressed, true
	}
	return ModeNatal, false
}

func (m ChartMode) String() string {
	switch m {
	case ModeTransit:
		return "transit"
	case ModeProgressed:
		return "progressed"
	}
	return "natal"
}
