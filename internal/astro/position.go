package astro

import (
	"fmt"
	"log/slog"
	"math"
	"sync"

	"github.com/starford/harmonia/internal/observability"
)

// CoordSystem selects the coordinate frame an ephemeris reports in.
type CoordSystem int

const (
	Ecliptic CoordSystem = iota
	Equatorial
)

// Observer is a geographic location. Longitude is east positive, altitude in
// meters.
type Observer struct {
	Lon float64 `json:"lon" yaml:"lon"`
	Lat float64 `json:"lat" yaml:"lat"`
	Alt float64 `json:"alt,omitempty" yaml:"alt,omitempty"`
}

// Sample is what an ephemeris returns for one body at one instant.
type Sample struct {
	Lon   float64
	Lat   float64
	Dist  float64
	Speed float64
}

// Ephemeris computes body positions. Implementations must be safe for
// concurrent use.
type Ephemeris interface {
	Calc(jd float64, body PlanetID, obs Observer, sys CoordSystem) (Sample, error)
}

// Position is a body's longitude and speed as a function of time and
// harmonic.
type Position interface {
	ID() ChartPlanetID
	// At evaluates the position at Julian day jd projected into harmonic h.
	At(jd float64, h int) Loc
	// Live reports whether the value changes with time.
	Live() bool
	// DefaultSpeed is the body's mean daily motion in degrees.
	DefaultSpeed() float64
	Description() string
}

// Fixed is a position whose value never changes: natal placements,
// ingress points and any stored snapshot.
type Fixed struct {
	id  ChartPlanetID
	loc Loc
}

// NewFixed wraps a snapshot.
func NewFixed(id ChartPlanetID, loc Loc) *Fixed {
	return &Fixed{id: id, loc: loc}
}

// FixedAt evaluates body once at jd and freezes the result. When the
// ephemeris fails the position is zero and the failure is logged.
func FixedAt(eph Ephemeris, id ChartPlanetID, obs Observer, jd float64, logger *slog.Logger) *Fixed {
	l := NewLive(eph, id, obs, logger)
	return NewFixed(id, l.At(jd, 1))
}

// NewIngress returns the fixed point at the start of sign k (0 = Aries).
func NewIngress(chart, sign int) *Fixed {
	id := NewChartPlanetID(chart, IngressesStart+PlanetID(sign%12))
	return NewFixed(id, Loc{Desc: id.Name(), Lon: float64(sign%12) * 30})
}

func (f *Fixed) ID() ChartPlanetID { return f.id }
func (f *Fixed) At(_ float64, h int) Loc { return f.loc.Project(h) }
func (f *Fixed) Live() bool { return false }
func (f *Fixed) DefaultSpeed() float64 { return f.id.Planet.DefaultSpeed() }
func (f *Fixed) Description() string { return describe(f.id, "natal") }
func (f *Fixed) String() string { return f.Description() }
func (f *Fixed) Snapshot() Loc { return f.loc }

// Known is a snapshot that remembers the Julian day it was taken at.
type Known struct {
	Fixed
	JD   float64
	live bool
}

// NewKnown wraps a snapshot taken at jd. live records whether the body it
// came from moves.
func NewKnown(id ChartPlanetID, loc Loc, jd float64, live bool) *Known {
	return &Known{Fixed: Fixed{id: id, loc: loc}, JD: jd, live: live}
}

func (k *Known) Live() bool { return k.live }

// Live is a position evaluated through the ephemeris on every call. A failed
// evaluation returns the last good value, or zero before the first success.
type Live struct {
	id     ChartPlanetID
	eph    Ephemeris
	obs    Observer
	logger *slog.Logger

	mu   sync.Mutex
	last Loc
}

// NewLive binds a body to an ephemeris.
func NewLive(eph Ephemeris, id ChartPlanetID, obs Observer, logger *slog.Logger) *Live {
	if logger == nil {
		logger = slog.Default()
	}
	return &Live{id: id, eph: eph, obs: obs, logger: logger}
}

func (l *Live) ID() ChartPlanetID { return l.id }
func (l *Live) Live() bool { return true }
func (l *Live) DefaultSpeed() float64 { return l.id.Planet.DefaultSpeed() }
func (l *Live) Description() string { return describe(l.id, "transit") }

func (l *Live) At(jd float64, h int) Loc {
	s, err := l.eph.Calc(jd, l.id.Planet.EphemerisCode(), l.obs, Ecliptic)
	if err == nil && (math.IsNaN(s.Lon) || math.IsInf(s.Lon, 0)) {
		err = fmt.Errorf("non-finite longitude %v", s.Lon)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if err != nil {
		observability.EphemerisFailures.Inc()
		l.logger.Warn("ephemeris evaluation failed",
			slog.String("body", l.id.String()),
			slog.Int("chart", l.id.Chart),
			slog.Float64("jd", jd),
			slog.String("error", err.Error()))
		return l.last.Project(h)
	}
	loc := Loc{Desc: l.id.Name(), Lon: Normalize(s.Lon), Speed: s.Speed}
	if l.id.Planet == SouthNode {
		loc.Lon = Normalize(loc.Lon + 180)
	}
	l.last = loc
	return loc.Project(h)
}

// TropicalYear in days, the progression key of one day per year.
const TropicalYear = 365.24219

// Progressed evaluates a body by secondary progression from a natal
// instant: every year of real time advances the chart by one day.
type Progressed struct {
	inner   *Live
	natalJD float64
}

// NewProgressed progresses body from natalJD.
func NewProgressed(eph Ephemeris, id ChartPlanetID, obs Observer, natalJD float64, logger *slog.Logger) *Progressed {
	return &Progressed{inner: NewLive(eph, id, obs, logger), natalJD: natalJD}
}

func (p *Progressed) ID() ChartPlanetID { return p.inner.id }
func (p *Progressed) Live() bool { return true }
func (p *Progressed) DefaultSpeed() float64 { return p.inner.DefaultSpeed() / TropicalYear }
func (p *Progressed) Description() string { return describe(p.inner.id, "progressed") }

func (p *Progressed) At(jd float64, h int) Loc {
	l := p.inner.At(p.natalJD+(jd-p.natalJD)/TropicalYear, 1)
	l.Speed /= TropicalYear
	return l.Project(h)
}

// Midpoint is the point halfway along the shorter arc between two
// positions. The far midpoint sits opposite it.
type Midpoint struct {
	id   ChartPlanetID
	a, b Position
}

// NewMidpoint derives the midpoint of a and b, which must belong to the same
// chart.
func NewMidpoint(a, b Position, far bool) *Midpoint {
	ia, ib := a.ID(), b.ID()
	if ib.Planet < ia.Planet {
		a, b = b, a
		ia, ib = ib, ia
	}
	return &Midpoint{id: NewMidpointID(ia.Chart, ia.Planet, ib.Planet, far), a: a, b: b}
}

func (m *Midpoint) ID() ChartPlanetID { return m.id }
func (m *Midpoint) Live() bool { return m.a.Live() || m.b.Live() }
func (m *Midpoint) DefaultSpeed() float64 { return (m.a.DefaultSpeed() + m.b.DefaultSpeed()) / 2 }
func (m *Midpoint) Description() string { return describe(m.id, "midpoint") }

func (m *Midpoint) At(jd float64, h int) Loc {
	la, lb := m.a.At(jd, 1), m.b.At(jd, 1)
	lon := MidpointLon(la.Lon, lb.Lon)
	if m.id.Far {
		lon = Normalize(lon + 180)
	}
	return Loc{Desc: m.id.Name(), Lon: lon, Speed: (la.Speed + lb.Speed) / 2}.Project(h)
}

// MidpointLon returns the near midpoint of two longitudes.
func MidpointLon(a, b float64) float64 {
	a, b = Normalize(a), Normalize(b)
	if a > b {
		a, b = b, a
	}
	if b-a > 180 {
		a += 360
	}
	return Normalize((a + b) / 2)
}

func describe(id ChartPlanetID, kind string) string {
	return fmt.Sprintf("%s (%s, chart %d)", id.Name(), kind, id.Chart)
}
