package finder

import (
	"context"
	"math"
	"time"

	"github.com/starford/harmonia/internal/aspect"
	"github.com/starford/harmonia/internal/astro"
	"github.com/starford/harmonia/internal/eventstore"
)

const (
	baseStep = 4.0
	fineStep = 0.5
	// maxSweep bounds the relative projected motion of a pair within one
	// step so that two crossings of the same target never share a step.
	maxSweep = 30.0
	// precision of a located event, in days.
	precision  = 1.0 / 1440
	maxBisects = 48
)

// Chunk is the slice of time a finder covers and the list it reports to.
type Chunk struct {
	Range  eventstore.Range
	Events *eventstore.EventList
}

func (c Chunk) bounds() (float64, float64) {
	return astro.JulianDay(c.Range.Start), astro.JulianDay(c.Range.End)
}

// clamp keeps a located time inside the chunk despite millisecond rounding.
func (c Chunk) clamp(t time.Time) time.Time {
	if t.Before(c.Range.Start) {
		return c.Range.Start
	}
	if !t.Before(c.Range.End) {
		return c.Range.End.Add(-time.Millisecond)
	}
	return t
}

// AspectFinder locates the exact moments at which pairs of positions form
// an aspect.
//
// Without a Set it works per harmonic: a pair is exact in harmonic h when
// its projected positions conjoin, and it is reported only when h is the
// lowest harmonic containing that angle. With a Set it searches the
// definitions of that set at harmonic 1.
type AspectFinder struct {
	Chunk
	Left astro.Profile
	// Right, when set, restricts the search to pairs across Left and Right.
	Right     astro.Profile
	Harmonics []int
	Set       *aspect.Set
	Options   astro.Options
	// Step overrides the adaptive base step, in days.
	Step float64
}

func (f *AspectFinder) Kind() string { return "aspect" }

func (f *AspectFinder) Run(ctx context.Context) error {
	found, err := f.findAspects(ctx)
	if err != nil {
		return err
	}
	f.Events.Append(found...)
	return nil
}

// TransitFinder is an AspectFinder between a fixed chart and the moving sky.
type TransitFinder struct {
	*AspectFinder
}

// NewTransitFinder searches aspects from every transiting body to the natal
// positions.
func NewTransitFinder(c Chunk, natal, transits astro.Profile, harmonics []int, set *aspect.Set, o astro.Options) *TransitFinder {
	return &TransitFinder{&AspectFinder{
		Chunk:     c,
		Left:      natal,
		Right:     transits,
		Harmonics: harmonics,
		Set:       set,
		Options:   o,
	}}
}

func (f *TransitFinder) Kind() string { return "transit" }

type target struct {
	h     int
	angle float64
	def   *aspect.Def
}

func (f *AspectFinder) targets(a, b astro.Position) []target {
	if f.Set != nil {
		var out []target
		for i := range f.Set.Defs {
			d := &f.Set.Defs[i]
			out = append(out, target{h: 1, angle: d.Angle, def: d})
			if d.Angle > 0 && d.Angle < 180 {
				out = append(out, target{h: 1, angle: -d.Angle, def: d})
			}
		}
		return out
	}
	var out []target
	for _, h := range f.Harmonics {
		if !f.Options.ValidHarmonic(h) || !f.Options.Harmonics.Enabled(h) {
			continue
		}
		if f.Options.RestrictMoon && f.Options.MoonMaxHarmonic > 0 && h > f.Options.MoonMaxHarmonic &&
			(involvesMoon(a.ID()) || involvesMoon(b.ID())) {
			continue
		}
		out = append(out, target{h: h})
	}
	return out
}

func involvesMoon(id astro.ChartPlanetID) bool {
	return id.Planet == astro.Moon || (id.IsMidpoint() && id.Other == astro.Moon)
}

func (f *AspectFinder) pairs() [][2]astro.Position {
	var out [][2]astro.Position
	keep := func(a, b astro.Position) {
		if !a.Live() && !b.Live() {
			return
		}
		if aspect.SameBody(a.ID(), b.ID()) || sharesMember(a.ID(), b.ID()) {
			return
		}
		out = append(out, [2]astro.Position{a, b})
	}
	if f.Right == nil {
		for i := 0; i < len(f.Left); i++ {
			for j := i + 1; j < len(f.Left); j++ {
				keep(f.Left[i], f.Left[j])
			}
		}
		return out
	}
	for _, l := range f.Left {
		for _, r := range f.Right {
			keep(l, r)
		}
	}
	return out
}

// sharesMember reports whether a midpoint is compared with one of its own
// components.
func sharesMember(a, b astro.ChartPlanetID) bool {
	if a.Chart != b.Chart || (!a.IsMidpoint() && !b.IsMidpoint()) {
		return false
	}
	for _, x := range a.Members() {
		for _, y := range b.Members() {
			if x == y {
				return true
			}
		}
	}
	return false
}

func (f *AspectFinder) step(a, b astro.Position, h int) float64 {
	step := f.Step
	if step <= 0 {
		step = baseStep
		if f.Options.IncludeMidpoints || h > 4 {
			step = fineStep
		}
	}
	if rel := (motion(a) + motion(b)) * float64(h); rel*step > maxSweep {
		step = maxSweep / rel
	}
	return step
}

func motion(p astro.Position) float64 {
	if !p.Live() {
		return 0
	}
	return math.Abs(p.DefaultSpeed())
}

func (f *AspectFinder) findAspects(ctx context.Context) ([]eventstore.Event, error) {
	start, end := f.bounds()
	var found []eventstore.Event
	for _, pr := range f.pairs() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		a, b := pr[0], pr[1]
		for _, tg := range f.targets(a, b) {
			value := func(jd float64) float64 {
				s := astro.SignedDiff(a.At(jd, tg.h).Lon, b.At(jd, tg.h).Lon)
				return astro.SignedDiff(tg.angle, s)
			}
			for _, jd := range crossings(value, start, end, f.step(a, b, tg.h)) {
				if e, ok := f.event(a, b, tg, jd); ok {
					found = append(found, e)
				}
			}
		}
	}
	return found, nil
}

func (f *AspectFinder) event(a, b astro.Position, tg target, jd float64) (eventstore.Event, bool) {
	la, lb := a.At(jd, 1), b.At(jd, 1)
	angle := astro.Angle(la.Lon, lb.Lon)
	e := eventstore.Event{
		Kind:     eventstore.KindAspect,
		Time:     f.clamp(astro.TimeOf(jd)),
		Harmonic: tg.h,
		Members:  []astro.ChartPlanetID{a.ID(), b.ID()},
		Locations: []astro.PlanetLoc{
			{ID: a.ID(), Loc: la, Live: a.Live()},
			{ID: b.ID(), Loc: lb, Live: b.Live()},
		},
	}
	if tg.def != nil {
		e.Aspect = tg.def.Name
		e.Angle = tg.def.Angle
		e.Orb = math.Abs(angle - tg.def.Angle)
		if tg.def.Harmonic > 0 {
			e.Harmonic = tg.def.Harmonic
		}
		return e, true
	}
	k := int(math.Round(angle * float64(tg.h) / 360))
	if gcd(k, tg.h) != 1 {
		return e, false
	}
	def, ok := aspect.ForHarmonic(tg.h).Def(tg.h*100 + k)
	if !ok {
		return e, false
	}
	e.Aspect = def.Name
	e.Angle = def.Angle
	e.Orb = math.Abs(angle - def.Angle)
	return e, true
}

// crossings walks [start, end) and returns the Julian days at which value
// changes sign. Jumps of half a circle or more are wrap-arounds, not
// crossings.
func crossings(value func(float64) float64, start, end, step float64) []float64 {
	var out []float64
	prevT, prev := start, value(start)
	for prevT < end {
		t := min(prevT+step, end)
		v := value(t)
		if (prev < 0) != (v < 0) && math.Abs(v-prev) < 180 {
			lo, hi := bisect(value, prevT, t, prev)
			root := (lo + hi) / 2
			if root >= end {
				root = lo
			}
			out = append(out, root)
		}
		prevT, prev = t, v
	}
	return out
}

// bisect narrows [lo, hi] around a sign change of fn; flo is fn(lo).
func bisect(fn func(float64) float64, lo, hi, flo float64) (float64, float64) {
	for i := 0; i < maxBisects && hi-lo > precision; i++ {
		mid := (lo + hi) / 2
		fm := fn(mid)
		if (fm < 0) == (flo < 0) {
			lo, flo = mid, fm
		} else {
			hi = mid
		}
	}
	return lo, hi
}

func gcd(a, b int) int {
	if a < 0 {
		a = -a
	}
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

