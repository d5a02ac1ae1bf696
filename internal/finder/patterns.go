package finder

import (
	"context"
	"math"
	"sort"
	"strconv"
	"time"

	"github.com/starford/harmonia/internal/astro"
	"github.com/starford/harmonia/internal/cluster"
	"github.com/starford/harmonia/internal/eventstore"
)

const (
	// minPatternStep keeps fast bodies from driving the walk below an hour.
	minPatternStep = 1.0 / 24
	// maxOverrun bounds how far past its end a chunk follows an open run, in days.
	maxOverrun = 366.0
)

// PatternFinder runs the cluster detector at every step of its chunk and
// reports each group once per contiguous run of steps in which it holds.
// A run is reported by the chunk it starts in, with its full extent.
type PatternFinder struct {
	Chunk
	Profile astro.Profile
	Query   cluster.Query
	Options astro.Options
	Step    float64
}

func (f *PatternFinder) Kind() string { return "pattern" }

func (f *PatternFinder) Run(ctx context.Context) error {
	found, err := f.findPatterns(ctx)
	if err != nil {
		return err
	}
	f.Events.Append(found...)
	return nil
}

type run struct {
	h      int
	set    cluster.Set
	first  time.Time
	last   time.Time
	spread float64
	bestJD float64
}

func (f *PatternFinder) step() float64 {
	step := f.Step
	maxH := 1
	for _, h := range f.Query.Harmonics {
		maxH = max(maxH, h)
	}
	if step <= 0 {
		step = baseStep
		if f.Options.IncludeMidpoints || maxH > 4 {
			step = fineStep
		}
	}
	var fastest float64
	for _, p := range f.Profile {
		if f.Query.RestrictMoon && involvesMoon(p.ID()) && f.Options.MoonMaxHarmonic > 0 && maxH > f.Options.MoonMaxHarmonic {
			continue
		}
		fastest = math.Max(fastest, motion(p))
	}
	// a group must not be crossed within one step
	if sweep := fastest * float64(maxH); sweep > 0 && f.Query.MaxOrb > 0 {
		step = math.Min(step, f.Query.MaxOrb/sweep)
	}
	return math.Max(step, minPatternStep)
}

// findPatterns walks a grid of step multiples, so that neighbouring chunks
// sample the same instants. A chunk owns the runs whose first qualifying
// step lies inside it: a run already open one step before the chunk start
// belongs to the previous chunk, and owned runs are followed past the chunk
// end until they break.
func (f *PatternFinder) findPatterns(ctx context.Context) ([]eventstore.Event, error) {
	start, end := f.bounds()
	step := f.step()
	limit := end + maxOverrun
	// first grid point not sampled by the chunk ending at start
	first := int64(math.Floor(start / step))
	for float64(first)*step < start {
		first++
	}
	for float64(first-1)*step >= start {
		first--
	}

	foreign := map[string]bool{}
	for _, key := range f.keys(float64(first-1) * step) {
		foreign[key] = true
	}
	active := map[string]*run{}
	var found []eventstore.Event

	for k := first; ; k++ {
		jd := float64(k) * step
		inside := jd < end
		if !inside && (len(active) == 0 || jd >= limit) {
			break
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		at := astro.TimeOf(jd)
		if inside {
			at = f.clamp(at)
		}
		table := cluster.FindClusters(f.Profile, jd, f.Query, f.Options)
		seen := map[string]bool{}
		for h, groups := range table {
			for _, e := range groups {
				key := runKey(h, e.Set)
				seen[key] = true
				if foreign[key] {
					continue
				}
				r, ok := active[key]
				if !ok {
					if inside {
						active[key] = &run{h: h, set: e.Set, first: at, last: at, spread: e.Spread, bestJD: jd}
					}
					continue
				}
				r.last = at
				if e.Spread < r.spread {
					r.spread, r.bestJD = e.Spread, jd
				}
			}
		}
		for key := range foreign {
			if !seen[key] {
				delete(foreign, key)
			}
		}
		for key, r := range active {
			if !seen[key] {
				found = append(found, f.event(r))
				delete(active, key)
			}
		}
	}
	// runs outlasting the overrun limit are closed there
	keys := make([]string, 0, len(active))
	for k := range active {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		found = append(found, f.event(active[k]))
	}
	sort.Slice(found, func(i, j int) bool {
		a, b := found[i], found[j]
		if !a.Time.Equal(b.Time) {
			return a.Time.Before(b.Time)
		}
		return runKey(a.Harmonic, a.Members) < runKey(b.Harmonic, b.Members)
	})
	return found, nil
}

// keys lists the run keys of the groups qualifying at jd.
func (f *PatternFinder) keys(jd float64) []string {
	var out []string
	for h, groups := range cluster.FindClusters(f.Profile, jd, f.Query, f.Options) {
		for _, e := range groups {
			out = append(out, runKey(h, e.Set))
		}
	}
	return out
}

func (f *PatternFinder) event(r *run) eventstore.Event {
	var locs []astro.PlanetLoc
	for _, id := range r.set {
		if p, ok := f.Profile.Find(id); ok {
			locs = append(locs, astro.PlanetLoc{ID: id, Loc: p.At(r.bestJD, 1), Live: p.Live()})
		}
	}
	e := eventstore.Event{
		Kind:      eventstore.KindPattern,
		Time:      r.first,
		Harmonic:  r.h,
		Orb:       r.spread,
		Members:   append([]astro.ChartPlanetID(nil), r.set...),
		Locations: locs,
	}
	if r.last.After(r.first) {
		e.Until = r.last
	}
	return e
}

func runKey(h int, s cluster.Set) string {
	return strconv.Itoa(h) + "|" + s.Key()
}
