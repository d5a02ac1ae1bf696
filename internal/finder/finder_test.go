package finder

import (
	"context"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/harmonia/internal/aspect"
	"github.com/starford/harmonia/internal/astro"
	"github.com/starford/harmonia/internal/cluster"
	"github.com/starford/harmonia/internal/ephemeris"
	"github.com/starford/harmonia/internal/eventstore"
)

var epoch = astro.TimeOf(astro.J2000)

func day(n float64) time.Time { return epoch.Add(time.Duration(n * float64(24*time.Hour))) }

func id(chart int, p astro.PlanetID) astro.ChartPlanetID { return astro.NewChartPlanetID(chart, p) }

// sky moves the Sun at one degree a day from 10 degrees, and swings Mercury
// back and forth around 100 degrees with a period of 100 days.
var sky = ephemeris.Func(func(jd float64, body astro.PlanetID) (astro.Sample, error) {
	d := jd - astro.J2000
	switch body {
	case astro.Sun:
		return astro.Sample{Lon: astro.Normalize(10 + d), Speed: 1}, nil
	case astro.Mercury:
		w := 2 * math.Pi / 100
		return astro.Sample{Lon: 100 + 10*math.Sin(w*d), Speed: 10 * w * math.Cos(w*d)}, nil
	}
	return astro.Sample{}, fmt.Errorf("no body %d", body)
})

func transitSun() astro.Position { return astro.NewLive(sky, id(1, astro.Sun), astro.Observer{}, nil) }

func natal(p astro.PlanetID, lon float64) astro.Position {
	return astro.NewFixed(id(0, p), astro.Loc{Lon: lon})
}

func chunk(t *testing.T, a, b float64) Chunk {
	t.Helper()
	r, err := eventstore.NewRange(day(a), day(b))
	require.NoError(t, err)
	sc, err := eventstore.New(nil).GetUpdateScope("test", r, eventstore.Pare)
	require.NoError(t, err)
	return Chunk{Range: r, Events: sc.Events}
}

func TestTransitFinder_Harmonics(t *testing.T) {
	c := chunk(t, 0, 200)
	f := NewTransitFinder(c, astro.Profile{natal(astro.Mars, 90)}, astro.Profile{transitSun()},
		[]int{1, 2, 4}, nil, astro.DefaultOptions())
	require.NoError(t, f.Run(context.Background()))
	assert.Equal(t, "transit", f.Kind())

	evs := c.Events.Snapshot()
	require.Len(t, evs, 2)

	assert.Equal(t, "Conjunction", evs[0].Aspect)
	assert.Equal(t, 1, evs[0].Harmonic)
	assert.WithinDuration(t, day(80), evs[0].Time, 2*time.Minute)
	assert.InDelta(t, 0, evs[0].Orb, 0.01)

	// the opposition and conjunction of harmonic 4 belong to lower harmonics
	assert.Equal(t, "Square", evs[1].Aspect)
	assert.Equal(t, 4, evs[1].Harmonic)
	assert.Equal(t, 90.0, evs[1].Angle)
	assert.WithinDuration(t, day(170), evs[1].Time, 2*time.Minute)
	assert.Equal(t, []astro.ChartPlanetID{id(0, astro.Mars), id(1, astro.Sun)}, evs[1].Members)
}

func TestAspectFinder_Set(t *testing.T) {
	set := aspect.Set{ID: 7, Name: "squares", Defs: []aspect.Def{{ID: 1, Name: "Square", Angle: 90, Orb: 5}}}
	c := chunk(t, 0, 200)
	f := &AspectFinder{
		Chunk:   c,
		Left:    astro.Profile{natal(astro.Mars, 90), transitSun()},
		Set:     &set,
		Options: astro.DefaultOptions(),
	}
	require.NoError(t, f.Run(context.Background()))
	evs := c.Events.Snapshot()
	require.Len(t, evs, 1)
	assert.Equal(t, "Square", evs[0].Aspect)
	assert.WithinDuration(t, day(170), evs[0].Time, 2*time.Minute)
}

func TestAspectFinder_ChunksAddUp(t *testing.T) {
	run := func(c Chunk) []eventstore.Event {
		f := NewTransitFinder(c, astro.Profile{natal(astro.Mars, 90)}, astro.Profile{transitSun()},
			[]int{1, 4}, nil, astro.DefaultOptions())
		require.NoError(t, f.Run(context.Background()))
		return c.Events.Snapshot()
	}
	whole := run(chunk(t, 0, 200))
	split := append(run(chunk(t, 0, 100)), run(chunk(t, 100, 200))...)
	require.Len(t, split, len(whole))
	for i := range whole {
		assert.WithinDuration(t, whole[i].Time, split[i].Time, 2*time.Minute)
	}
}

func TestAspectFinder_SkipsStaticPairsAndSelf(t *testing.T) {
	f := &AspectFinder{Left: astro.Profile{
		natal(astro.Mars, 90),
		natal(astro.Venus, 90),
		astro.NewLive(sky, id(0, astro.NorthNode), astro.Observer{}, nil),
		astro.NewLive(sky, id(0, astro.SouthNode), astro.Observer{}, nil),
	}}
	for _, p := range f.pairs() {
		assert.True(t, p[0].Live() || p[1].Live())
		assert.False(t, p[0].ID().Planet.IsNode() && p[1].ID().Planet.IsNode())
	}
	assert.Len(t, f.pairs(), 4)
}

func TestAspectFinder_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c := chunk(t, 0, 10)
	f := NewTransitFinder(c, astro.Profile{natal(astro.Mars, 90)}, astro.Profile{transitSun()},
		[]int{1}, nil, astro.DefaultOptions())
	assert.ErrorIs(t, f.Run(ctx), context.Canceled)
	assert.Zero(t, c.Events.Len())
}

func TestPatternFinder(t *testing.T) {
	c := chunk(t, 60, 100)
	f := &PatternFinder{
		Chunk:   c,
		Profile: astro.Profile{natal(astro.Mars, 90), natal(astro.Venus, 92), transitSun()},
		Query:   cluster.Query{Harmonics: []int{1}, Quorum: 2, MaxOrb: 3, SkipNatalOnly: true},
		Options: astro.DefaultOptions(),
		Step:    0.25,
	}
	require.NoError(t, f.Run(context.Background()))

	triple := []astro.ChartPlanetID(cluster.NewSet(id(0, astro.Venus), id(0, astro.Mars), id(1, astro.Sun)))
	var got *eventstore.Event
	for _, e := range c.Events.Snapshot() {
		assert.Equal(t, eventstore.KindPattern, e.Kind)
		assert.Contains(t, e.Members, id(1, astro.Sun), "natal-only groups are skipped")
		if assert.ObjectsAreEqual(triple, e.Members) {
			got = &e
		}
	}
	require.NotNil(t, got)
	assert.WithinDuration(t, day(79), got.Time, 12*time.Hour)
	assert.WithinDuration(t, day(83), got.Until, 12*time.Hour)
	assert.InDelta(t, 2, got.Orb, 1e-9)
	assert.Len(t, got.Locations, 3)
	assert.Equal(t, 3, c.Events.Len())
}

func TestPatternFinder_ChunksAddUp(t *testing.T) {
	run := func(c Chunk) []eventstore.Event {
		f := &PatternFinder{
			Chunk:   c,
			Profile: astro.Profile{natal(astro.Mars, 90), natal(astro.Venus, 92), transitSun()},
			Query:   cluster.Query{Harmonics: []int{1}, Quorum: 2, MaxOrb: 3, SkipNatalOnly: true},
			Options: astro.DefaultOptions(),
			Step:    0.25,
		}
		require.NoError(t, f.Run(context.Background()))
		return c.Events.Snapshot()
	}
	whole := run(chunk(t, 60, 100))
	require.Len(t, whole, 3)

	// the triple holds from day 79 to 83, across the split
	for _, at := range []float64{81, 80.1, 79.5} {
		split := append(run(chunk(t, 60, at)), run(chunk(t, at, 100))...)
		require.Len(t, split, len(whole), "split at %v", at)
		for i := range whole {
			assert.Equal(t, whole[i].Members, split[i].Members)
			assert.True(t, whole[i].Time.Equal(split[i].Time), "split at %v: %v != %v", at, whole[i].Time, split[i].Time)
			assert.True(t, whole[i].Until.Equal(split[i].Until), "split at %v: %v != %v", at, whole[i].Until, split[i].Until)
			assert.InDelta(t, whole[i].Orb, split[i].Orb, 1e-9)
		}
	}

	// a run open before the chunk starts belongs to the chunk before it
	for _, e := range run(chunk(t, 81, 100)) {
		assert.False(t, e.Time.Before(day(81)))
		assert.NotEqual(t, 3, len(e.Members))
	}
}

func TestStationFinder(t *testing.T) {
	c := chunk(t, 0, 100)
	f := &StationFinder{
		Chunk:   c,
		Profile: astro.Profile{transitSun(), astro.NewLive(sky, id(1, astro.Mercury), astro.Observer{}, nil), natal(astro.Mars, 3)},
	}
	require.NoError(t, f.Run(context.Background()))
	evs := c.Events.Snapshot()
	require.Len(t, evs, 2)
	assert.True(t, evs[0].Retrograde)
	assert.Equal(t, "station retrograde", evs[0].Aspect)
	assert.WithinDuration(t, day(25), evs[0].Time, 2*time.Minute)
	assert.False(t, evs[1].Retrograde)
	assert.WithinDuration(t, day(75), evs[1].Time, 2*time.Minute)
	assert.InDelta(t, 90, evs[1].Locations[0].Loc.Lon, 0.01)
}

func TestCoincidenceFinder(t *testing.T) {
	c := chunk(t, 0, 10)
	sun, moon := id(1, astro.Sun), id(1, astro.Moon)
	c.Events.Append(
		eventstore.Event{Kind: eventstore.KindAspect, Time: day(1), Members: []astro.ChartPlanetID{sun, id(0, astro.Mars)}},
		eventstore.Event{Kind: eventstore.KindAspect, Time: day(1.5), Members: []astro.ChartPlanetID{sun, id(0, astro.Venus)}},
		eventstore.Event{Kind: eventstore.KindAspect, Time: day(1.7), Members: []astro.ChartPlanetID{moon, id(0, astro.Jupiter)}},
		eventstore.Event{Kind: eventstore.KindAspect, Time: day(5), Members: []astro.ChartPlanetID{sun, id(0, astro.Mars)}},
		eventstore.Event{Kind: eventstore.KindPattern, Time: day(1.9), Members: []astro.ChartPlanetID{astro.NewMidpointID(0, astro.Jupiter, astro.Saturn, false), moon}},
	)
	f := &CoincidenceFinder{Chunk: c, Window: 24 * time.Hour}
	n, err := f.findCoincidences(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	evs := c.Events.Snapshot()
	assert.Equal(t, []int64{evs[1].ID}, evs[0].Coincidences)
	assert.Equal(t, []int64{evs[3].ID}, evs[2].Coincidences)
	assert.Empty(t, evs[4].Coincidences)

	// a second pass links nothing new
	n, err = f.findCoincidences(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestCrossings_IgnoresWrap(t *testing.T) {
	// a sawtooth that jumps from 179 to -179 without crossing zero
	saw := func(jd float64) float64 { return astro.SignedDiff(0, 170+jd) }
	assert.Empty(t, crossings(saw, 0, 20, 1))
	lin := func(jd float64) float64 { return jd - 2.5 }
	roots := crossings(lin, 0, 10, 1)
	require.Len(t, roots, 1)
	assert.InDelta(t, 2.5, roots[0], precision)
}
