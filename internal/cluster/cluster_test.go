package cluster

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/harmonia/internal/astro"
	"github.com/starford/harmonia/internal/harmonic"
)

func id(chart int, p astro.PlanetID) astro.ChartPlanetID { return astro.NewChartPlanetID(chart, p) }

func fixed(chart int, p astro.PlanetID, lon float64) astro.Position {
	return astro.NewFixed(id(chart, p), astro.Loc{Lon: lon})
}

func moving(chart int, p astro.PlanetID, lon float64) astro.Position {
	return astro.NewKnown(id(chart, p), astro.Loc{Lon: lon, Speed: 1}, astro.J2000, true)
}

func TestPopulation_NodeRule(t *testing.T) {
	both := NewSet(id(0, astro.Sun), id(0, astro.NorthNode), id(0, astro.SouthNode))
	assert.Equal(t, 2, both.Population())

	one := NewSet(id(0, astro.Sun), id(0, astro.NorthNode), id(0, astro.Mars))
	assert.Equal(t, 3, one.Population())

	// nodes from different charts are not a pair
	split := NewSet(id(0, astro.NorthNode), id(1, astro.SouthNode))
	assert.Equal(t, 2, split.Population())

	mid := NewSet(id(0, astro.Sun), astro.NewMidpointID(0, astro.Moon, astro.Venus, false))
	assert.Equal(t, 2, mid.Population())
	assert.Equal(t, 3, mid.Weight())
}

func TestNewSet_SortsAndDedupes(t *testing.T) {
	s := NewSet(id(1, astro.Sun), id(0, astro.Mars), id(0, astro.Sun), id(0, astro.Mars))
	require.Len(t, s, 3)
	assert.Equal(t, id(0, astro.Sun), s[0])
	assert.Equal(t, id(1, astro.Sun), s[2])
	assert.True(t, s.Has(id(0, astro.Mars)))
	assert.False(t, s.Has(id(1, astro.Mars)))
	assert.Equal(t, []int{0, 1}, s.Charts())
}

func TestBitmap_Contains(t *testing.T) {
	big, ok := BitmapOf(NewSet(id(0, astro.Sun), id(0, astro.Moon), id(2, astro.Asc)))
	require.True(t, ok)
	small, ok := BitmapOf(NewSet(id(0, astro.Moon), id(2, astro.Asc)))
	require.True(t, ok)
	other, ok := BitmapOf(NewSet(id(1, astro.Moon)))
	require.True(t, ok)

	assert.True(t, big.Contains(small))
	assert.False(t, small.Contains(big))
	assert.False(t, big.Contains(other))
	assert.Equal(t, 3, big.Count())

	_, ok = BitmapOf(NewSet(astro.NewMidpointID(0, astro.Sun, astro.Moon, false)))
	assert.False(t, ok)
	_, ok = BitmapOf(NewSet(id(MaxCharts, astro.Sun)))
	assert.False(t, ok)
}

func TestFindClusters_TripleAtHarmonic5(t *testing.T) {
	p := astro.Profile{
		fixed(0, astro.Sun, 20.2),
		fixed(0, astro.Moon, 92.6),
		fixed(0, astro.Mars, 164.8),
		fixed(0, astro.Saturn, 300),
	}
	o := astro.DefaultOptions()
	tbl := FindClusters(p, astro.J2000, Query{Harmonics: []int{1, 5}, Quorum: 3, MaxOrb: 8}, o)

	assert.NotContains(t, tbl, 1)
	require.Contains(t, tbl, 5)
	entries := tbl[5].Sorted()
	require.Len(t, entries, 1)
	assert.Equal(t, NewSet(id(0, astro.Sun), id(0, astro.Moon), id(0, astro.Mars)), entries[0].Set)
	assert.InDelta(t, 3, entries[0].Spread, 1e-9)
	require.NotNil(t, entries[0].Time)
}

func TestFindClusters_WrapAround(t *testing.T) {
	p := astro.Profile{fixed(0, astro.Sun, 359), fixed(0, astro.Venus, 1.5), fixed(0, astro.Mars, 180)}
	tbl := FindClusters(p, astro.J2000, Query{Harmonics: []int{1}, Quorum: 2, MaxOrb: 5}, astro.DefaultOptions())
	require.Contains(t, tbl, 1)
	entries := tbl[1].Sorted()
	require.Len(t, entries, 1)
	assert.InDelta(t, 2.5, entries[0].Spread, 1e-9)

	// three members across 0 use the gap rule
	p = append(p, fixed(0, astro.Jupiter, 357))
	tbl = FindClusters(p, astro.J2000, Query{Harmonics: []int{1}, Quorum: 3, MaxOrb: 5}, astro.DefaultOptions())
	entries = tbl[1].Sorted()
	require.Len(t, entries, 1)
	assert.Len(t, entries[0].Set, 3)
	assert.InDelta(t, 4.5, entries[0].Spread, 1e-9)
}

func TestFindClusters_InvalidHarmonicsAbsent(t *testing.T) {
	p := astro.Profile{fixed(0, astro.Sun, 10), fixed(0, astro.Moon, 10)}
	o := astro.DefaultOptions()
	tbl := FindClusters(p, astro.J2000, Query{Harmonics: []int{0, -3, 1, o.MaxHarmonic + 1}, Quorum: 2, MaxOrb: 5}, o)
	assert.Equal(t, []int{1}, tbl.Harmonics())
}

func TestFindClusters_NodePairDoesNotMakeQuorum(t *testing.T) {
	p := astro.Profile{
		fixed(0, astro.Sun, 10),
		fixed(0, astro.NorthNode, 10.5),
		fixed(0, astro.SouthNode, 190.5),
	}
	o := astro.DefaultOptions()
	// at H2 all three coincide, but the node pair counts once
	tbl := FindClusters(p, astro.J2000, Query{Harmonics: []int{2}, Quorum: 3, MaxOrb: 5}, o)
	assert.Empty(t, tbl)
	tbl = FindClusters(p, astro.J2000, Query{Harmonics: []int{2}, Quorum: 2, MaxOrb: 5}, o)
	assert.Contains(t, tbl, 2)
}

func TestFindClusters_Filters(t *testing.T) {
	o := astro.DefaultOptions()
	o.MoonMaxHarmonic = 4
	p := astro.Profile{fixed(0, astro.Sun, 0), fixed(0, astro.Moon, 45), fixed(0, astro.Mars, 90)}

	// Sun, Moon and Mars all project to 0 at H8
	tbl := FindClusters(p, astro.J2000, Query{Harmonics: []int{8}, Quorum: 2, MaxOrb: 2}, o)
	require.Contains(t, tbl, 8)
	assert.Len(t, tbl[8].Sorted()[0].Set, 3)

	tbl = FindClusters(p, astro.J2000, Query{Harmonics: []int{8}, Quorum: 2, MaxOrb: 2, RestrictMoon: true}, o)
	require.Contains(t, tbl, 8)
	assert.False(t, tbl[8].Sorted()[0].Set.Involves(astro.Moon))

	req := NewSet(id(0, astro.Moon))
	tbl = FindClusters(p, astro.J2000, Query{Harmonics: []int{4}, Quorum: 2, MaxOrb: 2, Required: req}, o)
	assert.Empty(t, tbl, "Moon is not conjunct anything at H4")

	// all natal: nothing resolves
	tbl = FindClusters(p, astro.J2000, Query{Harmonics: []int{8}, Quorum: 2, MaxOrb: 2, SkipNatalOnly: true}, o)
	assert.Empty(t, tbl)

	p = append(p, moving(1, astro.Jupiter, 180))
	tbl = FindClusters(p, astro.J2000, Query{Harmonics: []int{8}, Quorum: 2, MaxOrb: 2, SkipNatalOnly: true, EveryChart: true}, o)
	require.Contains(t, tbl, 8)
	assert.True(t, tbl[8].Sorted()[0].Set.Has(id(1, astro.Jupiter)))

	// an ingress point does not anchor a group
	p = astro.Profile{fixed(0, astro.Sun, 0.5), astro.NewKnown(id(1, astro.IngressesStart), astro.Loc{Lon: 0}, astro.J2000, true)}
	tbl = FindClusters(p, astro.J2000, Query{Harmonics: []int{1}, Quorum: 2, MaxOrb: 2, SkipNatalOnly: true}, o)
	assert.Empty(t, tbl)
}

func TestFindClusters_MidpointsUseTightOrb(t *testing.T) {
	sun, moon := fixed(0, astro.Sun, 0), fixed(0, astro.Moon, 100)
	p := astro.Profile{sun, moon, fixed(0, astro.Mars, 50.3),
		astro.NewMidpoint(sun, moon, false), astro.NewMidpoint(sun, moon, true)}
	o := astro.DefaultOptions()

	// Mars is 0.3 from Sun/Moon: inside 5/10
	tbl := FindClusters(p, astro.J2000, Query{Harmonics: []int{1}, Quorum: 3, MaxOrb: 5}, o)
	require.Contains(t, tbl, 1)
	e := tbl[1].Sorted()[0]
	assert.True(t, e.Set.HasMidpoint())
	assert.Equal(t, 3, e.Set.Weight())

	tbl = FindClusters(p, astro.J2000, Query{Harmonics: []int{1}, Quorum: 3, MaxOrb: 2}, o)
	assert.Empty(t, tbl)
}

func TestGroups_InsertAndPrune(t *testing.T) {
	g := Groups{}
	pair := NewSet(id(0, astro.Sun), id(0, astro.Moon))
	assert.True(t, g.Insert(Entry{Set: pair, Spread: 3}))
	assert.False(t, g.Insert(Entry{Set: pair, Spread: 4}))
	assert.True(t, g.Insert(Entry{Set: pair, Spread: 2}))
	assert.Equal(t, 2.0, g[pair.Key()].Spread)

	other := NewSet(id(0, astro.Venus), id(0, astro.Saturn))
	g.Insert(Entry{Set: other, Spread: 1})
	g.Insert(Entry{Set: NewSet(id(0, astro.Sun), id(0, astro.Moon), id(0, astro.Mars)), Spread: 3})
	g.PruneSubsumedPairs()

	assert.NotContains(t, g, pair.Key())
	assert.Contains(t, g, other.Key())
	assert.Len(t, g, 2)
}

func TestLadder(t *testing.T) {
	o := astro.DefaultOptions()
	o.MinQuorum, o.MaxQuorum = 2, 4
	o.MinQuorumOrb, o.MaxQuorumOrb = 1, 4
	steps := Ladder(o)
	require.Len(t, steps, 3)
	assert.Equal(t, 2, steps[0].Quorum)
	assert.InDelta(t, 1, steps[0].Orb, 1e-9)
	assert.InDelta(t, 2, steps[1].Orb, 1e-9)
	assert.Equal(t, 4, steps[2].Quorum)
	assert.InDelta(t, 4, steps[2].Orb, 1e-9)

	o.MinQuorum, o.MaxQuorum = 3, 3
	assert.Len(t, Ladder(o), 1)

	o.MinQuorum, o.MaxQuorum = 4, 2
	steps = Ladder(o)
	assert.Equal(t, []int{4, 3, 2}, []int{steps[0].Quorum, steps[1].Quorum, steps[2].Quorum})
}

func TestSearchHarmonics(t *testing.T) {
	o := astro.DefaultOptions()
	o.MaxHarmonic = 12
	o.PrimeFactorLimit = 3
	o.Harmonics = harmonic.AllEnabled.With(6, false)
	assert.Equal(t, []int{1, 2, 3, 4, 8, 9, 12}, SearchHarmonics(o))
}

func TestFindHarmonics_JoinerDropsFactorRepeats(t *testing.T) {
	o := astro.DefaultOptions()
	o.MinQuorum, o.MaxQuorum = 2, 2
	o.MinQuorumOrb, o.MaxQuorumOrb = 1, 1
	p := astro.Profile{fixed(0, astro.Sun, 0), fixed(0, astro.Mars, 90)}

	tbl, err := FindHarmonics(context.Background(), p, astro.J2000, o)
	require.NoError(t, err)
	// 90 degrees coincide at every multiple of 4; only H4 survives
	assert.Equal(t, []int{4}, tbl.Harmonics())
}

func TestFindHarmonics_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := astro.Profile{fixed(0, astro.Sun, 0), fixed(0, astro.Mars, 90)}
	_, err := FindHarmonics(ctx, p, astro.J2000, astro.DefaultOptions())
	assert.ErrorIs(t, err, context.Canceled)
}
