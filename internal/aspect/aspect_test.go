package aspect

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/harmonia/internal/apperr"
	"github.com/starford/harmonia/internal/astro"
	"github.com/starford/harmonia/internal/harmonic"
)

func conjTrine() Set {
	return Set{ID: 7, Name: "test", Defs: []Def{
		{ID: 0, Name: "Conjunction", Angle: 0, Orb: 8},
		{ID: 1, Name: "Trine", Angle: 120, Orb: 8},
	}}
}

func loc(chart int, p astro.PlanetID, lon, speed float64) astro.PlanetLoc {
	return astro.PlanetLoc{ID: astro.NewChartPlanetID(chart, p), Loc: astro.Loc{Lon: lon, Speed: speed}}
}

func TestMatch_ReflectionSymmetric(t *testing.T) {
	o := astro.DefaultOptions()
	sets := append(Builtin(), Dynamic(o), conjTrine())
	for _, s := range sets {
		for theta := 0.0; theta <= 360; theta += 0.25 {
			d1, ok1 := s.Match(theta, o)
			d2, ok2 := s.Match(360-theta, o)
			require.Equal(t, ok1, ok2, "set %s theta %v", s.Name, theta)
			assert.Equal(t, d1.ID, d2.ID, "set %s theta %v", s.Name, theta)
		}
	}
}

func TestCalculate_WrapAroundConjunction(t *testing.T) {
	o := astro.DefaultOptions()
	a, ok := Calculate(loc(0, astro.Sun, 2, 1), loc(0, astro.Mars, 355, 0.5), conjTrine(), o)
	require.True(t, ok)
	assert.Equal(t, "Conjunction", a.Def.Name)
	assert.InDelta(t, 7, a.Angle, 1e-9)
	assert.InDelta(t, 7, a.Orb, 1e-9)

	// 15 degrees apart is outside an 8 degree conjunction
	_, ok = Calculate(loc(0, astro.Sun, 10, 1), loc(0, astro.Mars, 355, 0.5), conjTrine(), o)
	assert.False(t, ok)
}

func TestCalculate_OrbFactor(t *testing.T) {
	o := astro.DefaultOptions()
	o.OrbFactor = 0.5
	_, ok := Calculate(loc(0, astro.Sun, 0, 1), loc(0, astro.Mars, 5, 0.5), conjTrine(), o)
	assert.False(t, ok)
	o.OrbFactor = 1
	_, ok = Calculate(loc(0, astro.Sun, 0, 1), loc(0, astro.Mars, 5, 0.5), conjTrine(), o)
	assert.True(t, ok)
}

func TestCalculate_NoSelfAspect(t *testing.T) {
	o := astro.DefaultOptions()
	for _, s := range append(Builtin(), Dynamic(o)) {
		for _, p := range astro.Planets() {
			_, ok := Calculate(loc(0, p, 42, 1), loc(0, p, 42, 1), s, o)
			assert.False(t, ok, "%s with itself in %s", p.Name(), s.Name)
		}
		// the nodes are one body
		_, ok := Calculate(loc(0, astro.NorthNode, 10, -0.05), loc(0, astro.SouthNode, 190, -0.05), s, o)
		assert.False(t, ok)
	}
	// the same body from two charts is a real contact
	_, ok := Calculate(loc(0, astro.Sun, 42, 1), loc(1, astro.Sun, 43, 0), conjTrine(), o)
	assert.True(t, ok)
}

func TestApplying(t *testing.T) {
	// fast body behind a slow one: closing in on the conjunction
	assert.True(t, Applying(astro.Loc{Lon: 10, Speed: 1}, astro.Loc{Lon: 15, Speed: 0.1}, 0))
	// fast body ahead: separating
	assert.False(t, Applying(astro.Loc{Lon: 20, Speed: 1}, astro.Loc{Lon: 15, Speed: 0.1}, 0))
	// order of arguments does not matter
	assert.True(t, Applying(astro.Loc{Lon: 15, Speed: 0.1}, astro.Loc{Lon: 10, Speed: 1}, 0))
	// trine short of exact, separation growing: applying
	assert.True(t, Applying(astro.Loc{Lon: 0, Speed: 0}, astro.Loc{Lon: 118, Speed: 1}, 120))
	// trine past exact, still growing: separating
	assert.False(t, Applying(astro.Loc{Lon: 0, Speed: 0}, astro.Loc{Lon: 122, Speed: 1}, 120))
	// across 0 degrees
	assert.True(t, Applying(astro.Loc{Lon: 355, Speed: 1}, astro.Loc{Lon: 2, Speed: 0}, 0))
	// exact
	assert.False(t, Applying(astro.Loc{Lon: 0, Speed: 1}, astro.Loc{Lon: 0, Speed: 0}, 0))
}

func TestPairsAndBetween(t *testing.T) {
	o := astro.DefaultOptions()
	locs := []astro.PlanetLoc{
		loc(0, astro.Sun, 0, 1),
		loc(0, astro.Moon, 121, 13),
		loc(0, astro.Mars, 3, 0.5),
	}
	got := Pairs(locs, conjTrine(), o)
	require.Len(t, got, 3)
	assert.Equal(t, "Trine", got[0].Def.Name) // orb 1
	assert.Equal(t, "Trine", got[1].Def.Name) // orb 2
	assert.Equal(t, "Conjunction", got[2].Def.Name)

	syn := Between(locs[:1], []astro.PlanetLoc{loc(1, astro.Sun, 119, 1)}, conjTrine(), o)
	require.Len(t, syn, 1)
	assert.Equal(t, 1, syn[0].Members[1].ID.Chart)
}

func TestDynamic(t *testing.T) {
	o := astro.DefaultOptions()
	d := Dynamic(o)
	angles := map[float64]int{}
	for _, def := range d.Defs {
		angles[def.Angle]++
		assert.LessOrEqual(t, def.Angle, 180.0)
	}
	for a, n := range angles {
		assert.Equal(t, 1, n, "angle %v generated twice", a)
	}

	assert.Len(t, HarmonicDefs(1), 1)
	assert.Len(t, HarmonicDefs(4), 1)
	assert.Len(t, HarmonicDefs(5), 2)
	assert.Len(t, HarmonicDefs(12), 2) // 30 and 150
	assert.Equal(t, "Quincunx", HarmonicDefs(12)[1].Name)
	assert.Equal(t, []int{2, 2, 3}, HarmonicDefs(12)[0].Factors)

	// orb shrinks with the harmonic
	q := HarmonicDefs(5)[0]
	assert.InDelta(t, 16.0/5, q.EffectiveOrb(o), 1e-9)

	// first match wins: lower harmonics are earlier in the set
	def, ok := d.Match(1, o)
	require.True(t, ok)
	assert.Equal(t, "Conjunction", def.Name)

	o.Harmonics = harmonic.MaskOf(1, 2, 3, 4)
	assert.Len(t, Dynamic(o).Defs, 4)

	o.Harmonics = harmonic.AllEnabled
	o.PrimeFactorLimit = 2
	for _, def := range Dynamic(o).Defs {
		assert.LessOrEqual(t, harmonic.LargestPrimeFactor(def.Harmonic), 2)
	}
}

const setsCSV = `id;name;name_ru
1;Classic;Классика
5;Minor;Минор
`

const aspectsCSV = `set;id;name;angle;orb;glyph;good
1;0;Conjunction;0;10;☌;
1;1;Opposition;180;9;☍;no
# comment line
5;0;Semisextile;30;2;;yes
`

func TestReadSets(t *testing.T) {
	sets, err := ReadSets(strings.NewReader(setsCSV), strings.NewReader(aspectsCSV))
	require.NoError(t, err)
	require.Len(t, sets, 2)
	assert.Equal(t, "Classic", sets[0].Name)
	require.Len(t, sets[0].Defs, 2)
	assert.Equal(t, 10.0, sets[0].Defs[0].Orb)
	assert.Equal(t, "☌", sets[0].Defs[0].Attrs["glyph"])
	assert.Equal(t, "no", sets[0].Defs[1].Attrs["good"])
	assert.Equal(t, "yes", sets[1].Defs[0].Attrs["good"])
}

func TestReadSets_Errors(t *testing.T) {
	_, err := ReadSets(strings.NewReader("id;title\n1;x\n"), strings.NewReader(aspectsCSV))
	assert.Error(t, err)

	_, err = ReadSets(strings.NewReader(setsCSV), strings.NewReader("set;id;name;angle;orb\n9;0;X;0;1\n"))
	assert.ErrorContains(t, err, "unknown set 9")

	_, err = ReadSets(strings.NewReader(setsCSV), strings.NewReader("set;id;name;angle;orb\n1;0;X;200;1\n"))
	assert.ErrorContains(t, err, "out of range")

	_, err = ReadSets(strings.NewReader("id;name\n1;a\n1;b\n"), strings.NewReader("set;id;name;angle;orb\n"))
	assert.ErrorContains(t, err, "duplicate")
}

func TestRegistry(t *testing.T) {
	o := astro.DefaultOptions()
	r := NewRegistry()
	assert.Equal(t, 1, r.Default().ID)
	assert.Len(t, r.List(), 2)

	_, err := r.Get(42, o)
	assert.True(t, errors.Is(err, apperr.ErrUnknownAspectSet))

	h5, err := r.Get(DynamicSetID+5, o)
	require.NoError(t, err)
	assert.Equal(t, "H5", h5.Name)

	tight, err := r.Get(TightConjunctionID, o)
	require.NoError(t, err)
	assert.Len(t, tight.Defs, 1)

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, SetsFile), []byte(setsCSV), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, AspectsFile), []byte(aspectsCSV), 0o644))
	require.NoError(t, r.Reload(dir))
	minor, err := r.Get(5, o)
	require.NoError(t, err)
	assert.Equal(t, "Minor", minor.Name)
	_, err = r.Get(2, o)
	assert.Error(t, err)

	// a broken directory leaves the table alone
	assert.Error(t, r.Reload(t.TempDir()))
	_, err = r.Get(5, o)
	assert.NoError(t, err)
}
