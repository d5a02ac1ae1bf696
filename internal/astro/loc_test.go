package astro

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	cases := map[float64]float64{
		0:    0,
		360:  0,
		720:  0,
		-10:  350,
		370:  10,
		-370: 350,
	}
	for in, want := range cases {
		assert.InDelta(t, want, Normalize(in), 1e-9, "Normalize(%v)", in)
	}
	got := Normalize(-1e-15)
	assert.GreaterOrEqual(t, got, 0.0)
	assert.Less(t, got, 360.0)
}

func TestAngleAndSignedDiff(t *testing.T) {
	assert.InDelta(t, 15, Angle(10, 355), 1e-9)
	assert.InDelta(t, 15, Angle(355, 10), 1e-9)
	assert.InDelta(t, 180, Angle(0, 180), 1e-9)

	assert.InDelta(t, 20, SignedDiff(350, 10), 1e-9)
	assert.InDelta(t, -20, SignedDiff(10, 350), 1e-9)
	assert.InDelta(t, 180, SignedDiff(0, 180), 1e-9)
	assert.InDelta(t, 180, SignedDiff(180, 0), 1e-9)
}

func TestIsEarlier(t *testing.T) {
	assert.True(t, IsEarlier(350, 10), "10 lies 20 degrees ahead of 350")
	assert.False(t, IsEarlier(10, 350))
	assert.True(t, IsEarlier(100, 200))
	assert.False(t, IsEarlier(100, 300))
	assert.False(t, IsEarlier(42, 42))
}

func TestProject(t *testing.T) {
	for _, lon := range []float64{0, 7.5, 101, 179.99, 200, 359.9} {
		for h := 1; h <= 32; h++ {
			want := math.Mod(lon*float64(h), 360)
			got := Project(lon, h)
			assert.InDelta(t, want, got, 1e-9, "Project(%v, %d)", lon, h)
			assert.Less(t, got, 360.0)
		}
	}

	l := Loc{Desc: "Sun", Lon: 100, Speed: 1}.Project(5)
	assert.InDelta(t, 140, l.Lon, 1e-9)
	assert.InDelta(t, 5, l.Speed, 1e-9)
	assert.Equal(t, "Sun", l.Desc)

	same := Loc{Lon: 370, Speed: -0.5}.Project(1)
	assert.InDelta(t, 10, same.Lon, 1e-9)
	assert.True(t, same.Retrograde())
}

func TestLocValid(t *testing.T) {
	assert.True(t, Loc{Lon: 10, Speed: 1}.Valid())
	assert.False(t, Loc{Lon: math.NaN()}.Valid())
	assert.False(t, Loc{Lon: 1, Speed: math.Inf(1)}.Valid())
}

func TestTrueSpread(t *testing.T) {
	// within the orb the naive spread stands
	assert.InDelta(t, 4, TrueSpread([]float64{100, 103, 104}, 8), 1e-9)
	// straddling zero: the largest gap is the one between 5 and 355
	assert.InDelta(t, 10, TrueSpread([]float64{355, 2, 5}, 8), 1e-9)
	assert.InDelta(t, 10, TrueSpread([]float64{5, 355, 2}, 8), 1e-9)
	// a loose group not straddling zero keeps its naive spread
	assert.InDelta(t, 10, TrueSpread([]float64{10, 20}, 5), 1e-9)
	assert.InDelta(t, 240, TrueSpread([]float64{0, 120, 240}, 8), 1e-9)

	assert.Zero(t, TrueSpread(nil, 8))
	assert.Zero(t, TrueSpread([]float64{42}, 8))
}

func TestMidpointLon(t *testing.T) {
	assert.InDelta(t, 30, MidpointLon(10, 50), 1e-9)
	assert.InDelta(t, 30, MidpointLon(50, 10), 1e-9)
	assert.InDelta(t, 5, MidpointLon(350, 20), 1e-9)
	assert.InDelta(t, 5, MidpointLon(20, 350), 1e-9)
}
