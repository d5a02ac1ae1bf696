package harmonic

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestAllFactors(t *testing.T) {
	cases := map[int][]int{
		1:  {1},
		7:  {1},
		12: {1, 2, 3, 4, 6},
		16: {1, 2, 4, 8},
		30: {1, 2, 3, 5, 6, 10, 15},
	}
	for n, want := range cases {
		assert.Equal(t, want, AllFactors(n), "AllFactors(%d)", n)
	}
	assert.Nil(t, AllFactors(0))
}

func TestPrimeFactors_Multiset(t *testing.T) {
	assert.Equal(t, []int{2, 2, 3}, PrimeFactors(12))
	assert.Equal(t, []int{2, 2, 2, 2, 2}, PrimeFactors(32))
	assert.Equal(t, []int{3, 3, 7}, PrimeFactors(63))
	assert.Equal(t, []int{31}, PrimeFactors(31))
	assert.Nil(t, PrimeFactors(1))

	for n := 2; n <= 200; n++ {
		prod := 1
		for _, p := range PrimeFactors(n) {
			prod *= p
		}
		assert.Equal(t, n, prod, "product of prime factors of %d", n)
	}
}

func TestPrimesAndSieve(t *testing.T) {
	assert.Equal(t, []int{2, 3, 5, 7, 11, 13, 17, 19, 23, 29, 31}, Primes(32))
	s := Sieve(10)
	assert.False(t, s[0])
	assert.False(t, s[1])
	assert.True(t, s[7])
	assert.False(t, s[9])
	assert.Empty(t, Primes(1))
}

func TestOvertones(t *testing.T) {
	assert.True(t, IsOvertone(3, 12, 0))
	assert.True(t, IsOvertone(3, 12, 4))
	assert.False(t, IsOvertone(3, 12, 3))
	assert.False(t, IsOvertone(5, 12, 0))
	assert.False(t, IsOvertone(12, 12, 0))

	assert.Equal(t, []int{1, 2, 3, 4, 6}, Overtones(12, 0))
	assert.Equal(t, []int{3, 4, 6}, Overtones(12, 4))
}

func TestSequence_PrimeFactorLimit(t *testing.T) {
	assert.Len(t, Sequence(32, 0), 32)
	// Largest prime factor <= 3.
	assert.Equal(t, []int{1, 2, 3, 4, 6, 8, 9, 12, 16, 18, 24, 27, 32}, Sequence(32, 3))
	assert.Nil(t, Sequence(0, 0))
}

func TestMask(t *testing.T) {
	m := MaskOf(1, 2, 5, 32, 40)
	assert.True(t, m.Enabled(5))
	assert.False(t, m.Enabled(3))
	assert.False(t, m.Enabled(40))
	assert.Equal(t, []int{1, 2, 5, 32}, m.Harmonics())
	assert.Equal(t, 32, m.Max())
	assert.Equal(t, "1,2,32", m.With(5, false).String())
	assert.Len(t, AllEnabled.Harmonics(), 32)
}

func TestMask_Decode(t *testing.T) {
	m, err := ParseMask("1, 3,5")
	require.NoError(t, err)
	assert.Equal(t, []int{1, 3, 5}, m.Harmonics())

	_, err = ParseMask("0,2")
	assert.Error(t, err)

	var cfg struct {
		A Mask `yaml:"a"`
		B Mask `yaml:"b"`
	}
	require.NoError(t, yaml.Unmarshal([]byte("a: all\nb: [2, 4]\n"), &cfg))
	assert.Equal(t, AllEnabled, cfg.A)
	assert.Equal(t, MaskOf(2, 4), cfg.B)

	b, err := MaskOf(7, 9).MarshalJSON()
	require.NoError(t, err)
	assert.JSONEq(t, "[7,9]", string(b))

	var back Mask
	require.NoError(t, back.UnmarshalJSON(b))
	assert.Equal(t, MaskOf(7, 9), back)
}
