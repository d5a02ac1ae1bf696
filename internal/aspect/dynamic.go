package aspect

import (
	"fmt"

	"github.com/starford/harmonia/internal/astro"
	"github.com/starford/harmonia/internal/harmonic"
)

// DynamicSetID identifies the generated harmonic set. Per-harmonic sets use
// DynamicSetID + h.
const DynamicSetID = 1000

var classicalNames = map[[2]int]string{
	{1, 0}:  "Conjunction",
	{2, 1}:  "Opposition",
	{3, 1}:  "Trine",
	{4, 1}:  "Square",
	{5, 1}:  "Quintile",
	{5, 2}:  "Biquintile",
	{6, 1}:  "Sextile",
	{7, 1}:  "Septile",
	{7, 2}:  "Biseptile",
	{7, 3}:  "Triseptile",
	{8, 1}:  "Semisquare",
	{8, 3}:  "Sesquiquadrate",
	{9, 1}:  "Novile",
	{9, 2}:  "Binovile",
	{9, 4}:  "Quadnovile",
	{10, 1}: "Decile",
	{10, 3}: "Tridecile",
	{12, 1}: "Semisextile",
	{12, 5}: "Quincunx",
}

// HarmonicDefs returns the angles first introduced by harmonic h: k*360/h
// for every k in 0..h/2 coprime with h. Multiples already covered by a
// lower harmonic are skipped.
func HarmonicDefs(h int) []Def {
	if h < 1 {
		return nil
	}
	var out []Def
	for k := 0; 2*k <= h; k++ {
		if gcd(k, h) != 1 {
			continue
		}
		name, ok := classicalNames[[2]int{h, k}]
		if !ok {
			name = fmt.Sprintf("%d/%d", k, h)
		}
		out = append(out, Def{
			ID:       h*100 + k,
			Name:     name,
			Angle:    float64(k) * 360 / float64(h),
			Harmonic: h,
			Factors:  harmonic.PrimeFactors(h),
			Dynamic:  true,
		})
	}
	return out
}

// Dynamic generates the harmonic angle set for the harmonics enabled in o,
// in ascending harmonic order so that lower harmonics win ties.
func Dynamic(o astro.Options) Set {
	s := Set{ID: DynamicSetID, Name: "Dynamic"}
	maxH := min(o.MaxHarmonic, harmonic.MaskSize)
	for h := 1; h <= maxH; h++ {
		if !o.Harmonics.Enabled(h) {
			continue
		}
		if o.PrimeFactorLimit > 0 && harmonic.LargestPrimeFactor(h) > o.PrimeFactorLimit {
			continue
		}
		s.Defs = append(s.Defs, HarmonicDefs(h)...)
	}
	return s
}

// ForHarmonic is the set holding only the angles of harmonic h.
func ForHarmonic(h int) Set {
	return Set{ID: DynamicSetID + h, Name: fmt.Sprintf("H%d", h), Defs: HarmonicDefs(h)}
}

func gcd(a, b int) int {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}
