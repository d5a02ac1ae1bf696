package cluster

import (
	"context"
	"math"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/starford/harmonia/internal/astro"
	"github.com/starford/harmonia/internal/harmonic"
)

// Step is one rung of the quorum/orb ladder.
type Step struct {
	Quorum int     `json:"quorum"`
	Orb    float64 `json:"orb"`
}

// Ladder walks quorum from MinQuorum to MaxQuorum while the orb grows
// geometrically from MinQuorumOrb to MaxQuorumOrb: bigger groups are
// allowed a wider spread.
func Ladder(o astro.Options) []Step {
	d := 1
	if o.MinQuorum > o.MaxQuorum {
		d = -1
	}
	num := o.MaxQuorum - o.MinQuorum
	if num < 0 {
		num = -num
	}
	num++
	orb := o.MinQuorumOrb
	var od float64
	if num > 1 && o.MinQuorumOrb > 0 && o.MaxQuorumOrb > 0 {
		od = math.Pow(2, (math.Log2(o.MaxQuorumOrb)-math.Log2(o.MinQuorumOrb))/float64(num-1))
	}
	steps := make([]Step, 0, num)
	q := o.MinQuorum
	for i := 0; i < num; i++ {
		steps = append(steps, Step{Quorum: q, Orb: orb})
		q += d
		orb *= od
	}
	return steps
}

// SearchHarmonics lists the harmonics FindHarmonics evaluates under o: the
// sequence bounded by MaxHarmonic and PrimeFactorLimit, minus harmonics
// switched off in the mask.
func SearchHarmonics(o astro.Options) []int {
	var out []int
	for _, h := range harmonic.Sequence(o.MaxHarmonic, o.PrimeFactorLimit) {
		if h <= harmonic.MaskSize && !o.Harmonics.Enabled(h) {
			continue
		}
		out = append(out, h)
	}
	return out
}

// FindHarmonics builds the harmonic table of a profile at jd. Every harmonic
// of SearchHarmonics is run through each ladder step in parallel; results
// are then joined in ascending order so that a composite harmonic drops
// groups already contained in a group at one of its factors.
func FindHarmonics(ctx context.Context, p astro.Profile, jd float64, o astro.Options) (Table, error) {
	hs := SearchHarmonics(o)
	steps := Ladder(o)
	maxOrb := 0.0
	for _, s := range steps {
		maxOrb = math.Max(maxOrb, s.Orb)
	}
	q := Query{
		MaxOrb:        maxOrb,
		SkipNatalOnly: o.RequireAnchor,
		RestrictMoon:  o.RestrictMoon,
		ForceMinimize: o.ForceMinimize,
		EveryChart:    true,
	}
	charts := p.Charts()
	stamp := astro.TimeOf(jd)

	results := make([]Groups, len(hs))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, h := range hs {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			groups := Groups{}
			for _, s := range steps {
				for _, e := range detect(p, jd, h, s.Quorum, s.Orb, q, o, charts) {
					e.Time = &stamp
					groups.Insert(e)
				}
			}
			if h == 1 {
				groups.PruneSubsumedPairs()
			}
			results[i] = groups
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	j := newJoiner()
	t := Table{}
	for i, h := range hs {
		if kept := j.join(h, results[i]); len(kept) > 0 {
			t[h] = kept
		}
	}
	return t, nil
}

// joiner folds per-harmonic results in ascending harmonic order.
type joiner struct {
	prime []bool
	seen  map[int][]Bitmap
}

func newJoiner() *joiner {
	return &joiner{seen: map[int][]Bitmap{}}
}

func (j *joiner) isPrime(h int) bool {
	if h == 1 {
		return true
	}
	if h >= len(j.prime) {
		j.prime = harmonic.Sieve(2 * h)
	}
	return j.prime[h]
}

func (j *joiner) join(h int, groups Groups) Groups {
	if j.isPrime(h) {
		for _, e := range groups {
			if bm, ok := BitmapOf(e.Set); ok {
				j.seen[h] = append(j.seen[h], bm)
			}
		}
		return groups
	}
	kept := Groups{}
	factors := harmonic.AllFactors(h)
	for k, e := range groups {
		bm, ok := BitmapOf(e.Set)
		if !ok {
			// midpoint groups are never pruned
			kept[k] = e
			continue
		}
		if j.explained(bm, factors) {
			continue
		}
		j.seen[h] = append(j.seen[h], bm)
		kept[k] = e
	}
	return kept
}

func (j *joiner) explained(bm Bitmap, factors []int) bool {
	for _, f := range factors {
		for _, lower := range j.seen[f] {
			if lower.Contains(bm) {
				return true
			}
		}
	}
	return false
}
