package cluster

import (
	"sort"
	"time"
)

// Entry is one qualifying group.
type Entry struct {
	Set    Set        `json:"set"`
	Spread float64    `json:"spread"`
	Time   *time.Time `json:"time,omitempty"`
}

// Groups maps Set.Key to the entry recorded for that set at one harmonic.
type Groups map[string]Entry

// Insert records e, keeping the tighter spread when the set is already
// present. It reports whether the table changed.
func (g Groups) Insert(e Entry) bool {
	k := e.Set.Key()
	if old, ok := g[k]; ok && old.Spread <= e.Spread {
		return false
	}
	g[k] = e
	return true
}

// PruneSubsumedPairs drops every two-member group that is a strict subset
// of a three-member group: the triple already reports the pair as
// conjunct.
func (g Groups) PruneSubsumedPairs() {
	var triples []Entry
	for _, e := range g {
		if len(e.Set) == 3 {
			triples = append(triples, e)
		}
	}
	if len(triples) == 0 {
		return
	}
	for k, e := range g {
		if len(e.Set) != 2 {
			continue
		}
		for _, t := range triples {
			if contains(t.Set, e.Set) {
				delete(g, k)
				break
			}
		}
	}
}

// Sorted returns the entries tightest first, ties broken by key.
func (g Groups) Sorted() []Entry {
	out := make([]Entry, 0, len(g))
	for _, e := range g {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Spread != out[j].Spread {
			return out[i].Spread < out[j].Spread
		}
		return out[i].Set.Key() < out[j].Set.Key()
	})
	return out
}

// Table maps a harmonic to its groups. A harmonic that was rejected or
// produced nothing is absent.
type Table map[int]Groups

// Harmonics lists the harmonics present, ascending.
func (t Table) Harmonics() []int {
	out := make([]int, 0, len(t))
	for h := range t {
		out = append(out, h)
	}
	sort.Ints(out)
	return out
}

// Len counts all entries.
func (t Table) Len() int {
	n := 0
	for _, g := range t {
		n += len(g)
	}
	return n
}

// contains reports whether big holds every member of small, through the
// bitmap when both sets can be encoded.
func contains(big, small Set) bool {
	bb, ok1 := BitmapOf(big)
	sb, ok2 := BitmapOf(small)
	if ok1 && ok2 {
		return bb.Contains(sb)
	}
	return big.HasAll(small)
}
