package aspect

import (
	"fmt"
	"sort"
	"sync"

	"github.com/starford/harmonia/internal/apperr"
	"github.com/starford/harmonia/internal/astro"
)

// TightConjunctionID is the built-in set holding a single narrow
// conjunction, used for star and focal point contacts.
const TightConjunctionID = 999

// Builtin returns the sets used when no CSV directory is configured.
func Builtin() []Set {
	return []Set{
		{ID: 1, Name: "Major", Defs: []Def{
			{ID: 0, Name: "Conjunction", Angle: 0, Orb: 8},
			{ID: 1, Name: "Sextile", Angle: 60, Orb: 6},
			{ID: 2, Name: "Square", Angle: 90, Orb: 8},
			{ID: 3, Name: "Trine", Angle: 120, Orb: 8},
			{ID: 4, Name: "Opposition", Angle: 180, Orb: 8},
		}},
		{ID: 2, Name: "Extended", Defs: []Def{
			{ID: 0, Name: "Conjunction", Angle: 0, Orb: 8},
			{ID: 1, Name: "Semisextile", Angle: 30, Orb: 2},
			{ID: 2, Name: "Semisquare", Angle: 45, Orb: 2},
			{ID: 3, Name: "Sextile", Angle: 60, Orb: 6},
			{ID: 4, Name: "Quintile", Angle: 72, Orb: 2},
			{ID: 5, Name: "Square", Angle: 90, Orb: 8},
			{ID: 6, Name: "Trine", Angle: 120, Orb: 8},
			{ID: 7, Name: "Sesquiquadrate", Angle: 135, Orb: 2},
			{ID: 8, Name: "Biquintile", Angle: 144, Orb: 2},
			{ID: 9, Name: "Quincunx", Angle: 150, Orb: 3},
			{ID: 10, Name: "Opposition", Angle: 180, Orb: 8},
		}},
	}
}

// TightConjunction is the narrow conjunction set.
func TightConjunction() Set {
	return Set{ID: TightConjunctionID, Name: "Tight conjunction", Defs: []Def{
		{ID: 0, Name: "Conjunction", Angle: 0, Orb: 1},
	}}
}

// Registry holds the loaded sets. Reads are concurrent; Replace swaps the
// whole table at once so readers never see a half-loaded state.
type Registry struct {
	mu     sync.RWMutex
	sets   map[int]Set
	defSet int
}

// NewRegistry returns a registry holding sets, or the built-in sets when
// none are given.
func NewRegistry(sets ...Set) *Registry {
	r := &Registry{}
	if len(sets) == 0 {
		sets = Builtin()
	}
	r.Replace(sets)
	return r
}

// Replace swaps in a new table. The lowest id becomes the default set.
func (r *Registry) Replace(sets []Set) {
	m := make(map[int]Set, len(sets))
	def := 0
	for i, s := range sets {
		m[s.ID] = s
		if i == 0 || s.ID < def {
			def = s.ID
		}
	}
	r.mu.Lock()
	r.sets = m
	r.defSet = def
	r.mu.Unlock()
}

// Reload reads dir and replaces the table. On error the old table stays.
func (r *Registry) Reload(dir string) error {
	sets, err := LoadDir(dir)
	if err != nil {
		return err
	}
	if len(sets) == 0 {
		return fmt.Errorf("aspect: %s holds no sets", dir)
	}
	r.Replace(sets)
	return nil
}

// Default returns the default loaded set.
func (r *Registry) Default() Set {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sets[r.defSet]
}

// Get resolves id against the loaded sets and the generated ones: the
// dynamic set, the per-harmonic sets and the tight conjunction. Generated
// sets reflect o.
func (r *Registry) Get(id int, o astro.Options) (Set, error) {
	switch {
	case id == DynamicSetID:
		return Dynamic(o), nil
	case id > DynamicSetID && id <= DynamicSetID+o.MaxHarmonic:
		return ForHarmonic(id - DynamicSetID), nil
	case id == TightConjunctionID:
		return TightConjunction(), nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sets[id]
	if !ok {
		return Set{}, fmt.Errorf("aspect set %d: %w", id, apperr.ErrUnknownAspectSet)
	}
	return s, nil
}

// List returns the loaded sets ordered by id.
func (r *Registry) List() []Set {
	r.mu.RLock()
	out := make([]Set, 0, len(r.sets))
	for _, s := range r.sets {
		out = append(out, s)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
