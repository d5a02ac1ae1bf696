package eventstore

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/starford/harmonia/internal/apperr"
	"github.com/starford/harmonia/internal/observability"
)

// Mode selects how a requested range combines with cached coverage.
type Mode int

const (
	// Merge recomputes the whole request and drops cached events inside it.
	// Used when search parameters changed.
	Merge Mode = iota
	// Pare computes only the part of the request not yet covered. Used when
	// only the date window moved.
	Pare
)

// ParseMode maps "merge" and "pare" to a Mode.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(s) {
	case "", "pare":
		return Pare, nil
	case "merge":
		return Merge, nil
	}
	return Pare, fmt.Errorf("mode %q: %w", s, apperr.ErrInvalidInput)
}

func (m Mode) String() string {
	if m == Merge {
		return "merge"
	}
	return "pare"
}

// Scope is the outcome of GetUpdateScope.
type Scope struct {
	// Noop means the request is already covered; scheduling work would
	// duplicate events.
	Noop     bool
	Residual []Range
	Events   *EventList
}

// Phase tells observers which side of a change a notification is on.
type Phase string

const (
	AboutToChange Phase = "about_to_change"
	ChangeDone    Phase = "change_done"
)

// Notification is sent around every removal of cached events.
type Notification struct {
	Phase Phase  `json:"phase"`
	Type  string `json:"type"`
	// Range is nil when the whole type is cleared.
	Range *Range `json:"range,omitempty"`
}

// Observer receives notifications synchronously while the store is locked;
// it must not call back into the store.
type Observer func(Notification)

type entry struct {
	coverage []Range
	events   *EventList
}

// Store holds coverage and events per event type.
type Store struct {
	mu        sync.Mutex
	types     map[string]*entry
	ids       atomic.Int64
	observers map[int]Observer
	nextObs   int
	logger    *slog.Logger
}

// New creates an empty store.
func New(logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		types:     map[string]*entry{},
		observers: map[int]Observer{},
		logger:    logger,
	}
}

// Subscribe registers fn and returns a function removing it.
func (s *Store) Subscribe(fn Observer) func() {
	s.mu.Lock()
	id := s.nextObs
	s.nextObs++
	s.observers[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.observers, id)
		s.mu.Unlock()
	}
}

func (s *Store) notifyLocked(n Notification) {
	observability.StoreNotificationsTotal.WithLabelValues(string(n.Phase)).Inc()
	for _, fn := range s.observers {
		fn(n)
	}
}

func (s *Store) entryLocked(typ string) *entry {
	e, ok := s.types[typ]
	if !ok {
		e = &entry{events: newEventList(typ, &s.ids)}
		s.types[typ] = e
	}
	return e
}

// GetUpdateScope records r as covered for typ and returns what still has to
// be computed, together with the list results must be appended to.
func (s *Store) GetUpdateScope(typ string, r Range, mode Mode) (Scope, error) {
	if !r.Valid() {
		return Scope{}, fmt.Errorf("update scope %s: %w", r, apperr.ErrInvalidRange)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	_, known := s.types[typ]
	e := s.entryLocked(typ)
	if !known || len(e.coverage) == 0 {
		e.coverage = []Range{r}
		return Scope{Residual: []Range{r}, Events: e.events}, nil
	}
	if len(e.coverage) == 1 && e.coverage[0].Equal(r) {
		return Scope{Noop: true, Events: e.events}, nil
	}

	var residual []Range
	switch mode {
	case Merge:
		residual = []Range{r}
		s.dropLocked(typ, e, r)
	default:
		residual = Subtract(r, e.coverage)
		if len(residual) == 0 {
			return Scope{Noop: true, Events: e.events}, nil
		}
	}
	e.coverage = Coalesce(append(append([]Range(nil), e.coverage...), r))
	s.logger.Debug("update scope",
		slog.String("type", typ),
		slog.String("mode", mode.String()),
		slog.String("range", r.String()),
		slog.Int("residual", len(residual)))
	return Scope{Residual: residual, Events: e.events}, nil
}

// dropLocked removes the events of e inside r, notifying observers when
// there is anything to remove.
func (s *Store) dropLocked(typ string, e *entry, r Range) {
	if len(e.events.In(r)) == 0 {
		return
	}
	rc := r
	s.notifyLocked(Notification{Phase: AboutToChange, Type: typ, Range: &rc})
	n := e.events.removeIf(func(ev Event) bool { return r.Contains(ev.Time) })
	s.notifyLocked(Notification{Phase: ChangeDone, Type: typ, Range: &rc})
	s.logger.Debug("dropped events", slog.String("type", typ), slog.Int("count", n))
}

// Clear forgets everything cached for typ.
func (s *Store) Clear(typ string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.types[typ]
	if !ok {
		return
	}
	s.notifyLocked(Notification{Phase: AboutToChange, Type: typ})
	e.events.removeIf(func(Event) bool { return true })
	delete(s.types, typ)
	s.notifyLocked(Notification{Phase: ChangeDone, Type: typ})
}

// ClearPrefix clears every type whose key starts with prefix and returns
// the cleared types.
func (s *Store) ClearPrefix(prefix string) []string {
	var hit []string
	for _, t := range s.Types() {
		if strings.HasPrefix(t, prefix) {
			hit = append(hit, t)
		}
	}
	for _, t := range hit {
		s.Clear(t)
	}
	return hit
}

// ClearRange removes r from the coverage of typ and drops the events inside
// it, so a later request recomputes that window.
func (s *Store) ClearRange(typ string, r Range) error {
	if !r.Valid() {
		return fmt.Errorf("clear %s: %w", r, apperr.ErrInvalidRange)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.types[typ]
	if !ok {
		return nil
	}
	rc := r
	s.notifyLocked(Notification{Phase: AboutToChange, Type: typ, Range: &rc})
	var cov []Range
	for _, c := range e.coverage {
		cov = append(cov, Subtract(c, []Range{r})...)
	}
	e.coverage = Coalesce(cov)
	e.events.removeIf(func(ev Event) bool { return r.Contains(ev.Time) })
	s.notifyLocked(Notification{Phase: ChangeDone, Type: typ, Range: &rc})
	return nil
}

// Coverage returns a copy of the coverage of typ.
func (s *Store) Coverage(typ string) []Range {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.types[typ]
	if !ok {
		return nil
	}
	return append([]Range(nil), e.coverage...)
}

// Events returns the event list of typ, or nil.
func (s *Store) Events(typ string) *EventList {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.types[typ]; ok {
		return e.events
	}
	return nil
}

// Types lists the cached event types.
func (s *Store) Types() []string {
	s.mu.Lock()
	out := make([]string, 0, len(s.types))
	for t := range s.types {
		out = append(out, t)
	}
	s.mu.Unlock()
	sort.Strings(out)
	return out
}

// TypeState is the persisted form of one event type.
type TypeState struct {
	Type     string  `json:"type"`
	Coverage []Range `json:"coverage"`
	Events   []Event `json:"events"`
}

// State captures every type.
func (s *Store) State() []TypeState {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]TypeState, 0, len(s.types))
	for t, e := range s.types {
		out = append(out, TypeState{
			Type:     t,
			Coverage: append([]Range(nil), e.coverage...),
			Events:   e.events.Snapshot(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Type < out[j].Type })
	return out
}

// TypeStateOf captures one type.
func (s *Store) TypeStateOf(typ string) (TypeState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.types[typ]
	if !ok {
		return TypeState{}, false
	}
	return TypeState{Type: typ, Coverage: append([]Range(nil), e.coverage...), Events: e.events.Snapshot()}, true
}

// Restore loads persisted states, replacing any cached type of the same
// name. States with broken coverage are skipped.
func (s *Store) Restore(states []TypeState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, st := range states {
		cov := Coalesce(st.Coverage)
		if err := CheckCoverage(cov); err != nil || len(cov) == 0 {
			s.logger.Warn("skipping persisted event type", slog.String("type", st.Type), slog.Any("error", err))
			continue
		}
		e := &entry{coverage: cov, events: newEventList(st.Type, &s.ids)}
		e.events.restore(st.Events)
		s.types[st.Type] = e
	}
}
