package eventstore

import (
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/starford/harmonia/internal/astro"
	"github.com/starford/harmonia/internal/observability"
)

// Kind classifies events.
type Kind string

const (
	KindAspect  Kind = "aspect"
	KindPattern Kind = "pattern"
	KindStation Kind = "station"
)

// Event is one search result. After it is appended only its coincidence
// links change.
type Event struct {
	ID   int64     `json:"id"`
	Type string    `json:"type"`
	Kind Kind      `json:"kind"`
	Time time.Time `json:"time"`
	// Until closes the window of events that last, such as patterns.
	Until    time.Time `json:"until,omitzero"`
	Harmonic int       `json:"harmonic"`
	// Orb is the orb consumed by an aspect or the spread of a pattern.
	Orb      float64 `json:"orb"`
	Angle    float64 `json:"angle,omitempty"`
	Aspect   string  `json:"aspect,omitempty"`
	Applying bool    `json:"applying,omitempty"`
	// Retrograde is the direction a station turns to.
	Retrograde   bool                  `json:"retrograde,omitempty"`
	Members      []astro.ChartPlanetID `json:"members"`
	Locations    []astro.PlanetLoc     `json:"locations,omitempty"`
	Coincidences []int64               `json:"coincidences,omitempty"`
}

// Involves reports whether id, or a midpoint containing it, is a member.
func (e Event) Involves(id astro.ChartPlanetID) bool {
	for _, m := range e.Members {
		if m == id {
			return true
		}
		if m.IsMidpoint() && m.Chart == id.Chart && (m.Planet == id.Planet || m.Other == id.Planet) && id.IsSolo() {
			return true
		}
	}
	return false
}

// EventList is the shared, append-only result list of one event type.
// Finders append to it concurrently.
type EventList struct {
	mu     sync.RWMutex
	events []Event
	byID   map[int64]int
	ids    *atomic.Int64
	typ    string
}

func newEventList(typ string, ids *atomic.Int64) *EventList {
	return &EventList{typ: typ, ids: ids, byID: map[int64]int{}}
}

// Append stores events, assigning ids and the list's type.
func (l *EventList) Append(events ...Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range events {
		e.ID = l.ids.Add(1)
		e.Type = l.typ
		l.byID[e.ID] = len(l.events)
		l.events = append(l.events, e)
		observability.EventsStored.WithLabelValues(string(e.Kind)).Inc()
	}
}

// Snapshot copies the events ordered by time.
func (l *EventList) Snapshot() []Event {
	l.mu.RLock()
	out := make([]Event, len(l.events))
	copy(out, l.events)
	l.mu.RUnlock()
	slices.SortStableFunc(out, func(a, b Event) int { return a.Time.Compare(b.Time) })
	return out
}

// In returns the events whose time lies in r, ordered by time.
func (l *EventList) In(r Range) []Event {
	var out []Event
	for _, e := range l.Snapshot() {
		if r.Contains(e.Time) {
			out = append(out, e)
		}
	}
	return out
}

// Len returns the number of events.
func (l *EventList) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.events)
}

// AttachCoincidence links a and b both ways. Unknown ids are ignored.
func (l *EventList) AttachCoincidence(a, b int64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	ia, ok1 := l.byID[a]
	ib, ok2 := l.byID[b]
	if !ok1 || !ok2 || a == b {
		return false
	}
	if slices.Contains(l.events[ia].Coincidences, b) {
		return false
	}
	l.events[ia].Coincidences = append(l.events[ia].Coincidences, b)
	l.events[ib].Coincidences = append(l.events[ib].Coincidences, a)
	return true
}

// removeIf drops matching events and returns how many went. Survivors lose
// their links to dropped events.
func (l *EventList) removeIf(drop func(Event) bool) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	kept := l.events[:0]
	gone := map[int64]bool{}
	for _, e := range l.events {
		if drop(e) {
			gone[e.ID] = true
			observability.EventsStored.WithLabelValues(string(e.Kind)).Dec()
			continue
		}
		kept = append(kept, e)
	}
	clear(l.events[len(kept):])
	l.events = kept
	l.byID = make(map[int64]int, len(kept))
	for i, e := range l.events {
		l.byID[e.ID] = i
		if len(gone) == 0 || !slices.ContainsFunc(e.Coincidences, func(id int64) bool { return gone[id] }) {
			continue
		}
		// snapshots share the old slice
		var links []int64
		for _, id := range e.Coincidences {
			if !gone[id] {
				links = append(links, id)
			}
		}
		l.events[i].Coincidences = links
	}
	return len(gone)
}

// restore replaces the contents with previously persisted events, keeping
// their ids.
func (l *EventList) restore(events []Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append([]Event(nil), events...)
	l.byID = make(map[int64]int, len(events))
	for i, e := range l.events {
		l.events[i].Type = l.typ
		l.byID[e.ID] = i
		for {
			cur := l.ids.Load()
			if e.ID <= cur || l.ids.CompareAndSwap(cur, e.ID) {
				break
			}
		}
		observability.EventsStored.WithLabelValues(string(e.Kind)).Inc()
	}
}
