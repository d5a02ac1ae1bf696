package finder

import (
	"context"
	"log/slog"
	"time"

	"github.com/starford/harmonia/internal/eventstore"
)

// CoincidenceFinder links events of one list that share a body and fall
// within Window of each other. Only pairs with at least one event inside
// Range are examined, so rerunning over a new chunk leaves older links
// alone.
type CoincidenceFinder struct {
	Chunk
	Window time.Duration
	Logger *slog.Logger
}

func (f *CoincidenceFinder) Kind() string { return "coincidence" }

func (f *CoincidenceFinder) Run(ctx context.Context) error {
	n, err := f.findCoincidences(ctx)
	if err != nil {
		return err
	}
	if f.Logger != nil && n > 0 {
		f.Logger.Debug("linked coincidences", slog.String("range", f.Range.String()), slog.Int("count", n))
	}
	return nil
}

func (f *CoincidenceFinder) findCoincidences(ctx context.Context) (int, error) {
	if f.Window <= 0 {
		return 0, nil
	}
	evs := f.Events.Snapshot()
	linked := 0
	for i := range evs {
		if err := ctx.Err(); err != nil {
			return linked, err
		}
		for j := i + 1; j < len(evs); j++ {
			if evs[j].Time.Sub(evs[i].Time) > f.Window {
				break
			}
			if !f.Range.Contains(evs[i].Time) && !f.Range.Contains(evs[j].Time) {
				continue
			}
			if !shareBody(evs[i], evs[j]) {
				continue
			}
			if f.Events.AttachCoincidence(evs[i].ID, evs[j].ID) {
				linked++
			}
		}
	}
	return linked, nil
}

func shareBody(a, b eventstore.Event) bool {
	for _, m := range a.Members {
		for _, id := range m.Members() {
			if b.Involves(id) {
				return true
			}
		}
	}
	return false
}
