package cache

import (
	"log/slog"

	"github.com/starford/harmonia/internal/eventstore"
)

// Restore loads every persisted type into store. Checksums are returned so
// that the caller can tell whether the next request for a type must merge.
func Restore(db EventCache, store *eventstore.Store, logger *slog.Logger) (map[string]string, error) {
	states, err := db.LoadAll()
	if err != nil {
		return nil, err
	}
	store.Restore(states)
	sums, err := db.AllChecksums()
	if err != nil {
		return nil, err
	}
	n := 0
	for _, st := range states {
		n += len(st.Events)
	}
	logger.Info("event cache restored", slog.Int("types", len(states)), slog.Int("events", n))
	return sums, nil
}

// Save writes the current state of typ. A type the store no longer holds is
// removed from the cache.
func Save(db EventCache, store *eventstore.Store, typ, checksum string, logger *slog.Logger) error {
	st, ok := store.TypeStateOf(typ)
	if !ok {
		return db.DeleteType(typ)
	}
	if err := db.SaveType(st, checksum); err != nil {
		return err
	}
	logger.Debug("event cache saved", slog.String("type", typ), slog.Int("events", len(st.Events)))
	return nil
}
