package cache

import "github.com/starford/harmonia/internal/eventstore"

// EventCache persists event store types between runs.
// Consumers should depend on this interface rather than the concrete *DB.
type EventCache interface {
	SaveType(st eventstore.TypeState, checksum string) error
	DeleteType(typ string) error
	LoadAll() ([]eventstore.TypeState, error)
	Checksum(typ string) (string, error)
	AllChecksums() (map[string]string, error)
	Close() error
}

// Verify *DB satisfies EventCache at compile time.
var _ EventCache = (*DB)(nil)
