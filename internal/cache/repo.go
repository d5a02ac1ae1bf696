package cache

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/starford/harmonia/internal/eventstore"
)

// SaveType replaces the stored coverage and events of one type within a
// transaction. checksum fingerprints the search parameters the events were
// computed with.
func (db *DB) SaveType(st eventstore.TypeState, checksum string) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("cache: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	cov, err := json.Marshal(st.Coverage)
	if err != nil {
		return fmt.Errorf("cache: encode coverage: %w", err)
	}
	_, err = tx.Exec(`
		INSERT INTO event_types (type, checksum, coverage, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(type) DO UPDATE SET
			checksum   = excluded.checksum,
			coverage   = excluded.coverage,
			updated_at = excluded.updated_at
	`, st.Type, checksum, string(cov), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("cache: upsert type: %w", err)
	}

	if _, err := tx.Exec(`DELETE FROM events WHERE type = ?`, st.Type); err != nil {
		return fmt.Errorf("cache: clear events: %w", err)
	}
	if len(st.Events) > 0 {
		stmt, err := tx.Prepare(`INSERT INTO events (id, type, kind, time, payload) VALUES (?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("cache: prepare event insert: %w", err)
		}
		defer stmt.Close()
		for _, e := range st.Events {
			payload, err := json.Marshal(e)
			if err != nil {
				return fmt.Errorf("cache: encode event %d: %w", e.ID, err)
			}
			if _, err := stmt.Exec(e.ID, st.Type, string(e.Kind), e.Time.UTC(), string(payload)); err != nil {
				return fmt.Errorf("cache: insert event: %w", err)
			}
		}
	}

	return tx.Commit()
}

// DeleteType removes a type and its events.
func (db *DB) DeleteType(typ string) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("cache: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	_, _ = tx.Exec(`DELETE FROM events WHERE type = ?`, typ)
	_, _ = tx.Exec(`DELETE FROM event_types WHERE type = ?`, typ)

	return tx.Commit()
}

// Checksum returns the stored parameter checksum of a type, or empty string
// if the type is unknown.
func (db *DB) Checksum(typ string) (string, error) {
	var cs string
	err := db.conn.QueryRow(`SELECT checksum FROM event_types WHERE type = ?`, typ).Scan(&cs)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("cache: checksum: %w", err)
	}
	return cs, nil
}

// AllChecksums maps every stored type to its checksum.
func (db *DB) AllChecksums() (map[string]string, error) {
	rows, err := db.conn.Query(`SELECT type, checksum FROM event_types`)
	if err != nil {
		return nil, fmt.Errorf("cache: all checksums: %w", err)
	}
	defer rows.Close()
	out := make(map[string]string)
	for rows.Next() {
		var t, cs string
		if err := rows.Scan(&t, &cs); err != nil {
			return nil, err
		}
		out[t] = cs
	}
	return out, rows.Err()
}

// LoadAll reads every stored type with its events ordered by time.
func (db *DB) LoadAll() ([]eventstore.TypeState, error) {
	rows, err := db.conn.Query(`SELECT type, coverage FROM event_types ORDER BY type`)
	if err != nil {
		return nil, fmt.Errorf("cache: load types: %w", err)
	}
	var states []eventstore.TypeState
	for rows.Next() {
		var st eventstore.TypeState
		var cov string
		if err := rows.Scan(&st.Type, &cov); err != nil {
			rows.Close()
			return nil, err
		}
		if err := json.Unmarshal([]byte(cov), &st.Coverage); err != nil {
			rows.Close()
			return nil, fmt.Errorf("cache: decode coverage of %s: %w", st.Type, err)
		}
		states = append(states, st)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range states {
		evs, err := db.events(states[i].Type)
		if err != nil {
			return nil, err
		}
		states[i].Events = evs
	}
	return states, nil
}

func (db *DB) events(typ string) ([]eventstore.Event, error) {
	rows, err := db.conn.Query(`SELECT payload FROM events WHERE type = ? ORDER BY time, id`, typ)
	if err != nil {
		return nil, fmt.Errorf("cache: load events: %w", err)
	}
	defer rows.Close()
	var out []eventstore.Event
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var e eventstore.Event
		if err := json.Unmarshal([]byte(payload), &e); err != nil {
			return nil, fmt.Errorf("cache: decode event of %s: %w", typ, err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
