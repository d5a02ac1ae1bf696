// Package testutil provides shared test helpers for setting up chart stores,
// event caches and a predictable sky.
package testutil

import (
	"os"
	"testing"

	"github.com/starford/harmonia/internal/astro"
	"github.com/starford/harmonia/internal/cache"
	"github.com/starford/harmonia/internal/ephemeris"
	"github.com/starford/harmonia/internal/storage"
)

// TestCache creates a temporary SQLite event cache that is automatically
// cleaned up.
func TestCache(t *testing.T) *cache.DB {
	t.Helper()
	dbFile, err := os.CreateTemp("", "harmonia-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	dbFile.Close()
	t.Cleanup(func() { os.Remove(dbFile.Name()) })

	db, err := cache.Open(dbFile.Name())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// TestCharts creates a temporary chart directory with a storage.Provider.
func TestCharts(t *testing.T) (string, storage.Provider) {
	t.Helper()
	dir := t.TempDir()
	store, err := storage.NewFS(dir)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	return dir, store
}

// Sky is a deterministic ephemeris: every body starts at 37 degrees times
// its identifier on 2000-01-01 and moves at its default speed, or one
// degree a day when it has none.
var Sky = ephemeris.Func(func(jd float64, body astro.PlanetID) (astro.Sample, error) {
	speed := body.DefaultSpeed()
	if speed == 0 {
		speed = 1
	}
	d := jd - astro.J2000
	return astro.Sample{Lon: astro.Normalize(37*float64(body) + speed*d), Speed: speed}, nil
})
