package watcher

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/starford/harmonia/internal/storage"
)

type recorder struct {
	mu      sync.Mutex
	changes []string
	reloads int
}

func (r *recorder) ChartChanged(kind, path string) {
	r.mu.Lock()
	r.changes = append(r.changes, kind+":"+path)
	r.mu.Unlock()
}

func (r *recorder) AspectSetsChanged() {
	r.mu.Lock()
	r.reloads++
	r.mu.Unlock()
}

func (r *recorder) has(change string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Contains(r.changes, change)
}

func (r *recorder) count(change string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.changes {
		if c == change {
			n++
		}
	}
	return n
}

func (r *recorder) reloaded() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reloads
}

// eventually polls fn every tick until it returns true or timeout elapses.
func eventually(t *testing.T, timeout, tick time.Duration, fn func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if fn() {
			return
		}
		time.Sleep(tick)
	}
	t.Error(msg)
}

func startWatcher(t *testing.T, seed map[string]string) (string, string, *recorder) {
	t.Helper()
	chartDir, aspectDir := t.TempDir(), t.TempDir()
	for name, data := range seed {
		if err := os.WriteFile(filepath.Join(chartDir, name), []byte(data), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	fs, err := storage.NewFS(chartDir)
	if err != nil {
		t.Fatal(err)
	}
	rec := &recorder{}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go New(fs, chartDir, aspectDir, rec, logger).Run(ctx)
	time.Sleep(100 * time.Millisecond)
	return chartDir, aspectDir, rec
}

func TestWatcher_ChartLifecycle(t *testing.T) {
	dir, _, rec := startWatcher(t, map[string]string{"ada.yaml": "name: Ada\n"})

	_ = os.WriteFile(filepath.Join(dir, "new.yaml"), []byte("name: New\n"), 0o644)
	eventually(t, 5*time.Second, 50*time.Millisecond, func() bool { return rec.has("created:new.yaml") },
		"new chart not reported")

	_ = os.WriteFile(filepath.Join(dir, "ada.yaml"), []byte("name: Ada L\n"), 0o644)
	eventually(t, 5*time.Second, 50*time.Millisecond, func() bool { return rec.has("updated:ada.yaml") },
		"changed chart not reported")

	_ = os.Remove(filepath.Join(dir, "ada.yaml"))
	eventually(t, 5*time.Second, 50*time.Millisecond, func() bool { return rec.has("deleted:ada.yaml") },
		"deleted chart not reported")
}

func TestWatcher_UnchangedWriteIgnored(t *testing.T) {
	dir, _, rec := startWatcher(t, map[string]string{"ada.yaml": "name: Ada\n"})

	_ = os.WriteFile(filepath.Join(dir, "ada.yaml"), []byte("name: Ada\n"), 0o644)
	_ = os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644)
	_ = os.WriteFile(filepath.Join(dir, "marker.yaml"), []byte("name: M\n"), 0o644)
	eventually(t, 5*time.Second, 50*time.Millisecond, func() bool { return rec.has("created:marker.yaml") },
		"marker not reported")
	if rec.count("updated:ada.yaml") != 0 {
		t.Error("identical rewrite reported as update")
	}
}

func TestWatcher_RenameReconciles(t *testing.T) {
	dir, _, rec := startWatcher(t, map[string]string{"old.yaml": "name: Old\n"})

	_ = os.MkdirAll(filepath.Join(dir, "sub"), 0o755)
	_ = os.Rename(filepath.Join(dir, "old.yaml"), filepath.Join(dir, "sub", "moved.yaml"))

	eventually(t, 5*time.Second, 50*time.Millisecond, func() bool { return rec.has("deleted:old.yaml") },
		"old path not reported deleted")
	eventually(t, 5*time.Second, 50*time.Millisecond, func() bool { return rec.has("created:sub/moved.yaml") },
		"moved chart not reported")
}

func TestWatcher_AspectFilesDebounced(t *testing.T) {
	_, aspects, rec := startWatcher(t, nil)

	_ = os.WriteFile(filepath.Join(aspects, "aspect_sets.csv"), []byte("id;name\n"), 0o644)
	_ = os.WriteFile(filepath.Join(aspects, "aspects.csv"), []byte("set;id;name;angle;orb\n"), 0o644)
	_ = os.WriteFile(filepath.Join(aspects, "other.csv"), []byte("x"), 0o644)

	eventually(t, 5*time.Second, 50*time.Millisecond, func() bool { return rec.reloaded() > 0 },
		"aspect reload not triggered")
	time.Sleep(400 * time.Millisecond)
	if n := rec.reloaded(); n != 1 {
		t.Errorf("reloads = %d, want 1", n)
	}
}
