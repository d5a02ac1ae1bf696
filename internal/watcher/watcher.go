// Package watcher follows the chart and aspect-set directories and tells a
// Handler when their contents change.
package watcher

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/starford/harmonia/internal/aspect"
	"github.com/starford/harmonia/internal/checksum"
	"github.com/starford/harmonia/internal/observability"
	"github.com/starford/harmonia/internal/parser"
	"github.com/starford/harmonia/internal/storage"
)

const debounce = 200 * time.Millisecond

// Change kinds passed to Handler.ChartChanged.
const (
	Created = "created"
	Updated = "updated"
	Deleted = "deleted"
)

// Handler reacts to watched changes. Calls come from the watcher goroutine
// one at a time.
type Handler interface {
	ChartChanged(kind, path string)
	AspectSetsChanged()
}

// Watcher tracks chart checksums so that a write leaving a file unchanged
// is not reported.
type Watcher struct {
	charts     storage.Provider
	chartRoot  string
	aspectRoot string
	handler    Handler
	logger     *slog.Logger
	known      map[string]string
}

// New creates a watcher over chartRoot (served by charts) and, when not
// empty, aspectRoot.
func New(charts storage.Provider, chartRoot, aspectRoot string, h Handler, logger *slog.Logger) *Watcher {
	return &Watcher{
		charts:     charts,
		chartRoot:  chartRoot,
		aspectRoot: aspectRoot,
		handler:    h,
		logger:     logger,
		known:      map[string]string{},
	}
}

// Run processes file events until ctx is cancelled.
//
// New chart directories created at runtime are added to the watch list.
// Renames and bursts of aspect file writes are debounced into a single
// reconciliation or reload.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()

	if err := addDirsRecursive(fw, w.chartRoot); err != nil {
		return err
	}
	chartRoot, _ := filepath.Abs(w.chartRoot)
	var aspectRoot string
	if w.aspectRoot != "" {
		aspectRoot, _ = filepath.Abs(w.aspectRoot)
		if err := fw.Add(aspectRoot); err != nil {
			return err
		}
	}
	w.snapshot()
	w.logger.Info("watcher: started", slog.String("charts", chartRoot), slog.String("aspects", aspectRoot))

	reconcile := newDebouncer()
	reload := newDebouncer()
	defer reconcile.stop()
	defer reload.stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("watcher: stopped")
			return nil

		case <-reconcile.C():
			w.reconcile()

		case <-reload.C():
			observability.WatcherEventsTotal.WithLabelValues("aspects").Inc()
			w.logger.Info("watcher: aspect sets changed")
			w.handler.AspectSetsChanged()

		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			abs, _ := filepath.Abs(ev.Name)

			if aspectRoot != "" && filepath.Dir(abs) == aspectRoot {
				if base := filepath.Base(abs); base == aspect.SetsFile || base == aspect.AspectsFile {
					reload.schedule()
				}
				continue
			}

			if ev.Op&fsnotify.Create != 0 {
				if info, statErr := os.Stat(abs); statErr == nil && info.IsDir() {
					if addErr := addDirsRecursive(fw, abs); addErr != nil {
						w.logger.Warn("watcher: add new dir failed",
							slog.String("path", abs),
							slog.String("error", addErr.Error()))
					}
					// files may have landed before the directory was watched
					reconcile.schedule()
					continue
				}
			}

			if strings.HasPrefix(filepath.Base(abs), ".") || !parser.IsChartFile(abs) {
				continue
			}
			rel, relErr := filepath.Rel(chartRoot, abs)
			if relErr != nil {
				continue
			}
			rel = filepath.ToSlash(rel)

			switch {
			case ev.Op&(fsnotify.Create|fsnotify.Write) != 0:
				w.touch(rel)
			case ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
				// a rename reports the old path only; the new one arrives as
				// a Create, stragglers are caught by reconciliation
				if _, ok := w.known[rel]; ok {
					delete(w.known, rel)
					w.emit(Deleted, rel)
				}
				if ev.Op&fsnotify.Rename != 0 {
					reconcile.schedule()
				}
			}

		case watchErr, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("watcher: error", slog.String("error", watchErr.Error()))
		}
	}
}

func (w *Watcher) snapshot() {
	metas, err := w.charts.List("")
	if err != nil {
		w.logger.Warn("watcher: list failed", slog.String("error", err.Error()))
		return
	}
	for _, m := range metas {
		w.known[m.Path] = m.Checksum
	}
}

// touch reports rel when its content differs from what was last seen.
func (w *Watcher) touch(rel string) {
	data, err := w.charts.Read(rel)
	if err != nil {
		w.logger.Debug("watcher: read failed", slog.String("path", rel), slog.String("error", err.Error()))
		return
	}
	sum := checksum.Sum(data)
	old, seen := w.known[rel]
	if seen && old == sum {
		return
	}
	w.known[rel] = sum
	if seen {
		w.emit(Updated, rel)
	} else {
		w.emit(Created, rel)
	}
}

// reconcile compares the remembered checksums with the disk.
func (w *Watcher) reconcile() {
	metas, err := w.charts.List("")
	if err != nil {
		w.logger.Warn("reconcile: list failed", slog.String("error", err.Error()))
		return
	}
	disk := make(map[string]string, len(metas))
	for _, m := range metas {
		disk[m.Path] = m.Checksum
	}
	for p := range w.known {
		if _, ok := disk[p]; !ok {
			delete(w.known, p)
			w.emit(Deleted, p)
		}
	}
	for p, cs := range disk {
		old, ok := w.known[p]
		if ok && old == cs {
			continue
		}
		w.known[p] = cs
		if ok {
			w.emit(Updated, p)
		} else {
			w.emit(Created, p)
		}
	}
}

func (w *Watcher) emit(kind, rel string) {
	observability.WatcherEventsTotal.WithLabelValues(kind).Inc()
	w.logger.Debug("watcher: chart changed", slog.String("path", rel), slog.String("op", kind))
	w.handler.ChartChanged(kind, rel)
}

// addDirsRecursive adds root and all its subdirectories to the watcher.
func addDirsRecursive(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.Add(path)
		}
		return nil
	})
}

// debouncer is a resettable timer whose channel is nil until first armed.
type debouncer struct {
	t *time.Timer
}

func newDebouncer() *debouncer { return &debouncer{} }

func (d *debouncer) schedule() {
	if d.t == nil {
		d.t = time.NewTimer(debounce)
		return
	}
	d.t.Reset(debounce)
}

func (d *debouncer) C() <-chan time.Time {
	if d.t == nil {
		return nil
	}
	return d.t.C
}

func (d *debouncer) stop() {
	if d.t != nil {
		d.t.Stop()
	}
}
