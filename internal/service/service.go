// Package service coordinates chart records, the calculation packages and
// the search pipeline behind the HTTP and MCP surfaces.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/starford/harmonia/internal/apperr"
	"github.com/starford/harmonia/internal/aspect"
	"github.com/starford/harmonia/internal/astro"
	"github.com/starford/harmonia/internal/cache"
	"github.com/starford/harmonia/internal/eventstore"
	"github.com/starford/harmonia/internal/finder"
	"github.com/starford/harmonia/internal/models"
	"github.com/starford/harmonia/internal/sse"
	"github.com/starford/harmonia/internal/storage"
	"github.com/starford/harmonia/internal/watcher"
)

// Publisher receives change notifications for connected clients.
type Publisher interface {
	Publish(e sse.Event)
	PublishChartEvent(kind, path string)
	PublishNotification(n eventstore.Notification)
	PublishProgress(typ string, data any)
}

// Config tunes searches.
type Config struct {
	Options astro.Options
	// ChunkSize is the length of time one finder task covers.
	ChunkSize time.Duration
	// Step overrides the adaptive finder step, in days. Zero keeps it.
	Step float64
	// AspectDir is reloaded when aspect set files change. Empty means the
	// built-in sets.
	AspectDir string
}

// Service is the application layer.
type Service struct {
	charts   *storage.Charts
	eph      astro.Ephemeris
	registry *aspect.Registry
	store    *eventstore.Store
	pool     *finder.Pool
	cfg      Config

	db     cache.EventCache
	pub    Publisher
	logger *slog.Logger
	now    func() time.Time

	mu   sync.Mutex
	jobs map[string]*jobState
	// sums holds the parameter checksum each cached type was computed with.
	sums map[string]string
	wg   sync.WaitGroup
}

var _ watcher.Handler = (*Service)(nil)

// Option configures a Service.
type Option func(*Service)

// WithCache persists searches to db. sums are the checksums restored with
// the cache.
func WithCache(db cache.EventCache, sums map[string]string) Option {
	return func(s *Service) {
		s.db = db
		for k, v := range sums {
			s.sums[k] = v
		}
	}
}

// WithPublisher forwards chart, store and search changes to p.
func WithPublisher(p Publisher) Option {
	return func(s *Service) { s.pub = p }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// New creates the service. The pool must be running for searches to make
// progress.
func New(charts *storage.Charts, eph astro.Ephemeris, registry *aspect.Registry, store *eventstore.Store, pool *finder.Pool, cfg Config, opts ...Option) *Service {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 30 * 24 * time.Hour
	}
	s := &Service{
		charts:   charts,
		eph:      eph,
		registry: registry,
		store:    store,
		pool:     pool,
		cfg:      cfg,
		logger:   slog.Default(),
		now:      time.Now,
		jobs:     make(map[string]*jobState),
		sums:     make(map[string]string),
	}
	for _, o := range opts {
		o(s)
	}
	if s.pub != nil {
		store.Subscribe(s.pub.PublishNotification)
	}
	return s
}

// Options returns the tuning snapshot searches start with.
func (s *Service) Options() astro.Options { return s.cfg.Options }

// Close waits for running searches to settle.
func (s *Service) Close() {
	s.wg.Wait()
}

// ListCharts returns every readable chart record.
func (s *Service) ListCharts(_ context.Context) ([]*models.Chart, error) {
	return s.charts.All()
}

// GetChart returns one chart record.
func (s *Service) GetChart(_ context.Context, path string) (*models.Chart, error) {
	return s.charts.Load(path)
}

// CreateChart stores a new chart record.
func (s *Service) CreateChart(_ context.Context, ch *models.Chart) (*models.Chart, error) {
	if err := s.charts.Save(ch, false); err != nil {
		return nil, err
	}
	s.ChartChanged(watcher.Created, ch.Path)
	return s.charts.Load(ch.Path)
}

// DeleteChart removes a chart record and every search involving it.
func (s *Service) DeleteChart(_ context.Context, path string) error {
	if err := s.charts.Delete(path); err != nil {
		return err
	}
	s.ChartChanged(watcher.Deleted, path)
	return nil
}

// ChartChanged drops cached searches over the chart at path. Creating a
// chart cannot invalidate anything.
func (s *Service) ChartChanged(kind, path string) {
	if kind != watcher.Created {
		for _, typ := range s.store.Types() {
			if !typeInvolves(typ, path) {
				continue
			}
			s.store.Clear(typ)
			s.forget(typ)
			s.logger.Info("search invalidated", slog.String("type", typ), slog.String("chart", path))
		}
	}
	if s.pub != nil {
		s.pub.PublishChartEvent(kind, path)
	}
}

// AspectSetsChanged reloads the aspect set files.
func (s *Service) AspectSetsChanged() {
	if s.cfg.AspectDir == "" {
		return
	}
	if err := s.registry.Reload(s.cfg.AspectDir); err != nil {
		s.logger.Error("aspect sets reload failed", slog.String("dir", s.cfg.AspectDir), slog.Any("error", err))
		return
	}
	s.logger.Info("aspect sets reloaded", slog.Int("sets", len(s.registry.List())))
	if s.pub != nil {
		s.pub.Publish(sse.Event{Type: "aspect_sets.reloaded", Data: map[string]int{"sets": len(s.registry.List())}})
	}
}

// forget drops the checksum and cached rows of a cleared type.
func (s *Service) forget(typ string) {
	s.mu.Lock()
	delete(s.sums, typ)
	s.mu.Unlock()
	if s.db != nil {
		if err := s.db.DeleteType(typ); err != nil {
			s.logger.Error("event cache delete failed", slog.String("type", typ), slog.Any("error", err))
		}
	}
}

func (s *Service) loadCharts(paths []string) ([]*models.Chart, error) {
	if len(paths) == 0 {
		return nil, fmt.Errorf("no chart given: %w", apperr.ErrInvalidInput)
	}
	if len(paths) > 8 {
		return nil, fmt.Errorf("%d charts, at most 8: %w", len(paths), apperr.ErrInvalidInput)
	}
	out := make([]*models.Chart, len(paths))
	for i, p := range paths {
		ch, err := s.charts.Load(p)
		if err != nil {
			return nil, err
		}
		out[i] = ch
	}
	return out, nil
}

// profile builds the positions of charts, indexed in order.
func (s *Service) profile(charts []*models.Chart, o astro.Options) astro.Profile {
	var p astro.Profile
	for i, ch := range charts {
		p = append(p, astro.BuildProfile(s.eph, ch.Input(i), o, s.logger)...)
	}
	return p
}

// sky is the live transit chart at the location of ch.
func (s *Service) sky(idx int, ch *models.Chart, o astro.Options) astro.Profile {
	in := astro.ChartInput{Index: idx, Time: ch.Time, Observer: ch.Location.Observer(), Mode: astro.ModeTransit}
	return astro.BuildProfile(s.eph, in, o, s.logger)
}

// instant is the time a query is evaluated at: the requested time, or the
// time of the first chart.
func instant(charts []*models.Chart, at *time.Time) float64 {
	if at != nil && !at.IsZero() {
		return astro.JulianDay(*at)
	}
	return astro.JulianDay(charts[0].Time)
}

func typeKey(kind string, charts []string) string {
	return kind + ":" + strings.Join(charts, "|")
}

func typeInvolves(typ, path string) bool {
	_, rest, ok := strings.Cut(typ, ":")
	if !ok {
		return false
	}
	for _, p := range strings.Split(rest, "|") {
		if p == path {
			return true
		}
	}
	return false
}

// parseMember reads "Sun" (first chart) or "1:Sun".
func parseMember(s string) (astro.ChartPlanetID, error) {
	chart := 0
	name := s
	if c, n, ok := strings.Cut(s, ":"); ok {
		if _, err := fmt.Sscanf(c, "%d", &chart); err != nil || chart < 0 {
			return astro.ChartPlanetID{}, fmt.Errorf("member %q: %w", s, apperr.ErrInvalidInput)
		}
		name = n
	}
	p, ok := astro.ParsePlanet(name)
	if !ok {
		return astro.ChartPlanetID{}, fmt.Errorf("member %q: %w", s, apperr.ErrInvalidInput)
	}
	return astro.NewChartPlanetID(chart, p), nil
}

// IsClientError reports whether err stems from a bad request.
func IsClientError(err error) bool {
	for _, e := range []error{
		apperr.ErrInvalidInput, apperr.ErrInvalidRange, apperr.ErrInvalidHarmonic,
		apperr.ErrUnknownAspectSet,
	} {
		if errors.Is(err, e) {
			return true
		}
	}
	return false
}
