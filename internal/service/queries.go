package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/starford/harmonia/internal/apperr"
	"github.com/starford/harmonia/internal/aspect"
	"github.com/starford/harmonia/internal/astro"
	"github.com/starford/harmonia/internal/cluster"
	"github.com/starford/harmonia/internal/ephemeris"
	"github.com/starford/harmonia/internal/harmonic"
	"github.com/starford/harmonia/internal/models"
	"github.com/starford/harmonia/internal/observability"
)

// BodyPosition is one body of a positions response.
type BodyPosition struct {
	ID         astro.ChartPlanetID `json:"id"`
	Name       string              `json:"name"`
	Lon        float64             `json:"lon"`
	Speed      float64             `json:"speed"`
	Retrograde bool                `json:"retrograde"`
	Live       bool                `json:"live"`
	Rise       *time.Time          `json:"rise,omitempty"`
	Set        *time.Time          `json:"set,omitempty"`
}

// PositionsQuery selects charts and an instant.
type PositionsQuery struct {
	Charts   []string
	At       *time.Time
	Harmonic int
	// RiseSet adds the next rising and setting of each live solo body.
	RiseSet bool
}

// Positions evaluates the bodies of the requested charts.
func (s *Service) Positions(ctx context.Context, q PositionsQuery) ([]BodyPosition, error) {
	charts, err := s.loadCharts(q.Charts)
	if err != nil {
		return nil, err
	}
	o := s.cfg.Options
	h, err := s.harmonicOf(q.Harmonic, o)
	if err != nil {
		return nil, err
	}
	jd := instant(charts, q.At)
	p := s.profile(charts, o)
	out := make([]BodyPosition, 0, len(p))
	for _, pos := range p {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		loc := pos.At(jd, h)
		bp := BodyPosition{
			ID:         pos.ID(),
			Name:       pos.ID().Name(),
			Lon:        loc.Lon,
			Speed:      loc.Speed,
			Retrograde: loc.Retrograde(),
			Live:       pos.Live(),
		}
		if q.RiseSet && pos.Live() && pos.ID().IsSolo() && pos.ID().Planet.IsPlanet() {
			obs := charts[pos.ID().Chart].Location.Observer()
			bp.Rise = s.nextTransit(jd, pos.ID().Planet, obs, ephemeris.Rise)
			bp.Set = s.nextTransit(jd, pos.ID().Planet, obs, ephemeris.Set)
		}
		out = append(out, bp)
	}
	return out, nil
}

func (s *Service) nextTransit(jd float64, body astro.PlanetID, obs astro.Observer, c ephemeris.Circle) *time.Time {
	t, err := ephemeris.NextTransit(s.eph, jd, body, obs, c)
	if err != nil {
		s.logger.Debug("no transit found",
			slog.String("body", body.Name()),
			slog.String("circle", c.String()),
			slog.Any("error", err))
		return nil
	}
	at := astro.TimeOf(t)
	return &at
}

// AspectsQuery selects one chart for its inner aspects, or two for the
// aspects between them.
type AspectsQuery struct {
	Charts   []string
	At       *time.Time
	SetID    int
	Harmonic int
}

// Aspects lists the aspects of one chart, or across two charts.
func (s *Service) Aspects(_ context.Context, q AspectsQuery) ([]aspect.Aspect, error) {
	if len(q.Charts) > 2 {
		return nil, fmt.Errorf("aspects take one or two charts: %w", apperr.ErrInvalidInput)
	}
	charts, err := s.loadCharts(q.Charts)
	if err != nil {
		return nil, err
	}
	o := s.cfg.Options
	set, err := s.aspectSet(q.SetID, charts[0], o)
	if err != nil {
		return nil, err
	}
	h := q.Harmonic
	if h == 0 {
		h = charts[0].Harmonic
	}
	if h, err = s.harmonicOf(h, o); err != nil {
		return nil, err
	}
	jd := instant(charts, q.At)
	left := astro.BuildProfile(s.eph, charts[0].Input(0), o, s.logger).Locs(jd, h)
	if len(charts) == 1 {
		return aspect.Pairs(left, set, o), nil
	}
	right := astro.BuildProfile(s.eph, charts[1].Input(1), o, s.logger).Locs(jd, h)
	return aspect.Between(left, right, set, o), nil
}

// ClustersQuery parameterises a single cluster detection.
type ClustersQuery struct {
	Charts    []string
	At        *time.Time
	Harmonics []int
	MaxOrb    float64
	Quorum    int
	// Focal members must all be part of a group. "Sun" names the body of
	// the first chart, "1:Sun" that of the second.
	Focal         []string
	SkipNatalOnly bool
	EveryChart    bool
}

// HarmonicGroups is the cluster table of one harmonic.
type HarmonicGroups struct {
	Harmonic  int             `json:"harmonic"`
	Overtones []int           `json:"overtones,omitempty"`
	Groups    []cluster.Entry `json:"groups"`
}

// Clusters runs the cluster detector once at the query instant.
func (s *Service) Clusters(_ context.Context, q ClustersQuery) ([]HarmonicGroups, error) {
	charts, err := s.loadCharts(q.Charts)
	if err != nil {
		return nil, err
	}
	o := s.cfg.Options
	var focal []astro.ChartPlanetID
	for _, f := range q.Focal {
		id, err := parseMember(f)
		if err != nil {
			return nil, err
		}
		if id.Chart >= len(charts) {
			return nil, fmt.Errorf("member %q: no chart %d: %w", f, id.Chart, apperr.ErrInvalidInput)
		}
		focal = append(focal, id)
	}
	hs := q.Harmonics
	if len(hs) == 0 {
		hs = cluster.SearchHarmonics(o)
	}
	for _, h := range hs {
		if !o.ValidHarmonic(h) {
			return nil, fmt.Errorf("harmonic %d: %w", h, apperr.ErrInvalidHarmonic)
		}
	}
	query := cluster.Query{
		Harmonics:     hs,
		Quorum:        q.Quorum,
		MaxOrb:        q.MaxOrb,
		Required:      cluster.NewSet(focal...),
		SkipNatalOnly: q.SkipNatalOnly,
		RestrictMoon:  o.RestrictMoon,
		ForceMinimize: o.ForceMinimize,
		EveryChart:    q.EveryChart,
	}
	if query.Quorum == 0 {
		query.Quorum = max(2, len(focal))
	}
	if query.MaxOrb <= 0 {
		query.MaxOrb = o.MaxQuorumOrb
	}

	start := time.Now()
	table := cluster.FindClusters(s.profile(charts, o), instant(charts, q.At), query, o)
	observability.ClusterDuration.WithLabelValues("single").Observe(time.Since(start).Seconds())
	return s.rows(table, o), nil
}

// HarmonicsQuery selects charts for the harmonic table.
type HarmonicsQuery struct {
	Charts []string
	At     *time.Time
}

// Harmonics builds the chart-level harmonic table with the quorum/orb
// ladder.
func (s *Service) Harmonics(ctx context.Context, q HarmonicsQuery) ([]HarmonicGroups, error) {
	charts, err := s.loadCharts(q.Charts)
	if err != nil {
		return nil, err
	}
	o := s.cfg.Options
	start := time.Now()
	table, err := cluster.FindHarmonics(ctx, s.profile(charts, o), instant(charts, q.At), o)
	if err != nil {
		return nil, err
	}
	observability.ClusterDuration.WithLabelValues("ladder").Observe(time.Since(start).Seconds())
	return s.rows(table, o), nil
}

func (s *Service) rows(t cluster.Table, o astro.Options) []HarmonicGroups {
	out := make([]HarmonicGroups, 0, len(t))
	for _, h := range t.Harmonics() {
		out = append(out, HarmonicGroups{
			Harmonic:  h,
			Overtones: harmonic.Overtones(h, o.OvertoneLimit),
			Groups:    t[h].Sorted(),
		})
	}
	return out
}

// AspectSets lists the loaded aspect sets.
func (s *Service) AspectSets(_ context.Context) []aspect.Set {
	return s.registry.List()
}

// aspectSet resolves id, falling back to the chart's own set and then to the
// default set.
func (s *Service) aspectSet(id int, ch *models.Chart, o astro.Options) (aspect.Set, error) {
	if id == 0 && ch != nil {
		id = ch.AspectSet
	}
	if id == 0 {
		return s.registry.Default(), nil
	}
	return s.registry.Get(id, o)
}

func (s *Service) harmonicOf(h int, o astro.Options) (int, error) {
	if h == 0 {
		return 1, nil
	}
	if !o.ValidHarmonic(h) {
		return 0, fmt.Errorf("harmonic %d: %w", h, apperr.ErrInvalidHarmonic)
	}
	return h, nil
}
