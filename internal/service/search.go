package service

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/starford/harmonia/internal/apperr"
	"github.com/starford/harmonia/internal/aspect"
	"github.com/starford/harmonia/internal/astro"
	"github.com/starford/harmonia/internal/cache"
	"github.com/starford/harmonia/internal/checksum"
	"github.com/starford/harmonia/internal/cluster"
	"github.com/starford/harmonia/internal/eventstore"
	"github.com/starford/harmonia/internal/finder"
	"github.com/starford/harmonia/internal/models"
	"github.com/starford/harmonia/internal/sse"
)

// Search kinds.
const (
	KindAspect  = "aspect"
	KindTransit = "transit"
	KindPattern = "pattern"
	KindStation = "station"
)

// Job states.
const (
	JobRunning = "running"
	JobDone    = "done"
	JobFailed  = "failed"
)

// maxJobs bounds how many finished jobs are remembered.
const maxJobs = 256

// SearchRequest starts a search over a time range.
type SearchRequest struct {
	Kind      string    `json:"kind"`
	Charts    []string  `json:"charts"`
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
	Harmonics []int     `json:"harmonics,omitempty"`
	// SetID selects an aspect set. Zero with harmonics given searches
	// every harmonic dynamically; zero without uses the chart's set.
	SetID int `json:"set_id,omitempty"`
	// Quorum and MaxOrb tune pattern searches.
	Quorum int     `json:"quorum,omitempty"`
	MaxOrb float64 `json:"max_orb,omitempty"`
	// Mode forces merge or pare. Empty picks merge when the parameters of
	// a cached type changed.
	Mode string `json:"mode,omitempty"`
}

// Job is the progress of one search request.
type Job struct {
	ID         string           `json:"id"`
	Type       string           `json:"type"`
	Kind       string           `json:"kind"`
	Range      eventstore.Range `json:"range"`
	Mode       string           `json:"mode"`
	Status     string           `json:"status"`
	Chunks     int              `json:"chunks"`
	Finished   int              `json:"finished"`
	Events     int              `json:"events"`
	Error      string           `json:"error,omitempty"`
	StartedAt  time.Time        `json:"started_at"`
	FinishedAt time.Time        `json:"finished_at,omitzero"`
}

// jobState is a job as tracked by the service. Job fields are guarded by
// Service.mu.
type jobState struct {
	Job
	finished atomic.Int64
	done     chan struct{}
}

func (j *jobState) snapshot() Job {
	out := j.Job
	out.Finished = int(j.finished.Load())
	return out
}

// params is what a type's checksum is computed from.
type params struct {
	Kind      string        `json:"kind"`
	Charts    []string      `json:"charts"`
	Sums      []string      `json:"sums"`
	Harmonics []int         `json:"harmonics"`
	Set       *aspect.Set   `json:"set,omitempty"`
	Quorum    int           `json:"quorum,omitempty"`
	MaxOrb    float64       `json:"max_orb,omitempty"`
	Step      float64       `json:"step,omitempty"`
	Options   astro.Options `json:"options"`
}

// plan is a validated search ready to be scheduled.
type plan struct {
	typ    string
	params params
	build  func(c finder.Chunk) finder.Task
}

// StartSearch schedules the parts of req not yet covered and returns the
// job tracking them. A request already covered completes at once.
func (s *Service) StartSearch(_ context.Context, req SearchRequest) (Job, error) {
	r, err := eventstore.NewRange(req.Start.UTC(), req.End.UTC())
	if err != nil {
		return Job{}, err
	}
	pl, err := s.plan(req)
	if err != nil {
		return Job{}, err
	}
	sum, err := checksum.Of(pl.params)
	if err != nil {
		return Job{}, err
	}

	s.mu.Lock()
	for _, j := range s.jobs {
		if j.Type == pl.typ && j.Status == JobRunning {
			s.mu.Unlock()
			return Job{}, fmt.Errorf("search %s is running: %w", pl.typ, apperr.ErrConflict)
		}
	}
	mode := eventstore.Pare
	if old, ok := s.sums[pl.typ]; ok && old != sum {
		mode = eventstore.Merge
	}
	if req.Mode != "" {
		if mode, err = eventstore.ParseMode(req.Mode); err != nil {
			s.mu.Unlock()
			return Job{}, fmt.Errorf("%w: %w", apperr.ErrInvalidInput, err)
		}
	}
	scope, err := s.store.GetUpdateScope(pl.typ, r, mode)
	if err != nil {
		s.mu.Unlock()
		return Job{}, err
	}
	job := &jobState{
		Job: Job{
			ID:        uuid.NewString(),
			Type:      pl.typ,
			Kind:      req.Kind,
			Range:     r,
			Mode:      mode.String(),
			Status:    JobRunning,
			StartedAt: s.now().UTC(),
		},
		done: make(chan struct{}),
	}
	s.jobs[job.ID] = job
	s.pruneJobsLocked()
	s.mu.Unlock()

	if scope.Noop {
		s.logger.Info("search already covered", slog.String("type", pl.typ), slog.String("range", r.String()))
		s.complete(job, scope.Events, sum, nil)
		return s.jobSnapshot(job), nil
	}

	var tasks []finder.Task
	for _, res := range scope.Residual {
		for _, c := range res.Split(s.cfg.ChunkSize) {
			t := pl.build(finder.Chunk{Range: c, Events: scope.Events})
			tasks = append(tasks, &progressTask{Task: t, job: job, svc: s})
		}
	}
	s.mu.Lock()
	job.Chunks = len(tasks)
	s.mu.Unlock()

	s.logger.Info("search started",
		slog.String("job", job.ID),
		slog.String("type", pl.typ),
		slog.String("mode", job.Mode),
		slog.Int("chunks", len(tasks)))

	batch, err := s.pool.Submit(tasks...)
	if err != nil {
		s.unclaim(pl.typ, scope.Residual)
		s.complete(job, scope.Events, sum, err)
		return s.jobSnapshot(job), err
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.finish(job, batch, scope, sum)
	}()
	return s.jobSnapshot(job), nil
}

// plan validates req and prepares the finder factory.
func (s *Service) plan(req SearchRequest) (plan, error) {
	o := s.cfg.Options
	charts, err := s.loadCharts(req.Charts)
	if err != nil {
		return plan{}, err
	}
	for _, h := range req.Harmonics {
		if !o.ValidHarmonic(h) {
			return plan{}, fmt.Errorf("harmonic %d: %w", h, apperr.ErrInvalidHarmonic)
		}
	}
	pl := plan{
		typ: typeKey(req.Kind, req.Charts),
		params: params{
			Kind:      req.Kind,
			Charts:    req.Charts,
			Harmonics: req.Harmonics,
			Step:      s.cfg.Step,
			Options:   o,
		},
	}
	for _, ch := range charts {
		pl.params.Sums = append(pl.params.Sums, ch.Checksum)
	}

	switch req.Kind {
	case KindAspect, KindTransit:
		set, err := s.searchSet(req, charts[0], o)
		if err != nil {
			return plan{}, err
		}
		pl.params.Set = set
		hs := req.Harmonics
		if req.Kind == KindAspect {
			if len(charts) > 2 {
				return plan{}, fmt.Errorf("aspect searches take one or two charts: %w", apperr.ErrInvalidInput)
			}
			left := astro.BuildProfile(s.eph, charts[0].Input(0), o, s.logger)
			var right astro.Profile
			if len(charts) == 2 {
				right = astro.BuildProfile(s.eph, charts[1].Input(1), o, s.logger)
			}
			pl.build = func(c finder.Chunk) finder.Task {
				return &finder.AspectFinder{Chunk: c, Left: left, Right: right, Harmonics: hs, Set: set, Options: o, Step: s.cfg.Step}
			}
			return pl, nil
		}
		natal := s.profile(charts, o)
		transits := s.sky(len(charts), charts[0], o)
		pl.build = func(c finder.Chunk) finder.Task {
			f := finder.NewTransitFinder(c, natal, transits, hs, set, o)
			f.Step = s.cfg.Step
			return f
		}
	case KindPattern:
		hs := req.Harmonics
		if len(hs) == 0 {
			hs = cluster.SearchHarmonics(o)
		}
		q := cluster.Query{
			Harmonics:     hs,
			Quorum:        req.Quorum,
			MaxOrb:        req.MaxOrb,
			SkipNatalOnly: true,
			RestrictMoon:  o.RestrictMoon,
			ForceMinimize: o.ForceMinimize,
		}
		if q.Quorum == 0 {
			q.Quorum = max(2, o.MinQuorum)
		}
		if q.MaxOrb <= 0 {
			q.MaxOrb = o.MaxQuorumOrb
		}
		pl.params.Harmonics, pl.params.Quorum, pl.params.MaxOrb = hs, q.Quorum, q.MaxOrb
		p := append(s.profile(charts, o), s.sky(len(charts), charts[0], o)...)
		pl.build = func(c finder.Chunk) finder.Task {
			return &finder.PatternFinder{Chunk: c, Profile: p, Query: q, Options: o, Step: s.cfg.Step}
		}
	case KindStation:
		p := s.sky(0, charts[0], o)
		pl.build = func(c finder.Chunk) finder.Task {
			return &finder.StationFinder{Chunk: c, Profile: p}
		}
	default:
		return plan{}, fmt.Errorf("search kind %q: %w", req.Kind, apperr.ErrInvalidInput)
	}
	return pl, nil
}

// searchSet picks the aspect set of an aspect or transit search. A nil set
// means the dynamic per-harmonic search.
func (s *Service) searchSet(req SearchRequest, ch *models.Chart, o astro.Options) (*aspect.Set, error) {
	if req.SetID == 0 && len(req.Harmonics) > 0 {
		return nil, nil
	}
	set, err := s.aspectSet(req.SetID, ch, o)
	if err != nil {
		return nil, err
	}
	return &set, nil
}

// progressTask counts finished chunks of a job.
type progressTask struct {
	finder.Task
	job *jobState
	svc *Service
}

func (t *progressTask) Run(ctx context.Context) error {
	err := t.Task.Run(ctx)
	t.job.finished.Add(1)
	if t.svc.pub != nil {
		t.svc.pub.PublishProgress(t.job.Type, t.svc.jobSnapshot(t.job))
	}
	return err
}

// finish waits for the finder batch, links coincidences across chunk
// borders and persists the result.
func (s *Service) finish(job *jobState, batch *finder.Batch, scope eventstore.Scope, sum string) {
	<-batch.Done()
	if err := batch.Err(); err != nil {
		s.unclaim(job.Type, scope.Residual)
		s.complete(job, scope.Events, sum, err)
		return
	}
	if w := s.cfg.Options.CoincidenceWindow; w > 0 {
		tasks := make([]finder.Task, 0, len(scope.Residual))
		for _, r := range scope.Residual {
			tasks = append(tasks, &finder.CoincidenceFinder{
				Chunk:  finder.Chunk{Range: r, Events: scope.Events},
				Window: w,
				Logger: s.logger,
			})
		}
		cb, err := s.pool.Submit(tasks...)
		if err == nil {
			<-cb.Done()
			err = cb.Err()
		}
		if err != nil {
			s.logger.Warn("coincidence pass failed", slog.String("type", job.Type), slog.Any("error", err))
		}
	}
	s.complete(job, scope.Events, sum, nil)
}

// unclaim removes ranges a failed search had recorded as covered.
func (s *Service) unclaim(typ string, ranges []eventstore.Range) {
	for _, r := range ranges {
		if err := s.store.ClearRange(typ, r); err != nil {
			s.logger.Error("coverage rollback failed", slog.String("type", typ), slog.Any("error", err))
		}
	}
}

func (s *Service) complete(job *jobState, events *eventstore.EventList, sum string, err error) {
	if err == nil {
		s.mu.Lock()
		s.sums[job.Type] = sum
		s.mu.Unlock()
		if s.db != nil {
			if serr := cache.Save(s.db, s.store, job.Type, sum, s.logger); serr != nil {
				s.logger.Error("event cache save failed", slog.String("type", job.Type), slog.Any("error", serr))
			}
		}
	}

	s.mu.Lock()
	job.FinishedAt = s.now().UTC()
	if events != nil {
		job.Events = events.Len()
	}
	job.Status = JobDone
	if err != nil {
		job.Status = JobFailed
		job.Error = err.Error()
	}
	snap := job.snapshot()
	close(job.done)
	s.mu.Unlock()

	if err != nil {
		s.logger.Error("search failed", slog.String("job", job.ID), slog.String("type", job.Type), slog.Any("error", err))
	} else {
		s.logger.Info("search finished",
			slog.String("job", job.ID),
			slog.String("type", job.Type),
			slog.Int("events", snap.Events),
			slog.Duration("took", snap.FinishedAt.Sub(snap.StartedAt)))
	}
	if s.pub != nil {
		s.pub.Publish(sse.Event{Type: "search." + snap.Status, Data: snap})
	}
}

func (s *Service) jobSnapshot(j *jobState) Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	return j.snapshot()
}

func (s *Service) pruneJobsLocked() {
	if len(s.jobs) <= maxJobs {
		return
	}
	var old []*jobState
	for _, j := range s.jobs {
		if j.Status != JobRunning {
			old = append(old, j)
		}
	}
	sort.Slice(old, func(a, b int) bool { return old[a].StartedAt.Before(old[b].StartedAt) })
	for _, j := range old[:max(0, min(len(old), len(s.jobs)-maxJobs))] {
		delete(s.jobs, j.ID)
	}
}

// GetJob returns the state of a job.
func (s *Service) GetJob(_ context.Context, id string) (Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return Job{}, fmt.Errorf("job %s: %w", id, apperr.ErrNotFound)
	}
	return j.snapshot(), nil
}

// WaitJob blocks until the job finishes or ctx ends.
func (s *Service) WaitJob(ctx context.Context, id string) (Job, error) {
	s.mu.Lock()
	j, ok := s.jobs[id]
	s.mu.Unlock()
	if !ok {
		return Job{}, fmt.Errorf("job %s: %w", id, apperr.ErrNotFound)
	}
	select {
	case <-j.done:
	case <-ctx.Done():
		return Job{}, ctx.Err()
	}
	return s.jobSnapshot(j), nil
}

// SearchState is what is cached for one event type.
type SearchState struct {
	Type     string             `json:"type"`
	Checksum string             `json:"checksum,omitempty"`
	Coverage []eventstore.Range `json:"coverage"`
	Jobs     []Job              `json:"jobs,omitempty"`
	Events   []eventstore.Event `json:"events"`
}

// Search returns the cached state of typ. A non-nil r limits the events to
// that window.
func (s *Service) Search(_ context.Context, typ string, r *eventstore.Range) (SearchState, error) {
	if r != nil && !r.Valid() {
		return SearchState{}, fmt.Errorf("window %s: %w", r, apperr.ErrInvalidRange)
	}
	st := SearchState{Type: typ, Coverage: s.store.Coverage(typ)}
	s.mu.Lock()
	st.Checksum = s.sums[typ]
	for _, j := range s.jobs {
		if j.Type == typ {
			st.Jobs = append(st.Jobs, j.snapshot())
		}
	}
	s.mu.Unlock()
	sort.Slice(st.Jobs, func(a, b int) bool { return st.Jobs[a].StartedAt.Before(st.Jobs[b].StartedAt) })

	list := s.store.Events(typ)
	if list == nil && len(st.Jobs) == 0 {
		return SearchState{}, fmt.Errorf("search %s: %w", typ, apperr.ErrNotFound)
	}
	st.Events = []eventstore.Event{}
	if list != nil {
		if r != nil {
			st.Events = list.In(*r)
		} else {
			st.Events = list.Snapshot()
		}
	}
	return st, nil
}

// Searches lists the cached event types.
func (s *Service) Searches(_ context.Context) []string {
	return s.store.Types()
}

// ClearSearch forgets typ, or only the window r of it.
func (s *Service) ClearSearch(_ context.Context, typ string, r *eventstore.Range) error {
	if s.store.Events(typ) == nil {
		return fmt.Errorf("search %s: %w", typ, apperr.ErrNotFound)
	}
	if r == nil {
		s.store.Clear(typ)
		s.forget(typ)
		return nil
	}
	if err := s.store.ClearRange(typ, *r); err != nil {
		return err
	}
	if s.db != nil {
		s.mu.Lock()
		sum := s.sums[typ]
		s.mu.Unlock()
		return cache.Save(s.db, s.store, typ, sum, s.logger)
	}
	return nil
}
