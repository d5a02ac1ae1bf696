package api

import (
	"time"

	"github.com/starford/harmonia/internal/aspect"
	"github.com/starford/harmonia/internal/models"
	"github.com/starford/harmonia/internal/service"
)

// CreateChartRequest is the request body for creating a chart record.
type CreateChartRequest struct {
	Path      string          `json:"path,omitempty" example:"people/ada.yaml"`
	Name      string          `json:"name" example:"Ada Lovelace" validate:"required"`
	Time      time.Time       `json:"time" example:"1815-12-10T13:00:00Z" validate:"required"`
	Location  models.Location `json:"location"`
	Type      string          `json:"type,omitempty" example:"natal"`
	AspectSet int             `json:"aspect_set,omitempty" example:"1"`
	Harmonic  int             `json:"harmonic,omitempty" example:"5"`
	Tags      []string        `json:"tags,omitempty"`
	Notes     string          `json:"notes,omitempty"`
}

func (r CreateChartRequest) chart() *models.Chart {
	return &models.Chart{
		Path:      r.Path,
		Name:      r.Name,
		Time:      r.Time,
		Location:  r.Location,
		Type:      r.Type,
		AspectSet: r.AspectSet,
		Harmonic:  r.Harmonic,
		Tags:      r.Tags,
		Notes:     r.Notes,
	}
}

// ChartListResponse wraps chart listings.
type ChartListResponse struct {
	Charts []*models.Chart `json:"charts" validate:"required"`
	Total  int             `json:"total" example:"42" validate:"required"`
}

// PositionsResponse wraps evaluated bodies.
type PositionsResponse struct {
	Positions []service.BodyPosition `json:"positions" validate:"required"`
}

// AspectsResponse wraps matched aspects.
type AspectsResponse struct {
	Aspects []aspect.Aspect `json:"aspects" validate:"required"`
}

// ClustersResponse wraps a cluster table, one row per harmonic.
type ClustersResponse struct {
	Harmonics []service.HarmonicGroups `json:"harmonics" validate:"required"`
}

// AspectSetsResponse wraps the loaded aspect sets.
type AspectSetsResponse struct {
	Sets []aspect.Set `json:"sets" validate:"required"`
}

// StartSearchRequest is the request body for starting a search (aliased
// from the domain layer).
type StartSearchRequest = service.SearchRequest

// JobResponse is a search job (aliased from the domain layer).
type JobResponse = service.Job

// SearchResponse is the cached state of one event type.
type SearchResponse = service.SearchState

// SearchListResponse lists the cached event types.
type SearchListResponse struct {
	Types []string `json:"types" validate:"required"`
}
