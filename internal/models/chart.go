// Package models defines the domain types for chart records.
package models

import (
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/harmonia/internal/astro"
)

// Chart types.
const (
	TypeNatal      = "natal"
	TypeTransit    = "transit"
	TypeProgressed = "progressed"
)

// Location is where a chart is cast.
type Location struct {
	Place string  `json:"place,omitempty" yaml:"place,omitempty"`
	Lon   float64 `json:"lon" yaml:"lon"`
	Lat   float64 `json:"lat" yaml:"lat"`
	Alt   float64 `json:"alt,omitempty" yaml:"alt,omitempty"`
}

// Observer converts the location for the ephemeris.
func (l Location) Observer() astro.Observer {
	return astro.Observer{Lon: l.Lon, Lat: l.Lat, Alt: l.Alt}
}

// Chart is a stored birth or event record.
type Chart struct {
	Path      string    `json:"path" yaml:"-"`
	Name      string    `json:"name" yaml:"name"`
	Time      time.Time `json:"time" yaml:"time"`
	Location  Location  `json:"location" yaml:"location"`
	Type      string    `json:"type" yaml:"type,omitempty"`
	AspectSet int       `json:"aspect_set,omitempty" yaml:"aspect_set,omitempty"`
	Harmonic  int       `json:"harmonic,omitempty" yaml:"harmonic,omitempty"`
	Tags      []string  `json:"tags,omitempty" yaml:"tags,omitempty"`
	Notes     string    `json:"notes,omitempty" yaml:"-"`
	Checksum  string    `json:"checksum" yaml:"-"`
	UpdatedAt time.Time `json:"updated_at" yaml:"-"`
}

// Validate checks the record.
func (c Chart) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Name, validation.Required, validation.Length(1, 200)),
		validation.Field(&c.Time, validation.Required),
		validation.Field(&c.Location),
		validation.Field(&c.Type, validation.In(TypeNatal, TypeTransit, TypeProgressed)),
		validation.Field(&c.Harmonic, validation.Min(0), validation.Max(360)),
	)
}

// Validate checks the coordinates.
func (l Location) Validate() error {
	return validation.ValidateStruct(&l,
		validation.Field(&l.Lon, validation.Min(-180.0), validation.Max(180.0)),
		validation.Field(&l.Lat, validation.Min(-90.0), validation.Max(90.0)),
	)
}

// Mode maps the record type to a chart mode. An empty type is natal.
func (c Chart) Mode() astro.ChartMode {
	m, _ := astro.ParseChartMode(strings.ToLower(c.Type))
	return m
}

// Input builds the profile input of the chart at index idx.
func (c Chart) Input(idx int) astro.ChartInput {
	return astro.ChartInput{Index: idx, Time: c.Time, Observer: c.Location.Observer(), Mode: c.Mode()}
}

// ChartMetadata is a lightweight representation returned by list operations.
type ChartMetadata struct {
	Path      string    `json:"path"`
	Checksum  string    `json:"checksum"`
	UpdatedAt time.Time `json:"updated_at"`
}
