package finder

import (
	"context"

	"github.com/starford/harmonia/internal/astro"
	"github.com/starford/harmonia/internal/eventstore"
)

const stationStep = 1.0

// StationFinder reports the moments a body's apparent speed changes sign.
type StationFinder struct {
	Chunk
	Profile astro.Profile
	Step    float64
}

func (f *StationFinder) Kind() string { return "station" }

func (f *StationFinder) Run(ctx context.Context) error {
	found, err := f.findStations(ctx)
	if err != nil {
		return err
	}
	f.Events.Append(found...)
	return nil
}

// stations reports whether p can turn retrograde at all.
func stations(p astro.Position) bool {
	id := p.ID()
	if !p.Live() || !id.IsSolo() || !id.Planet.IsPlanet() {
		return false
	}
	switch id.Planet {
	case astro.Sun, astro.Moon, astro.NorthNode, astro.SouthNode:
		return false
	}
	return true
}

func (f *StationFinder) findStations(ctx context.Context) ([]eventstore.Event, error) {
	start, end := f.bounds()
	step := f.Step
	if step <= 0 {
		step = stationStep
	}
	var found []eventstore.Event
	for _, p := range f.Profile {
		if !stations(p) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		speed := func(jd float64) float64 { return p.At(jd, 1).Speed }
		for _, jd := range crossings(speed, start, end, step) {
			loc := p.At(jd, 1)
			// speed is still positive just before a retrograde station
			retro := speed(jd-precision) > 0
			label := "station direct"
			if retro {
				label = "station retrograde"
			}
			found = append(found, eventstore.Event{
				Kind:       eventstore.KindStation,
				Time:       f.clamp(astro.TimeOf(jd)),
				Harmonic:   1,
				Aspect:     label,
				Retrograde: retro,
				Members:    []astro.ChartPlanetID{p.ID()},
				Locations:  []astro.PlanetLoc{{ID: p.ID(), Loc: loc, Live: true}},
			})
		}
	}
	return found, nil
}
