package astro

import (
	"time"

	"github.com/starford/harmonia/internal/harmonic"
)

// Options is the tuning snapshot a computation runs under. It is passed by
// value so that an episode started with one snapshot never observes later
// edits.
type Options struct {
	// OrbFactor scales every orb.
	OrbFactor float64 `json:"orb_factor" yaml:"orb_factor"`
	// MaxHarmonicOrb is the conjunction orb at harmonic 1; harmonic h gets
	// MaxHarmonicOrb / h.
	MaxHarmonicOrb float64 `json:"max_harmonic_orb" yaml:"max_harmonic_orb"`

	MinQuorum    int     `json:"min_quorum" yaml:"min_quorum"`
	MaxQuorum    int     `json:"max_quorum" yaml:"max_quorum"`
	MinQuorumOrb float64 `json:"min_quorum_orb" yaml:"min_quorum_orb"`
	MaxQuorumOrb float64 `json:"max_quorum_orb" yaml:"max_quorum_orb"`

	MaxHarmonic      int           `json:"max_harmonic" yaml:"max_harmonic"`
	PrimeFactorLimit int           `json:"prime_factor_limit" yaml:"prime_factor_limit"`
	OvertoneLimit    int           `json:"overtone_limit" yaml:"overtone_limit"`
	Harmonics        harmonic.Mask `json:"harmonics" yaml:"harmonics"`

	IncludeMidpoints bool `json:"include_midpoints" yaml:"include_midpoints"`
	IncludeNodes     bool `json:"include_nodes" yaml:"include_nodes"`
	IncludeAngles    bool `json:"include_angles" yaml:"include_angles"`
	IncludeIngresses bool `json:"include_ingresses" yaml:"include_ingresses"`

	RestrictMoon    bool `json:"restrict_moon" yaml:"restrict_moon"`
	MoonMaxHarmonic int  `json:"moon_max_harmonic" yaml:"moon_max_harmonic"`
	RequireAnchor   bool `json:"require_anchor" yaml:"require_anchor"`
	ForceMinimize   bool `json:"force_minimize" yaml:"force_minimize"`

	// CoincidenceWindow is how close two events must be to count as
	// coinciding.
	CoincidenceWindow time.Duration `json:"coincidence_window" yaml:"coincidence_window"`
}

// DefaultOptions returns the stock tuning.
func DefaultOptions() Options {
	return Options{
		OrbFactor:         1,
		MaxHarmonicOrb:    16,
		MinQuorum:         2,
		MaxQuorum:         6,
		MinQuorumOrb:      1,
		MaxQuorumOrb:      8,
		MaxHarmonic:       32,
		PrimeFactorLimit:  0,
		OvertoneLimit:     0,
		Harmonics:         harmonic.AllEnabled,
		IncludeNodes:      true,
		MoonMaxHarmonic:   8,
		RestrictMoon:      true,
		CoincidenceWindow: 24 * time.Hour,
	}
}

// HarmonicOrb is the conjunction orb allowed in harmonic h.
func (o Options) HarmonicOrb(h int) float64 {
	if h < 1 {
		h = 1
	}
	return o.MaxHarmonicOrb / float64(h) * o.OrbFactor
}

// ValidHarmonic reports whether h can be searched under o.
func (o Options) ValidHarmonic(h int) bool {
	return h >= 1 && h <= o.MaxHarmonic
}
