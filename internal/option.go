package internal

import (
	"io"

	"github.com/starford/harmonia/internal/astro"
)

// Option is a functional option for configuring the application.
type Option func(*application)

type application struct {
	config *Config
	eph    astro.Ephemeris
	out    io.Writer
}

// WithConfig sets the application configuration.
func WithConfig(cfg *Config) Option {
	return func(a *application) {
		a.config = cfg
	}
}

// WithEphemeris replaces the built-in mean-element ephemeris.
func WithEphemeris(eph astro.Ephemeris) Option {
	return func(a *application) {
		a.eph = eph
	}
}

// WithOutput sets where one-shot commands write their results.
func WithOutput(w io.Writer) Option {
	return func(a *application) {
		a.out = w
	}
}
