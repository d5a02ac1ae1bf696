package internal

import (
	"fmt"
	"log/slog"
	"runtime"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/harmonia/internal/astro"
	"github.com/starford/harmonia/internal/harmonic"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// Config represents the application configuration.
type Config struct {
	App       ApplicationConfig `yaml:"app"`
	Charts    ChartsConfig      `yaml:"charts"`
	Aspects   AspectsConfig     `yaml:"aspects"`
	SQLite    SQLiteConfig      `yaml:"sqlite"`
	Auth      AuthConfig        `yaml:"auth"`
	Search    SearchConfig      `yaml:"search"`
	RateLimit RateLimitConfig   `yaml:"rate_limit"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return err
	}
	if err := c.Charts.Validate(); err != nil {
		return err
	}
	if err := c.SQLite.Validate(); err != nil {
		return err
	}
	if err := c.Auth.Validate(); err != nil {
		return err
	}
	if err := c.Search.Validate(); err != nil {
		return fmt.Errorf("search: %w", err)
	}
	return c.RateLimit.Validate()
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level"`
	HTTP     HTTPConfig `yaml:"http"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	return c.HTTP.Validate()
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port int `yaml:"port"`
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

// ChartsConfig holds the path to the chart record directory.
type ChartsConfig struct {
	Path string `yaml:"path"`
}

// Validate validates the charts configuration.
func (c *ChartsConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
}

// AspectsConfig points at the directory holding aspect_sets.csv and
// aspects.csv. An empty path uses the built-in sets.
type AspectsConfig struct {
	Path string `yaml:"path"`
}

// SQLiteConfig holds SQLite database configuration.
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// Validate validates the SQLite configuration.
func (c *SQLiteConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
}

// AuthConfig holds authentication configuration.
//
// Mode controls how authentication is enforced:
//   - "disabled" (default): no authentication required, suitable for local dev.
//   - "token": Bearer token authentication; Token must be non-empty.
type AuthConfig struct {
	Mode  string `yaml:"mode"`
	Token string `yaml:"token"`
}

// Validate validates the auth configuration.
func (c *AuthConfig) Validate() error {
	if c.Mode == "" {
		c.Mode = AuthModeDisabled
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.Required, validation.In(AuthModeDisabled, AuthModeToken)),
	); err != nil {
		return err
	}
	if c.Mode == AuthModeToken && c.Token == "" {
		return fmt.Errorf("auth: mode is %q but token is empty", AuthModeToken)
	}
	return nil
}

// AuthEnabled returns true when authentication is active.
func (c *AuthConfig) AuthEnabled() bool {
	return c.Mode == AuthModeToken
}

// SearchConfig holds the calculation tunables and the search pipeline
// settings.
type SearchConfig struct {
	OrbFactor        float64       `yaml:"orb_factor"`
	MaxHarmonicOrb   float64       `yaml:"max_harmonic_orb"`
	MinQuorum        int           `yaml:"min_quorum"`
	MaxQuorum        int           `yaml:"max_quorum"`
	MinQuorumOrb     float64       `yaml:"min_quorum_orb"`
	MaxQuorumOrb     float64       `yaml:"max_quorum_orb"`
	MaxHarmonic      int           `yaml:"max_harmonic"`
	PrimeFactorLimit int           `yaml:"prime_factor_limit"`
	OvertoneLimit    int           `yaml:"overtone_limit"`
	Harmonics        harmonic.Mask `yaml:"harmonics"`

	IncludeMidpoints bool `yaml:"include_midpoints"`
	IncludeNodes     bool `yaml:"include_nodes"`
	IncludeAngles    bool `yaml:"include_angles"`
	IncludeIngresses bool `yaml:"include_ingresses"`
	RestrictMoon     bool `yaml:"restrict_moon"`
	MoonMaxHarmonic  int  `yaml:"moon_max_harmonic"`
	RequireAnchor    bool `yaml:"require_anchor"`
	ForceMinimize    bool `yaml:"force_minimize"`

	CoincidenceWindow time.Duration `yaml:"coincidence_window"`

	// Workers is the size of the finder pool.
	Workers int `yaml:"workers"`
	// ChunkSize is the stretch of time one finder task covers.
	ChunkSize time.Duration `yaml:"chunk_size"`
	// Step overrides the adaptive finder step, in days.
	Step float64 `yaml:"step"`
	// ProgressInterval throttles progress events per search type.
	ProgressInterval time.Duration `yaml:"progress_interval"`
}

// Validate validates the search configuration.
func (c *SearchConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.OrbFactor, validation.Required, validation.Min(0.01), validation.Max(10.0)),
		validation.Field(&c.MaxHarmonicOrb, validation.Required, validation.Min(0.1), validation.Max(30.0)),
		validation.Field(&c.MinQuorum, validation.Required, validation.Min(2)),
		validation.Field(&c.MaxQuorum, validation.Required, validation.Min(c.MinQuorum)),
		validation.Field(&c.MinQuorumOrb, validation.Required, validation.Min(0.01)),
		validation.Field(&c.MaxQuorumOrb, validation.Required, validation.Min(c.MinQuorumOrb)),
		validation.Field(&c.MaxHarmonic, validation.Required, validation.Min(1), validation.Max(360)),
		validation.Field(&c.PrimeFactorLimit, validation.Min(0)),
		validation.Field(&c.OvertoneLimit, validation.Min(0)),
		validation.Field(&c.MoonMaxHarmonic, validation.Min(0)),
		validation.Field(&c.CoincidenceWindow, validation.Min(time.Duration(0))),
		validation.Field(&c.Workers, validation.Required, validation.Min(1), validation.Max(256)),
		validation.Field(&c.ChunkSize, validation.Required, validation.Min(time.Hour)),
		validation.Field(&c.Step, validation.Min(0.0)),
	)
}

// Options converts the section into the snapshot calculations run under.
func (c *SearchConfig) Options() astro.Options {
	return astro.Options{
		OrbFactor:         c.OrbFactor,
		MaxHarmonicOrb:    c.MaxHarmonicOrb,
		MinQuorum:         c.MinQuorum,
		MaxQuorum:         c.MaxQuorum,
		MinQuorumOrb:      c.MinQuorumOrb,
		MaxQuorumOrb:      c.MaxQuorumOrb,
		MaxHarmonic:       c.MaxHarmonic,
		PrimeFactorLimit:  c.PrimeFactorLimit,
		OvertoneLimit:     c.OvertoneLimit,
		Harmonics:         c.Harmonics,
		IncludeMidpoints:  c.IncludeMidpoints,
		IncludeNodes:      c.IncludeNodes,
		IncludeAngles:     c.IncludeAngles,
		IncludeIngresses:  c.IncludeIngresses,
		RestrictMoon:      c.RestrictMoon,
		MoonMaxHarmonic:   c.MoonMaxHarmonic,
		RequireAnchor:     c.RequireAnchor,
		ForceMinimize:     c.ForceMinimize,
		CoincidenceWindow: c.CoincidenceWindow,
	}
}

func defaultSearchConfig() SearchConfig {
	o := astro.DefaultOptions()
	return SearchConfig{
		OrbFactor:         o.OrbFactor,
		MaxHarmonicOrb:    o.MaxHarmonicOrb,
		MinQuorum:         o.MinQuorum,
		MaxQuorum:         o.MaxQuorum,
		MinQuorumOrb:      o.MinQuorumOrb,
		MaxQuorumOrb:      o.MaxQuorumOrb,
		MaxHarmonic:       o.MaxHarmonic,
		PrimeFactorLimit:  o.PrimeFactorLimit,
		OvertoneLimit:     o.OvertoneLimit,
		Harmonics:         o.Harmonics,
		IncludeMidpoints:  o.IncludeMidpoints,
		IncludeNodes:      o.IncludeNodes,
		IncludeAngles:     o.IncludeAngles,
		IncludeIngresses:  o.IncludeIngresses,
		RestrictMoon:      o.RestrictMoon,
		MoonMaxHarmonic:   o.MoonMaxHarmonic,
		RequireAnchor:     o.RequireAnchor,
		ForceMinimize:     o.ForceMinimize,
		CoincidenceWindow: o.CoincidenceWindow,
		Workers:           runtime.NumCPU(),
		ChunkSize:         30 * 24 * time.Hour,
		ProgressInterval:  2 * time.Second,
	}
}

// RateLimitConfig throttles search submissions. A zero rate disables the
// limit.
type RateLimitConfig struct {
	PerSecond float64 `yaml:"per_second"`
	Burst     int     `yaml:"burst"`
}

// Validate validates the rate limit configuration.
func (c *RateLimitConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.PerSecond, validation.Min(0.0)),
		validation.Field(&c.Burst, validation.When(c.PerSecond > 0, validation.Required, validation.Min(1))),
	)
}

// Enabled reports whether submissions are throttled.
func (c *RateLimitConfig) Enabled() bool {
	return c.PerSecond > 0
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			HTTP: HTTPConfig{
				Port: 8080,
			},
		},
		Charts: ChartsConfig{
			Path: "./charts",
		},
		SQLite: SQLiteConfig{
			Path: "./harmonia.db",
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
		Search: defaultSearchConfig(),
		RateLimit: RateLimitConfig{
			PerSecond: 1,
			Burst:     5,
		},
	}
}
