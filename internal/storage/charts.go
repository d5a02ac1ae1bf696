package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path"
	"regexp"
	"sort"
	"strings"

	"github.com/starford/harmonia/internal/apperr"
	"github.com/starford/harmonia/internal/checksum"
	"github.com/starford/harmonia/internal/models"
	"github.com/starford/harmonia/internal/parser"
)

var slugRe = regexp.MustCompile(`[^a-z0-9]+`)

// Charts reads and writes chart records through a Provider.
type Charts struct {
	p      Provider
	logger *slog.Logger
}

// NewCharts wraps p.
func NewCharts(p Provider, logger *slog.Logger) *Charts {
	if logger == nil {
		logger = slog.Default()
	}
	return &Charts{p: p, logger: logger}
}

// Load parses the chart at path.
func (c *Charts) Load(p string) (*models.Chart, error) {
	data, err := c.p.Read(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("chart %s: %w", p, apperr.ErrNotFound)
		}
		return nil, err
	}
	ch, err := parser.Parse(p, data)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", apperr.ErrInvalidInput, err)
	}
	ch.Checksum = checksum.Sum(data)
	return ch, nil
}

// All parses every chart record, sorted by path. Unreadable records are
// logged and skipped.
func (c *Charts) All() ([]*models.Chart, error) {
	metas, err := c.p.List("")
	if err != nil {
		return nil, err
	}
	out := make([]*models.Chart, 0, len(metas))
	for _, m := range metas {
		ch, err := c.Load(m.Path)
		if err != nil {
			c.logger.Warn("skipping chart", slog.String("path", m.Path), slog.String("error", err.Error()))
			continue
		}
		ch.Checksum = m.Checksum
		ch.UpdatedAt = m.UpdatedAt
		out = append(out, ch)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

// Save validates and writes ch. An empty path is derived from the name.
// With overwrite false an existing record is an ErrAlreadyExists.
func (c *Charts) Save(ch *models.Chart, overwrite bool) error {
	if err := ch.Validate(); err != nil {
		return fmt.Errorf("%w: %w", apperr.ErrInvalidInput, err)
	}
	if ch.Path == "" {
		ch.Path = Slug(ch.Name) + ".yaml"
	}
	if !parser.IsChartFile(ch.Path) {
		return fmt.Errorf("chart path %q: %w", ch.Path, apperr.ErrInvalidInput)
	}
	if !overwrite {
		if _, err := c.p.Read(ch.Path); err == nil {
			return fmt.Errorf("chart %s: %w", ch.Path, apperr.ErrAlreadyExists)
		}
	}
	data, err := parser.Render(ch)
	if err != nil {
		return err
	}
	return c.p.Write(ch.Path, data)
}

// Delete removes the chart at path.
func (c *Charts) Delete(p string) error {
	if _, err := c.p.Read(p); err != nil {
		return fmt.Errorf("chart %s: %w", p, apperr.ErrNotFound)
	}
	return c.p.Delete(p)
}

// Slug turns a chart name into a file name stem.
func Slug(name string) string {
	s := strings.Trim(slugRe.ReplaceAllString(strings.ToLower(name), "-"), "-")
	if s == "" {
		s = "chart"
	}
	return path.Clean(s)
}
