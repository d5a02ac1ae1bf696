// Package parser reads chart records: plain YAML files, or Markdown notes
// whose YAML frontmatter holds the chart.
package parser

import (
	"bytes"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/starford/harmonia/internal/models"
)

var tagRe = regexp.MustCompile(`(?:^|\s)#([A-Za-z][A-Za-z0-9_/-]*)`)

// Extensions lists the file suffixes holding chart records.
var Extensions = []string{".yaml", ".yml", ".md"}

// IsChartFile reports whether path has a chart record suffix.
func IsChartFile(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range Extensions {
		if ext == e {
			return true
		}
	}
	return false
}

// Parse decodes the chart stored at path. Markdown bodies become the
// chart's notes and contribute inline #tags.
func Parse(path string, data []byte) (*models.Chart, error) {
	var c models.Chart
	if strings.EqualFold(filepath.Ext(path), ".md") {
		fm, body, ok := splitFrontmatter(data)
		if !ok {
			return nil, fmt.Errorf("parser: %s: no chart frontmatter", path)
		}
		if err := yaml.Unmarshal(fm, &c); err != nil {
			return nil, fmt.Errorf("parser: %s: %w", path, err)
		}
		c.Notes = body
		c.Tags = mergeTags(c.Tags, extractTags(body))
	} else if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parser: %s: %w", path, err)
	}
	c.Path = path
	c.Time = c.Time.UTC()
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("parser: %s: %w", path, err)
	}
	return &c, nil
}

// Render encodes a chart in the format implied by its path.
func Render(c *models.Chart) ([]byte, error) {
	out, err := yaml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("parser: render: %w", err)
	}
	if !strings.EqualFold(filepath.Ext(c.Path), ".md") {
		return out, nil
	}
	var buf bytes.Buffer
	buf.WriteString("---\n")
	buf.Write(out)
	buf.WriteString("---\n")
	buf.WriteString(c.Notes)
	return buf.Bytes(), nil
}

// splitFrontmatter separates YAML frontmatter (between leading --- delimiters)
// from the Markdown body.
func splitFrontmatter(data []byte) ([]byte, string, bool) {
	const delim = "---"
	trimmed := bytes.TrimLeft(data, "\n\r")

	if !bytes.HasPrefix(trimmed, []byte(delim)) {
		return nil, string(data), false
	}

	// Find end delimiter.
	rest := trimmed[len(delim):]
	idx := bytes.Index(rest, []byte("\n"+delim))
	if idx < 0 {
		return nil, string(data), false
	}

	block := rest[:idx]
	afterDelim := rest[idx+1+len(delim):]
	body := strings.TrimLeft(string(afterDelim), "\n\r")
	return block, body, true
}

// extractTags collects inline #tags from a note body.
func extractTags(body string) []string {
	var out []string
	for _, m := range tagRe.FindAllStringSubmatch(body, -1) {
		out = append(out, m[1])
	}
	return out
}

func mergeTags(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	var out []string
	for _, t := range append(append([]string(nil), a...), b...) {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}
