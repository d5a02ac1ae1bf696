package mcpserver

// ChartFormatContract describes the chart record format that LLM consumers
// should follow when creating charts.
const ChartFormatContract = `# Harmonia Chart Format

A chart record is a YAML file (` + "`" + `.yaml` + "`" + `/` + "`" + `.yml` + "`" + `) or a Markdown note
whose YAML frontmatter holds the same fields.

## Fields

` + "```" + `yaml
name: Ada Lovelace          # REQUIRED
time: 1815-12-10T13:00:00Z  # REQUIRED, RFC 3339; stored in UTC
location:
  place: London             # OPTIONAL
  lon: -0.1276              # degrees east, -180..180
  lat: 51.5072              # degrees north, -90..90
type: natal                 # natal (default) | transit | progressed
aspect_set: 1               # OPTIONAL aspect set id, default set when absent
harmonic: 5                 # OPTIONAL harmonic used by aspect queries
tags:
  - family
` + "```" + `

## Rules

1. Chart paths are derived from the name when omitted (` + "`" + `Ada Lovelace` + "`" + ` becomes
   ` + "`" + `ada-lovelace.yaml` + "`" + `).
2. Markdown bodies become the chart notes; inline #tags are merged into ` + "`" + `tags` + "`" + `.
3. Editing or deleting a chart forgets every cached search over it.
4. Bodies are addressed as ` + "`" + `Sun` + "`" + ` (first chart) or ` + "`" + `1:Sun` + "`" + ` (second chart)
   when a tool takes focal members.
`
