// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes Harmonia tools for LLM integration via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/harmonia/internal/eventstore"
	"github.com/starford/harmonia/internal/service"
)

// maxEvents caps the events returned by one list_events call.
const maxEvents = 200

// Server wraps the MCP server with Harmonia tools.
type Server struct {
	mcp *server.MCPServer
	svc *service.Service
}

// New creates a new MCP server with all Harmonia tools registered.
func New(svc *service.Service) *Server {
	s := &Server{svc: svc}

	s.mcp = server.NewMCPServer(
		"Harmonia",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("list_charts",
		mcp.WithDescription("List the stored chart records."),
		mcp.WithString("tag", mcp.Description("Optional tag filter")),
	), s.listCharts)

	s.mcp.AddTool(mcp.NewTool("read_chart",
		mcp.WithDescription("Read one chart record with its checksum."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Chart path (e.g. ada-lovelace.yaml)")),
	), s.readChart)

	s.mcp.AddTool(mcp.NewTool("get_chart_contract",
		mcp.WithDescription("Returns the chart record format. "+
			"Call this before asking a user for birth data."),
	), s.getChartContract)

	s.mcp.AddTool(mcp.NewTool("chart_aspects",
		mcp.WithDescription("Aspects within one chart, or between two charts (synastry)."),
		mcp.WithString("charts", mcp.Required(), mcp.Description("One or two chart paths, comma separated")),
		mcp.WithString("at", mcp.Description("RFC 3339 instant; defaults to the first chart's time")),
		mcp.WithNumber("set", mcp.Description("Aspect set id; defaults to the chart's set")),
		mcp.WithNumber("harmonic", mcp.Description("Harmonic to project positions into")),
	), s.chartAspects)

	s.mcp.AddTool(mcp.NewTool("find_clusters",
		mcp.WithDescription("Find groups of bodies that conjoin in harmonic charts. "+
			"Without harmonics, builds the full harmonic table with the quorum/orb ladder."),
		mcp.WithString("charts", mcp.Required(), mcp.Description("Chart paths, comma separated")),
		mcp.WithString("at", mcp.Description("RFC 3339 instant; defaults to the first chart's time")),
		mcp.WithString("harmonics", mcp.Description("Comma separated harmonics, e.g. 5,7")),
		mcp.WithString("focal", mcp.Description("Bodies every group must contain, e.g. Sun,1:Moon")),
		mcp.WithNumber("quorum", mcp.Description("Minimum group size")),
		mcp.WithNumber("max_orb", mcp.Description("Largest spread in harmonic degrees")),
	), s.findClusters)

	s.mcp.AddTool(mcp.NewTool("search_transits",
		mcp.WithDescription("Search a time range for events and wait for the result. "+
			"Cached ranges are reused; only missing coverage is computed."),
		mcp.WithString("charts", mcp.Required(), mcp.Description("Chart paths, comma separated")),
		mcp.WithString("start", mcp.Required(), mcp.Description("RFC 3339 range start")),
		mcp.WithString("end", mcp.Required(), mcp.Description("RFC 3339 range end")),
		mcp.WithString("kind", mcp.Description("transit (default), aspect, pattern or station")),
		mcp.WithString("harmonics", mcp.Description("Comma separated harmonics searched dynamically")),
		mcp.WithNumber("set", mcp.Description("Aspect set id")),
	), s.searchTransits)

	s.mcp.AddTool(mcp.NewTool("list_events",
		mcp.WithDescription("List the cached events of a search type, optionally within a window."),
		mcp.WithString("type", mcp.Required(), mcp.Description("Search type, as returned by search_transits")),
		mcp.WithString("from", mcp.Description("RFC 3339 window start")),
		mcp.WithString("to", mcp.Description("RFC 3339 window end")),
	), s.listEvents)

	s.mcp.AddResource(
		mcp.NewResource("harmonia://chart-format", "Chart Format",
			mcp.WithResourceDescription("Fields and rules of a chart record."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readChartFormatResource,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(out)), nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func intList(s string) ([]int, error) {
	var out []int
	for _, p := range splitList(s) {
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("%q is not a number", p)
		}
		out = append(out, n)
	}
	return out, nil
}

func optionalTime(req mcp.CallToolRequest, key string) (*time.Time, error) {
	v := req.GetString(key, "")
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", key, err)
	}
	return &t, nil
}

func (s *Server) listCharts(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	charts, err := s.svc.ListCharts(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	tag := req.GetString("tag", "")
	var lines []string
	for _, ch := range charts {
		if tag != "" && !hasTag(ch.Tags, tag) {
			continue
		}
		lines = append(lines, fmt.Sprintf("%s\t%s\t%s", ch.Path, ch.Name, ch.Time.Format(time.RFC3339)))
	}
	if len(lines) == 0 {
		return mcp.NewToolResultText("no charts found"), nil
	}
	return mcp.NewToolResultText(strings.Join(lines, "\n")), nil
}

func hasTag(tags []string, tag string) bool {
	for _, t := range tags {
		if strings.EqualFold(t, tag) {
			return true
		}
	}
	return false
}

func (s *Server) readChart(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	ch, err := s.svc.GetChart(ctx, path)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("not found: %s", path)), nil
	}
	return jsonResult(ch)
}

func (s *Server) getChartContract(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(ChartFormatContract), nil
}

func (s *Server) readChartFormatResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      "harmonia://chart-format",
			MIMEType: "text/markdown",
			Text:     ChartFormatContract,
		},
	}, nil
}

func (s *Server) chartAspects(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	charts, err := req.RequireString("charts")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	at, err := optionalTime(req, "at")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	aspects, err := s.svc.Aspects(ctx, service.AspectsQuery{
		Charts:   splitList(charts),
		At:       at,
		SetID:    req.GetInt("set", 0),
		Harmonic: req.GetInt("harmonic", 0),
	})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(aspects) == 0 {
		return mcp.NewToolResultText("no aspects found"), nil
	}
	return jsonResult(aspects)
}

func (s *Server) findClusters(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	charts, err := req.RequireString("charts")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	at, err := optionalTime(req, "at")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	hs, err := intList(req.GetString("harmonics", ""))
	if err != nil {
		return mcp.NewToolResultError("harmonics: " + err.Error()), nil
	}
	focal := splitList(req.GetString("focal", ""))

	var rows []service.HarmonicGroups
	if len(hs) == 0 && len(focal) == 0 {
		rows, err = s.svc.Harmonics(ctx, service.HarmonicsQuery{Charts: splitList(charts), At: at})
	} else {
		rows, err = s.svc.Clusters(ctx, service.ClustersQuery{
			Charts:    splitList(charts),
			At:        at,
			Harmonics: hs,
			Focal:     focal,
			Quorum:    req.GetInt("quorum", 0),
			MaxOrb:    req.GetFloat("max_orb", 0),
		})
	}
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(rows)
}

func (s *Server) searchTransits(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	charts, err := req.RequireString("charts")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	start, err := optionalTime(req, "start")
	if err != nil || start == nil {
		return mcp.NewToolResultError("start must be an RFC 3339 time"), nil
	}
	end, err := optionalTime(req, "end")
	if err != nil || end == nil {
		return mcp.NewToolResultError("end must be an RFC 3339 time"), nil
	}
	hs, err := intList(req.GetString("harmonics", ""))
	if err != nil {
		return mcp.NewToolResultError("harmonics: " + err.Error()), nil
	}

	job, err := s.svc.StartSearch(ctx, service.SearchRequest{
		Kind:      req.GetString("kind", service.KindTransit),
		Charts:    splitList(charts),
		Start:     *start,
		End:       *end,
		Harmonics: hs,
		SetID:     req.GetInt("set", 0),
	})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	job, err = s.svc.WaitJob(ctx, job.ID)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if job.Status == service.JobFailed {
		return mcp.NewToolResultError(fmt.Sprintf("search %s failed: %s", job.Type, job.Error)), nil
	}
	return jsonResult(job)
}

func (s *Server) listEvents(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	typ, err := req.RequireString("type")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	from, err := optionalTime(req, "from")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	to, err := optionalTime(req, "to")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	var win *eventstore.Range
	switch {
	case from != nil && to != nil:
		r, err := eventstore.NewRange(*from, *to)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		win = &r
	case from != nil || to != nil:
		return mcp.NewToolResultError("from and to must be given together"), nil
	}

	st, err := s.svc.Search(ctx, typ, win)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(st.Events) == 0 {
		return mcp.NewToolResultText("no events found"), nil
	}
	if len(st.Events) > maxEvents {
		st.Events = st.Events[:maxEvents]
	}
	return jsonResult(st.Events)
}
