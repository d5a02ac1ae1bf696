package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/starford/harmonia/internal/apperr"
	"github.com/starford/harmonia/internal/aspect"
	"github.com/starford/harmonia/internal/service"
)

// Handler holds API route handlers.
type Handler struct {
	svc *service.Service
}

// NewHandler creates a new Handler.
func NewHandler(svc *service.Service) *Handler {
	return &Handler{svc: svc}
}

// wildcardPath extracts the path after the route prefix.
// Supports encoded slashes from OpenAPI clients (e.g. people%2Fada.yaml).
func wildcardPath(r *http.Request) string {
	raw := strings.TrimPrefix(chi.URLParam(r, "*"), "/")
	if raw == "" {
		return ""
	}
	decoded, err := url.PathUnescape(raw)
	if err != nil {
		return raw
	}
	return decoded
}

// charts reads the chart list from repeated "chart" parameters or a comma
// separated "charts" parameter.
func charts(q url.Values) []string {
	out := append([]string(nil), q["chart"]...)
	if s := q.Get("charts"); s != "" {
		out = append(out, strings.Split(s, ",")...)
	}
	return out
}

func queryTime(q url.Values, key string) (*time.Time, error) {
	s := q.Get(key)
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", key, apperr.ErrInvalidInput)
	}
	return &t, nil
}

func queryInt(q url.Values, key string) (int, error) {
	s := q.Get(key)
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, apperr.ErrInvalidInput)
	}
	return n, nil
}

func queryInts(q url.Values, key string) ([]int, error) {
	s := q.Get(key)
	if s == "" {
		return nil, nil
	}
	var out []int
	for _, part := range strings.Split(s, ",") {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", key, apperr.ErrInvalidInput)
		}
		out = append(out, n)
	}
	return out, nil
}

func queryFloat(q url.Values, key string) (float64, error) {
	s := q.Get(key)
	if s == "" {
		return 0, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, apperr.ErrInvalidInput)
	}
	return f, nil
}

// ListCharts handles GET /api/charts.
//
//	@Summary		List chart records
//	@Tags			charts
//	@Produce		json
//	@Param			tag	query		string	false	"Filter by tag"
//	@Success		200	{object}	ChartListResponse
//	@Security		BearerAuth
//	@Router			/charts [get]
func (h *Handler) ListCharts(w http.ResponseWriter, r *http.Request) {
	all, err := h.svc.ListCharts(r.Context())
	if err != nil {
		writeError(w, "list charts", err)
		return
	}
	tag := r.URL.Query().Get("tag")
	items := all[:0]
	for _, c := range all {
		if tag == "" || hasTag(c.Tags, tag) {
			items = append(items, c)
		}
	}
	writeJSON(w, http.StatusOK, ChartListResponse{Charts: items, Total: len(items)})
}

func hasTag(tags []string, tag string) bool {
	for _, t := range tags {
		if strings.EqualFold(t, tag) {
			return true
		}
	}
	return false
}

// GetChart handles GET /api/charts/*.
//
//	@Summary		Get a single chart by path
//	@Tags			charts
//	@Produce		json
//	@Param			path	path		string	true	"Chart path"
//	@Success		200		{object}	models.Chart
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/charts/{path} [get]
func (h *Handler) GetChart(w http.ResponseWriter, r *http.Request) {
	path := wildcardPath(r)
	if path == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("path is required"))
		return
	}
	ch, err := h.svc.GetChart(r.Context(), path)
	if err != nil {
		writeError(w, "get chart", err)
		return
	}
	writeJSON(w, http.StatusOK, ch)
}

// CreateChart handles POST /api/charts.
//
//	@Summary		Create a new chart record
//	@Tags			charts
//	@Accept			json
//	@Produce		json
//	@Param			body	body		CreateChartRequest	true	"Chart to create"
//	@Success		201		{object}	models.Chart
//	@Failure		400		{object}	errResponse
//	@Failure		409		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/charts [post]
func (h *Handler) CreateChart(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var req CreateChartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	ch, err := h.svc.CreateChart(r.Context(), req.chart())
	if err != nil {
		writeError(w, "create chart", err)
		return
	}
	writeJSON(w, http.StatusCreated, ch)
}

// DeleteChart handles DELETE /api/charts/*.
//
//	@Summary		Delete a chart record and the searches over it
//	@Tags			charts
//	@Param			path	path	string	true	"Chart path"
//	@Success		204		"Chart deleted"
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/charts/{path} [delete]
func (h *Handler) DeleteChart(w http.ResponseWriter, r *http.Request) {
	path := wildcardPath(r)
	if path == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("path is required"))
		return
	}
	if err := h.svc.DeleteChart(r.Context(), path); err != nil {
		writeError(w, "delete chart", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Positions handles GET /api/positions.
//
//	@Summary		Evaluate the bodies of one or more charts
//	@Tags			queries
//	@Produce		json
//	@Param			chart		query		[]string	true	"Chart paths"	collectionFormat(multi)
//	@Param			at			query		string		false	"RFC 3339 instant, defaults to the first chart's time"
//	@Param			harmonic	query		int			false	"Harmonic to project into"
//	@Param			rise		query		bool		false	"Add the next rising and setting of live bodies"
//	@Success		200			{object}	PositionsResponse
//	@Failure		400			{object}	errResponse
//	@Failure		404			{object}	errResponse
//	@Security		BearerAuth
//	@Router			/positions [get]
func (h *Handler) Positions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	at, err := queryTime(q, "at")
	if err != nil {
		writeError(w, "positions", err)
		return
	}
	hn, err := queryInt(q, "harmonic")
	if err != nil {
		writeError(w, "positions", err)
		return
	}
	rise, _ := strconv.ParseBool(q.Get("rise"))
	out, err := h.svc.Positions(r.Context(), service.PositionsQuery{Charts: charts(q), At: at, Harmonic: hn, RiseSet: rise})
	if err != nil {
		writeError(w, "positions", err)
		return
	}
	writeJSON(w, http.StatusOK, PositionsResponse{Positions: out})
}

// Aspects handles GET /api/aspects.
//
//	@Summary		Aspects within one chart or between two
//	@Tags			queries
//	@Produce		json
//	@Param			chart		query		[]string	true	"One or two chart paths"	collectionFormat(multi)
//	@Param			at			query		string		false	"RFC 3339 instant"
//	@Param			set			query		int			false	"Aspect set id"
//	@Param			harmonic	query		int			false	"Harmonic to project into"
//	@Success		200			{object}	AspectsResponse
//	@Failure		400			{object}	errResponse
//	@Failure		404			{object}	errResponse
//	@Security		BearerAuth
//	@Router			/aspects [get]
func (h *Handler) Aspects(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	at, err := queryTime(q, "at")
	if err != nil {
		writeError(w, "aspects", err)
		return
	}
	set, err := queryInt(q, "set")
	if err != nil {
		writeError(w, "aspects", err)
		return
	}
	hn, err := queryInt(q, "harmonic")
	if err != nil {
		writeError(w, "aspects", err)
		return
	}
	out, err := h.svc.Aspects(r.Context(), service.AspectsQuery{Charts: charts(q), At: at, SetID: set, Harmonic: hn})
	if err != nil {
		writeError(w, "aspects", err)
		return
	}
	if out == nil {
		out = []aspect.Aspect{}
	}
	writeJSON(w, http.StatusOK, AspectsResponse{Aspects: out})
}

// Clusters handles GET /api/clusters.
//
//	@Summary		Detect clusters at one instant
//	@Tags			queries
//	@Produce		json
//	@Param			chart		query		[]string	true	"Chart paths"	collectionFormat(multi)
//	@Param			at			query		string		false	"RFC 3339 instant"
//	@Param			harmonics	query		string		false	"Comma separated harmonics"
//	@Param			max_orb		query		number		false	"Maximum spread in projected degrees"
//	@Param			quorum		query		int			false	"Minimum group weight"
//	@Param			focal		query		string		false	"Comma separated required members, e.g. Sun,1:Moon"
//	@Success		200			{object}	ClustersResponse
//	@Failure		400			{object}	errResponse
//	@Failure		404			{object}	errResponse
//	@Security		BearerAuth
//	@Router			/clusters [get]
func (h *Handler) Clusters(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	cq := service.ClustersQuery{Charts: charts(q)}
	var err error
	if cq.At, err = queryTime(q, "at"); err != nil {
		writeError(w, "clusters", err)
		return
	}
	if cq.Harmonics, err = queryInts(q, "harmonics"); err != nil {
		writeError(w, "clusters", err)
		return
	}
	if cq.MaxOrb, err = queryFloat(q, "max_orb"); err != nil {
		writeError(w, "clusters", err)
		return
	}
	if cq.Quorum, err = queryInt(q, "quorum"); err != nil {
		writeError(w, "clusters", err)
		return
	}
	if f := q.Get("focal"); f != "" {
		cq.Focal = strings.Split(f, ",")
	}
	cq.SkipNatalOnly, _ = strconv.ParseBool(q.Get("skip_natal_only"))
	cq.EveryChart, _ = strconv.ParseBool(q.Get("every_chart"))

	out, err := h.svc.Clusters(r.Context(), cq)
	if err != nil {
		writeError(w, "clusters", err)
		return
	}
	writeJSON(w, http.StatusOK, ClustersResponse{Harmonics: out})
}

// Harmonics handles GET /api/harmonics.
//
//	@Summary		Chart-level harmonic table over the quorum/orb ladder
//	@Tags			queries
//	@Produce		json
//	@Param			chart	query		[]string	true	"Chart paths"	collectionFormat(multi)
//	@Param			at		query		string		false	"RFC 3339 instant"
//	@Success		200		{object}	ClustersResponse
//	@Failure		400		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/harmonics [get]
func (h *Handler) Harmonics(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	at, err := queryTime(q, "at")
	if err != nil {
		writeError(w, "harmonics", err)
		return
	}
	out, err := h.svc.Harmonics(r.Context(), service.HarmonicsQuery{Charts: charts(q), At: at})
	if err != nil {
		writeError(w, "harmonics", err)
		return
	}
	writeJSON(w, http.StatusOK, ClustersResponse{Harmonics: out})
}

// AspectSets handles GET /api/aspect-sets.
//
//	@Summary		List the loaded aspect sets
//	@Tags			queries
//	@Produce		json
//	@Success		200	{object}	AspectSetsResponse
//	@Security		BearerAuth
//	@Router			/aspect-sets [get]
func (h *Handler) AspectSets(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, AspectSetsResponse{Sets: h.svc.AspectSets(r.Context())})
}
