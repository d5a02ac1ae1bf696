package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"github.com/starford/harmonia/internal/apperr"
	"github.com/starford/harmonia/internal/eventstore"
)

// window reads the optional from/to pair limiting a search request.
func window(q url.Values) (*eventstore.Range, error) {
	from, err := queryTime(q, "from")
	if err != nil {
		return nil, err
	}
	to, err := queryTime(q, "to")
	if err != nil {
		return nil, err
	}
	if from == nil && to == nil {
		return nil, nil
	}
	if from == nil || to == nil {
		return nil, fmt.Errorf("from and to go together: %w", apperr.ErrInvalidInput)
	}
	r, err := eventstore.NewRange(*from, *to)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// StartSearch handles POST /api/searches.
//
//	@Summary		Search a time range for aspects, transits, patterns or stations
//	@Description	Only the parts of the range not yet cached are computed. The job runs in the background; follow it at /jobs/{id} or on the event stream.
//	@Tags			searches
//	@Accept			json
//	@Produce		json
//	@Param			body	body		StartSearchRequest	true	"Search to start"
//	@Success		202		{object}	JobResponse
//	@Failure		400		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Failure		409		{object}	errResponse
//	@Failure		429		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/searches [post]
func (h *Handler) StartSearch(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var req StartSearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	job, err := h.svc.StartSearch(r.Context(), req)
	if err != nil {
		writeError(w, "start search", err)
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}

// ListSearches handles GET /api/searches.
//
//	@Summary		List cached event types
//	@Tags			searches
//	@Produce		json
//	@Success		200	{object}	SearchListResponse
//	@Security		BearerAuth
//	@Router			/searches [get]
func (h *Handler) ListSearches(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, SearchListResponse{Types: h.svc.Searches(r.Context())})
}

// GetSearch handles GET /api/searches/*.
//
//	@Summary		Coverage, jobs and events of one event type
//	@Tags			searches
//	@Produce		json
//	@Param			type	path		string	true	"Event type, e.g. transit:ada.yaml"
//	@Param			from	query		string	false	"RFC 3339 window start"
//	@Param			to		query		string	false	"RFC 3339 window end"
//	@Success		200		{object}	SearchResponse
//	@Failure		400		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/searches/{type} [get]
func (h *Handler) GetSearch(w http.ResponseWriter, r *http.Request) {
	typ := wildcardPath(r)
	if typ == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("type is required"))
		return
	}
	win, err := window(r.URL.Query())
	if err != nil {
		writeError(w, "get search", err)
		return
	}
	st, err := h.svc.Search(r.Context(), typ, win)
	if err != nil {
		writeError(w, "get search", err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// DeleteSearch handles DELETE /api/searches/*.
//
//	@Summary		Forget a cached event type, or one window of it
//	@Tags			searches
//	@Param			type	path	string	true	"Event type"
//	@Param			from	query	string	false	"RFC 3339 window start"
//	@Param			to		query	string	false	"RFC 3339 window end"
//	@Success		204		"Search cleared"
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/searches/{type} [delete]
func (h *Handler) DeleteSearch(w http.ResponseWriter, r *http.Request) {
	typ := wildcardPath(r)
	if typ == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("type is required"))
		return
	}
	win, err := window(r.URL.Query())
	if err != nil {
		writeError(w, "delete search", err)
		return
	}
	if err := h.svc.ClearSearch(r.Context(), typ, win); err != nil {
		writeError(w, "delete search", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetJob handles GET /api/jobs/{id}.
//
//	@Summary		State of a search job
//	@Tags			searches
//	@Produce		json
//	@Param			id	path		string	true	"Job id"
//	@Success		200	{object}	JobResponse
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/jobs/{id} [get]
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.svc.GetJob(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, "get job", err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}
