package api

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/starford/mnemo/internal/apperr"
	"github.com/starford/mnemo/internal/capture"
	"github.com/starford/mnemo/internal/models"
	"github.com/starford/mnemo/internal/privacy"
	"github.com/starford/mnemo/internal/retrieval"
	"github.com/starford/mnemo/internal/service"
	"github.com/starford/mnemo/internal/settings"
	"github.com/starford/mnemo/internal/store"
)

// Handler holds API route handlers.
type Handler struct {
	svc *service.Service
}

// NewHandler creates a new Handler.
func NewHandler(svc *service.Service) *Handler {
	return &Handler{svc: svc}
}

// Capture handles POST /api/capture.
//
//	@Summary		Capture one activity event
//	@Tags			capture
//	@Accept			json
//	@Produce		json
//	@Param			body	body		CaptureRequest	true	"Event to capture"
//	@Success		200		{object}	capture.Outcome
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/capture [post]
func (h *Handler) Capture(w http.ResponseWriter, r *http.Request) {
	var req CaptureRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, "capture", err)
		return
	}
	ev := capture.Event{
		Content: req.Content,
		Source:  req.SourceType,
		Context: req.Context,
	}
	if req.Timestamp != nil {
		ev.Timestamp = *req.Timestamp
	}
	// Capture never fails the request; the outcome carries the status.
	writeJSON(w, http.StatusOK, h.svc.Capture(r.Context(), ev))
}

// Search handles GET /api/search.
//
//	@Summary		Search the history
//	@Tags			search
//	@Produce		json
//	@Param			q		query		string	true	"Query text"
//	@Param			mode	query		string	false	"Search mode"	Enums(literal, semantic, auto)
//	@Param			source	query		string	false	"Comma-separated source types"
//	@Param			limit	query		int		false	"Maximum results"
//	@Param			cwd		query		string	false	"Boost entries captured in or near this directory"
//	@Param			since	query		string	false	"RFC3339 lower bound, inclusive"
//	@Param			until	query		string	false	"RFC3339 upper bound, exclusive"
//	@Param			window	query		string	false	"Named window"	Enums(today, yesterday, week, month)
//	@Success		200		{object}	service.SearchResponse
//	@Failure		400		{object}	service.SearchResponse
//	@Security		BearerAuth
//	@Router			/search [get]
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	q, err := parseQuery(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, &service.SearchResponse{
			Status:  service.StatusFailed,
			Query:   q,
			Results: []retrieval.Result{},
			Error:   err.Error(),
		})
		return
	}
	resp, err := h.svc.Search(r.Context(), q)
	if err != nil {
		writeJSON(w, statusFor(err), resp)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func parseQuery(r *http.Request) (retrieval.Query, error) {
	v := r.URL.Query()
	q := retrieval.Query{Text: v.Get("q")}
	if q.Text == "" {
		q.Text = v.Get("query")
	}
	mode, err := retrieval.ParseMode(v.Get("mode"))
	if err != nil {
		return q, err
	}
	q.Mode = mode
	sources, err := parseSources(v["source"])
	if err != nil {
		return q, err
	}
	q.Sources = sources
	if s := v.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			return q, fmt.Errorf("invalid limit %q: %w", s, apperr.ErrInvalidInput)
		}
		q.Limit = n
	}
	q.Cwd = v.Get("cwd")
	if q.Since, err = parseTime(v.Get("since")); err != nil {
		return q, err
	}
	if q.Until, err = parseTime(v.Get("until")); err != nil {
		return q, err
	}
	if err := q.SetWindow(v.Get("window"), time.Now()); err != nil {
		return q, err
	}
	return q, nil
}

// parseSources accepts repeated and comma-separated source parameters.
func parseSources(values []string) ([]models.SourceType, error) {
	var out []models.SourceType
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			src, err := models.ParseSourceType(part)
			if err != nil {
				return nil, fmt.Errorf("%v: %w", err, apperr.ErrInvalidInput)
			}
			out = append(out, src)
		}
	}
	return out, nil
}

// Ask handles POST /api/ask.
//
//	@Summary		Answer a question from the history
//	@Tags			ask
//	@Accept			json
//	@Produce		json
//	@Param			body	body		AskRequest	true	"Question"
//	@Success		200		{object}	answer.Answer
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/ask [post]
func (h *Handler) Ask(w http.ResponseWriter, r *http.Request) {
	var req AskRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, "ask", err)
		return
	}
	opts, err := req.options(time.Now())
	if err != nil {
		writeError(w, "ask", err)
		return
	}
	ans, err := h.svc.Ask(r.Context(), req.Question, opts...)
	if err != nil {
		writeError(w, "ask", err)
		return
	}
	writeJSON(w, http.StatusOK, ans)
}

// ListEntries handles GET /api/entries.
//
//	@Summary		List entries newest first
//	@Tags			entries
//	@Produce		json
//	@Param			source		query		string	false	"Comma-separated source types"
//	@Param			state		query		string	false	"Index state"	Enums(pending, indexed, failed)
//	@Param			since		query		string	false	"RFC3339 lower bound"
//	@Param			until		query		string	false	"RFC3339 upper bound"
//	@Param			before_id	query		int		false	"Page cursor"
//	@Param			limit		query		int		false	"Page size"
//	@Success		200			{object}	EntryListResponse
//	@Security		BearerAuth
//	@Router			/entries [get]
func (h *Handler) ListEntries(w http.ResponseWriter, r *http.Request) {
	f, err := parseListFilter(r)
	if err != nil {
		writeError(w, "list entries", err)
		return
	}
	entries, err := h.svc.ListEntries(r.Context(), f)
	if err != nil {
		writeError(w, "list entries", err)
		return
	}
	writeJSON(w, http.StatusOK, EntryListResponse{Entries: entries, Count: len(entries)})
}

func parseListFilter(r *http.Request) (store.ListFilter, error) {
	v := r.URL.Query()
	var f store.ListFilter
	sources, err := parseSources(v["source"])
	if err != nil {
		return f, err
	}
	f.Sources = sources
	switch st := models.IndexState(v.Get("state")); st {
	case "", models.IndexPending, models.IndexIndexed, models.IndexFailed:
		f.State = st
	default:
		return f, fmt.Errorf("unknown index state %q: %w", st, apperr.ErrInvalidInput)
	}
	if f.Since, err = parseTime(v.Get("since")); err != nil {
		return f, err
	}
	if f.Until, err = parseTime(v.Get("until")); err != nil {
		return f, err
	}
	if s := v.Get("before_id"); s != "" {
		if f.BeforeID, err = strconv.ParseInt(s, 10, 64); err != nil {
			return f, fmt.Errorf("invalid before_id %q: %w", s, apperr.ErrInvalidInput)
		}
	}
	if s := v.Get("limit"); s != "" {
		if f.Limit, err = strconv.Atoi(s); err != nil {
			return f, fmt.Errorf("invalid limit %q: %w", s, apperr.ErrInvalidInput)
		}
	}
	return f, nil
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid time %q, want RFC3339: %w", s, apperr.ErrInvalidInput)
	}
	return t, nil
}

// GetEntry handles GET /api/entries/{id}.
//
//	@Summary		Get one entry
//	@Tags			entries
//	@Produce		json
//	@Param			id	path		int	true	"Entry id"
//	@Success		200	{object}	models.Entry
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/entries/{id} [get]
func (h *Handler) GetEntry(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid entry id"))
		return
	}
	e, err := h.svc.GetEntry(r.Context(), id)
	if err != nil {
		writeError(w, "get entry", err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

// DeleteEntries handles DELETE /api/entries. Either before (RFC3339) or
// all=true is required.
//
//	@Summary		Delete entries
//	@Tags			entries
//	@Produce		json
//	@Param			before	query		string	false	"Delete entries captured before this RFC3339 time"
//	@Param			all		query		bool	false	"Delete every entry"
//	@Success		200		{object}	CleanResponse
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/entries [delete]
func (h *Handler) DeleteEntries(w http.ResponseWriter, r *http.Request) {
	v := r.URL.Query()
	var before *time.Time
	switch {
	case v.Get("before") != "":
		t, err := parseTime(v.Get("before"))
		if err != nil {
			writeError(w, "clean", err)
			return
		}
		before = &t
	case v.Get("all") == "true":
	default:
		writeJSON(w, http.StatusBadRequest, errorBody("either before or all=true is required"))
		return
	}
	n, err := h.svc.CleanData(r.Context(), before)
	if err != nil {
		writeError(w, "clean", err)
		return
	}
	writeJSON(w, http.StatusOK, CleanResponse{Deleted: n})
}

// GetPrivacy handles GET /api/privacy.
func (h *Handler) GetPrivacy(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.GetPrivacyConfig())
}

// PutPrivacy handles PUT /api/privacy.
func (h *Handler) PutPrivacy(w http.ResponseWriter, r *http.Request) {
	var cfg privacy.Config
	if err := decodeJSON(w, r, &cfg); err != nil {
		writeError(w, "save privacy", err)
		return
	}
	out, err := h.svc.SavePrivacyConfig(cfg)
	if err != nil {
		writeError(w, "save privacy", err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// AddPrivacyRule handles POST /api/privacy/rules.
func (h *Handler) AddPrivacyRule(w http.ResponseWriter, r *http.Request) {
	var req PrivacyRuleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, "add privacy rule", err)
		return
	}
	out, err := h.svc.AddPrivacyRule(req.Category, req.Pattern)
	if err != nil {
		writeError(w, "add privacy rule", err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// RemovePrivacyRule handles DELETE /api/privacy/rules?category=..&pattern=..
func (h *Handler) RemovePrivacyRule(w http.ResponseWriter, r *http.Request) {
	v := r.URL.Query()
	out, err := h.svc.RemovePrivacyRule(v.Get("category"), v.Get("pattern"))
	if err != nil {
		writeError(w, "remove privacy rule", err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// GetSettings handles GET /api/settings.
func (h *Handler) GetSettings(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.GetSettings())
}

// PutSettings handles PUT /api/settings.
func (h *Handler) PutSettings(w http.ResponseWriter, r *http.Request) {
	v := h.svc.GetSettings()
	if err := decodeJSON(w, r, &v); err != nil {
		writeError(w, "save settings", err)
		return
	}
	out, err := h.svc.SaveSettings(v)
	if err != nil {
		writeError(w, "save settings", err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// GetSearchConfig handles GET /api/search/config.
func (h *Handler) GetSearchConfig(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.GetSearchConfig())
}

// PutSearchConfig handles PUT /api/search/config.
func (h *Handler) PutSearchConfig(w http.ResponseWriter, r *http.Request) {
	v := h.svc.GetSearchConfig()
	if err := decodeJSON(w, r, &v); err != nil {
		writeError(w, "save search config", err)
		return
	}
	out, err := h.svc.SaveSearchConfig(v)
	if err != nil {
		writeError(w, "save search config", err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// GetLLMConfig handles GET /api/llm. The API key is never returned.
func (h *Handler) GetLLMConfig(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.GetLLMConfig())
}

// PutLLMConfig handles PUT /api/llm.
func (h *Handler) PutLLMConfig(w http.ResponseWriter, r *http.Request) {
	v := h.svc.GetLLMConfig()
	var body struct {
		settings.LLMConfig
		APIKey string `json:"api_key"`
	}
	body.LLMConfig = v
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, "save llm config", err)
		return
	}
	next := body.LLMConfig
	next.APIKey = body.APIKey
	out, err := h.svc.SaveLLMConfig(next)
	if err != nil {
		writeError(w, "save llm config", err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// Stats handles GET /api/stats.
//
//	@Summary		Corpus and index statistics
//	@Tags			stats
//	@Produce		json
//	@Success		200	{object}	service.Stats
//	@Security		BearerAuth
//	@Router			/stats [get]
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	st, err := h.svc.Stats(r.Context())
	if err != nil {
		writeError(w, "stats", err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}
