package server

import (
	"net/http"
	"strconv"

	"github.com/me/cmdbase/pkg/model"
)

// parseListOptions reads limit, offset, kind and run_id from the query string.
func parseListOptions(r *http.Request) (model.ListOptions, *model.APIError) {
	q := r.URL.Query()
	opts := model.DefaultListOptions()

	var details []model.FieldError
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			details = append(details, model.FieldError{Field: "limit", Message: "must be an integer"})
		}
		opts.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			details = append(details, model.FieldError{Field: "offset", Message: "must be an integer"})
		}
		opts.Offset = n
	}
	if v := q.Get("kind"); v != "" {
		opts.Kind = model.EventKind(v)
		if !opts.Kind.Valid() {
			details = append(details, model.FieldError{Field: "kind", Message: "unknown event kind " + v})
		}
	}
	opts.RunID = q.Get("run_id")

	if len(details) > 0 {
		return opts, model.NewValidationError("invalid query", details...)
	}
	opts.Clamp()
	return opts, nil
}

// GET /api/v1/events
func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	opts, apiErr := parseListOptions(r)
	if apiErr != nil {
		respondError(w, reqID, http.StatusBadRequest, apiErr)
		return
	}

	events, total, err := s.store.ListEvents(r.Context(), opts)
	if err != nil {
		respondError(w, reqID, http.StatusInternalServerError, s.storeFailure(r, "list events", err))
		return
	}
	if events == nil {
		events = []*model.Event{}
	}

	respondList(w, reqID, events, &model.Pagination{
		Total:   total,
		Limit:   opts.Limit,
		Offset:  opts.Offset,
		HasMore: opts.Offset+opts.Limit < total,
	})
}

// GET /api/v1/runs
func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	runs, err := s.store.ListRuns(r.Context())
	if err != nil {
		respondError(w, reqID, http.StatusInternalServerError, s.storeFailure(r, "list runs", err))
		return
	}
	if runs == nil {
		runs = []*model.RunSummary{}
	}
	respondOK(w, reqID, runs)
}
