package server

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/me/cmdbase/pkg/model"
)

// onLoop runs fn on the robot loop goroutine, writing an error response and
// returning false when the loop cannot take it.
func (s *Server) onLoop(w http.ResponseWriter, r *http.Request, fn func()) bool {
	reqID := RequestIDFromContext(r.Context())
	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()

	if err := s.loop.Do(ctx, fn); err != nil {
		status, apiErr := loopFailure(err)
		respondError(w, reqID, status, apiErr)
		return false
	}
	return true
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) (model.SchedulerStatus, bool) {
	var status model.SchedulerStatus
	ok := s.onLoop(w, r, func() {
		status = s.loop.Scheduler().Status()
	})
	status.Mode = s.loop.Mode()
	return status, ok
}

// GET /api/v1/scheduler
func (s *Server) handleGetScheduler(w http.ResponseWriter, r *http.Request) {
	status, ok := s.status(w, r)
	if !ok {
		return
	}
	respondOK(w, RequestIDFromContext(r.Context()), status)
}

// POST /api/v1/scheduler/tasks/{id}/cancel
func (s *Server) handleCancelTask(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	id := chi.URLParam(r, "id")

	var found bool
	if !s.onLoop(w, r, func() { found = s.loop.Scheduler().CancelByID(id) }) {
		return
	}
	if !found {
		respondError(w, reqID, http.StatusNotFound, model.NewNotFoundError("task", id))
		return
	}
	s.logger.Info("task cancelled via api", "task_id", id, "request_id", reqID)
	respondOK(w, reqID, map[string]any{"id": id, "state": model.TaskStateInterrupted})
}

// POST /api/v1/scheduler/cancel-all
func (s *Server) handleCancelAll(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	var cancelled int
	var cancelErr error
	ok := s.onLoop(w, r, func() {
		sched := s.loop.Scheduler()
		cancelled = len(sched.Running())
		cancelErr = sched.CancelAll()
	})
	if !ok {
		return
	}
	if cancelErr != nil {
		respondError(w, reqID, http.StatusInternalServerError, model.NewInternalError(cancelErr.Error()))
		return
	}
	s.logger.Info("all tasks cancelled via api", "count", cancelled, "request_id", reqID)
	respondOK(w, reqID, map[string]any{"cancelled": cancelled})
}
