package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/me/cmdbase/internal/robot"
	"github.com/me/cmdbase/pkg/model"
)

// requestID generates a unique request identifier.
func requestID() string {
	return "req_" + uuid.New().String()[:8]
}

// respondOK writes a success response with the standard envelope.
func respondOK(w http.ResponseWriter, reqID string, data any) {
	respondJSON(w, http.StatusOK, reqID, data, nil, nil)
}

// respondAccepted writes a 202 response for changes applied on a later tick.
func respondAccepted(w http.ResponseWriter, reqID string, data any) {
	respondJSON(w, http.StatusAccepted, reqID, data, nil, nil)
}

// respondList writes a success response with pagination.
func respondList(w http.ResponseWriter, reqID string, data any, pg *model.Pagination) {
	respondJSON(w, http.StatusOK, reqID, data, pg, nil)
}

// respondError writes an error response with the standard envelope.
func respondError(w http.ResponseWriter, reqID string, status int, apiErr *model.APIError) {
	respondJSON(w, status, reqID, nil, nil, apiErr)
}

// loopFailure maps an error from robot.Loop.Do to a status and API error.
func loopFailure(err error) (int, *model.APIError) {
	switch {
	case errors.Is(err, robot.ErrStopped):
		return http.StatusServiceUnavailable, model.NewConflictError("robot loop is stopped")
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, &model.APIError{Code: model.ErrTimeout, Message: "robot loop did not respond"}
	}
	return http.StatusInternalServerError, model.NewInternalError(err.Error())
}

// storeFailure logs a journal query error and returns the API error to send.
func (s *Server) storeFailure(r *http.Request, op string, err error) *model.APIError {
	s.logger.Error("journal query failed", "op", op, "error", err, "request_id", RequestIDFromContext(r.Context()))
	return model.NewInternalError(op + " failed")
}

func respondJSON(w http.ResponseWriter, status int, reqID string, data any, pg *model.Pagination, apiErr *model.APIError) {
	resp := model.Response{
		RequestID:  reqID,
		Timestamp:  time.Now().UTC(),
		Data:       data,
		Pagination: pg,
		Error:      apiErr,
	}
	if apiErr != nil {
		resp.Status = "error"
	} else {
		resp.Status = "ok"
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(resp)
}
