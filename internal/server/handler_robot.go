package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/me/cmdbase/pkg/model"
)

type modeRequest struct {
	Mode model.RobotMode `json:"mode"`
}

type modeResponse struct {
	Mode      model.RobotMode `json:"mode"`
	Requested model.RobotMode `json:"requested,omitempty"`
	Enabled   bool            `json:"enabled"`
}

// GET /api/v1/robot/mode
func (s *Server) handleGetMode(w http.ResponseWriter, r *http.Request) {
	m := s.loop.Mode()
	respondOK(w, RequestIDFromContext(r.Context()), modeResponse{Mode: m, Enabled: m.IsEnabled()})
}

// PUT /api/v1/robot/mode
// The change takes effect at the start of the next tick.
func (s *Server) handleSetMode(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	var req modeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, reqID, http.StatusBadRequest,
			model.NewValidationError("invalid JSON: "+err.Error()))
		return
	}
	if req.Mode == "" {
		respondError(w, reqID, http.StatusBadRequest,
			model.NewValidationError("missing required fields", model.FieldError{Field: "mode", Message: "required"}))
		return
	}

	if err := s.loop.SetMode(req.Mode); err != nil {
		var apiErr *model.APIError
		if errors.As(err, &apiErr) {
			respondError(w, reqID, http.StatusBadRequest, apiErr)
			return
		}
		respondError(w, reqID, http.StatusInternalServerError, model.NewInternalError(err.Error()))
		return
	}
	s.logger.Info("robot mode requested via api", "mode", req.Mode, "request_id", reqID)

	current := s.loop.Mode()
	respondAccepted(w, reqID, modeResponse{Mode: current, Requested: req.Mode, Enabled: current.IsEnabled()})
}
