package server

import "net/http"

type endpointInfo struct {
	Path        string   `json:"path"`
	Methods     []string `json:"methods"`
	Description string   `json:"description"`
}

type discoveryResponse struct {
	Name        string         `json:"name"`
	Version     string         `json:"version"`
	Description string         `json:"description"`
	Endpoints   []endpointInfo `json:"endpoints"`
}

func (s *Server) handleDiscovery(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	endpoints := []endpointInfo{
		{"/api/v1/scheduler", []string{"GET"}, "Running tasks and registered resources"},
		{"/api/v1/scheduler/cancel-all", []string{"POST"}, "Cancel every running task"},
		{"/api/v1/scheduler/tasks/{id}/cancel", []string{"POST"}, "Cancel one running task by admission ID"},
		{"/api/v1/robot/mode", []string{"GET", "PUT"}, "Current robot mode; PUT requests a change for the next tick"},
		{"/api/v1/sse/scheduler", []string{"GET"}, "Scheduler status stream (Server-Sent Events)"},
		{"/api/v1/health", []string{"GET"}, "Server health and version"},
	}
	if s.store != nil {
		endpoints = append(endpoints,
			endpointInfo{"/api/v1/events", []string{"GET"}, "Journal events, filter by kind and run_id"},
			endpointInfo{"/api/v1/runs", []string{"GET"}, "Recorded runs"},
		)
	}
	respondOK(w, reqID, discoveryResponse{
		Name:        "cmdbase API",
		Version:     "v1",
		Description: "cmdbase dashboard: inspect and steer a running command scheduler",
		Endpoints:   endpoints,
	})
}
