package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"reflect"
	"time"

	"github.com/me/cmdbase/pkg/model"
)

// handleSSEScheduler streams scheduler status via Server-Sent Events.
// GET /api/v1/sse/scheduler
func (s *Server) handleSSEScheduler(w http.ResponseWriter, r *http.Request) {
	status, ok := s.status(w, r)
	if !ok {
		return
	}

	// Set headers for SSE.
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return
	}

	if err := sendSSEEvent(w, flusher, "init", status); err != nil {
		s.logger.Debug("sse client disconnected", "error", err)
		return
	}

	ticker := time.NewTicker(s.ssePeriod)
	defer ticker.Stop()

	last := status
	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			next, err := s.sample(r.Context())
			if err != nil {
				s.logger.Debug("sse sample failed", "error", err)
				sendSSEEvent(w, flusher, "closed", map[string]string{"reason": err.Error()})
				return
			}

			if changed(last, next) {
				if err := sendSSEEvent(w, flusher, "update", next); err != nil {
					s.logger.Debug("sse client disconnected")
					return
				}
				last = next
			} else {
				fmt.Fprintf(w, ": heartbeat\n\n")
				flusher.Flush()
			}
		}
	}
}

func (s *Server) sample(ctx context.Context) (model.SchedulerStatus, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	var status model.SchedulerStatus
	err := s.loop.Do(ctx, func() { status = s.loop.Scheduler().Status() })
	status.Mode = s.loop.Mode()
	return status, err
}

// changed ignores the tick counter, which moves on every sample.
func changed(a, b model.SchedulerStatus) bool {
	a.Tick, b.Tick = 0, 0
	return !reflect.DeepEqual(a, b)
}

func sendSSEEvent(w http.ResponseWriter, flusher http.Flusher, event string, data any) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}

	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, jsonData)
	if err != nil {
		return err
	}

	flusher.Flush()
	return nil
}
