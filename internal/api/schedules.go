package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/briefd/internal/bundle"
	"github.com/kalambet/briefd/internal/scheduler"
)

var errInvalidRequest = errors.New("invalid request")

type scheduleRequest struct {
	bundle.Request
	TimingPolicy bundle.Schedule `json:"timingPolicy"`
}

type scheduleResponse struct {
	ID     string           `json:"id"`
	Status scheduler.Status `json:"status"`
}

// startSchedule converts and starts a schedule. It is shared by the REST
// and MCP layers.
func startSchedule(s Schedules, req bundle.Request, sched bundle.Schedule) (scheduler.Status, error) {
	if req.ID == "" {
		return scheduler.Status{}, fmt.Errorf("%w: bundle id is required", errInvalidRequest)
	}
	if err := req.Validate(); err != nil {
		return scheduler.Status{}, fmt.Errorf("%w: %w", errInvalidRequest, err)
	}
	policy, err := scheduler.PolicyFor(sched)
	if err != nil {
		return scheduler.Status{}, fmt.Errorf("%w: %w", errInvalidRequest, err)
	}
	if err := s.Start(req.ID, scheduler.TaskConfig{Request: req, Policy: policy}); err != nil {
		return scheduler.Status{}, err
	}
	st, _ := s.Status(req.ID)
	return st, nil
}

func handleStartSchedule(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req scheduleRequest
		if !decodeValid(w, r, scheduleSchema, &req) {
			return
		}

		st, err := startSchedule(deps.Scheduler, req.Request, req.TimingPolicy)
		if err != nil {
			if errors.Is(err, errInvalidRequest) {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
				return
			}
			httpError(w, http.StatusServiceUnavailable, "api_error", "starting schedule: %v", err)
			return
		}
		writeJSON(w, http.StatusCreated, scheduleResponse{ID: req.ID, Status: st})
	}
}

func handleListSchedules(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, deps.Scheduler.Statuses())
	}
}

func handleGetSchedule(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		st, ok := deps.Scheduler.Status(id)
		if !ok {
			httpError(w, http.StatusNotFound, "not_found_error", "schedule %q not found", id)
			return
		}
		writeJSON(w, http.StatusOK, scheduleResponse{ID: id, Status: st})
	}
}

func handleStopSchedule(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		deps.Scheduler.Stop(chi.URLParam(r, "id"))
		writeJSON(w, http.StatusOK, map[string]bool{"success": true})
	}
}

func handleStopAllSchedules(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		deps.Scheduler.StopAll()
		writeJSON(w, http.StatusOK, map[string]bool{"success": true})
	}
}
