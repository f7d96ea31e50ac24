package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/kalambet/briefd/internal/bundle"
)

type executeResponse struct {
	BundleID string `json:"bundleId"`
	bundle.Result
}

func handleExecute(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req bundle.Request
		if !decodeValid(w, r, executeSchema, &req) {
			return
		}
		if err := req.Validate(); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}
		if req.ID == "" {
			req.ID = uuid.NewString()
		}

		// A newer run for the same bundle cancels this one.
		ctx, done := deps.Runs.Begin(r.Context(), req.ID)
		defer done()

		if r.URL.Query().Get("stream") == "true" {
			streamExecute(ctx, w, deps, req)
			return
		}

		res := deps.Executor.Execute(ctx, req)
		deps.logger().Info("bundle executed",
			"bundle", req.ID,
			"status", res.Status,
			"success", res.Success,
			"duration_ms", res.FinishedAt.Sub(res.StartedAt).Milliseconds(),
		)
		writeJSON(w, http.StatusOK, executeResponse{BundleID: req.ID, Result: res})
	}
}

// streamEvent is one server-sent event of a streamed execution: a token
// fragment while the model writes, then the final result.
type streamEvent struct {
	Token  string           `json:"token,omitempty"`
	Result *executeResponse `json:"result,omitempty"`
}

// streamExecute runs req and writes the synthesis as server-sent events.
// Runners that cannot stream send the whole text as one token event.
func streamExecute(ctx context.Context, w http.ResponseWriter, deps Deps, req bundle.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		httpError(w, http.StatusInternalServerError, "api_error", "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	send := func(ev streamEvent) {
		b, err := json.Marshal(ev)
		if err != nil {
			deps.logger().Warn("encoding stream event", "error", err)
			return
		}
		fmt.Fprintf(w, "data: %s\n\n", b)
		flusher.Flush()
	}
	onToken := func(tok string) { send(streamEvent{Token: tok}) }

	var res bundle.Result
	if sr, ok := deps.Executor.(StreamRunner); ok {
		res = sr.ExecuteStream(ctx, req, onToken)
	} else {
		res = deps.Executor.Execute(ctx, req)
		if res.Text != "" {
			onToken(res.Text)
		}
	}
	deps.logger().Info("bundle executed",
		"bundle", req.ID,
		"status", res.Status,
		"success", res.Success,
		"streamed", true,
		"duration_ms", res.FinishedAt.Sub(res.StartedAt).Milliseconds(),
	)
	send(streamEvent{Result: &executeResponse{BundleID: req.ID, Result: res}})
}

func handleCancel(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		cancelled := deps.Runs.Cancel(id)
		writeJSON(w, http.StatusOK, map[string]bool{
			"success":   true,
			"cancelled": cancelled,
		})
	}
}
