package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/xeipuuv/gojsonschema"

	"github.com/kalambet/briefd/internal/bundle"
	"github.com/kalambet/briefd/internal/scheduler"
)

const maxRequestBodySize = 1 << 20 // 1MB

// Runner executes one bundle. *bundle.Executor satisfies it.
type Runner interface {
	Execute(ctx context.Context, req bundle.Request) bundle.Result
}

// StreamRunner is a Runner that can also stream the synthesis as it is
// generated. *bundle.Executor satisfies it.
type StreamRunner interface {
	Runner
	ExecuteStream(ctx context.Context, req bundle.Request, onToken func(string)) bundle.Result
}

// Schedules manages recurring tasks. *scheduler.Scheduler satisfies it.
type Schedules interface {
	Start(id string, cfg scheduler.TaskConfig) error
	Stop(id string)
	StopAll()
	Status(id string) (scheduler.Status, bool)
	Statuses() map[string]scheduler.Status
}

// KakaoTokens stores Kakao credentials. *channel.KakaoTokens satisfies it.
type KakaoTokens interface {
	Connected() bool
	Save(accessToken, refreshToken string, expiresIn time.Duration) error
}

// Deps holds the collaborators of the HTTP API and the MCP server.
type Deps struct {
	Executor  Runner
	Scheduler Schedules
	Runs      *bundle.Runs

	Telegram bundle.TelegramSender
	Kakao    bundle.KakaoSender
	Tokens   KakaoTokens

	// TelegramConfigured and KakaoConfigured report whether the global bot
	// token and the Kakao REST API key are set.
	TelegramConfigured bool
	KakaoConfigured    bool

	// Token enables Bearer auth on every route but /health. Empty disables it.
	Token  string
	Logger *slog.Logger
}

func (d Deps) logger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

// NewHandler returns the briefd REST API.
func NewHandler(deps Deps) http.Handler {
	if deps.Runs == nil {
		deps.Runs = bundle.NewRuns()
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/health", handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Post("/bundles/execute", handleExecute(deps))
		r.Post("/bundles/{id}/cancel", handleCancel(deps))

		r.Post("/schedules", handleStartSchedule(deps))
		r.Get("/schedules", handleListSchedules(deps))
		r.Delete("/schedules", handleStopAllSchedules(deps))
		r.Get("/schedules/{id}", handleGetSchedule(deps))
		r.Delete("/schedules/{id}", handleStopSchedule(deps))

		r.Put("/channels/kakao/token", handleKakaoToken(deps))
		r.Get("/channels/kakao/status", handleKakaoStatus(deps))
		r.Post("/channels/kakao/test", handleKakaoTest(deps))
		r.Get("/channels/telegram/status", handleTelegramStatus(deps))
		r.Post("/channels/telegram/test", handleTelegramTest(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

// decodeValid reads the body, validates it against schema and decodes it
// into v. On failure it writes the error response and returns false.
func decodeValid(w http.ResponseWriter, r *http.Request, schema *gojsonschema.Schema, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	defer r.Body.Close()

	body, err := io.ReadAll(r.Body)
	if err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "reading request body: %v", err)
		return false
	}
	if err := validate(schema, body); err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
		return false
	}
	if err := json.Unmarshal(body, v); err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
