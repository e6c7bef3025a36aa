package api

import (
	"net/http"
	"time"

	"github.com/triage-ai/aegis/internal/engine"
	"github.com/triage-ai/aegis/internal/retrain"
	"github.com/triage-ai/aegis/internal/storage"
	"github.com/triage-ai/aegis/internal/store"
	"go.uber.org/zap"
)

// Dependencies holds shared state injected into all HTTP handlers.
type Dependencies struct {
	Store     *store.Store
	Engine    *engine.SentryEngine
	Retrainer *retrain.Controller
	Writer    storage.MessageWriter
	Logger    *zap.Logger
	CacheTTL  time.Duration
}

// NewRouter builds the HTTP mux with all routes wired up.
func NewRouter(deps *Dependencies) http.Handler {
	mux := http.NewServeMux()

	// Core endpoints (auth required via Bearer aeg_ token)
	mux.HandleFunc("POST /v1/check-query", deps.authMiddleware(deps.handleCheckQuery))
	mux.HandleFunc("POST /v1/process-prompt", deps.authMiddleware(deps.handleProcessPrompt))
	mux.HandleFunc("POST /v1/adaptive-retrain", deps.authMiddleware(deps.handleRetrain))

	// Policy CRUD (no auth — dashboard auth added later)
	mux.HandleFunc("GET /api/aegis/projects/{project_id}/policy", deps.handleGetPolicy)
	mux.HandleFunc("PUT /api/aegis/projects/{project_id}/policy", deps.handleReplacePolicy)
	mux.HandleFunc("PATCH /api/aegis/projects/{project_id}/policy", deps.handleUpdatePolicy)

	// Health check
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	return corsMiddleware(requestLogging(mux, deps.Logger))
}
