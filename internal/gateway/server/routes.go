package server

import (
	"net/http"

	"suggestify/internal/gateway/handler"
	"suggestify/internal/gateway/middleware"
)

func NewMux(sh *handler.SuggestionHandler, dh *handler.DebugHandler) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /v1/suggestions", sh.HandleCreate)
	mux.HandleFunc("GET /v1/suggestions", sh.HandleList)
	mux.HandleFunc("GET /v1/suggestions/{id}", sh.HandleGet)
	mux.HandleFunc("POST /v1/suggestions/{id}/refine", sh.HandleRefine)
	mux.HandleFunc("POST /v1/suggestions/{id}/test", sh.HandleTest)
	mux.HandleFunc("POST /v1/suggestions/{id}/approve", sh.HandleApprove)
	mux.HandleFunc("POST /v1/suggestions/{id}/reject", sh.HandleReject)
	mux.HandleFunc("POST /v1/suggestions/{id}/redeploy", sh.HandleRedeploy)
	mux.HandleFunc("POST /v1/suggestions/{id}/trigger", sh.HandleTrigger)

	mux.HandleFunc("GET /debug/llm-log", dh.HandleLLMLog)

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true}`))
	})

	return middleware.CORS(mux)
}
