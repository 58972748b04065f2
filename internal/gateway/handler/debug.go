package handler

import (
	"net/http"
	"strconv"
	"strings"

	"suggestify/internal/llmlog"
)

type DebugHandler struct {
	recorder *llmlog.Recorder
}

func NewDebugHandler(recorder *llmlog.Recorder) *DebugHandler {
	return &DebugHandler{recorder: recorder}
}

func (h *DebugHandler) HandleLLMLog(w http.ResponseWriter, r *http.Request) {
	if h.recorder == nil {
		writeJSON(w, http.StatusOK, map[string]any{"interactions": []any{}})
		return
	}
	interactions := h.recorder.Recent()
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n < len(interactions) {
			interactions = interactions[:n]
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"interactions": interactions})
}
