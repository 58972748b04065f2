package handler

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"

	"suggestify/internal/generate"
	"suggestify/internal/homeassistant"
	"suggestify/internal/refine"
	"suggestify/internal/service"
	"suggestify/internal/suggestion"
)

// SuggestionHandler exposes the suggestion lifecycle over plain JSON HTTP.
type SuggestionHandler struct {
	svc *service.Service
}

func NewSuggestionHandler(svc *service.Service) *SuggestionHandler {
	return &SuggestionHandler{svc: svc}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeErr maps domain errors onto HTTP status codes. Upstream failures
// (model or platform) are 502 so callers can tell them from our own 500s.
func writeErr(w http.ResponseWriter, err error) {
	var te *service.TransitionError
	var gf *generate.Failure
	var ae *homeassistant.APIError
	var de *homeassistant.DisableFailedError
	switch {
	case errors.Is(err, suggestion.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "suggestion not found"})
	case errors.As(err, &te):
		writeJSON(w, http.StatusConflict, map[string]any{"error": te.Error()})
	case errors.As(err, &de):
		writeJSON(w, http.StatusBadGateway, map[string]any{
			"error":         de.Error(),
			"automation_id": de.ExternalID,
		})
	case errors.As(err, &gf), errors.As(err, &ae):
		writeJSON(w, http.StatusBadGateway, map[string]any{"error": err.Error()})
	default:
		log.Printf("suggestion handler: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
	}
}

func (h *SuggestionHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var in service.Proposal
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(in.Description) == "" {
		http.Error(w, "description is required", http.StatusBadRequest)
		return
	}
	sg, err := h.svc.Seed(r.Context(), in)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sg)
}

func (h *SuggestionHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	status := strings.TrimSpace(r.URL.Query().Get("status"))
	all := h.svc.List()
	out := make([]suggestion.Suggestion, 0, len(all))
	for _, sg := range all {
		if status != "" && string(sg.Status) != status {
			continue
		}
		out = append(out, sg)
	}
	writeJSON(w, http.StatusOK, map[string]any{"suggestions": out})
}

func (h *SuggestionHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	sg, ok := h.svc.Get(r.PathValue("id"))
	if !ok {
		writeErr(w, suggestion.ErrNotFound)
		return
	}
	writeJSON(w, http.StatusOK, sg)
}

func (h *SuggestionHandler) HandleRefine(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Edit         string               `json:"edit"`
		Conversation *refine.Conversation `json:"conversation_context,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(in.Edit) == "" {
		http.Error(w, "edit is required", http.StatusBadRequest)
		return
	}
	res, err := h.svc.Refine(r.Context(), r.PathValue("id"), in.Edit, in.Conversation)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *SuggestionHandler) HandleTest(w http.ResponseWriter, r *http.Request) {
	h.handleGenerate(w, r, service.ModeTest)
}

func (h *SuggestionHandler) HandleApprove(w http.ResponseWriter, r *http.Request) {
	h.handleGenerate(w, r, service.ModeApprove)
}

func (h *SuggestionHandler) handleGenerate(w http.ResponseWriter, r *http.Request, mode service.Mode) {
	env, err := h.svc.Generate(r.Context(), r.PathValue("id"), mode)
	if err != nil {
		writeErr(w, err)
		return
	}
	status := http.StatusOK
	if env.Status == suggestion.StatusBlocked {
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, env)
}

func (h *SuggestionHandler) HandleReject(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Reason string `json:"reason,omitempty"`
	}
	// Body is optional for reject.
	_ = json.NewDecoder(r.Body).Decode(&in)
	sg, err := h.svc.Reject(r.Context(), r.PathValue("id"), strings.TrimSpace(in.Reason))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sg)
}

func (h *SuggestionHandler) HandleRedeploy(w http.ResponseWriter, r *http.Request) {
	env, err := h.svc.Redeploy(r.Context(), r.PathValue("id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	status := http.StatusOK
	if env.Status == suggestion.StatusBlocked {
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, env)
}

func (h *SuggestionHandler) HandleTrigger(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Trigger(r.Context(), r.PathValue("id")); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}
