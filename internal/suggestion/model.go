package suggestion

import (
	"strings"
	"time"
)

// Status is the lifecycle state of a suggestion.
type Status string

const (
	StatusDraft         Status = "draft"
	StatusRefining      Status = "refining"
	StatusYAMLGenerated Status = "yaml_generated"
	StatusDeployed      Status = "deployed"
	StatusRejected      Status = "rejected"

	// StatusBlocked is a response condition, never a stored status: a
	// generation attempt failed safety validation and the suggestion kept
	// its previous state.
	StatusBlocked Status = "blocked"
)

// Terminal reports whether no further refine/generate transitions are
// accepted from this status.
func (s Status) Terminal() bool { return s == StatusRejected }

// CanRefine reports whether a refinement attempt may run.
func (s Status) CanRefine() bool {
	return s == StatusDraft || s == StatusRefining
}

// CanGenerate reports whether a test/approve generation may run. A tested
// suggestion (yaml_generated) may still be approved; a deployed one goes
// through redeploy instead.
func (s Status) CanGenerate() bool {
	return s == StatusDraft || s == StatusRefining || s == StatusYAMLGenerated
}

// HistoryEntry is one turn of the refinement conversation. The history is
// append-only and never truncated or reordered.
type HistoryEntry struct {
	Timestamp          time.Time `json:"timestamp"`
	UserInput          string    `json:"user_input"`
	UpdatedDescription string    `json:"updated_description"`
	Changes            []string  `json:"changes,omitempty"`
	Valid              bool      `json:"valid"`
	Warnings           []string  `json:"warnings,omitempty"`
	Alternatives       []string  `json:"alternatives,omitempty"`
}

// Suggestion tracks one automation idea from draft through deployment.
// Description is the single source of truth for intent; code is derived
// from it on explicit generate actions only.
type Suggestion struct {
	ID              string  `json:"id"`
	Status          Status  `json:"status"`
	Description     string  `json:"description"`
	TriggerSummary  string  `json:"trigger_summary,omitempty"`
	ActionSummary   string  `json:"action_summary,omitempty"`
	Confidence      float64 `json:"confidence"`
	RefinementCount int     `json:"refinement_count"`

	ConversationHistory []HistoryEntry `json:"conversation_history,omitempty"`

	AutomationCode       string `json:"automation_code,omitempty"`
	SafetyScore          *int   `json:"safety_score,omitempty"`
	ExternalAutomationID string `json:"external_automation_id,omitempty"`
	CodeRevision         int    `json:"code_revision,omitempty"`

	RejectionReason string `json:"rejection_reason,omitempty"`

	DevicesInvolved []string  `json:"devices_involved,omitempty"`
	Category        string    `json:"category,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

func normalize(s Suggestion) Suggestion {
	s.ID = strings.TrimSpace(s.ID)
	if s.Status == "" {
		s.Status = StatusDraft
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now().UTC()
	}
	return s
}
