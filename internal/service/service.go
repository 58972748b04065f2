package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"suggestify/internal/archive"
	"suggestify/internal/capability"
	"suggestify/internal/generate"
	"suggestify/internal/homeassistant"
	"suggestify/internal/refine"
	"suggestify/internal/safety"
	"suggestify/internal/selfcorrect"
	"suggestify/internal/suggestion"
)

// TransitionError reports an operation attempted from a status that does
// not allow it.
type TransitionError struct {
	Op   string
	From suggestion.Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("service: cannot %s a suggestion in status %s", e.Op, e.From)
}

// Mode selects what a generation request materializes.
type Mode string

const (
	ModeTest    Mode = "test"    // create disabled
	ModeApprove Mode = "approve" // create enabled
)

// ReverseEngineering summarizes a self-correction run for the response
// envelope. Present only when the controller actually ran.
type ReverseEngineering struct {
	Enabled             bool                    `json:"enabled"`
	IterationsCompleted int                     `json:"iterations_completed"`
	FinalSimilarity     float64                 `json:"final_similarity"`
	IterationHistory    []selfcorrect.Iteration `json:"iteration_history"`
	MaxIterations       int                     `json:"max_iterations"`
}

// Envelope is the response for generate/test/approve/redeploy.
type Envelope struct {
	Status             suggestion.Status   `json:"status"`
	AutomationID       string              `json:"automation_id,omitempty"`
	Safe               bool                `json:"safe"`
	Warnings           []string            `json:"warnings,omitempty"`
	ErrorDetails       string              `json:"error_details,omitempty"`
	ReverseEngineering *ReverseEngineering `json:"reverse_engineering,omitempty"`
}

// RefineResult pairs the refinement outcome with the updated suggestion.
type RefineResult struct {
	Suggestion suggestion.Suggestion `json:"suggestion"`
	Outcome    refine.Outcome        `json:"outcome"`
}

// Proposal seeds a draft suggestion from the external proposer.
type Proposal struct {
	Description     string   `json:"description"`
	TriggerSummary  string   `json:"trigger_summary,omitempty"`
	ActionSummary   string   `json:"action_summary,omitempty"`
	Confidence      float64  `json:"confidence"`
	DevicesInvolved []string `json:"devices_involved,omitempty"`
	Category        string   `json:"category,omitempty"`
}

// Service wires the suggestion compiler together: refinement at the
// description layer, safety-gated generation, and deployment. Every
// mutation runs under the store's per-id lock.
type Service struct {
	store     *suggestion.Store
	refiner   *refine.Processor
	generator generate.Generator
	corrector *selfcorrect.Controller // nil disables self-correction
	gateway   homeassistant.Gateway
	registry  capability.Registry
	revisions *archive.Archive // nil disables archiving
}

func New(
	store *suggestion.Store,
	refiner *refine.Processor,
	generator generate.Generator,
	corrector *selfcorrect.Controller,
	gateway homeassistant.Gateway,
	registry capability.Registry,
	revisions *archive.Archive,
) *Service {
	return &Service{
		store:     store,
		refiner:   refiner,
		generator: generator,
		corrector: corrector,
		gateway:   gateway,
		registry:  registry,
		revisions: revisions,
	}
}

// Seed creates a draft suggestion from a proposer payload.
func (s *Service) Seed(_ context.Context, p Proposal) (suggestion.Suggestion, error) {
	if p.Description == "" {
		return suggestion.Suggestion{}, errors.New("service: proposal needs a description")
	}
	sg := suggestion.Suggestion{
		ID:              uuid.NewString(),
		Status:          suggestion.StatusDraft,
		Description:     p.Description,
		TriggerSummary:  p.TriggerSummary,
		ActionSummary:   p.ActionSummary,
		Confidence:      p.Confidence,
		DevicesInvolved: p.DevicesInvolved,
		Category:        p.Category,
		CreatedAt:       time.Now().UTC(),
	}
	if err := s.store.Put(sg); err != nil {
		return suggestion.Suggestion{}, err
	}
	return sg, nil
}

func (s *Service) Get(id string) (suggestion.Suggestion, bool) {
	return s.store.Get(id)
}

func (s *Service) List() []suggestion.Suggestion {
	return s.store.List()
}

// Refine maps a free-text edit onto the suggestion's description. The
// suggestion enters refining on any attempt; only a detected change bumps
// refinement_count. Code is never touched here.
func (s *Service) Refine(ctx context.Context, id, edit string, conv *refine.Conversation) (*RefineResult, error) {
	release := s.store.Acquire(id)
	defer release()

	sg, ok := s.store.Get(id)
	if !ok {
		return nil, suggestion.ErrNotFound
	}
	if !sg.Status.CanRefine() {
		return nil, &TransitionError{Op: "refine", From: sg.Status}
	}

	caps, err := s.capabilitiesFor(ctx, sg)
	if err != nil {
		return nil, err
	}
	out, err := s.refiner.Refine(ctx, sg.Description, edit, caps, conv)
	if err != nil {
		return nil, err
	}

	updated, err := s.store.Update(id, func(cur *suggestion.Suggestion) error {
		cur.Status = suggestion.StatusRefining
		entry := suggestion.HistoryEntry{
			Timestamp:          time.Now().UTC(),
			UserInput:          edit,
			UpdatedDescription: out.UpdatedDescription,
			Changes:            out.Changes,
			Valid:              out.Validation.OK,
			Warnings:           out.Validation.Warnings,
			Alternatives:       out.Validation.Alternatives,
		}
		cur.ConversationHistory = append(cur.ConversationHistory, entry)
		if out.Validation.OK {
			cur.Description = out.UpdatedDescription
			cur.RefinementCount++
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &RefineResult{Suggestion: updated, Outcome: *out}, nil
}

// Generate runs the safety-gated generation pipeline and materializes the
// automation on the platform. A safety failure returns a blocked envelope
// and leaves the suggestion exactly as it was.
func (s *Service) Generate(ctx context.Context, id string, mode Mode) (*Envelope, error) {
	release := s.store.Acquire(id)
	defer release()

	sg, ok := s.store.Get(id)
	if !ok {
		return nil, suggestion.ErrNotFound
	}
	if !sg.Status.CanGenerate() {
		return nil, &TransitionError{Op: string(mode), From: sg.Status}
	}

	target := suggestion.StatusYAMLGenerated
	if mode == ModeApprove {
		target = suggestion.StatusDeployed
	}
	// A previous test already created a platform object; keep updating it
	// instead of minting a second one.
	return s.materialize(ctx, sg, target, sg.ExternalAutomationID)
}

// Redeploy regenerates code for an already-deployed suggestion and pushes
// it to the existing platform object. Status stays deployed.
func (s *Service) Redeploy(ctx context.Context, id string) (*Envelope, error) {
	release := s.store.Acquire(id)
	defer release()

	sg, ok := s.store.Get(id)
	if !ok {
		return nil, suggestion.ErrNotFound
	}
	if sg.Status != suggestion.StatusDeployed || sg.ExternalAutomationID == "" {
		return nil, &TransitionError{Op: "redeploy", From: sg.Status}
	}
	return s.materialize(ctx, sg, suggestion.StatusDeployed, sg.ExternalAutomationID)
}

// materialize is the shared generate/deploy path. existingID is non-empty
// when a platform object already exists (redeploy, or approve after test).
// The store write happens last and carries the whole {code, score, status,
// external id} tuple.
func (s *Service) materialize(ctx context.Context, sg suggestion.Suggestion, target suggestion.Status, existingID string) (*Envelope, error) {
	caps, err := s.capabilitiesFor(ctx, sg)
	if err != nil {
		return nil, err
	}

	var cand *generate.Result
	var re *ReverseEngineering
	var warnings []string

	if s.corrector != nil {
		run, err := s.corrector.SelfCorrect(ctx, sg.Description, caps)
		if err != nil {
			return nil, err
		}
		cand = run.Candidate
		re = &ReverseEngineering{
			Enabled:             true,
			IterationsCompleted: run.IterationsCompleted,
			FinalSimilarity:     run.FinalSimilarity,
			IterationHistory:    run.Iterations,
			MaxIterations:       run.MaxIterations,
		}
		if !run.ConvergenceAchieved {
			warnings = append(warnings, fmt.Sprintf(
				"generated automation may not fully match the description (similarity %.2f after %d iterations)",
				run.FinalSimilarity, run.IterationsCompleted))
		}
	} else {
		cand, err = s.generator.Generate(ctx, generate.Request{Description: sg.Description, Capabilities: caps})
		if err != nil {
			return nil, err
		}
	}

	verdict := safety.ValidateDocument(cand.Document)
	if !verdict.Safe {
		// Blocked is a response condition: the stored suggestion keeps its
		// previous status, code, and score untouched.
		return &Envelope{
			Status:             suggestion.StatusBlocked,
			Safe:               false,
			Warnings:           append(warnings, verdict.Warnings...),
			ErrorDetails:       verdict.ErrorDetails,
			ReverseEngineering: re,
		}, nil
	}
	warnings = append(warnings, verdict.Warnings...)

	enabled := target == suggestion.StatusDeployed
	externalID := existingID
	if existingID == "" {
		externalID, err = s.gateway.Create(ctx, cand.Document, enabled)
	} else {
		err = s.gateway.Update(ctx, existingID, cand.Document, enabled)
	}
	if err != nil {
		return nil, err
	}

	score := cand.SafetyScore
	updated, err := s.store.Update(sg.ID, func(cur *suggestion.Suggestion) error {
		cur.AutomationCode = cand.Code
		cur.SafetyScore = &score
		cur.ExternalAutomationID = externalID
		cur.Status = target
		cur.CodeRevision++
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.revisions != nil {
		if aerr := s.revisions.PutRevision(ctx, sg.ID, updated.CodeRevision, cand.Code); aerr != nil {
			log.Printf("revision archive: %v", aerr)
		}
	}

	return &Envelope{
		Status:             target,
		AutomationID:       externalID,
		Safe:               true,
		Warnings:           warnings,
		ReverseEngineering: re,
	}, nil
}

// Reject marks the suggestion rejected and discards any generated code.
// Rejecting twice is a no-op, not an error; rejecting a deployed
// suggestion is refused.
func (s *Service) Reject(ctx context.Context, id, reason string) (suggestion.Suggestion, error) {
	release := s.store.Acquire(id)
	defer release()

	sg, ok := s.store.Get(id)
	if !ok {
		return suggestion.Suggestion{}, suggestion.ErrNotFound
	}
	if sg.Status == suggestion.StatusRejected {
		return sg, nil
	}
	if sg.Status == suggestion.StatusDeployed {
		return suggestion.Suggestion{}, &TransitionError{Op: "reject", From: sg.Status}
	}
	// A tested suggestion still owns a disabled platform object; tear it
	// down before recording the rejection so nothing dangles.
	if sg.ExternalAutomationID != "" {
		if err := s.gateway.Delete(ctx, sg.ExternalAutomationID); err != nil {
			return suggestion.Suggestion{}, err
		}
	}
	return s.store.Update(id, func(cur *suggestion.Suggestion) error {
		cur.Status = suggestion.StatusRejected
		cur.RejectionReason = reason
		cur.AutomationCode = ""
		cur.SafetyScore = nil
		cur.ExternalAutomationID = ""
		return nil
	})
}

// Trigger manually runs a deployed automation on the platform.
func (s *Service) Trigger(ctx context.Context, id string) error {
	sg, ok := s.store.Get(id)
	if !ok {
		return suggestion.ErrNotFound
	}
	if sg.ExternalAutomationID == "" {
		return &TransitionError{Op: "trigger", From: sg.Status}
	}
	return s.gateway.Trigger(ctx, sg.ExternalAutomationID)
}

// capabilitiesFor resolves the capability snapshot for the devices the
// suggestion involves, or the full registry when none are named.
func (s *Service) capabilitiesFor(ctx context.Context, sg suggestion.Suggestion) ([]capability.Capabilities, error) {
	if len(sg.DevicesInvolved) == 0 {
		return s.registry.List(ctx)
	}
	out := make([]capability.Capabilities, 0, len(sg.DevicesInvolved))
	for _, id := range sg.DevicesInvolved {
		caps, ok, err := s.registry.Lookup(ctx, id)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, caps)
		}
	}
	return out, nil
}
