package refine

import (
	"context"
	"fmt"
	"strings"

	"suggestify/internal/capability"
	"suggestify/internal/llm"
	"suggestify/internal/util/jsonutil"
)

// Validation is the verdict on one free-text edit. ok=false never mutates
// the description; warnings explain why and alternatives offer achievable
// rewordings.
type Validation struct {
	OK           bool     `json:"ok"`
	Warnings     []string `json:"warnings,omitempty"`
	Alternatives []string `json:"alternatives,omitempty"`
}

// Outcome is the full result of processing an edit.
type Outcome struct {
	UpdatedDescription string     `json:"updated_description"`
	Changes            []string   `json:"changes"`
	Validation         Validation `json:"validation"`
}

// Conversation carries previously mentioned devices/intents as explicit
// disambiguation input. It is never stored; each call brings its own.
type Conversation struct {
	RecentEntities []string `json:"recent_entities,omitempty"`
	RecentIntents  []string `json:"recent_intents,omitempty"`
}

// Processor maps a free-text edit onto a structured description change.
// It operates purely at the description layer and never touches code.
type Processor struct {
	client llm.Client
}

func NewProcessor(client llm.Client) *Processor {
	return &Processor{client: client}
}

const refinePrompt = `You maintain the natural-language description of a home automation.
Apply the user's edit to the current description.
Only accept edits that the listed device capabilities can actually satisfy.
Respond with a single JSON object:
{
  "updated_description": <full rewritten description>,
  "changes": [{"summary": <human-readable delta>, "entity_id": <entity it touches, if any>, "attribute": <capability attribute it relies on, if any>}],
  "validation": {"ok": <bool>, "warnings": [...], "alternatives": [...]}
}
If the edit is ambiguous or needs an unsupported capability, set ok=false,
explain in warnings, propose concretely achievable alternatives, and return
the description unchanged.`

type refineInput struct {
	CurrentDescription string                    `json:"current_description"`
	UserEdit           string                    `json:"user_edit"`
	DeviceCapabilities []capability.Capabilities `json:"device_capabilities"`
	Conversation       *Conversation             `json:"conversation_context,omitempty"`
}

type refineChange struct {
	Summary   string `json:"summary"`
	EntityID  string `json:"entity_id,omitempty"`
	Attribute string `json:"attribute,omitempty"`
}

type refineOutput struct {
	UpdatedDescription string         `json:"updated_description"`
	Changes            []refineChange `json:"changes"`
	Validation         Validation     `json:"validation"`
}

// Refine is a pure function of its arguments: current description, the edit,
// the capability snapshot, and the optional conversation context.
func (p *Processor) Refine(ctx context.Context, current, edit string, caps []capability.Capabilities, conv *Conversation) (*Outcome, error) {
	edit = strings.TrimSpace(edit)
	if edit == "" {
		return &Outcome{
			UpdatedDescription: current,
			Validation: Validation{
				OK:       false,
				Warnings: []string{"the edit is empty"},
			},
		}, nil
	}

	ctx = llm.WithPhase(ctx, "refine")
	raw, err := p.client.GenerateJSON(ctx, refinePrompt, refineInput{
		CurrentDescription: current,
		UserEdit:           edit,
		DeviceCapabilities: caps,
		Conversation:       conv,
	})
	if err != nil {
		return nil, fmt.Errorf("refine: %w", err)
	}
	var out refineOutput
	if err := jsonutil.UnmarshalModel(raw, &out); err != nil {
		return nil, fmt.Errorf("refine: decode model output: %w", err)
	}

	// The model's claims about capabilities are verified here, not trusted.
	if out.Validation.OK {
		if warnings, alternatives := verifyChanges(out.Changes, caps); len(warnings) > 0 {
			out.Validation = Validation{OK: false, Warnings: warnings, Alternatives: alternatives}
		}
	}

	oc := &Outcome{Validation: out.Validation}
	if out.Validation.OK {
		oc.UpdatedDescription = strings.TrimSpace(out.UpdatedDescription)
		if oc.UpdatedDescription == "" {
			oc.UpdatedDescription = current
		}
		for _, ch := range out.Changes {
			if s := strings.TrimSpace(ch.Summary); s != "" {
				oc.Changes = append(oc.Changes, s)
			}
		}
		if len(oc.Changes) == 0 {
			// An accepted edit with nothing changed is a no-op answer,
			// not a refinement.
			oc.Validation = Validation{
				OK:       false,
				Warnings: []string{"the edit did not change the automation"},
			}
			oc.UpdatedDescription = current
		}
	} else {
		oc.UpdatedDescription = current
	}
	return oc, nil
}

// verifyChanges cross-checks every claimed change against the capability
// registry. A change naming an entity+attribute the entity does not support
// invalidates the whole edit.
func verifyChanges(changes []refineChange, caps []capability.Capabilities) (warnings, alternatives []string) {
	byID := make(map[string]capability.Capabilities, len(caps))
	for _, c := range caps {
		byID[c.EntityID] = c
	}
	for _, ch := range changes {
		if ch.EntityID == "" || ch.Attribute == "" {
			continue
		}
		c, ok := byID[ch.EntityID]
		if !ok {
			warnings = append(warnings, fmt.Sprintf("%s is not a known device", ch.EntityID))
			continue
		}
		if !c.Supports(ch.Attribute) {
			name := c.FriendlyName
			if name == "" {
				name = c.EntityID
			}
			warnings = append(warnings, fmt.Sprintf("%s has no %s capability", name, ch.Attribute))
			if alt := suggestAlternative(c); alt != "" {
				alternatives = append(alternatives, alt)
			}
		}
	}
	return warnings, alternatives
}

func suggestAlternative(c capability.Capabilities) string {
	for _, attr := range c.Attributes {
		switch attr {
		case "temperature":
			return "adjust target temperature instead"
		case "brightness":
			return "adjust brightness instead"
		case "percentage":
			return "adjust speed percentage instead"
		}
	}
	if len(c.Attributes) > 0 {
		return fmt.Sprintf("adjust %s instead", c.Attributes[0])
	}
	return ""
}
