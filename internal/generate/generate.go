package generate

import (
	"context"
	"fmt"

	"suggestify/internal/automation"
	"suggestify/internal/capability"
	"suggestify/internal/llm"
	"suggestify/internal/util/jsonutil"
)

// Failure means the description could not be translated into automation
// code at all. Retry policy belongs to the caller, not here.
type Failure struct {
	Err error
}

func (f *Failure) Error() string { return fmt.Sprintf("generation failed: %v", f.Err) }
func (f *Failure) Unwrap() error { return f.Err }

// Request carries everything one generation attempt needs. Instruction is
// the corrective feedback from a previous self-correction iteration, empty
// on the first attempt.
type Request struct {
	Description  string
	Instruction  string
	Capabilities []capability.Capabilities
}

// Result is one generated candidate: the YAML code users see, the decoded
// document the validator inspects, and the model's own safety confidence.
type Result struct {
	Code        string
	Document    *automation.Document
	SafetyScore int
}

// Generator turns a validated natural-language description into candidate
// automation code. Each call is a fresh attempt; results are never cached.
type Generator interface {
	Generate(ctx context.Context, req Request) (*Result, error)
}

const generatePrompt = `You translate a home-automation request into a Home Assistant automation.
Use only the entities and attributes listed under device_capabilities.
Respond with a single JSON object:
{
  "automation": {"alias": ..., "mode": ..., "trigger": [...], "condition": [...], "action": [...]},
  "safety_score": <integer 0-100, your confidence that the automation does what the description says and has no unsafe side effects>
}
Rules: never call homeassistant.stop/restart or shell commands; every repeat block needs a count or while/until bound; keep the automation minimal.`

// LLMGenerator is the production Generator backed by a language model.
type LLMGenerator struct {
	client llm.Client
}

func NewLLMGenerator(client llm.Client) *LLMGenerator {
	return &LLMGenerator{client: client}
}

type generateInput struct {
	Description           string                    `json:"description"`
	CorrectiveInstruction string                    `json:"corrective_instruction,omitempty"`
	DeviceCapabilities    []capability.Capabilities `json:"device_capabilities"`
}

type generateOutput struct {
	Automation  *automation.Document `json:"automation"`
	SafetyScore int                  `json:"safety_score"`
}

func (g *LLMGenerator) Generate(ctx context.Context, req Request) (*Result, error) {
	ctx = llm.WithPhase(ctx, "generate")
	raw, err := g.client.GenerateJSON(ctx, generatePrompt, generateInput{
		Description:           req.Description,
		CorrectiveInstruction: req.Instruction,
		DeviceCapabilities:    req.Capabilities,
	})
	if err != nil {
		return nil, &Failure{Err: err}
	}
	var out generateOutput
	if err := jsonutil.UnmarshalModel(raw, &out); err != nil {
		return nil, &Failure{Err: fmt.Errorf("decode model output: %w", err)}
	}
	if out.Automation == nil {
		return nil, &Failure{Err: fmt.Errorf("model returned no automation")}
	}
	code, err := out.Automation.Encode()
	if err != nil {
		return nil, &Failure{Err: err}
	}
	score := out.SafetyScore
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	return &Result{Code: code, Document: out.Automation, SafetyScore: score}, nil
}
