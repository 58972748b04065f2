package selfcorrect

import (
	"context"
	"fmt"

	"suggestify/internal/llm"
	"suggestify/internal/util/jsonutil"
)

const reconstructPrompt = `You are given Home Assistant automation YAML.
Describe in one or two plain-language sentences what this automation actually
does: when it fires, under which conditions, and what it changes. Describe
observed behavior only, not intent.
Respond with a single JSON object: {"behavior_description": <string>}`

const scorePrompt = `Compare the observed behavior of a generated automation
against the user's original request.
Respond with a single JSON object: {"similarity": <float 0.0-1.0>} where 1.0
means the behavior matches the request exactly and 0.0 means it is unrelated.
Judge behavior, not wording.`

// LLMReconstructor asks the model to read code back into behavior.
type LLMReconstructor struct {
	client llm.Client
}

func NewLLMReconstructor(client llm.Client) *LLMReconstructor {
	return &LLMReconstructor{client: client}
}

func (r *LLMReconstructor) Reconstruct(ctx context.Context, code string) (string, error) {
	ctx = llm.WithPhase(ctx, "reconstruct")
	raw, err := r.client.GenerateJSON(ctx, reconstructPrompt, map[string]string{"automation_yaml": code})
	if err != nil {
		return "", fmt.Errorf("reconstruct: %w", err)
	}
	var out struct {
		BehaviorDescription string `json:"behavior_description"`
	}
	if err := jsonutil.UnmarshalModel(raw, &out); err != nil {
		return "", fmt.Errorf("reconstruct: decode model output: %w", err)
	}
	if out.BehaviorDescription == "" {
		return "", fmt.Errorf("reconstruct: model returned empty description")
	}
	return out.BehaviorDescription, nil
}

// LLMScorer asks the model to judge behavioral similarity.
type LLMScorer struct {
	client llm.Client
}

func NewLLMScorer(client llm.Client) *LLMScorer {
	return &LLMScorer{client: client}
}

func (s *LLMScorer) Score(ctx context.Context, reconstructed, original string) (float64, error) {
	ctx = llm.WithPhase(ctx, "score")
	raw, err := s.client.GenerateJSON(ctx, scorePrompt, map[string]string{
		"observed_behavior": reconstructed,
		"original_request":  original,
	})
	if err != nil {
		return 0, fmt.Errorf("score: %w", err)
	}
	var out struct {
		Similarity float64 `json:"similarity"`
	}
	if err := jsonutil.UnmarshalModel(raw, &out); err != nil {
		return 0, fmt.Errorf("score: decode model output: %w", err)
	}
	return clamp01(out.Similarity), nil
}
