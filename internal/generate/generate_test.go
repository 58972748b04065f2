package generate

import (
	"context"
	"errors"
	"testing"

	"suggestify/internal/capability"
	"suggestify/internal/llm"
	"suggestify/internal/tester"
)

func scriptedGenerator(doc map[string]any, score int) *LLMGenerator {
	fake := llm.NewFakeClient().Script("generate", map[string]any{
		"automation":   doc,
		"safety_score": score,
	})
	return NewLLMGenerator(fake)
}

func TestGenerateDecodesModelOutput(t *testing.T) {
	gen := scriptedGenerator(map[string]any{
		"alias": "lights on arrival",
		"trigger": []map[string]any{
			{"platform": "state", "entity_id": "person.alex", "to": "home"},
		},
		"action": []map[string]any{
			{"service": "light.turn_on", "entity_id": "light.living_room"},
		},
	}, 92)

	res, err := gen.Generate(context.Background(), Request{
		Description:  "turn on the living room lights when I get home",
		Capabilities: []capability.Capabilities{{EntityID: "light.living_room", Domain: "light"}},
	})
	tester.NoErr(t, err)
	tester.Eq(t, res.SafetyScore, 92)
	tester.Eq(t, res.Document.Alias, "lights on arrival")
	tester.True(t, len(res.Code) > 0, "code rendered")
}

func TestGenerateClampsScore(t *testing.T) {
	gen := scriptedGenerator(map[string]any{
		"alias":   "x",
		"trigger": []map[string]any{{"platform": "time", "at": "07:00:00"}},
		"action":  []map[string]any{{"service": "light.turn_on"}},
	}, 400)
	res, err := gen.Generate(context.Background(), Request{Description: "x"})
	tester.NoErr(t, err)
	tester.Eq(t, res.SafetyScore, 100)
}

func TestGenerateBackendErrorIsFailure(t *testing.T) {
	fake := llm.NewFakeClient().Fail(errors.New("backend down"))
	gen := NewLLMGenerator(fake)
	_, err := gen.Generate(context.Background(), Request{Description: "x"})
	var f *Failure
	tester.True(t, errors.As(err, &f), "expected generation failure")
}

func TestGenerateMissingAutomationIsFailure(t *testing.T) {
	fake := llm.NewFakeClient().Script("generate", map[string]any{"safety_score": 50})
	gen := NewLLMGenerator(fake)
	_, err := gen.Generate(context.Background(), Request{Description: "x"})
	var f *Failure
	tester.True(t, errors.As(err, &f), "expected generation failure")
}
