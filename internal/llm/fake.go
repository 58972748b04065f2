package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// FakeClient returns scripted JSON payloads per phase for offline/testing.
// Responses for a phase are consumed in order; the last one repeats.
type FakeClient struct {
	mu        sync.Mutex
	responses map[string][]json.RawMessage
	calls     map[string]int
	err       error
}

func NewFakeClient() *FakeClient {
	return &FakeClient{
		responses: make(map[string][]json.RawMessage),
		calls:     make(map[string]int),
	}
}

// Script appends a canned response for the given phase.
func (f *FakeClient) Script(phase string, v any) *FakeClient {
	raw, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	f.mu.Lock()
	f.responses[phase] = append(f.responses[phase], raw)
	f.mu.Unlock()
	return f
}

// Fail makes every subsequent call return err.
func (f *FakeClient) Fail(err error) *FakeClient {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
	return f
}

// Calls reports how many times the given phase was invoked.
func (f *FakeClient) Calls(phase string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[phase]
}

func (f *FakeClient) Name() string { return "FakeLLM" }
func (f *FakeClient) Close() error { return nil }

func (f *FakeClient) GenerateJSON(ctx context.Context, prompt string, input any) (json.RawMessage, error) {
	phase := PhaseFrom(ctx)
	f.mu.Lock()
	defer f.mu.Unlock()
	n := f.calls[phase]
	f.calls[phase] = n + 1
	if f.err != nil {
		return nil, f.err
	}
	rs := f.responses[phase]
	if len(rs) == 0 {
		return nil, fmt.Errorf("fake llm: no scripted response for phase %q", phase)
	}
	if n >= len(rs) {
		n = len(rs) - 1
	}
	return rs[n], nil
}
