package llmlog

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

const (
	maxPromptBytes = 2000
	maxPending     = 256
)

// Interaction is one completed model call, prompt and outcome paired up.
type Interaction struct {
	Timestamp time.Time       `json:"timestamp"`
	Phase     string          `json:"phase"`
	Prompt    string          `json:"prompt"`
	Response  json.RawMessage `json:"response,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// Recorder is an llm.PromptHook that keeps the most recent interactions in a
// ring buffer for the debug endpoint. Prompts are truncated; this is a
// trace, not an archive.
type Recorder struct {
	mu      sync.Mutex
	pending map[context.Context]string // call ctx -> prompt awaiting its After
	buf     []Interaction
	next    int
	filled  bool
}

func NewRecorder(size int) *Recorder {
	if size <= 0 {
		size = 64
	}
	return &Recorder{
		pending: make(map[context.Context]string),
		buf:     make([]Interaction, size),
	}
}

// Before keys the prompt by the call's context so concurrent calls in the
// same phase pair up with their own After.
func (r *Recorder) Before(ctx context.Context, phase, prompt string, _ any) {
	if len(prompt) > maxPromptBytes {
		prompt = prompt[:maxPromptBytes]
	}
	r.mu.Lock()
	if len(r.pending) >= maxPending {
		// Abandoned calls (context cancelled before the client reported
		// back) would otherwise accumulate here forever.
		r.pending = make(map[context.Context]string)
	}
	r.pending[ctx] = prompt
	r.mu.Unlock()
}

func (r *Recorder) After(ctx context.Context, phase string, raw json.RawMessage, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	it := Interaction{
		Timestamp: time.Now().UTC(),
		Phase:     phase,
		Prompt:    r.pending[ctx],
		Response:  raw,
	}
	delete(r.pending, ctx)
	if err != nil {
		it.Error = err.Error()
	}
	r.buf[r.next] = it
	r.next++
	if r.next == len(r.buf) {
		r.next = 0
		r.filled = true
	}
}

// Recent returns interactions newest first.
func (r *Recorder) Recent() []Interaction {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := r.next
	if r.filled {
		n = len(r.buf)
	}
	out := make([]Interaction, 0, n)
	for i := 0; i < n; i++ {
		idx := (r.next - 1 - i + len(r.buf)) % len(r.buf)
		out = append(out, r.buf[idx])
	}
	return out
}
