package selfcorrect

import (
	"context"
	"fmt"
	"log"

	"suggestify/internal/capability"
	"suggestify/internal/generate"
)

// Reconstructor describes what candidate code actually does, independent of
// what it was meant to do. Similarity is judged on this reconstruction, not
// on the code text: there is no ground-truth code, only ground-truth intent.
type Reconstructor interface {
	Reconstruct(ctx context.Context, code string) (string, error)
}

// Scorer maps (reconstructed behavior, original intent) to [0,1].
// The algorithm behind it is deliberately pluggable.
type Scorer interface {
	Score(ctx context.Context, reconstructed, original string) (float64, error)
}

// Iteration is one loop pass, recorded for observability.
type Iteration struct {
	Iteration   int     `json:"iteration_number"`
	Similarity  float64 `json:"similarity"`
	CodeSummary string  `json:"code_snapshot_summary"`
}

// Run is the ephemeral report of one self-correction run. It lives only in
// the response envelope of the request that triggered it.
type Run struct {
	OriginalPrompt      string      `json:"original_prompt"`
	MaxIterations       int         `json:"max_iterations"`
	Threshold           float64     `json:"convergence_threshold"`
	Iterations          []Iteration `json:"iteration_history"`
	FinalSimilarity     float64     `json:"final_similarity"`
	IterationsCompleted int         `json:"iterations_completed"`
	ConvergenceAchieved bool        `json:"convergence_achieved"`

	// Candidate is the last successfully generated result, returned
	// best-effort whether or not the run converged.
	Candidate *generate.Result `json:"-"`
}

// Controller drives generate -> reconstruct -> score until the similarity
// threshold is met or the iteration budget runs out. Iterations are strictly
// sequential; each one feeds the next.
type Controller struct {
	Generator     generate.Generator
	Reconstructor Reconstructor
	Scorer        Scorer
	MaxIterations int
	Threshold     float64
}

func New(gen generate.Generator, rec Reconstructor, sc Scorer, maxIterations int, threshold float64) *Controller {
	if maxIterations <= 0 {
		maxIterations = 3
	}
	if threshold <= 0 || threshold > 1 {
		threshold = 0.80
	}
	return &Controller{
		Generator:     gen,
		Reconstructor: rec,
		Scorer:        sc,
		MaxIterations: maxIterations,
		Threshold:     threshold,
	}
}

// SelfCorrect runs the loop for the given prompt. It returns an error only
// when not a single candidate could be generated; any later failure aborts
// the loop and returns the best candidate so far with
// ConvergenceAchieved=false.
func (c *Controller) SelfCorrect(ctx context.Context, prompt string, caps []capability.Capabilities) (*Run, error) {
	run := &Run{
		OriginalPrompt: prompt,
		MaxIterations:  c.MaxIterations,
		Threshold:      c.Threshold,
	}

	instruction := ""
	for i := 1; i <= c.MaxIterations; i++ {
		cand, err := c.Generator.Generate(ctx, generate.Request{
			Description:  prompt,
			Instruction:  instruction,
			Capabilities: caps,
		})
		if err != nil {
			if run.Candidate == nil {
				return nil, err
			}
			log.Printf("self-correct: iteration %d generation failed, returning previous candidate: %v", i, err)
			return run, nil
		}
		run.Candidate = cand
		run.IterationsCompleted = i

		reconstructed, err := c.Reconstructor.Reconstruct(ctx, cand.Code)
		if err != nil {
			log.Printf("self-correct: iteration %d reconstruction failed: %v", i, err)
			return run, nil
		}
		sim, err := c.Scorer.Score(ctx, reconstructed, prompt)
		if err != nil {
			log.Printf("self-correct: iteration %d scoring failed: %v", i, err)
			return run, nil
		}
		sim = clamp01(sim)
		run.FinalSimilarity = sim
		run.Iterations = append(run.Iterations, Iteration{
			Iteration:   i,
			Similarity:  sim,
			CodeSummary: summarize(cand),
		})

		if sim >= c.Threshold {
			run.ConvergenceAchieved = true
			return run, nil
		}
		if i == c.MaxIterations {
			break
		}
		instruction = correctiveInstruction(reconstructed, prompt)
	}
	return run, nil
}

// correctiveInstruction states the observed discrepancy so the next
// generation attempt can close it.
func correctiveInstruction(reconstructed, original string) string {
	return fmt.Sprintf(
		"The previous attempt actually does the following: %s\nThe intended behavior is: %s\nRegenerate the automation so its behavior matches the intent exactly.",
		reconstructed, original)
}

func summarize(cand *generate.Result) string {
	if cand == nil || cand.Document == nil {
		return ""
	}
	d := cand.Document
	return fmt.Sprintf("alias=%q triggers=%d conditions=%d actions=%d",
		d.Alias, len(d.Triggers), len(d.Conditions), len(d.Actions))
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
