package selfcorrect

import (
	"context"
	"strings"
	"unicode"
)

// LexicalScorer is an offline Scorer: Jaccard overlap of ident-like words.
// Crude next to a model judge, but deterministic, which makes it the default
// for tests and air-gapped runs.
type LexicalScorer struct{}

func (LexicalScorer) Score(_ context.Context, reconstructed, original string) (float64, error) {
	a := wordSet(reconstructed)
	b := wordSet(original)
	if len(a) == 0 || len(b) == 0 {
		return 0, nil
	}
	inter := 0
	for w := range a {
		if b[w] {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union), nil
}

// wordSet keeps only ident-like words: start with a letter or '_',
// continue with letter/digit/'_'. Numbers and symbols are delimiters.
func wordSet(s string) map[string]bool {
	out := map[string]bool{}
	var cur strings.Builder
	flush := func() {
		if cur.Len() > 0 {
			out[strings.ToLower(cur.String())] = true
			cur.Reset()
		}
	}
	for _, r := range s {
		switch {
		case unicode.IsLetter(r) || r == '_':
			cur.WriteRune(r)
		case (unicode.IsDigit(r)) && cur.Len() > 0:
			cur.WriteRune(r)
		default:
			flush()
		}
	}
	flush()
	return out
}
