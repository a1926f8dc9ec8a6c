package classify

import (
	"context"

	"commentguard/internal/metrics"
)

// Pipeline composes the lexical and semantic tiers.
type Pipeline struct {
	lexicon *Lexicon
	arbiter *Arbiter
}

// NewPipeline builds a pipeline. arbiter may be nil for lexical-only mode.
func NewPipeline(lexicon *Lexicon, arbiter *Arbiter) *Pipeline {
	if lexicon == nil {
		lexicon = NewLexicon(DefaultKeywords())
	}
	return &Pipeline{lexicon: lexicon, arbiter: arbiter}
}

// SemanticAvailable reports whether ambiguous comments reach the model.
func (p *Pipeline) SemanticAvailable() bool {
	return p.arbiter.Available()
}

// Classify returns the final verdict for text. Definite lexical verdicts
// never reach the semantic tier.
func (p *Pipeline) Classify(ctx context.Context, text string) Result {
	result := p.classify(ctx, text)
	metrics.Verdicts.WithLabelValues(string(result.Verdict), string(result.Tier)).Inc()
	return result
}

func (p *Pipeline) classify(ctx context.Context, text string) Result {
	verdict := p.lexicon.Classify(text)
	if verdict != VerdictSuspicious {
		return Result{Verdict: verdict, Tier: TierLexical}
	}

	if p.arbiter.Available() {
		outcome := p.arbiter.Classify(ctx, text)
		return Result{Verdict: outcome.Verdict, Tier: TierSemantic}
	}

	return Result{Verdict: VerdictSuspicious, Tier: TierLexical}
}
