// Package classify implements the two-tier comment classifier: a lexical
// keyword filter followed by an optional semantic arbiter for ambiguous text.
package classify

// Verdict is the risk label assigned to a comment.
type Verdict string

const (
	VerdictSafe       Verdict = "safe"
	VerdictSuspicious Verdict = "suspicious"
	VerdictSpam       Verdict = "spam"
)

// Severity orders verdicts for tie-breaking: spam > suspicious > safe.
func (v Verdict) Severity() int {
	switch v {
	case VerdictSpam:
		return 2
	case VerdictSuspicious:
		return 1
	default:
		return 0
	}
}

// Tier identifies which classification step produced a verdict.
type Tier string

const (
	TierLexical  Tier = "lexical"
	TierSemantic Tier = "semantic"
)

// Result is the final classification of a single comment.
type Result struct {
	Verdict Verdict `json:"verdict"`
	Tier    Tier    `json:"tier"`
}
