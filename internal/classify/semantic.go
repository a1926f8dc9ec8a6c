package classify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"commentguard/internal/metrics"
)

// Availability is the readiness of the generative-model service.
type Availability string

const (
	Unavailable Availability = "unavailable"
	NeedsFetch  Availability = "needs-fetch"
	Ready       Availability = "ready"
)

// SessionConfig configures a model session.
type SessionConfig struct {
	SystemPrompt    string
	MaxOutputTokens int
}

// Service abstracts the generative-model service used by the semantic tier.
type Service interface {
	Availability(ctx context.Context) (Availability, error)
	CreateSession(ctx context.Context, cfg SessionConfig) (Session, error)
}

// Session is a configured model handle.
type Session interface {
	Prompt(ctx context.Context, text string) (string, error)
}

// SystemPrompt is the fixed preamble sent when creating a model session.
const SystemPrompt = `You are a spam detector for YouTube comments.
Analyze if a comment is spam or legitimate.
Spam includes: self-promotion, scams, bots, fake engagement, phishing.
Legitimate includes: genuine opinions, questions, discussions.
Reply with ONLY one word: "spam" or "safe".`

// Failure explains why the semantic tier fell back to suspicious.
type Failure string

const (
	FailureNone        Failure = ""
	FailureCallFailed  Failure = "call-failed"
	FailureUnparseable Failure = "unparseable-reply"
	// FailureCanceled means the caller gave up; the model was not at fault.
	FailureCanceled Failure = "canceled"
)

// Outcome is the result of one semantic classification. Verdict is always
// set; Failure is non-empty when the verdict is a fallback.
type Outcome struct {
	Verdict Verdict
	Failure Failure
}

// ArbiterConfig tunes the semantic tier.
type ArbiterConfig struct {
	Timeout         time.Duration // per prompt; zero means no timeout
	MaxInputChars   int           // comment length limit in runes, applied before templating
	MaxOutputTokens int
}

// Arbiter is the semantic tier. A nil *Arbiter or one whose service never
// became ready reports Available() == false.
type Arbiter struct {
	session   Session
	available bool
	timeout   time.Duration
	maxInput  int
	breaker   *gobreaker.CircuitBreaker
	log       *zap.Logger
}

// NewArbiter probes the service and creates a session when it is ready. It
// never fails: an unusable service yields an arbiter that is not available.
func NewArbiter(ctx context.Context, svc Service, cfg ArbiterConfig, log *zap.Logger) *Arbiter {
	if log == nil {
		log = zap.NewNop()
	}
	a := &Arbiter{timeout: cfg.Timeout, maxInput: cfg.MaxInputChars, log: log}
	a.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "semantic-arbiter",
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
		// A caller abandoning its request says nothing about the service.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("circuit breaker state change",
				zap.String("name", name), zap.String("from", from.String()), zap.String("to", to.String()))
		},
	})

	if svc == nil {
		log.Info("semantic service not configured")
		return a
	}

	availability, err := svc.Availability(ctx)
	if err != nil {
		log.Info("semantic service unavailable", zap.Error(err))
		return a
	}
	switch availability {
	case Ready:
	case NeedsFetch:
		log.Info("semantic model needs to be fetched before it can be used")
		return a
	default:
		log.Info("semantic service unavailable", zap.String("availability", string(availability)))
		return a
	}

	session, err := svc.CreateSession(ctx, SessionConfig{
		SystemPrompt:    SystemPrompt,
		MaxOutputTokens: cfg.MaxOutputTokens,
	})
	if err != nil {
		log.Warn("semantic session creation failed", zap.Error(err))
		return a
	}

	a.session = session
	a.available = true
	log.Info("semantic classification enabled")
	return a
}

// Available reports whether the semantic tier may be consulted.
func (a *Arbiter) Available() bool {
	return a != nil && a.available && a.session != nil
}

// Classify asks the model about text. It never returns an error; every
// failure degrades to suspicious.
func (a *Arbiter) Classify(ctx context.Context, text string) Outcome {
	if !a.Available() {
		return Outcome{Verdict: VerdictSuspicious, Failure: FailureCallFailed}
	}
	if ctx.Err() != nil {
		metrics.SemanticCalls.WithLabelValues(string(FailureCanceled)).Inc()
		return Outcome{Verdict: VerdictSuspicious, Failure: FailureCanceled}
	}

	prompt := PromptFor(truncateRunes(text, a.maxInput))
	parent := ctx
	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	reply, err := a.breaker.Execute(func() (any, error) {
		return a.session.Prompt(ctx, prompt)
	})
	if err != nil {
		if parent.Err() != nil {
			metrics.SemanticCalls.WithLabelValues(string(FailureCanceled)).Inc()
			return Outcome{Verdict: VerdictSuspicious, Failure: FailureCanceled}
		}
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			a.log.Debug("semantic call rejected by circuit breaker")
		} else {
			a.log.Debug("semantic call failed", zap.Error(err))
		}
		metrics.SemanticCalls.WithLabelValues(string(FailureCallFailed)).Inc()
		return Outcome{Verdict: VerdictSuspicious, Failure: FailureCallFailed}
	}

	answer, _ := reply.(string)
	verdict, ok := ParseReply(answer)
	if !ok {
		metrics.SemanticCalls.WithLabelValues(string(FailureUnparseable)).Inc()
		return Outcome{Verdict: VerdictSuspicious, Failure: FailureUnparseable}
	}
	metrics.SemanticCalls.WithLabelValues("ok").Inc()
	return Outcome{Verdict: verdict}
}

// PromptFor embeds a comment in the fixed question template.
func PromptFor(text string) string {
	return fmt.Sprintf("Is this YouTube comment spam?\n\nComment: \"%s\"\n\nAnswer:", text)
}

func truncateRunes(text string, limit int) string {
	if limit <= 0 {
		return text
	}
	if r := []rune(text); len(r) > limit {
		return string(r[:limit])
	}
	return text
}

// ParseReply normalizes a free-text model reply. "spam" wins over "safe";
// ok is false when neither word appears.
func ParseReply(reply string) (Verdict, bool) {
	normalized := strings.ToLower(strings.TrimSpace(reply))
	switch {
	case strings.Contains(normalized, "spam"):
		return VerdictSpam, true
	case strings.Contains(normalized, "safe"):
		return VerdictSafe, true
	default:
		return VerdictSuspicious, false
	}
}
