// Package ledger deduplicates comments by canonical text, caches their
// verdicts and keeps the aggregate tally for one content unit.
package ledger

import (
	"context"
	"encoding/hex"
	"errors"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/sync/singleflight"

	"commentguard/internal/classify"
)

// Classifier produces the verdict for a comment that has not been seen yet.
type Classifier interface {
	Classify(ctx context.Context, text string) classify.Result
}

// Item is one observed comment.
type Item struct {
	Text string
	Key  string
	Ref  string // browser-side handle, opaque to the ledger
}

// NewItem derives the canonical key for text.
func NewItem(text, ref string) Item {
	return Item{Text: text, Key: Canonicalize(text), Ref: ref}
}

// Canonicalize lowercases and trims text.
func Canonicalize(text string) string {
	return strings.ToLower(strings.TrimSpace(text))
}

// Fingerprint returns a short digest of key, used in logs instead of
// comment text.
func Fingerprint(key string) string {
	sum := blake2b.Sum256([]byte(key))
	return hex.EncodeToString(sum[:6])
}

// Stats is the aggregate tally.
type Stats struct {
	Total      int `json:"total"`
	Safe       int `json:"safe"`
	Suspicious int `json:"suspicious"`
	Spam       int `json:"spam"`
}

func (s *Stats) add(v classify.Verdict) {
	s.Total++
	switch v {
	case classify.VerdictSpam:
		s.Spam++
	case classify.VerdictSuspicious:
		s.Suspicious++
	default:
		s.Safe++
	}
}

// Ledger is safe for concurrent use.
type Ledger struct {
	classifier Classifier
	log        *zap.Logger

	mu         sync.RWMutex
	entries    map[string]classify.Result
	stats      Stats
	generation uint64

	inflight singleflight.Group
	joining  func() // test hook, called before joining a flight
}

// New creates an empty ledger backed by classifier.
func New(classifier Classifier, log *zap.Logger) *Ledger {
	if log == nil {
		log = zap.NewNop()
	}
	return &Ledger{
		classifier: classifier,
		log:        log,
		entries:    make(map[string]classify.Result),
	}
}

// Has reports whether key has a cached verdict.
func (l *Ledger) Has(key string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.entries[key]
	return ok
}

// Get returns the cached verdict for key.
func (l *Ledger) Get(key string) (classify.Result, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	result, ok := l.entries[key]
	return result, ok
}

// Len returns the number of unique comments recorded.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Stats returns a snapshot of the tally.
func (l *Ledger) Stats() Stats {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.stats
}

// errAbandoned marks a flight whose caller was canceled mid-classification.
var errAbandoned = errors.New("classification abandoned")

// Record returns the verdict for item, classifying it only if its key has not
// been seen. Concurrent calls for the same key share one classification. A
// result produced after ctx is done is returned but never cached.
func (l *Ledger) Record(ctx context.Context, item Item) classify.Result {
	for {
		if result, ok := l.Get(item.Key); ok {
			return result
		}

		l.mu.RLock()
		generation := l.generation
		l.mu.RUnlock()

		if l.joining != nil {
			l.joining()
		}
		flight := strconv.FormatUint(generation, 10) + "\x00" + item.Key
		v, err, _ := l.inflight.Do(flight, func() (any, error) {
			if result, ok := l.Get(item.Key); ok {
				return result, nil
			}

			result := l.classifier.Classify(ctx, item.Text)
			if ctx.Err() != nil {
				return result, errAbandoned
			}

			l.mu.Lock()
			defer l.mu.Unlock()
			if l.generation != generation {
				// Reset while classifying; the cleared ledger must stay empty.
				return result, nil
			}
			if existing, ok := l.entries[item.Key]; ok {
				return existing, nil
			}
			l.entries[item.Key] = result
			l.stats.add(result.Verdict)

			l.log.Debug("comment classified",
				zap.String("fingerprint", Fingerprint(item.Key)),
				zap.String("verdict", string(result.Verdict)),
				zap.String("tier", string(result.Tier)))
			return result, nil
		})
		if err == nil || ctx.Err() != nil {
			return v.(classify.Result)
		}
		// The flight we joined was abandoned by its owner; classify again.
	}
}

// Reset clears every entry and zeroes the tally.
func (l *Ledger) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = make(map[string]classify.Result)
	l.stats = Stats{}
	l.generation++
}
