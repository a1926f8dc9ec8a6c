package classify

import "strings"

// Keywords holds the two keyword sets scanned by the lexical tier. Order
// within each set is the scan priority.
type Keywords struct {
	High   []string `yaml:"high"`
	Medium []string `yaml:"medium"`
}

// DefaultKeywords returns the built-in keyword sets.
func DefaultKeywords() Keywords {
	return Keywords{
		High: []string{
			"buy now", "click here", "free money", "make money fast", "earn cash",
			"bitcoin", "crypto", "investment opportunity", "get rich", "prize winner",
			"congratulations you won", "claim your prize", "limited time offer",
			"act now", "subscribe to my channel", "check out my channel", "sub4sub",
			"onlyfans", "telegram", "whatsapp me", "dm me", "text me at",
		},
		Medium: []string{
			"check out", "visit my", "link in bio", "click link", "follow me",
			"thanks for sharing", "great info", "nice video", "awesome content",
			"check my channel", "new video", "subscribe", "sub back",
		},
	}
}

// Lexicon is the lexical tier. It is immutable after construction and safe
// for concurrent use.
type Lexicon struct {
	high   []string
	medium []string
}

// NewLexicon normalizes the keyword sets and builds a Lexicon.
func NewLexicon(k Keywords) *Lexicon {
	return &Lexicon{
		high:   normalizeKeywords(k.High),
		medium: normalizeKeywords(k.Medium),
	}
}

// Classify maps text to spam, suspicious or safe by case-insensitive
// substring matching. High-risk keywords always win over medium-risk ones.
func (l *Lexicon) Classify(text string) Verdict {
	lower := strings.ToLower(text)
	if strings.TrimSpace(lower) == "" {
		return VerdictSafe
	}

	for _, keyword := range l.high {
		if strings.Contains(lower, keyword) {
			return VerdictSpam
		}
	}

	for _, keyword := range l.medium {
		if strings.Contains(lower, keyword) {
			return VerdictSuspicious
		}
	}

	return VerdictSafe
}

// Keywords returns a copy of the normalized keyword sets.
func (l *Lexicon) Keywords() Keywords {
	return Keywords{
		High:   append([]string(nil), l.high...),
		Medium: append([]string(nil), l.medium...),
	}
}

func normalizeKeywords(words []string) []string {
	seen := make(map[string]struct{}, len(words))
	out := make([]string, 0, len(words))

	for _, w := range words {
		lw := strings.ToLower(strings.TrimSpace(w))
		if lw == "" {
			continue
		}
		if _, exists := seen[lw]; exists {
			continue
		}
		seen[lw] = struct{}{}
		out = append(out, lw)
	}
	return out
}
