// Package moderation holds the client-side content pre-check. It is advisory
// only: the backend runs its own moderation on persisted messages and its
// verdict wins for stored state.
package moderation

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// flaggedKeywords is the denylist checked by substring match, case-insensitive.
var flaggedKeywords = []string{
	"inappropriate", "spam", "hack", "cheat", "illegal",
}

const (
	capsRatioThreshold = 0.7
	capsMinLength      = 10
	maxWordRepeats     = 5
)

type Verdict struct {
	Flagged bool
	Reason  string
}

// Evaluate scores text against the keyword, capitalization and repetition
// rules in that order; the first rule that matches decides the verdict.
func Evaluate(text string) Verdict {
	if text == "" {
		return Verdict{}
	}

	lower := strings.ToLower(text)
	for _, kw := range flaggedKeywords {
		if strings.Contains(lower, kw) {
			return Verdict{
				Flagged: true,
				Reason:  fmt.Sprintf("contains inappropriate keyword: %s", kw),
			}
		}
	}

	if total := utf8.RuneCountInString(text); total > capsMinLength {
		upper := 0
		for _, r := range text {
			if unicode.IsUpper(r) {
				upper++
			}
		}
		if float64(upper)/float64(total) > capsRatioThreshold {
			return Verdict{Flagged: true, Reason: "excessive capital letters"}
		}
	}

	counts := make(map[string]int)
	for _, word := range strings.Fields(text) {
		counts[word]++
		if counts[word] > maxWordRepeats {
			return Verdict{
				Flagged: true,
				Reason:  fmt.Sprintf("excessive repetition of word: %s", word),
			}
		}
	}

	return Verdict{}
}
