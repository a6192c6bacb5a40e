package classify

import (
	"regexp"
	"strings"

	"github.com/kalambet/leadbot/internal/heuristics"
)

const (
	compactLimit = 400
	compactHead  = 200
)

var sentenceEnd = regexp.MustCompile(`[.!?\n]\s+`)

// Compact shortens long text for the model: the first 200 characters plus
// every sentence carrying a buyer trigger, cut to 400 characters.
func Compact(text string) string {
	runes := []rune(text)
	if len(runes) <= compactLimit {
		return text
	}

	var keep []string
	for _, s := range splitSentences(text) {
		if heuristics.HasBuyerTrigger(s) {
			keep = append(keep, s)
		}
	}
	out := string(runes[:compactHead]) + "\n" + strings.Join(keep, "\n")
	return truncateRunes(out, compactLimit)
}

// splitSentences splits after sentence punctuation or a newline followed by
// whitespace, keeping the punctuation with its sentence.
func splitSentences(text string) []string {
	var parts []string
	last := 0
	for _, loc := range sentenceEnd.FindAllStringIndex(text, -1) {
		// loc[0] is the punctuation byte, which stays with the sentence
		cut := loc[0] + 1
		parts = append(parts, text[last:cut])
		last = loc[1]
	}
	return append(parts, text[last:])
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
