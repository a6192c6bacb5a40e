package heuristics

import (
	"regexp"
	"strings"

	"github.com/kljensen/snowball/russian"
)

var (
	wordRE    = regexp.MustCompile(`[а-яa-zё]+`)
	hashtagRE = regexp.MustCompile(`#[\p{L}\p{N}_]+`)
)

func lower(s string) string { return strings.ToLower(s) }

// StripHashtags removes #tags and trims the result.
func StripHashtags(text string) string {
	return strings.TrimSpace(hashtagRE.ReplaceAllString(text, ""))
}

// CountHashtags returns the number of #tags in text.
func CountHashtags(text string) int {
	return len(hashtagRE.FindAllStringIndex(text, -1))
}

// Tokens returns the Russian and Latin word tokens of the lowercased text.
func Tokens(text string) []string {
	return wordRE.FindAllString(lower(text), -1)
}

// Stem returns the Russian Snowball stem of a lowercased word.
func Stem(word string) string {
	return russian.Stem(lower(strings.TrimSpace(word)), true)
}

// StemSet stems every token in text.
func StemSet(text string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, tok := range Tokens(text) {
		set[Stem(tok)] = struct{}{}
	}
	return set
}

// TokenStems tokenizes each keyword and stems every token.
func TokenStems(keywords []string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, kw := range keywords {
		for _, tok := range Tokens(kw) {
			set[Stem(tok)] = struct{}{}
		}
	}
	return set
}

// KeywordStems stems each keyword as a whole, the way subscriber keyword
// lists are matched against message stems.
func KeywordStems(keywords []string) map[string]struct{} {
	set := make(map[string]struct{}, len(keywords))
	for _, kw := range keywords {
		if s := Stem(kw); s != "" {
			set[s] = struct{}{}
		}
	}
	return set
}

// Intersects reports whether a and b share at least one element.
func Intersects(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for k := range a {
		if _, ok := b[k]; ok {
			return true
		}
	}
	return false
}

// FirstShared returns one element present in both sets.
func FirstShared(a, b map[string]struct{}) (string, bool) {
	for k := range a {
		if _, ok := b[k]; ok {
			return k, true
		}
	}
	return "", false
}

func containsAny(text string, terms []string) bool {
	for _, t := range terms {
		if strings.Contains(text, t) {
			return true
		}
	}
	return false
}

func countAll(text string, terms []string) int {
	n := 0
	for _, t := range terms {
		n += strings.Count(text, t)
	}
	return n
}
