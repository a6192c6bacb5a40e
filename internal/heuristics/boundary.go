package heuristics

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// RE2 has no lookbehind and its \b only knows ASCII, so word boundaries
// around Cyrillic text are checked on the runes next to each match.

// isAliasLetter reports whether r continues a word for alias matching:
// Russian or Latin lowercase letters.
func isAliasLetter(r rune) bool {
	return (r >= 'а' && r <= 'я') || r == 'ё' || (r >= 'a' && r <= 'z')
}

// isWordRune mirrors a Unicode-aware \w.
func isWordRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

func runeBefore(s string, i int) (rune, bool) {
	if i <= 0 {
		return 0, false
	}
	r, _ := utf8.DecodeLastRuneInString(s[:i])
	return r, true
}

func runeAfter(s string, i int) (rune, bool) {
	if i >= len(s) {
		return 0, false
	}
	r, _ := utf8.DecodeRuneInString(s[i:])
	return r, true
}

// bounded reports whether the span [start, end) of s is not glued to a
// rune satisfying inWord on either side.
func bounded(s string, start, end int, inWord func(rune) bool) bool {
	if r, ok := runeBefore(s, start); ok && inWord(r) {
		return false
	}
	if r, ok := runeAfter(s, end); ok && inWord(r) {
		return false
	}
	return true
}

// findBounded returns the first match of re in s whose edges are word
// boundaries under inWord, or nil.
func findBounded(re *regexp.Regexp, s string, inWord func(rune) bool) []int {
	for _, loc := range re.FindAllStringSubmatchIndex(s, -1) {
		if bounded(s, loc[0], loc[1], inWord) {
			return loc
		}
	}
	return nil
}

func matchBounded(re *regexp.Regexp, s string, inWord func(rune) bool) bool {
	return findBounded(re, s, inWord) != nil
}

func countBounded(re *regexp.Regexp, s string, inWord func(rune) bool) int {
	n := 0
	for _, loc := range re.FindAllStringIndex(s, -1) {
		if bounded(s, loc[0], loc[1], inWord) {
			n++
		}
	}
	return n
}

// ContainsWord reports whether needle occurs in haystack as a separate word,
// not as part of a longer one. Comparison is case-insensitive.
func ContainsWord(haystack, needle string) bool {
	h, n := lower(haystack), lower(needle)
	if n == "" {
		return false
	}
	for off := 0; off < len(h); {
		i := strings.Index(h[off:], n)
		if i < 0 {
			return false
		}
		start := off + i
		if bounded(h, start, start+len(n), isAliasLetter) {
			return true
		}
		_, size := utf8.DecodeRuneInString(h[start:])
		off = start + size
	}
	return false
}
