package lookup

import (
	"iter"
	"strings"
)

// minKeywordLen is the minimum length of a keyword.
const minKeywordLen = 2

// IsBadKeyword returns true if the keyword is too common to narrow down the
// search.
func IsBadKeyword(kw string) (ok bool) {
	switch kw {
	case "https", "http", "com", "js":
		return true
	default:
		return false
	}
}

// isKeywordChar returns true if c may be a part of a lower-cased keyword.
func isKeywordChar(c byte) (ok bool) {
	return c >= 'a' && c <= 'z' || c >= '0' && c <= '9' || c == '%'
}

// PatternKeywords yields the keyword candidates of a lower-cased URL pattern:
// the runs of keyword characters surrounded by characters which are neither
// keyword characters nor wildcards.  A run at the start or at the end of the
// pattern is not a candidate, since the URL may continue it.
func PatternKeywords(pattern string) (seq iter.Seq[string]) {
	return func(yield func(string) bool) {
		for i := 0; i < len(pattern); {
			if !isKeywordChar(pattern[i]) {
				i++

				continue
			}

			start := i
			for i < len(pattern) && isKeywordChar(pattern[i]) {
				i++
			}

			if start == 0 || i == len(pattern) || i-start < minKeywordLen {
				continue
			}

			if pattern[start-1] == '*' || pattern[i] == '*' {
				continue
			}

			if !yield(pattern[start:i]) {
				return
			}
		}
	}
}

// BestKeyword returns the keyword for the pattern with the least count of
// rules, preferring longer keywords on ties.  count returns the number of
// rules already indexed by a keyword.  It returns the empty string if the
// pattern has no usable keywords.
func BestKeyword(pattern string, count func(kw string) (n int)) (kw string) {
	best, bestCount := "", -1
	for candidate := range PatternKeywords(strings.ToLower(pattern)) {
		if IsBadKeyword(candidate) {
			continue
		}

		n := count(candidate)
		if bestCount == -1 || n < bestCount || (n == bestCount && len(candidate) > len(best)) {
			best, bestCount = candidate, n
		}
	}

	return best
}

// URLKeywords yields the keyword-shaped substrings of a lower-cased URL and
// then the empty string.  Bad keywords are skipped.
func URLKeywords(url string) (seq iter.Seq[string]) {
	return func(yield func(string) bool) {
		for i := 0; i < len(url); {
			if !isKeywordChar(url[i]) {
				i++

				continue
			}

			start := i
			for i < len(url) && isKeywordChar(url[i]) {
				i++
			}

			kw := url[start:i]
			if len(kw) < minKeywordLen || IsBadKeyword(kw) {
				continue
			}

			if !yield(kw) {
				return
			}
		}

		yield("")
	}
}
