package rules

import (
	"regexp"
	"strings"
)

const (
	// RegexpSeparator is the regexp equivalent of the "^" separator mask.
	RegexpSeparator = `(?:[\x00-\x24\x26-\x2C\x2F\x3A-\x40\x5B-\x5E\x60\x7B-\x7F]|$)`

	// RegexpStartURL is the regexp equivalent of the "||" mask: a scheme, the
	// slashes, and optionally a part of the hostname ending with a dot.
	RegexpStartURL = `^[\w\-]+:/+(?:[^/]+\.)?`
)

// isRegexpPattern returns true if the pattern is delimited by slashes.
func isRegexpPattern(pattern string) (ok bool) {
	return len(pattern) >= 2 && pattern[0] == '/' && pattern[len(pattern)-1] == '/'
}

// normalizePattern drops the superfluous wildcards from a non-regexp pattern.
func normalizePattern(pattern string) (normalized string) {
	pattern = strings.Trim(pattern, "*")
	for strings.Contains(pattern, "**") {
		pattern = strings.ReplaceAll(pattern, "**", "*")
	}

	return pattern
}

// isLiteralPattern returns true if the pattern has no wildcards and no anchors
// or separators other than a leading "|" or "||" and a trailing "^" or "|".
func isLiteralPattern(pattern string) (ok bool) {
	switch {
	case strings.HasPrefix(pattern, "||"):
		pattern = pattern[2:]
	case strings.HasPrefix(pattern, "|"):
		pattern = pattern[1:]
	}

	if strings.HasSuffix(pattern, "^") || strings.HasSuffix(pattern, "|") {
		pattern = pattern[:len(pattern)-1]
	}

	return !strings.ContainsAny(pattern, "*^|")
}

// patternToRegexp converts a non-regexp pattern into regexp source.
func patternToRegexp(pattern string) (src string) {
	var prefix, suffix string
	switch {
	case strings.HasPrefix(pattern, "||"):
		prefix, pattern = RegexpStartURL, pattern[2:]
	case strings.HasPrefix(pattern, "|"):
		prefix, pattern = "^", pattern[1:]
	default:
		pattern = strings.TrimLeft(pattern, "*")
	}

	switch {
	case strings.HasSuffix(pattern, "^|"):
		pattern = pattern[:len(pattern)-1]
	case strings.HasSuffix(pattern, "|"):
		suffix, pattern = "$", pattern[:len(pattern)-1]
	default:
		pattern = strings.TrimRight(pattern, "*")
	}

	sb := &strings.Builder{}
	sb.WriteString(prefix)

	for pattern != "" {
		i := strings.IndexAny(pattern, "*^")
		if i == -1 {
			sb.WriteString(regexp.QuoteMeta(pattern))

			break
		}

		sb.WriteString(regexp.QuoteMeta(pattern[:i]))
		if pattern[i] == '*' {
			sb.WriteString(".*")
		} else {
			sb.WriteString(RegexpSeparator)
		}

		pattern = pattern[i+1:]
	}

	sb.WriteString(suffix)

	return sb.String()
}

// isSeparator returns true if c matches the "^" mask.
func isSeparator(c byte) (ok bool) {
	switch {
	case
		c >= 'a' && c <= 'z',
		c >= 'A' && c <= 'Z',
		c >= '0' && c <= '9',
		c == '%', c == '-', c == '.', c == '_',
		c >= 0x80:
		return false
	default:
		return true
	}
}

// isSchemeChar returns true if c may be a part of a URL scheme in the "||"
// mask.
func isSchemeChar(c byte) (ok bool) {
	return c >= 'a' && c <= 'z' ||
		c >= 'A' && c <= 'Z' ||
		c >= '0' && c <= '9' ||
		c == '_' || c == '-'
}

// isStartURLPrefix returns true if prefix is a scheme followed by slashes and
// optionally by a part of the hostname ending with a dot.  See
// [RegexpStartURL].
func isStartURLPrefix(prefix string) (ok bool) {
	i := 0
	for i < len(prefix) && isSchemeChar(prefix[i]) {
		i++
	}

	if i == 0 || i == len(prefix) || prefix[i] != ':' {
		return false
	}

	i++
	slashes := i
	for i < len(prefix) && prefix[i] == '/' {
		i++
	}

	if i == slashes {
		return false
	}

	rest := prefix[i:]

	return rest == "" || (rest[len(rest)-1] == '.' && !strings.Contains(rest, "/"))
}

// matchLiteral matches a literal pattern against the location.  A leading
// "||" anchors the pattern to the hostname, a leading "|" to the start of the
// location, a trailing "^" requires a separator or the end of the location,
// and a trailing "|" requires the end of the location.
func matchLiteral(pattern, loc string) (ok bool) {
	doubleAnchor := strings.HasPrefix(pattern, "||")
	startAnchor := !doubleAnchor && strings.HasPrefix(pattern, "|")
	if doubleAnchor {
		pattern = pattern[2:]
	} else if startAnchor {
		pattern = pattern[1:]
	}

	endSeparator := strings.HasSuffix(pattern, "^")
	endAnchor := !endSeparator && strings.HasSuffix(pattern, "|")
	if endSeparator || endAnchor {
		pattern = pattern[:len(pattern)-1]
	}

	if pattern == "" {
		return true
	}

	for offset := 0; offset <= len(loc)-len(pattern); {
		i := strings.Index(loc[offset:], pattern)
		if i == -1 {
			return false
		}

		i += offset
		if matchesLiteralAt(loc, pattern, i, doubleAnchor, startAnchor, endSeparator, endAnchor) {
			return true
		}

		if startAnchor {
			return false
		}

		offset = i + 1
	}

	return false
}

// matchesLiteralAt checks the anchors of a pattern found in loc at index i.
func matchesLiteralAt(
	loc string,
	pattern string,
	i int,
	doubleAnchor bool,
	startAnchor bool,
	endSeparator bool,
	endAnchor bool,
) (ok bool) {
	end := i + len(pattern)
	switch {
	case
		doubleAnchor && (loc[i] == '/' || !isStartURLPrefix(loc[:i])),
		startAnchor && i != 0,
		endSeparator && end < len(loc) && !isSeparator(loc[end]),
		endAnchor && end != len(loc):
		return false
	}

	return true
}
