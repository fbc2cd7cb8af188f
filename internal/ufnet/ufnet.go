// Package ufnet contains utilities for URL and hostname parsing.
package ufnet

import "strings"

// ExtractHostname quickly retrieves hostname from the given URL.  The user
// information and the port are stripped, and IPv6 hostnames keep their
// brackets.
//
// NOTE: ExtractHostname is an optimized, best-effort function to retrieve a
// hostname from a URL-like string.  The result is not guaranteed to be correct
// for some edge cases, which include non-hierarchical URLs.
func ExtractHostname(url string) (hostname string) {
	firstIdx := strings.Index(url, "//")
	if firstIdx == -1 {
		// This is a non-hierarchical structured URL (e.g. stun: or turn:)
		// https://tools.ietf.org/html/rfc4395#section-2.2
		// https://datatracker.ietf.org/doc/html/rfc7064#appendix-B
		firstIdx = strings.Index(url, ":")
		if firstIdx == -1 {
			return ""
		}

		firstIdx++
	} else {
		firstIdx += 2
	}

	authority := url[firstIdx:]
	if end := strings.IndexAny(authority, "/?#"); end != -1 {
		authority = authority[:end]
	}

	if at := strings.LastIndexByte(authority, '@'); at != -1 {
		authority = authority[at+1:]
	}

	if strings.HasPrefix(authority, "[") {
		if end := strings.IndexByte(authority, ']'); end != -1 {
			return authority[:end+1]
		}

		return ""
	}

	if colon := strings.IndexByte(authority, ':'); colon != -1 {
		authority = authority[:colon]
	}

	return authority
}

// isAddrRune returns true if r is a valid rune of string representation of an
// IP address.
func isAddrRune(r rune) (ok bool) {
	switch {
	case r == '.', r == ':',
		r >= '0' && r <= '9',
		r >= 'A' && r <= 'F',
		r >= 'a' && r <= 'f',
		r == '[', r == ']':
		return true
	default:
		return false
	}
}

// IsProbablyIP returns true if s only contains characters that can be part of
// an IP address.  It's needed to avoid unnecessary allocations when parsing
// with [netip.ParseAddr].
func IsProbablyIP(s string) (ok bool) {
	for _, r := range s {
		if !isAddrRune(r) {
			return false
		}
	}

	return len(s) >= len("::")
}
