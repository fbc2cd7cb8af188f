package rules

import (
	"iter"
	"strings"
)

// Domains is a domain restriction map.  The value of a domain tells whether
// the rule is active on it and on its subdomains.  The entry for the empty
// string is the default for domains without a more specific entry: it is true
// if the list has no positive entries.
type Domains map[string]bool

// includes returns true if the rule with this map is active on docDomain.
func (d Domains) includes(docDomain string) (ok bool) {
	if docDomain == "" {
		return d[""]
	}

	for suffix := range DomainSuffixes(docDomain, false) {
		if include, found := d[suffix]; found {
			return include
		}
	}

	return d[""]
}

// parseDomains parses the domain list separated by sep.  Empty entries are
// skipped.  It returns nil if the list restricts nothing.
func parseDomains(source string, sep byte) (d Domains) {
	if source == "" {
		return nil
	}

	hasIncludes := false
	d = Domains{}
	for domain := range strings.SplitSeq(source, string(sep)) {
		if domain == "" {
			continue
		}

		include := true
		if domain[0] == '~' {
			include = false
			domain = domain[1:]
		} else {
			hasIncludes = true
		}

		d[domain] = include
	}

	if !hasIncludes && len(d) == 0 {
		return nil
	}

	d[""] = !hasIncludes

	return d
}

// hasEmptyDomain returns true if the list separated by sep contains an empty
// entry or a bare "~".
func hasEmptyDomain(source string, sep byte) (ok bool) {
	for domain := range strings.SplitSeq(source, string(sep)) {
		if domain == "" || domain == "~" {
			return true
		}
	}

	return false
}

// hasSpecificDomain returns true if the comma-separated list contains a
// positive entry with at least two labels, e.g. "example.com" but not "com".
func hasSpecificDomain(source string) (ok bool) {
	for domain := range strings.SplitSeq(source, ",") {
		if domain == "" || domain[0] == '~' {
			continue
		}

		i := strings.IndexByte(domain[1:], '.')
		if i != -1 && i+2 < len(domain) {
			return true
		}
	}

	return false
}

// DomainSuffixes yields domain and every suffix of it that starts after a dot,
// from the most specific to the least specific.  If includeBlank is true, it
// yields the empty string last.
func DomainSuffixes(domain string, includeBlank bool) (seq iter.Seq[string]) {
	return func(yield func(string) bool) {
		for domain != "" {
			if !yield(domain) {
				return
			}

			i := strings.IndexByte(domain, '.')
			if i == -1 {
				break
			}

			domain = domain[i+1:]
		}

		if includeBlank {
			yield("")
		}
	}
}

// NormalizeHostname lower-cases the hostname and strips the trailing dots.
func NormalizeHostname(hostname string) (normalized string) {
	return strings.ToLower(strings.TrimRight(hostname, "."))
}
