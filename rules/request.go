package rules

import (
	"net/netip"
	"strings"

	"github.com/abpkit/abpfilter/internal/ufnet"
	"golang.org/x/net/publicsuffix"
)

// Request is a resource request being matched.  It is not safe for concurrent
// use, since the third-party flag is computed on demand.
type Request struct {
	// URL is the full request URL.
	URL string

	// URLLowerCase is the full request URL in lower case.
	URLLowerCase string

	// Hostname is the normalized hostname of the request URL.
	Hostname string

	// DocumentHostname is the normalized hostname of the document that makes
	// the request.
	DocumentHostname string

	// thirdParty is the memoized third-party flag: 0 if not computed yet, 1
	// for first-party, and 2 for third-party requests.
	thirdParty uint8
}

// NewRequest creates a new instance of *Request for the URL requested by a
// document on docDomain.
func NewRequest(url, docDomain string) (r *Request) {
	return &Request{
		URL:              url,
		URLLowerCase:     strings.ToLower(url),
		Hostname:         NormalizeHostname(ufnet.ExtractHostname(url)),
		DocumentHostname: NormalizeHostname(docDomain),
	}
}

// ThirdParty returns true if the request hostname and the document hostname
// belong to different registrable domains.  Requests without one of the
// hostnames and requests to or from IP addresses are always third-party.
func (r *Request) ThirdParty() (ok bool) {
	if r.thirdParty == 0 {
		r.thirdParty = 1
		if IsThirdParty(r.Hostname, r.DocumentHostname) {
			r.thirdParty = 2
		}
	}

	return r.thirdParty == 2
}

// IsThirdParty returns true if requestHost and docHost have different base
// domains.  Both must be normalized.
func IsThirdParty(requestHost, docHost string) (ok bool) {
	switch {
	case requestHost == docHost:
		return false
	case requestHost == "", docHost == "":
		return true
	case isIPAddress(requestHost), isIPAddress(docHost):
		return true
	default:
		return BaseDomain(requestHost) != BaseDomain(docHost)
	}
}

// isIPAddress returns true if host is an IPv4 or an IPv6 address, possibly in
// brackets.
func isIPAddress(host string) (ok bool) {
	if !ufnet.IsProbablyIP(host) {
		return false
	}

	host = strings.TrimSuffix(strings.TrimPrefix(host, "["), "]")
	_, err := netip.ParseAddr(host)

	return err == nil
}

// BaseDomain returns the effective top-level domain of the hostname with an
// additional label, or the hostname itself if there is no such domain.
func BaseDomain(hostname string) (domain string) {
	if domain = effectiveTLDPlusOne(hostname); domain != "" {
		return domain
	}

	return hostname
}

// effectiveTLDPlusOne is a faster version of publicsuffix.EffectiveTLDPlusOne
// that avoids using fmt.Errorf when the domain is less or equal the suffix.
func effectiveTLDPlusOne(hostname string) (domain string) {
	hostnameLen := len(hostname)
	if hostnameLen < 1 {
		return ""
	}

	if hostname[0] == '.' || hostname[hostnameLen-1] == '.' {
		return ""
	}

	suffix, _ := publicsuffix.PublicSuffix(hostname)

	i := hostnameLen - len(suffix) - 1
	if i < 0 || hostname[i] != '.' {
		return ""
	}

	return hostname[1+strings.LastIndex(hostname[:i], "."):]
}
