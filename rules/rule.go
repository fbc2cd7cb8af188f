// Package rules contains the compiled representation of filter-list rules and
// the functions that parse and match them.
package rules

import (
	"regexp"
	"slices"
	"strings"
	"sync"

	"github.com/AdguardTeam/golibs/errors"
)

// Reasons for a rule to be invalid.  An invalid rule carries one of these in
// its Reason field.
const (
	// ErrUnknownOption is returned for an unsupported $option.
	ErrUnknownOption errors.Error = "unknown option"

	// ErrInvalidRegexp is returned when the /regexp/ pattern cannot be
	// compiled.
	ErrInvalidRegexp errors.Error = "invalid regular expression"

	// ErrInvalidDomain is returned for empty entries and bare "~" in domain
	// lists.
	ErrInvalidDomain errors.Error = "invalid domain"

	// ErrInvalidSitekey is returned for an empty $sitekey value.
	ErrInvalidSitekey errors.Error = "invalid sitekey"

	// ErrInvalidCSP is returned for an empty or disallowed $csp value of a
	// blocking rule.
	ErrInvalidCSP errors.Error = "invalid csp"

	// ErrInvalidRewrite is returned for a $rewrite value which is not an
	// internal resource or a pattern which may not be rewritten.
	ErrInvalidRewrite errors.Error = "invalid rewrite"

	// ErrEmulationNoDomain is returned for an element hiding emulation rule
	// without a specific domain.
	ErrEmulationNoDomain errors.Error = "element hiding emulation rule requires a domain"

	// ErrSnippetNoDomain is returned for a snippet rule without a specific
	// domain.
	ErrSnippetNoDomain errors.Error = "snippet rule requires a domain"
)

// Kind is the tag of a [Rule].
type Kind uint8

// Kind values.
const (
	KindInvalid Kind = iota
	KindComment
	KindBlocking
	KindAllowing
	KindElemHide
	KindElemHideException
	KindElemHideEmulation
	KindSnippet
)

// String implements the [fmt.Stringer] interface for Kind.
func (k Kind) String() (s string) {
	switch k {
	case KindInvalid:
		return "invalid"
	case KindComment:
		return "comment"
	case KindBlocking:
		return "blocking"
	case KindAllowing:
		return "allowing"
	case KindElemHide:
		return "elemhide"
	case KindElemHideException:
		return "elemhideexception"
	case KindElemHideEmulation:
		return "elemhideemulation"
	case KindSnippet:
		return "snippet"
	default:
		return "unknown"
	}
}

// IsURL returns true for blocking and allowing rules.
func (k Kind) IsURL() (ok bool) {
	return k == KindBlocking || k == KindAllowing
}

// IsContent returns true for element hiding rules of every flavor and for
// snippet rules.
func (k Kind) IsContent() (ok bool) {
	return k >= KindElemHide && k <= KindSnippet
}

// ThirdParty is the third-party restriction of a URL rule.
type ThirdParty int8

// ThirdParty values.
const (
	// ThirdPartyAny means that the rule has no $third-party option.
	ThirdPartyAny ThirdParty = iota

	// ThirdPartyOnly is set by $third-party.
	ThirdPartyOnly

	// FirstPartyOnly is set by $~third-party.
	FirstPartyOnly
)

// Rule is a compiled line of filter text.  The payload fields are never
// modified after construction, which makes the lazily computed fields safe to
// memoize.  Rules must be used by pointer.
type Rule struct {
	// Reason is the reason the rule is invalid.  It is nil unless Kind is
	// KindInvalid.
	Reason error

	// domains returns the parsed domain restriction map.  It is computed on
	// the first call.
	domains func() (d Domains)

	// regexp returns the compiled pattern or nil if the pattern is literal.
	// It is computed on the first call.
	regexp func() (re *regexp.Regexp)

	// Text is the rule text.  It identifies the rule.
	Text string

	// Body is the selector of element hiding rules and the script of snippet
	// rules.
	Body string

	// CSP is the value of the $csp option of a blocking rule.
	CSP string

	// Rewrite is the name of the internal resource from the $rewrite option.
	Rewrite string

	// pattern is the URL pattern.  For regexp rules it is the regexp source
	// without the delimiting slashes.
	pattern string

	// domainSource is the unparsed domain list.
	domainSource string

	// Sitekeys is the upper-cased list from the $sitekey option.
	Sitekeys []string

	// ContentType is the mask of request types the URL rule applies to.
	ContentType ContentType

	// Kind is the tag of the rule.
	Kind Kind

	// ThirdParty is the third-party restriction of the URL rule.
	ThirdParty ThirdParty

	// MatchCase is true if the URL rule is case-sensitive.
	MatchCase bool

	// isRegexp is true if the pattern was delimited by slashes.
	isRegexp bool

	// literal is true if the pattern can be matched without a regexp.
	literal bool
}

// newRule returns a rule of the given kind with the lazy fields set up.
func newRule(text string, kind Kind, domainSource string, sep byte) (r *Rule) {
	r = &Rule{
		Text:         text,
		Kind:         kind,
		domainSource: domainSource,
	}

	r.domains = sync.OnceValue(func() (d Domains) {
		return parseDomains(r.domainSource, sep)
	})
	r.regexp = func() (re *regexp.Regexp) { return nil }

	return r
}

// newInvalid returns an invalid rule with the given reason.
func newInvalid(text string, reason error) (r *Rule) {
	r = newRule(text, KindInvalid, "", 0)
	r.Reason = reason

	return r
}

// String implements the [fmt.Stringer] interface for *Rule.
func (r *Rule) String() (s string) {
	return r.Text
}

// Pattern returns the URL pattern.  For regexp rules it is the source of the
// expression without the slashes.
func (r *Rule) Pattern() (p string) {
	return r.pattern
}

// IsRegexp returns true if the pattern of the URL rule is a regular expression.
func (r *Rule) IsRegexp() (ok bool) {
	return r.isRegexp
}

// IsLiteral returns true if the URL rule is matched by a substring scan.
func (r *Rule) IsLiteral() (ok bool) {
	return r.literal
}

// Domains returns the domain restriction map of the rule.  nil means that the
// rule is active on every domain.  Callers must not modify the map.
func (r *Rule) Domains() (d Domains) {
	if r.domainSource == "" {
		return nil
	}

	return r.domains()
}

// IsGeneric returns true if the rule is not restricted to a set of domains or
// sitekeys.  It still may be excluded on some domains.
func (r *Rule) IsGeneric() (ok bool) {
	if len(r.Sitekeys) > 0 {
		return false
	}

	d := r.Domains()

	return d == nil || d[""]
}

// IsLocationOnly returns true if only the location of the request decides
// whether the URL rule matches it.
func (r *Rule) IsLocationOnly() (ok bool) {
	return r.ContentType == TypesResource &&
		r.ThirdParty == ThirdPartyAny &&
		r.Domains() == nil &&
		len(r.Sitekeys) == 0
}

// IsActiveOnDomain returns true if the rule applies to documents on docDomain
// with the given sitekey.  docDomain must be normalized.
func (r *Rule) IsActiveOnDomain(docDomain, sitekey string) (ok bool) {
	if len(r.Sitekeys) > 0 && !slices.Contains(r.Sitekeys, strings.ToUpper(sitekey)) {
		return false
	}

	d := r.Domains()
	if d == nil {
		return true
	}

	return d.includes(docDomain)
}

// Matches returns true if the URL rule matches the request.  specificOnly
// excludes generic rules.
func (r *Rule) Matches(req *Request, typeMask ContentType, sitekey string, specificOnly bool) (ok bool) {
	switch {
	case
		!r.Kind.IsURL(),
		r.ContentType&typeMask == 0,
		r.ThirdParty == ThirdPartyOnly && !req.ThirdParty(),
		r.ThirdParty == FirstPartyOnly && req.ThirdParty(),
		specificOnly && r.IsGeneric(),
		!r.IsActiveOnDomain(req.DocumentHostname, sitekey),
		!r.MatchesLocation(req):
		return false
	}

	return true
}

// MatchesLocation returns true if the pattern of the URL rule matches the URL
// of the request.
func (r *Rule) MatchesLocation(req *Request) (ok bool) {
	if re := r.regexp(); re != nil {
		return re.MatchString(req.URL)
	}

	loc := req.URLLowerCase
	if r.MatchCase {
		loc = req.URL
	}

	return matchLiteral(r.pattern, loc)
}

// LocationSource returns the source of a regular expression which matches at
// least every URL that [Rule.MatchesLocation] accepts.  onLower is true if the
// expression must be tested against the lower-cased URL.
func (r *Rule) LocationSource() (src string, onLower bool) {
	switch {
	case r.isRegexp:
		src = r.pattern
	case r.literal && !r.MatchCase:
		return "(?i)" + patternToRegexp(r.pattern), true
	default:
		src = patternToRegexp(r.pattern)
	}

	if !r.MatchCase {
		src = "(?i)" + src
	}

	return src, false
}
