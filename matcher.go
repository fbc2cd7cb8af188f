// Package abpfilter implements matching of requests and documents against
// Adblock Plus filter lists.
package abpfilter

import (
	"regexp"
	"strings"
	"sync"

	"github.com/abpkit/abpfilter/internal/lookup"
	"github.com/abpkit/abpfilter/rules"
)

// maxQuickRejectRules is the maximum number of simple rules under a keyword
// for which a combined quick-reject expression is built.
const maxQuickRejectRules = 100

// quickReject is a combined expression of the simple rules under a keyword.
// A request that matches neither expression matches none of the rules.
type quickReject struct {
	// onURL is tested against the URL as is.  It is nil if no rule needs it.
	onURL *regexp.Regexp

	// onLower is tested against the lower-cased URL.  It is nil if no rule
	// needs it.
	onLower *regexp.Regexp
}

// mayMatch returns false if no rule behind q can match req.
func (q *quickReject) mayMatch(req *rules.Request) (ok bool) {
	return (q.onURL != nil && q.onURL.MatchString(req.URL)) ||
		(q.onLower != nil && q.onLower.MatchString(req.URLLowerCase))
}

// Matcher finds URL rules of one kind matching a request.  Rules are indexed by
// a keyword: a substring of the pattern which must also be found in the URL.
// Matcher is not safe for concurrent modification, but concurrent calls of
// [Matcher.MatchFirst] are safe.
type Matcher struct {
	// quickMu protects quick.
	quickMu *sync.Mutex

	// quick are the quick-reject expressions of the simple rules by keyword.
	// A nil value means that the rules must be checked one by one.
	quick map[string]*quickReject

	// simple are the location-only rules by keyword.
	simple map[string]*lookup.RuleSet

	// complex are the other rules by keyword.
	complex map[string]*lookup.RuleSet

	// byDomain are the complex rules by keyword and by domain.
	byDomain map[string]*lookup.DomainIndex

	// byType are the complex rules by special content type and by keyword.
	byType map[rules.ContentType]map[string]*lookup.RuleSet

	// keywords are the keywords of the added rules.
	keywords map[*rules.Rule]string
}

// NewMatcher returns a new empty *Matcher.
func NewMatcher() (m *Matcher) {
	return &Matcher{
		quickMu:  &sync.Mutex{},
		quick:    map[string]*quickReject{},
		simple:   map[string]*lookup.RuleSet{},
		complex:  map[string]*lookup.RuleSet{},
		byDomain: map[string]*lookup.DomainIndex{},
		byType:   map[rules.ContentType]map[string]*lookup.RuleSet{},
		keywords: map[*rules.Rule]string{},
	}
}

// keywordCount returns the number of rules indexed by kw.
func (m *Matcher) keywordCount(kw string) (n int) {
	if s, ok := m.simple[kw]; ok {
		n += s.Len()
	}

	if s, ok := m.complex[kw]; ok {
		n += s.Len()
	}

	return n
}

// FindKeyword returns the keyword under which r would be indexed.  Regexp rules
// and rules without a usable keyword are indexed under the empty keyword.
func (m *Matcher) FindKeyword(r *rules.Rule) (kw string) {
	if r.IsRegexp() {
		return ""
	}

	return lookup.BestKeyword(r.Pattern(), m.keywordCount)
}

// Has returns true if r has been added.
func (m *Matcher) Has(r *rules.Rule) (ok bool) {
	_, ok = m.keywords[r]

	return ok
}

// Len returns the number of added rules.
func (m *Matcher) Len() (n int) {
	return len(m.keywords)
}

// addToSet adds r to the set under kw in sets.
func addToSet(sets map[string]*lookup.RuleSet, kw string, r *rules.Rule) {
	s, ok := sets[kw]
	if !ok {
		s = lookup.NewRuleSet()
		sets[kw] = s
	}

	s.Add(r)
}

// removeFromSet removes r from the set under kw in sets and drops the set if
// it becomes empty.
func removeFromSet(sets map[string]*lookup.RuleSet, kw string, r *rules.Rule) {
	s, ok := sets[kw]
	if !ok {
		return
	}

	s.Delete(r)
	if s.Len() == 0 {
		delete(sets, kw)
	}
}

// Add indexes the URL rule.  Adding a rule twice has no effect.
func (m *Matcher) Add(r *rules.Rule) {
	if m.Has(r) {
		return
	}

	kw := m.FindKeyword(r)
	m.keywords[r] = kw

	if r.IsLocationOnly() {
		addToSet(m.simple, kw, r)
		m.resetQuickReject(kw)

		return
	}

	addToSet(m.complex, kw, r)

	for t := range (r.ContentType & rules.TypesSpecial).Bits() {
		sets, ok := m.byType[t]
		if !ok {
			sets = map[string]*lookup.RuleSet{}
			m.byType[t] = sets
		}

		addToSet(sets, kw, r)
	}

	idx, ok := m.byDomain[kw]
	if !ok {
		idx = lookup.NewDomainIndex()
		m.byDomain[kw] = idx
	}

	idx.Add(r, r.Domains())
}

// Remove removes the URL rule from the index.  Removing a rule which has not
// been added has no effect.
func (m *Matcher) Remove(r *rules.Rule) {
	kw, ok := m.keywords[r]
	if !ok {
		return
	}

	delete(m.keywords, r)

	if r.IsLocationOnly() {
		removeFromSet(m.simple, kw, r)
		m.resetQuickReject(kw)

		return
	}

	removeFromSet(m.complex, kw, r)

	for t := range (r.ContentType & rules.TypesSpecial).Bits() {
		if sets, found := m.byType[t]; found {
			removeFromSet(sets, kw, r)
			if len(sets) == 0 {
				delete(m.byType, t)
			}
		}
	}

	if idx, found := m.byDomain[kw]; found {
		idx.Remove(r, r.Domains())
		if idx.Len() == 0 {
			delete(m.byDomain, kw)
		}
	}
}

// resetQuickReject drops the quick-reject expression of kw.
func (m *Matcher) resetQuickReject(kw string) {
	m.quickMu.Lock()
	defer m.quickMu.Unlock()

	delete(m.quick, kw)
}

// quickRejectFor returns the quick-reject expression of the simple rules under
// kw, building it on first use.  It returns nil if the rules must be checked
// one by one.
func (m *Matcher) quickRejectFor(kw string, set *lookup.RuleSet) (q *quickReject) {
	m.quickMu.Lock()
	defer m.quickMu.Unlock()

	q, ok := m.quick[kw]
	if !ok {
		q = newQuickReject(set)
		m.quick[kw] = q
	}

	return q
}

// newQuickReject combines the patterns of the simple rules.  It returns nil if
// there are too many rules or the combined expression cannot be compiled.
func newQuickReject(set *lookup.RuleSet) (q *quickReject) {
	if set.Len() > maxQuickRejectRules {
		return nil
	}

	var onURL, onLower []string
	for r := range set.All() {
		src, lower := r.LocationSource()
		if lower {
			onLower = append(onLower, src)
		} else {
			onURL = append(onURL, src)
		}
	}

	q = &quickReject{}

	var err error
	if q.onURL, err = combine(onURL); err != nil {
		return nil
	}

	if q.onLower, err = combine(onLower); err != nil {
		return nil
	}

	return q
}

// combine compiles the alternation of the sources.  It returns nil if there
// are no sources.
func combine(srcs []string) (re *regexp.Regexp, err error) {
	if len(srcs) == 0 {
		return nil, nil
	}

	return regexp.Compile("(?:" + strings.Join(srcs, ")|(?:") + ")")
}

// MatchFirst returns the first rule matching the request with the given type
// mask and sitekey, or nil if there is none.  If specificOnly is true, the
// generic rules are skipped.
func (m *Matcher) MatchFirst(
	req *rules.Request,
	typeMask rules.ContentType,
	sitekey string,
	specificOnly bool,
) (r *rules.Rule) {
	for kw := range lookup.URLKeywords(req.URLLowerCase) {
		r = m.matchKeyword(kw, req, typeMask, sitekey, specificOnly)
		if r != nil {
			return r
		}
	}

	return nil
}

// matchKeyword returns the first rule under kw matching the request.
func (m *Matcher) matchKeyword(
	kw string,
	req *rules.Request,
	typeMask rules.ContentType,
	sitekey string,
	specificOnly bool,
) (r *rules.Rule) {
	if !specificOnly && typeMask&rules.TypesResource != 0 {
		if r = m.matchSimple(kw, req); r != nil {
			return r
		}
	}

	if typeMask.IsSingleSpecial() {
		set, ok := m.byType[typeMask][kw]
		if !ok {
			return nil
		}

		for r = range set.All() {
			if r.Matches(req, typeMask, sitekey, specificOnly) {
				return r
			}
		}

		return nil
	}

	return m.matchByDomain(kw, req, typeMask, sitekey, specificOnly)
}

// matchSimple returns the first location-only rule under kw matching the
// request.
func (m *Matcher) matchSimple(kw string, req *rules.Request) (r *rules.Rule) {
	set, ok := m.simple[kw]
	if !ok {
		return nil
	}

	if set.Len() > 1 {
		q := m.quickRejectFor(kw, set)
		if q != nil && !q.mayMatch(req) {
			return nil
		}
	}

	for r = range set.All() {
		if r.MatchesLocation(req) {
			return r
		}
	}

	return nil
}

// matchByDomain walks the domain index of kw from the document hostname to the
// less specific suffixes and the empty domain.  A rule excluded on a more
// specific suffix is never matched through a less specific one.  The empty
// domain is walked even with specificOnly, since it also holds the rules
// restricted only by sitekeys.
func (m *Matcher) matchByDomain(
	kw string,
	req *rules.Request,
	typeMask rules.ContentType,
	sitekey string,
	specificOnly bool,
) (r *rules.Rule) {
	idx, ok := m.byDomain[kw]
	if !ok {
		return nil
	}

	var excluded map[*rules.Rule]struct{}
	for suffix := range rules.DomainSuffixes(req.DocumentHostname, true) {
		for r, include := range idx.Rules(suffix) {
			if !include {
				if excluded == nil {
					excluded = map[*rules.Rule]struct{}{}
				}

				excluded[r] = struct{}{}

				continue
			}

			if _, isExcluded := excluded[r]; isExcluded {
				continue
			}

			if r.Matches(req, typeMask, sitekey, specificOnly) {
				return r
			}
		}
	}

	return nil
}
