package abpfilter

import (
	"github.com/abpkit/abpfilter/internal/cache"
	"github.com/abpkit/abpfilter/rules"
)

// DefaultResultCacheSize is the default capacity of the match result cache.
const DefaultResultCacheSize = 10_000

// Query is a request to match against the URL rules.  It is comparable and is
// used as the key of the result cache.
type Query struct {
	// URL is the full URL of the request.
	URL string

	// DocumentDomain is the hostname of the document making the request.
	DocumentDomain string

	// Sitekey is the public key provided by the document, if any.
	Sitekey string

	// TypeMask is the content type of the request.  It may also contain
	// special flags, e.g. [rules.TypeDocument] to check if the whole document
	// is allowlisted.
	TypeMask rules.ContentType

	// SpecificOnly excludes generic blocking rules.
	SpecificOnly bool
}

// NetworkEngine matches requests against blocking and allowing rules.  An
// allowing rule always wins over a blocking one.
type NetworkEngine struct {
	// results caches the outcomes of matching, including the nil ones.
	results *cache.Bounded[Query, *rules.Rule]

	// blocking contains the blocking rules.
	blocking *Matcher

	// allowing contains the allowing rules.
	allowing *Matcher
}

// NewNetworkEngine returns a new empty *NetworkEngine.  If cacheSize is not
// positive, [DefaultResultCacheSize] is used.
func NewNetworkEngine(cacheSize int) (n *NetworkEngine) {
	if cacheSize <= 0 {
		cacheSize = DefaultResultCacheSize
	}

	return &NetworkEngine{
		results:  cache.New[Query, *rules.Rule](cacheSize),
		blocking: NewMatcher(),
		allowing: NewMatcher(),
	}
}

// matcherFor returns the matcher for the kind of r or nil if r is not a URL
// rule.
func (n *NetworkEngine) matcherFor(r *rules.Rule) (m *Matcher) {
	switch r.Kind {
	case rules.KindBlocking:
		return n.blocking
	case rules.KindAllowing:
		return n.allowing
	default:
		return nil
	}
}

// Add adds a blocking or an allowing rule.  It returns false if r is not a URL
// rule.
func (n *NetworkEngine) Add(r *rules.Rule) (ok bool) {
	m := n.matcherFor(r)
	if m == nil {
		return false
	}

	if !m.Has(r) {
		m.Add(r)
		n.results.Clear()
	}

	return true
}

// Remove removes a blocking or an allowing rule.
func (n *NetworkEngine) Remove(r *rules.Rule) {
	m := n.matcherFor(r)
	if m == nil || !m.Has(r) {
		return
	}

	m.Remove(r)
	n.results.Clear()
}

// Has returns true if r has been added.
func (n *NetworkEngine) Has(r *rules.Rule) (ok bool) {
	m := n.matcherFor(r)

	return m != nil && m.Has(r)
}

// Match returns the rule deciding the outcome of the query: an allowing rule,
// a blocking rule, or nil if no rule matches.
func (n *NetworkEngine) Match(q Query) (r *rules.Rule) {
	if r, ok := n.results.Get(q); ok {
		return r
	}

	r = n.match(q)
	n.results.Set(q, r)

	return r
}

// match matches the query without the cache.
func (n *NetworkEngine) match(q Query) (r *rules.Rule) {
	req := rules.NewRequest(q.URL, q.DocumentDomain)

	var blocking *rules.Rule
	if q.TypeMask&^rules.TypesAllowing != 0 {
		blocking = n.blocking.MatchFirst(req, q.TypeMask, q.Sitekey, q.SpecificOnly)
	}

	if blocking != nil || q.TypeMask&rules.TypesAllowing != 0 {
		allowing := n.allowing.MatchFirst(req, q.TypeMask, q.Sitekey, false)
		if allowing != nil {
			return allowing
		}
	}

	return blocking
}

// CachedResults returns the number of cached match results.
func (n *NetworkEngine) CachedResults() (count int) {
	return n.results.Len()
}

// BlockingCount returns the number of blocking rules.
func (n *NetworkEngine) BlockingCount() (count int) {
	return n.blocking.Len()
}

// AllowingCount returns the number of allowing rules.
func (n *NetworkEngine) AllowingCount() (count int) {
	return n.allowing.Len()
}
