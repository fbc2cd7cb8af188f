package abpfilter

import (
	"slices"
	"strings"
	"sync"

	"github.com/abpkit/abpfilter/internal/cache"
	"github.com/abpkit/abpfilter/internal/lookup"
	"github.com/abpkit/abpfilter/rules"
)

const (
	// DefaultStyleSheetCacheSize is the default capacity of the style sheet
	// cache.
	DefaultStyleSheetCacheSize = 100

	// SelectorGroupSize is the maximum number of selectors in one CSS rule.
	// Some browsers fail on rules with too many simple selectors.
	SelectorGroupSize = 1024

	// hideDeclaration is the declaration block of every generated CSS rule.
	hideDeclaration = " {display: none !important;}\n"
)

// StyleSheetOptions are the options of [CosmeticEngine.StyleSheet].
type StyleSheetOptions struct {
	// SpecificOnly excludes the selectors of generic rules.
	SpecificOnly bool

	// IncludeSelectors makes the result contain the list of selectors.
	IncludeSelectors bool

	// IncludeExceptions makes the result contain the exception rules which
	// suppressed a selector.
	IncludeExceptions bool
}

// StyleSheet is the result of an element hiding lookup.
type StyleSheet struct {
	// CSS is the style sheet hiding the selected elements.
	CSS string

	// Selectors are the selectors included in CSS.  It is only set if
	// requested.
	Selectors []string

	// Exceptions are the exception rules which suppressed selectors.  It is
	// only set if requested.
	Exceptions []*rules.Rule
}

// conditionalKey is the key of the conditional style sheet cache.
type conditionalKey struct {
	suffix       string
	specificOnly bool
}

// conditional is the cached part of a style sheet which depends on the domain.
type conditional struct {
	css        string
	selectors  []string
	exceptions []*rules.Rule
}

// CosmeticEngine collects element hiding selectors for documents.  It also
// keeps element hiding emulation and snippet rules.  CosmeticEngine is not
// safe for concurrent modification, but concurrent lookups are safe.
type CosmeticEngine struct {
	// conditionalCache caches the conditional parts of style sheets by the
	// most specific known suffix of the domain.
	conditionalCache *cache.Bounded[conditionalKey, *conditional]

	// cacheMu protects defaultSelectors and defaultCSS.
	cacheMu *sync.Mutex

	// defaultSelectors are the cached selectors of the unconditional rules.
	// nil means that they must be recomputed.
	defaultSelectors []string

	// defaultCSS is the cached style sheet of the unconditional rules.
	defaultCSS *string

	// unconditional are the rules without domain restrictions and without
	// exceptions for their selectors, by selector.
	unconditional map[string]*rules.Rule

	// unconditionalOrder keeps the order of unconditional rules.
	unconditionalOrder *lookup.RuleSet

	// migrated are the unconditional rules moved to byDomain because their
	// selectors got exceptions, by selector.
	migrated map[string]*rules.Rule

	// byDomain are the other element hiding rules.
	byDomain *lookup.DomainIndex

	// known are the added element hiding rules.
	known *lookup.RuleSet

	// exceptions are the exception rules by selector.
	exceptions map[string]*lookup.RuleSet

	// exceptionDomains counts the exception rules mentioning each domain.
	exceptionDomains map[string]int

	// emulation are the element hiding emulation rules.
	emulation *lookup.RuleSet

	// snippets are the snippet rules.
	snippets *lookup.RuleSet
}

// NewCosmeticEngine returns a new empty *CosmeticEngine.  If cacheSize is not
// positive, [DefaultStyleSheetCacheSize] is used.
func NewCosmeticEngine(cacheSize int) (c *CosmeticEngine) {
	if cacheSize <= 0 {
		cacheSize = DefaultStyleSheetCacheSize
	}

	return &CosmeticEngine{
		conditionalCache:   cache.New[conditionalKey, *conditional](cacheSize),
		cacheMu:            &sync.Mutex{},
		unconditional:      map[string]*rules.Rule{},
		unconditionalOrder: lookup.NewRuleSet(),
		migrated:           map[string]*rules.Rule{},
		byDomain:           lookup.NewDomainIndex(),
		known:              lookup.NewRuleSet(),
		exceptions:         map[string]*lookup.RuleSet{},
		exceptionDomains:   map[string]int{},
		emulation:          lookup.NewRuleSet(),
		snippets:           lookup.NewRuleSet(),
	}
}

// clearCaches drops every cached style sheet.
func (c *CosmeticEngine) clearCaches() {
	c.conditionalCache.Clear()
	c.clearDefault()
}

// clearDefault drops the cached style sheet of the unconditional rules.
func (c *CosmeticEngine) clearDefault() {
	c.cacheMu.Lock()
	defer c.cacheMu.Unlock()

	c.defaultSelectors = nil
	c.defaultCSS = nil
}

// Add adds a content rule.  It returns false if r is not a content rule.
func (c *CosmeticEngine) Add(r *rules.Rule) (ok bool) {
	switch r.Kind {
	case rules.KindElemHide:
		c.addElemHide(r)
	case rules.KindElemHideException:
		c.addException(r)
	case rules.KindElemHideEmulation:
		c.emulation.Add(r)
	case rules.KindSnippet:
		c.snippets.Add(r)
	default:
		return false
	}

	return true
}

// Remove removes a content rule.
func (c *CosmeticEngine) Remove(r *rules.Rule) {
	switch r.Kind {
	case rules.KindElemHide:
		c.removeElemHide(r)
	case rules.KindElemHideException:
		c.removeException(r)
	case rules.KindElemHideEmulation:
		c.emulation.Delete(r)
	case rules.KindSnippet:
		c.snippets.Delete(r)
	default:
		// Not a content rule.
	}
}

// Has returns true if the content rule has been added.
func (c *CosmeticEngine) Has(r *rules.Rule) (ok bool) {
	switch r.Kind {
	case rules.KindElemHide:
		return c.known.Has(r)
	case rules.KindElemHideException:
		s, found := c.exceptions[r.Body]

		return found && s.Has(r)
	case rules.KindElemHideEmulation:
		return c.emulation.Has(r)
	case rules.KindSnippet:
		return c.snippets.Has(r)
	default:
		return false
	}
}

// addElemHide indexes an element hiding rule.
func (c *CosmeticEngine) addElemHide(r *rules.Rule) {
	if c.known.Has(r) {
		return
	}

	c.clearCaches()

	d := r.Domains()
	if _, hasExceptions := c.exceptions[r.Body]; d == nil && !hasExceptions {
		if _, taken := c.unconditional[r.Body]; !taken {
			c.unconditional[r.Body] = r
			c.unconditionalOrder.Add(r)
			c.known.Add(r)

			return
		}
	}

	c.byDomain.Add(r, d)
	c.known.Add(r)
}

// removeElemHide removes an element hiding rule from the index.
func (c *CosmeticEngine) removeElemHide(r *rules.Rule) {
	if !c.known.Has(r) {
		return
	}

	c.clearCaches()
	c.known.Delete(r)

	if c.unconditional[r.Body] == r {
		delete(c.unconditional, r.Body)
		c.unconditionalOrder.Delete(r)

		return
	}

	if c.migrated[r.Body] == r {
		delete(c.migrated, r.Body)
	}

	c.byDomain.Remove(r, r.Domains())
}

// addException registers an exception and moves the unconditional rule with
// the same selector, if any, to the conditional index.
func (c *CosmeticEngine) addException(r *rules.Rule) {
	s, ok := c.exceptions[r.Body]
	if !ok {
		s = lookup.NewRuleSet()
		c.exceptions[r.Body] = s
	} else if s.Has(r) {
		return
	}

	c.clearCaches()
	s.Add(r)
	for domain := range r.Domains() {
		if domain != "" {
			c.exceptionDomains[domain]++
		}
	}

	if u, found := c.unconditional[r.Body]; found {
		delete(c.unconditional, r.Body)
		c.unconditionalOrder.Delete(u)
		c.byDomain.Add(u, nil)
		c.migrated[r.Body] = u
	}
}

// removeException removes an exception.  When the last exception for a
// selector is gone, the rule moved by [CosmeticEngine.addException] is moved
// back.
func (c *CosmeticEngine) removeException(r *rules.Rule) {
	s, ok := c.exceptions[r.Body]
	if !ok || !s.Has(r) {
		return
	}

	c.clearCaches()
	s.Delete(r)
	for domain := range r.Domains() {
		if domain == "" {
			continue
		}

		c.exceptionDomains[domain]--
		if c.exceptionDomains[domain] == 0 {
			delete(c.exceptionDomains, domain)
		}
	}

	if s.Len() > 0 {
		return
	}

	delete(c.exceptions, r.Body)
	if u, found := c.migrated[r.Body]; found {
		delete(c.migrated, r.Body)
		c.byDomain.Remove(u, nil)
		c.unconditional[r.Body] = u
		c.unconditionalOrder.Add(u)
	}
}

// Exception returns the last added exception for the selector active on the
// domain, or nil if there is none.
func (c *CosmeticEngine) Exception(selector, domain string) (r *rules.Rule) {
	s, ok := c.exceptions[selector]
	if !ok {
		return nil
	}

	domain = rules.NormalizeHostname(domain)
	for r = range s.Backward() {
		if r.IsActiveOnDomain(domain, "") {
			return r
		}
	}

	return nil
}

// knownSuffix returns the most specific suffix of domain that has element
// hiding rules or exceptions.  Every domain with the same known suffix gets
// the same conditional selectors.
func (c *CosmeticEngine) knownSuffix(domain string) (suffix string) {
	for suffix = range rules.DomainSuffixes(domain, false) {
		if c.byDomain.Has(suffix) || c.exceptionDomains[suffix] > 0 {
			return suffix
		}
	}

	return ""
}

// StyleSheet returns the element hiding style sheet for documents on domain.
func (c *CosmeticEngine) StyleSheet(domain string, opts StyleSheetOptions) (ss *StyleSheet) {
	domain = rules.NormalizeHostname(domain)

	cond := c.conditionalFor(domain, opts.SpecificOnly)

	ss = &StyleSheet{}
	if opts.SpecificOnly {
		ss.CSS = cond.css
	} else {
		ss.CSS = c.defaultStyleSheet() + cond.css
	}

	if opts.IncludeSelectors {
		if !opts.SpecificOnly {
			ss.Selectors = slices.Clone(c.unconditionalSelectors())
		}

		ss.Selectors = append(ss.Selectors, cond.selectors...)
	}

	if opts.IncludeExceptions {
		ss.Exceptions = slices.Clone(cond.exceptions)
	}

	return ss
}

// conditionalFor returns the conditional part of the style sheet for domain
// using the cache.
func (c *CosmeticEngine) conditionalFor(domain string, specificOnly bool) (cond *conditional) {
	key := conditionalKey{
		suffix:       c.knownSuffix(domain),
		specificOnly: specificOnly,
	}

	cond, ok := c.conditionalCache.Get(key)
	if ok {
		return cond
	}

	cond = c.collectConditional(domain, specificOnly)
	c.conditionalCache.Set(key, cond)

	return cond
}

// collectConditional walks the suffixes of domain and collects the selectors
// of active rules which are not suppressed by exceptions.
func (c *CosmeticEngine) collectConditional(domain string, specificOnly bool) (cond *conditional) {
	cond = &conditional{}

	excluded := map[*rules.Rule]struct{}{}
	seen := map[*rules.Rule]struct{}{}
	for suffix := range rules.DomainSuffixes(domain, !specificOnly) {
		for r, include := range c.byDomain.Rules(suffix) {
			if !include {
				excluded[r] = struct{}{}

				continue
			}

			if _, ok := excluded[r]; ok {
				continue
			}

			if _, ok := seen[r]; ok {
				continue
			}

			seen[r] = struct{}{}
			if exc := c.Exception(r.Body, domain); exc != nil {
				cond.exceptions = append(cond.exceptions, exc)

				continue
			}

			cond.selectors = append(cond.selectors, r.Body)
		}
	}

	cond.css = CreateStyleSheet(cond.selectors)

	return cond
}

// unconditionalSelectors returns the cached selectors of the unconditional
// rules.  The result must not be modified.
func (c *CosmeticEngine) unconditionalSelectors() (selectors []string) {
	c.cacheMu.Lock()
	defer c.cacheMu.Unlock()

	return c.unconditionalSelectorsLocked()
}

// unconditionalSelectorsLocked is the implementation of
// unconditionalSelectors.  c.cacheMu must be locked.
func (c *CosmeticEngine) unconditionalSelectorsLocked() (selectors []string) {
	if c.defaultSelectors == nil {
		c.defaultSelectors = make([]string, 0, c.unconditionalOrder.Len())
		for r := range c.unconditionalOrder.All() {
			c.defaultSelectors = append(c.defaultSelectors, r.Body)
		}
	}

	return c.defaultSelectors
}

// defaultStyleSheet returns the cached style sheet of the unconditional rules.
func (c *CosmeticEngine) defaultStyleSheet() (css string) {
	c.cacheMu.Lock()
	defer c.cacheMu.Unlock()

	if c.defaultCSS == nil {
		css = CreateStyleSheet(c.unconditionalSelectorsLocked())
		c.defaultCSS = &css
	}

	return *c.defaultCSS
}

// EmulationRules returns the element hiding emulation rules active on domain
// whose selectors have no active exceptions.
func (c *CosmeticEngine) EmulationRules(domain string) (rs []*rules.Rule) {
	domain = rules.NormalizeHostname(domain)
	for r := range c.emulation.All() {
		if r.IsActiveOnDomain(domain, "") && c.Exception(r.Body, domain) == nil {
			rs = append(rs, r)
		}
	}

	return rs
}

// Snippets returns the snippet rules active on domain.
func (c *CosmeticEngine) Snippets(domain string) (rs []*rules.Rule) {
	domain = rules.NormalizeHostname(domain)
	for r := range c.snippets.All() {
		if r.IsActiveOnDomain(domain, "") {
			rs = append(rs, r)
		}
	}

	return rs
}

// CosmeticStats are the numbers of content rules.
type CosmeticStats struct {
	// ElemHide is the number of element hiding rules.
	ElemHide int

	// Exceptions is the number of element hiding exceptions.
	Exceptions int

	// Emulation is the number of element hiding emulation rules.
	Emulation int

	// Snippets is the number of snippet rules.
	Snippets int
}

// Stats returns the numbers of added content rules.
func (c *CosmeticEngine) Stats() (st CosmeticStats) {
	st = CosmeticStats{
		ElemHide:  c.known.Len(),
		Emulation: c.emulation.Len(),
		Snippets:  c.snippets.Len(),
	}

	for _, s := range c.exceptions {
		st.Exceptions += s.Len()
	}

	return st
}

// escapeSelector escapes the braces so that a selector cannot close the CSS
// rule.
func escapeSelector(selector string) (escaped string) {
	if !strings.ContainsAny(selector, "{}") {
		return selector
	}

	return strings.NewReplacer("{", `\7B `, "}", `\7D `).Replace(selector)
}

// CreateStyleSheet returns CSS rules hiding the elements matched by selectors,
// at most [SelectorGroupSize] selectors per rule.
func CreateStyleSheet(selectors []string) (css string) {
	b := &strings.Builder{}
	for group := range slices.Chunk(selectors, SelectorGroupSize) {
		for i, selector := range group {
			if i > 0 {
				b.WriteString(", ")
			}

			b.WriteString(escapeSelector(selector))
		}

		b.WriteString(hideDeclaration)
	}

	return b.String()
}
