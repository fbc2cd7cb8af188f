package abpfilter

import (
	"fmt"
	"sync"
	"time"

	"github.com/abpkit/abpfilter/filterlist"
	"github.com/abpkit/abpfilter/rules"
)

// Config is the configuration structure for an *Engine.
type Config struct {
	// StateSink receives the changes of rule states.  If nil, the changes are
	// not reported.
	StateSink rules.StateSink

	// ResultCacheSize is the capacity of the match result cache.  If not
	// positive, [DefaultResultCacheSize] is used.
	ResultCacheSize int

	// StyleSheetCacheSize is the capacity of the style sheet cache.  If not
	// positive, [DefaultStyleSheetCacheSize] is used.
	StyleSheetCacheSize int
}

// Engine owns the rule table, the rule states and the engines.  It is safe for
// concurrent use.
//
// A rule may be added several times, manually and by several lists.  It stays
// indexed until every addition has been removed, and then its text is dropped
// from the rule table.  Disabled rules are kept but not indexed.
//
// State changes are reported to the state sink after the engine is unlocked.
// The sink may call the methods of the engine which do not change rule states.
type Engine struct {
	// sinkMu serializes the calls to sink.  It is never locked while mu is
	// held.
	sinkMu *sync.Mutex

	// sink receives the changes of rule states.
	sink rules.StateSink

	// mu protects every field below.  Lookups take the read lock, since the
	// engines guard their caches themselves.
	mu *sync.RWMutex

	// changed collects the texts of the rules whose states changed while mu
	// was locked.
	changed *changeQueue

	table    *rules.Table
	states   *rules.States
	network  *NetworkEngine
	cosmetic *CosmeticEngine

	// refs is the number of additions of each rule.
	refs map[*rules.Rule]int

	// lists are the rules loaded from each list by list identifier.
	lists map[int][]*rules.Rule

	// now returns the current time.  It is used for hit registration.
	now func() (t time.Time)
}

// type check
var _ filterlist.Loader = (*Engine)(nil)

// NewEngine returns a new empty *Engine.  c must not be nil.
func NewEngine(c *Config) (e *Engine) {
	sink := c.StateSink
	if sink == nil {
		sink = rules.EmptyStateSink{}
	}

	changed := &changeQueue{}

	return &Engine{
		sinkMu:   &sync.Mutex{},
		sink:     sink,
		mu:       &sync.RWMutex{},
		changed:  changed,
		table:    rules.NewTable(),
		states:   rules.NewStates(changed),
		network:  NewNetworkEngine(c.ResultCacheSize),
		cosmetic: NewCosmeticEngine(c.StyleSheetCacheSize),
		refs:     map[*rules.Rule]int{},
		lists:    map[int][]*rules.Rule{},
		now:      time.Now,
	}
}

// Compile compiles text into a rule.  Compiling the same text again returns the
// same rule until the rule is added and then removed.
func (e *Engine) Compile(text string) (r *rules.Rule) {
	return e.table.Compile(text)
}

// isIndexable returns true if r can be added to one of the engines.
func isIndexable(r *rules.Rule) (ok bool) {
	return r.Kind.IsURL() || r.Kind.IsContent()
}

// index adds r to its engine.
func (e *Engine) index(r *rules.Rule) {
	if r.Kind.IsURL() {
		e.network.Add(r)
	} else {
		e.cosmetic.Add(r)
	}
}

// unindex removes r from its engine.
func (e *Engine) unindex(r *rules.Rule) {
	if r.Kind.IsURL() {
		e.network.Remove(r)
	} else {
		e.cosmetic.Remove(r)
	}
}

// Add adds a URL or a content rule.  It returns false for invalid rules and
// comments.  Rules are identified by their text, so a rule compiled elsewhere
// is added as the rule of the engine with the same text.
func (e *Engine) Add(r *rules.Rule) (ok bool) {
	if !isIndexable(r) {
		return false
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.addLocked(r)

	return true
}

// addLocked increments the references of the rule with the text of r and
// indexes it if necessary.  It returns the added rule.  e.mu must be locked.
func (e *Engine) addLocked(r *rules.Rule) (added *rules.Rule) {
	added = e.table.Intern(r)
	e.refs[added]++
	if e.refs[added] == 1 && e.states.IsEnabled(added.Text) {
		e.index(added)
	}

	return added
}

// known returns the rule of the engine with the text of r, if any.
func (e *Engine) known(r *rules.Rule) (k *rules.Rule, ok bool) {
	return e.table.Lookup(r.Text)
}

// Remove removes one addition of r.
func (e *Engine) Remove(r *rules.Rule) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.removeLocked(r)
}

// removeLocked decrements the references of r and removes it from the index
// when none are left.  e.mu must be locked.
func (e *Engine) removeLocked(r *rules.Rule) {
	r, ok := e.known(r)
	if !ok {
		return
	}

	n, ok := e.refs[r]
	if !ok {
		return
	}

	if n > 1 {
		e.refs[r] = n - 1

		return
	}

	delete(e.refs, r)
	e.unindex(r)
	e.table.Forget(r.Text)
}

// Has returns true if the rule with the text of r has been added and not
// removed.  It is also true for a disabled rule, which the engines do not hold;
// see [Engine.IsIndexed].
func (e *Engine) Has(r *rules.Rule) (ok bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	r, ok = e.known(r)

	return ok && e.refs[r] > 0
}

// IsIndexed returns true if the rule with the text of r has been added and is
// enabled, so that it can be matched.
func (e *Engine) IsIndexed(r *rules.Rule) (ok bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	r, ok = e.known(r)

	return ok && e.refs[r] > 0 && e.states.IsEnabled(r.Text)
}

// LoadResult is the outcome of loading a rule list.
type LoadResult struct {
	// Invalid are the invalid rules of the list.
	Invalid []*rules.Rule

	// Added is the number of distinct rules added from the list.
	Added int
}

// Load adds the rules of l, replacing the rules previously loaded from the list
// with the same identifier.  If reading l fails, the engine is not changed.
func (e *Engine) Load(l filterlist.RuleList) (res *LoadResult, err error) {
	sc := l.NewScanner()
	sc.SetTable(e.table)

	res = &LoadResult{}
	seen := map[*rules.Rule]struct{}{}
	var loaded []*rules.Rule
	for sc.Scan() {
		r, _ := sc.Rule()
		if r.Kind == rules.KindInvalid {
			res.Invalid = append(res.Invalid, r)
			e.table.Forget(r.Text)

			continue
		}

		if _, ok := seen[r]; ok {
			continue
		}

		seen[r] = struct{}{}
		loaded = append(loaded, r)
	}

	if err = sc.Err(); err != nil {
		e.forgetUnused(loaded)

		return nil, fmt.Errorf("loading list %d: %w", l.GetID(), err)
	}

	res.Added = len(loaded)

	e.mu.Lock()
	defer e.mu.Unlock()

	// Rules present in both versions of the list stay indexed.
	for i, r := range loaded {
		loaded[i] = e.addLocked(r)
	}

	id := l.GetID()
	for _, r := range e.lists[id] {
		e.removeLocked(r)
	}

	e.lists[id] = loaded

	return res, nil
}

// forgetUnused drops the texts of the rules which have not been added from the
// rule table.
func (e *Engine) forgetUnused(rs []*rules.Rule) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, r := range rs {
		k, ok := e.known(r)
		if ok && k == r && e.refs[r] == 0 {
			e.table.Forget(r.Text)
		}
	}
}

// LoadList implements the [filterlist.Loader] interface for *Engine.
func (e *Engine) LoadList(l filterlist.RuleList) (err error) {
	_, err = e.Load(l)

	return err
}

// LoadStorage loads every list of s.  The returned result sums the results of
// the lists loaded before an error, if any.
func (e *Engine) LoadStorage(s *filterlist.RuleStorage) (res *LoadResult, err error) {
	res = &LoadResult{}
	for _, l := range s.Lists() {
		var lr *LoadResult
		lr, err = e.Load(l)
		if err != nil {
			return res, err
		}

		res.Added += lr.Added
		res.Invalid = append(res.Invalid, lr.Invalid...)
	}

	return res, nil
}

// Unload removes the rules loaded from the list with the given identifier.
func (e *Engine) Unload(id int) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, r := range e.lists[id] {
		e.removeLocked(r)
	}

	delete(e.lists, id)
}

// Match returns the rule deciding the outcome of the query: an allowing rule,
// a blocking rule, or nil if no rule matches.
func (e *Engine) Match(q Query) (r *rules.Rule) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return e.network.Match(q)
}

// StyleSheet returns the element hiding style sheet for documents on domain.
func (e *Engine) StyleSheet(domain string, opts StyleSheetOptions) (ss *StyleSheet) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return e.cosmetic.StyleSheet(domain, opts)
}

// EmulationRules returns the element hiding emulation rules active on domain.
func (e *Engine) EmulationRules(domain string) (rs []*rules.Rule) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return e.cosmetic.EmulationRules(domain)
}

// Snippets returns the snippet rules active on domain.
func (e *Engine) Snippets(domain string) (rs []*rules.Rule) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return e.cosmetic.Snippets(domain)
}

// RegisterHit records that the rule with the given text has been applied.
func (e *Engine) RegisterHit(text string) {
	e.mu.Lock()
	e.states.RegisterHit(text, e.now())
	changed := e.changed.take()
	e.mu.Unlock()

	e.reportStates(changed)
}

// ResetHits clears the hit counts and the last hit times of all rules.
func (e *Engine) ResetHits() {
	e.mu.Lock()
	e.states.ResetHits()
	changed := e.changed.take()
	e.mu.Unlock()

	e.reportStates(changed)
}

// SetEnabled enables or disables the rule with the given text.  A disabled rule
// is removed from the engines until it is enabled again.
func (e *Engine) SetEnabled(text string, enabled bool) {
	e.mu.Lock()
	if e.states.SetEnabled(text, enabled) {
		e.reindexLocked(text, enabled)
	}

	changed := e.changed.take()
	e.mu.Unlock()

	e.reportStates(changed)
}

// reportStates passes the current states of the rules with the given texts to
// the state sink.  e.mu must not be locked.
//
// The sink always receives the state current at the time of the call, so the
// last reported state of a rule is its actual state even when the calls of
// several goroutines interleave.
func (e *Engine) reportStates(texts []string) {
	if len(texts) == 0 {
		return
	}

	e.sinkMu.Lock()
	defer e.sinkMu.Unlock()

	states := make([]rules.State, len(texts))

	e.mu.RLock()
	for i, text := range texts {
		states[i] = e.states.Get(text)
	}
	e.mu.RUnlock()

	for i, text := range texts {
		e.sink.StateChanged(text, states[i])
	}
}

// reindexLocked adds the rule with the given text to the engines or removes it
// after its enabled flag has changed.  e.mu must be locked.
func (e *Engine) reindexLocked(text string, enabled bool) {
	r, ok := e.table.Lookup(text)
	if !ok || e.refs[r] == 0 {
		return
	}

	if enabled {
		e.index(r)
	} else {
		e.unindex(r)
	}
}

// IsEnabled returns false if the rule with the given text has been disabled.
func (e *Engine) IsEnabled(text string) (ok bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return e.states.IsEnabled(text)
}

// State returns the state of the rule with the given text.
func (e *Engine) State(text string) (st rules.State) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return e.states.Get(text)
}

// RestoreState sets a previously persisted state without reporting it to the
// state sink.
func (e *Engine) RestoreState(text string, st rules.State) {
	e.mu.Lock()
	defer e.mu.Unlock()

	wasEnabled := e.states.IsEnabled(text)
	e.states.Restore(text, st)
	if wasEnabled == st.Disabled {
		e.reindexLocked(text, !st.Disabled)
	}
}

// RangeStates calls f for every rule state which is not the default one.  f
// must not call the methods of e.
func (e *Engine) RangeStates(f func(text string, st rules.State) (cont bool)) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	e.states.Range(f)
}

// Stats are the numbers of rules in an *Engine.
type Stats struct {
	// Cosmetic are the numbers of indexed content rules.
	Cosmetic CosmeticStats

	// Rules is the number of added rules, including the disabled ones.
	Rules int

	// Lists is the number of loaded lists.
	Lists int

	// Blocking is the number of indexed blocking rules.
	Blocking int

	// Allowing is the number of indexed allowing rules.
	Allowing int

	// CachedResults is the number of cached match results.
	CachedResults int

	// Compiled is the number of rule texts kept in the rule table.
	Compiled int

	// States is the number of rules with non-default states.
	States int
}

// Stats returns the current numbers of rules.
func (e *Engine) Stats() (st Stats) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return Stats{
		Cosmetic:      e.cosmetic.Stats(),
		Rules:         len(e.refs),
		Lists:         len(e.lists),
		Blocking:      e.network.BlockingCount(),
		Allowing:      e.network.AllowingCount(),
		CachedResults: e.network.CachedResults(),
		Compiled:      e.table.Len(),
		States:        e.states.Len(),
	}
}

// changeQueue is a [rules.StateSink] collecting the texts of the changed rules.
// It is used while the engine is locked.
type changeQueue struct {
	texts []string
}

// type check
var _ rules.StateSink = (*changeQueue)(nil)

// StateChanged implements the [rules.StateSink] interface for *changeQueue.
func (q *changeQueue) StateChanged(text string, _ rules.State) {
	q.texts = append(q.texts, text)
}

// take returns the collected texts and empties q.
func (q *changeQueue) take() (texts []string) {
	texts, q.texts = q.texts, nil

	return texts
}
