package lookup

import (
	"iter"
	"slices"

	"github.com/abpkit/abpfilter/rules"
	"golang.org/x/exp/maps"
)

// slot is the set of rules for one domain.  A slot holding a single included
// rule keeps it in rule; every other slot keeps the rules in filters.
type slot struct {
	rule    *rules.Rule
	filters *FilterMap
}

// DomainIndex groups rules by the domains of their restriction maps.  The rules
// without restrictions are kept under the empty domain, and so are the rules
// active everywhere except on some domains.  A rule active only on its listed
// domains is not kept under the empty domain.  It is not safe for concurrent
// use.
type DomainIndex struct {
	slots map[string]slot
}

// NewDomainIndex returns a new empty *DomainIndex.
func NewDomainIndex() (idx *DomainIndex) {
	return &DomainIndex{
		slots: map[string]slot{},
	}
}

// entries yields the (domain, include) pairs of d, or the single pair for the
// empty domain if d is nil.  The excluded empty domain is skipped: such a rule
// is only active through a more specific domain, which is always walked first.
func entries(d rules.Domains) (seq iter.Seq2[string, bool]) {
	if d == nil {
		return func(yield func(string, bool) bool) {
			yield("", true)
		}
	}

	domains := maps.Keys(d)
	slices.Sort(domains)

	return func(yield func(string, bool) bool) {
		for _, domain := range domains {
			include := d[domain]
			if domain == "" && !include {
				continue
			}

			if !yield(domain, include) {
				return
			}
		}
	}
}

// Add adds r under every domain of d.  d is usually r.Domains().
func (idx *DomainIndex) Add(r *rules.Rule, d rules.Domains) {
	for domain, include := range entries(d) {
		s, ok := idx.slots[domain]
		switch {
		case !ok && include:
			s = slot{rule: r}
		case s.filters != nil:
			s.filters.Set(r, include)
		default:
			s.filters = NewRuleMap[bool]()
			if s.rule != nil {
				s.filters.Set(s.rule, true)
				s.rule = nil
			}

			s.filters.Set(r, include)
		}

		idx.slots[domain] = s
	}
}

// Remove reverts [DomainIndex.Add] with the same arguments.
func (idx *DomainIndex) Remove(r *rules.Rule, d rules.Domains) {
	for domain := range entries(d) {
		s, ok := idx.slots[domain]
		if !ok {
			continue
		}

		if s.filters == nil {
			if s.rule == r {
				delete(idx.slots, domain)
			}

			continue
		}

		s.filters.Delete(r)
		switch s.filters.Len() {
		case 0:
			delete(idx.slots, domain)
		case 1:
			if last, include := s.filters.First(); include {
				idx.slots[domain] = slot{rule: last}
			}
		default:
			// Keep the map.
		}
	}
}

// Has returns true if there are rules under domain.
func (idx *DomainIndex) Has(domain string) (ok bool) {
	_, ok = idx.slots[domain]

	return ok
}

// Rules yields the rules under domain and whether each is included.
func (idx *DomainIndex) Rules(domain string) (seq iter.Seq2[*rules.Rule, bool]) {
	s, ok := idx.slots[domain]
	if !ok {
		return func(_ func(*rules.Rule, bool) bool) {}
	}

	if s.filters != nil {
		return s.filters.All()
	}

	return func(yield func(*rules.Rule, bool) bool) {
		yield(s.rule, true)
	}
}

// Domains returns the sorted domains which have rules.
func (idx *DomainIndex) Domains() (domains []string) {
	domains = maps.Keys(idx.slots)
	slices.Sort(domains)

	return domains
}

// Len returns the number of domains which have rules.
func (idx *DomainIndex) Len() (n int) {
	return len(idx.slots)
}

// IsCollapsed returns true if the slot of domain holds a single rule without a
// map.  It is used to check the shape of the index.
func (idx *DomainIndex) IsCollapsed(domain string) (ok bool) {
	s, ok := idx.slots[domain]

	return ok && s.filters == nil
}
