// Package lookup implements index structures that we use to improve matching
// speed in the engines.
package lookup

import (
	"iter"
	"slices"

	"github.com/abpkit/abpfilter/rules"
)

// RuleMap is a map keyed by rules that keeps the insertion order.  Iteration
// order decides which of several matching rules is found first, so it must be
// deterministic.
type RuleMap[V any] struct {
	// index maps a rule to its position in keys and values.
	index map[*rules.Rule]int

	// keys are the rules in the insertion order.
	keys []*rules.Rule

	// values are the values of keys.
	values []V
}

// FilterMap maps a rule to whether it is included, true, or excluded, false,
// on a domain.
type FilterMap = RuleMap[bool]

// NewRuleMap returns a new empty *RuleMap.
func NewRuleMap[V any]() (m *RuleMap[V]) {
	return &RuleMap[V]{
		index: map[*rules.Rule]int{},
	}
}

// Set sets the value for r.  A new rule is added to the end.
func (m *RuleMap[V]) Set(r *rules.Rule, v V) {
	if i, ok := m.index[r]; ok {
		m.values[i] = v

		return
	}

	m.index[r] = len(m.keys)
	m.keys = append(m.keys, r)
	m.values = append(m.values, v)
}

// Get returns the value for r.
func (m *RuleMap[V]) Get(r *rules.Rule) (v V, ok bool) {
	i, ok := m.index[r]
	if !ok {
		return v, false
	}

	return m.values[i], true
}

// Has returns true if r is in m.
func (m *RuleMap[V]) Has(r *rules.Rule) (ok bool) {
	_, ok = m.index[r]

	return ok
}

// Delete removes r keeping the order of the other rules.  It returns false if
// r was not in m.
func (m *RuleMap[V]) Delete(r *rules.Rule) (ok bool) {
	i, ok := m.index[r]
	if !ok {
		return false
	}

	delete(m.index, r)
	m.keys = slices.Delete(m.keys, i, i+1)
	m.values = slices.Delete(m.values, i, i+1)
	for j := i; j < len(m.keys); j++ {
		m.index[m.keys[j]] = j
	}

	return true
}

// Len returns the number of rules in m.
func (m *RuleMap[V]) Len() (n int) {
	return len(m.keys)
}

// First returns the first rule and its value.  m must not be empty.
func (m *RuleMap[V]) First() (r *rules.Rule, v V) {
	return m.keys[0], m.values[0]
}

// All yields the rules and their values in the insertion order.  m must not be
// modified during the iteration.
func (m *RuleMap[V]) All() (seq iter.Seq2[*rules.Rule, V]) {
	return func(yield func(*rules.Rule, V) bool) {
		for i, r := range m.keys {
			if !yield(r, m.values[i]) {
				return
			}
		}
	}
}

// Backward yields the rules and their values from the last added to the first.
func (m *RuleMap[V]) Backward() (seq iter.Seq2[*rules.Rule, V]) {
	return func(yield func(*rules.Rule, V) bool) {
		for i := len(m.keys) - 1; i >= 0; i-- {
			if !yield(m.keys[i], m.values[i]) {
				return
			}
		}
	}
}

// Rules returns a copy of the rules in the insertion order.
func (m *RuleMap[V]) Rules() (rs []*rules.Rule) {
	return slices.Clone(m.keys)
}

// RuleSet is an ordered set of rules.
type RuleSet = RuleMap[struct{}]

// NewRuleSet returns a new empty *RuleSet.
func NewRuleSet() (s *RuleSet) {
	return NewRuleMap[struct{}]()
}

// Add adds r with the zero value unless r is already in m.  It is meant for
// sets.
func (m *RuleMap[V]) Add(r *rules.Rule) {
	var zero V
	if !m.Has(r) {
		m.Set(r, zero)
	}
}
