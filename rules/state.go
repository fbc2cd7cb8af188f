package rules

import (
	"strconv"
	"time"
)

// State is the mutable bookkeeping of a rule.  The zero value is the default
// state: enabled and never hit.
type State struct {
	// LastHit is the time of the last hit.  It is zero if the rule has never
	// been hit.
	LastHit time.Time

	// HitCount is the number of times the rule has matched.
	HitCount uint64

	// Disabled is true if the user has disabled the rule.
	Disabled bool
}

// IsDefault returns true if s is the default state.
func (s State) IsDefault() (ok bool) {
	return !s.Disabled && s.HitCount == 0 && s.LastHit.IsZero()
}

// StateSink receives the changes of rule states, for example to persist them.
type StateSink interface {
	// StateChanged is called after the state of the rule with the given text
	// has changed.  st is the new state; a default st means that the entry is
	// gone.
	StateChanged(text string, st State)
}

// EmptyStateSink is a [StateSink] that does nothing.
type EmptyStateSink struct{}

// type check
var _ StateSink = EmptyStateSink{}

// StateChanged implements the [StateSink] interface for EmptyStateSink.
func (EmptyStateSink) StateChanged(_ string, _ State) {}

// States keeps the states of rules by rule text, so that they survive
// recompilation of the rules.  Only non-default states are stored.  States is
// not safe for concurrent use.
type States struct {
	// sink receives every change.
	sink StateSink

	// entries are the non-default states.
	entries map[string]State
}

// NewStates returns a new *States reporting changes to sink.  If sink is nil,
// changes are not reported.
func NewStates(sink StateSink) (s *States) {
	if sink == nil {
		sink = EmptyStateSink{}
	}

	return &States{
		sink:    sink,
		entries: map[string]State{},
	}
}

// Get returns the state of the rule with the given text.
func (s *States) Get(text string) (st State) {
	return s.entries[text]
}

// set stores st, dropping default states, and reports the change if the state
// differs from the stored one.
func (s *States) set(text string, st State) {
	if s.entries[text] == st {
		return
	}

	if st.IsDefault() {
		delete(s.entries, text)
	} else {
		s.entries[text] = st
	}

	s.sink.StateChanged(text, st)
}

// Restore sets the state without reporting it to the sink.  It is used to load
// persisted states.
func (s *States) Restore(text string, st State) {
	if st.IsDefault() {
		delete(s.entries, text)
	} else {
		s.entries[text] = st
	}
}

// IsEnabled returns true if the rule is enabled.
func (s *States) IsEnabled(text string) (ok bool) {
	return !s.entries[text].Disabled
}

// SetEnabled enables or disables the rule.  It returns true if the value has
// changed.
func (s *States) SetEnabled(text string, enabled bool) (changed bool) {
	st := s.entries[text]
	if st.Disabled == !enabled {
		return false
	}

	st.Disabled = !enabled
	s.set(text, st)

	return true
}

// HitCount returns the number of hits of the rule.
func (s *States) HitCount(text string) (n uint64) {
	return s.entries[text].HitCount
}

// SetHitCount sets the number of hits of the rule.
func (s *States) SetHitCount(text string, n uint64) {
	st := s.entries[text]
	st.HitCount = n
	s.set(text, st)
}

// LastHit returns the time of the last hit of the rule.
func (s *States) LastHit(text string) (t time.Time) {
	return s.entries[text].LastHit
}

// SetLastHit sets the time of the last hit of the rule.
func (s *States) SetLastHit(text string, t time.Time) {
	st := s.entries[text]
	st.LastHit = t
	s.set(text, st)
}

// RegisterHit increments the hit count of the rule and sets the time of the
// last hit to now.
func (s *States) RegisterHit(text string, now time.Time) {
	st := s.entries[text]
	st.HitCount++
	st.LastHit = now
	s.set(text, st)
}

// ResetHits resets the hit counts and the last hit times of every rule.
func (s *States) ResetHits() {
	for text, st := range s.entries {
		st.HitCount = 0
		st.LastHit = time.Time{}
		s.set(text, st)
	}
}

// Reset restores the default state of the rule.
func (s *States) Reset(text string) {
	s.set(text, State{})
}

// Range calls f for every non-default state until f returns false.
func (s *States) Range(f func(text string, st State) (cont bool)) {
	for text, st := range s.entries {
		if !f(text, st) {
			return
		}
	}
}

// Len returns the number of non-default states.
func (s *States) Len() (n int) {
	return len(s.entries)
}

// Serialize returns the non-default properties of the rule state as
// "key=value" lines.  The last hit time is in milliseconds since the epoch.
func (s *States) Serialize(text string) (lines []string) {
	st, ok := s.entries[text]
	if !ok {
		return nil
	}

	if st.Disabled {
		lines = append(lines, "disabled=true")
	}

	if st.HitCount != 0 {
		lines = append(lines, "hitCount="+strconv.FormatUint(st.HitCount, 10))
	}

	if !st.LastHit.IsZero() {
		lines = append(lines, "lastHit="+strconv.FormatInt(st.LastHit.UnixMilli(), 10))
	}

	return lines
}
