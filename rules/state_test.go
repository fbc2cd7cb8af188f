package rules_test

import (
	"testing"
	"time"

	"github.com/abpkit/abpfilter/rules"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stateChange is a single call to a [rules.StateSink].
type stateChange struct {
	text  string
	state rules.State
}

// recordingSink is a [rules.StateSink] that records every change.
type recordingSink struct {
	changes []stateChange
}

// type check
var _ rules.StateSink = (*recordingSink)(nil)

// StateChanged implements the [rules.StateSink] interface for *recordingSink.
func (s *recordingSink) StateChanged(text string, st rules.State) {
	s.changes = append(s.changes, stateChange{text: text, state: st})
}

func TestStates(t *testing.T) {
	t.Parallel()

	const text = "||example.com^"

	sink := &recordingSink{}
	s := rules.NewStates(sink)

	assert.True(t, s.IsEnabled(text))
	assert.Zero(t, s.HitCount(text))
	assert.Zero(t, s.Len())

	require.True(t, s.SetEnabled(text, false))
	assert.False(t, s.SetEnabled(text, false))
	assert.False(t, s.IsEnabled(text))
	assert.Equal(t, 1, s.Len())

	require.True(t, s.SetEnabled(text, true))
	assert.Zero(t, s.Len())

	now := time.UnixMilli(1_700_000_000_000)
	s.RegisterHit(text, now)
	s.RegisterHit(text, now.Add(time.Second))
	assert.Equal(t, uint64(2), s.HitCount(text))
	assert.Equal(t, now.Add(time.Second), s.LastHit(text))

	s.ResetHits()
	assert.Zero(t, s.Len())

	assert.Equal(t, []stateChange{{
		text:  text,
		state: rules.State{Disabled: true},
	}, {
		text:  text,
		state: rules.State{},
	}, {
		text:  text,
		state: rules.State{HitCount: 1, LastHit: now},
	}, {
		text:  text,
		state: rules.State{HitCount: 2, LastHit: now.Add(time.Second)},
	}, {
		text:  text,
		state: rules.State{},
	}}, sink.changes)
}

func TestStates_Serialize(t *testing.T) {
	t.Parallel()

	const text = "ads"

	s := rules.NewStates(nil)
	assert.Nil(t, s.Serialize(text))

	s.SetEnabled(text, false)
	s.SetHitCount(text, 3)
	s.SetLastHit(text, time.UnixMilli(1234))

	assert.Equal(t, []string{
		"disabled=true",
		"hitCount=3",
		"lastHit=1234",
	}, s.Serialize(text))

	s.Reset(text)
	assert.Nil(t, s.Serialize(text))
	assert.True(t, s.Get(text).IsDefault())
}

func TestStates_Restore(t *testing.T) {
	t.Parallel()

	sink := &recordingSink{}
	s := rules.NewStates(sink)

	s.Restore("ads", rules.State{HitCount: 5})
	s.Restore("banner", rules.State{})

	assert.Equal(t, uint64(5), s.HitCount("ads"))
	assert.Equal(t, 1, s.Len())
	assert.Empty(t, sink.changes)

	var texts []string
	s.Range(func(text string, _ rules.State) (cont bool) {
		texts = append(texts, text)

		return true
	})
	assert.Equal(t, []string{"ads"}, texts)
}

func TestTable(t *testing.T) {
	t.Parallel()

	tbl := rules.NewTable()

	r := tbl.Compile("||example.com^")
	assert.Same(t, r, tbl.Compile("||example.com^"))
	assert.Equal(t, 1, tbl.Len())

	got, ok := tbl.Lookup("||example.com^")
	require.True(t, ok)
	assert.Same(t, r, got)

	tbl.Forget("||example.com^")
	_, ok = tbl.Lookup("||example.com^")
	assert.False(t, ok)
	assert.NotSame(t, r, tbl.Compile("||example.com^"))
}

func TestTable_Intern(t *testing.T) {
	t.Parallel()

	tbl := rules.NewTable()

	r := rules.Compile("##.ad")
	assert.Same(t, r, tbl.Intern(r))
	assert.Same(t, r, tbl.Compile("##.ad"))

	// Another instance with the same text yields the known rule.
	assert.Same(t, r, tbl.Intern(rules.Compile("##.ad")))
	assert.Equal(t, 1, tbl.Len())
}
