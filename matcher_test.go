package abpfilter_test

import (
	"fmt"
	"testing"

	"github.com/abpkit/abpfilter"
	"github.com/abpkit/abpfilter/rules"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatcher_FindKeyword(t *testing.T) {
	t.Parallel()

	m := abpfilter.NewMatcher()

	r := rules.Compile("||example.com/ads/banner.gif")
	require.Equal(t, rules.KindBlocking, r.Kind)

	assert.Equal(t, "example", m.FindKeyword(r))

	m.Add(r)

	// The keyword with fewer rules wins, then the longer one.
	other := rules.Compile("||Example.com/ads/banner.png")
	assert.Equal(t, "banner", m.FindKeyword(other))

	assert.Empty(t, m.FindKeyword(rules.Compile(`/banner\d+/`)))
	assert.Empty(t, m.FindKeyword(rules.Compile("/ad*")))
}

func TestMatcher_AddRemove(t *testing.T) {
	t.Parallel()

	m := abpfilter.NewMatcher()
	req := rules.NewRequest("https://example.com/ads/1.png", "example.org")

	rs := []*rules.Rule{
		rules.Compile("/ads/*"),
		rules.Compile("/ads/*$image,domain=example.org"),
		rules.Compile("/ads/*$third-party"),
	}

	for _, r := range rs {
		m.Add(r)
		m.Add(r)
	}

	assert.Equal(t, len(rs), m.Len())
	assert.Same(t, rs[0], m.MatchFirst(req, rules.TypeImage, "", false))
	assert.Same(t, rs[1], m.MatchFirst(req, rules.TypeImage, "", true))
	assert.Same(t, rs[0], m.MatchFirst(req, rules.TypeScript, "", false))

	m.Remove(rs[0])
	assert.Same(t, rs[2], m.MatchFirst(req, rules.TypeScript, "", false))
	assert.Nil(t, m.MatchFirst(rules.NewRequest(req.URL, "example.com"), rules.TypeScript, "", false))

	for _, r := range rs {
		m.Remove(r)
		m.Remove(r)
		assert.False(t, m.Has(r))
	}

	assert.Zero(t, m.Len())
	assert.Nil(t, m.MatchFirst(req, rules.TypesResource, "", false))
}

func TestMatcher_MatchFirst_quickReject(t *testing.T) {
	t.Parallel()

	// Both sizes share a single keyword, so the smaller one is checked with the
	// combined expression and the larger one rule by rule.
	for _, n := range []int{50, 150} {
		t.Run(fmt.Sprint(n), func(t *testing.T) {
			t.Parallel()

			m := abpfilter.NewMatcher()
			for i := range n {
				r := rules.Compile(fmt.Sprintf("/banner/*id%03dz", i))
				require.Equal(t, "banner", m.FindKeyword(r))

				m.Add(r)
			}

			req := rules.NewRequest("https://example.com/banner/x-id042z.gif", "")
			got := m.MatchFirst(req, rules.TypeImage, "", false)
			require.NotNil(t, got)

			assert.Equal(t, "/banner/*id042z", got.Text)

			req = rules.NewRequest("https://example.com/banner/x-id999z.gif", "")
			assert.Nil(t, m.MatchFirst(req, rules.TypeImage, "", false))

			// Adding a rule must reset the combined expression.
			added := rules.Compile("/banner/*id999z")
			m.Add(added)
			assert.Same(t, added, m.MatchFirst(req, rules.TypeImage, "", false))
		})
	}
}

func TestMatcher_MatchFirst_types(t *testing.T) {
	t.Parallel()

	m := abpfilter.NewMatcher()
	doc := rules.Compile("@@||example.com^$document")
	hide := rules.Compile("@@||example.com^$elemhide,generichide")
	m.Add(doc)
	m.Add(hide)

	req := rules.NewRequest("https://example.com/page", "example.com")

	assert.Same(t, doc, m.MatchFirst(req, rules.TypeDocument, "", false))
	assert.Same(t, hide, m.MatchFirst(req, rules.TypeElemHide, "", false))
	assert.Same(t, hide, m.MatchFirst(req, rules.TypeGenericHide, "", false))
	assert.Nil(t, m.MatchFirst(req, rules.TypeGenericBlock, "", false))
	assert.Nil(t, m.MatchFirst(req, rules.TypeImage, "", false))

	m.Remove(hide)
	assert.Nil(t, m.MatchFirst(req, rules.TypeElemHide, "", false))
}

func BenchmarkMatcher_MatchFirst(b *testing.B) {
	m := abpfilter.NewMatcher()
	for i := range 10_000 {
		m.Add(rules.Compile(fmt.Sprintf("||ads%d.example^$third-party", i)))
		m.Add(rules.Compile(fmt.Sprintf("/banner%d/*", i)))
	}

	req := rules.NewRequest("https://cdn.example.org/static/banner/app.js", "example.com")

	b.ReportAllocs()
	for b.Loop() {
		_ = m.MatchFirst(req, rules.TypeScript, "", false)
	}
}
