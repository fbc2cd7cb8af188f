package filterlist_test

import (
	"strings"
	"testing"

	"github.com/abpkit/abpfilter/filterlist"
	"github.com/abpkit/abpfilter/rules"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRuleScanner_Scan(t *testing.T) {
	t.Parallel()

	const listText = "||example.org\n! test\n##banner"

	scanner := filterlist.NewRuleScanner(strings.NewReader(listText), 1, false)
	assert.Equal(t, 1, scanner.ListID())

	require.True(t, scanner.Scan())
	r, idx := scanner.Rule()
	require.NotNil(t, r)

	assert.Equal(t, "||example.org", r.Text)
	assert.Equal(t, 0, idx)

	require.True(t, scanner.Scan())
	r, idx = scanner.Rule()
	require.NotNil(t, r)

	assert.Equal(t, "##banner", r.Text)
	assert.Equal(t, 21, idx)

	assert.False(t, scanner.Scan())
	assert.False(t, scanner.Scan())
	assert.NoError(t, scanner.Err())
}

func TestRuleScanner_Scan_skip(t *testing.T) {
	t.Parallel()

	const listText = "[Adblock Plus 2.0]\r\n" +
		"! Title: test\r\n" +
		"\r\n" +
		"  /ads/*  \r\n" +
		"example.com##.ad\r\n" +
		"/invalid$foo\r\n"

	testCases := []struct {
		name           string
		want           []string
		ignoreCosmetic bool
	}{{
		name:           "all",
		want:           []string{"/ads/*", "example.com##.ad", "/invalid$foo"},
		ignoreCosmetic: false,
	}, {
		name:           "ignore_cosmetic",
		want:           []string{"/ads/*", "/invalid$foo"},
		ignoreCosmetic: true,
	}}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			sc := filterlist.NewRuleScanner(strings.NewReader(listText), 2, tc.ignoreCosmetic)

			var got []string
			for sc.Scan() {
				r, _ := sc.Rule()
				got = append(got, r.Text)
			}

			assert.Equal(t, tc.want, got)
		})
	}
}

func TestRuleScanner_SetTable(t *testing.T) {
	t.Parallel()

	tbl := rules.NewTable()
	want := tbl.Compile("||example.org^")

	sc := filterlist.NewRuleScanner(strings.NewReader("||example.org^\n"), 1, false)
	sc.SetTable(tbl)

	require.True(t, sc.Scan())

	r, _ := sc.Rule()
	assert.Same(t, want, r)
	assert.Equal(t, 1, tbl.Len())
}

func TestRuleScanner_SetTable_skipped(t *testing.T) {
	t.Parallel()

	const listText = "[Adblock Plus 2.0]\n! comment\n\n||example.org^\nexample.org##.ad\n"

	tbl := rules.NewTable()
	sc := filterlist.NewRuleScanner(strings.NewReader(listText), 1, true)
	sc.SetTable(tbl)

	var got []string
	for sc.Scan() {
		r, _ := sc.Rule()
		got = append(got, r.Text)
	}

	assert.Equal(t, []string{"||example.org^"}, got)

	// Skipped lines are not kept in the table.
	assert.Equal(t, 1, tbl.Len())

	_, ok := tbl.Lookup("! comment")
	assert.False(t, ok)
}

func TestRuleScanner_Scan_invalid(t *testing.T) {
	t.Parallel()

	sc := filterlist.NewRuleScanner(strings.NewReader("||a.com$csp=report-uri x"), 1, false)
	require.True(t, sc.Scan())

	r, _ := sc.Rule()
	assert.Equal(t, rules.KindInvalid, r.Kind)
	assert.Error(t, r.Reason)
}

func BenchmarkRuleScanner_Scan(b *testing.B) {
	text := strings.Repeat("||example.org^$third-party\nexample.com##.banner\n! comment\n", 100)

	b.ReportAllocs()
	for b.Loop() {
		sc := filterlist.NewRuleScanner(strings.NewReader(text), 1, false)
		for sc.Scan() {
		}
	}
}
