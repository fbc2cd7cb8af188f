package filterlist_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/AdguardTeam/golibs/testutil"
	"github.com/abpkit/abpfilter/filterlist"
	"github.com/abpkit/abpfilter/rules"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newFileList writes text to a temporary file and returns the list reading it.
func newFileList(tb testing.TB, id int, text string) (l *filterlist.FileRuleList) {
	tb.Helper()

	path := filepath.Join(tb.TempDir(), "list.txt")
	err := os.WriteFile(path, []byte(text), 0o644)
	require.NoError(tb, err)

	l, err = filterlist.NewFileRuleList(id, path, false)
	require.NoError(tb, err)
	testutil.CleanupAndRequireSuccess(tb, l.Close)

	return l
}

// scanTexts returns the texts of all rules of the list.
func scanTexts(l filterlist.RuleList) (texts []string) {
	sc := l.NewScanner()
	for sc.Scan() {
		r, _ := sc.Rule()
		texts = append(texts, r.Text)
	}

	return texts
}

func TestFileRuleList(t *testing.T) {
	t.Parallel()

	l := newFileList(t, 3, "||example.org^\n! comment\nexample.org##.ad\n")
	assert.Equal(t, 3, l.GetID())

	want := []string{"||example.org^", "example.org##.ad"}
	assert.Equal(t, want, scanTexts(l))

	// Every scanner starts from the beginning.
	assert.Equal(t, want, scanTexts(l))

	err := os.WriteFile(l.Path(), []byte("/banner/*\n"), 0o644)
	require.NoError(t, err)

	require.NoError(t, l.Reopen())
	assert.Equal(t, []string{"/banner/*"}, scanTexts(l))

	require.NoError(t, l.Close())

	sc := l.NewScanner()
	assert.False(t, sc.Scan())
	assert.ErrorIs(t, sc.Err(), filterlist.ErrClosed)
}

func TestNewFileRuleList_error(t *testing.T) {
	t.Parallel()

	_, err := filterlist.NewFileRuleList(1, filepath.Join(t.TempDir(), "none.txt"), false)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestNewRuleStorage(t *testing.T) {
	t.Parallel()

	_, err := filterlist.NewRuleStorage([]filterlist.RuleList{
		&filterlist.StringRuleList{ID: 1},
		&filterlist.StringRuleList{ID: 1},
	})
	testutil.AssertErrorMsg(t, "list at index 1: duplicate list id: 1", err)
}

func TestRuleStorage_NewRuleStorageScanner(t *testing.T) {
	t.Parallel()

	list1 := &filterlist.StringRuleList{
		ID:        1,
		RulesText: "||example.org\n! test\n##banner",
	}
	list2 := &filterlist.StringRuleList{
		ID:             2,
		RulesText:      "||example.com\n! test\n##banner",
		IgnoreCosmetic: true,
	}

	s, err := filterlist.NewRuleStorage([]filterlist.RuleList{list1, list2})
	require.NoError(t, err)
	testutil.CleanupAndRequireSuccess(t, s.Close)

	got, ok := s.List(2)
	require.True(t, ok)
	assert.Same(t, list2, got)
	assert.Len(t, s.Lists(), 2)

	tbl := rules.NewTable()
	sc := s.NewRuleStorageScanner(tbl)

	type ruleIdx struct {
		text string
		idx  int64
	}

	var scanned []ruleIdx
	for sc.Scan() {
		r, idx := sc.Rule()
		require.NotNil(t, r)

		scanned = append(scanned, ruleIdx{text: r.Text, idx: idx})
	}

	require.NoError(t, sc.Err())
	assert.Equal(t, []ruleIdx{
		{text: "||example.org", idx: 0x0000000100000000},
		{text: "##banner", idx: 0x0000000100000015},
		{text: "||example.com", idx: 0x0000000200000000},
	}, scanned)

	// The rules have been compiled through the table, the comments have not.
	assert.Equal(t, 3, tbl.Len())

	r, idx := sc.Rule()
	assert.Nil(t, r)
	assert.Zero(t, idx)

	listID, offset := filterlist.StorageIdxToRuleListIdx(0x0000000100000015)
	assert.Equal(t, 1, listID)
	assert.Equal(t, 21, offset)
}
