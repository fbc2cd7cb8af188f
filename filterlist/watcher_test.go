package filterlist_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/AdguardTeam/golibs/testutil"
	"github.com/abpkit/abpfilter/filterlist"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testTimeout is the common timeout for tests.
const testTimeout = 5 * time.Second

// chanLoader is a [filterlist.Loader] that sends the texts of the loaded lists
// to a channel.
type chanLoader struct {
	loaded chan []string
}

// type check
var _ filterlist.Loader = (*chanLoader)(nil)

// LoadList implements the [filterlist.Loader] interface for *chanLoader.
func (l *chanLoader) LoadList(list filterlist.RuleList) (err error) {
	l.loaded <- scanTexts(list)

	return nil
}

func TestNewWatcher(t *testing.T) {
	t.Parallel()

	_, err := filterlist.NewWatcher(&filterlist.WatcherConfig{})
	assert.Error(t, err)
}

func TestWatcher(t *testing.T) {
	t.Parallel()

	l := newFileList(t, 1, "||example.org^\n")
	loader := &chanLoader{
		loaded: make(chan []string, 16),
	}

	w, err := filterlist.NewWatcher(&filterlist.WatcherConfig{
		Logger:   slogutil.NewDiscardLogger(),
		Loader:   loader,
		Lists:    []*filterlist.FileRuleList{l},
		Debounce: 10 * time.Millisecond,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	t.Cleanup(cancel)

	errCh := make(chan error, 1)
	go func() {
		errCh <- w.Run(ctx)
	}()

	// Replace the file the way downloaders do.
	tmpPath := filepath.Join(filepath.Dir(l.Path()), "list.tmp")
	err = os.WriteFile(tmpPath, []byte("||example.com^\n##.ad\n"), 0o644)
	require.NoError(t, err)

	err = os.Rename(tmpPath, l.Path())
	require.NoError(t, err)

	want := []string{"||example.com^", "##.ad"}
	for reloaded := false; !reloaded; {
		select {
		case texts := <-loader.loaded:
			reloaded = assert.ObjectsAreEqual(want, texts)
		case <-ctx.Done():
			t.Fatal("list has not been reloaded")
		}
	}

	require.NoError(t, w.Close())

	runErr, ok := testutil.RequireReceive(t, errCh, testTimeout)
	require.True(t, ok)
	assert.NoError(t, runErr)
}
