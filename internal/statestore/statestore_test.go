package statestore_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/testutil"
	"github.com/abpkit/abpfilter/internal/statestore"
	"github.com/abpkit/abpfilter/rules"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mapRestorer is a [statestore.Restorer] collecting the states into a map.
type mapRestorer map[string]rules.State

// type check
var _ statestore.Restorer = mapRestorer(nil)

// RestoreState implements the [statestore.Restorer] interface for mapRestorer.
func (r mapRestorer) RestoreState(text string, st rules.State) {
	r[text] = st
}

func TestStore(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state.db")

	s, err := statestore.Open(ctx, &statestore.Config{Path: path})
	require.NoError(t, err)

	lastHit := time.UnixMilli(1_700_000_000_123)

	s.StateChanged("||a.example^", rules.State{Disabled: true})
	s.StateChanged("##.ad", rules.State{HitCount: 2, LastHit: lastHit})
	s.StateChanged("##.ad", rules.State{HitCount: 3, LastHit: lastHit})
	s.StateChanged("/gone", rules.State{HitCount: 1})
	s.StateChanged("/gone", rules.State{})
	require.NoError(t, s.Close())

	s, err = statestore.Open(ctx, &statestore.Config{Path: path})
	require.NoError(t, err)
	testutil.CleanupAndRequireSuccess(t, s.Close)

	got := mapRestorer{}
	n, err := s.Load(ctx, got)
	require.NoError(t, err)

	assert.Equal(t, 2, n)
	assert.Equal(t, mapRestorer{
		"||a.example^": {Disabled: true},
		"##.ad":        {HitCount: 3, LastHit: lastHit},
	}, got)
}

func TestOpen_error(t *testing.T) {
	t.Parallel()

	_, err := statestore.Open(context.Background(), &statestore.Config{})
	assert.ErrorIs(t, err, errors.ErrEmptyValue)
}
