package trans_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rpcpool/loamfs/trans"
)

func TestTrackItem(t *testing.T) {
	tr := trans.New(nil)

	tr.TrackItem(1, 10)
	tr.TrackItem(2, 30)
	tr.TrackItem(-1, -10)

	items, bytes := tr.Dirty()
	require.Equal(t, int64(2), items)
	require.Equal(t, int64(30), bytes)
}

func TestSyncSkipsWhenClean(t *testing.T) {
	commits := 0
	tr := trans.New(func(ctx context.Context) error {
		commits++
		return nil
	})

	require.NoError(t, tr.Sync(context.Background(), true))
	require.Zero(t, commits)

	tr.TrackItem(1, 1)
	require.NoError(t, tr.Sync(context.Background(), false))
	require.Zero(t, commits)

	require.NoError(t, tr.Sync(context.Background(), true))
	require.Equal(t, 1, commits)
}

func TestSyncPropagatesError(t *testing.T) {
	boom := context.DeadlineExceeded
	tr := trans.New(func(ctx context.Context) error {
		return boom
	})

	tr.TrackItem(1, 1)
	require.ErrorIs(t, tr.Sync(context.Background(), true), boom)
}
