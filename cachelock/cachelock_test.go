package cachelock

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rpcpool/loamfs/key"
)

func TestModeGrants(t *testing.T) {
	lck := New(Write, key.New(0, 0, 0), key.New(0, 0, 100))

	require.True(t, lck.CoversKey(Read, key.New(0, 0, 50)))
	require.True(t, lck.CoversKey(Write, key.New(0, 0, 50)))
	require.False(t, lck.CoversKey(WriteOnly, key.New(0, 0, 50)))

	lck.Mode = Read
	require.True(t, lck.CoversKey(Read, key.New(0, 0, 50)))
	require.False(t, lck.CoversKey(Write, key.New(0, 0, 50)))

	lck.Mode = WriteOnly
	require.True(t, lck.CoversKey(WriteOnly, key.New(0, 0, 50)))
	require.False(t, lck.CoversKey(Read, key.New(0, 0, 50)))
	require.False(t, lck.CoversKey(Write, key.New(0, 0, 50)))
}

func TestCoversRange(t *testing.T) {
	lck := New(Write, key.New(0, 0, 10), key.New(0, 0, 20))

	require.True(t, lck.Covers(Write, key.New(0, 0, 10), key.New(0, 0, 20)))
	require.True(t, lck.Covers(Write, key.New(0, 0, 12), key.New(0, 0, 18)))
	require.False(t, lck.Covers(Write, key.New(0, 0, 9), key.New(0, 0, 18)))
	require.False(t, lck.Covers(Write, key.New(0, 0, 12), key.New(0, 0, 21)))

	var nilLock *Lock
	require.False(t, nilLock.Covers(Read, key.Zero(), key.Max()))
}

func TestClamp(t *testing.T) {
	lck := New(Read, key.New(0, 0, 10), key.New(0, 0, 20))

	require.Equal(t, key.New(0, 0, 20), lck.ClampEnd(key.New(0, 0, 99)))
	require.Equal(t, key.New(0, 0, 15), lck.ClampEnd(key.New(0, 0, 15)))
	require.Equal(t, key.New(0, 0, 10), lck.ClampStart(key.New(0, 0, 1)))
	require.Equal(t, key.New(0, 0, 15), lck.ClampStart(key.New(0, 0, 15)))
}
