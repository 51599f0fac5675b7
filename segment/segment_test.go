package segment_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rpcpool/loamfs/key"
	"github.com/rpcpool/loamfs/segment"
)

func tk(n uint64) key.Key {
	return key.New(0, 0, n)
}

func TestAppendOrdered(t *testing.T) {
	s := segment.New(0)

	require.True(t, s.Append(tk(1), []byte("a"), false))
	require.True(t, s.Append(tk(5), nil, true))
	require.True(t, s.Append(tk(9), []byte("i"), false))

	// Out of order and duplicate appends are refused.
	require.False(t, s.Append(tk(3), []byte("c"), false))
	require.False(t, s.Append(tk(9), []byte("x"), false))

	require.Equal(t, 3, s.Len())
	require.Equal(t, tk(1), s.FirstKey())
	require.Equal(t, tk(9), s.LastKey())
}

func TestAppendCapacity(t *testing.T) {
	s := segment.New(100)

	require.True(t, s.Append(tk(1), make([]byte, 40), false))
	require.False(t, s.Append(tk(2), make([]byte, 60), false))
	require.Equal(t, 1, s.Len())
}

func TestFitsSingle(t *testing.T) {
	s := segment.New(1000)

	require.True(t, s.FitsSingle(0, 0))
	require.True(t, s.FitsSingle(10, 500))
	require.False(t, s.FitsSingle(10, 900))

	// FitsSingle describes an empty segment regardless of what this
	// one holds.
	require.True(t, s.Append(tk(1), make([]byte, 500), false))
	require.True(t, s.FitsSingle(10, 500))
}

func TestWriteReadRoundTrip(t *testing.T) {
	s := segment.New(0)
	require.True(t, s.Append(tk(1), []byte("alpha"), false))
	require.True(t, s.Append(tk(2), nil, false))
	require.True(t, s.Append(tk(3), nil, true))
	require.True(t, s.Append(tk(4), []byte("delta"), false))

	var buf bytes.Buffer
	n, err := s.WriteTo(&buf)
	require.NoError(t, err)
	require.Equal(t, int64(buf.Len()), n)

	got, err := segment.Read(&buf)
	require.NoError(t, err)
	require.Equal(t, s.Len(), got.Len())

	want := s.Items()
	for i, it := range got.Items() {
		require.Equal(t, want[i].Key, it.Key)
		require.Equal(t, want[i].Val, it.Val)
		require.Equal(t, want[i].Deletion, it.Deletion)
	}
}

func TestReadRejectsGarbage(t *testing.T) {
	_, err := segment.Read(bytes.NewReader([]byte("not a segment at all")))
	require.Error(t, err)
}
