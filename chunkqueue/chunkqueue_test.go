package chunkqueue

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAppendAndRead(t *testing.T) {
	q := New()
	require.NoError(t, q.AppendString("hello "))
	require.NoError(t, q.AppendMem([]byte("world")))
	require.EqualValues(t, 11, q.Length())
	require.EqualValues(t, 11, q.BytesIn())
	require.EqualValues(t, 11, q.MemUsage())

	buf := make([]byte, 4)
	n, err := q.Read(buf)
	require.NoError(t, err)
	require.Equal(t, "hell", string(buf[:n]))
	require.EqualValues(t, 4, q.BytesOut())
	require.EqualValues(t, 7, q.Length())

	n, err = q.Read(make([]byte, 16))
	require.NoError(t, err)
	require.Equal(t, 7, n)

	n, err = q.Read(buf)
	require.NoError(t, err)
	require.Zero(t, n)

	q.Close()
	_, err = q.Read(buf)
	require.ErrorIs(t, err, io.EOF)
	require.ErrorIs(t, q.AppendString("late"), ErrClosed)
	require.True(t, q.Finished())
}

func TestStealKeepsOrder(t *testing.T) {
	src := New()
	dst := New()
	for _, s := range []string{"a", "bc", "def", "ghij"} {
		require.NoError(t, src.AppendString(s))
	}

	require.EqualValues(t, 2, dst.StealLen(src, 2))
	require.EqualValues(t, 8, dst.StealAll(src))
	require.Zero(t, src.Length())
	require.EqualValues(t, 10, src.BytesOut())
	require.EqualValues(t, 10, dst.BytesIn())

	b, err := dst.Bytes()
	require.NoError(t, err)
	require.Equal(t, "abcdefghij", string(b))
	require.EqualValues(t, 10, dst.MemUsage())
	require.Zero(t, src.MemUsage())
}

func TestFileRegion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.txt")
	require.NoError(t, os.WriteFile(path, []byte("0123456789"), 0o600))

	f, err := OpenFile(path)
	require.NoError(t, err)
	q := New()
	require.NoError(t, q.AppendString("<"))
	require.NoError(t, q.AppendFile(f, 2, 5))
	require.NoError(t, q.AppendString(">"))
	f.Release()
	require.EqualValues(t, 2, q.MemUsage())

	part := New()
	part.StealLen(q, 3)
	b, err := part.Bytes()
	require.NoError(t, err)
	require.Equal(t, "<23", string(b))

	out := &bytes.Buffer{}
	n, err := q.WriteTo(out)
	require.NoError(t, err)
	require.EqualValues(t, 4, n)
	require.Equal(t, "456>", out.String())
	require.Zero(t, q.Length())
	part.Reset()
}

func TestShortFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "short.txt")
	require.NoError(t, os.WriteFile(path, []byte("abc"), 0o600))
	f, err := OpenFile(path)
	require.NoError(t, err)
	defer f.Release()

	q := New()
	require.NoError(t, q.AppendFile(f, 0, 10))
	_, err = q.Bytes()
	require.ErrorIs(t, err, ErrShortFile)
	q.Reset()
}

func TestLimit(t *testing.T) {
	var events []bool
	l := NewLimit(8, func(locked bool) { events = append(events, locked) })

	a := New()
	b := New()
	a.UseLimit(l)
	b.UseLimit(l)

	require.NoError(t, a.AppendString("1234"))
	require.False(t, l.Locked())
	require.NoError(t, b.AppendString("5678"))
	require.True(t, l.Locked())
	require.EqualValues(t, 8, l.Current())

	// moving between queues sharing a limit does not flap
	b.StealAll(a)
	require.Equal(t, []bool{true}, events)

	b.Skip(3)
	require.False(t, l.Locked())
	require.Equal(t, []bool{true, false}, events)

	b.Reset()
	require.Zero(t, l.Current())
}

func TestStealLenSharedLimit(t *testing.T) {
	var events []bool
	l := NewLimit(8, func(locked bool) { events = append(events, locked) })
	a := New()
	b := New()
	a.UseLimit(l)
	b.UseLimit(l)

	require.NoError(t, a.AppendString("1234"))
	require.NoError(t, a.AppendString("5678"))
	require.Equal(t, []bool{true}, events)

	// one whole chunk, then a split one
	require.EqualValues(t, 6, b.StealLen(a, 6))
	require.Equal(t, []bool{true}, events)
	require.True(t, l.Locked())
	require.EqualValues(t, 6, b.MemUsage())
	require.EqualValues(t, 2, a.MemUsage())

	got, err := b.Bytes()
	require.NoError(t, err)
	require.Equal(t, "123456", string(got))
}
