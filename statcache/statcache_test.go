package statcache

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lesismal/vrequest/taskpool"
)

func TestGetWakesWaiter(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "index.html")
	require.NoError(t, os.WriteFile(path, []byte("hi"), 0o600))

	pool := taskpool.New(2, 8)
	defer pool.Stop()
	c := New(pool, time.Minute)

	woken := make(chan struct{}, 1)
	e, ready := c.Get(path, func() { woken <- struct{}{} })
	if !ready {
		select {
		case <-woken:
		case <-time.After(time.Second):
			t.Fatal("waiter was not woken")
		}
	}
	require.True(t, e.Ready())
	info, err := e.Info()
	require.NoError(t, err)
	require.EqualValues(t, 2, info.Size())

	again, ready := c.Get(path, nil)
	require.True(t, ready)
	require.Same(t, e, again)
	require.Equal(t, 2, c.Refcount(e))

	c.Release(e)
	c.Release(again)
	require.Zero(t, c.Refcount(e))
}

func TestMissingFile(t *testing.T) {
	c := New(nil, time.Minute)
	e, ready := c.Get(filepath.Join(t.TempDir(), "missing"), nil)
	require.True(t, ready)
	_, err := e.Info()
	require.ErrorIs(t, err, os.ErrNotExist)
	c.Release(e)
}

func TestExpiryAndInvalidate(t *testing.T) {
	now := time.Unix(1000, 0)
	stats := 0
	c := New(nil, time.Second)
	c.now = func() time.Time { return now }
	c.stat = func(string) (os.FileInfo, error) {
		stats++
		return nil, os.ErrNotExist
	}

	e1, _ := c.Get("/a", nil)
	c.Release(e1)
	e2, _ := c.Get("/a", nil)
	c.Release(e2)
	require.Same(t, e1, e2)
	require.Equal(t, 1, stats)

	now = now.Add(2 * time.Second)
	e3, _ := c.Get("/a", nil)
	require.NotSame(t, e1, e3)
	require.Equal(t, 2, stats)
	c.Release(e3)

	c.Invalidate("/a")
	require.Zero(t, c.Len())

	e4, _ := c.Get("/b", nil)
	c.Release(e4)
	now = now.Add(2 * time.Second)
	require.Equal(t, 1, c.Purge())
}
