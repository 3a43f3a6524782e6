package vrequest

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lesismal/vrequest/metrics"
)

func TestRefCount(t *testing.T) {
	vr, _, _ := newTestVRequest(t, &HandlerFuncs{}, Options{})
	r := vr.AcquireRef()
	require.EqualValues(t, 2, r.Refcount())
	require.Same(t, r, vr.AcquireRef())
	require.EqualValues(t, 3, r.Refcount())

	require.Same(t, vr, r.Release())
	require.Same(t, vr, r.Release())
	require.False(t, r.Destroyed())
	require.True(t, r.Alive())

	vr.Reset()
	require.True(t, r.Destroyed())
	require.False(t, r.Alive())
	require.Nil(t, r.Get())
}

func TestRefResetWithHolders(t *testing.T) {
	vr, _, _ := newTestVRequest(t, &HandlerFuncs{}, Options{})
	holders := []*Ref{vr.AcquireRef(), vr.AcquireRef()}

	vr.Reset()
	for _, h := range holders {
		require.False(t, h.Alive())
		require.Nil(t, h.Get())
	}
	require.False(t, holders[0].Destroyed())
	require.Nil(t, holders[1].Release())
	require.Nil(t, holders[0].Release())
	require.True(t, holders[0].Destroyed())
}

func TestRefWakeupFromGoroutines(t *testing.T) {
	runs := 0
	vr, q, _ := newTestVRequest(t, &HandlerFuncs{
		OnRequestHeaders: func(vr *VRequest) Result {
			runs++
			return WaitForEvent
		},
	}, Options{})
	vr.HandleRequestHeaders()
	drain(t, q)
	require.Equal(t, 1, runs)

	const holders = 8
	refs := make([]*Ref, holders)
	for i := range refs {
		refs[i] = vr.AcquireRef()
	}
	wg := sync.WaitGroup{}
	for _, r := range refs {
		wg.Add(1)
		go func(r *Ref) {
			defer wg.Done()
			if r.Alive() {
				r.Wakeup()
			}
		}(r)
	}
	wg.Wait()

	require.Equal(t, 1, q.Run())
	require.Equal(t, 2, runs)
	require.EqualValues(t, 1, vr.ref.Refcount())
}

func TestRefWakeupAfterReset(t *testing.T) {
	m := metrics.New()
	q := NewJobQueue(4, m)
	vr := New(q, &HandlerFuncs{}, Options{Metrics: m})
	r := vr.AcquireRef()
	vr.Reset()

	r.Wakeup()
	require.Zero(t, q.Run())
	require.Zero(t, q.Len())
	require.True(t, r.Destroyed())
}

func TestJoblistAppendAsync(t *testing.T) {
	runs := 0
	vr, q, _ := newTestVRequest(t, &HandlerFuncs{
		OnRequestHeaders: func(vr *VRequest) Result {
			runs++
			return WaitForEvent
		},
	}, Options{})
	vr.HandleRequestHeaders()
	drain(t, q)

	vr.JoblistAppendAsync()
	require.Zero(t, q.Len())
	require.Len(t, q.chAsync, 1)
	drain(t, q)
	require.Equal(t, 2, runs)
}
