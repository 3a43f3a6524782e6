package vrequest

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/lesismal/vrequest/metrics"
)

func TestJobQueueCollapsesAppends(t *testing.T) {
	m := metrics.New()
	q := NewJobQueue(0, m)
	runs := 0
	vr := New(q, &HandlerFuncs{
		OnRequestHeaders: func(vr *VRequest) Result {
			runs++
			return WaitForEvent
		},
	}, Options{Metrics: m})

	vr.HandleRequestHeaders()
	for i := 0; i < 5; i++ {
		vr.JoblistAppend()
	}
	require.Equal(t, 1, q.Len())
	require.True(t, q.Contains(vr))
	require.True(t, vr.Queued())

	require.Equal(t, 1, q.Run())
	require.Equal(t, 1, runs)
	require.False(t, vr.Queued())
	require.False(t, q.Contains(vr))

	families, err := m.Registry().Gather()
	require.NoError(t, err)
	found := false
	for _, f := range families {
		if f.GetName() == "vrequest_job_appends_collapsed_total" {
			found = true
			require.InDelta(t, 5, f.GetMetric()[0].GetCounter().GetValue(), 0)
		}
	}
	require.True(t, found)
	n, err := testutil.GatherAndCount(m.Registry(), "vrequest_job_runs_total")
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestJobQueueOrderAndReentry(t *testing.T) {
	q := NewJobQueue(0, nil)
	var order []int
	var reqs []*VRequest
	for i := 0; i < 3; i++ {
		i := i
		reqs = append(reqs, New(q, &HandlerFuncs{
			OnRequestHeaders: func(vr *VRequest) Result {
				order = append(order, i)
				if i == 0 && len(order) == 1 {
					// appended while running: waits for the next Run
					vr.JoblistAppend()
				}
				return WaitForEvent
			},
		}, Options{}))
	}
	for _, vr := range reqs {
		vr.HandleRequestHeaders()
	}
	require.Equal(t, 3, q.Run())
	require.Equal(t, []int{0, 1, 2}, order)
	require.Equal(t, 1, q.Len())
	require.Equal(t, 1, q.Run())
	require.Equal(t, []int{0, 1, 2, 0}, order)
}

func TestJobQueueAsyncOverflow(t *testing.T) {
	q := NewJobQueue(1, nil)
	runs := 0
	vr := New(q, &HandlerFuncs{
		OnRequestHeaders: func(vr *VRequest) Result {
			runs++
			return WaitForEvent
		},
	}, Options{})
	vr.HandleRequestHeaders()
	require.Equal(t, 1, q.Run())

	// same goroutine as the consumer, more wake-ups than chAsync holds
	for i := 0; i < 3; i++ {
		vr.JoblistAppendAsync()
	}
	require.Len(t, q.chAsync, 1)
	require.True(t, q.pending())

	require.Equal(t, 1, q.Run())
	require.Equal(t, 2, runs)
	require.False(t, q.pending())
	require.EqualValues(t, 1, vr.ref.Refcount())
}
