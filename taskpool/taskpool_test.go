package taskpool

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const testLoopNum = 1024
const sleepTime = time.Nanosecond * 10

func TestTaskPoolRunsAll(t *testing.T) {
	p := New(8, 64)
	defer p.Stop()

	var n int64
	wg := sync.WaitGroup{}
	wg.Add(testLoopNum)
	for i := 0; i < testLoopNum; i++ {
		require.NoError(t, p.Go(func() {
			atomic.AddInt64(&n, 1)
			wg.Done()
		}))
	}
	wg.Wait()
	require.Equal(t, int64(testLoopNum), atomic.LoadInt64(&n))
}

func TestTaskPoolRecoversPanic(t *testing.T) {
	p := New(1, 4)
	defer p.Stop()

	done := make(chan struct{})
	require.NoError(t, p.Go(func() { panic("boom") }))
	require.NoError(t, p.Go(func() { close(done) }))
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("pool stopped running tasks after a panic")
	}
}

func TestTaskPoolStopped(t *testing.T) {
	p := New(2, 2)
	p.Stop()
	p.Stop()
	require.ErrorIs(t, p.Go(func() {}), ErrStopped)
}

func BenchmarkTaskPool(b *testing.B) {
	p := New(32, 1024)
	defer p.Stop()

	b.ReportAllocs()
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		wg := sync.WaitGroup{}
		wg.Add(testLoopNum)
		for j := 0; j < testLoopNum; j++ {
			p.Go(func() {
				if sleepTime > 0 {
					time.Sleep(sleepTime)
				}
				wg.Done()
			})
		}
		wg.Wait()
	}
}
