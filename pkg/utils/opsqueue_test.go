package utils

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestOpsQueue(t *testing.T) {
	t.Run("runs in order", func(t *testing.T) {
		oq := NewOpsQueue(OpsQueueParams{Name: "test", MinSize: 16, FlushOnStop: true})
		oq.Start()

		var lock sync.Mutex
		var got []int
		for i := 0; i < 100; i++ {
			i := i
			require.True(t, oq.Enqueue(func() {
				lock.Lock()
				got = append(got, i)
				lock.Unlock()
			}))
		}
		<-oq.Stop()

		require.Len(t, got, 100)
		for i, v := range got {
			require.Equal(t, i, v)
		}
	})

	t.Run("grows past an uneven min size", func(t *testing.T) {
		oq := NewOpsQueue(OpsQueueParams{Name: "test", MinSize: 5, FlushOnStop: true})

		// queued before start so the buffer has to grow
		got := make([]int, 0, 37)
		for i := 0; i < 37; i++ {
			i := i
			require.True(t, oq.Enqueue(func() { got = append(got, i) }))
		}
		oq.Start()
		<-oq.Stop()

		require.Len(t, got, 37)
		for i, v := range got {
			require.Equal(t, i, v)
		}
	})

	t.Run("rejects after stop", func(t *testing.T) {
		oq := NewOpsQueue(OpsQueueParams{Name: "test"})
		oq.Start()
		<-oq.Stop()
		require.False(t, oq.Enqueue(func() {}))

		// stopping twice is fine
		select {
		case <-oq.Stop():
		case <-time.After(time.Second):
			t.Fatal("second stop did not return")
		}
	})

	t.Run("stop without start", func(t *testing.T) {
		oq := NewOpsQueue(OpsQueueParams{Name: "test"})
		select {
		case <-oq.Stop():
		case <-time.After(time.Second):
			t.Fatal("stop did not return")
		}
	})

	t.Run("survives panicking op", func(t *testing.T) {
		oq := NewOpsQueue(OpsQueueParams{Name: "test", FlushOnStop: true})
		oq.Start()

		ran := false
		oq.Enqueue(func() { panic("boom") })
		oq.Enqueue(func() { ran = true })
		<-oq.Stop()
		require.True(t, ran)
	})
}
