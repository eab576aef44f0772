package chat

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"chathub/internal/metrics"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInlinePersist(t *testing.T) {
	var called bool
	Inline{}.Persist("inline_ok", func(ctx context.Context) error {
		called = true
		return nil
	})
	assert.True(t, called)

	before := testutil.ToFloat64(metrics.PersistenceFailures.WithLabelValues("inline_fail"))
	Inline{Timeout: time.Second}.Persist("inline_fail", func(ctx context.Context) error {
		_, ok := ctx.Deadline()
		assert.True(t, ok)
		return errBoom
	})
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.PersistenceFailures.WithLabelValues("inline_fail")))
}

func TestWriteBehindPreservesOrder(t *testing.T) {
	wb := NewWriteBehind(4, time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- wb.Run(ctx) }()

	var mu sync.Mutex
	var got []int
	for i := 0; i < 50; i++ {
		i := i
		wb.Persist("order", func(context.Context) error {
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
			return nil
		})
	}
	wb.Flush()

	mu.Lock()
	require.Len(t, got, 50)
	for i, v := range got {
		assert.Equal(t, i, v)
	}
	mu.Unlock()

	cancel()
	require.NoError(t, <-done)
}

func TestWriteBehindDrainsOnStop(t *testing.T) {
	wb := NewWriteBehind(16, 0)
	var mu sync.Mutex
	count := 0
	for i := 0; i < 10; i++ {
		wb.Persist("drain", func(context.Context) error {
			mu.Lock()
			count++
			mu.Unlock()
			return nil
		})
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, wb.Run(ctx))

	mu.Lock()
	assert.Equal(t, 10, count)
	mu.Unlock()

	// writes after stop are reported, not queued
	before := testutil.ToFloat64(metrics.PersistenceFailures.WithLabelValues("late"))
	wb.Persist("late", func(context.Context) error { return nil })
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.PersistenceFailures.WithLabelValues("late")))
	wb.Flush()
}

func TestWriteBehindStopWithConcurrentWriters(t *testing.T) {
	const writers, perWriter = 8, 200
	wb := NewWriteBehind(4, 0)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- wb.Run(ctx) }()

	before := testutil.ToFloat64(metrics.PersistenceFailures.WithLabelValues("racing"))
	var applied atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWriter; j++ {
				wb.Persist("racing", func(context.Context) error {
					applied.Add(1)
					return nil
				})
			}
		}()
	}
	time.Sleep(time.Millisecond)
	cancel()
	require.NoError(t, <-done)
	wg.Wait()

	flushed := make(chan struct{})
	go func() {
		wb.Flush()
		close(flushed)
	}()
	select {
	case <-flushed:
	case <-time.After(2 * time.Second):
		t.Fatal("Flush did not return after stop")
	}

	// every write is either applied or reported, none are lost in the queue
	failed := testutil.ToFloat64(metrics.PersistenceFailures.WithLabelValues("racing")) - before
	assert.Equal(t, float64(writers*perWriter), float64(applied.Load())+failed)
}

func TestWriteBehindReportsFailures(t *testing.T) {
	wb := NewWriteBehind(1, time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go wb.Run(ctx)

	before := testutil.ToFloat64(metrics.PersistenceFailures.WithLabelValues("wb_fail"))
	wb.Persist("wb_fail", func(context.Context) error { return errBoom })
	wb.Persist("wb_fail", func(context.Context) error { return nil })
	wb.Flush()

	assert.Equal(t, before+1, testutil.ToFloat64(metrics.PersistenceFailures.WithLabelValues("wb_fail")))
}

func TestRouterWithWriteBehind(t *testing.T) {
	dl := &memLog{}
	wb := NewWriteBehind(8, time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go wb.Run(ctx)

	rec := &recorder{}
	r := NewRouter(dl, wb, rec)
	require.NoError(t, r.Bootstrap(context.Background()))
	join(t, r, rec, "c1", "Alice")
	id := sendAndGetID(t, r, rec, "c1", "async")
	r.HandleEvent("c1", EventEditMessage, raw(t, EditMessageRequest{MessageID: id, Message: "edited", RoomID: GlobalRoomID}))
	wb.Flush()

	stored, ok := dl.message(id)
	require.True(t, ok)
	assert.Equal(t, "edited", stored.Body)
	assert.True(t, stored.IsEdited)
}
