package pipelib

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func feedItems(items ...int) chan int {
	in := make(chan int, len(items))
	for _, item := range items {
		in <- item
	}
	close(in)
	return in
}

func recvSignal(t *testing.T, flushes <-chan struct{}) {
	t.Helper()
	select {
	case _, ok := <-flushes:
		require.True(t, ok, "flush channel closed early")
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a flush signal")
	}
}

func recvItem(t *testing.T, out <-chan int) int {
	t.Helper()
	select {
	case item, ok := <-out:
		require.True(t, ok, "item channel closed early")
		return item
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for an item")
		return 0
	}
}

func drainClosed(t *testing.T, out <-chan int, flushes <-chan struct{}) {
	t.Helper()
	for out != nil || flushes != nil {
		select {
		case _, ok := <-out:
			require.False(t, ok, "unexpected extra item")
			out = nil
		case _, ok := <-flushes:
			require.False(t, ok, "unexpected extra flush signal")
			flushes = nil
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for the stage to close")
		}
	}
}

func TestFlushOnEach(t *testing.T) {
	defer goleak.VerifyNone(t)

	out, flushes := FlushOnEach[int]().Apply(context.Background(), feedItems(1, 2, 3))

	// One signal immediately after each accepted item, in lockstep.
	for want := 1; want <= 3; want++ {
		require.Equal(t, want, recvItem(t, out))
		recvSignal(t, flushes)
	}
	drainClosed(t, out, flushes)
}

func TestFlushOnEnd(t *testing.T) {
	defer goleak.VerifyNone(t)

	out, flushes := FlushOnEnd[int]().Apply(context.Background(), feedItems(1, 2, 3))

	for want := 1; want <= 3; want++ {
		require.Equal(t, want, recvItem(t, out))
	}
	recvSignal(t, flushes)
	drainClosed(t, out, flushes)
}

func TestFlushBatchCount(t *testing.T) {
	defer goleak.VerifyNone(t)

	out, flushes := FlushBatch[int](2, 0).Apply(context.Background(), feedItems(1, 2, 3, 4, 5))

	require.Equal(t, 1, recvItem(t, out))
	require.Equal(t, 2, recvItem(t, out))
	recvSignal(t, flushes)
	require.Equal(t, 3, recvItem(t, out))
	require.Equal(t, 4, recvItem(t, out))
	recvSignal(t, flushes)
	require.Equal(t, 5, recvItem(t, out))
	recvSignal(t, flushes) // final flush for the trailing item
	drainClosed(t, out, flushes)
}

func TestFlushBatchExactMultiple(t *testing.T) {
	defer goleak.VerifyNone(t)

	out, flushes := FlushBatch[int](2, 0).Apply(context.Background(), feedItems(1, 2, 3, 4))

	require.Equal(t, 1, recvItem(t, out))
	require.Equal(t, 2, recvItem(t, out))
	recvSignal(t, flushes)
	require.Equal(t, 3, recvItem(t, out))
	require.Equal(t, 4, recvItem(t, out))
	recvSignal(t, flushes)
	// The last item already triggered a count-based signal, so there is no
	// extra completion flush.
	drainClosed(t, out, flushes)
}

func TestFlushBatchInterval(t *testing.T) {
	defer goleak.VerifyNone(t)

	in := make(chan int)
	out, flushes := FlushBatch[int](0, 5*time.Millisecond).Apply(context.Background(), in)

	// With the sequence idle, time-based signals still fire.
	recvSignal(t, flushes)

	close(in)
	// More ticks may have fired while closing; tolerate extra signals but
	// not extra items.
	for out != nil || flushes != nil {
		select {
		case _, ok := <-out:
			require.False(t, ok, "unexpected item")
			out = nil
		case _, ok := <-flushes:
			if !ok {
				flushes = nil
			}
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for the stage to close")
		}
	}
}

func TestFlushEmptySequence(t *testing.T) {
	defer goleak.VerifyNone(t)

	out, flushes := FlushOnEnd[int]().Apply(context.Background(), feedItems())
	recvSignal(t, flushes)
	drainClosed(t, out, flushes)

	out, flushes = FlushOnEach[int]().Apply(context.Background(), feedItems())
	drainClosed(t, out, flushes)
}

func TestFlushStageCancellation(t *testing.T) {
	defer goleak.VerifyNone(t)

	ctx, cancel := context.WithCancel(context.Background())
	in := make(chan int)
	out, flushes := FlushOnEach[int]().Apply(ctx, in)

	cancel()
	drainClosed(t, out, flushes)
}

func TestFlushOrderPreserved(t *testing.T) {
	defer goleak.VerifyNone(t)

	items := make([]int, 100)
	for i := range items {
		items[i] = i
	}
	out, flushes := FlushBatch[int](7, 0).Apply(context.Background(), feedItems(items...))

	done := make(chan struct{})
	signals := 0
	go func() {
		defer close(done)
		for range flushes {
			signals++
		}
	}()

	var got []int
	for item := range out {
		got = append(got, item)
	}
	<-done

	require.Equal(t, items, got)
	require.Equal(t, 15, signals) // 14 full batches plus the trailing flush
}
