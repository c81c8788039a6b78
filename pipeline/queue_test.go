package pipeline

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTryEnqueueRejectsWhenFull(t *testing.T) {
	q := NewIngressQueue(2)
	require.NoError(t, q.TryEnqueue([]byte("a")))
	require.NoError(t, q.TryEnqueue([]byte("b")))
	err := q.TryEnqueue([]byte("c"))
	require.ErrorIs(t, err, ErrQueueFull)
}

func TestDequeueBatchReturnsInFIFOOrder(t *testing.T) {
	q := NewIngressQueue(10)
	require.NoError(t, q.TryEnqueue([]byte("a")))
	require.NoError(t, q.TryEnqueue([]byte("b")))
	require.NoError(t, q.TryEnqueue([]byte("c")))

	batch, err := q.DequeueBatch(2)
	require.NoError(t, err)
	require.Equal(t, [][]byte{[]byte("a"), []byte("b")}, batch)
	require.Equal(t, 1, q.Len())
}

func TestDequeueBatchBlocksUntilDataArrives(t *testing.T) {
	q := NewIngressQueue(10)
	var got [][]byte
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		batch, err := q.DequeueBatch(4)
		require.NoError(t, err)
		got = batch
	}()

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, q.TryEnqueue([]byte("x")))
	wg.Wait()
	require.Equal(t, [][]byte{[]byte("x")}, got)
}

func TestCloseWakesBlockedDequeue(t *testing.T) {
	q := NewIngressQueue(10)
	done := make(chan error, 1)
	go func() {
		_, err := q.DequeueBatch(4)
		done <- err
	}()
	time.Sleep(10 * time.Millisecond)
	q.Close()
	select {
	case err := <-done:
		require.ErrorIs(t, err, ErrQueueClosed)
	case <-time.After(time.Second):
		t.Fatal("Close did not wake blocked DequeueBatch")
	}
}

func TestCloseStillDrainsQueuedFrames(t *testing.T) {
	q := NewIngressQueue(10)
	require.NoError(t, q.TryEnqueue([]byte("a")))
	q.Close()

	batch, err := q.DequeueBatch(4)
	require.NoError(t, err)
	require.Equal(t, [][]byte{[]byte("a")}, batch)

	_, err = q.DequeueBatch(4)
	require.ErrorIs(t, err, ErrQueueClosed)
}

func TestTryEnqueueAfterCloseFails(t *testing.T) {
	q := NewIngressQueue(10)
	q.Close()
	err := q.TryEnqueue([]byte("a"))
	require.ErrorIs(t, err, ErrQueueClosed)
}
