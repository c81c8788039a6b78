package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/katzenpost/core/log"
	"github.com/stretchr/testify/require"

	"github.com/anonmix/mixnode/sphinx"
)

func testLogBackend(t *testing.T) *log.Backend {
	backend, err := log.New("", "DEBUG", false)
	require.NoError(t, err)
	return backend
}

func TestPipelineRoutesForwardOutcome(t *testing.T) {
	process := func(frame []byte) (sphinx.Outcome, error) {
		return sphinx.Outcome{Kind: sphinx.KindForward, DelayHintMs: 42}, nil
	}
	p := New(4, 16, 1, 4, process, testLogBackend(t), "test")

	var mu sync.Mutex
	var got *sphinx.Outcome
	p.OnForward(func(o sphinx.Outcome) {
		mu.Lock()
		defer mu.Unlock()
		got = &o
	})
	p.Start()
	defer p.Shutdown()

	require.NoError(t, p.Submit([]byte("frame")))
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return got != nil
	}, time.Second, time.Millisecond)

	require.Equal(t, uint32(42), got.DelayHintMs)
}

func TestPipelineRoutesDeliverOutcome(t *testing.T) {
	process := func(frame []byte) (sphinx.Outcome, error) {
		return sphinx.Outcome{Kind: sphinx.KindDeliver, Plain: []byte("hello")}, nil
	}
	p := New(4, 16, 1, 4, process, testLogBackend(t), "test")

	var mu sync.Mutex
	var got []byte
	p.OnDeliver(func(o sphinx.Outcome) {
		mu.Lock()
		defer mu.Unlock()
		got = o.Plain
	})
	p.Start()
	defer p.Shutdown()

	require.NoError(t, p.Submit([]byte("frame")))
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return got != nil
	}, time.Second, time.Millisecond)
	require.Equal(t, []byte("hello"), got)
}

func TestPipelineRoutesDropOutcome(t *testing.T) {
	process := func(frame []byte) (sphinx.Outcome, error) {
		return sphinx.Outcome{Kind: sphinx.KindDrop, Reason: sphinx.DropBadMAC}, nil
	}
	p := New(4, 16, 1, 4, process, testLogBackend(t), "test")

	var mu sync.Mutex
	var reason string
	p.OnDrop(func(r string) {
		mu.Lock()
		defer mu.Unlock()
		reason = r
	})
	p.Start()
	defer p.Shutdown()

	require.NoError(t, p.Submit([]byte("frame")))
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return reason != ""
	}, time.Second, time.Millisecond)
	require.Equal(t, "bad_mac", reason)
}

func TestPipelineRecoversFromProcessorPanic(t *testing.T) {
	process := func(frame []byte) (sphinx.Outcome, error) {
		panic("boom")
	}
	p := New(4, 16, 1, 4, process, testLogBackend(t), "test")

	var mu sync.Mutex
	var reason string
	p.OnDrop(func(r string) {
		mu.Lock()
		defer mu.Unlock()
		reason = r
	})
	p.Start()
	defer p.Shutdown()

	require.NoError(t, p.Submit([]byte("frame")))
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return reason != ""
	}, time.Second, time.Millisecond)
	require.Equal(t, "worker_panic", reason)
	require.Equal(t, uint64(1), p.Restarts())

	// The worker loop must still be alive after recovering.
	mu.Lock()
	reason = ""
	mu.Unlock()
	require.NoError(t, p.Submit([]byte("frame2")))
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return reason != ""
	}, time.Second, time.Millisecond)
}

func TestOnLatencyFiresForEveryProcessedFrame(t *testing.T) {
	process := func(frame []byte) (sphinx.Outcome, error) {
		return sphinx.Outcome{Kind: sphinx.KindDrop}, nil
	}
	p := New(4, 16, 1, 4, process, testLogBackend(t), "test")

	var mu sync.Mutex
	samples := 0
	p.OnLatency(func(ms float64) {
		mu.Lock()
		defer mu.Unlock()
		samples++
		require.GreaterOrEqual(t, ms, 0.0)
	})
	p.Start()
	defer p.Shutdown()

	require.NoError(t, p.Submit([]byte("frame")))
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return samples == 1
	}, time.Second, time.Millisecond)
}

func TestAcquireBufferReportsHitThenMissOncePoolDrained(t *testing.T) {
	process := func(frame []byte) (sphinx.Outcome, error) {
		return sphinx.Outcome{Kind: sphinx.KindDrop}, nil
	}
	p := New(1, 16, 1, 4, process, testLogBackend(t), "test")

	var mu sync.Mutex
	hits, misses := 0, 0
	p.OnPoolHit(func() {
		mu.Lock()
		defer mu.Unlock()
		hits++
	})
	p.OnPoolMiss(func() {
		mu.Lock()
		defer mu.Unlock()
		misses++
	})

	buf, err := p.AcquireBuffer(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = p.AcquireBuffer(ctx)
	require.ErrorIs(t, err, ErrPoolExhausted)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, 1, hits)
	require.Equal(t, 1, misses)

	p.ReleaseBuffer(buf)
}

func TestSubmitFailsWhenQueueFull(t *testing.T) {
	blocked := make(chan struct{})
	process := func(frame []byte) (sphinx.Outcome, error) {
		<-blocked
		return sphinx.Outcome{Kind: sphinx.KindDrop}, nil
	}
	p := New(4, 1, 1, 1, process, testLogBackend(t), "test")
	p.Start()
	defer func() {
		close(blocked)
		p.Shutdown()
	}()

	require.NoError(t, p.Submit([]byte("a")))
	time.Sleep(10 * time.Millisecond) // let the single worker pick it up and block
	require.NoError(t, p.Submit([]byte("b")))
	err := p.Submit([]byte("c"))
	require.ErrorIs(t, err, ErrQueueFull)
}
