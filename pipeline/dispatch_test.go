package pipeline

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDispatcherSendsSubmittedFrames(t *testing.T) {
	var mu sync.Mutex
	var sent []string

	limiter := NewRateLimiter(1000, 10)
	send := func(nextHop [18]byte, frame []byte) error {
		mu.Lock()
		defer mu.Unlock()
		sent = append(sent, string(frame))
		return nil
	}
	d := NewEgressDispatcher(limiter, send, time.Second, testLogBackend(t), "test")
	d.Start()
	defer d.Shutdown()

	d.Submit(EgressFrame{Frame: []byte("one")})
	d.Submit(EgressFrame{Frame: []byte("two")})

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(sent) == 2
	}, time.Second, time.Millisecond)
}

func TestDispatcherReportsSendError(t *testing.T) {
	limiter := NewRateLimiter(1000, 10)
	boom := errors.New("boom")
	send := func(nextHop [18]byte, frame []byte) error { return boom }
	d := NewEgressDispatcher(limiter, send, time.Second, testLogBackend(t), "test")

	var mu sync.Mutex
	var gotErr error
	d.OnSendError(func(f EgressFrame, err error) {
		mu.Lock()
		defer mu.Unlock()
		gotErr = err
	})
	d.Start()
	defer d.Shutdown()

	d.Submit(EgressFrame{Frame: []byte("x")})
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return gotErr != nil
	}, time.Second, time.Millisecond)
	require.ErrorIs(t, gotErr, boom)
}

func TestDispatcherReportsSendSuccess(t *testing.T) {
	limiter := NewRateLimiter(1000, 10)
	send := func(nextHop [18]byte, frame []byte) error { return nil }
	d := NewEgressDispatcher(limiter, send, time.Second, testLogBackend(t), "test")

	var mu sync.Mutex
	var got *EgressFrame
	d.OnSendSuccess(func(f EgressFrame) {
		mu.Lock()
		defer mu.Unlock()
		got = &f
	})
	d.Start()
	defer d.Shutdown()

	d.Submit(EgressFrame{Frame: []byte("x")})
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return got != nil
	}, time.Second, time.Millisecond)
}

func TestDispatcherReportsRateLimited(t *testing.T) {
	limiter := NewRateLimiter(1, 1)
	limiter.Allow() // consume the single burst token up front

	send := func(nextHop [18]byte, frame []byte) error { return nil }
	d := NewEgressDispatcher(limiter, send, 10*time.Millisecond, testLogBackend(t), "test")

	var mu sync.Mutex
	var limited bool
	d.OnRateLimited(func(f EgressFrame) {
		mu.Lock()
		defer mu.Unlock()
		limited = true
	})
	d.Start()
	defer d.Shutdown()

	d.Submit(EgressFrame{Frame: []byte("x")})
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return limited
	}, time.Second, time.Millisecond)
}
