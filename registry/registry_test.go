package registry_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/initbar/sipd/registry"
)

// fakeStopper records every call_id it was told to stop.
type fakeStopper struct {
	mu      sync.Mutex
	stopped []string
}

func (f *fakeStopper) Stop(callID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = append(f.stopped, callID)
}

func (f *fakeStopper) stoppedCount(callID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.stopped {
		if c == callID {
			n++
		}
	}
	return n
}

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	require.True(t, cond(), "condition not met within %s", timeout)
}

func TestRegisterThenContains(t *testing.T) {
	stopper := &fakeStopper{}
	r := registry.New(stopper, 10*time.Millisecond, time.Hour)
	r.Run()
	defer r.Stop()

	r.Register("abc@host", "tag1", r.Now().Add(time.Hour))
	waitUntil(t, time.Second, func() bool { return r.Contains("abc@host") })
	assert.Equal(t, 1, r.Active())
	assert.EqualValues(t, 1, r.Count())
}

func TestRegisterIsIdempotentByCallID(t *testing.T) {
	stopper := &fakeStopper{}
	r := registry.New(stopper, 10*time.Millisecond, time.Hour)
	r.Run()
	defer r.Stop()

	r.Register("abc@host", "tag1", r.Now().Add(time.Hour))
	r.Register("abc@host", "tag2", r.Now().Add(time.Hour))
	waitUntil(t, time.Second, func() bool { return r.Contains("abc@host") })

	assert.EqualValues(t, 1, r.Count())
	assert.Equal(t, 1, r.Active())
}

func TestRevokeStopsRTPAndRemovesFromMeta(t *testing.T) {
	stopper := &fakeStopper{}
	r := registry.New(stopper, 10*time.Millisecond, time.Hour)
	r.Run()
	defer r.Stop()

	r.Register("abc@host", "tag1", r.Now().Add(time.Hour))
	waitUntil(t, time.Second, func() bool { return r.Contains("abc@host") })

	r.Revoke("abc@host")
	waitUntil(t, time.Second, func() bool { return !r.Contains("abc@host") })

	assert.Equal(t, 1, stopper.stoppedCount("abc@host"))
}

func TestRevokeOfUnknownCallDoesNotSignalStop(t *testing.T) {
	stopper := &fakeStopper{}
	r := registry.New(stopper, 10*time.Millisecond, time.Hour)
	r.Run()
	defer r.Stop()

	r.Revoke("nonexistent@host")
	time.Sleep(50 * time.Millisecond)

	assert.Equal(t, 0, stopper.stoppedCount("nonexistent@host"))
}

// TestSweepStrictExpiry exercises spec §8's boundary: now == expires_at
// must NOT evict; only now > expires_at does.
func TestSweepStrictExpiry(t *testing.T) {
	stopper := &fakeStopper{}

	base := time.Unix(1_700_000_000, 0)
	var clock time.Time = base
	var mu sync.Mutex
	now := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return clock
	}
	advance := func(d time.Duration) {
		mu.Lock()
		clock = clock.Add(d)
		mu.Unlock()
	}

	r := registry.New(stopper, 5*time.Millisecond, time.Minute, registry.WithClock(now))
	r.Run()
	defer r.Stop()

	r.Register("abc@host", "tag1", base.Add(time.Minute))
	waitUntil(t, time.Second, func() bool { return r.Contains("abc@host") })

	// Exactly at expiry: must still be present.
	advance(time.Minute)
	time.Sleep(30 * time.Millisecond)
	assert.True(t, r.Contains("abc@host"), "entry evicted at now == expires_at, expected strict >")

	// Past expiry: must be swept.
	advance(time.Nanosecond)
	waitUntil(t, time.Second, func() bool { return !r.Contains("abc@host") })
	assert.Equal(t, 1, stopper.stoppedCount("abc@host"))
}

func TestHistoryCapEvictsOldestFirst(t *testing.T) {
	stopper := &fakeStopper{}
	r := registry.New(stopper, 5*time.Millisecond, time.Hour, registry.WithHistoryCap(2))
	r.Run()
	defer r.Stop()

	r.Register("a@host", "t", r.Now().Add(time.Hour))
	waitUntil(t, time.Second, func() bool { return r.Contains("a@host") })
	r.Register("b@host", "t", r.Now().Add(time.Hour))
	waitUntil(t, time.Second, func() bool { return r.Contains("b@host") })
	r.Register("c@host", "t", r.Now().Add(time.Hour))

	waitUntil(t, time.Second, func() bool { return !r.Contains("a@host") })
	assert.True(t, r.Contains("b@host"))
	assert.True(t, r.Contains("c@host"))
	assert.Equal(t, 1, stopper.stoppedCount("a@host"))
	assert.LessOrEqual(t, r.Active(), 2)
}

func TestStopPerformsFinalSweep(t *testing.T) {
	stopper := &fakeStopper{}
	base := time.Now().Add(-time.Hour)
	r := registry.New(stopper, time.Hour, time.Minute, registry.WithClock(func() time.Time { return time.Now() }))
	r.Run()

	r.Register("expired@host", "t", base.Add(time.Minute))
	waitUntil(t, time.Second, func() bool { return r.Contains("expired@host") })

	r.Stop()
	assert.Equal(t, 1, stopper.stoppedCount("expired@host"))
}
