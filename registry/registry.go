package registry

import (
	"container/list"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/initbar/sipd/internal/metrics"
)

// defaultHistoryCap is spec §4.6's default cap: floor((65535-6000)/2).
const defaultHistoryCap = (65535 - 6000) / 2

// RTPStopper is the one capability the registry needs from the RTP
// engine client: a best-effort, fire-and-forget stop signal. Kept as a
// narrow interface so registry tests don't need a real UDP client
// (spec §4.5 "stop(call_id) ... always succeeds from the caller's
// perspective").
type RTPStopper interface {
	Stop(callID string)
}

type task struct {
	kind      taskKind
	callID    string
	tag       string
	expiresAt time.Time
}

type taskKind int

const (
	taskRegister taskKind = iota
	taskRevoke
)

// Registry is the call registry from spec §4.6: `history` (an ordered
// queue of Call-IDs) and `meta` (Call-ID -> Entry), mutated only by the
// single reaper goroutine that drains `tasks`. Workers never touch
// `history`/`meta` directly — they submit tasks, matching spec §9's
// "cyclic call-back" redesign hint.
type Registry struct {
	log zerolog.Logger

	loopInterval time.Duration
	callLifetime time.Duration
	historyCap   int
	stopper      RTPStopper
	now          func() time.Time

	tasks chan task
	done  chan struct{}
	wg    sync.WaitGroup

	// history/meta are only ever mutated from the reaper goroutine
	// (loop). mu guards meta for the read-only Contains/Count calls
	// workers make to decide whether an INVITE is a retransmission.
	mu      sync.RWMutex
	history *list.List
	meta    map[string]*Entry
	count   uint64
}

// Option configures a Registry at construction time.
type Option func(*Registry)

// WithLogger overrides the registry's logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(r *Registry) { r.log = logger }
}

// WithHistoryCap overrides the default history cap (mostly for tests).
func WithHistoryCap(n int) Option {
	return func(r *Registry) { r.historyCap = n }
}

// WithClock overrides the reaper's notion of "now" (for tests exercising
// expiry without sleeping).
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// New builds a Registry. loopInterval and callLifetime correspond to
// gc.loop_interval and gc.call_lifetime (spec §6).
func New(stopper RTPStopper, loopInterval, callLifetime time.Duration, opts ...Option) *Registry {
	r := &Registry{
		log:          zerolog.Nop(),
		loopInterval: loopInterval,
		callLifetime: callLifetime,
		historyCap:   defaultHistoryCap,
		stopper:      stopper,
		now:          time.Now,
		tasks:        make(chan task, 1024),
		done:         make(chan struct{}),
		history:      list.New(),
		meta:         make(map[string]*Entry),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// CallLifetime returns the configured call lifetime, used by callers to
// compute an Entry's ExpiresAt at registration time.
func (r *Registry) CallLifetime() time.Duration {
	return r.callLifetime
}

// Now returns the registry's clock (time.Now unless overridden).
func (r *Registry) Now() time.Time {
	return r.now()
}

// Contains reports whether callID already has a live entry. Workers use
// this before handling an INVITE to detect retransmissions (spec §4.4).
func (r *Registry) Contains(callID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.meta[callID]
	return ok
}

// Count returns the number of distinct calls seen (spec §3 "count").
func (r *Registry) Count() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.count
}

// Active returns the number of calls currently tracked.
func (r *Registry) Active() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.meta)
}

// Register submits a deferred registration task (spec §4.6). Idempotent
// by call_id: applied at most once even if submitted twice.
func (r *Registry) Register(callID, tag string, expiresAt time.Time) {
	r.submit(task{kind: taskRegister, callID: callID, tag: tag, expiresAt: expiresAt})
}

// Revoke submits a deferred removal task (spec §4.6), used by BYE.
func (r *Registry) Revoke(callID string) {
	r.submit(task{kind: taskRevoke, callID: callID})
}

func (r *Registry) submit(t task) {
	select {
	case r.tasks <- t:
	case <-r.done:
	}
}

// Run drives the reaper: it drains pending tasks and sweeps expired
// entries every loopInterval, until ctx-equivalent Stop is called. Run
// performs one final sweep after Stop is signalled (spec §5 "stops the
// reaper after one final sweep").
func (r *Registry) Run() {
	r.wg.Add(1)
	go r.loop()
}

func (r *Registry) loop() {
	defer r.wg.Done()
	ticker := time.NewTicker(r.loopInterval)
	defer ticker.Stop()

	for {
		select {
		case t := <-r.tasks:
			r.apply(t)
		case <-ticker.C:
			r.drainPending()
			r.sweep()
		case <-r.done:
			r.drainPending()
			r.sweep()
			return
		}
	}
}

// drainPending consumes whatever tasks are queued without blocking,
// mirroring gc.py's gc_consume_garbage draining self._futures before
// walking the history queue.
func (r *Registry) drainPending() {
	for {
		select {
		case t := <-r.tasks:
			r.apply(t)
		default:
			return
		}
	}
}

func (r *Registry) apply(t task) {
	switch t.kind {
	case taskRegister:
		r.applyRegister(t)
	case taskRevoke:
		r.applyRevoke(t)
	}
}

func (r *Registry) applyRegister(t task) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.meta[t.callID]; exists {
		// Idempotent: a retransmitted INVITE's register task is a no-op.
		return
	}

	r.history.PushBack(t.callID)
	r.meta[t.callID] = &Entry{
		CallID:    t.callID,
		Tag:       t.tag,
		State:     StateInvite,
		CreatedAt: r.now(),
		ExpiresAt: t.expiresAt,
	}
	r.count++
	r.log.Info().Str("call_id", t.callID).Msg("registry: registered")
	metrics.CallsActive.Set(float64(len(r.meta)))

	r.evictOverCapLocked()
}

func (r *Registry) applyRevoke(t task) {
	r.mu.Lock()
	entry, exists := r.meta[t.callID]
	if exists {
		entry.State = StateBye
		delete(r.meta, t.callID)
	}
	metrics.CallsActive.Set(float64(len(r.meta)))
	r.mu.Unlock()

	if !exists {
		return
	}
	r.log.Info().Str("call_id", t.callID).Msg("registry: revoked")
	metrics.CallsRevoked.Inc()
	r.stopper.Stop(t.callID)
}

// evictOverCapLocked enforces the history cap from spec §4.6: oldest
// entries are evicted with a forced stop when the cap is exceeded.
// Caller must hold r.mu.
func (r *Registry) evictOverCapLocked() {
	for r.history.Len() > r.historyCap {
		front := r.history.Front()
		if front == nil {
			return
		}
		r.history.Remove(front)
		callID := front.Value.(string)
		if _, exists := r.meta[callID]; exists {
			delete(r.meta, callID)
			metrics.CallsActive.Set(float64(len(r.meta)))
			r.log.Warn().Str("call_id", callID).Msg("registry: evicted over history cap")
			r.stopper.Stop(callID)
		}
	}
}

// sweep implements spec §4.6's reaper walk: from the head of history,
// pop entries missing from meta (lazy cleanup from a Revoke), evict
// entries strictly past their expiry, and stop at the first entry that
// is present and not yet expired (the queue is ordered by registration
// time, and lifetime is constant, so expiry order matches registration
// order).
func (r *Registry) sweep() {
	now := r.now()
	for {
		var (
			callID  string
			expired bool
			missing bool
		)

		r.mu.Lock()
		front := r.history.Front()
		if front == nil {
			r.mu.Unlock()
			return
		}
		callID = front.Value.(string)
		entry, exists := r.meta[callID]
		switch {
		case !exists:
			missing = true
			r.history.Remove(front)
		case now.After(entry.ExpiresAt):
			expired = true
			r.history.Remove(front)
			delete(r.meta, callID)
			metrics.CallsActive.Set(float64(len(r.meta)))
		}
		r.mu.Unlock()

		if missing {
			continue
		}
		if expired {
			r.log.Info().Str("call_id", callID).Msg("registry: expired")
			metrics.CallsExpired.Inc()
			r.stopper.Stop(callID)
			continue
		}
		return
	}
}

// Stop signals the reaper to perform one final sweep and exit, then
// blocks until it has.
func (r *Registry) Stop() {
	close(r.done)
	r.wg.Wait()
}
