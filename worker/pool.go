// Package worker implements the worker pool and method-handler state
// machine from spec §4.3/§4.4: a bounded pool of goroutines pulling
// (endpoint, payload) items off a queue, each running the full
// parse -> overlay -> dispatch -> respond pipeline per item. Grounded on
// original_source/src/src/sip/worker.py's SIPWorker.handle() for the
// pipeline shape, translated from Python's thread-per-worker model into
// a fixed set of long-lived goroutines, with sourcegraph/conc/panics
// recovering a panicking handler per item.
package worker

import (
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/panics"
	"github.com/tevino/abool"

	"github.com/initbar/sipd/internal/metrics"
	"github.com/initbar/sipd/sip"
)

// Item is one (endpoint, payload) unit of work pulled off the router's
// queue, per spec §3 "Work Item".
type Item struct {
	Endpoint *net.UDPAddr
	Payload  []byte
}

// Registry is the subset of *registry.Registry the worker pool needs.
// Kept narrow so tests can supply a fake without a real reaper
// goroutine running.
type Registry interface {
	Contains(callID string) bool
	Register(callID, tag string, expiresAt time.Time)
	Revoke(callID string)
	Now() time.Time
	CallLifetime() time.Duration
}

// RTPClient is the subset of *rtpclient.Client the worker pool needs.
type RTPClient interface {
	Start(dg *sip.Datagram) (*sip.Datagram, error)
	Stop(callID string)
}

// Pool is the worker pool from spec §4.3: N long-lived goroutines, each
// owning one reused UDP socket for replies, pulling from a bounded
// channel.
type Pool struct {
	n        int
	queue    chan Item
	parser   *sip.Parser
	registry Registry
	rtp      RTPClient
	headers  map[string]string
	contact  string
	maxRetry int
	log      zerolog.Logger

	stopped *abool.AtomicBool
	done    chan struct{}
	wg      sync.WaitGroup
}

// Option configures a Pool at construction time.
type Option func(*Pool)

// WithLogger overrides the pool's logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(p *Pool) { p.log = logger }
}

// New builds a Pool with n workers and a queue of capacity 2n (spec
// §4.3 "queue capacity >= 2N"). headers are the configured default
// headers to overlay (spec §4.3 step 5); contact is the precomputed
// Contact header value "<sip:HOST:5060;transport=udp>" (step 6).
func New(n int, parser *sip.Parser, reg Registry, rtp RTPClient, headers map[string]string, contact string, maxRetry int, opts ...Option) *Pool {
	if n < 1 {
		n = 1
	}
	if maxRetry < 1 {
		maxRetry = 1
	}
	p := &Pool{
		n:        n,
		queue:    make(chan Item, 2*n),
		parser:   parser,
		registry: reg,
		rtp:      rtp,
		headers:  headers,
		contact:  contact,
		maxRetry: maxRetry,
		log:      zerolog.Nop(),
		stopped:  abool.New(),
		done:     make(chan struct{}),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// QueueLen reports how many items are currently queued, for the
// router's high-water-mark throttle (spec.md §5).
func (p *Pool) QueueLen() int {
	return len(p.queue)
}

// QueueCap reports the queue's fixed capacity (2n, spec §4.3).
func (p *Pool) QueueCap() int {
	return cap(p.queue)
}

// Enqueue offers item to the queue. It never blocks: if the queue is
// full, the item is dropped and a warning logged (spec §4.3 "additional
// items may be dropped with a warning after the queue is full").
func (p *Pool) Enqueue(item Item) bool {
	if p.stopped.IsSet() {
		return false
	}
	select {
	case p.queue <- item:
		metrics.QueueDepth.Set(float64(len(p.queue)))
		return true
	default:
		p.log.Warn().Str("endpoint", item.Endpoint.String()).Msg("worker: queue full, dropping item")
		return false
	}
}

// Run starts the n worker goroutines.
func (p *Pool) Run() {
	for i := 0; i < p.n; i++ {
		p.wg.Add(1)
		go p.runWorker(i)
	}
}

// Stop signals all workers to exit after their current item and waits
// for them to finish.
func (p *Pool) Stop() {
	p.stopped.Set()
	close(p.done)
	p.wg.Wait()
}

func (p *Pool) runWorker(id int) {
	defer p.wg.Done()
	sock := &replySocket{}
	defer sock.close()

	log := p.log.With().Int("worker", id).Logger()
	for {
		select {
		case item, ok := <-p.queue:
			if !ok {
				return
			}
			metrics.QueueDepth.Set(float64(len(p.queue)))
			p.handle(log, sock, item)
		case <-p.done:
			return
		}
	}
}

// handle runs one item through the pipeline inside a panics.Catcher: a
// datagram that panics a handler must never take the worker goroutine
// down with it (spec §9 "exceptions for control flow" redesign hint;
// original_source's handle() always resets worker state even after an
// exception, which this recover mirrors).
func (p *Pool) handle(log zerolog.Logger, sock *replySocket, item Item) {
	var catcher panics.Catcher
	catcher.Try(func() { p.process(log, sock, item) })
	if r := catcher.Recovered(); r != nil {
		log.Error().Err(r.AsError()).Msg("worker: recovered from handler panic")
	}
}

// process is the per-item pipeline from spec §4.3.
func (p *Pool) process(log zerolog.Logger, sock *replySocket, item Item) {
	tag := uuid.New().String()
	log = log.With().Str("tag", tag).Logger()

	if !sip.IsSIP(item.Payload) {
		metrics.ParseFailures.Inc()
		log.Debug().Str("dir", "in").Msg("worker: dropped, no SIP signature")
		return
	}

	dg, err := p.parser.Parse(item.Payload)
	if err != nil {
		metrics.ParseFailures.Inc()
		log.Debug().Err(err).Str("dir", "in").Msg("worker: dropped, parse failed")
		return
	}

	callID := dg.CallID()
	method := dg.Method()
	if callID == "" || method == "" {
		log.Debug().Str("dir", "in").Msg("worker: dropped, missing Call-ID or Method")
		return
	}
	log = log.With().Str("call_id", callID).Str("method", method).Logger()

	for k, v := range p.headers {
		dg.SIP.Set(k, v)
	}
	dg.SIP.Set("Contact", p.contact)

	rc := &requestContext{
		tag:      tag,
		log:      log,
		dg:       dg,
		maxRetry: p.maxRetry,
		registry: p.registry,
		rtp:      p.rtp,
		send: func(tmpl sip.Template, out *sip.Datagram) {
			p.respond(log, sock, item.Endpoint, tmpl, out)
		},
	}

	handler := dispatch[sip.Method(method)]
	if handler == nil {
		handler = handleDefault
	}
	handler(rc)
}

func (p *Pool) respond(log zerolog.Logger, sock *replySocket, addr *net.UDPAddr, tmpl sip.Template, dg *sip.Datagram) {
	data, err := sip.Serialize(tmpl, dg)
	if err != nil {
		log.Error().Err(err).Str("dir", "out").Msg("worker: serialize failed")
		return
	}
	if err := sock.send(addr, data); err != nil {
		log.Warn().Err(err).Str("dir", "out").Msg("worker: send failed")
		return
	}
	log.Debug().Str("dir", "out").Str("status_line", tmpl.StatusLine).Msg("worker: responded")
}

// replySocket is a worker's reused ephemeral UDP socket. On send
// failure it is discarded and a fresh short-lived socket is allocated
// for that single send (spec §4.4 edge case), after which the reused
// socket is lazily recreated on the next send.
type replySocket struct {
	conn *net.UDPConn
}

func (s *replySocket) send(addr *net.UDPAddr, data []byte) error {
	if s.conn == nil {
		c, err := net.ListenUDP("udp", &net.UDPAddr{})
		if err != nil {
			return err
		}
		s.conn = c
	}
	if _, err := s.conn.WriteToUDP(data, addr); err != nil {
		s.conn.Close()
		s.conn = nil
		return s.sendOnce(addr, data)
	}
	return nil
}

// sendOnce allocates a fresh short-lived socket for a single send after
// the reused socket has failed.
func (s *replySocket) sendOnce(addr *net.UDPAddr, data []byte) error {
	c, err := net.ListenUDP("udp", &net.UDPAddr{})
	if err != nil {
		return err
	}
	defer c.Close()
	_, err = c.WriteToUDP(data, addr)
	return err
}

func (s *replySocket) close() {
	if s.conn != nil {
		s.conn.Close()
	}
}
