// Package transport implements the UDP ingress and router from spec
// §4.2: a single reader socket that enqueues (endpoint, payload) items
// for the worker pool and never itself writes a reply. Grounded on
// emiago-sipgo/sip/transport_udp.go's TransportUDP.Serve for the
// single-reader listen loop shape, adapted to read-and-enqueue instead
// of read-and-parse-in-place (parsing belongs to the worker pool here,
// per spec §4.3).
package transport

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/rs/zerolog"

	"github.com/initbar/sipd/worker"
)

// maxDatagramSize is the largest UDP payload the router will read per
// spec §4.2 ("recvfrom up to 65535 bytes").
const maxDatagramSize = 65535

// Enqueuer is the subset of *worker.Pool the router needs.
type Enqueuer interface {
	Enqueue(item worker.Item) bool
	QueueLen() int
	QueueCap() int
}

// UDPRouter is the sole reader of the listening socket (spec §4.2 "the
// router is the sole reader").
type UDPRouter struct {
	addr         string
	enqueuer     Enqueuer
	log          zerolog.Logger
	loopInterval time.Duration
}

// Option configures a UDPRouter at construction time.
type Option func(*UDPRouter)

// WithLogger overrides the router's logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(r *UDPRouter) { r.log = logger }
}

// WithLoopInterval sets gc.loop_interval, the duration the reader sleeps
// once the work queue has reached its high-water mark (spec.md §5).
func WithLoopInterval(d time.Duration) Option {
	return func(r *UDPRouter) { r.loopInterval = d }
}

// New builds a UDPRouter bound to addr (host:port, spec §6 default
// "0.0.0.0:5060").
func New(addr string, enqueuer Enqueuer, opts ...Option) *UDPRouter {
	r := &UDPRouter{addr: addr, enqueuer: enqueuer, log: zerolog.Nop()}
	for _, o := range opts {
		o(r)
	}
	return r
}

// ListenAndServe binds the socket and reads until ctx is cancelled. It
// returns nil on a clean shutdown via ctx, or a wrapped error if the
// socket fails unexpectedly.
func (r *UDPRouter) ListenAndServe(ctx context.Context) error {
	if !reusePortSupported {
		r.log.Warn().Str("addr", r.addr).
			Msg("transport: SO_REUSEPORT unsupported on this platform, falling back to a plain listener")
	}

	lc := net.ListenConfig{Control: controlReusePort}
	pc, err := lc.ListenPacket(ctx, "udp", r.addr)
	if err != nil {
		return fmt.Errorf("transport: listen %s: %w", r.addr, err)
	}
	conn := pc.(*net.UDPConn)

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	r.log.Info().Str("addr", r.addr).Msg("transport: listening")

	buf := make([]byte, maxDatagramSize)
	for {
		// spec.md §5: once the work queue reaches its high-water mark
		// (default 2N), the reader throttles by sleeping one
		// gc.loop_interval tick before its next read, rather than
		// reading (and immediately dropping) at full speed.
		if r.loopInterval > 0 && r.enqueuer.QueueLen() >= r.enqueuer.QueueCap() {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(r.loopInterval):
			}
		}

		n, raddr, err := conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			return fmt.Errorf("transport: read: %w", err)
		}
		if n == 0 {
			// Spec §4.2: "short reads that yield zero bytes are ignored."
			continue
		}

		payload := make([]byte, n)
		copy(payload, buf[:n])

		if !r.enqueuer.Enqueue(worker.Item{Endpoint: raddr, Payload: payload}) {
			r.log.Warn().Str("remote", raddr.String()).Msg("transport: item dropped, queue full")
		}
	}
}
