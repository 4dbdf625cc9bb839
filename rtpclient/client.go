// Package rtpclient implements the RTP engine control protocol from
// spec §4.5/§6: a UDP JSON request-reply client that negotiates a pair
// of ports with an external RTP engine and tears them down again.
// Grounded on other_examples' go-rtpengine Engine shape (connection
// parameters + google/uuid tags + zerolog) and on
// original_source/src/src/rtp/server.py's SynchronousRTPRouter for the
// exact wire semantics and SDP line generation.
package rtpclient

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"time"

	"github.com/rs/zerolog"

	"github.com/initbar/sipd/internal/config"
	"github.com/initbar/sipd/sip"
)

// ErrNoEngineEnabled is returned when no configured engine has
// enabled=true.
var ErrNoEngineEnabled = errors.New("rtpclient: no enabled RTP engine")

// ErrPartialPorts is returned when the engine's reply carries only one
// of TxPort/RxPort (spec §4.4 "treat as failure").
var ErrPartialPorts = errors.New("rtpclient: partial port assignment from engine")

const maxReplyBytes = 255

// startRequest is the RTPD_START wire template from spec §6.
type startRequest struct {
	CallID               string `json:"Call-ID"`
	GenesysGVPSessionID  string `json:"X-Genesys-GVP-Session-ID"`
}

// startReply is the RTPD_START reply shape from spec §6.
type startReply struct {
	TxPort int `json:"TxPort"`
	RxPort int `json:"RxPort"`
}

// stopRequest is the RTPD_STOP wire template from spec §6.
type stopRequest struct {
	CallID string `json:"Call-ID"`
}

// Client is a UDP JSON request-reply client addressing a fixed set of
// RTP engines (spec §4.5 "the set of engines is fixed at startup").
type Client struct {
	engines      []config.RTPHandler
	externalHost string
	timeout      time.Duration
	log          zerolog.Logger
}

// Option configures a Client at construction time.
type Option func(*Client)

// WithLogger overrides the client's logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Client) { c.log = logger }
}

// New builds a Client. externalHost is the daemon's own externally
// reachable address, substituted for a loopback engine host before
// composing the SDP c= line (spec §4.5).
func New(engines []config.RTPHandler, externalHost string, timeout time.Duration, opts ...Option) *Client {
	c := &Client{
		engines:      engines,
		externalHost: externalHost,
		timeout:      timeout,
		log:          zerolog.Nop(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// pickEngine selects uniformly at random among enabled engines, per
// spec §4.5.
func (c *Client) pickEngine() (config.RTPHandler, bool) {
	var enabled []config.RTPHandler
	for _, e := range c.engines {
		if e.Enabled {
			enabled = append(enabled, e)
		}
	}
	if len(enabled) == 0 {
		return config.RTPHandler{}, false
	}
	return enabled[rand.Intn(len(enabled))], true
}

// engineHost rewrites a loopback engine host to the daemon's own
// external address before it's used in the SDP c= line, per spec §4.5.
func (c *Client) engineHost(h string) string {
	ip := net.ParseIP(h)
	if ip != nil && ip.IsLoopback() {
		return c.externalHost
	}
	if h == "localhost" {
		return c.externalHost
	}
	return h
}

// Start implements spec §4.5 start(datagram) -> Option<datagram>. A nil
// return with a non-nil error means the caller should retry (or give
// up); callers must never surface this error to the SIP peer.
func (c *Client) Start(dg *sip.Datagram) (*sip.Datagram, error) {
	engine, ok := c.pickEngine()
	if !ok {
		return nil, ErrNoEngineEnabled
	}

	req := startRequest{
		CallID:              dg.CallID(),
		GenesysGVPSessionID: dg.SIP.Get("X-Genesys-GVP-Session-ID"),
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("rtpclient: marshal start request: %w", err)
	}

	reply, err := c.roundTrip(engine, body)
	if err != nil {
		c.log.Warn().Err(err).Str("call_id", req.CallID).Msg("rtp engine start failed")
		return nil, err
	}

	var parsed startReply
	if err := json.Unmarshal(reply, &parsed); err != nil {
		return nil, fmt.Errorf("rtpclient: unmarshal start reply: %w", err)
	}
	if parsed.TxPort <= 0 || parsed.RxPort <= 0 {
		return nil, ErrPartialPorts
	}

	out := dg.Clone()
	host := c.engineHost(engine.Host)
	out.SDP = append(out.SDP,
		fmt.Sprintf("o=- 0 0 IN IP4 %s", host),
		"v=0",
		"s=phone-call",
		fmt.Sprintf("c=IN IP4 %s", host),
		"t=0 0",
	)
	for _, port := range []int{parsed.TxPort, parsed.RxPort} {
		out.SDP = append(out.SDP,
			fmt.Sprintf("m=audio %d RTP/AVP 0 8 18 96", port),
			"a=rtpmap:0 PCMU/8000",
			"a=rtpmap:8 PCMA/8000",
			"a=rtpmap:18 G729/8000",
			"a=rtpmap:96 telephone-event/8000",
			"a=fmtp:96 0-15",
			"a=recvonly",
			"a=ptime:20",
			"a=maxptime:1000",
		)
	}
	return out, nil
}

// Stop implements spec §4.5 stop(call_id): sent once to each enabled
// engine, fire-and-forget — no reply is awaited, matching
// original_source's send_stop_signal(), which calls sendto() with no
// corresponding recvfrom(). It always "succeeds" from the caller's
// perspective, matching registry.RTPStopper.
func (c *Client) Stop(callID string) {
	body, err := json.Marshal(stopRequest{CallID: callID})
	if err != nil {
		c.log.Error().Err(err).Msg("rtpclient: marshal stop request")
		return
	}
	for _, e := range c.engines {
		if !e.Enabled {
			continue
		}
		if err := c.sendOnly(e, body); err != nil {
			c.log.Warn().Err(err).Str("call_id", callID).Str("engine", e.Host).
				Msg("rtp engine stop signal failed")
		}
	}
}

// sendOnly writes body to engine on a throwaway UDP socket without
// waiting for or reading any reply.
func (c *Client) sendOnly(engine config.RTPHandler, body []byte) error {
	addr := net.JoinHostPort(engine.Host, fmt.Sprintf("%d", engine.Port))
	conn, err := net.Dial("udp", addr)
	if err != nil {
		return fmt.Errorf("rtpclient: dial %s: %w", addr, err)
	}
	defer conn.Close()

	if _, err := conn.Write(body); err != nil {
		return fmt.Errorf("rtpclient: write to %s: %w", addr, err)
	}
	return nil
}

// roundTrip sends body to engine on a fresh ephemeral UDP socket and
// waits up to c.timeout for up to maxReplyBytes of reply.
func (c *Client) roundTrip(engine config.RTPHandler, body []byte) ([]byte, error) {
	addr := net.JoinHostPort(engine.Host, fmt.Sprintf("%d", engine.Port))
	conn, err := net.Dial("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("rtpclient: dial %s: %w", addr, err)
	}
	defer conn.Close()

	if _, err := conn.Write(body); err != nil {
		return nil, fmt.Errorf("rtpclient: write to %s: %w", addr, err)
	}

	timeout := c.timeout
	if timeout <= 0 {
		timeout = time.Second
	}
	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return nil, fmt.Errorf("rtpclient: set deadline: %w", err)
	}

	buf := make([]byte, maxReplyBytes)
	n, err := conn.Read(buf)
	if err != nil {
		return nil, fmt.Errorf("rtpclient: read from %s: %w", addr, err)
	}
	return buf[:n], nil
}
