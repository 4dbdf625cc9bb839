package sipd_test

import (
	"context"
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/initbar/sipd/internal/config"
	"github.com/initbar/sipd/registry"
	"github.com/initbar/sipd/rtpclient"
	"github.com/initbar/sipd/sip"
	"github.com/initbar/sipd/transport"
	"github.com/initbar/sipd/worker"
)

// sipOptionsSample is spec §8 scenario 1's literal fixture, reused
// verbatim from original_source/src/src/sip/static/options.py.
const sipOptionsSample = "OPTIONS sip:192.168.1.6:5060 SIP/2.0\r\n" +
	"Via: SIP/2.0/UDP 192.168.1.3:15064;branch=z9hG4bK0x2473c35084b6b1\r\n" +
	"From: <sip:GVP@192.168.1.3:15064>;tag=9E565000-FB73-C996-4E01-0810C8DE0CF4\r\n" +
	"To: sip:192.168.1.6:5060\r\n" +
	"Max-Forwards: 70\r\n" +
	"CSeq: 307103 OPTIONS\r\n" +
	"Call-ID: 9E565000-FB73-F13E-6076-D8822FB9A4E4-15064@192.168.1.3\r\n" +
	"Contact: <sip:GVP@192.168.1.3:15064>\r\n" +
	"Content-Length: 0\r\n" +
	"Allow: INVITE, OPTIONS, BYE, CANCEL, ACK, UPDATE, INFO\r\n" +
	"Supported: timer, uui\r\n"

const sampleInvite = "INVITE sip:1000@127.0.0.1 SIP/2.0\r\n" +
	"Via: SIP/2.0/UDP 127.0.0.1:5060\r\n" +
	"From: <sip:caller@127.0.0.1>\r\n" +
	"To: <sip:1000@127.0.0.1>\r\n" +
	"Call-ID: abc@host\r\n" +
	"CSeq: 1 INVITE\r\n" +
	"Contact: <sip:caller@127.0.0.1>\r\n" +
	"Max-Forwards: 70\r\n" +
	"Content-Length: 0\r\n\r\n"

const sampleBye = "BYE sip:1000@127.0.0.1 SIP/2.0\r\n" +
	"Via: SIP/2.0/UDP 127.0.0.1:5060\r\n" +
	"From: <sip:caller@127.0.0.1>\r\n" +
	"To: <sip:1000@127.0.0.1>\r\n" +
	"Call-ID: abc@host\r\n" +
	"CSeq: 2 BYE\r\n" +
	"Max-Forwards: 70\r\n" +
	"Content-Length: 0\r\n\r\n"

// stubEngine is the same fake RTP engine shape as rtpclient's own test
// suite, reused here to drive whole-pipeline scenarios.
type stubEngine struct {
	conn    *net.UDPConn
	tx, rx  int
	timeout bool
	stops   chan map[string]interface{}
}

func newStubEngine(t *testing.T, tx, rx int) (*stubEngine, config.RTPHandler) {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0})
	require.NoError(t, err)
	s := &stubEngine{conn: conn, tx: tx, rx: rx, stops: make(chan map[string]interface{}, 8)}
	go s.serve()
	addr := conn.LocalAddr().(*net.UDPAddr)
	return s, config.RTPHandler{Host: "127.0.0.1", Port: addr.Port, Enabled: true}
}

func (s *stubEngine) serve() {
	buf := make([]byte, 1024)
	for {
		n, raddr, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			return
		}
		var req map[string]interface{}
		if err := json.Unmarshal(buf[:n], &req); err != nil {
			continue
		}
		if _, isStop := req["Call-ID"]; isStop && len(req) == 1 {
			s.stops <- req
			continue
		}
		if s.timeout {
			continue
		}
		reply, _ := json.Marshal(map[string]int{"TxPort": s.tx, "RxPort": s.rx})
		s.conn.WriteToUDP(reply, raddr)
	}
}

func (s *stubEngine) Close() { s.conn.Close() }

// harness wires a real registry + rtpclient + worker pool + transport
// router end to end, against a stubbed RTP engine, for the scenarios in
// spec §8.
type harness struct {
	reg    *registry.Registry
	engine *stubEngine
	pool   *worker.Pool
	router *transport.UDPRouter

	clientConn *net.UDPConn
	serverAddr string
}

func newHarness(t *testing.T, tx, rx int, timeout bool, loopInterval, callLifetime time.Duration) *harness {
	t.Helper()

	engine, handler := newStubEngine(t, tx, rx)
	engine.timeout = timeout

	rtp := rtpclient.New([]config.RTPHandler{handler}, "192.168.1.3", 500*time.Millisecond)
	reg := registry.New(rtp, loopInterval, callLifetime)
	parser := sip.NewParser()

	headers := map[string]string{"Allow": "INVITE, ACK, BYE, CANCEL, OPTIONS"}
	pool := worker.New(1, parser, reg, rtp, headers, "<sip:192.168.1.3:5060;transport=udp>", 1)

	listener, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0})
	require.NoError(t, err)
	serverAddr := listener.LocalAddr().String()
	listener.Close()

	router := transport.New(serverAddr, pool)

	clientConn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0})
	require.NoError(t, err)

	h := &harness{reg: reg, engine: engine, pool: pool, router: router, clientConn: clientConn, serverAddr: serverAddr}
	return h
}

func (h *harness) start(t *testing.T) func() {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	h.reg.Run()
	h.pool.Run()
	go h.router.ListenAndServe(ctx)
	// UDP is connectionless, so there is no handshake to wait on; give
	// the router a moment to finish its bind before the first send.
	time.Sleep(50 * time.Millisecond)

	return func() {
		cancel()
		h.pool.Stop()
		h.reg.Stop()
		h.engine.Close()
		h.clientConn.Close()
	}
}

func mustResolve(t *testing.T, addr string) *net.UDPAddr {
	t.Helper()
	a, err := net.ResolveUDPAddr("udp", addr)
	require.NoError(t, err)
	return a
}

func (h *harness) send(t *testing.T, payload string) {
	t.Helper()
	_, err := h.clientConn.WriteToUDP([]byte(payload), mustResolve(t, h.serverAddr))
	require.NoError(t, err)
}

func (h *harness) readAll(t *testing.T, n int, timeout time.Duration) []string {
	t.Helper()
	var out []string
	deadline := time.Now().Add(timeout)
	buf := make([]byte, 2048)
	for len(out) < n {
		h.clientConn.SetReadDeadline(deadline)
		nRead, _, err := h.clientConn.ReadFromUDP(buf)
		if err != nil {
			break
		}
		out = append(out, string(buf[:nRead]))
	}
	return out
}

func TestEndToEndOptionsPing(t *testing.T) {
	parser := sip.NewParser()
	dg, err := parser.Parse([]byte(sipOptionsSample))
	require.NoError(t, err)

	out, err := sip.Serialize(sip.OptionsTemplate, dg)
	require.NoError(t, err)

	resp := string(out)
	assert.Contains(t, resp, "SIP/2.0 200 OK")
	assert.Contains(t, resp, "CSeq: 307103 OPTIONS")
	assert.Contains(t, resp, "Call-ID: 9E565000-FB73-F13E-6076-D8822FB9A4E4-15064@192.168.1.3")
	assert.Contains(t, resp, "Content-Length: 0")
}

func TestEndToEndInviteHappyPath(t *testing.T) {
	h := newHarness(t, 6000, 6001, false, 20*time.Millisecond, time.Hour)
	stop := h.start(t)
	defer stop()

	h.send(t, sampleInvite)
	replies := h.readAll(t, 3, 2*time.Second)
	require.Len(t, replies, 3)
	assert.Contains(t, replies[0], "100 Trying")
	assert.Contains(t, replies[1], "180 Ringing")
	assert.Contains(t, replies[2], "200 OK")
	assert.Contains(t, replies[2], "m=audio 6000 RTP/AVP 0 8 18 96")
	assert.Contains(t, replies[2], "m=audio 6001 RTP/AVP 0 8 18 96")

	assert.Eventually(t, func() bool { return h.reg.Contains("abc@host") }, time.Second, 10*time.Millisecond)
}

func TestEndToEndInviteRTPFailureExhaustsRetries(t *testing.T) {
	h := newHarness(t, 6000, 6001, true, 20*time.Millisecond, time.Hour)
	stop := h.start(t)
	defer stop()

	h.send(t, sampleInvite)
	replies := h.readAll(t, 3, 2*time.Second)
	require.Len(t, replies, 3)
	assert.Contains(t, replies[0], "100 Trying")
	assert.Contains(t, replies[1], "180 Ringing")
	last := replies[2]
	assert.Contains(t, last, "200 OK")
	assert.Contains(t, last, "Content-Length: 0")
	assert.NotContains(t, last, "m=audio")

	time.Sleep(100 * time.Millisecond)
	assert.False(t, h.reg.Contains("abc@host"))
}

func TestEndToEndDuplicateInviteIsNotReRegistered(t *testing.T) {
	h := newHarness(t, 6000, 6001, false, 20*time.Millisecond, time.Hour)
	stop := h.start(t)
	defer stop()

	h.send(t, sampleInvite)
	_ = h.readAll(t, 3, 2*time.Second)
	require.Eventually(t, func() bool { return h.reg.Contains("abc@host") }, time.Second, 10*time.Millisecond)
	require.EqualValues(t, 1, h.reg.Count())

	h.send(t, sampleInvite)
	replies := h.readAll(t, 1, time.Second)
	require.Len(t, replies, 1)
	assert.Contains(t, replies[0], "200 OK")
	assert.NotContains(t, replies[0], "m=audio")
	assert.EqualValues(t, 1, h.reg.Count())
}

func TestEndToEndByeTearsDown(t *testing.T) {
	h := newHarness(t, 6000, 6001, false, 20*time.Millisecond, time.Hour)
	stop := h.start(t)
	defer stop()

	h.send(t, sampleInvite)
	_ = h.readAll(t, 3, 2*time.Second)
	require.Eventually(t, func() bool { return h.reg.Contains("abc@host") }, time.Second, 10*time.Millisecond)

	h.send(t, sampleBye)
	replies := h.readAll(t, 2, time.Second)
	require.Len(t, replies, 2)
	assert.Contains(t, replies[0], "200 OK")
	assert.Contains(t, replies[1], "487 Request Terminated")

	select {
	case req := <-h.engine.stops:
		assert.Equal(t, "abc@host", req["Call-ID"])
	case <-time.After(time.Second):
		t.Fatal("engine never received stop request after BYE")
	}
	assert.Eventually(t, func() bool { return !h.reg.Contains("abc@host") }, time.Second, 10*time.Millisecond)
}

func TestEndToEndExpiryTearsDown(t *testing.T) {
	h := newHarness(t, 6000, 6001, false, 20*time.Millisecond, 50*time.Millisecond)
	stop := h.start(t)
	defer stop()

	h.send(t, sampleInvite)
	_ = h.readAll(t, 3, 2*time.Second)
	require.Eventually(t, func() bool { return h.reg.Contains("abc@host") }, time.Second, 10*time.Millisecond)

	select {
	case req := <-h.engine.stops:
		assert.Equal(t, "abc@host", req["Call-ID"])
	case <-time.After(2 * time.Second):
		t.Fatal("engine never received stop request after expiry")
	}
	assert.Eventually(t, func() bool { return !h.reg.Contains("abc@host") }, time.Second, 10*time.Millisecond)
}
