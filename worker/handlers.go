package worker

import (
	"github.com/rs/zerolog"

	"github.com/initbar/sipd/internal/metrics"
	"github.com/initbar/sipd/sip"
)

// requestContext carries everything one handler invocation needs,
// bundled so handlers stay free functions keyed by method, mirroring
// the teacher's requestHandlers map[sip.RequestMethod]RequestHandler in
// server.go.
type requestContext struct {
	tag      string
	log      zerolog.Logger
	dg       *sip.Datagram
	maxRetry int
	registry Registry
	rtp      RTPClient
	send     func(tmpl sip.Template, dg *sip.Datagram)
}

// dispatch is the method -> handler table from spec §4.4.
var dispatch = map[sip.Method]func(*requestContext){
	sip.INVITE:  handleInvite,
	sip.ACK:     handleAck,
	sip.BYE:     handleBye,
	sip.CANCEL:  handleCancel,
	sip.OPTIONS: handleOptions,
}

// handleDefault answers any unrecognized method with 200 OK, no SDP
// (spec §4.4 "the default (unknown method) responds with 200 OK").
func handleDefault(rc *requestContext) {
	rc.send(sip.OKNoSDP, rc.dg)
}

// handleInvite is the non-trivial path from spec §4.4.
func handleInvite(rc *requestContext) {
	callID := rc.dg.CallID()

	if rc.registry.Contains(callID) {
		rc.log.Debug().Msg("worker: invite retransmission, registry already holds call")
		rc.send(sip.OKNoSDP, rc.dg)
		return
	}
	if rc.rtp == nil {
		rc.log.Warn().Msg("worker: rtp client unavailable, declining invite")
		rc.send(sip.OKNoSDP, rc.dg)
		return
	}

	rc.send(sip.Trying, rc.dg)

	var augmented *sip.Datagram
	for attempt := 1; attempt <= rc.maxRetry; attempt++ {
		rc.send(sip.Ringing, rc.dg)

		out, err := rc.rtp.Start(rc.dg)
		if err != nil {
			metrics.RTPStartFailures.Inc()
			rc.log.Warn().Err(err).Int("attempt", attempt).Msg("worker: rtp start failed")
			continue
		}
		augmented = out
		break
	}

	if augmented == nil {
		rc.send(sip.OKNoSDP, rc.dg)
		return
	}

	rc.send(sip.OKWithSDP, augmented)
	rc.registry.Register(callID, rc.tag, rc.registry.Now().Add(rc.registry.CallLifetime()))
	metrics.CallsRegistered.Inc()
}

// handleAck is a no-op: ACK carries no response (spec §4.4).
func handleAck(rc *requestContext) {}

// handleBye tears a call down explicitly.
func handleBye(rc *requestContext) {
	rc.send(sip.OKNoSDP, rc.dg)
	rc.send(sip.Terminated, rc.dg)
	rc.registry.Revoke(rc.dg.CallID())
}

// handleCancel stops RTP best-effort and terminates.
func handleCancel(rc *requestContext) {
	rc.send(sip.OKNoSDP, rc.dg)
	if rc.rtp != nil {
		rc.rtp.Stop(rc.dg.CallID())
		metrics.RTPStopSignals.Inc()
	}
	rc.send(sip.Terminated, rc.dg)
}

// handleOptions answers a liveness ping from the OPTIONS template.
func handleOptions(rc *requestContext) {
	rc.send(sip.OptionsTemplate, rc.dg)
}
