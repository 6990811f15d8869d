package session

import (
	"encoding/binary"
	"errors"
	"log/slog"
	"net/netip"
	"slices"
	"time"

	"github.com/merklejerk/holtburger/internal/isaac"
	"github.com/merklejerk/holtburger/internal/packet"
	"github.com/merklejerk/holtburger/internal/wire"
)

// -------------------------------------------------------------------------
// Inbound path
// -------------------------------------------------------------------------

// handleDatagram is the ingress pipeline: parse, verify, dedupe, then
// optional headers and fragments. Recoverable failures drop the
// datagram and bump a counter; they never surface to the upper layer.
func (c *Conn) handleDatagram(d inDatagram) {
	now := time.Now()

	if d.src.Addr() != c.peer.Addr() {
		c.metrics.IncPacketsDropped(DropForeignSource)
		return
	}

	p, err := packet.Parse(d.data)
	if err != nil {
		c.dropParseFailure(err)
		return
	}
	c.metrics.IncPacketsReceived()

	if !c.verifyChecksum(p) {
		return
	}
	c.lastRecv = now

	// A clean teardown is honored regardless of sequence bookkeeping.
	if p.Header.Flags.Has(packet.FlagDisconnect) {
		reason := ReasonPeer
		if c.State() == StateLoginSent {
			reason = ReasonBadCredentials
		}
		c.chosen = reason
		c.applyEvent(EventPeerDisconnect, reason)
		return
	}

	if !c.tracker.observe(p.Header.Sequence, now) {
		// Duplicate or stale retransmission. Re-acknowledge so the
		// peer stops resending.
		c.metrics.IncPacketsDropped(DropDuplicate)
		c.scheduleAck(now)
		return
	}
	c.scheduleAck(now)

	c.handleOptional(p, now)
	if c.State() == StateDead {
		return
	}
	c.handleFragments(p, now)
}

// dropParseFailure classifies a framing error for telemetry.
func (c *Conn) dropParseFailure(err error) {
	reason := DropShortDatagram
	switch {
	case errors.Is(err, packet.ErrFragmentOverrun):
		reason = DropFragmentOverrun
	case errors.Is(err, packet.ErrUnknownFlagShape):
		reason = DropUnknownFlagShape
	case errors.Is(err, packet.ErrBadIteration):
		reason = DropUnknownFlagShape
	}
	c.metrics.IncPacketsDropped(reason)
	c.logger.Debug("dropped undecodable datagram", slog.String("error", err.Error()))
}

// verifyChecksum applies the plain or keystream-masked checksum rule.
// Masked words are bound to the packet sequence, so retransmissions and
// out-of-order arrivals verify against the word their sequence consumed.
func (c *Conn) verifyChecksum(p *packet.Packet) bool {
	if p.Header.Flags.Has(packet.FlagEncryptedChecksum) {
		if c.s2c == nil {
			// Masked traffic before the handshake armed the keystreams.
			c.metrics.IncPacketsDropped(DropStateViolation)
			c.logger.Warn("masked checksum before handshake",
				slog.Uint64("seq", uint64(p.Header.Sequence)))
			return false
		}
		word, err := c.s2c.wordFor(p.Header.Sequence)
		if err != nil {
			c.logger.Error("inbound keystream desync", slog.String("error", err.Error()))
			c.fatal(ReasonDesync)
			return false
		}
		if p.RecoverKey() != word {
			c.metrics.IncPacketsDropped(DropChecksumMismatch)
			return false
		}
		return true
	}

	// Post-handshake packets must be masked; the exception is a
	// retransmission of a pre-handshake sequence, which carries its
	// original plain checksum.
	if c.crypted && !p.Header.Flags.Has(packet.FlagRetransmission) {
		c.metrics.IncPacketsDropped(DropStateViolation)
		return false
	}
	if err := p.VerifyPlain(); err != nil {
		c.metrics.IncPacketsDropped(DropChecksumMismatch)
		return false
	}
	return true
}

// handleOptional processes the decoded optional-header block.
func (c *Conn) handleOptional(p *packet.Packet, now time.Time) {
	opt := &p.Optional

	if opt.ConnectRequest != nil && c.State() == StateLoginSent {
		c.handleConnectRequest(p.Header.Sequence, opt.ConnectRequest)
	}

	if opt.AckSequence != nil {
		c.retained.ack(*opt.AckSequence)
	}

	if len(opt.RequestRetransmit) > 0 {
		c.resend(opt.RequestRetransmit, now)
	}

	if len(opt.RejectRetransmit) > 0 {
		// Those sequences will never arrive; stop waiting for them.
		c.tracker.fill(opt.RejectRetransmit)
	}

	if opt.TimeSync != nil {
		c.serverTime = *opt.TimeSync
		c.emit(SessionEvent{Kind: EventTimeSyncApplied, ServerTime: c.serverTime})
	}

	if opt.EchoRequest != nil {
		c.pendingEcho = &packet.EchoResponse{EchoedTime: *opt.EchoRequest}
		if c.State() == StateAuthenticated {
			c.sendControl(&packet.OptionalHeaders{})
		}
	}

	if opt.EchoResponse != nil {
		elapsed := c.clockNow() - opt.EchoResponse.EchoedTime
		if elapsed >= 0 {
			rtt := time.Duration(float64(elapsed) * float64(time.Second))
			c.metrics.ObserveEchoRoundTrip(rtt)
			c.emit(SessionEvent{Kind: EventEchoRoundTripMeasured, RoundTrip: rtt})
		}
	}

	if opt.Flow != nil {
		c.flowCap = opt.Flow
		c.flowWindowStart = now
		c.flowUsed = 0
	}

	if p.Header.Flags.Has(packet.FlagServerSwitch) {
		c.logger.Info("peer announced server switch")
	}
}

// handleConnectRequest arms both keystreams from the handshake material
// and drives the FSM. The inbound window's first word belongs to the
// sequence after this packet: the handshake itself is unmasked.
func (c *Conn) handleConnectRequest(seq uint32, cr *packet.ConnectRequest) {
	c.clientID = uint16(cr.ClientID)
	c.cookie = cr.Cookie
	c.serverTime = cr.ServerTime
	c.c2s = isaac.New(cr.ClientSeed)
	c.s2c = newKeyWindow(isaac.New(cr.ServerSeed), seq+1)

	c.logger.Info("handshake material received",
		slog.Uint64("client_id", uint64(c.clientID)),
	)
	c.applyEvent(EventConnectRequest, 0)
}

// resend replays retained datagrams the peer asked for. Replays carry
// the retransmission flag and their original keystream word; sequences
// no longer held are rejected so the peer can close its gaps.
func (c *Conn) resend(seqs []uint32, now time.Time) {
	var gone []uint32
	for _, seq := range seqs {
		rp := c.retained.get(seq)
		if rp == nil {
			gone = append(gone, seq)
			continue
		}
		packet.MarkRetransmission(rp.data, rp.payloadHash, rp.key)
		if err := c.sock.WriteDatagram(rp.data, c.peer); err != nil {
			c.logger.Warn("retransmit failed", slog.String("error", err.Error()))
			continue
		}
		c.lastSent = now
		c.metrics.IncRetransmitsSent()
	}

	c.emit(SessionEvent{Kind: EventPeerRequestedRetransmit, Sequences: slices.Clone(seqs)})

	if len(gone) > 0 {
		c.sendControl(&packet.OptionalHeaders{RejectRetransmit: gone})
	}
}

// handleFragments feeds a packet's fragments to the reassembler and
// dispatches every message that completed. When one datagram completes
// several messages, delivery follows ascending fragment sequence.
func (c *Conn) handleFragments(p *packet.Packet, now time.Time) {
	var completed []*assembled
	for i := range p.Fragments {
		if done := c.reasm.add(&p.Fragments[i], now); done != nil {
			completed = append(completed, done)
		}
	}
	if c.overMemoryCap() {
		c.fatal(ReasonMemoryCap)
		return
	}

	slices.SortFunc(completed, func(a, b *assembled) int {
		return int(int32(a.fragmentSeq - b.fragmentSeq))
	})
	for _, msg := range completed {
		c.deliver(msg)
	}
}

// deliver hands one reassembled message to the dispatcher.
func (c *Conn) deliver(a *assembled) {
	if len(a.payload) < 4 {
		c.metrics.IncPacketsDropped(DropShortDatagram)
		c.logger.Warn("reassembled message shorter than an opcode",
			slog.Int("len", len(a.payload)))
		return
	}
	msg := Message{
		Opcode:    binary.LittleEndian.Uint32(a.payload[:4]),
		Queue:     a.queue,
		MessageID: a.messageID,
		Body:      a.payload[4:],
	}
	c.dispatch.dispatch(msg)
	c.metrics.IncMessagesDelivered(a.queue)
}

// scheduleAck opens (or keeps) the acknowledgment coalescence window.
func (c *Conn) scheduleAck(now time.Time) {
	if !c.pendingAck {
		c.pendingAck = true
		c.ackBy = now.Add(c.timing.AckInterval)
	}
}

// -------------------------------------------------------------------------
// Outbound path
// -------------------------------------------------------------------------

// handleSend services one application send from the public API.
func (c *Conn) handleSend(req *sendRequest) {
	if c.State() != StateAuthenticated {
		req.first <- ErrNotAuthenticated
		return
	}
	if c.flowExhausted() {
		c.deferred = append(c.deferred, req)
		return
	}
	c.transmitMessage(req)
}

// drainDeferred replays sends parked by the flow cap.
func (c *Conn) drainDeferred() {
	for len(c.deferred) > 0 && !c.flowExhausted() && c.State() == StateAuthenticated {
		req := c.deferred[0]
		c.deferred = c.deferred[1:]
		c.transmitMessage(req)
	}
}

// flowExhausted reports whether the peer's throughput cap is spent for
// the current interval.
func (c *Conn) flowExhausted() bool {
	return c.flowCap != nil && c.flowCap.Bytes > 0 && c.flowUsed >= int(c.flowCap.Bytes)
}

// transmitMessage fragments one application message and sends it,
// packing fragments greedily into datagrams. The requester is released
// when the first fragment reaches the socket.
func (c *Conn) transmitMessage(req *sendRequest) {
	body := make([]byte, 4+len(req.payload))
	binary.LittleEndian.PutUint32(body[:4], req.opcode)
	copy(body[4:], req.payload)

	count := (len(body) + packet.MaxFragmentData - 1) / packet.MaxFragmentData
	if count == 0 {
		count = 1
	}
	seq := c.fragSeq
	c.fragSeq++

	frags := make([]packet.Fragment, 0, count)
	for i := 0; i < count; i++ {
		lo := i * packet.MaxFragmentData
		hi := min(lo+packet.MaxFragmentData, len(body))
		frags = append(frags, packet.Fragment{
			Sequence: seq,
			Count:    uint16(count),
			Index:    uint16(i),
			Queue:    req.queue,
			Data:     body[lo:hi],
		})
	}

	released := false
	for len(frags) > 0 {
		batch, used := frags[:1], wire.Align4(packet.FragmentHeaderSize+len(frags[0].Data))
		for len(batch) < len(frags) {
			next := wire.Align4(packet.FragmentHeaderSize + len(frags[len(batch)].Data))
			if used+next > packet.MaxPayloadSize {
				break
			}
			batch = frags[:len(batch)+1]
			used += next
		}
		frags = frags[len(batch):]

		ok := c.transmit(&packet.Packet{Fragments: slices.Clone(batch)}, c.peer, true)
		if !released {
			released = true
			if ok {
				req.first <- nil
			} else {
				req.first <- ErrSessionClosed
			}
		}
		if !ok {
			return
		}
	}
}

// sendControl emits a packet carrying only optional headers: solo
// acknowledgments, keep-alives, retransmit requests, echo traffic.
func (c *Conn) sendControl(opt *packet.OptionalHeaders) {
	c.transmit(&packet.Packet{Optional: *opt}, c.peer, c.crypted)
}

// sendLogin emits the handshake opener, sequence 0, unmasked.
func (c *Conn) sendLogin() {
	version := c.creds.ClientVersion
	if version == "" {
		version = "1802"
	}
	p := &packet.Packet{
		Optional: packet.OptionalHeaders{
			LoginRequest: &packet.LoginRequest{
				ClientVersion: version,
				AuthType:      packet.AuthTypeAccountPassword,
				AuthFlags:     packet.AuthFlagRequestEncryption,
				Timestamp:     uint32(time.Now().Unix()),
				Account:       c.creds.Account,
				Password:      c.creds.Password,
			},
		},
	}
	c.transmit(p, c.peer, false)
}

// sendConnectResponse echoes the cookie to the activation endpoint,
// sequence 1, unmasked. Everything after it is masked and returns to
// the peer's original endpoint.
func (c *Conn) sendConnectResponse() {
	cookie := c.cookie
	p := &packet.Packet{
		Optional: packet.OptionalHeaders{ConnectResponse: &cookie},
	}
	c.transmit(p, c.activation, false)
	c.crypted = true
}

// sendDisconnect emits the teardown flag.
func (c *Conn) sendDisconnect() {
	p := &packet.Packet{
		Header: packet.Header{Flags: packet.FlagDisconnect},
	}
	c.transmit(p, c.peer, c.crypted)
}

// transmit assigns the next sequence, attaches piggyback state, masks
// the checksum when required, retains the datagram for retransmission,
// and writes it out. Builder failures are programmer errors and kill
// the session.
func (c *Conn) transmit(p *packet.Packet, to netip.AddrPort, masked bool) bool {
	now := time.Now()

	if masked {
		p.Header.Flags |= packet.FlagEncryptedChecksum
		if c.tracker.primed && p.Optional.AckSequence == nil {
			ack := c.tracker.high
			p.Optional.AckSequence = &ack
			c.pendingAck = false
		}
		if c.pendingEcho != nil && p.Optional.EchoResponse == nil {
			c.pendingEcho.HoldingTime = c.clockNow()
			p.Optional.EchoResponse = c.pendingEcho
			c.pendingEcho = nil
		}
	}

	p.Header.Sequence = c.sendSeq
	p.Header.ClientID = c.clientID
	p.Header.Time = c.wireTime()

	var key uint32
	if masked {
		key = c.c2s.Next()
	}

	buf, err := p.Marshal(key)
	if err != nil {
		c.logger.Error("packet build failed", slog.String("error", err.Error()))
		c.fatal(ReasonLocal)
		return false
	}

	c.retained.keep(c.sendSeq, buf, p.PayloadHash(), key, now)
	c.sendSeq++

	if err := c.sock.WriteDatagram(buf, to); err != nil {
		c.logger.Warn("datagram write failed", slog.String("error", err.Error()))
		return false
	}
	c.lastSent = now
	c.metrics.IncPacketsSent()
	if c.flowCap != nil {
		c.flowUsed += len(buf)
	}
	if c.overMemoryCap() {
		c.fatal(ReasonMemoryCap)
		return false
	}
	return true
}

// overMemoryCap reports whether retained plus pending bytes blew the
// budget.
func (c *Conn) overMemoryCap() bool {
	return c.retained.bytes+c.reasm.bytes > c.timing.MemoryCap
}
