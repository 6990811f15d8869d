// Package session implements the connection core of the Asheron's Call
// client network stack: the handshake state machine, dual-sequence
// reliability with fragment reassembly, keystream-bound checksum
// verification, flow control, and opcode dispatch.
//
// All mutable state is owned by the session loop goroutine started by
// Dial. A reader goroutine feeds raw datagrams into the loop through a
// bounded channel; the public API crosses into the loop through bounded
// channels as well. The two keystreams are loop-owned and never touched
// concurrently.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"net/netip"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/merklejerk/holtburger/internal/isaac"
	"github.com/merklejerk/holtburger/internal/netio"
	"github.com/merklejerk/holtburger/internal/packet"
)

// -------------------------------------------------------------------------
// Configuration
// -------------------------------------------------------------------------

// Credentials is the login identity.
type Credentials struct {
	Account       string
	Password      string
	ClientVersion string
}

// Timing collects the protocol timers and budgets. Zero values take the
// defaults, except EchoInterval, where zero disables echo requests; tests
// shrink them.
type Timing struct {
	// AckInterval is the acknowledgment coalescence window.
	AckInterval time.Duration

	// KeepAliveInterval is the idle threshold before a bare
	// acknowledgment packet goes out.
	KeepAliveInterval time.Duration

	// RetransmitThreshold is how old an inbound gap must be before a
	// retransmit request is sent.
	RetransmitThreshold time.Duration

	// ActivationDelay is the wait between receiving the handshake
	// material and sending the connect response; the peer needs it for
	// asynchronous account lookups.
	ActivationDelay time.Duration

	// HandshakeTimeout bounds the whole handshake.
	HandshakeTimeout time.Duration

	// InactivityTimeout kills a session that hears nothing.
	InactivityTimeout time.Duration

	// EchoInterval paces outbound echo requests; zero disables them.
	EchoInterval time.Duration

	// ReassemblyTTL expires incomplete messages.
	ReassemblyTTL time.Duration

	// MemoryCap bounds retained-sent plus reassembly-pending bytes.
	MemoryCap int
}

// DefaultTiming returns the protocol's stock timers.
func DefaultTiming() Timing {
	return Timing{
		AckInterval:         200 * time.Millisecond,
		KeepAliveInterval:   5 * time.Second,
		RetransmitThreshold: 300 * time.Millisecond,
		ActivationDelay:     200 * time.Millisecond,
		HandshakeTimeout:    10 * time.Second,
		InactivityTimeout:   60 * time.Second,
		EchoInterval:        5 * time.Second,
		ReassemblyTTL:       30 * time.Second,
		MemoryCap:           1 << 20,
	}
}

// withDefaults fills zero fields from DefaultTiming; a zero EchoInterval
// stays zero.
func (t Timing) withDefaults() Timing {
	d := DefaultTiming()
	if t.AckInterval == 0 {
		t.AckInterval = d.AckInterval
	}
	if t.KeepAliveInterval == 0 {
		t.KeepAliveInterval = d.KeepAliveInterval
	}
	if t.RetransmitThreshold == 0 {
		t.RetransmitThreshold = d.RetransmitThreshold
	}
	if t.ActivationDelay == 0 {
		t.ActivationDelay = d.ActivationDelay
	}
	if t.HandshakeTimeout == 0 {
		t.HandshakeTimeout = d.HandshakeTimeout
	}
	if t.InactivityTimeout == 0 {
		t.InactivityTimeout = d.InactivityTimeout
	}
	if t.ReassemblyTTL == 0 {
		t.ReassemblyTTL = d.ReassemblyTTL
	}
	if t.MemoryCap == 0 {
		t.MemoryCap = d.MemoryCap
	}
	return t
}

// Option configures optional Conn parameters.
type Option func(*Conn)

// WithLogger attaches a structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Conn) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithMetrics attaches a telemetry reporter.
func WithMetrics(m MetricsReporter) Option {
	return func(c *Conn) {
		if m != nil {
			c.metrics = m
		}
	}
}

// WithTiming overrides the protocol timers.
func WithTiming(t Timing) Option {
	return func(c *Conn) {
		c.timing = t.withDefaults()
	}
}

// -------------------------------------------------------------------------
// Conn
// -------------------------------------------------------------------------

// tickInterval paces the housekeeping pass: gap aging, keep-alives,
// delayed acknowledgments, expiries. Well under the smallest timer.
const tickInterval = 50 * time.Millisecond

// inDatagram is one raw datagram from the reader goroutine.
type inDatagram struct {
	data []byte
	src  netip.AddrPort
}

// sendRequest is one application message crossing into the loop.
type sendRequest struct {
	opcode  uint32
	payload []byte
	queue   uint16

	// first is signaled once the first fragment reaches the socket, or
	// with the failure that prevented it.
	first chan error
}

// Conn is one protocol session. Create it with Dial; all methods are
// safe from any goroutine.
type Conn struct {
	logger  *slog.Logger
	metrics MetricsReporter
	timing  Timing

	sock       netio.PacketConn
	peer       netip.AddrPort
	activation netip.AddrPort
	creds      Credentials

	id uuid.UUID

	// state is atomic for lock-free external reads; only the loop
	// writes it.
	state atomic.Uint32

	// --- loop-owned state ---

	clientID   uint16
	cookie     uint64
	serverTime float64
	dialedAt   time.Time
	lastSent   time.Time
	lastRecv   time.Time

	c2s *isaac.Keystream
	s2c *keyWindow

	// crypted flips when the connect response goes out: from then on
	// every outbound packet is masked.
	crypted bool

	chosen DisconnectReason
	torn   bool

	sendSeq uint32
	fragSeq uint32

	tracker    *recvTracker
	retained   *retention
	reasm      *reassembler
	dispatch   *dispatcher
	pendingAck bool
	ackBy      time.Time

	activationDue time.Time
	lastEchoAt    time.Time

	flowCap         *packet.FlowControl
	flowUsed        int
	flowWindowStart time.Time
	deferred        []*sendRequest

	pendingEcho *packet.EchoResponse

	listenersMu sync.Mutex
	listeners   []EventListener

	// --- channels ---

	recvCh    chan inDatagram
	sendCh    chan *sendRequest
	ctrlCh    chan Event
	connected chan error
	done      chan struct{}
}

// Dial opens a session to the peer's login endpoint and completes the
// handshake before returning. The sock is owned by the session from
// here on and closed with it.
//
// Failure kinds: ErrBadCredentials when the peer refuses the login,
// ErrTimeout when the handshake timer or ctx expires, and the sentinel of
// any other fatal disconnect reason (see DisconnectReason.Err). Socket
// errors are logged, not returned, so a handshake whose datagrams cannot
// be sent ends in ErrTimeout. ErrProtocolStateViolation is not returned:
// datagrams that break the handshake state are dropped and counted.
func Dial(
	ctx context.Context,
	sock netio.PacketConn,
	peer netip.AddrPort,
	creds Credentials,
	opts ...Option,
) (*Conn, error) {
	c := &Conn{
		logger:     slog.Default(),
		metrics:    noopMetrics{},
		timing:     DefaultTiming(),
		sock:       sock,
		peer:       peer,
		activation: netio.ActivationEndpoint(peer),
		creds:      creds,
		id:         uuid.New(),
		tracker:    newRecvTracker(),
		retained:   newRetention(),
		reasm:      newReassembler(),
		dispatch:   newDispatcher(),
		recvCh:     make(chan inDatagram, 64),
		sendCh:     make(chan *sendRequest, 32),
		ctrlCh:     make(chan Event, 4),
		connected:  make(chan error, 1),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(
		slog.String("session", c.id.String()),
		slog.String("peer", peer.String()),
	)

	go c.readLoop()
	go c.run()

	select {
	case err := <-c.connected:
		if err != nil {
			return nil, fmt.Errorf("dial %s: %w", peer, err)
		}
		return c, nil
	case <-ctx.Done():
		c.Disconnect()
		return nil, fmt.Errorf("dial %s: %w: %w", peer, ErrTimeout, ctx.Err())
	}
}

// State returns the current lifecycle state (atomic read).
func (c *Conn) State() State {
	return State(c.state.Load())
}

// ClientID returns the server-assigned session id, zero before the
// handshake assigns one.
func (c *Conn) ClientID() uint16 { return c.clientID }

// Done is closed when the session dies.
func (c *Conn) Done() <-chan struct{} { return c.done }

// OnMessage registers a typed handler for one opcode. Delivery order
// follows fragment-completion order, not packet-arrival order.
func (c *Conn) OnMessage(opcode uint32, dec Decoder, h Handler) {
	c.dispatch.subscribe(opcode, dec, h)
}

// OnDefault registers the opaque handler for opcodes without a
// registration.
func (c *Conn) OnDefault(h Handler) {
	c.dispatch.setFallback(h)
}

// Events registers a lifecycle listener. Listeners run on the session
// loop and must not block. Listeners registered after Dial returns miss
// the Connected event; Dial's return already carries that fact.
func (c *Conn) Events(l EventListener) {
	c.listenersMu.Lock()
	defer c.listenersMu.Unlock()
	c.listeners = append(c.listeners, l)
}

// Send fragments an application message, enqueues it, and returns once
// the first fragment has been handed to the socket.
func (c *Conn) Send(opcode uint32, payload []byte, queue uint16) error {
	req := &sendRequest{
		opcode:  opcode,
		payload: payload,
		queue:   queue,
		first:   make(chan error, 1),
	}
	select {
	case c.sendCh <- req:
	case <-c.done:
		return ErrSessionClosed
	}
	select {
	case err := <-req.first:
		return err
	case <-c.done:
		return ErrSessionClosed
	}
}

// Disconnect sends a Disconnect-flagged packet, transitions to Dead,
// and releases every buffer. Safe to call more than once.
func (c *Conn) Disconnect() {
	select {
	case c.ctrlCh <- EventLocalDisconnect:
	case <-c.done:
		return
	}
	<-c.done
}

// -------------------------------------------------------------------------
// Reader goroutine
// -------------------------------------------------------------------------

// readLoop pulls datagrams off the socket into the loop's channel. It
// exits when the socket closes.
func (c *Conn) readLoop() {
	buf := make([]byte, netio.MaxDatagramSize)
	for {
		n, src, err := c.sock.ReadDatagram(buf)
		if err != nil {
			return
		}
		data := make([]byte, n)
		copy(data, buf[:n])
		select {
		case c.recvCh <- inDatagram{data: data, src: src}:
		case <-c.done:
			return
		}
	}
}

// -------------------------------------------------------------------------
// Session loop
// -------------------------------------------------------------------------

// run is the session loop. It owns every mutable field of the Conn.
func (c *Conn) run() {
	c.dialedAt = time.Now()
	c.lastRecv = c.dialedAt
	c.applyEvent(EventConnect, 0)

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for c.State() != StateDead {
		select {
		case d := <-c.recvCh:
			c.handleDatagram(d)
		case req := <-c.sendCh:
			c.handleSend(req)
		case ev := <-c.ctrlCh:
			c.applyEvent(ev, ReasonLocal)
		case now := <-ticker.C:
			c.handleTick(now)
		}
	}
}

// applyEvent runs the lifecycle FSM and executes the resulting actions.
// reason qualifies terminal events.
func (c *Conn) applyEvent(ev Event, reason DisconnectReason) {
	result := Apply(c.State(), ev)
	if result.Changed {
		c.state.Store(uint32(result.NewState))
		c.metrics.SetSessionState(result.NewState.String())
		c.logger.Info("session state changed",
			slog.String("old_state", result.OldState.String()),
			slog.String("new_state", result.NewState.String()),
		)
	}
	for _, action := range result.Actions {
		c.executeAction(action, reason)
	}

	// A local disconnect from the steady state pauses in Disconnecting
	// just long enough to flush the flag packet.
	if c.State() == StateDisconnecting {
		c.applyEvent(EventLocalDisconnect, reason)
	}
}

// executeAction performs one FSM side effect.
func (c *Conn) executeAction(action Action, reason DisconnectReason) {
	switch action {
	case ActionSendLogin:
		c.sendLogin()
	case ActionArmCrypto:
		// Keystreams were armed by handleConnectRequest before the
		// event fired; here the activation timer starts.
		c.activationDue = time.Now().Add(c.timing.ActivationDelay)
	case ActionSendConnectResponse:
		c.sendConnectResponse()
	case ActionNotifyConnected:
		c.emit(SessionEvent{Kind: EventConnected})
		c.connected <- nil
	case ActionSendDisconnect:
		c.sendDisconnect()
	case ActionTeardown:
		c.teardown(reason)
	default:
		c.logger.Warn("unknown FSM action", slog.Int("action", int(action)))
	}
}

// fatal kills the session with the given reason.
func (c *Conn) fatal(reason DisconnectReason) {
	c.chosen = reason
	c.applyEvent(EventFatal, reason)
}

// teardown cancels timers, drains every table, closes the socket, and
// emits the Disconnected event exactly once. Re-entrant calls (a write
// failure while flushing the disconnect flag, say) are no-ops.
func (c *Conn) teardown(reason DisconnectReason) {
	if c.torn {
		return
	}
	c.torn = true
	if reason == 0 {
		reason = c.chosen
	}
	if reason == 0 {
		reason = ReasonLocal
	}

	c.retained.reset()
	c.reasm.reset()
	c.deferred = nil
	_ = c.sock.Close()

	c.emit(SessionEvent{Kind: EventDisconnected, Reason: reason})
	c.logger.Info("session dead", slog.String("reason", reason.String()))

	// A Dial still waiting learns why it will never connect.
	select {
	case c.connected <- reason.Err():
	default:
	}

	close(c.done)
}

// emit delivers one session event to every listener.
func (c *Conn) emit(ev SessionEvent) {
	c.listenersMu.Lock()
	listeners := slices.Clone(c.listeners)
	c.listenersMu.Unlock()
	for _, l := range listeners {
		l(ev)
	}
}

// -------------------------------------------------------------------------
// Housekeeping
// -------------------------------------------------------------------------

// handleTick runs the timer work: handshake deadlines, delayed acks,
// keep-alives, gap aging, reassembly expiry, and the inactivity bound.
func (c *Conn) handleTick(now time.Time) {
	state := c.State()

	switch state {
	case StateLoginSent, StateConnectReceived:
		if now.Sub(c.dialedAt) >= c.timing.HandshakeTimeout {
			c.fatal(ReasonHandshakeTimeout)
			return
		}
		if state == StateConnectReceived && !c.activationDue.IsZero() && !now.Before(c.activationDue) {
			c.activationDue = time.Time{}
			c.applyEvent(EventActivationDue, 0)
		}
		return
	case StateAuthenticated:
	default:
		return
	}

	if now.Sub(c.lastRecv) >= c.timing.InactivityTimeout {
		c.fatal(ReasonInactivity)
		return
	}

	// Flow window rollover, then any sends it had parked.
	c.rollFlowWindow(now)
	c.drainDeferred()

	// Gaps older than the threshold become a retransmit request.
	if due := c.tracker.due(now, c.timing.RetransmitThreshold); len(due) > 0 {
		slices.Sort(due)
		c.sendControl(&packet.OptionalHeaders{RequestRetransmit: due})
		c.metrics.IncRetransmitsRequested()
	}

	// Delayed acknowledgment.
	if c.pendingAck && !now.Before(c.ackBy) {
		c.sendControl(&packet.OptionalHeaders{})
	}

	// Keep-alive on idle, with an echo sample when one is due.
	if now.Sub(c.lastSent) >= c.timing.KeepAliveInterval {
		opt := &packet.OptionalHeaders{}
		if c.timing.EchoInterval > 0 && now.Sub(c.lastEchoAt) >= c.timing.EchoInterval {
			sample := c.clockNow()
			opt.EchoRequest = &sample
			c.lastEchoAt = now
		}
		c.sendControl(opt)
	}

	if expired := c.reasm.expire(now, c.timing.ReassemblyTTL); expired > 0 {
		c.logger.Debug("expired incomplete messages", slog.Int("count", expired))
	}
}

// rollFlowWindow resets the flow budget when the peer's interval laps.
func (c *Conn) rollFlowWindow(now time.Time) {
	if c.flowCap == nil {
		return
	}
	interval := time.Duration(c.flowCap.Interval) * time.Second
	if interval <= 0 {
		interval = time.Second
	}
	if now.Sub(c.flowWindowStart) >= interval {
		c.flowWindowStart = now
		c.flowUsed = 0
	}
}

// -------------------------------------------------------------------------
// Wire clock
// -------------------------------------------------------------------------

// wireTime is the rolling 16-bit header clock: elapsed half-seconds
// since the session began.
func (c *Conn) wireTime() uint16 {
	return uint16(time.Since(c.dialedAt) / (500 * time.Millisecond))
}

// clockNow is the echo clock: seconds since the session began.
func (c *Conn) clockNow() float32 {
	return float32(time.Since(c.dialedAt).Seconds())
}
