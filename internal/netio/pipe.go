package netio

import (
	"net/netip"
	"sync"
)

// -------------------------------------------------------------------------
// PipeConn — in-memory PacketConn for tests
// -------------------------------------------------------------------------

// pipeDatagram is one in-flight datagram with its source address.
type pipeDatagram struct {
	data []byte
	src  netip.AddrPort
}

// PipeConn is a channel-backed PacketConn. Tests inject inbound
// datagrams with Inject and observe outbound traffic on Sent. It lives
// in the package proper rather than a _test file because the session
// package's tests drive it too.
type PipeConn struct {
	local netip.AddrPort

	inbound chan pipeDatagram

	// Sent receives a copy of every outbound datagram.
	Sent chan SentDatagram

	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

// SentDatagram records one WriteDatagram call.
type SentDatagram struct {
	Data []byte
	Dst  netip.AddrPort
}

// NewPipeConn creates a PipeConn pretending to be bound to local.
func NewPipeConn(local netip.AddrPort) *PipeConn {
	return &PipeConn{
		local:   local,
		inbound: make(chan pipeDatagram, 64),
		Sent:    make(chan SentDatagram, 256),
		done:    make(chan struct{}),
	}
}

// Inject queues a datagram for the next ReadDatagram, as if src sent it.
func (p *PipeConn) Inject(data []byte, src netip.AddrPort) {
	buf := make([]byte, len(data))
	copy(buf, data)
	select {
	case p.inbound <- pipeDatagram{data: buf, src: src}:
	case <-p.done:
	}
}

// ReadDatagram implements PacketConn.
func (p *PipeConn) ReadDatagram(buf []byte) (int, netip.AddrPort, error) {
	select {
	case d := <-p.inbound:
		n := copy(buf, d.data)
		return n, d.src, nil
	case <-p.done:
		return 0, netip.AddrPort{}, ErrSocketClosed
	}
}

// WriteDatagram implements PacketConn.
func (p *PipeConn) WriteDatagram(buf []byte, dst netip.AddrPort) error {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return ErrSocketClosed
	}

	data := make([]byte, len(buf))
	copy(data, buf)
	select {
	case p.Sent <- SentDatagram{Data: data, Dst: dst}:
	default:
		// Tests that stop draining Sent should not deadlock the
		// session loop; the datagram is dropped like a full NIC queue.
	}
	return nil
}

// LocalAddr implements PacketConn.
func (p *PipeConn) LocalAddr() netip.AddrPort { return p.local }

// Close implements PacketConn.
func (p *PipeConn) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	close(p.done)
	return nil
}
