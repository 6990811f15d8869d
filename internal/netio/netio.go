// Package netio abstracts the UDP transport under the session layer.
//
// A session talks to two endpoints on the same peer host: the login
// endpoint (the configured port) for everything, and the activation
// endpoint (port + 1) which receives exactly one packet, the connect
// response. PacketConn keeps the session layer free of real sockets so
// tests can drive it with an in-memory pair.
package netio

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"sync"
)

// MaxDatagramSize mirrors the framing layer's datagram budget; receive
// buffers are sized to it.
const MaxDatagramSize = 1024

// Sentinel errors for transport failures.
var (
	// ErrSocketClosed indicates an operation on a closed conn.
	ErrSocketClosed = errors.New("socket closed")
)

// PacketConn is the minimal datagram surface the session layer needs.
// Implementations must allow Close to unblock a concurrent ReadDatagram.
type PacketConn interface {
	// ReadDatagram fills buf with one datagram and returns its length
	// and source address.
	ReadDatagram(buf []byte) (int, netip.AddrPort, error)

	// WriteDatagram sends one datagram to dst.
	WriteDatagram(buf []byte, dst netip.AddrPort) error

	// LocalAddr returns the bound local address.
	LocalAddr() netip.AddrPort

	// Close tears the socket down and unblocks pending reads.
	Close() error
}

// -------------------------------------------------------------------------
// UDPConn — real socket
// -------------------------------------------------------------------------

// UDPConn implements PacketConn over an unconnected UDP socket bound to
// an ephemeral local port. The socket is unconnected because the session
// writes to both peer endpoints and, after a server switch, possibly a
// different host.
type UDPConn struct {
	conn *net.UDPConn

	mu     sync.Mutex
	closed bool
}

// ListenUDP binds an ephemeral local UDP socket for a session.
func ListenUDP() (*UDPConn, error) {
	conn, err := net.ListenUDP("udp", nil)
	if err != nil {
		return nil, fmt.Errorf("bind session socket: %w", err)
	}
	return &UDPConn{conn: conn}, nil
}

// ReadDatagram implements PacketConn.
func (u *UDPConn) ReadDatagram(buf []byte) (int, netip.AddrPort, error) {
	n, addr, err := u.conn.ReadFromUDPAddrPort(buf)
	if err != nil {
		if u.isClosed() {
			return 0, netip.AddrPort{}, ErrSocketClosed
		}
		return 0, netip.AddrPort{}, fmt.Errorf("read datagram: %w", err)
	}
	return n, addr, nil
}

// WriteDatagram implements PacketConn.
func (u *UDPConn) WriteDatagram(buf []byte, dst netip.AddrPort) error {
	if u.isClosed() {
		return ErrSocketClosed
	}
	if _, err := u.conn.WriteToUDPAddrPort(buf, dst); err != nil {
		return fmt.Errorf("write datagram to %s: %w", dst, err)
	}
	return nil
}

// LocalAddr implements PacketConn.
func (u *UDPConn) LocalAddr() netip.AddrPort {
	return u.conn.LocalAddr().(*net.UDPAddr).AddrPort()
}

// Close implements PacketConn.
func (u *UDPConn) Close() error {
	u.mu.Lock()
	if u.closed {
		u.mu.Unlock()
		return nil
	}
	u.closed = true
	u.mu.Unlock()

	if err := u.conn.Close(); err != nil {
		return fmt.Errorf("close session socket: %w", err)
	}
	return nil
}

func (u *UDPConn) isClosed() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.closed
}

// ActivationEndpoint derives the activation endpoint from the login
// endpoint: same host, port + 1.
func ActivationEndpoint(login netip.AddrPort) netip.AddrPort {
	return netip.AddrPortFrom(login.Addr(), login.Port()+1)
}
