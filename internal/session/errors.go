package session

import "errors"

// -------------------------------------------------------------------------
// Session Errors
// -------------------------------------------------------------------------

// Sentinel errors for session-level failures. Per-datagram recoverable
// failures (checksum, framing) are counted and dropped inside the loop;
// these sentinels are the ones that surface through the public API or
// terminate the session.
var (
	// ErrDecryptionDesync indicates the inbound keystream could not
	// supply a word for a packet's sequence: the sequence fell outside
	// the tolerated drift window. Fatal to the session.
	ErrDecryptionDesync = errors.New("keystream desync")

	// ErrProtocolStateViolation indicates a flag forbidden in the
	// current state, for example a masked checksum before the
	// handshake finished. The session does not return it: such
	// datagrams are dropped and counted inside the loop.
	ErrProtocolStateViolation = errors.New("protocol state violation")

	// ErrReassemblyOverflow indicates the pending-message memory cap
	// was exceeded. Fatal to the session.
	ErrReassemblyOverflow = errors.New("reassembly overflow")

	// ErrTimeout indicates the handshake or the session timed out.
	ErrTimeout = errors.New("timeout")

	// ErrPeerDisconnected indicates a clean teardown from the peer.
	ErrPeerDisconnected = errors.New("peer disconnected")

	// ErrBadCredentials indicates the server refused the login.
	ErrBadCredentials = errors.New("bad credentials")

	// ErrMalformedMessage indicates a known opcode whose body failed to
	// decode. Delivered to the opcode's handler, not fatal.
	ErrMalformedMessage = errors.New("malformed message")

	// ErrSessionClosed indicates an operation on a dead session.
	ErrSessionClosed = errors.New("session closed")

	// ErrNotAuthenticated indicates a send before the handshake
	// completed.
	ErrNotAuthenticated = errors.New("session not authenticated")
)

// DisconnectReason explains a Disconnected event.
type DisconnectReason uint8

const (
	// ReasonLocal is a user-requested disconnect.
	ReasonLocal DisconnectReason = iota + 1

	// ReasonPeer is a clean disconnect signaled by the peer.
	ReasonPeer

	// ReasonBadCredentials is a peer disconnect while the login request
	// still awaits the handshake material.
	ReasonBadCredentials

	// ReasonHandshakeTimeout is a handshake that never completed.
	ReasonHandshakeTimeout

	// ReasonInactivity is the 60 second dead-peer timeout.
	ReasonInactivity

	// ReasonDesync is a fatal keystream desynchronization.
	ReasonDesync

	// ReasonMemoryCap is the retention/reassembly budget being blown.
	ReasonMemoryCap
)

// String returns the human-readable name for the reason.
func (r DisconnectReason) String() string {
	switch r {
	case ReasonLocal:
		return "Local"
	case ReasonPeer:
		return "Peer"
	case ReasonBadCredentials:
		return "BadCredentials"
	case ReasonHandshakeTimeout:
		return "HandshakeTimeout"
	case ReasonInactivity:
		return "Inactivity"
	case ReasonDesync:
		return "Desync"
	case ReasonMemoryCap:
		return "MemoryCap"
	default:
		return "Unknown"
	}
}

// Err maps the reason to its sentinel error.
func (r DisconnectReason) Err() error {
	switch r {
	case ReasonPeer:
		return ErrPeerDisconnected
	case ReasonBadCredentials:
		return ErrBadCredentials
	case ReasonHandshakeTimeout, ReasonInactivity:
		return ErrTimeout
	case ReasonDesync:
		return ErrDecryptionDesync
	case ReasonMemoryCap:
		return ErrReassemblyOverflow
	default:
		return ErrSessionClosed
	}
}
