package session

import (
	"time"
)

// -------------------------------------------------------------------------
// Outbound retention
// -------------------------------------------------------------------------

// retainedPacket keeps one sent datagram's exact bytes until the peer
// acknowledges its sequence. Retransmits replay these bytes with the
// retransmission flag set and the checksum recomputed from the retained
// payload hash and keystream word; a resend never consumes a new word.
type retainedPacket struct {
	data        []byte
	payloadHash uint32
	key         uint32
	sentAt      time.Time
}

// retention is the unacked-sent buffer, owned by the session loop.
type retention struct {
	packets map[uint32]*retainedPacket
	bytes   int
}

func newRetention() *retention {
	return &retention{packets: make(map[uint32]*retainedPacket)}
}

// keep stores a sent datagram under its sequence.
func (rt *retention) keep(seq uint32, data []byte, payloadHash, key uint32, now time.Time) {
	rt.packets[seq] = &retainedPacket{
		data:        data,
		payloadHash: payloadHash,
		key:         key,
		sentAt:      now,
	}
	rt.bytes += len(data)
}

// get returns the retained datagram for seq, if still held.
func (rt *retention) get(seq uint32) *retainedPacket {
	return rt.packets[seq]
}

// ack releases every retained sequence at or below ack (modular).
func (rt *retention) ack(ack uint32) {
	for seq, rp := range rt.packets {
		if int32(ack-seq) >= 0 {
			rt.bytes -= len(rp.data)
			delete(rt.packets, seq)
		}
	}
}

// reset drains everything, for teardown.
func (rt *retention) reset() {
	rt.packets = make(map[uint32]*retainedPacket)
	rt.bytes = 0
}

// -------------------------------------------------------------------------
// Inbound sequence tracking
// -------------------------------------------------------------------------

// recvTracker follows the peer's packet sequences: the contiguous
// high-watermark that feeds acknowledgments, the out-of-order set above
// it, and the gaps that age into retransmit requests.
type recvTracker struct {
	// primed flips on the first observed sequence; the peer picks its
	// own starting point.
	primed bool

	// high is the highest sequence with no gaps below it.
	high uint32

	// seen holds received sequences above high.
	seen map[uint32]struct{}

	// missing holds undelivered sequences below the highest seen, with
	// the time the gap was first observed and whether a retransmit
	// request already went out.
	missing map[uint32]*gap

	// maxSeen is the highest sequence observed at all.
	maxSeen uint32
}

// gap is one missing inbound sequence.
type gap struct {
	since     time.Time
	requested bool
}

// newRecvTracker returns an unprimed tracker; the first observed
// sequence becomes the initial watermark.
func newRecvTracker() *recvTracker {
	return &recvTracker{
		seen:    make(map[uint32]struct{}),
		missing: make(map[uint32]*gap),
	}
}

// observe records an arriving sequence. It returns false for a
// duplicate (already delivered or already buffered).
func (rr *recvTracker) observe(seq uint32, now time.Time) bool {
	if !rr.primed {
		rr.primed = true
		rr.high = seq
		rr.maxSeen = seq
		return true
	}
	if int32(seq-rr.high) <= 0 {
		return false
	}
	if _, dup := rr.seen[seq]; dup {
		return false
	}

	rr.seen[seq] = struct{}{}
	delete(rr.missing, seq)

	// New sequences beyond maxSeen open gaps for everything between.
	if int32(seq-rr.maxSeen) > 0 {
		for s := rr.maxSeen + 1; s != seq; s++ {
			if _, ok := rr.seen[s]; !ok {
				rr.missing[s] = &gap{since: now}
			}
		}
		rr.maxSeen = seq
	}

	// Advance the watermark across the contiguous prefix.
	for {
		if _, ok := rr.seen[rr.high+1]; !ok {
			break
		}
		rr.high++
		delete(rr.seen, rr.high)
	}

	return true
}

// fill marks sequences as delivered without data, used when the peer
// rejects a retransmit request: the gap will never close on its own.
func (rr *recvTracker) fill(seqs []uint32) {
	for _, s := range seqs {
		delete(rr.missing, s)
		if int32(s-rr.high) > 0 {
			rr.seen[s] = struct{}{}
		}
	}
	// Reuse observe's watermark advance.
	for {
		if _, ok := rr.seen[rr.high+1]; !ok {
			break
		}
		rr.high++
		delete(rr.seen, rr.high)
	}
}

// due returns the missing sequences whose gaps are older than threshold
// and not yet requested, marking them requested.
func (rr *recvTracker) due(now time.Time, threshold time.Duration) []uint32 {
	var seqs []uint32
	for s, g := range rr.missing {
		if !g.requested && now.Sub(g.since) >= threshold {
			g.requested = true
			seqs = append(seqs, s)
		}
	}
	return seqs
}
