package session

import (
	"time"

	"github.com/merklejerk/holtburger/internal/packet"
)

// -------------------------------------------------------------------------
// Fragment reassembly
// -------------------------------------------------------------------------

// pendingMessage accumulates the fragments of one application message,
// keyed by fragment sequence.
type pendingMessage struct {
	count     uint16
	queue     uint16
	messageID uint32
	parts     map[uint16][]byte
	bytes     int
	firstAt   time.Time
}

// reassembler buffers fragments until their message completes. Owned by
// the session loop; no locking.
type reassembler struct {
	pending map[uint32]*pendingMessage

	// bytes is the buffered payload total, charged against the
	// session's memory cap.
	bytes int
}

// assembled is one completed message handed to the dispatcher.
type assembled struct {
	fragmentSeq uint32
	messageID   uint32
	queue       uint16
	payload     []byte
}

func newReassembler() *reassembler {
	return &reassembler{pending: make(map[uint32]*pendingMessage)}
}

// add buffers one fragment. It returns the completed message when this
// fragment was the last piece, or nil. Duplicate fragments are ignored.
func (ra *reassembler) add(f *packet.Fragment, now time.Time) *assembled {
	pm, ok := ra.pending[f.Sequence]
	if !ok {
		pm = &pendingMessage{
			count:     f.Count,
			queue:     f.Queue,
			messageID: f.MessageID,
			parts:     make(map[uint16][]byte, f.Count),
			firstAt:   now,
		}
		ra.pending[f.Sequence] = pm
	}
	if _, dup := pm.parts[f.Index]; dup {
		return nil
	}

	data := make([]byte, len(f.Data))
	copy(data, f.Data)
	pm.parts[f.Index] = data
	pm.bytes += len(data)
	ra.bytes += len(data)

	if len(pm.parts) < int(pm.count) {
		return nil
	}

	// All indices present: emit the concatenation in index order.
	payload := make([]byte, 0, pm.bytes)
	for i := uint16(0); i < pm.count; i++ {
		payload = append(payload, pm.parts[i]...)
	}
	ra.drop(f.Sequence)

	return &assembled{
		fragmentSeq: f.Sequence,
		messageID:   pm.messageID,
		queue:       pm.queue,
		payload:     payload,
	}
}

// drop releases one pending entry and its memory charge.
func (ra *reassembler) drop(seq uint32) {
	if pm, ok := ra.pending[seq]; ok {
		ra.bytes -= pm.bytes
		delete(ra.pending, seq)
	}
}

// expire drops entries older than ttl and returns how many died.
func (ra *reassembler) expire(now time.Time, ttl time.Duration) int {
	expired := 0
	for seq, pm := range ra.pending {
		if now.Sub(pm.firstAt) >= ttl {
			ra.drop(seq)
			expired++
		}
	}
	return expired
}

// reset drains everything, for teardown.
func (ra *reassembler) reset() {
	ra.pending = make(map[uint32]*pendingMessage)
	ra.bytes = 0
}
