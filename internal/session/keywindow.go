package session

import (
	"fmt"

	"github.com/merklejerk/holtburger/internal/isaac"
)

// -------------------------------------------------------------------------
// keyWindow — sequence-bound inbound keystream words
// -------------------------------------------------------------------------

// keyWindow binds inbound keystream words to packet sequences. Words are
// consumed in sequence order, not arrival order: a packet ahead of the
// expected sequence forces the intermediate words to be generated and
// cached, and a retransmission behind it is validated against the word
// its sequence consumed the first time.
//
// The window is bounded in both directions. A sequence further ahead
// than lookahead, or behind the oldest cached word, is a
// desynchronization and the session dies.
const (
	// keyLookahead bounds forward generation for packets received
	// ahead of the expected sequence.
	keyLookahead = 256

	// keyLookback bounds how many issued words stay cached for
	// retransmission checks.
	keyLookback = 512
)

type keyWindow struct {
	ks *isaac.Keystream

	// next is the first sequence no word has been generated for.
	next uint32

	// oldest is the lowest sequence still cached.
	oldest uint32

	words map[uint32]uint32
}

// newKeyWindow creates a window whose first word belongs to firstSeq,
// the first masked sequence the peer will emit.
func newKeyWindow(ks *isaac.Keystream, firstSeq uint32) *keyWindow {
	return &keyWindow{
		ks:     ks,
		next:   firstSeq,
		oldest: firstSeq,
		words:  make(map[uint32]uint32),
	}
}

// wordFor returns the keystream word bound to seq, generating forward
// as needed. Comparisons are modular so the sequence space may wrap.
func (w *keyWindow) wordFor(seq uint32) (uint32, error) {
	if behind := int32(seq - w.oldest); behind < 0 {
		return 0, fmt.Errorf("sequence %d below retained window %d: %w",
			seq, w.oldest, ErrDecryptionDesync)
	}

	if ahead := int32(seq - w.next); ahead >= 0 {
		if ahead >= keyLookahead {
			return 0, fmt.Errorf("sequence %d is %d ahead of expected %d: %w",
				seq, ahead, w.next, ErrDecryptionDesync)
		}
		for int32(seq-w.next) >= 0 {
			w.words[w.next] = w.ks.Next()
			w.next++
		}
		w.prune()
	}

	word, ok := w.words[seq]
	if !ok {
		return 0, fmt.Errorf("sequence %d evicted from window: %w", seq, ErrDecryptionDesync)
	}
	return word, nil
}

// prune drops words older than the lookback behind the generation edge.
func (w *keyWindow) prune() {
	for int32(w.next-w.oldest) > keyLookback {
		delete(w.words, w.oldest)
		w.oldest++
	}
}
