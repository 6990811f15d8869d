package session

import (
	"fmt"
	"sync"

	"github.com/merklejerk/holtburger/internal/wire"
)

// -------------------------------------------------------------------------
// Opcode dispatch
// -------------------------------------------------------------------------

// Message is one reassembled application message. Decoded is populated
// when a typed decoder is registered for the opcode and succeeds.
type Message struct {
	// Opcode is the 32-bit message opcode.
	Opcode uint32

	// Queue is the destination queue id from the fragment headers.
	Queue uint16

	// MessageID is the opaque id echoed from the fragment headers.
	MessageID uint32

	// Body is the payload after the opcode word.
	Body []byte

	// Decoded is the typed decode result, nil for opaque delivery.
	Decoded any
}

// Decoder turns a message body into a typed value. Decode failures
// surface to the opcode's handler as ErrMalformedMessage with the
// failing field and offset preserved in the chain.
type Decoder func(r *wire.Reader) (any, error)

// Handler receives messages for one opcode, or everything without a
// registration in the default handler's case. Handlers run on the
// session loop goroutine and must not block.
type Handler func(msg Message, err error)

// handlerEntry pairs a typed decoder with its subscribers.
type handlerEntry struct {
	decoder  Decoder
	handlers []Handler
}

// dispatcher routes reassembled messages by opcode. Registration is
// guarded so the upper layer can subscribe while the loop runs.
type dispatcher struct {
	mu       sync.RWMutex
	entries  map[uint32]*handlerEntry
	fallback Handler
}

func newDispatcher() *dispatcher {
	return &dispatcher{entries: make(map[uint32]*handlerEntry)}
}

// subscribe registers a handler, and optionally a decoder, for opcode.
// The first non-nil decoder registered for an opcode wins.
func (d *dispatcher) subscribe(opcode uint32, dec Decoder, h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	e, ok := d.entries[opcode]
	if !ok {
		e = &handlerEntry{}
		d.entries[opcode] = e
	}
	if e.decoder == nil {
		e.decoder = dec
	}
	e.handlers = append(e.handlers, h)
}

// setFallback registers the opaque delivery handler for unknown opcodes.
func (d *dispatcher) setFallback(h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fallback = h
}

// dispatch decodes and delivers one reassembled message. The returned
// count is how many handlers saw it.
func (d *dispatcher) dispatch(msg Message) int {
	d.mu.RLock()
	e, known := d.entries[msg.Opcode]
	fallback := d.fallback
	d.mu.RUnlock()

	if !known || len(e.handlers) == 0 {
		if fallback == nil {
			return 0
		}
		fallback(msg, nil)
		return 1
	}

	var decodeErr error
	if e.decoder != nil {
		decoded, err := e.decoder(wire.NewReader(msg.Body))
		if err != nil {
			decodeErr = fmt.Errorf("opcode %#08x: %w: %w", msg.Opcode, ErrMalformedMessage, err)
		} else {
			msg.Decoded = decoded
		}
	}

	for _, h := range e.handlers {
		h(msg, decodeErr)
	}
	return len(e.handlers)
}
