// Package isaac implements the checksum-masking keystream of the
// Asheron's Call wire protocol: an ISAAC-family generator with a
// non-standard seeding sequence and reverse-order result consumption.
//
// The generator departs from the public ISAAC reference in two ways that
// are required for interoperability and make stock ISAAC libraries
// unusable here:
//
//  1. After the canonical two-pass state mix, all three mixing
//     accumulators are overwritten with the raw 32-bit seed before the
//     first scramble runs.
//  2. Each scramble's 256 results are consumed from index 255 downward,
//     not upward.
//
// A session owns two independent instances, one per direction, each
// seeded from the 4-byte value exchanged in the connect handshake. One
// word is consumed per checksum-masked packet, in packet-sequence order.
package isaac

// golden is the golden-ratio constant the canonical ISAAC diffusion
// shuffle initializes its eight accumulators with.
const golden = 0x9e3779b9

// Words is the size of the state and result arrays.
const Words = 256

// Keystream is one direction's generator. Not safe for concurrent use;
// the owning session serializes access.
type Keystream struct {
	mem [Words]uint32
	res [Words]uint32

	a, b, c uint32

	// index walks res downward; the generator rescrambles when it
	// would go negative.
	index int
}

// New creates a generator for the given handshake seed and runs the full
// initialization: result slot 0 receives the seed, the canonical
// two-pass golden-ratio mix fills the state, the accumulators are
// overwritten with the seed, and one scramble produces the first 256
// results.
func New(seed uint32) *Keystream {
	k := &Keystream{}
	k.res[0] = seed
	k.mixState()

	// Non-standard accumulator override. This happens after the state
	// mix and before the first scramble; the stream is incompatible
	// with stock ISAAC without it.
	k.a, k.b, k.c = seed, seed, seed

	k.scramble()
	k.index = Words - 1
	return k
}

// Next returns the current keystream word and advances. After 256
// consumptions a scramble refreshes the result buffer and the index
// resets to 255.
func (k *Keystream) Next() uint32 {
	v := k.res[k.index]
	k.index--
	if k.index < 0 {
		k.scramble()
		k.index = Words - 1
	}
	return v
}

// Peek returns the word Next would return without consuming it.
func (k *Keystream) Peek() uint32 {
	return k.res[k.index]
}

// mix is the canonical eight-word diffusion shuffle.
func mix(a, b, c, d, e, f, g, h uint32) (uint32, uint32, uint32, uint32, uint32, uint32, uint32, uint32) {
	a ^= b << 11
	d += a
	b += c
	b ^= c >> 2
	e += b
	c += d
	c ^= d << 8
	f += c
	d += e
	d ^= e >> 16
	g += d
	e += f
	e ^= f << 10
	h += e
	f += g
	f ^= g >> 4
	a += f
	g += h
	g ^= h << 8
	b += g
	h += a
	h ^= a >> 9
	c += h
	a += b
	return a, b, c, d, e, f, g, h
}

// mixState runs the canonical two-pass initialization: four warm-up
// shuffles of the golden-ratio accumulators, a first pass folding the
// seeded result array into the state, and a second pass folding the
// state into itself.
func (k *Keystream) mixState() {
	var a, b, c, d, e, f, g, h uint32 = golden, golden, golden, golden, golden, golden, golden, golden

	for i := 0; i < 4; i++ {
		a, b, c, d, e, f, g, h = mix(a, b, c, d, e, f, g, h)
	}

	for i := 0; i < Words; i += 8 {
		a += k.res[i]
		b += k.res[i+1]
		c += k.res[i+2]
		d += k.res[i+3]
		e += k.res[i+4]
		f += k.res[i+5]
		g += k.res[i+6]
		h += k.res[i+7]
		a, b, c, d, e, f, g, h = mix(a, b, c, d, e, f, g, h)
		k.mem[i] = a
		k.mem[i+1] = b
		k.mem[i+2] = c
		k.mem[i+3] = d
		k.mem[i+4] = e
		k.mem[i+5] = f
		k.mem[i+6] = g
		k.mem[i+7] = h
	}

	for i := 0; i < Words; i += 8 {
		a += k.mem[i]
		b += k.mem[i+1]
		c += k.mem[i+2]
		d += k.mem[i+3]
		e += k.mem[i+4]
		f += k.mem[i+5]
		g += k.mem[i+6]
		h += k.mem[i+7]
		a, b, c, d, e, f, g, h = mix(a, b, c, d, e, f, g, h)
		k.mem[i] = a
		k.mem[i+1] = b
		k.mem[i+2] = c
		k.mem[i+3] = d
		k.mem[i+4] = e
		k.mem[i+5] = f
		k.mem[i+6] = g
		k.mem[i+7] = h
	}
}

// scramble is the canonical ISAAC round: it rewrites the state array and
// deposits 256 fresh results.
func (k *Keystream) scramble() {
	k.c++
	k.b += k.c

	for i := 0; i < Words; i++ {
		x := k.mem[i]
		switch i & 3 {
		case 0:
			k.a ^= k.a << 13
		case 1:
			k.a ^= k.a >> 6
		case 2:
			k.a ^= k.a << 2
		case 3:
			k.a ^= k.a >> 16
		}
		k.a += k.mem[(i+128)&(Words-1)]
		y := k.mem[(x>>2)&(Words-1)] + k.a + k.b
		k.mem[i] = y
		k.b = k.mem[(y>>10)&(Words-1)] + x
		k.res[i] = k.b
	}
}
