package message

// Game message opcodes the core decodes itself. Everything else is
// delivered opaquely.
const (
	// OpcodeEntityCreate announces an object entering awareness.
	OpcodeEntityCreate uint32 = 0xF745

	// OpcodePlayerDescription is the login character description with
	// its property tables.
	OpcodePlayerDescription uint32 = 0x0013

	// OpcodePositionUpdate moves an object with the flag-compressed
	// placement form.
	OpcodePositionUpdate uint32 = 0xF748
)
