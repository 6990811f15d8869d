package packet

import (
	"fmt"

	"github.com/merklejerk/holtburger/internal/wire"
)

// -------------------------------------------------------------------------
// Handshake payload constants
// -------------------------------------------------------------------------

const (
	// AuthTypeAccountPassword is the account+password credential form.
	AuthTypeAccountPassword uint32 = 2

	// AuthFlagRequestEncryption asks the server to mask checksums after
	// the handshake.
	AuthFlagRequestEncryption uint32 = 0x1
)

// -------------------------------------------------------------------------
// Optional-header payload structures
// -------------------------------------------------------------------------

// LoginRequest is the initial handshake body. It occupies the whole
// payload of the packet bearing FlagLoginRequest.
type LoginRequest struct {
	// ClientVersion identifies the client build.
	ClientVersion string

	// AuthType selects the credential form; AuthTypeAccountPassword
	// is the only form this client emits.
	AuthType uint32

	// AuthFlags carries handshake options; bit 0 requests checksum
	// masking.
	AuthFlags uint32

	// Timestamp is a client-supplied clock sample.
	Timestamp uint32

	// Account is the account name.
	Account string

	// AdminOverride is normally empty.
	AdminOverride string

	// Password travels in the login-only string form.
	Password string
}

// ConnectRequest is the server's 32-byte handshake material: clock,
// cookie, assigned id, and the two keystream seeds.
type ConnectRequest struct {
	ServerTime float64
	Cookie     uint64
	ClientID   uint32

	// ServerSeed seeds the server-to-client keystream.
	ServerSeed uint32

	// ClientSeed seeds the client-to-server keystream.
	ClientSeed uint32
}

// EchoResponse carries the echoed clock sample and the peer's hold time.
type EchoResponse struct {
	EchoedTime  float32
	HoldingTime float32
}

// FlowControl is the peer's cap on outbound bytes per interval.
type FlowControl struct {
	Bytes    uint32
	Interval uint16
}

// OptionalHeaders is the decoded optional-header block. Parse and build
// both walk the fields in declaration order, which is the protocol's
// canonical order and deliberately not the numeric order of the flag
// bits.
type OptionalHeaders struct {
	// RequestRetransmit lists sequences the peer wants resent.
	RequestRetransmit []uint32

	// RejectRetransmit lists sequences that will not be resent.
	RejectRetransmit []uint32

	// AckSequence acknowledges everything up to and including a value.
	AckSequence *uint32

	// LoginRequest is present on the first handshake packet.
	LoginRequest *LoginRequest

	// ConnectRequest is present on the server's handshake packet.
	ConnectRequest *ConnectRequest

	// ConnectResponse is the echoed handshake cookie.
	ConnectResponse *uint64

	// TimeSync is the server clock.
	TimeSync *float64

	// EchoRequest is the peer's clock sample.
	EchoRequest *float32

	// EchoResponse answers an echo request.
	EchoResponse *EchoResponse

	// Flow is the peer's throughput cap.
	Flow *FlowControl
}

// flags returns the flag bits implied by the populated fields.
func (o *OptionalHeaders) flags() Flag {
	var f Flag
	if len(o.RequestRetransmit) > 0 {
		f |= FlagRequestRetransmit
	}
	if len(o.RejectRetransmit) > 0 {
		f |= FlagRejectRetransmit
	}
	if o.AckSequence != nil {
		f |= FlagAckSequence
	}
	if o.LoginRequest != nil {
		f |= FlagLoginRequest
	}
	if o.ConnectRequest != nil {
		f |= FlagConnectRequest
	}
	if o.ConnectResponse != nil {
		f |= FlagConnectResponse
	}
	if o.TimeSync != nil {
		f |= FlagTimeSync
	}
	if o.EchoRequest != nil {
		f |= FlagEchoRequest
	}
	if o.EchoResponse != nil {
		f |= FlagEchoResponse
	}
	if o.Flow != nil {
		f |= FlagFlow
	}
	return f
}

// -------------------------------------------------------------------------
// Parse
// -------------------------------------------------------------------------

// parseOptional decodes the optional-header block according to flags.
// The reader is positioned at the start of the payload; on return it
// sits at the first fragment (or the end of the payload).
func parseOptional(r *wire.Reader, flags Flag) (OptionalHeaders, error) {
	var o OptionalHeaders
	var err error

	if flags.Has(FlagRequestRetransmit) {
		if o.RequestRetransmit, err = parseSequenceList(r, "request_retransmit"); err != nil {
			return o, err
		}
	}
	if flags.Has(FlagRejectRetransmit) {
		if o.RejectRetransmit, err = parseSequenceList(r, "reject_retransmit"); err != nil {
			return o, err
		}
	}
	if flags.Has(FlagAckSequence) {
		v, aerr := r.Uint32("ack_sequence")
		if aerr != nil {
			return o, aerr
		}
		o.AckSequence = &v
	}
	if flags.Has(FlagLoginRequest) {
		lr, lerr := parseLoginRequest(r)
		if lerr != nil {
			return o, lerr
		}
		o.LoginRequest = lr
	}
	if flags.Has(FlagConnectRequest) {
		cr, cerr := parseConnectRequest(r)
		if cerr != nil {
			return o, cerr
		}
		o.ConnectRequest = cr
	}
	if flags.Has(FlagConnectResponse) {
		v, cerr := r.Uint64("connect_response.cookie")
		if cerr != nil {
			return o, cerr
		}
		o.ConnectResponse = &v
	}
	if flags.Has(FlagTimeSync) {
		v, terr := r.Float64("time_sync")
		if terr != nil {
			return o, terr
		}
		o.TimeSync = &v
	}
	if flags.Has(FlagEchoRequest) {
		v, eerr := r.Float32("echo_request")
		if eerr != nil {
			return o, eerr
		}
		o.EchoRequest = &v
	}
	if flags.Has(FlagEchoResponse) {
		er := &EchoResponse{}
		if er.EchoedTime, err = r.Float32("echo_response.echoed"); err != nil {
			return o, err
		}
		if er.HoldingTime, err = r.Float32("echo_response.holding"); err != nil {
			return o, err
		}
		o.EchoResponse = er
	}
	if flags.Has(FlagFlow) {
		fc := &FlowControl{}
		if fc.Bytes, err = r.Uint32("flow.bytes"); err != nil {
			return o, err
		}
		if fc.Interval, err = r.Uint16("flow.interval"); err != nil {
			return o, err
		}
		o.Flow = fc
	}

	return o, nil
}

// parseSequenceList reads a u32 count followed by that many sequences.
func parseSequenceList(r *wire.Reader, field string) ([]uint32, error) {
	count, err := r.Uint32(field + ".count")
	if err != nil {
		return nil, err
	}
	if int(count) > r.Remaining()/4 {
		return nil, fmt.Errorf("%s count %d: %w", field, count, ErrUnknownFlagShape)
	}
	seqs := make([]uint32, count)
	for i := range seqs {
		if seqs[i], err = r.Uint32(field); err != nil {
			return nil, err
		}
	}
	return seqs, nil
}

func parseLoginRequest(r *wire.Reader) (*LoginRequest, error) {
	lr := &LoginRequest{}
	var err error
	if lr.ClientVersion, err = r.PadString16("login.version"); err != nil {
		return nil, err
	}
	// Byte length of everything after this field; the individual field
	// parses below re-derive the same extent.
	if _, err = r.Uint32("login.length"); err != nil {
		return nil, err
	}
	if lr.AuthType, err = r.Uint32("login.auth_type"); err != nil {
		return nil, err
	}
	if lr.AuthFlags, err = r.Uint32("login.auth_flags"); err != nil {
		return nil, err
	}
	if lr.Timestamp, err = r.Uint32("login.timestamp"); err != nil {
		return nil, err
	}
	if lr.Account, err = r.PadString16("login.account"); err != nil {
		return nil, err
	}
	if lr.AdminOverride, err = r.PadString16("login.admin_override"); err != nil {
		return nil, err
	}
	if lr.Password, err = r.LoginString32("login.password"); err != nil {
		return nil, err
	}
	return lr, nil
}

func parseConnectRequest(r *wire.Reader) (*ConnectRequest, error) {
	cr := &ConnectRequest{}
	var err error
	if cr.ServerTime, err = r.Float64("connect.server_time"); err != nil {
		return nil, err
	}
	if cr.Cookie, err = r.Uint64("connect.cookie"); err != nil {
		return nil, err
	}
	if cr.ClientID, err = r.Uint32("connect.client_id"); err != nil {
		return nil, err
	}
	if cr.ServerSeed, err = r.Uint32("connect.server_seed"); err != nil {
		return nil, err
	}
	if cr.ClientSeed, err = r.Uint32("connect.client_seed"); err != nil {
		return nil, err
	}
	if err = r.Skip("connect.pad", 4); err != nil {
		return nil, err
	}
	return cr, nil
}

// -------------------------------------------------------------------------
// Build
// -------------------------------------------------------------------------

// write serializes the optional-header block in canonical order.
func (o *OptionalHeaders) write(w *wire.Writer) error {
	if len(o.RequestRetransmit) > 0 {
		writeSequenceList(w, o.RequestRetransmit)
	}
	if len(o.RejectRetransmit) > 0 {
		writeSequenceList(w, o.RejectRetransmit)
	}
	if o.AckSequence != nil {
		w.Uint32(*o.AckSequence)
	}
	if o.LoginRequest != nil {
		if err := o.LoginRequest.write(w); err != nil {
			return err
		}
	}
	if o.ConnectRequest != nil {
		o.ConnectRequest.write(w)
	}
	if o.ConnectResponse != nil {
		w.Uint64(*o.ConnectResponse)
	}
	if o.TimeSync != nil {
		w.Float64(*o.TimeSync)
	}
	if o.EchoRequest != nil {
		w.Float32(*o.EchoRequest)
	}
	if o.EchoResponse != nil {
		w.Float32(o.EchoResponse.EchoedTime)
		w.Float32(o.EchoResponse.HoldingTime)
	}
	if o.Flow != nil {
		w.Uint32(o.Flow.Bytes)
		w.Uint16(o.Flow.Interval)
	}
	return nil
}

func writeSequenceList(w *wire.Writer, seqs []uint32) {
	w.Uint32(uint32(len(seqs)))
	for _, s := range seqs {
		w.Uint32(s)
	}
}

// write serializes the login body. The length field counts every byte
// that follows it: the three option words, both account strings, and
// the padded password form.
func (lr *LoginRequest) write(w *wire.Writer) error {
	if err := w.PadString16(lr.ClientVersion); err != nil {
		return err
	}

	body := wire.NewWriter()
	body.Uint32(lr.AuthType)
	body.Uint32(lr.AuthFlags)
	body.Uint32(lr.Timestamp)
	if err := body.PadString16(lr.Account); err != nil {
		return err
	}
	if err := body.PadString16(lr.AdminOverride); err != nil {
		return err
	}
	if err := body.LoginString32(lr.Password); err != nil {
		return err
	}

	w.Uint32(uint32(body.Len()))
	w.RawBytes(body.Bytes())
	return nil
}

func (cr *ConnectRequest) write(w *wire.Writer) {
	w.Float64(cr.ServerTime)
	w.Uint64(cr.Cookie)
	w.Uint32(cr.ClientID)
	w.Uint32(cr.ServerSeed)
	w.Uint32(cr.ClientSeed)
	w.Zero(4)
}
