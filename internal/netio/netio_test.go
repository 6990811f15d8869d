package netio_test

import (
	"bytes"
	"errors"
	"net/netip"
	"testing"
	"time"

	"github.com/merklejerk/holtburger/internal/netio"
)

func TestActivationEndpoint(t *testing.T) {
	t.Parallel()

	login := netip.MustParseAddrPort("203.0.113.7:9000")
	got := netio.ActivationEndpoint(login)
	if got.Addr() != login.Addr() || got.Port() != 9001 {
		t.Fatalf("activation endpoint = %s, want %s port 9001", got, login.Addr())
	}
}

func TestPipeConnRoundTrip(t *testing.T) {
	t.Parallel()

	local := netip.MustParseAddrPort("10.0.0.2:40000")
	peer := netip.MustParseAddrPort("10.0.0.1:9000")
	pipe := netio.NewPipeConn(local)

	if pipe.LocalAddr() != local {
		t.Fatalf("local addr = %s", pipe.LocalAddr())
	}

	// Inbound injection surfaces through ReadDatagram with the source.
	pipe.Inject([]byte{1, 2, 3}, peer)
	buf := make([]byte, netio.MaxDatagramSize)
	n, src, err := pipe.ReadDatagram(buf)
	if err != nil {
		t.Fatalf("ReadDatagram: %v", err)
	}
	if n != 3 || !bytes.Equal(buf[:n], []byte{1, 2, 3}) || src != peer {
		t.Fatalf("read %d bytes % x from %s", n, buf[:n], src)
	}

	// Outbound writes are recorded with their destination.
	if err := pipe.WriteDatagram([]byte{9, 9}, peer); err != nil {
		t.Fatalf("WriteDatagram: %v", err)
	}
	select {
	case d := <-pipe.Sent:
		if !bytes.Equal(d.Data, []byte{9, 9}) || d.Dst != peer {
			t.Fatalf("sent %+v", d)
		}
	case <-time.After(time.Second):
		t.Fatal("write never surfaced")
	}
}

func TestPipeConnCloseUnblocksRead(t *testing.T) {
	t.Parallel()

	pipe := netio.NewPipeConn(netip.MustParseAddrPort("10.0.0.2:40000"))

	readErr := make(chan error, 1)
	go func() {
		_, _, err := pipe.ReadDatagram(make([]byte, 16))
		readErr <- err
	}()

	if err := pipe.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	select {
	case err := <-readErr:
		if !errors.Is(err, netio.ErrSocketClosed) {
			t.Fatalf("read err = %v, want ErrSocketClosed", err)
		}
	case <-time.After(time.Second):
		t.Fatal("close did not unblock the read")
	}

	if err := pipe.WriteDatagram([]byte{1}, netip.MustParseAddrPort("10.0.0.1:9000")); !errors.Is(err, netio.ErrSocketClosed) {
		t.Fatalf("write after close = %v, want ErrSocketClosed", err)
	}
}

func TestUDPConnLoopback(t *testing.T) {
	t.Parallel()

	a, err := netio.ListenUDP()
	if err != nil {
		t.Fatalf("ListenUDP: %v", err)
	}
	defer a.Close()
	b, err := netio.ListenUDP()
	if err != nil {
		t.Fatalf("ListenUDP: %v", err)
	}
	defer b.Close()

	payload := []byte{0xDE, 0xAD, 0xBE, 0xEF}
	dst := netip.AddrPortFrom(netip.MustParseAddr("127.0.0.1"), b.LocalAddr().Port())
	if err := a.WriteDatagram(payload, dst); err != nil {
		t.Fatalf("WriteDatagram: %v", err)
	}

	buf := make([]byte, netio.MaxDatagramSize)
	n, src, err := b.ReadDatagram(buf)
	if err != nil {
		t.Fatalf("ReadDatagram: %v", err)
	}
	if !bytes.Equal(buf[:n], payload) {
		t.Fatalf("received % x", buf[:n])
	}
	if src.Port() != a.LocalAddr().Port() {
		t.Fatalf("source %s, want port %d", src, a.LocalAddr().Port())
	}
}
