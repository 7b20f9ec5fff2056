package endpoint_test

import (
	"net"
	"testing"

	"github.com/momentics/afdreactor/afdpoll"
	"github.com/momentics/afdreactor/afdpoll/afdtest"
	"github.com/momentics/afdreactor/afdpoll/endpoint"
)

type streamEvents struct {
	connected      bool
	connectFailErr error
	readable       int
	readableOOB    int
	writable       int
	clientClosed   bool
	reset          bool
	disconnected   bool
}

func (s *streamEvents) OnConnected()                 { s.connected = true }
func (s *streamEvents) OnConnectionFailed(err error) { s.connectFailErr = err }
func (s *streamEvents) OnReadable()                  { s.readable++ }
func (s *streamEvents) OnReadableOOB()               { s.readableOOB++ }
func (s *streamEvents) OnWritable()                  { s.writable++ }
func (s *streamEvents) OnClientClose()               { s.clientClosed = true }
func (s *streamEvents) OnConnectionReset()           { s.reset = true }
func (s *streamEvents) OnDisconnected()              { s.disconnected = true }

func newArmedStream(t *testing.T) (*afdpoll.Driver, *afdtest.Socket, *streamEvents, *endpoint.Stream) {
	t.Helper()
	dev := afdtest.NewDevice()
	driver := afdpoll.NewDriver(dev, 2)
	sock := afdtest.NewSocket(afdpoll.BaseHandle(1))
	sink := &streamEvents{}
	s := endpoint.NewStream(driver, 0, sock, sink)
	if err := s.Connect(&net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 9000}); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if s.State() != endpoint.StreamPendingConnect {
		t.Fatalf("expected pending-connect, got %v", s.State())
	}
	return driver, sock, sink, s
}

func TestStreamConnectThenWritableMeansConnected(t *testing.T) {
	_, _, sink, s := newArmedStream(t)

	residual := s.HandleEvents(afdpoll.Writable, 0)
	if s.State() != endpoint.StreamConnected {
		t.Fatalf("expected connected, got %v", s.State())
	}
	if !sink.connected {
		t.Fatal("expected OnConnected to have fired")
	}
	if residual.Any(afdpoll.Writable) {
		t.Fatal("expected Writable to be cleared from residual interest after connect")
	}
}

func TestStreamConnectFailed(t *testing.T) {
	_, _, sink, s := newArmedStream(t)

	residual := s.HandleEvents(afdpoll.ConnectFailed, 0)
	if s.State() != endpoint.StreamDisconnected {
		t.Fatalf("expected disconnected after connect failure, got %v", s.State())
	}
	if sink.connectFailErr == nil {
		t.Fatal("expected OnConnectionFailed to fire")
	}
	if residual != 0 {
		t.Fatalf("expected no residual interest after a terminal transition, got %v", residual)
	}
}

func TestStreamReadWouldBlockReturnsZero(t *testing.T) {
	_, _, _, s := newArmedStream(t)
	s.HandleEvents(afdpoll.Writable, 0) // -> connected

	buf := make([]byte, 16)
	n, err := s.Read(buf)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected 0 bytes on would-block, got %d", n)
	}
}

func TestStreamReadDeliversQueuedBytes(t *testing.T) {
	_, sock, _, s := newArmedStream(t)
	s.HandleEvents(afdpoll.Writable, 0) // -> connected
	sock.RecvQueue = append(sock.RecvQueue, []byte("hello"))

	buf := make([]byte, 16)
	n, err := s.Read(buf)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(buf[:n]) != "hello" {
		t.Fatalf("expected 'hello', got %q", buf[:n])
	}
}

func TestStreamWriteWouldBlockReturnsZero(t *testing.T) {
	_, sock, _, s := newArmedStream(t)
	s.HandleEvents(afdpoll.Writable, 0) // -> connected
	sock.SendErr = afdpoll.ErrWouldBlock

	n, err := s.Write([]byte("data"))
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected 0 bytes written on would-block, got %d", n)
	}
}

func TestStreamPeerClosedThenLocalClose(t *testing.T) {
	_, _, sink, s := newArmedStream(t)
	s.HandleEvents(afdpoll.Writable, 0) // -> connected

	s.HandleEvents(afdpoll.PeerClosed, 0)
	if !sink.clientClosed {
		t.Fatal("expected OnClientClose to fire")
	}
	if s.State() != endpoint.StreamPeerClosed {
		t.Fatalf("expected peer-closed, got %v", s.State())
	}

	s.HandleEvents(afdpoll.LocalClosed, 0)
	if !sink.disconnected {
		t.Fatal("expected OnDisconnected to fire")
	}
	if s.State() != endpoint.StreamDisconnected {
		t.Fatalf("expected disconnected, got %v", s.State())
	}
}

func TestStreamResetIsTerminal(t *testing.T) {
	_, _, sink, s := newArmedStream(t)
	s.HandleEvents(afdpoll.Writable, 0) // -> connected

	s.HandleEvents(afdpoll.Reset, 0)
	if !sink.reset {
		t.Fatal("expected OnConnectionReset to fire")
	}
	if s.State() != endpoint.StreamDisconnected {
		t.Fatalf("expected disconnected after reset, got %v", s.State())
	}
}

func TestStreamCloseWhileIdleSynthesizesDisconnected(t *testing.T) {
	driver, sock, sink, s := newArmedStream(t)
	s.HandleEvents(afdpoll.Writable, 0) // -> connected

	// Drain the poll Connect armed, so no request is in flight at Close.
	if err := driver.Cancel(); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	driver.HandleCompletion(afdpoll.StatusAborted)

	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !sink.disconnected {
		t.Fatal("expected OnDisconnected to fire synchronously when idle")
	}
	if !sock.Closed {
		t.Fatal("expected the underlying socket to be closed")
	}
}

func TestStreamAcceptedTransitionsToConnected(t *testing.T) {
	dev := afdtest.NewDevice()
	driver := afdpoll.NewDriver(dev, 1)
	sock := afdtest.NewSocket(afdpoll.BaseHandle(7))
	sink := &streamEvents{}
	s := endpoint.NewStream(driver, 0, sock, sink)

	if err := s.Accepted(); err != nil {
		t.Fatalf("Accepted: %v", err)
	}
	if s.State() != endpoint.StreamPendingAccept {
		t.Fatalf("expected pending-accept, got %v", s.State())
	}
	s.HandleEvents(afdpoll.Writable, 0)
	if s.State() != endpoint.StreamConnected {
		t.Fatalf("expected connected, got %v", s.State())
	}
	if !sink.connected {
		t.Fatal("expected OnConnected to fire")
	}
}
