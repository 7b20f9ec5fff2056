// Author: momentics <momentics@gmail.com>
//
// Stream is the stream socket endpoint (spec component C5): a state
// machine over one connection-oriented socket that translates readiness
// completions into the tcp_socket_callbacks capability set.
//
// Grounded in _examples/original_source/socket/tcp_socket.h's
// tcp_socket/tcp_socket_callbacks pair and its connection_state enum, and
// in the teacher's protocol/wsconn.go connection-state-machine style.

package endpoint

import (
	"errors"
	"fmt"
	"net"

	"github.com/momentics/afdreactor/afdpoll"
)

// StreamState is one of the six states a Stream endpoint can be in.
type StreamState int

const (
	StreamCreated StreamState = iota
	StreamPendingConnect
	StreamPendingAccept
	StreamConnected
	StreamPeerClosed
	StreamDisconnected
)

func (s StreamState) String() string {
	switch s {
	case StreamCreated:
		return "created"
	case StreamPendingConnect:
		return "pending-connect"
	case StreamPendingAccept:
		return "pending-accept"
	case StreamConnected:
		return "connected"
	case StreamPeerClosed:
		return "peer-closed"
	case StreamDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// streamArmInterest is the interest mask armed immediately after
// connect()/accepted(), per spec §4.5.
const streamArmInterest = afdpoll.Writable | afdpoll.PeerClosed | afdpoll.Reset | afdpoll.LocalClosed | afdpoll.ConnectFailed

// Stream is a stream socket endpoint bound to one driver slot.
type Stream struct {
	driver *afdpoll.Driver
	slot   int
	sock   afdpoll.Socket
	sink   afdpoll.StreamSink

	state       StreamState
	interest    afdpoll.Events
	dispatching bool
	pendingClose bool
}

// NewStream constructs a Stream in the created state, bound to slot on
// driver, wrapping sock, delivering events to sink. The caller owns sock
// until Connect or Accepted is called.
func NewStream(driver *afdpoll.Driver, slot int, sock afdpoll.Socket, sink afdpoll.StreamSink) *Stream {
	return &Stream{driver: driver, slot: slot, sock: sock, sink: sink, state: StreamCreated}
}

// State returns the endpoint's current state.
func (s *Stream) State() StreamState { return s.state }

// Connect issues a non-blocking connect to addr and arms the interest set
// that resolves to either on_connected or on_connection_failed.
func (s *Stream) Connect(addr net.Addr) error {
	if s.state != StreamCreated {
		return afdpoll.ErrAlreadyConnected
	}
	if err := s.sock.Connect(addr); err != nil {
		return &afdpoll.SocketFatalError{Op: "connect", Err: err}
	}
	if err := s.driver.Associate(s.slot, s.sock.BaseHandle(), s); err != nil {
		return err
	}
	s.state = StreamPendingConnect
	s.interest = streamArmInterest
	_, err := s.driver.Arm(s.slot, s.interest)
	return err
}

// Accepted adopts an already-accepted connection socket and arms the
// same interest set Connect uses, so the same writable-means-ready rule
// resolves to on_connected.
func (s *Stream) Accepted() error {
	if s.state != StreamCreated {
		return afdpoll.ErrAlreadyConnected
	}
	if err := s.driver.Associate(s.slot, s.sock.BaseHandle(), s); err != nil {
		return err
	}
	s.state = StreamPendingAccept
	s.interest = streamArmInterest
	_, err := s.driver.Arm(s.slot, s.interest)
	return err
}

func (s *Stream) canTransferData() bool {
	return s.state == StreamConnected || s.state == StreamPeerClosed
}

// Write attempts an immediate non-blocking send. On a short write or
// would-block it adds Writable to the interest set and re-arms
// immediately unless a dispatch for this endpoint is already running (in
// which case the driver re-arms once, after dispatch finishes).
func (s *Stream) Write(b []byte) (int, error) {
	if !s.canTransferData() {
		return 0, afdpoll.ErrNotConnected
	}
	n, err := s.sock.Send(b)
	if err == afdpoll.ErrWouldBlock {
		s.armWritable()
		return 0, nil
	}
	if err != nil {
		if isConnectionError(err) {
			s.armWritable()
			return 0, nil
		}
		return n, &afdpoll.SocketFatalError{Op: "send", Err: err}
	}
	if n < len(b) {
		s.armWritable()
	}
	return n, nil
}

func (s *Stream) armWritable() {
	s.interest = s.interest.Union(afdpoll.Writable)
	if !s.dispatching {
		_, _ = s.driver.Arm(s.slot, s.interest)
	}
}

func (s *Stream) armReadable() {
	s.interest = s.interest.Union(afdpoll.Readable)
	if !s.dispatching {
		_, _ = s.driver.Arm(s.slot, s.interest)
	}
}

// Read attempts an immediate non-blocking recv. On would-block it returns
// 0 and re-arms Readable interest. 0 bytes with no error means the peer
// performed an orderly close; that is not itself an error condition here.
func (s *Stream) Read(buf []byte) (int, error) {
	if !s.canTransferData() {
		return 0, afdpoll.ErrNotConnected
	}
	n, err := s.sock.Recv(buf)
	if err == afdpoll.ErrWouldBlock {
		s.armReadable()
		return 0, nil
	}
	if err != nil {
		if isConnectionError(err) {
			s.armReadable()
			return 0, nil
		}
		return n, &afdpoll.SocketFatalError{Op: "recv", Err: err}
	}
	return n, nil
}

// Shutdown half-closes the connection. No callback is issued for this
// purely local operation (spec §9, design note 3).
func (s *Stream) Shutdown(how afdpoll.ShutdownHow) error {
	if !s.canTransferData() {
		return afdpoll.ErrNotConnected
	}
	return s.sock.Shutdown(how)
}

// Close closes the underlying socket. If no poll is currently in flight,
// on_disconnected is synthesised immediately so teardown is observable
// even though the driver is idle; otherwise the already-armed request
// will itself observe LocalClosed and finish the transition there.
func (s *Stream) Close() error {
	if s.state == StreamDisconnected {
		return nil
	}
	err := s.sock.Close()
	if !s.driver.InFlight() {
		_ = s.driver.Disassociate(s.slot)
		s.finish(func() { s.sink.OnDisconnected() })
	} else {
		s.pendingClose = true
	}
	if err != nil {
		return &afdpoll.SocketFatalError{Op: "close", Err: err}
	}
	return nil
}

func (s *Stream) finish(callback func()) {
	if s.state == StreamDisconnected {
		return
	}
	s.state = StreamDisconnected
	callback()
}

// HandleEvents implements afdpoll.EventSink, applying the event
// translation rules of spec §4.5 in order against the state the endpoint
// was in when the completion arrived.
//
// Each rule mutates s.interest directly rather than a local copy, and the
// final return reads s.interest back rather than returning a value
// computed earlier. A sink callback below (OnReadable, OnWritable, ...)
// may re-enter Read/Write, which re-add a bit to s.interest through
// armReadable/armWritable while s.dispatching is true; operating on the
// field directly means that re-entrant update survives into the residual
// mask the driver re-arms with, instead of being clobbered by a stale
// local copy taken before the callback ran.
func (s *Stream) HandleEvents(outcome afdpoll.Events, status int32) afdpoll.Events {
	s.dispatching = true
	defer func() { s.dispatching = false }()

	origState := s.state

	if outcome.Any(afdpoll.ConnectFailed) && (origState == StreamPendingConnect || origState == StreamPendingAccept) {
		s.state = StreamDisconnected
		_ = s.driver.Disassociate(s.slot)
		s.sink.OnConnectionFailed(fmt.Errorf("connect-refused-or-timeout"))
		return 0
	}

	if outcome.Any(afdpoll.Writable) {
		switch origState {
		case StreamPendingConnect, StreamPendingAccept:
			s.state = StreamConnected
			s.interest = s.interest.Without(afdpoll.Writable)
			s.sink.OnConnected()
		case StreamConnected, StreamPeerClosed:
			s.interest = s.interest.Without(afdpoll.Writable)
			s.sink.OnWritable()
		}
	}

	if outcome.Any(afdpoll.Readable) {
		s.interest = s.interest.Without(afdpoll.Readable)
		s.sink.OnReadable()
	}

	if outcome.Any(afdpoll.ReadableOOB) {
		s.interest = s.interest.Without(afdpoll.ReadableOOB)
		s.sink.OnReadableOOB()
	}

	if outcome.Any(afdpoll.Reset) {
		s.state = StreamDisconnected
		_ = s.driver.Disassociate(s.slot)
		s.sink.OnConnectionReset()
		return 0
	}

	if outcome.Any(afdpoll.PeerClosed) {
		s.interest = s.interest.Without(afdpoll.PeerClosed)
		s.sink.OnClientClose()
		if s.state == StreamConnected {
			s.state = StreamPeerClosed
		}
	}

	if outcome.Any(afdpoll.LocalClosed) {
		s.state = StreamDisconnected
		_ = s.driver.Disassociate(s.slot)
		s.sink.OnDisconnected()
		return 0
	}

	if s.pendingClose {
		// Close() was called while a poll was in flight; the request
		// has now drained, so finish the synthesis it deferred.
		s.pendingClose = false
		s.state = StreamDisconnected
		_ = s.driver.Disassociate(s.slot)
		s.sink.OnDisconnected()
		return 0
	}

	return s.interest
}

// isConnectionError reports whether err represents a connection-error
// condition (reset/aborted/net-reset) that read/write should recover from
// locally rather than surface as socket-fatal (spec §7).
func isConnectionError(err error) bool {
	return errors.Is(err, afdpoll.ErrConnectionError)
}
