// Author: momentics <momentics@gmail.com>
//
// Listening is the listening socket endpoint (spec component C6).
//
// Grounded in _examples/original_source/socket/listening_socket/tcp_listening_socket.cpp's
// accept-until-would-block discipline and the teacher's protocol/upgrader.go
// accept-and-handshake loop style.

package endpoint

import (
	"net"

	"github.com/momentics/afdreactor/afdpoll"
)

// ListenState is one of the four states a Listening endpoint can be in.
type ListenState int

const (
	ListenCreated ListenState = iota
	ListenBound
	ListenListening
	ListenDisconnected
)

// Listening is a listening socket endpoint bound to one driver slot.
type Listening struct {
	driver *afdpoll.Driver
	slot   int
	sock   afdpoll.Socket
	sink   afdpoll.ListeningSink

	state    ListenState
	interest afdpoll.Events
}

// NewListening constructs a Listening endpoint in the created state.
func NewListening(driver *afdpoll.Driver, slot int, sock afdpoll.Socket, sink afdpoll.ListeningSink) *Listening {
	return &Listening{driver: driver, slot: slot, sock: sock, sink: sink, state: ListenCreated}
}

// State returns the endpoint's current state.
func (l *Listening) State() ListenState { return l.state }

// Bind binds the underlying socket to addr.
func (l *Listening) Bind(addr net.Addr) error {
	if l.state != ListenCreated {
		return afdpoll.ErrAlreadyConnected
	}
	if err := l.sock.Bind(addr); err != nil {
		return &afdpoll.SocketFatalError{Op: "bind", Err: err}
	}
	l.state = ListenBound
	return nil
}

// Listen transitions to listening and arms the full interest set so
// accept-ready, reset, and local-closed completions are observed.
func (l *Listening) Listen(backlog int) error {
	if l.state != ListenBound {
		return afdpoll.ErrNotConnected
	}
	if err := l.sock.Listen(backlog); err != nil {
		return &afdpoll.SocketFatalError{Op: "listen", Err: err}
	}
	if err := l.driver.Associate(l.slot, l.sock.BaseHandle(), l); err != nil {
		return err
	}
	l.state = ListenListening
	l.interest = afdpoll.AcceptReady | afdpoll.Reset | afdpoll.LocalClosed
	_, err := l.driver.Arm(l.slot, l.interest)
	return err
}

// Accept retrieves one pending connection. The caller must keep calling
// Accept after on_incoming_connections until it returns ErrWouldBlock, to
// drain every connection the single accept-ready completion announced.
func (l *Listening) Accept() (afdpoll.Socket, net.Addr, error) {
	if l.state != ListenListening {
		return nil, nil, afdpoll.ErrNotConnected
	}
	return l.sock.Accept()
}

// Close closes the listening socket and tears the endpoint down.
func (l *Listening) Close() error {
	if l.state == ListenDisconnected {
		return nil
	}
	err := l.sock.Close()
	if l.state == ListenListening && !l.driver.InFlight() {
		_ = l.driver.Disassociate(l.slot)
	}
	l.state = ListenDisconnected
	l.sink.OnDisconnected()
	if err != nil {
		return &afdpoll.SocketFatalError{Op: "close", Err: err}
	}
	return nil
}

// HandleEvents implements afdpoll.EventSink for the listening state
// machine: accept-ready drains through on_incoming_connections, reset and
// local-closed are both terminal (spec §4.6).
func (l *Listening) HandleEvents(outcome afdpoll.Events, status int32) afdpoll.Events {
	interest := l.interest

	if outcome.Any(afdpoll.AcceptReady) {
		l.sink.OnIncomingConnections()
	}

	if outcome.Any(afdpoll.Reset) {
		l.state = ListenDisconnected
		_ = l.driver.Disassociate(l.slot)
		l.sink.OnConnectionReset()
		return 0
	}

	if outcome.Any(afdpoll.LocalClosed) {
		l.state = ListenDisconnected
		_ = l.driver.Disassociate(l.slot)
		l.sink.OnDisconnected()
		return 0
	}

	l.interest = interest
	return interest
}
