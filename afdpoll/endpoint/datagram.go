// Author: momentics <momentics@gmail.com>
//
// Datagram is the datagram socket endpoint (spec component C7).
//
// Grounded in _examples/original_source/socket/udp_socket.h's two-state
// (unbound/bound) model and the teacher's transport/udp/* send/recv style.

package endpoint

import (
	"net"

	"github.com/momentics/afdreactor/afdpoll"
)

// DatagramState is one of the three states a Datagram endpoint can be in.
type DatagramState int

const (
	DatagramCreated DatagramState = iota
	DatagramBound
	DatagramDisconnected
)

// datagramArmInterest excludes Readable until Bind, since an unbound
// datagram socket has nothing to read; Writable is meaningful immediately
// since sendto() needs no prior bind on most stacks.
const datagramArmInterest = afdpoll.Writable | afdpoll.Reset | afdpoll.LocalClosed

// Datagram is a datagram socket endpoint bound to one driver slot.
type Datagram struct {
	driver *afdpoll.Driver
	slot   int
	sock   afdpoll.Socket
	sink   afdpoll.DatagramSink

	state       DatagramState
	interest    afdpoll.Events
	dispatching bool
}

// NewDatagram constructs a Datagram endpoint, associates it with driver
// immediately (spec §4.6: writable is observable before bind), and arms
// the writable/reset/local-closed interest set.
func NewDatagram(driver *afdpoll.Driver, slot int, sock afdpoll.Socket, sink afdpoll.DatagramSink) (*Datagram, error) {
	d := &Datagram{driver: driver, slot: slot, sock: sock, sink: sink, state: DatagramCreated}
	if err := driver.Associate(slot, sock.BaseHandle(), d); err != nil {
		return nil, err
	}
	d.interest = datagramArmInterest
	if _, err := driver.Arm(slot, d.interest); err != nil {
		return nil, err
	}
	return d, nil
}

// State returns the endpoint's current state.
func (d *Datagram) State() DatagramState { return d.state }

// Bind binds the underlying socket to addr and adds Readable to the
// interest set, since reading a local address is now meaningful. When the
// driver is idle it arms right away; while a request is in flight (or this
// endpoint is dispatching) the driver cannot be re-armed, so Readable goes
// out with the re-arm that follows the next completion delivered here.
func (d *Datagram) Bind(addr net.Addr) error {
	if d.state != DatagramCreated {
		return afdpoll.ErrAlreadyConnected
	}
	if err := d.sock.Bind(addr); err != nil {
		return &afdpoll.SocketFatalError{Op: "bind", Err: err}
	}
	d.state = DatagramBound
	d.interest = d.interest.Union(afdpoll.Readable)
	if d.dispatching || d.driver.InFlight() {
		return nil
	}
	_, err := d.driver.Arm(d.slot, d.interest)
	return err
}

// SendTo attempts an immediate non-blocking send. Connectionless sends
// never recover from a connection-error the way Stream.Write does; a send
// failure here always surfaces.
func (d *Datagram) SendTo(b []byte, addr net.Addr) (int, error) {
	if err := d.sock.Connect(addr); err != nil {
		return 0, &afdpoll.SocketFatalError{Op: "connect", Err: err}
	}
	n, err := d.sock.Send(b)
	if err == afdpoll.ErrWouldBlock {
		d.armWritable()
		return 0, nil
	}
	if err != nil {
		return n, &afdpoll.SocketFatalError{Op: "send", Err: err}
	}
	return n, nil
}

// RecvFrom attempts an immediate non-blocking receive. Only meaningful
// once bound.
func (d *Datagram) RecvFrom(buf []byte) (int, net.Addr, error) {
	if d.state != DatagramBound {
		return 0, nil, afdpoll.ErrNotConnected
	}
	n, err := d.sock.Recv(buf)
	if err == afdpoll.ErrWouldBlock {
		d.armReadable()
		return 0, nil, nil
	}
	if err != nil {
		return n, nil, &afdpoll.SocketFatalError{Op: "recv", Err: err}
	}
	return n, nil, nil
}

// armWritable and armReadable add a bit to the interest mask and re-arm
// immediately, unless a dispatch for this endpoint is already running: a
// sink callback invoked from HandleEvents may re-enter SendTo/RecvFrom,
// and re-arming from inside that call would rebuild the driver's submit
// buffers while Driver.dispatch is still iterating them for the rest of
// the in-progress completion (spec §5 re-entrancy). The mutation to
// d.interest still happens; HandleEvents re-arms once, after iteration
// finishes, with whatever d.interest has become by then.
func (d *Datagram) armWritable() {
	d.interest = d.interest.Union(afdpoll.Writable)
	if !d.dispatching {
		_, _ = d.driver.Arm(d.slot, d.interest)
	}
}

func (d *Datagram) armReadable() {
	d.interest = d.interest.Union(afdpoll.Readable)
	if !d.dispatching {
		_, _ = d.driver.Arm(d.slot, d.interest)
	}
}

// Close closes the underlying socket and tears the endpoint down.
func (d *Datagram) Close() error {
	if d.state == DatagramDisconnected {
		return nil
	}
	err := d.sock.Close()
	if !d.driver.InFlight() {
		_ = d.driver.Disassociate(d.slot)
	}
	d.state = DatagramDisconnected
	d.sink.OnDisconnected()
	if err != nil {
		return &afdpoll.SocketFatalError{Op: "close", Err: err}
	}
	return nil
}

// HandleEvents implements afdpoll.EventSink for the datagram state
// machine: writable/readable fire the corresponding sink callback and are
// cleared from interest, reset and local-closed are both terminal.
//
// Rules mutate d.interest directly, and the dispatching guard is held for
// the duration, the same way Stream.HandleEvents does: a sink callback
// below may re-enter SendTo/RecvFrom, whose would-block path adds a bit
// back to d.interest through armWritable/armReadable. Operating on the
// field directly, rather than a local copy overwritten at the end, lets
// that re-entrant update survive into the residual mask returned below.
func (d *Datagram) HandleEvents(outcome afdpoll.Events, status int32) afdpoll.Events {
	d.dispatching = true
	defer func() { d.dispatching = false }()

	if outcome.Any(afdpoll.Writable) {
		d.interest = d.interest.Without(afdpoll.Writable)
		d.sink.OnWritable()
	}

	if outcome.Any(afdpoll.Readable) {
		d.interest = d.interest.Without(afdpoll.Readable)
		d.sink.OnReadable()
	}

	if outcome.Any(afdpoll.Reset) {
		d.state = DatagramDisconnected
		_ = d.driver.Disassociate(d.slot)
		d.sink.OnDisconnected()
		return 0
	}

	if outcome.Any(afdpoll.LocalClosed) {
		d.state = DatagramDisconnected
		_ = d.driver.Disassociate(d.slot)
		d.sink.OnDisconnected()
		return 0
	}

	return d.interest
}
