package endpoint_test

import (
	"net"
	"testing"

	"github.com/momentics/afdreactor/afdpoll"
	"github.com/momentics/afdreactor/afdpoll/afdtest"
	"github.com/momentics/afdreactor/afdpoll/endpoint"
)

type datagramEvents struct {
	readable     int
	writable     int
	disconnected bool
}

func (d *datagramEvents) OnReadable()     { d.readable++ }
func (d *datagramEvents) OnWritable()     { d.writable++ }
func (d *datagramEvents) OnDisconnected() { d.disconnected = true }

func TestDatagramWritableBeforeBind(t *testing.T) {
	dev := afdtest.NewDevice()
	driver := afdpoll.NewDriver(dev, 1)
	sock := afdtest.NewSocket(afdpoll.BaseHandle(5))
	sink := &datagramEvents{}

	d, err := endpoint.NewDatagram(driver, 0, sock, sink)
	if err != nil {
		t.Fatalf("NewDatagram: %v", err)
	}
	if d.State() != endpoint.DatagramCreated {
		t.Fatalf("expected created, got %v", d.State())
	}
	if !driver.InFlight() {
		t.Fatal("expected NewDatagram to arm immediately")
	}

	d.HandleEvents(afdpoll.Writable, 0)
	if sink.writable != 1 {
		t.Fatal("expected OnWritable to fire before bind")
	}
}

func TestDatagramBindEnablesReadable(t *testing.T) {
	dev := afdtest.NewDevice()
	driver := afdpoll.NewDriver(dev, 1)
	sock := afdtest.NewSocket(afdpoll.BaseHandle(5))
	sink := &datagramEvents{}
	d, err := endpoint.NewDatagram(driver, 0, sock, sink)
	if err != nil {
		t.Fatalf("NewDatagram: %v", err)
	}

	if err := d.Bind(&net.UDPAddr{Port: 9001}); err != nil {
		t.Fatalf("Bind: %v", err)
	}
	if d.State() != endpoint.DatagramBound {
		t.Fatalf("expected bound, got %v", d.State())
	}

	sock.RecvQueue = append(sock.RecvQueue, []byte("ping"))
	buf := make([]byte, 16)
	n, _, err := d.RecvFrom(buf)
	if err != nil {
		t.Fatalf("RecvFrom: %v", err)
	}
	if string(buf[:n]) != "ping" {
		t.Fatalf("expected 'ping', got %q", buf[:n])
	}
}

func TestDatagramRecvFromBeforeBindIsInvalidState(t *testing.T) {
	dev := afdtest.NewDevice()
	driver := afdpoll.NewDriver(dev, 1)
	sock := afdtest.NewSocket(afdpoll.BaseHandle(5))
	sink := &datagramEvents{}
	d, err := endpoint.NewDatagram(driver, 0, sock, sink)
	if err != nil {
		t.Fatalf("NewDatagram: %v", err)
	}

	_, _, err = d.RecvFrom(make([]byte, 8))
	if err != afdpoll.ErrNotConnected {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
}

func TestDatagramResetIsTerminal(t *testing.T) {
	dev := afdtest.NewDevice()
	driver := afdpoll.NewDriver(dev, 1)
	sock := afdtest.NewSocket(afdpoll.BaseHandle(5))
	sink := &datagramEvents{}
	d, err := endpoint.NewDatagram(driver, 0, sock, sink)
	if err != nil {
		t.Fatalf("NewDatagram: %v", err)
	}

	d.HandleEvents(afdpoll.Reset, 0)
	if !sink.disconnected {
		t.Fatal("expected OnDisconnected to fire on reset")
	}
	if d.State() != endpoint.DatagramDisconnected {
		t.Fatalf("expected disconnected, got %v", d.State())
	}
}
