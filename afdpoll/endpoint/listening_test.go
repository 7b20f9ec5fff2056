package endpoint_test

import (
	"net"
	"testing"

	"github.com/momentics/afdreactor/afdpoll"
	"github.com/momentics/afdreactor/afdpoll/afdtest"
	"github.com/momentics/afdreactor/afdpoll/endpoint"
)

type listeningEvents struct {
	incoming     int
	reset        bool
	disconnected bool
}

func (l *listeningEvents) OnIncomingConnections() { l.incoming++ }
func (l *listeningEvents) OnConnectionReset()     { l.reset = true }
func (l *listeningEvents) OnDisconnected()        { l.disconnected = true }

func TestListeningBindListenArms(t *testing.T) {
	dev := afdtest.NewDevice()
	driver := afdpoll.NewDriver(dev, 1)
	sock := afdtest.NewSocket(afdpoll.BaseHandle(3))
	sink := &listeningEvents{}
	l := endpoint.NewListening(driver, 0, sock, sink)

	if err := l.Bind(&net.TCPAddr{Port: 9443}); err != nil {
		t.Fatalf("Bind: %v", err)
	}
	if l.State() != endpoint.ListenBound {
		t.Fatalf("expected bound, got %v", l.State())
	}
	if err := l.Listen(128); err != nil {
		t.Fatalf("Listen: %v", err)
	}
	if l.State() != endpoint.ListenListening {
		t.Fatalf("expected listening, got %v", l.State())
	}
	if !driver.InFlight() {
		t.Fatal("expected Listen to arm a poll request")
	}
}

func TestListeningAcceptDrainsUntilWouldBlock(t *testing.T) {
	dev := afdtest.NewDevice()
	driver := afdpoll.NewDriver(dev, 1)
	sock := afdtest.NewSocket(afdpoll.BaseHandle(3))
	sink := &listeningEvents{}
	l := endpoint.NewListening(driver, 0, sock, sink)
	_ = l.Bind(&net.TCPAddr{Port: 9443})
	_ = l.Listen(128)

	c1 := afdtest.NewSocket(afdpoll.BaseHandle(10))
	c2 := afdtest.NewSocket(afdpoll.BaseHandle(11))
	sock.AcceptQueue = []*afdtest.Socket{c1, c2}

	accepted := 0
	for {
		_, _, err := l.Accept()
		if err == afdpoll.ErrWouldBlock {
			break
		}
		if err != nil {
			t.Fatalf("Accept: %v", err)
		}
		accepted++
	}
	if accepted != 2 {
		t.Fatalf("expected to drain 2 accepted connections, got %d", accepted)
	}
}

func TestListeningResetIsTerminal(t *testing.T) {
	dev := afdtest.NewDevice()
	driver := afdpoll.NewDriver(dev, 1)
	sock := afdtest.NewSocket(afdpoll.BaseHandle(3))
	sink := &listeningEvents{}
	l := endpoint.NewListening(driver, 0, sock, sink)
	_ = l.Bind(&net.TCPAddr{Port: 9443})
	_ = l.Listen(128)

	residual := l.HandleEvents(afdpoll.Reset, 0)
	if !sink.reset {
		t.Fatal("expected OnConnectionReset to fire")
	}
	if l.State() != endpoint.ListenDisconnected {
		t.Fatalf("expected disconnected after reset, got %v", l.State())
	}
	if residual != 0 {
		t.Fatalf("expected no residual interest, got %v", residual)
	}
}

func TestListeningAcceptReadyInvokesSink(t *testing.T) {
	dev := afdtest.NewDevice()
	driver := afdpoll.NewDriver(dev, 1)
	sock := afdtest.NewSocket(afdpoll.BaseHandle(3))
	sink := &listeningEvents{}
	l := endpoint.NewListening(driver, 0, sock, sink)
	_ = l.Bind(&net.TCPAddr{Port: 9443})
	_ = l.Listen(128)

	l.HandleEvents(afdpoll.AcceptReady, 0)
	if sink.incoming != 1 {
		t.Fatalf("expected OnIncomingConnections to fire once, got %d", sink.incoming)
	}
}
