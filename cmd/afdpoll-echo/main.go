//go:build windows
// +build windows

// Author: momentics <momentics@gmail.com>
//
// afdpoll-echo is a CLI collaborator exercising end-to-end scenario 2
// (connect, accept, exchange, close) against a real AFD-backed reactor.
// Console output indicates activity for demonstration and debugging, in
// the same ad hoc fmt.Fprintf(os.Stderr, ...) style as the teacher's
// examples/reactor_echo/main.go.

package main

import (
	"flag"
	"fmt"
	"net"
	"os"

	"github.com/momentics/afdreactor/afdpoll"
	"github.com/momentics/afdreactor/afdpoll/afdsys"
	"github.com/momentics/afdreactor/afdpoll/endpoint"
	"github.com/momentics/afdreactor/afdpoll/loop"
	"github.com/momentics/afdreactor/afdpoll/metrics"
)

const (
	listenerSlot  = 0
	firstConnSlot = 1
	maxConns      = 63
)

func main() {
	addr := flag.String("addr", ":9443", "address to listen on")
	batch := flag.Int("batch", 8, "max completions drained per poll_batch call")
	sndbuf := flag.Int("sndbuf", 0, "SO_SNDBUF to force on accepted sockets, 0 leaves the OS default (set small to reproduce send back-pressure)")
	flag.Parse()

	if err := run(*addr, *batch, *sndbuf); err != nil {
		fmt.Fprintf(os.Stderr, "[afdpoll-echo] fatal: %v\n", err)
		os.Exit(1)
	}
}

func run(addr string, batch int, sndbuf int) error {
	iocp, err := afdsys.NewIOCP()
	if err != nil {
		return fmt.Errorf("iocp: %w", err)
	}
	defer iocp.Close()

	device, err := afdsys.OpenAfdDevice(iocp)
	if err != nil {
		return fmt.Errorf("afd device: %w", err)
	}
	defer device.Close()

	reg := metrics.New()

	driver := afdpoll.NewDriver(device, maxConns+1,
		afdpoll.WithMetrics(reg),
		afdpoll.WithOnFatal(func(err error) {
			fmt.Fprintf(os.Stderr, "[afdpoll-echo] driver fatal: %v\n", err)
		}),
	)

	demux := afdpoll.NewDemux(iocp)
	demux.Register(driver)
	defer demux.Unregister(driver)

	srv := newServer(driver, reg, sndbuf)

	lnSock, err := afdsys.NewTCPSocket(false)
	if err != nil {
		return fmt.Errorf("socket: %w", err)
	}
	tcpAddr, err := net.ResolveTCPAddr("tcp4", addr)
	if err != nil {
		return fmt.Errorf("resolve %q: %w", addr, err)
	}

	ln := endpoint.NewListening(driver, listenerSlot, lnSock, srv)
	if err := ln.Bind(tcpAddr); err != nil {
		return fmt.Errorf("bind: %w", err)
	}
	if err := ln.Listen(128); err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	srv.listener = ln
	fmt.Fprintf(os.Stderr, "[afdpoll-echo] listening on %s\n", addr)

	l := loop.New(demux, loop.WithBatchSize(batch), loop.WithTimeout(-1))
	return l.Run(func() bool { return false })
}

// server owns the listening endpoint plus the pool of connection slots,
// and implements afdpoll.ListeningSink by accepting until would-block
// and wrapping each accepted socket in its own Stream endpoint (spec
// §4.6's drain discipline, and scenario 2's accept/exchange/close path).
type server struct {
	driver   *afdpoll.Driver
	metrics  *metrics.Registry
	listener *endpoint.Listening
	conns    map[int]*conn
	freeSlot []int
	sndbuf   int
}

func newServer(driver *afdpoll.Driver, reg *metrics.Registry, sndbuf int) *server {
	free := make([]int, 0, maxConns)
	for i := maxConns; i >= firstConnSlot; i-- {
		free = append(free, i)
	}
	return &server{driver: driver, metrics: reg, conns: make(map[int]*conn), freeSlot: free, sndbuf: sndbuf}
}

func (s *server) OnIncomingConnections() {
	for {
		sock, addr, err := s.listener.Accept()
		if err == afdpoll.ErrWouldBlock {
			return
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "[afdpoll-echo] accept error: %v\n", err)
			return
		}
		s.spawn(sock, addr)
	}
}

func (s *server) OnConnectionReset() {
	fmt.Fprintf(os.Stderr, "[afdpoll-echo] listener reset\n")
}

func (s *server) OnDisconnected() {
	fmt.Fprintf(os.Stderr, "[afdpoll-echo] listener closed\n")
}

func (s *server) spawn(sock afdpoll.Socket, addr net.Addr) {
	if len(s.freeSlot) == 0 {
		fmt.Fprintf(os.Stderr, "[afdpoll-echo] connection slots exhausted, dropping %s\n", addr)
		sock.Close()
		return
	}
	slot := s.freeSlot[len(s.freeSlot)-1]
	s.freeSlot = s.freeSlot[:len(s.freeSlot)-1]

	if s.sndbuf > 0 {
		if err := afdsys.TuneBuffers(sock, s.sndbuf, 0); err != nil {
			fmt.Fprintf(os.Stderr, "[afdpoll-echo] tune sndbuf for %s: %v\n", addr, err)
		}
	}

	c := &conn{server: s, slot: slot, addr: addr}
	c.stream = endpoint.NewStream(s.driver, slot, sock, c)
	s.conns[slot] = c
	if err := c.stream.Accepted(); err != nil {
		fmt.Fprintf(os.Stderr, "[afdpoll-echo] accepted() failed for %s: %v\n", addr, err)
		sock.Close()
		delete(s.conns, slot)
		s.freeSlot = append(s.freeSlot, slot)
		return
	}
	s.metrics.Inc(metrics.EndpointsConnected, 1)
	fmt.Fprintf(os.Stderr, "[afdpoll-echo] accepted %s on slot %d\n", addr, slot)
}

func (s *server) release(slot int) {
	delete(s.conns, slot)
	s.freeSlot = append(s.freeSlot, slot)
	s.metrics.Inc(metrics.EndpointsClosed, 1)
}

// conn implements afdpoll.StreamSink for one accepted connection,
// echoing every byte it reads straight back to the peer.
type conn struct {
	server *server
	slot   int
	addr   net.Addr
	stream *endpoint.Stream
	buf    [4096]byte
}

func (c *conn) OnConnected() {
	fmt.Fprintf(os.Stderr, "[afdpoll-echo] slot %d ready for %s\n", c.slot, c.addr)
	// Connect/Accepted deliberately leave Readable out of the initial
	// interest set (spec §4.5); an explicit first Read starts the
	// read-arm cycle the same way stream_test.go's tests do right after
	// the connected transition.
	c.OnReadable()
}

func (c *conn) OnConnectionFailed(err error) {
	fmt.Fprintf(os.Stderr, "[afdpoll-echo] slot %d connect failed: %v\n", c.slot, err)
	c.teardown()
}

func (c *conn) OnReadable() {
	for {
		n, err := c.stream.Read(c.buf[:])
		if err != nil {
			fmt.Fprintf(os.Stderr, "[afdpoll-echo] slot %d read error: %v\n", c.slot, err)
			c.teardown()
			return
		}
		if n == 0 {
			return
		}
		fmt.Fprintf(os.Stderr, "[afdpoll-echo] slot %d received %d bytes\n", c.slot, n)
		if _, err := c.stream.Write(c.buf[:n]); err != nil {
			fmt.Fprintf(os.Stderr, "[afdpoll-echo] slot %d write error: %v\n", c.slot, err)
			c.teardown()
			return
		}
	}
}

func (c *conn) OnReadableOOB() {}

func (c *conn) OnWritable() {}

func (c *conn) OnClientClose() {
	fmt.Fprintf(os.Stderr, "[afdpoll-echo] slot %d peer closed\n", c.slot)
	_ = c.stream.Shutdown(afdpoll.ShutdownSend)
}

func (c *conn) OnConnectionReset() {
	fmt.Fprintf(os.Stderr, "[afdpoll-echo] slot %d reset\n", c.slot)
	c.teardown()
}

func (c *conn) OnDisconnected() {
	fmt.Fprintf(os.Stderr, "[afdpoll-echo] slot %d disconnected\n", c.slot)
	c.server.release(c.slot)
}

func (c *conn) teardown() {
	_ = c.stream.Close()
}
