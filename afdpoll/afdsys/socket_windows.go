//go:build windows
// +build windows

// Author: momentics <momentics@gmail.com>
//
// socket implements afdpoll.Socket over a raw Winsock handle. Grounded in
// the teacher's transport/tcp/listener.go (plain net package use) and
// internal/transport/transport_windows_accept.go (lazy-bound Mswsock
// entry points for Windows-only socket extensions), generalized here to
// resolve the base handle and toggle non-blocking mode the way
// _examples/original_source/shared/afd.h's GetBaseSocket expects.

package afdsys

import (
	"errors"
	"net"
	"syscall"
	"unsafe"

	"golang.org/x/sys/windows"

	"github.com/momentics/afdreactor/afdpoll"
	"github.com/momentics/afdreactor/afdpoll/internal/sockopt"
)

var (
	modws2_32       = windows.NewLazySystemDLL("Ws2_32.dll")
	procIoctlsocket = modws2_32.NewProc("ioctlsocket")
)

const (
	fionbio      = 0x8004667e
	sioBaseHandle = 0x48000022
)

// socket is the default afdpoll.Socket: a raw TCP/UDP handle plus a
// cached base handle (queried once via SIO_BASE_HANDLE, since layered
// LSPs are expected to be stable for a handle's lifetime).
type socket struct {
	h    syscall.Handle
	base afdpoll.BaseHandle
	family int
	sotype int
}

// NewTCPSocket creates a non-blocking, unconnected TCP socket.
func NewTCPSocket(v6 bool) (afdpoll.Socket, error) {
	return newSocket(syscall.SOCK_STREAM, v6)
}

// NewUDPSocket creates a non-blocking, unbound UDP socket.
func NewUDPSocket(v6 bool) (afdpoll.Socket, error) {
	return newSocket(syscall.SOCK_DGRAM, v6)
}

func newSocket(sotype int, v6 bool) (afdpoll.Socket, error) {
	family := syscall.AF_INET
	if v6 {
		family = syscall.AF_INET6
	}
	proto := syscall.IPPROTO_TCP
	if sotype == syscall.SOCK_DGRAM {
		proto = syscall.IPPROTO_UDP
	}
	h, err := syscall.Socket(family, sotype, proto)
	if err != nil {
		return nil, err
	}
	s := &socket{h: h, family: family, sotype: sotype}
	if err := s.SetNonblocking(true); err != nil {
		syscall.Closesocket(h)
		return nil, err
	}
	if err := s.resolveBaseHandle(); err != nil {
		syscall.Closesocket(h)
		return nil, err
	}
	return s, nil
}

// wrapAccepted builds a socket around an already-accepted handle, as
// returned from Accept.
func wrapAccepted(h syscall.Handle) (afdpoll.Socket, error) {
	s := &socket{h: h}
	if err := s.SetNonblocking(true); err != nil {
		syscall.Closesocket(h)
		return nil, err
	}
	if err := s.resolveBaseHandle(); err != nil {
		syscall.Closesocket(h)
		return nil, err
	}
	return s, nil
}

func (s *socket) resolveBaseHandle() error {
	var base syscall.Handle
	var bytesReturned uint32
	err := windows.WSAIoctl(
		windows.Handle(s.h),
		sioBaseHandle,
		nil, 0,
		(*byte)(unsafe.Pointer(&base)), uint32(unsafe.Sizeof(base)),
		&bytesReturned,
		nil, 0,
	)
	if err != nil {
		// Not every socket sits beneath an LSP; fall back to the handle
		// itself when the driver reports it has no base to resolve.
		s.base = afdpoll.BaseHandle(s.h)
		return nil
	}
	s.base = afdpoll.BaseHandle(base)
	return nil
}

func (s *socket) BaseHandle() afdpoll.BaseHandle { return s.base }

func (s *socket) SetNonblocking(nonblocking bool) error {
	var arg uint32
	if nonblocking {
		arg = 1
	}
	ret, _, _ := procIoctlsocket.Call(uintptr(s.h), fionbio, uintptr(unsafe.Pointer(&arg)))
	if ret != 0 {
		return syscall.GetLastError()
	}
	return nil
}

func (s *socket) Connect(addr net.Addr) error {
	sa, err := addrToSockaddr(addr)
	if err != nil {
		return err
	}
	err = syscall.Connect(s.h, sa)
	if err == nil || err == syscall.EWOULDBLOCK || err == syscall.Errno(syscall.EINPROGRESS) {
		return nil
	}
	return err
}

func (s *socket) Bind(addr net.Addr) error {
	sa, err := addrToSockaddr(addr)
	if err != nil {
		return err
	}
	return syscall.Bind(s.h, sa)
}

func (s *socket) Listen(backlog int) error {
	return syscall.Listen(s.h, backlog)
}

func (s *socket) Accept() (afdpoll.Socket, net.Addr, error) {
	nfd, sa, err := syscall.Accept(s.h)
	if err != nil {
		if err == syscall.EWOULDBLOCK {
			return nil, nil, afdpoll.ErrWouldBlock
		}
		return nil, nil, err
	}
	accepted, err := wrapAccepted(nfd)
	if err != nil {
		return nil, nil, err
	}
	return accepted, sockaddrToAddr(sa), nil
}

func (s *socket) Send(b []byte) (int, error) {
	n, err := syscall.Write(s.h, b)
	if err != nil {
		return 0, translateTransferError(err)
	}
	return n, nil
}

func (s *socket) Recv(b []byte) (int, error) {
	n, err := syscall.Read(s.h, b)
	if err != nil {
		return 0, translateTransferError(err)
	}
	return n, nil
}

// translateTransferError maps the handful of syscall errors read/write
// recover from locally into afdpoll's portable sentinels, per spec §7.
func translateTransferError(err error) error {
	switch err {
	case syscall.EWOULDBLOCK:
		return afdpoll.ErrWouldBlock
	case syscall.WSAECONNRESET, syscall.WSAECONNABORTED, syscall.WSAENETRESET:
		return afdpoll.ErrConnectionError
	default:
		return err
	}
}

func (s *socket) Shutdown(how afdpoll.ShutdownHow) error {
	var w int
	switch how {
	case afdpoll.ShutdownReceive:
		w = syscall.SHUT_RD
	case afdpoll.ShutdownSend:
		w = syscall.SHUT_WR
	default:
		w = syscall.SHUT_RDWR
	}
	return syscall.Shutdown(s.h, w)
}

func (s *socket) Close() error {
	return syscall.Closesocket(s.h)
}

// TuneBuffers resizes sock's send/receive buffers, used by scenario 4 to
// make Writable back-pressure reproducible with a small, deterministic
// payload rather than depending on the OS default buffer size. sock must
// be a socket returned by NewTCPSocket/NewUDPSocket/Accept.
func TuneBuffers(sock afdpoll.Socket, sndBuf, rcvBuf int) error {
	s, ok := sock.(*socket)
	if !ok {
		return errors.New("afdsys: TuneBuffers requires a socket created by this package")
	}
	if sndBuf > 0 {
		if err := sockopt.SetSendBuffer(s.h, sndBuf); err != nil {
			return err
		}
	}
	if rcvBuf > 0 {
		if err := sockopt.SetRecvBuffer(s.h, rcvBuf); err != nil {
			return err
		}
	}
	return nil
}

func addrToSockaddr(addr net.Addr) (syscall.Sockaddr, error) {
	switch a := addr.(type) {
	case *net.TCPAddr:
		if ip4 := a.IP.To4(); ip4 != nil {
			var sa syscall.SockaddrInet4
			copy(sa.Addr[:], ip4)
			sa.Port = a.Port
			return &sa, nil
		}
		var sa syscall.SockaddrInet6
		copy(sa.Addr[:], a.IP.To16())
		sa.Port = a.Port
		return &sa, nil
	case *net.UDPAddr:
		if ip4 := a.IP.To4(); ip4 != nil {
			var sa syscall.SockaddrInet4
			copy(sa.Addr[:], ip4)
			sa.Port = a.Port
			return &sa, nil
		}
		var sa syscall.SockaddrInet6
		copy(sa.Addr[:], a.IP.To16())
		sa.Port = a.Port
		return &sa, nil
	default:
		return nil, errors.New("afdsys: unsupported address type")
	}
}

func sockaddrToAddr(sa syscall.Sockaddr) net.Addr {
	switch s := sa.(type) {
	case *syscall.SockaddrInet4:
		return &net.TCPAddr{IP: append([]byte{}, s.Addr[:]...), Port: s.Port}
	case *syscall.SockaddrInet6:
		return &net.TCPAddr{IP: append([]byte{}, s.Addr[:]...), Port: s.Port}
	default:
		return nil
	}
}
