// Author: momentics <momentics@gmail.com>

package afdtest

import (
	"net"

	"github.com/momentics/afdreactor/afdpoll"
)

// Socket is a fake afdpoll.Socket driven entirely through its exported
// queues and flags rather than a real kernel handle. Tests push bytes
// into RecvQueue for Recv to return and inspect Sent for what Send was
// asked to write.
type Socket struct {
	Handle afdpoll.BaseHandle

	ConnectErr error
	BindErr    error
	ListenErr  error

	AcceptQueue []*Socket
	AcceptAddr  net.Addr
	AcceptErr   error

	Sent [][]byte
	SendErr error

	RecvQueue [][]byte
	RecvErr   error

	ShutdownCalls []afdpoll.ShutdownHow
	Closed        bool
}

// NewSocket constructs a fake Socket identified by handle.
func NewSocket(handle afdpoll.BaseHandle) *Socket {
	return &Socket{Handle: handle}
}

func (s *Socket) BaseHandle() afdpoll.BaseHandle       { return s.Handle }
func (s *Socket) SetNonblocking(nonblocking bool) error { return nil }

func (s *Socket) Connect(addr net.Addr) error { return s.ConnectErr }
func (s *Socket) Bind(addr net.Addr) error    { return s.BindErr }
func (s *Socket) Listen(backlog int) error    { return s.ListenErr }

func (s *Socket) Accept() (afdpoll.Socket, net.Addr, error) {
	if s.AcceptErr != nil {
		return nil, nil, s.AcceptErr
	}
	if len(s.AcceptQueue) == 0 {
		return nil, nil, afdpoll.ErrWouldBlock
	}
	next := s.AcceptQueue[0]
	s.AcceptQueue = s.AcceptQueue[1:]
	return next, s.AcceptAddr, nil
}

func (s *Socket) Send(b []byte) (int, error) {
	if s.SendErr != nil {
		return 0, s.SendErr
	}
	s.Sent = append(s.Sent, append([]byte(nil), b...))
	return len(b), nil
}

func (s *Socket) Recv(b []byte) (int, error) {
	if s.RecvErr != nil {
		return 0, s.RecvErr
	}
	if len(s.RecvQueue) == 0 {
		return 0, afdpoll.ErrWouldBlock
	}
	next := s.RecvQueue[0]
	s.RecvQueue = s.RecvQueue[1:]
	n := copy(b, next)
	return n, nil
}

func (s *Socket) Shutdown(how afdpoll.ShutdownHow) error {
	s.ShutdownCalls = append(s.ShutdownCalls, how)
	return nil
}

func (s *Socket) Close() error {
	s.Closed = true
	return nil
}
