// Author: momentics <momentics@gmail.com>
//
// Interfaces for the three external collaborators named in the design: the
// host poll device, the completion queue, and the socket syscall surface.
// afdpoll itself is platform neutral; afdpoll/afdsys supplies the concrete
// Windows implementations, and afdpoll/afdtest supplies fakes for tests
// that run on any platform.

package afdpoll

import "net"

// BaseHandle is the underlying kernel socket object beneath any layered
// filter handles installed by LSPs or socket extensions. All association
// with the poll device and the completion queue goes through this value,
// never through a layered handle.
type BaseHandle uintptr

// HandleInterest is one entry of the poll device's input/output descriptor:
// a base socket handle, the interest (input) or outcome (output) bitmask,
// and the per-handle status the device reports.
type HandleInterest struct {
	Handle BaseHandle
	Events Events
	Status int32
}

// StatusCookie is the completion identity: its address is compared against
// incoming completion records to resolve which driver (and therefore which
// in-flight request) a completion belongs to. Once arm() issues a request
// that returns pending, the memory behind a StatusCookie must not move or
// be reused until the matching completion is consumed.
type StatusCookie struct {
	// Status carries the raw device status translated by the caller once a
	// completion arrives: 0 (success), a "pending" sentinel, "aborted", or
	// a fatal NTSTATUS-derived code.
	Status int32
}

// Device is the host poll device collaborator (spec §6a): it accepts one
// descriptor naming a set of (handle, interest) entries and, on
// completion, returns outcome entries through the same buffers.
type Device interface {
	// Submit issues one poll request covering entries, to be satisfied
	// when any handle's requested condition becomes true. out must be the
	// same length as entries and is filled in-place when the request
	// completes (synchronously if pending is false, or by the time Resolve
	// returns for the matching completion if pending is true). cookie
	// identifies the request for later cancellation and for matching
	// against completion records.
	Submit(entries []HandleInterest, out []HandleInterest, cookie *StatusCookie) (pending bool, err error)

	// Cancel aborts the in-flight request identified by cookie. The
	// request still completes, with Status set to an aborted sentinel.
	Cancel(cookie *StatusCookie) error

	// Resolve is called exactly once per completion, after the matching
	// completion record has been observed on the completion queue and
	// before the driver dispatches outcomes to sinks. For a request that
	// completed synchronously (Submit returned pending == false), out is
	// already populated and Resolve is a no-op. For a request that
	// completed asynchronously, Resolve copies whatever the device
	// retained for cookie into out and releases that state. A cookie with
	// no retained state (the synchronous case, or a cookie Resolve has
	// already claimed) is not an error.
	Resolve(cookie *StatusCookie, out []HandleInterest) error
}

// CompletionRecord is one record pulled from a CompletionQueue.
type CompletionRecord struct {
	Bytes  uint32
	Tag    uintptr
	Cookie *StatusCookie
}

// CompletionQueue is the host completion-port collaborator (spec §6b).
type CompletionQueue interface {
	// Wait blocks for a single completion, or returns ErrNoCompletion on
	// timeout. timeoutMs < 0 blocks indefinitely.
	Wait(timeoutMs int) (CompletionRecord, error)

	// WaitBatch blocks for up to max completions in one kernel call,
	// returning as many as arrived before timeoutMs elapsed, or
	// ErrNoCompletion if none arrived.
	WaitBatch(max int, timeoutMs int) ([]CompletionRecord, error)
}

// ShutdownHow selects which half of a connection to close locally.
type ShutdownHow int

const (
	ShutdownReceive ShutdownHow = iota
	ShutdownSend
	ShutdownBoth
)

// Socket is the non-blocking socket syscall surface (spec §6c). All
// implementations must expose the base kernel handle beneath any filter
// layer, since that is the handle the poll device and completion queue
// operate on.
type Socket interface {
	BaseHandle() BaseHandle
	SetNonblocking(nonblocking bool) error
	Connect(addr net.Addr) error
	Bind(addr net.Addr) error
	Listen(backlog int) error
	Accept() (Socket, net.Addr, error)
	Send(b []byte) (int, error)
	Recv(b []byte) (int, error)
	Shutdown(how ShutdownHow) error
	Close() error
}

// StreamSink is the polymorphic callback capability set for a stream
// endpoint (spec §9 "Dynamic dispatch").
type StreamSink interface {
	OnConnected()
	OnConnectionFailed(err error)
	OnReadable()
	OnReadableOOB()
	OnWritable()
	OnClientClose()
	OnConnectionReset()
	OnDisconnected()
}

// ListeningSink is the callback capability set for a listening endpoint.
type ListeningSink interface {
	OnIncomingConnections()
	OnConnectionReset()
	OnDisconnected()
}

// DatagramSink is the callback capability set for a datagram endpoint.
type DatagramSink interface {
	OnReadable()
	OnWritable()
	OnDisconnected()
}

// EventSink is the driver-facing shape every concrete endpoint (stream,
// listening, datagram) adapts itself to. HandleEvents is invoked once per
// completion with the union of outcome bits observed for the sink's slot,
// and returns the residual interest mask the driver should re-arm.
type EventSink interface {
	HandleEvents(outcome Events, status int32) Events
}
