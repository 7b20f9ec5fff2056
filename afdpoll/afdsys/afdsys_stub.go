//go:build !windows
// +build !windows

// Author: momentics <momentics@gmail.com>
//
// Stub implementation for platforms with no AFD device or IOCP. The AFD
// device is a Windows-only kernel facility (see SPEC_FULL.md); there is
// no portable fallback, matching the teacher's own reactor/reactor_stub.go
// pattern for unsupported builds.

package afdsys

import (
	"github.com/momentics/afdreactor/afdpoll"
)

// IOCP is an opaque placeholder on non-Windows builds.
type IOCP struct{}

// NewIOCP always fails on non-Windows builds.
func NewIOCP() (*IOCP, error) { return nil, afdpoll.ErrUnsupportedPlatform }

// Close is a no-op on non-Windows builds.
func (q *IOCP) Close() error { return nil }

// AfdDevice is an opaque placeholder on non-Windows builds.
type AfdDevice struct{}

// OpenAfdDevice always fails on non-Windows builds.
func OpenAfdDevice(iocp *IOCP) (*AfdDevice, error) { return nil, afdpoll.ErrUnsupportedPlatform }

// Submit never runs on non-Windows builds.
func (d *AfdDevice) Submit(entries, out []afdpoll.HandleInterest, cookie *afdpoll.StatusCookie) (bool, error) {
	return false, afdpoll.ErrUnsupportedPlatform
}

// Cancel never runs on non-Windows builds.
func (d *AfdDevice) Cancel(cookie *afdpoll.StatusCookie) error { return afdpoll.ErrUnsupportedPlatform }

// Resolve never runs on non-Windows builds.
func (d *AfdDevice) Resolve(cookie *afdpoll.StatusCookie, out []afdpoll.HandleInterest) error {
	return afdpoll.ErrUnsupportedPlatform
}

// Close is a no-op on non-Windows builds.
func (d *AfdDevice) Close() error { return nil }

// NewTCPSocket always fails on non-Windows builds.
func NewTCPSocket(v6 bool) (afdpoll.Socket, error) { return nil, afdpoll.ErrUnsupportedPlatform }

// NewUDPSocket always fails on non-Windows builds.
func NewUDPSocket(v6 bool) (afdpoll.Socket, error) { return nil, afdpoll.ErrUnsupportedPlatform }

// TuneBuffers always fails on non-Windows builds.
func TuneBuffers(sock afdpoll.Socket, sndBuf, rcvBuf int) error { return afdpoll.ErrUnsupportedPlatform }
