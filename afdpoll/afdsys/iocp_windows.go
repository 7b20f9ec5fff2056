//go:build windows
// +build windows

// Author: momentics <momentics@gmail.com>
//
// IOCP implements afdpoll.CompletionQueue over a real Windows I/O
// completion port, using golang.org/x/sys/windows for the Win32-level
// calls (CreateIoCompletionPort, GetQueuedCompletionStatus(Ex),
// CancelIoEx) -- the same package the teacher already depends on and
// uses for IOCP in internal/transport/transport_windows.go.

package afdsys

import (
	"syscall"
	"unsafe"

	"golang.org/x/sys/windows"

	"github.com/momentics/afdreactor/afdpoll"
)

// IOCP wraps a Windows completion port handle.
type IOCP struct {
	handle windows.Handle
}

// NewIOCP creates a fresh completion port not yet bound to any handle.
func NewIOCP() (*IOCP, error) {
	h, err := windows.CreateIoCompletionPort(windows.InvalidHandle, 0, 0, 0)
	if err != nil {
		return nil, err
	}
	return &IOCP{handle: h}, nil
}

// associateWithIOCP binds h to iocp with the given completion key. It is
// used by AfdDevice to bind the AFD handle itself.
func associateWithIOCP(h syscall.Handle, iocp windows.Handle, key uintptr) (windows.Handle, error) {
	return windows.CreateIoCompletionPort(windows.Handle(h), iocp, key, 0)
}

// Wait implements afdpoll.CompletionQueue.
func (q *IOCP) Wait(timeoutMs int) (afdpoll.CompletionRecord, error) {
	var bytes uint32
	var key uintptr
	var overlapped *windows.Overlapped

	timeout := uint32(windows.INFINITE)
	if timeoutMs >= 0 {
		timeout = uint32(timeoutMs)
	}

	err := windows.GetQueuedCompletionStatus(q.handle, &bytes, &key, &overlapped, timeout)
	if err != nil {
		if err == windows.WAIT_TIMEOUT {
			return afdpoll.CompletionRecord{}, afdpoll.ErrNoCompletion
		}
		return afdpoll.CompletionRecord{}, err
	}

	cookie := (*afdpoll.StatusCookie)(unsafe.Pointer(overlapped))
	return afdpoll.CompletionRecord{Bytes: bytes, Tag: key, Cookie: cookie}, nil
}

// WaitBatch implements afdpoll.CompletionQueue using
// GetQueuedCompletionStatusEx, the same batched wait the original
// source's GetCompletionKeysAs helper demonstrates.
func (q *IOCP) WaitBatch(max int, timeoutMs int) ([]afdpoll.CompletionRecord, error) {
	if max <= 0 {
		max = 1
	}
	entries := make([]windows.OverlappedEntry, max)

	timeout := uint32(windows.INFINITE)
	if timeoutMs >= 0 {
		timeout = uint32(timeoutMs)
	}

	var n uint32
	err := windows.GetQueuedCompletionStatusEx(q.handle, entries, &n, timeout, false)
	if err != nil {
		if err == windows.WAIT_TIMEOUT {
			return nil, afdpoll.ErrNoCompletion
		}
		return nil, err
	}

	recs := make([]afdpoll.CompletionRecord, n)
	for i := uint32(0); i < n; i++ {
		e := entries[i]
		cookie := (*afdpoll.StatusCookie)(unsafe.Pointer(e.Overlapped))
		recs[i] = afdpoll.CompletionRecord{Bytes: e.BytesTransferred, Tag: uintptr(e.CompletionKey), Cookie: cookie}
	}
	return recs, nil
}

// Close releases the completion port handle.
func (q *IOCP) Close() error {
	return windows.CloseHandle(q.handle)
}

// cancelIoEx aborts the I/O identified by statusBlock on h.
func cancelIoEx(h syscall.Handle, statusBlock unsafe.Pointer) bool {
	err := windows.CancelIoEx(windows.Handle(h), (*windows.Overlapped)(statusBlock))
	return err == nil
}
