//go:build windows
// +build windows

// Author: momentics <momentics@gmail.com>
//
// AfdDevice implements afdpoll.Device against the real \Device\Afd poll
// IOCTL. It is the Windows analogue of the teacher's iocpReactor, but
// speaking the AFD_POLL_INFO wire format instead of a generic overlapped
// read/write, and of the original source's SetupPollForSocketEvents /
// PollForSocketEvents helpers (_examples/original_source/shared/afd.h).

package afdsys

import (
	"syscall"
	"unsafe"

	"github.com/momentics/afdreactor/afdpoll"
)

// ioctlAfdPoll is IOCTL_AFD_POLL, as defined by wepoll's reverse
// engineering of the AFD driver (third_party/wepoll_magic.h in the
// original source tree).
const ioctlAfdPoll = 0x00012024

const maxAfdPollHandles = 64

// afdPollHandleInfo mirrors one AFD_POLL_HANDLE_INFO entry.
type afdPollHandleInfo struct {
	handle syscall.Handle
	events uint32
	status int32
	_      int32 // padding to match the native struct's 8-byte alignment
}

// afdPollInfo mirrors AFD_POLL_INFO for up to maxAfdPollHandles handles.
type afdPollInfo struct {
	timeout         int64
	numberOfHandles uint32
	exclusive       uint32
	handles         [maxAfdPollHandles]afdPollHandleInfo
}

// AfdDevice wraps a handle to \Device\Afd and the IOCP it is bound to.
// Submit issues IOCTL_AFD_POLL; the caller is responsible for pulling the
// resulting completion off the IOCP (see IOCP, in iocp_windows.go) and
// routing it back through afdpoll.Demux.
type AfdDevice struct {
	handle syscall.Handle

	// pending retains the kernel's output buffer for every request still
	// in flight, keyed by the same StatusCookie address Demux uses to
	// route the eventual completion. The buffer passed to
	// NtDeviceIoControlFile must stay at a fixed address until the kernel
	// writes into it, which happens asynchronously and after Submit has
	// already returned on the pending path -- a stack-local variable
	// does not survive that window, so it lives here instead until
	// Resolve claims it.
	pending map[*afdpoll.StatusCookie]*afdPollInfo
}

// OpenAfdDevice opens the AFD device and associates it with iocp so that
// every poll issued through the returned Device completes on iocp.
func OpenAfdDevice(iocp *IOCP) (*AfdDevice, error) {
	h, err := openAfdDevice()
	if err != nil {
		return nil, err
	}
	if _, err := associateWithIOCP(h, iocp.handle, 0); err != nil {
		syscall.CloseHandle(h)
		return nil, err
	}
	return &AfdDevice{handle: h, pending: make(map[*afdpoll.StatusCookie]*afdPollInfo)}, nil
}

// Submit implements afdpoll.Device. entries and out must have the same
// length, no more than maxAfdPollHandles, and cookie's address must
// remain stable until the poll completes.
func (d *AfdDevice) Submit(entries []afdpoll.HandleInterest, out []afdpoll.HandleInterest, cookie *afdpoll.StatusCookie) (pending bool, err error) {
	if len(entries) != len(out) {
		return false, afdpoll.ErrEmptyInterest
	}
	if len(entries) > maxAfdPollHandles {
		return false, &afdpoll.DriverFatalError{Op: "poll", Err: syscall.EINVAL}
	}

	var in afdPollInfo
	in.timeout = int64(1<<63 - 1) // INT64_MAX: the AFD_POLL_INFO-level timeout is unused, cancellation is explicit
	in.exclusive = 0              // non-exclusive: see SPEC_FULL.md open-question resolution
	in.numberOfHandles = uint32(len(entries))
	for i, e := range entries {
		in.handles[i] = afdPollHandleInfo{
			handle: syscall.Handle(e.Handle),
			events: uint32(e.Events),
		}
	}

	outInfo := new(afdPollInfo)
	var iosb ioStatusBlock

	status, _, _ := procNtDeviceIoControlFile.Call(
		uintptr(d.handle),
		0, 0,
		uintptr(unsafe.Pointer(cookie)),
		uintptr(unsafe.Pointer(&iosb)),
		ioctlAfdPoll,
		uintptr(unsafe.Pointer(&in)),
		unsafe.Sizeof(in),
		uintptr(unsafe.Pointer(outInfo)),
		unsafe.Sizeof(*outInfo),
	)

	if int32(status) == statusPending {
		// outInfo must stay alive at this exact address until the real
		// completion lands on the IOCP; Resolve copies out of it once
		// Driver.HandleCompletion observes that completion.
		d.pending[cookie] = outInfo
		return true, nil
	}
	if int32(status) != 0 {
		cookie.Status = int32(status)
		return false, &afdpoll.DriverFatalError{Op: "poll", Status: int32(status), Err: rtlNtStatusToDosError(int32(status))}
	}

	cookie.Status = afdpoll.StatusSuccess
	copyPollOutcome(out, outInfo)
	return false, nil
}

// copyPollOutcome translates up to len(out) entries of a native
// afdPollInfo into the caller-owned HandleInterest slice.
func copyPollOutcome(out []afdpoll.HandleInterest, in *afdPollInfo) {
	for i := range out {
		out[i] = afdpoll.HandleInterest{
			Handle: afdpoll.BaseHandle(in.handles[i].handle),
			Events: afdpoll.Events(in.handles[i].events),
			Status: in.handles[i].status,
		}
	}
}

// Resolve implements afdpoll.Device. It copies the retained output buffer
// for a completed pending request into out and releases it. Driver calls
// this once per completion, before dispatching outcomes to sinks, so a
// real async poll's kernel-written data actually reaches the driver
// instead of the all-zero buffer Arm seeded before Submit was called.
func (d *AfdDevice) Resolve(cookie *afdpoll.StatusCookie, out []afdpoll.HandleInterest) error {
	outInfo, ok := d.pending[cookie]
	if !ok {
		return nil
	}
	delete(d.pending, cookie)
	copyPollOutcome(out, outInfo)
	return nil
}

// Cancel implements afdpoll.Device using CancelIoEx against the single
// status block identified by cookie, leaving any other in-flight I/O on
// the same AFD handle undisturbed. CancelIoEx failing because the I/O
// already completed is not an error here -- the aborted completion (or a
// real completion that raced it) is still on its way through the IOCP.
func (d *AfdDevice) Cancel(cookie *afdpoll.StatusCookie) error {
	cancelIoEx(d.handle, unsafe.Pointer(cookie))
	return nil
}

// Close releases the AFD device handle.
func (d *AfdDevice) Close() error {
	return syscall.CloseHandle(d.handle)
}
