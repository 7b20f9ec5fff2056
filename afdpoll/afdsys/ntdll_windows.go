//go:build windows
// +build windows

// Author: momentics <momentics@gmail.com>
//
// Lazy-bound ntdll.dll entry points needed to open and drive the AFD
// device. golang.org/x/sys/windows does not export these (they are
// native NT API, not Win32), so we bind them the same way the teacher's
// reactor/iocp_reactor.go binds CreateIoCompletionPort: through the
// standard library's syscall.LazyDLL, which is the idiomatic Go way to
// reach an unexported system DLL entry point.
//
// Grounded in _examples/original_source/shared/afd.h's use of
// NtCreateFile, NtDeviceIoControlFile and RtlNtStatusToDosError.

package afdsys

import (
	"syscall"
	"unsafe"
)

var (
	ntdll = syscall.NewLazyDLL("ntdll.dll")

	procNtCreateFile          = ntdll.NewProc("NtCreateFile")
	procNtDeviceIoControlFile = ntdll.NewProc("NtDeviceIoControlFile")
	procRtlNtStatusToDosError = ntdll.NewProc("RtlNtStatusToDosError")
)

// ioStatusBlock mirrors the kernel IO_STATUS_BLOCK. Its address is used
// as the completion cookie for a pending device I/O and must stay at a
// fixed address until the operation completes.
type ioStatusBlock struct {
	status      int32
	_           int32
	information uintptr
}

func rtlNtStatusToDosError(status int32) syscall.Errno {
	ret, _, _ := procRtlNtStatusToDosError.Call(uintptr(uint32(status)))
	return syscall.Errno(ret)
}

const (
	statusPending   int32 = 0x00000103 // STATUS_PENDING
	statusCancelled int32 = 0xC0000120 // STATUS_CANCELLED

	fileShareRead  = 0x00000001
	fileShareWrite = 0x00000002
	fileOpen       = 0x00000001
	synchronize    = 0x00100000
)

// unicodeString mirrors UNICODE_STRING for the \Device\Afd object name.
type unicodeString struct {
	length        uint16
	maximumLength uint16
	buffer        *uint16
}

// objectAttributes mirrors OBJECT_ATTRIBUTES for NtCreateFile.
type objectAttributes struct {
	length                   uint32
	rootDirectory            syscall.Handle
	objectName               *unicodeString
	attributes               uint32
	securityDescriptor       uintptr
	securityQualityOfService uintptr
}

// openAfdDevice opens \Device\Afd\afdpoll, an arbitrary name in the AFD
// namespace (the device does not care what name is used, only that the
// open request carries no extended attributes, which yields a handle
// with no associated socket endpoint -- just a channel to the driver).
func openAfdDevice() (syscall.Handle, error) {
	nameUTF16, err := syscall.UTF16FromString("\\Device\\Afd\\afdpoll")
	if err != nil {
		return 0, err
	}
	nameLenBytes := uint16((len(nameUTF16) - 1) * 2) // exclude the NUL terminator
	uname := unicodeString{
		length:        nameLenBytes,
		maximumLength: nameLenBytes,
		buffer:        &nameUTF16[0],
	}
	attrs := objectAttributes{
		length:     uint32(unsafe.Sizeof(objectAttributes{})),
		objectName: &uname,
	}

	var handle syscall.Handle
	var iosb ioStatusBlock

	status, _, _ := procNtCreateFile.Call(
		uintptr(unsafe.Pointer(&handle)),
		synchronize,
		uintptr(unsafe.Pointer(&attrs)),
		uintptr(unsafe.Pointer(&iosb)),
		0, 0,
		fileShareRead|fileShareWrite,
		fileOpen,
		0, 0, 0,
	)
	if int32(status) != 0 {
		return 0, rtlNtStatusToDosError(int32(status))
	}
	return handle, nil
}
