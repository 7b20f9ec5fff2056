//go:build windows
// +build windows

// Author: momentics <momentics@gmail.com>
//
// Package sockopt holds the small per-socket tuning helpers scenario 4
// (send back-pressure) needs: SO_SNDBUF/SO_RCVBUF sizing on top of a raw
// Winsock handle. Grounded in the teacher's transport/tcp/listener.go
// (plain net.Listen-based option surface) generalized to the raw
// syscall.Handle afdpoll.Socket implementations hold instead of a
// net.Conn.

package sockopt

import "syscall"

// SetSendBuffer sets SO_SNDBUF on h. A small buffer makes Writable
// back-pressure (scenario 4) easy to trigger deterministically in tests.
func SetSendBuffer(h syscall.Handle, bytes int) error {
	return syscall.SetsockoptInt(h, syscall.SOL_SOCKET, syscall.SO_SNDBUF, bytes)
}

// SetRecvBuffer sets SO_RCVBUF on h.
func SetRecvBuffer(h syscall.Handle, bytes int) error {
	return syscall.SetsockoptInt(h, syscall.SOL_SOCKET, syscall.SO_RCVBUF, bytes)
}

// SendBuffer reads the socket's current SO_SNDBUF size.
func SendBuffer(h syscall.Handle) (int, error) {
	return syscall.GetsockoptInt(h, syscall.SOL_SOCKET, syscall.SO_SNDBUF)
}

// RecvBuffer reads the socket's current SO_RCVBUF size.
func RecvBuffer(h syscall.Handle) (int, error) {
	return syscall.GetsockoptInt(h, syscall.SOL_SOCKET, syscall.SO_RCVBUF)
}
