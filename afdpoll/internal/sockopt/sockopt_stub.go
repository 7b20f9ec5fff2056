//go:build !windows
// +build !windows

// Author: momentics <momentics@gmail.com>

package sockopt

import "github.com/momentics/afdreactor/afdpoll"

// SetSendBuffer always fails on non-Windows builds.
func SetSendBuffer(h uintptr, bytes int) error { return afdpoll.ErrUnsupportedPlatform }

// SetRecvBuffer always fails on non-Windows builds.
func SetRecvBuffer(h uintptr, bytes int) error { return afdpoll.ErrUnsupportedPlatform }

// SendBuffer always fails on non-Windows builds.
func SendBuffer(h uintptr) (int, error) { return 0, afdpoll.ErrUnsupportedPlatform }

// RecvBuffer always fails on non-Windows builds.
func RecvBuffer(h uintptr) (int, error) { return 0, afdpoll.ErrUnsupportedPlatform }
