// Author: momentics <momentics@gmail.com>
//
// Package afdtest supplies fakes for the afdpoll.Device, CompletionQueue,
// and Socket collaborators so the driver, demultiplexer, and endpoint
// state machines can be exercised on any platform, with no real kernel
// underneath. Grounded in the teacher's fake/fakereactor.go and
// tests/fake/poller.go, which take the same approach for the reactor and
// poller abstractions: a minimal struct implementing the production
// interface, driven entirely by explicit test calls rather than a mock
// framework.

package afdtest

import "github.com/momentics/afdreactor/afdpoll"

// Device is a fake afdpoll.Device. Submit reports the request as pending
// unless SyncOutcome is set, in which case it completes synchronously with
// that outcome; tests complete a pending request by calling Complete, which
// populates the caller's out buffer and then invokes onComplete (normally
// Driver.HandleCompletion) with the given status.
type Device struct {
	Submitted   []afdpoll.HandleInterest
	out         []afdpoll.HandleInterest
	cookie      *afdpoll.StatusCookie
	canceled    bool
	SubmitErr   error
	CancelErr   error
	SyncOutcome []afdpoll.HandleInterest // if non-nil, Submit completes synchronously with this outcome
}

// NewDevice constructs a fake Device with no pending request.
func NewDevice() *Device { return &Device{} }

// Submit implements afdpoll.Device.
func (d *Device) Submit(entries, out []afdpoll.HandleInterest, cookie *afdpoll.StatusCookie) (bool, error) {
	if d.SubmitErr != nil {
		return false, d.SubmitErr
	}
	d.Submitted = append([]afdpoll.HandleInterest(nil), entries...)
	d.out = out
	d.cookie = cookie
	d.canceled = false

	if d.SyncOutcome != nil {
		copy(out, d.SyncOutcome)
		cookie.Status = afdpoll.StatusSuccess
		return false, nil
	}
	return true, nil
}

// Cancel implements afdpoll.Device.
func (d *Device) Cancel(cookie *afdpoll.StatusCookie) error {
	if d.CancelErr != nil {
		return d.CancelErr
	}
	d.canceled = true
	return nil
}

// Canceled reports whether the most recent in-flight request was
// canceled.
func (d *Device) Canceled() bool { return d.canceled }

// Resolve implements afdpoll.Device. Complete already writes outcomes
// directly into the same backing array Driver holds as its out slice, so
// there is nothing left for Resolve to copy; it exists only to satisfy
// the interface the same way the real device's asynchronous path needs
// it.
func (d *Device) Resolve(cookie *afdpoll.StatusCookie, out []afdpoll.HandleInterest) error {
	return nil
}

// Complete fills the pending request's out buffer with outcomes (matched
// positionally against Submitted) and invokes onComplete with status. It
// panics if no request is pending, which indicates a test bug.
func (d *Device) Complete(onComplete func(status int32), status int32, outcomes []afdpoll.HandleInterest) {
	if d.out == nil {
		panic("afdtest: Complete called with no request pending")
	}
	copy(d.out, outcomes)
	d.cookie.Status = status
	d.out = nil
	onComplete(status)
}
