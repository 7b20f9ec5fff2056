package afdpoll_test

import (
	"errors"
	"testing"

	"github.com/momentics/afdreactor/afdpoll"
	"github.com/momentics/afdreactor/afdpoll/afdtest"
)

type recordingSink struct {
	events   []afdpoll.Events
	residual afdpoll.Events
}

func (s *recordingSink) HandleEvents(outcome afdpoll.Events, status int32) afdpoll.Events {
	s.events = append(s.events, outcome)
	return s.residual
}

func TestDriverArmPendingThenComplete(t *testing.T) {
	dev := afdtest.NewDevice()
	d := afdpoll.NewDriver(dev, 4)

	// residual 0: the sink is no longer interested in anything once this
	// completion is dispatched, so the driver has nothing left to re-arm
	// and goes idle, the same way Stream does after a terminal transition.
	sink := &recordingSink{residual: 0}
	if err := d.Associate(0, afdpoll.BaseHandle(1), sink); err != nil {
		t.Fatalf("Associate: %v", err)
	}

	completedSync, err := d.Arm(0, afdpoll.Writable|afdpoll.Reset)
	if err != nil {
		t.Fatalf("Arm: %v", err)
	}
	if completedSync {
		t.Fatal("expected Arm to report pending, not synchronous completion")
	}
	if !d.InFlight() {
		t.Fatal("expected driver to be in flight after a pending Submit")
	}

	dev.Complete(d.HandleCompletion, afdpoll.StatusSuccess, []afdpoll.HandleInterest{
		{Handle: afdpoll.BaseHandle(1), Events: afdpoll.Writable, Status: 0},
	})

	if d.InFlight() {
		t.Fatal("expected driver to be idle after HandleCompletion leaves no residual interest")
	}
	if len(sink.events) != 1 || sink.events[0] != afdpoll.Writable {
		t.Fatalf("expected one Writable dispatch, got %v", sink.events)
	}
}

func TestDriverRearmsWithResidualInterestAfterDispatch(t *testing.T) {
	dev := afdtest.NewDevice()
	d := afdpoll.NewDriver(dev, 2)

	// residual Readable: the sink still wants to be told about incoming
	// data after this completion, so the driver must submit a fresh poll
	// covering it before going idle (spec §5) instead of simply recording
	// the residual and stopping.
	sink := &recordingSink{residual: afdpoll.Readable}
	if err := d.Associate(0, afdpoll.BaseHandle(1), sink); err != nil {
		t.Fatalf("Associate: %v", err)
	}
	if _, err := d.Arm(0, afdpoll.Writable); err != nil {
		t.Fatalf("Arm: %v", err)
	}

	dev.Complete(d.HandleCompletion, afdpoll.StatusSuccess, []afdpoll.HandleInterest{
		{Handle: afdpoll.BaseHandle(1), Events: afdpoll.Writable, Status: 0},
	})

	if !d.InFlight() {
		t.Fatal("expected driver to have re-armed with the residual Readable interest")
	}
	if len(dev.Submitted) != 1 || dev.Submitted[0].Events != afdpoll.Readable {
		t.Fatalf("expected the re-armed submission to cover Readable only, got %v", dev.Submitted)
	}
}

func TestDriverAbortedCompletionIsSilent(t *testing.T) {
	dev := afdtest.NewDevice()
	d := afdpoll.NewDriver(dev, 2)
	sink := &recordingSink{}
	if err := d.Associate(0, afdpoll.BaseHandle(1), sink); err != nil {
		t.Fatalf("Associate: %v", err)
	}
	if _, err := d.Arm(0, afdpoll.Readable); err != nil {
		t.Fatalf("Arm: %v", err)
	}

	if err := d.Cancel(); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if !dev.Canceled() {
		t.Fatal("expected device.Cancel to have been invoked")
	}

	dev.Complete(d.HandleCompletion, afdpoll.StatusAborted, []afdpoll.HandleInterest{
		{Handle: afdpoll.BaseHandle(1), Events: afdpoll.Readable, Status: afdpoll.StatusAborted},
	})

	if len(sink.events) != 0 {
		t.Fatalf("expected no sink dispatch for an aborted completion, got %v", sink.events)
	}
	if d.InFlight() {
		t.Fatal("expected driver to be idle after an aborted completion")
	}
}

func TestDriverFatalStatusInvokesOnFatal(t *testing.T) {
	dev := afdtest.NewDevice()
	d := afdpoll.NewDriver(dev, 2)
	sink := &recordingSink{}
	if err := d.Associate(0, afdpoll.BaseHandle(1), sink); err != nil {
		t.Fatalf("Associate: %v", err)
	}
	if _, err := d.Arm(0, afdpoll.Readable); err != nil {
		t.Fatalf("Arm: %v", err)
	}

	var fatal error
	d.OnFatal = func(err error) { fatal = err }

	dev.Complete(d.HandleCompletion, 42, nil)

	if fatal == nil {
		t.Fatal("expected OnFatal to be invoked for a non-success, non-aborted status")
	}
	var driverErr *afdpoll.DriverFatalError
	if !errors.As(fatal, &driverErr) {
		t.Fatalf("expected a *DriverFatalError, got %T", fatal)
	}
	if driverErr.Status != 42 {
		t.Fatalf("expected status 42, got %d", driverErr.Status)
	}
}

func TestDriverArmRejectsInvalidSlot(t *testing.T) {
	dev := afdtest.NewDevice()
	d := afdpoll.NewDriver(dev, 2)
	if _, err := d.Arm(5, afdpoll.Readable); !errors.Is(err, afdpoll.ErrInvalidSlot) {
		t.Fatalf("expected ErrInvalidSlot, got %v", err)
	}
}

func TestDriverDisassociateDuringDispatchIsSafe(t *testing.T) {
	dev := afdtest.NewDevice()
	d := afdpoll.NewDriver(dev, 2)

	// Prime slot 1 with a standing Readable interest, then cancel that
	// request rather than letting it complete: an aborted completion
	// leaves the residual interest in place without re-arming (spec §7),
	// which is what lets the upcoming Arm for slot 0 pick both slots up
	// into the same submission, in ascending order.
	other := &recordingSink{residual: afdpoll.Readable}
	if err := d.Associate(1, afdpoll.BaseHandle(2), other); err != nil {
		t.Fatalf("Associate: %v", err)
	}
	if _, err := d.Arm(1, afdpoll.Readable); err != nil {
		t.Fatalf("Arm: %v", err)
	}

	tearsDownSlot1 := &closingSink{driver: d, target: 1}
	if err := d.Associate(0, afdpoll.BaseHandle(1), tearsDownSlot1); err != nil {
		t.Fatalf("Associate: %v", err)
	}

	if err := d.Cancel(); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	dev.Complete(d.HandleCompletion, afdpoll.StatusAborted, nil)
	if d.InFlight() {
		t.Fatal("expected driver to be idle after the aborted completion")
	}

	if _, err := d.Arm(0, afdpoll.LocalClosed); err != nil {
		t.Fatalf("Arm: %v", err)
	}
	if len(dev.Submitted) != 2 {
		t.Fatalf("expected slot 0 and slot 1 to be submitted together, got %v", dev.Submitted)
	}

	dev.Complete(d.HandleCompletion, afdpoll.StatusSuccess, []afdpoll.HandleInterest{
		{Handle: afdpoll.BaseHandle(1), Events: afdpoll.LocalClosed, Status: 0},
		{Handle: afdpoll.BaseHandle(2), Events: afdpoll.Readable, Status: 0},
	})

	if len(other.events) != 0 {
		t.Fatalf("expected slot 1 to be skipped once slot 0 disassociated it, got %v", other.events)
	}
}

type closingSink struct {
	driver *afdpoll.Driver
	target int
}

func (s *closingSink) HandleEvents(outcome afdpoll.Events, status int32) afdpoll.Events {
	_ = s.driver.Disassociate(s.target)
	return 0
}
