// Author: momentics <momentics@gmail.com>
//
// Driver is the poll-request lifecycle and slot table (spec components C2
// and C4): it owns exactly one in-flight AFD poll request at a time,
// covering every currently active slot, and routes completions back to
// each slot's event sink.
//
// Grounded in the teacher's reactor/iocp_reactor.go (one IOCP handle, one
// set of registered callbacks, one Poll loop) and in
// _examples/original_source/socket/single_connection_afd_system.h, which
// is the same shape in the original language: a fixed pPollInfoIn /
// pPollInfoOut / statusBlock triple shared with the kernel for the
// duration of one poll, plus a ppEvents back-pointer array.

package afdpoll

import "github.com/momentics/afdreactor/afdpoll/metrics"

// Driver owns one in-flight AFD poll request at a time over a fixed-size
// slot table. It is not safe for concurrent use from multiple goroutines;
// the reactor's scheduling model is single-threaded cooperative (spec §5).
type Driver struct {
	device   Device
	capacity int

	// slot table (C4): parallel arrays indexed by slot.
	handles  []BaseHandle
	interest []Events
	active   []bool
	sinks    []EventSink

	highWater int // one past the greatest active slot index

	// state of the single in-flight request, if any.
	inFlight    bool
	cookie      StatusCookie
	submitSlots []int
	submitIn    []HandleInterest
	submitOut   []HandleInterest

	// dispatchByHandle is reused across dispatch calls to avoid an
	// allocation per completion; it maps a handle back to the outcome
	// entry the device reported for it.
	dispatchByHandle map[BaseHandle]HandleInterest

	// OnFatal, if set, is invoked when a completion reports a status that
	// is neither success nor aborted. The driver is idle again by the
	// time this is called; the caller typically tears the driver down.
	OnFatal func(err error)

	// Metrics, if set, receives armed/completed/aborted/fatal counters
	// and the active-slot gauge. Nil by default; wiring it in (WithMetrics)
	// is the caller's choice, not a required constructor argument, since
	// most unit tests have no use for it.
	Metrics *metrics.Registry
}

// DriverOption configures a Driver at construction time, the same
// functional-options pattern afdpoll/loop.Option follows and the teacher's
// own server/options.go establishes.
type DriverOption func(*Driver)

// WithOnFatal sets the callback invoked when a completion reports a
// status that is neither success nor aborted.
func WithOnFatal(fn func(err error)) DriverOption {
	return func(d *Driver) { d.OnFatal = fn }
}

// WithMetrics wires a metrics registry into the driver's armed/completed/
// aborted/fatal counters and active-slot gauge.
func WithMetrics(reg *metrics.Registry) DriverOption {
	return func(d *Driver) { d.Metrics = reg }
}

// NewDriver creates a driver with room for capacity concurrent slots,
// issuing poll requests through device.
func NewDriver(device Device, capacity int, opts ...DriverOption) *Driver {
	d := &Driver{
		device:   device,
		capacity: capacity,
		handles:  make([]BaseHandle, capacity),
		interest: make([]Events, capacity),
		active:   make([]bool, capacity),
		sinks:    make([]EventSink, capacity),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Capacity returns the fixed maximum number of concurrent slots N.
func (d *Driver) Capacity() int { return d.capacity }

// InFlight reports whether a poll request is currently outstanding.
func (d *Driver) InFlight() bool { return d.inFlight }

func (d *Driver) checkSlot(slot int) error {
	if slot < 0 || slot >= d.capacity {
		return ErrInvalidSlot
	}
	return nil
}

// Associate records handle and sink at slot. No poll is issued. It must
// not be called while a request is in flight covering that slot.
func (d *Driver) Associate(slot int, handle BaseHandle, sink EventSink) error {
	if err := d.checkSlot(slot); err != nil {
		return err
	}
	if d.inFlight && d.active[slot] {
		return ErrRequestInFlight
	}
	d.handles[slot] = handle
	d.sinks[slot] = sink
	d.active[slot] = true
	d.interest[slot] = 0
	if slot+1 > d.highWater {
		d.highWater = slot + 1
	}
	return nil
}

// Disassociate clears the slot. It must not be called while a request is
// in flight covering that slot; cancel first.
func (d *Driver) Disassociate(slot int) error {
	if err := d.checkSlot(slot); err != nil {
		return err
	}
	if d.inFlight && d.active[slot] {
		return ErrRequestInFlight
	}
	d.handles[slot] = 0
	d.interest[slot] = 0
	d.active[slot] = false
	d.sinks[slot] = nil
	for d.highWater > 0 && !d.active[d.highWater-1] {
		d.highWater--
	}
	return nil
}

// Arm writes interest into slot's input entry and issues exactly one poll
// request covering every active slot with a non-empty interest mask. If
// the device reports the request as pending, Arm returns (false, nil) and
// the driver is now in flight. If the device completes immediately, Arm
// dispatches the outcome synchronously and returns (true, nil).
func (d *Driver) Arm(slot int, interest Events) (completedSync bool, err error) {
	if err := d.checkSlot(slot); err != nil {
		return false, err
	}
	if !d.active[slot] {
		return false, ErrInvalidSlot
	}
	if d.inFlight {
		return false, ErrRequestInFlight
	}
	d.interest[slot] = interest

	d.buildSubmitSet()
	if len(d.submitSlots) == 0 {
		return false, ErrEmptyInterest
	}
	return d.submit()
}

// buildSubmitSet rebuilds d.submitSlots/d.submitIn from every active slot
// that currently carries a non-empty interest mask, in ascending slot
// order.
func (d *Driver) buildSubmitSet() {
	d.submitSlots = d.submitSlots[:0]
	d.submitIn = d.submitIn[:0]
	for i := 0; i < d.highWater; i++ {
		if d.active[i] && d.interest[i] != 0 {
			d.submitSlots = append(d.submitSlots, i)
			d.submitIn = append(d.submitIn, HandleInterest{Handle: d.handles[i], Events: d.interest[i]})
		}
	}
}

// submit issues exactly one poll request covering the set built by the
// most recent buildSubmitSet call. Callers must have already confirmed
// d.submitSlots is non-empty.
func (d *Driver) submit() (completedSync bool, err error) {
	if cap(d.submitOut) < len(d.submitIn) {
		d.submitOut = make([]HandleInterest, len(d.submitIn))
	} else {
		d.submitOut = d.submitOut[:len(d.submitIn)]
		for i := range d.submitOut {
			d.submitOut[i] = HandleInterest{}
		}
	}
	d.cookie = StatusCookie{}

	if d.Metrics != nil {
		d.Metrics.Inc(metrics.PollsArmed, 1)
		d.Metrics.Set(metrics.SlotsActive, int64(len(d.submitSlots)))
	}

	pending, err := d.device.Submit(d.submitIn, d.submitOut, &d.cookie)
	if err != nil {
		return false, err
	}
	if pending {
		d.inFlight = true
		return false, nil
	}
	d.completeRequest(d.cookie.Status)
	return true, nil
}

// Cancel asks the device to abort the in-flight request. The request
// still completes, with an aborted status; the driver remains "in flight"
// until that completion is delivered to HandleCompletion.
func (d *Driver) Cancel() error {
	if !d.inFlight {
		return ErrNotInFlight
	}
	return d.device.Cancel(&d.cookie)
}

// CookiePtr returns the stable identity used by the demultiplexer to
// route completions back to this driver.
func (d *Driver) CookiePtr() *StatusCookie { return &d.cookie }

// HandleCompletion is invoked by the demultiplexer once it has matched an
// incoming completion record's cookie to this driver. status is the
// translated device status for the request (0 on a normal poll
// completion, an aborted sentinel after cancel, or a fatal code).
func (d *Driver) HandleCompletion(status int32) {
	if !d.inFlight {
		return
	}
	d.inFlight = false
	if err := d.device.Resolve(&d.cookie, d.submitOut); err != nil {
		if d.OnFatal != nil {
			d.OnFatal(err)
		}
		return
	}
	d.completeRequest(status)
}

// completeRequest applies the request-level status: an aborted completion
// (after cancel) is consumed silently with no sink invoked (spec §7); a
// fatal status is reported through OnFatal; otherwise the per-slot
// outcomes are dispatched.
func (d *Driver) completeRequest(status int32) {
	switch status {
	case StatusAborted:
		if d.Metrics != nil {
			d.Metrics.Inc(metrics.CompletionsAborted, 1)
		}
		return
	case StatusSuccess:
		if d.Metrics != nil {
			d.Metrics.Inc(metrics.PollsCompleted, 1)
		}
		d.dispatch(d.submitSlots, d.submitOut)
	default:
		if d.Metrics != nil {
			d.Metrics.Inc(metrics.CompletionsFatal, 1)
		}
		if d.OnFatal != nil {
			d.OnFatal(&DriverFatalError{Op: "poll", Status: status})
		}
	}
}

// dispatch iterates the slots covered by the just-completed request in
// ascending index order, invoking each active sink exactly once with the
// union of outcome bits it observed, and recording the residual interest
// mask the sink returns. If a sink disassociates its own (or another)
// slot during dispatch, later iterations see active==false and skip it
// safely -- this is the suspension discipline spec §4.2's edge case
// requires. Once every slot has been visited, dispatch re-arms exactly
// once, covering the union of residual masks left behind (spec §5) --
// without this, a driver goes idle for good after its very first
// completion, since nothing else in the driver ever resubmits a poll.
//
// out's entries are not assumed to align positionally with slots: the
// device may compact or reorder entries for inactive handles, so each
// entry is resolved back to its slot by matching its Handle against the
// input descriptor (spec §4.2), not by its position in out. Building the
// handle-to-entry map once up front and then walking slots in order keeps
// the whole resolution O(active-slots) per completion while still
// dispatching in ascending slot order.
func (d *Driver) dispatch(slots []int, out []HandleInterest) {
	if d.dispatchByHandle == nil {
		d.dispatchByHandle = make(map[BaseHandle]HandleInterest, len(out))
	} else {
		for k := range d.dispatchByHandle {
			delete(d.dispatchByHandle, k)
		}
	}
	for _, entry := range out {
		d.dispatchByHandle[entry.Handle] = entry
	}

	for _, slotIdx := range slots {
		entry, ok := d.dispatchByHandle[d.handles[slotIdx]]
		if !ok || (entry.Events == 0 && entry.Status == 0) {
			continue
		}
		sink := d.sinks[slotIdx]
		if sink == nil || !d.active[slotIdx] {
			continue
		}
		residual := sink.HandleEvents(entry.Events, entry.Status)
		if d.active[slotIdx] {
			d.interest[slotIdx] = residual
		}
	}

	d.rearm()
}

// rearm rebuilds the submit set from every active slot's current interest
// and, if any slot still wants events, issues exactly one new poll request
// covering them. If nothing is interested any more the driver simply goes
// idle -- that is not an error the way an explicit, empty Arm call is. If a
// sink callback already armed a new request of its own while this
// completion was being dispatched, the driver is already in flight again
// and this rearm is a no-op rather than a second, conflicting submit.
func (d *Driver) rearm() {
	if d.inFlight {
		return
	}
	d.buildSubmitSet()
	if len(d.submitSlots) == 0 {
		return
	}
	if _, err := d.submit(); err != nil && d.OnFatal != nil {
		d.OnFatal(err)
	}
}
