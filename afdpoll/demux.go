// Author: momentics <momentics@gmail.com>
//
// Demux is the completion demultiplexer (spec component C3): a thin
// router that pulls completion records off a CompletionQueue, resolves
// each one's cookie to the driver that issued it, and invokes that
// driver's HandleCompletion.
//
// Grounded in the teacher's iocpReactor.Poll (reactor/iocp_reactor.go),
// which loops GetQueuedCompletionStatus and dispatches by completion key;
// Demux generalizes that single-map lookup to the spec's "multi-slot /
// multi-driver mode" (several drivers sharing one queue) by keying on the
// driver's own stable StatusCookie address instead of a synthetic key.

package afdpoll

import "github.com/eapache/queue"

// ErrNoCompletion is returned by a CompletionQueue when Wait/WaitBatch
// time out with nothing delivered. A timeout is not an error condition at
// the Demux or event-loop level (spec §4.8); it is surfaced so the caller
// can distinguish "nothing happened yet" from a real failure.
var ErrNoCompletion = errNoCompletion{}

type errNoCompletion struct{}

func (errNoCompletion) Error() string { return "afdpoll: no completion available" }

// Demux routes completions from one CompletionQueue to the drivers
// registered with it. A single registered driver is the "single-slot
// mode" of spec §4.3; several registered drivers sharing the same queue
// are "multi-slot / multi-driver mode".
type Demux struct {
	cq      CompletionQueue
	drivers map[*StatusCookie]*Driver
}

// NewDemux creates a demultiplexer pulling completions from cq.
func NewDemux(cq CompletionQueue) *Demux {
	return &Demux{
		cq:      cq,
		drivers: make(map[*StatusCookie]*Driver),
	}
}

// Register makes d's completions routable through this demultiplexer.
// d's cookie address is its identity for the lifetime of the
// registration; it must be unregistered before the driver is discarded.
func (x *Demux) Register(d *Driver) {
	x.drivers[d.CookiePtr()] = d
}

// Unregister removes d from this demultiplexer.
func (x *Demux) Unregister(d *Driver) {
	delete(x.drivers, d.CookiePtr())
}

// route resolves a completion record's cookie to its driver and invokes
// HandleCompletion. Records whose cookie is not currently registered are
// dropped silently -- this happens when a driver is torn down between the
// kernel accepting a cancellation and the aborted completion arriving.
func (x *Demux) route(rec CompletionRecord) {
	d, ok := x.drivers[rec.Cookie]
	if !ok {
		return
	}
	d.HandleCompletion(rec.Cookie.Status)
}

// Poll waits for a single completion and routes it. It returns
// ErrNoCompletion on timeout, which is not a fatal condition.
func (x *Demux) Poll(timeoutMs int) error {
	rec, err := x.cq.Wait(timeoutMs)
	if err != nil {
		return err
	}
	x.route(rec)
	return nil
}

// PollBatch waits for up to max completions in one kernel call and routes
// them in the order the completion queue returned them. It returns the
// number routed. The records are staged through a FIFO queue
// (github.com/eapache/queue, a growable ring) before fan-out, which keeps
// the returned order; a fresh queue is created for each call.
func (x *Demux) PollBatch(maxCompletions, timeoutMs int) (int, error) {
	recs, err := x.cq.WaitBatch(maxCompletions, timeoutMs)
	if err != nil {
		return 0, err
	}
	staged := queue.New()
	for _, rec := range recs {
		staged.Add(rec)
	}
	n := 0
	for staged.Length() > 0 {
		rec := staged.Remove().(CompletionRecord)
		x.route(rec)
		n++
	}
	return n, nil
}
