// Author: momentics <momentics@gmail.com>
//
// Package loop is the event loop driver (spec component C8): it repeats
// the demultiplexer's wait/route cycle until the caller's done predicate
// reports true.
//
// Grounded in the teacher's reactor/iocp_reactor.go Poll loop and
// server/options.go's functional-options style, generalized to the
// batched-vs-single poll choice and timeout default spec §4.8 calls for.

package loop

import (
	"errors"

	"github.com/momentics/afdreactor/afdpoll"
)

// defaultTimeoutMs is the wait passed to Demux.Poll/PollBatch when no
// WithTimeout option overrides it; -1 blocks indefinitely, which matches
// the teacher's iocpReactor.Poll default wait of INFINITE.
const defaultTimeoutMs = -1

// defaultBatchSize is the maximum completions drained per PollBatch call
// when WithBatchSize is not supplied.
const defaultBatchSize = 1

// Option customizes a Loop's wait behavior.
type Option func(*Loop)

// WithTimeout sets the millisecond timeout passed to each wait. A
// negative value blocks indefinitely.
func WithTimeout(timeoutMs int) Option {
	return func(l *Loop) { l.timeoutMs = timeoutMs }
}

// WithBatchSize sets the maximum number of completions drained per
// iteration (spec §4.8's k). A batch size of 1 uses Demux.Poll directly;
// anything larger uses Demux.PollBatch.
func WithBatchSize(k int) Option {
	return func(l *Loop) { l.batchSize = k }
}

// Loop repeats a demultiplexer's wait/route cycle until Run's done
// predicate reports true or a fatal error is returned by the completion
// queue.
type Loop struct {
	demux     *afdpoll.Demux
	timeoutMs int
	batchSize int
}

// New constructs a Loop driving demux, applying opts over the spec's
// documented defaults.
func New(demux *afdpoll.Demux, opts ...Option) *Loop {
	l := &Loop{demux: demux, timeoutMs: defaultTimeoutMs, batchSize: defaultBatchSize}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Run drives the loop: on each iteration it waits for and routes one
// batch of completions, then calls done. Run returns nil once done
// reports true, or the first non-timeout error the completion queue
// reports. A per-iteration timeout (afdpoll.ErrNoCompletion) is not an
// error at this level -- it simply means done gets another chance to
// decide whether to keep running with nothing new to report.
func (l *Loop) Run(done func() bool) error {
	for !done() {
		if err := l.step(); err != nil {
			return err
		}
	}
	return nil
}

// Step drives exactly one wait/route iteration and returns. Callers that
// need to interleave other work between completions (rather than handing
// control to Run) call Step directly from their own loop.
func (l *Loop) Step() error {
	return l.step()
}

func (l *Loop) step() error {
	if l.batchSize <= 1 {
		err := l.demux.Poll(l.timeoutMs)
		if err != nil && !errors.Is(err, afdpoll.ErrNoCompletion) {
			return err
		}
		return nil
	}
	_, err := l.demux.PollBatch(l.batchSize, l.timeoutMs)
	if err != nil && !errors.Is(err, afdpoll.ErrNoCompletion) {
		return err
	}
	return nil
}
