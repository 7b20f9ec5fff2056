// Author: momentics <momentics@gmail.com>

package afdtest

import "github.com/momentics/afdreactor/afdpoll"

// CompletionQueue is a fake afdpoll.CompletionQueue backed by an explicit
// FIFO the test pushes records into with Push. Wait/WaitBatch report
// afdpoll.ErrNoCompletion once the FIFO is drained, rather than blocking.
type CompletionQueue struct {
	pending []afdpoll.CompletionRecord
}

// NewCompletionQueue constructs an empty fake completion queue.
func NewCompletionQueue() *CompletionQueue { return &CompletionQueue{} }

// Push appends a record to be returned by a future Wait/WaitBatch call.
func (q *CompletionQueue) Push(rec afdpoll.CompletionRecord) {
	q.pending = append(q.pending, rec)
}

// Wait implements afdpoll.CompletionQueue.
func (q *CompletionQueue) Wait(timeoutMs int) (afdpoll.CompletionRecord, error) {
	if len(q.pending) == 0 {
		return afdpoll.CompletionRecord{}, afdpoll.ErrNoCompletion
	}
	rec := q.pending[0]
	q.pending = q.pending[1:]
	return rec, nil
}

// WaitBatch implements afdpoll.CompletionQueue.
func (q *CompletionQueue) WaitBatch(max int, timeoutMs int) ([]afdpoll.CompletionRecord, error) {
	if len(q.pending) == 0 {
		return nil, afdpoll.ErrNoCompletion
	}
	if max > len(q.pending) {
		max = len(q.pending)
	}
	batch := q.pending[:max]
	q.pending = q.pending[max:]
	return batch, nil
}
