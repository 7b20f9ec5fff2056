package loop_test

import (
	"testing"

	"github.com/momentics/afdreactor/afdpoll"
	"github.com/momentics/afdreactor/afdpoll/afdtest"
	"github.com/momentics/afdreactor/afdpoll/loop"
)

type countingSink struct{ n int }

func (s *countingSink) HandleEvents(outcome afdpoll.Events, status int32) afdpoll.Events {
	s.n++
	return 0
}

func TestLoopRunStopsWhenDone(t *testing.T) {
	cq := afdtest.NewCompletionQueue()
	demux := afdpoll.NewDemux(cq)
	l := loop.New(demux, loop.WithTimeout(0))

	calls := 0
	err := l.Run(func() bool {
		calls++
		return calls >= 3
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected done to be consulted 3 times, got %d", calls)
	}
}

func TestLoopStepRoutesOneCompletion(t *testing.T) {
	dev := afdtest.NewDevice()
	driver := afdpoll.NewDriver(dev, 1)
	sink := &countingSink{}
	if err := driver.Associate(0, afdpoll.BaseHandle(1), sink); err != nil {
		t.Fatalf("Associate: %v", err)
	}
	if _, err := driver.Arm(0, afdpoll.Readable); err != nil {
		t.Fatalf("Arm: %v", err)
	}

	cq := afdtest.NewCompletionQueue()
	demux := afdpoll.NewDemux(cq)
	demux.Register(driver)

	dev.Complete(func(int32) {}, afdpoll.StatusSuccess, []afdpoll.HandleInterest{
		{Handle: afdpoll.BaseHandle(1), Events: afdpoll.Readable, Status: 0},
	})
	cq.Push(afdpoll.CompletionRecord{Cookie: driver.CookiePtr()})

	l := loop.New(demux, loop.WithTimeout(0))
	if err := l.Step(); err != nil {
		t.Fatalf("Step: %v", err)
	}
	if sink.n != 1 {
		t.Fatalf("expected one dispatch, got %d", sink.n)
	}
}

func TestLoopBatchMode(t *testing.T) {
	cq := afdtest.NewCompletionQueue()
	demux := afdpoll.NewDemux(cq)
	l := loop.New(demux, loop.WithTimeout(0), loop.WithBatchSize(8))

	if err := l.Step(); err != nil {
		t.Fatalf("Step with nothing pending should report no error, got %v", err)
	}
}
