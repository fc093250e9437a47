package sched

import (
	"bermuda-go/errcode"
	"bermuda-go/kernel/vtimer"
)

// Queue is a wait queue (the event primitive): a priority-ordered list of
// suspended threads with a signaled-sentinel collapse rule. Every blocking
// call in the system waits on one of these.
//
// Three states: empty (no waiters, no pending signal), signaled (no
// waiters, one pending signal stored), non-empty (waiter list). Any number
// of excess signals collapse into the single sentinel, so publishers need
// not coordinate with subscribers.
type Queue struct {
	head     *Thread
	signaled bool
	s        *Sched
}

// NewQueue returns an empty wait queue.
func (s *Sched) NewQueue() *Queue { return &Queue{s: s} }

// NewMutex returns a wait queue pre-signaled once, the shape every
// bus/device mutex uses: the first Wait passes straight through, Signal
// releases.
func (s *Sched) NewMutex() *Queue { return &Queue{s: s, signaled: true} }

// Wait suspends the current thread on q until a signal arrives or tmo
// milliseconds pass. tmo zero means wait forever. Returns nil when
// signaled, errcode.Timeout when the timeout fired; on either return the
// thread is off the queue.
func (q *Queue) Wait(tmo uint32) error {
	return q.wait(tmo, StateWaiting)
}

func (q *Queue) wait(tmo uint32, st State) error {
	s := q.s
	s.mu.Lock()
	if q.signaled {
		// A pending signal is stored; consume it and give the other
		// threads a chance.
		q.signaled = false
		s.mu.Unlock()
		s.Yield()
		return nil
	}

	cur := s.current
	qremove(&s.runq, cur)
	prioInsert(&q.head, cur)
	cur.wq = q
	cur.state = st
	cur.timedOut = false
	if tmo != 0 {
		cur.timer = s.wheel.Create(tmo, q.waitTimeout, cur, vtimer.OneShot)
	} else {
		cur.timer = nil
	}
	s.mu.Unlock()

	s.schedule()

	if cur.timedOut {
		cur.timedOut = false
		return errcode.Timeout
	}
	return nil
}

// waitTimeout is the virtual-timer callback armed by a timed wait. It runs
// from scheduler context; whichever of signal and timeout unlinks the
// thread first wins, the loser observes the thread gone and no-ops.
func (q *Queue) waitTimeout(_ *vtimer.Timer, arg any) {
	t := arg.(*Thread)
	s := q.s
	s.mu.Lock()
	if t.wq == q && qremove(&q.head, t) {
		q.transferEvents(t)
		t.wq = nil
		t.state = StateReady
		t.timedOut = true
		prioInsert(&s.runq, t)
	}
	t.timer = nil
	s.mu.Unlock()
}

// Signal wakes the highest-priority waiter, or stores the signaled
// sentinel when the queue is empty. Reports whether a waiter was woken.
// The woken thread takes over the CPU at once when its priority allows.
func (q *Queue) Signal() bool {
	s := q.s
	s.mu.Lock()
	woke := q.signalLocked()
	s.mu.Unlock()
	s.Yield()
	return woke
}

// SignalFromISR is the signal variant safe to call from interrupt context.
// It never yields: with waiters present it bumps the head waiter's event
// counter and flags the scheduler, which performs the transfer on its next
// pass; with no waiters it stores the sentinel.
func (q *Queue) SignalFromISR() {
	s := q.s
	s.mu.Lock()
	if q.signaled {
		// collapse
	} else if q.head == nil {
		q.signaled = true
	} else {
		q.head.ec++
	}
	s.mu.Unlock()
	s.isrPending.Store(true)
}

// HasWaiter reports whether any thread is suspended on q.
func (q *Queue) HasWaiter() bool {
	q.s.mu.Lock()
	defer q.s.mu.Unlock()
	return q.head != nil
}

// signalLocked wakes the head waiter without yielding. Caller holds the
// scheduler lock.
func (q *Queue) signalLocked() bool {
	if q.signaled {
		return false
	}
	t := q.head
	if t == nil {
		q.signaled = true
		return false
	}
	qremove(&q.head, t)
	q.transferEvents(t)
	t.wq = nil
	if t.timer != nil {
		q.s.wheel.Stop(t.timer)
		t.timer = nil
	}
	t.state = StateReady
	prioInsert(&q.s.runq, t)
	return true
}

// transferEvents moves a departing waiter's pending ISR events to the next
// waiter, or collapses them into the sentinel when the queue drained.
func (q *Queue) transferEvents(t *Thread) {
	if t.ec == 0 {
		return
	}
	if q.head != nil {
		q.head.ec = t.ec
	} else {
		q.signaled = true
	}
	t.ec = 0
}
