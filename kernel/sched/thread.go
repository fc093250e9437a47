package sched

import "bermuda-go/kernel/vtimer"

// State is a thread's run state.
type State uint8

const (
	StateRunning State = iota
	StateReady
	StateSleeping
	StateWaiting
	StateKilled
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateReady:
		return "ready"
	case StateSleeping:
		return "sleeping"
	case StateWaiting:
		return "waiting"
	case StateKilled:
		return "killed"
	}
	return "unknown"
}

// Handler is a thread entry point. The thread exits when it returns.
type Handler func(arg any)

// Thread is one cooperative thread. Its goroutine is parked on the resume
// channel whenever another thread holds the CPU; the scheduler wakes
// exactly one goroutine at a time.
type Thread struct {
	name string
	id   uint32
	prio uint8

	state State
	next  *Thread // run/wait/kill queue link
	all   *Thread // global thread list link
	wq    *Queue  // wait queue currently holding the thread, nil otherwise

	timer    *vtimer.Timer
	timedOut bool
	ec       uint8 // ISR-posted event count, guarded by the scheduler lock

	resume chan struct{}
	sleepq Queue // private queue backing Sleep

	s *Sched
}

// Name returns the thread's name.
func (t *Thread) Name() string { return t.name }

// ID returns the thread's id.
func (t *Thread) ID() uint32 { return t.id }

// Prio returns the thread's priority (0 highest, 255 lowest).
func (t *Thread) Prio() uint8 { return t.prio }

// prioInsert links t into the priority-ascending queue at *head, after any
// threads of equal priority so same-level service stays FIFO.
func prioInsert(head **Thread, t *Thread) {
	p := head
	for *p != nil && (*p).prio <= t.prio {
		p = &(*p).next
	}
	t.next = *p
	*p = t
}

// qremove unlinks t from the queue at *head. Reports whether t was found.
func qremove(head **Thread, t *Thread) bool {
	for p := head; *p != nil; p = &(*p).next {
		if *p == t {
			*p = t.next
			t.next = nil
			return true
		}
	}
	return false
}
