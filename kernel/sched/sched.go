// Package sched implements the cooperative priority scheduler, thread
// lifecycle and the wait-queue primitive.
//
// Threads are goroutines with strict handoff: every thread goroutine is
// parked on its own resume channel except the one holding the CPU, so
// between suspension points a thread runs exclusively. Suspension points
// are Yield, Sleep, Wait and handler return; interrupt stand-ins (hardware
// drivers, simulators) run on their own goroutines and may only call
// SignalFromISR and the tick counter.
//
// Each scheduler pass drains ISR-posted event counters, advances the
// virtual timer wheel, reaps exited threads and switches to the
// ready-queue head. Priorities run 0 (highest) to 255 (lowest); within a
// level, service is FIFO.
package sched

import (
	"sync"
	"sync/atomic"
	"time"

	"bermuda-go/kernel/sysclock"
	"bermuda-go/kernel/vtimer"
)

// PrioDefault is the priority threads get when the caller has no opinion.
const PrioDefault = 150

// prioIdle keeps the idle thread behind everything else.
const prioIdle = 255

// idleRelax bounds how hard the idle loop spins between passes.
const idleRelax = 200 * time.Microsecond

// Sched owns the ready queue, the thread list, the kill queue and the
// timer wheel.
type Sched struct {
	mu      sync.Mutex
	runq    *Thread // priority-ascending; head is the running thread
	threads *Thread // every live thread, via the all link
	killq   *Thread
	current *Thread
	idle    *Thread

	wheel *vtimer.Wheel
	ticks *sysclock.Counter

	isrPending atomic.Bool
	stopping   atomic.Bool
	nthreads   int // user threads, excludes idle
	idCtr      uint32
}

// New returns a scheduler reading time from c at the given tick rate. The
// idle thread is created here, before any user thread; it occupies the
// goroutine that later calls Run.
func New(c *sysclock.Counter, tickHz uint32) *Sched {
	s := &Sched{
		ticks: c,
		wheel: vtimer.NewWheel(c, tickHz),
	}
	idle := &Thread{
		name:   "idle",
		prio:   prioIdle,
		state:  StateReady,
		resume: make(chan struct{}, 1),
		s:      s,
	}
	idle.sleepq.s = s
	s.idle = idle
	s.threads = idle
	s.runq = idle
	return s
}

// Wheel exposes the timer wheel for direct timer use.
func (s *Sched) Wheel() *vtimer.Wheel { return s.wheel }

// Go creates a thread. The new thread is linked into the thread list and
// the ready queue immediately; the creator keeps the CPU until its next
// suspension point.
func (s *Sched) Go(name string, fn Handler, arg any, prio uint8) *Thread {
	t := &Thread{
		name:   name,
		prio:   prio,
		state:  StateReady,
		resume: make(chan struct{}, 1),
		s:      s,
	}
	t.sleepq.s = s

	s.mu.Lock()
	s.idCtr++
	t.id = s.idCtr
	t.all = s.threads
	s.threads = t
	prioInsert(&s.runq, t)
	s.nthreads++
	s.mu.Unlock()

	go func() {
		<-t.resume
		fn(arg)
		s.exit(t)
	}()
	return t
}

// Run executes the idle loop on the calling goroutine. It returns when no
// user threads remain or Stop was called. Threads still blocked at that
// point stay parked; a fresh scheduler is cheap, reuse after Run is not
// supported.
func (s *Sched) Run() {
	s.mu.Lock()
	s.current = s.idle
	s.idle.state = StateRunning
	s.mu.Unlock()

	for {
		if s.stopping.Load() {
			return
		}
		s.mu.Lock()
		done := s.nthreads == 0
		s.mu.Unlock()
		if done && !s.isrPending.Load() {
			return
		}
		s.Yield()
		time.Sleep(idleRelax)
	}
}

// Stop asks Run to return at the next idle pass.
func (s *Sched) Stop() { s.stopping.Store(true) }

// Yield rotates the current thread to the back of its priority level and
// reschedules.
func (s *Sched) Yield() {
	s.mu.Lock()
	cur := s.current
	qremove(&s.runq, cur)
	prioInsert(&s.runq, cur)
	s.mu.Unlock()
	s.schedule()
}

// Sleep suspends the current thread for ms milliseconds. Zero yields.
func (s *Sched) Sleep(ms uint32) {
	if ms == 0 {
		s.Yield()
		return
	}
	cur := s.current
	// The sleep queue is private to the thread and never signaled, so the
	// timed wait always returns by timeout.
	_ = cur.sleepq.wait(ms, StateSleeping)
}

// SetPrio changes the current thread's priority, repositions it in the
// ready queue and reschedules. Returns the previous priority.
func (s *Sched) SetPrio(prio uint8) uint8 {
	s.mu.Lock()
	cur := s.current
	old := cur.prio
	cur.prio = prio
	qremove(&s.runq, cur)
	prioInsert(&s.runq, cur)
	s.mu.Unlock()
	s.Yield()
	return old
}

// Current returns the running thread.
func (s *Sched) Current() *Thread {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Ticks returns the current system tick.
func (s *Sched) Ticks() uint32 { return s.ticks.Now() }

// schedule is the scheduler pass: drain ISR events, advance timers, reap
// the kill queue, then switch to the ready-queue head when it is not the
// current thread. The switched-out goroutine parks on its resume channel
// until the scheduler hands the CPU back.
func (s *Sched) schedule() {
	s.drainEvents()
	s.wheel.Advance()
	s.reap()

	s.mu.Lock()
	cur := s.current
	next := s.runq
	if next == nil || next == cur {
		s.mu.Unlock()
		return
	}
	if cur.state == StateRunning {
		cur.state = StateReady
	}
	next.state = StateRunning
	s.current = next
	s.mu.Unlock()

	next.resume <- struct{}{}
	<-cur.resume
}

// exit retires a finished thread: off the ready queue, onto the kill
// queue, CPU handed to the ready-queue head. The goroutine then ends; the
// next scheduler pass unlinks the corpse from the thread list.
func (s *Sched) exit(t *Thread) {
	s.mu.Lock()
	qremove(&s.runq, t)
	t.state = StateKilled
	t.next = s.killq
	s.killq = t
	s.nthreads--

	next := s.runq
	next.state = StateRunning
	s.current = next
	s.mu.Unlock()

	next.resume <- struct{}{}
}

// drainEvents applies ISR-posted event counters: one event per thread per
// pass, matching the bounded drain the interrupt contract promises. A
// residual count re-flags the scheduler so the next pass continues.
func (s *Sched) drainEvents() {
	if !s.isrPending.Swap(false) {
		return
	}
	s.mu.Lock()
	residual := false
	for t := s.threads; t != nil; t = t.all {
		if t.ec == 0 {
			continue
		}
		t.ec--
		if q := t.wq; q != nil && !q.signaled {
			q.signalLocked()
		}
		if t.ec != 0 {
			residual = true
		}
	}
	s.mu.Unlock()
	if residual {
		s.isrPending.Store(true)
	}
}

// reap unlinks killed threads from the thread list.
func (s *Sched) reap() {
	s.mu.Lock()
	for s.killq != nil {
		t := s.killq
		s.killq = t.next
		t.next = nil
		for p := &s.threads; *p != nil; p = &(*p).all {
			if *p == t {
				*p = t.all
				t.all = nil
				break
			}
		}
	}
	s.mu.Unlock()
}
