// Package vtimer keeps the pending one-shot and periodic callbacks on a
// delta list advanced by the system tick counter.
//
// The list is ordered such that summing the remaining-tick deltas from the
// head to any node yields that node's absolute fire time. The wheel is
// only ever touched from scheduler context (one logical CPU, cooperative),
// so it carries no lock; the interrupt side touches nothing here but the
// tick counter itself.
package vtimer

import (
	"bermuda-go/kernel/sysclock"
	"bermuda-go/x/mathx"
)

// Mode selects one-shot or periodic firing.
type Mode uint8

const (
	OneShot Mode = iota
	Periodic
)

// Callback runs on the advancing caller's stack with the wheel unlocked.
// A callback must not block.
type Callback func(t *Timer, arg any)

// Timer is one pending callback on the delta list.
type Timer struct {
	remaining uint32 // ticks relative to the predecessor
	period    uint32 // reload ticks, 0 for one-shot
	fn        Callback
	arg       any
	next      *Timer
}

// Wheel is one delta list driven by a tick counter.
type Wheel struct {
	head   *Timer
	ticks  *sysclock.Counter
	tickHz uint32
	last   uint32 // tick the list was last advanced to
}

// NewWheel returns a wheel reading time from c at the given tick rate.
func NewWheel(c *sysclock.Counter, tickHz uint32) *Wheel {
	if tickHz == 0 {
		tickHz = 1000
	}
	return &Wheel{ticks: c, tickHz: tickHz, last: c.Now()}
}

// MillisToTicks converts a millisecond interval to ticks, never rounding a
// non-zero interval down to nothing.
func (w *Wheel) MillisToTicks(ms uint32) uint32 {
	t := mathx.RoundDiv(uint64(ms)*uint64(w.tickHz), 1000)
	if t == 0 && ms != 0 {
		t = 1
	}
	return uint32(t)
}

// Create places a new timer on the list and returns its handle. The first
// delta is compensated for ticks that have elapsed since the last advance,
// so a timer armed mid-pass is not shortchanged.
func (w *Wheel) Create(ms uint32, fn Callback, arg any, mode Mode) *Timer {
	ticks := w.MillisToTicks(ms)
	if ticks == 0 {
		ticks = 1
	}
	t := &Timer{fn: fn, arg: arg}
	if mode == Periodic {
		t.period = ticks
	}
	t.remaining = ticks + (w.ticks.Now() - w.last)
	w.add(t)
	return t
}

// Stop unlinks a timer, restoring the successor's delta. Stopping a timer
// that has already fired (one-shot) or was already stopped is a no-op.
func (w *Wheel) Stop(t *Timer) {
	t.fn = nil
	t.period = 0
	if t.remaining == 0 {
		return
	}

	var prev *Timer
	for c := w.head; c != nil; c = c.next {
		if c == t {
			if prev != nil {
				prev.next = t.next
			} else {
				w.head = t.next
			}
			if t.next != nil {
				t.next.remaining += t.remaining
			}
			t.remaining = 0
			t.next = nil
			return
		}
		prev = c
	}
}

// add delta-inserts so that the cumulative remaining from the head equals
// the timer's absolute fire tick.
func (w *Wheel) add(t *Timer) {
	var prev *Timer
	c := w.head
	for c != nil {
		if t.remaining < c.remaining {
			c.remaining -= t.remaining
			break
		}
		t.remaining -= c.remaining
		prev = c
		c = c.next
	}
	t.next = c
	if prev != nil {
		prev.next = t
	} else {
		w.head = t
	}
}

// Advance distributes the ticks elapsed since the last advance over the
// list head, firing every elapsed timer. Periodic timers reinsert with
// their period; one-shot timers fall off the list.
func (w *Wheel) Advance() {
	now := w.ticks.Now()
	diff := now - w.last
	w.last = now

	for diff != 0 && w.head != nil {
		t := w.head
		if t.remaining < diff {
			diff -= t.remaining
			t.remaining = 0
		} else {
			t.remaining -= diff
			diff = 0
		}
		if t.remaining != 0 {
			break
		}
		if t.fn != nil {
			t.fn(t, t.arg)
		}
		w.head = t.next
		t.next = nil
		t.remaining = t.period
		if t.remaining != 0 {
			w.add(t)
		}
	}
}

// Pending reports whether any timer is armed.
func (w *Wheel) Pending() bool { return w.head != nil }
