// Package dev keeps the process-wide name-indexed device-node table. Every
// registered device carries a mutex wait queue; acquire/release are the
// wait/signal pair on it.
package dev

import (
	"sync"

	"bermuda-go/errcode"
	"bermuda-go/kernel/sched"
)

// IO is the byte-level surface a device driver exposes.
type IO interface {
	Write(p []byte) (int, error)
	Read(p []byte) (int, error)
	Flush() error
	Close() error
}

// ControlFunc is the device-specific control entry point.
type ControlFunc func(method string, payload any) (any, error)

// Device is one device node.
type Device struct {
	Name    string
	IO      IO
	Control ControlFunc
	Data    any // driver-private

	mutex *sched.Queue
}

// Table is the device-node table. One per system.
type Table struct {
	s  *sched.Sched
	mu sync.RWMutex
	m  map[string]*Device
}

// NewTable returns an empty table bound to the scheduler.
func NewTable(s *sched.Sched) *Table {
	return &Table{s: s, m: map[string]*Device{}}
}

// Register adds d to the table. A duplicate name is refused with
// errcode.Unavailable. The device mutex starts released.
func (t *Table) Register(d *Device) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.m[d.Name]; exists {
		return errcode.Unavailable
	}
	d.mutex = t.s.NewMutex()
	t.m[d.Name] = d
	return nil
}

// Lookup finds a device by name.
func (t *Table) Lookup(name string) (*Device, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	d, ok := t.m[name]
	return d, ok
}

// Names returns the registered device names.
func (t *Table) Names() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]string, 0, len(t.m))
	for n := range t.m {
		out = append(out, n)
	}
	return out
}

// Acquire takes the device mutex, waiting at most tmo milliseconds (zero
// waits forever).
func (t *Table) Acquire(d *Device, tmo uint32) error {
	return d.mutex.Wait(tmo)
}

// Release returns the device mutex.
func (t *Table) Release(d *Device) {
	d.mutex.Signal()
}
