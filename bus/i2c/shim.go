package i2c

import "tinygo.org/x/drivers"

// BusConn adapts an adapter to tinygo.org/x/drivers.I2C so third-party
// device drivers can sit directly on the engine. Tx performs a write
// followed by a repeated-start read when both buffers are given, without
// releasing the bus, which is exactly what that interface requires.
type BusConn struct {
	a    *Adapter
	freq uint32
	tmo  uint32
}

// NewBusConn returns a drivers.I2C view of the adapter at the given bus
// clock.
func NewBusConn(a *Adapter, freq uint32) *BusConn {
	return &BusConn{a: a, freq: freq, tmo: DefaultTimeout}
}

// WithTimeout overrides the per-transaction millisecond budget.
func (b *BusConn) WithTimeout(ms uint32) *BusConn {
	if ms > 0 {
		b.tmo = ms
	}
	return b
}

func (b *BusConn) Tx(addr uint16, w, r []byte) error {
	cl := Client{Adapter: b.a, Addr: byte(addr), Freq: b.freq}
	return cl.MasterXfer(w, r, b.tmo)
}

var _ drivers.I2C = (*BusConn)(nil)
