package spi

import "tinygo.org/x/drivers"

// BusConn adapts a client to tinygo.org/x/drivers.SPI so third-party
// device drivers can sit directly on the engine. The chip select stays
// with the wrapped client.
type BusConn struct {
	c   *Client
	tmo uint32
}

// NewBusConn returns a drivers.SPI view of the client.
func NewBusConn(c *Client) *BusConn {
	return &BusConn{c: c, tmo: 500}
}

// WithTimeout overrides the per-transfer millisecond budget.
func (b *BusConn) WithTimeout(ms uint32) *BusConn {
	if ms > 0 {
		b.tmo = ms
	}
	return b
}

func (b *BusConn) Tx(w, r []byte) error {
	n := len(w)
	if len(r) > n {
		n = len(r)
	}
	return b.c.Transfer(w, r, n, b.tmo)
}

func (b *BusConn) Transfer(v byte) (byte, error) {
	var rx [1]byte
	if err := b.c.Transfer([]byte{v}, rx[:], 1, b.tmo); err != nil {
		return 0, err
	}
	return rx[0], nil
}

var _ drivers.SPI = (*BusConn)(nil)
