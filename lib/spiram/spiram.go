// Package spiram is a convenience client for 23K-class serial SRAM chips
// in byte mode: READ/WRITE commands followed by a 16-bit address.
package spiram

import (
	"bermuda-go/bus/spi"
)

const (
	cmdWrite = 0x02
	cmdRead  = 0x03
)

// Device wraps an SPI client bound to the SRAM's chip select.
type Device struct {
	c   *spi.Client
	tmo uint32
}

// New returns a device over the given client.
func New(c *spi.Client) *Device {
	return &Device{c: c, tmo: 500}
}

// WriteByte stores b at the given address.
func (d *Device) WriteByte(addr uint16, b byte) error {
	seq := []byte{cmdWrite, byte(addr >> 8), byte(addr), b}
	return d.c.Transfer(seq, nil, len(seq), d.tmo)
}

// ReadByte fetches the byte at the given address. The data byte arrives
// while the dummy clocks out.
func (d *Device) ReadByte(addr uint16) (byte, error) {
	seq := []byte{cmdRead, byte(addr >> 8), byte(addr), 0xFF}
	var rx [4]byte
	if err := d.c.Transfer(seq, rx[:], len(seq), d.tmo); err != nil {
		return 0, err
	}
	return rx[3], nil
}
