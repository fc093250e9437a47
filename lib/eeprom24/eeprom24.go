// Package eeprom24 is a convenience client for byte-addressed serial
// EEPROMs (24C02 class) on an I²C bus: one address byte, data bytes
// auto-incrementing from it.
package eeprom24

import (
	"bermuda-go/bus/i2c"
)

// Device wraps an I²C client bound to the EEPROM's bus address.
type Device struct {
	c   *i2c.Client
	tmo uint32
}

// New returns a device over the given client.
func New(c *i2c.Client) *Device {
	return &Device{c: c, tmo: i2c.DefaultTimeout}
}

// WriteByte stores b at the given word address.
func (d *Device) WriteByte(addr, b byte) error {
	return d.c.MasterXfer([]byte{addr, b}, nil, d.tmo)
}

// ReadByte fetches the byte at the given word address: write the address,
// then a repeated-start read of one byte.
func (d *Device) ReadByte(addr byte) (byte, error) {
	var rx [1]byte
	if err := d.c.MasterXfer([]byte{addr}, rx[:], d.tmo); err != nil {
		return 0, err
	}
	return rx[0], nil
}

// Write stores a run of bytes starting at addr.
func (d *Device) Write(addr byte, p []byte) error {
	buf := make([]byte, 0, len(p)+1)
	buf = append(buf, addr)
	buf = append(buf, p...)
	return d.c.MasterXfer(buf, nil, d.tmo)
}

// Read fetches len(p) bytes starting at addr.
func (d *Device) Read(addr byte, p []byte) error {
	return d.c.MasterXfer([]byte{addr}, p, d.tmo)
}
