// Package spi implements the interrupt-driven SPI master transfer engine.
// Each client carries its own chip-select pin, clock rate and mode; the
// adapter reprograms the interface only when they differ from what is on
// the hardware, then pumps the transfer one byte per interrupt.
package spi

import (
	"sync"

	"bermuda-go/errcode"
	"bermuda-go/gpio"
	"bermuda-go/kernel/sched"
)

// Mode is the SPI clock mode (CPOL/CPHA pairing).
type Mode uint8

const (
	Mode0 Mode = iota
	Mode1
	Mode2
	Mode3
)

// divisors is the hardware clock-divisor ladder.
var divisors = [...]uint32{2, 4, 8, 16, 32, 64, 128}

// Hardware is the register-level surface the engine drives.
type Hardware interface {
	// Configure programs the clock divisor and mode before a transfer.
	Configure(div uint32, mode Mode)
	// WriteData loads the data register, shifting the byte out.
	WriteData(b byte)
	// ReadData reads the byte shifted in.
	ReadData() byte
}

// Config carries adapter construction parameters.
type Config struct {
	// ClockHz is the interface's input clock the divisor ladder divides.
	ClockHz uint32
}

// Adapter is one SPI bus interface.
type Adapter struct {
	hw Hardware
	s  *sched.Sched

	// Mutex serialises client access; transfers block on the transfer
	// queue until the final interrupt.
	Mutex *sched.Queue
	xferQ *sched.Queue

	clockHz uint32

	mu      sync.Mutex // guards transfer state against the ISR
	tx, rx  []byte
	n       int
	index   int
	busy    bool
	curDiv  uint32
	curMode Mode
	haveCfg bool
}

// NewAdapter binds an adapter to its hardware and scheduler.
func NewAdapter(s *sched.Sched, hw Hardware, cfg Config) *Adapter {
	clock := cfg.ClockHz
	if clock == 0 {
		clock = 16_000_000
	}
	return &Adapter{
		hw:      hw,
		s:       s,
		Mutex:   s.NewMutex(),
		xferQ:   s.NewQueue(),
		clockHz: clock,
	}
}

// DivisorFor walks the ladder for the smallest divisor producing a rate at
// or below the request. Requests slower than the slowest rung get the
// largest divisor.
func DivisorFor(clockHz, rate uint32) uint32 {
	if rate == 0 {
		return divisors[len(divisors)-1]
	}
	for _, d := range divisors {
		if clockHz/d <= rate {
			return d
		}
	}
	return divisors[len(divisors)-1]
}

// HandleInterrupt advances the transfer by one byte: store the received
// byte, shift out the next, or signal completion. Hardware (or the
// simulator) calls it once per transfer-complete interrupt.
func (a *Adapter) HandleInterrupt() {
	a.mu.Lock()
	if !a.busy {
		a.mu.Unlock()
		return
	}
	b := a.hw.ReadData()
	if a.rx != nil && a.index < len(a.rx) {
		a.rx[a.index] = b
	}
	a.index++
	if a.index < a.n {
		a.hw.WriteData(a.txByte(a.index))
		a.mu.Unlock()
		return
	}
	a.busy = false
	a.mu.Unlock()
	a.xferQ.SignalFromISR()
}

// txByte yields the byte to shift out at position i; a missing transmit
// buffer pads with 0xFF so reads still clock.
func (a *Adapter) txByte(i int) byte {
	if a.tx != nil && i < len(a.tx) {
		return a.tx[i]
	}
	return 0xFF
}

// configure reprograms rate and mode only when they changed.
func (a *Adapter) configure(rate uint32, mode Mode) {
	div := DivisorFor(a.clockHz, rate)
	if a.haveCfg && div == a.curDiv && mode == a.curMode {
		return
	}
	a.hw.Configure(div, mode)
	a.curDiv = div
	a.curMode = mode
	a.haveCfg = true
}

// Client identifies one peripheral on the bus: its chip select, clock rate
// and mode.
type Client struct {
	Adapter *Adapter
	CS      gpio.Pin
	Freq    uint32
	Mode    Mode
}

// NewClient returns a client for the peripheral behind cs. The pin is
// driven high (deselected) immediately.
func NewClient(a *Adapter, cs gpio.Pin, freq uint32, mode Mode) *Client {
	cs.Set(true)
	return &Client{Adapter: a, CS: cs, Freq: freq, Mode: mode}
}

// Transfer clocks n bytes: tx shifts out (0xFF padding when nil or short),
// received bytes land in rx when non-nil. It blocks until the final
// interrupt or tmo milliseconds pass (zero waits forever).
func (c *Client) Transfer(tx, rx []byte, n int, tmo uint32) error {
	if n <= 0 {
		return nil
	}
	a := c.Adapter
	if err := a.Mutex.Wait(tmo); err != nil {
		return err
	}
	defer a.Mutex.Signal()

	a.mu.Lock()
	a.configure(c.Freq, c.Mode)
	a.tx, a.rx, a.n, a.index = tx, rx, n, 0
	a.busy = true
	a.mu.Unlock()

	c.CS.Set(false)
	a.mu.Lock()
	a.hw.WriteData(a.txByte(0))
	a.mu.Unlock()

	err := a.xferQ.Wait(tmo)
	c.CS.Set(true)

	a.mu.Lock()
	a.tx, a.rx, a.n, a.index = nil, nil, 0, 0
	a.busy = false
	a.mu.Unlock()

	if err != nil {
		return errcode.Timeout
	}
	return nil
}
