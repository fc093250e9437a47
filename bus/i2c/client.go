package i2c

import (
	"bermuda-go/errcode"
)

// DefaultTimeout is the millisecond budget used when a caller has no
// opinion.
const DefaultTimeout = 500

// ResponderFunc is the slave callback: it receives the bytes a master
// wrote and returns the response to transmit when the master turns the bus
// around, or nil to hand the bus straight back.
type ResponderFunc func(rx []byte) []byte

// Client identifies one addressable peer on a shared bus. Multiple clients
// may share one adapter; a client is a lightweight handle.
type Client struct {
	Adapter  *Adapter
	Addr     byte   // 7-bit peer address
	Freq     uint32 // bus clock for this peer's transfers
	Callback ResponderFunc
}

// NewClient returns a client for the peer at addr clocked at freq.
func NewClient(a *Adapter, addr byte, freq uint32) *Client {
	return &Client{Adapter: a, Addr: addr, Freq: freq}
}

// MasterXfer performs a master transaction against the client's peer:
// write tx (when non-empty), then read len(rx) bytes (when non-empty) with
// a repeated start between the phases. It blocks until the transfer
// completes, errors, or tmo milliseconds pass (zero waits forever).
func (c *Client) MasterXfer(tx, rx []byte, tmo uint32) error {
	a := c.Adapter
	if len(tx) == 0 && len(rx) == 0 {
		return nil
	}
	if err := a.Mutex.Wait(tmo); err != nil {
		return err
	}
	defer a.Mutex.Signal()

	a.mu.Lock()
	if len(tx) > 0 {
		a.msgs[SlotMasterTx] = &Message{Buf: tx, Addr: c.Addr, Freq: c.Freq}
	}
	if len(rx) > 0 {
		a.msgs[SlotMasterRx] = &Message{Buf: rx, Addr: c.Addr, Freq: c.Freq}
	}
	a.masterErr = errcode.OK
	idle := !a.busy
	slavePending := a.slaveRxPendingLocked()
	a.mu.Unlock()

	if idle {
		a.hw.SetBitrate(c.Freq)
		a.hw.Start(slavePending)
	}

	if err := a.masterQ.Wait(tmo); err != nil {
		c.dropMaster()
		return err
	}

	a.mu.Lock()
	code := a.masterErr
	a.mu.Unlock()
	if code != errcode.OK {
		c.dropMaster()
		return code
	}
	return nil
}

// dropMaster clears this transaction's master slots after an error so the
// engine does not pick stale work back up.
func (c *Client) dropMaster() {
	a := c.Adapter
	a.mu.Lock()
	a.msgs[SlotMasterTx] = nil
	a.msgs[SlotMasterRx] = nil
	a.mu.Unlock()
}

// SlaveListen installs rx as the slave-receive buffer and blocks until a
// master's STOP ends the transfer or tmo milliseconds pass. It returns the
// number of bytes received.
//
// When the client carries a Callback it is invoked with the received bytes
// and its response, if any, is transmitted via SlaveRespond before
// SlaveListen returns. Without a callback the interface stays blocked (SCL
// low); the caller must follow up with SlaveRespond — a nil buffer simply
// hands the bus back.
func (c *Client) SlaveListen(rx []byte, tmo uint32) (int, error) {
	a := c.Adapter

	a.mu.Lock()
	a.msgs[SlotSlaveRx] = &Message{Buf: rx}
	a.slaveErr = errcode.OK
	idle := !a.busy
	masterPending := a.masterPendingLocked()
	a.mu.Unlock()

	if idle {
		if masterPending {
			a.hw.Start(true)
		} else {
			a.hw.Listen()
		}
	}

	if err := a.slaveQ.Wait(tmo); err != nil {
		a.mu.Lock()
		a.msgs[SlotSlaveRx] = nil
		a.mu.Unlock()
		return 0, err
	}

	a.mu.Lock()
	n := a.slaveRxN
	code := a.slaveErr
	a.mu.Unlock()
	if code != errcode.OK {
		return n, code
	}

	if c.Callback != nil {
		resp := c.Callback(rx[:n])
		return n, c.SlaveRespond(resp, tmo)
	}
	return n, nil
}

// SlaveRespond installs tx as the slave-transmit buffer and releases the
// blocked interface so the master can read it. A nil or empty buffer skips
// the transmit phase and hands the bus back (resuming queued master work
// when present). Calling it without a blocked slave transfer is a
// BadState error.
func (c *Client) SlaveRespond(tx []byte, tmo uint32) error {
	a := c.Adapter

	a.mu.Lock()
	if !a.slaveBlocked {
		a.mu.Unlock()
		return errcode.BadState
	}
	if len(tx) == 0 {
		a.slaveBlocked = false
		masterPending := a.masterPendingLocked()
		a.mu.Unlock()
		if masterPending {
			a.hw.Start(true)
		} else {
			a.hw.Release()
		}
		return nil
	}
	a.msgs[SlotSlaveTx] = &Message{Buf: tx}
	a.slaveErr = errcode.OK
	a.mu.Unlock()

	a.hw.Listen()

	if err := a.slaveQ.Wait(tmo); err != nil {
		a.mu.Lock()
		a.msgs[SlotSlaveTx] = nil
		a.mu.Unlock()
		return err
	}

	a.mu.Lock()
	code := a.slaveErr
	a.mu.Unlock()
	if code != errcode.OK {
		return code
	}
	return nil
}
