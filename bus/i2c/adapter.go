// Package i2c implements the interrupt-driven I²C bus engine: a
// per-adapter state machine driven entirely by the status codes the
// hardware reports after each interrupt. The adapter handles the
// master-transmitter, master-receiver, slave-transmitter and
// slave-receiver roles; arbitration may force transitions between master
// and slave at any time.
//
// Control flow: a thread queues one of the four message slots and blocks
// on the master or slave wait queue; HandleInterrupt consumes and produces
// bytes and signals the queue on completion or error. All signalling from
// the interrupt path uses the ISR-safe variant.
package i2c

import (
	"sync"

	"bermuda-go/errcode"
	"bermuda-go/kernel/sched"
)

// Config carries adapter construction parameters.
type Config struct {
	// OwnAddr is the 7-bit address the adapter answers to as a slave.
	OwnAddr byte
}

// Adapter is one I²C bus interface.
type Adapter struct {
	hw Hardware
	s  *sched.Sched

	// Mutex serialises client access to the bus. Master and slave
	// transfers block on their respective queues.
	Mutex   *sched.Queue
	masterQ *sched.Queue
	slaveQ  *sched.Queue

	mu          sync.Mutex // guards everything below against the ISR
	msgs        [slotCount]*Message
	index       int
	busy        bool
	transmitter bool
	ownAddr     byte

	masterErr    errcode.Code
	slaveErr     errcode.Code
	slaveRxN     int  // bytes stored in the slave-rx buffer at end of transfer
	slaveBlocked bool // interface held (SCL low) awaiting respond/release
}

// NewAdapter binds an adapter to its hardware and scheduler.
func NewAdapter(s *sched.Sched, hw Hardware, cfg Config) *Adapter {
	a := &Adapter{
		hw:        hw,
		s:         s,
		Mutex:     s.NewMutex(),
		masterQ:   s.NewQueue(),
		slaveQ:    s.NewQueue(),
		ownAddr:   cfg.OwnAddr,
		masterErr: errcode.OK,
		slaveErr:  errcode.OK,
	}
	hw.SetSlaveAddr(cfg.OwnAddr)
	hw.Release()
	return a
}

// OwnAddr returns the adapter's own slave address.
func (a *Adapter) OwnAddr() byte { return a.ownAddr }

// masterPendingLocked reports queued master work. Caller holds a.mu.
func (a *Adapter) masterPendingLocked() bool {
	if m := a.msgs[SlotMasterTx]; m != nil && len(m.Buf) > 0 {
		return true
	}
	if m := a.msgs[SlotMasterRx]; m != nil && len(m.Buf) > 0 {
		return true
	}
	return false
}

// slaveRxPendingLocked reports an installed slave-receive buffer.
func (a *Adapter) slaveRxPendingLocked() bool {
	m := a.msgs[SlotSlaveRx]
	return m != nil && len(m.Buf) > 0
}

// HandleInterrupt advances the state machine by one hardware status. It is
// the adapter's interrupt entry point: hardware (or the simulator) calls
// it once per bus event.
func (a *Adapter) HandleInterrupt() {
	a.mu.Lock()
	defer a.mu.Unlock()

	switch st := a.hw.Status(); st {
	case StatusStartSent, StatusRepStartSent:
		// Interface owns the bus; put the slave address on the wire. The
		// first byte after START carries the R/W bit of the upcoming
		// phase.
		a.index = 0
		a.busy = true
		var sla byte
		if m := a.msgs[SlotMasterRx]; m != nil && len(m.Buf) > 0 {
			a.transmitter = false
			sla = m.Addr<<1 | 1
		}
		// Master transmit outranks master receive; evaluated last so it
		// wins when both are queued.
		if m := a.msgs[SlotMasterTx]; m != nil && len(m.Buf) > 0 {
			a.transmitter = true
			sla = m.Addr << 1
		}
		a.hw.WriteData(sla)
		a.hw.Reply(true) // clears the START request

	case StatusMTSlaACK, StatusMTDataACK:
		if m := a.msgs[SlotMasterTx]; m != nil && a.index < len(m.Buf) {
			a.hw.WriteData(m.Buf[a.index])
			a.index++
			a.hw.Reply(true)
			return
		}
		a.masterTxTail(errcode.OK)

	case StatusMTDataNACK:
		// NACK after the final byte is the normal end of a transmission;
		// any earlier it aborts the transaction.
		if m := a.msgs[SlotMasterTx]; m != nil && a.index >= len(m.Buf) {
			a.masterTxTail(errcode.OK)
			return
		}
		a.masterEnd(errcode.BusNackData)

	case StatusMTSlaNACK:
		a.masterEnd(errcode.BusNackAddr)

	case StatusMRSlaNACK:
		a.masterEnd(errcode.BusNackAddr)

	case StatusArbLost:
		// Recoverable: the queued transaction stays put and START is
		// requested again, so the hardware re-issues when the bus frees;
		// with a slave-receive buffer installed, slave listen is enabled
		// instead. The waiting master still observes the loss and decides.
		a.busy = false
		a.masterErr = errcode.BusArbLost
		if a.slaveRxPendingLocked() {
			a.hw.Listen()
		} else {
			a.hw.Start(true)
		}
		a.masterQ.SignalFromISR()

	case StatusMRDataACK:
		if m := a.msgs[SlotMasterRx]; m != nil && a.index < len(m.Buf) {
			m.Buf[a.index] = a.hw.ReadData()
			a.index++
		}
		a.masterRxReply()

	case StatusMRSlaACK:
		a.masterRxReply()

	case StatusMRDataNACK:
		// Final byte of the receive phase.
		if m := a.msgs[SlotMasterRx]; m != nil && a.index < len(m.Buf) {
			m.Buf[a.index] = a.hw.ReadData()
			a.index++
		}
		a.masterEnd(errcode.OK)

	case StatusSRSlaWACK, StatusSRGCallACK, StatusSRSlaWArbLost, StatusSRGCallArbLost:
		a.index = 0
		a.busy = true
		a.transmitter = false
		if a.slaveRxPendingLocked() {
			a.hw.Reply(true)
		} else {
			a.slaveErr = errcode.Error
			a.hw.Reply(false)
		}

	case StatusSRDataACK, StatusSRGCallDataACK:
		if m := a.msgs[SlotSlaveRx]; m != nil && a.index < len(m.Buf) {
			m.Buf[a.index] = a.hw.ReadData()
			a.index++
			a.hw.Reply(a.index < len(m.Buf))
			return
		}
		// Buffer full: end the transfer as if NACKed.
		a.slaveEndRx()

	case StatusSRDataNACK, StatusSRGCallDataNACK:
		a.slaveEndRx()

	case StatusSRStop:
		if !a.slaveQ.HasWaiter() {
			// The application gave up waiting; resume pending master
			// work or fall back to idle.
			a.busy = false
			if a.masterPendingLocked() {
				a.hw.Start(false)
			} else {
				a.hw.Release()
			}
			return
		}
		a.slaveEndRx()

	case StatusSTSlaRACK, StatusSTArbLost:
		a.index = 0
		a.busy = true
		a.transmitter = true
		a.slaveBlocked = false
		a.slaveTxNext()

	case StatusSTDataACK:
		a.slaveTxNext()

	case StatusSTDataNACK, StatusSTLastDataACK:
		// Master has everything it wanted; release the bus and resume
		// queued master work, if any.
		a.msgs[SlotSlaveTx] = nil
		a.busy = false
		a.slaveErr = errcode.OK
		a.slaveQ.SignalFromISR()
		if a.masterPendingLocked() {
			a.hw.Start(true)
		} else {
			a.hw.Release()
		}

	case StatusBusError:
		a.busErr()

	default:
		a.busErr()
	}
}

// masterTxTail runs after the last transmitted byte was acknowledged (or
// tolerably NACKed): either turn the bus around into the receive phase
// with a repeated START, or finish the transaction.
func (a *Adapter) masterTxTail(code errcode.Code) {
	a.msgs[SlotMasterTx] = nil
	if m := a.msgs[SlotMasterRx]; m != nil && len(m.Buf) > 0 {
		// Repeated start, not stop+start, between the two phases.
		a.transmitter = false
		a.hw.Start(true)
		return
	}
	a.masterEnd(code)
}

// masterRxReply acknowledges the upcoming byte while more than one remains
// and NACKs the final one.
func (a *Adapter) masterRxReply() {
	if m := a.msgs[SlotMasterRx]; m != nil && a.index+1 < len(m.Buf) {
		a.hw.Reply(true)
		return
	}
	a.hw.Reply(false)
}

// masterEnd closes the master transaction: slots cleared, STOP on the
// wire, waiter signalled, slave listen resumed when slave work is queued.
func (a *Adapter) masterEnd(code errcode.Code) {
	a.masterErr = code
	a.msgs[SlotMasterTx] = nil
	a.msgs[SlotMasterRx] = nil
	a.busy = false
	a.hw.Stop(a.slaveRxPendingLocked())
	a.masterQ.SignalFromISR()
}

// slaveEndRx ends the slave-receive phase: the interface blocks with SCL
// held low and the listener is woken to inspect the buffer and either
// respond or release.
func (a *Adapter) slaveEndRx() {
	a.slaveRxN = a.index
	a.msgs[SlotSlaveRx] = nil
	a.slaveErr = errcode.OK
	a.slaveBlocked = true
	a.busy = false
	a.hw.Block()
	a.slaveQ.SignalFromISR()
}

// slaveTxNext shifts out the next response byte, ACKing while more remain.
// With no (or an exhausted) response installed it pads with zero and NACKs.
func (a *Adapter) slaveTxNext() {
	if m := a.msgs[SlotSlaveTx]; m != nil && a.index < len(m.Buf) {
		a.hw.WriteData(m.Buf[a.index])
		a.index++
		a.hw.Reply(a.index < len(m.Buf))
		return
	}
	a.hw.WriteData(0)
	a.hw.Reply(false)
}

// busErr recovers from a fatal bus condition: every slot is dropped, the
// hardware is reset, and every waiter observes a definite error.
func (a *Adapter) busErr() {
	for i := range a.msgs {
		a.msgs[i] = nil
	}
	a.index = 0
	a.busy = false
	a.slaveBlocked = false
	a.masterErr = errcode.BusError
	a.slaveErr = errcode.BusError
	a.hw.Reset()
	a.masterQ.SignalFromISR()
	a.slaveQ.SignalFromISR()
}
