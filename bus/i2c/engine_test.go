package i2c

import (
	"fmt"
	"testing"

	"bermuda-go/errcode"
	"bermuda-go/kernel/sched"
	"bermuda-go/kernel/sysclock"
)

// fakeHW records the register-level actions the engine performs, so the
// status table can be exercised one interrupt at a time.
type fakeHW struct {
	st   Status
	data byte // register the engine reads
	ops  []string
}

func (f *fakeHW) Status() Status      { return f.st }
func (f *fakeHW) ReadData() byte      { return f.data }
func (f *fakeHW) WriteData(b byte)    { f.ops = append(f.ops, fmt.Sprintf("write %#02x", b)) }
func (f *fakeHW) Start(ack bool)      { f.ops = append(f.ops, "start") }
func (f *fakeHW) Stop(ack bool)       { f.ops = append(f.ops, fmt.Sprintf("stop ack=%v", ack)) }
func (f *fakeHW) Reply(ack bool) {
	if ack {
		f.ops = append(f.ops, "ack")
	} else {
		f.ops = append(f.ops, "nack")
	}
}
func (f *fakeHW) Release()            { f.ops = append(f.ops, "release") }
func (f *fakeHW) Listen()             { f.ops = append(f.ops, "listen") }
func (f *fakeHW) Block()              { f.ops = append(f.ops, "block") }
func (f *fakeHW) Reset()              { f.ops = append(f.ops, "reset") }
func (f *fakeHW) SetBitrate(uint32)   {}
func (f *fakeHW) SetSlaveAddr(byte)   {}

func (f *fakeHW) take() []string {
	ops := f.ops
	f.ops = nil
	return ops
}

func (f *fakeHW) step(a *Adapter, st Status) []string {
	f.st = st
	a.HandleInterrupt()
	return f.take()
}

func newEngine(t *testing.T) (*Adapter, *fakeHW) {
	t.Helper()
	c := &sysclock.Counter{}
	s := sched.New(c, 1000)
	hw := &fakeHW{}
	a := NewAdapter(s, hw, Config{OwnAddr: 0x56})
	hw.take() // discard init actions
	return a, hw
}

func wantOps(t *testing.T, got, want []string) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("ops = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("ops = %v, want %v", got, want)
		}
	}
}

func TestMasterTransmitHappyPath(t *testing.T) {
	a, hw := newEngine(t)
	a.msgs[SlotMasterTx] = &Message{Buf: []byte{0x11, 0x22}, Addr: 0x54}

	// START sent: SLA+W on the wire, START bit cleared.
	wantOps(t, hw.step(a, StatusStartSent), []string{"write 0xa8", "ack"})
	wantOps(t, hw.step(a, StatusMTSlaACK), []string{"write 0x11", "ack"})
	wantOps(t, hw.step(a, StatusMTDataACK), []string{"write 0x22", "ack"})
	// All bytes out, no receive queued: STOP, transaction done.
	wantOps(t, hw.step(a, StatusMTDataACK), []string{"stop ack=false"})

	if a.msgs[SlotMasterTx] != nil {
		t.Fatal("master-tx slot not cleared")
	}
	if a.busy {
		t.Fatal("adapter still busy after stop")
	}
	if a.masterErr != errcode.OK {
		t.Fatalf("masterErr = %v", a.masterErr)
	}
}

func TestMasterTransmitFinalByteNACKTolerated(t *testing.T) {
	a, hw := newEngine(t)
	a.msgs[SlotMasterTx] = &Message{Buf: []byte{0x11}, Addr: 0x54}

	hw.step(a, StatusStartSent)
	hw.step(a, StatusMTSlaACK) // writes the only byte
	hw.step(a, StatusMTDataNACK)

	if a.masterErr != errcode.OK {
		t.Fatalf("final-byte NACK reported %v, want ok", a.masterErr)
	}
}

func TestMasterTransmitEarlyDataNACKFatal(t *testing.T) {
	a, hw := newEngine(t)
	a.msgs[SlotMasterTx] = &Message{Buf: []byte{0x11, 0x22, 0x33}, Addr: 0x54}

	hw.step(a, StatusStartSent)
	hw.step(a, StatusMTSlaACK)
	ops := hw.step(a, StatusMTDataNACK) // two bytes still queued

	if a.masterErr != errcode.BusNackData {
		t.Fatalf("masterErr = %v, want nack-data", a.masterErr)
	}
	wantOps(t, ops, []string{"stop ack=false"})
	if a.msgs[SlotMasterTx] != nil || a.msgs[SlotMasterRx] != nil {
		t.Fatal("slots not cleared on fatal NACK")
	}
}

func TestMasterAddressNACKFatal(t *testing.T) {
	a, hw := newEngine(t)
	a.msgs[SlotMasterTx] = &Message{Buf: []byte{0x11}, Addr: 0x54}

	hw.step(a, StatusStartSent)
	hw.step(a, StatusMTSlaNACK)

	if a.masterErr != errcode.BusNackAddr {
		t.Fatalf("masterErr = %v, want nack-addr", a.masterErr)
	}
}

func TestMasterWriteThenReadUsesRepeatedStart(t *testing.T) {
	a, hw := newEngine(t)
	rx := make([]byte, 2)
	a.msgs[SlotMasterTx] = &Message{Buf: []byte{0x64}, Addr: 0x54}
	a.msgs[SlotMasterRx] = &Message{Buf: rx, Addr: 0x54}

	// Transmit outranks receive: SLA+W first.
	wantOps(t, hw.step(a, StatusStartSent), []string{"write 0xa8", "ack"})
	hw.step(a, StatusMTSlaACK)
	// Last byte ACKed and receive queued: repeated start, not stop+start.
	wantOps(t, hw.step(a, StatusMTDataACK), []string{"start"})
	// Repeated start: SLA+R this time.
	wantOps(t, hw.step(a, StatusRepStartSent), []string{"write 0xa9", "ack"})
	// Two bytes wanted: ACK the first.
	wantOps(t, hw.step(a, StatusMRSlaACK), []string{"ack"})
	hw.data = 0xCA
	wantOps(t, hw.step(a, StatusMRDataACK), []string{"nack"}) // next is the last
	hw.data = 0xFE
	wantOps(t, hw.step(a, StatusMRDataNACK), []string{"stop ack=false"})

	if rx[0] != 0xCA || rx[1] != 0xFE {
		t.Fatalf("rx = %#v", rx)
	}
	if a.masterErr != errcode.OK {
		t.Fatalf("masterErr = %v", a.masterErr)
	}
}

func TestMasterReceiveSingleByteNACKsImmediately(t *testing.T) {
	a, hw := newEngine(t)
	rx := make([]byte, 1)
	a.msgs[SlotMasterRx] = &Message{Buf: rx, Addr: 0x54}

	// Receive only: SLA+R straight away.
	wantOps(t, hw.step(a, StatusStartSent), []string{"write 0xa9", "ack"})
	// A single-byte read NACKs from the address ack on.
	wantOps(t, hw.step(a, StatusMRSlaACK), []string{"nack"})
	hw.data = 0x5A
	hw.step(a, StatusMRDataNACK)

	if rx[0] != 0x5A {
		t.Fatalf("rx = %#x", rx[0])
	}
}

func TestArbitrationLostReArmsAndSignals(t *testing.T) {
	a, hw := newEngine(t)
	a.msgs[SlotMasterTx] = &Message{Buf: []byte{0x11}, Addr: 0x54}

	hw.step(a, StatusStartSent)
	ops := hw.step(a, StatusArbLost)

	wantOps(t, ops, []string{"start"})
	if a.masterErr != errcode.BusArbLost {
		t.Fatalf("masterErr = %v, want arb-lost", a.masterErr)
	}
	if a.busy {
		t.Fatal("adapter busy after arbitration loss")
	}
	if a.msgs[SlotMasterTx] == nil {
		t.Fatal("pending transaction dropped; it must stay queued for the retry")
	}
}

func TestArbitrationLostFallsBackToListen(t *testing.T) {
	a, hw := newEngine(t)
	a.msgs[SlotMasterTx] = &Message{Buf: []byte{0x11}, Addr: 0x54}
	a.msgs[SlotSlaveRx] = &Message{Buf: make([]byte, 4)}

	hw.step(a, StatusStartSent)
	ops := hw.step(a, StatusArbLost)

	wantOps(t, ops, []string{"listen"})
}

func TestSlaveReceiveFlow(t *testing.T) {
	a, hw := newEngine(t)
	rx := make([]byte, 4)
	a.msgs[SlotSlaveRx] = &Message{Buf: rx}

	wantOps(t, hw.step(a, StatusSRSlaWACK), []string{"ack"})
	hw.data = 0xDE
	wantOps(t, hw.step(a, StatusSRDataACK), []string{"ack"})
	hw.data = 0xAD
	wantOps(t, hw.step(a, StatusSRDataACK), []string{"ack"})

	// STOP with nobody waiting on the slave queue: bus falls back to idle.
	wantOps(t, hw.step(a, StatusSRStop), []string{"release"})
	if rx[0] != 0xDE || rx[1] != 0xAD {
		t.Fatalf("rx = %#v", rx[:2])
	}
}

func TestSlaveReceiveWithoutBufferNACKs(t *testing.T) {
	a, hw := newEngine(t)
	ops := hw.step(a, StatusSRSlaWACK)
	wantOps(t, ops, []string{"nack"})
	if a.slaveErr == errcode.OK {
		t.Fatal("missing buffer must flag an error")
	}
}

func TestSlaveTransmitFlow(t *testing.T) {
	a, hw := newEngine(t)
	a.msgs[SlotSlaveTx] = &Message{Buf: []byte{0xBB, 0xCC}}
	a.slaveBlocked = true

	wantOps(t, hw.step(a, StatusSTSlaRACK), []string{"write 0xbb", "ack"})
	wantOps(t, hw.step(a, StatusSTDataACK), []string{"write 0xcc", "nack"})
	wantOps(t, hw.step(a, StatusSTDataNACK), []string{"release"})

	if a.msgs[SlotSlaveTx] != nil {
		t.Fatal("slave-tx slot not cleared")
	}
	if a.slaveBlocked {
		t.Fatal("interface still blocked")
	}
}

func TestSlaveTransmitResumesQueuedMasterWork(t *testing.T) {
	a, hw := newEngine(t)
	a.msgs[SlotSlaveTx] = &Message{Buf: []byte{0xBB}}
	a.msgs[SlotMasterTx] = &Message{Buf: []byte{0x01}, Addr: 0x54}

	hw.step(a, StatusSTSlaRACK)
	ops := hw.step(a, StatusSTDataNACK)
	wantOps(t, ops, []string{"start"})
}

func TestBusErrorClearsEverything(t *testing.T) {
	a, hw := newEngine(t)
	a.msgs[SlotMasterTx] = &Message{Buf: []byte{0x11}, Addr: 0x54}
	a.msgs[SlotMasterRx] = &Message{Buf: make([]byte, 1), Addr: 0x54}
	a.msgs[SlotSlaveRx] = &Message{Buf: make([]byte, 1)}
	a.busy = true

	ops := hw.step(a, StatusBusError)
	wantOps(t, ops, []string{"reset"})

	for i := range a.msgs {
		if a.msgs[i] != nil {
			t.Fatalf("slot %v survived a bus error", Slot(i))
		}
	}
	if a.busy {
		t.Fatal("adapter busy after bus error")
	}
	if a.masterErr != errcode.BusError || a.slaveErr != errcode.BusError {
		t.Fatalf("errors = %v/%v, want bus-error", a.masterErr, a.slaveErr)
	}
}
