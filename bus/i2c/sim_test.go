package i2c

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"bermuda-go/errcode"
	"bermuda-go/kernel/sched"
	"bermuda-go/kernel/sysclock"
)

// bench wires a scheduler, tick driver, sim wire and adapter together.
type bench struct {
	s   *sched.Sched
	bus *SimBus
	a   *Adapter
}

func newBench(t *testing.T, ownAddr byte) (*bench, func()) {
	t.Helper()
	c := &sysclock.Counter{}
	s := sched.New(c, 1000)
	drv := sysclock.NewDriver(c, time.Millisecond)
	bus := NewSimBus()
	a := NewAdapter(s, bus.Hardware(), Config{OwnAddr: ownAddr})
	bus.Attach(a)
	bus.Start()
	drv.Start()
	return &bench{s: s, bus: bus, a: a}, func() {
		drv.Stop()
		bus.Stop()
	}
}

func TestEEPROMWriteThenRead(t *testing.T) {
	b, stop := newBench(t, 0x10)
	defer stop()
	b.bus.AddSlave(0x54, NewSimEEPROM(256))

	c := NewClient(b.a, 0x54, 100000)
	var got byte
	var werr, rerr error
	b.s.Go("eeprom", func(any) {
		// Set address 0x64 to 0xAC.
		werr = c.MasterXfer([]byte{0x64, 0xAC}, nil, DefaultTimeout)
		// Address again, repeated-start read one byte.
		var rx [1]byte
		rerr = c.MasterXfer([]byte{0x64}, rx[:], DefaultTimeout)
		got = rx[0]
	}, nil, 100)
	b.s.Run()

	if werr != nil || rerr != nil {
		t.Fatalf("xfer errors: %v / %v", werr, rerr)
	}
	if got != 0xAC {
		t.Fatalf("read back %#02x, want 0xac", got)
	}
}

func TestLoopbackEchoRoundTrip(t *testing.T) {
	b, stop := newBench(t, 0x10)
	defer stop()
	b.bus.AddSlave(0x22, &SimEchoSlave{})

	msg := []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08}
	rx := make([]byte, len(msg))
	c := NewClient(b.a, 0x22, 400000)
	var err error
	b.s.Go("echo", func(any) {
		if err = c.MasterXfer(msg, nil, DefaultTimeout); err != nil {
			return
		}
		err = c.MasterXfer(nil, rx, DefaultTimeout)
	}, nil, 100)
	b.s.Run()

	if err != nil {
		t.Fatalf("xfer: %v", err)
	}
	if !bytes.Equal(rx, msg) {
		t.Fatalf("echoed %#v, want %#v", rx, msg)
	}
}

func TestMasterAddressNACK(t *testing.T) {
	b, stop := newBench(t, 0x10)
	defer stop()
	b.bus.AddSlave(0x30, SimNackSlave{})

	c := NewClient(b.a, 0x30, 100000)
	var err error
	b.s.Go("nack", func(any) {
		err = c.MasterXfer([]byte{0x00}, nil, DefaultTimeout)
	}, nil, 100)
	b.s.Run()

	if !errors.Is(err, errcode.BusNackAddr) {
		t.Fatalf("err = %v, want nack-addr", err)
	}
}

func TestMasterXferToAbsentPeer(t *testing.T) {
	b, stop := newBench(t, 0x10)
	defer stop()

	c := NewClient(b.a, 0x42, 100000)
	var err error
	b.s.Go("absent", func(any) {
		err = c.MasterXfer([]byte{0x00}, nil, DefaultTimeout)
	}, nil, 100)
	b.s.Run()

	if !errors.Is(err, errcode.BusNackAddr) {
		t.Fatalf("err = %v, want nack-addr", err)
	}
}

func TestSlaveCallbackResponds(t *testing.T) {
	b, stop := newBench(t, 0x56)
	defer stop()

	c := NewClient(b.a, 0, 100000)
	var gotReq []byte
	c.Callback = func(rx []byte) []byte {
		gotReq = append([]byte(nil), rx...)
		return []byte{0xBB}
	}

	var n int
	var lerr error
	b.s.Go("slave", func(any) {
		var rx [8]byte
		n, lerr = c.SlaveListen(rx[:], 2000)
	}, nil, 100)

	// External master on its own goroutine: write 0x01, then read back one
	// byte of the callback's response.
	var resp []byte
	extDone := make(chan struct{})
	go func() {
		defer close(extDone)
		if !b.bus.ScriptMasterWrite(b.a, []byte{0x01}, time.Second) {
			return
		}
		resp = b.bus.ScriptMasterRead(1, time.Second)
	}()

	b.s.Run()
	<-extDone

	if lerr != nil {
		t.Fatalf("listen: %v", lerr)
	}
	if n != 1 || len(gotReq) != 1 || gotReq[0] != 0x01 {
		t.Fatalf("slave received n=%d %#v", n, gotReq)
	}
	if len(resp) != 1 || resp[0] != 0xBB {
		t.Fatalf("master read %#v, want [0xbb]", resp)
	}
}

func TestSlaveListenTimeout(t *testing.T) {
	b, stop := newBench(t, 0x56)
	defer stop()

	c := NewClient(b.a, 0, 100000)
	var err error
	b.s.Go("slave", func(any) {
		var rx [4]byte
		_, err = c.SlaveListen(rx[:], 30)
	}, nil, 100)
	b.s.Run()

	if !errors.Is(err, errcode.Timeout) {
		t.Fatalf("err = %v, want timeout", err)
	}
}

func TestBusErrorWakesWaiters(t *testing.T) {
	b, stop := newBench(t, 0x56)
	defer stop()

	c := NewClient(b.a, 0, 100000)
	var err error
	b.s.Go("slave", func(any) {
		var rx [4]byte
		_, err = c.SlaveListen(rx[:], 2000)
	}, nil, 100)

	go func() {
		// Let the listener park first.
		for !b.a.slaveQ.HasWaiter() {
			time.Sleep(time.Millisecond)
		}
		b.bus.InjectBusError()
	}()
	b.s.Run()

	if !errors.Is(err, errcode.BusError) {
		t.Fatalf("err = %v, want bus-error", err)
	}
}

func TestBusConnTx(t *testing.T) {
	b, stop := newBench(t, 0x10)
	defer stop()
	ee := NewSimEEPROM(256)
	b.bus.AddSlave(0x50, ee)

	conn := NewBusConn(b.a, 100000)
	var err error
	var rx [1]byte
	b.s.Go("drv", func(any) {
		if err = conn.Tx(0x50, []byte{0x20, 0x7E}, nil); err != nil {
			return
		}
		err = conn.Tx(0x50, []byte{0x20}, rx[:])
	}, nil, 100)
	b.s.Run()

	if err != nil {
		t.Fatalf("tx: %v", err)
	}
	if rx[0] != 0x7E {
		t.Fatalf("read %#02x, want 0x7e", rx[0])
	}
}
