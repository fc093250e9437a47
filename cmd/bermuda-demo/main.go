// Command bermuda-demo boots the kernel against the simulated buses and
// exercises the whole stack: threads, timers, wait queues, the device
// table, the I²C EEPROM and slave callback paths, and the SPI SRAM.
//
// Init ordering is fixed: heap, tick, timers+scheduler, device table,
// buses. With --interactive a tiny monitor reads commands from stdin.
package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/google/shlex"
	flag "github.com/spf13/pflag"

	"bermuda-go/bus/i2c"
	"bermuda-go/bus/spi"
	"bermuda-go/dev"
	"bermuda-go/kernel/mm"
	"bermuda-go/kernel/sched"
	"bermuda-go/kernel/sysclock"
	"bermuda-go/kernel/vtimer"
	"bermuda-go/lib/eeprom24"
	"bermuda-go/lib/spiram"
)

var (
	tickPeriod  = flag.Duration("tick", time.Millisecond, "hardware tick period")
	heapSize    = flag.Int("heap", 4096, "heap region size in bytes")
	interactive = flag.Bool("interactive", false, "run the stdin monitor instead of exiting")
)

func main() {
	flag.Parse()
	fmt.Println("== bermuda: cooperative kernel demo (sim buses) ==")

	// Boot order: heap first, then the tick source, then the scheduler
	// that owns the timer wheel, then the device table, then the buses.
	heap := mm.New(*heapSize)
	counter := &sysclock.Counter{}
	tick := sysclock.NewDriver(counter, *tickPeriod)
	s := sched.New(counter, uint32(time.Second / *tickPeriod))
	table := dev.NewTable(s)

	i2cBus := i2c.NewSimBus()
	i2cAdapter := i2c.NewAdapter(s, i2cBus.Hardware(), i2c.Config{OwnAddr: 0x56})
	i2cBus.Attach(i2cAdapter)
	i2cBus.AddSlave(0x54, i2c.NewSimEEPROM(256))

	spiBus := spi.NewSimBus()
	spiAdapter := spi.NewAdapter(s, spiBus.Hardware(), spi.Config{ClockHz: 16_000_000})
	spiBus.Attach(spiAdapter)
	sramCS := spiBus.AddDevice(spi.NewSimSRAM(0))

	ee := eeprom24.New(i2c.NewClient(i2cAdapter, 0x54, 100_000))
	ram := spiram.New(spi.NewClient(spiAdapter, sramCS, 1_000_000, spi.Mode0))

	registerNodes(table, ee, ram)

	tick.Start()
	defer tick.Stop()
	i2cBus.Start()
	defer i2cBus.Stop()
	spiBus.Start()
	defer spiBus.Stop()

	// Heartbeat: a periodic virtual timer, fired from scheduler passes.
	beats := 0
	s.Wheel().Create(500, func(*vtimer.Timer, any) { beats++ }, nil, vtimer.Periodic)

	s.Go("eeprom-demo", func(any) {
		if err := ee.WriteByte(0x64, 0xAC); err != nil {
			fmt.Println("eeprom write:", err)
			return
		}
		b, err := ee.ReadByte(0x64)
		if err != nil {
			fmt.Println("eeprom read:", err)
			return
		}
		fmt.Printf("eeprom[0x64] = %#02x\n", b)
	}, nil, 100)

	s.Go("sram-demo", func(any) {
		if err := ram.WriteByte(0x0050, 0xF8); err != nil {
			fmt.Println("sram write:", err)
			return
		}
		b, err := ram.ReadByte(0x0050)
		if err != nil {
			fmt.Println("sram read:", err)
			return
		}
		fmt.Printf("sram[0x0050] = %#02x\n", b)
	}, nil, 100)

	slave := i2c.NewClient(i2cAdapter, 0, 100_000)
	slave.Callback = func(rx []byte) []byte {
		fmt.Printf("slave rx %#v, responding 0xbb\n", rx)
		return []byte{0xBB}
	}
	s.Go("slave-demo", func(any) {
		var rx [8]byte
		n, err := slave.SlaveListen(rx[:], 2000)
		if err != nil {
			fmt.Println("slave listen:", err)
			return
		}
		fmt.Printf("slave transfer done, %d byte(s)\n", n)
	}, nil, 110)

	// External master poking the slave path, as foreign bus traffic.
	go func() {
		if i2cBus.ScriptMasterWrite(i2cAdapter, []byte{0x01}, 2*time.Second) {
			resp := i2cBus.ScriptMasterRead(1, 2*time.Second)
			fmt.Printf("external master read %#v\n", resp)
		}
	}()

	if *interactive {
		runMonitor(s, table, heap)
	}

	s.Run()
	fmt.Printf("kernel idle: %d heartbeat(s), %d byte(s) of heap free\n", beats, heap.Available())
}

// node adapts a demo peripheral into a device-table entry with a cursor
// byte stream and peek/poke controls.
type node struct {
	mu     sync.Mutex
	cursor int
	rd     func(addr int) (byte, error)
	wr     func(addr int, b byte) error
}

func (n *node) Write(p []byte) (int, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for i, b := range p {
		if err := n.wr(n.cursor, b); err != nil {
			return i, err
		}
		n.cursor++
	}
	return len(p), nil
}

func (n *node) Read(p []byte) (int, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for i := range p {
		b, err := n.rd(n.cursor)
		if err != nil {
			return i, err
		}
		p[i] = b
		n.cursor++
	}
	return len(p), nil
}

func (n *node) Flush() error { return nil }
func (n *node) Close() error {
	n.mu.Lock()
	n.cursor = 0
	n.mu.Unlock()
	return nil
}

func (n *node) control(method string, payload any) (any, error) {
	switch method {
	case "peek":
		addr := payload.(int)
		return n.rd(addr)
	case "poke":
		pair := payload.([2]int)
		return nil, n.wr(pair[0], byte(pair[1]))
	case "seek":
		n.mu.Lock()
		n.cursor = payload.(int)
		n.mu.Unlock()
		return nil, nil
	}
	return nil, fmt.Errorf("unknown control %q", method)
}

func registerNodes(table *dev.Table, ee *eeprom24.Device, ram *spiram.Device) {
	een := &node{
		rd: func(addr int) (byte, error) { return ee.ReadByte(byte(addr)) },
		wr: func(addr int, b byte) error { return ee.WriteByte(byte(addr), b) },
	}
	ramn := &node{
		rd: func(addr int) (byte, error) { return ram.ReadByte(uint16(addr)) },
		wr: func(addr int, b byte) error { return ram.WriteByte(uint16(addr), b) },
	}
	for _, d := range []*dev.Device{
		{Name: "eeprom0", IO: een, Control: een.control},
		{Name: "sram0", IO: ramn, Control: ramn.control},
	} {
		if err := table.Register(d); err != nil {
			fmt.Println("register", d.Name+":", err)
		}
	}
}

// runMonitor spawns the stdin monitor: a plain goroutine feeds lines into
// a wait queue like any other interrupt source, and a kernel thread
// consumes them. Line buffers come from the region heap.
func runMonitor(s *sched.Sched, table *dev.Table, heap *mm.Heap) {
	var mu sync.Mutex
	var lines []mm.Ptr
	q := s.NewQueue()

	go func() {
		sc := bufio.NewScanner(os.Stdin)
		for sc.Scan() {
			if len(sc.Bytes()) == 0 {
				continue
			}
			p := heap.Alloc(len(sc.Bytes()))
			if p == 0 {
				fmt.Println("monitor: out of heap")
				continue
			}
			copy(heap.Bytes(p), sc.Bytes())
			mu.Lock()
			lines = append(lines, p)
			mu.Unlock()
			q.SignalFromISR()
		}
	}()

	s.Go("monitor", func(any) {
		fmt.Println("monitor ready; commands: devs, peek <dev> <addr>, poke <dev> <addr> <val>, avail, exit")
		for {
			if err := q.Wait(0); err != nil {
				return
			}
			mu.Lock()
			pending := lines
			lines = nil
			mu.Unlock()
			for _, p := range pending {
				line := string(heap.Bytes(p))
				heap.Free(p)
				if !monitorExec(s, table, heap, line) {
					return
				}
			}
		}
	}, nil, 120)
}

func monitorExec(s *sched.Sched, table *dev.Table, heap *mm.Heap, line string) bool {
	args, err := shlex.Split(line)
	if err != nil {
		fmt.Println("parse:", err)
		return true
	}
	if len(args) == 0 {
		return true
	}
	switch args[0] {
	case "exit", "quit":
		s.Stop()
		return false
	case "devs":
		for _, n := range table.Names() {
			fmt.Println(" ", n)
		}
	case "avail":
		fmt.Printf("%d byte(s) of heap free\n", heap.Available())
	case "peek":
		if len(args) != 3 {
			fmt.Println("usage: peek <dev> <addr>")
			return true
		}
		d, ok := table.Lookup(args[1])
		if !ok {
			fmt.Println("no such device")
			return true
		}
		addr, _ := strconv.ParseUint(args[2], 0, 16)
		if err := table.Acquire(d, 500); err != nil {
			fmt.Println("acquire:", err)
			return true
		}
		v, err := d.Control("peek", int(addr))
		table.Release(d)
		if err != nil {
			fmt.Println("peek:", err)
			return true
		}
		fmt.Printf("%s[%#x] = %#02x\n", args[1], addr, v)
	case "poke":
		if len(args) != 4 {
			fmt.Println("usage: poke <dev> <addr> <val>")
			return true
		}
		d, ok := table.Lookup(args[1])
		if !ok {
			fmt.Println("no such device")
			return true
		}
		addr, _ := strconv.ParseUint(args[2], 0, 16)
		val, _ := strconv.ParseUint(args[3], 0, 8)
		if err := table.Acquire(d, 500); err != nil {
			fmt.Println("acquire:", err)
			return true
		}
		_, err := d.Control("poke", [2]int{int(addr), int(val)})
		table.Release(d)
		if err != nil {
			fmt.Println("poke:", err)
		}
	default:
		fmt.Println("unknown command:", args[0])
	}
	return true
}
