// Package mm provides a first-fit heap allocator over a single contiguous
// region with node headers and coalescing.
//
// Semantics
//   - The free list is address-ordered; adjacent free nodes are merged.
//   - Every node header carries a magic word, FREE or ALLOC; a free of a
//     pointer whose header is not ALLOC is ignored (double-free safe).
//   - Allocation is guarded by a test-and-set spin lock so it is safe from
//     any goroutine, including interrupt stand-ins.
//
// Handles are region offsets (Ptr), not Go pointers, so that identity
// round-trips exactly: free followed by an equal-size alloc returns the
// same handle when nothing else intervened.
package mm

import (
	"encoding/binary"
)

// Ptr is a payload offset into the heap region. The zero Ptr is the null
// handle (a payload can never start at offset zero; a header precedes it).
type Ptr uint32

const (
	magicFree  = 0x46524545 // "FREE"
	magicAlloc = 0x414C4C4F // "ALLO"

	hdrSize = 12 // magic + size + next, uint32 each

	// A free node only splits when the remainder can hold a header plus
	// this many payload bytes.
	minSplit = 4

	nilOff = ^uint32(0)
)

// Heap is a single contiguous allocation region.
type Heap struct {
	mem  []byte
	head uint32 // offset of the first free node, nilOff when exhausted
	lock spinLock
}

// New returns a heap over a fresh region of the given size.
func New(size int) *Heap {
	if size < hdrSize+minSplit {
		panic("mm: region too small")
	}
	h := &Heap{mem: make([]byte, size), head: 0}
	h.initHeader(0, uint32(size-hdrSize))
	return h
}

func (h *Heap) initHeader(off, size uint32) {
	h.setMagic(off, magicFree)
	h.setSize(off, size)
	h.setNext(off, nilOff)
}

func (h *Heap) magic(off uint32) uint32     { return binary.LittleEndian.Uint32(h.mem[off:]) }
func (h *Heap) setMagic(off, v uint32)      { binary.LittleEndian.PutUint32(h.mem[off:], v) }
func (h *Heap) size(off uint32) uint32      { return binary.LittleEndian.Uint32(h.mem[off+4:]) }
func (h *Heap) setSize(off, v uint32)       { binary.LittleEndian.PutUint32(h.mem[off+4:], v) }
func (h *Heap) next(off uint32) uint32      { return binary.LittleEndian.Uint32(h.mem[off+8:]) }
func (h *Heap) setNext(off, v uint32)       { binary.LittleEndian.PutUint32(h.mem[off+8:], v) }
func (h *Heap) nodeEnd(off uint32) uint32   { return off + hdrSize + h.size(off) }

// Alloc finds the first free node of at least n bytes, splitting it when
// the remainder is worth keeping. It returns the null Ptr when no node
// fits.
func (h *Heap) Alloc(n int) Ptr {
	if n <= 0 || n > len(h.mem)-hdrSize {
		return 0
	}
	want := uint32(n)

	h.lock.acquire()
	defer h.lock.release()

	c, prev := h.head, nilOff
	for c != nilOff {
		sz := h.size(c)
		if sz == want {
			break
		}
		if sz > want {
			if sz < want+hdrSize+minSplit {
				break // too small to split, hand out whole
			}
			h.splitNode(c, want)
			break
		}
		prev = c
		c = h.next(c)
	}
	if c == nilOff {
		return 0
	}

	h.useNode(c, prev)
	return Ptr(c + hdrSize)
}

// Free returns the payload at p to the heap and merges it with physically
// adjacent free neighbours. A handle whose header is not ALLOC is ignored.
func (h *Heap) Free(p Ptr) {
	if p == 0 || uint32(p) < hdrSize || uint32(p) > uint32(len(h.mem)) {
		return
	}
	node := uint32(p) - hdrSize

	h.lock.acquire()
	defer h.lock.release()

	if h.magic(node) != magicAlloc {
		return // double free or corruption; leave the list untouched
	}
	h.returnNode(node)
	h.coalesce()
}

// Bytes returns the payload slice for p, or nil for the null handle.
func (h *Heap) Bytes(p Ptr) []byte {
	if p == 0 {
		return nil
	}
	node := uint32(p) - hdrSize
	return h.mem[p : uint32(p)+h.size(node)]
}

// Available sums the free payload bytes in the heap.
func (h *Heap) Available() int {
	h.lock.acquire()
	defer h.lock.release()

	total := 0
	for c := h.head; c != nilOff; c = h.next(c) {
		total += int(h.size(c))
	}
	return total
}

// useNode marks a free node ALLOC and unlinks it from the free list.
func (h *Heap) useNode(node, prev uint32) {
	h.setMagic(node, magicAlloc)
	if prev != nilOff {
		h.setNext(prev, h.next(node))
	} else {
		h.head = h.next(node)
	}
	h.setNext(node, nilOff)
}

// splitNode carves the tail of a free node into a new free node so that
// the original is exactly req bytes.
func (h *Heap) splitNode(node, req uint32) {
	tail := node + hdrSize + req
	h.initHeader(tail, h.size(node)-req-hdrSize)
	h.setNext(tail, h.next(node))
	h.setNext(node, tail)
	h.setSize(node, req)
}

// returnNode flips a node back to FREE and reinserts it address-ordered.
func (h *Heap) returnNode(node uint32) {
	h.setMagic(node, magicFree)

	if h.head == nilOff || node < h.head {
		h.setNext(node, h.head)
		h.head = node
		return
	}
	for c := h.head; ; c = h.next(c) {
		nx := h.next(c)
		if nx == nilOff || (node > c && node < nx) {
			h.setNext(node, nx)
			h.setNext(c, node)
			return
		}
	}
}

// coalesce merges every pair of physically adjacent free nodes. The free
// list is address-ordered, so one forward pass suffices.
func (h *Heap) coalesce() {
	c := h.head
	for c != nilOff {
		nx := h.next(c)
		if nx != nilOff && h.nodeEnd(c) == nx {
			h.setSize(c, h.size(c)+hdrSize+h.size(nx))
			h.setNext(c, h.next(nx))
			continue // the merged node may now touch its new successor
		}
		c = nx
	}
}
