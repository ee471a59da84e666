// Package heap implements an incremental mark-compact garbage collector
// over a single mmap-reserved arena, grounded on the allocator hierarchy
// described in cloudfly-readgo/runtime/malloc.go but reshaped from a
// size-classed free-list allocator into a bump-pointer arena with
// relocation-table compaction, the design ome/runtime/runtime.c uses for a
// small tagged-value language runtime.
//
// A Heap is always owned by exactly one Context (package-level globals are
// deliberately avoided — see DESIGN.md's discussion of OME's thread-local
// current context).
package heap

import (
	"unsafe"

	"tagheap/value"
)

// Tunables mirrors the compile-time constants in ome/runtime/runtime.c
// (OME_MIN_HEAP_SIZE, OME_MAX_HEAP_SIZE, ...). They can be overridden per
// Context via config.Load; DefaultTunables matches the C source exactly.
type Tunables struct {
	// MinHeapSize is the floor of NewContext's reservation: a failed
	// reservation is halved and retried until it would drop below this.
	MinHeapSize uintptr
	// MaxHeapSize bounds both the virtual reservation and heap.size growth.
	MaxHeapSize uintptr
	// InitialHeapSize is the committed arena size a new Context starts with.
	InitialHeapSize uintptr
	// MaxHeapObjectSize is the largest object (in value-sized units) the
	// bump allocator will place in the arena; anything larger goes through
	// allocateBig.
	MaxHeapObjectSize uintptr
	// MaxBigObjectSize bounds allocateBig itself.
	MaxBigObjectSize uintptr
	// GCLatencyMS is the wall-clock budget (in milliseconds) an incremental
	// mark or compact slice gets before yielding back to the mutator.
	GCLatencyMS uint64
}

// DefaultTunables matches OME_MIN_HEAP_SIZE, OME_MAX_HEAP_SIZE, the 0x10000
// initial heap from OME_context_new, MAX_HEAP_OBJECT_SIZE/MAX_BIG_OBJECT_SIZE
// (large enough that ordinary language objects never hit the big-object
// path by accident), and the 50ms latency from §4.8.
var DefaultTunables = Tunables{
	MinHeapSize:       0x1000,
	MaxHeapSize:        64 << 30, // 64 GiB, per §6 Tunables
	InitialHeapSize:   0x10000,
	MaxHeapObjectSize: 8192,
	MaxBigObjectSize:  1 << 32,
	GCLatencyMS:       50,
}

// HeapAlignment is the granularity (in bytes) of every object slot (and so
// of every header address), and of the units relocation entries and intrusive-worklist links are expressed
// in (§3: "both are measured in 16-byte units").
const HeapAlignment = 16

// valueSize is sizeof(Value) in ome/runtime/runtime.c terms: every tagged
// word is 8 bytes.
const valueSize = 8

// header precedes every small-object body. Its first field doubles as the
// mark worklist link while the object sits on the worklist between being
// marked and being drained (§3, §9): this is the explicit union the design
// notes ask for, expressed as "don't read sizeOrMarkNext as a size while
// the header is linked onto the worklist" rather than as two overlapping
// Go types, since Go has no safe type-punning union.
type header struct {
	sizeOrMarkNext uint32
	scanOffset     uint32
	scanSize       uint32
}

// headerSize (12 bytes) does not divide HeapAlignment evenly. Every header
// starts on a HeapAlignment boundary and its body follows directly, so a
// body address is always headerSize bytes past a 16-byte boundary; no
// filler headers are written to realign bodies, and body addresses are
// not 16-byte aligned.
const headerSize = unsafe.Sizeof(header{})

// markListNull is the intrusive worklist's "empty" sentinel (§4.3): arena
// indices are 16-byte units, so 0xFFFFFFFF is never a valid one this side
// of a 64 GiB arena.
const markListNull = 0xFFFFFFFF

// relocEntry is one (src, diff) pair in the sorted relocation table (§3).
// Both fields are in HeapAlignment units.
type relocEntry struct {
	src  uint32
	diff uint32
}

const relocEntrySize = unsafe.Sizeof(relocEntry{})

// bigObject is a descriptor for an object too large for the arena (§3).
// Its body lives in its own mmap'd mapping and never moves.
type bigObject struct {
	body       uintptr
	size       uintptr
	scanOffset uint32
	scanSize   uint32
	mark       bool
}

// Heap is the collector's view of one Context's managed memory: a
// committed arena of heap.size bytes carved out of a much larger virtual
// reservation, plus the metadata (relocation table, mark bitmap) carved
// from the top of that same committed region, plus a descending array of
// big-object descriptors. That array is an ordinary Go slice; it is not
// carved from the reservation.
type Heap struct {
	mem          []byte // the full reservation, mmap'd once at Context creation
	reservedSize uintptr

	base    uintptr // &mem[0]
	pointer uintptr // bump allocation cursor
	limit   uintptr // end of the usable (non-metadata) arena
	size    uintptr // heap.size: base..base+size is the committed sub-region

	relocs    []relocEntry // sorted (src, diff) pairs, carved from the top of [base, base+size)
	relocsEnd int          // relocs[:relocsEnd] is the live portion
	bitmap    []uint64     // one bit per HeapAlignment-sized slot (a potential header position)

	bigObjects    []bigObject // descending array of live descriptors
	bigObjectsLow int         // bigObjects[bigObjectsLow:] are live; grows downward

	markList uint32 // intrusive worklist head, in HeapAlignment units
	markSize uintptr

	// compacting and the two cursors below persist compact()'s progress
	// across a deadline-expired return, the same way markList persists
	// mark()'s: a resumed collect() skips straight back into compact()
	// instead of restarting the sweep from h.base.
	compacting  bool
	compactDest uintptr
	compactBit  int

	tunables Tunables
	trace    tracer
	stats    Stats

	roots rootSource
}

// rootSource is the collector's view of a Context: the one thing mark
// needs from it is the live operand range to scan conservatively (§5, §9).
// Keeping this as an interface rather than importing Context back into
// Heap keeps the dependency direction the same one Context -> Heap
// already has.
type rootSource interface {
	StackSlice() []value.Word
}

func roundDown(n, align uintptr) uintptr { return n &^ (align - 1) }
func roundUp(n, align uintptr) uintptr   { return (n + align - 1) &^ (align - 1) }

func isHeaderAligned(addr uintptr) bool {
	return (addr+uintptr(headerSize))&(HeapAlignment-1) == 0
}

func (h *Heap) headerAt(addr uintptr) *header {
	return (*header)(unsafe.Pointer(&h.mem[addr-h.base]))
}

func (h *Heap) bodyOf(hdr *header) uintptr {
	return uintptr(unsafe.Pointer(hdr)) + uintptr(headerSize)
}

// objectSize recovers an object's total body size (bytes, unaligned) from
// its scan range rather than from sizeOrMarkNext, since that field is only
// meaningful while the object sits on the intrusive mark worklist (§9).
// The convention: a pointer-bearing object's scanned range always runs to
// the end of its body (scanOffset is where pointers start, scanSize is
// how many scanned bytes follow, so the body ends at scanOffset+scanSize);
// a non-pointer object (scanSize == 0, e.g. a string) instead stores its
// full body length directly in scanOffset. An all-zero header (as found
// past the bump pointer) therefore reads as an empty body.
func (h *Heap) objectSize(hdr *header) uintptr {
	if hdr.scanSize == 0 {
		return uintptr(hdr.scanOffset)
	}
	return uintptr(hdr.scanOffset) + uintptr(hdr.scanSize)
}

// slotSize is the total 16-byte-aligned footprint of a header plus its
// body, the increment compact and the bump allocator both step by.
func (h *Heap) slotSize(hdr *header) uintptr {
	return roundUp(uintptr(headerSize)+h.objectSize(hdr), HeapAlignment)
}

// valuesAtRaw returns the n values (8-byte tagged words) starting at addr as a
// slice over the live backing memory — arena memory for small objects, or
// a big object's separately mmap'd body.
func valuesAtRaw(addr uintptr, n uintptr) []uint64 {
	if n == 0 {
		return nil
	}
	return unsafe.Slice((*uint64)(unsafe.Pointer(addr)), int(n))
}

// unsafeAddr returns the address of a []byte's backing array. Used once per
// reservation, to establish Heap.base.
func unsafeAddr(mem []byte) uintptr {
	if len(mem) == 0 {
		return 0
	}
	return uintptr(unsafe.Pointer(&mem[0]))
}

// sliceFromAddr reconstructs a []byte view over a raw address/length,
// the inverse of unsafeAddr — needed to hand a big object's body back to
// platform.release, which only accepts the []byte shape mmap/munmap want.
func sliceFromAddr(addr, size uintptr) []byte {
	if size == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(addr)), int(size))
}
