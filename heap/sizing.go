package heap

import (
	"fmt"
	"time"
	"unsafe"
)

// relocFraction bounds how much of a committed heap's byte budget the
// relocation table may claim, mirroring the fixed-size relocation buffer
// ome/runtime/runtime.c carves out of its own arena (§3, §4.5: "the
// relocation buffer can fill up mid-compaction, in which case compaction
// finishes in a second, partial sweep").
const relocFraction = 16

// setHeapBase (re)carves one committed region of `size` bytes starting at
// base into an object arena plus its side metadata: a relocation table and
// a mark bitmap, both living above `limit` inside the same committed
// region, exactly as §3 requires ("relocs and bitmap are carved from the
// tail of the committed heap, never from the reservation beyond it").
//
// This corresponds to OME_set_heap_base / the sizing half of
// OME_context_new.
func (h *Heap) setHeapBase(base, size uintptr) {
	// A bit's meaning (live/marked) depends only on an address's offset
	// from base, never on where the bitmap itself happens to live in
	// memory — so growing the heap mid-mark (h.markList non-empty, some
	// bits already set for objects still on the worklist) must carry
	// those bits forward into the freshly carved bitmap rather than
	// zeroing them, or the worklist links they guard would desync from
	// "is this object already linked" and the list could be corrupted.
	oldBitmap := h.bitmap
	firstCall := oldBitmap == nil

	bitmapBits := size / HeapAlignment
	bitmapBytes := roundUp((bitmapBits+7)/8, uintptr(unsafe.Alignof(uint64(0))))

	relocBudget := size / relocFraction
	relocCount := relocBudget / uintptr(relocEntrySize)
	if relocCount < 3 {
		// One real entry, one boundary/identity entry a partial sweep can
		// always append when the table is this tight, and the terminal
		// sentinel finalizeRelocs writes.
		relocCount = 3
	}
	relocBytes := relocCount * uintptr(relocEntrySize)

	metadataSize := roundUp(bitmapBytes+relocBytes, HeapAlignment)

	h.base = base
	h.size = size
	if firstCall {
		// A grow keeps every allocated object, so the bump pointer stays put.
		h.pointer = base
	}
	h.limit = base + size - metadataSize

	off := base + size - metadataSize - h.base // offset within h.mem
	h.bitmap = bitmapSliceAt(h.mem, off, int(bitmapBytes/uintptr(unsafe.Sizeof(uint64(0)))))
	off += bitmapBytes
	h.relocs = relocSliceAt(h.mem, off, int(relocCount))
	h.relocsEnd = 0

	copy(h.bitmap, oldBitmap)
	for i := len(oldBitmap); i < len(h.bitmap); i++ {
		h.bitmap[i] = 0
	}

	if firstCall {
		h.markList = markListNull
		h.markSize = 0
	}
}

func bitmapSliceAt(mem []byte, off uintptr, n int) []uint64 {
	if n == 0 {
		return nil
	}
	return unsafe.Slice((*uint64)(unsafe.Pointer(&mem[off])), n)
}

func relocSliceAt(mem []byte, off uintptr, n int) []relocEntry {
	if n == 0 {
		return nil
	}
	return unsafe.Slice((*relocEntry)(unsafe.Pointer(&mem[off])), n)
}

// resizeHeap grows the committed region in place (the reservation is
// already sized for MaxHeapSize, so growth never needs a fresh mmap — it
// only needs to recompute where the metadata tail sits) and re-carves
// metadata at the new size, per §4.7's growth path. It refuses to exceed
// either the virtual reservation or Tunables.MaxHeapSize.
func (h *Heap) resizeHeap(newSize uintptr) error {
	if newSize > h.reservedSize {
		return fmt.Errorf("heap: cannot grow to %d bytes, reservation is only %d", newSize, h.reservedSize)
	}
	if newSize > h.tunables.MaxHeapSize {
		return fmt.Errorf("heap: cannot grow to %d bytes, exceeds MaxHeapSize %d", newSize, h.tunables.MaxHeapSize)
	}
	if h.trace.enabled() {
		h.trace.printf("growing heap from %d to %d bytes", h.size, newSize)
	}
	h.setHeapBase(h.base, newSize)
	return nil
}

// collect runs one incremental mark-compact cycle bounded by a deadline
// derived from Tunables.GCLatencyMS (§4.8). It returns true if the
// collection fully completed (mark drained and compaction finished) within
// the slice, matching OME_collect's boolean "did we finish" result.
func (h *Heap) collect() bool {
	dl := newDeadline(time.Duration(h.tunables.GCLatencyMS) * time.Millisecond)
	return h.collectWithDeadline(dl)
}

// collectFull runs mark-compact to completion with no deadline, the
// equivalent of calling OME_collect with latency_ms == 0 (§4.7: "a full,
// uninterruptible collection forces progress when the heap is truly out of
// space").
func (h *Heap) collectFull() bool {
	return h.collectWithDeadline(noDeadline)
}

func (h *Heap) collectWithDeadline(dl deadline) bool {
	h.stats.Collections++

	// A heap already mid-compact (compact() yielded last slice because the
	// deadline expired partway through) resumes compaction directly; mark
	// already finished and drained before compact() ever started, so
	// re-running it here would be wrong as well as redundant.
	if !h.compacting {
		markStart := time.Now()
		markDone := mark(h, dl)
		h.stats.recordMark(time.Since(markStart))
		if !markDone {
			if h.trace.enabled() {
				h.trace.printf("mark did not finish within deadline")
			}
			return false
		}
	}

	compactStart := time.Now()
	compactDone := compact(h, dl)
	h.stats.recordCompact(time.Since(compactStart))
	if compactDone {
		h.stats.FullCollections++
		h.collectBigObjects()
	}
	return compactDone
}

// collectBigObjects sweeps the big-object descriptor array, unmapping and
// dropping every descriptor whose mark bit mark() did not set this cycle
// (§4.6: "big objects are never moved, only freed or kept").
func (h *Heap) collectBigObjects() {
	live := h.bigObjects[h.bigObjectsLow:]
	sortBigObjectsByMark(live)

	freedUpTo := 0
	for i, b := range live {
		if b.mark {
			break
		}
		freedUpTo = i + 1
		_ = defaultPlatform.release(sliceFromAddr(b.body, b.size))
	}
	h.bigObjectsLow += freedUpTo

	for i := range h.bigObjects[h.bigObjectsLow:] {
		h.bigObjects[h.bigObjectsLow+i].mark = false
	}
	sortBigObjectsByBody(h.bigObjects[h.bigObjectsLow:])
}
