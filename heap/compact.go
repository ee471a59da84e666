package heap

import "tagheap/value"

// compact slides every live (bitmap-marked) small object down to close the
// gaps left by garbage, resuming across collect() slices exactly like mark
// resumes across its own worklist (§4.4/§4.8). Each iteration finds the
// next live run via scanBitmap, coalesces consecutive live objects sharing
// one relocation diff, and slides that run down in one copy. Two things can
// interrupt the sweep: the relocation table running low, or the deadline
// expiring. Both trigger a partial sweep — fix up every pointer that
// depends on the table built so far, then reset it and keep compacting
// (§4.4 step 4, §8: "a partial sweep fires exactly once and the buffer is
// reset"). h.compacting/compactDest/compactBit persist across a
// deadline-expired return the same way h.markList persists mark's resume
// point.
func compact(h *Heap, dl deadline) bool {
	assertf(h.markList == markListNull, "compact called while the mark worklist is not empty")

	if !h.compacting {
		h.relocsEnd = 0
		h.compactDest = h.base
		h.compactBit = 0
		h.compacting = true
	}

	for {
		if dl.expired() {
			h.partialSweep(h.base + uintptr(h.compactBit)*HeapAlignment)
			return false
		}

		bit, ok := scanBitmap(h.bitmap, h.compactBit)
		if !ok {
			h.finishCompact()
			return true
		}

		runStart := h.base + uintptr(bit)*HeapAlignment
		runEnd := extendRun(h, runStart)
		dest := h.compactDest
		diff := runStart - dest

		if diff != 0 {
			// Two slots are always reserved ahead of the terminal sentinel
			// (setHeapBase's relocCount >= 3 floor): one for the boundary
			// entry partialSweep appends, one for the sentinel itself. That
			// guarantees a partial sweep can always fire before the table
			// is fully exhausted, however small it is.
			if h.relocsEnd >= len(h.relocs)-2 {
				h.partialSweep(runStart)
				continue
			}
			h.appendReloc(runStart, diff)
			runLen := runEnd - runStart
			copy(h.mem[dest-h.base:dest-h.base+runLen], h.mem[runStart-h.base:runEnd-h.base])
		}

		h.compactDest = dest + (runEnd - runStart)
		h.compactBit = int(h.bitIndex(runEnd))
	}
}

// extendRun walks forward from a live header, coalescing consecutive live
// objects that share one relocation diff into a single run — the "extend
// the run" scan_bitmap is meant to drive (§4.4 step 2) rather than
// appending one relocation entry per object. It stops at the first dead
// (unmarked) header or the arena limit, since a dead object in between
// changes the diff the next live object needs.
func extendRun(h *Heap, start uintptr) uintptr {
	addr := start
	for addr < h.limit && h.testBit(addr) {
		hdr := h.headerAt(addr)
		addr += h.slotSize(hdr)
	}
	return addr
}

// partialSweep fires when the relocation table is nearly full or the
// deadline has expired mid-compaction. It appends an identity boundary
// entry at `boundary` — nothing at or past that address has moved yet this
// pass, so any pointer into it must resolve unchanged — then fixes up every
// pointer that depends on the table built so far: roots, the
// already-compacted prefix, big objects, and the not-yet-moved tail. The
// table is then reset so compact can keep appending from a clean slate.
func (h *Heap) partialSweep(boundary uintptr) {
	h.appendReloc(boundary, 0)
	h.finalizeRelocs()
	relocateRoots(h)
	relocateCompacted(h, h.compactDest)
	relocateBigObjects(h)
	relocateTail(h, boundary)
	h.relocsEnd = 0
}

// finishCompact runs once scanBitmap finds no more live bits: it finalizes
// the relocation table one last time, fixes up every surviving pointer, and
// resets the arena to its new compacted state. The dead region from the
// new pointer out to the committed limit is zeroed, per §3's "followed by
// zeroed bytes out to limit" invariant.
func (h *Heap) finishCompact() {
	h.finalizeRelocs()
	relocateRoots(h)
	relocateCompacted(h, h.compactDest)
	relocateBigObjects(h)

	dest := h.compactDest
	clear(h.mem[dest-h.base : h.limit-h.base])

	h.pointer = dest
	for i := range h.bitmap {
		h.bitmap[i] = 0
	}
	h.markList = markListNull
	h.markSize = 0
	h.compacting = false

	if h.trace.enabled() {
		h.trace.printf("compacted: %d live bytes, %d relocation entries", dest-h.base, h.relocsEnd)
	}
}

// relocateRoots rewrites every tagged-pointer value in the Context's
// operand stack to its post-compaction address.
func relocateRoots(h *Heap) {
	roots := h.roots.StackSlice()
	for i, w := range roots {
		if nw, ok := relocateValue(h, w); ok {
			roots[i] = nw
		}
	}
}

// relocateCompacted walks the now-dense [base, dest) region and rewrites
// every tagged pointer found in each object's scan range, since those
// pointers still refer to pre-compaction addresses. Addresses already in
// their final position resolve unchanged against any later relocation
// table, since a finished object's pointer values always sit below that
// table's domain — so repeated calls across several partial sweeps are
// idempotent for the portion each earlier sweep already fixed up.
func relocateCompacted(h *Heap, dest uintptr) {
	addr := h.base
	for addr < dest {
		hdr := h.headerAt(addr)
		relocateObject(h, hdr)
		addr += h.slotSize(hdr)
	}
}

// relocateTail walks the not-yet-compacted region [tailStart, limit),
// rewriting pointers in every live, pointer-bearing object found there.
// Those objects haven't moved this pass, but they may hold pointers into
// the already-compacted prefix, which has.
func relocateTail(h *Heap, tailStart uintptr) {
	addr := tailStart
	for addr < h.limit {
		hdr := h.headerAt(addr)
		sz := h.slotSize(hdr)
		if h.testBit(addr) {
			relocateObject(h, hdr)
		}
		addr += sz
	}
}

// relocateObject rewrites the tagged pointers in one object's scan range
// in place.
func relocateObject(h *Heap, hdr *header) {
	if hdr.scanSize == 0 {
		return
	}
	body := h.bodyOf(hdr)
	values := valuesAtRaw(body+uintptr(hdr.scanOffset), uintptr(hdr.scanSize)/valueSize)
	for i, raw := range values {
		if nw, ok := relocateValue(h, value.Word(raw)); ok {
			values[i] = uint64(nw)
		}
	}
}

// relocateBigObjects rewrites the tagged pointers inside every surviving
// big object's scan range. Big objects themselves never move (§3), only
// what they point into the small-object arena can change address.
func relocateBigObjects(h *Heap) {
	for _, big := range h.bigObjects[h.bigObjectsLow:] {
		if big.scanSize == 0 {
			continue
		}
		values := valuesAtRaw(big.body+uintptr(big.scanOffset), uintptr(big.scanSize)/valueSize)
		for i, raw := range values {
			if nw, ok := relocateValue(h, value.Word(raw)); ok {
				values[i] = uint64(nw)
			}
		}
	}
}

// relocateValue returns w with its body address updated to its
// post-compaction position, if w is a tagged pointer into the small-object
// arena. ok is false for anything relocateValue should leave untouched
// (floats, non-pointer tags, big-object addresses, which never move).
func relocateValue(h *Heap, w value.Word) (value.Word, bool) {
	if w.IsFloat() || w.Tag() < value.PointerTagFloor {
		return w, false
	}
	addr := w.Body()
	if addr < h.base || addr >= h.limit {
		return w, false // big-object body, untouched by compaction
	}
	newAddr := h.findRelocation(addr)
	if newAddr == addr {
		return w, false
	}
	return value.Tagged(w.Tag(), newAddr), true
}
