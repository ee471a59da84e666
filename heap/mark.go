package heap

import "tagheap/value"

// mark drains the intrusive worklist starting from the Context's roots:
// the operand stack (conservative: every slot is inspected but only
// tagged-pointer values are followed, §9) and every already-marked object's
// scan range (precise: each header records exactly which sub-range of its
// body holds tagged words, §3). It returns false if the deadline expired
// before the worklist drained, in which case the caller must resume mark
// on the next collect() slice rather than starting over — the worklist
// itself is the resume point, so no separate cursor is needed.
func mark(h *Heap, dl deadline) bool {
	for _, w := range h.roots.StackSlice() {
		markValue(h, w)
		if dl.expired() {
			return drainOrYield(h, dl)
		}
	}
	return drainOrYield(h, dl)
}

func drainOrYield(h *Heap, dl deadline) bool {
	for h.markList != markListNull {
		if dl.expired() {
			return false
		}
		addr := h.base + uintptr(h.markList)*HeapAlignment
		hdr := h.headerAt(addr)
		h.markList = hdr.sizeOrMarkNext
		scanObject(h, hdr)
	}
	return true
}

// markValue follows w if it is a tagged pointer (§9: "non-pointer tags are
// never followed — the collector does not need to understand them").
// Floats are excluded first since a float's bit pattern can alias a tag
// nibble by coincidence.
func markValue(h *Heap, w value.Word) {
	if w.IsFloat() {
		return
	}
	if w.Tag() < value.PointerTagFloor {
		return
	}
	markAddr(h, uintptr(w.Body()))
}

func markAddr(h *Heap, addr uintptr) {
	if addr >= h.base && addr < h.limit {
		markSmall(h, addr)
		return
	}
	if i, ok := h.findBigObject(addr); ok && !h.bigObjects[i].mark {
		// Big objects are not put on the intrusive worklist: their scan
		// range is walked right away.
		big := &h.bigObjects[i]
		big.mark = true
		if big.scanSize != 0 {
			values := valuesAtRaw(big.body+uintptr(big.scanOffset), uintptr(big.scanSize)/valueSize)
			for _, raw := range values {
				markValue(h, value.Word(raw))
			}
		}
	}
}

// markSmall pushes a small object's header onto the intrusive worklist the
// first time it is visited, reusing the header's size field as the link
// (§3, §9). The bitmap bit is the "already marked" test, since the header
// field itself is overwritten once linked.
func markSmall(h *Heap, bodyAddr uintptr) {
	assertf(bodyAddr >= h.base+uintptr(headerSize) && bodyAddr <= h.limit, "markSmall called with an address outside the arena")
	headerAddr := bodyAddr - uintptr(headerSize)
	if h.testBit(headerAddr) {
		return
	}
	h.setBit(headerAddr)
	hdr := h.headerAt(headerAddr)
	idx := uint32((headerAddr - h.base) / HeapAlignment)
	h.markSize += h.slotSize(hdr)
	hdr.sizeOrMarkNext = h.markList
	h.markList = idx
}

// scanObject walks a drained object's recorded scan range, marking every
// tagged-pointer value found, mirroring OME_scan_object.
func scanObject(h *Heap, hdr *header) {
	body := h.bodyOf(hdr)
	if hdr.scanSize == 0 {
		return
	}
	values := valuesAtRaw(body+uintptr(hdr.scanOffset), uintptr(hdr.scanSize)/valueSize)
	for _, raw := range values {
		markValue(h, value.Word(raw))
	}
}
