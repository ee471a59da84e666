package heap

import "sort"

// relocInfinity terminates the sorted relocation table: appending one
// entry at this src value means findRelocation never has to special-case
// "past the last real entry" (§3's "terminal sentinel entry").
const relocInfinity = ^uint32(0)

// appendReloc records that everything at or after srcAddr (until the next
// entry) moved down by diff bytes. Entries are appended in increasing
// src order as compact() walks the arena forward, so the table is already
// sorted — no separate sort pass is needed, unlike the big-object array.
func (h *Heap) appendReloc(srcAddr, diffBytes uintptr) bool {
	if h.relocsEnd >= len(h.relocs)-1 { // always leave room for the sentinel
		return false
	}
	h.relocs[h.relocsEnd] = relocEntry{
		src:  uint32((srcAddr - h.base) / HeapAlignment),
		diff: uint32(diffBytes / HeapAlignment),
	}
	h.relocsEnd++
	return true
}

// finalizeRelocs appends the terminal sentinel once a compaction pass has
// finished appending real entries.
func (h *Heap) finalizeRelocs() {
	if h.relocsEnd < len(h.relocs) {
		h.relocs[h.relocsEnd] = relocEntry{src: relocInfinity, diff: 0}
	}
}

// findRelocation returns the byte address addr moved to, per the active
// relocation table. Objects at an address before the first recorded entry
// never moved (diff 0). Binary search over relocs[:relocsEnd] plus the
// terminal sentinel after it (sorted ascending by src) finds the last entry whose src is <= addr's unit
// offset, per §3/§4.5.
func (h *Heap) findRelocation(addr uintptr) uintptr {
	if addr < h.base || addr >= h.limit {
		return addr // big-object addresses and anything outside the arena never move
	}
	unit := uint32((addr - h.base) / HeapAlignment)
	live := h.relocs[:h.relocsEnd+1] // + the terminal sentinel finalizeRelocs wrote
	i := sort.Search(len(live), func(i int) bool { return live[i].src > unit })
	if i == 0 {
		return addr
	}
	diff := uintptr(live[i-1].diff) * HeapAlignment
	return addr - diff
}
