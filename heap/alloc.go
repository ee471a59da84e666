package heap

import (
	"fmt"
	"unsafe"

	"tagheap/value"
)

// ensureAllocate tries, in order, an incremental collect, a heap grow, and
// finally a full blocking collect, stopping as soon as one of them frees
// (or creates) enough room for slotSize bytes (§4.7). This is the same
// escalation OME_ensure_allocate performs.
func (h *Heap) ensureAllocate(slotSize uintptr) bool {
	if h.limit-h.pointer >= slotSize {
		return true
	}

	h.collect()
	if h.limit-h.pointer >= slotSize {
		return true
	}

	if h.size < h.tunables.MaxHeapSize {
		grown := h.size * 2
		if grown > h.tunables.MaxHeapSize {
			grown = h.tunables.MaxHeapSize
		}
		if err := h.resizeHeap(grown); err == nil && h.limit-h.pointer >= slotSize {
			return true
		}
	}

	h.collectFull()
	return h.limit-h.pointer >= slotSize
}

// allocateSmall bump-allocates a small object: a header followed by a
// bodySize-byte body, entirely inside the arena. Objects too large for
// MaxHeapObjectSize are routed to allocateBig instead (§4.2/§4.6).
func (h *Heap) allocateSmall(bodySize uintptr, scanOffset, scanSize uint32) (uintptr, error) {
	slotSize := roundUp(uintptr(headerSize)+bodySize, HeapAlignment)
	if bodySize > h.tunables.MaxHeapObjectSize*valueSize {
		body, err := h.allocateBig(bodySize, scanOffset, scanSize)
		return body, err
	}
	if !h.ensureAllocate(slotSize) {
		return 0, fmt.Errorf("heap: out of memory allocating %d bytes", bodySize)
	}

	addr := h.pointer
	h.pointer += slotSize
	hdr := h.headerAt(addr)
	hdr.scanOffset = scanOffset
	hdr.scanSize = scanSize
	return h.bodyOf(hdr), nil
}

// Allocate is the general allocation primitive §6 lists first: a body of
// objectSize bytes whose [scanOffset, scanOffset+scanSize) byte range holds
// tagged words the collector must follow. It returns the bare body address,
// exactly like OME_allocate returns a void*; tagging that address with
// whatever Tag fits the caller's object (TagObject included — the collector
// has no allocate_object of its own, since choosing a tag is the hosting
// interpreter's concern, not the allocator's) is left to the caller, the
// same way allocate_array/allocate_string tag the body OME_allocate hands
// back rather than OME_allocate doing it itself.
func (c *Context) Allocate(objectSize int, scanOffset, scanSize uint32) (uintptr, error) {
	if objectSize < 0 {
		return 0, fmt.Errorf("heap: negative object size")
	}
	return c.Heap.allocateSmall(uintptr(objectSize), scanOffset, scanSize)
}

// AllocateData allocates size bytes of non-pointer-bearing data (§6:
// allocate_data, scan_size always 0). As for every non-pointer object, the
// body length is recorded in the header's scanOffset field.
func (c *Context) AllocateData(size int) (uintptr, error) {
	return c.Allocate(size, uint32(size), 0)
}

// AllocateSlots allocates n tagged-word slots initialized to value.Nil, for
// an object whose entire body is pointer-scanned (§4.2: "slots objects" —
// the backing store for an interpreter's object/array-of-values types).
func (c *Context) AllocateSlots(n int) (value.Word, error) {
	if n < 0 {
		return value.Nil, fmt.Errorf("heap: negative slot count")
	}
	bodySize := n * int(valueSize)
	body, err := c.Allocate(bodySize, 0, uint32(bodySize))
	if err != nil {
		return value.Nil, err
	}
	slots := valuesAtRaw(body, uintptr(n))
	for i := range slots {
		slots[i] = uint64(value.Nil)
	}
	return value.Tagged(value.TagSlots, body), nil
}

// arrayHeaderSlots is the number of leading value-sized words an array body
// reserves for its own length, ahead of its elements — mirroring OME_Array's
// {size; elems[]} layout (original_source/ome/runtime/runtime.c), where
// scan_offset is offsetof(elems)/sizeof(Value): the size field itself is not
// a tagged word and must sit outside the scanned range.
const arrayHeaderSlots = 1

// AllocateArray allocates a fixed-size array of tagged values copied from
// elems, tagged TagArray. The body leads with a size word (so a collaborator
// holding only the returned value can recover the element count) followed
// by the elements themselves; the header's scan range starts after that
// leading word.
func (c *Context) AllocateArray(elems []value.Word) (value.Word, error) {
	n := len(elems)
	bodySize := (n + arrayHeaderSlots) * int(valueSize)
	scanOffset := uint32(arrayHeaderSlots) * uint32(valueSize)
	scanSize := uint32(n) * uint32(valueSize)
	body, err := c.Allocate(bodySize, scanOffset, scanSize)
	if err != nil {
		return value.Nil, err
	}
	words := valuesAtRaw(body, uintptr(n+arrayHeaderSlots))
	words[0] = uint64(n)
	for i, w := range elems {
		words[arrayHeaderSlots+i] = uint64(w)
	}
	return value.Tagged(value.TagArray, body), nil
}

// ArrayLen returns the element count stored in a TagArray value's leading
// size word.
func (c *Context) ArrayLen(w value.Word) (int, error) {
	if w.IsFloat() || w.Tag() != value.TagArray {
		return 0, fmt.Errorf("heap: value is not an array")
	}
	return int(valuesAtRaw(w.Body(), 1)[0]), nil
}

// ArrayElems returns a copy of a TagArray value's elements, following the
// leading size word.
func (c *Context) ArrayElems(w value.Word) ([]value.Word, error) {
	n, err := c.ArrayLen(w)
	if err != nil {
		return nil, err
	}
	raw := valuesAtRaw(w.Body()+uintptr(arrayHeaderSlots)*valueSize, uintptr(n))
	elems := make([]value.Word, n)
	for i, r := range raw {
		elems[i] = value.Word(r)
	}
	return elems, nil
}

// maxStringSize is the largest string body allocate_string will accept,
// matching the UINT32_MAX overflow check OME_allocate_string and
// OME_concat perform in runtime.c (§6 supplement 1) before trusting a size
// computed from two operand lengths added together.
const maxStringSize = uint64(1)<<32 - 1

// AllocateString copies s into a new non-pointer object tagged TagString.
// Per the §3 convention for non-scanned bodies, its length is recorded in
// the header's scanOffset field (scanSize stays 0, meaning "no pointers
// here").
func (c *Context) AllocateString(s string) (value.Word, error) {
	if uint64(len(s)) > maxStringSize {
		return value.Nil, fmt.Errorf("heap: string of %d bytes exceeds the %d-byte limit", len(s), maxStringSize)
	}
	body, err := c.Allocate(len(s), uint32(len(s)), 0)
	if err != nil {
		return value.Nil, err
	}
	if len(s) > 0 {
		dst := unsafe.Slice((*byte)(unsafe.Pointer(body)), len(s))
		copy(dst, s)
	}
	return value.Tagged(value.TagString, body), nil
}

// StringAt reads back the bytes of a TagString value previously returned
// by AllocateString or ConcatStrings.
func (c *Context) StringAt(w value.Word) (string, error) {
	if w.IsFloat() || w.Tag() != value.TagString {
		return "", fmt.Errorf("heap: value is not a string")
	}
	return stringAtAddr(c.Heap, w.Body()), nil
}

func stringAtAddr(h *Heap, body uintptr) string {
	if i, ok := h.findBigObject(body); ok {
		return string(unsafe.Slice((*byte)(unsafe.Pointer(body)), h.bigObjects[i].size))
	}
	hdr := h.headerAt(body - uintptr(headerSize))
	return string(unsafe.Slice((*byte)(unsafe.Pointer(body)), hdr.scanOffset))
}

// ConcatStrings builds a new string holding a's bytes followed by b's,
// rejecting the concatenation outright if the combined length would not
// fit in the uint32 an arena header uses to record a string's length — the
// one builtin the allocator's own overflow
// discipline must agree with (§6 supplement 1).
func (c *Context) ConcatStrings(a, b value.Word) (value.Word, error) {
	as, err := c.StringAt(a)
	if err != nil {
		return value.Nil, err
	}
	bs, err := c.StringAt(b)
	if err != nil {
		return value.Nil, err
	}
	total := uint64(len(as)) + uint64(len(bs))
	if total > maxStringSize {
		return value.Nil, fmt.Errorf("heap: concatenated string of %d bytes exceeds the %d-byte limit", total, maxStringSize)
	}
	return c.AllocateString(as + bs)
}

// PackArgv allocates an OME-style read-only array of strings from argv,
// once, at process start — the one piece of process-startup state the
// collector must keep alive across every subsequent collection (§6
// supplement 2). The caller is responsible for keeping the returned value
// reachable from its own root set (e.g. pushing it on the operand stack)
// for as long as the program needs argv.
func (c *Context) PackArgv(argv []string) (value.Word, error) {
	// Each string is pushed onto the operand stack as soon as it is
	// allocated, so a collection triggered by allocating argv[i+1] can
	// still see argv[i] as a root; all of them are popped again once the
	// backing array has its own reference to each.
	pushed := 0
	for _, a := range argv {
		w, err := c.AllocateString(a)
		if err != nil {
			c.popN(pushed)
			return value.Nil, fmt.Errorf("heap: failed to pack argv entry: %w", err)
		}
		if err := c.Push(w); err != nil {
			c.popN(pushed)
			return value.Nil, err
		}
		pushed++
	}

	words := make([]value.Word, len(argv))
	copy(words, c.stack[c.sp-pushed:c.sp])
	arr, err := c.AllocateArray(words)
	c.popN(pushed)
	return arr, err
}

func (c *Context) popN(n int) {
	for i := 0; i < n; i++ {
		c.Pop()
	}
}
