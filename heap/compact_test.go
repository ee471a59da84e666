package heap

import (
	"testing"

	"github.com/stretchr/testify/require"

	"tagheap/value"
)

func TestCompactReclaimsGarbageAndSlidesRoots(t *testing.T) {
	ctx := newTestContext(t)
	h := ctx.Heap

	_, err := ctx.AllocateString("garbage-in-front")
	require.NoError(t, err)

	reachable, err := ctx.AllocateSlots(1)
	require.NoError(t, err)
	valuesAtRaw(reachable.Body(), 1)[0] = uint64(value.Tagged(value.TagInt, 99))
	require.NoError(t, ctx.Push(reachable))

	pointerBeforeCompact := h.pointer

	require.True(t, mark(h, noDeadline))
	require.True(t, compact(h, noDeadline))

	require.Less(t, h.pointer, pointerBeforeCompact, "reclaiming the garbage string must shrink live occupancy")

	newRoot, ok := ctx.Pop()
	require.True(t, ok)
	require.Equal(t, value.TagSlots, newRoot.Tag())

	slot := valuesAtRaw(newRoot.Body(), 1)[0]
	require.Equal(t, value.Tagged(value.TagInt, 99), value.Word(slot), "slot contents must survive the move untouched")
}

func TestCompactHandlesAllLiveNoGarbage(t *testing.T) {
	ctx := newTestContext(t)
	h := ctx.Heap
	w, err := ctx.AllocateSlots(1)
	require.NoError(t, err)
	require.NoError(t, ctx.Push(w))

	before := h.pointer
	require.True(t, mark(h, noDeadline))
	require.True(t, compact(h, noDeadline))
	require.Equal(t, before, h.pointer, "compacting an already-dense heap should not change occupancy")
}

func TestCompactWithExhaustedRelocationTableReclaimsGarbageAcrossPartialSweeps(t *testing.T) {
	ctx := newTestContext(t)
	h := ctx.Heap

	// Interleave garbage and reachable objects so every reachable object
	// after the first needs its own relocation entry, then shrink the
	// table so it can hold only one real entry at a time: compact() must
	// fire several partial sweeps (reset-and-continue) to get through all
	// eight roots rather than doing a single coarse tail copy.
	var roots []value.Word
	for i := 0; i < 8; i++ {
		_, err := ctx.AllocateString("gap")
		require.NoError(t, err)
		w, err := ctx.AllocateSlots(1)
		require.NoError(t, err)
		valuesAtRaw(w.Body(), 1)[0] = uint64(value.Tagged(value.TagInt, uintptr(i)))
		roots = append(roots, w)
	}
	for _, w := range roots {
		require.NoError(t, ctx.Push(w))
	}

	pointerBeforeCompact := h.pointer
	h.relocs = h.relocs[:3] // one real entry, one boundary entry, and the sentinel

	require.True(t, mark(h, noDeadline))
	require.True(t, compact(h, noDeadline))

	require.Less(t, h.pointer, pointerBeforeCompact, "the interleaved garbage strings must have been reclaimed, not copied forward")

	// Every surviving object in the compacted prefix must be a rooted slots
	// object: if a partial sweep ever treated an unscanned tail run as
	// live, a "gap" string (scanSize == 0) would still be sitting there.
	addr := h.base
	count := 0
	for addr < h.pointer {
		hdr := h.headerAt(addr)
		require.NotZero(t, hdr.scanSize, "a reclaimed garbage string must not survive in the compacted prefix")
		addr += h.slotSize(hdr)
		count++
	}
	require.Equal(t, len(roots), count, "only the rooted slots objects should remain after compaction")

	for i := len(roots) - 1; i >= 0; i-- {
		got, ok := ctx.Pop()
		require.True(t, ok)
		require.Equal(t, value.TagSlots, got.Tag())
		slot := valuesAtRaw(got.Body(), 1)[0]
		require.Equal(t, value.Tagged(value.TagInt, uintptr(i)), value.Word(slot), "slot contents must survive partial-sweep relocation untouched")
	}
}
