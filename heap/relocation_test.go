package heap

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFindRelocationBeforeFirstEntryIsUnmoved(t *testing.T) {
	ctx := newTestContext(t)
	h := ctx.Heap
	require.Equal(t, h.base+32, h.findRelocation(h.base+32))
}

func TestFindRelocationAppliesNearestEntry(t *testing.T) {
	ctx := newTestContext(t)
	h := ctx.Heap

	require.True(t, h.appendReloc(h.base+160, 32))
	h.finalizeRelocs()

	require.Equal(t, h.base+160-32, h.findRelocation(h.base+160))
	require.Equal(t, h.base+320-32, h.findRelocation(h.base+320), "addresses past the entry use the same diff")
	require.Equal(t, h.base+64, h.findRelocation(h.base+64), "addresses before the entry are untouched")
}

func TestAppendRelocRefusesPastHeadroom(t *testing.T) {
	ctx := newTestContext(t)
	h := ctx.Heap
	h.relocs = h.relocs[:2] // one real slot, one reserved for the sentinel

	require.True(t, h.appendReloc(h.base+16, 16))
	require.False(t, h.appendReloc(h.base+32, 16), "the last slot is reserved for the terminal sentinel")
}
