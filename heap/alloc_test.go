package heap

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"tagheap/value"
)

func TestAllocateStringRoundTrip(t *testing.T) {
	ctx := newTestContext(t)
	w, err := ctx.AllocateString("hello, arena")
	require.NoError(t, err)
	require.Equal(t, value.TagString, w.Tag())

	got, err := ctx.StringAt(w)
	require.NoError(t, err)
	require.Equal(t, "hello, arena", got)
}

func TestAllocateEmptyString(t *testing.T) {
	ctx := newTestContext(t)
	w, err := ctx.AllocateString("")
	require.NoError(t, err)
	got, err := ctx.StringAt(w)
	require.NoError(t, err)
	require.Equal(t, "", got)
}

func TestConcatStrings(t *testing.T) {
	ctx := newTestContext(t)
	a, err := ctx.AllocateString("foo")
	require.NoError(t, err)
	b, err := ctx.AllocateString("bar")
	require.NoError(t, err)

	c, err := ctx.ConcatStrings(a, b)
	require.NoError(t, err)
	got, err := ctx.StringAt(c)
	require.NoError(t, err)
	require.Equal(t, "foobar", got)
}

func TestAllocateSlotsStartNil(t *testing.T) {
	ctx := newTestContext(t)
	w, err := ctx.AllocateSlots(3)
	require.NoError(t, err)
	require.Equal(t, value.TagSlots, w.Tag())

	slots := valuesAtRaw(w.Body(), 3)
	for _, raw := range slots {
		require.Equal(t, uint64(value.Nil), raw)
	}
}

func TestAllocateArrayCopiesElements(t *testing.T) {
	ctx := newTestContext(t)
	elems := []value.Word{
		value.Tagged(value.TagInt, 1),
		value.Tagged(value.TagInt, 2),
		value.Tagged(value.TagInt, 3),
	}
	w, err := ctx.AllocateArray(elems)
	require.NoError(t, err)

	n, err := ctx.ArrayLen(w)
	require.NoError(t, err)
	require.Equal(t, len(elems), n)

	got, err := ctx.ArrayElems(w)
	require.NoError(t, err)
	require.Equal(t, elems, got)
}

func TestAllocateGeneralPrimitiveSupportsArbitraryTags(t *testing.T) {
	ctx := newTestContext(t)
	body, err := ctx.Allocate(3*int(valueSize), 0, 3*uint32(valueSize))
	require.NoError(t, err)

	slots := valuesAtRaw(body, 3)
	for i := range slots {
		slots[i] = uint64(value.Tagged(value.TagInt, uintptr(i)))
	}

	obj := value.Tagged(value.TagObject, body)
	require.Equal(t, value.TagObject, obj.Tag())
	require.Equal(t, body, obj.Body())

	got := valuesAtRaw(obj.Body(), 3)
	for i, raw := range got {
		require.Equal(t, value.Tagged(value.TagInt, uintptr(i)), value.Word(raw))
	}
}

func TestAllocateDataIsNonScanned(t *testing.T) {
	ctx := newTestContext(t)
	body, err := ctx.AllocateData(16)
	require.NoError(t, err)
	require.NotZero(t, body)
}

func TestAllocateBeyondMaxHeapObjectSizeUsesBigObjectPool(t *testing.T) {
	ctx := newTestContext(t)
	big := make([]byte, ctx.Heap.tunables.MaxHeapObjectSize*valueSize*4)
	for i := range big {
		big[i] = byte(i)
	}
	w, err := ctx.AllocateString(string(big))
	require.NoError(t, err)

	_, ok := ctx.Heap.findBigObject(w.Body())
	require.True(t, ok, "an object larger than MaxHeapObjectSize must land in the big-object pool")

	got, err := ctx.StringAt(w)
	require.NoError(t, err)
	require.Equal(t, string(big), got)
}

func TestPackArgvSurvivesAllocation(t *testing.T) {
	ctx := newTestContext(t)
	argv := []string{"prog", "a", "b", "c"}
	w, err := ctx.PackArgv(argv)
	require.NoError(t, err)
	require.Equal(t, value.TagArray, w.Tag())

	elems, err := ctx.ArrayElems(w)
	require.NoError(t, err)
	for i, r := range elems {
		s, err := ctx.StringAt(r)
		require.NoError(t, err)
		require.Equal(t, argv[i], s)
	}
}

func TestAllocationChurnTriggersCollectionAndSurvives(t *testing.T) {
	ctx := newTestContext(t)
	keep, err := ctx.AllocateString("keep-me")
	require.NoError(t, err)
	require.NoError(t, ctx.Push(keep))

	for i := 0; i < 2000; i++ {
		_, err := ctx.AllocateString(fmt.Sprintf("garbage-%d", i))
		require.NoError(t, err)
	}

	require.Greater(t, ctx.Stats().Collections, uint64(0), "enough churn should have forced at least one collection")

	kept, ok := ctx.Pop()
	require.True(t, ok)
	s, err := ctx.StringAt(kept)
	require.NoError(t, err)
	require.Equal(t, "keep-me", s, "a rooted string must survive collection even after its address moves")
}
