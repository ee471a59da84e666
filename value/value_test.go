package value_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tagheap/value"
)

func TestTaggedRoundTrip(t *testing.T) {
	w := value.Tagged(value.TagString, 0x1234)
	assert.Equal(t, value.TagString, w.Tag())
	assert.Equal(t, uintptr(0x1234), w.Body())
}

func TestPointerTagFloorSeparatesKinds(t *testing.T) {
	assert.Less(t, value.TagInt, value.PointerTagFloor)
	assert.GreaterOrEqual(t, value.TagArray, value.PointerTagFloor)
}

func TestFloatIsNotConfusedWithTagged(t *testing.T) {
	f := value.Float(3.25)
	require.True(t, f.IsFloat())
	assert.Equal(t, 3.25, f.AsFloat())

	tagged := value.Tagged(value.TagObject, 8)
	assert.False(t, tagged.IsFloat())
}

func TestPayloadOverflowPanics(t *testing.T) {
	assert.Panics(t, func() {
		value.Tagged(value.TagObject, 1<<49)
	})
}
