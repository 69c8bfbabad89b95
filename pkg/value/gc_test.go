package value

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeapStringInterning(t *testing.T) {
	h := NewHeap()
	a := h.NewString("hello")
	b := h.NewString("hello")
	assert.Same(t, a, b, "identical string contents must intern to the same object")

	c := h.NewString("world")
	assert.NotSame(t, a, c)
}

// TestCollectSweepsUnreachable builds a list that is then dropped by
// the root set and asserts it is gone after a collection, while a
// second list reachable from the (fake) root set survives.
func TestCollectSweepsUnreachable(t *testing.T) {
	h := NewHeap()
	kept := h.NewList(nil)
	_ = h.NewList(nil) // unreachable after collection

	before := h.BytesAllocated
	h.Collect(func(h *Heap) {
		h.MarkObject(kept)
	})
	after := h.BytesAllocated

	require.Less(t, after, before, "sweeping an unreachable list must shrink BytesAllocated")
	assert.False(t, kept.header().marked, "mark bit must be cleared after sweep so the next cycle starts white")
}

// TestCollectIdempotentWithNoMutation asserts that two back-to-back
// collections with the same roots and no intervening allocation free
// nothing on the second pass.
func TestCollectIdempotentWithNoMutation(t *testing.T) {
	h := NewHeap()
	kept := h.NewList(nil)
	mark := func(h *Heap) { h.MarkObject(kept) }

	h.Collect(mark)
	afterFirst := h.BytesAllocated

	h.Collect(mark)
	afterSecond := h.BytesAllocated

	assert.Equal(t, afterFirst, afterSecond)
	assert.Equal(t, 2, h.GCCount)
}

func TestInternerDropsDeadStrings(t *testing.T) {
	h := NewHeap()
	first := h.NewString("ephemeral")
	h.Collect(func(h *Heap) {})

	again := h.NewString("ephemeral")
	assert.NotNil(t, again, "allocating the same text again after its interned copy died must work")
	assert.NotSame(t, first, again, "the dead interned copy must have been dropped from the interner")
}

func TestMarkTraceReachesNestedReferences(t *testing.T) {
	h := NewHeap()
	inner := h.NewString("nested")
	outer := h.NewList([]Value{Object(inner)})

	h.Collect(func(h *Heap) {
		h.MarkObject(outer)
	})

	assert.True(t, len(outer.Items) == 1)
	assert.Equal(t, "nested", outer.Items[0].AsString().Chars)
	assert.Same(t, inner, h.NewString("nested"), "a string reached only through the list must stay interned")
}
