package heap

import (
	"fmt"
	"os"

	"tagheap/value"
)

// Context is the runtime's per-"thread" state: one operand Stack and one
// Heap, never shared (§5: "The stack and heap are Context-private"). §9
// asks that the collector not reach for a thread-local current-Context the
// way ome/runtime/runtime.c does (OME_context global) — every operation in
// this package takes a *Context explicitly instead, which is what makes
// multiple isolated Contexts in the same test binary possible.
type Context struct {
	// stack holds operand values (growing up from index 0, tracked by sp);
	// traceback holds traceback entries (growing down from its top, tracked
	// by tbTop). They are two separate slices, but Push and PushTraceback
	// compare sp against tbTop as if both indexed one shared region, so
	// values and tracebacks draw on a single budget of len(traceback)
	// positions and never cross. The operand stack therefore holds fewer
	// than tbTop values, even though stack itself has more slots.
	stack []value.Word
	sp    int

	traceback []uint32
	tbTop     int // traceback[tbTop:] holds live entries, growing down

	Heap *Heap
}

// NewContext allocates a fixed-capacity stack and reserves a heap per the
// given Tunables, exactly as OME_context_new does: the stack is sized from
// a 4 KiB context page (§6 Tunables), and the heap reservation is attempted
// at MaxHeapSize, halving on failure until MinHeapSize, aborting the
// Context's creation (not the process — that distinction belongs to the
// caller, e.g. cmd/tagheap-demo) if even the floor can't be reserved.
func NewContext(t Tunables) (*Context, error) {
	const contextPageSize = 0x1000
	const tracebackSlots = 64 // reserved range for traceback entries, see §6 supplement 4
	stackSlots := int(contextPageSize/valueSize) - tracebackSlots
	if stackSlots <= 0 {
		return nil, fmt.Errorf("heap: context page too small for any stack slots")
	}

	mem, reservedSize, err := reserveWithHalving(defaultPlatform, t.MaxHeapSize, t.MinHeapSize)
	if err != nil {
		return nil, fmt.Errorf("heap: failed to reserve heap memory: %w", err)
	}

	h := &Heap{
		mem:          mem,
		reservedSize: reservedSize,
		base:         uintptr(unsafeAddr(mem)),
		tunables:     t,
	}
	h.bigObjects = make([]bigObject, 64)
	h.bigObjectsLow = len(h.bigObjects)
	h.setHeapBase(h.base, t.InitialHeapSize)

	ctx := &Context{
		stack:     make([]value.Word, stackSlots),
		traceback: make([]uint32, tracebackSlots),
		Heap:      h,
	}
	ctx.tbTop = tracebackSlots
	h.roots = ctx
	return ctx, nil
}

// Close unmaps every big-object body and the heap reservation, as
// OME_context_delete does.
func (c *Context) Close() error {
	for _, big := range c.Heap.bigObjects[c.Heap.bigObjectsLow:] {
		_ = defaultPlatform.release(sliceFromAddr(big.body, big.size))
	}
	return defaultPlatform.release(c.Heap.mem)
}

// TraceTo sends collector diagnostics to w (nil disables tracing). This is
// the runtime equivalent of building ome with OME_GC_DEBUG defined.
func (c *Context) TraceTo(w interface{ Write([]byte) (int, error) }) {
	c.Heap.trace = tracer{w: w}
}

// TraceToStderr is a shorthand matching OME_GC_PRINT's fprintf(stderr, ...)
// destination.
func (c *Context) TraceToStderr() { c.Heap.trace = tracer{w: os.Stderr} }

// Stats returns a snapshot of the collection counters described in
// SPEC_FULL.md §6 supplement 3.
func (c *Context) Stats() Stats { return c.Heap.stats }

// Push appends a value to the operand stack. It reports an error instead of
// panicking if doing so would leave no free position between the operand
// stack and the traceback region (the same margin PushTraceback keeps),
// preserving the §6 invariant that the two must never cross.
func (c *Context) Push(w value.Word) error {
	if c.sp+1 >= c.tbTop {
		return fmt.Errorf("heap: operand stack exhausted (sp=%d, traceback top=%d)", c.sp, c.tbTop)
	}
	c.stack[c.sp] = w
	c.sp++
	return nil
}

// Pop removes and returns the top operand value.
func (c *Context) Pop() (value.Word, bool) {
	if c.sp == 0 {
		return value.Nil, false
	}
	c.sp--
	return c.stack[c.sp], true
}

// StackSlice exposes the live operand range [0, sp) — the root range §5
// requires every live value to be reachable from. It is the one place the
// collector and an embedding interpreter must agree: whatever the
// interpreter's calling convention is, every tagged pointer it needs to
// survive a collection must sit somewhere in this slice (or be reachable
// by scanning from it) at every point allocate may run.
func (c *Context) StackSlice() []value.Word { return c.stack[:c.sp] }

// PushTraceback records a traceback entry, matching OME_append_traceback's
// "drop the entry if doing so would collide with the operand stack"
// behavior rather than erroring.
func (c *Context) PushTraceback(entry uint32) {
	if c.tbTop-1 <= c.sp {
		return
	}
	c.tbTop--
	c.traceback[c.tbTop] = entry
}

// ResetTraceback clears every traceback entry, matching
// OME_reset_traceback.
func (c *Context) ResetTraceback() {
	for i := c.tbTop; i < len(c.traceback); i++ {
		c.traceback[i] = 0
	}
	c.tbTop = len(c.traceback)
}

// TracebackEntries returns the live traceback entries, most recently pushed
// first.
func (c *Context) TracebackEntries() []uint32 { return c.traceback[c.tbTop:] }
