package value

// Heap owns every object allocation, the string interner, and the
// tri-color mark-sweep collector state (spec.md §4.6). The VM and the
// compiler both allocate through a Heap, but only the VM contributes
// roots: collections run only from the VM's dispatch loop, never while
// a compilation is in progress, and no compiler state is marked. Heap
// itself knows nothing about call frames or the compiler stack — the
// caller drives marking of its own roots via MarkValue/MarkObject
// inside the callback it passes to Collect, which then traces and
// sweeps.
type Heap struct {
	head    Obj     // intrusive allocation list, threaded through Header.next
	strings Table   // weak set of interned strings, keyed by content
	gray    []Obj   // gray worklist

	BytesAllocated int
	NextGC         int
	StressGC       bool // make every ShouldCollect check true, for testing

	// GCCount records how many collections have run; exposed for tests
	// that assert idempotence (two back-to-back collections with no
	// intervening mutation must free nothing on the second pass).
	GCCount int
}

const initialNextGC = 1 << 20 // 1 MiB, matches the teacher-and-original growth heuristic

// NewHeap returns an empty heap ready to allocate into.
func NewHeap() *Heap {
	return &Heap{NextGC: initialNextGC}
}

// ShouldCollect reports whether the allocation volume since the last
// collection warrants running one.
func (h *Heap) ShouldCollect() bool {
	return h.StressGC || h.BytesAllocated > h.NextGC
}

func (h *Heap) track(o Obj, size int) {
	hdr := o.header()
	hdr.next = h.head
	h.head = o
	h.BytesAllocated += size
}

func objSize(o Obj) int {
	switch v := o.(type) {
	case *String:
		return 32 + len(v.Chars)
	case *List:
		return 24 + len(v.Items)*16
	case *Dict:
		return 24 + len(v.Table.entries)*32
	case *Function:
		return 64
	case *Closure:
		return 32 + len(v.Upvalues)*8
	case *Upvalue:
		return 32
	case *Native:
		return 32
	case *Class:
		return 32
	case *Instance:
		return 24 + len(v.Fields.entries)*32
	case *BoundMethod:
		return 24
	default:
		return 16
	}
}

// NewString interns chars, returning the canonical *String object. If
// an object with identical bytes already exists it is returned as-is
// and no allocation happens.
func (h *Heap) NewString(chars string) *String {
	hash := fnv1a(chars)
	if s := h.strings.FindString(chars, hash); s != nil {
		return s
	}
	s := &String{Header: newHeader(ObjTypeString), Chars: chars, Hash: hash}
	h.track(s, objSize(s))
	h.strings.Set(s, Bool(true))
	return s
}

func fnv1a(s string) uint32 {
	var hash uint32 = 2166136261
	for i := 0; i < len(s); i++ {
		hash ^= uint32(s[i])
		hash *= 16777619
	}
	return hash
}

func (h *Heap) NewList(items []Value) *List {
	l := &List{Header: newHeader(ObjTypeList), Items: items}
	h.track(l, objSize(l))
	return l
}

func (h *Heap) NewDict() *Dict {
	d := &Dict{Header: newHeader(ObjTypeDict)}
	h.track(d, objSize(d))
	return d
}

func (h *Heap) NewFunction() *Function {
	f := &Function{Header: newHeader(ObjTypeFunction)}
	h.track(f, objSize(f))
	return f
}

func (h *Heap) NewClosure(fn *Function) *Closure {
	c := &Closure{
		Header:   newHeader(ObjTypeClosure),
		Function: fn,
		Upvalues: make([]*Upvalue, fn.UpvalueCount),
	}
	h.track(c, objSize(c))
	return c
}

func (h *Heap) NewUpvalue(location *Value, slotIndex int) *Upvalue {
	u := &Upvalue{Header: newHeader(ObjTypeUpvalue), Location: location, Slot: slotIndex}
	h.track(u, objSize(u))
	return u
}

func (h *Heap) NewNative(name string, fn NativeFn) *Native {
	n := &Native{Header: newHeader(ObjTypeNative), Name: name, Fn: fn}
	h.track(n, objSize(n))
	return n
}

func (h *Heap) NewClass(name *String) *Class {
	c := &Class{Header: newHeader(ObjTypeClass), Name: name}
	h.track(c, objSize(c))
	return c
}

func (h *Heap) NewInstance(class *Class) *Instance {
	i := &Instance{Header: newHeader(ObjTypeInstance), Class: class}
	h.track(i, objSize(i))
	return i
}

func (h *Heap) NewBoundMethod(receiver Value, method *Closure) *BoundMethod {
	b := &BoundMethod{Header: newHeader(ObjTypeBoundMethod), Receiver: receiver, Method: method}
	h.track(b, objSize(b))
	return b
}

// MarkValue marks v's underlying object, if it has one.
func (h *Heap) MarkValue(v Value) {
	if v.kind == KindObj && v.obj != nil {
		h.MarkObject(v.obj)
	}
}

// MarkObject grays o if it is currently white, appending it to the
// worklist for later blackening. Safe to call with a nil interface.
func (h *Heap) MarkObject(o Obj) {
	if o == nil {
		return
	}
	hdr := o.header()
	if hdr.marked {
		return
	}
	hdr.marked = true
	h.gray = append(h.gray, o)
}

// MarkTable marks every live key and value in t (globals, fields,
// methods tables are all marked this way).
func (h *Heap) MarkTable(t *Table) {
	for _, e := range t.entries {
		if e.key != nil {
			h.MarkObject(e.key)
			h.MarkValue(e.value)
		}
	}
}

// TraceReferences blackens the gray worklist until it is empty,
// marking each object's outgoing references as it goes.
func (h *Heap) TraceReferences() {
	for len(h.gray) > 0 {
		o := h.gray[len(h.gray)-1]
		h.gray = h.gray[:len(h.gray)-1]
		h.blacken(o)
	}
}

func (h *Heap) blacken(o Obj) {
	switch v := o.(type) {
	case *String, *Native:
		// no outgoing references
	case *List:
		for _, item := range v.Items {
			h.MarkValue(item)
		}
	case *Dict:
		h.MarkTable(&v.Table)
	case *Function:
		if v.Name != nil {
			h.MarkObject(v.Name)
		}
		for _, c := range v.Chunk.Constants {
			h.MarkValue(c)
		}
	case *Closure:
		h.MarkObject(v.Function)
		for _, u := range v.Upvalues {
			if u != nil {
				h.MarkObject(u)
			}
		}
	case *Upvalue:
		h.MarkValue(v.Closed)
	case *Class:
		h.MarkObject(v.Name)
		h.MarkTable(&v.Methods)
	case *Instance:
		h.MarkObject(v.Class)
		h.MarkTable(&v.Fields)
	case *BoundMethod:
		h.MarkValue(v.Receiver)
		h.MarkObject(v.Method)
	}
}

// Sweep walks the allocation list, unlinking and dropping every object
// that was not marked, and clears the mark bit on everything that
// survives so the next cycle starts white again.
func (h *Heap) Sweep() {
	var prev Obj
	cur := h.head
	for cur != nil {
		hdr := cur.header()
		if hdr.marked {
			hdr.marked = false
			prev = cur
			cur = hdr.next
			continue
		}
		unreached := cur
		cur = hdr.next
		if prev != nil {
			prev.header().next = cur
		} else {
			h.head = cur
		}
		unreached.header().next = nil
		h.BytesAllocated -= objSize(unreached)
	}
}

// Collect runs one full stop-the-world cycle: the caller-supplied
// markRoots marks every root it owns (VM stack, frames, globals, open
// upvalues), then live objects are traced to black, the interner is
// weakly swept of unmarked strings, dead objects are swept from the
// allocation list, and nextGC becomes twice the surviving byte count,
// but never less than initialNextGC.
func (h *Heap) Collect(markRoots func(*Heap)) {
	markRoots(h)
	h.TraceReferences()
	h.strings.removeWhite()
	h.Sweep()
	h.GCCount++
	h.NextGC = h.BytesAllocated * 2
	if h.NextGC < initialNextGC {
		h.NextGC = initialNextGC
	}
}
