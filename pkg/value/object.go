package value

// ObjType tags the kind of heap object a Header belongs to.
type ObjType byte

const (
	ObjTypeString ObjType = iota
	ObjTypeList
	ObjTypeDict
	ObjTypeFunction
	ObjTypeClosure
	ObjTypeUpvalue
	ObjTypeNative
	ObjTypeClass
	ObjTypeInstance
	ObjTypeBoundMethod
)

// Obj is implemented by every heap-allocated Fer value. The common
// header (type tag, mark bit, allocation-list link) is reached through
// header() rather than exposed directly; the ObjType tag recorded in
// Header is what Value.IsObjType checks, and downcasting to a concrete
// type is an explicit Go type assertion — the Go analogue of the
// source's first-field struct punning on Obj.
type Obj interface {
	Type() ObjType
	header() *Header
}

// Header is embedded as the first field of every concrete object type.
// The sweeper walks the singly linked allocation list formed by next;
// marked is set by the marking phase and cleared by the sweep on every
// surviving object, so each collection starts with all objects white.
type Header struct {
	typ    ObjType
	marked bool
	next   Obj
}

func (h *Header) Type() ObjType   { return h.typ }
func (h *Header) header() *Header { return h }

// String is an immutable, interned byte sequence.
type String struct {
	Header
	Chars string
	Hash  uint32
}

// List is a growable vector of values.
type List struct {
	Header
	Items []Value
}

// Dict is a hash table keyed by interned strings.
type Dict struct {
	Header
	Table Table
}

// Function is immutable once the compiler finishes emitting its chunk.
type Function struct {
	Header
	Arity        int
	UpvalueCount int
	Name         *String // nil for the implicit top-level <script>
	Chunk        Chunk
}

// UpvalueDesc records, for one captured variable, whether CLOSURE should
// capture an enclosing-frame local slot or inherit an enclosing
// closure's upvalue, and at which index.
type UpvalueDesc struct {
	IsLocal bool
	Index   int
}

// Closure pairs a function with the upvalues it closed over. Upvalues
// has exactly function.UpvalueCount entries (spec.md §3 invariant).
type Closure struct {
	Header
	Function *Function
	Upvalues []*Upvalue
}

// Upvalue is open while Location points into a live VM value stack and
// closed once the VM copies the slot's value into Closed and redirects
// Location there. Slot records the stack index it was opened at, so
// the VM can keep its open-upvalue list ordered and know which
// upvalues a given stack depth should close; it is meaningless once
// the upvalue is closed.
type Upvalue struct {
	Header
	Location *Value
	Closed   Value
	Slot     int
	Next     *Upvalue // VM-owned open-upvalue list, sorted by descending Slot
}

// NativeFn is the signature every native function implements: given the
// argument slice (no receiver slot), return a result or an error.
type NativeFn func(args []Value) (Value, error)

// Native wraps a host function so it can live on the value stack like
// any other callable.
type Native struct {
	Header
	Name string
	Fn   NativeFn
}

// Class holds a name and a method table (name -> Closure, boxed as Value).
type Class struct {
	Header
	Name    *String
	Methods Table
}

// Instance holds a class pointer and a field table.
type Instance struct {
	Header
	Class  *Class
	Fields Table
}

// BoundMethod pairs a receiver with the closure that will run with that
// receiver bound into local slot 0.
type BoundMethod struct {
	Header
	Receiver Value
	Method   *Closure
}

func newHeader(t ObjType) Header { return Header{typ: t} }
