// Package value implements the runtime value representation, the heap
// object model, the hash table used for globals/dictionaries/method
// tables, and the mark-sweep garbage collector shared by the compiler
// and the virtual machine.
//
// Architecture:
//
// A Value is a small tagged union over nil, bool, float64, and a
// reference to a heap Obj. Heap objects (strings, lists, dictionaries,
// functions, closures, classes, instances, bound methods, upvalues,
// natives) all embed a Header, which carries the GC mark bit and the
// intrusive "next allocated object" link the sweeper walks. A NaN-boxed
// 64-bit encoding is an equally valid port of this same contract; this
// implementation uses an explicit tagged struct instead, which keeps the
// representation free of unsafe pointer arithmetic while preserving the
// same equality, truthiness, and identity rules spec.md §3 describes.
package value

// Kind tags the four cases a Value can hold.
type Kind byte

const (
	KindNil Kind = iota
	KindBool
	KindNumber
	KindObj
)

// Value is the tagged union every Fer expression evaluates to.
type Value struct {
	kind Kind
	num  float64
	b    bool
	obj  Obj
}

// Nil is the singleton nil value.
var Nil = Value{kind: KindNil}

// Bool wraps a boolean.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Number wraps a float64.
func Number(n float64) Value { return Value{kind: KindNumber, num: n} }

// Object wraps a heap object reference.
func Object(o Obj) Value { return Value{kind: KindObj, obj: o} }

func (v Value) IsNil() bool    { return v.kind == KindNil }
func (v Value) IsBool() bool   { return v.kind == KindBool }
func (v Value) IsNumber() bool { return v.kind == KindNumber }
func (v Value) IsObj() bool    { return v.kind == KindObj }

func (v Value) AsBool() bool   { return v.b }
func (v Value) AsNumber() float64 { return v.num }
func (v Value) AsObj() Obj     { return v.obj }

// IsObjType reports whether v is a heap object of the given type.
func (v Value) IsObjType(t ObjType) bool {
	return v.kind == KindObj && v.obj != nil && v.obj.header().typ == t
}

func (v Value) AsString() *String           { return v.obj.(*String) }
func (v Value) AsList() *List               { return v.obj.(*List) }
func (v Value) AsDict() *Dict               { return v.obj.(*Dict) }
func (v Value) AsFunction() *Function       { return v.obj.(*Function) }
func (v Value) AsClosure() *Closure         { return v.obj.(*Closure) }
func (v Value) AsNative() *Native           { return v.obj.(*Native) }
func (v Value) AsClass() *Class             { return v.obj.(*Class) }
func (v Value) AsInstance() *Instance       { return v.obj.(*Instance) }
func (v Value) AsBoundMethod() *BoundMethod { return v.obj.(*BoundMethod) }

// IsFalsey reports Fer truthiness: only nil and false are falsey.
func (v Value) IsFalsey() bool {
	return v.kind == KindNil || (v.kind == KindBool && !v.b)
}

// Equal implements Fer's == : structural for nil/bool/number, identity
// for everything else. Because strings are interned, identity equality
// on string objects is content equality.
func Equal(a, b Value) bool {
	if a.kind != b.kind {
		return false
	}
	switch a.kind {
	case KindNil:
		return true
	case KindBool:
		return a.b == b.b
	case KindNumber:
		return a.num == b.num
	case KindObj:
		if as, ok := a.obj.(*String); ok {
			if bs, ok := b.obj.(*String); ok {
				return as == bs
			}
			return false
		}
		return a.obj == b.obj
	}
	return false
}

// TypeName returns the Fer type name used by the typeof native and by
// error messages.
func TypeName(v Value) string {
	switch v.kind {
	case KindNil:
		return "nil"
	case KindBool:
		return "boolean"
	case KindNumber:
		return "number"
	case KindObj:
		switch v.obj.header().typ {
		case ObjTypeString:
			return "string"
		case ObjTypeList:
			return "list"
		case ObjTypeDict:
			return "dictionary"
		case ObjTypeFunction, ObjTypeClosure, ObjTypeNative, ObjTypeBoundMethod:
			return "function"
		case ObjTypeClass:
			return "class"
		case ObjTypeInstance:
			return "instance"
		}
	}
	return "unknown"
}
