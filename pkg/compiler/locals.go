package compiler

import (
	"github.com/kristofer/fer/pkg/lexer"
	"github.com/kristofer/fer/pkg/value"
)

// FunctionType distinguishes the four contexts a frame compiles code
// for, each with slightly different rules around implicit returns and
// slot 0.
type FunctionType int

const (
	funcTypeScript FunctionType = iota
	funcTypeFunction
	funcTypeMethod
	funcTypeInitializer
)

// local is one entry in a frame's compile-time locals array. depth is
// -1 while the variable's initializer is still being compiled, so a
// reference to it inside its own initializer (var x = x;) is caught by
// resolveLocal and reported as a compile error rather than reading the
// not-yet-initialized slot — the fix for the off-by-one the original
// scanner-rewrite carried (a bare depth check of "!= 1" missed this
// case entirely).
type local struct {
	name       lexer.Token
	depth      int
	isCaptured bool
	isPerm     bool
}

const uninitializedDepth = -1

// maxLocals mirrors the one-byte GET_LOCAL/SET_LOCAL operand: a frame
// can never hold more than 256 live locals.
const maxLocals = 256

// maxUpvalues mirrors the one-byte CLOSURE operand pair per captured
// variable.
const maxUpvalues = 256

// frame holds all per-function compile-time state: the locals array,
// the upvalue descriptor list CLOSURE will read, and the function
// object itself, which accumulates bytecode directly as it compiles
// (there is no separate AST to walk afterward).
type frame struct {
	enclosing *frame

	function *value.Function
	funcType FunctionType

	locals     []local
	scopeDepth int

	upvalues []value.UpvalueDesc
}

func newFrame(enclosing *frame, funcType FunctionType, fn *value.Function) *frame {
	f := &frame{enclosing: enclosing, function: fn, funcType: funcType}
	// Slot 0 is reserved: the receiver for methods/initializers, the
	// running closure itself for plain functions and the script.
	slotName := ""
	if funcType == funcTypeMethod || funcType == funcTypeInitializer {
		slotName = "this"
	}
	f.locals = append(f.locals, local{name: lexer.Token{Lexeme: slotName}, depth: 0})
	return f
}

// resolveLocal finds name among f's locals, searching innermost-first.
// A match whose depth is still uninitializedDepth means the name is
// being read from within its own initializer (e.g. `var x = x;`); per
// spec §4.4 that is a compile error, reported through c, while still
// returning the slot so the caller emits the same GET_LOCAL it would
// have otherwise (the error alone prevents the faulty bytecode from
// ever running).
func (f *frame) resolveLocal(c *Compiler, name string) (int, bool) {
	for i := len(f.locals) - 1; i >= 0; i-- {
		if f.locals[i].name.Lexeme == name {
			if f.locals[i].depth == uninitializedDepth {
				c.errorAtPrevious("Can't read local variable in its own initializer.")
			}
			return i, true
		}
	}
	return -1, false
}

func (f *frame) addUpvalue(index int, isLocal bool) int {
	for i, u := range f.upvalues {
		if u.Index == index && u.IsLocal == isLocal {
			return i
		}
	}
	f.upvalues = append(f.upvalues, value.UpvalueDesc{IsLocal: isLocal, Index: index})
	f.function.UpvalueCount = len(f.upvalues)
	return len(f.upvalues) - 1
}

// resolveUpvalue walks enclosing frames looking for name as a local,
// threading an upvalue descriptor through every intervening frame so
// each CLOSURE in the chain knows how to reach the variable.
func (f *frame) resolveUpvalue(c *Compiler, name string) (int, bool) {
	if f.enclosing == nil {
		return -1, false
	}
	if idx, ok := f.enclosing.resolveLocal(c, name); ok {
		f.enclosing.locals[idx].isCaptured = true
		return f.addUpvalue(idx, true), true
	}
	if idx, ok := f.enclosing.resolveUpvalue(c, name); ok {
		return f.addUpvalue(idx, false), true
	}
	return -1, false
}

// classState tracks the compile-time context of a class body, so
// `this`, `super`, and init-method compilation can see whether they're
// nested inside one and whether it has a superclass.
type classState struct {
	enclosing     *classState
	hasSuperclass bool
}

// loopState tracks the innermost enclosing loop so break/continue can
// find the loop start to jump back to and collect forward patch sites
// for every break inside the loop body, however deeply nested in
// conditionals.
type loopState struct {
	enclosing  *loopState
	loopStart  int
	scopeDepth int
	breaks     []int
}
