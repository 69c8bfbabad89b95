// Package vm implements the stack-based bytecode interpreter for Fer.
//
// Execution pipeline:
//
//	source text -> pkg/lexer -> pkg/compiler -> value.Chunk -> vm.Interpret
//
// The VM is a switch-dispatch loop over one-byte opcodes
// (spec.md §4.5): a value stack, a fixed-depth call frame stack, a
// globals table, and an open-upvalue list are the entirety of its
// runtime state. Garbage collection is cooperative: the dispatch loop
// checks value.Heap.ShouldCollect before each instruction and, if so,
// calls Collect with a markRoots callback that walks exactly the roots
// the VM owns (the value stack up to stackTop, every frame's closure,
// the open upvalue chain, the globals table, and the cached "init"
// string). Allocation sites themselves never start a collection.
package vm

import (
	"bufio"
	"fmt"
	"io"
	"math/rand"
	"os"

	"github.com/kristofer/fer/pkg/bytecode"
	"github.com/kristofer/fer/pkg/compiler"
	"github.com/kristofer/fer/pkg/value"
)

const framesMax = 64
const stackMax = framesMax * 256

// callFrame is one level of Fer call activation: the closure being
// run, its instruction pointer into that closure's chunk, and the
// base offset into the shared value stack where its locals begin.
type callFrame struct {
	closure *value.Closure
	ip      int
	slots   int
}

// VM owns the entire runtime state for one or more Interpret calls.
// Globals and the heap persist across calls, which is what lets a REPL
// build up state across successive lines of input.
type VM struct {
	heap *value.Heap

	frames     [framesMax]callFrame
	frameCount int

	stack    [stackMax]value.Value
	stackTop int

	globals     value.Table
	globalsPerm map[*value.String]bool

	initString *value.String // cached "init", interned once

	// openUpvalues is the head of a linked list of not-yet-closed
	// upvalues, threaded through value.Upvalue.Next and ordered by
	// descending Slot so capture and close each need only one scan.
	openUpvalues *value.Upvalue

	Stdout io.Writer
	Stdin  io.Reader

	bufStdin *bufio.Reader // lazily wraps Stdin for the input/read natives

	rng *rand.Rand // source for the rand/seed natives
}

// New returns a VM with its heap and global table freshly initialized
// and the native function library installed.
func New() *VM {
	vm := &VM{
		heap:        value.NewHeap(),
		globalsPerm: make(map[*value.String]bool),
		Stdout:      os.Stdout,
		Stdin:       os.Stdin,
		rng:         rand.New(rand.NewSource(1)),
	}
	vm.initString = vm.heap.NewString("init")
	vm.defineNatives()
	return vm
}

// Interpret compiles and runs one chunk of source. Compile errors are
// returned as-is (their text already lists every accumulated
// diagnostic); runtime errors come back as *RuntimeError.
func (vm *VM) Interpret(source string) error {
	fn, err := compiler.Compile(source, vm.heap)
	if err != nil {
		return err
	}

	closure := vm.heap.NewClosure(fn)
	vm.push(value.Object(closure))
	vm.call(closure, 0)

	return vm.run()
}

func (vm *VM) push(v value.Value) {
	if vm.stackTop >= stackMax {
		panic(&RuntimeError{Message: "Stack overflow."})
	}
	vm.stack[vm.stackTop] = v
	vm.stackTop++
}

func (vm *VM) pop() value.Value {
	vm.stackTop--
	return vm.stack[vm.stackTop]
}

func (vm *VM) peek(distance int) value.Value {
	return vm.stack[vm.stackTop-1-distance]
}

// run is the bytecode dispatch loop. A runtime fault anywhere below
// (type errors, undefined names, bad arity) is signaled by panicking
// with a *RuntimeError, caught here and turned into a normal error
// return with the call-stack trace attached.
func (vm *VM) run() (err error) {
	defer func() {
		if r := recover(); r != nil {
			re, ok := r.(*RuntimeError)
			if !ok {
				panic(r)
			}
			re.Frames = vm.captureFrames()
			vm.reset()
			err = re
		}
	}()

	frame := &vm.frames[vm.frameCount-1]

	readByte := func() byte {
		b := frame.closure.Function.Chunk.Code[frame.ip]
		frame.ip++
		return b
	}
	readShort := func() int {
		hi := frame.closure.Function.Chunk.Code[frame.ip]
		lo := frame.closure.Function.Chunk.Code[frame.ip+1]
		frame.ip += 2
		return int(hi)<<8 | int(lo)
	}
	readConstant := func() value.Value {
		return frame.closure.Function.Chunk.Constants[readByte()]
	}
	readString := func() *value.String { return readConstant().AsString() }

	for {
		if vm.heap.ShouldCollect() {
			vm.collectGarbage()
		}

		op := bytecode.OpCode(readByte())
		switch op {
		case bytecode.OpConstant:
			vm.push(readConstant())

		case bytecode.OpNil:
			vm.push(value.Nil)
		case bytecode.OpTrue:
			vm.push(value.Bool(true))
		case bytecode.OpFalse:
			vm.push(value.Bool(false))
		case bytecode.OpPop:
			vm.pop()

		case bytecode.OpGetLocal:
			vm.push(vm.stack[frame.slots+int(readByte())])
		case bytecode.OpSetLocal:
			vm.stack[frame.slots+int(readByte())] = vm.peek(0)

		case bytecode.OpGetGlobal:
			name := readString()
			val, ok := vm.globals.Get(name)
			if !ok {
				vm.runtimeErrorf("Undefined variable '%s'.", name.Chars)
			}
			vm.push(val)
		case bytecode.OpDefineGlobal:
			name := readString()
			vm.globals.Set(name, vm.peek(0))
			vm.pop()
		case bytecode.OpDefineGlobalPerm:
			name := readString()
			vm.globals.Set(name, vm.peek(0))
			vm.globalsPerm[name] = true
			vm.pop()
		case bytecode.OpSetGlobal:
			name := readString()
			if _, ok := vm.globals.Get(name); !ok {
				vm.runtimeErrorf("Undefined variable '%s'.", name.Chars)
			}
			if vm.globalsPerm[name] {
				vm.runtimeErrorf("Cannot assign to perm variable '%s'.", name.Chars)
			}
			vm.globals.Set(name, vm.peek(0))

		case bytecode.OpGetUpvalue:
			vm.push(*frame.closure.Upvalues[readByte()].Location)
		case bytecode.OpSetUpvalue:
			*frame.closure.Upvalues[readByte()].Location = vm.peek(0)

		case bytecode.OpGetProperty:
			if !vm.peek(0).IsObjType(value.ObjTypeInstance) {
				vm.runtimeErrorf("Only instances have properties.")
			}
			instance := vm.peek(0).AsInstance()
			name := readString()
			if val, ok := instance.Fields.Get(name); ok {
				vm.pop()
				vm.push(val)
				break
			}
			vm.bindMethod(instance.Class, name)

		case bytecode.OpSetProperty:
			if !vm.peek(1).IsObjType(value.ObjTypeInstance) {
				vm.runtimeErrorf("Only instances have fields.")
			}
			instance := vm.peek(1).AsInstance()
			name := readString()
			instance.Fields.Set(name, vm.peek(0))
			val := vm.pop()
			vm.pop()
			vm.push(val)

		case bytecode.OpGetSuper:
			name := readString()
			superclass := vm.pop().AsClass()
			vm.bindMethod(superclass, name)

		case bytecode.OpEqual:
			b := vm.pop()
			a := vm.pop()
			vm.push(value.Bool(value.Equal(a, b)))
		case bytecode.OpGreater:
			vm.numericBinary(func(a, b float64) value.Value { return value.Bool(a > b) })
		case bytecode.OpLess:
			vm.numericBinary(func(a, b float64) value.Value { return value.Bool(a < b) })
		case bytecode.OpAdd:
			vm.add()
		case bytecode.OpSubtract:
			vm.numericBinary(func(a, b float64) value.Value { return value.Number(a - b) })
		case bytecode.OpMultiply:
			vm.numericBinary(func(a, b float64) value.Value { return value.Number(a * b) })
		case bytecode.OpDivide:
			vm.numericBinary(func(a, b float64) value.Value { return value.Number(a / b) })

		case bytecode.OpNot:
			vm.push(value.Bool(vm.pop().IsFalsey()))
		case bytecode.OpNegate:
			if !vm.peek(0).IsNumber() {
				vm.runtimeErrorf("Operand must be a number.")
			}
			vm.push(value.Number(-vm.pop().AsNumber()))

		case bytecode.OpPrint:
			fmt.Fprintln(vm.Stdout, value.Stringify(vm.pop()))

		case bytecode.OpJump:
			offset := readShort()
			frame.ip += offset
		case bytecode.OpJumpIfFalse:
			offset := readShort()
			if vm.peek(0).IsFalsey() {
				frame.ip += offset
			}
		case bytecode.OpLoop:
			offset := readShort()
			frame.ip -= offset

		case bytecode.OpCall:
			argCount := int(readByte())
			vm.callValue(vm.peek(argCount), argCount)
			frame = &vm.frames[vm.frameCount-1]

		case bytecode.OpInvoke:
			name := readString()
			argCount := int(readByte())
			vm.invoke(name, argCount)
			frame = &vm.frames[vm.frameCount-1]

		case bytecode.OpSuperInvoke:
			name := readString()
			argCount := int(readByte())
			superclass := vm.pop().AsClass()
			vm.invokeFromClass(superclass, name, argCount)
			frame = &vm.frames[vm.frameCount-1]

		case bytecode.OpClosure:
			fn := readConstant().AsFunction()
			closure := vm.heap.NewClosure(fn)
			vm.push(value.Object(closure))
			for i := 0; i < fn.UpvalueCount; i++ {
				isLocal := readByte()
				index := int(readByte())
				if isLocal == 1 {
					closure.Upvalues[i] = vm.captureUpvalue(frame.slots + index)
				} else {
					closure.Upvalues[i] = frame.closure.Upvalues[index]
				}
			}

		case bytecode.OpCloseUpvalue:
			vm.closeUpvalues(vm.stackTop - 1)
			vm.pop()

		case bytecode.OpReturn:
			result := vm.pop()
			vm.closeUpvalues(frame.slots)
			vm.frameCount--
			if vm.frameCount == 0 {
				vm.pop()
				return nil
			}
			vm.stackTop = frame.slots
			vm.push(result)
			frame = &vm.frames[vm.frameCount-1]

		case bytecode.OpClass:
			vm.push(value.Object(vm.heap.NewClass(readString())))

		case bytecode.OpInherit:
			if !vm.peek(1).IsObjType(value.ObjTypeClass) {
				vm.runtimeErrorf("Superclass must be a class.")
			}
			superclass := vm.peek(1).AsClass()
			subclass := vm.peek(0).AsClass()
			subclass.Methods.AddAll(&superclass.Methods)
			vm.pop()

		case bytecode.OpMethod:
			name := readString()
			method := vm.peek(0)
			class := vm.peek(1).AsClass()
			class.Methods.Set(name, method)
			vm.pop()

		case bytecode.OpList:
			count := int(readByte())
			items := make([]value.Value, count)
			copy(items, vm.stack[vm.stackTop-count:vm.stackTop])
			vm.stackTop -= count
			vm.push(value.Object(vm.heap.NewList(items)))

		case bytecode.OpDictionary:
			count := int(readByte())
			base := vm.stackTop - 2*count
			dict := vm.heap.NewDict()
			for i := 0; i < count; i++ {
				key := vm.stack[base+2*i]
				val := vm.stack[base+2*i+1]
				if !key.IsObjType(value.ObjTypeString) {
					vm.runtimeErrorf("Dictionary keys must be strings.")
				}
				dict.Table.Set(key.AsString(), val)
			}
			vm.stackTop = base
			vm.push(value.Object(dict))

		case bytecode.OpGetItem:
			vm.getItem()
		case bytecode.OpSetItem:
			vm.setItem()

		default:
			vm.runtimeErrorf("Unknown opcode %d.", op)
		}
	}
}

func (vm *VM) numericBinary(op func(a, b float64) value.Value) {
	if !vm.peek(0).IsNumber() || !vm.peek(1).IsNumber() {
		vm.runtimeErrorf("Operands must be numbers.")
	}
	b := vm.pop().AsNumber()
	a := vm.pop().AsNumber()
	vm.push(op(a, b))
}

func (vm *VM) add() {
	switch {
	case vm.peek(0).IsNumber() && vm.peek(1).IsNumber():
		b := vm.pop().AsNumber()
		a := vm.pop().AsNumber()
		vm.push(value.Number(a + b))
	case vm.peek(0).IsObjType(value.ObjTypeString) && vm.peek(1).IsObjType(value.ObjTypeString):
		b := vm.pop().AsString()
		a := vm.pop().AsString()
		vm.push(value.Object(vm.heap.NewString(a.Chars + b.Chars)))
	default:
		vm.runtimeErrorf("Operands must be two numbers or two strings.")
	}
}

func (vm *VM) getItem() {
	index := vm.pop()
	target := vm.pop()
	switch {
	case target.IsObjType(value.ObjTypeList):
		list := target.AsList()
		if !index.IsNumber() {
			vm.runtimeErrorf("List index must be a number.")
		}
		i := int(index.AsNumber())
		if i < 0 || i >= len(list.Items) {
			vm.runtimeErrorf("List index out of range.")
		}
		vm.push(list.Items[i])
	case target.IsObjType(value.ObjTypeDict):
		if !index.IsObjType(value.ObjTypeString) {
			vm.runtimeErrorf("Dictionary key must be a string.")
		}
		val, ok := target.AsDict().Table.Get(index.AsString())
		if !ok {
			vm.runtimeErrorf("Undefined dictionary key '%s'.", index.AsString().Chars)
		}
		vm.push(val)
	default:
		vm.runtimeErrorf("Only lists and dictionaries support indexing.")
	}
}

func (vm *VM) setItem() {
	val := vm.pop()
	index := vm.pop()
	target := vm.pop()
	switch {
	case target.IsObjType(value.ObjTypeList):
		list := target.AsList()
		if !index.IsNumber() {
			vm.runtimeErrorf("List index must be a number.")
		}
		i := int(index.AsNumber())
		if i < 0 || i >= len(list.Items) {
			vm.runtimeErrorf("List index out of range.")
		}
		list.Items[i] = val
	case target.IsObjType(value.ObjTypeDict):
		if !index.IsObjType(value.ObjTypeString) {
			vm.runtimeErrorf("Dictionary key must be a string.")
		}
		target.AsDict().Table.Set(index.AsString(), val)
	default:
		vm.runtimeErrorf("Only lists and dictionaries support indexed assignment.")
	}
	vm.push(val)
}

// bindMethod looks up name on class, wraps it with the current
// receiver (left on top of the stack by the caller) into a
// BoundMethod, and replaces the receiver with that bound method.
func (vm *VM) bindMethod(class *value.Class, name *value.String) {
	method, ok := class.Methods.Get(name)
	if !ok {
		vm.runtimeErrorf("Undefined property '%s'.", name.Chars)
	}
	bound := vm.heap.NewBoundMethod(vm.peek(0), method.AsClosure())
	vm.pop()
	vm.push(value.Object(bound))
}

// invoke specializes `receiver.name(args)`: if name is actually a
// field holding a callable, it falls back to an ordinary call; if the
// receiver isn't an instance at all, it reports the closest thing to
// the clox diagnostic that still makes sense for Fer's broader call
// surface (classes, closures, natives, lists/dicts have no methods).
func (vm *VM) invoke(name *value.String, argCount int) {
	receiver := vm.peek(argCount)
	if !receiver.IsObjType(value.ObjTypeInstance) {
		vm.runtimeErrorf("Only instances have methods.")
	}
	instance := receiver.AsInstance()
	if field, ok := instance.Fields.Get(name); ok {
		vm.stack[vm.stackTop-argCount-1] = field
		vm.callValue(field, argCount)
		return
	}
	vm.invokeFromClass(instance.Class, name, argCount)
}

func (vm *VM) invokeFromClass(class *value.Class, name *value.String, argCount int) {
	method, ok := class.Methods.Get(name)
	if !ok {
		vm.runtimeErrorf("Undefined property '%s'.", name.Chars)
	}
	vm.call(method.AsClosure(), argCount)
}

// callValue dispatches a CALL instruction by the callee's runtime
// type: a closure runs normally, a native runs host code immediately
// and pushes its result, a class constructs an instance and runs
// `init` if the class defines one, and a bound method substitutes its
// stored receiver before running its closure.
func (vm *VM) callValue(callee value.Value, argCount int) {
	if !callee.IsObj() {
		vm.runtimeErrorf("Can only call functions and classes.")
		return
	}
	switch callee.AsObj().Type() {
	case value.ObjTypeClosure:
		vm.call(callee.AsClosure(), argCount)
	case value.ObjTypeNative:
		native := callee.AsNative()
		args := vm.stack[vm.stackTop-argCount : vm.stackTop]
		result, err := native.Fn(args)
		if err != nil {
			vm.runtimeErrorf("%s", err.Error())
		}
		vm.stackTop -= argCount + 1
		vm.push(result)
	case value.ObjTypeClass:
		class := callee.AsClass()
		instance := vm.heap.NewInstance(class)
		vm.stack[vm.stackTop-argCount-1] = value.Object(instance)
		if init, ok := class.Methods.Get(vm.initString); ok {
			vm.call(init.AsClosure(), argCount)
			return
		}
		if argCount != 0 {
			vm.runtimeErrorf("Expected 0 arguments but got %d.", argCount)
		}
	case value.ObjTypeBoundMethod:
		bound := callee.AsBoundMethod()
		vm.stack[vm.stackTop-argCount-1] = bound.Receiver
		vm.call(bound.Method, argCount)
	default:
		vm.runtimeErrorf("Can only call functions and classes.")
	}
}

func (vm *VM) call(closure *value.Closure, argCount int) {
	if argCount != closure.Function.Arity {
		vm.runtimeErrorf("Expected %d arguments but got %d.", closure.Function.Arity, argCount)
	}
	if vm.frameCount == framesMax {
		vm.runtimeErrorf("Stack overflow.")
	}
	frame := &vm.frames[vm.frameCount]
	vm.frameCount++
	frame.closure = closure
	frame.ip = 0
	frame.slots = vm.stackTop - argCount - 1
}

// captureUpvalue returns the open upvalue over stack slot index,
// reusing an existing one if the same slot was already captured by an
// earlier closure (so two closures over the same local share state).
func (vm *VM) captureUpvalue(index int) *value.Upvalue {
	var prev *value.Upvalue
	cur := vm.openUpvalues
	for cur != nil && cur.Slot > index {
		prev = cur
		cur = cur.Next
	}
	if cur != nil && cur.Slot == index {
		return cur
	}
	up := vm.heap.NewUpvalue(&vm.stack[index], index)
	up.Next = cur
	if prev == nil {
		vm.openUpvalues = up
	} else {
		prev.Next = up
	}
	return up
}

// closeUpvalues closes every open upvalue at or above stack index
// lastIndex, copying each one's value off the stack so it survives
// after the frame that owned that slot returns.
func (vm *VM) closeUpvalues(lastIndex int) {
	for vm.openUpvalues != nil && vm.openUpvalues.Slot >= lastIndex {
		up := vm.openUpvalues
		up.Closed = *up.Location
		up.Location = &up.Closed
		vm.openUpvalues = up.Next
	}
}

// runtimeErrorf panics with a *RuntimeError; run()'s deferred recover
// attaches the frame trace and turns it into a normal returned error.
// Panicking (rather than threading an error return through every
// opcode case) keeps the dispatch loop's happy path free of error
// checks, matching how rarely a well-typed Fer program actually faults.
func (vm *VM) runtimeErrorf(format string, args ...any) {
	panic(newRuntimeError(fmt.Sprintf(format, args...), nil))
}

func (vm *VM) captureFrames() []StackFrame {
	frames := make([]StackFrame, 0, vm.frameCount)
	for i := 0; i < vm.frameCount; i++ {
		f := &vm.frames[i]
		line := 0
		if f.ip > 0 && f.ip-1 < len(f.closure.Function.Chunk.Lines) {
			line = f.closure.Function.Chunk.Lines[f.ip-1]
		}
		name := "script"
		if f.closure.Function.Name != nil {
			name = f.closure.Function.Name.Chars
		}
		frames = append(frames, StackFrame{Name: name, SourceLine: line})
	}
	return frames
}

// reset restores the VM to an empty call/value stack after a runtime
// error, so a REPL session can keep accepting input on the next line.
func (vm *VM) reset() {
	vm.stackTop = 0
	vm.frameCount = 0
	vm.openUpvalues = nil
}

func (vm *VM) collectGarbage() {
	vm.heap.Collect(vm.markRoots)
}

func (vm *VM) markRoots(h *value.Heap) {
	for i := 0; i < vm.stackTop; i++ {
		h.MarkValue(vm.stack[i])
	}
	for i := 0; i < vm.frameCount; i++ {
		h.MarkObject(vm.frames[i].closure)
	}
	for up := vm.openUpvalues; up != nil; up = up.Next {
		h.MarkObject(up)
	}
	h.MarkTable(&vm.globals)
	if vm.initString != nil {
		h.MarkObject(vm.initString)
	}
}
