package compiler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kristofer/fer/pkg/bytecode"
	"github.com/kristofer/fer/pkg/value"
)

func compileOK(t *testing.T, source string) *value.Function {
	t.Helper()
	heap := value.NewHeap()
	fn, err := Compile(source, heap)
	require.NoError(t, err)
	return fn
}

func opsOf(fn *value.Function) []bytecode.OpCode {
	var ops []bytecode.OpCode
	for _, b := range fn.Chunk.Code {
		ops = append(ops, bytecode.OpCode(b))
	}
	return ops
}

func TestArithmeticPrecedence(t *testing.T) {
	fn := compileOK(t, "1 + 2 * 3;")
	code := fn.Chunk.Code
	// CONSTANT 1, CONSTANT 2, CONSTANT 3, MULTIPLY, ADD, POP, NIL, RETURN
	assert.Equal(t, byte(bytecode.OpConstant), code[0])
	assert.Equal(t, byte(bytecode.OpConstant), code[2])
	assert.Equal(t, byte(bytecode.OpConstant), code[4])
	assert.Equal(t, byte(bytecode.OpMultiply), code[6])
	assert.Equal(t, byte(bytecode.OpAdd), code[7])
}

func TestGlobalVarDeclarationEmitsDefineGlobal(t *testing.T) {
	fn := compileOK(t, "var x = 1;")
	assert.Contains(t, opsOf(fn), bytecode.OpDefineGlobal)
}

func TestPermGlobalEmitsDefineGlobalPerm(t *testing.T) {
	fn := compileOK(t, "perm x = 1;")
	assert.Contains(t, opsOf(fn), bytecode.OpDefineGlobalPerm)
	assert.NotContains(t, opsOf(fn), bytecode.OpDefineGlobal)
}

func TestPermLocalAssignmentIsCompileError(t *testing.T) {
	heap := value.NewHeap()
	_, err := Compile(`{ perm x = 1; x = 2; }`, heap)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "perm")
}

func TestLocalUsesGetSetLocalNotGlobal(t *testing.T) {
	fn := compileOK(t, "{ var x = 1; x = 2; }")
	ops := opsOf(fn)
	assert.Contains(t, ops, bytecode.OpSetLocal)
	assert.NotContains(t, ops, bytecode.OpSetGlobal)
}

func TestShadowingInSameScopeIsCompileError(t *testing.T) {
	heap := value.NewHeap()
	_, err := Compile(`{ var x = 1; var x = 2; }`, heap)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Already a variable")
}

func TestClosureCapturesEnclosingLocalAsUpvalue(t *testing.T) {
	fn := compileOK(t, `
		fun outer() {
			var x = 1;
			fun inner() { return x; }
			return inner;
		}
	`)
	assert.Contains(t, opsOf(fn), bytecode.OpClosure)

	var inner *value.Function
	for _, k := range fn.Chunk.Constants {
		if !k.IsObjType(value.ObjTypeFunction) {
			continue
		}
		for _, k2 := range k.AsFunction().Chunk.Constants {
			if k2.IsObjType(value.ObjTypeFunction) {
				inner = k2.AsFunction()
			}
		}
	}
	require.NotNil(t, inner)
	assert.Equal(t, 1, inner.UpvalueCount)
	assert.Contains(t, opsOf(inner), bytecode.OpGetUpvalue)
}

func TestClassDeclarationEmitsClassAndMethod(t *testing.T) {
	fn := compileOK(t, `
		class Greeter {
			greet() { return "hi"; }
		}
	`)
	ops := opsOf(fn)
	assert.Contains(t, ops, bytecode.OpClass)
	assert.Contains(t, ops, bytecode.OpMethod)
}

func TestInheritanceEmitsInherit(t *testing.T) {
	fn := compileOK(t, `
		class Animal { speak() { return "..."; } }
		class Dog < Animal { }
	`)
	assert.Contains(t, opsOf(fn), bytecode.OpInherit)
}

func TestMethodCallSpecializesToInvoke(t *testing.T) {
	fn := compileOK(t, `
		class Greeter { greet() { return "hi"; } }
		var g = Greeter();
		g.greet();
	`)
	assert.Contains(t, opsOf(fn), bytecode.OpInvoke)
}

func TestBreakOutsideLoopIsCompileError(t *testing.T) {
	heap := value.NewHeap()
	_, err := Compile(`break;`, heap)
	require.Error(t, err)
}

func TestReturnValueFromInitializerIsCompileError(t *testing.T) {
	heap := value.NewHeap()
	_, err := Compile(`
		class Thing {
			init() { return 1; }
		}
	`, heap)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "initializer")
}

func TestTopLevelReturnIsCompileError(t *testing.T) {
	heap := value.NewHeap()
	_, err := Compile(`return 1;`, heap)
	require.Error(t, err)
}

func TestListAndDictLiteralsEmitTheirOpcodes(t *testing.T) {
	fn := compileOK(t, `var a = [1, 2, 3]; var b = {"k": 1};`)
	ops := opsOf(fn)
	assert.Contains(t, ops, bytecode.OpList)
	assert.Contains(t, ops, bytecode.OpDictionary)
}

func TestSelfReferencingInitializerIsCompileError(t *testing.T) {
	heap := value.NewHeap()
	_, err := Compile(`{ var x = x; }`, heap)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "its own initializer")
}

func TestStringEscapesAreInterpretedAtCompileTime(t *testing.T) {
	heap := value.NewHeap()
	fn, err := Compile(`"a\nb";`, heap)
	require.NoError(t, err)
	require.Len(t, fn.Chunk.Constants, 1)
	assert.Equal(t, "a\nb", fn.Chunk.Constants[0].AsString().Chars)
}
