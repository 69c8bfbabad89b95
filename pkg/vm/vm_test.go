package vm

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, source string) (string, error) {
	t.Helper()
	machine := New()
	var out bytes.Buffer
	machine.Stdout = &out
	err := machine.Interpret(source)
	return out.String(), err
}

// TestArithmeticPrecedence is scenario 1 from spec.md §8.
func TestArithmeticPrecedence(t *testing.T) {
	out, err := run(t, `print 1 + 2 * 3;`)
	require.NoError(t, err)
	assert.Equal(t, "7\n", out)
}

// TestStringConcatenation is the printed-output half of scenario 2; the
// identity half is checked by TestConcatenationResultIsInternedWithLaterLiteral.
func TestStringConcatenation(t *testing.T) {
	out, err := run(t, `
		var a = "he"; var b = "llo";
		print a + b;
	`)
	require.NoError(t, err)
	assert.Equal(t, "hello\n", out)
}

func TestConcatenationResultIsInternedWithLaterLiteral(t *testing.T) {
	machine := New()
	var out bytes.Buffer
	machine.Stdout = &out
	require.NoError(t, machine.Interpret(`
		var a = "he" + "llo";
		var b = "hello";
	`))
	av, _ := machine.globals.Get(machine.heap.NewString("a"))
	bv, _ := machine.globals.Get(machine.heap.NewString("b"))
	assert.Same(t, av.AsString(), bv.AsString(), "concatenation must intern into the same string object as an equal literal")
}

// TestClosureCounterState is scenario 3.
func TestClosureCounterState(t *testing.T) {
	out, err := run(t, `
		fun makeCounter() {
			var n = 0;
			fun inc() {
				n = n + 1;
				return n;
			}
			return inc;
		}
		var c = makeCounter();
		print c();
		print c();
		print c();
	`)
	require.NoError(t, err)
	assert.Equal(t, "1\n2\n3\n", out)
}

// TestClassesAndSuper is scenario 4.
func TestClassesAndSuper(t *testing.T) {
	out, err := run(t, `
		class A { greet() { print "A"; } }
		class B < A {
			greet() {
				super.greet();
				print "B";
			}
		}
		B().greet();
	`)
	require.NoError(t, err)
	assert.Equal(t, "A\nB\n", out)
}

// TestForBreakContinue is scenario 5.
func TestForBreakContinue(t *testing.T) {
	out, err := run(t, `
		for (var i = 0; i < 5; i = i + 1) {
			if (i == 1) continue;
			if (i == 4) break;
			print i;
		}
	`)
	require.NoError(t, err)
	assert.Equal(t, "0\n2\n3\n", out)
}

// TestCallingNilIsRuntimeError is scenario 6.
func TestCallingNilIsRuntimeError(t *testing.T) {
	_, err := run(t, `var x; x();`)
	require.Error(t, err)
	re, ok := err.(*RuntimeError)
	require.True(t, ok)
	assert.Contains(t, re.Error(), "Can only call functions and classes.")
	assert.Contains(t, re.Error(), "[line 1] in script")
}

func TestTruthinessMatchesNilOrFalse(t *testing.T) {
	out, err := run(t, `
		print !nil;
		print !false;
		print !true;
		print !0;
		print !"";
		print ![];
	`)
	require.NoError(t, err)
	assert.Equal(t, "true\ntrue\nfalse\nfalse\nfalse\nfalse\n", out)
}

func TestUndefinedGlobalIsRuntimeError(t *testing.T) {
	_, err := run(t, `print undefinedThing;`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Undefined variable 'undefinedThing'")
}

func TestPermGlobalReassignmentIsRuntimeError(t *testing.T) {
	_, err := run(t, `perm x = 1; x = 2;`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "perm")
}

func TestListIndexingAndMutation(t *testing.T) {
	out, err := run(t, `
		var items = [1, 2, 3];
		items[1] = 9;
		print items[0];
		print items[1];
		print items[2];
	`)
	require.NoError(t, err)
	assert.Equal(t, "1\n9\n3\n", out)
}

func TestListIndexOutOfRangeIsRuntimeError(t *testing.T) {
	_, err := run(t, `var items = [1]; print items[5];`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "out of range")
}

func TestDictLiteralAndMissingKey(t *testing.T) {
	out, err := run(t, `
		var d = {"a": 1, "b": 2};
		print d["a"];
	`)
	require.NoError(t, err)
	assert.Equal(t, "1\n", out)

	_, err = run(t, `var d = {"a": 1}; print d["missing"];`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Undefined dictionary key")
}

func TestInstanceFieldsAndMethods(t *testing.T) {
	out, err := run(t, `
		class Point {
			init(x, y) {
				this.x = x;
				this.y = y;
			}
			sum() {
				return this.x + this.y;
			}
		}
		var p = Point(3, 4);
		print p.sum();
	`)
	require.NoError(t, err)
	assert.Equal(t, "7\n", out)
}

func TestInvokeOnCallableFieldFallsBackToPlainCall(t *testing.T) {
	// spec.md §9: INVOKE on an instance field that holds a callable
	// routes through the same call path as a plain field-then-call.
	out, err := run(t, `
		fun answer() { return 42; }
		class Box {}
		var b = Box();
		b.fn = answer;
		print b.fn();
	`)
	require.NoError(t, err)
	assert.Equal(t, "42\n", out)
}

func TestStackOverflowIsRuntimeError(t *testing.T) {
	_, err := run(t, `
		fun recurse() { return recurse(); }
		recurse();
	`)
	require.Error(t, err)
	assert.Contains(t, strings.ToLower(err.Error()), "stack overflow")
}

// TestGCReclaimsUnreachableDuringExecution exercises GC mid-program by
// turning on stress mode, so an ordinary string-heavy loop triggers a
// collection before every instruction without losing any value still
// reachable from the stack or globals.
func TestGCReclaimsUnreachableDuringExecution(t *testing.T) {
	machine := New()
	machine.heap.StressGC = true // collect before every instruction
	var out bytes.Buffer
	machine.Stdout = &out
	err := machine.Interpret(`
		var total = "";
		for (var i = 0; i < 50; i = i + 1) {
			total = total + "x";
		}
		print len(total);
	`)
	require.NoError(t, err)
	assert.Equal(t, "50\n", out.String())
	assert.Greater(t, machine.heap.GCCount, 1)
}

func TestPrintNumberFormatting(t *testing.T) {
	out, err := run(t, `print 1.5; print 10; print 0.1;`)
	require.NoError(t, err)
	assert.Equal(t, "1.5\n10\n0.1\n", out)
}

func TestLogicalShortCircuit(t *testing.T) {
	out, err := run(t, `
		fun boom() { print "should not print"; return true; }
		print false and boom();
		print true or boom();
	`)
	require.NoError(t, err)
	assert.Equal(t, "false\ntrue\n", out)
}
