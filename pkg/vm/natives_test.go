package vm

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMathNatives(t *testing.T) {
	out, err := run(t, `
		print sqrt(16);
		print floor(1.9);
		print ceil(1.1);
		print pow(2, 10);
	`)
	require.NoError(t, err)
	assert.Equal(t, "4\n1\n2\n1024\n", out)
}

func TestStringNatives(t *testing.T) {
	out, err := run(t, `
		print len("hello");
		print upper("hi");
		print lower("HI");
		print sub("hello", 1, 3);
		print index("hello", "ll");
		print trim("  x  ");
		print chr(65);
		print ord("A");
	`)
	require.NoError(t, err)
	assert.Equal(t, "5\nHI\nhi\nel\n2\nx\nA\n65\n", out)
}

func TestClockReturnsANumber(t *testing.T) {
	out, err := run(t, `print typeof(clock());`)
	require.NoError(t, err)
	assert.Equal(t, "number\n", out)
}

func TestSplitReturnsAList(t *testing.T) {
	out, err := run(t, `
		var parts = split("a,b,c", ",");
		print len(parts);
		print parts[0];
		print parts[2];
	`)
	require.NoError(t, err)
	assert.Equal(t, "3\na\nc\n", out)
}

func TestListNatives(t *testing.T) {
	out, err := run(t, `
		var items = [1, 2];
		push(items, 3);
		print items[2];
		print pop(items);
		print len(items);
		insert(items, 0, 9);
		print items[0];
		remove(items, 0);
		print items[0];
		print contains(items, 2);
	`)
	require.NoError(t, err)
	assert.Equal(t, "3\n3\n2\n9\n1\ntrue\n", out)
}

func TestDictNatives(t *testing.T) {
	out, err := run(t, `
		var d = {"a": 1};
		print hasKey(d, "a");
		print hasKey(d, "b");
		print delete(d, "a");
		print hasKey(d, "a");
		var ks = keys({"x": 1, "y": 2});
		print len(ks);
	`)
	require.NoError(t, err)
	assert.Equal(t, "true\nfalse\ntrue\nfalse\n2\n", out)
}

func TestTypeofAndAssert(t *testing.T) {
	out, err := run(t, `
		print typeof(1);
		print typeof("s");
		print typeof(nil);
		print typeof(true);
		print typeof([1]);
		print typeof({"a":1});
		assert(1 == 1);
	`)
	require.NoError(t, err)
	assert.Equal(t, "number\nstring\nnil\nboolean\nlist\ndictionary\n", out)
}

func TestAssertFailureIsRuntimeError(t *testing.T) {
	_, err := run(t, `assert(1 == 2);`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "assertion failed")
}

func TestNativeArityMismatchIsRuntimeError(t *testing.T) {
	_, err := run(t, `sqrt(1, 2);`)
	require.Error(t, err)
	assert.Contains(t, strings.ToLower(err.Error()), "argument")
}

func TestWriteNativeWritesWithoutNewline(t *testing.T) {
	machine := New()
	var out bytes.Buffer
	machine.Stdout = &out
	require.NoError(t, machine.Interpret(`write("a"); write("b");`))
	assert.Equal(t, "ab", out.String())
}

func TestInputNativeReadsOneLine(t *testing.T) {
	machine := New()
	machine.Stdin = strings.NewReader("hello\nworld\n")
	var out bytes.Buffer
	machine.Stdout = &out
	require.NoError(t, machine.Interpret(`print input(); print input();`))
	assert.Equal(t, "hello\nworld\n", out.String())
}
