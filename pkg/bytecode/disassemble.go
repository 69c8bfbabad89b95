//go:build fer_debug

package bytecode

import (
	"fmt"
	"strings"

	"github.com/kristofer/fer/pkg/value"
)

// Disassemble pretty-prints every instruction in chunk, one line per
// instruction: offset, source line, opcode mnemonic, and a decoded
// operand. Built only with -tags fer_debug, per spec.md §4.7.
func Disassemble(chunk *value.Chunk, name string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "== %s ==\n", name)
	offset := 0
	for offset < len(chunk.Code) {
		var line string
		offset, line = Instruction(chunk, offset)
		b.WriteString(line)
		b.WriteByte('\n')
	}
	return b.String()
}

// Instruction decodes the instruction at offset, returning the text of
// one disassembled line and the offset of the next instruction.
func Instruction(chunk *value.Chunk, offset int) (int, string) {
	var b strings.Builder
	fmt.Fprintf(&b, "%04d ", offset)
	if offset > 0 && chunk.Lines[offset] == chunk.Lines[offset-1] {
		b.WriteString("   | ")
	} else {
		fmt.Fprintf(&b, "%4d ", chunk.Lines[offset])
	}

	op := OpCode(chunk.Code[offset])
	switch op {
	case OpNil, OpTrue, OpFalse, OpPop, OpEqual, OpGreater, OpLess,
		OpAdd, OpSubtract, OpMultiply, OpDivide, OpNot, OpNegate,
		OpPrint, OpCloseUpvalue, OpReturn, OpInherit, OpGetItem, OpSetItem:
		b.WriteString(op.String())
		return offset + 1, b.String()

	case OpConstant, OpDefineGlobal, OpDefineGlobalPerm, OpGetGlobal,
		OpSetGlobal, OpClass, OpMethod, OpGetProperty, OpSetProperty, OpGetSuper:
		idx := int(chunk.Code[offset+1])
		fmt.Fprintf(&b, "%-16s %4d '%s'", op.String(), idx, value.Stringify(chunk.Constants[idx]))
		return offset + 2, b.String()

	case OpGetLocal, OpSetLocal, OpGetUpvalue, OpSetUpvalue, OpCall:
		slot := int(chunk.Code[offset+1])
		fmt.Fprintf(&b, "%-16s %4d", op.String(), slot)
		return offset + 2, b.String()

	case OpList, OpDictionary:
		n := int(chunk.Code[offset+1])
		fmt.Fprintf(&b, "%-16s %4d", op.String(), n)
		return offset + 2, b.String()

	case OpInvoke, OpSuperInvoke:
		idx := int(chunk.Code[offset+1])
		argc := int(chunk.Code[offset+2])
		fmt.Fprintf(&b, "%-16s (%d args) %4d '%s'", op.String(), argc, idx, value.Stringify(chunk.Constants[idx]))
		return offset + 3, b.String()

	case OpJump, OpJumpIfFalse:
		jump := int(chunk.Code[offset+1])<<8 | int(chunk.Code[offset+2])
		fmt.Fprintf(&b, "%-16s %4d -> %d", op.String(), offset, offset+3+jump)
		return offset + 3, b.String()

	case OpLoop:
		jump := int(chunk.Code[offset+1])<<8 | int(chunk.Code[offset+2])
		fmt.Fprintf(&b, "%-16s %4d -> %d", op.String(), offset, offset+3-jump)
		return offset + 3, b.String()

	case OpClosure:
		idx := int(chunk.Code[offset+1])
		fn := chunk.Constants[idx].AsFunction()
		fmt.Fprintf(&b, "%-16s %4d %s", op.String(), idx, value.Stringify(chunk.Constants[idx]))
		next := offset + 2
		for i := 0; i < fn.UpvalueCount; i++ {
			isLocal := chunk.Code[next]
			index := chunk.Code[next+1]
			kind := "upvalue"
			if isLocal == 1 {
				kind = "local"
			}
			fmt.Fprintf(&b, "\n%04d      |                     %s %d", next, kind, index)
			next += 2
		}
		return next, b.String()

	default:
		fmt.Fprintf(&b, "Unknown opcode %d", op)
		return offset + 1, b.String()
	}
}
