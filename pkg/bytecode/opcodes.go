// Package bytecode defines the Fer instruction set: one-byte opcodes
// with inline variable-length operands, as emitted into a value.Chunk
// by pkg/compiler and decoded by pkg/vm's dispatch loop. Jump offsets
// are unsigned 16-bit big-endian; every other multi-byte operand is a
// plain big-endian encoding as well.
package bytecode

// OpCode is a single bytecode instruction's operation.
type OpCode byte

const (
	OpConstant OpCode = iota
	OpNil
	OpTrue
	OpFalse
	OpPop
	OpGetLocal
	OpSetLocal
	OpGetGlobal
	OpDefineGlobal
	OpDefineGlobalPerm
	OpSetGlobal
	OpGetUpvalue
	OpSetUpvalue
	OpGetProperty
	OpSetProperty
	OpGetSuper
	OpEqual
	OpGreater
	OpLess
	OpAdd
	OpSubtract
	OpMultiply
	OpDivide
	OpNot
	OpNegate
	OpPrint
	OpJump
	OpJumpIfFalse
	OpLoop
	OpCall
	OpInvoke
	OpSuperInvoke
	OpClosure
	OpCloseUpvalue
	OpReturn
	OpClass
	OpInherit
	OpMethod
	OpList
	OpDictionary
	OpGetItem
	OpSetItem
)

var names = [...]string{
	OpConstant:          "CONSTANT",
	OpNil:                "NIL",
	OpTrue:               "TRUE",
	OpFalse:              "FALSE",
	OpPop:                "POP",
	OpGetLocal:           "GET_LOCAL",
	OpSetLocal:           "SET_LOCAL",
	OpGetGlobal:          "GET_GLOBAL",
	OpDefineGlobal:       "DEFINE_GLOBAL",
	OpDefineGlobalPerm:   "DEFINE_GLOBAL_PERM",
	OpSetGlobal:          "SET_GLOBAL",
	OpGetUpvalue:         "GET_UPVALUE",
	OpSetUpvalue:         "SET_UPVALUE",
	OpGetProperty:        "GET_PROPERTY",
	OpSetProperty:        "SET_PROPERTY",
	OpGetSuper:           "GET_SUPER",
	OpEqual:              "EQUAL",
	OpGreater:            "GREATER",
	OpLess:               "LESS",
	OpAdd:                "ADD",
	OpSubtract:           "SUBTRACT",
	OpMultiply:           "MULTIPLY",
	OpDivide:             "DIVIDE",
	OpNot:                "NOT",
	OpNegate:             "NEGATE",
	OpPrint:              "PRINT",
	OpJump:               "JUMP",
	OpJumpIfFalse:        "JUMP_IF_FALSE",
	OpLoop:               "LOOP",
	OpCall:               "CALL",
	OpInvoke:             "INVOKE",
	OpSuperInvoke:        "SUPER_INVOKE",
	OpClosure:            "CLOSURE",
	OpCloseUpvalue:       "CLOSE_UPVALUE",
	OpReturn:             "RETURN",
	OpClass:              "CLASS",
	OpInherit:            "INHERIT",
	OpMethod:             "METHOD",
	OpList:               "LIST",
	OpDictionary:         "DICTIONARY",
	OpGetItem:            "GET_ITEM",
	OpSetItem:            "SET_ITEM",
}

// String returns the instruction's mnemonic, used by the disassembler;
// values outside the instruction set render as "UNKNOWN".
func (op OpCode) String() string {
	if int(op) < len(names) && names[op] != "" {
		return names[op]
	}
	return "UNKNOWN"
}
