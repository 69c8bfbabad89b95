package compiler

import (
	"strings"

	"github.com/kristofer/fer/pkg/bytecode"
	"github.com/kristofer/fer/pkg/lexer"
	"github.com/kristofer/fer/pkg/value"
)

// Precedence levels, lowest to highest, matching the grammar's operator
// lattice (spec.md §4.4): NONE < ASSIGNMENT < OR < AND < EQUALITY <
// COMPARISON < TERM < FACTOR < UNARY < CALL < PRIMARY.
type precedence int

const (
	precNone precedence = iota
	precAssignment
	precOr
	precAnd
	precEquality
	precComparison
	precTerm
	precFactor
	precUnary
	precCall
	precPrimary
)

type parseFn func(c *Compiler, canAssign bool)

type parseRule struct {
	prefix     parseFn
	infix      parseFn
	precedence precedence
}

var rules map[lexer.TokenType]parseRule

func init() {
	rules = map[lexer.TokenType]parseRule{
		lexer.TokenLeftParen:    {prefix: (*Compiler).grouping, infix: (*Compiler).call, precedence: precCall},
		lexer.TokenLeftBracket:  {prefix: (*Compiler).listLiteral, infix: (*Compiler).subscript, precedence: precCall},
		lexer.TokenLeftBrace:    {prefix: (*Compiler).dictLiteral},
		lexer.TokenDot:          {infix: (*Compiler).dot, precedence: precCall},
		lexer.TokenMinus:        {prefix: (*Compiler).unary, infix: (*Compiler).binary, precedence: precTerm},
		lexer.TokenPlus:         {infix: (*Compiler).binary, precedence: precTerm},
		lexer.TokenSlash:        {infix: (*Compiler).binary, precedence: precFactor},
		lexer.TokenStar:         {infix: (*Compiler).binary, precedence: precFactor},
		lexer.TokenBang:         {prefix: (*Compiler).unary},
		lexer.TokenBangEqual:    {infix: (*Compiler).binary, precedence: precEquality},
		lexer.TokenEqualEqual:   {infix: (*Compiler).binary, precedence: precEquality},
		lexer.TokenGreater:      {infix: (*Compiler).binary, precedence: precComparison},
		lexer.TokenGreaterEqual: {infix: (*Compiler).binary, precedence: precComparison},
		lexer.TokenLess:         {infix: (*Compiler).binary, precedence: precComparison},
		lexer.TokenLessEqual:    {infix: (*Compiler).binary, precedence: precComparison},
		lexer.TokenIdentifier:   {prefix: (*Compiler).variable},
		lexer.TokenString:       {prefix: (*Compiler).stringLiteral},
		lexer.TokenNumber:       {prefix: (*Compiler).number},
		lexer.TokenAnd:          {infix: (*Compiler).and, precedence: precAnd},
		lexer.TokenOr:           {infix: (*Compiler).or, precedence: precOr},
		lexer.TokenFalse:        {prefix: (*Compiler).literal},
		lexer.TokenTrue:         {prefix: (*Compiler).literal},
		lexer.TokenNil:          {prefix: (*Compiler).literal},
		lexer.TokenThis:         {prefix: (*Compiler).this},
		lexer.TokenSuper:        {prefix: (*Compiler).super},
	}
}

func (c *Compiler) getRule(tt lexer.TokenType) parseRule { return rules[tt] }

// expression parses one full expression at the lowest meaningful
// precedence, assignment.
func (c *Compiler) expression() { c.parsePrecedence(precAssignment) }

// parsePrecedence is the heart of the Pratt parser: it consumes a
// prefix expression, then keeps folding in infix operators as long as
// their precedence is at least minPrec. canAssign is threaded through
// so that a prefix like "a" on the left of "=" can decide to compile a
// SET instead of a GET.
func (c *Compiler) parsePrecedence(minPrec precedence) {
	c.advance()
	prefix := c.getRule(c.previous.Type).prefix
	if prefix == nil {
		c.errorAtPrevious("Expect expression.")
		return
	}
	canAssign := minPrec <= precAssignment
	prefix(c, canAssign)

	for minPrec <= c.getRule(c.current.Type).precedence {
		c.advance()
		infix := c.getRule(c.previous.Type).infix
		infix(c, canAssign)
	}

	if canAssign && c.match(lexer.TokenEqual) {
		c.errorAtPrevious("Invalid assignment target.")
	}
}

func (c *Compiler) number(canAssign bool) {
	c.emitConstant(value.Number(parseNumberFloat(c.previous.Lexeme)))
}

// stringLiteral strips the surrounding quotes and interprets backslash
// escapes (\n \t \r \\ \") at compile time, not in the scanner — the
// scanner only skips over an escaped byte so it doesn't mistake an
// escaped quote for the closing one.
func (c *Compiler) stringLiteral(canAssign bool) {
	raw := c.previous.Lexeme
	inner := raw[1 : len(raw)-1]
	c.emitConstant(value.Object(c.heap.NewString(unescape(inner))))
}

func unescape(s string) string {
	if !strings.ContainsRune(s, '\\') {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] != '\\' || i == len(s)-1 {
			b.WriteByte(s[i])
			continue
		}
		i++
		switch s[i] {
		case 'n':
			b.WriteByte('\n')
		case 't':
			b.WriteByte('\t')
		case 'r':
			b.WriteByte('\r')
		case '\\':
			b.WriteByte('\\')
		case '"':
			b.WriteByte('"')
		default:
			b.WriteByte('\\')
			b.WriteByte(s[i])
		}
	}
	return b.String()
}

func (c *Compiler) literal(canAssign bool) {
	switch c.previous.Type {
	case lexer.TokenFalse:
		c.emitOp(bytecode.OpFalse)
	case lexer.TokenTrue:
		c.emitOp(bytecode.OpTrue)
	case lexer.TokenNil:
		c.emitOp(bytecode.OpNil)
	}
}

func (c *Compiler) grouping(canAssign bool) {
	c.expression()
	c.consume(lexer.TokenRightParen, "Expect ')' after expression.")
}

func (c *Compiler) unary(canAssign bool) {
	opType := c.previous.Type
	c.parsePrecedence(precUnary)
	switch opType {
	case lexer.TokenBang:
		c.emitOp(bytecode.OpNot)
	case lexer.TokenMinus:
		c.emitOp(bytecode.OpNegate)
	}
}

func (c *Compiler) binary(canAssign bool) {
	opType := c.previous.Type
	rule := c.getRule(opType)
	c.parsePrecedence(rule.precedence + 1)

	switch opType {
	case lexer.TokenBangEqual:
		c.emitOp(bytecode.OpEqual)
		c.emitOp(bytecode.OpNot)
	case lexer.TokenEqualEqual:
		c.emitOp(bytecode.OpEqual)
	case lexer.TokenGreater:
		c.emitOp(bytecode.OpGreater)
	case lexer.TokenGreaterEqual:
		c.emitOp(bytecode.OpLess)
		c.emitOp(bytecode.OpNot)
	case lexer.TokenLess:
		c.emitOp(bytecode.OpLess)
	case lexer.TokenLessEqual:
		c.emitOp(bytecode.OpGreater)
		c.emitOp(bytecode.OpNot)
	case lexer.TokenPlus:
		c.emitOp(bytecode.OpAdd)
	case lexer.TokenMinus:
		c.emitOp(bytecode.OpSubtract)
	case lexer.TokenStar:
		c.emitOp(bytecode.OpMultiply)
	case lexer.TokenSlash:
		c.emitOp(bytecode.OpDivide)
	}
}

func (c *Compiler) and(canAssign bool) {
	endJump := c.emitJump(bytecode.OpJumpIfFalse)
	c.emitOp(bytecode.OpPop)
	c.parsePrecedence(precAnd)
	c.patchJump(endJump)
}

func (c *Compiler) or(canAssign bool) {
	elseJump := c.emitJump(bytecode.OpJumpIfFalse)
	endJump := c.emitJump(bytecode.OpJump)
	c.patchJump(elseJump)
	c.emitOp(bytecode.OpPop)
	c.parsePrecedence(precOr)
	c.patchJump(endJump)
}

func (c *Compiler) call(canAssign bool) {
	argCount := c.argumentList(lexer.TokenRightParen)
	c.emitOps(bytecode.OpCall, argCount)
}

// argumentList compiles a comma-separated expression list up to close,
// shared by call() and the invoke-optimized dot() path.
func (c *Compiler) argumentList(close lexer.TokenType) byte {
	var count int
	if !c.check(close) {
		for {
			c.expression()
			if count == 255 {
				c.errorAtPrevious("Can't have more than 255 arguments.")
			}
			count++
			if !c.match(lexer.TokenComma) {
				break
			}
		}
	}
	c.consume(close, "Expect ')' after arguments.")
	return byte(count)
}

// dot compiles `.` property access, specializing the common
// `receiver.method(args)` shape directly into INVOKE so the VM can
// skip materializing a bound method object for the ordinary call case.
func (c *Compiler) dot(canAssign bool) {
	c.consume(lexer.TokenIdentifier, "Expect property name after '.'.")
	nameConst := c.identifierConstant(c.previous.Lexeme)

	switch {
	case canAssign && c.match(lexer.TokenEqual):
		c.expression()
		c.emitOps(bytecode.OpSetProperty, nameConst)
	case c.match(lexer.TokenLeftParen):
		argCount := c.argumentList(lexer.TokenRightParen)
		c.emitOps(bytecode.OpInvoke, nameConst)
		c.emitByte(argCount)
	default:
		c.emitOps(bytecode.OpGetProperty, nameConst)
	}
}

func (c *Compiler) this(canAssign bool) {
	if c.class == nil {
		c.errorAtPrevious("Can't use 'this' outside of a class.")
		return
	}
	c.variable(false)
}

func (c *Compiler) super(canAssign bool) {
	if c.class == nil {
		c.errorAtPrevious("Can't use 'super' outside of a class.")
	} else if !c.class.hasSuperclass {
		c.errorAtPrevious("Can't use 'super' in a class with no superclass.")
	}

	c.consume(lexer.TokenDot, "Expect '.' after 'super'.")
	c.consume(lexer.TokenIdentifier, "Expect superclass method name.")
	nameConst := c.identifierConstant(c.previous.Lexeme)

	c.namedVariable(lexer.Token{Type: lexer.TokenThis, Lexeme: "this"}, false)
	if c.match(lexer.TokenLeftParen) {
		argCount := c.argumentList(lexer.TokenRightParen)
		c.namedVariable(lexer.Token{Type: lexer.TokenSuper, Lexeme: "super"}, false)
		c.emitOps(bytecode.OpSuperInvoke, nameConst)
		c.emitByte(argCount)
	} else {
		c.namedVariable(lexer.Token{Type: lexer.TokenSuper, Lexeme: "super"}, false)
		c.emitOps(bytecode.OpGetSuper, nameConst)
	}
}

func (c *Compiler) variable(canAssign bool) {
	c.namedVariable(c.previous, canAssign)
}

// variableNamed looks up a read-only reference to name, used where an
// identifier names something (a superclass) that can't itself be
// assigned to.
func (c *Compiler) variableNamed(name lexer.Token) {
	c.namedVariable(name, false)
}

// namedVariable resolves name through locals, then enclosing-frame
// upvalues, then falls back to a global, emitting the matching GET or
// (when canAssign and an '=' follows) SET opcode. Perm-declared locals
// reject SET at compile time; perm globals are rejected at runtime by
// the VM since a global's perm-ness isn't known until it's defined.
func (c *Compiler) namedVariable(name lexer.Token, canAssign bool) {
	var getOp, setOp bytecode.OpCode
	var arg int
	isPermLocal := false

	if idx, ok := c.frame.resolveLocal(c, name.Lexeme); ok {
		getOp, setOp = bytecode.OpGetLocal, bytecode.OpSetLocal
		arg = idx
		isPermLocal = c.frame.locals[idx].isPerm
	} else if idx, ok := c.frame.resolveUpvalue(c, name.Lexeme); ok {
		getOp, setOp = bytecode.OpGetUpvalue, bytecode.OpSetUpvalue
		arg = idx
	} else {
		getOp, setOp = bytecode.OpGetGlobal, bytecode.OpSetGlobal
		arg = int(c.identifierConstant(name.Lexeme))
	}

	if canAssign && c.match(lexer.TokenEqual) {
		if isPermLocal {
			c.errorAtPrevious("Can't assign to a perm variable.")
		}
		c.expression()
		c.emitOps(setOp, byte(arg))
	} else {
		c.emitOps(getOp, byte(arg))
	}
}

// listLiteral compiles `[e1, e2, ...]`, pushing each element then a
// single LIST instruction that pops them into a new List object.
func (c *Compiler) listLiteral(canAssign bool) {
	count := 0
	if !c.check(lexer.TokenRightBracket) {
		for {
			c.expression()
			count++
			if !c.match(lexer.TokenComma) {
				break
			}
		}
	}
	c.consume(lexer.TokenRightBracket, "Expect ']' after list elements.")
	if count > 255 {
		c.errorAtPrevious("Too many elements in list literal.")
	}
	c.emitOps(bytecode.OpList, byte(count))
}

// dictLiteral compiles `{k1: v1, k2: v2, ...}`, pushing key/value pairs
// then a single DICTIONARY instruction.
func (c *Compiler) dictLiteral(canAssign bool) {
	count := 0
	if !c.check(lexer.TokenRightBrace) {
		for {
			c.expression()
			c.consume(lexer.TokenColon, "Expect ':' after dictionary key.")
			c.expression()
			count++
			if !c.match(lexer.TokenComma) {
				break
			}
		}
	}
	c.consume(lexer.TokenRightBrace, "Expect '}' after dictionary entries.")
	if count > 255 {
		c.errorAtPrevious("Too many entries in dictionary literal.")
	}
	c.emitOps(bytecode.OpDictionary, byte(count))
}

// subscript compiles `target[index]`, as either GET_ITEM or, when
// followed by '=', SET_ITEM.
func (c *Compiler) subscript(canAssign bool) {
	c.expression()
	c.consume(lexer.TokenRightBracket, "Expect ']' after index.")
	if canAssign && c.match(lexer.TokenEqual) {
		c.expression()
		c.emitOp(bytecode.OpSetItem)
	} else {
		c.emitOp(bytecode.OpGetItem)
	}
}
