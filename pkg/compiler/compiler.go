// Package compiler implements Fer's single-pass compiler: a Pratt
// parser that emits bytecode directly into a value.Chunk as it
// recognizes each construct, with no separate AST stage in between
// (spec.md §4.4). Parsing and code generation are therefore the same
// walk: parsePrecedence both recognizes the grammar and calls the
// emit* helpers that write opcodes.
package compiler

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/kristofer/fer/pkg/bytecode"
	"github.com/kristofer/fer/pkg/lexer"
	"github.com/kristofer/fer/pkg/value"
)

// Compiler holds every piece of state a single compilation needs: the
// token source, the current/previous token window, accumulated error
// messages, and the stack of frame/class/loop contexts that nested
// function, class, and loop bodies push and pop as they compile.
type Compiler struct {
	lex  *lexer.Lexer
	heap *value.Heap

	previous lexer.Token
	current  lexer.Token

	hadError  bool
	panicMode bool
	errors    []string

	frame *frame
	class *classState
	loop  *loopState
}

// Compile compiles source into a top-level Function (the implicit
// <script>), allocating all heap objects it needs (strings, nested
// function objects) through heap. It always returns a Function; if
// compilation failed, the returned error lists every accumulated
// message and the Function should be discarded rather than run.
func Compile(source string, heap *value.Heap) (*value.Function, error) {
	c := &Compiler{lex: lexer.New(source), heap: heap}
	script := heap.NewFunction()
	c.frame = newFrame(nil, funcTypeScript, script)

	c.advance()
	for !c.match(lexer.TokenEOF) {
		c.declaration()
	}
	fn, _ := c.endFrame()

	if c.hadError {
		return fn, fmt.Errorf("compile error: %s", strings.Join(c.errors, "; "))
	}
	return fn, nil
}

// --- token stream -----------------------------------------------------

func (c *Compiler) advance() {
	c.previous = c.current
	for {
		c.current = c.lex.Next()
		if c.current.Type != lexer.TokenError {
			break
		}
		c.errorAtCurrent(c.current.Lexeme)
	}
}

func (c *Compiler) check(tt lexer.TokenType) bool {
	return c.current.Type == tt
}

func (c *Compiler) match(tt lexer.TokenType) bool {
	if !c.check(tt) {
		return false
	}
	c.advance()
	return true
}

func (c *Compiler) consume(tt lexer.TokenType, msg string) {
	if c.current.Type == tt {
		c.advance()
		return
	}
	c.errorAtCurrent(msg)
}

func (c *Compiler) errorAtCurrent(msg string) { c.errorAt(c.current, msg) }
func (c *Compiler) errorAtPrevious(msg string) { c.errorAt(c.previous, msg) }

// errorAt records a diagnostic and enters panic mode, which suppresses
// cascading errors until synchronize() finds a statement boundary to
// resume at (spec.md §7).
func (c *Compiler) errorAt(tok lexer.Token, msg string) {
	if c.panicMode {
		return
	}
	c.panicMode = true
	c.hadError = true

	var where string
	switch tok.Type {
	case lexer.TokenEOF:
		where = " at end"
	case lexer.TokenError:
		where = ""
	default:
		where = fmt.Sprintf(" at '%s'", tok.Lexeme)
	}
	c.errors = append(c.errors, fmt.Sprintf("[line %d] Error%s: %s", tok.Line, where, msg))
}

// synchronize skips tokens until it reaches a likely statement
// boundary, so one syntax error doesn't cascade into a wall of
// spurious follow-on errors.
func (c *Compiler) synchronize() {
	c.panicMode = false
	for c.current.Type != lexer.TokenEOF {
		if c.previous.Type == lexer.TokenSemicolon {
			return
		}
		switch c.current.Type {
		case lexer.TokenClass, lexer.TokenFun, lexer.TokenVar, lexer.TokenPerm,
			lexer.TokenFor, lexer.TokenIf, lexer.TokenWhile, lexer.TokenPrint, lexer.TokenReturn:
			return
		}
		c.advance()
	}
}

// --- bytecode emission --------------------------------------------------

func (c *Compiler) chunk() *value.Chunk { return &c.frame.function.Chunk }

func (c *Compiler) emitByte(b byte) {
	c.chunk().Write(b, c.previous.Line)
}

func (c *Compiler) emitOp(op bytecode.OpCode) { c.emitByte(byte(op)) }

func (c *Compiler) emitOps(op bytecode.OpCode, operand byte) {
	c.emitOp(op)
	c.emitByte(operand)
}

func (c *Compiler) emitReturn() {
	if c.frame.funcType == funcTypeInitializer {
		c.emitOps(bytecode.OpGetLocal, 0)
	} else {
		c.emitOp(bytecode.OpNil)
	}
	c.emitOp(bytecode.OpReturn)
}

// emitConstant adds v to the current chunk's constant pool and emits
// CONSTANT for it, reporting a compile error if the pool (capped at
// 256 entries by the one-byte operand) is already full.
func (c *Compiler) emitConstant(v value.Value) {
	idx, ok := c.chunk().AddConstant(v)
	if !ok {
		c.errorAtPrevious("Too many constants in one chunk.")
		return
	}
	c.emitOps(bytecode.OpConstant, byte(idx))
}

// emitJump writes a jump instruction with a placeholder 16-bit offset
// and returns the offset of that placeholder for patchJump to fill in
// once the jump target is known.
func (c *Compiler) emitJump(op bytecode.OpCode) int {
	c.emitOp(op)
	c.emitByte(0xff)
	c.emitByte(0xff)
	return len(c.chunk().Code) - 2
}

func (c *Compiler) patchJump(offset int) {
	jump := len(c.chunk().Code) - offset - 2
	if jump > 0xffff {
		c.errorAtPrevious("Too much code to jump over.")
		return
	}
	c.chunk().Code[offset] = byte(jump >> 8)
	c.chunk().Code[offset+1] = byte(jump & 0xff)
}

func (c *Compiler) emitLoop(loopStart int) {
	c.emitOp(bytecode.OpLoop)
	offset := len(c.chunk().Code) - loopStart + 2
	if offset > 0xffff {
		c.errorAtPrevious("Loop body too large.")
		return
	}
	c.emitByte(byte(offset >> 8))
	c.emitByte(byte(offset & 0xff))
}

func (c *Compiler) identifierConstant(name string) byte {
	idx, ok := c.chunk().AddConstant(value.Object(c.heap.NewString(name)))
	if !ok {
		c.errorAtPrevious("Too many constants in one chunk.")
	}
	return byte(idx)
}

// --- scopes and variables ----------------------------------------------

func (c *Compiler) beginScope() { c.frame.scopeDepth++ }

// endScope pops every local declared in the scope being closed. A
// captured local must survive on the heap as a closed upvalue, so it
// gets CLOSE_UPVALUE instead of a plain POP.
func (c *Compiler) endScope() {
	c.frame.scopeDepth--
	locals := c.frame.locals
	for len(locals) > 0 && locals[len(locals)-1].depth > c.frame.scopeDepth {
		if locals[len(locals)-1].isCaptured {
			c.emitOp(bytecode.OpCloseUpvalue)
		} else {
			c.emitOp(bytecode.OpPop)
		}
		locals = locals[:len(locals)-1]
	}
	c.frame.locals = locals
}

func (c *Compiler) declareVariable(isPerm bool) {
	if c.frame.scopeDepth == 0 {
		return
	}
	name := c.previous
	for i := len(c.frame.locals) - 1; i >= 0; i-- {
		l := c.frame.locals[i]
		if l.depth != uninitializedDepth && l.depth < c.frame.scopeDepth {
			break
		}
		if l.name.Lexeme == name.Lexeme {
			c.errorAtPrevious("Already a variable with this name in this scope.")
		}
	}
	c.addLocal(name, isPerm)
}

func (c *Compiler) addLocal(name lexer.Token, isPerm bool) {
	if len(c.frame.locals) >= maxLocals {
		c.errorAtPrevious("Too many local variables in function.")
		return
	}
	c.frame.locals = append(c.frame.locals, local{name: name, depth: uninitializedDepth, isPerm: isPerm})
}

func (c *Compiler) markInitialized() {
	if c.frame.scopeDepth == 0 {
		return
	}
	c.frame.locals[len(c.frame.locals)-1].depth = c.frame.scopeDepth
}

// parseVariable consumes an identifier, declares it if inside a local
// scope, and returns the constant-pool index to use for a global
// definition (0 and ignored for locals).
func (c *Compiler) parseVariable(errMsg string, isPerm bool) byte {
	c.consume(lexer.TokenIdentifier, errMsg)
	c.declareVariable(isPerm)
	if c.frame.scopeDepth > 0 {
		return 0
	}
	return c.identifierConstant(c.previous.Lexeme)
}

func (c *Compiler) defineVariable(global byte, isPerm bool) {
	if c.frame.scopeDepth > 0 {
		c.markInitialized()
		return
	}
	if isPerm {
		c.emitOps(bytecode.OpDefineGlobalPerm, global)
	} else {
		c.emitOps(bytecode.OpDefineGlobal, global)
	}
}

// --- declarations and statements ----------------------------------------

func (c *Compiler) declaration() {
	switch {
	case c.match(lexer.TokenClass):
		c.classDeclaration()
	case c.match(lexer.TokenFun):
		c.funDeclaration()
	case c.match(lexer.TokenVar):
		c.varDeclaration(false)
	case c.match(lexer.TokenPerm):
		c.varDeclaration(true)
	default:
		c.statement()
	}
	if c.panicMode {
		c.synchronize()
	}
}

func (c *Compiler) varDeclaration(isPerm bool) {
	global := c.parseVariable("Expect variable name.", isPerm)

	if c.match(lexer.TokenEqual) {
		c.expression()
	} else {
		c.emitOp(bytecode.OpNil)
	}
	c.consume(lexer.TokenSemicolon, "Expect ';' after variable declaration.")
	c.defineVariable(global, isPerm)
}

func (c *Compiler) funDeclaration() {
	global := c.parseVariable("Expect function name.", false)
	c.markInitialized()
	c.function(funcTypeFunction)
	c.defineVariable(global, false)
}

func (c *Compiler) function(funcType FunctionType) {
	fn := c.heap.NewFunction()
	fn.Name = c.heap.NewString(c.previous.Lexeme)
	c.frame = newFrame(c.frame, funcType, fn)
	c.beginScope()

	c.consume(lexer.TokenLeftParen, "Expect '(' after function name.")
	if !c.check(lexer.TokenRightParen) {
		for {
			c.frame.function.Arity++
			if c.frame.function.Arity > 255 {
				c.errorAtCurrent("Can't have more than 255 parameters.")
			}
			paramConst := c.parseVariable("Expect parameter name.", false)
			c.defineVariable(paramConst, false)
			if !c.match(lexer.TokenComma) {
				break
			}
		}
	}
	c.consume(lexer.TokenRightParen, "Expect ')' after parameters.")
	c.consume(lexer.TokenLeftBrace, "Expect '{' before function body.")
	c.block()

	compiled, upvalues := c.endFrame()

	idx, ok := c.chunk().AddConstant(value.Object(compiled))
	if !ok {
		c.errorAtPrevious("Too many constants in one chunk.")
		return
	}
	c.emitOps(bytecode.OpClosure, byte(idx))
	for _, u := range upvalues {
		if u.IsLocal {
			c.emitByte(1)
		} else {
			c.emitByte(0)
		}
		c.emitByte(byte(u.Index))
	}
}

// endFrame finishes the current frame's function, emits the implicit
// trailing return, and pops back to the enclosing frame, handing back
// the frame's upvalue descriptors for the caller to encode inline
// after the CLOSURE opcode.
func (c *Compiler) endFrame() (*value.Function, []value.UpvalueDesc) {
	c.emitReturn()
	fn := c.frame.function
	upvalues := c.frame.upvalues
	c.frame = c.frame.enclosing
	return fn, upvalues
}

func (c *Compiler) classDeclaration() {
	c.consume(lexer.TokenIdentifier, "Expect class name.")
	nameTok := c.previous
	nameConst := c.identifierConstant(nameTok.Lexeme)
	c.declareVariable(false)

	c.emitOps(bytecode.OpClass, nameConst)
	c.defineVariable(nameConst, false)

	cs := &classState{enclosing: c.class}
	c.class = cs

	if c.match(lexer.TokenLess) {
		c.consume(lexer.TokenIdentifier, "Expect superclass name.")
		c.variableNamed(c.previous)
		if c.previous.Lexeme == nameTok.Lexeme {
			c.errorAtPrevious("A class can't inherit from itself.")
		}

		c.beginScope()
		c.addLocal(lexer.Token{Lexeme: "super"}, false)
		c.defineVariable(0, false)

		c.namedVariable(nameTok, false)
		c.emitOp(bytecode.OpInherit)
		cs.hasSuperclass = true
	}

	c.namedVariable(nameTok, false)
	c.consume(lexer.TokenLeftBrace, "Expect '{' before class body.")
	for !c.check(lexer.TokenRightBrace) && !c.check(lexer.TokenEOF) {
		c.method()
	}
	c.consume(lexer.TokenRightBrace, "Expect '}' after class body.")
	c.emitOp(bytecode.OpPop) // the class itself, left on the stack by namedVariable above

	if cs.hasSuperclass {
		c.endScope()
	}
	c.class = cs.enclosing
}

func (c *Compiler) method() {
	c.consume(lexer.TokenIdentifier, "Expect method name.")
	nameTok := c.previous
	nameConst := c.identifierConstant(nameTok.Lexeme)

	funcType := funcTypeMethod
	if nameTok.Lexeme == "init" {
		funcType = funcTypeInitializer
	}
	c.function(funcType)
	c.emitOps(bytecode.OpMethod, nameConst)
}

func (c *Compiler) statement() {
	switch {
	case c.match(lexer.TokenPrint):
		c.printStatement()
	case c.match(lexer.TokenIf):
		c.ifStatement()
	case c.match(lexer.TokenWhile):
		c.whileStatement()
	case c.match(lexer.TokenFor):
		c.forStatement()
	case c.match(lexer.TokenReturn):
		c.returnStatement()
	case c.match(lexer.TokenBreak):
		c.breakStatement()
	case c.match(lexer.TokenContinue):
		c.continueStatement()
	case c.match(lexer.TokenLeftBrace):
		c.beginScope()
		c.block()
		c.endScope()
	default:
		c.expressionStatement()
	}
}

func (c *Compiler) block() {
	for !c.check(lexer.TokenRightBrace) && !c.check(lexer.TokenEOF) {
		c.declaration()
	}
	c.consume(lexer.TokenRightBrace, "Expect '}' after block.")
}

func (c *Compiler) printStatement() {
	c.expression()
	c.consume(lexer.TokenSemicolon, "Expect ';' after value.")
	c.emitOp(bytecode.OpPrint)
}

func (c *Compiler) expressionStatement() {
	c.expression()
	c.consume(lexer.TokenSemicolon, "Expect ';' after expression.")
	c.emitOp(bytecode.OpPop)
}

func (c *Compiler) ifStatement() {
	c.consume(lexer.TokenLeftParen, "Expect '(' after 'if'.")
	c.expression()
	c.consume(lexer.TokenRightParen, "Expect ')' after condition.")

	thenJump := c.emitJump(bytecode.OpJumpIfFalse)
	c.emitOp(bytecode.OpPop)
	c.statement()

	elseJump := c.emitJump(bytecode.OpJump)
	c.patchJump(thenJump)
	c.emitOp(bytecode.OpPop)

	if c.match(lexer.TokenElse) {
		c.statement()
	}
	c.patchJump(elseJump)
}

func (c *Compiler) whileStatement() {
	loopStart := len(c.chunk().Code)
	outer := c.loop
	c.loop = &loopState{enclosing: outer, loopStart: loopStart, scopeDepth: c.frame.scopeDepth}

	c.consume(lexer.TokenLeftParen, "Expect '(' after 'while'.")
	c.expression()
	c.consume(lexer.TokenRightParen, "Expect ')' after condition.")

	exitJump := c.emitJump(bytecode.OpJumpIfFalse)
	c.emitOp(bytecode.OpPop)
	c.statement()
	c.emitLoop(loopStart)

	c.patchJump(exitJump)
	c.emitOp(bytecode.OpPop)

	for _, b := range c.loop.breaks {
		c.patchJump(b)
	}
	c.loop = outer
}

// forStatement desugars C-style for(init; cond; incr) body into the
// equivalent while loop, the same transformation clox performs: the
// increment is emitted ahead of the body and jumped over on entry; the
// body loops back to the increment, which loops back to the condition.
func (c *Compiler) forStatement() {
	c.beginScope()
	c.consume(lexer.TokenLeftParen, "Expect '(' after 'for'.")

	switch {
	case c.match(lexer.TokenSemicolon):
		// no initializer
	case c.match(lexer.TokenVar):
		c.varDeclaration(false)
	default:
		c.expressionStatement()
	}

	loopStart := len(c.chunk().Code)
	exitJump := -1
	if !c.match(lexer.TokenSemicolon) {
		c.expression()
		c.consume(lexer.TokenSemicolon, "Expect ';' after loop condition.")
		exitJump = c.emitJump(bytecode.OpJumpIfFalse)
		c.emitOp(bytecode.OpPop)
	}

	if !c.check(lexer.TokenRightParen) {
		bodyJump := c.emitJump(bytecode.OpJump)
		incrStart := len(c.chunk().Code)
		c.expression()
		c.emitOp(bytecode.OpPop)
		c.consume(lexer.TokenRightParen, "Expect ')' after for clauses.")

		c.emitLoop(loopStart)
		loopStart = incrStart
		c.patchJump(bodyJump)
	} else {
		c.consume(lexer.TokenRightParen, "Expect ')' after for clauses.")
	}

	outer := c.loop
	c.loop = &loopState{enclosing: outer, loopStart: loopStart, scopeDepth: c.frame.scopeDepth}

	c.statement()
	c.emitLoop(loopStart)

	if exitJump != -1 {
		c.patchJump(exitJump)
		c.emitOp(bytecode.OpPop)
	}
	for _, b := range c.loop.breaks {
		c.patchJump(b)
	}
	c.loop = outer
	c.endScope()
}

func (c *Compiler) returnStatement() {
	if c.frame.funcType == funcTypeScript {
		c.errorAtPrevious("Can't return from top-level code.")
	}
	if c.match(lexer.TokenSemicolon) {
		c.emitReturn()
		return
	}
	if c.frame.funcType == funcTypeInitializer {
		c.errorAtPrevious("Can't return a value from an initializer.")
	}
	c.expression()
	c.consume(lexer.TokenSemicolon, "Expect ';' after return value.")
	c.emitOp(bytecode.OpReturn)
}

// breakStatement pops every local the loop body has opened below the
// loop's own scope depth before jumping, mirroring what endScope would
// have done had control fallen through normally.
func (c *Compiler) breakStatement() {
	if c.loop == nil {
		c.errorAtPrevious("Can't use 'break' outside of a loop.")
		c.consume(lexer.TokenSemicolon, "Expect ';' after 'break'.")
		return
	}
	c.consume(lexer.TokenSemicolon, "Expect ';' after 'break'.")
	c.popLocalsToDepth(c.loop.scopeDepth)
	jump := c.emitJump(bytecode.OpJump)
	c.loop.breaks = append(c.loop.breaks, jump)
}

func (c *Compiler) continueStatement() {
	if c.loop == nil {
		c.errorAtPrevious("Can't use 'continue' outside of a loop.")
		c.consume(lexer.TokenSemicolon, "Expect ';' after 'continue'.")
		return
	}
	c.consume(lexer.TokenSemicolon, "Expect ';' after 'continue'.")
	c.popLocalsToDepth(c.loop.scopeDepth)
	c.emitLoop(c.loop.loopStart)
}

func (c *Compiler) popLocalsToDepth(depth int) {
	for i := len(c.frame.locals) - 1; i >= 0 && c.frame.locals[i].depth > depth; i-- {
		if c.frame.locals[i].isCaptured {
			c.emitOp(bytecode.OpCloseUpvalue)
		} else {
			c.emitOp(bytecode.OpPop)
		}
	}
}

// parseNumberFloat converts a number token's lexeme to a float64,
// used by expressions.go's number() prefix rule.
func parseNumberFloat(lexeme string) float64 {
	n, _ := strconv.ParseFloat(lexeme, 64)
	return n
}
