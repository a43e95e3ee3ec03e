// Package compiler implements the single-pass Pratt parser that turns wisp
// source directly into bytecode, with no intermediate AST: every expression
// and statement is compiled (emitted) the moment enough tokens have been
// seen to know what it means.
package compiler

import (
	"fmt"
	"strconv"

	"github.com/wisplang/wisp/pkg/object"
	"github.com/wisplang/wisp/pkg/scanner"
	"github.com/wisplang/wisp/pkg/table"
)

// CompileError reports a single diagnostic raised during compilation, with
// the source line it was attributed to.
type CompileError struct {
	Line    int
	Where   string
	Message string
}

func (e *CompileError) Error() string {
	if e.Where != "" {
		return fmt.Sprintf("[line %d] Error%s: %s", e.Line, e.Where, e.Message)
	}
	return fmt.Sprintf("[line %d] Error: %s", e.Line, e.Message)
}

// ErrorList is every CompileError a single Compile call produced before
// synchronization gave up. Compile always returns this type on failure, so
// callers can errors.As for it to distinguish compile errors from runtime
// ones (the CLI maps the two to different exit codes).
type ErrorList []*CompileError

func (l ErrorList) Error() string {
	msg := ""
	for i, e := range l {
		if i > 0 {
			msg += "\n"
		}
		msg += e.Error()
	}
	return msg
}

const (
	maxLocals   = 256
	maxUpvalues = 256
	maxArgs     = 255
)

type funcType int

const (
	typeFunction funcType = iota
	typeScript
)

type local struct {
	name       scanner.Token
	depth      int // -1 while declared but not yet initialized
	isCaptured bool
}

type upvalueRef struct {
	index   byte
	isLocal bool
}

// funcState is one function's worth of compiler bookkeeping: its own chunk,
// its own locals and upvalues, chained to the function it's nested inside.
type funcState struct {
	enclosing *funcState
	function  *object.ObjFunction
	fnType    funcType

	locals     []local
	scopeDepth int
	upvalues   []upvalueRef
}

// Compiler drives one top-level compilation. A Compiler is not safe for
// reuse across calls to Compile; construct a new one (or call Compile once)
// per source unit.
type Compiler struct {
	strings *table.Table
	scan    *scanner.Scanner

	current  scanner.Token
	previous scanner.Token

	hadError  bool
	panicMode bool
	errs      ErrorList

	fn *funcState
}

// New returns a compiler that interns identifier and string constants into
// strings. The VM must use the same table so that global-variable lookups
// (keyed by interned *ObjString) observe compiler-produced names.
func New(strings *table.Table) *Compiler {
	return &Compiler{strings: strings}
}

// Compile compiles source into a top-level script function. On a compile
// error it returns nil and every CompileError collected before
// synchronization gave up, joined into one error.
func (c *Compiler) Compile(source string) (*object.ObjFunction, error) {
	c.scan = scanner.New(source)
	c.fn = &funcState{
		function:   object.NewFunction(),
		fnType:     typeScript,
		scopeDepth: 0,
	}
	c.fn.locals = append(c.fn.locals, local{name: scanner.Token{Lexeme: ""}, depth: 0})

	c.advance()
	for !c.match(scanner.TokenEOF) {
		c.declaration()
	}
	fn := c.endFunction()

	if c.hadError {
		return nil, c.errs
	}
	return fn, nil
}

// ---- token stream -------------------------------------------------------

func (c *Compiler) advance() {
	c.previous = c.current
	for {
		c.current = c.scan.NextToken()
		if c.current.Kind != scanner.TokenError {
			break
		}
		c.errorAtCurrent(c.current.Lexeme)
	}
}

func (c *Compiler) check(kind scanner.TokenKind) bool {
	return c.current.Kind == kind
}

func (c *Compiler) match(kind scanner.TokenKind) bool {
	if !c.check(kind) {
		return false
	}
	c.advance()
	return true
}

func (c *Compiler) consume(kind scanner.TokenKind, msg string) {
	if c.current.Kind == kind {
		c.advance()
		return
	}
	c.errorAtCurrent(msg)
}

func (c *Compiler) errorAtCurrent(msg string) { c.errorAt(c.current, msg) }
func (c *Compiler) error(msg string)          { c.errorAt(c.previous, msg) }

func (c *Compiler) errorAt(tok scanner.Token, msg string) {
	if c.panicMode {
		return
	}
	c.panicMode = true
	c.hadError = true

	where := ""
	switch {
	case tok.Kind == scanner.TokenEOF:
		where = " at end"
	case tok.Kind == scanner.TokenError:
		where = ""
	default:
		where = fmt.Sprintf(" at '%s'", tok.Lexeme)
	}
	c.errs = append(c.errs, &CompileError{Line: tok.Line, Where: where, Message: msg})
}

// Synchronize discards tokens until it reaches a statement boundary,
// letting compilation keep going after an error instead of cascading.
func (c *Compiler) Synchronize() {
	c.panicMode = false
	for c.current.Kind != scanner.TokenEOF {
		if c.previous.Kind == scanner.TokenSemicolon {
			return
		}
		switch c.current.Kind {
		case scanner.TokenClass, scanner.TokenFun, scanner.TokenVar, scanner.TokenFor,
			scanner.TokenIf, scanner.TokenWhile, scanner.TokenPrint, scanner.TokenReturn:
			return
		}
		c.advance()
	}
}

// ---- emission helpers -----------------------------------------------------

func (c *Compiler) chunk() *object.Chunk { return c.fn.function.Chunk }

func (c *Compiler) emitByte(b byte) {
	c.chunk().WriteByte(b, c.previous.Line)
}

func (c *Compiler) emitOp(op object.OpCode) { c.emitByte(byte(op)) }

func (c *Compiler) emitBytes(a, b byte) {
	c.emitByte(a)
	c.emitByte(b)
}

func (c *Compiler) emitLoop(loopStart int) {
	c.emitOp(object.OpLoop)
	offset := len(c.chunk().Code) - loopStart + 2
	if offset > 0xFFFF {
		c.error("Loop body too large.")
	}
	c.emitByte(byte(offset >> 8))
	c.emitByte(byte(offset))
}

func (c *Compiler) emitJump(op object.OpCode) int {
	c.emitOp(op)
	c.emitByte(0xFF)
	c.emitByte(0xFF)
	return len(c.chunk().Code) - 2
}

func (c *Compiler) patchJump(offset int) {
	jump := len(c.chunk().Code) - offset - 2
	if jump > 0xFFFF {
		c.error("Too much code to jump over.")
	}
	c.chunk().Code[offset] = byte(jump >> 8)
	c.chunk().Code[offset+1] = byte(jump)
}

func (c *Compiler) emitReturn() {
	c.emitOp(object.OpNil)
	c.emitOp(object.OpReturn)
}

func (c *Compiler) emitConstant(v object.Value) {
	if err := c.chunk().WriteConstant(object.OpConstant, object.OpConstantLong, v, c.previous.Line); err != nil {
		c.error(err.Error())
	}
}

func (c *Compiler) endFunction() *object.ObjFunction {
	c.emitReturn()
	fn := c.fn.function
	fn.UpvalueCount = len(c.fn.upvalues)
	c.fn = c.fn.enclosing
	return fn
}

// ---- scopes and locals -----------------------------------------------------

func (c *Compiler) beginScope() { c.fn.scopeDepth++ }

func (c *Compiler) endScope() {
	c.fn.scopeDepth--
	popped := 0
	for len(c.fn.locals) > 0 && c.fn.locals[len(c.fn.locals)-1].depth > c.fn.scopeDepth {
		last := c.fn.locals[len(c.fn.locals)-1]
		if last.isCaptured {
			if popped > 0 {
				c.emitPopN(popped)
				popped = 0
			}
			c.emitOp(object.OpCloseUpvalue)
		} else {
			popped++
		}
		c.fn.locals = c.fn.locals[:len(c.fn.locals)-1]
	}
	if popped > 0 {
		c.emitPopN(popped)
	}
}

func (c *Compiler) emitPopN(n int) {
	if n == 1 {
		c.emitOp(object.OpPop)
		return
	}
	c.emitOp(object.OpPopN)
	c.emitByte(byte(n))
}

func (c *Compiler) identifierConstant(tok scanner.Token) object.Value {
	return object.Obj(c.strings.Intern(tok.Lexeme))
}

func identifiersEqual(a, b scanner.Token) bool { return a.Lexeme == b.Lexeme }

func (c *Compiler) addLocal(name scanner.Token) {
	if len(c.fn.locals) >= maxLocals {
		c.error("Too many local variables in function.")
		return
	}
	c.fn.locals = append(c.fn.locals, local{name: name, depth: -1})
}

func (c *Compiler) declareVariable() {
	if c.fn.scopeDepth == 0 {
		return
	}
	name := c.previous
	for i := len(c.fn.locals) - 1; i >= 0; i-- {
		l := c.fn.locals[i]
		if l.depth != -1 && l.depth < c.fn.scopeDepth {
			break
		}
		if identifiersEqual(name, l.name) {
			c.error("Already a variable with this name in this scope.")
		}
	}
	c.addLocal(name)
}

func (c *Compiler) parseVariable(msg string) object.Value {
	c.consume(scanner.TokenIdentifier, msg)
	c.declareVariable()
	if c.fn.scopeDepth > 0 {
		return object.Nil
	}
	return c.identifierConstant(c.previous)
}

func (c *Compiler) markInitialized() {
	if c.fn.scopeDepth == 0 {
		return
	}
	c.fn.locals[len(c.fn.locals)-1].depth = c.fn.scopeDepth
}

func (c *Compiler) defineVariable(global object.Value) {
	if c.fn.scopeDepth > 0 {
		c.markInitialized()
		return
	}
	if err := c.chunk().WriteConstant(object.OpDefineGlobal, object.OpDefineGlobalLong, global, c.previous.Line); err != nil {
		c.error(err.Error())
	}
}

func resolveLocal(fn *funcState, name scanner.Token) int {
	for i := len(fn.locals) - 1; i >= 0; i-- {
		if identifiersEqual(name, fn.locals[i].name) {
			if fn.locals[i].depth == -1 {
				return -2 // sentinel: read-before-initialized
			}
			return i
		}
	}
	return -1
}

func addUpvalue(fn *funcState, index byte, isLocal bool) int {
	for i, uv := range fn.upvalues {
		if uv.index == index && uv.isLocal == isLocal {
			return i
		}
	}
	if len(fn.upvalues) >= maxUpvalues {
		return -1
	}
	fn.upvalues = append(fn.upvalues, upvalueRef{index: index, isLocal: isLocal})
	return len(fn.upvalues) - 1
}

func resolveUpvalue(c *Compiler, fn *funcState, name scanner.Token) int {
	if fn.enclosing == nil {
		return -1
	}
	if local := resolveLocal(fn.enclosing, name); local == -2 {
		c.error("Can't read local variable in its own initializer.")
		return -1
	} else if local >= 0 {
		fn.enclosing.locals[local].isCaptured = true
		return addUpvalue(fn, byte(local), true)
	}
	if upvalue := resolveUpvalue(c, fn.enclosing, name); upvalue >= 0 {
		return addUpvalue(fn, byte(upvalue), false)
	}
	return -1
}

// ---- declarations -----------------------------------------------------

func (c *Compiler) declaration() {
	switch {
	case c.match(scanner.TokenFun):
		c.funDeclaration()
	case c.match(scanner.TokenVar):
		c.varDeclaration()
	case c.match(scanner.TokenClass):
		c.error("Classes are not supported.")
	default:
		c.statement()
	}
	if c.panicMode {
		c.Synchronize()
	}
}

func (c *Compiler) funDeclaration() {
	global := c.parseVariable("Expect function name.")
	c.markInitialized()
	c.function(typeFunction)
	c.defineVariable(global)
}

func (c *Compiler) function(ft funcType) {
	c.fn = &funcState{
		enclosing:  c.fn,
		function:   object.NewFunction(),
		fnType:     ft,
		scopeDepth: c.fn.scopeDepth + 1,
	}
	c.fn.locals = append(c.fn.locals, local{name: scanner.Token{Lexeme: ""}, depth: 0})
	c.fn.function.Name = c.strings.Intern(c.previous.Lexeme)

	c.consume(scanner.TokenLeftParen, "Expect '(' after function name.")
	if !c.check(scanner.TokenRightParen) {
		for {
			c.fn.function.Arity++
			if c.fn.function.Arity > maxArgs {
				c.errorAtCurrent("Can't have more than 255 parameters.")
			}
			constant := c.parseVariable("Expect parameter name.")
			c.defineVariable(constant)
			if !c.match(scanner.TokenComma) {
				break
			}
		}
	}
	c.consume(scanner.TokenRightParen, "Expect ')' after parameters.")
	c.consume(scanner.TokenLeftBrace, "Expect '{' before function body.")
	c.block()

	enclosing := c.fn.enclosing
	upvalues := c.fn.upvalues
	fn := c.endFunction()
	c.fn = enclosing

	idx, err := c.chunk().AddConstant(object.Obj(fn))
	if err != nil {
		c.error(err.Error())
		return
	}
	op, longOp := object.OpClosure, object.OpClosureLong
	if idx < 1<<8 {
		c.emitByte(byte(op))
		c.emitByte(byte(idx))
	} else {
		c.emitByte(byte(longOp))
		c.emitByte(byte(idx >> 16))
		c.emitByte(byte(idx >> 8))
		c.emitByte(byte(idx))
	}
	for _, uv := range upvalues {
		if uv.isLocal {
			c.emitByte(1)
		} else {
			c.emitByte(0)
		}
		c.emitByte(uv.index)
	}
}

func (c *Compiler) varDeclaration() {
	global := c.parseVariable("Expect variable name.")
	if c.match(scanner.TokenEqual) {
		c.expression()
	} else {
		c.emitOp(object.OpNil)
	}
	c.consume(scanner.TokenSemicolon, "Expect ';' after variable declaration.")
	c.defineVariable(global)
}

// ---- statements -----------------------------------------------------

func (c *Compiler) statement() {
	switch {
	case c.match(scanner.TokenPrint):
		c.printStatement()
	case c.match(scanner.TokenIf):
		c.ifStatement()
	case c.match(scanner.TokenReturn):
		c.returnStatement()
	case c.match(scanner.TokenWhile):
		c.whileStatement()
	case c.match(scanner.TokenFor):
		c.forStatement()
	case c.match(scanner.TokenLeftBrace):
		c.beginScope()
		c.block()
		c.endScope()
	default:
		c.expressionStatement()
	}
}

func (c *Compiler) block() {
	for !c.check(scanner.TokenRightBrace) && !c.check(scanner.TokenEOF) {
		c.declaration()
	}
	c.consume(scanner.TokenRightBrace, "Expect '}' after block.")
}

func (c *Compiler) printStatement() {
	c.expression()
	c.consume(scanner.TokenSemicolon, "Expect ';' after value.")
	c.emitOp(object.OpPrint)
}

func (c *Compiler) expressionStatement() {
	c.expression()
	c.consume(scanner.TokenSemicolon, "Expect ';' after expression.")
	c.emitOp(object.OpPop)
}

func (c *Compiler) returnStatement() {
	if c.fn.fnType == typeScript {
		c.error("Can't return from top-level code.")
	}
	if c.match(scanner.TokenSemicolon) {
		c.emitReturn()
		return
	}
	c.expression()
	c.consume(scanner.TokenSemicolon, "Expect ';' after return value.")
	c.emitOp(object.OpReturn)
}

func (c *Compiler) ifStatement() {
	c.consume(scanner.TokenLeftParen, "Expect '(' after 'if'.")
	c.expression()
	c.consume(scanner.TokenRightParen, "Expect ')' after condition.")

	thenJump := c.emitJump(object.OpJumpIfFalse)
	c.emitOp(object.OpPop)
	c.statement()

	elseJump := c.emitJump(object.OpJump)
	c.patchJump(thenJump)
	c.emitOp(object.OpPop)

	if c.match(scanner.TokenElse) {
		c.statement()
	}
	c.patchJump(elseJump)
}

func (c *Compiler) whileStatement() {
	loopStart := len(c.chunk().Code)
	c.consume(scanner.TokenLeftParen, "Expect '(' after 'while'.")
	c.expression()
	c.consume(scanner.TokenRightParen, "Expect ')' after condition.")

	exitJump := c.emitJump(object.OpJumpIfFalse)
	c.emitOp(object.OpPop)
	c.statement()
	c.emitLoop(loopStart)

	c.patchJump(exitJump)
	c.emitOp(object.OpPop)
}

// forStatement desugars C-style `for (init; cond; incr) body` into the
// equivalent `while`, exactly as the original compiler does: no dedicated
// loop opcode exists, just jumps wired around the three clauses.
func (c *Compiler) forStatement() {
	c.beginScope()
	c.consume(scanner.TokenLeftParen, "Expect '(' after 'for'.")

	switch {
	case c.match(scanner.TokenSemicolon):
		// no initializer
	case c.match(scanner.TokenVar):
		c.varDeclaration()
	default:
		c.expressionStatement()
	}

	loopStart := len(c.chunk().Code)
	exitJump := -1
	if !c.match(scanner.TokenSemicolon) {
		c.expression()
		c.consume(scanner.TokenSemicolon, "Expect ';' after loop condition.")
		exitJump = c.emitJump(object.OpJumpIfFalse)
		c.emitOp(object.OpPop)
	}

	if !c.match(scanner.TokenRightParen) {
		bodyJump := c.emitJump(object.OpJump)
		incrStart := len(c.chunk().Code)
		c.expression()
		c.emitOp(object.OpPop)
		c.consume(scanner.TokenRightParen, "Expect ')' after for clauses.")

		c.emitLoop(loopStart)
		loopStart = incrStart
		c.patchJump(bodyJump)
	}

	c.statement()
	c.emitLoop(loopStart)

	if exitJump != -1 {
		c.patchJump(exitJump)
		c.emitOp(object.OpPop)
	}

	c.endScope()
}

// ---- expressions -----------------------------------------------------

func (c *Compiler) expression() {
	c.parsePrecedence(precAssignment)
}

func (c *Compiler) parsePrecedence(prec precedence) {
	c.advance()
	rule := ruleFor(c.previous.Kind)
	if rule.prefix == nil {
		c.error("Expect expression.")
		return
	}
	canAssign := prec <= precAssignment
	rule.prefix(c, canAssign)

	for prec <= ruleFor(c.current.Kind).precedence {
		c.advance()
		infix := ruleFor(c.previous.Kind).infix
		infix(c, canAssign)
	}

	if canAssign && c.match(scanner.TokenEqual) {
		c.error("Invalid assignment target.")
	}
}

func (c *Compiler) number(_ bool) {
	n, err := strconv.ParseFloat(c.previous.Lexeme, 64)
	if err != nil {
		c.error("Invalid number literal.")
		return
	}
	c.emitConstant(object.Number(n))
}

func (c *Compiler) stringLiteral(_ bool) {
	raw := c.previous.Lexeme
	s := raw[1 : len(raw)-1] // strip surrounding quotes
	c.emitConstant(object.Obj(c.strings.Intern(s)))
}

func (c *Compiler) literal(_ bool) {
	switch c.previous.Kind {
	case scanner.TokenFalse:
		c.emitOp(object.OpFalse)
	case scanner.TokenTrue:
		c.emitOp(object.OpTrue)
	case scanner.TokenNil:
		c.emitOp(object.OpNil)
	}
}

func (c *Compiler) grouping(_ bool) {
	c.expression()
	c.consume(scanner.TokenRightParen, "Expect ')' after expression.")
}

func (c *Compiler) unary(_ bool) {
	opKind := c.previous.Kind
	c.parsePrecedence(precUnary)
	switch opKind {
	case scanner.TokenMinus:
		c.emitOp(object.OpNegate)
	case scanner.TokenBang:
		c.emitOp(object.OpNot)
	}
}

func (c *Compiler) binary(_ bool) {
	opKind := c.previous.Kind
	rule := ruleFor(opKind)
	c.parsePrecedence(rule.precedence + 1)

	switch opKind {
	case scanner.TokenPlus:
		c.emitOp(object.OpAdd)
	case scanner.TokenMinus:
		c.emitOp(object.OpSub)
	case scanner.TokenStar:
		c.emitOp(object.OpMul)
	case scanner.TokenSlash:
		c.emitOp(object.OpDiv)
	case scanner.TokenBangEqual:
		c.emitOp(object.OpEqual)
		c.emitOp(object.OpNot)
	case scanner.TokenEqualEqual:
		c.emitOp(object.OpEqual)
	case scanner.TokenGreater:
		c.emitOp(object.OpGreater)
	case scanner.TokenGreaterEqual:
		c.emitOp(object.OpLess)
		c.emitOp(object.OpNot)
	case scanner.TokenLess:
		c.emitOp(object.OpLess)
	case scanner.TokenLessEqual:
		c.emitOp(object.OpGreater)
		c.emitOp(object.OpNot)
	}
}

// ternary compiles `cond ? then : else` with the same two-jump shape as
// ifStatement, since a ternary is just an if-expression.
func (c *Compiler) ternary(_ bool) {
	thenJump := c.emitJump(object.OpJumpIfFalse)
	c.emitOp(object.OpPop)
	c.parsePrecedence(precTernary)

	elseJump := c.emitJump(object.OpJump)
	c.patchJump(thenJump)
	c.emitOp(object.OpPop)

	c.consume(scanner.TokenColon, "Expect ':' after '?' branch.")
	c.parsePrecedence(precTernary)
	c.patchJump(elseJump)
}

func (c *Compiler) and_(_ bool) {
	endJump := c.emitJump(object.OpJumpIfFalse)
	c.emitOp(object.OpPop)
	c.parsePrecedence(precAnd)
	c.patchJump(endJump)
}

func (c *Compiler) or_(_ bool) {
	elseJump := c.emitJump(object.OpJumpIfFalse)
	endJump := c.emitJump(object.OpJump)
	c.patchJump(elseJump)
	c.emitOp(object.OpPop)
	c.parsePrecedence(precOr)
	c.patchJump(endJump)
}

func (c *Compiler) call(_ bool) {
	argc := c.argumentList()
	c.emitOp(object.OpCall)
	c.emitByte(byte(argc))
}

func (c *Compiler) argumentList() int {
	argc := 0
	if !c.check(scanner.TokenRightParen) {
		for {
			c.expression()
			if argc == maxArgs {
				c.error("Can't have more than 255 arguments.")
			}
			argc++
			if !c.match(scanner.TokenComma) {
				break
			}
		}
	}
	c.consume(scanner.TokenRightParen, "Expect ')' after arguments.")
	return argc
}

func (c *Compiler) variable(canAssign bool) {
	c.namedVariable(c.previous, canAssign)
}

func (c *Compiler) namedVariable(name scanner.Token, canAssign bool) {
	var getOp, setOp object.OpCode
	var arg int

	if local := resolveLocal(c.fn, name); local == -2 {
		c.error("Can't read local variable in its own initializer.")
		return
	} else if local >= 0 {
		arg = local
		getOp, setOp = object.OpGetLocal, object.OpSetLocal
	} else if upvalue := resolveUpvalue(c, c.fn, name); upvalue >= 0 {
		arg = upvalue
		getOp, setOp = object.OpGetUpvalue, object.OpSetUpvalue
	} else {
		if canAssign && c.match(scanner.TokenEqual) {
			global := c.identifierConstant(name)
			c.expression()
			if err := c.chunk().WriteConstant(object.OpSetGlobal, object.OpSetGlobalLong, global, c.previous.Line); err != nil {
				c.error(err.Error())
			}
			return
		}
		global := c.identifierConstant(name)
		if err := c.chunk().WriteConstant(object.OpGetGlobal, object.OpGetGlobalLong, global, c.previous.Line); err != nil {
			c.error(err.Error())
		}
		return
	}

	if canAssign && c.match(scanner.TokenEqual) {
		c.expression()
		c.emitBytes(byte(setOp), byte(arg))
		return
	}
	c.emitBytes(byte(getOp), byte(arg))
}
